// Package api exposes the Wolfpack sync layer over HTTP and websockets.
// Every request is served by a core.Client built for the user named in the
// X-User-ID header. Toggle requests share one long-lived client per user.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
	"github.com/bitethatthing2/no-creyeron-sub000/validator"
)

// maxUploadBytes bounds the multipart body of a media upload.
const maxUploadBytes = 11 << 20

// API provides the REST and websocket endpoints for the application.
type API struct {
	Logger  *slog.Logger
	Backend core.Backend
	Val     *validator.Validator

	// Media, when set, serves uploaded objects below /media/.
	Media http.Handler
	// Upgrader upgrades GET /ws. The zero value accepts same-origin
	// requests only.
	Upgrader websocket.Upgrader

	once    sync.Once
	mux     *http.ServeMux
	toggles sessions
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, c *core.Client)

func (a *API) setupRoutes() {
	if a.Val == nil {
		a.Val = validator.New()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /conversations", a.authed(a.listConversations))
	mux.HandleFunc("POST /conversations/direct", a.authed(a.createDirect))
	mux.HandleFunc("POST /conversations/group", a.authed(a.createGroup))
	mux.HandleFunc("PATCH /conversations/{id}", a.authed(a.updateConversation))
	mux.HandleFunc("POST /conversations/{id}/archive", a.authed(a.archiveConversation))
	mux.HandleFunc("POST /conversations/{id}/leave", a.authed(a.leaveConversation))
	mux.HandleFunc("GET /conversations/{id}/messages", a.authed(a.listMessages))
	mux.HandleFunc("POST /conversations/{id}/messages", a.authed(a.createMessage))
	mux.HandleFunc("POST /conversations/{id}/read", a.authed(a.markConversationRead))

	mux.HandleFunc("POST /messages/{id}/read", a.authed(a.markMessageRead))
	mux.HandleFunc("POST /messages/{id}/reactions", a.authed(a.createReaction))
	mux.HandleFunc("DELETE /messages/{id}/reactions", a.authed(a.deleteReaction))
	mux.HandleFunc("PATCH /messages/{id}", a.authed(a.editMessage))
	mux.HandleFunc("DELETE /messages/{id}", a.authed(a.deleteMessage))

	mux.HandleFunc("GET /posts/{id}/like", a.authed(a.edgeState(likes)))
	mux.HandleFunc("POST /posts/{id}/like", a.shared(a.toggleEdge(likes)))
	mux.HandleFunc("GET /users/{id}/follow", a.authed(a.edgeState(follows)))
	mux.HandleFunc("POST /users/{id}/follow", a.shared(a.toggleEdge(follows)))
	mux.HandleFunc("GET /users/{id}/block", a.authed(a.edgeState(blocks)))
	mux.HandleFunc("POST /users/{id}/block", a.shared(a.toggleEdge(blocks)))
	mux.HandleFunc("GET /users/{id}/can-message", a.authed(a.canMessage))

	mux.HandleFunc("GET /notifications", a.authed(a.listNotifications))
	mux.HandleFunc("POST /notifications", a.authed(a.createNotification))
	mux.HandleFunc("POST /notifications/read-all", a.authed(a.markAllNotificationsRead))
	mux.HandleFunc("POST /notifications/{id}/read", a.authed(a.markNotificationRead))
	mux.HandleFunc("POST /notifications/{id}/archive", a.authed(a.archiveNotification))
	mux.HandleFunc("POST /push-tokens", a.authed(a.registerPushToken))

	mux.HandleFunc("POST /media", a.authed(a.uploadMedia))
	if a.Media != nil {
		mux.Handle("GET /media/", http.StripPrefix("/media/", a.Media))
	}

	mux.HandleFunc("GET /ws", a.serveWS)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path)
	a.mux.ServeHTTP(w, r)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	a.Logger.Error("Error", "error", err.Error())
	a.respond(w, status, response{Error: msg})
}

func (a *API) validateBody(w http.ResponseWriter, s interface{}) bool {
	errs := a.Val.ValidateStruct(s)
	type response struct {
		Errors []validator.ValidationError `json:"errors"`
	}

	if len(errs) > 0 {
		a.respond(w, http.StatusBadRequest, &response{
			Errors: errs,
		})
		return false
	}
	return true
}

// decode reads and validates a JSON request body into dst.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return false
	}
	if err := r.Body.Close(); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not close request body")
		return false
	}
	return a.validateBody(w, dst)
}

// userID returns the requesting user. It answers 401 and returns false
// when the request names no user.
func (a *API) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid := strings.TrimSpace(r.Header.Get(userHeader))
	if uid == "" {
		a.respondError(w, http.StatusUnauthorized, errors.New("missing "+userHeader+" header"), "Not authenticated")
		return "", false
	}
	return uid, true
}

func (a *API) newClient(uid string, opts ...core.Option) *core.Client {
	b := a.Backend
	if b.Logger == nil {
		b.Logger = a.Logger
	}
	if b.Validator == nil {
		b.Validator = a.Val
	}
	return core.NewClient(b, core.StaticAuth(uid), opts...)
}

// client builds a session of the requesting user that lives as long as the
// request.
func (a *API) client(w http.ResponseWriter, r *http.Request, opts ...core.Option) (*core.Client, bool) {
	uid, ok := a.userID(w, r)
	if !ok {
		return nil, false
	}
	return a.newClient(uid, opts...), true
}

func (a *API) authed(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := a.client(w, r)
		if !ok {
			return
		}
		defer c.Close()
		h(w, r, c)
	}
}

// shared serves h with the user's long-lived session.
func (a *API) shared(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := a.userID(w, r)
		if !ok {
			return
		}
		h(w, r, a.toggles.get(uid, func() *core.Client { return a.newClient(uid) }))
	}
}

// Close releases the sessions kept across requests.
func (a *API) Close() {
	a.toggles.close()
}

// fail answers with the session's last error, or fallback when none was
// recorded.
func (a *API) fail(w http.ResponseWriter, c *core.Client, fallback string) {
	msg := c.Store.Err()
	if msg == "" {
		msg = fallback
	}
	a.respondError(w, statusFor(msg), errors.New(msg), msg)
}

// statusFor maps a user-facing error message to an HTTP status.
func statusFor(msg string) int {
	switch {
	case msg == "Not authenticated":
		return http.StatusUnauthorized
	case msg == "You are not part of this conversation", msg == "You cannot message this user":
		return http.StatusForbidden
	case msg == "Message cannot be empty", msg == "Unsupported media type", strings.HasPrefix(msg, "Invalid"):
		return http.StatusBadRequest
	case msg == "Media uploads are not available":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (a *API) listConversations(w http.ResponseWriter, r *http.Request, c *core.Client) {
	type response struct {
		Conversations []core.Conversation `json:"conversations"`
	}

	c.Conversations.Load(r.Context())
	if c.Store.Err() != "" {
		a.fail(w, c, "Failed to load conversations")
		return
	}
	a.respond(w, http.StatusOK, response{Conversations: nonNil(c.Store.Conversations())})
}

func (a *API) createDirect(w http.ResponseWriter, r *http.Request, c *core.Client) {
	var body directRequest
	if !a.decode(w, r, &body) {
		return
	}
	id, ok := c.Conversations.GetOrCreateDirect(r.Context(), body.UserID)
	if !ok {
		a.fail(w, c, "Failed to start conversation")
		return
	}
	a.respond(w, http.StatusOK, conversationResponse{ConversationID: id})
}

func (a *API) createGroup(w http.ResponseWriter, r *http.Request, c *core.Client) {
	var body groupRequest
	if !a.decode(w, r, &body) {
		return
	}
	id, ok := c.Conversations.CreateGroup(r.Context(), body.Name, body.MemberIDs)
	if !ok {
		a.fail(w, c, "Failed to create group")
		return
	}
	a.respond(w, http.StatusCreated, conversationResponse{ConversationID: id})
}

func (a *API) updateConversation(w http.ResponseWriter, r *http.Request, c *core.Client) {
	var body core.ConversationUpdate
	if !a.decode(w, r, &body) {
		return
	}
	if !c.Conversations.Update(r.Context(), r.PathValue("id"), body) {
		a.fail(w, c, "Failed to update conversation")
		return
	}
	a.respond(w, http.StatusOK, successResponse{Success: true})
}

func (a *API) archiveConversation(w http.ResponseWriter, r *http.Request, c *core.Client) {
	if !c.Conversations.Archive(r.Context(), r.PathValue("id")) {
		a.fail(w, c, "Failed to archive conversation")
		return
	}
	a.respond(w, http.StatusOK, successResponse{Success: true})
}

func (a *API) leaveConversation(w http.ResponseWriter, r *http.Request, c *core.Client) {
	if !c.Conversations.Leave(r.Context(), r.PathValue("id")) {
		a.fail(w, c, "Failed to leave conversation")
		return
	}
	a.respond(w, http.StatusOK, successResponse{Success: true})
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request, c *core.Client) {
	q := r.URL.Query()
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			a.respondError(w, http.StatusBadRequest, errors.New("bad limit "+strconv.Quote(s)), "Invalid limit")
			return
		}
		limit = n
	}
	if !c.Messages.Load(r.Context(), r.PathValue("id"), limit, q.Get("before")) {
		a.fail(w, c, "Failed to load messages")
		return
	}
	a.respond(w, http.StatusOK, messagesResponse{Messages: nonNil(c.Store.Messages())})
}

func (a *API) createMessage(w http.ResponseWriter, r *http.Request, c *core.Client) {
	var body sendRequest
	if !a.decode(w, r, &body) {
		return
	}

	var opts []core.SendOption
	if body.Type != "" {
		opts = append(opts, core.WithType(core.MessageType(body.Type)))
	}
	if body.MediaURL != "" {
		opts = append(opts, core.WithMedia(body.MediaURL, body.MediaType))
	}
	if body.ReplyToID != "" {
		opts = append(opts, core.WithReplyTo(body.ReplyToID))
	}

	if !c.Messages.Send(r.Context(), r.PathValue("id"), body.Content, opts...) {
		a.fail(w, c, "Failed to send message")
		return
	}
	a.respond(w, http.StatusCreated, messagesResponse{Messages: nonNil(c.Store.Messages())})
}

func (a *API) markConversationRead(w http.ResponseWriter, r *http.Request, c *core.Client) {
	if !c.Messages.MarkConversationRead(r.Context(), r.PathValue("id")) {
		a.fail(w, c, "Failed to mark conversation as read")
		return
	}
	a.respond(w, http.StatusOK, successResponse{Success: true})
}

func (a *API) markMessageRead(w http.ResponseWriter, r *http.Request, c *core.Client) {
	if !c.Messages.MarkMessageRead(r.Context(), r.PathValue("id")) {
		a.fail(w, c, "Failed to mark message as read")
		return
	}
	a.respond(w, http.StatusOK, successResponse{Success: true})
}

func (a *API) createReaction(w http.ResponseWriter, r *http.Request, c *core.Client) {
	var body reactionRequest
	if !a.decode(w, r, &body) {
		return
	}
	if !c.Messages.AddReaction(r.Context(), r.PathValue("id"), body.Reaction) {
		a.fail(w, c, "Failed to add reaction")
		return
	}
	a.respond(w, http.StatusCreated, successResponse{Success: true})
}

func (a *API) deleteReaction(w http.ResponseWriter, r *http.Request, c *core.Client) {
	if !c.Messages.RemoveReaction(r.Context(), r.PathValue("id")) {
		a.respondError(w, http.StatusNotImplemented, errors.New("remove reaction"), "Removing reactions is not supported")
		return
	}
	a.respond(w, http.StatusOK, successResponse{Success: true})
}

func (a *API) editMessage(w http.ResponseWriter, r *http.Request, c *core.Client) {
	var body editRequest
	if !a.decode(w, r, &body) {
		return
	}
	if !c.Messages.Edit(r.Context(), r.PathValue("id"), body.Content) {
		a.respondError(w, http.StatusNotImplemented, errors.New("edit message"), "Editing messages is not supported")
		return
	}
	a.respond(w, http.StatusOK, successResponse{Success: true})
}

func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request, c *core.Client) {
	if !c.Messages.Delete(r.Context(), r.PathValue("id")) {
		a.respondError(w, http.StatusNotImplemented, errors.New("delete message"), "Deleting messages is not supported")
		return
	}
	a.respond(w, http.StatusOK, successResponse{Success: true})
}

func likes(c *core.Client) *core.Toggles   { return c.Likes }
func follows(c *core.Client) *core.Toggles { return c.Follows }
func blocks(c *core.Client) *core.Toggles  { return c.Blocks }

func (a *API) edgeState(pick func(*core.Client) *core.Toggles) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, c *core.Client) {
		t, ok := pick(c).Get(r.Context(), r.PathValue("id"))
		if !ok {
			a.fail(w, c, "Failed to load state")
			return
		}
		st := t.State()
		a.respond(w, http.StatusOK, edgeResponse{Active: st.Active, Count: st.Count})
	}
}

// toggleEdge flips an edge. A toggle made while an earlier one of the same
// edge is pending answers 202 with the pending state and changes nothing.
func (a *API) toggleEdge(pick func(*core.Client) *core.Toggles) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, c *core.Client) {
		t, ok := pick(c).Get(r.Context(), r.PathValue("id"))
		if !ok {
			a.fail(w, c, "Failed to update state")
			return
		}
		st, err := t.Try(r.Context())
		var terr *core.ToggleError
		switch {
		case errors.Is(err, core.ErrTogglePending):
			a.respond(w, http.StatusAccepted, edgeResponse{Active: st.Active, Count: st.Count})
		case errors.As(err, &terr):
			a.respondError(w, statusFor(terr.Msg), err, terr.Msg)
		case err != nil:
			a.fail(w, c, "Failed to update state")
		default:
			a.respond(w, http.StatusOK, edgeResponse{Active: st.Active, Count: st.Count})
		}
	}
}

func (a *API) canMessage(w http.ResponseWriter, r *http.Request, c *core.Client) {
	type response struct {
		CanMessage bool `json:"can_message"`
	}
	a.respond(w, http.StatusOK, response{CanMessage: c.Conversations.CanMessage(r.Context(), r.PathValue("id"))})
}

func (a *API) respondNotifications(w http.ResponseWriter, status int, c *core.Client) {
	a.respond(w, status, notificationsResponse{
		Notifications: nonNil(c.Store.Notifications()),
		Unread:        c.Store.UnreadNotifications(),
	})
}

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request, c *core.Client) {
	if !c.Notifications.Load(r.Context()) {
		a.fail(w, c, "Failed to load notifications")
		return
	}
	a.respondNotifications(w, http.StatusOK, c)
}

func (a *API) createNotification(w http.ResponseWriter, r *http.Request, c *core.Client) {
	var body notificationRequest
	if !a.decode(w, r, &body) {
		return
	}
	if body.Priority == "" {
		body.Priority = core.PriorityNormal
	}
	ok := c.Notifications.Create(r.Context(), body.RecipientID, core.NotificationPayload{
		Type:       body.Type,
		Title:      body.Title,
		Body:       body.Body,
		EntityType: body.EntityType,
		EntityID:   body.EntityID,
		ActionURL:  body.ActionURL,
		Priority:   body.Priority,
	})
	if !ok {
		a.respondError(w, http.StatusBadRequest, errors.New("notification not created"), "Could not create notification")
		return
	}
	a.respond(w, http.StatusCreated, successResponse{Success: true})
}

func (a *API) markNotificationRead(w http.ResponseWriter, r *http.Request, c *core.Client) {
	if !c.Notifications.MarkAsRead(r.Context(), r.PathValue("id")) {
		a.fail(w, c, "Failed to mark notification as read")
		return
	}
	a.respondNotifications(w, http.StatusOK, c)
}

func (a *API) markAllNotificationsRead(w http.ResponseWriter, r *http.Request, c *core.Client) {
	if !c.Notifications.MarkAllAsRead(r.Context()) {
		a.fail(w, c, "Failed to mark notifications as read")
		return
	}
	a.respondNotifications(w, http.StatusOK, c)
}

func (a *API) archiveNotification(w http.ResponseWriter, r *http.Request, c *core.Client) {
	if !c.Notifications.Archive(r.Context(), r.PathValue("id")) {
		a.fail(w, c, "Failed to archive notification")
		return
	}
	a.respondNotifications(w, http.StatusOK, c)
}

func (a *API) registerPushToken(w http.ResponseWriter, r *http.Request, c *core.Client) {
	var body pushTokenRequest
	if !a.decode(w, r, &body) {
		return
	}
	if !c.Notifications.RegisterPushToken(r.Context(), body.Token, body.Platform) {
		a.fail(w, c, "Failed to register push token")
		return
	}
	a.respond(w, http.StatusCreated, successResponse{Success: true})
}

func (a *API) uploadMedia(w http.ResponseWriter, r *http.Request, c *core.Client) {
	type response struct {
		URL string `json:"url"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not read upload")
		return
	}
	defer file.Close()

	url, ok := c.Messages.UploadMedia(r.Context(), hdr.Filename, hdr.Header.Get("Content-Type"), file)
	if !ok {
		a.fail(w, c, "Failed to upload media")
		return
	}
	a.respond(w, http.StatusCreated, response{URL: url})
}
