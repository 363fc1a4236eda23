package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	readLimit  = 8 << 10
	sendBuffer = 64
)

// A frame is one websocket message in either direction.
//
// Client frames: watch, send, typing, read.
// Server frames: ready, messages, typing, notification, error.
type frame struct {
	Type           string             `json:"type"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Content        string             `json:"content,omitempty"`
	UserName       string             `json:"user_name,omitempty"`
	IsTyping       bool               `json:"is_typing,omitempty"`
	Messages       []core.Message     `json:"messages,omitempty"`
	Users          []core.TypingUser  `json:"users,omitempty"`
	Notification   *core.Notification `json:"notification,omitempty"`
	Error          string             `json:"error,omitempty"`
}

// wsConn is one websocket session. It doubles as the session's Alerter so
// notification inserts are forwarded as frames.
type wsConn struct {
	conn   *websocket.Conn
	c      *core.Client
	log    *slog.Logger
	send   chan []byte
	done   chan struct{}
	joined map[string]bool
}

var _ core.Alerter = (*wsConn)(nil)

func (ws *wsConn) Permission() core.Permission { return core.PermissionGranted }

func (ws *wsConn) RequestPermission(context.Context) core.Permission {
	return core.PermissionGranted
}

func (ws *wsConn) Alert(_ context.Context, n core.Notification) error {
	ws.emit(frame{Type: "notification", Notification: &n})
	return nil
}

// emit queues f for the writer. Frames are dropped when the client cannot
// keep up.
func (ws *wsConn) emit(f frame) {
	b, err := json.Marshal(f)
	if err != nil {
		ws.log.Error("Could not encode frame", "type", f.Type, "error", err.Error())
		return
	}
	select {
	case ws.send <- b:
	case <-ws.done:
	default:
		ws.log.Warn("Dropping frame for slow client", "type", f.Type)
	}
}

func (ws *wsConn) emitError(msg string) {
	ws.emit(frame{Type: "error", Error: msg})
}

func (a *API) serveWS(w http.ResponseWriter, r *http.Request) {
	ws := &wsConn{
		log:    a.Logger,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		joined: make(map[string]bool),
	}
	c, ok := a.client(w, r, core.WithAlerter(ws))
	if !ok {
		return
	}
	defer c.Close()

	conn, err := a.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Error("Could not upgrade connection", "error", err.Error())
		return
	}
	ws.conn, ws.c = conn, c
	ws.log = a.Logger.With("user_id", c.UserID())

	ctx := r.Context()
	if err := c.Notifications.Subscribe(ctx); err != nil {
		ws.log.Warn("Could not subscribe to notifications", "error", err.Error())
	}
	ws.emit(frame{Type: "ready"})

	go ws.writePump()
	ws.readPump(ctx)
}

func (ws *wsConn) readPump(ctx context.Context) {
	defer func() {
		close(ws.done)
		_ = ws.conn.Close()
	}()
	ws.conn.SetReadLimit(readLimit)
	_ = ws.conn.SetReadDeadline(time.Now().Add(pongWait))
	ws.conn.SetPongHandler(func(string) error { return ws.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, raw, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.log.Warn("Websocket closed", "error", err.Error())
			}
			return
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			ws.emitError("invalid_json")
			continue
		}
		ws.handle(ctx, f)
	}
}

func (ws *wsConn) handle(ctx context.Context, f frame) {
	if f.ConversationID == "" {
		ws.emitError("missing_conversation")
		return
	}
	switch f.Type {
	case "watch":
		ws.watch(ctx, f.ConversationID)
	case "send":
		if !ws.c.Messages.Send(ctx, f.ConversationID, f.Content) {
			ws.emitError(ws.c.Store.Err())
			return
		}
		if ws.c.Realtime.Watching() != f.ConversationID {
			ws.load(ctx, f.ConversationID)
		}
	case "typing":
		ws.joinTyping(ctx, f.ConversationID)
		ws.c.Typing(f.ConversationID).Send(ctx, f.UserName, f.IsTyping)
	case "read":
		if !ws.c.Messages.MarkConversationRead(ctx, f.ConversationID) {
			ws.emitError(ws.c.Store.Err())
		}
	default:
		ws.emitError("unsupported_type")
	}
}

// watch replaces the watched conversation, sends its newest page, and
// pushes a fresh page after every change.
func (ws *wsConn) watch(ctx context.Context, conversationID string) {
	msgs, ok := ws.c.Messages.LoadPage(ctx, conversationID, 0, "")
	if !ok {
		ws.emitError(ws.c.Store.Err())
		return
	}
	err := ws.c.Realtime.Watch(ctx, conversationID, func(ctx context.Context, _ core.ChangeEvent) {
		if msgs, ok := ws.c.Messages.LoadPage(ctx, conversationID, 0, ""); ok {
			ws.emitMessages(conversationID, msgs)
		}
	})
	if err != nil {
		ws.log.Error("Could not watch conversation", "conversation_id", conversationID, "error", err.Error())
		ws.emitError("Could not watch conversation")
		return
	}
	ws.joinTyping(ctx, conversationID)
	ws.emitMessages(conversationID, msgs)
}

// load sends the newest page of conversationID. The realtime goroutine
// shares the store, so the frame carries the loaded page itself.
func (ws *wsConn) load(ctx context.Context, conversationID string) {
	msgs, ok := ws.c.Messages.LoadPage(ctx, conversationID, 0, "")
	if !ok {
		ws.emitError(ws.c.Store.Err())
		return
	}
	ws.emitMessages(conversationID, msgs)
}

func (ws *wsConn) emitMessages(conversationID string, msgs []core.Message) {
	ws.emit(frame{Type: "messages", ConversationID: conversationID, Messages: nonNil(msgs)})
}

func (ws *wsConn) joinTyping(ctx context.Context, conversationID string) {
	if ws.joined[conversationID] {
		return
	}
	t := ws.c.Typing(conversationID)
	t.OnChange = func(users []core.TypingUser) {
		ws.emit(frame{Type: "typing", ConversationID: conversationID, Users: nonNil(users)})
	}
	if err := t.Join(ctx); err != nil {
		ws.log.Warn("Could not join typing channel", "conversation_id", conversationID, "error", err.Error())
		return
	}
	ws.joined[conversationID] = true
}

func (ws *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.conn.Close()
	}()
	for {
		select {
		case <-ws.done:
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ws.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case b := <-ws.send:
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
