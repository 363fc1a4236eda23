package core

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bitethatthing2/no-creyeron-sub000/metrics"
)

const (
	// DefaultPageSize is the number of messages loaded per page.
	DefaultPageSize = 50
	maxPageSize     = 100
	previewLength   = 100
)

// Messages manages the loaded page of messages. It owns the message slice
// of the Store.
type Messages struct {
	s      *session
	notify *Notifications
}

// Load fetches up to limit messages of conversationID older than the
// message before (the newest page when before is empty) and replaces the
// message list with them, oldest first.
func (m *Messages) Load(ctx context.Context, conversationID string, limit int, before string) bool {
	_, ok := m.LoadPage(ctx, conversationID, limit, before)
	return ok
}

// LoadPage is Load returning the page it stored. The store may already
// hold another conversation's page by the time the caller reads it.
func (m *Messages) LoadPage(ctx context.Context, conversationID string, limit int, before string) ([]Message, bool) {
	if m.s.userID() == "" {
		m.s.store.SetError(errNotAuthenticated)
		return nil, false
	}
	if conversationID == "" {
		m.s.store.SetError("Invalid conversation")
		return nil, false
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	m.s.store.SetLoading(true)
	defer m.s.store.SetLoading(false)

	cacheable := m.s.Cache != nil && before == "" && limit == DefaultPageSize
	var version int64
	if cacheable {
		msgs, ok, err := m.s.Cache.ListMessages(ctx, conversationID)
		if err != nil {
			m.s.log.Error("Could not read message cache", "conversation_id", conversationID, "error", err.Error())
		} else if ok {
			m.s.store.SetMessages(msgs)
			m.s.store.SetError("")
			return msgs, true
		}
		// The version must be read before the page is fetched.
		if version, err = m.s.Cache.Version(ctx, conversationID); err != nil {
			m.s.log.Error("Could not read message cache version", "conversation_id", conversationID, "error", err.Error())
			cacheable = false
		}
	}

	msgs, err := m.s.DB.ListMessages(ctx, conversationID, limit, before)
	if err != nil {
		m.s.fail("Failed to load messages", err, "conversation_id", conversationID)
		return nil, false
	}
	slices.Reverse(msgs)

	if cacheable {
		if err := m.s.Cache.StoreMessages(ctx, conversationID, version, msgs); err != nil {
			m.s.log.Error("Could not cache messages", "conversation_id", conversationID, "error", err.Error())
		}
	}
	m.s.store.SetMessages(msgs)
	m.s.store.SetError("")
	return msgs, true
}

type sendInput struct {
	ConversationID string      `validate:"required"`
	Content        string      `validate:"max=4000"`
	Type           MessageType `validate:"oneof=text image system"`
	MediaURL       string      `validate:"omitempty,uri"`
	MediaType      string      `validate:"max=100"`
	ReplyToID      string
}

// A SendOption adjusts a message before it is sent.
type SendOption func(*sendInput)

// WithType sets the message type. The default is MessageText.
func WithType(t MessageType) SendOption {
	return func(in *sendInput) { in.Type = t }
}

// WithMedia attaches an uploaded media object.
func WithMedia(url, mediaType string) SendOption {
	return func(in *sendInput) {
		in.MediaURL = url
		in.MediaType = mediaType
	}
}

// WithReplyTo marks the message as a reply to messageID.
func WithReplyTo(messageID string) SendOption {
	return func(in *sendInput) { in.ReplyToID = messageID }
}

// Send writes a message to conversationID. Content may only be empty when
// media is attached. On success every other active
// participant is notified and the conversation is reloaded. A failed
// notification never fails the send.
func (m *Messages) Send(ctx context.Context, conversationID, content string, opts ...SendOption) bool {
	uid := m.s.userID()
	if uid == "" {
		m.s.store.SetError(errNotAuthenticated)
		return false
	}
	in := sendInput{
		ConversationID: conversationID,
		Content:        strings.TrimSpace(content),
		Type:           MessageText,
	}
	for _, opt := range opts {
		opt(&in)
	}
	if in.Content == "" && in.MediaURL == "" {
		m.s.store.SetError("Message cannot be empty")
		return false
	}
	if err := m.s.Validator.Check(in); err != nil {
		m.s.store.SetError("Invalid message: " + err.Error())
		return false
	}

	msg, err := m.s.DB.InsertMessage(ctx, Message{
		ConversationID: in.ConversationID,
		SenderID:       uid,
		Content:        in.Content,
		Type:           in.Type,
		MediaURL:       in.MediaURL,
		MediaType:      in.MediaType,
		ReplyToID:      in.ReplyToID,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		text := "Failed to send message"
		switch {
		case errors.Is(err, ErrNotParticipant):
			text = "You are not part of this conversation"
		case errors.Is(err, ErrBlocked):
			text = "You cannot message this user"
		}
		m.s.fail(text, err, "conversation_id", conversationID)
		return false
	}
	metrics.MessagesSent.Inc()

	m.invalidate(ctx, msg.ConversationID)
	m.s.publish(ctx, MessagesTopic(msg.ConversationID), "messages", EventInsert, msg.ID, msg)
	m.fanOut(ctx, msg)

	m.Load(ctx, msg.ConversationID, 0, "")
	return true
}

// fanOut notifies the other active participants of msg. It only logs.
func (m *Messages) fanOut(ctx context.Context, msg Message) {
	parts, err := m.s.DB.ListParticipants(ctx, msg.ConversationID)
	if err != nil {
		m.s.log.Error("Could not list participants for notification", "conversation_id", msg.ConversationID, "error", err.Error())
		return
	}
	body := preview(msg)
	var payloads []NotificationPayload
	for _, p := range parts {
		if !p.Active || p.Muted || p.UserID == msg.SenderID {
			continue
		}
		payloads = append(payloads, NotificationPayload{
			RecipientID: p.UserID,
			ActorID:     msg.SenderID,
			Type:        NotificationMessage,
			Title:       "New message",
			Body:        body,
			EntityType:  "conversation",
			EntityID:    msg.ConversationID,
			ActionURL:   "/messages/" + msg.ConversationID,
			Priority:    PriorityHigh,
		})
	}
	if len(payloads) == 0 {
		return
	}
	m.notify.SendBulk(ctx, payloads)
}

func preview(msg Message) string {
	if msg.Content == "" {
		if msg.Type == MessageImage {
			return "Sent a photo"
		}
		return "Sent an attachment"
	}
	if utf8.RuneCountInString(msg.Content) <= previewLength {
		return msg.Content
	}
	r := []rune(msg.Content)
	return string(r[:previewLength-1]) + "…"
}

// MarkMessageRead records a read receipt for messageID. Repeated calls are
// harmless.
func (m *Messages) MarkMessageRead(ctx context.Context, messageID string) bool {
	uid := m.s.userID()
	if uid == "" {
		m.s.store.SetError(errNotAuthenticated)
		return false
	}
	if messageID == "" {
		m.s.store.SetError("Invalid message")
		return false
	}
	if err := m.s.DB.UpsertReadReceipt(ctx, messageID, uid, time.Now().UTC()); err != nil {
		m.s.fail("Failed to mark message as read", err, "message_id", messageID)
		return false
	}
	if convID := m.conversationOf(ctx, messageID); convID != "" {
		m.invalidate(ctx, convID)
	}
	return true
}

// MarkConversationRead moves the user's read cursor of conversationID to
// now, or to the newest loaded message if that is later. The remote side
// never moves the cursor backwards.
func (m *Messages) MarkConversationRead(ctx context.Context, conversationID string) bool {
	uid := m.s.userID()
	if uid == "" {
		m.s.store.SetError(errNotAuthenticated)
		return false
	}
	if conversationID == "" {
		m.s.store.SetError("Invalid conversation")
		return false
	}
	at := time.Now().UTC()
	for _, msg := range m.s.store.Messages() {
		if msg.ConversationID == conversationID && msg.CreatedAt.After(at) {
			at = msg.CreatedAt
		}
	}
	if err := m.s.DB.MarkConversationRead(ctx, conversationID, uid, at); err != nil {
		m.s.fail("Failed to mark conversation as read", err, "conversation_id", conversationID)
		return false
	}
	return true
}

// AddReaction sets the user's reaction on messageID, replacing any earlier
// one.
func (m *Messages) AddReaction(ctx context.Context, messageID, reaction string) bool {
	uid := m.s.userID()
	if uid == "" {
		m.s.store.SetError(errNotAuthenticated)
		return false
	}
	reaction = strings.TrimSpace(reaction)
	if messageID == "" || reaction == "" || utf8.RuneCountInString(reaction) > 16 {
		m.s.store.SetError("Invalid reaction")
		return false
	}
	r, err := m.s.DB.UpsertReaction(ctx, Reaction{
		MessageID: messageID,
		UserID:    uid,
		Emoji:     reaction,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		m.s.fail("Failed to add reaction", err, "message_id", messageID)
		return false
	}
	if convID := m.conversationOf(ctx, messageID); convID != "" {
		m.invalidate(ctx, convID)
		m.s.publish(ctx, MessagesTopic(convID), "message_reactions", EventUpdate, r.ID, r)
	}
	return true
}

// Edit is not supported yet and always returns false.
func (m *Messages) Edit(ctx context.Context, messageID, content string) bool {
	m.s.log.Warn("Editing messages is not supported", "message_id", messageID)
	return false
}

// Delete is not supported yet and always returns false.
func (m *Messages) Delete(ctx context.Context, messageID string) bool {
	m.s.log.Warn("Deleting messages is not supported", "message_id", messageID)
	return false
}

// RemoveReaction is not supported yet and always returns false.
func (m *Messages) RemoveReaction(ctx context.Context, messageID string) bool {
	m.s.log.Warn("Removing reactions is not supported", "message_id", messageID)
	return false
}

// UploadMedia stores a media attachment and returns the URL to send with
// WithMedia.
func (m *Messages) UploadMedia(ctx context.Context, filename, contentType string, r io.Reader) (string, bool) {
	if m.s.userID() == "" {
		m.s.store.SetError(errNotAuthenticated)
		return "", false
	}
	if m.s.Uploader == nil {
		m.s.store.SetError("Media uploads are not available")
		return "", false
	}
	if !allowedMedia(contentType) {
		m.s.store.SetError("Unsupported media type")
		return "", false
	}
	url, err := m.s.Uploader.Upload(ctx, filename, contentType, r)
	if err != nil {
		m.s.fail("Failed to upload media", err, "filename", filename)
		return "", false
	}
	return url, true
}

func allowedMedia(contentType string) bool {
	for _, prefix := range []string{"image/", "video/", "audio/"} {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

// conversationOf resolves the conversation of messageID from the loaded
// page, asking the DB when the message is not loaded.
func (m *Messages) conversationOf(ctx context.Context, messageID string) string {
	for _, msg := range m.s.store.Messages() {
		if msg.ID == messageID {
			return msg.ConversationID
		}
	}
	convID, err := m.s.DB.MessageConversation(ctx, messageID)
	if err != nil {
		m.s.log.Warn("Could not resolve message conversation", "message_id", messageID, "error", err.Error())
		return ""
	}
	return convID
}

func (m *Messages) invalidate(ctx context.Context, conversationID string) {
	if m.s.Cache == nil {
		return
	}
	if err := m.s.Cache.Invalidate(ctx, conversationID); err != nil {
		m.s.log.Error("Could not invalidate message cache", "conversation_id", conversationID, "error", err.Error())
	}
}
