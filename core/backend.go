package core

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned by a DB when the addressed row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotParticipant is returned when a user acts on a conversation they
	// are not an active participant of.
	ErrNotParticipant = errors.New("not a participant")
	// ErrBlocked is returned when a block edge forbids the interaction.
	ErrBlocked = errors.New("blocked")

	// ErrNoSession is returned by subscription calls made without a user.
	ErrNoSession = errors.New("not authenticated")
	// ErrNoRealtime is returned by subscription calls when the backend has
	// no PubSub.
	ErrNoRealtime = errors.New("realtime is not available")
)

// A ConversationDB persists conversations and their participants.
type ConversationDB interface {
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	GetOrCreateDirectConversation(ctx context.Context, userID, otherUserID string) (DirectConversationResult, error)
	CreateGroupConversation(ctx context.Context, ownerID, name string, memberIDs []string) (Conversation, error)
	UpdateConversation(ctx context.Context, conversationID, userID string, upd ConversationUpdate) error
	ArchiveConversation(ctx context.Context, conversationID, userID string) error
	LeaveConversation(ctx context.Context, conversationID, userID string) error
	ListParticipants(ctx context.Context, conversationID string) ([]Participant, error)
}

// A MessageDB persists messages, reactions and read state.
type MessageDB interface {
	// ListMessages returns up to limit messages older than the message with
	// id before (or the newest when before is empty), newest first.
	ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]Message, error)
	InsertMessage(ctx context.Context, msg Message) (Message, error)
	// MessageConversation returns the conversation a message belongs to.
	MessageConversation(ctx context.Context, messageID string) (string, error)
	UpsertReaction(ctx context.Context, r Reaction) (Reaction, error)
	UpsertReadReceipt(ctx context.Context, messageID, userID string, at time.Time) error
	// MarkConversationRead moves the participant's read cursor to at unless
	// it already points later.
	MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) error
}

// An EdgeDB persists directed social edges and their target counters.
type EdgeDB interface {
	// ToggleEdge atomically flips the edge and returns the new state.
	ToggleEdge(ctx context.Context, kind EdgeKind, actorID, targetID string) (ToggleResult, error)
	EdgeState(ctx context.Context, kind EdgeKind, actorID, targetID string) (EdgeState, error)
	// EdgeExists reports whether the edge from actorID to targetID exists.
	EdgeExists(ctx context.Context, kind EdgeKind, actorID, targetID string) (bool, error)
	PostOwner(ctx context.Context, postID string) (string, error)
}

// A NotificationDB persists notifications and push registrations.
type NotificationDB interface {
	InsertNotification(ctx context.Context, n Notification) (Notification, error)
	InsertNotifications(ctx context.Context, ns []Notification) ([]Notification, error)
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id, recipientID string) (RPCResult, error)
	MarkAllNotificationsRead(ctx context.Context, recipientID string) (int, error)
	ArchiveNotification(ctx context.Context, id, recipientID string) error
	SetPushStatus(ctx context.Context, id string, status PushStatus) error
	UpsertPushToken(ctx context.Context, t PushToken) (RPCResult, error)
	ListPushTokens(ctx context.Context, userID string) ([]PushToken, error)
}

// A DB is the remote data store the managers read and write.
type DB interface {
	ConversationDB
	MessageDB
	EdgeDB
	NotificationDB
}

// A Cache holds the newest page of each conversation's messages.
//
// Every Invalidate bumps the conversation's version. StoreMessages is given
// the version read before the page was fetched and drops the page when the
// version has moved since.
type Cache interface {
	ListMessages(ctx context.Context, conversationID string) ([]Message, bool, error)
	Version(ctx context.Context, conversationID string) (int64, error)
	StoreMessages(ctx context.Context, conversationID string, version int64, msgs []Message) error
	Invalidate(ctx context.Context, conversationID string) error
}

// A Subscription delivers the payloads published on one topic until closed.
type Subscription interface {
	Payloads() <-chan []byte
	Close() error
}

// PubSub carries realtime change events and ephemeral broadcasts.
type PubSub interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// A Pusher hands push messages to the device delivery channel.
type Pusher interface {
	Push(ctx context.Context, msg PushMessage) error
}

// An Uploader stores a media object and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}

// Permission is the state of the system notification permission.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// An Alerter raises system-level notification banners.
type Alerter interface {
	Permission() Permission
	RequestPermission(ctx context.Context) Permission
	Alert(ctx context.Context, n Notification) error
}

// Auth resolves the authenticated user of a session. CurrentUserID returns
// the empty string when no user is signed in.
type Auth interface {
	CurrentUserID() string
}

// StaticAuth is an Auth for a session whose user is fixed at construction.
type StaticAuth string

// CurrentUserID returns the user id.
func (a StaticAuth) CurrentUserID() string { return string(a) }

// Topic names. Payloads published on message and notification topics are
// JSON encoded ChangeEvents; typing topics carry TypingEvents.

// MessagesTopic is the change topic for messages of one conversation.
func MessagesTopic(conversationID string) string {
	return "realtime:messages:conversation_id=eq." + conversationID
}

// NotificationsTopic is the change topic for one recipient's notifications.
func NotificationsTopic(recipientID string) string {
	return "realtime:notifications:recipient_id=eq." + recipientID
}

// TypingTopic is the ephemeral broadcast topic for typing in a conversation.
func TypingTopic(conversationID string) string {
	return "broadcast:typing:" + conversationID
}
