package core

import (
	"encoding/json"
	"time"
)

// ConversationType distinguishes 1:1 conversations from groups.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// A Conversation is a conversation as seen by one participant. Archived,
// Pinned, UnreadCount and LastReadAt describe the viewer's participant row.
type Conversation struct {
	ID                  string           `json:"id"`
	Type                ConversationType `json:"type"`
	Name                string           `json:"name,omitempty"`
	AvatarURL           string           `json:"avatar_url,omitempty"`
	ParticipantCount    int              `json:"participant_count"`
	LastMessagePreview  string           `json:"last_message_preview,omitempty"`
	LastMessageAt       *time.Time       `json:"last_message_at,omitempty"`
	LastMessageSenderID string           `json:"last_message_sender_id,omitempty"`
	Archived            bool             `json:"archived"`
	Pinned              bool             `json:"pinned"`
	UnreadCount         int              `json:"unread_count"`
	LastReadAt          *time.Time       `json:"last_read_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

// activityAt is the time used to order conversations in a list.
func (c Conversation) activityAt() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// ConversationUpdate holds the mutable attributes of a conversation. Nil
// fields are left untouched.
type ConversationUpdate struct {
	Name      *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	AvatarURL *string `json:"avatar_url,omitempty" validate:"omitempty,url"`
	Pinned    *bool   `json:"pinned,omitempty"`
}

// MessageType is the kind of content a message carries.
type MessageType string

const (
	MessageText    MessageType = "text"
	MessageImage   MessageType = "image"
	MessageSystem  MessageType = "system"
	MessageDeleted MessageType = "deleted"
)

// A Message represents a persisted message in a conversation.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Content        string        `json:"content"`
	Type           MessageType   `json:"type"`
	MediaURL       string        `json:"media_url,omitempty"`
	MediaType      string        `json:"media_type,omitempty"`
	ReplyToID      string        `json:"reply_to_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	EditedAt       *time.Time    `json:"edited_at,omitempty"`
	DeletedAt      *time.Time    `json:"deleted_at,omitempty"`
	IsEdited       bool          `json:"is_edited"`
	IsDeleted      bool          `json:"is_deleted"`
	Reactions      []Reaction    `json:"reactions"`
	ReadBy         []ReadReceipt `json:"read_by"`
}

// A Reaction is a user's emoji reaction to a message. A user holds at most
// one reaction per message; reacting again replaces the emoji.
type Reaction struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"reaction"`
	CreatedAt time.Time `json:"created_at"`
}

// A ReadReceipt records that a user has read a message.
type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// ParticipantRole is the role of a user within a conversation.
type ParticipantRole string

const (
	RoleMember ParticipantRole = "member"
	RoleAdmin  ParticipantRole = "admin"
	RoleOwner  ParticipantRole = "owner"
)

// A Participant is a user's membership in a conversation.
type Participant struct {
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	Role           ParticipantRole `json:"role"`
	JoinedAt       time.Time       `json:"joined_at"`
	LeftAt         *time.Time      `json:"left_at,omitempty"`
	Active         bool            `json:"is_active"`
	LastReadAt     *time.Time      `json:"last_read_at,omitempty"`
	Muted          bool            `json:"is_muted"`
	Sound          bool            `json:"sound_enabled"`
	Vibrate        bool            `json:"vibrate_enabled"`
}

// EdgeKind is the kind of a directed social edge.
type EdgeKind string

const (
	EdgeLike   EdgeKind = "like"
	EdgeFollow EdgeKind = "follow"
	EdgeBlock  EdgeKind = "block"
)

// EdgeState is the state of one directed edge together with the
// denormalized counter on its target.
type EdgeState struct {
	Active bool `json:"active"`
	Count  int  `json:"count"`
}

// NotificationType classifies a notification.
type NotificationType string

const (
	NotificationLike    NotificationType = "like"
	NotificationComment NotificationType = "comment"
	NotificationFollow  NotificationType = "follow"
	NotificationMessage NotificationType = "message"
	NotificationMention NotificationType = "mention"
	NotificationSystem  NotificationType = "system"
)

// NotificationPriority is advisory; delivery policy lives with the
// recipient's preferences on the remote side.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
)

// PushStatus tracks delivery of the push copy of a notification.
type PushStatus string

const (
	PushPending PushStatus = "pending"
	PushSent    PushStatus = "sent"
	PushFailed  PushStatus = "failed"
	PushSkipped PushStatus = "skipped"
)

// A Notification is an in-app notification addressed to one recipient.
type Notification struct {
	ID          string               `json:"id"`
	RecipientID string               `json:"recipient_id"`
	ActorID     string               `json:"actor_id,omitempty"`
	Type        NotificationType     `json:"type"`
	Title       string               `json:"title"`
	Body        string               `json:"body"`
	EntityType  string               `json:"entity_type,omitempty"`
	EntityID    string               `json:"entity_id,omitempty"`
	ActionURL   string               `json:"action_url,omitempty"`
	Read        bool                 `json:"is_read"`
	ReadAt      *time.Time           `json:"read_at,omitempty"`
	Archived    bool                 `json:"is_archived"`
	ArchivedAt  *time.Time           `json:"archived_at,omitempty"`
	PushStatus  PushStatus           `json:"push_status"`
	Priority    NotificationPriority `json:"priority"`
	ExpiresAt   *time.Time           `json:"expires_at,omitempty"`
	Metadata    json.RawMessage      `json:"metadata,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// NotificationPayload is what a caller supplies to create a notification.
// An empty ActorID means the current user.
type NotificationPayload struct {
	RecipientID string               `json:"recipient_id" validate:"required"`
	ActorID     string               `json:"actor_id"`
	Type        NotificationType     `json:"type" validate:"required"`
	Title       string               `json:"title" validate:"required,max=200"`
	Body        string               `json:"body" validate:"max=1000"`
	EntityType  string               `json:"entity_type"`
	EntityID    string               `json:"entity_id"`
	ActionURL   string               `json:"action_url"`
	Priority    NotificationPriority `json:"priority"`
	ExpiresAt   *time.Time           `json:"expires_at"`
	Metadata    json.RawMessage      `json:"metadata"`
}

// A PushToken is a device registration for push delivery.
type PushToken struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Platform  string    `json:"platform"`
	UpdatedAt time.Time `json:"updated_at"`
}

// A PushMessage is handed to the push transport for delivery to devices.
type PushMessage struct {
	NotificationID string            `json:"notification_id"`
	RecipientID    string            `json:"recipient_id"`
	Tokens         []string          `json:"tokens"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	ActionURL      string            `json:"action_url,omitempty"`
	Priority       string            `json:"priority"`
	Data           map[string]string `json:"data,omitempty"`
}

// RPCResult is the envelope every atomic procedure answers with. Callers
// check Success before trusting any other field.
type RPCResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// DirectConversationResult answers the get-or-create direct conversation
// procedure.
type DirectConversationResult struct {
	RPCResult
	ConversationID string `json:"conversation_id,omitempty"`
	Created        bool   `json:"created"`
}

// ToggleResult answers an edge toggle procedure with the authoritative
// edge state and target counter.
type ToggleResult struct {
	RPCResult
	Active bool `json:"active"`
	Count  int  `json:"count"`
}

// EventType is the kind of a realtime change event.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// A ChangeEvent announces a row change on a realtime topic.
type ChangeEvent struct {
	Table  string          `json:"table"`
	Type   EventType       `json:"type"`
	ID     string          `json:"id"`
	Record json.RawMessage `json:"record,omitempty"`
	At     time.Time       `json:"at"`
}

// A TypingEvent is an ephemeral typing signal. It is never persisted.
type TypingEvent struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	UserName       string    `json:"user_name"`
	IsTyping       bool      `json:"is_typing"`
	At             time.Time `json:"at"`
}

// A TypingUser is a remote user currently typing.
type TypingUser struct {
	UserID   string    `json:"user_id"`
	UserName string    `json:"user_name"`
	LastSeen time.Time `json:"last_seen"`
}
