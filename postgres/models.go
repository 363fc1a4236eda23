package postgres

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

// A conversation represents a conversation in the database. Direct
// conversations carry the unordered pair key of their two users.
type conversation struct {
	bun.BaseModel `bun:"table:conversations,alias:c"`

	ID                  string     `bun:",pk,type:uuid"`
	Type                string     `bun:",notnull"`
	Name                string     `bun:",nullzero"`
	AvatarURL           string     `bun:",nullzero"`
	DirectKey           string     `bun:",nullzero,unique"`
	LastMessagePreview  string     `bun:",nullzero"`
	LastMessageAt       *time.Time `bun:",nullzero"`
	LastMessageSenderID string     `bun:",nullzero"`
	CreatedAt           time.Time  `bun:",nullzero,notnull,default:now()"`
}

// A participant is a user's membership row. Archive and pin flags are per
// participant.
type participant struct {
	bun.BaseModel `bun:"table:conversation_participants,alias:p"`

	ConversationID string     `bun:",pk,type:uuid"`
	UserID         string     `bun:",pk"`
	Role           string     `bun:",notnull,default:'member'"`
	JoinedAt       time.Time  `bun:",nullzero,notnull,default:now()"`
	LeftAt         *time.Time `bun:",nullzero"`
	IsActive       bool       `bun:",notnull,default:true"`
	LastReadAt     *time.Time `bun:",nullzero"`
	IsMuted        bool       `bun:",notnull,default:false"`
	SoundEnabled   bool       `bun:",notnull,default:true"`
	VibrateEnabled bool       `bun:",notnull,default:true"`
	IsArchived     bool       `bun:",notnull,default:false"`
	IsPinned       bool       `bun:",notnull,default:false"`
}

// A message represents a message in the database.
type message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID             string        `bun:",pk,type:uuid"`
	ConversationID string        `bun:",notnull,type:uuid"`
	SenderID       string        `bun:",notnull"`
	Content        string        `bun:",notnull"`
	MessageType    string        `bun:",notnull,default:'text'"`
	MediaURL       string        `bun:",nullzero"`
	MediaType      string        `bun:",nullzero"`
	ReplyToID      string        `bun:",nullzero,type:uuid"`
	CreatedAt      time.Time     `bun:",nullzero,notnull,default:now()"`
	EditedAt       *time.Time    `bun:",nullzero"`
	DeletedAt      *time.Time    `bun:",nullzero"`
	IsEdited       bool          `bun:",notnull,default:false"`
	IsDeleted      bool          `bun:",notnull,default:false"`
	Reactions      []reaction    `bun:"rel:has-many,join:id=message_id"`
	ReadBy         []readReceipt `bun:"rel:has-many,join:id=message_id"`
}

// A reaction is unique per user and message.
type reaction struct {
	bun.BaseModel `bun:"table:message_reactions,alias:r"`

	ID        string    `bun:",pk,type:uuid"`
	MessageID string    `bun:",notnull,type:uuid,unique:message_user"`
	UserID    string    `bun:",notnull,unique:message_user"`
	Reaction  string    `bun:",notnull"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:now()"`
}

type readReceipt struct {
	bun.BaseModel `bun:"table:message_read_receipts,alias:rr"`

	MessageID string    `bun:",pk,type:uuid"`
	UserID    string    `bun:",pk"`
	ReadAt    time.Time `bun:",nullzero,notnull,default:now()"`
}

// An edge is a directed social edge: a like on a post, a follow or a block.
type edge struct {
	bun.BaseModel `bun:"table:social_edges,alias:e"`

	Kind      string    `bun:",pk"`
	ActorID   string    `bun:",pk"`
	TargetID  string    `bun:",pk"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:now()"`
}

// A post carries the denormalized like counter.
type post struct {
	bun.BaseModel `bun:"table:posts,alias:po"`

	ID         string    `bun:",pk"`
	UserID     string    `bun:",notnull"`
	LikesCount int       `bun:",notnull,default:0"`
	CreatedAt  time.Time `bun:",nullzero,notnull,default:now()"`
}

// A profile carries the denormalized follow counters.
type profile struct {
	bun.BaseModel `bun:"table:profiles,alias:pr"`

	ID             string `bun:",pk"`
	FollowersCount int    `bun:",notnull,default:0"`
	FollowingCount int    `bun:",notnull,default:0"`
}

type notification struct {
	bun.BaseModel `bun:"table:notifications,alias:n"`

	ID          string          `bun:",pk,type:uuid"`
	RecipientID string          `bun:",notnull"`
	ActorID     string          `bun:",nullzero"`
	Type        string          `bun:",notnull"`
	Title       string          `bun:",notnull"`
	Body        string          `bun:",notnull,default:''"`
	EntityType  string          `bun:",nullzero"`
	EntityID    string          `bun:",nullzero"`
	ActionURL   string          `bun:",nullzero"`
	IsRead      bool            `bun:",notnull,default:false"`
	ReadAt      *time.Time      `bun:",nullzero"`
	IsArchived  bool            `bun:",notnull,default:false"`
	ArchivedAt  *time.Time      `bun:",nullzero"`
	PushStatus  string          `bun:",notnull,default:'pending'"`
	Priority    string          `bun:",notnull,default:'normal'"`
	ExpiresAt   *time.Time      `bun:",nullzero"`
	Metadata    json.RawMessage `bun:",type:jsonb,nullzero"`
	CreatedAt   time.Time       `bun:",nullzero,notnull,default:now()"`
}

type pushToken struct {
	bun.BaseModel `bun:"table:push_tokens,alias:pt"`

	Token     string    `bun:",pk"`
	UserID    string    `bun:",notnull"`
	Platform  string    `bun:",notnull"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:now()"`
}

func (c conversation) CoreConversation() core.Conversation {
	return core.Conversation{
		ID:                  c.ID,
		Type:                core.ConversationType(c.Type),
		Name:                c.Name,
		AvatarURL:           c.AvatarURL,
		LastMessagePreview:  c.LastMessagePreview,
		LastMessageAt:       c.LastMessageAt,
		LastMessageSenderID: c.LastMessageSenderID,
		CreatedAt:           c.CreatedAt,
	}
}

func (p participant) CoreParticipant() core.Participant {
	return core.Participant{
		ConversationID: p.ConversationID,
		UserID:         p.UserID,
		Role:           core.ParticipantRole(p.Role),
		JoinedAt:       p.JoinedAt,
		LeftAt:         p.LeftAt,
		Active:         p.IsActive,
		LastReadAt:     p.LastReadAt,
		Muted:          p.IsMuted,
		Sound:          p.SoundEnabled,
		Vibrate:        p.VibrateEnabled,
	}
}

func (m message) CoreMessage() core.Message {
	reactions := make([]core.Reaction, len(m.Reactions))
	for i, r := range m.Reactions {
		reactions[i] = r.CoreReaction()
	}
	readBy := make([]core.ReadReceipt, len(m.ReadBy))
	for i, rr := range m.ReadBy {
		readBy[i] = core.ReadReceipt{MessageID: rr.MessageID, UserID: rr.UserID, ReadAt: rr.ReadAt}
	}

	return core.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           core.MessageType(m.MessageType),
		MediaURL:       m.MediaURL,
		MediaType:      m.MediaType,
		ReplyToID:      m.ReplyToID,
		CreatedAt:      m.CreatedAt,
		EditedAt:       m.EditedAt,
		DeletedAt:      m.DeletedAt,
		IsEdited:       m.IsEdited,
		IsDeleted:      m.IsDeleted,
		Reactions:      reactions,
		ReadBy:         readBy,
	}
}

func (r reaction) CoreReaction() core.Reaction {
	return core.Reaction{
		ID:        r.ID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     r.Reaction,
		CreatedAt: r.CreatedAt,
	}
}

func newNotification(n core.Notification) notification {
	return notification{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		ActorID:     n.ActorID,
		Type:        string(n.Type),
		Title:       n.Title,
		Body:        n.Body,
		EntityType:  n.EntityType,
		EntityID:    n.EntityID,
		ActionURL:   n.ActionURL,
		IsRead:      n.Read,
		ReadAt:      n.ReadAt,
		IsArchived:  n.Archived,
		ArchivedAt:  n.ArchivedAt,
		PushStatus:  string(n.PushStatus),
		Priority:    string(n.Priority),
		ExpiresAt:   n.ExpiresAt,
		Metadata:    n.Metadata,
		CreatedAt:   n.CreatedAt,
	}
}

func (n notification) CoreNotification() core.Notification {
	return core.Notification{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		ActorID:     n.ActorID,
		Type:        core.NotificationType(n.Type),
		Title:       n.Title,
		Body:        n.Body,
		EntityType:  n.EntityType,
		EntityID:    n.EntityID,
		ActionURL:   n.ActionURL,
		Read:        n.IsRead,
		ReadAt:      n.ReadAt,
		Archived:    n.IsArchived,
		ArchivedAt:  n.ArchivedAt,
		PushStatus:  core.PushStatus(n.PushStatus),
		Priority:    core.NotificationPriority(n.Priority),
		ExpiresAt:   n.ExpiresAt,
		Metadata:    n.Metadata,
		CreatedAt:   n.CreatedAt,
	}
}
