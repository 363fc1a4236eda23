// Package memory provides an in-process remote data store for local
// development and tests. Every procedure runs under one lock, which gives
// the same atomicity the Postgres procedures get from transactions.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

type member struct {
	core.Participant
	archived bool
	pinned   bool
}

type edgeKey struct {
	kind   core.EdgeKind
	actor  string
	target string
}

var (
	_ core.DB     = (*DB)(nil)
	_ core.PubSub = (*PubSub)(nil)
)

// DB is an in-memory core.DB.
type DB struct {
	mu sync.Mutex

	conversations map[string]*core.Conversation
	direct        map[string]string
	members       map[string]map[string]*member
	messages      map[string][]*core.Message
	byID          map[string]*core.Message
	reactions     map[string]map[string]core.Reaction
	receipts      map[string]map[string]time.Time
	edges         map[edgeKey]time.Time
	posts         map[string]string
	notifications []*core.Notification
	tokens        map[string]core.PushToken

	// Now returns the current time. It defaults to time.Now.
	Now func() time.Time
}

// New returns an empty DB.
func New() *DB {
	return &DB{
		conversations: make(map[string]*core.Conversation),
		direct:        make(map[string]string),
		members:       make(map[string]map[string]*member),
		messages:      make(map[string][]*core.Message),
		byID:          make(map[string]*core.Message),
		reactions:     make(map[string]map[string]core.Reaction),
		receipts:      make(map[string]map[string]time.Time),
		edges:         make(map[edgeKey]time.Time),
		posts:         make(map[string]string),
		tokens:        make(map[string]core.PushToken),
		Now:           time.Now,
	}
}

func (db *DB) now() time.Time {
	return db.Now().UTC()
}

// AddPost registers a post owned by ownerID so it can be liked.
func (db *DB) AddPost(postID, ownerID string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.posts[postID] = ownerID
}

// DirectKey is the unordered pair key of a direct conversation.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

func (db *DB) addMember(convID, userID string, role core.ParticipantRole, at time.Time) {
	ms, ok := db.members[convID]
	if !ok {
		ms = make(map[string]*member)
		db.members[convID] = ms
	}
	if m, ok := ms[userID]; ok {
		m.Active = true
		m.LeftAt = nil
		return
	}
	ms[userID] = &member{Participant: core.Participant{
		ConversationID: convID,
		UserID:         userID,
		Role:           role,
		JoinedAt:       at,
		Active:         true,
		Sound:          true,
		Vibrate:        true,
	}}
}

func (db *DB) activeMember(convID, userID string) (*member, error) {
	m, ok := db.members[convID][userID]
	if !ok || !m.Active {
		return nil, core.ErrNotParticipant
	}
	return m, nil
}

func (db *DB) activeCount(convID string) int {
	n := 0
	for _, m := range db.members[convID] {
		if m.Active {
			n++
		}
	}
	return n
}

// ListConversations returns the user's active, non-archived conversations.
func (db *DB) ListConversations(_ context.Context, userID string) ([]core.Conversation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []core.Conversation
	for id, c := range db.conversations {
		m, ok := db.members[id][userID]
		if !ok || !m.Active || m.archived {
			continue
		}
		conv := *c
		conv.ParticipantCount = db.activeCount(id)
		conv.Archived = m.archived
		conv.Pinned = m.pinned
		conv.LastReadAt = m.LastReadAt
		for _, msg := range db.messages[id] {
			if msg.SenderID != userID && (m.LastReadAt == nil || msg.CreatedAt.After(*m.LastReadAt)) {
				conv.UnreadCount++
			}
		}
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetOrCreateDirectConversation returns the pair's conversation, creating
// it and both participants when missing.
func (db *DB) GetOrCreateDirectConversation(_ context.Context, userID, otherUserID string) (core.DirectConversationResult, error) {
	if userID == "" || otherUserID == "" || userID == otherUserID {
		return core.DirectConversationResult{RPCResult: core.RPCResult{Error: "invalid participants"}}, nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	key := DirectKey(userID, otherUserID)
	if id, ok := db.direct[key]; ok {
		now := db.now()
		db.addMember(id, userID, core.RoleMember, now)
		db.addMember(id, otherUserID, core.RoleMember, now)
		return core.DirectConversationResult{RPCResult: core.RPCResult{Success: true}, ConversationID: id}, nil
	}
	now := db.now()
	id := uuid.NewString()
	db.conversations[id] = &core.Conversation{ID: id, Type: core.ConversationDirect, CreatedAt: now}
	db.direct[key] = id
	db.addMember(id, userID, core.RoleMember, now)
	db.addMember(id, otherUserID, core.RoleMember, now)
	return core.DirectConversationResult{RPCResult: core.RPCResult{Success: true}, ConversationID: id, Created: true}, nil
}

// CreateGroupConversation creates a group with ownerID as owner.
func (db *DB) CreateGroupConversation(_ context.Context, ownerID, name string, memberIDs []string) (core.Conversation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	now := db.now()
	id := uuid.NewString()
	c := &core.Conversation{ID: id, Type: core.ConversationGroup, Name: name, CreatedAt: now}
	db.conversations[id] = c
	db.addMember(id, ownerID, core.RoleOwner, now)
	for _, uid := range memberIDs {
		db.addMember(id, uid, core.RoleMember, now)
	}
	out := *c
	out.ParticipantCount = db.activeCount(id)
	return out, nil
}

// UpdateConversation applies upd. Name and avatar changes are limited to
// group admins and owners; pinning is per participant.
func (db *DB) UpdateConversation(_ context.Context, conversationID, userID string, upd core.ConversationUpdate) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.conversations[conversationID]
	if !ok {
		return core.ErrNotFound
	}
	m, err := db.activeMember(conversationID, userID)
	if err != nil {
		return err
	}
	if upd.Name != nil || upd.AvatarURL != nil {
		if c.Type != core.ConversationGroup || m.Role == core.RoleMember {
			return fmt.Errorf("update conversation: %w", core.ErrNotParticipant)
		}
		if upd.Name != nil {
			c.Name = *upd.Name
		}
		if upd.AvatarURL != nil {
			c.AvatarURL = *upd.AvatarURL
		}
	}
	if upd.Pinned != nil {
		m.pinned = *upd.Pinned
	}
	return nil
}

// ArchiveConversation archives the conversation for userID.
func (db *DB) ArchiveConversation(_ context.Context, conversationID, userID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, err := db.activeMember(conversationID, userID)
	if err != nil {
		return err
	}
	m.archived = true
	return nil
}

// LeaveConversation deactivates userID's membership.
func (db *DB) LeaveConversation(_ context.Context, conversationID, userID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, err := db.activeMember(conversationID, userID)
	if err != nil {
		return err
	}
	now := db.now()
	m.Active = false
	m.LeftAt = &now
	return nil
}

// ListParticipants returns every participant row of the conversation.
func (db *DB) ListParticipants(_ context.Context, conversationID string) ([]core.Participant, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]core.Participant, 0, len(db.members[conversationID]))
	for _, m := range db.members[conversationID] {
		out = append(out, m.Participant)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Participant returns one participant row.
func (db *DB) Participant(conversationID, userID string) (core.Participant, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.members[conversationID][userID]
	if !ok {
		return core.Participant{}, false
	}
	return m.Participant, true
}

// SetMuted changes a participant's mute setting.
func (db *DB) SetMuted(conversationID, userID string, muted bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if m, ok := db.members[conversationID][userID]; ok {
		m.Muted = muted
	}
}
