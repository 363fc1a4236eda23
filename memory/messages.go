package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

const previewRunes = 100

// ListMessages returns up to limit messages older than before, newest first.
func (db *DB) ListMessages(_ context.Context, conversationID string, limit int, before string) ([]core.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	all := db.messages[conversationID]
	end := len(all)
	if before != "" {
		end = slices.IndexFunc(all, func(m *core.Message) bool { return m.ID == before })
		if end < 0 {
			return nil, core.ErrNotFound
		}
	}
	start := max(0, end-limit)
	out := make([]core.Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		out = append(out, db.messageLocked(all[i]))
	}
	return out, nil
}

func (db *DB) messageLocked(m *core.Message) core.Message {
	out := *m
	out.Reactions = make([]core.Reaction, 0, len(db.reactions[m.ID]))
	for _, r := range db.reactions[m.ID] {
		out.Reactions = append(out.Reactions, r)
	}
	sort.Slice(out.Reactions, func(i, j int) bool { return out.Reactions[i].UserID < out.Reactions[j].UserID })
	out.ReadBy = make([]core.ReadReceipt, 0, len(db.receipts[m.ID]))
	for uid, at := range db.receipts[m.ID] {
		out.ReadBy = append(out.ReadBy, core.ReadReceipt{MessageID: m.ID, UserID: uid, ReadAt: at})
	}
	sort.Slice(out.ReadBy, func(i, j int) bool { return out.ReadBy[i].UserID < out.ReadBy[j].UserID })
	return out
}

// InsertMessage stores msg and updates the conversation's last message. The
// sender must be an active participant.
func (db *DB) InsertMessage(_ context.Context, msg core.Message) (core.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.conversations[msg.ConversationID]
	if !ok {
		return core.Message{}, core.ErrNotFound
	}
	if _, err := db.activeMember(msg.ConversationID, msg.SenderID); err != nil {
		return core.Message{}, err
	}
	if c.Type == core.ConversationDirect && db.blockedLocked(msg.ConversationID, msg.SenderID) {
		return core.Message{}, core.ErrBlocked
	}
	msg.ID = uuid.NewString()
	msg.CreatedAt = db.now()
	if list := db.messages[msg.ConversationID]; len(list) > 0 {
		if last := list[len(list)-1].CreatedAt; !msg.CreatedAt.After(last) {
			msg.CreatedAt = last.Add(time.Microsecond)
		}
	}
	if msg.Type == "" {
		msg.Type = core.MessageText
	}
	m := msg
	m.Reactions, m.ReadBy = nil, nil
	db.messages[msg.ConversationID] = append(db.messages[msg.ConversationID], &m)
	db.byID[m.ID] = &m

	at := m.CreatedAt
	c.LastMessageAt = &at
	c.LastMessageSenderID = m.SenderID
	c.LastMessagePreview = truncate(m.Content, previewRunes)
	return db.messageLocked(&m), nil
}

// blockedLocked reports whether a block edge exists in either direction
// between senderID and another member of the conversation.
func (db *DB) blockedLocked(convID, senderID string) bool {
	for uid := range db.members[convID] {
		if uid == senderID {
			continue
		}
		if _, ok := db.edges[edgeKey{core.EdgeBlock, senderID, uid}]; ok {
			return true
		}
		if _, ok := db.edges[edgeKey{core.EdgeBlock, uid, senderID}]; ok {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// MessageConversation returns the conversation of messageID.
func (db *DB) MessageConversation(_ context.Context, messageID string) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.byID[messageID]
	if !ok {
		return "", core.ErrNotFound
	}
	return m.ConversationID, nil
}

// UpsertReaction sets the user's reaction on a message, replacing any
// previous emoji.
func (db *DB) UpsertReaction(_ context.Context, r core.Reaction) (core.Reaction, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.byID[r.MessageID]
	if !ok {
		return core.Reaction{}, core.ErrNotFound
	}
	if _, err := db.activeMember(m.ConversationID, r.UserID); err != nil {
		return core.Reaction{}, err
	}
	rs, ok := db.reactions[r.MessageID]
	if !ok {
		rs = make(map[string]core.Reaction)
		db.reactions[r.MessageID] = rs
	}
	if prev, ok := rs[r.UserID]; ok {
		r.ID = prev.ID
	} else {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = db.now()
	rs[r.UserID] = r
	return r, nil
}

// UpsertReadReceipt records that userID read the message. The earliest
// read time is kept.
func (db *DB) UpsertReadReceipt(_ context.Context, messageID, userID string, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.byID[messageID]
	if !ok {
		return core.ErrNotFound
	}
	if _, err := db.activeMember(m.ConversationID, userID); err != nil {
		return err
	}
	rs, ok := db.receipts[messageID]
	if !ok {
		rs = make(map[string]time.Time)
		db.receipts[messageID] = rs
	}
	if _, ok := rs[userID]; !ok {
		rs[userID] = at.UTC()
	}
	return nil
}

// MarkConversationRead moves the read cursor forward to at.
func (db *DB) MarkConversationRead(_ context.Context, conversationID, userID string, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, err := db.activeMember(conversationID, userID)
	if err != nil {
		return err
	}
	at = at.UTC()
	if m.LastReadAt == nil || at.After(*m.LastReadAt) {
		m.LastReadAt = &at
	}
	return nil
}
