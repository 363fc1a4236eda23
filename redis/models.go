package redis

import (
	"sort"
	"strconv"
	"time"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

// A message represents a cached message. Times are stored as Unix
// nanoseconds.
type message struct {
	ID             string `redis:"id"`
	ConversationID string `redis:"conversation_id"`
	SenderID       string `redis:"sender_id"`
	Content        string `redis:"content"`
	Type           string `redis:"type"`
	MediaURL       string `redis:"media_url"`
	MediaType      string `redis:"media_type"`
	ReplyToID      string `redis:"reply_to_id"`
	CreatedAt      int64  `redis:"created_at"`
	Reactions      []reaction
	ReadBy         map[string]string
}

// reaction represents a cached reaction to a message.
type reaction struct {
	ID        string `redis:"id"`
	MessageID string `redis:"message_id"`
	UserID    string `redis:"user_id"`
	Emoji     string `redis:"reaction"`
	CreatedAt int64  `redis:"created_at"`
}

func newMessage(m core.Message) *message {
	return &message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           string(m.Type),
		MediaURL:       m.MediaURL,
		MediaType:      m.MediaType,
		ReplyToID:      m.ReplyToID,
		CreatedAt:      m.CreatedAt.UnixNano(),
	}
}

func newReaction(r core.Reaction) *reaction {
	return &reaction{
		ID:        r.ID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     r.Emoji,
		CreatedAt: r.CreatedAt.UnixNano(),
	}
}

func (m message) CoreMessage() core.Message {
	msg := core.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           core.MessageType(m.Type),
		MediaURL:       m.MediaURL,
		MediaType:      m.MediaType,
		ReplyToID:      m.ReplyToID,
		CreatedAt:      time.Unix(0, m.CreatedAt).UTC(),
		Reactions:      make([]core.Reaction, len(m.Reactions)),
		ReadBy:         make([]core.ReadReceipt, 0, len(m.ReadBy)),
	}
	for i, r := range m.Reactions {
		msg.Reactions[i] = r.CoreReaction()
	}
	for userID, v := range m.ReadBy {
		ns, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		msg.ReadBy = append(msg.ReadBy, core.ReadReceipt{MessageID: m.ID, UserID: userID, ReadAt: time.Unix(0, ns).UTC()})
	}
	sort.Slice(msg.ReadBy, func(i, j int) bool { return msg.ReadBy[i].UserID < msg.ReadBy[j].UserID })
	return msg
}

func (r reaction) CoreReaction() core.Reaction {
	return core.Reaction{
		ID:        r.ID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     r.Emoji,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}
}
