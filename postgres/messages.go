package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

const previewRunes = 100

// ListMessages returns up to limit messages older than before, newest first.
func (pg *Postgres) ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]core.Message, error) {
	var msgs []message
	q := messagesQuery(pg.bun, &msgs, conversationID, limit, before)
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]core.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.CoreMessage()
	}

	return out, nil
}

// InsertMessage inserts a message and moves the conversation's last message
// pointer in one transaction. The returned message holds the generated id.
func (pg *Postgres) InsertMessage(ctx context.Context, msg core.Message) (core.Message, error) {
	m := &message{
		ID:             uuid.NewString(),
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		MessageType:    string(msg.Type),
		MediaURL:       msg.MediaURL,
		MediaType:      msg.MediaType,
		ReplyToID:      msg.ReplyToID,
		CreatedAt:      msg.CreatedAt,
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.MessageType == "" {
		m.MessageType = string(core.MessageText)
	}
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		ok, err := isActiveParticipant(ctx, tx, m.ConversationID, m.SenderID)
		if err != nil {
			return err
		}
		if !ok {
			return core.ErrNotParticipant
		}
		blocked, err := isBlocked(ctx, tx, m.ConversationID, m.SenderID)
		if err != nil {
			return err
		}
		if blocked {
			return core.ErrBlocked
		}
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		if _, err := tx.NewUpdate().
			Model((*conversation)(nil)).
			Set("last_message_preview = ?", truncate(m.Content, previewRunes)).
			Set("last_message_at = ?", m.CreatedAt).
			Set("last_message_sender_id = ?", m.SenderID).
			Where("id = ?", m.ConversationID).
			Exec(ctx); err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Message{}, err
	}
	return m.CoreMessage(), nil
}

// messagesQuery selects a page of messages. Pages are keyed on
// (created_at, id) so rows sharing a timestamp are never skipped.
func messagesQuery(db bun.IDB, dst *[]message, conversationID string, limit int, before string) *bun.SelectQuery {
	q := db.NewSelect().
		Model(dst).
		Relation("Reactions", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("r.created_at")
		}).
		Relation("ReadBy").
		Where("m.conversation_id = ?", conversationID).
		OrderExpr("m.created_at DESC, m.id DESC").
		Limit(limit)

	if before != "" {
		q = q.Where("(m.created_at, m.id) < (?)", db.NewSelect().
			Model((*message)(nil)).
			ColumnExpr("created_at, id").
			Where("id = ?", before))
	}
	return q
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// MessageConversation returns the conversation of messageID.
func (pg *Postgres) MessageConversation(ctx context.Context, messageID string) (string, error) {
	var m message
	err := pg.bun.NewSelect().Model(&m).Column("conversation_id").Where("id = ?", messageID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select message: %w", err)
	}
	return m.ConversationID, nil
}

// UpsertReaction sets the user's reaction on a message, replacing any
// previous emoji.
func (pg *Postgres) UpsertReaction(ctx context.Context, r core.Reaction) (core.Reaction, error) {
	rm := &reaction{
		ID:        uuid.NewString(),
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Reaction:  r.Emoji,
		CreatedAt: r.CreatedAt,
	}
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := checkMessageAccess(ctx, tx, r.MessageID, r.UserID); err != nil {
			return err
		}
		if _, err := tx.NewInsert().
			Model(rm).
			On("CONFLICT (message_id, user_id) DO UPDATE").
			Set("reaction = EXCLUDED.reaction").
			Set("created_at = EXCLUDED.created_at").
			Returning("id, created_at").
			Exec(ctx); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Reaction{}, err
	}
	return rm.CoreReaction(), nil
}

// checkMessageAccess returns core.ErrNotFound for a missing message and
// core.ErrNotParticipant when userID cannot see it.
func checkMessageAccess(ctx context.Context, db bun.IDB, messageID, userID string) error {
	var m message
	err := db.NewSelect().
		Model(&m).
		Column("conversation_id").
		Where("id = ?", messageID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select message: %w", err)
	}
	ok, err := isActiveParticipant(ctx, db, m.ConversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrNotParticipant
	}
	return nil
}

// UpsertReadReceipt records that userID read the message. The earliest
// read time is kept.
func (pg *Postgres) UpsertReadReceipt(ctx context.Context, messageID, userID string, at time.Time) error {
	return pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := checkMessageAccess(ctx, tx, messageID, userID); err != nil {
			return err
		}
		if _, err := tx.NewInsert().
			Model(&readReceipt{MessageID: messageID, UserID: userID, ReadAt: at}).
			On("CONFLICT (message_id, user_id) DO NOTHING").
			Returning("NULL").
			Exec(ctx); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		return nil
	})
}

// MarkConversationRead moves the read cursor forward to at. GREATEST keeps
// the cursor from moving backwards under concurrent calls.
func (pg *Postgres) MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	res, err := pg.bun.NewUpdate().
		Model((*participant)(nil)).
		Set("last_read_at = GREATEST(last_read_at, ?)", at.UTC()).
		Where("conversation_id = ?", conversationID).
		Where("user_id = ?", userID).
		Where("is_active").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotParticipant
	}
	return nil
}
