package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

// directKey is the unordered pair key of a direct conversation.
func directKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

type conversationCount struct {
	ConversationID string `bun:"conversation_id"`
	N              int    `bun:"n"`
}

// ListConversations returns the user's active, non-archived conversations.
func (pg *Postgres) ListConversations(ctx context.Context, userID string) ([]core.Conversation, error) {
	var parts []participant
	if err := pg.bun.NewSelect().
		Model(&parts).
		Where("user_id = ?", userID).
		Where("is_active").
		Where("NOT is_archived").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan participants: %w", err)
	}
	if len(parts) == 0 {
		return []core.Conversation{}, nil
	}
	ids := make([]string, len(parts))
	for i, p := range parts {
		ids[i] = p.ConversationID
	}

	var convs []conversation
	if err := pg.bun.NewSelect().
		Model(&convs).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan conversations: %w", err)
	}

	var members []conversationCount
	if err := pg.bun.NewSelect().
		Model((*participant)(nil)).
		Column("conversation_id").
		ColumnExpr("count(*) AS n").
		Where("conversation_id IN (?)", bun.In(ids)).
		Where("is_active").
		Group("conversation_id").
		Scan(ctx, &members); err != nil {
		return nil, fmt.Errorf("count participants: %w", err)
	}

	var unread []conversationCount
	if err := pg.bun.NewSelect().
		TableExpr("messages AS m").
		Join("JOIN conversation_participants AS p ON p.conversation_id = m.conversation_id AND p.user_id = ?", userID).
		ColumnExpr("m.conversation_id").
		ColumnExpr("count(*) AS n").
		Where("m.conversation_id IN (?)", bun.In(ids)).
		Where("m.sender_id <> ?", userID).
		Where("NOT m.is_deleted").
		Where("(p.last_read_at IS NULL OR m.created_at > p.last_read_at)").
		Group("m.conversation_id").
		Scan(ctx, &unread); err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}

	byConv := make(map[string]participant, len(parts))
	for _, p := range parts {
		byConv[p.ConversationID] = p
	}
	memberCount := make(map[string]int, len(members))
	for _, m := range members {
		memberCount[m.ConversationID] = m.N
	}
	unreadCount := make(map[string]int, len(unread))
	for _, u := range unread {
		unreadCount[u.ConversationID] = u.N
	}

	out := make([]core.Conversation, len(convs))
	for i, c := range convs {
		p := byConv[c.ID]
		out[i] = c.CoreConversation()
		out[i].ParticipantCount = memberCount[c.ID]
		out[i].UnreadCount = unreadCount[c.ID]
		out[i].Archived = p.IsArchived
		out[i].Pinned = p.IsPinned
		out[i].LastReadAt = p.LastReadAt
	}
	return out, nil
}

// GetOrCreateDirectConversation returns the pair's conversation, creating it
// and both participant rows when missing. The unique pair key makes
// concurrent calls converge on one row.
func (pg *Postgres) GetOrCreateDirectConversation(ctx context.Context, userID, otherUserID string) (core.DirectConversationResult, error) {
	if userID == "" || otherUserID == "" || userID == otherUserID {
		return core.DirectConversationResult{RPCResult: core.RPCResult{Error: "invalid participants"}}, nil
	}
	key := directKey(userID, otherUserID)
	var out core.DirectConversationResult
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		c := &conversation{ID: uuid.NewString(), Type: string(core.ConversationDirect), DirectKey: key}
		res, err := tx.NewInsert().
			Model(c).
			On("CONFLICT (direct_key) DO NOTHING").
			Returning("NULL").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			out.Created = true
		} else {
			if err := tx.NewSelect().
				Model(c).
				Column("id").
				Where("direct_key = ?", key).
				Scan(ctx); err != nil {
				return fmt.Errorf("select conversation: %w", err)
			}
		}

		for _, uid := range []string{userID, otherUserID} {
			if err := joinConversation(ctx, tx, c.ID, uid, core.RoleMember); err != nil {
				return err
			}
		}
		out.ConversationID = c.ID
		return nil
	})
	if err != nil {
		return core.DirectConversationResult{}, err
	}
	out.Success = true
	return out, nil
}

// joinConversation adds userID to the conversation or reactivates the
// membership.
func joinConversation(ctx context.Context, db bun.IDB, conversationID, userID string, role core.ParticipantRole) error {
	p := &participant{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           string(role),
		IsActive:       true,
		SoundEnabled:   true,
		VibrateEnabled: true,
	}
	if _, err := db.NewInsert().
		Model(p).
		On("CONFLICT (conversation_id, user_id) DO UPDATE").
		Set("is_active = TRUE").
		Set("left_at = NULL").
		Returning("NULL").
		Exec(ctx); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// CreateGroupConversation creates a group with ownerID as owner.
func (pg *Postgres) CreateGroupConversation(ctx context.Context, ownerID, name string, memberIDs []string) (core.Conversation, error) {
	c := &conversation{ID: uuid.NewString(), Type: string(core.ConversationGroup), Name: name, CreatedAt: time.Now().UTC()}
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(c).Exec(ctx); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		if err := joinConversation(ctx, tx, c.ID, ownerID, core.RoleOwner); err != nil {
			return err
		}
		for _, uid := range memberIDs {
			if err := joinConversation(ctx, tx, c.ID, uid, core.RoleMember); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return core.Conversation{}, err
	}
	out := c.CoreConversation()
	out.ParticipantCount = 1 + len(memberIDs)
	return out, nil
}

// UpdateConversation applies upd. Name and avatar changes are limited to
// group admins and owners; pinning is per participant.
func (pg *Postgres) UpdateConversation(ctx context.Context, conversationID, userID string, upd core.ConversationUpdate) error {
	return pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var p participant
		err := tx.NewSelect().
			Model(&p).
			Where("conversation_id = ?", conversationID).
			Where("user_id = ?", userID).
			Where("is_active").
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotParticipant
		}
		if err != nil {
			return fmt.Errorf("select participant: %w", err)
		}

		if upd.Name != nil || upd.AvatarURL != nil {
			if p.Role == string(core.RoleMember) {
				return fmt.Errorf("update conversation: %w", core.ErrNotParticipant)
			}
			q := tx.NewUpdate().
				Model((*conversation)(nil)).
				Where("id = ?", conversationID).
				Where("type = ?", string(core.ConversationGroup))
			if upd.Name != nil {
				q = q.Set("name = ?", *upd.Name)
			}
			if upd.AvatarURL != nil {
				q = q.Set("avatar_url = ?", *upd.AvatarURL)
			}
			if _, err := q.Exec(ctx); err != nil {
				return fmt.Errorf("update conversation: %w", err)
			}
		}
		if upd.Pinned != nil {
			if _, err := tx.NewUpdate().
				Model((*participant)(nil)).
				Set("is_pinned = ?", *upd.Pinned).
				Where("conversation_id = ?", conversationID).
				Where("user_id = ?", userID).
				Exec(ctx); err != nil {
				return fmt.Errorf("update participant: %w", err)
			}
		}
		return nil
	})
}

// ArchiveConversation archives the conversation for userID.
func (pg *Postgres) ArchiveConversation(ctx context.Context, conversationID, userID string) error {
	return pg.updateParticipant(ctx, conversationID, userID, "is_archived = TRUE")
}

// LeaveConversation deactivates userID's membership.
func (pg *Postgres) LeaveConversation(ctx context.Context, conversationID, userID string) error {
	return pg.updateParticipant(ctx, conversationID, userID, "is_active = FALSE", "left_at = now()")
}

func (pg *Postgres) updateParticipant(ctx context.Context, conversationID, userID string, sets ...string) error {
	q := pg.bun.NewUpdate().
		Model((*participant)(nil)).
		Where("conversation_id = ?", conversationID).
		Where("user_id = ?", userID).
		Where("is_active")
	for _, s := range sets {
		q = q.Set(s)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotParticipant
	}
	return nil
}

// ListParticipants returns every participant row of the conversation.
func (pg *Postgres) ListParticipants(ctx context.Context, conversationID string) ([]core.Participant, error) {
	var parts []participant
	if err := pg.bun.NewSelect().
		Model(&parts).
		Where("conversation_id = ?", conversationID).
		Order("user_id").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]core.Participant, len(parts))
	for i, p := range parts {
		out[i] = p.CoreParticipant()
	}
	return out, nil
}
