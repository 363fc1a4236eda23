package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

var _ core.DB = (*Postgres)(nil)

// Postgres provides storage in PostgreSQL. Every multi-statement write runs
// in one transaction.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and ping the DB to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

// Close closes the database.
func (pg *Postgres) Close() error {
	return pg.bun.Close()
}

var models = []any{
	(*conversation)(nil),
	(*participant)(nil),
	(*message)(nil),
	(*reaction)(nil),
	(*readReceipt)(nil),
	(*edge)(nil),
	(*post)(nil),
	(*profile)(nil),
	(*notification)(nil),
	(*pushToken)(nil),
}

var indexes = []struct {
	model   any
	name    string
	columns []string
}{
	{(*participant)(nil), "conversation_participants_user_idx", []string{"user_id", "is_active"}},
	{(*message)(nil), "messages_conversation_created_idx", []string{"conversation_id", "created_at", "id"}},
	{(*edge)(nil), "social_edges_target_idx", []string{"kind", "target_id"}},
	{(*notification)(nil), "notifications_recipient_created_idx", []string{"recipient_id", "created_at"}},
	{(*pushToken)(nil), "push_tokens_user_idx", []string{"user_id"}},
}

// Migrate creates the tables and indexes that do not exist yet.
func (pg *Postgres) Migrate(ctx context.Context) error {
	return pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, m := range models {
			if _, err := tx.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("create table: %w", err)
			}
		}
		for _, idx := range indexes {
			if _, err := tx.NewCreateIndex().
				Model(idx.model).
				Index(idx.name).
				Column(idx.columns...).
				IfNotExists().
				Exec(ctx); err != nil {
				return fmt.Errorf("create index %s: %w", idx.name, err)
			}
		}
		return nil
	})
}

// errRejected carries the message of a failed procedure out of its
// transaction. It becomes the Error of the result envelope.
type errRejected string

func (e errRejected) Error() string { return string(e) }

// rejection reports whether err is a procedure rejection and returns its
// message.
func rejection(err error) (string, bool) {
	var r errRejected
	if errors.As(err, &r) {
		return string(r), true
	}
	return "", false
}

// isActiveParticipant reports whether userID is an active participant.
func isActiveParticipant(ctx context.Context, db bun.IDB, conversationID, userID string) (bool, error) {
	ok, err := db.NewSelect().
		Model((*participant)(nil)).
		Where("conversation_id = ?", conversationID).
		Where("user_id = ?", userID).
		Where("is_active").
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("participant exists: %w", err)
	}
	return ok, nil
}

// isBlocked reports whether senderID and the other member of a direct
// conversation have a block edge in either direction. Group conversations
// are never blocked.
func isBlocked(ctx context.Context, db bun.IDB, conversationID, senderID string) (bool, error) {
	ok, err := blockQuery(db, conversationID, senderID).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("block exists: %w", err)
	}
	return ok, nil
}

func blockQuery(db bun.IDB, conversationID, senderID string) *bun.SelectQuery {
	others := db.NewSelect().
		Model((*participant)(nil)).
		Column("p.user_id").
		Join("JOIN conversations AS c ON c.id = p.conversation_id").
		Where("p.conversation_id = ?", conversationID).
		Where("p.user_id <> ?", senderID).
		Where("c.type = ?", string(core.ConversationDirect))
	return db.NewSelect().
		Model((*edge)(nil)).
		Where("e.kind = ?", string(core.EdgeBlock)).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				WhereOr("e.actor_id = ? AND e.target_id IN (?)", senderID, others).
				WhereOr("e.target_id = ? AND e.actor_id IN (?)", senderID, others)
		})
}
