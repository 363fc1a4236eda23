package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

// ToggleEdge flips the edge in one transaction. The target row is locked,
// the edge inserted or deleted, and the target counter recounted from the
// edges, so concurrent toggles never drift the counter.
func (pg *Postgres) ToggleEdge(ctx context.Context, kind core.EdgeKind, actorID, targetID string) (core.ToggleResult, error) {
	if actorID == "" || targetID == "" {
		return core.ToggleResult{RPCResult: core.RPCResult{Error: "invalid edge"}}, nil
	}
	if kind != core.EdgeLike && actorID == targetID {
		return core.ToggleResult{RPCResult: core.RPCResult{Error: fmt.Sprintf("cannot %s yourself", kind)}}, nil
	}

	var out core.ToggleResult
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockTarget(ctx, tx, kind, actorID, targetID); err != nil {
			return err
		}

		e := &edge{Kind: string(kind), ActorID: actorID, TargetID: targetID}
		res, err := tx.NewDelete().Model(e).WherePK().Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete edge: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := tx.NewInsert().Model(e).Returning("NULL").Exec(ctx); err != nil {
				return fmt.Errorf("insert edge: %w", err)
			}
			out.Active = true
		}

		count, err := countEdges(ctx, tx, kind, targetID)
		if err != nil {
			return err
		}
		out.Count = count
		return updateCounters(ctx, tx, kind, actorID, targetID, count)
	})
	if msg, ok := rejection(err); ok {
		return core.ToggleResult{RPCResult: core.RPCResult{Error: msg}}, nil
	}
	if err != nil {
		return core.ToggleResult{}, err
	}
	out.Success = true
	return out, nil
}

// lockTarget takes the row lock that serializes toggles on one target.
func lockTarget(ctx context.Context, tx bun.Tx, kind core.EdgeKind, actorID, targetID string) error {
	switch kind {
	case core.EdgeLike:
		var p post
		err := tx.NewSelect().Model(&p).Column("id").Where("id = ?", targetID).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return errRejected("post not found")
		}
		if err != nil {
			return fmt.Errorf("lock post: %w", err)
		}
		return nil
	case core.EdgeFollow:
		for _, id := range []string{targetID, actorID} {
			if _, err := tx.NewInsert().
				Model(&profile{ID: id}).
				On("CONFLICT (id) DO NOTHING").
				Returning("NULL").
				Exec(ctx); err != nil {
				return fmt.Errorf("ensure profile: %w", err)
			}
		}
		var p profile
		if err := tx.NewSelect().Model(&p).Column("id").Where("id = ?", targetID).For("UPDATE").Scan(ctx); err != nil {
			return fmt.Errorf("lock profile: %w", err)
		}
		return nil
	default:
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", string(kind)+":"+targetID); err != nil {
			return fmt.Errorf("lock edge: %w", err)
		}
		return nil
	}
}

func countEdges(ctx context.Context, db bun.IDB, kind core.EdgeKind, targetID string) (int, error) {
	n, err := db.NewSelect().
		Model((*edge)(nil)).
		Where("kind = ?", string(kind)).
		Where("target_id = ?", targetID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count edges: %w", err)
	}
	return n, nil
}

// updateCounters writes the recounted counters of a toggle.
func updateCounters(ctx context.Context, tx bun.Tx, kind core.EdgeKind, actorID, targetID string, count int) error {
	switch kind {
	case core.EdgeLike:
		if _, err := tx.NewUpdate().
			Model((*post)(nil)).
			Set("likes_count = ?", count).
			Where("id = ?", targetID).
			Exec(ctx); err != nil {
			return fmt.Errorf("update post: %w", err)
		}
	case core.EdgeFollow:
		if _, err := tx.NewUpdate().
			Model((*profile)(nil)).
			Set("followers_count = ?", count).
			Where("id = ?", targetID).
			Exec(ctx); err != nil {
			return fmt.Errorf("update followers: %w", err)
		}
		following, err := tx.NewSelect().
			Model((*edge)(nil)).
			Where("kind = ?", string(kind)).
			Where("actor_id = ?", actorID).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("count following: %w", err)
		}
		if _, err := tx.NewUpdate().
			Model((*profile)(nil)).
			Set("following_count = ?", following).
			Where("id = ?", actorID).
			Exec(ctx); err != nil {
			return fmt.Errorf("update following: %w", err)
		}
	}
	return nil
}

// EdgeState returns whether the edge exists and the target's counter.
func (pg *Postgres) EdgeState(ctx context.Context, kind core.EdgeKind, actorID, targetID string) (core.EdgeState, error) {
	active, err := pg.EdgeExists(ctx, kind, actorID, targetID)
	if err != nil {
		return core.EdgeState{}, err
	}
	count, err := countEdges(ctx, pg.bun, kind, targetID)
	if err != nil {
		return core.EdgeState{}, err
	}
	return core.EdgeState{Active: active, Count: count}, nil
}

// EdgeExists reports whether the edge exists.
func (pg *Postgres) EdgeExists(ctx context.Context, kind core.EdgeKind, actorID, targetID string) (bool, error) {
	ok, err := pg.bun.NewSelect().
		Model((*edge)(nil)).
		Where("kind = ?", string(kind)).
		Where("actor_id = ?", actorID).
		Where("target_id = ?", targetID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("edge exists: %w", err)
	}
	return ok, nil
}

// PostOwner returns the author of a post.
func (pg *Postgres) PostOwner(ctx context.Context, postID string) (string, error) {
	var p post
	err := pg.bun.NewSelect().Model(&p).Column("user_id").Where("id = ?", postID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select post: %w", err)
	}
	return p.UserID, nil
}
