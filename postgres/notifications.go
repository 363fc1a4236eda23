package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

// InsertNotification inserts one notification.
func (pg *Postgres) InsertNotification(ctx context.Context, n core.Notification) (core.Notification, error) {
	out, err := pg.InsertNotifications(ctx, []core.Notification{n})
	if err != nil {
		return core.Notification{}, err
	}
	return out[0], nil
}

// InsertNotifications inserts a batch of notifications in one statement.
func (pg *Postgres) InsertNotifications(ctx context.Context, ns []core.Notification) ([]core.Notification, error) {
	rows := make([]notification, len(ns))
	now := time.Now().UTC()
	for i, n := range ns {
		rows[i] = newNotification(n)
		rows[i].ID = uuid.NewString()
		if rows[i].CreatedAt.IsZero() {
			rows[i].CreatedAt = now
		}
		if rows[i].PushStatus == "" {
			rows[i].PushStatus = string(core.PushPending)
		}
	}
	if _, err := pg.bun.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}
	out := make([]core.Notification, len(rows))
	for i, r := range rows {
		out[i] = r.CoreNotification()
	}
	return out, nil
}

// ListNotifications returns the newest notifications of a recipient.
func (pg *Postgres) ListNotifications(ctx context.Context, recipientID string, limit int) ([]core.Notification, error) {
	var rows []notification
	if err := pg.bun.NewSelect().
		Model(&rows).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]core.Notification, len(rows))
	for i, r := range rows {
		out[i] = r.CoreNotification()
	}
	return out, nil
}

// MarkNotificationRead marks one of the recipient's notifications read.
func (pg *Postgres) MarkNotificationRead(ctx context.Context, id, recipientID string) (core.RPCResult, error) {
	res, err := pg.bun.NewUpdate().
		Model((*notification)(nil)).
		Set("is_read = TRUE").
		Set("read_at = COALESCE(read_at, now())").
		Where("id = ?", id).
		Where("recipient_id = ?", recipientID).
		Exec(ctx)
	if err != nil {
		return core.RPCResult{}, fmt.Errorf("update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.RPCResult{Error: "notification not found"}, nil
	}
	return core.RPCResult{Success: true}, nil
}

// MarkAllNotificationsRead marks every unread notification read and returns
// how many changed.
func (pg *Postgres) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int, error) {
	res, err := pg.bun.NewUpdate().
		Model((*notification)(nil)).
		Set("is_read = TRUE").
		Set("read_at = now()").
		Where("recipient_id = ?", recipientID).
		Where("NOT is_read").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("update: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ArchiveNotification archives one of the recipient's notifications.
func (pg *Postgres) ArchiveNotification(ctx context.Context, id, recipientID string) error {
	res, err := pg.bun.NewUpdate().
		Model((*notification)(nil)).
		Set("is_archived = TRUE").
		Set("archived_at = COALESCE(archived_at, now())").
		Where("id = ?", id).
		Where("recipient_id = ?", recipientID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// SetPushStatus records the outcome of push delivery.
func (pg *Postgres) SetPushStatus(ctx context.Context, id string, status core.PushStatus) error {
	if _, err := pg.bun.NewUpdate().
		Model((*notification)(nil)).
		Set("push_status = ?", string(status)).
		Where("id = ?", id).
		Exec(ctx); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return nil
}

// UpsertPushToken registers a device token, moving it to the new user if it
// was registered to someone else.
func (pg *Postgres) UpsertPushToken(ctx context.Context, t core.PushToken) (core.RPCResult, error) {
	if t.Token == "" || t.UserID == "" {
		return core.RPCResult{Error: "invalid token"}, nil
	}
	if _, err := pg.bun.NewInsert().
		Model(&pushToken{Token: t.Token, UserID: t.UserID, Platform: t.Platform, UpdatedAt: t.UpdatedAt}).
		On("CONFLICT (token) DO UPDATE").
		Set("user_id = EXCLUDED.user_id").
		Set("platform = EXCLUDED.platform").
		Set("updated_at = now()").
		Returning("NULL").
		Exec(ctx); err != nil {
		return core.RPCResult{}, fmt.Errorf("insert: %w", err)
	}
	return core.RPCResult{Success: true}, nil
}

// ListPushTokens returns the devices registered to a user.
func (pg *Postgres) ListPushTokens(ctx context.Context, userID string) ([]core.PushToken, error) {
	var rows []pushToken
	if err := pg.bun.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Order("token").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]core.PushToken, len(rows))
	for i, r := range rows {
		out[i] = core.PushToken{Token: r.Token, UserID: r.UserID, Platform: r.Platform, UpdatedAt: r.UpdatedAt}
	}
	return out, nil
}
