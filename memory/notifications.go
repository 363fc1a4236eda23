package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

func (db *DB) insertNotificationLocked(n core.Notification) core.Notification {
	n.ID = uuid.NewString()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = db.now()
	}
	if n.PushStatus == "" {
		n.PushStatus = core.PushPending
	}
	row := n
	db.notifications = append(db.notifications, &row)
	return n
}

// InsertNotification stores one notification.
func (db *DB) InsertNotification(_ context.Context, n core.Notification) (core.Notification, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.insertNotificationLocked(n), nil
}

// InsertNotifications stores a batch of notifications.
func (db *DB) InsertNotifications(_ context.Context, ns []core.Notification) ([]core.Notification, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]core.Notification, 0, len(ns))
	for _, n := range ns {
		out = append(out, db.insertNotificationLocked(n))
	}
	return out, nil
}

// ListNotifications returns the newest notifications of a recipient.
func (db *DB) ListNotifications(_ context.Context, recipientID string, limit int) ([]core.Notification, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []core.Notification
	for i := len(db.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if n := db.notifications[i]; n.RecipientID == recipientID {
			out = append(out, *n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (db *DB) notificationLocked(id, recipientID string) *core.Notification {
	for _, n := range db.notifications {
		if n.ID == id && n.RecipientID == recipientID {
			return n
		}
	}
	return nil
}

// MarkNotificationRead marks one of the recipient's notifications read.
func (db *DB) MarkNotificationRead(_ context.Context, id, recipientID string) (core.RPCResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := db.notificationLocked(id, recipientID)
	if n == nil {
		return core.RPCResult{Error: "notification not found"}, nil
	}
	if !n.Read {
		now := db.now()
		n.Read = true
		n.ReadAt = &now
	}
	return core.RPCResult{Success: true}, nil
}

// MarkAllNotificationsRead marks every unread notification read and returns
// how many changed.
func (db *DB) MarkAllNotificationsRead(_ context.Context, recipientID string) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	now := db.now()
	count := 0
	for _, n := range db.notifications {
		if n.RecipientID == recipientID && !n.Read {
			n.Read = true
			n.ReadAt = &now
			count++
		}
	}
	return count, nil
}

// ArchiveNotification archives one of the recipient's notifications.
func (db *DB) ArchiveNotification(_ context.Context, id, recipientID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := db.notificationLocked(id, recipientID)
	if n == nil {
		return core.ErrNotFound
	}
	now := db.now()
	n.Archived = true
	n.ArchivedAt = &now
	return nil
}

// SetPushStatus records the outcome of push delivery.
func (db *DB) SetPushStatus(_ context.Context, id string, status core.PushStatus) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, n := range db.notifications {
		if n.ID == id {
			n.PushStatus = status
			return nil
		}
	}
	return core.ErrNotFound
}

// UpsertPushToken registers a device token, moving it to userID if it was
// registered to someone else.
func (db *DB) UpsertPushToken(_ context.Context, t core.PushToken) (core.RPCResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if t.Token == "" || t.UserID == "" {
		return core.RPCResult{Error: "invalid token"}, nil
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = db.now()
	}
	db.tokens[t.Token] = t
	return core.RPCResult{Success: true}, nil
}

// ListPushTokens returns the devices registered to a user.
func (db *DB) ListPushTokens(_ context.Context, userID string) ([]core.PushToken, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []core.PushToken
	for _, t := range db.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}
