package core

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bitethatthing2/no-creyeron-sub000/metrics"
)

const notificationPageSize = 50

// Notifications is the one notification dispatcher of a session. It writes
// in-app notifications, hands copies to the push channel, and keeps the
// session's notification list in sync.
type Notifications struct {
	s *session

	mu     sync.Mutex
	sub    Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// Create writes a notification for recipientID and attempts push delivery.
// It returns false without writing anything when the recipient is the
// actor. A failed push is logged, not reported.
func (n *Notifications) Create(ctx context.Context, recipientID string, p NotificationPayload) bool {
	p.RecipientID = recipientID
	rows := n.prepare([]NotificationPayload{p})
	if len(rows) == 0 {
		return false
	}
	created, err := n.s.DB.InsertNotification(ctx, rows[0])
	if err != nil {
		metrics.Notifications.WithLabelValues("in_app", "failed").Inc()
		n.s.log.Error("Could not create notification", "recipient_id", recipientID, "type", p.Type, "error", err.Error())
		return false
	}
	n.deliver(ctx, created)
	return true
}

// SendBulk writes many notifications in one statement, then publishes and
// pushes each. Self-notifications are dropped. It returns the number of
// notifications written.
func (n *Notifications) SendBulk(ctx context.Context, payloads []NotificationPayload) int {
	rows := n.prepare(payloads)
	if len(rows) == 0 {
		return 0
	}
	created, err := n.s.DB.InsertNotifications(ctx, rows)
	if err != nil {
		metrics.Notifications.WithLabelValues("in_app", "failed").Add(float64(len(rows)))
		n.s.log.Error("Could not create notifications", "count", len(rows), "error", err.Error())
		return 0
	}
	for _, row := range created {
		n.deliver(ctx, row)
	}
	return len(created)
}

// prepare turns payloads into rows, dropping invalid ones and those
// addressed to their own actor.
func (n *Notifications) prepare(payloads []NotificationPayload) []Notification {
	uid := n.s.userID()
	rows := make([]Notification, 0, len(payloads))
	for _, p := range payloads {
		if p.ActorID == "" {
			p.ActorID = uid
		}
		if p.RecipientID == p.ActorID {
			metrics.Notifications.WithLabelValues("in_app", "suppressed").Inc()
			continue
		}
		if err := n.s.Validator.Check(p); err != nil {
			n.s.log.Warn("Dropping invalid notification", "recipient_id", p.RecipientID, "error", err.Error())
			continue
		}
		if p.Priority == "" {
			p.Priority = PriorityNormal
		}
		rows = append(rows, Notification{
			RecipientID: p.RecipientID,
			ActorID:     p.ActorID,
			Type:        p.Type,
			Title:       p.Title,
			Body:        p.Body,
			EntityType:  p.EntityType,
			EntityID:    p.EntityID,
			ActionURL:   p.ActionURL,
			PushStatus:  PushPending,
			Priority:    p.Priority,
			ExpiresAt:   p.ExpiresAt,
			Metadata:    p.Metadata,
			CreatedAt:   time.Now().UTC(),
		})
	}
	return rows
}

// deliver announces a written notification on the recipient's realtime
// topic and pushes it to the recipient's devices.
func (n *Notifications) deliver(ctx context.Context, row Notification) {
	metrics.Notifications.WithLabelValues("in_app", "ok").Inc()
	n.s.publish(ctx, NotificationsTopic(row.RecipientID), "notifications", EventInsert, row.ID, row)

	status := n.push(ctx, row)
	if err := n.s.DB.SetPushStatus(ctx, row.ID, status); err != nil {
		n.s.log.Error("Could not record push status", "notification_id", row.ID, "error", err.Error())
	}
}

func (n *Notifications) push(ctx context.Context, row Notification) PushStatus {
	if n.s.Push == nil {
		metrics.Notifications.WithLabelValues("push", "skipped").Inc()
		return PushSkipped
	}
	tokens, err := n.s.DB.ListPushTokens(ctx, row.RecipientID)
	if err != nil {
		metrics.Notifications.WithLabelValues("push", "failed").Inc()
		n.s.log.Error("Could not list push tokens", "recipient_id", row.RecipientID, "error", err.Error())
		return PushFailed
	}
	if len(tokens) == 0 {
		metrics.Notifications.WithLabelValues("push", "skipped").Inc()
		return PushSkipped
	}
	msg := PushMessage{
		NotificationID: row.ID,
		RecipientID:    row.RecipientID,
		Title:          row.Title,
		Body:           row.Body,
		ActionURL:      row.ActionURL,
		Priority:       string(row.Priority),
		Data: map[string]string{
			"type":        string(row.Type),
			"entity_type": row.EntityType,
			"entity_id":   row.EntityID,
		},
	}
	for _, t := range tokens {
		msg.Tokens = append(msg.Tokens, t.Token)
	}
	if err := n.s.Push.Push(ctx, msg); err != nil {
		metrics.Notifications.WithLabelValues("push", "failed").Inc()
		n.s.log.Error("Could not push notification", "notification_id", row.ID, "error", err.Error())
		return PushFailed
	}
	metrics.Notifications.WithLabelValues("push", "ok").Inc()
	return PushSent
}

// Load fetches the user's recent notifications into the store, dropping
// archived and expired ones.
func (n *Notifications) Load(ctx context.Context) bool {
	uid := n.s.userID()
	if uid == "" {
		n.s.store.SetError(errNotAuthenticated)
		return false
	}
	list, err := n.s.DB.ListNotifications(ctx, uid, notificationPageSize)
	if err != nil {
		n.s.fail("Failed to load notifications", err)
		return false
	}
	now := time.Now()
	out := list[:0]
	for _, row := range list {
		if row.Archived || (row.ExpiresAt != nil && row.ExpiresAt.Before(now)) {
			continue
		}
		out = append(out, row)
	}
	n.s.store.SetNotifications(out)
	return true
}

// MarkAsRead marks one notification read.
func (n *Notifications) MarkAsRead(ctx context.Context, id string) bool {
	uid := n.s.userID()
	if uid == "" {
		n.s.store.SetError(errNotAuthenticated)
		return false
	}
	res, err := n.s.DB.MarkNotificationRead(ctx, id, uid)
	if err != nil {
		n.s.fail("Failed to mark notification as read", err, "notification_id", id)
		return false
	}
	if !res.Success {
		n.s.store.SetError("Failed to mark notification as read")
		n.s.log.Error("Mark notification read rejected", "notification_id", id, "error", res.Error)
		return false
	}
	n.s.publish(ctx, NotificationsTopic(uid), "notifications", EventUpdate, id, nil)
	n.Load(ctx)
	return true
}

// MarkAllAsRead marks every notification of the user read.
func (n *Notifications) MarkAllAsRead(ctx context.Context) bool {
	uid := n.s.userID()
	if uid == "" {
		n.s.store.SetError(errNotAuthenticated)
		return false
	}
	count, err := n.s.DB.MarkAllNotificationsRead(ctx, uid)
	if err != nil {
		n.s.fail("Failed to mark notifications as read", err)
		return false
	}
	n.s.log.Info("Marked notifications read", "count", count)
	if count > 0 {
		n.s.publish(ctx, NotificationsTopic(uid), "notifications", EventUpdate, "", nil)
	}
	n.Load(ctx)
	return true
}

// Archive hides a notification from the list.
func (n *Notifications) Archive(ctx context.Context, id string) bool {
	uid := n.s.userID()
	if uid == "" {
		n.s.store.SetError(errNotAuthenticated)
		return false
	}
	if err := n.s.DB.ArchiveNotification(ctx, id, uid); err != nil {
		n.s.fail("Failed to archive notification", err, "notification_id", id)
		return false
	}
	// Archived rows leave the list.
	n.s.publish(ctx, NotificationsTopic(uid), "notifications", EventDelete, id, nil)
	n.Load(ctx)
	return true
}

// RequestPermission asks for permission to show system banners.
func (n *Notifications) RequestPermission(ctx context.Context) Permission {
	if n.s.alerter == nil {
		return PermissionDenied
	}
	return n.s.alerter.RequestPermission(ctx)
}

// RegisterPushToken registers a device for push delivery to the user.
func (n *Notifications) RegisterPushToken(ctx context.Context, token, platform string) bool {
	uid := n.s.userID()
	if uid == "" {
		n.s.store.SetError(errNotAuthenticated)
		return false
	}
	in := struct {
		Token    string `validate:"notblank,max=4096"`
		Platform string `validate:"oneof=web ios android"`
	}{token, platform}
	if err := n.s.Validator.Check(in); err != nil {
		n.s.store.SetError("Invalid push token: " + err.Error())
		return false
	}
	res, err := n.s.DB.UpsertPushToken(ctx, PushToken{Token: token, UserID: uid, Platform: platform, UpdatedAt: time.Now().UTC()})
	if err != nil {
		n.s.fail("Failed to register push token", err)
		return false
	}
	if !res.Success {
		n.s.store.SetError("Failed to register push token")
		n.s.log.Error("Push token registration rejected", "error", res.Error)
		return false
	}
	return true
}

// Subscribe opens the user's notification channel. Every change reloads the
// list; inserts also raise a system banner when permission is granted. A
// previous subscription is replaced.
func (n *Notifications) Subscribe(ctx context.Context) error {
	uid := n.s.userID()
	if uid == "" {
		return ErrNoSession
	}
	if n.s.PubSub == nil {
		return ErrNoRealtime
	}

	sub, err := n.s.PubSub.Subscribe(ctx, NotificationsTopic(uid))
	if err != nil {
		return err
	}
	metrics.Subscriptions.Inc()
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	// Concurrent calls each close the subscription they replace.
	n.mu.Lock()
	old := n.detachLocked()
	n.sub, n.cancel, n.done = sub, cancel, done
	n.mu.Unlock()
	n.stop(old)

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case b, ok := <-sub.Payloads():
				if !ok {
					return
				}
				n.handle(ctx, b)
			}
		}
	}()
	return nil
}

func (n *Notifications) handle(ctx context.Context, b []byte) {
	var ev ChangeEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		n.s.log.Warn("Ignoring malformed notification event", "error", err.Error())
		return
	}
	n.Load(ctx)
	if ev.Type != EventInsert || n.s.alerter == nil || n.s.alerter.Permission() != PermissionGranted {
		return
	}
	var row Notification
	if err := json.Unmarshal(ev.Record, &row); err != nil {
		n.s.log.Warn("Ignoring notification event without record", "notification_id", ev.ID)
		return
	}
	if err := n.s.alerter.Alert(ctx, row); err != nil {
		n.s.log.Error("Could not show notification banner", "notification_id", row.ID, "error", err.Error())
	}
}

// Unsubscribe closes the notification channel, if open.
func (n *Notifications) Unsubscribe() {
	n.mu.Lock()
	old := n.detachLocked()
	n.mu.Unlock()
	n.stop(old)
}

type notificationSub struct {
	sub    Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

func (n *Notifications) detachLocked() notificationSub {
	old := notificationSub{n.sub, n.cancel, n.done}
	n.sub, n.cancel, n.done = nil, nil, nil
	return old
}

func (n *Notifications) stop(old notificationSub) {
	if old.sub == nil {
		return
	}
	old.cancel()
	if err := old.sub.Close(); err != nil {
		n.s.log.Error("Could not close notification subscription", "error", err.Error())
	}
	<-old.done
	metrics.Subscriptions.Dec()
}
