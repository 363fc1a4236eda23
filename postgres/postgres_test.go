package postgres

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

func TestDirectKey(t *testing.T) {
	if a, b := directKey("u2", "u1"), directKey("u1", "u2"); a != b || a != "u1:u2" {
		t.Errorf("directKey() = %q and %q, want both %q", a, b, "u1:u2")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"¡olé!", 3, "¡ol"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestRejection(t *testing.T) {
	msg, ok := rejection(fmt.Errorf("toggle: %w", errRejected("post not found")))
	if !ok || msg != "post not found" {
		t.Errorf("rejection() = %q, %v", msg, ok)
	}
	if _, ok := rejection(fmt.Errorf("boom")); ok {
		t.Error("rejection() of a plain error = true")
	}
}

func TestMessage_CoreMessage(t *testing.T) {
	created := time.Date(2026, 2, 14, 19, 0, 0, 0, time.UTC)
	m := message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "alice",
		Content:        "happy hour?",
		MessageType:    "text",
		CreatedAt:      created,
		Reactions:      []reaction{{ID: "r1", MessageID: "m1", UserID: "bob", Reaction: "🍻", CreatedAt: created}},
		ReadBy:         []readReceipt{{MessageID: "m1", UserID: "bob", ReadAt: created}},
	}
	want := core.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "alice",
		Content:        "happy hour?",
		Type:           core.MessageText,
		CreatedAt:      created,
		Reactions:      []core.Reaction{{ID: "r1", MessageID: "m1", UserID: "bob", Emoji: "🍻", CreatedAt: created}},
		ReadBy:         []core.ReadReceipt{{MessageID: "m1", UserID: "bob", ReadAt: created}},
	}
	if diff := cmp.Diff(want, m.CoreMessage()); diff != "" {
		t.Errorf("CoreMessage() mismatch (-want +got):\n%s", diff)
	}
}

func TestNotification_RoundTrip(t *testing.T) {
	want := core.Notification{
		ID:          "n1",
		RecipientID: "bob",
		ActorID:     "alice",
		Type:        core.NotificationFollow,
		Title:       "New follower",
		PushStatus:  core.PushPending,
		Priority:    core.PriorityNormal,
		CreatedAt:   time.Date(2026, 2, 14, 19, 0, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, newNotification(want).CoreNotification()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

// offlineDB renders queries without connecting.
func offlineDB(t *testing.T) *bun.DB {
	t.Helper()
	db := bun.NewDB(sql.OpenDB(pgdriver.NewConnector()), pgdialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMessagesQuery(t *testing.T) {
	db := offlineDB(t)

	tests := []struct {
		name   string
		before string
		want   []string
		absent []string
	}{
		{
			name:   "Newest",
			want:   []string{"m.conversation_id = 'c1'", "ORDER BY m.created_at DESC, m.id DESC", "LIMIT 2"},
			absent: []string{"(m.created_at, m.id) <"},
		},
		{
			name:   "Before",
			before: "m9",
			want: []string{
				"ORDER BY m.created_at DESC, m.id DESC",
				"(m.created_at, m.id) < (SELECT created_at, id FROM",
				"id = 'm9'",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msgs []message
			got := messagesQuery(db, &msgs, "c1", 2, tt.before).String()
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("query %q does not contain %q", got, w)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(got, a) {
					t.Errorf("query %q contains %q", got, a)
				}
			}
		})
	}
}

func TestBlockQuery(t *testing.T) {
	got := blockQuery(offlineDB(t), "c1", "alice").String()
	for _, w := range []string{
		"e.kind = 'block'",
		"e.actor_id = 'alice' AND e.target_id IN (SELECT",
		"e.target_id = 'alice' AND e.actor_id IN (SELECT",
		"c.type = 'direct'",
		"p.user_id <> 'alice'",
	} {
		if !strings.Contains(got, w) {
			t.Errorf("query %q does not contain %q", got, w)
		}
	}
}
