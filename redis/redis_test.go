package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

// connectTest connects to the server named by WOLFPACK_TEST_REDIS_ADDR and
// skips the test when it is unset.
func connectTest(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("WOLFPACK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WOLFPACK_TEST_REDIS_ADDR is not set")
	}
	r, err := Connect(context.Background(), addr, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRedis_StoreMessagesVersion(t *testing.T) {
	ctx := context.Background()
	r := connectTest(t)
	conv := uuid.NewString()
	t.Cleanup(func() {
		_ = r.Invalidate(ctx, conv)
		_ = r.cli.Del(ctx, versionKey(conv)).Err()
	})

	stale, err := r.Version(ctx, conv)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Invalidate(ctx, conv); err != nil {
		t.Fatal(err)
	}
	if err := r.StoreMessages(ctx, conv, stale, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := r.ListMessages(ctx, conv); err != nil || ok {
		t.Fatalf("ListMessages() after a stale store = %v, %v, want a miss", ok, err)
	}

	current, err := r.Version(ctx, conv)
	if err != nil {
		t.Fatal(err)
	}
	if current != stale+1 {
		t.Errorf("Version() = %d, want %d", current, stale+1)
	}
	msg := core.Message{
		ID:             "m1",
		ConversationID: conv,
		SenderID:       "alice",
		Content:        "hi",
		Type:           core.MessageText,
		CreatedAt:      time.Date(2026, 3, 6, 22, 0, 0, 0, time.UTC),
	}
	if err := r.StoreMessages(ctx, conv, current, []core.Message{msg}); err != nil {
		t.Fatal(err)
	}
	got, ok, err := r.ListMessages(ctx, conv)
	if err != nil || !ok {
		t.Fatalf("ListMessages() = %v, %v, want a hit", ok, err)
	}
	if len(got) != 1 || got[0].Content != "hi" {
		t.Errorf("ListMessages() = %+v", got)
	}
}
