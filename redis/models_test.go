package redis

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

func TestMessage_RoundTrip(t *testing.T) {
	created := time.Date(2026, 4, 3, 21, 15, 0, 123, time.UTC)
	read := created.Add(time.Minute)
	want := core.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "alice",
		Content:        "hi",
		Type:           core.MessageText,
		CreatedAt:      created,
		Reactions: []core.Reaction{
			{ID: "r1", MessageID: "m1", UserID: "bob", Emoji: "🔥", CreatedAt: read},
		},
		ReadBy: []core.ReadReceipt{
			{MessageID: "m1", UserID: "bob", ReadAt: read},
		},
	}

	m := newMessage(want)
	m.Reactions = []reaction{*newReaction(want.Reactions[0])}
	m.ReadBy = map[string]string{"bob": "1775250960000000123", "eve": "garbage"}
	got := m.CoreMessage()
	got.ReadBy[0].ReadAt = read

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CoreMessage() mismatch (-want +got):\n%s", diff)
	}
}

func TestKeys(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{pageKey("c1"), "messages:c1"},
		{messageKey("c1", "m1"), "messages:c1:m1"},
		{reactionsKey("c1", "m1"), "messages:c1:m1:reactions"},
		{readByKey("c1", "m1"), "messages:c1:m1:read_by"},
		{versionKey("c1"), "messages_version:c1"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}
