package core

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
)

type testpubsub struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (ps *testpubsub) Publish(_ context.Context, topic string, payload []byte) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.published == nil {
		ps.published = make(map[string][][]byte)
	}
	ps.published[topic] = append(ps.published[topic], payload)
	return nil
}

func (ps *testpubsub) Subscribe(context.Context, string) (Subscription, error) {
	return &testsub{ch: make(chan []byte)}, nil
}

func (ps *testpubsub) count(topic string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.published[topic])
}

type testsub struct {
	ch   chan []byte
	once sync.Once
}

func (s *testsub) Payloads() <-chan []byte { return s.ch }

func (s *testsub) Close() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}

func newTypingClient(t *testing.T, ttl time.Duration, ps PubSub) *Client {
	t.Helper()
	return NewClient(Backend{DB: testdb{}, PubSub: ps, Logger: slogt.New(t), TypingTTL: ttl}, StaticAuth("alice"))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func userIDs(users []TypingUser) []string {
	var out []string
	for _, u := range users {
		out = append(out, u.UserID)
	}
	return out
}

func TestTyping_Expiry(t *testing.T) {
	c := newTypingClient(t, 50*time.Millisecond, nil)
	ty := c.Typing("conv-1")
	defer ty.Close()

	ty.handle(TypingEvent{ConversationID: "conv-1", UserID: "bob", UserName: "Bob", IsTyping: true})
	if diff := cmp.Diff([]string{"bob"}, userIDs(ty.Users())); diff != "" {
		t.Fatalf("typing set mismatch (-want +got):\n%s", diff)
	}
	if !waitFor(t, time.Second, func() bool { return len(ty.Users()) == 0 }) {
		t.Error("typing user did not expire")
	}
}

func TestTyping_RearmKeepsUser(t *testing.T) {
	c := newTypingClient(t, 80*time.Millisecond, nil)
	ty := c.Typing("conv-1")
	defer ty.Close()

	ev := TypingEvent{ConversationID: "conv-1", UserID: "bob", IsTyping: true}
	ty.handle(ev)
	time.Sleep(50 * time.Millisecond)
	ty.handle(ev)
	time.Sleep(50 * time.Millisecond)
	if got := len(ty.Users()); got != 1 {
		t.Errorf("len(Users()) after re-arm = %d, want 1", got)
	}
	if !waitFor(t, time.Second, func() bool { return len(ty.Users()) == 0 }) {
		t.Error("typing user did not expire after the last event")
	}
}

func TestTyping_Handle(t *testing.T) {
	tests := []struct {
		name        string
		events      []TypingEvent
		want        []string
		wantChanges int
	}{
		{
			name: "stop removes immediately",
			events: []TypingEvent{
				{ConversationID: "conv-1", UserID: "bob", IsTyping: true},
				{ConversationID: "conv-1", UserID: "bob", IsTyping: false},
			},
			wantChanges: 2,
		},
		{
			name: "own events are ignored",
			events: []TypingEvent{
				{ConversationID: "conv-1", UserID: "alice", IsTyping: true},
			},
		},
		{
			name: "other conversations are ignored",
			events: []TypingEvent{
				{ConversationID: "conv-2", UserID: "bob", IsTyping: true},
			},
		},
		{
			name: "users are ordered",
			events: []TypingEvent{
				{ConversationID: "conv-1", UserID: "dave", IsTyping: true},
				{ConversationID: "conv-1", UserID: "bob", IsTyping: true},
				{ConversationID: "conv-1", UserID: "carol", IsTyping: true},
				{ConversationID: "conv-1", UserID: "carol", IsTyping: false},
			},
			want:        []string{"bob", "dave"},
			wantChanges: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTypingClient(t, time.Minute, nil)
			ty := c.Typing("conv-1")
			defer ty.Close()
			var changes int
			ty.OnChange = func([]TypingUser) { changes++ }
			for _, ev := range tt.events {
				ty.handle(ev)
			}
			if diff := cmp.Diff(tt.want, userIDs(ty.Users())); diff != "" {
				t.Errorf("typing set mismatch (-want +got):\n%s", diff)
			}
			if changes != tt.wantChanges {
				t.Errorf("OnChange calls = %d, want %d", changes, tt.wantChanges)
			}
		})
	}
}

func TestTyping_Close(t *testing.T) {
	ps := &testpubsub{}
	c := newTypingClient(t, time.Minute, ps)
	ty := c.Typing("conv-1")
	if err := ty.Join(context.Background()); err != nil {
		t.Fatal(err)
	}
	ty.handle(TypingEvent{ConversationID: "conv-1", UserID: "bob", IsTyping: true})
	c.Close()
	if got := len(ty.Users()); got != 0 {
		t.Errorf("len(Users()) after Close = %d, want 0", got)
	}
	ty.handle(TypingEvent{ConversationID: "conv-1", UserID: "bob", IsTyping: true})
	if got := len(ty.Users()); got != 0 {
		t.Errorf("closed broadcaster accepted an event")
	}
	if c.Typing("conv-1") == ty {
		t.Error("Typing() returned the closed broadcaster")
	}
}

func TestTyping_Send(t *testing.T) {
	ps := &testpubsub{}
	c := newTypingClient(t, time.Minute, ps)
	ty := c.Typing("conv-1")
	ctx := context.Background()

	for range 3 {
		if !ty.Send(ctx, "Alice", true) {
			t.Fatal("Send(true) = false")
		}
	}
	if got := ps.count(TypingTopic("conv-1")); got != 1 {
		t.Errorf("published started signals = %d, want 1", got)
	}
	if !ty.Send(ctx, "Alice", false) {
		t.Fatal("Send(false) = false")
	}
	if got := ps.count(TypingTopic("conv-1")); got != 2 {
		t.Fatalf("published signals = %d, want 2", got)
	}

	var ev TypingEvent
	if err := json.Unmarshal(ps.published[TypingTopic("conv-1")][1], &ev); err != nil {
		t.Fatal(err)
	}
	want := TypingEvent{ConversationID: "conv-1", UserID: "alice", UserName: "Alice", IsTyping: false}
	if diff := cmp.Diff(want, ev, cmpIgnoreAt); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}

	if newTypingClient(t, time.Minute, nil).Typing("conv-1").Send(ctx, "Alice", true) {
		t.Error("Send() without realtime = true")
	}
}

var cmpIgnoreAt = cmp.Comparer(func(a, b time.Time) bool { return true })
