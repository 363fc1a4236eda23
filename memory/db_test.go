package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

func TestDirectKey(t *testing.T) {
	tests := []struct {
		a, b string
		want string
	}{
		{"alice", "bob", "alice:bob"},
		{"bob", "alice", "alice:bob"},
		{"x", "x", "x:x"},
	}
	for _, tt := range tests {
		if got := DirectKey(tt.a, tt.b); got != tt.want {
			t.Errorf("DirectKey(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestDB_GetOrCreateDirectConversation(t *testing.T) {
	ctx := context.Background()
	db := New()

	const n = 20
	ids := make([]string, n)
	created := make([]bool, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			res, err := db.GetOrCreateDirectConversation(ctx, a, b)
			if err != nil || !res.Success {
				t.Errorf("GetOrCreateDirectConversation() = %+v, %v", res, err)
				return
			}
			ids[i], created[i] = res.ConversationID, res.Created
		}()
	}
	wg.Wait()

	nCreated := 0
	for i := range n {
		if ids[i] != ids[0] {
			t.Fatalf("got conversation ids %q and %q for the same pair", ids[0], ids[i])
		}
		if created[i] {
			nCreated++
		}
	}
	if nCreated != 1 {
		t.Errorf("created = %d times, want 1", nCreated)
	}

	res, err := db.GetOrCreateDirectConversation(ctx, "alice", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("self conversation succeeded, want failure envelope")
	}
}

func TestDB_ListMessages(t *testing.T) {
	ctx := context.Background()
	db := New()
	res, _ := db.GetOrCreateDirectConversation(ctx, "alice", "bob")
	conv := res.ConversationID

	var sent []string
	for _, c := range []string{"one", "two", "three", "four"} {
		m, err := db.InsertMessage(ctx, core.Message{ConversationID: conv, SenderID: "alice", Content: c})
		if err != nil {
			t.Fatal(err)
		}
		sent = append(sent, m.ID)
	}

	contents := func(ms []core.Message) []string {
		var out []string
		for _, m := range ms {
			out = append(out, m.Content)
		}
		return out
	}

	got, err := db.ListMessages(ctx, conv, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"four", "three"}, contents(got)); diff != "" {
		t.Errorf("first page mismatch (-want +got):\n%s", diff)
	}

	got, err = db.ListMessages(ctx, conv, 10, sent[2])
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"two", "one"}, contents(got)); diff != "" {
		t.Errorf("older page mismatch (-want +got):\n%s", diff)
	}

	if _, err := db.InsertMessage(ctx, core.Message{ConversationID: conv, SenderID: "mallory", Content: "hi"}); err != core.ErrNotParticipant {
		t.Errorf("InsertMessage() by outsider error = %v, want %v", err, core.ErrNotParticipant)
	}
}

func TestDB_MarkConversationRead(t *testing.T) {
	ctx := context.Background()
	db := New()
	res, _ := db.GetOrCreateDirectConversation(ctx, "alice", "bob")
	conv := res.ConversationID

	later := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)
	if err := db.MarkConversationRead(ctx, conv, "alice", later); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkConversationRead(ctx, conv, "alice", earlier); err != nil {
		t.Fatal(err)
	}
	p, _ := db.Participant(conv, "alice")
	if p.LastReadAt == nil || !p.LastReadAt.Equal(later) {
		t.Errorf("LastReadAt = %v, want %v", p.LastReadAt, later)
	}
}

func TestDB_ToggleEdge(t *testing.T) {
	ctx := context.Background()
	db := New()
	db.AddPost("p1", "carol")

	steps := []struct {
		actor string
		want  core.ToggleResult
	}{
		{"alice", core.ToggleResult{RPCResult: core.RPCResult{Success: true}, Active: true, Count: 1}},
		{"bob", core.ToggleResult{RPCResult: core.RPCResult{Success: true}, Active: true, Count: 2}},
		{"alice", core.ToggleResult{RPCResult: core.RPCResult{Success: true}, Active: false, Count: 1}},
	}
	for i, s := range steps {
		got, err := db.ToggleEdge(ctx, core.EdgeLike, s.actor, "p1")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(s.want, got); diff != "" {
			t.Errorf("step %d mismatch (-want +got):\n%s", i, diff)
		}
	}

	got, err := db.ToggleEdge(ctx, core.EdgeLike, "alice", "missing")
	if err != nil {
		t.Fatal(err)
	}
	if got.Success {
		t.Error("like on missing post succeeded")
	}
	got, _ = db.ToggleEdge(ctx, core.EdgeFollow, "alice", "alice")
	if got.Success {
		t.Error("self follow succeeded")
	}
}

func TestPubSub(t *testing.T) {
	ctx := context.Background()
	ps := NewPubSub()
	sub, err := ps.Subscribe(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}
	if err := ps.Publish(ctx, "t", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if got := string(<-sub.Payloads()); got != "hello" {
		t.Errorf("payload = %q, want %q", got, "hello")
	}
	if got := ps.Open("t"); got != 1 {
		t.Errorf("Open() = %d, want 1", got)
	}
	_ = sub.Close()
	_ = sub.Close()
	if got := ps.OpenTotal(); got != 0 {
		t.Errorf("OpenTotal() after close = %d, want 0", got)
	}
	if _, ok := <-sub.Payloads(); ok {
		t.Error("payload channel still open after Close")
	}
}
