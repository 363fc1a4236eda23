package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
)

// testdb is a DB whose methods are replaced per test. Calling a method that
// is not set panics through the nil embedded interface.
type testdb struct {
	DB

	toggleEdge         func(kind EdgeKind, actorID, targetID string) (ToggleResult, error)
	edgeState          func(kind EdgeKind, actorID, targetID string) (EdgeState, error)
	edgeExists         func(kind EdgeKind, actorID, targetID string) (bool, error)
	postOwner          func(postID string) (string, error)
	insertNotification func(n Notification) (Notification, error)
	setPushStatus      func(id string, status PushStatus) error
}

func (db testdb) ToggleEdge(_ context.Context, kind EdgeKind, actorID, targetID string) (ToggleResult, error) {
	return db.toggleEdge(kind, actorID, targetID)
}

func (db testdb) EdgeState(_ context.Context, kind EdgeKind, actorID, targetID string) (EdgeState, error) {
	return db.edgeState(kind, actorID, targetID)
}

func (db testdb) EdgeExists(_ context.Context, kind EdgeKind, actorID, targetID string) (bool, error) {
	return db.edgeExists(kind, actorID, targetID)
}

func (db testdb) PostOwner(_ context.Context, postID string) (string, error) {
	return db.postOwner(postID)
}

func (db testdb) InsertNotification(_ context.Context, n Notification) (Notification, error) {
	return db.insertNotification(n)
}

func (db testdb) SetPushStatus(_ context.Context, id string, status PushStatus) error {
	return db.setPushStatus(id, status)
}

func newTestClient(t *testing.T, db DB, userID string) *Client {
	t.Helper()
	return NewClient(Backend{DB: db, Logger: slogt.New(t)}, StaticAuth(userID))
}

func stateOf(active bool, count int) func(EdgeKind, string, string) (EdgeState, error) {
	return func(EdgeKind, string, string) (EdgeState, error) {
		return EdgeState{Active: active, Count: count}, nil
	}
}

func TestToggle_Toggle(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name       string
		initial    EdgeState
		toggleEdge func(EdgeKind, string, string) (ToggleResult, error)
		wantOK     bool
		wantState  EdgeState
		wantErr    string
	}{
		{
			name:    "like commits server state",
			initial: EdgeState{Active: false, Count: 10},
			toggleEdge: func(EdgeKind, string, string) (ToggleResult, error) {
				return ToggleResult{RPCResult: RPCResult{Success: true}, Active: true, Count: 12}, nil
			},
			wantOK:    true,
			wantState: EdgeState{Active: true, Count: 12},
		},
		{
			name:    "unlike commits",
			initial: EdgeState{Active: true, Count: 3},
			toggleEdge: func(EdgeKind, string, string) (ToggleResult, error) {
				return ToggleResult{RPCResult: RPCResult{Success: true}, Active: false, Count: 2}, nil
			},
			wantOK:    true,
			wantState: EdgeState{Active: false, Count: 2},
		},
		{
			name:    "transport error rolls back",
			initial: EdgeState{Active: false, Count: 10},
			toggleEdge: func(EdgeKind, string, string) (ToggleResult, error) {
				return ToggleResult{}, errBoom
			},
			wantState: EdgeState{Active: false, Count: 10},
			wantErr:   "Failed to update like",
		},
		{
			name:    "failure envelope rolls back",
			initial: EdgeState{Active: true, Count: 1},
			toggleEdge: func(EdgeKind, string, string) (ToggleResult, error) {
				return ToggleResult{RPCResult: RPCResult{Error: "post not found"}}, nil
			},
			wantState: EdgeState{Active: true, Count: 1},
			wantErr:   "Failed to update like",
		},
		{
			name:    "negative server count is clamped",
			initial: EdgeState{Active: true, Count: 0},
			toggleEdge: func(EdgeKind, string, string) (ToggleResult, error) {
				return ToggleResult{RPCResult: RPCResult{Success: true}, Active: false, Count: -1}, nil
			},
			wantOK:    true,
			wantState: EdgeState{Active: false, Count: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testdb{
				edgeState:  stateOf(tt.initial.Active, tt.initial.Count),
				toggleEdge: tt.toggleEdge,
				postOwner:  func(string) (string, error) { return "", nil },
			}
			c := newTestClient(t, db, "alice")
			tg, ok := c.Likes.Get(context.Background(), "post-1")
			if !ok {
				t.Fatal("Get() failed")
			}

			if got := tg.Toggle(context.Background()); got != tt.wantOK {
				t.Errorf("Toggle() = %v, want %v", got, tt.wantOK)
			}
			if diff := cmp.Diff(tt.wantState, tg.State()); diff != "" {
				t.Errorf("state mismatch (-want +got):\n%s", diff)
			}
			if got := tg.Err(); got != tt.wantErr {
				t.Errorf("Err() = %q, want %q", got, tt.wantErr)
			}
			if tt.wantErr != "" && c.Store.Err() != tt.wantErr {
				t.Errorf("Store.Err() = %q, want %q", c.Store.Err(), tt.wantErr)
			}
			if tg.Pending() {
				t.Error("Pending() = true after Toggle returned")
			}
		})
	}
}

func TestToggle_OptimisticNeverNegative(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	db := testdb{
		edgeState: stateOf(true, 0),
		toggleEdge: func(EdgeKind, string, string) (ToggleResult, error) {
			close(entered)
			<-release
			return ToggleResult{}, errors.New("offline")
		},
	}
	c := newTestClient(t, db, "alice")
	tg, _ := c.Follows.Get(context.Background(), "bob")

	done := make(chan bool)
	go func() { done <- tg.Toggle(context.Background()) }()
	<-entered
	if got, want := tg.State(), (EdgeState{Active: false, Count: 0}); got != want {
		t.Errorf("optimistic state = %+v, want %+v", got, want)
	}
	close(release)
	<-done
	if got, want := tg.State(), (EdgeState{Active: true, Count: 0}); got != want {
		t.Errorf("state after rollback = %+v, want %+v", got, want)
	}
}

func TestToggle_DoubleClick(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	db := testdb{
		edgeState: stateOf(false, 10),
		toggleEdge: func(EdgeKind, string, string) (ToggleResult, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			close(entered)
			<-release
			return ToggleResult{RPCResult: RPCResult{Success: true}, Active: true, Count: 11}, nil
		},
		postOwner: func(string) (string, error) { return "alice", nil },
	}
	c := newTestClient(t, db, "alice")
	tg, _ := c.Likes.Get(context.Background(), "post-1")

	first := make(chan bool)
	go func() { first <- tg.Toggle(context.Background()) }()
	<-entered

	if !tg.Pending() {
		t.Error("Pending() = false while the first toggle is in flight")
	}
	if tg.Toggle(context.Background()) {
		t.Error("second Toggle() = true, want it ignored")
	}
	close(release)
	if !<-first {
		t.Error("first Toggle() = false, want true")
	}

	if got, want := tg.State(), (EdgeState{Active: true, Count: 11}); got != want {
		t.Errorf("State() = %+v, want %+v", got, want)
	}
	if calls != 1 {
		t.Errorf("remote toggles = %d, want 1", calls)
	}
}

func TestToggle_NotifiesOwner(t *testing.T) {
	tests := []struct {
		name    string
		spec    func(c *Client) *Toggles
		target  string
		owner   string
		active  bool
		wantRcp []string
	}{
		{"like notifies post owner", func(c *Client) *Toggles { return c.Likes }, "post-1", "carol", true, []string{"carol"}},
		{"own post is silent", func(c *Client) *Toggles { return c.Likes }, "post-1", "alice", true, nil},
		{"unlike is silent", func(c *Client) *Toggles { return c.Likes }, "post-1", "carol", false, nil},
		{"follow notifies target", func(c *Client) *Toggles { return c.Follows }, "bob", "", true, []string{"bob"}},
		{"block is silent", func(c *Client) *Toggles { return c.Blocks }, "bob", "", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			db := testdb{
				edgeState: stateOf(!tt.active, 0),
				toggleEdge: func(EdgeKind, string, string) (ToggleResult, error) {
					return ToggleResult{RPCResult: RPCResult{Success: true}, Active: tt.active}, nil
				},
				postOwner: func(string) (string, error) { return tt.owner, nil },
				insertNotification: func(n Notification) (Notification, error) {
					got = append(got, n.RecipientID)
					n.ID = "n1"
					return n, nil
				},
				setPushStatus: func(string, PushStatus) error { return nil },
			}
			c := newTestClient(t, db, "alice")
			if _, ok := tt.spec(c).Toggle(context.Background(), tt.target); !ok {
				t.Fatal("Toggle() failed")
			}
			if diff := cmp.Diff(tt.wantRcp, got); diff != "" {
				t.Errorf("recipients mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestToggles_Get(t *testing.T) {
	loads := 0
	db := testdb{
		edgeState: func(EdgeKind, string, string) (EdgeState, error) {
			loads++
			return EdgeState{Count: 4}, nil
		},
	}
	c := newTestClient(t, db, "alice")
	a, _ := c.Follows.Get(context.Background(), "bob")
	b, _ := c.Follows.Get(context.Background(), "bob")
	if a != b {
		t.Error("Get() returned different toggles for the same target")
	}
	if loads != 1 {
		t.Errorf("EdgeState loads = %d, want 1", loads)
	}
	if _, ok := c.Follows.Get(context.Background(), "alice"); ok {
		t.Error("Get() for self follow succeeded")
	}
	if _, ok := newTestClient(t, db, "").Likes.Get(context.Background(), "p"); ok {
		t.Error("Get() without a session succeeded")
	}
}

func TestToggle_Try(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	db := testdb{
		edgeState: stateOf(false, 2),
		toggleEdge: func(EdgeKind, string, string) (ToggleResult, error) {
			close(entered)
			<-release
			return ToggleResult{RPCResult: RPCResult{Error: "post not found"}}, nil
		},
	}
	c := newTestClient(t, db, "alice")
	tg, _ := c.Likes.Get(context.Background(), "post-1")

	type result struct {
		st  EdgeState
		err error
	}
	first := make(chan result)
	go func() {
		st, err := tg.Try(context.Background())
		first <- result{st, err}
	}()
	<-entered

	st, err := tg.Try(context.Background())
	if !errors.Is(err, ErrTogglePending) {
		t.Errorf("second Try() error = %v, want %v", err, ErrTogglePending)
	}
	if want := (EdgeState{Active: true, Count: 3}); st != want {
		t.Errorf("second Try() state = %+v, want %+v", st, want)
	}

	close(release)
	r := <-first
	var terr *ToggleError
	if !errors.As(r.err, &terr) || terr.Msg != "Failed to update like" {
		t.Fatalf("first Try() error = %v, want a ToggleError", r.err)
	}
	if want := (EdgeState{Active: false, Count: 2}); r.st != want {
		t.Errorf("first Try() state = %+v, want %+v", r.st, want)
	}
}
