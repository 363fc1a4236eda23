package core

import (
	"context"
	"errors"
	"sync"

	"github.com/bitethatthing2/no-creyeron-sub000/metrics"
)

// ErrTogglePending is returned by Toggle.Try while an earlier toggle of the
// same edge awaits its answer.
var ErrTogglePending = errors.New("toggle pending")

// A ToggleError is a remote toggle failure. The local state has been
// rolled back. Msg is user-facing.
type ToggleError struct {
	Msg string
	Err error
}

func (e *ToggleError) Error() string { return e.Msg + ": " + e.Err.Error() }

func (e *ToggleError) Unwrap() error { return e.Err }

// An EdgeSpec parameterises the optimistic toggle for one kind of edge.
type EdgeSpec struct {
	Kind EdgeKind
	// Noun names the edge in user-facing errors.
	Noun string
	// NoSelf forbids edges from a user to themselves.
	NoSelf bool
	// Owner resolves the user told about a new edge. A nil Owner sends no
	// notification.
	Owner func(ctx context.Context, db DB, targetID string) (string, error)
	// Compose builds the notification for a new edge.
	Compose func(actorID, targetID string) NotificationPayload
}

// LikeEdge toggles likes on posts and tells the post owner.
var LikeEdge = EdgeSpec{
	Kind: EdgeLike,
	Noun: "like",
	Owner: func(ctx context.Context, db DB, postID string) (string, error) {
		return db.PostOwner(ctx, postID)
	},
	Compose: func(actorID, postID string) NotificationPayload {
		return NotificationPayload{
			ActorID:    actorID,
			Type:       NotificationLike,
			Title:      "New like",
			Body:       "Someone in the Wolfpack liked your post",
			EntityType: "post",
			EntityID:   postID,
			ActionURL:  "/wolfpack/feed/" + postID,
			Priority:   PriorityLow,
		}
	},
}

// FollowEdge toggles follows between users and tells the followed user.
var FollowEdge = EdgeSpec{
	Kind:   EdgeFollow,
	Noun:   "follow",
	NoSelf: true,
	Owner: func(_ context.Context, _ DB, userID string) (string, error) {
		return userID, nil
	},
	Compose: func(actorID, userID string) NotificationPayload {
		return NotificationPayload{
			ActorID:    actorID,
			Type:       NotificationFollow,
			Title:      "New follower",
			Body:       "Someone in the Wolfpack started following you",
			EntityType: "user",
			EntityID:   actorID,
			ActionURL:  "/profile/" + actorID,
			Priority:   PriorityNormal,
		}
	},
}

// BlockEdge toggles blocks. Blocks are silent.
var BlockEdge = EdgeSpec{
	Kind:   EdgeBlock,
	Noun:   "block",
	NoSelf: true,
}

// Toggles hands out the per-target toggles of one edge kind for a session.
type Toggles struct {
	s      *session
	spec   EdgeSpec
	notify *Notifications

	mu    sync.Mutex
	edges map[string]*Toggle
}

func newToggles(s *session, spec EdgeSpec, notify *Notifications) *Toggles {
	return &Toggles{s: s, spec: spec, notify: notify, edges: make(map[string]*Toggle)}
}

// Get returns the toggle for the edge from the current user to targetID,
// loading its state on first use.
func (ts *Toggles) Get(ctx context.Context, targetID string) (*Toggle, bool) {
	uid := ts.s.userID()
	if uid == "" {
		ts.s.store.SetError(errNotAuthenticated)
		return nil, false
	}
	if targetID == "" || (ts.spec.NoSelf && targetID == uid) {
		ts.s.store.SetError("Invalid " + ts.spec.Noun + " target")
		return nil, false
	}

	ts.mu.Lock()
	t, ok := ts.edges[targetID]
	ts.mu.Unlock()
	if ok {
		return t, true
	}

	st, err := ts.s.DB.EdgeState(ctx, ts.spec.Kind, uid, targetID)
	if err != nil {
		ts.s.fail("Failed to load "+ts.spec.Noun, err, "target_id", targetID)
		return nil, false
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.edges[targetID]; ok {
		return t, true
	}
	t = &Toggle{s: ts.s, spec: ts.spec, notify: ts.notify, targetID: targetID, state: st}
	ts.edges[targetID] = t
	return t, true
}

// Toggle flips the edge to targetID and returns the resulting state.
func (ts *Toggles) Toggle(ctx context.Context, targetID string) (EdgeState, bool) {
	t, ok := ts.Get(ctx, targetID)
	if !ok {
		return EdgeState{}, false
	}
	ok = t.Toggle(ctx)
	return t.State(), ok
}

// A Toggle is the optimistic client-side view of one edge.
type Toggle struct {
	s        *session
	spec     EdgeSpec
	notify   *Notifications
	targetID string

	mu       sync.Mutex
	state    EdgeState
	inFlight bool
	err      string
}

// State returns the current, possibly optimistic, edge state.
func (t *Toggle) State() EdgeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Pending reports whether a toggle is awaiting the remote answer.
func (t *Toggle) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}

// Err returns the error of the last failed toggle, or "".
func (t *Toggle) Err() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Toggle flips the edge. The new state is visible immediately; the remote
// toggle then either confirms it (the remote answer replaces the local
// state) or fails, in which case the state before the call is restored.
// A call made while another is in flight is ignored. Toggle reports whether
// the flip was committed.
func (t *Toggle) Toggle(ctx context.Context) bool {
	_, err := t.Try(ctx)
	return err == nil
}

// Try is Toggle reporting why a flip was not committed: ErrNoSession,
// ErrTogglePending, or a *ToggleError. It returns the state after the call.
func (t *Toggle) Try(ctx context.Context) (EdgeState, error) {
	uid := t.s.userID()
	if uid == "" {
		t.s.store.SetError(errNotAuthenticated)
		return t.State(), ErrNoSession
	}

	t.mu.Lock()
	if t.inFlight {
		st := t.state
		t.mu.Unlock()
		metrics.Toggles.WithLabelValues(string(t.spec.Kind), "ignored").Inc()
		return st, ErrTogglePending
	}
	snapshot := t.state
	next := EdgeState{Active: !snapshot.Active, Count: snapshot.Count}
	if next.Active {
		next.Count++
	} else {
		next.Count = max(0, next.Count-1)
	}
	t.state = next
	t.inFlight = true
	t.err = ""
	t.mu.Unlock()

	res, err := t.s.DB.ToggleEdge(ctx, t.spec.Kind, uid, t.targetID)
	if err == nil && !res.Success {
		err = errors.New(res.Error)
	}

	msg := "Failed to update " + t.spec.Noun
	t.mu.Lock()
	t.inFlight = false
	if err != nil {
		t.state = snapshot
		t.err = msg
		t.mu.Unlock()
		metrics.Toggles.WithLabelValues(string(t.spec.Kind), "rolled_back").Inc()
		t.s.fail(msg, err, "target_id", t.targetID)
		return snapshot, &ToggleError{Msg: msg, Err: err}
	}
	st := EdgeState{Active: res.Active, Count: max(0, res.Count)}
	t.state = st
	t.mu.Unlock()
	metrics.Toggles.WithLabelValues(string(t.spec.Kind), "committed").Inc()

	if st.Active {
		t.notifyOwner(ctx, uid)
	}
	return st, nil
}

// notifyOwner tells the target's owner about a new edge. Failures are
// logged and never undo the toggle.
func (t *Toggle) notifyOwner(ctx context.Context, actorID string) {
	if t.spec.Owner == nil || t.spec.Compose == nil || t.notify == nil {
		return
	}
	owner, err := t.spec.Owner(ctx, t.s.DB, t.targetID)
	if err != nil {
		t.s.log.Error("Could not resolve owner for notification", "kind", t.spec.Kind, "target_id", t.targetID, "error", err.Error())
		return
	}
	if owner == "" || owner == actorID {
		return
	}
	t.notify.Create(ctx, owner, t.spec.Compose(actorID, t.targetID))
}
