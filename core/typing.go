package core

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bitethatthing2/no-creyeron-sub000/metrics"
)

// Typing broadcasts and tracks typing signals in one conversation. Signals
// are ephemeral: nothing is stored and a missed event only means an
// indicator never shows.
type Typing struct {
	s              *session
	conversationID string
	ttl            time.Duration
	limiter        *rate.Limiter

	// OnChange, when set, receives the typing set after every change.
	OnChange func([]TypingUser)

	mu     sync.Mutex
	users  map[string]*typingEntry
	gen    uint64
	closed bool
	sub    Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

type typingEntry struct {
	user  TypingUser
	timer *time.Timer
	gen   uint64
}

func newTyping(s *session, conversationID string) *Typing {
	return &Typing{
		s:              s,
		conversationID: conversationID,
		ttl:            s.TypingTTL,
		limiter:        rate.NewLimiter(rate.Every(time.Second), 1),
		users:          make(map[string]*typingEntry),
	}
}

// Send broadcasts that the current user started or stopped typing. Started
// signals are throttled to one per second; stopped signals always go out.
func (t *Typing) Send(ctx context.Context, userName string, isTyping bool) bool {
	uid := t.s.userID()
	if uid == "" || t.s.PubSub == nil {
		return false
	}
	if isTyping && !t.limiter.Allow() {
		return true
	}
	b, err := json.Marshal(TypingEvent{
		ConversationID: t.conversationID,
		UserID:         uid,
		UserName:       userName,
		IsTyping:       isTyping,
		At:             time.Now().UTC(),
	})
	if err != nil {
		t.s.log.Error("Could not encode typing event", "error", err.Error())
		return false
	}
	if err := t.s.PubSub.Publish(ctx, TypingTopic(t.conversationID), b); err != nil {
		t.s.log.Error("Could not broadcast typing", "conversation_id", t.conversationID, "error", err.Error())
		return false
	}
	return true
}

// Join starts listening for other users' typing signals.
func (t *Typing) Join(ctx context.Context) error {
	if t.s.userID() == "" {
		return ErrNoSession
	}
	if t.s.PubSub == nil {
		return ErrNoRealtime
	}
	t.mu.Lock()
	if t.sub != nil || t.closed {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	sub, err := t.s.PubSub.Subscribe(ctx, TypingTopic(t.conversationID))
	if err != nil {
		return err
	}
	metrics.Subscriptions.Inc()
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	t.mu.Lock()
	if t.sub != nil || t.closed {
		t.mu.Unlock()
		cancel()
		_ = sub.Close()
		metrics.Subscriptions.Dec()
		return nil
	}
	t.sub, t.cancel, t.done = sub, cancel, done
	t.mu.Unlock()

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
				var ev TypingEvent
				if err := json.Unmarshal(b, &ev); err != nil {
					t.s.log.Warn("Ignoring malformed typing event", "error", err.Error())
					continue
				}
				t.handle(ev)
			}
		}
	}()
	return nil
}

// handle applies a remote typing event to the typing set.
func (t *Typing) handle(ev TypingEvent) {
	if ev.UserID == "" || ev.UserID == t.s.userID() || ev.ConversationID != t.conversationID {
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	e, ok := t.users[ev.UserID]
	if ev.IsTyping {
		if ok {
			e.timer.Stop()
		} else {
			e = &typingEntry{}
			t.users[ev.UserID] = e
		}
		t.gen++
		gen := t.gen
		e.gen = gen
		e.user = TypingUser{UserID: ev.UserID, UserName: ev.UserName, LastSeen: time.Now()}
		id := ev.UserID
		e.timer = time.AfterFunc(t.ttl, func() { t.expire(id, gen) })
	} else {
		if !ok {
			t.mu.Unlock()
			return
		}
		e.timer.Stop()
		delete(t.users, ev.UserID)
	}
	users := t.snapshotLocked()
	t.mu.Unlock()
	t.changed(users)
}

// expire drops userID unless a newer typing event re-armed its timer.
func (t *Typing) expire(userID string, gen uint64) {
	t.mu.Lock()
	e, ok := t.users[userID]
	if !ok || e.gen != gen || t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.users, userID)
	users := t.snapshotLocked()
	t.mu.Unlock()
	t.changed(users)
}

func (t *Typing) changed(users []TypingUser) {
	if t.OnChange != nil {
		t.OnChange(users)
	}
}

func (t *Typing) snapshotLocked() []TypingUser {
	out := make([]TypingUser, 0, len(t.users))
	for _, e := range t.users {
		out = append(out, e.user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Users returns the users currently typing, ordered by id.
func (t *Typing) Users() []TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Close stops listening and clears every pending expiry timer.
func (t *Typing) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for id, e := range t.users {
		e.timer.Stop()
		delete(t.users, id)
	}
	sub, cancel, done := t.sub, t.cancel, t.done
	t.sub = nil
	t.mu.Unlock()

	if sub == nil {
		return
	}
	cancel()
	if err := sub.Close(); err != nil {
		t.s.log.Error("Could not close typing subscription", "conversation_id", t.conversationID, "error", err.Error())
	}
	<-done
	metrics.Subscriptions.Dec()
}
