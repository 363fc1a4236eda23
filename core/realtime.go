package core

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/bitethatthing2/no-creyeron-sub000/metrics"
)

// Realtime keeps at most one open subscription to new messages: the one of
// the conversation on screen. Switching conversations closes the previous
// subscription before the next one opens.
type Realtime struct {
	s *session

	mu     sync.Mutex
	active *watch
}

type watch struct {
	conversationID string
	sub            Subscription
	cancel         context.CancelFunc
	done           chan struct{}
}

// Watch subscribes to messages inserted into conversationID and calls
// onInsert for each. Watching the conversation already watched is a no-op.
// The callback gets a context that is cancelled when the watch ends.
func (r *Realtime) Watch(ctx context.Context, conversationID string, onInsert func(context.Context, ChangeEvent)) error {
	if r.s.userID() == "" {
		return ErrNoSession
	}
	if r.s.PubSub == nil {
		return ErrNoRealtime
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil && r.active.conversationID == conversationID {
		return nil
	}
	r.stopLocked()

	sub, err := r.s.PubSub.Subscribe(ctx, MessagesTopic(conversationID))
	if err != nil {
		r.s.log.Error("Could not subscribe to conversation", "conversation_id", conversationID, "error", err.Error())
		return err
	}
	metrics.Subscriptions.Inc()

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &watch{conversationID: conversationID, sub: sub, cancel: cancel, done: make(chan struct{})}
	r.active = w

	go func() {
		defer close(w.done)
		for {
			select {
			case <-wctx.Done():
				return
			case b, ok := <-sub.Payloads():
				if !ok {
					return
				}
				var ev ChangeEvent
				if err := json.Unmarshal(b, &ev); err != nil {
					r.s.log.Warn("Ignoring malformed message event", "conversation_id", conversationID, "error", err.Error())
					continue
				}
				if ev.Type != EventInsert {
					continue
				}
				onInsert(wctx, ev)
			}
		}
	}()
	return nil
}

// Watching returns the id of the watched conversation, or "".
func (r *Realtime) Watching() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return ""
	}
	return r.active.conversationID
}

// Stop closes the open subscription, if any.
func (r *Realtime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *Realtime) stopLocked() {
	w := r.active
	if w == nil {
		return
	}
	r.active = nil
	w.cancel()
	if err := w.sub.Close(); err != nil {
		r.s.log.Error("Could not close conversation subscription", "conversation_id", w.conversationID, "error", err.Error())
	}
	<-w.done
	metrics.Subscriptions.Dec()
}
