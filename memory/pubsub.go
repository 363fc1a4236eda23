package memory

import (
	"context"
	"sync"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

const subscriptionBuffer = 64

// PubSub is an in-process core.PubSub. Publishing never blocks: a payload
// is dropped for a subscriber whose buffer is full.
type PubSub struct {
	mu     sync.Mutex
	topics map[string]map[*subscription]struct{}
}

// NewPubSub returns an empty PubSub.
func NewPubSub() *PubSub {
	return &PubSub{topics: make(map[string]map[*subscription]struct{})}
}

// Publish delivers payload to every open subscription of topic.
func (ps *PubSub) Publish(_ context.Context, topic string, payload []byte) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for sub := range ps.topics[topic] {
		b := make([]byte, len(payload))
		copy(b, payload)
		select {
		case sub.ch <- b:
		default:
		}
	}
	return nil
}

// Subscribe opens a subscription to topic.
func (ps *PubSub) Subscribe(_ context.Context, topic string) (core.Subscription, error) {
	sub := &subscription{ps: ps, topic: topic, ch: make(chan []byte, subscriptionBuffer)}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	subs, ok := ps.topics[topic]
	if !ok {
		subs = make(map[*subscription]struct{})
		ps.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub, nil
}

// Open returns the number of open subscriptions of topic.
func (ps *PubSub) Open(topic string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.topics[topic])
}

// OpenTotal returns the number of open subscriptions across all topics.
func (ps *PubSub) OpenTotal() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	n := 0
	for _, subs := range ps.topics {
		n += len(subs)
	}
	return n
}

type subscription struct {
	ps    *PubSub
	topic string
	ch    chan []byte
	once  sync.Once
}

func (s *subscription) Payloads() <-chan []byte {
	return s.ch
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.ps.mu.Lock()
		defer s.ps.mu.Unlock()
		subs := s.ps.topics[s.topic]
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.ps.topics, s.topic)
		}
		close(s.ch)
	})
	return nil
}
