package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

// Publish sends payload to every subscriber of topic.
func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.cli.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Subscribe subscribes to topic and waits for the server to confirm.
func (r *Redis) Subscribe(ctx context.Context, topic string) (core.Subscription, error) {
	ps := r.cli.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	sub := &subscription{ps: ps, ch: make(chan []byte), done: make(chan struct{})}
	go sub.run()
	return sub, nil
}

type subscription struct {
	ps   *redis.PubSub
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscription) run() {
	defer close(s.ch)
	for msg := range s.ps.Channel() {
		select {
		case s.ch <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Payloads() <-chan []byte {
	return s.ch
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
