// Package push hands push messages to the device delivery workers over
// NATS. Each message is published on a per-recipient subject.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

// DefaultSubjectPrefix is the subject prefix used when none is configured.
const DefaultSubjectPrefix = "wolfpack.push"

var _ core.Pusher = (*Publisher)(nil)

// Publisher publishes push messages to NATS.
type Publisher struct {
	conn   *nats.Conn
	prefix string
}

// Connect connects to the NATS server at url.
func Connect(url, prefix string) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("wolfpackd-push"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return New(conn, prefix), nil
}

// New returns a Publisher on an existing connection.
func New(conn *nats.Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: prefix}
}

// Push publishes msg and waits until the server has received it.
func (p *Publisher) Push(ctx context.Context, msg core.PushMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal push message: %w", err)
	}
	if err := p.conn.Publish(subject(p.prefix, msg.RecipientID), data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// subject returns the subject for a recipient. Characters with a meaning
// in NATS subjects are replaced.
func subject(prefix, recipientID string) string {
	return prefix + "." + tokenReplacer.Replace(recipientID)
}
