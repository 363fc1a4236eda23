// Package core implements the client-side synchronization layer of the
// Wolfpack: conversations, messages, realtime subscriptions, typing
// indicators, optimistic like/follow toggles and notification fan-out.
//
// A Client is built once per authenticated session and carries the
// session's state store and managers. All remote work goes through the
// interfaces in backend.go.
package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/bitethatthing2/no-creyeron-sub000/validator"
)

// DefaultTypingTTL is how long a remote user stays in the typing set
// without a new typing event.
const DefaultTypingTTL = 3 * time.Second

// Backend bundles the remote collaborators shared by all sessions. Cache,
// Push and Uploader are optional.
type Backend struct {
	DB        DB
	Cache     Cache
	PubSub    PubSub
	Push      Pusher
	Uploader  Uploader
	Logger    *slog.Logger
	Validator *validator.Validator

	// TypingTTL overrides DefaultTypingTTL when positive.
	TypingTTL time.Duration
}

// session is the state shared by the managers of one Client.
type session struct {
	Backend
	auth    Auth
	store   *Store
	log     *slog.Logger
	alerter Alerter
}

func (s *session) userID() string {
	if s.auth == nil {
		return ""
	}
	return s.auth.CurrentUserID()
}

// fail logs err and surfaces msg through the store.
func (s *session) fail(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	s.log.Error(msg, args...)
	s.store.SetError(msg)
}

// publish announces a row change on topic. Failures are logged only:
// subscribers recover on their next reload.
func (s *session) publish(ctx context.Context, topic, table string, typ EventType, id string, record any) {
	if s.PubSub == nil {
		return
	}
	ev := ChangeEvent{Table: table, Type: typ, ID: id, At: time.Now().UTC()}
	if record != nil {
		b, err := json.Marshal(record)
		if err != nil {
			s.log.Error("Could not encode change record", "table", table, "error", err.Error())
			return
		}
		ev.Record = b
	}
	b, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("Could not encode change event", "table", table, "error", err.Error())
		return
	}
	if err := s.PubSub.Publish(ctx, topic, b); err != nil {
		s.log.Error("Could not publish change event", "topic", topic, "error", err.Error())
	}
}

// Option configures a Client.
type Option func(*Client)

// WithAlerter sets the system notification banner implementation.
func WithAlerter(a Alerter) Option {
	return func(c *Client) { c.s.alerter = a }
}

// WithStore makes the client use st instead of a fresh store.
func WithStore(st *Store) Option {
	return func(c *Client) { c.s.store = st; c.Store = st }
}

// Client is the single source of truth for one authenticated session.
type Client struct {
	Store         *Store
	Conversations *Conversations
	Messages      *Messages
	Realtime      *Realtime
	Notifications *Notifications
	Likes         *Toggles
	Follows       *Toggles
	Blocks        *Toggles

	s *session

	mu     sync.Mutex
	typing map[string]*Typing
}

// NewClient builds the session object for the user resolved by auth.
func NewClient(b Backend, auth Auth, opts ...Option) *Client {
	if b.Logger == nil {
		b.Logger = slog.Default()
	}
	if b.Validator == nil {
		b.Validator = validator.New()
	}
	if b.TypingTTL <= 0 {
		b.TypingTTL = DefaultTypingTTL
	}
	st := NewStore()
	c := &Client{
		Store:  st,
		s:      &session{Backend: b, auth: auth, store: st, log: b.Logger},
		typing: make(map[string]*Typing),
	}
	for _, opt := range opts {
		opt(c)
	}
	if uid := c.s.userID(); uid != "" {
		c.s.log = c.s.log.With("user_id", uid)
	}

	c.Notifications = &Notifications{s: c.s}
	c.Conversations = &Conversations{s: c.s}
	c.Messages = &Messages{s: c.s, notify: c.Notifications}
	c.Realtime = &Realtime{s: c.s}
	c.Likes = newToggles(c.s, LikeEdge, c.Notifications)
	c.Follows = newToggles(c.s, FollowEdge, c.Notifications)
	c.Blocks = newToggles(c.s, BlockEdge, c.Notifications)
	return c
}

// UserID returns the authenticated user, or "" when signed out.
func (c *Client) UserID() string {
	return c.s.userID()
}

// WatchConversation keeps the message list of conversationID in sync: every
// inserted message triggers a full reload of the newest page.
func (c *Client) WatchConversation(ctx context.Context, conversationID string) error {
	return c.Realtime.Watch(ctx, conversationID, func(ctx context.Context, ev ChangeEvent) {
		c.Messages.Load(ctx, conversationID, 0, "")
	})
}

// Typing returns the typing broadcaster for conversationID, creating it on
// first use.
func (c *Client) Typing(conversationID string) *Typing {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.typing[conversationID]
	if !ok {
		t = newTyping(c.s, conversationID)
		c.typing[conversationID] = t
	}
	return t
}

// Close tears down every realtime channel and pending timer of the session.
func (c *Client) Close() {
	c.Realtime.Stop()
	c.Notifications.Unsubscribe()
	c.mu.Lock()
	typing := c.typing
	c.typing = make(map[string]*Typing)
	c.mu.Unlock()
	for _, t := range typing {
		t.Close()
	}
}
