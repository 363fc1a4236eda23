package core

import "sync"

// Store holds the client-side state of one session. It carries no business
// logic: managers replace its collections wholesale. Each slice has a single
// owning manager.
type Store struct {
	mu            sync.RWMutex
	conversations []Conversation
	messages      []Message
	notifications []Notification
	unread        int
	loading       bool
	err           string

	// OnChange, when set, is called after every mutation.
	OnChange func()
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) changed() {
	if s.OnChange != nil {
		s.OnChange()
	}
}

// Conversations returns a copy of the conversation list.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Conversation(nil), s.conversations...)
}

// SetConversations replaces the conversation list.
func (s *Store) SetConversations(cs []Conversation) {
	s.mu.Lock()
	s.conversations = append([]Conversation(nil), cs...)
	s.mu.Unlock()
	s.changed()
}

// Messages returns a copy of the loaded messages.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages...)
}

// SetMessages replaces the loaded messages.
func (s *Store) SetMessages(ms []Message) {
	s.mu.Lock()
	s.messages = append([]Message(nil), ms...)
	s.mu.Unlock()
	s.changed()
}

// Notifications returns a copy of the notification list.
func (s *Store) Notifications() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Notification(nil), s.notifications...)
}

// UnreadNotifications returns the number of unread notifications.
func (s *Store) UnreadNotifications() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

// SetNotifications replaces the notification list and recounts unread ones.
func (s *Store) SetNotifications(ns []Notification) {
	unread := 0
	for _, n := range ns {
		if !n.Read {
			unread++
		}
	}
	s.mu.Lock()
	s.notifications = append([]Notification(nil), ns...)
	s.unread = unread
	s.mu.Unlock()
	s.changed()
}

// Loading reports whether a load is in progress.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// SetLoading sets the loading flag.
func (s *Store) SetLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
	s.changed()
}

// Err returns the last error message, or "" if the last operation succeeded.
func (s *Store) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// SetError sets the error message. An empty string clears it.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.err = msg
	s.mu.Unlock()
	s.changed()
}
