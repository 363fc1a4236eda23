package api

import (
	"sync"
	"time"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

// sessionIdle is how long an unused toggle session is kept.
const sessionIdle = 10 * time.Minute

// sessions keeps one core.Client per user across requests. Toggles of one
// edge share its in-flight state, so a toggle arriving while another is
// pending is ignored.
type sessions struct {
	mu     sync.Mutex
	byUser map[string]*sessionEntry
	swept  time.Time

	// now defaults to time.Now.
	now func() time.Time
}

type sessionEntry struct {
	c    *core.Client
	used time.Time
}

// get returns the session of userID, building it with build on first use.
// Sessions idle for longer than sessionIdle are closed on the way.
func (ss *sessions) get(userID string, build func() *core.Client) *core.Client {
	now := time.Now()
	if ss.now != nil {
		now = ss.now()
	}

	ss.mu.Lock()
	if ss.byUser == nil {
		ss.byUser = make(map[string]*sessionEntry)
		ss.swept = now
	}
	var idle []*core.Client
	if now.Sub(ss.swept) >= sessionIdle {
		for uid, e := range ss.byUser {
			if now.Sub(e.used) >= sessionIdle {
				idle = append(idle, e.c)
				delete(ss.byUser, uid)
			}
		}
		ss.swept = now
	}
	e, ok := ss.byUser[userID]
	if !ok {
		e = &sessionEntry{c: build()}
		ss.byUser[userID] = e
	}
	e.used = now
	ss.mu.Unlock()

	for _, c := range idle {
		c.Close()
	}
	return e.c
}

// len returns the number of live sessions.
func (ss *sessions) len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.byUser)
}

// close closes every session.
func (ss *sessions) close() {
	ss.mu.Lock()
	byUser := ss.byUser
	ss.byUser = nil
	ss.mu.Unlock()
	for _, e := range byUser {
		e.c.Close()
	}
}
