package api

import (
	"testing"
	"time"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
	"github.com/bitethatthing2/no-creyeron-sub000/memory"
)

func TestSessions_get(t *testing.T) {
	now := time.Date(2026, 3, 6, 22, 0, 0, 0, time.UTC)
	ss := &sessions{now: func() time.Time { return now }}
	db := memory.New()
	built := 0
	build := func() *core.Client {
		built++
		return core.NewClient(core.Backend{DB: db}, core.StaticAuth("u"))
	}

	alice := ss.get("alice", build)
	if ss.get("alice", build) != alice {
		t.Error("get() built a second session for alice")
	}
	ss.get("bob", build)
	if built != 2 {
		t.Errorf("built = %d, want 2", built)
	}

	now = now.Add(sessionIdle / 2)
	ss.get("bob", build)
	now = now.Add(sessionIdle / 2)
	ss.get("bob", build)
	if got := ss.len(); got != 1 {
		t.Errorf("len() after alice went idle = %d, want 1", got)
	}

	if ss.get("alice", build) == alice {
		t.Error("get() returned an evicted session")
	}
	if built != 3 {
		t.Errorf("built = %d, want 3", built)
	}

	ss.close()
	if got := ss.len(); got != 0 {
		t.Errorf("len() after close = %d, want 0", got)
	}
}
