package memory

import (
	"context"
	"fmt"

	"github.com/bitethatthing2/no-creyeron-sub000/core"
)

// ToggleEdge flips the edge and returns its new state together with the
// recounted target counter.
func (db *DB) ToggleEdge(_ context.Context, kind core.EdgeKind, actorID, targetID string) (core.ToggleResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if actorID == "" || targetID == "" {
		return core.ToggleResult{RPCResult: core.RPCResult{Error: "invalid edge"}}, nil
	}
	if kind != core.EdgeLike && actorID == targetID {
		return core.ToggleResult{RPCResult: core.RPCResult{Error: fmt.Sprintf("cannot %s yourself", kind)}}, nil
	}
	if kind == core.EdgeLike {
		if _, ok := db.posts[targetID]; !ok {
			return core.ToggleResult{RPCResult: core.RPCResult{Error: "post not found"}}, nil
		}
	}
	k := edgeKey{kind, actorID, targetID}
	_, active := db.edges[k]
	if active {
		delete(db.edges, k)
	} else {
		db.edges[k] = db.now()
	}
	return core.ToggleResult{
		RPCResult: core.RPCResult{Success: true},
		Active:    !active,
		Count:     db.countLocked(kind, targetID),
	}, nil
}

func (db *DB) countLocked(kind core.EdgeKind, targetID string) int {
	n := 0
	for k := range db.edges {
		if k.kind == kind && k.target == targetID {
			n++
		}
	}
	return n
}

// EdgeState returns whether the edge exists and the target's counter.
func (db *DB) EdgeState(_ context.Context, kind core.EdgeKind, actorID, targetID string) (core.EdgeState, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, active := db.edges[edgeKey{kind, actorID, targetID}]
	return core.EdgeState{Active: active, Count: db.countLocked(kind, targetID)}, nil
}

// EdgeExists reports whether the edge exists.
func (db *DB) EdgeExists(_ context.Context, kind core.EdgeKind, actorID, targetID string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.edges[edgeKey{kind, actorID, targetID}]
	return ok, nil
}

// PostOwner returns the author of a post.
func (db *DB) PostOwner(_ context.Context, postID string) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	owner, ok := db.posts[postID]
	if !ok {
		return "", core.ErrNotFound
	}
	return owner, nil
}
