package engine

import (
	"sort"
	"time"
)

// armLocked installs (or replaces) the trigger for a post with a fresh
// generation. Call with e.mu held.
func (e *Engine) armLocked(postID int64, fireAt time.Time) uint64 {
	gen := e.gens[postID] + 1
	e.gens[postID] = gen
	e.pending[postID] = trigger{postID: postID, fireAt: fireAt, gen: gen}
	return gen
}

// disarmLocked removes a pending trigger and bumps the generation so any
// claimed-but-unprocessed fire for this post is discarded. Call with
// e.mu held. Returns whether a trigger was pending.
func (e *Engine) disarmLocked(postID int64) bool {
	_, ok := e.pending[postID]
	delete(e.pending, postID)
	e.gens[postID]++
	return ok
}

// claimDue atomically removes and returns all triggers with fire time
// <= now, ordered by fire time ascending, ties broken by post id. Each
// returned trigger is claimed: no concurrent sweep can see it again.
func (e *Engine) claimDue(now time.Time) []trigger {
	e.mu.Lock()
	var due []trigger
	for id, t := range e.pending {
		if !t.fireAt.After(now) {
			due = append(due, t)
			delete(e.pending, id)
		}
	}
	e.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if !due[i].fireAt.Equal(due[j].fireAt) {
			return due[i].fireAt.Before(due[j].fireAt)
		}
		return due[i].postID < due[j].postID
	})
	return due
}

// restore re-arms a claimed trigger unchanged (used when a transient
// store failure prevented processing). If the post was rescheduled or
// cancelled since the claim, the stale generation loses.
func (e *Engine) restore(t trigger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gens[t.postID] != t.gen {
		return
	}
	e.pending[t.postID] = t
}

// isCurrent reports whether the claimed trigger still carries the
// latest generation for its post.
func (e *Engine) isCurrent(t trigger) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gens[t.postID] == t.gen
}

func sortTriggerInfos(infos []TriggerInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].FireAt.Equal(infos[j].FireAt) {
			return infos[i].FireAt.Before(infos[j].FireAt)
		}
		return infos[i].PostID < infos[j].PostID
	})
}
