package engine

import (
	"context"
	"fmt"
	"time"

	"postflow/internal/advisor"
	"postflow/internal/eventbus"
	"postflow/internal/store"
	logx "postflow/pkg/logx"
)

// Schedule arms a publish trigger for a draft or failed post.
//
// The durable status write happens before the trigger is armed: if we
// crash in between, restart rebuilds the trigger from the store row, so
// the store can never claim 'scheduled' without a trigger existing (or
// being rebuildable).
func (e *Engine) Schedule(ctx context.Context, postID int64, at time.Time) error {
	if at.IsZero() {
		return fmt.Errorf("schedule: %w: time is required", ErrInvalidInput)
	}

	p, err := e.posts.GetPost(ctx, postID)
	if err != nil {
		return wrapStoreErr("schedule", err)
	}
	if p.Status != store.StatusDraft && p.Status != store.StatusFailed {
		return fmt.Errorf("schedule: %w: post %d is %s (cancel or reschedule instead)", ErrInvalidState, postID, p.Status)
	}

	p.Status = store.StatusScheduled
	p.ScheduledAt = &at
	if err := e.posts.SavePost(ctx, p); err != nil {
		return wrapStoreErr("schedule", err)
	}

	e.mu.Lock()
	gen := e.armLocked(postID, at)
	e.mu.Unlock()

	e.log.Info("post scheduled", logx.Int64("post_id", postID), logx.Time("at", at), logx.Uint64("gen", gen))
	e.publishEvent(eventbus.TypePostScheduled, p, "")
	return nil
}

// Reschedule moves a scheduled post to a new fire time. The replacement
// trigger is installed, with a fresh generation, before the durable
// write: once the new time can be observed anywhere, any in-flight fire
// claimed under the old time already fails the generation check.
func (e *Engine) Reschedule(ctx context.Context, postID int64, newAt time.Time) error {
	if newAt.IsZero() {
		return fmt.Errorf("reschedule: %w: time is required", ErrInvalidInput)
	}

	p, err := e.posts.GetPost(ctx, postID)
	if err != nil {
		return wrapStoreErr("reschedule", err)
	}
	if p.Status != store.StatusScheduled {
		return fmt.Errorf("reschedule: %w: post %d is %s", ErrInvalidState, postID, p.Status)
	}
	oldAt := newAt
	if p.ScheduledAt != nil {
		oldAt = *p.ScheduledAt
	}

	e.mu.Lock()
	gen := e.armLocked(postID, newAt)
	e.mu.Unlock()

	p.ScheduledAt = &newAt
	if err := e.posts.SavePost(ctx, p); err != nil {
		// The store still carries the old time; re-arm it so triggers
		// match what a restart rebuild would produce.
		e.mu.Lock()
		e.armLocked(postID, oldAt)
		e.mu.Unlock()
		return wrapStoreErr("reschedule", err)
	}

	e.log.Info("post rescheduled", logx.Int64("post_id", postID), logx.Time("at", newAt), logx.Uint64("gen", gen))
	e.publishEvent(eventbus.TypePostRescheduled, p, "")
	return nil
}

// Cancel returns a scheduled post to draft. The trigger is removed and
// its generation bumped in one critical section before the draft write,
// so a sweep can never claim it mid-cancel and a fire claimed earlier
// fails the generation check. Cancelling a post whose trigger a sweep
// already claimed is rejected: that publish is in flight and its
// outcome will land in the store shortly.
func (e *Engine) Cancel(ctx context.Context, postID int64) error {
	p, err := e.posts.GetPost(ctx, postID)
	if err != nil {
		return wrapStoreErr("cancel", err)
	}
	if p.Status != store.StatusScheduled {
		return fmt.Errorf("cancel: %w: post %d is %s", ErrInvalidState, postID, p.Status)
	}

	e.mu.Lock()
	prev, armed := e.pending[postID]
	if !armed && e.gens[postID] > 0 {
		e.mu.Unlock()
		return fmt.Errorf("cancel: %w: post %d publish in progress", ErrInvalidState, postID)
	}
	// Not armed with generation zero means this process never built a
	// trigger for the post (scheduler disabled, or not yet rebuilt). No
	// fire can be in flight, so the cancel proceeds on the store alone.
	e.disarmLocked(postID)
	e.mu.Unlock()

	p.Status = store.StatusDraft
	p.ScheduledAt = nil
	if err := e.posts.SavePost(ctx, p); err != nil {
		if armed {
			// The store still says scheduled; put the trigger back.
			e.mu.Lock()
			e.armLocked(postID, prev.fireAt)
			e.mu.Unlock()
		}
		return wrapStoreErr("cancel", err)
	}

	e.log.Info("schedule cancelled", logx.Int64("post_id", postID))
	e.publishEvent(eventbus.TypePostCancelled, p, "")
	return nil
}

// Retry re-attempts publication of a failed post immediately, bypassing
// the sweep. It is single-shot: a failure is recorded and returned, not
// retried again.
func (e *Engine) Retry(ctx context.Context, postID int64) error {
	p, err := e.posts.GetPost(ctx, postID)
	if err != nil {
		return wrapStoreErr("retry", err)
	}
	if p.Status != store.StatusFailed {
		return fmt.Errorf("retry: %w: post %d is %s", ErrInvalidState, postID, p.Status)
	}

	if err := e.publishPost(ctx, p); err != nil {
		return fmt.Errorf("retry post %d: %w", postID, err)
	}
	return nil
}

// ListScheduled returns scheduled posts, optionally narrowed by channel
// and scheduled-time range, ordered by fire time.
func (e *Engine) ListScheduled(ctx context.Context, f store.PostFilter) ([]store.Post, error) {
	f.Status = store.StatusScheduled
	posts, err := e.posts.FindPosts(ctx, f)
	if err != nil {
		return nil, wrapStoreErr("list scheduled", err)
	}
	return posts, nil
}

// OptimalSchedule proposes postsPerDay*days future publish slots for a
// channel based on its historical engagement by weekday/hour.
func (e *Engine) OptimalSchedule(ctx context.Context, channelID int64, postsPerDay, days int) ([]time.Time, error) {
	if postsPerDay <= 0 || days <= 0 {
		return nil, fmt.Errorf("optimal schedule: %w: posts_per_day and days must be positive", ErrInvalidInput)
	}
	if _, err := e.channels.GetChannel(ctx, channelID); err != nil {
		return nil, wrapStoreErr("optimal schedule", err)
	}

	samples, err := e.posts.EngagementSamples(ctx, channelID, time.Now().AddDate(0, -3, 0))
	if err != nil {
		return nil, wrapStoreErr("optimal schedule", err)
	}

	hours := advisor.BestHours(samples)
	if len(hours) == 0 {
		// No engagement history yet: fall back to commonly good slots.
		hours = advisor.DefaultHours
	}

	now := time.Now().In(e.location())
	return advisor.Plan(now, hours, postsPerDay, days), nil
}
