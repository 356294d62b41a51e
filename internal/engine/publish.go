package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"postflow/internal/eventbus"
	"postflow/internal/store"
	logx "postflow/pkg/logx"
)

// Sweep claims every due trigger and publishes the corresponding posts
// in fire-time order. A failed publish marks the post 'failed' and the
// sweep moves on; it never aborts the loop or retries. Safe to run
// concurrently with itself and with operator calls: each trigger is
// claimed by exactly one sweep.
func (e *Engine) Sweep(ctx context.Context, now time.Time) {
	due := e.claimDue(now)
	if len(due) == 0 {
		return
	}
	e.log.Debug("sweep", logx.Int("due", len(due)))

	for _, t := range due {
		if ctx.Err() != nil {
			// Shutting down: put unprocessed claims back so the store and
			// trigger set stay aligned for the next run.
			e.restore(t)
			continue
		}
		// A reschedule or cancel after the claim bumped the generation;
		// this fire is stale and must not be delivered.
		if !e.isCurrent(t) {
			e.log.Debug("stale trigger discarded", logx.Int64("post_id", t.postID), logx.Uint64("gen", t.gen))
			continue
		}

		p, err := e.posts.GetPost(ctx, t.postID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Post deleted externally; nothing to publish.
				e.log.Warn("due post no longer exists", logx.Int64("post_id", t.postID))
				continue
			}
			// Transient store failure: re-arm so a later sweep picks it up.
			e.log.Error("due post read failed; trigger restored", logx.Int64("post_id", t.postID), logx.Err(err))
			e.restore(t)
			continue
		}
		if p.Status != store.StatusScheduled {
			// Cancel or a concurrent publish won the race after the claim.
			e.log.Debug("due post not scheduled anymore; skipping",
				logx.Int64("post_id", t.postID), logx.String("status", string(p.Status)))
			continue
		}
		if p.ScheduledAt == nil || !p.ScheduledAt.Equal(t.fireAt) {
			// The store carries a newer fire time than the claim; the
			// trigger for it is already armed separately.
			e.log.Debug("due post was rescheduled; skipping", logx.Int64("post_id", t.postID))
			continue
		}

		if err := e.publishPost(ctx, p); err != nil {
			// Outcome already recorded in the store; keep sweeping.
			e.log.Warn("publish failed", logx.Int64("post_id", t.postID), logx.Err(err))
		}
	}
}

// publishPost drives the scheduled->published|failed (and failed->
// published|failed on retry) transition. Exactly one store write lands
// the whole outcome. A crash after gateway success but before that write
// re-delivers on the next run: this is the documented at-least-once gap
// of a non-transactional external send.
func (e *Engine) publishPost(ctx context.Context, p store.Post) error {
	ch, err := e.channels.GetChannel(ctx, p.ChannelID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return wrapStoreErr("publish", err)
	}
	if errors.Is(err, store.ErrNotFound) || !ch.Active {
		// No gateway call is attempted for an unavailable channel.
		if werr := e.recordFailure(ctx, p, errChannelUnavailable); werr != nil {
			return werr
		}
		return fmt.Errorf("publish: %w: %s", ErrGateway, errChannelUnavailable)
	}

	ref, err := e.gw.Send(ctx, ch.ChatID, p.Text, p.PhotoURL)
	if err != nil {
		if werr := e.recordFailure(ctx, p, err); werr != nil {
			return werr
		}
		return fmt.Errorf("publish: %w: %s", ErrGateway, err)
	}

	now := time.Now()
	p.Status = store.StatusPublished
	p.ScheduledAt = nil
	p.PublishedAt = &now
	p.MessageID = ref.MessageID
	p.ErrorMsg = ""
	if err := e.posts.SavePost(ctx, p); err != nil {
		return wrapStoreErr("publish commit", err)
	}

	e.log.Info("post published",
		logx.Int64("post_id", p.ID),
		logx.Int64("channel_id", p.ChannelID),
		logx.Int("message_id", ref.MessageID))
	e.publishEvent(eventbus.TypePostPublished, p, "")
	return nil
}

// recordFailure lands the failed status durably. PublishedAt is left
// untouched: it records historical fact and is never cleared.
func (e *Engine) recordFailure(ctx context.Context, p store.Post, cause error) error {
	p.Status = store.StatusFailed
	p.ScheduledAt = nil
	p.ErrorMsg = cause.Error()
	if err := e.posts.SavePost(ctx, p); err != nil {
		return wrapStoreErr("record failure", err)
	}

	e.log.Warn("post failed",
		logx.Int64("post_id", p.ID),
		logx.Int64("channel_id", p.ChannelID),
		logx.String("reason", p.ErrorMsg))
	e.publishEvent(eventbus.TypePostFailed, p, p.ErrorMsg)
	return nil
}
