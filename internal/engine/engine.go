package engine

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"postflow/internal/eventbus"
	"postflow/internal/gateway"
	"postflow/internal/store"
	logx "postflow/pkg/logx"
)

func New(cfg Config, posts PostStore, channels ChannelDirectory, gw gateway.Gateway, bus eventbus.Bus, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		log:      log,
		bus:      bus,
		posts:    posts,
		channels: channels,
		gw:       gw,
		cfg:      cfg,
		pending:  map[int64]trigger{},
		gens:     map[int64]uint64{},
	}
}

const defaultSweepInterval = 30 * time.Second

// Enabled reports the current config flag. (Thread-safe; Apply may run concurrently.)
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Enabled
}

// Apply updates config at runtime. A changed sweep interval restarts the
// sweep timer; the pending trigger set is untouched.
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldInterval := e.cfg.SweepInterval
	oldTZ := strings.TrimSpace(e.cfg.Timezone)
	e.cfg = cfg
	e.loc = nil

	if e.c == nil {
		return
	}
	if cfg.SweepInterval != oldInterval || strings.TrimSpace(cfg.Timezone) != oldTZ {
		e.restartSweepLocked()
	}
}

// Start rebuilds the trigger set from the store and begins the periodic
// sweep. Safe to call once per process run.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Rebuild(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c != nil {
		return nil
	}
	e.runCtx, e.cancel = context.WithCancel(ctx)
	e.startSweepLocked()
	e.log.Info("engine started",
		logx.Duration("sweep_interval", e.sweepIntervalLocked()),
		logx.Int("pending", len(e.pending)))
	return nil
}

func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	c := e.c
	cancel := e.cancel
	e.c = nil
	e.cancel = nil
	e.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-c.Stop().Done()

	// Wait for an in-flight sweep, but respect the caller's deadline:
	// a slow gateway must not stall shutdown.
	done := make(chan struct{})
	go func() {
		e.sweepWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.log.Info("engine stopped")
	case <-ctx.Done():
		e.log.Warn("engine stop deadline reached; sweep finishing in background")
	}
}

// Rebuild derives the pending trigger set from rows with status
// 'scheduled'. The store is the source of truth; whatever triggers were
// in memory are discarded.
func (e *Engine) Rebuild(ctx context.Context) error {
	posts, err := e.posts.FindPosts(ctx, store.PostFilter{Status: store.StatusScheduled})
	if err != nil {
		return wrapStoreErr("rebuild triggers", err)
	}

	e.mu.Lock()
	e.pending = make(map[int64]trigger, len(posts))
	for _, p := range posts {
		if p.ScheduledAt == nil {
			// Should not happen; scheduled rows always carry a time.
			e.log.Warn("scheduled post without a time; skipping", logx.Int64("post_id", p.ID))
			continue
		}
		e.armLocked(p.ID, *p.ScheduledAt)
	}
	n := len(e.pending)
	e.mu.Unlock()

	e.log.Info("trigger set rebuilt", logx.Int("pending", n))
	return nil
}

// Snapshot returns a read-only view of pending triggers ordered like the
// sweep would process them.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	snap := Snapshot{Enabled: e.cfg.Enabled, Timezone: e.cfg.Timezone}
	for _, t := range e.pending {
		snap.Pending = append(snap.Pending, TriggerInfo{PostID: t.postID, FireAt: t.fireAt, Gen: t.gen})
	}
	e.mu.Unlock()

	sortTriggerInfos(snap.Pending)
	return snap
}

// startSweepLocked creates the cron runner with the sweep job. Call with
// e.mu held and e.runCtx set.
func (e *Engine) startSweepLocked() {
	interval := e.sweepIntervalLocked()
	runCtx := e.runCtx
	e.c = cron.New()
	_, err := e.c.AddFunc("@every "+interval.String(), func() {
		e.sweepWG.Add(1)
		defer e.sweepWG.Done()
		e.Sweep(runCtx, time.Now())
	})
	if err != nil {
		// "@every <duration>" with a positive duration cannot fail to parse.
		e.log.Error("sweep registration failed", logx.Err(err))
		return
	}
	e.c.Start()
}

func (e *Engine) restartSweepLocked() {
	if e.c != nil {
		<-e.c.Stop().Done()
		e.c = nil
	}
	if e.runCtx == nil || e.runCtx.Err() != nil {
		return
	}
	e.startSweepLocked()
	e.log.Info("sweep restarted", logx.Duration("sweep_interval", e.sweepIntervalLocked()))
}

func (e *Engine) sweepIntervalLocked() time.Duration {
	if e.cfg.SweepInterval > 0 {
		return e.cfg.SweepInterval
	}
	return defaultSweepInterval
}

// location resolves the configured timezone, falling back to Local.
func (e *Engine) location() *time.Location {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loc != nil {
		return e.loc
	}
	tz := strings.TrimSpace(e.cfg.Timezone)
	if tz == "" {
		e.loc = time.Local
		return e.loc
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		e.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		loc = time.Local
	}
	e.loc = loc
	return loc
}

func (e *Engine) publishEvent(typ string, p store.Post, errMsg string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{
		Type: typ,
		Data: eventbus.PostEvent{PostID: p.ID, ChannelID: p.ChannelID, At: time.Now(), Error: errMsg},
	})
}
