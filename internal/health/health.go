// Package health periodically refreshes channel metadata from Telegram
// and records daily membership samples for growth analytics. A channel
// whose chat cannot be resolved is marked inactive so the publish path
// fails fast instead of burning gateway calls on it.
package health

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"postflow/internal/gateway"
	"postflow/internal/store"
	logx "postflow/pkg/logx"
)

const (
	defaultSchedule = "@every 30m"
	defaultTimeout  = 2 * time.Minute
)

type Config struct {
	Enabled  bool
	Schedule string        // cron spec or "@every <duration>"
	Timeout  time.Duration // bound on one full pass over all channels
}

// ValidateSchedule reports whether spec would be accepted as a check
// schedule. Empty means the default.
func ValidateSchedule(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	p := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := p.Parse(spec)
	return err
}

// Directory is the slice of the store the checker needs.
type Directory interface {
	ListChannels(ctx context.Context, activeOnly bool) ([]store.Channel, error)
	UpdateChannelHealth(ctx context.Context, id int64, title string, memberCount int, active bool) error
	AddChannelStats(ctx context.Context, cs store.ChannelStats) error
}

type Service struct {
	log logx.Logger
	db  Directory
	gw  gateway.Gateway

	mu     sync.Mutex
	cfg    Config
	parser cron.Parser
	c      *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc

	checkWG sync.WaitGroup
}

func New(cfg Config, db Directory, gw gateway.Gateway, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		db:     db,
		gw:     gw,
		cfg:    cfg,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates config at runtime. A changed schedule restarts the cron
// runner.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldSchedule := s.scheduleLocked()
	s.cfg = cfg

	if s.c == nil {
		return
	}
	if s.scheduleLocked() != oldSchedule {
		s.restartLocked()
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	if err := s.startLocked(); err != nil {
		s.cancel()
		s.runCtx, s.cancel = nil, nil
		return err
	}
	s.log.Info("health checker started", logx.String("schedule", s.scheduleLocked()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-c.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.checkWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("health checker stopped")
	case <-ctx.Done():
		s.log.Warn("health checker stop deadline reached; pass finishing in background")
	}
}

func (s *Service) startLocked() error {
	runCtx := s.runCtx
	s.c = cron.New(cron.WithParser(s.parser))
	_, err := s.c.AddFunc(s.scheduleLocked(), func() {
		s.checkWG.Add(1)
		defer s.checkWG.Done()
		s.CheckAll(runCtx)
	})
	if err != nil {
		s.c = nil
		return err
	}
	s.c.Start()
	return nil
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	if s.runCtx == nil || s.runCtx.Err() != nil {
		return
	}
	if err := s.startLocked(); err != nil {
		s.log.Error("health schedule rejected; checker idle", logx.String("schedule", s.scheduleLocked()), logx.Err(err))
		return
	}
	s.log.Info("health checker restarted", logx.String("schedule", s.scheduleLocked()))
}

func (s *Service) scheduleLocked() string {
	if sched := strings.TrimSpace(s.cfg.Schedule); sched != "" {
		return sched
	}
	return defaultSchedule
}

func (s *Service) timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Timeout > 0 {
		return s.cfg.Timeout
	}
	return defaultTimeout
}

// CheckAll runs one pass over every active channel. Exported so a pass
// can be forced outside the cron schedule.
func (s *Service) CheckAll(ctx context.Context) {
	ctx, cancelPass := context.WithTimeout(ctx, s.timeout())
	defer cancelPass()

	channels, err := s.db.ListChannels(ctx, true)
	if err != nil {
		s.log.Error("health pass aborted", logx.Err(err))
		return
	}

	var checked, deactivated int
	for _, ch := range channels {
		if ctx.Err() != nil {
			s.log.Warn("health pass cut short", logx.Int("checked", checked), logx.Int("total", len(channels)))
			return
		}
		checked++
		if s.checkOne(ctx, ch) {
			continue
		}
		deactivated++
	}
	s.log.Info("health pass done", logx.Int("checked", checked), logx.Int("deactivated", deactivated))
}

// checkOne refreshes one channel and reports whether it is still
// reachable.
func (s *Service) checkOne(ctx context.Context, ch store.Channel) bool {
	info, err := s.gw.ChatInfo(ctx, ch.ChatID)
	if err != nil {
		// A cancelled pass is not evidence the channel is gone.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		s.log.Warn("channel unreachable; deactivating",
			logx.Int64("channel_id", ch.ID), logx.String("chat", ch.ChatID), logx.Err(err))
		if uerr := s.db.UpdateChannelHealth(ctx, ch.ID, ch.Title, ch.MemberCount, false); uerr != nil {
			s.log.Error("deactivate failed", logx.Int64("channel_id", ch.ID), logx.Err(uerr))
		}
		return false
	}

	title := info.Title
	if title == "" {
		title = ch.Title
	}
	if err := s.db.UpdateChannelHealth(ctx, ch.ID, title, info.MemberCount, true); err != nil {
		s.log.Error("channel update failed", logx.Int64("channel_id", ch.ID), logx.Err(err))
		return true
	}
	if err := s.db.AddChannelStats(ctx, store.ChannelStats{
		ChannelID:   ch.ID,
		Date:        time.Now(),
		MemberCount: info.MemberCount,
	}); err != nil {
		s.log.Error("membership sample failed", logx.Int64("channel_id", ch.ID), logx.Err(err))
	}
	return true
}
