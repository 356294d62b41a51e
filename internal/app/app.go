// Package app wires the services together: config, logging, store,
// gateway, engine, health checker and analytics. It owns startup order,
// hot config reload fan-out and bounded shutdown.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"postflow/internal/analytics"
	"postflow/internal/config"
	"postflow/internal/engine"
	"postflow/internal/eventbus"
	telegram "postflow/internal/gateway/telegram"
	"postflow/internal/health"
	"postflow/internal/runtime/supervisor"
	"postflow/internal/store"
	logx "postflow/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	db   *store.Store
	gw   *telegram.Gateway

	eng    *engine.Engine
	checks *health.Service
	stats  *analytics.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	gwCfg, err := mapGatewayConfig(cfg)
	if err != nil {
		return nil, err
	}
	gw, err := telegram.New(gwCfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	storeCfg, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	db, err := store.Open(storeCfg, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	eng := engine.New(engCfg, db, db, gw, bus, log.With(logx.String("comp", "engine")))

	healthCfg, err := mapHealthConfig(cfg)
	if err != nil {
		return nil, err
	}
	checks := health.New(healthCfg, db, gw, log.With(logx.String("comp", "health")))

	stats := analytics.New(db, log.With(logx.String("comp", "analytics")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		db:      db,
		gw:      gw,
		eng:     eng,
		checks:  checks,
		stats:   stats,
	}, nil
}

func (a *App) Engine() *engine.Engine { return a.eng }

func (a *App) Analytics() *analytics.Service { return a.stats }

func (a *App) Store() *store.Store { return a.db }

// Done is closed when the app supervisor context is canceled (fatal
// error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token must be set")
		}
		if _, err := mapGatewayConfig(cfg); err != nil {
			return err
		}
		if _, err := mapEngineConfig(cfg); err != nil {
			return err
		}
		if _, err := mapHealthConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStoreConfig(cfg); err != nil {
			return err
		}
		if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
			}
		}
		return nil
	})

	if a.eng.Enabled() {
		if err := a.eng.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	if a.checks.Enabled() {
		if err := a.checks.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	// Publication events at info level; components can also subscribe
	// themselves.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

// reloadLoop applies committed config updates to running services.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections := config.ChangedSections(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}

			for _, s := range sections {
				if s == "storage" {
					a.log.Warn("storage config changed; restart required for changes to take effect")
				}
			}

			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})

			if gwCfg, err := mapGatewayConfig(newCfg); err != nil {
				a.log.Warn("invalid telegram config; keeping previous", logx.Err(err))
			} else {
				a.gw.Apply(gwCfg)
			}

			a.applyEngine(ctx, newCfg)
			a.applyHealth(ctx, newCfg)

			a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
		}
	}
}

func (a *App) applyEngine(ctx context.Context, cfg *config.Config) {
	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		return
	}
	wasEnabled := a.eng.Enabled()
	a.eng.Apply(engCfg)

	switch {
	case wasEnabled && !engCfg.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.eng.Stop(stopCtx)
		cancel()
	case !wasEnabled && engCfg.Enabled:
		a.log.Info("scheduler enabled via config")
		if err := a.eng.Start(ctx); err != nil {
			a.log.Error("scheduler start failed", logx.Err(err))
		}
	}
}

func (a *App) applyHealth(ctx context.Context, cfg *config.Config) {
	healthCfg, err := mapHealthConfig(cfg)
	if err != nil {
		a.log.Warn("invalid health config; keeping previous", logx.Err(err))
		return
	}
	wasEnabled := a.checks.Enabled()
	a.checks.Apply(healthCfg)

	switch {
	case wasEnabled && !healthCfg.Enabled:
		a.log.Info("health checker disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.checks.Stop(stopCtx)
		cancel()
	case !wasEnabled && healthCfg.Enabled:
		a.log.Info("health checker enabled via config")
		if err := a.checks.Start(ctx); err != nil {
			a.log.Error("health checker start failed", logx.Err(err))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding
	// immediately.
	a.sup.Cancel()

	// Each shutdown step gets an upper bound so one component cannot
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// Respect the caller's deadline; never extend it.
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("health", 2*time.Second, func(c context.Context) error { a.checks.Stop(c); return nil })
	step("engine", 5*time.Second, func(c context.Context) error { a.eng.Stop(c); return nil })
	step("store", 1*time.Second, func(c context.Context) error { return a.db.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		return a.logs.Close()
	}
	return nil
}
