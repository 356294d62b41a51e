package app

import (
	"fmt"
	"time"

	"postflow/internal/config"
	"postflow/internal/engine"
	telegram "postflow/internal/gateway/telegram"
	"postflow/internal/health"
	"postflow/internal/store"
)

func mapGatewayConfig(cfg *config.Config) (telegram.Config, error) {
	sendTimeout, err := config.ParseDurationDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 15*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	if cfg.Telegram.RatePerSec < 0 {
		return telegram.Config{}, fmt.Errorf("telegram.rate_per_sec must be >= 0")
	}
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		SendTimeout: sendTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	sweep, err := config.ParseDurationDefault("scheduler.sweep_interval", cfg.Scheduler.SweepInterval, 30*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	if sweep <= 0 {
		return engine.Config{}, fmt.Errorf("scheduler.sweep_interval must be positive")
	}
	return engine.Config{
		Enabled:       cfg.Scheduler.Enabled,
		SweepInterval: sweep,
		Timezone:      cfg.Scheduler.Timezone,
	}, nil
}

func mapHealthConfig(cfg *config.Config) (health.Config, error) {
	if err := health.ValidateSchedule(cfg.Health.Schedule); err != nil {
		return health.Config{}, fmt.Errorf("health.schedule: %w", err)
	}
	timeout, err := config.ParseDurationDefault("health.timeout", cfg.Health.Timeout, 2*time.Minute)
	if err != nil {
		return health.Config{}, err
	}
	return health.Config{
		Enabled:  cfg.Health.Enabled,
		Schedule: cfg.Health.Schedule,
		Timeout:  timeout,
	}, nil
}

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	if cfg.Storage.Path == "" {
		return store.Config{}, fmt.Errorf("storage.path must be set")
	}
	busy, err := config.ParseDurationDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{Path: cfg.Storage.Path, BusyTimeout: busy}, nil
}
