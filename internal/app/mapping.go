package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wasender/internal/config"
	"wasender/internal/events/amqpfwd"
	"wasender/internal/gateway"
	"wasender/internal/notifier"
	"wasender/internal/observability/debugsrv"
	"wasender/internal/schedule"
	"wasender/internal/storage"
	kit "wasender/internal/transport"
	logx "wasender/pkg/logx"
)

const defaultCommandTimeout = 90 * time.Second

// validateConfig is the transactional validator used on load and on every
// hot reload.
func validateConfig(ctx context.Context, cfg *config.Config) error {
	if err := config.Validate(ctx, cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	sc, err := schedule.FromConfig(cfg.Scheduler, cfg.Schedules)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := schedule.Validate(sc); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && cfg.Telegram.LogChatID != 0,
			ChatID:     cfg.Telegram.LogChatID,
			ThreadID:   cfg.Telegram.LogThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapGatewayConfig(cfg *config.Config) gateway.Config {
	g := cfg.Gateway
	return gateway.Config{
		BaseURL:      g.BaseURL,
		Username:     g.Username,
		Password:     g.Password,
		DeviceHeader: g.DeviceHeader,
		DevicesPath:  g.DevicesPath,
		Timeout:      config.DurationOr(g.Timeout, gateway.DefaultTimeout),
		RatePerSec:   g.RatePerSec,
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		Workers:    cfg.Notifier.Workers,
		QueueSize:  cfg.Notifier.QueueSize,
		RatePerSec: cfg.Notifier.RatePerSec,
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout)
		if err != nil {
			return storage.Config{}, false, err
		}
		if busy == 0 {
			busy = time.Second
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDebugConfig(cfg *config.Config) debugsrv.Config {
	d := cfg.Debug
	return debugsrv.Config{
		Enabled:       d.Enabled,
		Addr:          d.Addr,
		Prefix:        d.Prefix,
		Token:         d.Token,
		AllowInsecure: d.AllowInsecure,
		ReadTimeout:   config.DurationOr(d.ReadTimeout, 10*time.Second),
		// profiles stream for up to 30s by default
		WriteTimeout: config.DurationOr(d.WriteTimeout, 40*time.Second),
		IdleTimeout:  config.DurationOr(d.IdleTimeout, 60*time.Second),
	}
}

func mapEventsConfig(cfg *config.Config) amqpfwd.Config {
	return amqpfwd.Config{
		URL:          cfg.Events.URL,
		Exchange:     cfg.Events.Exchange,
		ExchangeKind: cfg.Events.ExchangeKind,
		RoutingKey:   cfg.Events.RoutingKey,
	}
}

// logTarget is the operator chat, if configured.
func logTarget(cfg *config.Config) (kit.ChatTarget, bool) {
	if cfg.Telegram.LogChatID == 0 {
		return kit.ChatTarget{}, false
	}
	return kit.ChatTarget{ChatID: cfg.Telegram.LogChatID, ThreadID: cfg.Telegram.LogThreadID}, true
}
