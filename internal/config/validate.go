package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment overrides for secrets, so they can live outside the file.
const (
	EnvTelegramToken   = "WASENDER_TELEGRAM_TOKEN"
	EnvGatewayPassword = "WASENDER_GATEWAY_PASSWORD"
	EnvDebugToken      = "WASENDER_DEBUG_TOKEN"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ApplyEnv copies non-empty secret overrides from the environment into cfg.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv(EnvGatewayPassword); v != "" {
		cfg.Gateway.Password = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDebugToken)); v != "" {
		cfg.Debug.Token = v
	}
}

// Validate checks struct tags plus the cross-field rules tags cannot express.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	durations := map[string]string{
		"telegram.poll_timeout":    cfg.Telegram.PollTimeout,
		"telegram.command_timeout": cfg.Telegram.CommandTimeout,
		"gateway.timeout":          cfg.Gateway.Timeout,
		"debug.read_timeout":       cfg.Debug.ReadTimeout,
		"debug.write_timeout":      cfg.Debug.WriteTimeout,
		"debug.idle_timeout":       cfg.Debug.IdleTimeout,
	}
	if cfg.Storage != nil {
		durations["storage.busy_timeout"] = cfg.Storage.BusyTimeout
	}
	for path, raw := range durations {
		if _, err := ParseDuration(path, raw); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("invalid config: scheduler.timezone: %w", err)
		}
	}

	seen := make(map[string]struct{}, len(cfg.Schedules))
	for i, s := range cfg.Schedules {
		name := strings.TrimSpace(s.Name)
		if _, dup := seen[name]; dup {
			return fmt.Errorf("invalid config: schedules[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
		if s.Type != "status" && strings.TrimSpace(s.Recipient) == "" {
			return fmt.Errorf("invalid config: schedules[%d]: recipient is required for type %s", i, s.Type)
		}
	}
	return nil
}
