package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasender/internal/config"
	kit "wasender/internal/transport"
)

const sampleYAML = `
telegram:
  token: t
  owner_user_ids: [42]
gateway:
  base_url: http://127.0.0.1:3000
  timeout: 5s
scheduler:
  enabled: true
schedules:
  - name: morning
    spec: "07:30"
    type: status
    text: Good morning
    devices: [all]
`

func sample(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Decode("c.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	return cfg
}

func TestValidateConfigChecksSchedules(t *testing.T) {
	cfg := sample(t)
	require.NoError(t, validateConfig(context.Background(), cfg))

	cfg.Schedules[0].Spec = "every: soon"
	err := validateConfig(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "morning")

	cfg = sample(t)
	cfg.Storage = &config.StorageConfig{Driver: "sqlite"}
	assert.ErrorContains(t, validateConfig(context.Background(), cfg), "storage.path")
}

func TestMapStorageConfig(t *testing.T) {
	cfg := sample(t)
	_, enabled, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.False(t, enabled)

	cfg.Storage = &config.StorageConfig{Driver: "none"}
	_, enabled, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.False(t, enabled)

	cfg.Storage = &config.StorageConfig{Driver: "SQLite", Path: "./a.db"}
	sc, enabled, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	cfg.Storage = &config.StorageConfig{Driver: "file"}
	sc, enabled, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "file", sc.Driver)
}

func TestMapLogConfigNeedsLogChat(t *testing.T) {
	cfg := sample(t)
	cfg.Logging.Telegram.Enabled = true
	assert.False(t, mapLogConfig(cfg).Telegram.Enabled)

	cfg.Telegram.LogChatID = -100
	cfg.Telegram.LogThreadID = 3
	lc := mapLogConfig(cfg)
	assert.True(t, lc.Telegram.Enabled)
	assert.Equal(t, int64(-100), lc.Telegram.ChatID)
	assert.Equal(t, 3, lc.Telegram.ThreadID)

	target, ok := logTarget(cfg)
	require.True(t, ok)
	assert.Equal(t, kit.ChatTarget{ChatID: -100, ThreadID: 3}, target)
}

func TestMapGatewayAndDebugDefaults(t *testing.T) {
	cfg := sample(t)
	assert.Equal(t, 5*time.Second, mapGatewayConfig(cfg).Timeout)

	dc := mapDebugConfig(cfg)
	assert.False(t, dc.Enabled)
	assert.Equal(t, 10*time.Second, dc.ReadTimeout)
	assert.Equal(t, 40*time.Second, dc.WriteTimeout)

	cfg.Events = config.EventsConfig{Enabled: true, URL: "amqp://localhost", Exchange: "wa"}
	ec := mapEventsConfig(cfg)
	assert.Equal(t, "wa", ec.Exchange)
	assert.Equal(t, "amqp://localhost", ec.URL)
}
