package logx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatTelegramLine(t *testing.T) {
	line := []byte(`{"level":"warn","time":"x","message":"broadcast partially failed","failed":2,"dispatch":"d1"}` + "\n")
	got := formatTelegramLine(line)

	assert.True(t, strings.HasPrefix(got, "[WARN] broadcast partially failed"))
	assert.Contains(t, got, "\n- dispatch=d1\n- failed=2")
	assert.NotContains(t, got, "time=")
}

func TestFormatTelegramLineNotJSON(t *testing.T) {
	assert.Equal(t, "plain text", formatTelegramLine([]byte("  plain text \n")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestNopLoggerIsSafe(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	zero.Info("dropped", String("k", "v"))

	l := Nop().With(String("comp", "test"))
	assert.False(t, l.IsZero())
	l.Warn("dropped too")
}
