package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		out = append(out, m)
	}
	return out
}

func TestWriterFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "test"))

	log.Debug("hidden")
	log.Info("hello", Int("n", 3), Err(errors.New("boom")), Duration("took", time.Second))
	log.Logf(LevelWarn, "retry %d", 2)

	got := lines(t, &buf)
	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0]["message"])
	assert.Equal(t, "test", got[0]["comp"])
	assert.Equal(t, float64(3), got[0]["n"])
	assert.Equal(t, "boom", got[0][zerolog.ErrorFieldName])
	assert.Contains(t, got[0]["caller"], "logging_test.go:")
	assert.Equal(t, "warn", got[1]["level"])
	assert.Equal(t, "retry 2", got[1]["message"])
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	zero.Info("no panic")

	nop := Nop()
	assert.False(t, nop.IsZero())
	nop.Error("discarded")
}

func TestFormatOpsJSON(t *testing.T) {
	got := formatOpsJSON([]byte(`{"level":"warn","time":"x","message":"disk low","path":"/data","free":12}`))
	assert.Equal(t, "[WARN] disk low\n- free=12\n- path=/data", got)

	assert.Equal(t, "plain text", formatOpsJSON([]byte("plain text\n")))
	assert.Len(t, truncate(strings.Repeat("a", 5000), 3500), 3500)
}

type chatSender struct {
	mu    sync.Mutex
	texts []string
}

func (c *chatSender) SendText(_ context.Context, text string) error {
	c.mu.Lock()
	c.texts = append(c.texts, text)
	c.mu.Unlock()
	return nil
}

func (c *chatSender) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func TestOpsForwardsWarnings(t *testing.T) {
	cfg := Config{Level: "debug", Ops: OpsConfig{Enabled: false, MinLevel: "warn", RatePerSec: 50}}
	svc, log := New(cfg)
	defer svc.Close()

	sender := &chatSender{}
	svc.SetSender(sender)
	cfg.Ops.Enabled = true
	svc.Apply(cfg)

	log.Info("routine")
	log.Warn("session dropped", String("reason", "replaced"))

	require.Eventually(t, func() bool { return len(sender.sent()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, strings.HasPrefix(sender.sent()[0], "[WARN] session dropped"))
	assert.Contains(t, sender.sent()[0], "reason=replaced")
}
