package opsnotify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GladstoneOG/wabot/internal/activity"
	"github.com/GladstoneOG/wabot/internal/broadcast"
	"github.com/GladstoneOG/wabot/internal/eventbus"
)

type recSender struct {
	mu    sync.Mutex
	texts []string
	fails int
}

func (s *recSender) SendText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.New("telegram: too many requests")
	}
	s.texts = append(s.texts, text)
	return nil
}

func (s *recSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func TestFormat(t *testing.T) {
	res := broadcast.Result{
		Trigger:    broadcast.Scheduled,
		Recipients: 3,
		Success:    2,
		Failed:     1,
		Duration:   4200 * time.Millisecond,
		Entry:      activity.Entry{MessagePreview: "Promo today"},
	}
	text := Format(eventbus.Event{Type: eventbus.BroadcastFinished, Data: res})
	assert.Contains(t, text, "(scheduled)")
	assert.Contains(t, text, "recipients: 3, sent: 2, failed: 1")
	assert.Contains(t, text, "took: 4s")
	assert.True(t, strings.HasSuffix(text, "Promo today"))

	assert.NotEmpty(t, Format(eventbus.Event{Type: eventbus.SessionLoggedOut}))
	assert.Empty(t, Format(eventbus.Event{Type: eventbus.SessionQR}))
	assert.Empty(t, Format(eventbus.Event{Type: eventbus.BroadcastFinished, Data: "garbage"}))
}

func TestNotifierRetriesAndForwards(t *testing.T) {
	bus := eventbus.New()
	s := &recSender{fails: 1}
	n := New(s, bus, Options{RatePerSec: 100, RetryMax: 2, RetryBase: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = n.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Run subscribes asynchronously; publish until the first message lands.
	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.SessionLoggedOut})
		return len(s.sent()) > 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, s.sent()[0], "logged out")
}

func TestTelegramSendText(t *testing.T) {
	var (
		mu   sync.Mutex
		body map[string]any
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		path = r.URL.Path
		_ = json.Unmarshal(b, &body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"group"},"text":"hi"}}`)
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "123:abc", ChatID: 42, ThreadID: 9, URL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, tg.SendText(context.Background(), "hi"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "hi", body["text"])
	assert.Equal(t, "42", body["chat_id"])
}

func TestNewTelegramValidates(t *testing.T) {
	_, err := NewTelegram(TelegramConfig{ChatID: 1})
	assert.Error(t, err)
	_, err = NewTelegram(TelegramConfig{Token: "x"})
	assert.Error(t, err)
}

func TestSwap(t *testing.T) {
	var s Swap
	assert.False(t, s.Configured())
	assert.ErrorIs(t, s.SendText(context.Background(), "x"), ErrNoTarget)
}

func TestNotifierPaused(t *testing.T) {
	bus := eventbus.New()
	s := &recSender{}
	n := New(s, bus, Options{RatePerSec: 100})
	n.SetEnabled(false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = n.Run(ctx)
		close(done)
	}()
	for i := 0; i < 5; i++ {
		bus.Publish(eventbus.Event{Type: eventbus.SessionLoggedOut})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
	assert.Empty(t, s.sent())
}
