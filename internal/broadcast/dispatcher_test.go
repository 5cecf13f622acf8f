package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GladstoneOG/wabot/internal/activity"
	"github.com/GladstoneOG/wabot/internal/campaign"
	"github.com/GladstoneOG/wabot/internal/recipient"
	"github.com/GladstoneOG/wabot/internal/storage"
	"github.com/GladstoneOG/wabot/internal/transport"
	"github.com/GladstoneOG/wabot/pkg/logx"
)

type stubConn struct {
	mu        sync.Mutex
	sent      []string
	msgs      []transport.Message
	failTo    string
	previews  int
	started   chan struct{}
	release   chan struct{}
	startOnce sync.Once
}

func (c *stubConn) Send(ctx context.Context, to string, msg transport.Message) error {
	if c.started != nil {
		c.startOnce.Do(func() { close(c.started) })
	}
	if c.release != nil {
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, to)
	c.msgs = append(c.msgs, msg)
	if c.failTo != "" && strings.HasPrefix(to, c.failTo) {
		return errors.New("recipient not on whatsapp")
	}
	return nil
}

func (c *stubConn) LinkPreview(context.Context, string) (*transport.Preview, error) {
	c.mu.Lock()
	c.previews++
	c.mu.Unlock()
	return nil, nil
}

func (c *stubConn) Logout(context.Context) error { return nil }
func (c *stubConn) Close() error                 { return nil }

type stubSession struct {
	conn transport.Conn
}

func (s stubSession) Conn() (transport.Conn, bool) { return s.conn, s.conn != nil }

type stubConfig struct{ snap campaign.Snapshot }

func (c stubConfig) Current() campaign.Snapshot { return c.snap }

type stubFetcher struct {
	mu    sync.Mutex
	calls []string
}

func (f *stubFetcher) Fetch(_ context.Context, url string) (*transport.Preview, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	return &transport.Preview{URL: url, Title: "Promo"}, nil
}

type stubBumper struct {
	mu    sync.Mutex
	bumps int
}

func (b *stubBumper) Bump(time.Time) {
	b.mu.Lock()
	b.bumps++
	b.mu.Unlock()
}

func snapshot(raw, message string, minSec, maxSec float64) campaign.Snapshot {
	cfg := campaign.Config{RecipientsRaw: raw, Message: message, MinDelaySec: minSec, MaxDelaySec: maxSec}
	return campaign.Snapshot{Config: cfg, Recipients: recipient.Normalize(raw, "62")}
}

func newTestDispatcher(conn transport.Conn, snap campaign.Snapshot, fetcher PreviewFetcher) (*Dispatcher, *activity.Store) {
	logs := activity.New(storage.NewMemory(), logx.Nop())
	var sess stubSession
	if conn != nil {
		sess.conn = conn
	}
	d := NewDispatcher(sess, stubConfig{snap}, logs, Options{Preview: fetcher})
	return d, logs
}

func TestSendTwoRecipientsWithPreview(t *testing.T) {
	conn := &stubConn{failTo: "628222222"}
	fetcher := &stubFetcher{}
	d, logs := newTestDispatcher(conn, snapshot("628111111;628222222", "Sale today https://shop.example/promo!", 0, 0), fetcher)

	res, err := d.Send(context.Background(), Manual)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Success)
	assert.Equal(t, 1, res.Failed)
	assert.True(t, res.Preview)

	assert.Equal(t, []string{"628111111@s.whatsapp.net", "628222222@s.whatsapp.net"}, conn.sent)
	assert.Equal(t, 1, conn.previews)
	assert.Equal(t, []string{"https://shop.example/promo"}, fetcher.calls)
	require.NotNil(t, conn.msgs[0].Preview)
	assert.Equal(t, "Promo", conn.msgs[0].Preview.Title)

	entries := logs.List()
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Success+entries[0].Failed)
	assert.Equal(t, []recipient.Address{"628111111", "628222222"}, entries[0].Recipients)
	assert.Equal(t, res.Entry.ID, entries[0].ID)
}

func TestSendNotConnectedWritesNoEntry(t *testing.T) {
	d, logs := newTestDispatcher(nil, snapshot("628111111", "hi", 0, 0), nil)

	_, err := d.Send(context.Background(), Manual)
	require.ErrorIs(t, err, ErrNotConnected)
	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, KindNotConnected, berr.Kind)
	assert.Empty(t, logs.List())
	assert.False(t, d.InProgress())
}

func TestSendPreconditions(t *testing.T) {
	tests := []struct {
		name string
		snap campaign.Snapshot
		want error
	}{
		{name: "no recipients", snap: snapshot("abc", "hi", 0, 0), want: ErrNoRecipients},
		{name: "blank message", snap: snapshot("628111111", "  \n ", 0, 0), want: ErrEmptyMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, logs := newTestDispatcher(&stubConn{}, tt.snap, nil)
			_, err := d.Send(context.Background(), Manual)
			require.ErrorIs(t, err, tt.want)
			assert.Empty(t, logs.List())
		})
	}
}

func TestSendRejectsConcurrentPass(t *testing.T) {
	conn := &stubConn{started: make(chan struct{}), release: make(chan struct{})}
	d, logs := newTestDispatcher(conn, snapshot("628111111", "hi", 0, 0), nil)

	firstDone := make(chan error, 1)
	go func() {
		_, err := d.Send(context.Background(), Manual)
		firstDone <- err
	}()
	<-conn.started

	_, err := d.Send(context.Background(), Scheduled)
	require.ErrorIs(t, err, ErrAlreadyInProgress)

	close(conn.release)
	require.NoError(t, <-firstDone)

	_, err = d.Send(context.Background(), Manual)
	require.NoError(t, err)
	assert.Len(t, logs.List(), 2)
}

func TestSendPacing(t *testing.T) {
	tests := []struct {
		name           string
		minSec, maxSec float64
		want           []time.Duration
	}{
		{name: "fixed", minSec: 2, maxSec: 2, want: []time.Duration{2 * time.Second, 2 * time.Second}},
		{name: "range upper bound", minSec: 1, maxSec: 3, want: []time.Duration{3 * time.Second, 3 * time.Second}},
		{name: "disabled", minSec: 0, maxSec: 0, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newTestDispatcher(&stubConn{}, snapshot("628111111;628222222;628333333", "hi", tt.minSec, tt.maxSec), nil)
			var slept []time.Duration
			d.sleep = func(_ context.Context, dur time.Duration) error {
				slept = append(slept, dur)
				return nil
			}
			d.jitter = func(n time.Duration) time.Duration { return n - 1 }

			_, err := d.Send(context.Background(), Manual)
			require.NoError(t, err)
			assert.Equal(t, tt.want, slept)
		})
	}
}

func TestSendCancelledMidPassLogsPartialOutcome(t *testing.T) {
	conn := &stubConn{}
	d, logs := newTestDispatcher(conn, snapshot("628111111;628222222", "hi", 5, 5), nil)
	ctx, cancel := context.WithCancel(context.Background())
	d.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res, err := d.Send(ctx, Scheduled)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Success)
	assert.Len(t, conn.sent, 1)
	require.Len(t, logs.List(), 1)
}

func TestManualSendBumpsSchedule(t *testing.T) {
	d, _ := newTestDispatcher(&stubConn{}, snapshot("628111111", "hi", 0, 0), nil)
	b := &stubBumper{}
	d.SetSchedule(b)

	_, err := d.Send(context.Background(), Scheduled)
	require.NoError(t, err)
	assert.Equal(t, 0, b.bumps)

	_, err = d.Send(context.Background(), Manual)
	require.NoError(t, err)
	assert.Equal(t, 1, b.bumps)
}
