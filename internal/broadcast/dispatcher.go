// Package broadcast sends the configured message to every recipient, one at
// a time, with randomized pauses in between.
package broadcast

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"github.com/GladstoneOG/wabot/internal/activity"
	"github.com/GladstoneOG/wabot/internal/campaign"
	"github.com/GladstoneOG/wabot/internal/eventbus"
	"github.com/GladstoneOG/wabot/internal/linkpreview"
	"github.com/GladstoneOG/wabot/internal/recipient"
	"github.com/GladstoneOG/wabot/internal/transport"
	"github.com/GladstoneOG/wabot/pkg/logx"
)

type Trigger int

const (
	Manual Trigger = iota + 1
	Scheduled
)

func (t Trigger) String() string {
	if t == Scheduled {
		return "scheduled"
	}
	return "manual"
}

// Result summarizes one finished pass.
type Result struct {
	Trigger    Trigger        `json:"trigger"`
	Entry      activity.Entry `json:"entry"`
	Recipients int            `json:"recipients"`
	Success    int            `json:"success"`
	Failed     int            `json:"failed"`
	Preview    bool           `json:"preview"`
	Duration   time.Duration  `json:"duration"`
}

type ConnSource interface {
	Conn() (transport.Conn, bool)
}

type ConfigSource interface {
	Current() campaign.Snapshot
}

type LogAppender interface {
	Append(ctx context.Context, recipients []recipient.Address, success, failed int, message string) (activity.Entry, error)
}

type PreviewFetcher interface {
	Fetch(ctx context.Context, url string) (*transport.Preview, error)
}

// ScheduleBumper re-arms an active schedule after a manual send.
type ScheduleBumper interface {
	Bump(now time.Time)
}

type Options struct {
	// Preview is the fallback used when the connection cannot build a link
	// preview itself. Nil disables it.
	Preview        PreviewFetcher
	PreviewTimeout time.Duration
	Bus            eventbus.Bus
	Log            logx.Logger
}

type Dispatcher struct {
	session ConnSource
	config  ConfigSource
	logs    LogAppender

	preview        PreviewFetcher
	previewTimeout time.Duration
	bus            eventbus.Bus
	log            logx.Logger

	schedule atomic.Pointer[ScheduleBumper]
	inFlight atomic.Bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	// jitter returns a uniform duration in [0, n).
	jitter func(n time.Duration) time.Duration
}

func NewDispatcher(session ConnSource, config ConfigSource, logs LogAppender, opts Options) *Dispatcher {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.PreviewTimeout <= 0 {
		opts.PreviewTimeout = 5 * time.Second
	}
	return &Dispatcher{
		session:        session,
		config:         config,
		logs:           logs,
		preview:        opts.Preview,
		previewTimeout: opts.PreviewTimeout,
		bus:            opts.Bus,
		log:            opts.Log.With(logx.String("comp", "broadcast")),
		now:            time.Now,
		sleep:          sleepCtx,
		jitter:         rand.N[time.Duration],
	}
}

// SetSchedule wires the controller bumped by manual sends.
func (d *Dispatcher) SetSchedule(s ScheduleBumper) {
	d.schedule.Store(&s)
}

// InProgress reports whether a pass is running.
func (d *Dispatcher) InProgress() bool { return d.inFlight.Load() }

// Send runs one broadcast pass. Precondition failures return *Error and
// leave no activity entry. Individual delivery failures are counted, never
// returned. If ctx ends mid-pass the partial outcome is still logged and
// ctx.Err() is returned with it.
func (d *Dispatcher) Send(ctx context.Context, trigger Trigger) (Result, error) {
	if !d.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyInProgress
	}
	defer d.inFlight.Store(false)

	conn, ok := d.session.Conn()
	if !ok {
		return Result{}, ErrNotConnected
	}
	snap := d.config.Current()
	if len(snap.Recipients) == 0 {
		return Result{}, ErrNoRecipients
	}
	if strings.TrimSpace(snap.Message) == "" {
		return Result{}, ErrEmptyMessage
	}

	started := d.now()
	log := d.log.With(logx.String("trigger", trigger.String()), logx.Int("recipients", len(snap.Recipients)))
	log.Info("broadcast started")

	msg := transport.Message{Text: snap.Message, Preview: d.buildPreview(ctx, conn, snap.Message)}
	res := Result{Trigger: trigger, Recipients: len(snap.Recipients), Preview: msg.Preview != nil}

	var passErr error
	for i, addr := range snap.Recipients {
		if i > 0 {
			if err := d.pause(ctx, snap.MinDelay(), snap.MaxDelay()); err != nil {
				passErr = err
				break
			}
		}
		if err := conn.Send(ctx, recipient.Qualify(addr), msg); err != nil {
			res.Failed++
			log.Warn("send failed", logx.String("to", string(addr)), logx.Err(err))
			continue
		}
		res.Success++
	}
	res.Duration = d.now().Sub(started)

	entry, err := d.logs.Append(context.WithoutCancel(ctx), snap.Recipients, res.Success, res.Failed, snap.Message)
	if err != nil {
		log.Warn("activity entry not persisted", logx.Err(err))
	}
	res.Entry = entry

	if trigger == Manual {
		if s := d.schedule.Load(); s != nil {
			(*s).Bump(d.now())
		}
	}
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.BroadcastFinished, Data: res})
	}
	log.Info("broadcast finished",
		logx.Int("success", res.Success),
		logx.Int("failed", res.Failed),
		logx.Bool("preview", res.Preview),
		logx.Duration("took", res.Duration),
		logx.Err(passErr),
	)
	return res, passErr
}

// buildPreview asks the connection first, then the HTTP fallback. Failures
// only cost the preview.
func (d *Dispatcher) buildPreview(ctx context.Context, conn transport.Conn, message string) *transport.Preview {
	url := linkpreview.FirstURL(message)
	if url == "" {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, d.previewTimeout)
	defer cancel()

	p, err := conn.LinkPreview(pctx, url)
	if err != nil {
		d.log.Debug("transport link preview failed", logx.String("url", url), logx.Err(err))
	}
	if p != nil {
		return p
	}
	if d.preview == nil {
		return nil
	}
	p, err = d.preview.Fetch(pctx, url)
	if err != nil {
		d.log.Debug("link preview fetch failed", logx.String("url", url), logx.Err(err))
		return nil
	}
	return p
}

// pause waits between two sends: exactly lo when lo == hi, otherwise a
// uniform duration in [lo, hi]. hi == 0 means no pause.
func (d *Dispatcher) pause(ctx context.Context, lo, hi time.Duration) error {
	if hi <= 0 {
		return ctx.Err()
	}
	wait := lo
	if hi > lo {
		wait += d.jitter(hi - lo + 1)
	}
	return d.sleep(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
