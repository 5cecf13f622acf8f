package opsnotify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/GladstoneOG/wabot/internal/broadcast"
	"github.com/GladstoneOG/wabot/internal/eventbus"
	"github.com/GladstoneOG/wabot/pkg/logx"
)

var ErrNoTarget = errors.New("opsnotify: no telegram target configured")

type Sender interface {
	SendText(ctx context.Context, text string) error
}

// Swap is a Sender whose Telegram target can be replaced at runtime. A nil
// target makes SendText fail with ErrNoTarget.
type Swap struct {
	cur atomic.Pointer[Telegram]
}

func (s *Swap) Set(t *Telegram) { s.cur.Store(t) }

func (s *Swap) Configured() bool { return s.cur.Load() != nil }

func (s *Swap) SendText(ctx context.Context, text string) error {
	t := s.cur.Load()
	if t == nil {
		return ErrNoTarget
	}
	return t.SendText(ctx, text)
}

type Options struct {
	// RatePerSec caps outgoing messages. Default 1.
	RatePerSec float64
	RetryMax   int
	RetryBase  time.Duration
	Log        logx.Logger
}

// Notifier turns bus events into chat messages.
type Notifier struct {
	sender    Sender
	bus       eventbus.Bus
	limiter   *rate.Limiter
	retryMax  int
	retryBase time.Duration
	log       logx.Logger
	enabled   atomic.Bool
}

func New(sender Sender, bus eventbus.Bus, opts Options) *Notifier {
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 1
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	n := &Notifier{
		sender:    sender,
		bus:       bus,
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		retryMax:  opts.RetryMax,
		retryBase: opts.RetryBase,
		log:       opts.Log.With(logx.String("comp", "opsnotify")),
	}
	n.enabled.Store(true)
	return n
}

// SetEnabled pauses or resumes forwarding. Events seen while paused are
// dropped.
func (n *Notifier) SetEnabled(v bool) { n.enabled.Store(v) }

// Run forwards events until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	ch, unsubscribe := n.bus.Subscribe(32)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if !n.enabled.Load() {
				continue
			}
			text := Format(ev)
			if text == "" {
				continue
			}
			if err := n.deliver(ctx, text); err != nil && ctx.Err() == nil {
				// logged at info so the ops sink does not echo its own failure
				n.log.Info("notification dropped", logx.String("event", ev.Type), logx.Err(err))
			}
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, text string) error {
	var err error
	delay := n.retryBase
	for attempt := 0; attempt <= n.retryMax; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			delay *= 2
		}
		if werr := n.limiter.Wait(ctx); werr != nil {
			return werr
		}
		if err = n.sender.SendText(ctx, text); err == nil {
			return nil
		}
	}
	return err
}

// Format renders the events worth telling an operator about. Others yield "".
func Format(ev eventbus.Event) string {
	switch ev.Type {
	case eventbus.BroadcastFinished:
		res, ok := ev.Data.(broadcast.Result)
		if !ok {
			return ""
		}
		var b strings.Builder
		fmt.Fprintf(&b, "📣 Broadcast finished (%s)\n", res.Trigger)
		fmt.Fprintf(&b, "recipients: %d, sent: %d, failed: %d\n", res.Recipients, res.Success, res.Failed)
		fmt.Fprintf(&b, "took: %s", res.Duration.Round(time.Second))
		if res.Entry.MessagePreview != "" {
			fmt.Fprintf(&b, "\n\n%s", res.Entry.MessagePreview)
		}
		return b.String()
	case eventbus.SessionLoggedOut:
		return "🔌 WhatsApp session logged out; scan a new QR code to resume broadcasting"
	default:
		return ""
	}
}
