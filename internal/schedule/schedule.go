// Package schedule re-runs the broadcast at a fixed interval.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GladstoneOG/wabot/internal/broadcast"
	"github.com/GladstoneOG/wabot/internal/eventbus"
	"github.com/GladstoneOG/wabot/pkg/logx"
)

type Sender interface {
	Send(ctx context.Context, trigger broadcast.Trigger) (broadcast.Result, error)
}

// every is a constant-delay cron.Schedule without cron.Every's rounding to
// whole seconds.
type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

type Controller struct {
	sender Sender
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	cron   *cron.Cron

	mu       sync.Mutex
	entry    cron.EntryID // 0 when inactive
	seq      uint64       // identifies the armed entry to its job
	interval time.Duration
	nextRun  *time.Time
}

func New(sender Sender, bus eventbus.Bus, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "schedule"))
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		sender: sender,
		bus:    bus,
		log:    log,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		cron:   cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
	}
	c.cron.Start()
	return c
}

// Start (re)arms the timer. Any existing timer is cancelled first; a
// non-positive interval leaves the schedule stopped.
func (c *Controller) Start(interval time.Duration) {
	c.mu.Lock()
	c.removeLocked()
	if interval > 0 {
		c.armLocked(interval, c.now())
	}
	next := c.nextRunLocked()
	c.mu.Unlock()

	c.publish()
	if interval > 0 {
		c.log.Info("schedule started", logx.Duration("interval", interval), logx.Any("next_run", next))
	}
}

// Stop cancels the timer. Calling it while stopped is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	was := c.entry != 0
	c.removeLocked()
	c.mu.Unlock()
	if was {
		c.publish()
		c.log.Info("schedule stopped")
	}
}

// Bump restarts an active timer from now, so the next scheduled run comes
// one full interval after a manual send.
func (c *Controller) Bump(now time.Time) {
	c.mu.Lock()
	if c.entry == 0 {
		c.mu.Unlock()
		return
	}
	interval := c.interval
	c.removeLocked()
	c.armLocked(interval, now)
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry != 0
}

func (c *Controller) NextRun() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextRunLocked()
}

// Close stops the timer and waits for a running job until ctx is done.
func (c *Controller) Close(ctx context.Context) {
	c.Stop()
	c.cancel()
	select {
	case <-c.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (c *Controller) armLocked(interval time.Duration, from time.Time) {
	c.seq++
	seq := c.seq
	c.entry = c.cron.Schedule(every(interval), cron.FuncJob(func() { c.fire(seq, interval) }))
	c.interval = interval
	next := from.Add(interval)
	c.nextRun = &next
}

func (c *Controller) removeLocked() {
	if c.entry != 0 {
		c.cron.Remove(c.entry)
	}
	c.entry = 0
	c.interval = 0
	c.nextRun = nil
}

func (c *Controller) nextRunLocked() *time.Time {
	if c.nextRun == nil {
		return nil
	}
	t := *c.nextRun
	return &t
}

func (c *Controller) fire(seq uint64, interval time.Duration) {
	if c.ctx.Err() != nil {
		return
	}
	firedAt := c.now()
	res, err := c.sender.Send(c.ctx, broadcast.Scheduled)
	if err != nil {
		c.log.Error("scheduled broadcast failed", logx.Err(err))
		return
	}
	c.mu.Lock()
	if c.entry != 0 && c.seq == seq {
		next := firedAt.Add(interval)
		c.nextRun = &next
	}
	c.mu.Unlock()
	c.publish()
	c.log.Debug("scheduled broadcast done", logx.Int("success", res.Success), logx.Int("failed", res.Failed))
}

func (c *Controller) publish() {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: eventbus.ScheduleChanged, Data: c.NextRun()})
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, _ := kv[i].(string)
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
