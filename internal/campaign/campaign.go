// Package campaign holds the broadcast configuration: recipients, message,
// pacing and schedule interval.
package campaign

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GladstoneOG/wabot/internal/recipient"
	"github.com/GladstoneOG/wabot/internal/storage"
	"github.com/GladstoneOG/wabot/pkg/logx"
)

// DocumentName is the storage document holding the raw config.
const DocumentName = "config"

// Config is the user-editable part, persisted as is.
type Config struct {
	RecipientsRaw   string  `json:"recipientsRaw"`
	Message         string  `json:"message"`
	MinDelaySec     float64 `json:"minDelaySec"`
	MaxDelaySec     float64 `json:"maxDelaySec"`
	IntervalMinutes float64 `json:"intervalMinutes"`
}

// Default is used when nothing has been saved yet.
func Default() Config {
	return Config{MinDelaySec: 1, MaxDelaySec: 3}
}

// Clamp forces non-negative numbers and MaxDelaySec >= MinDelaySec.
func (c Config) Clamp() Config {
	c.MinDelaySec = nonNegative(c.MinDelaySec)
	c.MaxDelaySec = nonNegative(c.MaxDelaySec)
	c.IntervalMinutes = nonNegative(c.IntervalMinutes)
	if c.MaxDelaySec < c.MinDelaySec {
		c.MaxDelaySec = c.MinDelaySec
	}
	return c
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if math.IsInf(v, 1) {
		return math.MaxFloat64
	}
	return v
}

// Snapshot is an immutable view of the config with its derived recipients.
type Snapshot struct {
	Config
	Recipients []recipient.Address `json:"recipients"`
}

func (s Snapshot) Interval() time.Duration { return seconds(s.IntervalMinutes * 60) }

func (s Snapshot) MinDelay() time.Duration { return seconds(s.MinDelaySec) }

func (s Snapshot) MaxDelay() time.Duration { return seconds(s.MaxDelaySec) }

func seconds(v float64) time.Duration {
	d := v * float64(time.Second)
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Holder owns the current Snapshot. Readers never block; updates replace
// the snapshot wholesale.
type Holder struct {
	store       storage.Store
	countryCode string
	log         logx.Logger

	cur atomic.Pointer[Snapshot]
	// serializes Update so the persisted and in-memory copies agree
	writeMu sync.Mutex
}

func NewHolder(st storage.Store, countryCode string, log logx.Logger) *Holder {
	h := &Holder{store: st, countryCode: countryCode, log: log}
	h.set(Default())
	return h
}

// Load reads the persisted config, falling back to Default when none exists.
func (h *Holder) Load(ctx context.Context) error {
	cfg := Default()
	found, err := h.store.Load(ctx, DocumentName, &cfg)
	if err != nil {
		return fmt.Errorf("load campaign config: %w", err)
	}
	if !found {
		h.log.Debug("no stored campaign config; using defaults")
	}
	h.set(cfg.Clamp())
	return nil
}

// Update clamps cfg, recomputes recipients, swaps the snapshot and persists
// the raw fields.
func (h *Holder) Update(ctx context.Context, cfg Config) (Snapshot, error) {
	cfg = cfg.Clamp()

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	snap := h.set(cfg)
	if err := h.store.Save(ctx, DocumentName, cfg); err != nil {
		return snap, fmt.Errorf("persist campaign config: %w", err)
	}
	h.log.Info("campaign config updated",
		logx.Int("recipients", len(snap.Recipients)),
		logx.Float64("min_delay_sec", cfg.MinDelaySec),
		logx.Float64("max_delay_sec", cfg.MaxDelaySec),
		logx.Float64("interval_minutes", cfg.IntervalMinutes),
	)
	return snap, nil
}

// Current returns the active snapshot. Callers must not modify Recipients.
func (h *Holder) Current() Snapshot { return *h.cur.Load() }

func (h *Holder) set(cfg Config) Snapshot {
	snap := &Snapshot{Config: cfg, Recipients: recipient.Normalize(cfg.RecipientsRaw, h.countryCode)}
	if snap.Recipients == nil {
		snap.Recipients = []recipient.Address{}
	}
	h.cur.Store(snap)
	return *snap
}
