// Package activity keeps the retained log of completed broadcasts.
package activity

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GladstoneOG/wabot/internal/recipient"
	"github.com/GladstoneOG/wabot/internal/storage"
	"github.com/GladstoneOG/wabot/pkg/logx"
)

const (
	// DocumentName is the storage document holding the log.
	DocumentName = "logs"
	Retention    = 7 * 24 * time.Hour
	PreviewRunes = 120
)

// Entry records one completed broadcast. Entries are never modified.
type Entry struct {
	ID             string              `json:"id"`
	Timestamp      time.Time           `json:"timestamp"`
	Recipients     []recipient.Address `json:"recipients"`
	Success        int                 `json:"success"`
	Failed         int                 `json:"failed"`
	MessagePreview string              `json:"messagePreview"`
}

type document struct {
	Entries []Entry `json:"entries"`
}

// Store holds entries newest first and persists them after each append.
type Store struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time

	mu      sync.Mutex
	entries []Entry
}

type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(st storage.Store, log logx.Logger, opts ...Option) *Store {
	s := &Store{store: st, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load replaces the in-memory entries with the persisted ones, dropping
// anything older than Retention.
func (s *Store) Load(ctx context.Context) error {
	var doc document
	if _, err := s.store.Load(ctx, DocumentName, &doc); err != nil {
		return fmt.Errorf("load activity log: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = doc.Entries
	// stored order is trusted only loosely
	slices.SortStableFunc(s.entries, func(a, b Entry) int { return b.Timestamp.Compare(a.Timestamp) })
	s.pruneLocked()
	return nil
}

// Append records a finished broadcast and persists the log. The entry stays
// in memory even when persisting fails.
func (s *Store) Append(ctx context.Context, recipients []recipient.Address, success, failed int, message string) (Entry, error) {
	e := Entry{
		ID:             uuid.NewString(),
		Timestamp:      s.now().UTC(),
		Recipients:     slices.Clone(recipients),
		Success:        success,
		Failed:         failed,
		MessagePreview: Preview(message),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = slices.Insert(s.entries, 0, e)
	s.pruneLocked()
	if err := s.store.Save(ctx, DocumentName, document{Entries: s.entries}); err != nil {
		s.log.Warn("activity log persist failed", logx.String("entry_id", e.ID), logx.Err(err))
		return e, fmt.Errorf("persist activity log: %w", err)
	}
	return e, nil
}

// List returns a copy of the entries, newest first.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) pruneLocked() {
	cutoff := s.now().Add(-Retention)
	s.entries = slices.DeleteFunc(s.entries, func(e Entry) bool {
		return e.Timestamp.Before(cutoff)
	})
}

// Preview returns the first PreviewRunes runes of message.
func Preview(message string) string {
	r := []rune(message)
	if len(r) <= PreviewRunes {
		return message
	}
	return string(r[:PreviewRunes])
}
