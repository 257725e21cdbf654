package contactlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"beacontrace/internal/model"
)

// Persister receives contacts as they are logged and retention deletes as
// they happen. Satisfied by storage.Store; nil disables persistence.
type Persister interface {
	SaveContact(ctx context.Context, c model.Contact) error
	DeleteContactsBefore(ctx context.Context, t time.Time) error
}

// Log is the append-only record of detections. Entries are immutable once
// written; the only removal is RemoveBefore. Reads return snapshots, so
// risk analysis never observes a mutating log.
type Log struct {
	mu      sync.RWMutex
	entries []model.Contact
	store   Persister
	logger  *slog.Logger
}

func New(store Persister, logger *slog.Logger) *Log {
	return &Log{store: store, logger: logger}
}

// Insert appends one detection. It always succeeds; a persistence failure is
// logged and the in-memory record stands.
func (l *Log) Insert(t time.Time, code model.BeaconCode, signalStrength int) {
	c := model.Contact{Time: t.UTC(), Code: code, SignalStrength: signalStrength}
	l.mu.Lock()
	l.entries = append(l.entries, c)
	l.mu.Unlock()
	if l.store != nil {
		if err := l.store.SaveContact(context.Background(), c); err != nil && l.logger != nil {
			l.logger.Warn("contact persistence failed", "err", err)
		}
	}
}

// Restore seeds the log from already persisted contacts at startup, so a
// storage-enabled restart keeps its exposure history. No write-through.
func (l *Log) Restore(contacts []model.Contact) {
	if len(contacts) == 0 {
		return
	}
	l.mu.Lock()
	l.entries = append(l.entries, contacts...)
	l.mu.Unlock()
}

// Contacts returns a snapshot in detection order.
func (l *Log) Contacts() []model.Contact {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Contact, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// RemoveBefore deletes every contact strictly older than t. Used for
// retention pruning; RemoveBefore with a far-future t is a full reset.
func (l *Log) RemoveBefore(t time.Time) int {
	cutoff := t.UTC()
	l.mu.Lock()
	kept := l.entries[:0]
	for _, c := range l.entries {
		if !c.Time.Before(cutoff) {
			kept = append(kept, c)
		}
	}
	removed := len(l.entries) - len(kept)
	l.entries = kept
	l.mu.Unlock()
	if removed > 0 && l.store != nil {
		if err := l.store.DeleteContactsBefore(context.Background(), cutoff); err != nil && l.logger != nil {
			l.logger.Warn("contact retention delete failed", "err", err)
		}
	}
	return removed
}

// Clear drops every contact unconditionally, including entries stamped in
// the future by a skewed clock. Used for the full reset.
func (l *Log) Clear() int {
	l.mu.Lock()
	removed := len(l.entries)
	l.entries = nil
	l.mu.Unlock()
	if removed > 0 && l.store != nil {
		cutoff := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
		if err := l.store.DeleteContactsBefore(context.Background(), cutoff); err != nil && l.logger != nil {
			l.logger.Warn("contact clear delete failed", "err", err)
		}
	}
	return removed
}

// StartPruning removes contacts older than retention on a fixed interval.
func (l *Log) StartPruning(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n := l.RemoveBefore(time.Now().UTC().Add(-retention))
				if n > 0 && l.logger != nil {
					l.logger.Info("pruned expired contacts", "removed", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
