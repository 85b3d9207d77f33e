package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/dojo-hub/progression-engine/pkg/timeutil"
)

// MemorySweepMarker is a process-local SweepMarker used when Redis is not
// configured. Entries expire after ttl.
type MemorySweepMarker struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock timeutil.Clock
	seen  map[string]time.Time
}

// NewMemorySweepMarker creates a new in-memory marker.
func NewMemorySweepMarker(ttl time.Duration, clock timeutil.Clock) *MemorySweepMarker {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &MemorySweepMarker{ttl: ttl, clock: clock, seen: make(map[string]time.Time)}
}

// MarkNew implements SweepMarker.
func (m *MemorySweepMarker) MarkNew(_ context.Context, practitionerID, target string) (bool, error) {
	now := m.clock.Now()
	key := practitionerID + "|" + target

	m.mu.Lock()
	defer m.mu.Unlock()

	if exp, ok := m.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.seen[key] = now.Add(m.ttl)

	// Expired entries are dropped opportunistically.
	if len(m.seen) > 1024 {
		for k, exp := range m.seen {
			if !now.Before(exp) {
				delete(m.seen, k)
			}
		}
	}
	return true, nil
}

// Unmark implements SweepMarker.
func (m *MemorySweepMarker) Unmark(_ context.Context, practitionerID, target string) error {
	m.mu.Lock()
	delete(m.seen, practitionerID+"|"+target)
	m.mu.Unlock()
	return nil
}
