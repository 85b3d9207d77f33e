package redis

import (
	"context"
	"errors"
	"time"

	"github.com/dojo-hub/progression-engine/internal/domain/belt"
	"github.com/dojo-hub/progression-engine/internal/domain/progression"
)

// EligibilityCache keeps recent assessments. An entry is only served while
// the practitioner version and the catalog version it was computed for still
// match, so a promotion or catalog swap is never hidden by the cache.
type EligibilityCache struct {
	cache *Cache
	ttl   time.Duration
}

type eligibilityEntry struct {
	Assessment     progression.Assessment `json:"assessment"`
	NextBelt       belt.Definition        `json:"next_belt"`
	CatalogVersion int64                  `json:"catalog_version"`
}

// NewEligibilityCache creates an EligibilityCache. A zero ttl uses TTLEligibility.
func NewEligibilityCache(cache *Cache, ttl time.Duration) *EligibilityCache {
	if ttl <= 0 {
		ttl = TTLEligibility
	}
	return &EligibilityCache{cache: cache, ttl: ttl}
}

// Get returns a cached assessment for the given versions.
func (c *EligibilityCache) Get(ctx context.Context, practitionerID string, version, catalogVersion int64) (progression.Assessment, bool, error) {
	var entry eligibilityEntry
	if err := c.cache.Get(ctx, EligibilityKey(practitionerID), &entry); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return progression.Assessment{}, false, nil
		}
		return progression.Assessment{}, false, err
	}
	if entry.Assessment.Version != version || entry.CatalogVersion != catalogVersion {
		return progression.Assessment{}, false, nil
	}
	a := entry.Assessment
	a.NextBelt = entry.NextBelt
	return a, true, nil
}

// Put stores an assessment.
func (c *EligibilityCache) Put(ctx context.Context, a progression.Assessment, catalogVersion int64) error {
	return c.cache.Set(ctx, EligibilityKey(a.PractitionerID), eligibilityEntry{
		Assessment:     a,
		NextBelt:       a.NextBelt,
		CatalogVersion: catalogVersion,
	}, c.ttl)
}

// Invalidate drops the cached assessment of a practitioner.
func (c *EligibilityCache) Invalidate(ctx context.Context, practitionerID string) error {
	return c.cache.Delete(ctx, EligibilityKey(practitionerID))
}

// InvalidateAll drops every cached assessment.
func (c *EligibilityCache) InvalidateAll(ctx context.Context) error {
	return c.cache.DeletePrefix(ctx, PrefixEligibility)
}

// SweepMarker remembers which eligibility targets were already announced.
type SweepMarker struct {
	cache *Cache
	ttl   time.Duration
}

// NewSweepMarker creates a SweepMarker. A zero ttl uses TTLSweepNotified.
func NewSweepMarker(cache *Cache, ttl time.Duration) *SweepMarker {
	if ttl <= 0 {
		ttl = TTLSweepNotified
	}
	return &SweepMarker{cache: cache, ttl: ttl}
}

// MarkNew records target for practitionerID and reports whether it was new.
func (m *SweepMarker) MarkNew(ctx context.Context, practitionerID, target string) (bool, error) {
	return m.cache.SetNX(ctx, SweepKey(practitionerID, target), time.Now().UTC().Format(time.RFC3339), m.ttl)
}

// Unmark forgets target so it can be announced again.
func (m *SweepMarker) Unmark(ctx context.Context, practitionerID, target string) error {
	return m.cache.Delete(ctx, SweepKey(practitionerID, target))
}
