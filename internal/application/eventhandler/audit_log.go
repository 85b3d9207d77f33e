// Package eventhandler contains the reactions to progression events.
// Handlers run on the event bus worker pool and never block a promotion.
package eventhandler

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// AUDIT LOG HANDLER
// Writes one structured line per progression event. The history table is the
// record of truth; this log is the operator-facing trail.
// ═══════════════════════════════════════════════════════════════════════════

// AuditLogHandler logs progression events.
type AuditLogHandler struct {
	logger *slog.Logger
}

// NewAuditLogHandler creates a new audit log handler.
func NewAuditLogHandler(logger *slog.Logger) *AuditLogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogHandler{logger: logger.With("handler", "audit_log")}
}

// Handle implements shared.EventHandler.
func (h *AuditLogHandler) Handle(event shared.Event) error {
	payload := event.Payload()
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys)+3)
	attrs = append(attrs,
		slog.String("event_type", string(event.EventType())),
		slog.String("practitioner_id", event.AggregateID()),
		slog.Time("occurred_at", event.OccurredAt().UTC()),
	)
	for _, k := range keys {
		if k == "practitioner_id" {
			continue
		}
		attrs = append(attrs, slog.Any(k, payload[k]))
	}

	h.logger.LogAttrs(context.Background(), levelFor(event.EventType()), "progression event", attrs...)
	return nil
}

// levelFor keeps routine attendance out of the default INFO stream.
func levelFor(t shared.EventType) slog.Level {
	if t == shared.EventAttendanceRecorded {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// ═══════════════════════════════════════════════════════════════════════════
// CACHE INVALIDATION HANDLER
// ═══════════════════════════════════════════════════════════════════════════

// EligibilityCache is the part of the eligibility cache the handler needs.
type EligibilityCache interface {
	Invalidate(ctx context.Context, practitionerID string) error
}

// CacheInvalidationHandler drops cached evaluations of a practitioner whose
// progression inputs changed. Cache entries are also keyed by state version,
// so a missed invalidation only costs memory until the TTL.
type CacheInvalidationHandler struct {
	cache   EligibilityCache
	logger  *slog.Logger
	timeout time.Duration
}

// NewCacheInvalidationHandler creates a new cache invalidation handler.
func NewCacheInvalidationHandler(cache EligibilityCache, logger *slog.Logger) *CacheInvalidationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheInvalidationHandler{
		cache:   cache,
		logger:  logger.With("handler", "cache_invalidation"),
		timeout: 2 * time.Second,
	}
}

// InvalidatingEvents are the events that change evaluation inputs.
var InvalidatingEvents = []shared.EventType{
	shared.EventAttendanceRecorded,
	shared.EventDegreeGranted,
	shared.EventBeltPromoted,
}

// Handle implements shared.EventHandler.
func (h *CacheInvalidationHandler) Handle(event shared.Event) error {
	id := event.AggregateID()
	if id == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.Invalidate(ctx, id); err != nil {
		h.logger.Warn("failed to invalidate eligibility cache",
			"practitioner_id", id,
			"event_type", event.EventType(),
			"error", err,
		)
		return err
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// REGISTRATION
// ═══════════════════════════════════════════════════════════════════════════

// Register subscribes the handlers to bus. cache may be nil.
func Register(bus shared.EventSubscriber, cache EligibilityCache, logger *slog.Logger) error {
	if err := bus.SubscribeAll(NewAuditLogHandler(logger).Handle); err != nil {
		return err
	}
	if cache == nil {
		return nil
	}
	invalidate := NewCacheInvalidationHandler(cache, logger)
	for _, t := range InvalidatingEvents {
		if err := bus.Subscribe(t, invalidate.Handle); err != nil {
			return err
		}
	}
	return nil
}
