package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Every committed promotion, request transition and
// enrollment produces exactly one event after its transaction commits.
const (
	EventPractitionerEnrolled EventType = "progression.practitioner_enrolled"
	EventAttendanceRecorded   EventType = "progression.attendance_recorded"
	EventDegreeGranted        EventType = "progression.degree_granted"
	EventBeltPromoted         EventType = "progression.belt_promoted"
	EventPromotionRequested   EventType = "progression.promotion_requested"
	EventRequestDecided       EventType = "progression.request_decided"
	EventEligibilityDetected  EventType = "progression.eligibility_detected"
)

// Event is the base interface for all domain events.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID is the practitioner the event belongs to.
	AggregateID() string
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType { return e.Type }

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string { return e.AggregateId }

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progression Events
// ═══════════════════════════════════════════════════════════════════════════

// PractitionerEnrolledEvent is emitted when progression state is created.
type PractitionerEnrolledEvent struct {
	BaseEvent
	AcademyID string `json:"academy_id"`
	BeltCode  string `json:"belt"`
}

// Payload implements Event interface.
func (e PractitionerEnrolledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"academy_id": e.AcademyID,
		"belt":       e.BeltCode,
	}
}

// NewPractitionerEnrolledEvent creates a new PractitionerEnrolledEvent.
func NewPractitionerEnrolledEvent(practitionerID, academyID, beltCode string, at time.Time) PractitionerEnrolledEvent {
	return PractitionerEnrolledEvent{
		BaseEvent: NewBaseEvent(EventPractitionerEnrolled, practitionerID, at),
		AcademyID: academyID,
		BeltCode:  beltCode,
	}
}

// AttendanceRecordedEvent is emitted when a class is added to the attendance ledger.
type AttendanceRecordedEvent struct {
	BaseEvent
	ClassesInCycle int `json:"classes_in_cycle"`
}

// Payload implements Event interface.
func (e AttendanceRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{"classes_in_cycle": e.ClassesInCycle}
}

// NewAttendanceRecordedEvent creates a new AttendanceRecordedEvent.
func NewAttendanceRecordedEvent(practitionerID string, classesInCycle int, at time.Time) AttendanceRecordedEvent {
	return AttendanceRecordedEvent{
		BaseEvent:      NewBaseEvent(EventAttendanceRecorded, practitionerID, at),
		ClassesInCycle: classesInCycle,
	}
}

// DegreeGrantedEvent is emitted after a degree grant commits.
type DegreeGrantedEvent struct {
	BaseEvent
	BeltCode  string `json:"belt"`
	Degree    int    `json:"degree"`
	GrantedBy string `json:"granted_by"`
	Origin    string `json:"origin"`
}

// Payload implements Event interface.
func (e DegreeGrantedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"belt":       e.BeltCode,
		"degree":     e.Degree,
		"granted_by": e.GrantedBy,
		"origin":     e.Origin,
	}
}

// NewDegreeGrantedEvent creates a new DegreeGrantedEvent.
func NewDegreeGrantedEvent(practitionerID, beltCode string, degree int, grantedBy, origin string, at time.Time) DegreeGrantedEvent {
	return DegreeGrantedEvent{
		BaseEvent: NewBaseEvent(EventDegreeGranted, practitionerID, at),
		BeltCode:  beltCode,
		Degree:    degree,
		GrantedBy: grantedBy,
		Origin:    origin,
	}
}

// BeltPromotedEvent is emitted after a belt promotion commits.
type BeltPromotedEvent struct {
	BaseEvent
	FromBelt   string `json:"from_belt"`
	ToBelt     string `json:"to_belt"`
	PromotedBy string `json:"promoted_by"`
	Origin     string `json:"origin"`
}

// Payload implements Event interface.
func (e BeltPromotedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"from_belt":   e.FromBelt,
		"to_belt":     e.ToBelt,
		"promoted_by": e.PromotedBy,
		"origin":      e.Origin,
	}
}

// NewBeltPromotedEvent creates a new BeltPromotedEvent.
func NewBeltPromotedEvent(practitionerID, fromBelt, toBelt, promotedBy, origin string, at time.Time) BeltPromotedEvent {
	return BeltPromotedEvent{
		BaseEvent:  NewBaseEvent(EventBeltPromoted, practitionerID, at),
		FromBelt:   fromBelt,
		ToBelt:     toBelt,
		PromotedBy: promotedBy,
		Origin:     origin,
	}
}

// PromotionRequestedEvent is emitted when a PENDING request is opened.
type PromotionRequestedEvent struct {
	BaseEvent
	RequestID   string `json:"request_id"`
	Kind        string `json:"kind"`
	Target      string `json:"target"`
	RequestedBy string `json:"requested_by"`
}

// Payload implements Event interface.
func (e PromotionRequestedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"request_id":   e.RequestID,
		"kind":         e.Kind,
		"target":       e.Target,
		"requested_by": e.RequestedBy,
	}
}

// NewPromotionRequestedEvent creates a new PromotionRequestedEvent.
func NewPromotionRequestedEvent(practitionerID, requestID, kind, target, requestedBy string, at time.Time) PromotionRequestedEvent {
	return PromotionRequestedEvent{
		BaseEvent:   NewBaseEvent(EventPromotionRequested, practitionerID, at),
		RequestID:   requestID,
		Kind:        kind,
		Target:      target,
		RequestedBy: requestedBy,
	}
}

// RequestDecidedEvent is emitted when a request is approved or rejected.
type RequestDecidedEvent struct {
	BaseEvent
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	DecidedBy string `json:"decided_by"`
}

// Payload implements Event interface.
func (e RequestDecidedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"request_id": e.RequestID,
		"status":     e.Status,
		"decided_by": e.DecidedBy,
	}
}

// NewRequestDecidedEvent creates a new RequestDecidedEvent.
func NewRequestDecidedEvent(practitionerID, requestID, status, decidedBy string, at time.Time) RequestDecidedEvent {
	return RequestDecidedEvent{
		BaseEvent: NewBaseEvent(EventRequestDecided, practitionerID, at),
		RequestID: requestID,
		Status:    status,
		DecidedBy: decidedBy,
	}
}

// EligibilityDetectedEvent is emitted by the sweep the first time a practitioner
// becomes eligible for a given target.
type EligibilityDetectedEvent struct {
	BaseEvent
	AcademyID string `json:"academy_id"`
	Outcome   string `json:"outcome"`
	Target    string `json:"target"`
}

// Payload implements Event interface.
func (e EligibilityDetectedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"academy_id": e.AcademyID,
		"outcome":    e.Outcome,
		"target":     e.Target,
	}
}

// NewEligibilityDetectedEvent creates a new EligibilityDetectedEvent.
func NewEligibilityDetectedEvent(practitionerID, academyID, outcome, target string, at time.Time) EligibilityDetectedEvent {
	return EligibilityDetectedEvent{
		BaseEvent: NewBaseEvent(EventEligibilityDetected, practitionerID, at),
		AcademyID: academyID,
		Outcome:   outcome,
		Target:    target,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
