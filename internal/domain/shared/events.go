package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that
// happened while a student was being assessed or tutored.
const (
	// Student events
	EventStudentRegistered EventType = "student.registered"

	// Tutoring events
	EventSessionStarted        EventType = "tutoring.session_started"
	EventStepCompleted         EventType = "tutoring.step_completed"
	EventSessionCompleted      EventType = "tutoring.session_completed"
	EventSessionAbandoned      EventType = "tutoring.session_abandoned"
	EventMisconceptionDetected EventType = "tutoring.misconception_detected"
	EventTutorUnavailable      EventType = "tutoring.tutor_unavailable"

	// Assessment events
	EventAssessmentSubmitted EventType = "assessment.submitted"
	EventComparisonComputed  EventType = "assessment.comparison_computed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
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
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
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
// Student Events
// ═══════════════════════════════════════════════════════════════════════════

// StudentRegisteredEvent is emitted when a new student registers.
type StudentRegisteredEvent struct {
	BaseEvent
	Cohort string `json:"cohort"`
}

// Payload implements Event interface.
func (e StudentRegisteredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.AggregateId,
		"cohort":     e.Cohort,
	}
}

// NewStudentRegisteredEvent creates a new StudentRegisteredEvent.
func NewStudentRegisteredEvent(studentID, cohort string) StudentRegisteredEvent {
	return StudentRegisteredEvent{
		BaseEvent: NewBaseEvent(EventStudentRegistered, studentID),
		Cohort:    cohort,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Tutoring Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionStartedEvent is emitted when a learner starts a problem.
type SessionStartedEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	Concept   string `json:"concept"`
	StepCount int    `json:"step_count"`
}

// Payload implements Event interface.
func (e SessionStartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.AggregateId,
		"session_id": e.SessionID,
		"concept":    e.Concept,
		"step_count": e.StepCount,
	}
}

// NewSessionStartedEvent creates a new SessionStartedEvent.
func NewSessionStartedEvent(studentID, sessionID, concept string, stepCount int) SessionStartedEvent {
	return SessionStartedEvent{
		BaseEvent: NewBaseEvent(EventSessionStarted, studentID),
		SessionID: sessionID,
		Concept:   concept,
		StepCount: stepCount,
	}
}

// StepCompletedEvent is emitted when the learner passes a step.
type StepCompletedEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	StepIndex int    `json:"step_index"`
	Remaining int    `json:"remaining"`
}

// Payload implements Event interface.
func (e StepCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.AggregateId,
		"session_id": e.SessionID,
		"step_index": e.StepIndex,
		"remaining":  e.Remaining,
	}
}

// NewStepCompletedEvent creates a new StepCompletedEvent.
func NewStepCompletedEvent(studentID, sessionID string, stepIndex, remaining int) StepCompletedEvent {
	return StepCompletedEvent{
		BaseEvent: NewBaseEvent(EventStepCompleted, studentID),
		SessionID: sessionID,
		StepIndex: stepIndex,
		Remaining: remaining,
	}
}

// SessionClosedEvent is emitted when a session reaches a terminal state.
// Type is either EventSessionCompleted or EventSessionAbandoned.
type SessionClosedEvent struct {
	BaseEvent
	SessionID      string        `json:"session_id"`
	Concept        string        `json:"concept"`
	StepsCompleted int           `json:"steps_completed"`
	StepsTotal     int           `json:"steps_total"`
	Turns          int           `json:"turns"`
	Duration       time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e SessionClosedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":      e.AggregateId,
		"session_id":      e.SessionID,
		"concept":         e.Concept,
		"steps_completed": e.StepsCompleted,
		"steps_total":     e.StepsTotal,
		"turns":           e.Turns,
		"duration":        e.Duration.String(),
	}
}

// NewSessionClosedEvent creates a SessionClosedEvent of the given type.
func NewSessionClosedEvent(eventType EventType, studentID, sessionID, concept string, completed, total, turns int, duration time.Duration) SessionClosedEvent {
	return SessionClosedEvent{
		BaseEvent:      NewBaseEvent(eventType, studentID),
		SessionID:      sessionID,
		Concept:        concept,
		StepsCompleted: completed,
		StepsTotal:     total,
		Turns:          turns,
		Duration:       duration,
	}
}

// MisconceptionDetectedEvent is emitted when a learner utterance matches
// a known misconception signature.
type MisconceptionDetectedEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	Tag       string `json:"tag"`
	Concept   string `json:"concept"`
	Count     int    `json:"count"`
}

// Payload implements Event interface.
func (e MisconceptionDetectedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.AggregateId,
		"session_id": e.SessionID,
		"tag":        e.Tag,
		"concept":    e.Concept,
		"count":      e.Count,
	}
}

// NewMisconceptionDetectedEvent creates a new MisconceptionDetectedEvent.
func NewMisconceptionDetectedEvent(studentID, sessionID, tag, concept string, count int) MisconceptionDetectedEvent {
	return MisconceptionDetectedEvent{
		BaseEvent: NewBaseEvent(EventMisconceptionDetected, studentID),
		SessionID: sessionID,
		Tag:       tag,
		Concept:   concept,
		Count:     count,
	}
}

// TutorUnavailableEvent is emitted when the gateway failure budget is exhausted.
type TutorUnavailableEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	Failures  int    `json:"failures"`
}

// Payload implements Event interface.
func (e TutorUnavailableEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.AggregateId,
		"session_id": e.SessionID,
		"failures":   e.Failures,
	}
}

// NewTutorUnavailableEvent creates a new TutorUnavailableEvent.
func NewTutorUnavailableEvent(studentID, sessionID string, failures int) TutorUnavailableEvent {
	return TutorUnavailableEvent{
		BaseEvent: NewBaseEvent(EventTutorUnavailable, studentID),
		SessionID: sessionID,
		Failures:  failures,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Assessment Events
// ═══════════════════════════════════════════════════════════════════════════

// AssessmentSubmittedEvent is emitted after an assessment record is stored.
type AssessmentSubmittedEvent struct {
	BaseEvent
	RecordID string  `json:"record_id"`
	Kind     string  `json:"kind"`
	Cohort   string  `json:"cohort"`
	Score    float64 `json:"score"`
}

// Payload implements Event interface.
func (e AssessmentSubmittedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.AggregateId,
		"record_id":  e.RecordID,
		"kind":       e.Kind,
		"cohort":     e.Cohort,
		"score":      e.Score,
	}
}

// NewAssessmentSubmittedEvent creates a new AssessmentSubmittedEvent.
func NewAssessmentSubmittedEvent(studentID, recordID, kind, cohort string, score float64) AssessmentSubmittedEvent {
	return AssessmentSubmittedEvent{
		BaseEvent: NewBaseEvent(EventAssessmentSubmitted, studentID),
		RecordID:  recordID,
		Kind:      kind,
		Cohort:    cohort,
		Score:     score,
	}
}

// ComparisonComputedEvent is emitted when a cohort comparison is produced.
type ComparisonComputedEvent struct {
	BaseEvent
	Winner       string  `json:"winner"`
	ImprovementA float64 `json:"improvement_a"`
	ImprovementB float64 `json:"improvement_b"`
}

// Payload implements Event interface.
func (e ComparisonComputedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"winner":        e.Winner,
		"improvement_a": e.ImprovementA,
		"improvement_b": e.ImprovementB,
	}
}

// NewComparisonComputedEvent creates a new ComparisonComputedEvent.
func NewComparisonComputedEvent(winner string, improvementA, improvementB float64) ComparisonComputedEvent {
	return ComparisonComputedEvent{
		BaseEvent:    NewBaseEvent(EventComparisonComputed, "cohorts"),
		Winner:       winner,
		ImprovementA: improvementA,
		ImprovementB: improvementB,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards all events.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }

// ═══════════════════════════════════════════════════════════════════════════
// Event Restoration
// ═══════════════════════════════════════════════════════════════════════════

// RestoreEvent rebuilds a typed event from its Payload, e.g. after it has
// crossed a process boundary as JSON. It returns false for unknown types.
func RestoreEvent(eventType EventType, aggregateID string, occurredAt time.Time, payload map[string]interface{}) (Event, bool) {
	base := BaseEvent{Type: eventType, Timestamp: occurredAt, AggregateId: aggregateID, Version: 1}

	switch eventType {
	case EventStudentRegistered:
		return StudentRegisteredEvent{BaseEvent: base, Cohort: payloadString(payload, "cohort")}, true
	case EventSessionStarted:
		return SessionStartedEvent{
			BaseEvent: base,
			SessionID: payloadString(payload, "session_id"),
			Concept:   payloadString(payload, "concept"),
			StepCount: payloadInt(payload, "step_count"),
		}, true
	case EventStepCompleted:
		return StepCompletedEvent{
			BaseEvent: base,
			SessionID: payloadString(payload, "session_id"),
			StepIndex: payloadInt(payload, "step_index"),
			Remaining: payloadInt(payload, "remaining"),
		}, true
	case EventSessionCompleted, EventSessionAbandoned:
		d, _ := time.ParseDuration(payloadString(payload, "duration"))
		return SessionClosedEvent{
			BaseEvent:      base,
			SessionID:      payloadString(payload, "session_id"),
			Concept:        payloadString(payload, "concept"),
			StepsCompleted: payloadInt(payload, "steps_completed"),
			StepsTotal:     payloadInt(payload, "steps_total"),
			Turns:          payloadInt(payload, "turns"),
			Duration:       d,
		}, true
	case EventMisconceptionDetected:
		return MisconceptionDetectedEvent{
			BaseEvent: base,
			SessionID: payloadString(payload, "session_id"),
			Tag:       payloadString(payload, "tag"),
			Concept:   payloadString(payload, "concept"),
			Count:     payloadInt(payload, "count"),
		}, true
	case EventTutorUnavailable:
		return TutorUnavailableEvent{
			BaseEvent: base,
			SessionID: payloadString(payload, "session_id"),
			Failures:  payloadInt(payload, "failures"),
		}, true
	case EventAssessmentSubmitted:
		return AssessmentSubmittedEvent{
			BaseEvent: base,
			RecordID:  payloadString(payload, "record_id"),
			Kind:      payloadString(payload, "kind"),
			Cohort:    payloadString(payload, "cohort"),
			Score:     payloadFloat(payload, "score"),
		}, true
	case EventComparisonComputed:
		return ComparisonComputedEvent{
			BaseEvent:    base,
			Winner:       payloadString(payload, "winner"),
			ImprovementA: payloadFloat(payload, "improvement_a"),
			ImprovementB: payloadFloat(payload, "improvement_b"),
		}, true
	default:
		return nil, false
	}
}

func payloadString(p map[string]interface{}, key string) string {
	s, _ := p[key].(string)
	return s
}

func payloadFloat(p map[string]interface{}, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

func payloadInt(p map[string]interface{}, key string) int {
	return int(payloadFloat(p, key))
}
