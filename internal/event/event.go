package event

import (
	"time"

	"github.com/google/uuid"
)

// Priority controls delivery order within a single Emit call.
type Priority int

// Delivery priorities, lowest to highest.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns a string representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Event is a message carried by the bus.
// Events are immutable once emitted.
type Event struct {
	// ID is a unique identifier for this event instance.
	ID string

	// Type is the hierarchical event type (e.g., "plugin.activated").
	Type string

	// Source identifies the component or plugin that emitted the event.
	Source string

	// Target optionally addresses a single recipient. Empty means
	// broadcast. The bus does not interpret this field; predicates do.
	Target string

	// Payload carries event-specific data.
	Payload map[string]any

	// Priority is the delivery priority.
	Priority Priority

	// Timestamp is when the event was created.
	Timestamp time.Time
}

// New creates an event with a fresh ID and timestamp.
func New(eventType, source string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Payload:   payload,
		Priority:  PriorityNormal,
		Timestamp: time.Now(),
	}
}

// WithTarget returns a copy of the event addressed to a single recipient.
func (e Event) WithTarget(target string) Event {
	e.Target = target
	return e
}

// WithPriority returns a copy of the event with the given priority.
func (e Event) WithPriority(p Priority) Event {
	e.Priority = p
	return e
}

// Handler processes a delivered event.
type Handler func(Event)

// Predicate filters delivery for a subscription.
type Predicate func(Event) bool

// ForTarget returns a predicate that accepts broadcasts and events
// addressed to id.
func ForTarget(id string) Predicate {
	return func(e Event) bool {
		return e.Target == "" || e.Target == id
	}
}
