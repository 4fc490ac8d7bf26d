package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mj-trademark/portal/internal/shared/types"
)

// Activity event types appended to the case and user streams.
const (
	CaseCreated       = "case.created"
	CaseUpdated       = "case.updated"
	CaseStatusChanged = "case.status_changed"
	CaseAssigned      = "case.assigned"
	CaseDeleted       = "case.deleted"
	MessageSent       = "message.sent"
	UserSignedUp      = "user.signed_up"
	StaffCreated      = "staff.created"
	StaffRoleChanged  = "staff.role_changed"
)

// Aggregate types, used as the stream category.
const (
	AggregateCase = "case"
	AggregateUser = "user"
)

// Event is an entry in a case or user activity stream.
type Event struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	AggregateType string         `json:"aggregateType"`
	AggregateID   types.ID       `json:"aggregateId"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlationId,omitempty"`
	ActorID       types.ID       `json:"actorId,omitempty"`
	ActorRole     string         `json:"actorRole,omitempty"`
	Data          map[string]any `json:"data"`
}

// NewEvent creates a new event with auto-generated ID and timestamp
func NewEvent(eventType, aggregateType string, aggregateID types.ID, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Timestamp:     time.Now().UTC(),
		Data:          data,
	}
}

// WithActor sets the actor information on the event
func (e Event) WithActor(actorID types.ID, role string) Event {
	e.ActorID = actorID
	e.ActorRole = role
	return e
}

// WithCorrelation sets the correlation ID for request tracing
func (e Event) WithCorrelation(correlationID string) Event {
	e.CorrelationID = correlationID
	return e
}

// Metadata is the part of an event stored next to its payload.
type Metadata struct {
	CorrelationID string   `json:"correlationId,omitempty"`
	ActorID       types.ID `json:"actorId,omitempty"`
	ActorRole     string   `json:"actorRole,omitempty"`
}

// Metadata returns the event's metadata block.
func (e Event) Metadata() Metadata {
	return Metadata{CorrelationID: e.CorrelationID, ActorID: e.ActorID, ActorRole: e.ActorRole}
}

// EncodeData marshals the payload for storage.
func (e Event) EncodeData() ([]byte, error) {
	return json.Marshal(e.Data)
}

// Publisher appends activity events.
type Publisher interface {
	// Publish appends an event to its aggregate stream
	Publish(ctx context.Context, event Event) error

	// Close releases the underlying connection
	Close()

	// Health checks the event store connection
	Health() error
}

// Reader reads an aggregate's activity stream, newest first.
type Reader interface {
	Read(ctx context.Context, aggregateType string, aggregateID types.ID, limit int) ([]Event, error)
}

// Store is a Publisher that can also read back what it stored.
type Store interface {
	Publisher
	Reader
}

// StreamName returns the stream an aggregate's events are appended to.
func StreamName(aggregateType string, aggregateID types.ID) string {
	return aggregateType + "-" + string(aggregateID)
}
