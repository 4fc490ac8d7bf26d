package kurrentdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"

	"github.com/mj-trademark/portal/internal/shared/events"
	"github.com/mj-trademark/portal/internal/shared/types"
)

// maxReadCount caps a single activity read.
const maxReadCount = 200

// Publisher appends activity events to per-aggregate KurrentDB streams
// (`case-<id>`, `user-<id>`) and reads them back for the admin activity view.
type Publisher struct {
	client *Client
}

// NewPublisher creates a new KurrentDB-backed event publisher.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Publish appends the event to its aggregate stream.
func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	data, err := event.EncodeData()
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	metadata, err := json.Marshal(event.Metadata())
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}

	esdbEvent := esdb.EventData{
		EventType:   event.Type,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		Metadata:    metadata,
		EventID:     toUUID(event.ID),
	}

	stream := events.StreamName(event.AggregateType, event.AggregateID)
	_, err = p.client.DB().AppendToStream(ctx, stream, esdb.AppendToStreamOptions{
		ExpectedRevision: esdb.Any{},
	}, esdbEvent)
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.ID, err)
	}
	return nil
}

// Read returns up to limit events from the aggregate stream, newest first.
// A stream that was never written is empty, not an error.
func (p *Publisher) Read(ctx context.Context, aggregateType string, aggregateID types.ID, limit int) ([]events.Event, error) {
	if limit <= 0 || limit > maxReadCount {
		limit = maxReadCount
	}

	stream := events.StreamName(aggregateType, aggregateID)
	readStream, err := p.client.DB().ReadStream(ctx, stream, esdb.ReadStreamOptions{
		From:      esdb.End{},
		Direction: esdb.Backwards,
	}, uint64(limit))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read stream %s: %w", stream, err)
	}
	defer readStream.Close()

	var out []events.Event
	for {
		resolved, err := readStream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if isNotFound(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to read stream %s: %w", stream, err)
		}

		event, err := toEvent(aggregateType, aggregateID, resolved)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}

// Close is a no-op for KurrentDB as the client manages the connection.
func (p *Publisher) Close() {
	// Connection managed by Client
}

// Health checks the KurrentDB connection.
func (p *Publisher) Health() error {
	return p.client.HealthCheck(context.Background())
}

func toEvent(aggregateType string, aggregateID types.ID, resolved *esdb.ResolvedEvent) (events.Event, error) {
	recorded := resolved.Event

	var data map[string]any
	if len(recorded.Data) > 0 {
		if err := json.Unmarshal(recorded.Data, &data); err != nil {
			return events.Event{}, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
	}

	// Metadata parsing is optional
	var meta events.Metadata
	if len(recorded.UserMetadata) > 0 {
		_ = json.Unmarshal(recorded.UserMetadata, &meta)
	}

	return events.Event{
		ID:            recorded.EventID.String(),
		Type:          recorded.EventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Timestamp:     recorded.CreatedDate,
		CorrelationID: meta.CorrelationID,
		ActorID:       meta.ActorID,
		ActorRole:     meta.ActorRole,
		Data:          data,
	}, nil
}

// toUUID converts an event id to uuid.UUID, generating one if it does not parse.
func toUUID(id string) uuid.UUID {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.New()
	}
	return parsed
}

var _ events.Store = (*Publisher)(nil)
