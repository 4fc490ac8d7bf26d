package events

import (
	"context"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mj-trademark/portal/internal/shared/metrics"
)

// Emitter publishes activity events on behalf of request handlers. The
// record store is the source of truth, so a failed append is logged and
// counted but never fails the request.
type Emitter struct {
	publisher Publisher
}

// NewEmitter wraps a publisher. A nil publisher turns Emit into a no-op.
func NewEmitter(publisher Publisher) *Emitter {
	return &Emitter{publisher: publisher}
}

// Emit publishes the event, tagging it with the request id as correlation id.
func (e *Emitter) Emit(ctx context.Context, event Event) {
	if e == nil || e.publisher == nil {
		return
	}
	if event.CorrelationID == "" {
		event.CorrelationID = middleware.GetReqID(ctx)
	}

	err := e.publisher.Publish(ctx, event)
	metrics.RecordEventPublished(event.Type, err)
	if err != nil {
		zerolog.Ctx(ctx).Warn().
			Err(err).
			Str("event_type", event.Type).
			Str("aggregate_id", event.AggregateID.String()).
			Msg("failed to publish activity event")
	}
}
