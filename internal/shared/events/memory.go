package events

import (
	"context"
	"sync"

	"github.com/mj-trademark/portal/internal/shared/types"
)

// defaultStreamCap bounds each in-memory stream; older events are dropped.
const defaultStreamCap = 500

// MemoryStore keeps activity streams in process. It backs the activity
// endpoint when KurrentDB is disabled and is used by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string][]Event
	cap     int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[string][]Event), cap: defaultStreamCap}
}

func (m *MemoryStore) Publish(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := StreamName(event.AggregateType, event.AggregateID)
	stream := append(m.streams[name], event)
	if len(stream) > m.cap {
		stream = stream[len(stream)-m.cap:]
	}
	m.streams[name] = stream
	return nil
}

func (m *MemoryStore) Read(ctx context.Context, aggregateType string, aggregateID types.ID, limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stream := m.streams[StreamName(aggregateType, aggregateID)]
	if limit <= 0 || limit > len(stream) {
		limit = len(stream)
	}

	out := make([]Event, 0, limit)
	for i := len(stream) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, stream[i])
	}
	return out, nil
}

func (m *MemoryStore) Close() {}

func (m *MemoryStore) Health() error { return nil }

var _ Store = (*MemoryStore)(nil)
