package memory

import (
	"context"
	"sync"
	"time"

	"github.com/diwise/iot-fill-level/internal/pkg/infrastructure/repositories"
	"github.com/diwise/iot-fill-level/pkg/types"
	"github.com/google/uuid"
)

// EventLog is an unbounded append-only log. Reads walk it backwards.
type EventLog struct {
	mu     sync.RWMutex
	events []types.Event
}

func NewEventLog() *EventLog {
	return &EventLog{}
}

func (l *EventLog) Append(ctx context.Context, event types.Event) (string, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return event.ID, nil
}

func (l *EventLog) Recent(ctx context.Context, deviceID string, limit int) ([]types.Event, error) {
	return l.newest(repositories.ClampDeviceLimit(limit), func(e types.Event) bool {
		return e.DeviceID == deviceID
	}), nil
}

func (l *EventLog) RecentAll(ctx context.Context, limit int) ([]types.Event, error) {
	return l.newest(repositories.ClampEventLimit(limit), func(types.Event) bool {
		return true
	}), nil
}

func (l *EventLog) newest(limit int, match func(types.Event) bool) []types.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]types.Event, 0, limit)
	for i := len(l.events) - 1; i >= 0 && len(result) < limit; i-- {
		if match(l.events[i]) {
			result = append(result, l.events[i])
		}
	}

	return result
}
