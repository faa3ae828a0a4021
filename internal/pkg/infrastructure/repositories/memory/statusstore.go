package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/diwise/iot-fill-level/internal/pkg/infrastructure/repositories"
	"github.com/diwise/iot-fill-level/pkg/types"
)

type statusEntry struct {
	status types.DeviceStatus
	seq    uint64
}

type StatusStore struct {
	mu      sync.RWMutex
	devices map[string]*statusEntry
	nextSeq uint64
}

func NewStatusStore() *StatusStore {
	return &StatusStore{
		devices: map[string]*statusEntry{},
	}
}

func (s *StatusStore) Get(ctx context.Context, deviceID string) (types.DeviceStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.devices[deviceID]
	if !ok {
		return types.DeviceStatus{}, fmt.Errorf("device %s: %w", deviceID, repositories.ErrNotFound)
	}

	return e.status, nil
}

// Upsert replaces the stored record. An UpdatedAt older than the stored one is
// raised to the stored value so that UpdatedAt never moves backwards.
func (s *StatusStore) Upsert(ctx context.Context, status types.DeviceStatus) (types.DeviceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.devices[status.DeviceID]
	if !ok {
		s.nextSeq++
		e = &statusEntry{seq: s.nextSeq}
		s.devices[status.DeviceID] = e
	} else if status.UpdatedAt.Before(e.status.UpdatedAt) {
		status.UpdatedAt = e.status.UpdatedAt
	}

	e.status = status

	return status, nil
}

// List returns all statuses, most recently updated first. Ties keep
// first-insertion order.
func (s *StatusStore) List(ctx context.Context) ([]types.DeviceStatus, error) {
	s.mu.RLock()
	entries := make([]*statusEntry, 0, len(s.devices))
	for _, e := range s.devices {
		entries = append(entries, &statusEntry{status: e.status, seq: e.seq})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.status.UpdatedAt.Equal(b.status.UpdatedAt) {
			return a.status.UpdatedAt.After(b.status.UpdatedAt)
		}
		return a.seq < b.seq
	})

	result := make([]types.DeviceStatus, 0, len(entries))
	for _, e := range entries {
		result = append(result, e.status)
	}

	return result, nil
}
