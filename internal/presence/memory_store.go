package presence

import (
	"context"
	"sync"
	"time"

	"comms-service/internal/models"
)

// MemoryStore is the in-process presence map, guarded by one mutex.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int]models.PresenceRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int]models.PresenceRecord)}
}

// Get returns records for the requested users. Unknown users are omitted;
// the tracker fills in offline defaults.
func (s *MemoryStore) Get(ctx context.Context, userIDs []int) (map[int]models.PresenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[int]models.PresenceRecord, len(userIDs))
	for _, id := range userIDs {
		if rec, ok := s.records[id]; ok {
			result[id] = rec
		}
	}
	return result, nil
}

// Set stores a record. Offline records are dropped from the map entirely.
func (s *MemoryStore) Set(ctx context.Context, record models.PresenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.Status == models.PresenceOffline {
		delete(s.records, record.UserID)
		return nil
	}
	s.records[record.UserID] = record
	return nil
}

// Stale returns users whose last transition predates the cutoff.
func (s *MemoryStore) Stale(ctx context.Context, cutoff time.Time) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stale []int
	for id, rec := range s.records {
		if rec.UpdatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale, nil
}
