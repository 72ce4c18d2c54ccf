package registry

import (
	"context"
	"sort"
	"sync"

	"regimecast/scheduler/pkg/models"
)

// MemoryStore is an in-memory implementation of the Store interface, used in
// tests and single-node dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.EntityRecord
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.EntityRecord)}
}

// GetRecord retrieves the record for an entity, or ErrRecordNotFound.
func (s *MemoryStore) GetRecord(_ context.Context, entity string) (*models.EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[entity]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneRecord(record), nil
}

// PutRecord writes the full record for an entity, creating or replacing it.
func (s *MemoryStore) PutRecord(_ context.Context, record *models.EntityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Entity] = cloneRecord(record)
	return nil
}

// ListRecords retrieves all records, ordered by entity name.
func (s *MemoryStore) ListRecords(_ context.Context) ([]*models.EntityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*models.EntityRecord, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, cloneRecord(record))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Entity < records[j].Entity })
	return records, nil
}

// cloneRecord deep-copies a record so callers never alias stored state.
func cloneRecord(record *models.EntityRecord) *models.EntityRecord {
	out := &models.EntityRecord{Entity: record.Entity}
	if record.ActiveVersion != nil {
		active := *record.ActiveVersion
		out.ActiveVersion = &active
	}
	out.Versions = make([]models.Version, len(record.Versions))
	copy(out.Versions, record.Versions)
	for i, v := range record.Versions {
		if v.Metrics != nil {
			metrics := make(map[string]float64, len(v.Metrics))
			for k, val := range v.Metrics {
				metrics[k] = val
			}
			out.Versions[i].Metrics = metrics
		}
	}
	return out
}
