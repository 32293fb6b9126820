package iface

import (
	"context"
	"sync"

	"github.com/eduinsight/eduinsight/core"
)

// RecordStore holds the ingested, normalized records. It satisfies the
// analysis agent's record source so analysis reads exactly what imports
// wrote. Safe for concurrent use; readers get copies.
type RecordStore struct {
	mu      sync.RWMutex
	records []core.Record
}

// NewRecordStore creates an empty record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{}
}

// Add appends records to the store.
func (s *RecordStore) Add(records ...core.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
}

// Fetch returns a copy of the records matching the scope, in insertion
// order.
func (s *RecordStore) Fetch(_ context.Context, scope core.SubjectScope) ([]core.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.FilterRecords(s.records, scope), nil
}

// Len returns the number of stored records.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
