// Package workflow tracks workflow records: a concurrent in-memory map
// for API lookups, a durable per-run mirror on disk, and optional index
// and cache backends.
package workflow

import (
	"sync"
	"time"

	"github.com/c4h-ai/orchestrator/internal/models"
)

// Store is the in-memory record map. Writers commit whole records;
// readers always see the last committed state, never a partial update.
type Store struct {
	mu      sync.RWMutex
	records map[string]*models.WorkflowRecord
}

func NewStore() *Store {
	return &Store{records: make(map[string]*models.WorkflowRecord)}
}

// Put commits a snapshot of the record.
func (s *Store) Put(rec *models.WorkflowRecord) {
	clone := rec.Clone()
	s.mu.Lock()
	s.records[clone.WorkflowID] = clone
	s.mu.Unlock()
}

// Get returns a snapshot of the record, or false when the id is unknown.
func (s *Store) Get(workflowID string) (*models.WorkflowRecord, bool) {
	s.mu.RLock()
	rec, ok := s.records[workflowID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// SetStatus updates the status and error of a tracked record.
func (s *Store) SetStatus(workflowID, status, errMsg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[workflowID]
	if !ok {
		return false
	}
	rec.Status = status
	rec.Error = errMsg
	return true
}

// Count reports how many workflows are tracked.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Sweep drops terminal records that finished before now-maxAge and
// returns the removed workflow ids, so callers can release per-run
// resources held elsewhere. Pending workflows are never swept.
func (s *Store) Sweep(maxAge time.Duration, now time.Time) []string {
	cutoff := now.Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, rec := range s.records {
		if rec.Status == models.StatusPending {
			continue
		}
		if !rec.FinishedAt.IsZero() && rec.FinishedAt.Before(cutoff) {
			delete(s.records, id)
			removed = append(removed, id)
		}
	}
	return removed
}
