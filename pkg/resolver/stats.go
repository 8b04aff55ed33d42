package resolver

import (
	"sync"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Snapshot is a point-in-time view of the aggregate resolution counters.
type Snapshot struct {
	StartedAt        time.Time         `json:"started_at"`
	EventsCreated    int               `json:"events_created"`
	EventsUpdated    int               `json:"events_updated"`
	EventsNoOp       int               `json:"events_noop"`
	CompaniesCreated int               `json:"companies_created"`
	CompaniesUpdated int               `json:"companies_updated"`
	CompaniesNoOp    int               `json:"companies_noop"`
	Conflicts        int               `json:"conflicts"`
	LastFlush        models.FlushStats `json:"last_flush"`
	LastFlushAt      *time.Time        `json:"last_flush_at,omitempty"`
	FlushTotals      models.FlushStats `json:"flush_totals"`
}

// Stats accumulates resolution outcomes and flush results.
type Stats struct {
	mu       sync.Mutex
	snapshot Snapshot
}

// NewStats creates an empty counter set.
func NewStats() *Stats {
	return &Stats{snapshot: Snapshot{StartedAt: time.Now().UTC()}}
}

// Record counts one resolution outcome.
func (s *Stats) Record(outcome models.ResolutionOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch outcome.Kind {
	case models.KindEvent:
		switch outcome.Operation {
		case models.OpCreate:
			s.snapshot.EventsCreated++
		case models.OpUpdate:
			s.snapshot.EventsUpdated++
		case models.OpNoOp:
			s.snapshot.EventsNoOp++
		}
	case models.KindCompany:
		switch outcome.Operation {
		case models.OpCreate:
			s.snapshot.CompaniesCreated++
		case models.OpUpdate:
			s.snapshot.CompaniesUpdated++
		case models.OpNoOp:
			s.snapshot.CompaniesNoOp++
		}
	}
	s.snapshot.Conflicts += outcome.Conflicts
}

// RecordFlush accumulates one flush result.
func (s *Stats) RecordFlush(flush models.FlushStats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.snapshot.LastFlush = flush
	s.snapshot.LastFlushAt = &now
	s.snapshot.FlushTotals.Add(flush)
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}
