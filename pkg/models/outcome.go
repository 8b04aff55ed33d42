package models

import "time"

// Operation is the resolution decision for one record.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpNoOp   Operation = "noop"
)

// ResolutionOutcome is emitted for every processed record. Diffs carry the
// field-level decisions behind an update so downstream consumers and the
// audit trail see what changed and what conflicted.
type ResolutionOutcome struct {
	Kind       EntityKind  `json:"kind"`
	Operation  Operation   `json:"operation"`
	EntityID   string      `json:"entity_id"`
	Source     string      `json:"source,omitempty"`
	MatchScore float64     `json:"match_score,omitempty"`
	Conflicts  int         `json:"conflicts,omitempty"`
	Diffs      []FieldDiff `json:"diffs,omitempty"`
	ResolvedAt time.Time   `json:"resolved_at"`
}

// FlushStats aggregates the result of one batch flush.
type FlushStats struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	NoOps     int `json:"noops"`
	Conflicts int `json:"conflicts"`
	Failed    int `json:"failed"`
}

// Add accumulates another flush into the receiver.
func (s *FlushStats) Add(other FlushStats) {
	s.Created += other.Created
	s.Updated += other.Updated
	s.NoOps += other.NoOps
	s.Conflicts += other.Conflicts
	s.Failed += other.Failed
}
