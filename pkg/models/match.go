package models

// EntityKind distinguishes the two record types flowing through resolution.
type EntityKind string

const (
	KindEvent   EntityKind = "event"
	KindCompany EntityKind = "company"
)

// MatchCandidate is a stored entity returned by similarity search, paired with
// its similarity score (1 - cosine distance, in [0,1]).
type MatchCandidate struct {
	Kind    EntityKind `json:"kind"`
	Event   *Event     `json:"event,omitempty"`
	Company *Company   `json:"company,omitempty"`
	Score   float64    `json:"score"`
}

// ID returns the stored entity's id regardless of kind.
func (c MatchCandidate) ID() string {
	switch {
	case c.Event != nil:
		return c.Event.ID
	case c.Company != nil:
		return c.Company.ID
	}
	return ""
}

// FieldDiff describes one field where an incoming record differs from a stored
// candidate. Conflict marks equal-precision non-null disagreements that the
// merge will surface rather than resolve.
type FieldDiff struct {
	Field    string `json:"field"`
	Existing any    `json:"existing"`
	Incoming any    `json:"incoming"`
	Conflict bool   `json:"conflict"`
}

// Evaluation is the precision evaluator's verdict on a (record, candidate) pair.
type Evaluation struct {
	IsMatch     bool        `json:"is_match"`
	NeedsUpdate bool        `json:"needs_update"`
	Diffs       []FieldDiff `json:"diffs,omitempty"`
}

// Patch is a minimal set of column updates produced by the merge resolver.
// Keys are column names; only changed fields appear.
type Patch map[string]any
