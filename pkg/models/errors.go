package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// ErrStoreUnavailable is returned once the batcher has exhausted its retries
// against a transiently failing store.
var ErrStoreUnavailable = errors.New("store unavailable")

// MalformedInputError reports an input field that could not be interpreted.
// Unparsable values are reported, never silently defaulted.
type MalformedInputError struct {
	Field  string
	Value  string
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed %s %q: %s", e.Field, e.Value, e.Reason)
}

// FailedItem is one op that a batch flush could not persist. It carries the
// original record or patch so the caller can retry the operation as
// submitted.
type FailedItem struct {
	Index     int
	Kind      EntityKind
	Operation Operation
	EntityID  string
	Event     *Event
	Company   *Company
	Patch     Patch
	Err       error
}

// PartialBatchError carries the failed items of a flush so the caller can
// retry them without re-submitting the ops that succeeded.
type PartialBatchError struct {
	Failed []FailedItem
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("batch flush failed for %d items", len(e.Failed))
}

// IsDuplicateKey reports whether err is a Postgres unique violation. The
// concurrency guard converts these into a fetch of the winning row.
func IsDuplicateKey(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key value")
}
