package eventlog

import (
	"errors"
	"fmt"
)

// Error taxonomy grounded on the teacher's pkg/eventsourcing/errors.go,
// narrowed to the kinds spec §7 assigns to the log/writer layer.
var (
	// ErrAggregateNotFound is returned by loaders when existence was required.
	ErrAggregateNotFound = errors.New("eventlog: aggregate not found")

	// ErrVersionConflict is the sentinel VersionConflictError.Is matches.
	ErrVersionConflict = errors.New("eventlog: version conflict")

	// ErrDuplicateIdempotencyKey signals an insert that collided with an
	// existing IdempotencyKey; callers treat it as "already persisted",
	// never as a hard failure (spec §4.4 step 5).
	ErrDuplicateIdempotencyKey = errors.New("eventlog: duplicate idempotency key")
)

// VersionConflictError carries the expected and actual aggregate version
// for a failed optimistic-concurrency check (spec §4.4 step 3).
type VersionConflictError struct {
	AggregateID string
	Expected    int64
	Actual      int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("eventlog: version conflict on aggregate %s: expected %d, actual %d",
		e.AggregateID, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrVersionConflict) succeed for this type.
func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}
