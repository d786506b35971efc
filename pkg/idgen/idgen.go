// Package idgen generates the identifiers the pipeline needs: random,
// time-sortable IDs for rows that are appended in order (events, outbox
// messages), and deterministic idempotency keys derived from stable event
// fields.
//
// Grounded on the teacher's pkg/eventsourcing/util.go (GenerateID,
// GenerateDeterministicEventID), generalized to use the teacher's existing
// oklog/ulid/v2 dependency for the sortable IDs and golang.org/x/crypto's
// blake2b for the deterministic hash instead of crypto/sha256.
package idgen

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/blake2b"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewULID returns a new time-sortable, monotonically-increasing identifier
// suitable for primary keys that benefit from insertion-order locality
// (EventId, OutboxId).
func NewULID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// NewUUID returns a random UUID. Nothing in this module calls it: the writer
// stores CorrelationId/CausationId exactly as the caller supplies them and
// does not fill in missing ones.
func NewUUID() string {
	return uuid.NewString()
}

// IdempotencyKey derives a stable, deterministic key for an event from its
// aggregate, version and event name. Two Save calls that would produce the
// same logical event (e.g. a retried command) derive the same key, which is
// what makes the unique index in the event log a no-op on replay.
func IdempotencyKey(aggregateID string, version int64, eventName string) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors on bad key length, and we pass none.
		panic(err)
	}
	fmt.Fprintf(h, "%s:%d:%s", aggregateID, version, eventName)
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// ProjectionIdempotencyKey derives the key a projection handler uses to
// de-duplicate a (projectionId, event) pair, per spec §4.7:
// "<handler-tag>:<aggregateId>:<eventId>".
func ProjectionIdempotencyKey(handlerTag, aggregateID, eventID string) string {
	return fmt.Sprintf("%s:%s:%s", handlerTag, aggregateID, eventID)
}
