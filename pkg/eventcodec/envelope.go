package eventcodec

import (
	"encoding/json"
	"time"

	"github.com/kestrelhealth/waitqueue/pkg/eventlog"
)

// WireEnvelope is the JSON document published to the broker and, in the
// default SQLite outbox, stored as the row's Payload (spec §6: routing key
// = EventName, ContentType = application/json). Its own Payload field is
// still the protobuf-encoded structpb.Struct bytes produced by Encode;
// encoding/json base64-encodes a []byte automatically.
type WireEnvelope struct {
	EventID       string    `json:"event_id"`
	EventName     string    `json:"event_name"`
	AggregateID   string    `json:"aggregate_id"`
	Version       int64     `json:"version"`
	OccurredAt    time.Time `json:"occurred_at"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id"`
	Actor         string    `json:"actor,omitempty"`
	SchemaVersion int       `json:"schema_version"`
	Payload       []byte    `json:"payload"`
}

// NewWireEnvelope builds the envelope for an already-serialized event.
func NewWireEnvelope(ev eventlog.Event) WireEnvelope {
	return WireEnvelope{
		EventID:       ev.EventID,
		EventName:     ev.EventName,
		AggregateID:   ev.AggregateID,
		Version:       ev.Version,
		OccurredAt:    ev.OccurredAt,
		CorrelationID: ev.CorrelationID,
		CausationID:   ev.CausationID,
		Actor:         ev.Actor,
		SchemaVersion: ev.SchemaVersion,
		Payload:       ev.Payload,
	}
}

// Marshal renders the envelope as JSON bytes.
func (w WireEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(w)
}

// UnmarshalWireEnvelope parses a JSON envelope previously produced by
// Marshal.
func UnmarshalWireEnvelope(data []byte) (WireEnvelope, error) {
	var w WireEnvelope
	err := json.Unmarshal(data, &w)
	return w, err
}
