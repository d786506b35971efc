// Package eventcodec implements C1: a stable-name type registry and a
// round-trip-preserving serializer for event payloads.
//
// The on-the-wire/on-disk encoding is protobuf's structpb.Struct: a payload
// is first reduced to a plain map via JSON (so any ordinary Go struct can be
// registered with no generated code), then carried as a structpb.Struct and
// proto-marshaled. This keeps the "structured document" storage contract
// (spec §3, §6) on protobuf bytes — grounded on the teacher's
// domain.EventEnvelope.Payload proto.Message — while the outer broker/DB
// envelope stays plain JSON (spec §6 ContentType = application/json).
package eventcodec

import (
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Payload is the marker interface for registered event payload types. Any
// JSON-marshalable struct satisfies it.
type Payload interface{}

// Validator is an optional interface a Payload can implement to reject
// payloads missing required fields after decode (spec §4.1: "missing
// required fields fail as MalformedPayload").
type Validator interface {
	Validate() error
}

// Factory returns a fresh, zero-valued instance of a registered payload
// type, ready to be the target of a decode. Factories must return a pointer
// (e.g. `func() Payload { return &PatientCheckedIn{} }`) so Decode can
// json.Unmarshal into it.
type Factory func() Payload

// Registry maps a stable EventName to the Go type that represents it.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates eventName with factory. Registering the same name
// twice overwrites the previous factory, matching how the teacher's
// protoregistry-based dispatch treats late registration.
func (r *Registry) Register(eventName string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[eventName] = factory
}

// Known reports whether eventName has a registered factory.
func (r *Registry) Known(eventName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[eventName]
	return ok
}

// Encode serializes payload to the wire/storage representation for
// eventName. The concrete Go type of payload need not match the registered
// factory type — Encode only needs JSON-marshalability.
func (r *Registry) Encode(eventName string, payload Payload) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("eventcodec: marshal payload for %s: %w", eventName, err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("eventcodec: payload for %s is not a JSON object: %w", eventName, err)
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("eventcodec: build struct for %s: %w", eventName, err)
	}

	data, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("eventcodec: proto-marshal %s: %w", eventName, err)
	}
	return data, nil
}

// Decode deserializes data for eventName into the type registered under
// that name. Unknown names return ErrUnknownEventType; malformed or
// incomplete payloads return ErrMalformedPayload (spec §4.1).
func (r *Registry) Decode(eventName string, data []byte) (Payload, error) {
	r.mu.RLock()
	factory, ok := r.factories[eventName]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownEventTypeError{EventName: eventName}
	}

	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, &MalformedPayloadError{EventName: eventName, Cause: err}
	}

	raw, err := json.Marshal(st.AsMap())
	if err != nil {
		return nil, &MalformedPayloadError{EventName: eventName, Cause: err}
	}

	target := factory()
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, &MalformedPayloadError{EventName: eventName, Cause: err}
	}

	if v, ok := target.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, &MalformedPayloadError{EventName: eventName, Cause: err}
		}
	}

	return target, nil
}
