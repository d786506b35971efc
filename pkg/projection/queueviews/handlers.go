package queueviews

import (
	"context"
	"fmt"

	"github.com/kestrelhealth/waitqueue/pkg/eventcodec"
	"github.com/kestrelhealth/waitqueue/pkg/eventlog"
	"github.com/kestrelhealth/waitqueue/pkg/idgen"
	"github.com/kestrelhealth/waitqueue/pkg/projection"
	"github.com/kestrelhealth/waitqueue/pkg/projection/projctx"
)

// handlerTag namespaces the idempotency keys this projection derives (spec
// §4.7: "<handler-tag>:<aggregateId>:<eventId>").
const handlerTag = "queueviews"

// CheckedInHandler applies PatientCheckedIn events: increments counters and
// adds the patient to the queue.
type CheckedInHandler struct {
	projectionID string
	codec        *eventcodec.Registry
}

// NewCheckedInHandler builds the PatientCheckedIn handler for projectionID,
// decoding payloads through codec.
func NewCheckedInHandler(projectionID string, codec *eventcodec.Registry) *CheckedInHandler {
	return &CheckedInHandler{projectionID: projectionID, codec: codec}
}

// EventName implements projection.Handler.
func (h *CheckedInHandler) EventName() string { return EventPatientCheckedIn }

// Handle implements projection.Handler (spec §4.7 steps 1-4).
func (h *CheckedInHandler) Handle(ctx context.Context, pctx *projctx.Context, event eventlog.Event) error {
	key := idgen.ProjectionIdempotencyKey(handlerTag, event.AggregateID, event.EventID)
	if pctx.AlreadyProcessed(h.projectionID, key) {
		return nil
	}

	decoded, err := h.codec.Decode(event.EventName, event.Payload)
	if err != nil {
		return fmt.Errorf("queueviews: decode %s: %w", event.EventName, err)
	}
	payload, ok := decoded.(*PatientCheckedIn)
	if !ok {
		return fmt.Errorf("queueviews: unexpected payload type %T for %s", decoded, event.EventName)
	}

	priority := NormalizePriority(payload.Priority)

	pctx.Mutate(h.projectionID, event.AggregateID, func(v *projctx.QueueView) {
		v.IncrementCounters(priority)
		v.AddPatient(projctx.PatientEntry{
			PatientID:   payload.PatientID,
			Priority:    priority,
			CheckedInAt: event.OccurredAt,
		})
		v.PushHistory(projctx.HistoryEntry{
			EventName:   event.EventName,
			AggregateID: event.AggregateID,
			OccurredAt:  event.OccurredAt,
			Detail:      fmt.Sprintf("%s checked in (%s)", payload.PatientID, priority),
		})
	})

	pctx.MarkProcessed(h.projectionID, key)
	return nil
}

// CalledHandler applies PatientCalled events: removes the patient from the
// waiting list (they're now being served).
type CalledHandler struct {
	projectionID string
	codec        *eventcodec.Registry
}

// NewCalledHandler builds the PatientCalled handler for projectionID.
func NewCalledHandler(projectionID string, codec *eventcodec.Registry) *CalledHandler {
	return &CalledHandler{projectionID: projectionID, codec: codec}
}

// EventName implements projection.Handler.
func (h *CalledHandler) EventName() string { return EventPatientCalled }

// Handle implements projection.Handler.
func (h *CalledHandler) Handle(ctx context.Context, pctx *projctx.Context, event eventlog.Event) error {
	key := idgen.ProjectionIdempotencyKey(handlerTag, event.AggregateID, event.EventID)
	if pctx.AlreadyProcessed(h.projectionID, key) {
		return nil
	}

	decoded, err := h.codec.Decode(event.EventName, event.Payload)
	if err != nil {
		return fmt.Errorf("queueviews: decode %s: %w", event.EventName, err)
	}
	payload, ok := decoded.(*PatientCalled)
	if !ok {
		return fmt.Errorf("queueviews: unexpected payload type %T for %s", decoded, event.EventName)
	}

	pctx.Mutate(h.projectionID, event.AggregateID, func(v *projctx.QueueView) {
		priority := priorityOf(v, payload.PatientID)
		v.RemovePatient(payload.PatientID)
		if priority != "" {
			v.DecrementCounters(priority)
		}
		v.PushHistory(projctx.HistoryEntry{
			EventName:   event.EventName,
			AggregateID: event.AggregateID,
			OccurredAt:  event.OccurredAt,
			Detail:      fmt.Sprintf("%s called for service", payload.PatientID),
		})
	})

	pctx.MarkProcessed(h.projectionID, key)
	return nil
}

// LeftHandler applies PatientLeft events: removes the patient without
// serving them.
type LeftHandler struct {
	projectionID string
	codec        *eventcodec.Registry
}

// NewLeftHandler builds the PatientLeft handler for projectionID.
func NewLeftHandler(projectionID string, codec *eventcodec.Registry) *LeftHandler {
	return &LeftHandler{projectionID: projectionID, codec: codec}
}

// EventName implements projection.Handler.
func (h *LeftHandler) EventName() string { return EventPatientLeft }

// Handle implements projection.Handler.
func (h *LeftHandler) Handle(ctx context.Context, pctx *projctx.Context, event eventlog.Event) error {
	key := idgen.ProjectionIdempotencyKey(handlerTag, event.AggregateID, event.EventID)
	if pctx.AlreadyProcessed(h.projectionID, key) {
		return nil
	}

	decoded, err := h.codec.Decode(event.EventName, event.Payload)
	if err != nil {
		return fmt.Errorf("queueviews: decode %s: %w", event.EventName, err)
	}
	payload, ok := decoded.(*PatientLeft)
	if !ok {
		return fmt.Errorf("queueviews: unexpected payload type %T for %s", decoded, event.EventName)
	}

	pctx.Mutate(h.projectionID, event.AggregateID, func(v *projctx.QueueView) {
		priority := priorityOf(v, payload.PatientID)
		v.RemovePatient(payload.PatientID)
		if priority != "" {
			v.DecrementCounters(priority)
		}
		v.PushHistory(projctx.HistoryEntry{
			EventName:   event.EventName,
			AggregateID: event.AggregateID,
			OccurredAt:  event.OccurredAt,
			Detail:      fmt.Sprintf("%s left the queue", payload.PatientID),
		})
	})

	pctx.MarkProcessed(h.projectionID, key)
	return nil
}

func priorityOf(v *projctx.QueueView, patientID string) string {
	for _, p := range v.Patients {
		if p.PatientID == patientID {
			return p.Priority
		}
	}
	return ""
}

// Handlers returns the full static handler table for projectionID (spec
// §4.7, §9: "an explicit EventName -> Handler table registered at
// construction").
func Handlers(projectionID string, codec *eventcodec.Registry) []projection.Handler {
	return []projection.Handler{
		NewCheckedInHandler(projectionID, codec),
		NewCalledHandler(projectionID, codec),
		NewLeftHandler(projectionID, codec),
	}
}
