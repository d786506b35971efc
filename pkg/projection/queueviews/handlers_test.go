package queueviews_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrelhealth/waitqueue/pkg/eventcodec"
	"github.com/kestrelhealth/waitqueue/pkg/eventlog"
	"github.com/kestrelhealth/waitqueue/pkg/projection/projctx"
	"github.com/kestrelhealth/waitqueue/pkg/projection/queueviews"
)

func newCodec() *eventcodec.Registry {
	reg := eventcodec.NewRegistry()
	queueviews.RegisterEvents(reg)
	return reg
}

func encode(t *testing.T, codec *eventcodec.Registry, eventName string, payload eventcodec.Payload) []byte {
	t.Helper()
	data, err := codec.Encode(eventName, payload)
	require.NoError(t, err)
	return data
}

func checkedInEvent(t *testing.T, codec *eventcodec.Registry, eventID, aggID, patientID, priority string, at time.Time) eventlog.Event {
	t.Helper()
	payload := encode(t, codec, queueviews.EventPatientCheckedIn, queueviews.PatientCheckedIn{PatientID: patientID, Priority: priority})
	return eventlog.NewUncommitted(eventID, aggID, queueviews.EventPatientCheckedIn, payload, eventlog.Metadata{
		OccurredAt: at,
	}).WithVersion(1)
}

func TestCheckedInHandlerAddsPatientAndIncrementsCounters(t *testing.T) {
	ctx := context.Background()
	codec := newCodec()
	pctx := projctx.New()
	h := queueviews.NewCheckedInHandler("queueviews", codec)

	event := checkedInEvent(t, codec, "evt-1", "queue-1", "p-1", "urgent", time.Now())

	require.NoError(t, h.Handle(ctx, pctx, event))

	view := pctx.View("queueviews", "queue-1")
	require.Len(t, view.Patients, 1)
	require.Equal(t, "p-1", view.Patients[0].PatientID)
	require.Equal(t, "high", view.Patients[0].Priority, "urgent normalizes to high")
	require.Equal(t, 1, view.Counters.Total)
	require.Equal(t, 1, view.Counters.High)
	require.Len(t, view.History, 1)
}

func TestCheckedInHandlerIsIdempotentOnReplayedEvent(t *testing.T) {
	ctx := context.Background()
	codec := newCodec()
	pctx := projctx.New()
	h := queueviews.NewCheckedInHandler("queueviews", codec)

	event := checkedInEvent(t, codec, "evt-1", "queue-1", "p-1", "normal", time.Now())

	require.NoError(t, h.Handle(ctx, pctx, event))
	require.NoError(t, h.Handle(ctx, pctx, event))

	view := pctx.View("queueviews", "queue-1")
	require.Len(t, view.Patients, 1, "replaying the same event must not double-add the patient")
	require.Equal(t, 1, view.Counters.Total)
}

func TestCalledHandlerRemovesPatientAndDecrementsCounters(t *testing.T) {
	ctx := context.Background()
	codec := newCodec()
	pctx := projctx.New()

	checkedIn := queueviews.NewCheckedInHandler("queueviews", codec)
	called := queueviews.NewCalledHandler("queueviews", codec)

	require.NoError(t, checkedIn.Handle(ctx, pctx, checkedInEvent(t, codec, "evt-1", "queue-1", "p-1", "high", time.Now())))

	calledPayload := encode(t, codec, queueviews.EventPatientCalled, queueviews.PatientCalled{PatientID: "p-1"})
	calledEvent := eventlog.NewUncommitted("evt-2", "queue-1", queueviews.EventPatientCalled, calledPayload, eventlog.Metadata{
		OccurredAt: time.Now(),
	}).WithVersion(2)

	require.NoError(t, called.Handle(ctx, pctx, calledEvent))

	view := pctx.View("queueviews", "queue-1")
	require.Empty(t, view.Patients)
	require.Equal(t, 0, view.Counters.Total)
	require.Equal(t, 0, view.Counters.High)
	require.Len(t, view.History, 2)
}

func TestLeftHandlerRemovesPatientWithoutServing(t *testing.T) {
	ctx := context.Background()
	codec := newCodec()
	pctx := projctx.New()

	checkedIn := queueviews.NewCheckedInHandler("queueviews", codec)
	left := queueviews.NewLeftHandler("queueviews", codec)

	require.NoError(t, checkedIn.Handle(ctx, pctx, checkedInEvent(t, codec, "evt-1", "queue-1", "p-1", "low", time.Now())))

	leftPayload := encode(t, codec, queueviews.EventPatientLeft, queueviews.PatientLeft{PatientID: "p-1"})
	leftEvent := eventlog.NewUncommitted("evt-2", "queue-1", queueviews.EventPatientLeft, leftPayload, eventlog.Metadata{
		OccurredAt: time.Now(),
	}).WithVersion(2)

	require.NoError(t, left.Handle(ctx, pctx, leftEvent))

	view := pctx.View("queueviews", "queue-1")
	require.Empty(t, view.Patients)
	require.Equal(t, 0, view.Counters.Low)
}

func TestCheckedInHandlerRejectsMissingPatientID(t *testing.T) {
	ctx := context.Background()
	codec := newCodec()
	pctx := projctx.New()
	h := queueviews.NewCheckedInHandler("queueviews", codec)

	event := checkedInEvent(t, codec, "evt-1", "queue-1", "", "normal", time.Now())

	err := h.Handle(ctx, pctx, event)
	require.Error(t, err)

	var malformed *eventcodec.MalformedPayloadError
	require.ErrorAs(t, err, &malformed)
}
