// Package queueviews holds the projection handlers (C8) for the waiting
// queue: event-to-view transformations, data only, with no domain rules
// (capacity, duplicate check-in, priority enumeration are all out of scope
// per spec §1 — the events arrive already decided by an external
// collaborator).
package queueviews

import (
	"fmt"

	"github.com/kestrelhealth/waitqueue/pkg/eventcodec"
)

// PatientCheckedIn is emitted when a patient joins the waiting queue.
type PatientCheckedIn struct {
	PatientID string `json:"patientId"`
	Priority  string `json:"priority"`
}

// Validate implements eventcodec.Validator.
func (p PatientCheckedIn) Validate() error {
	if p.PatientID == "" {
		return fmt.Errorf("queueviews: PatientCheckedIn.PatientID is required")
	}
	return nil
}

// PatientCalled is emitted when staff call a patient in for service,
// removing them from the waiting list.
type PatientCalled struct {
	PatientID string `json:"patientId"`
}

// Validate implements eventcodec.Validator.
func (p PatientCalled) Validate() error {
	if p.PatientID == "" {
		return fmt.Errorf("queueviews: PatientCalled.PatientID is required")
	}
	return nil
}

// PatientLeft is emitted when a patient leaves the queue without being
// served (walked out, cancelled).
type PatientLeft struct {
	PatientID string `json:"patientId"`
}

// Validate implements eventcodec.Validator.
func (p PatientLeft) Validate() error {
	if p.PatientID == "" {
		return fmt.Errorf("queueviews: PatientLeft.PatientID is required")
	}
	return nil
}

// Event name constants, the stable strings C1 maps payloads to and from.
const (
	EventPatientCheckedIn = "PatientCheckedIn"
	EventPatientCalled    = "PatientCalled"
	EventPatientLeft      = "PatientLeft"
)

// RegisterEvents registers every waiting-queue payload type with reg, so C1
// can serialize/deserialize them by EventName.
func RegisterEvents(reg *eventcodec.Registry) {
	reg.Register(EventPatientCheckedIn, func() eventcodec.Payload { return &PatientCheckedIn{} })
	reg.Register(EventPatientCalled, func() eventcodec.Payload { return &PatientCalled{} })
	reg.Register(EventPatientLeft, func() eventcodec.Payload { return &PatientLeft{} })
}
