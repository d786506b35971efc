package projctx

import (
	"sort"
	"time"
)

// historyCap bounds the rolling history kept per view (spec §4.6: "push a
// bounded rolling history cap=100").
const historyCap = 100

// PriorityCounters tracks the waiting-queue counts a view exposes (spec §8
// scenario 6: TotalPatientsWaiting/HighPriorityCount/...).
type PriorityCounters struct {
	Total  int
	High   int
	Normal int
	Low    int
}

// PatientEntry is one patient currently in the queue.
type PatientEntry struct {
	PatientID   string
	Priority    string // already normalized by the handler: "high"|"normal"|"low"
	CheckedInAt time.Time
}

// HistoryEntry is one rolling-history record (e.g. "patient X checked in").
type HistoryEntry struct {
	EventName   string
	AggregateID string
	OccurredAt  time.Time
	Detail      string
}

// QueueView is the read model for one waiting queue aggregate (C8's only
// view shape; spec §3 "Read view: opaque records... each handler defines
// the shape").
type QueueView struct {
	AggregateID string
	Counters    PriorityCounters
	Patients    []PatientEntry
	NextTurn    *PatientEntry
	History     []HistoryEntry
}

func (v *QueueView) clone() QueueView {
	out := QueueView{
		AggregateID: v.AggregateID,
		Counters:    v.Counters,
	}
	out.Patients = append([]PatientEntry(nil), v.Patients...)
	out.History = append([]HistoryEntry(nil), v.History...)
	if v.NextTurn != nil {
		next := *v.NextTurn
		out.NextTurn = &next
	}
	return out
}

// IncrementCounters bumps Total and the bucket matching priority.
func (v *QueueView) IncrementCounters(priority string) {
	v.Counters.Total++
	switch priority {
	case "high":
		v.Counters.High++
	case "normal":
		v.Counters.Normal++
	case "low":
		v.Counters.Low++
	}
}

// DecrementCounters reverses IncrementCounters, floored at zero.
func (v *QueueView) DecrementCounters(priority string) {
	if v.Counters.Total > 0 {
		v.Counters.Total--
	}
	switch priority {
	case "high":
		if v.Counters.High > 0 {
			v.Counters.High--
		}
	case "normal":
		if v.Counters.Normal > 0 {
			v.Counters.Normal--
		}
	case "low":
		if v.Counters.Low > 0 {
			v.Counters.Low--
		}
	}
}

// AddPatient inserts entry and re-sorts by priority rank then arrival time
// (spec §8 scenario 6: "high -> normal -> low, ties by check-in time").
func (v *QueueView) AddPatient(entry PatientEntry) {
	v.Patients = append(v.Patients, entry)
	sort.SliceStable(v.Patients, func(i, j int) bool {
		ri, rj := priorityRank(v.Patients[i].Priority), priorityRank(v.Patients[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return v.Patients[i].CheckedInAt.Before(v.Patients[j].CheckedInAt)
	})
	v.refreshNextTurn()
}

// RemovePatient drops the entry matching patientID, if present.
func (v *QueueView) RemovePatient(patientID string) {
	out := v.Patients[:0]
	for _, p := range v.Patients {
		if p.PatientID != patientID {
			out = append(out, p)
		}
	}
	v.Patients = out
	v.refreshNextTurn()
}

// refreshNextTurn upserts the "next turn" view to the head of Patients
// (spec §4.6: "upsert the next turn view").
func (v *QueueView) refreshNextTurn() {
	if len(v.Patients) == 0 {
		v.NextTurn = nil
		return
	}
	next := v.Patients[0]
	v.NextTurn = &next
}

// PushHistory appends entry, dropping the oldest record once historyCap is
// exceeded.
func (v *QueueView) PushHistory(entry HistoryEntry) {
	v.History = append(v.History, entry)
	if len(v.History) > historyCap {
		v.History = v.History[len(v.History)-historyCap:]
	}
}

func priorityRank(priority string) int {
	switch priority {
	case "high":
		return 0
	case "normal":
		return 1
	case "low":
		return 2
	default:
		return 3
	}
}
