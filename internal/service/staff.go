package service

import (
	"sort"
	"sync"

	"checkin-service/internal/models"
)

type staffCounters struct {
	name       string
	total      int64
	successful int64
	duplicates int64
}

// StaffTracker maintains per-staff scan counters per event, derived from
// the same attempt stream as the stats aggregator
type StaffTracker struct {
	mu     sync.RWMutex
	events map[string]map[string]*staffCounters // eventID -> staffID
}

// NewStaffTracker creates a new staff performance tracker
func NewStaffTracker() *StaffTracker {
	return &StaffTracker{
		events: make(map[string]map[string]*staffCounters),
	}
}

// Record folds one attempt into the scanning staff member's counters
func (st *StaffTracker) Record(attempt models.CheckInAttempt) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.record(attempt)
}

func (st *StaffTracker) record(attempt models.CheckInAttempt) {
	staff, ok := st.events[attempt.EventID]
	if !ok {
		staff = make(map[string]*staffCounters)
		st.events[attempt.EventID] = staff
	}

	sc, ok := staff[attempt.StaffID]
	if !ok {
		sc = &staffCounters{}
		staff[attempt.StaffID] = sc
	}
	if attempt.StaffName != "" {
		sc.name = attempt.StaffName
	}

	sc.total++
	switch attempt.Outcome {
	case models.OutcomeAdmitted:
		sc.successful++
	case models.OutcomeDuplicate:
		// A duplicate is a catch, not a fault: this staff member's scan
		// surfaced an already-used ticket.
		sc.duplicates++
	}
}

// GetStaffPerformance returns one entry per staff member who has scanned at
// least once, busiest first
func (st *StaffTracker) GetStaffPerformance(eventID string) []models.StaffPerformance {
	st.mu.RLock()
	defer st.mu.RUnlock()

	staff, ok := st.events[eventID]
	if !ok {
		return []models.StaffPerformance{}
	}

	perf := make([]models.StaffPerformance, 0, len(staff))
	for staffID, sc := range staff {
		total := sc.total
		if total < 1 {
			total = 1
		}
		perf = append(perf, models.StaffPerformance{
			StaffID:             staffID,
			StaffName:           sc.name,
			TotalScans:          sc.total,
			SuccessfulScans:     sc.successful,
			DuplicateDetections: sc.duplicates,
			SuccessRate:         float64(sc.successful) / float64(total) * 100,
		})
	}

	sort.Slice(perf, func(i, j int) bool {
		if perf[i].TotalScans != perf[j].TotalScans {
			return perf[i].TotalScans > perf[j].TotalScans
		}
		return perf[i].StaffID < perf[j].StaffID
	})

	return perf
}

// Replay rebuilds one event's staff counters from its full attempt log
func (st *StaffTracker) Replay(eventID string, attempts []models.CheckInAttempt) {
	st.mu.Lock()
	defer st.mu.Unlock()

	delete(st.events, eventID)
	for _, a := range attempts {
		if a.EventID == eventID {
			st.record(a)
		}
	}
}

// CloseEvent releases an event's staff counters
func (st *StaffTracker) CloseEvent(eventID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.events, eventID)
}
