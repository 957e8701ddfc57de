package service

import (
	"sync"
	"time"

	"checkin-service/internal/models"
)

type eventStats struct {
	total      int64
	admitted   int64
	duplicates int64
	invalid    int64
	errors     int64
	buckets    map[int64]int64 // unix minute -> attempt count
	peakMinute int64
	peakCount  int64
}

// StatsAggregator maintains per-event live counters derived from the
// attempt stream. All state is a fold over the log: Replay from empty must
// always reproduce what incremental updates built.
type StatsAggregator struct {
	mu     sync.RWMutex
	events map[string]*eventStats
	window time.Duration
	now    func() time.Time
}

// NewStatsAggregator creates an aggregator with the given trailing window
// for the current-rate figure
func NewStatsAggregator(window time.Duration) *StatsAggregator {
	return &StatsAggregator{
		events: make(map[string]*eventStats),
		window: window,
		now:    time.Now,
	}
}

// Record folds one attempt into its event's counters. Bucketing uses the
// attempt's authority-side receipt time so a replay reproduces the same
// buckets regardless of when it runs.
func (sa *StatsAggregator) Record(attempt models.CheckInAttempt) {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.record(attempt)
}

func (sa *StatsAggregator) record(attempt models.CheckInAttempt) {
	es, ok := sa.events[attempt.EventID]
	if !ok {
		es = &eventStats{buckets: make(map[int64]int64)}
		sa.events[attempt.EventID] = es
	}

	es.total++
	switch attempt.Outcome {
	case models.OutcomeAdmitted:
		es.admitted++
	case models.OutcomeDuplicate:
		es.duplicates++
	case models.OutcomeInvalid:
		es.invalid++
	case models.OutcomeError:
		es.errors++
	}

	at := attempt.CreatedAt
	if at.IsZero() {
		at = sa.now()
	}
	minute := at.Unix() / 60
	es.buckets[minute]++
	if es.buckets[minute] > es.peakCount {
		es.peakCount = es.buckets[minute]
		es.peakMinute = minute
	}

	// Buckets are only needed for the trailing rate once the peak is
	// tracked; drop the ones that fell out of the window.
	horizon := sa.now().Add(-sa.window).Unix() / 60
	for m := range es.buckets {
		if m < horizon {
			delete(es.buckets, m)
		}
	}
}

// GetStats returns the live stats for one event. A never-seen event yields
// zeroes, not an error: an empty dashboard is a valid dashboard.
func (sa *StatsAggregator) GetStats(eventID string) models.LiveAnalyticsStats {
	sa.mu.RLock()
	defer sa.mu.RUnlock()

	stats := models.LiveAnalyticsStats{EventID: eventID}
	es, ok := sa.events[eventID]
	if !ok {
		return stats
	}

	stats.TotalAttempts = es.total
	stats.SuccessfulCheckins = es.admitted
	stats.DuplicateAttempts = es.duplicates
	stats.InvalidTickets = es.invalid
	if es.total > 0 {
		stats.ErrorRate = float64(es.errors) / float64(es.total)
	}

	horizon := sa.now().Add(-sa.window).Unix() / 60
	for m, count := range es.buckets {
		if m >= horizon {
			stats.CurrentRate += count
		}
	}

	if es.peakCount > 0 {
		peak := time.Unix(es.peakMinute*60, 0).UTC()
		stats.PeakTime = &peak
	}

	return stats
}

// Replay rebuilds one event's counters from its full attempt log
func (sa *StatsAggregator) Replay(eventID string, attempts []models.CheckInAttempt) {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	delete(sa.events, eventID)
	for _, a := range attempts {
		if a.EventID == eventID {
			sa.record(a)
		}
	}
}

// CloseEvent releases an event's counters once its check-in window closes
func (sa *StatsAggregator) CloseEvent(eventID string) {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	delete(sa.events, eventID)
}
