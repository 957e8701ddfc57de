package models

import "time"

// Event types published on the attempt stream
const (
	EventTypeAttemptRecorded = "ATTEMPT_RECORDED"
	EventTypeAlertRaised     = "ALERT_RAISED"
	EventTypeAlertEscalated  = "ALERT_ESCALATED"
	EventTypeAlertResolved   = "ALERT_RESOLVED"
	EventTypeStatsUpdated    = "STATS_UPDATED"
)

// BaseEvent contains common fields for all stream events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// AttemptRecordedEvent is published by the redemption authority for every
// adjudicated scan, regardless of outcome. It is the only event the
// authority itself emits; everything downstream derives from it.
type AttemptRecordedEvent struct {
	BaseEvent
	Attempt CheckInAttempt `json:"attempt"`
}

// AlertRaisedEvent published when a first duplicate opens a new alert
type AlertRaisedEvent struct {
	BaseEvent
	Alert DuplicateAlert `json:"alert"`
}

// AlertEscalatedEvent published when an open alert changes level
type AlertEscalatedEvent struct {
	BaseEvent
	Alert         DuplicateAlert `json:"alert"`
	PreviousLevel string         `json:"previous_level"`
}

// AlertResolvedEvent published when an operator resolves an alert
type AlertResolvedEvent struct {
	BaseEvent
	AlertID string `json:"alert_id"`
	EventID string `json:"checkin_event_id"`
}

// StatsUpdatedEvent carries the refreshed per-event stats after an attempt
type StatsUpdatedEvent struct {
	BaseEvent
	Stats LiveAnalyticsStats `json:"stats"`
}
