package models

import "time"

// Ticket statuses. The engine only ever writes the active→used transition;
// refunded/cancelled are set by the external order system.
const (
	TicketStatusActive    = "ACTIVE"
	TicketStatusUsed      = "USED"
	TicketStatusRefunded  = "REFUNDED"
	TicketStatusCancelled = "CANCELLED"
)

// Check-in attempt outcomes
const (
	OutcomeAdmitted  = "ADMITTED"
	OutcomeDuplicate = "DUPLICATE"
	OutcomeInvalid   = "INVALID"
	OutcomeError     = "ERROR"
)

// Alert levels
const (
	AlertLevelLow    = "LOW"
	AlertLevelMedium = "MEDIUM"
	AlertLevelHigh   = "HIGH"
)

// Ticket is the registry row the authority adjudicates against
type Ticket struct {
	ID        string    `db:"id" json:"id"`
	EventID   string    `db:"event_id" json:"event_id"`
	Status    string    `db:"status" json:"status"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CheckInAttempt is one adjudicated scan. Immutable once written; the
// attempt log is the sole source of truth for all downstream aggregation.
type CheckInAttempt struct {
	ID             string    `db:"id" json:"id"`
	TicketID       string    `db:"ticket_id" json:"ticket_id"`
	EventID        string    `db:"event_id" json:"event_id"`
	StaffID        string    `db:"staff_id" json:"staff_id"`
	StaffName      string    `db:"staff_name" json:"staff_name,omitempty"`
	DeviceID       string    `db:"device_id" json:"device_id"`
	Outcome        string    `db:"outcome" json:"outcome"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	ScannedAt      time.Time `db:"scanned_at" json:"scanned_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// DuplicateAlert tracks repeated scans of an already-used ticket. Never
// deleted; resolution only flips the flag and preserves attempt history.
type DuplicateAlert struct {
	ID           string    `db:"id" json:"id"`
	TicketID     string    `db:"ticket_id" json:"ticket_id"`
	EventID      string    `db:"event_id" json:"event_id"`
	AlertLevel   string    `db:"alert_level" json:"alert_level"`
	AttemptCount int       `db:"attempt_count" json:"attempt_count"`
	DeviceCount  int       `db:"device_count" json:"device_count"`
	Resolved     bool      `db:"resolved" json:"resolved"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`

	// DuplicateAttempts is populated from the attempt log on read paths.
	DuplicateAttempts []CheckInAttempt `db:"-" json:"duplicate_attempts,omitempty"`
}

// LiveAnalyticsStats is a fold over one event's attempt log. It has no
// identity of its own and must always be reproducible by replaying the log.
type LiveAnalyticsStats struct {
	EventID            string     `json:"event_id"`
	TotalAttempts      int64      `json:"total_attempts"`
	SuccessfulCheckins int64      `json:"successful_checkins"`
	DuplicateAttempts  int64      `json:"duplicate_attempts"`
	InvalidTickets     int64      `json:"invalid_tickets"`
	ErrorRate          float64    `json:"error_rate"`
	CurrentRate        int64      `json:"current_rate"`
	PeakTime           *time.Time `json:"peak_time,omitempty"`
}

// StaffPerformance is the per-staff slice of the same fold
type StaffPerformance struct {
	StaffID             string  `json:"staff_id"`
	StaffName           string  `json:"staff_name"`
	TotalScans          int64   `json:"total_scans"`
	SuccessfulScans     int64   `json:"successful_scans"`
	DuplicateDetections int64   `json:"duplicate_detections"`
	SuccessRate         float64 `json:"success_rate"`
}

// AlertPolicy holds the escalation thresholds for one event. An alert
// escalates when either the attempt count or the distinct-device count
// crosses a threshold; multiple devices are the stronger fraud signal.
type AlertPolicy struct {
	MediumAttempts int `json:"medium_attempts"`
	MediumDevices  int `json:"medium_devices"`
	HighAttempts   int `json:"high_attempts"`
	HighDevices    int `json:"high_devices"`
}

// Snapshot is the pull-based backstop dashboards fetch on a fixed interval
type Snapshot struct {
	Stats            LiveAnalyticsStats `json:"stats"`
	Alerts           []DuplicateAlert   `json:"alerts"`
	StaffPerformance []StaffPerformance `json:"staff_performance"`
	TakenAt          time.Time          `json:"taken_at"`
}
