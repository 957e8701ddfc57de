package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"checkin-service/internal/models"
	"checkin-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Alert change kinds reported to the live feed
const (
	AlertChangeRaised    = "raised"
	AlertChangeEscalated = "escalated"
	AlertChangeUpdated   = "updated"
)

// AlertStore persists alerts and reads back attempt history. *store.Store
// is the production implementation.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *models.DuplicateAlert) error
	UpdateAlert(ctx context.Context, alert *models.DuplicateAlert) error
	GetAlert(ctx context.Context, alertID string) (*models.DuplicateAlert, error)
	ResolveAlert(ctx context.Context, alertID string) error
	ResolveAlertsByEvent(ctx context.Context, eventID string) ([]string, error)
	ListAlerts(ctx context.Context, eventID string, includeResolved bool) ([]models.DuplicateAlert, error)
	GetOpenAlertByTicket(ctx context.Context, ticketID string) (*models.DuplicateAlert, error)
	ListDuplicateAttempts(ctx context.Context, ticketID string, since time.Time) ([]models.CheckInAttempt, error)
}

var levelRank = map[string]int{
	models.AlertLevelLow:    1,
	models.AlertLevelMedium: 2,
	models.AlertLevelHigh:   3,
}

type openAlert struct {
	alert   models.DuplicateAlert
	devices map[string]struct{}
}

// AlertEngine consumes duplicate attempts and maintains the alert set.
// Working state lives in memory keyed by ticket; every change is written
// through to the store so restarts rehydrate from it.
type AlertEngine struct {
	mu            sync.Mutex
	open          map[string]*openAlert // ticketID -> unresolved alert
	policies      map[string]models.AlertPolicy
	defaultPolicy models.AlertPolicy
	store         AlertStore
	logger        *zap.Logger
}

// NewAlertEngine creates a new alert engine with the given default policy
func NewAlertEngine(store AlertStore, defaultPolicy models.AlertPolicy) *AlertEngine {
	return &AlertEngine{
		open:          make(map[string]*openAlert),
		policies:      make(map[string]models.AlertPolicy),
		defaultPolicy: defaultPolicy,
		store:         store,
		logger:        util.GetLogger(),
	}
}

// Policy returns the escalation policy in effect for an event
func (e *AlertEngine) Policy(eventID string) models.AlertPolicy {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.policies[eventID]; ok {
		return p
	}
	return e.defaultPolicy
}

// SetPolicy overrides the escalation thresholds for one event
func (e *AlertEngine) SetPolicy(eventID string, policy models.AlertPolicy) error {
	if policy.MediumAttempts < 2 || policy.HighAttempts <= policy.MediumAttempts ||
		policy.MediumDevices < 2 || policy.HighDevices <= policy.MediumDevices {
		return fmt.Errorf("thresholds must be increasing: medium < high, minimum 2")
	}
	e.mu.Lock()
	e.policies[eventID] = policy
	e.mu.Unlock()
	return nil
}

// HandleDuplicate records one duplicate attempt against its ticket's alert,
// opening a fresh LOW alert when none is open. A duplicate after a resolve
// starts a new cycle; the resolved alert keeps its history untouched.
// Returns the alert after the change and what kind of change it was.
func (e *AlertEngine) HandleDuplicate(ctx context.Context, attempt models.CheckInAttempt) (models.DuplicateAlert, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.open[attempt.TicketID]
	if !ok {
		state = e.rehydrate(ctx, attempt.TicketID)
	}

	if state == nil {
		alert := models.DuplicateAlert{
			ID:           uuid.New().String(),
			TicketID:     attempt.TicketID,
			EventID:      attempt.EventID,
			AlertLevel:   models.AlertLevelLow,
			AttemptCount: 1,
			DeviceCount:  1,
			Resolved:     false,
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}
		state = &openAlert{
			alert:   alert,
			devices: map[string]struct{}{attempt.DeviceID: {}},
		}
		e.open[attempt.TicketID] = state

		if err := e.store.CreateAlert(ctx, &state.alert); err != nil {
			e.logger.Error("Failed to persist new alert",
				zap.String("ticket_id", attempt.TicketID),
				zap.Error(err))
		}
		util.AlertsRaisedTotal.Inc()
		return state.alert, AlertChangeRaised, nil
	}

	state.alert.AttemptCount++
	state.devices[attempt.DeviceID] = struct{}{}
	// Never below the persisted count: a rehydrate with an unreadable log
	// starts from an empty device set.
	if len(state.devices) > state.alert.DeviceCount {
		state.alert.DeviceCount = len(state.devices)
	}
	state.alert.UpdatedAt = time.Now()

	change := AlertChangeUpdated
	policy := e.defaultPolicy
	if p, ok := e.policies[attempt.EventID]; ok {
		policy = p
	}
	if next := evalLevel(policy, state.alert.AttemptCount, state.alert.DeviceCount); levelRank[next] > levelRank[state.alert.AlertLevel] {
		state.alert.AlertLevel = next
		change = AlertChangeEscalated
		util.AlertsEscalatedTotal.WithLabelValues(next).Inc()
	}

	if err := e.store.UpdateAlert(ctx, &state.alert); err != nil {
		e.logger.Error("Failed to persist alert update",
			zap.String("alert_id", state.alert.ID),
			zap.Error(err))
	}

	return state.alert, change, nil
}

// rehydrate restores working state for a ticket's open alert after a
// restart, rebuilding the device set from the attempt log. Returns nil when
// the ticket has no open alert. Caller holds the lock.
func (e *AlertEngine) rehydrate(ctx context.Context, ticketID string) *openAlert {
	alert, err := e.store.GetOpenAlertByTicket(ctx, ticketID)
	if err != nil {
		e.logger.Warn("Failed to look up open alert",
			zap.String("ticket_id", ticketID),
			zap.Error(err))
		return nil
	}
	if alert == nil {
		return nil
	}

	devices := make(map[string]struct{})
	attempts, err := e.store.ListDuplicateAttempts(ctx, ticketID, alert.CreatedAt)
	if err != nil {
		e.logger.Warn("Failed to rebuild device set",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}
	for _, a := range attempts {
		devices[a.DeviceID] = struct{}{}
	}

	state := &openAlert{alert: *alert, devices: devices}
	e.open[ticketID] = state
	return state
}

// ResolveAlert marks one alert resolved. Idempotent: resolving an already
// resolved alert succeeds without effect. Unknown IDs are an error.
func (e *AlertEngine) ResolveAlert(ctx context.Context, alertID string) (*models.DuplicateAlert, error) {
	alert, err := e.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up alert: %w", err)
	}
	if alert == nil {
		return nil, fmt.Errorf("alert not found: %s", alertID)
	}

	if !alert.Resolved {
		if err := e.store.ResolveAlert(ctx, alertID); err != nil {
			return nil, fmt.Errorf("failed to resolve alert: %w", err)
		}
		alert.Resolved = true
		util.AlertsResolvedTotal.Inc()
	}

	e.mu.Lock()
	if state, ok := e.open[alert.TicketID]; ok && state.alert.ID == alertID {
		delete(e.open, alert.TicketID)
	}
	e.mu.Unlock()

	return alert, nil
}

// ResolveAll marks every open alert for an event resolved. This backs the
// dashboard's "clear all" action; alert history is never deleted.
func (e *AlertEngine) ResolveAll(ctx context.Context, eventID string) ([]string, error) {
	ids, err := e.store.ResolveAlertsByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to bulk-resolve alerts: %w", err)
	}

	e.mu.Lock()
	for ticketID, state := range e.open {
		if state.alert.EventID == eventID {
			delete(e.open, ticketID)
		}
	}
	e.mu.Unlock()

	util.AlertsResolvedTotal.Add(float64(len(ids)))
	return ids, nil
}

// ListAlerts returns an event's alerts newest-first with their duplicate
// attempt history attached
func (e *AlertEngine) ListAlerts(ctx context.Context, eventID string, includeResolved bool) ([]models.DuplicateAlert, error) {
	alerts, err := e.store.ListAlerts(ctx, eventID, includeResolved)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}

	for i := range alerts {
		attempts, err := e.store.ListDuplicateAttempts(ctx, alerts[i].TicketID, alerts[i].CreatedAt)
		if err != nil {
			e.logger.Warn("Failed to attach attempt history",
				zap.String("alert_id", alerts[i].ID),
				zap.Error(err))
			continue
		}
		alerts[i].DuplicateAttempts = attempts
	}

	return alerts, nil
}

// CloseEvent drops in-memory alert state for an event whose check-in window
// has closed. Persisted alerts are unaffected.
func (e *AlertEngine) CloseEvent(eventID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ticketID, state := range e.open {
		if state.alert.EventID == eventID {
			delete(e.open, ticketID)
		}
	}
	delete(e.policies, eventID)
}

func evalLevel(p models.AlertPolicy, attempts, devices int) string {
	switch {
	case attempts >= p.HighAttempts || devices >= p.HighDevices:
		return models.AlertLevelHigh
	case attempts >= p.MediumAttempts || devices >= p.MediumDevices:
		return models.AlertLevelMedium
	default:
		return models.AlertLevelLow
	}
}
