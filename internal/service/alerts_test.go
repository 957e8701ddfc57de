package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"checkin-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAlertStore is an in-memory AlertStore
type fakeAlertStore struct {
	mu     sync.Mutex
	alerts map[string]*models.DuplicateAlert
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{alerts: make(map[string]*models.DuplicateAlert)}
}

func (s *fakeAlertStore) CreateAlert(_ context.Context, alert *models.DuplicateAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *alert
	s.alerts[alert.ID] = &cp
	return nil
}

func (s *fakeAlertStore) UpdateAlert(_ context.Context, alert *models.DuplicateAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *alert
	s.alerts[alert.ID] = &cp
	return nil
}

func (s *fakeAlertStore) GetAlert(_ context.Context, alertID string) (*models.DuplicateAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *fakeAlertStore) ResolveAlert(_ context.Context, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.alerts[alertID]; ok {
		a.Resolved = true
	}
	return nil
}

func (s *fakeAlertStore) ResolveAlertsByEvent(_ context.Context, eventID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, a := range s.alerts {
		if a.EventID == eventID && !a.Resolved {
			a.Resolved = true
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

func (s *fakeAlertStore) ListAlerts(_ context.Context, eventID string, includeResolved bool) ([]models.DuplicateAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DuplicateAlert
	for _, a := range s.alerts {
		if a.EventID != eventID {
			continue
		}
		if a.Resolved && !includeResolved {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (s *fakeAlertStore) GetOpenAlertByTicket(_ context.Context, ticketID string) (*models.DuplicateAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.TicketID == ticketID && !a.Resolved {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeAlertStore) ListDuplicateAttempts(_ context.Context, _ string, _ time.Time) ([]models.CheckInAttempt, error) {
	return nil, nil
}

func testPolicy() models.AlertPolicy {
	return models.AlertPolicy{
		MediumAttempts: 3,
		MediumDevices:  2,
		HighAttempts:   5,
		HighDevices:    3,
	}
}

func duplicateAttempt(ticketID, deviceID string) models.CheckInAttempt {
	return models.CheckInAttempt{
		ID:       fmt.Sprintf("attempt-%s-%s-%d", ticketID, deviceID, time.Now().UnixNano()),
		TicketID: ticketID,
		EventID:  "event-1",
		StaffID:  "staff-a",
		DeviceID: deviceID,
		Outcome:  models.OutcomeDuplicate,
	}
}

func TestFirstDuplicateOpensLowAlert(t *testing.T) {
	engine := NewAlertEngine(newFakeAlertStore(), testPolicy())

	alert, change, err := engine.HandleDuplicate(context.Background(), duplicateAttempt("t1", "device-1"))
	require.NoError(t, err)
	assert.Equal(t, AlertChangeRaised, change)
	assert.Equal(t, models.AlertLevelLow, alert.AlertLevel)
	assert.Equal(t, 1, alert.AttemptCount)
	assert.Equal(t, 1, alert.DeviceCount)
	assert.False(t, alert.Resolved)
}

func TestEscalationByAttemptCount(t *testing.T) {
	engine := NewAlertEngine(newFakeAlertStore(), testPolicy())
	ctx := context.Background()

	// Same device throughout so only the attempt count drives escalation.
	alert, _, err := engine.HandleDuplicate(ctx, duplicateAttempt("t1", "device-1"))
	require.NoError(t, err)
	assert.Equal(t, models.AlertLevelLow, alert.AlertLevel)

	alert, change, err := engine.HandleDuplicate(ctx, duplicateAttempt("t1", "device-1"))
	require.NoError(t, err)
	assert.Equal(t, AlertChangeUpdated, change)
	assert.Equal(t, models.AlertLevelLow, alert.AlertLevel)

	alert, change, err = engine.HandleDuplicate(ctx, duplicateAttempt("t1", "device-1"))
	require.NoError(t, err)
	assert.Equal(t, AlertChangeEscalated, change)
	assert.Equal(t, models.AlertLevelMedium, alert.AlertLevel)
	assert.Equal(t, 3, alert.AttemptCount)

	engine.HandleDuplicate(ctx, duplicateAttempt("t1", "device-1"))
	alert, change, err = engine.HandleDuplicate(ctx, duplicateAttempt("t1", "device-1"))
	require.NoError(t, err)
	assert.Equal(t, AlertChangeEscalated, change)
	assert.Equal(t, models.AlertLevelHigh, alert.AlertLevel)
	assert.Equal(t, 5, alert.AttemptCount)
}

func TestEscalationByDistinctDevices(t *testing.T) {
	engine := NewAlertEngine(newFakeAlertStore(), testPolicy())
	ctx := context.Background()

	alert, _, err := engine.HandleDuplicate(ctx, duplicateAttempt("t1", "device-1"))
	require.NoError(t, err)
	assert.Equal(t, models.AlertLevelLow, alert.AlertLevel)

	// Second device suggests ticket sharing: escalate on two attempts.
	alert, change, err := engine.HandleDuplicate(ctx, duplicateAttempt("t1", "device-2"))
	require.NoError(t, err)
	assert.Equal(t, AlertChangeEscalated, change)
	assert.Equal(t, models.AlertLevelMedium, alert.AlertLevel)
	assert.Equal(t, 2, alert.DeviceCount)

	alert, change, err = engine.HandleDuplicate(ctx, duplicateAttempt("t1", "device-3"))
	require.NoError(t, err)
	assert.Equal(t, AlertChangeEscalated, change)
	assert.Equal(t, models.AlertLevelHigh, alert.AlertLevel)
	assert.Equal(t, 3, alert.DeviceCount)
}

func TestLevelNeverDecreases(t *testing.T) {
	engine := NewAlertEngine(newFakeAlertStore(), testPolicy())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		engine.HandleDuplicate(ctx, duplicateAttempt("t1", fmt.Sprintf("device-%d", i)))
	}
	alert, _, err := engine.HandleDuplicate(ctx, duplicateAttempt("t1", "device-0"))
	require.NoError(t, err)
	assert.Equal(t, models.AlertLevelHigh, alert.AlertLevel)

	// Further attempts from a single device must not lower the level.
	for i := 0; i < 5; i++ {
		alert, _, err = engine.HandleDuplicate(ctx, duplicateAttempt("t1", "device-0"))
		require.NoError(t, err)
		assert.Equal(t, models.AlertLevelHigh, alert.AlertLevel)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	store := newFakeAlertStore()
	engine := NewAlertEngine(store, testPolicy())
	ctx := context.Background()

	alert, _, err := engine.HandleDuplicate(ctx, duplicateAttempt("t1", "device-1"))
	require.NoError(t, err)

	resolved, err := engine.ResolveAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)

	// Resolving twice is a no-op, not an error.
	resolved, err = engine.ResolveAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
}

func TestResolveUnknownAlertFails(t *testing.T) {
	engine := NewAlertEngine(newFakeAlertStore(), testPolicy())

	_, err := engine.ResolveAlert(context.Background(), "no-such-alert")
	assert.Error(t, err)
}

func TestDuplicateAfterResolveOpensFreshCycle(t *testing.T) {
	engine := NewAlertEngine(newFakeAlertStore(), testPolicy())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		engine.HandleDuplicate(ctx, duplicateAttempt("t1", fmt.Sprintf("device-%d", i)))
	}
	alert, _, err := engine.HandleDuplicate(ctx, duplicateAttempt("t1", "device-0"))
	require.NoError(t, err)
	require.Equal(t, models.AlertLevelHigh, alert.AlertLevel)

	_, err = engine.ResolveAlert(ctx, alert.ID)
	require.NoError(t, err)

	fresh, change, err := engine.HandleDuplicate(ctx, duplicateAttempt("t1", "device-0"))
	require.NoError(t, err)
	assert.Equal(t, AlertChangeRaised, change)
	assert.NotEqual(t, alert.ID, fresh.ID)
	assert.Equal(t, models.AlertLevelLow, fresh.AlertLevel)
	assert.Equal(t, 1, fresh.AttemptCount)
}

func TestResolveAll(t *testing.T) {
	engine := NewAlertEngine(newFakeAlertStore(), testPolicy())
	ctx := context.Background()

	engine.HandleDuplicate(ctx, duplicateAttempt("t1", "device-1"))
	engine.HandleDuplicate(ctx, duplicateAttempt("t2", "device-1"))
	engine.HandleDuplicate(ctx, duplicateAttempt("t3", "device-2"))

	ids, err := engine.ResolveAll(ctx, "event-1")
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	open, err := engine.ListAlerts(ctx, "event-1", false)
	require.NoError(t, err)
	assert.Empty(t, open)

	// History survives the bulk resolve.
	all, err := engine.ListAlerts(ctx, "event-1", true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPerEventPolicyOverride(t *testing.T) {
	engine := NewAlertEngine(newFakeAlertStore(), testPolicy())
	ctx := context.Background()

	require.NoError(t, engine.SetPolicy("event-1", models.AlertPolicy{
		MediumAttempts: 2,
		MediumDevices:  2,
		HighAttempts:   3,
		HighDevices:    3,
	}))

	engine.HandleDuplicate(ctx, duplicateAttempt("t1", "device-1"))
	alert, change, err := engine.HandleDuplicate(ctx, duplicateAttempt("t1", "device-1"))
	require.NoError(t, err)
	assert.Equal(t, AlertChangeEscalated, change)
	assert.Equal(t, models.AlertLevelMedium, alert.AlertLevel)
}

func TestSetPolicyRejectsNonIncreasingThresholds(t *testing.T) {
	engine := NewAlertEngine(newFakeAlertStore(), testPolicy())

	err := engine.SetPolicy("event-1", models.AlertPolicy{
		MediumAttempts: 5,
		MediumDevices:  2,
		HighAttempts:   3, // high below medium
		HighDevices:    3,
	})
	assert.Error(t, err)
}

func TestRehydrateAfterRestart(t *testing.T) {
	store := newFakeAlertStore()
	engine := NewAlertEngine(store, testPolicy())
	ctx := context.Background()

	alert, _, err := engine.HandleDuplicate(ctx, duplicateAttempt("t1", "device-1"))
	require.NoError(t, err)

	// A fresh engine over the same store must pick up the open alert
	// instead of raising a second one.
	restarted := NewAlertEngine(store, testPolicy())
	again, change, err := restarted.HandleDuplicate(ctx, duplicateAttempt("t1", "device-1"))
	require.NoError(t, err)
	assert.NotEqual(t, AlertChangeRaised, change)
	assert.Equal(t, alert.ID, again.ID)
	assert.Equal(t, 2, again.AttemptCount)
}
