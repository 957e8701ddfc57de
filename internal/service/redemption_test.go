package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"checkin-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRegistry is an in-memory Registry whose RedeemTicket is atomic under
// a mutex, matching the conditional-update guarantee of the real store.
type fakeRegistry struct {
	mu          sync.Mutex
	tickets     map[string]models.Ticket
	attempts    []models.CheckInAttempt
	unreachable bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{tickets: make(map[string]models.Ticket)}
}

func (r *fakeRegistry) addTicket(id, eventID, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickets[id] = models.Ticket{ID: id, EventID: eventID, Status: status}
}

func (r *fakeRegistry) GetTicket(_ context.Context, ticketID string) (*models.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unreachable {
		return nil, errors.New("registry unreachable")
	}
	t, ok := r.tickets[ticketID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *fakeRegistry) RedeemTicket(_ context.Context, ticketID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unreachable {
		return false, errors.New("registry unreachable")
	}
	t, ok := r.tickets[ticketID]
	if !ok || t.Status != models.TicketStatusActive {
		return false, nil
	}
	t.Status = models.TicketStatusUsed
	r.tickets[ticketID] = t
	return true, nil
}

func (r *fakeRegistry) AppendAttempt(_ context.Context, attempt *models.CheckInAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unreachable {
		return errors.New("registry unreachable")
	}
	if attempt.IdempotencyKey != "" && attempt.Outcome != models.OutcomeError {
		for _, a := range r.attempts {
			if a.TicketID == attempt.TicketID && a.IdempotencyKey == attempt.IdempotencyKey && a.Outcome != models.OutcomeError {
				return errors.New("unique constraint violation")
			}
		}
	}
	r.attempts = append(r.attempts, *attempt)
	return nil
}

func (r *fakeRegistry) GetAttemptByToken(_ context.Context, ticketID, token string) (*models.CheckInAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unreachable {
		return nil, errors.New("registry unreachable")
	}
	for i := len(r.attempts) - 1; i >= 0; i-- {
		a := r.attempts[i]
		if a.TicketID == ticketID && a.IdempotencyKey == token && a.Outcome != models.OutcomeError {
			return &a, nil
		}
	}
	return nil, nil
}

func (r *fakeRegistry) attemptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

type fakeTokenCache struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newFakeTokenCache() *fakeTokenCache {
	return &fakeTokenCache{tokens: make(map[string]string)}
}

func (c *fakeTokenCache) RememberOutcome(_ context.Context, ticketID, token, outcome string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := ticketID + ":" + token
	if prior, ok := c.tokens[key]; ok {
		return prior, nil
	}
	c.tokens[key] = outcome
	return "", nil
}

func (c *fakeTokenCache) GetOutcome(_ context.Context, ticketID, token string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[ticketID+":"+token], nil
}

func (c *fakeTokenCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []models.CheckInAttempt
}

func (p *fakePublisher) PublishAttemptRecorded(_ context.Context, attempt models.CheckInAttempt) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, attempt)
	return nil
}

func newTestService() (*RedemptionService, *fakeRegistry, *fakeTokenCache, *fakePublisher) {
	registry := newFakeRegistry()
	tokens := newFakeTokenCache()
	publisher := &fakePublisher{}
	return NewRedemptionService(registry, tokens, publisher), registry, tokens, publisher
}

func scanReq(ticketID, staffID, deviceID string) *ScanRequest {
	return &ScanRequest{
		TicketID:  ticketID,
		EventID:   "event-1",
		StaffID:   staffID,
		DeviceID:  deviceID,
		ScannedAt: time.Now(),
	}
}

func TestAdmitThenDuplicate(t *testing.T) {
	svc, registry, _, _ := newTestService()
	registry.addTicket("t1", "event-1", models.TicketStatusActive)
	ctx := context.Background()

	result, err := svc.AttemptCheckIn(ctx, scanReq("t1", "staff-a", "device-1"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAdmitted, result.Outcome)
	assert.Equal(t, models.TicketStatusUsed, result.TicketStatus)

	result, err = svc.AttemptCheckIn(ctx, scanReq("t1", "staff-b", "device-2"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDuplicate, result.Outcome)
	assert.Equal(t, models.TicketStatusUsed, result.TicketStatus)

	assert.Equal(t, 2, registry.attemptCount())
}

func TestUnknownTicketInvalid(t *testing.T) {
	svc, registry, _, _ := newTestService()

	result, err := svc.AttemptCheckIn(context.Background(), scanReq("nope", "staff-a", "device-1"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeInvalid, result.Outcome)
	assert.Equal(t, 1, registry.attemptCount())
}

func TestWrongEventInvalid(t *testing.T) {
	svc, registry, _, _ := newTestService()
	registry.addTicket("t1", "event-2", models.TicketStatusActive)

	result, err := svc.AttemptCheckIn(context.Background(), scanReq("t1", "staff-a", "device-1"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeInvalid, result.Outcome)
}

func TestRefundedTicketInvalid(t *testing.T) {
	svc, registry, _, _ := newTestService()
	registry.addTicket("t2", "event-1", models.TicketStatusRefunded)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := svc.AttemptCheckIn(ctx, scanReq("t2", "staff-a", fmt.Sprintf("device-%d", i)))
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeInvalid, result.Outcome)
		assert.Equal(t, models.TicketStatusRefunded, result.TicketStatus)
	}
}

func TestCancelledTicketInvalid(t *testing.T) {
	svc, registry, _, _ := newTestService()
	registry.addTicket("t3", "event-1", models.TicketStatusCancelled)

	result, err := svc.AttemptCheckIn(context.Background(), scanReq("t3", "staff-a", "device-1"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeInvalid, result.Outcome)
}

func TestConcurrentScansSingleAdmission(t *testing.T) {
	svc, registry, _, _ := newTestService()
	registry.addTicket("t3", "event-1", models.TicketStatusActive)
	ctx := context.Background()

	const scanners = 50
	outcomes := make(chan string, scanners)

	var wg sync.WaitGroup
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := svc.AttemptCheckIn(ctx, scanReq("t3", fmt.Sprintf("staff-%d", i), fmt.Sprintf("device-%d", i)))
			if err != nil {
				t.Errorf("scan %d: %v", i, err)
				return
			}
			outcomes <- result.Outcome
		}(i)
	}
	wg.Wait()
	close(outcomes)

	admitted, duplicates := 0, 0
	for outcome := range outcomes {
		switch outcome {
		case models.OutcomeAdmitted:
			admitted++
		case models.OutcomeDuplicate:
			duplicates++
		default:
			t.Fatalf("unexpected outcome %q", outcome)
		}
	}

	assert.Equal(t, 1, admitted)
	assert.Equal(t, scanners-1, duplicates)
	assert.Equal(t, scanners, registry.attemptCount())
}

func TestIdempotentRetry(t *testing.T) {
	svc, registry, _, _ := newTestService()
	registry.addTicket("t1", "event-1", models.TicketStatusActive)
	ctx := context.Background()

	req := scanReq("t1", "staff-a", "device-1")
	req.IdempotencyToken = "retry-token-1"

	first, err := svc.AttemptCheckIn(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAdmitted, first.Outcome)
	assert.False(t, first.Replayed)

	second, err := svc.AttemptCheckIn(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAdmitted, second.Outcome)
	assert.True(t, second.Replayed)

	// The retry must not append a second attempt record.
	assert.Equal(t, 1, registry.attemptCount())
}

func TestIdempotentRetryColdCache(t *testing.T) {
	svc, registry, tokens, _ := newTestService()
	registry.addTicket("t1", "event-1", models.TicketStatusActive)
	ctx := context.Background()

	req := scanReq("t1", "staff-a", "device-1")
	req.IdempotencyToken = "retry-token-2"

	_, err := svc.AttemptCheckIn(ctx, req)
	require.NoError(t, err)

	// Simulate a cache flush: the durable log must still answer the retry.
	tokens.mu.Lock()
	tokens.tokens = make(map[string]string)
	tokens.mu.Unlock()

	second, err := svc.AttemptCheckIn(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAdmitted, second.Outcome)
	assert.True(t, second.Replayed)
	assert.Equal(t, 1, registry.attemptCount())
}

func TestRegistryOutageYieldsErrorThenRetrySucceeds(t *testing.T) {
	svc, registry, tokens, _ := newTestService()
	registry.addTicket("t4", "event-1", models.TicketStatusActive)
	ctx := context.Background()

	req := scanReq("t4", "staff-a", "device-1")
	req.IdempotencyToken = "outage-token"

	registry.unreachable = true
	result, err := svc.AttemptCheckIn(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeError, result.Outcome)

	// An ERROR outcome never binds the token and never flips the ticket.
	assert.Equal(t, 0, tokens.size())
	registry.unreachable = false
	ticket, err := registry.GetTicket(ctx, "t4")
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusActive, ticket.Status)

	retry, err := svc.AttemptCheckIn(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAdmitted, retry.Outcome)
}

func TestEveryOutcomePublishesAttempt(t *testing.T) {
	svc, registry, _, publisher := newTestService()
	registry.addTicket("t1", "event-1", models.TicketStatusActive)
	registry.addTicket("t2", "event-1", models.TicketStatusRefunded)
	ctx := context.Background()

	_, err := svc.AttemptCheckIn(ctx, scanReq("t1", "staff-a", "device-1")) // admitted
	require.NoError(t, err)
	_, err = svc.AttemptCheckIn(ctx, scanReq("t1", "staff-b", "device-2")) // duplicate
	require.NoError(t, err)
	_, err = svc.AttemptCheckIn(ctx, scanReq("t2", "staff-a", "device-1")) // invalid
	require.NoError(t, err)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	require.Len(t, publisher.published, 3)
	assert.Equal(t, models.OutcomeAdmitted, publisher.published[0].Outcome)
	assert.Equal(t, models.OutcomeDuplicate, publisher.published[1].Outcome)
	assert.Equal(t, models.OutcomeInvalid, publisher.published[2].Outcome)
}
