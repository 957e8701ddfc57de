package service

import (
	"context"
	"strings"
	"time"

	"checkin-service/internal/models"
	"checkin-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry is the ticket registry and attempt log the authority adjudicates
// against. *store.Store is the production implementation.
type Registry interface {
	GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error)
	RedeemTicket(ctx context.Context, ticketID string) (bool, error)
	AppendAttempt(ctx context.Context, attempt *models.CheckInAttempt) error
	GetAttemptByToken(ctx context.Context, ticketID, token string) (*models.CheckInAttempt, error)
}

// TokenCache is the fast path for idempotency token lookups. The durable
// unique index on the attempt log backs it up when the cache is cold.
type TokenCache interface {
	RememberOutcome(ctx context.Context, ticketID, token, outcome string) (string, error)
	GetOutcome(ctx context.Context, ticketID, token string) (string, error)
}

// AttemptPublisher fans an adjudicated attempt out to the stream. Publishing
// is best-effort relative to the decision path; failures are logged, never
// propagated to the scanning client.
type AttemptPublisher interface {
	PublishAttemptRecorded(ctx context.Context, attempt models.CheckInAttempt) error
}

// RedemptionService is the authority that decides whether a scan admits a
// ticket. All correctness lives here and in Registry.RedeemTicket: at most
// one ADMITTED outcome per ticket, ever.
type RedemptionService struct {
	registry  Registry
	tokens    TokenCache
	publisher AttemptPublisher
	logger    *zap.Logger
}

// NewRedemptionService creates a new redemption service
func NewRedemptionService(registry Registry, tokens TokenCache, publisher AttemptPublisher) *RedemptionService {
	return &RedemptionService{
		registry:  registry,
		tokens:    tokens,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// ScanRequest is one scan attempt arriving from a staff device
type ScanRequest struct {
	TicketID         string    `json:"ticket_id" binding:"required"`
	EventID          string    `json:"event_id" binding:"required"`
	StaffID          string    `json:"staff_id" binding:"required"`
	StaffName        string    `json:"staff_name,omitempty"`
	DeviceID         string    `json:"device_id" binding:"required"`
	ScannedAt        time.Time `json:"timestamp,omitempty"`
	IdempotencyToken string    `json:"idempotency_token,omitempty"`
}

// ScanResult is the adjudicated outcome returned to the scanning client
type ScanResult struct {
	Outcome      string `json:"outcome"`
	TicketStatus string `json:"ticket_status,omitempty"`
	AttemptID    string `json:"attempt_id,omitempty"`
	Replayed     bool   `json:"replayed,omitempty"`
}

// AttemptCheckIn adjudicates one scan. INVALID and DUPLICATE are normal
// outcomes, not errors; the returned error is reserved for malformed input.
// Registry failures surface as the ERROR outcome so the client retries with
// its token instead of guessing.
func (s *RedemptionService) AttemptCheckIn(ctx context.Context, req *ScanRequest) (*ScanResult, error) {
	ctx, span := util.StartSpan(ctx, "RedemptionService.AttemptCheckIn")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ScanDecisionLatency.Observe(time.Since(start).Seconds())
	}()

	if req.ScannedAt.IsZero() {
		req.ScannedAt = time.Now()
	}

	// A retried scan with a previously seen token returns the original
	// outcome without touching the ticket again.
	if req.IdempotencyToken != "" {
		if result := s.replayFromToken(ctx, req); result != nil {
			util.IdempotentReplaysTotal.Inc()
			util.ScanAttemptsTotal.WithLabelValues(strings.ToLower(result.Outcome)).Inc()
			return result, nil
		}
	}

	outcome, ticketStatus := s.adjudicate(ctx, req)

	attempt := models.CheckInAttempt{
		ID:             uuid.New().String(),
		TicketID:       req.TicketID,
		EventID:        req.EventID,
		StaffID:        req.StaffID,
		StaffName:      req.StaffName,
		DeviceID:       req.DeviceID,
		Outcome:        outcome,
		IdempotencyKey: req.IdempotencyToken,
		ScannedAt:      req.ScannedAt,
		CreatedAt:      time.Now(),
	}

	if err := s.registry.AppendAttempt(ctx, &attempt); err != nil {
		if prior := s.recoverFromAppendConflict(ctx, req); prior != nil {
			return prior, nil
		}
		// The decision stands even if the log write failed; losing an
		// attempt record is recoverable, re-adjudicating an admitted
		// ticket is not.
		s.logger.Error("Failed to append attempt record",
			zap.String("ticket_id", req.TicketID),
			zap.String("outcome", outcome),
			zap.Error(err))
	}

	if req.IdempotencyToken != "" && outcome != models.OutcomeError {
		if prior, err := s.tokens.RememberOutcome(ctx, req.TicketID, req.IdempotencyToken, outcome); err != nil {
			s.logger.Warn("Failed to cache idempotency token",
				zap.String("ticket_id", req.TicketID),
				zap.Error(err))
		} else if prior != "" && prior != outcome {
			// A concurrent retry with the same token won the cache race;
			// its outcome is the bound one.
			outcome = prior
		}
	}

	if err := s.publisher.PublishAttemptRecorded(ctx, attempt); err != nil {
		util.AttemptPublishFailures.Inc()
		s.logger.Error("Failed to publish attempt event",
			zap.String("attempt_id", attempt.ID),
			zap.Error(err))
	}

	util.ScanAttemptsTotal.WithLabelValues(strings.ToLower(outcome)).Inc()

	s.logger.Info("Scan adjudicated",
		zap.String("ticket_id", req.TicketID),
		zap.String("staff_id", req.StaffID),
		zap.String("device_id", req.DeviceID),
		zap.String("outcome", outcome))

	return &ScanResult{
		Outcome:      outcome,
		TicketStatus: ticketStatus,
		AttemptID:    attempt.ID,
	}, nil
}

// adjudicate performs the read-decide-write sequence. The write is the
// conditional transition in the registry, so two concurrent callers for the
// same ticket can never both observe ACTIVE and both win.
func (s *RedemptionService) adjudicate(ctx context.Context, req *ScanRequest) (outcome, ticketStatus string) {
	ticket, err := s.registry.GetTicket(ctx, req.TicketID)
	if err != nil {
		s.logger.Error("Registry unreachable during scan",
			zap.String("ticket_id", req.TicketID),
			zap.Error(err))
		return models.OutcomeError, ""
	}

	if ticket == nil || ticket.EventID != req.EventID {
		return models.OutcomeInvalid, ""
	}

	switch ticket.Status {
	case models.TicketStatusActive:
		claimed, err := s.registry.RedeemTicket(ctx, req.TicketID)
		if err != nil {
			s.logger.Error("Registry unreachable during redemption",
				zap.String("ticket_id", req.TicketID),
				zap.Error(err))
			return models.OutcomeError, ticket.Status
		}
		if claimed {
			return models.OutcomeAdmitted, models.TicketStatusUsed
		}
		// Lost the race: another device admitted this ticket between our
		// read and our write.
		return models.OutcomeDuplicate, models.TicketStatusUsed

	case models.TicketStatusUsed:
		return models.OutcomeDuplicate, ticket.Status

	default:
		// REFUNDED, CANCELLED, or an unknown terminal state.
		return models.OutcomeInvalid, ticket.Status
	}
}

// replayFromToken answers a retried scan from its bound outcome, checking
// the cache first and the durable log second. Returns nil when the token is
// unseen (or only bound to an ERROR, which never binds).
func (s *RedemptionService) replayFromToken(ctx context.Context, req *ScanRequest) *ScanResult {
	outcome, err := s.tokens.GetOutcome(ctx, req.TicketID, req.IdempotencyToken)
	if err != nil {
		s.logger.Warn("Token cache lookup failed, falling back to log",
			zap.String("ticket_id", req.TicketID),
			zap.Error(err))
	}

	var attemptID string
	if outcome == "" {
		prior, err := s.registry.GetAttemptByToken(ctx, req.TicketID, req.IdempotencyToken)
		if err != nil || prior == nil {
			return nil
		}
		outcome = prior.Outcome
		attemptID = prior.ID
	}

	result := &ScanResult{
		Outcome:   outcome,
		AttemptID: attemptID,
		Replayed:  true,
	}
	if ticket, err := s.registry.GetTicket(ctx, req.TicketID); err == nil && ticket != nil {
		result.TicketStatus = ticket.Status
	}
	return result
}

// recoverFromAppendConflict handles the unique-index race: two concurrent
// retries with the same token both passed the replay check, one appended
// first and this one lost. The winner's outcome is authoritative.
func (s *RedemptionService) recoverFromAppendConflict(ctx context.Context, req *ScanRequest) *ScanResult {
	if req.IdempotencyToken == "" {
		return nil
	}
	prior, err := s.registry.GetAttemptByToken(ctx, req.TicketID, req.IdempotencyToken)
	if err != nil || prior == nil {
		return nil
	}
	result := &ScanResult{
		Outcome:   prior.Outcome,
		AttemptID: prior.ID,
		Replayed:  true,
	}
	if ticket, err := s.registry.GetTicket(ctx, req.TicketID); err == nil && ticket != nil {
		result.TicketStatus = ticket.Status
	}
	return result
}
