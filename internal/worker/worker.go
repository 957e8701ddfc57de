package worker

import (
	"context"
	"log"

	"checkin-service/internal/broker"
	"checkin-service/internal/feed"
	"checkin-service/internal/models"
	"checkin-service/internal/service"
	"checkin-service/internal/util"

	"go.uber.org/zap"
)

// AttemptWorker tails the attempt stream and drives everything downstream
// of the redemption decision: alerting, aggregation, and the live feed.
// It runs fully decoupled from the decision path; if it crashes, scans
// keep working and the aggregates rebuild from the log.
type AttemptWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewAttemptWorker creates a worker wired to the given consumers of the
// attempt stream
func NewAttemptWorker(
	consumer *broker.Consumer,
	stats *service.StatsAggregator,
	staff *service.StaffTracker,
	alerts *service.AlertEngine,
	publisher *feed.Publisher,
) *AttemptWorker {
	logger := util.GetLogger()
	eventHandler := broker.NewEventHandler()

	eventHandler.OnAttemptRecorded(func(ctx context.Context, event *models.AttemptRecordedEvent) error {
		attempt := event.Attempt

		stats.Record(attempt)
		staff.Record(attempt)

		publisher.Publish(attempt.EventID, feed.Delta{
			Kind:    feed.DeltaAttempt,
			Attempt: &attempt,
		})

		if attempt.Outcome == models.OutcomeDuplicate {
			alert, change, err := alerts.HandleDuplicate(ctx, attempt)
			if err != nil {
				logger.Error("Alert engine failed on duplicate attempt",
					zap.String("attempt_id", attempt.ID),
					zap.Error(err))
			} else {
				publisher.Publish(attempt.EventID, feed.Delta{
					Kind:        feed.DeltaAlert,
					AlertChange: change,
					Alert:       &alert,
				})
			}
		}

		snapshot := stats.GetStats(attempt.EventID)
		publisher.Publish(attempt.EventID, feed.Delta{
			Kind:  feed.DeltaStats,
			Stats: &snapshot,
		})

		return nil
	})

	return &AttemptWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       logger,
	}
}

// Start starts the worker
func (w *AttemptWorker) Start(ctx context.Context) error {
	log.Println("Starting attempt worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AttemptWorker) Stop() error {
	log.Println("Stopping attempt worker...")
	return w.consumer.Close()
}
