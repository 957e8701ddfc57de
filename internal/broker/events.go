package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"checkin-service/internal/models"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventPublisher publishes check-in domain events to the attempt stream
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishAttemptRecorded publishes one adjudicated scan. Keyed by ticket so
// a ticket's attempts stay ordered on their partition.
func (ep *EventPublisher) PublishAttemptRecorded(ctx context.Context, attempt models.CheckInAttempt) error {
	event := models.AttemptRecordedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeAttemptRecorded,
			Timestamp: time.Now(),
		},
		Attempt: attempt,
	}

	key := fmt.Sprintf("ticket-%s", attempt.TicketID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes attempt-stream messages to a registered consumer
type EventHandler struct {
	onAttemptRecorded func(context.Context, *models.AttemptRecordedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnAttemptRecorded registers a handler for AttemptRecorded events
func (eh *EventHandler) OnAttemptRecorded(handler func(context.Context, *models.AttemptRecordedEvent) error) {
	eh.onAttemptRecorded = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeAttemptRecorded:
		if eh.onAttemptRecorded != nil {
			var event models.AttemptRecordedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal AttemptRecorded event: %w", err)
			}
			return eh.onAttemptRecorded(ctx, &event)
		}
	}

	return nil
}
