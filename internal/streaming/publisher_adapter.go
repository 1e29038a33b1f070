package streaming

import (
	"context"

	"formaos-compliance/internal/domain/models"
)

// EventBusPublisher implements services.EventPublisher using the EventBus
type EventBusPublisher struct {
	eventBus *EventBus
	wsHub    *WebSocketHub
}

// NewEventBusPublisher creates a new publisher adapter. Either side may be nil.
func NewEventBusPublisher(eventBus *EventBus, wsHub *WebSocketHub) *EventBusPublisher {
	return &EventBusPublisher{
		eventBus: eventBus,
		wsHub:    wsHub,
	}
}

// PublishComplianceEvent publishes to the bus (NATS and local subscribers)
// and pushes to dashboard clients
func (p *EventBusPublisher) PublishComplianceEvent(ctx context.Context, event *models.ComplianceEvent) error {
	if p.eventBus != nil {
		if err := p.eventBus.Publish(ctx, event); err != nil {
			return err
		}
	}

	if p.wsHub != nil {
		p.wsHub.BroadcastEvent(event)
	}

	return nil
}
