package streaming

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"formaos-compliance/internal/domain/models"
	"formaos-compliance/pkg/logger"
)

// Broker is the distributed half of the event bus
type Broker interface {
	IsConnected() bool
	PublishComplianceEvent(ctx context.Context, event *models.ComplianceEvent) error
	Subscribe(ctx context.Context, sub *Subscription) (<-chan *models.ComplianceEvent, error)
	Close()
}

type subscriber struct {
	ch  chan *models.ComplianceEvent
	sub *Subscription
}

// EventBus distributes compliance events to local subscribers and, when
// configured, to a broker
type EventBus struct {
	broker Broker
	logger *logger.Logger

	mu          sync.RWMutex
	subscribers map[string]subscriber
}

// NewEventBus creates a new event bus. broker may be nil.
func NewEventBus(broker Broker, log *logger.Logger) *EventBus {
	return &EventBus{
		broker:      broker,
		logger:      log.WithComponent("event-bus"),
		subscribers: make(map[string]subscriber),
	}
}

// Publish publishes an event to the broker and all matching local subscribers.
// Broker failures fall back to local broadcast.
func (eb *EventBus) Publish(ctx context.Context, event *models.ComplianceEvent) error {
	if eb.broker != nil && eb.broker.IsConnected() {
		if err := eb.broker.PublishComplianceEvent(ctx, event); err != nil {
			eb.logger.Warn().Err(err).Str("event_type", string(event.Type)).Msg("failed to publish to NATS, using local broadcast only")
		}
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for id, s := range eb.subscribers {
		if !s.sub.Matches(event) {
			continue
		}
		select {
		case s.ch <- event:
		default:
			eb.logger.Debug().Str("subscriber", id).Msg("subscriber channel full, dropping event")
		}
	}

	return nil
}

// Subscribe registers a local subscriber and returns its channel and an unsubscribe function
func (eb *EventBus) Subscribe(ctx context.Context, sub *Subscription) (<-chan *models.ComplianceEvent, func()) {
	id := uuid.NewString()
	ch := make(chan *models.ComplianceEvent, 100)

	eb.mu.Lock()
	eb.subscribers[id] = subscriber{ch: ch, sub: sub}
	eb.mu.Unlock()

	eb.logger.Debug().Str("subscriber_id", id).Msg("new subscriber")

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			eb.mu.Lock()
			defer eb.mu.Unlock()
			if _, ok := eb.subscribers[id]; ok {
				close(ch)
				delete(eb.subscribers, id)
				eb.logger.Debug().Str("subscriber_id", id).Msg("subscriber removed")
			}
		})
	}

	return ch, unsubscribe
}

// SubscribeRemote streams events published by other instances through the broker
func (eb *EventBus) SubscribeRemote(ctx context.Context, sub *Subscription) (<-chan *models.ComplianceEvent, error) {
	if eb.broker == nil || !eb.broker.IsConnected() {
		return nil, ErrNotConnected
	}
	return eb.broker.Subscribe(ctx, sub)
}

// SubscriberCount returns the number of active subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// Close closes the event bus and the broker
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for id, s := range eb.subscribers {
		close(s.ch)
		delete(eb.subscribers, id)
	}

	if eb.broker != nil {
		eb.broker.Close()
	}
}
