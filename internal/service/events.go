package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"storefront/internal/entity"
)

const (
	EventCreated    = "created"
	EventFinalized  = "finalized"
	EventDispatched = "dispatched"
	EventDelivered  = "delivered"
	EventDeleted    = "deleted"
	// EventOrphaned carries a pending order the gateway knows about but the
	// database does not. Its key uses the gateway order id.
	EventOrphaned = "orphaned"
)

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, order *entity.Order, event string) error
}

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) PublishOrderEvent(ctx context.Context, order *entity.Order, event string) error {
	msg, err := OrderMessage(order, event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

// OrderMessage builds the topic message for an order event, keyed
// order.<event>.<id>.
func OrderMessage(order *entity.Order, event string) (kafka.Message, error) {
	orderJSON, err := json.Marshal(order)
	if err != nil {
		return kafka.Message{}, err
	}

	id := order.ID
	if event == EventOrphaned {
		id = order.PaymentIntentID
	}

	return kafka.Message{
		Key:   []byte(fmt.Sprintf("order.%s.%s", event, id)),
		Value: orderJSON,
	}, nil
}

// publish logs failures and never fails the caller.
func publish(ctx context.Context, events EventPublisher, order *entity.Order, event string) {
	if events == nil {
		return
	}
	if err := events.PublishOrderEvent(ctx, order, event); err != nil {
		logger.Error().Err(err).Str("order_id", order.ID).Msgf("Error publishing order.%s event", event)
	}
}
