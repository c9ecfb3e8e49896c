package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"storefront/internal/entity"
)

// PendingOrderWriter re-records pending orders without duplicating them.
type PendingOrderWriter interface {
	CreateOrderIfAbsent(ctx context.Context, order *entity.Order) (bool, error)
}

// MessageReader is the part of *kafka.Reader the reconciler needs. Offsets
// are committed explicitly once a message has been handled.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	minRetryDelay = time.Second
	maxRetryDelay = 30 * time.Second
)

// Reconciler replays orphaned payment intents: gateway orders whose pending
// row could not be written when the intent was created.
type Reconciler struct {
	reader   MessageReader
	orders   PendingOrderWriter
	minDelay time.Duration
	maxDelay time.Duration
}

func NewReconciler(reader MessageReader, orders PendingOrderWriter) *Reconciler {
	return &Reconciler{reader: reader, orders: orders, minDelay: minRetryDelay, maxDelay: maxRetryDelay}
}

// Run consumes order events until ctx is cancelled. A message is committed
// only after it was recorded or deliberately skipped; a failed write is
// retried with backoff.
func (r *Reconciler) Run(ctx context.Context) error {
	defer r.reader.Close()

	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error().Msgf("Error reading message: %v", err)
			continue
		}

		if !r.handle(ctx, msg) {
			return nil
		}
		if err := r.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Msgf("Error committing offset %d: %v", msg.Offset, err)
		}
	}
}

// handle retries msg until it is processed. It reports false when ctx ended
// first.
func (r *Reconciler) handle(ctx context.Context, msg kafka.Message) bool {
	delay := r.minDelay
	for {
		err := r.processMessage(ctx, msg)
		if err == nil {
			return true
		}
		log.Warn().Msgf("Retrying message %s in %s: %v", msg.Key, delay, err)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		if delay *= 2; delay > r.maxDelay {
			delay = r.maxDelay
		}
	}
}

// processMessage handles one event. Keys look like "order.<event>.<id>".
// Malformed and unrelated messages are skipped; only a failed write returns
// an error.
func (r *Reconciler) processMessage(ctx context.Context, msg kafka.Message) error {
	listKey := strings.SplitN(string(msg.Key), ".", 3)
	if len(listKey) != 3 || listKey[0] != "order" {
		log.Error().Msgf("Unknown message key: %s", msg.Key)
		return nil
	}
	if listKey[1] != "orphaned" {
		return nil
	}

	var order entity.Order
	if err := json.Unmarshal(msg.Value, &order); err != nil {
		log.Error().Msgf("Error unmarshalling message: %v", err)
		return nil
	}
	if order.ID == "" || order.UserID == "" || order.PaymentIntentID == "" {
		log.Error().Msgf("Orphaned order %s is missing identifiers", listKey[2])
		return nil
	}
	order.Status = entity.PaymentPending

	written, err := r.orders.CreateOrderIfAbsent(ctx, &order)
	if err != nil {
		log.Error().Msgf("Error recording orphaned order %s: %v", order.PaymentIntentID, err)
		return err
	}
	if written {
		log.Info().Msgf("Recorded orphaned order %s for gateway order %s", order.ID, order.PaymentIntentID)
	}
	return nil
}
