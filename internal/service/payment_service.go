package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"storefront/internal/entity"
	"storefront/internal/gateway"
	"storefront/internal/pricing"
)

// Gateway is the payment provider as the services use it.
type Gateway interface {
	CreateOrder(ctx context.Context, amount entity.Money, currency, receipt string) (*gateway.Order, error)
	VerifySignature(orderID, paymentID, signature string) bool
	KeyID() string
}

type IntentRequest struct {
	Items []entity.CartItem `json:"items"`
	// DeliveryCharge is the client's figure in minor units. It is ignored
	// when Country is set.
	DeliveryCharge *entity.Money `json:"deliveryCharge,omitempty"`
	Country        string        `json:"country,omitempty"`
}

type PaymentService struct {
	gateway  Gateway
	orders   OrderStore
	events   EventPublisher
	currency string
	rates    pricing.Rates
	now      func() time.Time
}

func NewPaymentService(gw Gateway, orders OrderStore, events EventPublisher, currency string, rates pricing.Rates) *PaymentService {
	return &PaymentService{
		gateway:  gw,
		orders:   orders,
		events:   events,
		currency: currency,
		rates:    rates,
		now:      time.Now,
	}
}

// CreatePaymentIntent prices the cart, reserves the charge on the gateway and
// records a pending order for it.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, user *entity.User, req IntentRequest) (*entity.PaymentIntent, error) {
	if user == nil {
		return nil, errUnauthenticated
	}
	if err := entity.ValidateCart(req.Items); err != nil {
		if errors.Is(err, entity.ErrEmptyCart) {
			return nil, newError(KindValidation, "Invalid request: No items in cart", err)
		}
		return nil, newError(KindValidation, err.Error(), err)
	}

	quote := pricing.Calculate(req.Items, req.Country, s.rates)
	if len(quote.UnparsedWeights) > 0 {
		logger.Warn().Strs("product_ids", quote.UnparsedWeights).Msg("No readable weight in product brand")
	}

	deliveryCharge, err := s.deliveryCharge(req, quote)
	if err != nil {
		return nil, err
	}
	amount := quote.Subtotal + deliveryCharge

	receipt := fmt.Sprintf("order_%d", s.now().UnixMilli())
	gwOrder, err := s.gateway.CreateOrder(ctx, amount, s.currency, receipt)
	if err != nil {
		return nil, gatewayError(err)
	}
	logger.Info().Str("gateway_order_id", gwOrder.ID).Int64("amount", int64(amount)).Msg("Gateway order created")

	now := s.now().UTC()
	order := &entity.Order{
		ID:              uuid.NewString(),
		UserID:          user.ID,
		Products:        entity.Snapshots(req.Items),
		Amount:          amount,
		Currency:        s.currency,
		Status:          entity.PaymentPending,
		DeliveryStatus:  entity.DeliveryPending,
		PaymentIntentID: gwOrder.ID,
		DeliveryCharge:  deliveryCharge,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if _, err := s.orders.CreateOrder(ctx, order); err != nil {
		// The gateway order exists; the reconciler records the row.
		logger.Error().Err(err).
			Str("gateway_order_id", gwOrder.ID).
			Str("user_id", user.ID).
			Msg("Error recording pending order after gateway order was created")
		publish(ctx, s.events, order, EventOrphaned)
	} else {
		publish(ctx, s.events, order, EventCreated)
	}

	return &entity.PaymentIntent{
		OrderID:  gwOrder.ID,
		Amount:   gwOrder.Amount,
		Currency: gwOrder.Currency,
		KeyID:    s.gateway.KeyID(),
	}, nil
}

// Quote prices a cart without side effects.
func (s *PaymentService) Quote(items []entity.CartItem, country string) (pricing.Quote, error) {
	if err := entity.ValidateCart(items); err != nil {
		return pricing.Quote{}, newError(KindValidation, err.Error(), err)
	}
	return pricing.Calculate(items, country, s.rates), nil
}

func (s *PaymentService) deliveryCharge(req IntentRequest, quote pricing.Quote) (entity.Money, error) {
	if req.Country != "" {
		if req.DeliveryCharge != nil && *req.DeliveryCharge != quote.DeliveryCharge {
			logger.Warn().
				Int64("client", int64(*req.DeliveryCharge)).
				Int64("server", int64(quote.DeliveryCharge)).
				Str("country", req.Country).
				Msg("Client delivery charge overridden")
		}
		return quote.DeliveryCharge, nil
	}
	if req.DeliveryCharge == nil {
		return 0, nil
	}
	if *req.DeliveryCharge < 0 {
		return 0, newError(KindValidation, "deliveryCharge must not be negative", nil)
	}
	if *req.DeliveryCharge > entity.MaxPrice {
		return 0, newError(KindValidation, "deliveryCharge out of range", nil)
	}
	return *req.DeliveryCharge, nil
}

func gatewayError(err error) *Error {
	var gwErr *gateway.Error
	switch {
	case errors.As(err, &gwErr) && gwErr.Unauthorized():
		logger.Error().Err(err).Msg("Payment gateway rejected API credentials")
		return &Error{Kind: KindGateway, Message: "Payment service configuration error", Err: err, Config: true}
	case errors.As(err, &gwErr):
		logger.Error().Err(err).Str("code", gwErr.Code).Msg("Payment gateway rejected order")
		return &Error{Kind: KindGateway, Message: "Error creating payment order", Err: err}
	case errors.Is(err, gateway.ErrTimeout), errors.Is(err, gateway.ErrUnavailable):
		logger.Error().Err(err).Msg("Payment gateway unreachable")
		return &Error{Kind: KindGateway, Message: "Payment service unavailable, please retry", Err: err, Retryable: true}
	}
	logger.Error().Err(err).Msg("Error creating payment order")
	return &Error{Kind: KindGateway, Message: "Error creating payment order", Err: err}
}
