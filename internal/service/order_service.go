package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storefront/internal/entity"
	"storefront/internal/repository"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// OrderStore is the persistence the order services need.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *entity.Order) (*entity.Order, error)
	FinalizeOrder(ctx context.Context, order *entity.Order) (*entity.Order, bool, error)
	GetOrderByID(ctx context.Context, id string) (*entity.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]*entity.Order, error)
	ListOrders(ctx context.Context, paymentCompleted bool) ([]*entity.Order, error)
	UpdateDeliveryStatus(ctx context.Context, order *entity.Order) error
	DeleteOrder(ctx context.Context, order *entity.Order) error
}

// OrderOptions switches between the historical back-office behaviour and the
// stricter variants.
type OrderOptions struct {
	// Idempotent finalisation records one order per gateway payment id.
	Idempotent bool
	// StrictTransitions only allows pending -> dispatched -> delivered.
	StrictTransitions bool
	// GuardDelete refuses to delete orders whose payment is complete.
	GuardDelete bool
	// RequireSignature rejects confirmations without a gateway signature.
	RequireSignature bool
}

type FinalizeRequest struct {
	GatewayOrderID   string                   `json:"razorpayOrderId"`
	GatewayPaymentID string                   `json:"razorpayPaymentId"`
	Signature        string                   `json:"razorpaySignature,omitempty"`
	Products         []entity.ProductSnapshot `json:"products"`
	Amount           entity.Money             `json:"amount"`
	Currency         string                   `json:"currency"`
	Address          *entity.Address          `json:"address"`
	DeliveryCharge   entity.Money             `json:"deliveryCharge"`
}

type OrderService struct {
	orders      OrderStore
	gateway     Gateway
	idempotency IdempotencyStore
	events      EventPublisher
	opts        OrderOptions
	now         func() time.Time
}

func NewOrderService(orders OrderStore, gw Gateway, idempotency IdempotencyStore, events EventPublisher, opts OrderOptions) *OrderService {
	return &OrderService{
		orders:      orders,
		gateway:     gw,
		idempotency: idempotency,
		events:      events,
		opts:        opts,
		now:         time.Now,
	}
}

// FinalizeOrder records a payment the gateway confirmed.
func (s *OrderService) FinalizeOrder(ctx context.Context, user *entity.User, req FinalizeRequest) (*entity.Order, error) {
	if user == nil {
		return nil, errUnauthenticated
	}
	order, err := s.validateFinalize(req)
	if err != nil {
		return nil, err
	}
	order.UserID = user.ID

	if !s.opts.Idempotent {
		if _, err := s.orders.CreateOrder(ctx, order); err != nil {
			return nil, s.persistenceError(err, req)
		}
		publish(ctx, s.events, order, EventFinalized)
		return order, nil
	}

	acquired, existingID := s.acquire(ctx, req.GatewayPaymentID)
	if !acquired && existingID != "" {
		existing, err := s.orders.GetOrderByID(ctx, existingID)
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			// The order was deleted after it was finalised; record the payment again.
			logger.Warn().Str("payment_id", req.GatewayPaymentID).Str("order_id", existingID).
				Msg("Finalized order no longer exists")
			s.release(ctx, req.GatewayPaymentID)
			acquired, _ = s.acquire(ctx, req.GatewayPaymentID)
		case err != nil:
			return nil, s.persistenceError(err, req)
		default:
			return ownedBy(existing, user, req)
		}
	}
	if !acquired {
		return nil, newError(KindConflict, "Order for this payment is already being processed", nil)
	}

	result, created, err := s.orders.FinalizeOrder(ctx, order)
	if err != nil {
		s.release(ctx, req.GatewayPaymentID)
		return nil, s.persistenceError(err, req)
	}
	if s.idempotency != nil {
		if err := s.idempotency.Complete(ctx, req.GatewayPaymentID, result.ID); err != nil {
			logger.Warn().Err(err).Str("payment_id", req.GatewayPaymentID).Msg("Error recording finalized order id")
		}
	}
	if !created {
		return ownedBy(result, user, req)
	}

	publish(ctx, s.events, result, EventFinalized)
	return result, nil
}

// ownedBy returns an order already recorded for the payment, but only to the
// customer who placed it.
func ownedBy(existing *entity.Order, user *entity.User, req FinalizeRequest) (*entity.Order, error) {
	if existing.UserID != user.ID {
		logger.Warn().Str("payment_id", req.GatewayPaymentID).Str("user_id", user.ID).
			Msg("Payment already recorded for another customer")
		return nil, newError(KindConflict, "Payment already recorded for another order", nil)
	}
	return existing, nil
}

// acquire claims the payment id. Without a working store it proceeds, since
// the unique index and row locks still hold.
func (s *OrderService) acquire(ctx context.Context, paymentID string) (bool, string) {
	if s.idempotency == nil {
		return true, ""
	}
	acquired, existingID, err := s.idempotency.Acquire(ctx, paymentID)
	if err != nil {
		logger.Warn().Err(err).Str("payment_id", paymentID).Msg("Idempotency store unavailable")
		return true, ""
	}
	return acquired, existingID
}

func (s *OrderService) release(ctx context.Context, paymentID string) {
	if s.idempotency == nil {
		return
	}
	if err := s.idempotency.Release(ctx, paymentID); err != nil {
		logger.Error().Err(err).Str("payment_id", paymentID).Msg("Error releasing finalize lock")
	}
}

func (s *OrderService) validateFinalize(req FinalizeRequest) (*entity.Order, error) {
	if len(req.Products) == 0 || req.Amount <= 0 || req.Currency == "" ||
		req.GatewayOrderID == "" || req.GatewayPaymentID == "" || req.Address == nil {
		return nil, newError(KindValidation, "Missing required fields", nil)
	}
	if err := req.Address.Validate(); err != nil {
		return nil, newError(KindValidation, err.Error(), err)
	}
	if !entity.ValidCurrency(req.Currency) {
		return nil, newError(KindValidation, "currency must be a three-letter code", nil)
	}
	if req.DeliveryCharge < 0 || req.DeliveryCharge > entity.MaxPrice {
		return nil, newError(KindValidation, "deliveryCharge out of range", nil)
	}
	if len(req.Products) > entity.MaxCartLines {
		return nil, newError(KindValidation, "too many products", nil)
	}

	products := make([]entity.ProductSnapshot, len(req.Products))
	for i, p := range req.Products {
		if p.ID == "" || p.Quantity < 1 || p.Quantity > entity.MaxQuantity || p.Price <= 0 || p.Price > entity.MaxPrice {
			return nil, newError(KindValidation, "invalid product "+p.ID, nil)
		}
		if strings.TrimSpace(p.SelectedImg.Color) == "" {
			p.SelectedImg.Color = entity.DefaultImageColor
		}
		if strings.TrimSpace(p.SelectedImg.ColorCode) == "" {
			p.SelectedImg.ColorCode = entity.DefaultImageColorCode
		}
		products[i] = p
	}

	if req.Signature != "" || s.opts.RequireSignature {
		if !s.gateway.VerifySignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
			logger.Warn().Str("gateway_order_id", req.GatewayOrderID).Str("payment_id", req.GatewayPaymentID).
				Msg("Payment signature mismatch")
			return nil, newError(KindValidation, "Invalid payment signature", nil)
		}
	}

	now := s.now().UTC()
	addr := *req.Address
	order := &entity.Order{
		ID:              uuid.NewString(),
		Products:        products,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Status:          entity.PaymentComplete,
		DeliveryStatus:  entity.DeliveryPending,
		PaymentIntentID: req.GatewayOrderID,
		PaymentID:       req.GatewayPaymentID,
		Address:         &addr,
		DeliveryCharge:  req.DeliveryCharge,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if !order.AmountMatches() {
		return nil, newError(KindValidation, "amount does not match products and delivery charge", nil)
	}
	return order, nil
}

func (s *OrderService) persistenceError(err error, req FinalizeRequest) *Error {
	logger.Error().Err(err).
		Str("gateway_order_id", req.GatewayOrderID).
		Str("payment_id", req.GatewayPaymentID).
		Msg("Error recording paid order")
	return newError(KindPersistence, "Error creating order", err)
}

// UpdateDeliveryStatus moves an order along the delivery axis. Admin only.
func (s *OrderService) UpdateDeliveryStatus(ctx context.Context, user *entity.User, id, status string) (*entity.Order, error) {
	if err := requireAdmin(user); err != nil {
		return nil, err
	}
	to, err := entity.ParseDeliveryStatus(status)
	if err != nil {
		return nil, newError(KindValidation, err.Error(), err)
	}

	order, err := s.getOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := order.DeliveryStatus.Transition(to, s.opts.StrictTransitions)
	if err != nil {
		return nil, newError(KindConflict, err.Error(), err)
	}
	if next == order.DeliveryStatus {
		return order, nil
	}

	order.DeliveryStatus = next
	order.UpdatedAt = s.now().UTC()
	if err := s.orders.UpdateDeliveryStatus(ctx, order); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, newError(KindNotFound, "Order not found", err)
		}
		logger.Error().Err(err).Str("order_id", id).Msg("Error updating delivery status")
		return nil, newError(KindPersistence, "Error updating order", err)
	}

	event := EventDispatched
	if next == entity.DeliveryDelivered {
		event = EventDelivered
	}
	if next != entity.DeliveryPending {
		publish(ctx, s.events, order, event)
	}
	return order, nil
}

// DeleteOrder removes an order. Admin only.
func (s *OrderService) DeleteOrder(ctx context.Context, user *entity.User, id string) error {
	if err := requireAdmin(user); err != nil {
		return err
	}
	order, err := s.getOrder(ctx, id)
	if err != nil {
		return err
	}
	if s.opts.GuardDelete && order.Status == entity.PaymentComplete {
		return newError(KindConflict, "Paid orders cannot be deleted", nil)
	}

	if err := s.orders.DeleteOrder(ctx, order); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return newError(KindNotFound, "Order not found", err)
		}
		logger.Error().Err(err).Str("order_id", id).Msg("Error deleting order")
		return newError(KindPersistence, "Error deleting order", err)
	}

	publish(ctx, s.events, order, EventDeleted)
	return nil
}

// ListMyOrders returns the caller's orders, newest first.
func (s *OrderService) ListMyOrders(ctx context.Context, user *entity.User) ([]*entity.Order, error) {
	if user == nil {
		return nil, errUnauthenticated
	}
	orders, err := s.orders.ListOrdersByUser(ctx, user.ID)
	if err != nil {
		logger.Error().Err(err).Str("user_id", user.ID).Msg("Error listing orders")
		return nil, newError(KindPersistence, "Error fetching orders", err)
	}
	return orders, nil
}

// GetOrder returns an order to its owner or to an admin.
func (s *OrderService) GetOrder(ctx context.Context, user *entity.User, id string) (*entity.Order, error) {
	if user == nil {
		return nil, errUnauthenticated
	}
	order, err := s.getOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != user.ID && !user.IsAdmin() {
		// do not reveal other customers' order ids
		return nil, newError(KindNotFound, "Order not found", nil)
	}
	return order, nil
}

// ListOrders is the back-office listing, newest first.
func (s *OrderService) ListOrders(ctx context.Context, user *entity.User, paymentCompleted bool) ([]*entity.Order, error) {
	if err := requireAdmin(user); err != nil {
		return nil, err
	}
	orders, err := s.orders.ListOrders(ctx, paymentCompleted)
	if err != nil {
		logger.Error().Err(err).Msg("Error listing orders")
		return nil, newError(KindPersistence, "Error fetching orders", err)
	}
	return orders, nil
}

func (s *OrderService) getOrder(ctx context.Context, id string) (*entity.Order, error) {
	if strings.TrimSpace(id) == "" {
		return nil, newError(KindValidation, "order id is required", nil)
	}
	order, err := s.orders.GetOrderByID(ctx, id)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, newError(KindNotFound, "Order not found", err)
	}
	if err != nil {
		logger.Error().Err(err).Str("order_id", id).Msg("Error getting order")
		return nil, newError(KindPersistence, "Error fetching order", err)
	}
	return order, nil
}

func requireAdmin(user *entity.User) error {
	if user == nil {
		return errUnauthenticated
	}
	if !user.IsAdmin() {
		return newError(KindForbidden, "Forbidden", nil)
	}
	return nil
}
