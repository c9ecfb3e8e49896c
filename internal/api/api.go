package api

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"storefront/internal/entity"
	"storefront/internal/pricing"
	"storefront/internal/service"
	"storefront/internal/session"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

type PaymentService interface {
	CreatePaymentIntent(ctx context.Context, user *entity.User, req service.IntentRequest) (*entity.PaymentIntent, error)
	Quote(items []entity.CartItem, country string) (pricing.Quote, error)
}

type OrderService interface {
	FinalizeOrder(ctx context.Context, user *entity.User, req service.FinalizeRequest) (*entity.Order, error)
	UpdateDeliveryStatus(ctx context.Context, user *entity.User, id, status string) (*entity.Order, error)
	DeleteOrder(ctx context.Context, user *entity.User, id string) error
	ListMyOrders(ctx context.Context, user *entity.User) ([]*entity.Order, error)
	GetOrder(ctx context.Context, user *entity.User, id string) (*entity.Order, error)
	ListOrders(ctx context.Context, user *entity.User, paymentCompleted bool) ([]*entity.Order, error)
}

type UserService interface {
	CurrentUser(ctx context.Context, identity entity.User) (*entity.User, error)
}

type OrderHandler struct {
	payments PaymentService
	orders   OrderService
	users    UserService
}

func NewOrderHandler(payments PaymentService, orders OrderService, users UserService) *OrderHandler {
	return &OrderHandler{payments: payments, orders: orders, users: users}
}

// CreatePaymentIntent --> POST /api/create-payment-intent
func (h *OrderHandler) CreatePaymentIntent(c echo.Context) error {
	user, err := h.currentUser(c)
	if err != nil {
		return errorResponse(c, err)
	}

	req := service.IntentRequest{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, map[string]string{"error": "Invalid request payload"})
	}

	intent, err := h.payments.CreatePaymentIntent(c.Request().Context(), user, req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(200, intent)
}

// CreateOrder records a confirmed payment --> POST /api/create-order
func (h *OrderHandler) CreateOrder(c echo.Context) error {
	user, err := h.currentUser(c)
	if err != nil {
		return errorResponse(c, err)
	}

	req := service.FinalizeRequest{}
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, map[string]string{"error": "Invalid request payload"})
	}

	order, err := h.orders.FinalizeOrder(c.Request().Context(), user, req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(200, order)
}

// UpdateOrder changes the delivery status --> PUT /api/order
func (h *OrderHandler) UpdateOrder(c echo.Context) error {
	user, err := h.currentUser(c)
	if err != nil {
		return errorResponse(c, err)
	}

	body := struct {
		ID             string `json:"id"`
		DeliveryStatus string `json:"deliveryStatus"`
	}{}
	if err := c.Bind(&body); err != nil {
		return c.JSON(400, map[string]string{"error": "Invalid request payload"})
	}

	order, err := h.orders.UpdateDeliveryStatus(c.Request().Context(), user, body.ID, body.DeliveryStatus)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(200, order)
}

// DeleteOrder --> PUT /api/delete-order with {"row": "<order id>"}. The
// back-office grid may also send the whole row object.
func (h *OrderHandler) DeleteOrder(c echo.Context) error {
	user, err := h.currentUser(c)
	if err != nil {
		return errorResponse(c, err)
	}

	body := struct {
		Row json.RawMessage `json:"row"`
	}{}
	if err := c.Bind(&body); err != nil {
		return c.JSON(400, map[string]string{"error": "Invalid request payload"})
	}
	id, ok := rowID(body.Row)
	if !ok {
		return c.JSON(400, map[string]string{"error": "Invalid request payload"})
	}

	if err := h.orders.DeleteOrder(c.Request().Context(), user, id); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(200, map[string]string{"id": id})
}

// Quote prices a cart --> POST /api/quote
func (h *OrderHandler) Quote(c echo.Context) error {
	body := struct {
		Items   []entity.CartItem `json:"items"`
		Country string            `json:"country"`
	}{}
	if err := c.Bind(&body); err != nil {
		return c.JSON(400, map[string]string{"error": "Invalid request payload"})
	}

	quote, err := h.payments.Quote(body.Items, body.Country)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(200, quote)
}

// ListMyOrders --> GET /api/orders
func (h *OrderHandler) ListMyOrders(c echo.Context) error {
	user, err := h.currentUser(c)
	if err != nil {
		return errorResponse(c, err)
	}

	orders, err := h.orders.ListMyOrders(c.Request().Context(), user)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(200, nonNil(orders))
}

// GetOrder --> GET /api/orders/:id
func (h *OrderHandler) GetOrder(c echo.Context) error {
	user, err := h.currentUser(c)
	if err != nil {
		return errorResponse(c, err)
	}

	order, err := h.orders.GetOrder(c.Request().Context(), user, c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(200, order)
}

// ListOrders --> GET /api/admin/orders?paid=true
func (h *OrderHandler) ListOrders(c echo.Context) error {
	user, err := h.currentUser(c)
	if err != nil {
		return errorResponse(c, err)
	}

	paid := false
	if v := c.QueryParam("paid"); v != "" {
		if paid, err = strconv.ParseBool(v); err != nil {
			return c.JSON(400, map[string]string{"error": "Invalid paid filter"})
		}
	}

	orders, err := h.orders.ListOrders(c.Request().Context(), user, paid)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(200, nonNil(orders))
}

func (h *OrderHandler) currentUser(c echo.Context) (*entity.User, error) {
	claims, err := session.FromContext(c)
	if err != nil {
		return nil, &service.Error{Kind: service.KindAuth, Message: "Unauthorized", Err: err}
	}
	return h.users.CurrentUser(c.Request().Context(), claims.Identity())
}

func errorResponse(c echo.Context, err error) error {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		return c.JSON(svcErr.StatusCode(), map[string]string{"error": svcErr.Message})
	}
	logger.Error().Err(err).Str("path", c.Path()).Msg("Unhandled error")
	return c.JSON(500, map[string]string{"error": "Internal server error"})
}

func rowID(raw json.RawMessage) (string, bool) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		id = strings.TrimSpace(id)
		return id, id != ""
	}
	var row struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &row); err == nil && row.ID != "" {
		return row.ID, true
	}
	return "", false
}

func nonNil(orders []*entity.Order) []*entity.Order {
	if orders == nil {
		return []*entity.Order{}
	}
	return orders
}
