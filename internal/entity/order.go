package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentComplete PaymentStatus = "complete"
)

// ParsePaymentStatus accepts "paid" as an alias of complete.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return PaymentPending, nil
	case "complete", "paid":
		return PaymentComplete, nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryDispatched DeliveryStatus = "dispatched"
	DeliveryDelivered  DeliveryStatus = "delivered"
)

func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	switch DeliveryStatus(strings.ToLower(strings.TrimSpace(s))) {
	case DeliveryPending:
		return DeliveryPending, nil
	case DeliveryDispatched:
		return DeliveryDispatched, nil
	case DeliveryDelivered:
		return DeliveryDelivered, nil
	}
	return "", fmt.Errorf("unknown delivery status %q", s)
}

func (s DeliveryStatus) rank() int {
	switch s {
	case DeliveryPending:
		return 0
	case DeliveryDispatched:
		return 1
	case DeliveryDelivered:
		return 2
	}
	return -1
}

var ErrInvalidTransition = errors.New("invalid delivery status transition")

// Transition returns the next delivery status. Without strict, any known status
// is accepted, matching what the back-office has always allowed. With strict,
// only pending -> dispatched -> delivered is allowed; repeating the current
// status is a no-op either way.
func (s DeliveryStatus) Transition(to DeliveryStatus, strict bool) (DeliveryStatus, error) {
	if to.rank() < 0 {
		return s, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if s == to || !strict {
		return to, nil
	}
	if to.rank() != s.rank()+1 {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
	}
	return to, nil
}

// ProductSnapshot is a cart line frozen at purchase time.
type ProductSnapshot struct {
	ID          string
	Name        string
	Brand       string
	Category    string
	SelectedImg SelectedImage
	Price       Money
	Quantity    int
}

type productSnapshotJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Brand       string          `json:"brand"`
	Category    string          `json:"category"`
	SelectedImg SelectedImage   `json:"selectedImg"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

func (p ProductSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(productSnapshotJSON{
		ID:          p.ID,
		Name:        p.Name,
		Brand:       p.Brand,
		Category:    p.Category,
		SelectedImg: p.SelectedImg,
		Price:       p.Price.Decimal(),
		Quantity:    p.Quantity,
	})
}

func (p *ProductSnapshot) UnmarshalJSON(data []byte) error {
	var raw productSnapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	price, err := MoneyFromDecimal(raw.Price)
	if err != nil {
		return err
	}
	*p = ProductSnapshot{
		ID:          raw.ID,
		Name:        raw.Name,
		Brand:       raw.Brand,
		Category:    raw.Category,
		SelectedImg: raw.SelectedImg,
		Price:       price,
		Quantity:    raw.Quantity,
	}
	return nil
}

func (p ProductSnapshot) LineTotal() Money {
	return p.Price.Times(p.Quantity)
}

type Order struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	Products        []ProductSnapshot `json:"products"`
	Amount          Money             `json:"amount"`
	Currency        string            `json:"currency"`
	Status          PaymentStatus     `json:"status"`
	DeliveryStatus  DeliveryStatus    `json:"delivery_status"`
	PaymentIntentID string            `json:"payment_intent_id"`
	PaymentID       string            `json:"payment_id,omitempty"`
	Address         *Address          `json:"address,omitempty"`
	DeliveryCharge  Money             `json:"delivery_charge"`
	CreatedAt       time.Time         `json:"create_date"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Subtotal sums the product snapshots.
func (o *Order) Subtotal() Money {
	var total Money
	for _, p := range o.Products {
		total += p.LineTotal()
	}
	return total
}

// AmountMatches reports whether amount == subtotal + delivery charge.
func (o *Order) AmountMatches() bool {
	return o.Amount == o.Subtotal()+o.DeliveryCharge
}

// ValidCurrency reports whether c is a three-letter upper-case code.
func ValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

/*
MySQL tables (see migrations):

CREATE TABLE orders (
	id VARCHAR(36) PRIMARY KEY,
	user_id VARCHAR(36) NOT NULL,
	amount BIGINT NOT NULL,
	currency CHAR(3) NOT NULL,
	status VARCHAR(20) NOT NULL,
	delivery_status VARCHAR(20) NOT NULL,
	payment_intent_id VARCHAR(64) NOT NULL,
	payment_id VARCHAR(64) NULL,
	...address columns...,
	delivery_charge BIGINT NOT NULL,
	created_at DATETIME(6) NOT NULL,
	updated_at DATETIME(6) NOT NULL
);

CREATE TABLE order_products (... one row per snapshot ...);
*/
