// Package cart holds the shopper's cart lines and the payment intent in flight.
// A Store is an explicit object handed to whoever needs it; nothing here is global.
package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"storefront/internal/entity"
	"storefront/internal/pricing"
)

var ErrItemNotFound = errors.New("item not in cart")

type Store struct {
	mu            sync.RWMutex
	items         []entity.CartItem
	paymentIntent string
}

func NewStore() *Store {
	return &Store{}
}

// Add puts an item in the cart, merging with an existing line for the same
// product and image. The merged quantity is capped at entity.MaxQuantity.
func (s *Store) Add(item entity.CartItem) error {
	if item.Quantity < 1 {
		item.Quantity = 1
	}
	if err := item.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.indexOf(item.ID); idx >= 0 {
		s.items[idx].Quantity = clamp(s.items[idx].Quantity + item.Quantity)
		return nil
	}
	s.items = append(s.items, item)
	return nil
}

// SetQuantity overwrites a line's quantity.
func (s *Store) SetQuantity(id string, qty int) error {
	if qty < 1 || qty > entity.MaxQuantity {
		return fmt.Errorf("quantity must be between 1 and %d", entity.MaxQuantity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return ErrItemNotFound
	}
	s.items[idx].Quantity = qty
	return nil
}

// Increase adds one, stopping at the cap.
func (s *Store) Increase(id string) (int, error) {
	return s.step(id, 1)
}

// Decrease removes one, stopping at 1. Use Remove to drop the line.
func (s *Store) Decrease(id string) (int, error) {
	return s.step(id, -1)
}

func (s *Store) step(id string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return 0, ErrItemNotFound
	}
	s.items[idx].Quantity = clamp(s.items[idx].Quantity + delta)
	return s.items[idx].Quantity, nil
}

func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return ErrItemNotFound
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	return nil
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
}

// Items returns a copy of the cart lines.
func (s *Store) Items() []entity.CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.CartItem, len(s.items))
	copy(out, s.items)
	return out
}

// Count is the total number of units in the cart.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, item := range s.items {
		n += item.Quantity
	}
	return n
}

func (s *Store) Subtotal() entity.Money {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total entity.Money
	for _, item := range s.items {
		total += item.LineTotal()
	}
	return total
}

// Quote prices the cart for display with the same calculator the server uses.
func (s *Store) Quote(destination string, rates pricing.Rates) pricing.Quote {
	return pricing.Calculate(s.Items(), destination, rates)
}

func (s *Store) SetPaymentIntent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paymentIntent = id
}

func (s *Store) PaymentIntent() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paymentIntent
}

type snapshot struct {
	Items         []entity.CartItem `json:"cartItems"`
	PaymentIntent string            `json:"paymentIntent,omitempty"`
}

// Snapshot serialises the cart for client-side storage.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(snapshot{Items: s.items, PaymentIntent: s.paymentIntent})
}

// Restore replaces the cart with a previously taken snapshot. Lines that no
// longer validate are dropped.
func (s *Store) Restore(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("restore cart: %w", err)
	}

	items := make([]entity.CartItem, 0, len(snap.Items))
	for _, item := range snap.Items {
		if item.Validate() == nil {
			items = append(items, item)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
	s.paymentIntent = snap.PaymentIntent
	return nil
}

func (s *Store) indexOf(id string) int {
	for idx, item := range s.items {
		if item.ID == id {
			return idx
		}
	}
	return -1
}

func clamp(qty int) int {
	if qty < 1 {
		return 1
	}
	if qty > entity.MaxQuantity {
		return entity.MaxQuantity
	}
	return qty
}
