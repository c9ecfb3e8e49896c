package entity

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxQuantity caps a single cart line.
const MaxQuantity = 99

// MaxCartLines caps the number of distinct lines in a cart or an order.
const MaxCartLines = 1000

const (
	DefaultImageColor     = "default"
	DefaultImageColorCode = "#000000"
)

type SelectedImage struct {
	Color     string `json:"color"`
	ColorCode string `json:"colorCode"`
	Image     string `json:"image"`
}

// CartItem is a line in the shopper's cart. Price is held in minor units;
// on the wire it travels as a major-unit decimal the way the storefront renders it.
type CartItem struct {
	ID          string
	Name        string
	Brand       string
	Category    string
	SelectedImg *SelectedImage
	Price       Money
	Quantity    int
}

type cartItemJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Brand       string          `json:"brand"`
	Category    string          `json:"category"`
	SelectedImg *SelectedImage  `json:"selectedImg,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

func (i CartItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(cartItemJSON{
		ID:          i.ID,
		Name:        i.Name,
		Brand:       i.Brand,
		Category:    i.Category,
		SelectedImg: i.SelectedImg,
		Price:       i.Price.Decimal(),
		Quantity:    i.Quantity,
	})
}

func (i *CartItem) UnmarshalJSON(data []byte) error {
	var raw cartItemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	price, err := MoneyFromDecimal(raw.Price)
	if err != nil {
		return err
	}
	*i = CartItem{
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

// LineTotal is price × quantity.
func (i CartItem) LineTotal() Money {
	return i.Price.Times(i.Quantity)
}

var ErrEmptyCart = errors.New("no items in cart")

// Validate checks a single line.
func (i CartItem) Validate() error {
	if i.ID == "" {
		return errors.New("item id is required")
	}
	if i.Quantity < 1 || i.Quantity > MaxQuantity {
		return fmt.Errorf("item %s: quantity must be between 1 and %d", i.ID, MaxQuantity)
	}
	if i.Price <= 0 {
		return fmt.Errorf("item %s: price must be positive", i.ID)
	}
	if i.Price > MaxPrice {
		return fmt.Errorf("item %s: price exceeds %s", i.ID, MaxPrice.Decimal())
	}
	return nil
}

// ValidateCart rejects an empty cart or any invalid line.
func ValidateCart(items []CartItem) error {
	if len(items) == 0 {
		return ErrEmptyCart
	}
	if len(items) > MaxCartLines {
		return fmt.Errorf("cart has more than %d lines", MaxCartLines)
	}
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot freezes the line for an order, normalising the selected image.
func (i CartItem) Snapshot() ProductSnapshot {
	img := SelectedImage{}
	if i.SelectedImg != nil {
		img = *i.SelectedImg
	}
	if img.Color == "" {
		img.Color = DefaultImageColor
	}
	if img.ColorCode == "" {
		img.ColorCode = DefaultImageColorCode
	}
	return ProductSnapshot{
		ID:          i.ID,
		Name:        i.Name,
		Brand:       i.Brand,
		Category:    i.Category,
		SelectedImg: img,
		Price:       i.Price,
		Quantity:    i.Quantity,
	}
}

func Snapshots(items []CartItem) []ProductSnapshot {
	out := make([]ProductSnapshot, len(items))
	for idx, item := range items {
		out[idx] = item.Snapshot()
	}
	return out
}
