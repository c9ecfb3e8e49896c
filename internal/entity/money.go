package entity

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor currency units (paise for INR).
type Money int64

// MinorUnitExponent is the number of decimal places between major and minor units.
const MinorUnitExponent = 2

// MaxPrice bounds a unit price or a delivery charge. With MaxQuantity and
// MaxCartLines it keeps every order total well inside int64.
const MaxPrice Money = 1_000_000_000_000

var maxMoney = decimal.NewFromInt(math.MaxInt64)

// MoneyFromDecimal converts a major-unit decimal (e.g. 499.99) into minor units,
// rounding half away from zero.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	minor := d.Shift(MinorUnitExponent).Round(0)
	if minor.Abs().GreaterThan(maxMoney) {
		return 0, fmt.Errorf("amount %s out of range", d)
	}
	return Money(minor.IntPart()), nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -MinorUnitExponent)
}

// Times multiplies by an integer quantity.
func (m Money) Times(qty int) Money {
	return m * Money(qty)
}
