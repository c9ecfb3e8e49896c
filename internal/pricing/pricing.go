package pricing

import (
	"regexp"
	"strconv"
	"strings"

	"storefront/internal/entity"
)

// DomesticCountry gets the flat/free delivery rule; everything else ships by weight.
const DomesticCountry = "India"

// Rates holds the delivery tariff. All charges are in minor units.
type Rates struct {
	DefaultCharge        entity.Money `json:"default_charge"`
	DomesticCharge       entity.Money `json:"domestic_charge"`
	FreeShippingMinItems int          `json:"free_shipping_min_items"`
	InternationalBase    entity.Money `json:"international_base"`
	InternationalStep    entity.Money `json:"international_step"`
	BaseWeightGrams      int          `json:"base_weight_grams"`
	StepWeightGrams      int          `json:"step_weight_grams"`
}

func DefaultRates() Rates {
	return Rates{
		DefaultCharge:        50,
		DomesticCharge:       50,
		FreeShippingMinItems: 3,
		InternationalBase:    2850,
		InternationalStep:    1425,
		BaseWeightGrams:      1000,
		StepWeightGrams:      500,
	}
}

// Quote is the price breakdown of a cart for a destination.
type Quote struct {
	Subtotal       entity.Money `json:"subtotal"`
	TotalWeight    int          `json:"totalWeight"`
	ItemCount      int          `json:"itemCount"`
	DeliveryCharge entity.Money `json:"deliveryCharge"`
	Total          entity.Money `json:"total"`
	// UnparsedWeights lists product ids whose brand carries no readable weight.
	UnparsedWeights []string `json:"unparsedWeights,omitempty"`
}

// Calculate prices a cart. It has no side effects, so the storefront and the
// server derive the same numbers.
func Calculate(items []entity.CartItem, destination string, rates Rates) Quote {
	var q Quote
	for _, item := range items {
		q.Subtotal += item.LineTotal()
		q.ItemCount += item.Quantity

		grams, ok := ParseWeightGrams(item.Brand)
		if !ok {
			q.UnparsedWeights = append(q.UnparsedWeights, item.ID)
			continue
		}
		q.TotalWeight += grams * item.Quantity
	}
	q.DeliveryCharge = DeliveryCharge(destination, q.ItemCount, q.TotalWeight, rates)
	q.Total = q.Subtotal + q.DeliveryCharge
	return q
}

func DeliveryCharge(destination string, itemCount, weightGrams int, rates Rates) entity.Money {
	destination = strings.TrimSpace(destination)
	switch {
	case destination == "":
		return rates.DefaultCharge
	case strings.EqualFold(destination, DomesticCountry):
		if itemCount >= rates.FreeShippingMinItems {
			return 0
		}
		return rates.DomesticCharge
	}

	charge := rates.InternationalBase
	if over := weightGrams - rates.BaseWeightGrams; over > 0 && rates.StepWeightGrams > 0 {
		blocks := (over + rates.StepWeightGrams - 1) / rates.StepWeightGrams
		charge += rates.InternationalStep.Times(blocks)
	}
	return charge
}

var weightSuffix = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(kg|grams|gram|gms|gm|g|ml)\s*$`)

// ParseWeightGrams reads a trailing weight such as "50g", "100 ml" or "1.5kg"
// from a brand string. ml counts as grams.
func ParseWeightGrams(s string) (int, bool) {
	m := weightSuffix.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if strings.EqualFold(m[2], "kg") {
		value *= 1000
	}
	return int(value + 0.5), true
}
