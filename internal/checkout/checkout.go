package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"storefront/internal/cart"
	"storefront/internal/entity"
)

// PaymentWidget is the gateway's hosted checkout. Open shows it for intent;
// the returned channel delivers exactly one outcome.
type PaymentWidget interface {
	Open(ctx context.Context, intent entity.PaymentIntent) (<-chan entity.PaymentOutcome, error)
}

type Result struct {
	Status entity.OutcomeStatus
	Order  *entity.Order
	Err    error
}

// APIError is a non-200 answer from the storefront API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("storefront api (%d): %s", e.StatusCode, e.Message)
}

// Flow drives a checkout from cart to recorded order.
type Flow struct {
	baseURL    string
	token      string
	widget     PaymentWidget
	httpClient *http.Client
}

func NewFlow(baseURL, token string, widget PaymentWidget, httpClient *http.Client) *Flow {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Flow{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		widget:     widget,
		httpClient: httpClient,
	}
}

// Checkout requests a payment intent for the cart, waits for the shopper to
// complete payment and records the order. The cart is cleared only after the
// order is recorded.
func (f *Flow) Checkout(ctx context.Context, store *cart.Store, address entity.Address) Result {
	items := store.Items()
	if err := entity.ValidateCart(items); err != nil {
		return failed(err)
	}
	if err := address.Validate(); err != nil {
		return failed(err)
	}

	var intent entity.PaymentIntent
	err := f.post(ctx, "/api/create-payment-intent", map[string]interface{}{
		"items":   items,
		"country": address.Country,
	}, &intent)
	if err != nil {
		return f.interrupted(ctx, err)
	}
	store.SetPaymentIntent(intent.OrderID)

	outcomes, err := f.widget.Open(ctx, intent)
	if err != nil {
		return failed(fmt.Errorf("open payment widget: %w", err))
	}

	var outcome entity.PaymentOutcome
	select {
	case <-ctx.Done():
		return Result{Status: entity.OutcomeCancelled, Err: ctx.Err()}
	case o, ok := <-outcomes:
		if !ok {
			return failed(errors.New("payment widget closed without an outcome"))
		}
		outcome = o
	}

	switch outcome.Status {
	case entity.OutcomeSucceeded:
	case entity.OutcomeCancelled:
		return Result{Status: entity.OutcomeCancelled}
	default:
		return failed(fmt.Errorf("payment failed: %s", outcome.Reason))
	}

	products := entity.Snapshots(items)
	var subtotal entity.Money
	for _, p := range products {
		subtotal += p.LineTotal()
	}

	var order entity.Order
	err = f.post(ctx, "/api/create-order", map[string]interface{}{
		"razorpayOrderId":   intent.OrderID,
		"razorpayPaymentId": outcome.PaymentID,
		"razorpaySignature": outcome.Signature,
		"products":          products,
		"amount":            intent.Amount,
		"currency":          intent.Currency,
		"address":           address,
		"deliveryCharge":    intent.Amount - subtotal,
	}, &order)
	if err != nil {
		// Paid but not recorded: keep the cart and intent so the shopper can retry.
		return Result{Status: entity.OutcomeFailed, Err: fmt.Errorf("record order for payment %s: %w", outcome.PaymentID, err)}
	}

	store.Clear()
	store.SetPaymentIntent("")
	return Result{Status: entity.OutcomeSucceeded, Order: &order}
}

func (f *Flow) interrupted(ctx context.Context, err error) Result {
	if ctx.Err() != nil {
		return Result{Status: entity.OutcomeCancelled, Err: ctx.Err()}
	}
	return failed(err)
}

func failed(err error) Result {
	return Result{Status: entity.OutcomeFailed, Err: err}
}

func (f *Flow) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error == "" {
			errBody.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errBody.Error}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
