package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"storefront/internal/cart"
	"storefront/internal/entity"
)

type fakeAPI struct {
	mu          sync.Mutex
	calls       map[string]int
	finalize    map[string]json.RawMessage
	orderStatus int
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	api := &fakeAPI{calls: map[string]int{}, orderStatus: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		api.calls[r.URL.Path]++
		api.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer tkn" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
			return
		}

		switch r.URL.Path {
		case "/api/create-payment-intent":
			json.NewEncoder(w).Encode(entity.PaymentIntent{OrderID: "order_gw1", Amount: 99850, Currency: "INR", KeyID: "rzp_test_key"})
		case "/api/create-order":
			var body map[string]json.RawMessage
			json.NewDecoder(r.Body).Decode(&body)
			api.mu.Lock()
			api.finalize = body
			api.mu.Unlock()
			if api.orderStatus != http.StatusOK {
				w.WriteHeader(api.orderStatus)
				json.NewEncoder(w).Encode(map[string]string{"error": "Error creating order"})
				return
			}
			json.NewEncoder(w).Encode(entity.Order{ID: "ord-1", Status: entity.PaymentComplete})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return api, srv
}

func (a *fakeAPI) count(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[path]
}

func (a *fakeAPI) total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *fakeAPI) finalizeField(key string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return string(a.finalize[key])
}

type fakeWidget struct {
	outcome *entity.PaymentOutcome
	opened  entity.PaymentIntent
}

func (w *fakeWidget) Open(_ context.Context, intent entity.PaymentIntent) (<-chan entity.PaymentOutcome, error) {
	w.opened = intent
	ch := make(chan entity.PaymentOutcome, 1)
	if w.outcome != nil {
		ch <- *w.outcome
		close(ch)
	}
	return ch, nil
}

func filledCart(t *testing.T) *cart.Store {
	t.Helper()
	s := cart.NewStore()
	if err := s.Add(entity.CartItem{ID: "p1", Name: "Serum", Brand: "Glow 30ml", Price: 49900, Quantity: 2}); err != nil {
		t.Fatal(err)
	}
	return s
}

func address() entity.Address {
	return entity.Address{Line1: "1 Main St", City: "Pune", State: "MH", PostalCode: "411001", Country: "India", Phone: "9999999999"}
}

func TestCheckout_Succeeded(t *testing.T) {
	api, srv := newFakeAPI(t)
	widget := &fakeWidget{outcome: &entity.PaymentOutcome{Status: entity.OutcomeSucceeded, PaymentID: "pay_1", Signature: "sig"}}
	store := filledCart(t)

	res := NewFlow(srv.URL, "tkn", widget, srv.Client()).Checkout(context.Background(), store, address())
	if res.Status != entity.OutcomeSucceeded || res.Err != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Order == nil || res.Order.ID != "ord-1" {
		t.Errorf("unexpected order %+v", res.Order)
	}
	if widget.opened.OrderID != "order_gw1" {
		t.Errorf("widget opened with %+v", widget.opened)
	}
	if store.Count() != 0 || store.PaymentIntent() != "" {
		t.Error("expected cart and intent cleared")
	}
	if api.finalizeField("razorpayPaymentId") != `"pay_1"` || api.finalizeField("deliveryCharge") != "50" {
		t.Errorf("unexpected finalize body %s %s", api.finalizeField("razorpayPaymentId"), api.finalizeField("deliveryCharge"))
	}
}

func TestCheckout_EmptyCartMakesNoCalls(t *testing.T) {
	api, srv := newFakeAPI(t)

	res := NewFlow(srv.URL, "tkn", &fakeWidget{}, srv.Client()).Checkout(context.Background(), cart.NewStore(), address())
	if res.Status != entity.OutcomeFailed || !errors.Is(res.Err, entity.ErrEmptyCart) {
		t.Errorf("unexpected result %+v", res)
	}
	if api.total() != 0 {
		t.Errorf("expected no calls, got %d", api.total())
	}
}

func TestCheckout_IncompleteAddress(t *testing.T) {
	api, srv := newFakeAPI(t)
	addr := address()
	addr.Phone = ""

	res := NewFlow(srv.URL, "tkn", &fakeWidget{}, srv.Client()).Checkout(context.Background(), filledCart(t), addr)
	if res.Status != entity.OutcomeFailed || res.Err == nil {
		t.Errorf("unexpected result %+v", res)
	}
	if api.total() != 0 {
		t.Errorf("expected no calls, got %d", api.total())
	}
}

func TestCheckout_PaymentOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		outcome entity.PaymentOutcome
		want    entity.OutcomeStatus
	}{
		{"failed", entity.PaymentOutcome{Status: entity.OutcomeFailed, Reason: "card declined"}, entity.OutcomeFailed},
		{"cancelled", entity.PaymentOutcome{Status: entity.OutcomeCancelled}, entity.OutcomeCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, srv := newFakeAPI(t)
			store := filledCart(t)
			outcome := tt.outcome

			res := NewFlow(srv.URL, "tkn", &fakeWidget{outcome: &outcome}, srv.Client()).Checkout(context.Background(), store, address())
			if res.Status != tt.want {
				t.Errorf("expected %s, got %+v", tt.want, res)
			}
			if api.count("/api/create-order") != 0 {
				t.Error("order must not be recorded")
			}
			if store.Count() != 2 || store.PaymentIntent() != "order_gw1" {
				t.Error("expected cart and intent kept")
			}
		})
	}
}

func TestCheckout_ContextCancelledWhileWaiting(t *testing.T) {
	_, srv := newFakeAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	widget := &cancellingWidget{cancel: cancel}

	res := NewFlow(srv.URL, "tkn", widget, srv.Client()).Checkout(ctx, filledCart(t), address())
	if res.Status != entity.OutcomeCancelled {
		t.Errorf("expected cancelled, got %+v", res)
	}
}

type cancellingWidget struct {
	cancel context.CancelFunc
}

func (w *cancellingWidget) Open(_ context.Context, _ entity.PaymentIntent) (<-chan entity.PaymentOutcome, error) {
	w.cancel()
	return make(chan entity.PaymentOutcome), nil
}

func TestCheckout_OrderNotRecordedKeepsCart(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.orderStatus = http.StatusInternalServerError
	widget := &fakeWidget{outcome: &entity.PaymentOutcome{Status: entity.OutcomeSucceeded, PaymentID: "pay_1"}}
	store := filledCart(t)

	res := NewFlow(srv.URL, "tkn", widget, srv.Client()).Checkout(context.Background(), store, address())
	var apiErr *APIError
	if res.Status != entity.OutcomeFailed || !errors.As(res.Err, &apiErr) || apiErr.StatusCode != 500 {
		t.Fatalf("unexpected result %+v", res)
	}
	if store.Count() != 2 {
		t.Error("expected cart kept for retry")
	}
}

func TestCheckout_Unauthorized(t *testing.T) {
	_, srv := newFakeAPI(t)

	res := NewFlow(srv.URL, "wrong", &fakeWidget{}, srv.Client()).Checkout(context.Background(), filledCart(t), address())
	var apiErr *APIError
	if !errors.As(res.Err, &apiErr) || apiErr.StatusCode != 401 || apiErr.Message != "Unauthorized" {
		t.Errorf("unexpected result %+v", res)
	}
}
