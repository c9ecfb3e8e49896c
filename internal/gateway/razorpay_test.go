package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateOrder_SendsAmountAndCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_test_key" || pass != "secret" {
			t.Errorf("unexpected basic auth %q %q", user, pass)
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["amount"] != float64(99850) || body["currency"] != "INR" || body["receipt"] != "order_1" {
			t.Errorf("unexpected body %v", body)
		}
		_, _ = w.Write([]byte(`{"id":"order_Gw1","amount":99850,"currency":"INR","receipt":"order_1","status":"created"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{KeyID: "rzp_test_key", KeySecret: "secret", BaseURL: srv.URL}, srv.Client())
	order, err := c.CreateOrder(context.Background(), 99850, "INR", "order_1")
	if err != nil {
		t.Fatal(err)
	}
	if order.ID != "order_Gw1" || order.Amount != 99850 || order.Currency != "INR" {
		t.Errorf("unexpected order %+v", order)
	}
}

func TestCreateOrder_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"Authentication failed"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{KeyID: "k", KeySecret: "wrong", BaseURL: srv.URL}, srv.Client())
	_, err := c.CreateOrder(context.Background(), 100, "INR", "r")

	var gwErr *Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if !gwErr.Unauthorized() || gwErr.Description != "Authentication failed" {
		t.Errorf("unexpected error %+v", gwErr)
	}
}

func TestCreateOrder_RejectedAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, srv.Client())
	_, err := c.CreateOrder(context.Background(), 1, "INR", "r")

	var gwErr *Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if gwErr.Unauthorized() || gwErr.StatusCode != http.StatusBadRequest || gwErr.Description != "Bad Request" {
		t.Errorf("unexpected error %+v", gwErr)
	}
}

func TestCreateOrder_TimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, srv.Client())
	_, err := c.CreateOrder(context.Background(), 1, "INR", "r")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestCreateOrder_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: url}, nil)
	_, err := c.CreateOrder(context.Background(), 1, "INR", "r")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	c := NewClient(Config{KeySecret: "secret"}, nil)
	sig := Signature("secret", "order_1", "pay_1")
	if !c.VerifySignature("order_1", "pay_1", sig) {
		t.Error("expected valid signature")
	}
	if c.VerifySignature("order_1", "pay_2", sig) {
		t.Error("signature must be bound to the payment id")
	}
}
