package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"storefront/internal/entity"
)

const DefaultBaseURL = "https://api.razorpay.com/v1"

var (
	// ErrTimeout means the gateway did not answer in time. The call may be retried.
	ErrTimeout = errors.New("payment gateway timeout")
	// ErrUnavailable means the gateway could not be reached. The call may be retried.
	ErrUnavailable = errors.New("payment gateway unavailable")
)

// Error is a request the gateway answered and rejected.
type Error struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("payment gateway error (%d) %s: %s", e.StatusCode, e.Code, e.Description)
}

// Unauthorized reports rejected API credentials.
func (e *Error) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

type Config struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Timeout   time.Duration
}

// Order is the gateway-side reservation of a charge.
type Order struct {
	ID       string       `json:"id"`
	Amount   entity.Money `json:"amount"`
	Currency string       `json:"currency"`
	Receipt  string       `json:"receipt"`
	Status   string       `json:"status"`
}

type Client struct {
	keyID      string
	keySecret  string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		keyID:      cfg.KeyID,
		keySecret:  cfg.KeySecret,
		baseURL:    cfg.BaseURL,
		timeout:    cfg.Timeout,
		httpClient: httpClient,
	}
}

// KeyID is the public key the checkout widget is opened with.
func (c *Client) KeyID() string {
	return c.keyID
}

// CreateOrder reserves amount (minor units) in currency on the gateway.
func (c *Client) CreateOrder(ctx context.Context, amount entity.Money, currency, receipt string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp.StatusCode, body)
	}

	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decode gateway order: %w", err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("gateway returned an order without id")
	}
	return &order, nil
}

// VerifySignature checks the checkout callback signature, which the gateway
// computes as HMAC-SHA256("<order id>|<payment id>") keyed by the API secret.
func (c *Client) VerifySignature(orderID, paymentID, signature string) bool {
	expected := Signature(c.keySecret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Signature computes the hex signature the gateway attaches to a payment.
func Signature(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func decodeError(status int, body []byte) error {
	var payload struct {
		Error struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	}
	gwErr := &Error{StatusCode: status}
	if json.Unmarshal(body, &payload) == nil {
		gwErr.Code = payload.Error.Code
		gwErr.Description = payload.Error.Description
	}
	if gwErr.Description == "" {
		gwErr.Description = http.StatusText(status)
	}
	return gwErr
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
