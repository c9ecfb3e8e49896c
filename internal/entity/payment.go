package entity

// PaymentIntent is what the storefront needs to open the gateway's checkout widget.
type PaymentIntent struct {
	OrderID  string `json:"orderId"`
	Amount   Money  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"keyId"`
}

type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// PaymentOutcome is the single result the gateway widget reports for an intent.
type PaymentOutcome struct {
	Status    OutcomeStatus `json:"status"`
	PaymentID string        `json:"paymentId,omitempty"`
	Signature string        `json:"signature,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}
