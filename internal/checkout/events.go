package checkout

import "time"

const AggregateType = "Checkout"

// Event types
const (
	EventCheckoutSubmitted = "CheckoutSubmitted"
	EventCheckoutSucceeded = "CheckoutSucceeded"
	EventCheckoutFailed    = "CheckoutFailed"
)

// CheckoutSubmitted is emitted when an order create request is sent
type CheckoutSubmitted struct {
	AttemptID      string    `json:"attempt_id"`
	UserID         string    `json:"user_id"`
	StandID        int64     `json:"stand_id"`
	TotalAmount    string    `json:"total_amount"`
	ItemCount      int       `json:"item_count"`
	IdempotencyKey string    `json:"idempotency_key"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// CheckoutSucceeded is emitted when the order was created
type CheckoutSucceeded struct {
	AttemptID   string    `json:"attempt_id"`
	UserID      string    `json:"user_id"`
	OrderID     int64     `json:"order_id"`
	SucceededAt time.Time `json:"succeeded_at"`
}

// CheckoutFailed is emitted when the order create request failed
type CheckoutFailed struct {
	AttemptID  string    `json:"attempt_id"`
	UserID     string    `json:"user_id"`
	Error      string    `json:"error"`
	StatusCode int       `json:"status_code,omitempty"`
	FailedAt   time.Time `json:"failed_at"`
}
