package readmodel

import "time"

// Checkout attempt statuses as recorded in the journal.
const (
	AttemptSubmitted = "submitted"
	AttemptSucceeded = "succeeded"
	AttemptFailed    = "failed"
)

// CheckoutAttemptReadModel is the journal entry of one order submission
type CheckoutAttemptReadModel struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	StandID        int64     `json:"stand_id"`
	TotalAmount    string    `json:"total_amount"`
	ItemCount      int       `json:"item_count"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	OrderID        *int64    `json:"order_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Finished reports whether the attempt reached a terminal status
func (a *CheckoutAttemptReadModel) Finished() bool {
	return a.Status == AttemptSucceeded || a.Status == AttemptFailed
}
