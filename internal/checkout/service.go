package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/komodo-checkout/internal/domain/cart"
	"github.com/example/komodo-checkout/internal/infrastructure/store"
	"github.com/example/komodo-checkout/internal/komodo"
	"github.com/example/komodo-checkout/internal/logging"
	"github.com/example/komodo-checkout/internal/metrics"
	"github.com/example/komodo-checkout/internal/money"
	"github.com/example/komodo-checkout/internal/wallet"
	"go.uber.org/zap"
)

const (
	DefaultRedirectDelay  = 2 * time.Second
	OrdersRoute           = "/orders"
	DefaultFailureMessage = "Payment could not be completed. Please try again."
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusSubmitting Status = "submitting"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrSubmissionInProgress = errors.New("order submission already in progress")
	ErrAlreadySubmitted     = errors.New("order already submitted")
	ErrInsufficientFunds    = errors.New("insufficient wallet balance")
	ErrBalanceUnknown       = errors.New("wallet balance is not known")
	ErrVisitClosed          = errors.New("checkout visit is closed")
	ErrInvalidTransition    = errors.New("invalid checkout status transition")
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusIdle:       {StatusSubmitting},
	StatusSubmitting: {StatusSucceeded, StatusFailed},
	StatusSucceeded:  {}, // terminal state
	StatusFailed:     {StatusSubmitting, StatusIdle},
}

// CanTransitionTo checks if a visit in status s may move to target
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

func transitionError(from, target Status) error {
	switch from {
	case StatusSubmitting:
		return ErrSubmissionInProgress
	case StatusSucceeded:
		return ErrAlreadySubmitted
	default:
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, target)
	}
}

// OrderCreator submits orders. *komodo.Client satisfies it.
type OrderCreator interface {
	CreateOrder(ctx context.Context, payload komodo.OrderPayload) (*komodo.Order, error)
}

// Navigation is where the user is sent after a successful checkout
type Navigation struct {
	Route        string `json:"route"`
	OrderSuccess bool   `json:"order_success"`
	OrderID      int64  `json:"order_id,omitempty"`
}

// Navigator is called once when a visit redirects
type Navigator func(Navigation)

type Config struct {
	// RedirectDelay is how long the success state stays visible before
	// navigating to the orders page. Zero means DefaultRedirectDelay.
	RedirectDelay time.Duration
}

// Service starts checkout visits and owns their shared collaborators
type Service struct {
	orders        OrderCreator
	eventStore    store.EventStoreInterface
	redirectDelay time.Duration
	logger        *zap.Logger
	metrics       *metrics.CheckoutMetrics
}

// NewService creates a checkout service. eventStore may be nil, in which
// case no checkout events are recorded.
func NewService(orders OrderCreator, eventStore store.EventStoreInterface, cfg Config, logger *zap.Logger, m *metrics.CheckoutMetrics) *Service {
	delay := cfg.RedirectDelay
	if delay <= 0 {
		delay = DefaultRedirectDelay
	}
	return &Service{
		orders:        orders,
		eventStore:    eventStore,
		redirectDelay: delay,
		logger:        logging.OrNop(logger).Named("checkout"),
		metrics:       m,
	}
}

// Begin starts a checkout visit for userID over the given cart. gate may
// be nil for callers that never pay with the wallet.
func (s *Service) Begin(userID string, cartStore *cart.Store, gate *wallet.Gate, navigate Navigator) *Visit {
	return &Visit{
		svc:      s,
		userID:   userID,
		cart:     cartStore,
		gate:     gate,
		navigate: navigate,
		status:   StatusIdle,
		logger:   s.logger.With(zap.String("user_id", userID)),
	}
}

func (s *Service) record(ctx context.Context, attemptID, eventType string, data any) {
	if s.eventStore == nil {
		return
	}
	if _, err := s.eventStore.Append(context.WithoutCancel(ctx), attemptID, AggregateType, eventType, data); err != nil {
		s.logger.Warn("failed to record checkout event",
			zap.String("attempt_id", attemptID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

// BuildPayload turns a cart snapshot into an order create request. Money
// values are formatted with two decimals.
func BuildPayload(snap cart.Snapshot) (komodo.OrderPayload, error) {
	if snap.IsEmpty || snap.StandID == nil {
		return komodo.OrderPayload{}, ErrEmptyCart
	}

	lines := make([]komodo.OrderLine, 0, len(snap.Items))
	for _, item := range snap.Items {
		lines = append(lines, komodo.OrderLine{
			Product:   item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: money.Format(item.UnitPrice),
		})
	}

	return komodo.OrderPayload{
		Stand:       *snap.StandID,
		TotalAmount: money.Format(snap.TotalAmount),
		Items:       lines,
	}, nil
}

// FailureMessage picks the message shown for a failed submission: a
// string detail from the API, then a structured detail's "detail" member,
// then the error's own message, then DefaultFailureMessage.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *komodo.APIError
	if errors.As(err, &apiErr) {
		if msg := apiErr.DetailMessage(); msg != "" {
			return msg
		}
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return DefaultFailureMessage
	}

	if msg := err.Error(); msg != "" {
		return msg
	}
	return DefaultFailureMessage
}
