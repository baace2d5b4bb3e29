package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/komodo-checkout/internal/domain/cart"
	"github.com/example/komodo-checkout/internal/komodo"
	"github.com/example/komodo-checkout/internal/wallet"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Visit is one pass through the checkout page. It submits the cart at
// most once at a time and redirects after a successful order.
type Visit struct {
	svc      *Service
	userID   string
	cart     *cart.Store
	gate     *wallet.Gate
	navigate Navigator
	logger   *zap.Logger

	mu             sync.Mutex
	status         Status
	errMsg         string
	order          *komodo.Order
	idempotencyKey string
	keyRevision    uint64
	redirect       *Redirect
	timer          *time.Timer
	closed         bool
}

// Redirect is a scheduled navigation
type Redirect struct {
	Navigation
	At time.Time `json:"at"`
}

// View is the checkout page state
type View struct {
	Status            Status         `json:"status"`
	Error             string         `json:"error,omitempty"`
	Cart              cart.Snapshot  `json:"cart"`
	Wallet            *wallet.Status `json:"wallet,omitempty"`
	InsufficientFunds bool           `json:"insufficient_funds"`
	CanConfirm        bool           `json:"can_confirm"`
	Order             *komodo.Order  `json:"order,omitempty"`
	Redirect          *Redirect      `json:"redirect,omitempty"`
}

type attempt struct {
	id      string
	snap    cart.Snapshot
	payload komodo.OrderPayload
}

// Confirm submits the cart as an order. Only one submission runs at a
// time; a second Confirm while one is in flight returns
// ErrSubmissionInProgress without calling the API.
//
// On success the cart is cleared and a redirect to the orders page is
// scheduled. On failure the cart is kept, the visit moves to
// StatusFailed and the returned error wraps the cause.
func (v *Visit) Confirm(ctx context.Context) (*komodo.Order, error) {
	a, err := v.begin()
	if err != nil {
		v.svc.metrics.ObserveAttempt("rejected")
		return nil, err
	}

	v.logger.Info("submitting order",
		zap.String("attempt_id", a.id),
		zap.Int64("stand_id", a.payload.Stand),
		zap.String("total_amount", a.payload.TotalAmount),
		zap.Int("lines", len(a.payload.Items)),
	)
	v.svc.record(ctx, a.id, EventCheckoutSubmitted, CheckoutSubmitted{
		AttemptID:      a.id,
		UserID:         v.userID,
		StandID:        a.payload.Stand,
		TotalAmount:    a.payload.TotalAmount,
		ItemCount:      a.snap.ItemCount,
		IdempotencyKey: a.payload.IdempotencyKey,
		SubmittedAt:    time.Now(),
	})

	// The order must not be abandoned halfway because the caller went away.
	start := time.Now()
	order, err := v.svc.orders.CreateOrder(context.WithoutCancel(ctx), a.payload)
	v.svc.metrics.ObserveSubmit(time.Since(start))
	if err != nil {
		return nil, v.fail(ctx, a, err)
	}

	v.succeed(ctx, a, order)
	return order, nil
}

func (v *Visit) begin() (attempt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return attempt{}, ErrVisitClosed
	}
	if !v.status.CanTransitionTo(StatusSubmitting) {
		return attempt{}, transitionError(v.status, StatusSubmitting)
	}

	snap := v.cart.Snapshot()
	payload, err := BuildPayload(snap)
	if err != nil {
		return attempt{}, err
	}
	if d := v.check(snap); !d.Allowed {
		if d.Insufficient {
			return attempt{}, ErrInsufficientFunds
		}
		return attempt{}, ErrBalanceUnknown
	}

	// Resubmitting an unchanged cart reuses the key so the API can
	// recognise the duplicate.
	if v.idempotencyKey == "" || v.keyRevision != snap.Revision {
		v.idempotencyKey = uuid.NewString()
		v.keyRevision = snap.Revision
	}
	payload.IdempotencyKey = v.idempotencyKey

	v.status = StatusSubmitting
	v.errMsg = ""

	return attempt{id: uuid.NewString(), snap: snap, payload: payload}, nil
}

func (v *Visit) succeed(ctx context.Context, a attempt, order *komodo.Order) {
	v.cart.Clear()

	nav := Navigation{Route: OrdersRoute, OrderSuccess: true, OrderID: order.ID}

	v.mu.Lock()
	v.status = StatusSucceeded
	v.order = order
	v.idempotencyKey = ""
	if !v.closed {
		delay := v.svc.redirectDelay
		v.redirect = &Redirect{Navigation: nav, At: time.Now().Add(delay)}
		v.timer = time.AfterFunc(delay, func() { v.fireRedirect(nav) })
	}
	v.mu.Unlock()

	v.logger.Info("order created",
		zap.String("attempt_id", a.id),
		zap.Int64("order_id", order.ID),
	)
	v.svc.metrics.ObserveAttempt("succeeded")
	v.svc.record(ctx, a.id, EventCheckoutSucceeded, CheckoutSucceeded{
		AttemptID:   a.id,
		UserID:      v.userID,
		OrderID:     order.ID,
		SucceededAt: time.Now(),
	})
}

func (v *Visit) fail(ctx context.Context, a attempt, cause error) error {
	msg := FailureMessage(cause)

	v.mu.Lock()
	v.status = StatusFailed
	v.errMsg = msg
	v.mu.Unlock()

	statusCode := 0
	var apiErr *komodo.APIError
	if errors.As(cause, &apiErr) {
		statusCode = apiErr.StatusCode
	}

	v.logger.Warn("order submission failed",
		zap.String("attempt_id", a.id),
		zap.Int("status_code", statusCode),
		zap.String("message", msg),
		zap.Error(cause),
	)
	v.svc.metrics.ObserveAttempt("failed")
	v.svc.record(ctx, a.id, EventCheckoutFailed, CheckoutFailed{
		AttemptID:  a.id,
		UserID:     v.userID,
		Error:      msg,
		StatusCode: statusCode,
		FailedAt:   time.Now(),
	})

	return fmt.Errorf("failed to create order: %w", cause)
}

func (v *Visit) fireRedirect(nav Navigation) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.timer = nil
	v.mu.Unlock()

	if v.gate != nil {
		v.gate.Close()
	}
	v.logger.Debug("redirecting", zap.String("route", nav.Route))
	if v.navigate != nil {
		v.navigate(nav)
	}
}

// Retry returns a failed visit to StatusIdle and clears the error. It is
// a no-op on an idle visit.
func (v *Visit) Retry() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return ErrVisitClosed
	}
	switch v.status {
	case StatusIdle:
		return nil
	case StatusFailed:
		v.status = StatusIdle
		v.errMsg = ""
		return nil
	}
	return transitionError(v.status, StatusIdle)
}

// Close discards the visit: a pending redirect is cancelled and a wallet
// fetch still in flight is ignored. A submission already in flight still
// completes and clears the cart on success.
func (v *Visit) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	v.redirect = nil
	v.mu.Unlock()

	if v.gate != nil {
		v.gate.Close()
	}
}

func (v *Visit) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// EditCart applies fn to the visit's cart unless a submission is in
// flight. It is serialized with Confirm, so an edit either lands before
// the cart is snapshotted or is rejected with ErrSubmissionInProgress.
// A closed visit still guards a submission it started.
func (v *Visit) EditCart(fn func(c *cart.Store)) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status == StatusSubmitting {
		return ErrSubmissionInProgress
	}
	fn(v.cart)
	return nil
}

// Busy reports whether a submission is in flight
func (v *Visit) Busy() bool {
	return v.Status() == StatusSubmitting
}

func (v *Visit) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// View returns the current page state
func (v *Visit) View() View {
	v.mu.Lock()
	defer v.mu.Unlock()

	snap := v.cart.Snapshot()
	view := View{
		Status: v.status,
		Error:  v.errMsg,
		Cart:   snap,
		Order:  v.order,
	}
	if v.gate != nil {
		ws := v.gate.Status()
		view.Wallet = &ws
	}
	if v.redirect != nil {
		r := *v.redirect
		view.Redirect = &r
	}

	d := v.check(snap)
	view.InsufficientFunds = d.Insufficient
	view.CanConfirm = !v.closed &&
		v.status.CanTransitionTo(StatusSubmitting) &&
		!snap.IsEmpty &&
		d.Allowed
	return view
}

func (v *Visit) check(snap cart.Snapshot) wallet.Decision {
	if v.gate == nil {
		return wallet.Decision{Allowed: true}
	}
	return v.gate.Check(snap.TotalAmount)
}
