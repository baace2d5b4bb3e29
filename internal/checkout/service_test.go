package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/komodo-checkout/internal/domain/cart"
	"github.com/example/komodo-checkout/internal/infrastructure/store/mocks"
	"github.com/example/komodo-checkout/internal/komodo"
	"github.com/example/komodo-checkout/internal/metrics"
	"github.com/example/komodo-checkout/internal/money"
	"github.com/example/komodo-checkout/internal/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOrders records order requests. When release is set every call
// blocks until it is closed; started receives one value per call.
type fakeOrders struct {
	mu       sync.Mutex
	payloads []komodo.OrderPayload
	ctxErrs  []error
	results  []error // per call; nil or missing means success
	started  chan struct{}
	release  chan struct{}
}

func (f *fakeOrders) CreateOrder(ctx context.Context, payload komodo.OrderPayload) (*komodo.Order, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	n := len(f.payloads)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}

	if n <= len(f.results) && f.results[n-1] != nil {
		return nil, f.results[n-1]
	}
	return &komodo.Order{ID: int64(100 + n), Stand: payload.Stand, Status: "PAID", TotalAmount: money.NewLoose(payload.TotalAmount)}, nil
}

func (f *fakeOrders) calls() []komodo.OrderPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]komodo.OrderPayload(nil), f.payloads...)
}

type fixedWallet struct {
	wallet *komodo.Wallet
	err    error
}

func (f fixedWallet) GetMyWallet(ctx context.Context) (*komodo.Wallet, error) {
	return f.wallet, f.err
}

func strPtr(s string) *string { return &s }

// grillCart holds two burgers at 9.50 from stand 5.
func grillCart() *cart.Store {
	c := cart.NewStore(nil)
	c.AddItem(5, strPtr("Grill"), cart.Product{
		ID:            1,
		Name:          "Burger",
		Price:         money.NewLoose("9.50"),
		StockQuantity: money.NewLoose(3),
	}, 2)
	return c
}

func loadedGate(t *testing.T, balance string, policy wallet.UnknownBalancePolicy) *wallet.Gate {
	t.Helper()
	f := fixedWallet{err: errors.New("unavailable")}
	if balance != "" {
		f = fixedWallet{wallet: &komodo.Wallet{Balance: money.NewLoose(balance), Currency: "USD"}}
	}
	gate := wallet.NewGate(f, true, policy, nil, nil)
	gate.Load(context.Background())
	require.NoError(t, gate.Wait(context.Background()))
	return gate
}

type harness struct {
	orders *fakeOrders
	events *mocks.MockEventStore
	svc    *Service
	navs   chan Navigation
}

func newHarness(delay time.Duration) *harness {
	h := &harness{
		orders: &fakeOrders{},
		events: mocks.NewMockEventStore(),
		navs:   make(chan Navigation, 4),
	}
	h.svc = NewService(h.orders, h.events, Config{RedirectDelay: delay}, nil, nil)
	return h
}

func (h *harness) begin(c *cart.Store, gate *wallet.Gate) *Visit {
	return h.svc.Begin("42", c, gate, func(n Navigation) { h.navs <- n })
}

// ============================================
// Payload Tests
// ============================================

func TestBuildPayload(t *testing.T) {
	c := grillCart()
	c.AddItem(5, nil, cart.Product{ID: 2, Name: "Soda", Price: money.NewLoose(3), StockQuantity: money.NewLoose(10)}, 1)

	payload, err := BuildPayload(c.Snapshot())
	require.NoError(t, err)

	assert.Equal(t, int64(5), payload.Stand)
	assert.Equal(t, "22.00", payload.TotalAmount)
	assert.Equal(t, []komodo.OrderLine{
		{Product: 1, Quantity: 2, UnitPrice: "9.50"},
		{Product: 2, Quantity: 1, UnitPrice: "3.00"},
	}, payload.Items)
	assert.Empty(t, payload.IdempotencyKey)
}

func TestBuildPayload_EmptyCart(t *testing.T) {
	_, err := BuildPayload(cart.NewStore(nil).Snapshot())
	assert.ErrorIs(t, err, ErrEmptyCart)
}

// ============================================
// Failure Message Tests
// ============================================

func TestFailureMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "string detail",
			err:      &komodo.APIError{StatusCode: 400, Detail: "Insufficient balance", Message: "request failed with status code 400"},
			expected: "Insufficient balance",
		},
		{
			name:     "structured detail",
			err:      &komodo.APIError{StatusCode: 400, Detail: map[string]any{"detail": "Product sold out", "code": "stock"}, Message: "request failed with status code 400"},
			expected: "Product sold out",
		},
		{
			name:     "structured detail without detail member",
			err:      &komodo.APIError{StatusCode: 400, Detail: map[string]any{"code": "stock"}, Message: "request failed with status code 400"},
			expected: "request failed with status code 400",
		},
		{
			name:     "no detail",
			err:      &komodo.APIError{StatusCode: 500, Message: "request failed with status code 500"},
			expected: "request failed with status code 500",
		},
		{
			name:     "wrapped api error",
			err:      fmt.Errorf("failed to create order: %w", &komodo.APIError{StatusCode: 409, Detail: "Duplicate order"}),
			expected: "Duplicate order",
		},
		{
			name:     "api error without any message",
			err:      &komodo.APIError{StatusCode: 502},
			expected: DefaultFailureMessage,
		},
		{
			name:     "transport error",
			err:      errors.New("connection refused"),
			expected: "connection refused",
		},
		{
			name:     "empty error",
			err:      errors.New(""),
			expected: DefaultFailureMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FailureMessage(tt.err))
		})
	}

	assert.Empty(t, FailureMessage(nil))
}

// ============================================
// State Machine Tests
// ============================================

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusIdle, StatusSubmitting, true},
		{StatusIdle, StatusSucceeded, false},
		{StatusSubmitting, StatusSucceeded, true},
		{StatusSubmitting, StatusFailed, true},
		{StatusSubmitting, StatusSubmitting, false},
		{StatusSucceeded, StatusSubmitting, false},
		{StatusSucceeded, StatusIdle, false},
		{StatusFailed, StatusSubmitting, true},
		{StatusFailed, StatusIdle, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

// ============================================
// Confirm Tests
// ============================================

func TestConfirm_Success(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	c := grillCart()
	visit := h.begin(c, nil)

	order, err := visit.Confirm(context.Background())
	require.NoError(t, err)
	require.NotNil(t, order)

	calls := h.orders.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(5), calls[0].Stand)
	assert.Equal(t, "19.00", calls[0].TotalAmount)
	assert.NotEmpty(t, calls[0].IdempotencyKey)

	assert.True(t, c.IsEmpty())
	assert.Nil(t, c.StandID())

	view := visit.View()
	assert.Equal(t, StatusSucceeded, view.Status)
	assert.Equal(t, order, view.Order)
	assert.False(t, view.CanConfirm)
	require.NotNil(t, view.Redirect)
	assert.Equal(t, OrdersRoute, view.Redirect.Route)

	select {
	case nav := <-h.navs:
		assert.Equal(t, Navigation{Route: "/orders", OrderSuccess: true, OrderID: order.ID}, nav)
	case <-time.After(time.Second):
		t.Fatal("redirect did not fire")
	}
	assert.True(t, visit.Closed())

	assert.Equal(t, []string{EventCheckoutSubmitted, EventCheckoutSucceeded}, h.events.EventTypes())
	appends := h.events.Calls()
	assert.Equal(t, appends[0].AggregateID, appends[1].AggregateID)
	assert.Equal(t, AggregateType, appends[0].AggregateType)

	journal := h.events.GetEvents(appends[0].AggregateID)
	require.Len(t, journal, 2)
	assert.Equal(t, 1, journal[0].Version)
	assert.Equal(t, 2, journal[1].Version)
	var succeeded CheckoutSucceeded
	require.NoError(t, json.Unmarshal(journal[1].Data, &succeeded))
	assert.Equal(t, order.ID, succeeded.OrderID)
	assert.Equal(t, "42", succeeded.UserID)
}

func TestConfirm_FailureKeepsCart(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	h.orders.results = []error{&komodo.APIError{StatusCode: 400, Detail: "Insufficient balance", Message: "request failed with status code 400"}}
	c := grillCart()
	before := c.Snapshot()
	visit := h.begin(c, nil)

	order, err := visit.Confirm(context.Background())
	require.Error(t, err)
	assert.Nil(t, order)

	var apiErr *komodo.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.StatusCode)

	assert.Equal(t, before.Items, c.Items())
	assert.Equal(t, before.Revision, c.Revision())

	view := visit.View()
	assert.Equal(t, StatusFailed, view.Status)
	assert.Equal(t, "Insufficient balance", view.Error)
	assert.True(t, view.CanConfirm)
	assert.Nil(t, view.Redirect)

	assert.Equal(t, []string{EventCheckoutSubmitted, EventCheckoutFailed}, h.events.EventTypes())
	failed := h.events.Calls()[1].Data.(CheckoutFailed)
	assert.Equal(t, 400, failed.StatusCode)
	assert.Equal(t, "Insufficient balance", failed.Error)

	select {
	case <-h.navs:
		t.Fatal("failed checkout must not redirect")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestConfirm_EmptyCart(t *testing.T) {
	h := newHarness(0)
	visit := h.begin(cart.NewStore(nil), nil)

	_, err := visit.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Empty(t, h.orders.calls())
	assert.Equal(t, StatusIdle, visit.Status())
	assert.False(t, visit.View().CanConfirm)
}

func TestConfirm_SecondConfirmWhileSubmitting(t *testing.T) {
	h := newHarness(time.Hour)
	h.orders.started = make(chan struct{}, 1)
	h.orders.release = make(chan struct{})
	visit := h.begin(grillCart(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := visit.Confirm(context.Background())
		done <- err
	}()
	<-h.orders.started

	assert.True(t, visit.Busy())
	assert.False(t, visit.View().CanConfirm)
	_, err := visit.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrSubmissionInProgress)
	assert.ErrorIs(t, visit.Retry(), ErrSubmissionInProgress)

	close(h.orders.release)
	require.NoError(t, <-done)

	_, err = visit.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.Len(t, h.orders.calls(), 1)
	visit.Close()
}

func TestVisit_EditCart(t *testing.T) {
	h := newHarness(time.Hour)
	h.orders.started = make(chan struct{}, 1)
	h.orders.release = make(chan struct{})
	c := grillCart()
	visit := h.begin(c, nil)

	require.NoError(t, visit.EditCart(func(c *cart.Store) { c.SetQuantity(1, 1) }))
	assert.Equal(t, 1, c.ItemCount())

	done := make(chan error, 1)
	go func() {
		_, err := visit.Confirm(context.Background())
		done <- err
	}()
	<-h.orders.started

	called := false
	err := visit.EditCart(func(c *cart.Store) { called = true })
	assert.ErrorIs(t, err, ErrSubmissionInProgress)
	assert.False(t, called)

	close(h.orders.release)
	require.NoError(t, <-done)
	require.NoError(t, visit.EditCart(func(c *cart.Store) { called = true }))
	assert.True(t, called)
	visit.Close()
}

func TestConfirm_ConcurrentCallersSubmitOnce(t *testing.T) {
	const callers = 16

	h := newHarness(time.Hour)
	h.orders.started = make(chan struct{}, callers)
	h.orders.release = make(chan struct{})
	visit := h.begin(grillCart(), nil)
	defer visit.Close()

	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := visit.Confirm(context.Background())
			results <- err
		}()
	}

	<-h.orders.started
	var errs []error
	for i := 0; i < callers-1; i++ {
		errs = append(errs, <-results)
	}
	close(h.orders.release)
	errs = append(errs, <-results)

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrSubmissionInProgress)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, h.orders.calls(), 1)
}

func TestConfirm_WalletGate(t *testing.T) {
	tests := []struct {
		name      string
		balance   string
		policy    wallet.UnknownBalancePolicy
		wantErr   error
		insuffice bool
	}{
		{"enough balance", "50.00", wallet.FailOpen, nil, false},
		{"exact balance", "19.00", wallet.FailClosed, nil, false},
		{"insufficient balance", "5.00", wallet.FailOpen, ErrInsufficientFunds, true},
		{"unknown balance fail open", "", wallet.FailOpen, nil, false},
		{"unknown balance fail closed", "", wallet.FailClosed, ErrBalanceUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(time.Hour)
			c := grillCart()
			visit := h.begin(c, loadedGate(t, tt.balance, tt.policy))
			defer visit.Close()

			view := visit.View()
			assert.Equal(t, tt.insuffice, view.InsufficientFunds)
			assert.Equal(t, tt.wantErr == nil, view.CanConfirm)
			require.NotNil(t, view.Wallet)
			assert.Equal(t, tt.balance != "", view.Wallet.Known)

			_, err := visit.Confirm(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, h.orders.calls())
				assert.Equal(t, StatusIdle, visit.Status())
				assert.False(t, c.IsEmpty())
				return
			}
			require.NoError(t, err)
			assert.Len(t, h.orders.calls(), 1)
		})
	}
}

func TestConfirm_IdempotencyKeyFollowsCartRevision(t *testing.T) {
	h := newHarness(time.Hour)
	failure := &komodo.APIError{StatusCode: 503, Message: "request failed with status code 503"}
	h.orders.results = []error{failure, failure, nil}
	c := grillCart()
	visit := h.begin(c, nil)
	defer visit.Close()

	_, err := visit.Confirm(context.Background())
	require.Error(t, err)
	require.NoError(t, visit.Retry())

	_, err = visit.Confirm(context.Background())
	require.Error(t, err)

	c.SetQuantity(1, 1)
	_, err = visit.Confirm(context.Background())
	require.NoError(t, err)

	calls := h.orders.calls()
	require.Len(t, calls, 3)
	assert.Equal(t, calls[0].IdempotencyKey, calls[1].IdempotencyKey)
	assert.NotEqual(t, calls[1].IdempotencyKey, calls[2].IdempotencyKey)
	assert.Equal(t, "9.50", calls[2].TotalAmount)
}

func TestConfirm_CallerCancellationDoesNotAbortSubmission(t *testing.T) {
	h := newHarness(time.Hour)
	visit := h.begin(grillCart(), nil)
	defer visit.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := visit.Confirm(ctx)
	require.NoError(t, err)
	require.Len(t, h.orders.ctxErrs, 1)
	assert.NoError(t, h.orders.ctxErrs[0])
}

func TestConfirm_EventStoreFailureDoesNotFailCheckout(t *testing.T) {
	h := newHarness(time.Hour)
	h.events.AppendErr = errors.New("journal down")
	visit := h.begin(grillCart(), nil)
	defer visit.Close()

	_, err := visit.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, visit.Status())
}

func TestConfirm_WithoutEventStore(t *testing.T) {
	orders := &fakeOrders{}
	svc := NewService(orders, nil, Config{}, nil, nil)
	assert.Equal(t, DefaultRedirectDelay, svc.redirectDelay)

	visit := svc.Begin("42", grillCart(), nil, nil)
	defer visit.Close()

	_, err := visit.Confirm(context.Background())
	require.NoError(t, err)
}

// ============================================
// Retry / Close Tests
// ============================================

func TestRetry(t *testing.T) {
	h := newHarness(time.Hour)
	h.orders.results = []error{errors.New("connection refused")}
	visit := h.begin(grillCart(), nil)
	defer visit.Close()

	require.NoError(t, visit.Retry(), "retry on an idle visit is a no-op")

	_, err := visit.Confirm(context.Background())
	require.Error(t, err)
	assert.Equal(t, "connection refused", visit.View().Error)

	require.NoError(t, visit.Retry())
	view := visit.View()
	assert.Equal(t, StatusIdle, view.Status)
	assert.Empty(t, view.Error)

	_, err = visit.Confirm(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, visit.Retry(), ErrAlreadySubmitted)
}

func TestConfirm_FromFailedClearsError(t *testing.T) {
	h := newHarness(time.Hour)
	h.orders.results = []error{errors.New("timeout")}
	visit := h.begin(grillCart(), nil)
	defer visit.Close()

	_, err := visit.Confirm(context.Background())
	require.Error(t, err)
	assert.Equal(t, "timeout", visit.View().Error)

	_, err = visit.Confirm(context.Background())
	require.NoError(t, err)
	assert.Empty(t, visit.View().Error)
	assert.Len(t, h.orders.calls(), 2)
}

func TestClose_CancelsPendingRedirect(t *testing.T) {
	h := newHarness(20 * time.Millisecond)
	visit := h.begin(grillCart(), nil)

	_, err := visit.Confirm(context.Background())
	require.NoError(t, err)
	visit.Close()

	select {
	case <-h.navs:
		t.Fatal("redirect fired after the visit was closed")
	case <-time.After(80 * time.Millisecond):
	}

	_, err = visit.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrVisitClosed)
	assert.ErrorIs(t, visit.Retry(), ErrVisitClosed)
	assert.Nil(t, visit.View().Redirect)
}

func TestClose_DuringSubmissionStillClearsCart(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	h.orders.started = make(chan struct{}, 1)
	h.orders.release = make(chan struct{})
	c := grillCart()
	visit := h.begin(c, nil)

	done := make(chan error, 1)
	go func() {
		_, err := visit.Confirm(context.Background())
		done <- err
	}()
	<-h.orders.started
	visit.Close()
	close(h.orders.release)
	require.NoError(t, <-done)

	assert.True(t, c.IsEmpty())
	select {
	case <-h.navs:
		t.Fatal("closed visit must not redirect")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClose_Idempotent(t *testing.T) {
	h := newHarness(time.Hour)
	visit := h.begin(grillCart(), nil)
	visit.Close()
	visit.Close()
	assert.True(t, visit.Closed())
	assert.False(t, visit.View().CanConfirm)
}

// ============================================
// Metrics Tests
// ============================================

func TestConfirm_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCheckoutMetrics(reg)
	orders := &fakeOrders{results: []error{errors.New("boom")}}
	svc := NewService(orders, nil, Config{RedirectDelay: time.Hour}, nil, m)

	visit := svc.Begin("42", grillCart(), nil, nil)
	defer visit.Close()

	_, _ = visit.Confirm(context.Background())
	_, _ = visit.Confirm(context.Background())
	_, _ = visit.Confirm(context.Background())

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Attempts.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Attempts.WithLabelValues("succeeded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Attempts.WithLabelValues("rejected")))
}
