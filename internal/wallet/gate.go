package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/example/komodo-checkout/internal/komodo"
	"github.com/example/komodo-checkout/internal/logging"
	"github.com/example/komodo-checkout/internal/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UnknownBalancePolicy decides what the gate does when the balance could
// not be fetched (or has not arrived yet).
type UnknownBalancePolicy int

const (
	// FailOpen lets the checkout proceed and leaves the final decision to
	// the server.
	FailOpen UnknownBalancePolicy = iota
	// FailClosed blocks the checkout until a balance is known.
	FailClosed
)

var ErrUnknownPolicy = errors.New("unknown wallet balance policy")

func ParsePolicy(s string) (UnknownBalancePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "open", "fail-open", "fail_open":
		return FailOpen, nil
	case "closed", "fail-closed", "fail_closed":
		return FailClosed, nil
	}
	return FailOpen, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

func (p UnknownBalancePolicy) String() string {
	if p == FailClosed {
		return "fail-closed"
	}
	return "fail-open"
}

// Fetcher loads the caller's wallet.
type Fetcher interface {
	GetMyWallet(ctx context.Context) (*komodo.Wallet, error)
}

// Decision is the outcome of Gate.Check.
type Decision struct {
	Allowed      bool `json:"allowed"`
	Insufficient bool `json:"insufficient"`
}

// Status is what the checkout view shows about the wallet.
type Status struct {
	Applies  bool             `json:"applies"`
	Loading  bool             `json:"loading"`
	Known    bool             `json:"known"`
	Balance  *decimal.Decimal `json:"balance,omitempty"`
	Currency string           `json:"currency,omitempty"`
	Policy   string           `json:"policy"`
}

// Gate fetches the wallet balance once per checkout visit and decides
// whether a total can be submitted. Gates for roles that do not pay with
// the wallet never block.
type Gate struct {
	fetcher Fetcher
	applies bool
	policy  UnknownBalancePolicy
	logger  *zap.Logger
	metrics *metrics.CheckoutMetrics

	mu       sync.Mutex
	started  bool
	closed   bool
	balance  *decimal.Decimal
	currency string
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewGate(fetcher Fetcher, applies bool, policy UnknownBalancePolicy, logger *zap.Logger, m *metrics.CheckoutMetrics) *Gate {
	return &Gate{
		fetcher: fetcher,
		applies: applies,
		policy:  policy,
		logger:  logging.OrNop(logger).Named("wallet"),
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Load starts the balance fetch in the background. Only the first call
// fetches; later calls and calls after Close do nothing.
func (g *Gate) Load(ctx context.Context) {
	g.mu.Lock()
	if !g.applies || g.started || g.closed {
		g.mu.Unlock()
		return
	}
	g.started = true
	fetchCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.mu.Unlock()

	go g.fetch(fetchCtx)
}

func (g *Gate) fetch(ctx context.Context) {
	defer close(g.done)

	wallet, err := g.fetcher.GetMyWallet(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		g.logger.Debug("discarding wallet result for closed checkout")
		return
	}
	if err == nil && wallet == nil {
		err = errors.New("empty wallet response")
	}
	if err != nil {
		g.metrics.ObserveWalletFetch("error")
		g.logger.Debug("wallet balance unavailable", zap.Error(err), zap.Stringer("policy", g.policy))
		return
	}

	balance := wallet.Balance.Decimal
	g.balance = &balance
	g.currency = wallet.Currency
	g.metrics.ObserveWalletFetch("ok")
}

// Wait blocks until the fetch started by Load has finished or ctx is done.
// It returns immediately when no fetch was started.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	started := g.started
	g.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels an in-flight fetch; a result arriving later is dropped.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	if g.cancel != nil {
		g.cancel()
	}
}

// Check reports whether total may be submitted. A known balance below the
// total blocks and flags insufficient funds; an unknown balance follows
// the configured policy.
func (g *Gate) Check(total decimal.Decimal) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.applies {
		return Decision{Allowed: true}
	}
	if g.balance != nil {
		insufficient := g.balance.LessThan(total)
		return Decision{Allowed: !insufficient, Insufficient: insufficient}
	}
	return Decision{Allowed: g.policy == FailOpen}
}

func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	status := Status{
		Applies: g.applies,
		Policy:  g.policy.String(),
	}
	if !g.applies {
		return status
	}

	select {
	case <-g.done:
	default:
		status.Loading = g.started && !g.closed
	}
	if g.balance != nil {
		b := *g.balance
		status.Known = true
		status.Balance = &b
		status.Currency = g.currency
	}
	return status
}
