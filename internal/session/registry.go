package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/komodo-checkout/internal/checkout"
	"github.com/example/komodo-checkout/internal/domain/cart"
	"github.com/example/komodo-checkout/internal/komodo"
	"github.com/example/komodo-checkout/internal/logging"
	"github.com/example/komodo-checkout/internal/metrics"
	"github.com/example/komodo-checkout/internal/wallet"
	"go.uber.org/zap"
)

var (
	ErrNoCheckout   = errors.New("no checkout in progress")
	ErrCheckoutBusy = errors.New("cart is locked while an order is being submitted")
)

type Config struct {
	// WalletRoles lists the roles that pay from their wallet. Defaults to
	// the buyer role.
	WalletRoles []string
	// UnknownBalance decides what happens when the wallet balance could
	// not be fetched.
	UnknownBalance wallet.UnknownBalancePolicy
	// IdleTimeout is how long an untouched session is kept by Sweep.
	IdleTimeout time.Duration
}

// Registry owns one Session per user. Sessions live in memory only.
type Registry struct {
	checkout    *checkout.Service
	wallets     wallet.Fetcher
	walletRoles map[string]bool
	policy      wallet.UnknownBalancePolicy
	idleTimeout time.Duration
	logger      *zap.Logger
	metrics     *metrics.CheckoutMetrics

	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewRegistry(svc *checkout.Service, wallets wallet.Fetcher, cfg Config, logger *zap.Logger, m *metrics.CheckoutMetrics) *Registry {
	roles := cfg.WalletRoles
	if len(roles) == 0 {
		roles = []string{komodo.RoleUser}
	}
	walletRoles := make(map[string]bool, len(roles))
	for _, role := range roles {
		walletRoles[role] = true
	}

	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = 12 * time.Hour
	}

	return &Registry{
		checkout:    svc,
		wallets:     wallets,
		walletRoles: walletRoles,
		policy:      cfg.UnknownBalance,
		idleTimeout: idle,
		logger:      logging.OrNop(logger).Named("session"),
		metrics:     m,
		sessions:    make(map[string]*Session),
		now:         time.Now,
	}
}

// Get returns the session of userID, creating it on first use. The role
// is refreshed on every call.
func (r *Registry) Get(userID, role string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok {
		s = &Session{
			registry: r,
			userID:   userID,
			cart:     cart.NewStore(r.logger.With(zap.String("user_id", userID))),
		}
		r.sessions[userID] = s
		r.logger.Debug("session created", zap.String("user_id", userID))
	}

	s.mu.Lock()
	s.role = role
	s.lastSeen = r.now()
	s.mu.Unlock()
	return s
}

// Lookup returns an existing session without creating one
func (r *Registry) Lookup(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Forget drops the session of userID and ends its checkout visit
func (r *Registry) Forget(userID string) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	if ok {
		s.EndCheckout()
		r.logger.Debug("session forgotten", zap.String("user_id", userID))
	}
}

// Sweep drops sessions idle for longer than the idle timeout. Sessions
// with a submission in flight are kept. It returns how many were dropped.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTimeout)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.idleSince(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.EndCheckout()
	}
	if len(expired) > 0 {
		r.logger.Info("idle sessions dropped", zap.Int("count", len(expired)))
	}
	return len(expired)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// PaysWithWallet reports whether role pays from its wallet
func (r *Registry) PaysWithWallet(role string) bool {
	return r.walletRoles[role]
}

// Session is one user's cart plus the checkout visit currently open.
type Session struct {
	registry *Registry
	userID   string
	cart     *cart.Store

	mu         sync.Mutex
	role       string
	lastSeen   time.Time
	visit      *checkout.Visit
	navigation *checkout.Navigation
	// guard is the latest visit over the cart. It outlives visit so that a
	// submission still in flight after EndCheckout keeps the cart locked.
	guard *checkout.Visit
}

func (s *Session) UserID() string {
	return s.userID
}

func (s *Session) Role() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Cart returns the session's cart for reading. Mutations go through
// EditCart.
func (s *Session) Cart() *cart.Store {
	return s.cart
}

// EditCart applies fn to the cart unless an order is being submitted
func (s *Session) EditCart(fn func(c *cart.Store)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.guard == nil {
		fn(s.cart)
		return nil
	}
	if err := s.guard.EditCart(fn); err != nil {
		if errors.Is(err, checkout.ErrSubmissionInProgress) {
			return ErrCheckoutBusy
		}
		return err
	}
	return nil
}

// BeginCheckout opens a new checkout visit, closing any previous one.
// The wallet balance fetch starts immediately using ctx, which must carry
// the user's access token and outlive the request that opened the visit.
func (s *Session) BeginCheckout(ctx context.Context) (*checkout.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.guard != nil && s.guard.Busy() {
		return nil, ErrCheckoutBusy
	}
	if s.visit != nil {
		s.visit.Close()
	}
	s.navigation = nil

	r := s.registry
	var gate *wallet.Gate
	if r.PaysWithWallet(s.role) && r.wallets != nil {
		gate = wallet.NewGate(r.wallets, true, r.policy, r.logger.With(zap.String("user_id", s.userID)), r.metrics)
		gate.Load(ctx)
	}

	var visit *checkout.Visit
	visit = r.checkout.Begin(s.userID, s.cart, gate, func(nav checkout.Navigation) {
		s.redirected(visit, nav)
	})
	s.visit = visit
	s.guard = visit
	s.lastSeen = r.now()
	return visit, nil
}

func (s *Session) redirected(visit *checkout.Visit, nav checkout.Navigation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.visit != visit {
		return
	}
	s.visit = nil
	s.navigation = &nav
}

// Checkout returns the open checkout visit
func (s *Session) Checkout() (*checkout.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.visit == nil {
		return nil, ErrNoCheckout
	}
	s.lastSeen = s.registry.now()
	return s.visit, nil
}

// TakeNavigation returns the redirect issued by the last visit, once
func (s *Session) TakeNavigation() (checkout.Navigation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.navigation == nil {
		return checkout.Navigation{}, false
	}
	nav := *s.navigation
	s.navigation = nil
	return nav, true
}

// EndCheckout closes the open visit, cancelling its redirect and wallet
// fetch.
func (s *Session) EndCheckout() {
	s.mu.Lock()
	visit := s.visit
	s.visit = nil
	s.navigation = nil
	s.mu.Unlock()

	if visit != nil {
		visit.Close()
	}
}

func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.guard != nil && s.guard.Busy() {
		return false
	}
	return s.lastSeen.Before(cutoff)
}
