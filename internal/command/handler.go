package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/komodo-checkout/internal/checkout"
	"github.com/example/komodo-checkout/internal/domain/cart"
	"github.com/example/komodo-checkout/internal/komodo"
	"github.com/example/komodo-checkout/internal/logging"
	"github.com/example/komodo-checkout/internal/session"
	"go.uber.org/zap"
)

var (
	ErrProductNotFound      = errors.New("product not found in stand")
	ErrCatalogueUnavailable = errors.New("catalogue unavailable")
)

// Catalogue lists the products of a stand. *komodo.Client satisfies it.
type Catalogue interface {
	GetStandProducts(ctx context.Context, standID int64) ([]komodo.Product, error)
}

type Handler struct {
	sessions  *session.Registry
	catalogue Catalogue
	logger    *zap.Logger
}

// NewHandler creates a command handler. With a nil catalogue, products are
// added to the cart as the caller describes them.
func NewHandler(sessions *session.Registry, catalogue Catalogue, logger *zap.Logger) *Handler {
	return &Handler{
		sessions:  sessions,
		catalogue: catalogue,
		logger:    logging.OrNop(logger).Named("command"),
	}
}

func (h *Handler) session(a Actor) *session.Session {
	return h.sessions.Get(a.UserID, a.Role)
}

// AddToCart adds an item to the cart. Name, price and stock are taken from
// the catalogue when one is configured.
func (h *Handler) AddToCart(ctx context.Context, cmd AddToCart) (cart.Snapshot, error) {
	product := cmd.Product
	if h.catalogue != nil {
		p, err := h.lookupProduct(ctx, cmd.StandID, cmd.Product.ID)
		if err != nil {
			return cart.Snapshot{}, err
		}
		product = p
	}

	s := h.session(cmd.Actor)
	err := s.EditCart(func(c *cart.Store) {
		if cmd.Quantity == nil {
			c.Add(cmd.StandID, cmd.StandName, product)
			return
		}
		c.AddItem(cmd.StandID, cmd.StandName, product, *cmd.Quantity)
	})
	if err != nil {
		return cart.Snapshot{}, err
	}
	return s.Cart().Snapshot(), nil
}

// SetQuantity sets the quantity of a cart item; zero or less removes it
func (h *Handler) SetQuantity(ctx context.Context, cmd SetQuantity) (cart.Snapshot, error) {
	return h.edit(cmd.Actor, func(c *cart.Store) { c.SetQuantity(cmd.ProductID, cmd.Quantity) })
}

// RemoveFromCart removes an item from cart
func (h *Handler) RemoveFromCart(ctx context.Context, cmd RemoveFromCart) (cart.Snapshot, error) {
	return h.edit(cmd.Actor, func(c *cart.Store) { c.RemoveItem(cmd.ProductID) })
}

// ClearCart clears all items from cart
func (h *Handler) ClearCart(ctx context.Context, cmd ClearCart) (cart.Snapshot, error) {
	return h.edit(cmd.Actor, func(c *cart.Store) { c.Clear() })
}

// BeginCheckout opens a checkout visit. ctx carries the user's token and
// must outlive the visit's wallet fetch.
func (h *Handler) BeginCheckout(ctx context.Context, cmd BeginCheckout) (*checkout.Visit, error) {
	return h.session(cmd.Actor).BeginCheckout(ctx)
}

// ConfirmCheckout submits the cart of the open visit. The visit is
// returned with the error so callers can show its failed state.
func (h *Handler) ConfirmCheckout(ctx context.Context, cmd ConfirmCheckout) (*checkout.Visit, error) {
	visit, err := h.session(cmd.Actor).Checkout()
	if err != nil {
		return nil, err
	}
	if _, err := visit.Confirm(ctx); err != nil {
		return visit, err
	}
	return visit, nil
}

// RetryCheckout returns a failed visit to idle
func (h *Handler) RetryCheckout(ctx context.Context, cmd RetryCheckout) (*checkout.Visit, error) {
	visit, err := h.session(cmd.Actor).Checkout()
	if err != nil {
		return nil, err
	}
	if err := visit.Retry(); err != nil {
		return nil, err
	}
	return visit, nil
}

// EndCheckout discards the open visit, if any
func (h *Handler) EndCheckout(ctx context.Context, cmd EndCheckout) {
	h.session(cmd.Actor).EndCheckout()
}

func (h *Handler) edit(a Actor, fn func(c *cart.Store)) (cart.Snapshot, error) {
	s := h.session(a)
	if err := s.EditCart(fn); err != nil {
		return cart.Snapshot{}, err
	}
	return s.Cart().Snapshot(), nil
}

func (h *Handler) lookupProduct(ctx context.Context, standID, productID int64) (cart.Product, error) {
	products, err := h.catalogue.GetStandProducts(ctx, standID)
	if err != nil {
		if errors.Is(err, komodo.ErrNotFound) {
			return cart.Product{}, ErrProductNotFound
		}
		return cart.Product{}, fmt.Errorf("%w: %w", ErrCatalogueUnavailable, err)
	}

	for _, p := range products {
		if p.ID == productID {
			return cart.Product{
				ID:            p.ID,
				Name:          p.Name,
				Price:         p.Price,
				StockQuantity: p.StockQuantity,
			}, nil
		}
	}

	h.logger.Debug("product not in stand catalogue", zap.Int64("stand_id", standID), zap.Int64("product_id", productID))
	return cart.Product{}, ErrProductNotFound
}
