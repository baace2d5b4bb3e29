package command

import "github.com/example/komodo-checkout/internal/domain/cart"

// Actor identifies who issues a command
type Actor struct {
	UserID string
	Role   string
}

// Cart Commands
type AddToCart struct {
	Actor
	StandID   int64
	StandName *string
	Product   cart.Product
	// Quantity defaults to 1 when nil.
	Quantity *int
}

type SetQuantity struct {
	Actor
	ProductID int64
	Quantity  int
}

type RemoveFromCart struct {
	Actor
	ProductID int64
}

type ClearCart struct {
	Actor
}

// Checkout Commands
type BeginCheckout struct {
	Actor
}

type ConfirmCheckout struct {
	Actor
}

type RetryCheckout struct {
	Actor
}

type EndCheckout struct {
	Actor
}
