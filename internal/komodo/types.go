package komodo

import (
	"time"

	"github.com/example/komodo-checkout/internal/money"
)

// Roles issued by the Komodo API.
const (
	RoleSuperadmin = "SUPERADMIN"
	RoleEventAdmin = "EVENT_ADMIN"
	RoleStandAdmin = "STAND_ADMIN"
	RoleUser       = "USER"
)

// OrderLine is one line of an order create request. Unit price is a
// two-decimal string.
type OrderLine struct {
	Product   int64  `json:"product"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// OrderPayload is the body of POST /orders/.
type OrderPayload struct {
	Stand          int64       `json:"stand"`
	TotalAmount    string      `json:"total_amount"`
	Items          []OrderLine `json:"items"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
}

type OrderItem struct {
	ID        int64       `json:"id"`
	Product   int64       `json:"product"`
	Quantity  int         `json:"quantity"`
	UnitPrice money.Loose `json:"unit_price"`
}

type Order struct {
	ID          int64       `json:"id"`
	Stand       int64       `json:"stand"`
	Status      string      `json:"status"`
	TotalAmount money.Loose `json:"total_amount"`
	Items       []OrderItem `json:"items,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

type Wallet struct {
	ID       int64       `json:"id"`
	User     int64       `json:"user"`
	Balance  money.Loose `json:"balance"`
	Currency string      `json:"currency"`
}

type Profile struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// TokenPair is the response of the token endpoints. User is only present
// when the API embeds the profile in the login response.
type TokenPair struct {
	Access  string   `json:"access"`
	Refresh string   `json:"refresh,omitempty"`
	User    *Profile `json:"user,omitempty"`
}

type Stand struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Event       int64  `json:"event"`
	IsActive    bool   `json:"is_active"`
}

type Product struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	Price         money.Loose `json:"price"`
	StockQuantity money.Loose `json:"stock_quantity"`
	Stand         int64       `json:"stand"`
}
