package cart

import (
	"sync"

	"github.com/example/komodo-checkout/internal/logging"
	"github.com/example/komodo-checkout/internal/money"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// DefaultQuantity is used when the caller does not say how many to add.
	DefaultQuantity = 1

	// Stock bounds used when a product reports zero or unparseable stock.
	unknownStockOnMerge = 999
	unknownStockOnNew   = 1
)

// Product is the catalogue view of a product at the moment it is added.
// Price and stock arrive as strings or numbers and are coerced leniently.
type Product struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name"`
	Price         money.Loose `json:"price"`
	StockQuantity money.Loose `json:"stock_quantity"`
}

type Item struct {
	ProductID   int64           `json:"product_id"`
	Name        string          `json:"name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	MaxQuantity int             `json:"max_quantity"` // upper bound for SetQuantity
}

// Subtotal is unit price times quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Snapshot is an immutable copy of the cart plus its derived values.
type Snapshot struct {
	StandID     *int64          `json:"stand_id"`
	StandName   *string         `json:"stand_name"`
	Items       []Item          `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ItemCount   int             `json:"item_count"`
	IsEmpty     bool            `json:"is_empty"`
	Revision    uint64          `json:"revision"`
}

// Store holds the single active cart of one session. All items belong to
// one stand. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	standID   *int64
	standName *string
	items     []Item
	revision  uint64
	logger    *zap.Logger
}

func NewStore(logger *zap.Logger) *Store {
	return &Store{
		items:  []Item{},
		logger: logging.OrNop(logger).Named("cart"),
	}
}

// Add adds DefaultQuantity of p.
func (s *Store) Add(standID int64, standName *string, p Product) {
	s.AddItem(standID, standName, p, DefaultQuantity)
}

// AddItem adds quantity of p to the cart of standID.
//
// A cart bound to another stand is replaced by a cart holding only p.
// The added amount is first capped at the product's stock (1 when the
// stock is unknown). An existing line has it summed, clamped to the stock
// (999 when unknown), and its unit price refreshed; a new line is
// appended.
func (s *Store) AddItem(standID int64, standName *string, p Product, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unitPrice := p.Price.Decimal
	if unitPrice.IsNegative() {
		unitPrice = decimal.Zero
	}
	stock := money.IntOrZero(p.StockQuantity.Decimal)
	mergeBound := stockBound(stock, unknownStockOnMerge)
	added := min(quantity, stockBound(stock, unknownStockOnNew))

	if standName == nil {
		standName = s.standName
	}

	if s.standID != nil && *s.standID != standID {
		s.logger.Info("cart replaced by product from another stand",
			zap.Int64("previous_stand_id", *s.standID),
			zap.Int64("stand_id", standID),
			zap.Int("discarded_items", len(s.items)),
		)
		s.items = []Item{}
	}

	if idx := s.indexOf(p.ID); idx >= 0 {
		item := s.items[idx]
		item.Quantity = clamp(item.Quantity+added, mergeBound)
		item.UnitPrice = unitPrice
		item.MaxQuantity = mergeBound
		s.items[idx] = item
		if item.Quantity == 0 {
			s.items = append(s.items[:idx], s.items[idx+1:]...)
		}
	} else if qty := clamp(added, mergeBound); qty > 0 {
		s.items = append(s.items, Item{
			ProductID:   p.ID,
			Name:        p.Name,
			UnitPrice:   unitPrice,
			Quantity:    qty,
			MaxQuantity: mergeBound,
		})
	}

	id := standID
	s.standID = &id
	s.standName = standName
	s.touch()
}

// SetQuantity sets the absolute quantity of an existing line. Values at or
// below zero remove the line. Unknown product ids are ignored.
func (s *Store) SetQuantity(productID int64, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(productID)
	if idx < 0 {
		return
	}

	qty := clamp(quantity, s.items[idx].MaxQuantity)
	if qty == 0 {
		s.items = append(s.items[:idx], s.items[idx+1:]...)
	} else {
		s.items[idx].Quantity = qty
	}
	s.touch()
}

// RemoveItem drops a line. Unknown product ids are ignored.
func (s *Store) RemoveItem(productID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(productID)
	if idx < 0 {
		return
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.touch()
}

// Clear empties the cart unconditionally.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = []Item{}
	s.touch()
}

func (s *Store) TotalAmount() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return total(s.items)
}

func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return count(s.items)
}

func (s *Store) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items) == 0
}

// Items returns a copy of the lines in insertion order.
func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Item{}, s.items...)
}

func (s *Store) StandID() *int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyPtr(s.standID)
}

func (s *Store) StandName() *string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyPtr(s.standName)
}

// Revision increments on every mutation.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Snapshot returns a consistent copy of the cart and its derived values.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		StandID:     copyPtr(s.standID),
		StandName:   copyPtr(s.standName),
		Items:       append([]Item{}, s.items...),
		TotalAmount: total(s.items),
		ItemCount:   count(s.items),
		IsEmpty:     len(s.items) == 0,
		Revision:    s.revision,
	}
}

// touch bumps the revision and resets the stand binding of an empty cart.
// Callers hold s.mu.
func (s *Store) touch() {
	if len(s.items) == 0 {
		s.standID = nil
		s.standName = nil
	}
	s.revision++
}

func (s *Store) indexOf(productID int64) int {
	for i, item := range s.items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

// stockBound mirrors the catalogue rule: zero or unknown stock falls back
// to the given default, negative stock allows nothing.
func stockBound(stock, fallback int) int {
	if stock == 0 {
		stock = fallback
	}
	if stock < 0 {
		return 0
	}
	return stock
}

func clamp(quantity, upper int) int {
	if quantity < 0 {
		return 0
	}
	if quantity > upper {
		return upper
	}
	return quantity
}

func total(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.Subtotal())
	}
	return sum
}

func count(items []Item) int {
	n := 0
	for _, item := range items {
		n += item.Quantity
	}
	return n
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
