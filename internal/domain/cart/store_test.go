package cart

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/example/komodo-checkout/internal/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(id int64, name string, price any, stock any) Product {
	return Product{
		ID:            id,
		Name:          name,
		Price:         money.NewLoose(price),
		StockQuantity: money.NewLoose(stock),
	}
}

func strPtr(s string) *string { return &s }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ============================================
// Add Item Tests
// ============================================

func TestStore_AddItem_Example(t *testing.T) {
	store := NewStore(nil)

	store.AddItem(5, strPtr("Grill"), product(1, "Burger", "9.50", 3), 2)

	snap := store.Snapshot()
	require.NotNil(t, snap.StandID)
	assert.Equal(t, int64(5), *snap.StandID)
	assert.Equal(t, "Grill", *snap.StandName)
	assert.True(t, dec("19.00").Equal(snap.TotalAmount))
	assert.Equal(t, 2, snap.ItemCount)
	assert.False(t, snap.IsEmpty)
}

func TestStore_AddItem_DifferentStandReplacesCart(t *testing.T) {
	store := NewStore(nil)
	store.AddItem(5, strPtr("Grill"), product(1, "Burger", "9.50", 3), 2)
	store.AddItem(5, strPtr("Grill"), product(2, "Fries", "3.00", 10), 1)

	store.AddItem(7, strPtr("Bar"), product(9, "Lemonade", "4.00", 5), 1)

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, int64(9), items[0].ProductID)
	assert.Equal(t, int64(7), *store.StandID())
	assert.Equal(t, "Bar", *store.StandName())
	assert.True(t, dec("4.00").Equal(store.TotalAmount()))
}

func TestStore_AddItem_DifferentStandKeepsPreviousNameWhenMissing(t *testing.T) {
	store := NewStore(nil)
	store.AddItem(5, strPtr("Grill"), product(1, "Burger", "9.50", 3), 1)

	store.AddItem(7, nil, product(9, "Lemonade", "4.00", 5), 1)

	assert.Equal(t, int64(7), *store.StandID())
	assert.Equal(t, "Grill", *store.StandName())
}

func TestStore_AddItem_DefaultQuantity(t *testing.T) {
	store := NewStore(nil)

	store.Add(5, nil, product(1, "Burger", "9.50", 3))

	assert.Equal(t, 1, store.ItemCount())
}

func TestStore_AddItem_ExistingProductSumsAndRefreshesPrice(t *testing.T) {
	store := NewStore(nil)
	store.AddItem(5, nil, product(1, "Burger", "9.50", 10), 2)

	store.AddItem(5, nil, product(1, "Burger", "10.00", 10), 3)

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)
	assert.True(t, dec("10.00").Equal(items[0].UnitPrice))
	assert.True(t, dec("50.00").Equal(store.TotalAmount()))
}

func TestStore_AddItem_QuantityClamping(t *testing.T) {
	tests := []struct {
		name     string
		stock    any
		first    int
		second   int
		expected int
	}{
		{"new item within stock", 3, 2, 0, 2},
		{"new item above stock", 3, 5, 0, 3},
		{"new item unknown stock allows one", 0, 5, 0, 1},
		{"new item garbage stock allows one", "n/a", 5, 0, 1},
		{"merge clamps to stock", 3, 2, 4, 3},
		{"merge unknown stock adds one", 0, 1, 2000, 2},
		{"merge string stock", "4", 2, 9, 4},
		{"merge increment capped at stock", 10, 2, 50, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(nil)
			store.AddItem(1, nil, product(1, "P", "1.00", tt.stock), tt.first)
			if tt.second != 0 {
				store.AddItem(1, nil, product(1, "P", "1.00", tt.stock), tt.second)
			}

			items := store.Items()
			require.Len(t, items, 1)
			assert.Equal(t, tt.expected, items[0].Quantity)
		})
	}
}

func TestStore_AddItem_UnknownStockIncrementCappedAtOne(t *testing.T) {
	store := NewStore(nil)
	store.AddItem(5, nil, product(1, "Burger", "9.50", ""), 1)

	store.AddItem(5, nil, product(1, "Burger", "9.50", ""), 5)

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity, "each add grows an unknown-stock line by at most one")
}

func TestStore_AddItem_UnknownStockMergeCappedAt999(t *testing.T) {
	store := NewStore(nil)
	for i := 0; i < 1000; i++ {
		store.AddItem(5, nil, product(1, "Burger", "9.50", ""), 1)
	}

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 999, items[0].Quantity)
}

func TestStore_AddItem_NonPositiveQuantityNotAppended(t *testing.T) {
	store := NewStore(nil)

	store.AddItem(5, strPtr("Grill"), product(1, "Burger", "9.50", 3), 0)
	store.AddItem(5, strPtr("Grill"), product(2, "Fries", "2.00", 3), -3)
	store.AddItem(5, strPtr("Grill"), product(3, "Soda", "2.00", -1), 2)

	assert.True(t, store.IsEmpty())
	assert.Nil(t, store.StandID())
	assert.Nil(t, store.StandName())
}

func TestStore_AddItem_NegativeMergeRemovesItem(t *testing.T) {
	store := NewStore(nil)
	store.AddItem(5, strPtr("Grill"), product(1, "Burger", "9.50", 3), 2)

	store.AddItem(5, strPtr("Grill"), product(1, "Burger", "9.50", 3), -5)

	assert.True(t, store.IsEmpty())
	assert.Nil(t, store.StandID())
}

func TestStore_AddItem_MalformedPriceCoercedToZero(t *testing.T) {
	store := NewStore(nil)

	store.AddItem(5, nil, product(1, "Mystery", "free!", 3), 2)

	assert.Equal(t, 2, store.ItemCount())
	assert.True(t, store.TotalAmount().IsZero())
}

func TestStore_AddItem_NegativePriceCoercedToZero(t *testing.T) {
	store := NewStore(nil)

	store.AddItem(5, nil, product(1, "Refund", "-4.00", 3), 1)

	assert.True(t, store.TotalAmount().IsZero())
}

// ============================================
// Set Quantity Tests
// ============================================

func TestStore_SetQuantity(t *testing.T) {
	store := NewStore(nil)
	store.AddItem(5, nil, product(1, "Burger", "9.50", 10), 2)

	store.SetQuantity(1, 4)

	assert.Equal(t, 4, store.ItemCount())
	assert.True(t, dec("38.00").Equal(store.TotalAmount()))
}

func TestStore_SetQuantity_ClampedToStock(t *testing.T) {
	store := NewStore(nil)
	store.AddItem(5, nil, product(1, "Burger", "9.50", 3), 1)

	store.SetQuantity(1, 50)

	assert.Equal(t, 3, store.ItemCount())
}

func TestStore_SetQuantity_ZeroRemovesAndNormalizes(t *testing.T) {
	store := NewStore(nil)
	store.AddItem(5, strPtr("Grill"), product(1, "Burger", "9.50", 3), 1)

	store.SetQuantity(1, 0)

	assert.True(t, store.IsEmpty())
	assert.Nil(t, store.StandID())
	assert.Nil(t, store.StandName())
}

func TestStore_SetQuantity_UnknownProductIsNoop(t *testing.T) {
	store := NewStore(nil)
	store.AddItem(5, nil, product(1, "Burger", "9.50", 3), 1)
	before := store.Snapshot()

	store.SetQuantity(99, 5)

	assert.Equal(t, before, store.Snapshot())
}

// ============================================
// Remove / Clear Tests
// ============================================

func TestStore_RemoveItem(t *testing.T) {
	store := NewStore(nil)
	store.AddItem(5, strPtr("Grill"), product(1, "Burger", "9.50", 3), 1)
	store.AddItem(5, strPtr("Grill"), product(2, "Fries", "3.00", 3), 1)

	store.RemoveItem(1)

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, int64(2), items[0].ProductID)
	assert.Equal(t, int64(5), *store.StandID())

	store.RemoveItem(2)

	assert.True(t, store.IsEmpty())
	assert.Nil(t, store.StandID())
	assert.Nil(t, store.StandName())
}

func TestStore_Clear(t *testing.T) {
	store := NewStore(nil)
	store.AddItem(5, strPtr("Grill"), product(1, "Burger", "9.50", 3), 1)

	store.Clear()

	snap := store.Snapshot()
	assert.True(t, snap.IsEmpty)
	assert.Nil(t, snap.StandID)
	assert.Nil(t, snap.StandName)
	assert.Empty(t, snap.Items)
	assert.True(t, snap.TotalAmount.IsZero())
}

func TestStore_Clear_EmptyCart(t *testing.T) {
	store := NewStore(nil)

	store.Clear()

	assert.True(t, store.IsEmpty())
}

// ============================================
// Derived Value Tests
// ============================================

func TestStore_RoundTripTotal(t *testing.T) {
	single := NewStore(nil)
	single.AddItem(5, nil, product(1, "Burger", "9.50", 10), 2)

	roundTrip := NewStore(nil)
	roundTrip.AddItem(5, nil, product(1, "Burger", "9.50", 10), 2)
	roundTrip.RemoveItem(1)
	roundTrip.AddItem(5, nil, product(1, "Burger", "9.50", 10), 2)

	assert.True(t, single.TotalAmount().Equal(roundTrip.TotalAmount()))
}

func TestStore_InsertionOrderIsStable(t *testing.T) {
	store := NewStore(nil)
	for _, id := range []int64{3, 1, 2} {
		store.AddItem(5, nil, product(id, "P", "1.00", 10), 1)
	}
	store.AddItem(5, nil, product(1, "P", "1.00", 10), 1)

	items := store.Items()
	require.Len(t, items, 3)
	assert.Equal(t, []int64{3, 1, 2}, []int64{items[0].ProductID, items[1].ProductID, items[2].ProductID})
}

func TestStore_RevisionAdvancesOnMutation(t *testing.T) {
	store := NewStore(nil)
	r0 := store.Revision()

	store.AddItem(5, nil, product(1, "P", "1.00", 10), 1)
	r1 := store.Revision()
	store.SetQuantity(1, 3)
	r2 := store.Revision()

	assert.Greater(t, r1, r0)
	assert.Greater(t, r2, r1)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	store := NewStore(nil)
	store.AddItem(5, strPtr("Grill"), product(1, "Burger", "9.50", 3), 1)

	snap := store.Snapshot()
	snap.Items[0].Quantity = 99
	*snap.StandID = 42

	assert.Equal(t, 1, store.ItemCount())
	assert.Equal(t, int64(5), *store.StandID())
}

// TestStore_RandomSequences drives the store with random operations and
// checks the cart invariants after each step.
func TestStore_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 200; run++ {
		store := NewStore(nil)
		for step := 0; step < 40; step++ {
			prevStand := store.StandID()
			stand := int64(rng.Intn(3) + 1)
			pid := int64(rng.Intn(5) + 1)
			stock := rng.Intn(6) - 1

			switch rng.Intn(4) {
			case 0:
				store.AddItem(stand, nil, product(pid, "P", "2.50", stock), rng.Intn(6)-1)
				if prevStand != nil && *prevStand != stand && !store.IsEmpty() {
					assert.Equal(t, stand, *store.StandID())
					assert.Len(t, store.Items(), 1)
				}
			case 1:
				store.SetQuantity(pid, rng.Intn(8)-2)
			case 2:
				store.RemoveItem(pid)
			case 3:
				if rng.Intn(5) == 0 {
					store.Clear()
				}
			}

			snap := store.Snapshot()
			expected := decimal.Zero
			seen := map[int64]bool{}
			for _, item := range snap.Items {
				assert.Greater(t, item.Quantity, 0)
				assert.LessOrEqual(t, item.Quantity, item.MaxQuantity)
				assert.False(t, seen[item.ProductID], "duplicate product %d", item.ProductID)
				seen[item.ProductID] = true
				expected = expected.Add(item.Subtotal())
			}
			assert.True(t, expected.Equal(snap.TotalAmount))
			assert.False(t, snap.TotalAmount.IsNegative())
			assert.Equal(t, len(snap.Items) == 0, snap.StandID == nil)
			if snap.IsEmpty {
				assert.Nil(t, snap.StandName)
			}
		}
	}
}

func TestStore_ConcurrentMutations(t *testing.T) {
	store := NewStore(nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.AddItem(5, nil, product(1, "Burger", "1.00", 0), 1)
			_ = store.Snapshot()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, store.ItemCount())
}
