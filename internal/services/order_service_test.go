package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/marketstock/internal/config"
	"github.com/javajoker/marketstock/internal/models"
	"github.com/javajoker/marketstock/internal/ordernum"
	"github.com/javajoker/marketstock/internal/policy"
	"github.com/javajoker/marketstock/internal/repository"
	"github.com/javajoker/marketstock/internal/resilience"
	"github.com/javajoker/marketstock/internal/utils"
)

func TestSubmitOrderPlacesOrderAndSellsStock(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s, b := seller(), buyer()
	a := f.product(t, s, "10.00", 5)
	c := f.product(t, s, "2.50", 8)

	result, err := f.orders.SubmitOrder(context.Background(), b, &SubmitOrderRequest{
		BuyerID:  b.ID,
		SellerID: s.ID,
		Items:    []OrderItemRequest{line(a, 2), line(c, 3)},
	})
	require.NoError(t, err)
	require.Empty(t, result.Warnings)

	order := result.Order
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.True(t, decimal.RequireFromString("27.50").Equal(order.TotalAmount), "total %s", order.TotalAmount)
	require.Len(t, order.Items, 2)
	assert.Equal(t, a.ID, order.Items[0].ProductID)
	assert.Equal(t, c.ID, order.Items[1].ProductID)
	assert.True(t, models.SumItems(order.Items).Equal(order.TotalAmount))

	_, _, err = ordernum.Parse(order.OrderNumber)
	assert.NoError(t, err)

	assert.Equal(t, 3, f.stock(t, a.ID))
	assert.Equal(t, 5, f.stock(t, c.ID))

	sales := f.sales(t, a.ID)
	require.Len(t, sales, 1)
	assert.Equal(t, 2, sales[0].Quantity)
	assert.Equal(t, 5, sales[0].PreviousStock)
	assert.Equal(t, 3, sales[0].NewStock)
	assert.Equal(t, order.OrderNumber, sales[0].Reference)
	require.NotNil(t, sales[0].CreatedBy)
	assert.Equal(t, b.ID, *sales[0].CreatedBy)
}

func TestSubmitOrderDefaultsBuyerToCaller(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s, b := seller(), buyer()
	p := f.product(t, s, "1.00", 1)

	result, err := f.orders.SubmitOrder(context.Background(), b, &SubmitOrderRequest{
		SellerID: s.ID,
		Items:    []OrderItemRequest{line(p, 1)},
	})
	require.NoError(t, err)
	assert.Equal(t, b.ID, result.Order.BuyerID)
}

func TestSubmitOrderRejectsInsufficientStockWithoutWrites(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s, b := seller(), buyer()
	a := f.product(t, s, "10.00", 5)
	c := f.product(t, s, "4.00", 1)

	_, err := f.orders.SubmitOrder(context.Background(), b, &SubmitOrderRequest{
		BuyerID:  b.ID,
		SellerID: s.ID,
		Items:    []OrderItemRequest{line(a, 2), line(c, 2)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, c.ID, stockErr.ProductID)
	assert.Equal(t, 2, stockErr.Requested)
	assert.Equal(t, 1, stockErr.Available)

	assert.Equal(t, 5, f.stock(t, a.ID))
	assert.Equal(t, 1, f.stock(t, c.ID))
	assert.Empty(t, f.sales(t, a.ID))

	orders, total, err := f.repo.ListOrders(context.Background(), repository.OrderFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, orders)
}

func TestSubmitOrderValidation(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s, b := seller(), buyer()
	p := f.product(t, s, "3.00", 10)

	tests := []struct {
		name  string
		items []OrderItemRequest
	}{
		{"no items", nil},
		{"zero quantity", []OrderItemRequest{{ProductID: p.ID, Quantity: 0}}},
		{"negative quantity", []OrderItemRequest{{ProductID: p.ID, Quantity: -1}}},
		{"duplicate product", []OrderItemRequest{line(p, 1), line(p, 2)}},
		{"negative price", []OrderItemRequest{{ProductID: p.ID, Quantity: 1, UnitPrice: decimal.NewFromInt(-1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orders.SubmitOrder(context.Background(), b, &SubmitOrderRequest{
				BuyerID:  b.ID,
				SellerID: s.ID,
				Items:    tt.items,
			})
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Equal(t, 10, f.stock(t, p.ID))
}

func TestSubmitOrderEnforcesAccess(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s, b := seller(), buyer()
	p := f.product(t, s, "3.00", 10)

	t.Run("buyer id must match caller", func(t *testing.T) {
		_, err := f.orders.SubmitOrder(context.Background(), b, &SubmitOrderRequest{
			BuyerID:  uuid.New(),
			SellerID: s.ID,
			Items:    []OrderItemRequest{line(p, 1)},
		})
		assert.ErrorIs(t, err, policy.ErrAccessDenied)
	})

	t.Run("sellers cannot place orders", func(t *testing.T) {
		_, err := f.orders.SubmitOrder(context.Background(), s, &SubmitOrderRequest{
			SellerID: s.ID,
			Items:    []OrderItemRequest{line(p, 1)},
		})
		assert.ErrorIs(t, err, policy.ErrAccessDenied)
	})

	t.Run("product must belong to seller", func(t *testing.T) {
		_, err := f.orders.SubmitOrder(context.Background(), b, &SubmitOrderRequest{
			SellerID: uuid.New(),
			Items:    []OrderItemRequest{line(p, 1)},
		})
		assert.ErrorIs(t, err, ErrValidation)
	})

	assert.Equal(t, 10, f.stock(t, p.ID))
}

func TestSubmitOrderProductChecks(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s, b := seller(), buyer()
	p := f.product(t, s, "3.00", 10)

	t.Run("unknown product", func(t *testing.T) {
		_, err := f.orders.SubmitOrder(context.Background(), b, &SubmitOrderRequest{
			SellerID: s.ID,
			Items:    []OrderItemRequest{{ProductID: uuid.New(), Quantity: 1}},
		})
		var nf *NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "product", nf.Resource)
	})

	t.Run("stale price", func(t *testing.T) {
		_, err := f.orders.SubmitOrder(context.Background(), b, &SubmitOrderRequest{
			SellerID: s.ID,
			Items:    []OrderItemRequest{{ProductID: p.ID, Quantity: 1, UnitPrice: decimal.RequireFromString("2.99")}},
		})
		var pc *PriceChangedError
		require.ErrorAs(t, err, &pc)
		assert.True(t, pc.Current.Equal(p.Price))
	})

	t.Run("matching price", func(t *testing.T) {
		_, err := f.orders.SubmitOrder(context.Background(), b, &SubmitOrderRequest{
			SellerID: s.ID,
			Items:    []OrderItemRequest{{ProductID: p.ID, Quantity: 1, UnitPrice: decimal.RequireFromString("3.00")}},
		})
		assert.NoError(t, err)
	})

	t.Run("inactive product", func(t *testing.T) {
		off := false
		_, err := f.products.UpdateProduct(context.Background(), s, p.ID, &UpdateProductRequest{IsActive: &off})
		require.NoError(t, err)

		_, err = f.orders.SubmitOrder(context.Background(), b, &SubmitOrderRequest{
			SellerID: s.ID,
			Items:    []OrderItemRequest{line(p, 1)},
		})
		var stockErr *InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		assert.True(t, stockErr.Inactive)
	})
}

func TestConcurrentSubmissionsNeverOversell(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s := seller()
	p := f.product(t, s, "5.00", 5)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := buyer()
			_, errs[i] = f.orders.SubmitOrder(context.Background(), b, &SubmitOrderRequest{
				SellerID: s.ID,
				Items:    []OrderItemRequest{line(p, 3)},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInsufficientStock)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, f.stock(t, p.ID))
	assert.Len(t, f.sales(t, p.ID), 1)
}

func TestConcurrentSubmissionsManyBuyers(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s := seller()
	p := f.product(t, s, "1.00", 20)

	var wg sync.WaitGroup
	var mu sync.Mutex
	numbers := make(map[string]bool)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.orders.SubmitOrder(context.Background(), buyer(), &SubmitOrderRequest{
				SellerID: s.ID,
				Items:    []OrderItemRequest{line(p, 1)},
			})
			if err != nil {
				return
			}
			mu.Lock()
			numbers[result.Order.OrderNumber] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, numbers, 20)
	assert.Equal(t, 0, f.stock(t, p.ID))
}

func TestSubmitOrderRetriesCollisions(t *testing.T) {
	gen := &fixedGenerator{number: "ORD-2024-01-01-00-00-00-000001-0001"}
	f := newFixtureWithGenerator(t, config.StockModeAtomic, gen)
	s := seller()
	p := f.product(t, s, "1.00", 10)

	_, err := f.orders.SubmitOrder(context.Background(), buyer(), &SubmitOrderRequest{
		SellerID: s.ID,
		Items:    []OrderItemRequest{line(p, 1)},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, gen.calls.Load())

	_, err = f.orders.SubmitOrder(context.Background(), buyer(), &SubmitOrderRequest{
		SellerID: s.ID,
		Items:    []OrderItemRequest{line(p, 1)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCollision)
	assert.ErrorIs(t, err, resilience.ErrMaxRetriesExceeded)

	var exhausted *resilience.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.EqualValues(t, 4, gen.calls.Load())

	assert.Equal(t, 9, f.stock(t, p.ID))
	assert.Len(t, f.sales(t, p.ID), 1)
}

// sequenceGenerator replays numbers, then falls through to a real generator.
type sequenceGenerator struct {
	mu      sync.Mutex
	numbers []string
	next    ordernum.Generator
}

func (g *sequenceGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.numbers) == 0 {
		return g.next.Next()
	}
	n := g.numbers[0]
	g.numbers = g.numbers[1:]
	return n
}

func TestSubmitOrderRecoversFromCollision(t *testing.T) {
	taken := "ORD-2024-01-01-00-00-00-000001-0001"
	gen := &sequenceGenerator{numbers: []string{taken, taken, taken}, next: ordernum.NewGenerator()}
	f := newFixtureWithGenerator(t, config.StockModeAtomic, gen)
	s := seller()
	p := f.product(t, s, "1.00", 10)

	first, err := f.orders.SubmitOrder(context.Background(), buyer(), &SubmitOrderRequest{
		SellerID: s.ID,
		Items:    []OrderItemRequest{line(p, 1)},
	})
	require.NoError(t, err)
	assert.Equal(t, taken, first.Order.OrderNumber)

	second, err := f.orders.SubmitOrder(context.Background(), buyer(), &SubmitOrderRequest{
		SellerID: s.ID,
		Items:    []OrderItemRequest{line(p, 2)},
	})
	require.NoError(t, err)
	assert.NotEqual(t, taken, second.Order.OrderNumber)
	assert.Equal(t, 7, f.stock(t, p.ID))
}

type fakeReserver struct {
	mu       sync.Mutex
	taken    map[string]bool
	released []string
	err      error
}

func (r *fakeReserver) Reserve(ctx context.Context, number string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if r.taken[number] {
		return false, nil
	}
	r.taken[number] = true
	return true, nil
}

func (r *fakeReserver) Release(ctx context.Context, number string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.taken, number)
	r.released = append(r.released, number)
	return nil
}

func TestSubmitOrderWithReserver(t *testing.T) {
	taken := "ORD-2024-01-01-00-00-00-000001-0001"
	reserver := &fakeReserver{taken: map[string]bool{taken: true}}
	gen := &sequenceGenerator{numbers: []string{taken}, next: ordernum.NewGenerator()}
	f := newFixtureWithGenerator(t, config.StockModeAtomic, gen, WithNumberReserver(reserver))
	s, b := seller(), buyer()
	p := f.product(t, s, "1.00", 5)

	result, err := f.orders.SubmitOrder(context.Background(), b, &SubmitOrderRequest{
		SellerID: s.ID,
		Items:    []OrderItemRequest{line(p, 1)},
	})
	require.NoError(t, err)
	assert.NotEqual(t, taken, result.Order.OrderNumber)
	assert.True(t, reserver.taken[result.Order.OrderNumber])

	// A submission that fails after the header was written hands its number back.
	f.repo.SetStockHook(func(uuid.UUID) error { return errors.New("disk full") })
	defer f.repo.SetStockHook(nil)
	_, err = f.orders.SubmitOrder(context.Background(), b, &SubmitOrderRequest{
		SellerID: s.ID,
		Items:    []OrderItemRequest{line(p, 1)},
	})
	require.Error(t, err)
	require.Len(t, reserver.released, 1)
	assert.False(t, reserver.taken[reserver.released[0]])
}

func TestSubmitOrderReserverOutageFallsBackToIndex(t *testing.T) {
	reserver := &fakeReserver{err: errors.New("connection refused")}
	f := newFixture(t, config.StockModeAtomic, WithNumberReserver(reserver))
	s := seller()
	p := f.product(t, s, "1.00", 1)

	_, err := f.orders.SubmitOrder(context.Background(), buyer(), &SubmitOrderRequest{
		SellerID: s.ID,
		Items:    []OrderItemRequest{line(p, 1)},
	})
	assert.NoError(t, err)
}

func TestSubmitOrderReleasesReservationOnIndexCollision(t *testing.T) {
	gen := &fixedGenerator{number: "ORD-2024-01-01-00-00-00-000001-0001"}
	f := newFixtureWithGenerator(t, config.StockModeAtomic, gen)
	s := seller()
	p := f.product(t, s, "1.00", 10)
	placeOrder(t, f, buyer(), s, line(p, 1))

	// A second process whose reservation store never saw the first number.
	reserver := &fakeReserver{taken: map[string]bool{}}
	other := NewOrderService(f.repo, f.inventory, gen, f.cfg, quietLogger(), WithNumberReserver(reserver))

	_, err := other.SubmitOrder(context.Background(), buyer(), &SubmitOrderRequest{
		SellerID: s.ID,
		Items:    []OrderItemRequest{line(p, 1)},
	})
	require.ErrorIs(t, err, resilience.ErrMaxRetriesExceeded)
	assert.Len(t, reserver.released, f.cfg.RetryMaxAttempts)
	assert.Empty(t, reserver.taken)
	assert.Equal(t, 9, f.stock(t, p.ID))
}

func TestSubmitOrderAtomicModeRollsBackOnStockFailure(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s, b := seller(), buyer()
	a := f.product(t, s, "1.00", 5)
	c := f.product(t, s, "2.00", 5)

	f.repo.SetStockHook(func(id uuid.UUID) error {
		if id == c.ID {
			return errors.New("disk full")
		}
		return nil
	})
	defer f.repo.SetStockHook(nil)

	_, err := f.orders.SubmitOrder(context.Background(), b, &SubmitOrderRequest{
		SellerID: s.ID,
		Items:    []OrderItemRequest{line(a, 1), line(c, 1)},
	})
	require.Error(t, err)

	assert.Equal(t, 5, f.stock(t, a.ID))
	assert.Empty(t, f.sales(t, a.ID))
	_, total, err := f.repo.ListOrders(context.Background(), repository.OrderFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSubmitOrderBestEffortModeKeepsOrderWithWarnings(t *testing.T) {
	f := newFixture(t, config.StockModeBestEffort)
	s, b := seller(), buyer()
	a := f.product(t, s, "1.00", 5)
	c := f.product(t, s, "2.00", 5)

	f.repo.SetStockHook(func(id uuid.UUID) error {
		if id == c.ID {
			return errors.New("disk full")
		}
		return nil
	})

	result, err := f.orders.SubmitOrder(context.Background(), b, &SubmitOrderRequest{
		SellerID: s.ID,
		Items:    []OrderItemRequest{line(a, 1), line(c, 2)},
	})
	f.repo.SetStockHook(nil)
	require.NoError(t, err)

	require.Len(t, result.Warnings, 1)
	w := result.Warnings[0]
	assert.Equal(t, c.ID, w.ProductID)
	assert.Equal(t, 2, w.Quantity)
	assert.Equal(t, result.Order.OrderNumber, w.OrderNumber)
	assert.Contains(t, w.Error(), "disk full")

	// The order and both lines persist; only the second movement is missing.
	require.Len(t, result.Order.Items, 2)
	assert.True(t, decimal.RequireFromString("5.00").Equal(result.Order.TotalAmount))
	assert.Equal(t, 4, f.stock(t, a.ID))
	assert.Equal(t, 5, f.stock(t, c.ID))
	assert.Empty(t, f.sales(t, c.ID))
}

func TestRecomputeTotalMatchesItems(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s, b := seller(), buyer()
	p := f.product(t, s, "4.25", 10)

	result, err := f.orders.SubmitOrder(context.Background(), b, &SubmitOrderRequest{
		SellerID: s.ID,
		Items:    []OrderItemRequest{line(p, 4)},
	})
	require.NoError(t, err)

	require.NoError(t, f.repo.SetOrderTotal(context.Background(), result.Order.ID, decimal.Zero))
	total, err := f.orders.RecomputeTotal(context.Background(), nil, result.Order.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("17.00").Equal(total))

	_, err = f.orders.RecomputeTotal(context.Background(), nil, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPriceChangesDoNotTouchPlacedOrders(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s, b := seller(), buyer()
	p := f.product(t, s, "10.00", 10)

	result, err := f.orders.SubmitOrder(context.Background(), b, &SubmitOrderRequest{
		SellerID: s.ID,
		Items:    []OrderItemRequest{line(p, 2)},
	})
	require.NoError(t, err)

	price := decimal.RequireFromString("12.00")
	_, err = f.products.UpdateProduct(context.Background(), s, p.ID, &UpdateProductRequest{Price: &price})
	require.NoError(t, err)

	order, err := f.orders.GetOrder(context.Background(), b, result.Order.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10.00").Equal(order.Items[0].UnitPrice))
	assert.True(t, decimal.RequireFromString("20.00").Equal(order.TotalAmount))

	// Quantity changes keep the captured price.
	order, err = f.orders.UpdateItemQuantity(context.Background(), s, order.ID, order.Items[0].ID, &UpdateItemQuantityRequest{Quantity: 3})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("30.00").Equal(order.TotalAmount))
}

func TestCheckoutSplitsBySeller(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s1, s2, b := seller(), seller(), buyer()
	a := f.product(t, s1, "1.00", 5)
	c := f.product(t, s2, "2.00", 5)
	d := f.product(t, s1, "3.00", 5)

	result, err := f.orders.Checkout(context.Background(), b, &CheckoutRequest{
		ShippingAddress: "1 Main St",
		Items:           []OrderItemRequest{line(a, 1), line(c, 2), line(d, 1)},
	})
	require.NoError(t, err)
	require.Len(t, result.Orders, 2)

	first, second := result.Orders[0].Order, result.Orders[1].Order
	assert.Equal(t, s1.ID, first.SellerID)
	assert.Equal(t, s2.ID, second.SellerID)
	assert.Len(t, first.Items, 2)
	assert.Len(t, second.Items, 1)
	assert.True(t, decimal.RequireFromString("4.00").Equal(first.TotalAmount))
	assert.True(t, decimal.RequireFromString("4.00").Equal(second.TotalAmount))
	assert.Equal(t, "1 Main St", second.ShippingAddress)
	assert.NotEqual(t, first.OrderNumber, second.OrderNumber)
}

func TestCheckoutKeepsEarlierOrdersOnFailure(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s1, s2, b := seller(), seller(), buyer()
	a := f.product(t, s1, "1.00", 5)
	c := f.product(t, s2, "2.00", 1)

	result, err := f.orders.Checkout(context.Background(), b, &CheckoutRequest{
		Items: []OrderItemRequest{line(a, 1), line(c, 2)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	var checkoutErr *CheckoutError
	require.ErrorAs(t, err, &checkoutErr)
	require.Len(t, checkoutErr.Created, 1)
	assert.Equal(t, s1.ID, checkoutErr.Created[0].Order.SellerID)
	assert.Len(t, result.Orders, 1)
	assert.Equal(t, 4, f.stock(t, a.ID))
	assert.Equal(t, 1, f.stock(t, c.ID))
}

func TestCheckoutHonoursCancellation(t *testing.T) {
	log := quietLogger()
	repo := repository.NewMemory()
	inventory := NewInventoryService(repo, log)
	cfg := testOrdersConfig(config.StockModeAtomic)
	cfg.CheckoutSpacingMs = 10_000
	orders := NewOrderService(repo, inventory, ordernum.NewGenerator(), cfg, log)
	products := NewProductService(repo, inventory, log)

	s1, s2, b := seller(), seller(), buyer()
	a, err := products.CreateProduct(context.Background(), s1, &CreateProductRequest{Name: "A1", Price: decimal.NewFromInt(1), InitialStock: 1})
	require.NoError(t, err)
	c, err := products.CreateProduct(context.Background(), s2, &CreateProductRequest{Name: "C1", Price: decimal.NewFromInt(1), InitialStock: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = orders.Checkout(ctx, b, &CheckoutRequest{Items: []OrderItemRequest{line(a, 1), line(c, 1)}})

	var checkoutErr *CheckoutError
	require.ErrorAs(t, err, &checkoutErr)
	assert.Len(t, checkoutErr.Created, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func placeOrder(t *testing.T, f *fixture, b, s policy.Caller, items ...OrderItemRequest) *models.Order {
	t.Helper()
	result, err := f.orders.SubmitOrder(context.Background(), b, &SubmitOrderRequest{
		SellerID: s.ID,
		Items:    items,
	})
	require.NoError(t, err)
	return result.Order
}

func TestUpdateOrderStatusLifecycle(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s, b := seller(), buyer()
	p := f.product(t, s, "1.00", 5)
	order := placeOrder(t, f, b, s, line(p, 2))

	ctx := context.Background()
	updated, err := f.orders.UpdateOrderStatus(ctx, s, order.ID, &UpdateOrderStatusRequest{Status: "CONFIRMED"})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, updated.Status)
	assert.NotNil(t, updated.ConfirmedAt)

	_, err = f.orders.UpdateOrderStatus(ctx, b, order.ID, &UpdateOrderStatusRequest{Status: "shipped"})
	assert.ErrorIs(t, err, policy.ErrAccessDenied)

	updated, err = f.orders.UpdateOrderStatus(ctx, s, order.ID, &UpdateOrderStatusRequest{Status: "shipped"})
	require.NoError(t, err)
	assert.NotNil(t, updated.ShippedAt)

	_, err = f.orders.UpdateOrderStatus(ctx, s, order.ID, &UpdateOrderStatusRequest{Status: "cancelled"})
	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, models.OrderStatusShipped, transition.From)

	_, err = f.orders.UpdateOrderStatus(ctx, s, order.ID, &UpdateOrderStatusRequest{Status: "lost"})
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, 3, f.stock(t, p.ID))
}

func TestUpdateOrderStatusRejectsPendingTarget(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s, b := seller(), buyer()
	p := f.product(t, s, "1.00", 5)
	order := placeOrder(t, f, b, s, line(p, 1))

	for _, status := range []string{"pending", "PENDING"} {
		_, err := f.orders.UpdateOrderStatus(context.Background(), s, order.ID, &UpdateOrderStatusRequest{Status: status})
		assert.ErrorIs(t, err, ErrValidation, status)
	}
}

func TestUpdateOrderStatusByAnotherSeller(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	owner, rival, b := seller(), seller(), buyer()
	p := f.product(t, owner, "1.00", 5)
	order := placeOrder(t, f, b, owner, line(p, 1))

	_, err := f.orders.UpdateOrderStatus(context.Background(), rival, order.ID, &UpdateOrderStatusRequest{Status: "shipped"})
	assert.ErrorIs(t, err, policy.ErrAccessDenied)

	stored, err := f.repo.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
	assert.Nil(t, stored.ShippedAt)
}

// staleStockRepo serves product reads from an outdated snapshot, as if
// another buyer took the stock between the pre-check and the write.
type staleStockRepo struct {
	*repository.Memory
	reported int
}

func (r *staleStockRepo) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	rows, err := r.Memory.GetProductsByIDs(ctx, ids)
	for i := range rows {
		rows[i].StockQuantity = r.reported
	}
	return rows, err
}

func TestSubmitOrderBestEffortSurfacesStockRace(t *testing.T) {
	f := newFixture(t, config.StockModeBestEffort)
	s := seller()
	p := f.product(t, s, "1.00", 2)
	orders := NewOrderService(&staleStockRepo{Memory: f.repo, reported: 100}, f.inventory, ordernum.NewGenerator(), f.cfg, quietLogger())

	result, err := orders.SubmitOrder(context.Background(), buyer(), &SubmitOrderRequest{
		SellerID: s.ID,
		Items:    []OrderItemRequest{line(p, 5)},
	})
	assert.Nil(t, result)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	assert.Equal(t, 2, f.stock(t, p.ID))
	assert.Empty(t, f.sales(t, p.ID))
	_, total, err := f.repo.ListOrders(context.Background(), repository.OrderFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCancelOrderRestocks(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s, b := seller(), buyer()
	a := f.product(t, s, "1.00", 5)
	c := f.product(t, s, "1.00", 5)
	order := placeOrder(t, f, b, s, line(a, 2), line(c, 5))
	require.Equal(t, 0, f.stock(t, c.ID))

	updated, err := f.orders.UpdateOrderStatus(context.Background(), s, order.ID, &UpdateOrderStatusRequest{Status: "cancelled"})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, updated.Status)
	assert.NotNil(t, updated.CancelledAt)

	assert.Equal(t, 5, f.stock(t, a.ID))
	assert.Equal(t, 5, f.stock(t, c.ID))

	returns, _, err := f.repo.ListInventoryTransactions(context.Background(), repository.InventoryFilter{
		ProductID: c.ID,
		Reference: order.OrderNumber,
	})
	require.NoError(t, err)
	require.Len(t, returns, 2)

	_, err = f.orders.UpdateOrderStatus(context.Background(), s, order.ID, &UpdateOrderStatusRequest{Status: "cancelled"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 5, f.stock(t, c.ID))
}

func TestCancelBestEffortOrderOnlyReturnsWhatWasSold(t *testing.T) {
	f := newFixture(t, config.StockModeBestEffort)
	s, b := seller(), buyer()
	a := f.product(t, s, "1.00", 5)
	c := f.product(t, s, "1.00", 5)

	f.repo.SetStockHook(func(id uuid.UUID) error {
		if id == c.ID {
			return errors.New("timeout")
		}
		return nil
	})
	order := placeOrder(t, f, b, s, line(a, 2), line(c, 2))
	f.repo.SetStockHook(nil)

	_, err := f.orders.UpdateOrderStatus(context.Background(), s, order.ID, &UpdateOrderStatusRequest{Status: "cancelled"})
	require.NoError(t, err)
	assert.Equal(t, 5, f.stock(t, a.ID))
	assert.Equal(t, 5, f.stock(t, c.ID))
}

func TestAmendPendingOrder(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s, b := seller(), buyer()
	a := f.product(t, s, "2.00", 10)
	c := f.product(t, s, "5.00", 3)
	ctx := context.Background()
	order := placeOrder(t, f, b, s, line(a, 2))

	t.Run("add item", func(t *testing.T) {
		updated, err := f.orders.AddItem(ctx, s, order.ID, &OrderItemRequest{ProductID: c.ID, Quantity: 2})
		require.NoError(t, err)
		require.Len(t, updated.Items, 2)
		assert.True(t, decimal.RequireFromString("14.00").Equal(updated.TotalAmount))
		assert.Equal(t, 1, f.stock(t, c.ID))
	})

	t.Run("add duplicate product", func(t *testing.T) {
		_, err := f.orders.AddItem(ctx, s, order.ID, &OrderItemRequest{ProductID: a.ID, Quantity: 1})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("raise quantity beyond stock", func(t *testing.T) {
		current, err := f.orders.GetOrder(ctx, s, order.ID)
		require.NoError(t, err)
		_, err = f.orders.UpdateItemQuantity(ctx, s, order.ID, current.Items[1].ID, &UpdateItemQuantityRequest{Quantity: 4})
		assert.ErrorIs(t, err, ErrInsufficientStock)
		assert.Equal(t, 1, f.stock(t, c.ID))
	})

	t.Run("lower quantity returns stock", func(t *testing.T) {
		current, err := f.orders.GetOrder(ctx, s, order.ID)
		require.NoError(t, err)
		updated, err := f.orders.UpdateItemQuantity(ctx, s, order.ID, current.Items[0].ID, &UpdateItemQuantityRequest{Quantity: 1})
		require.NoError(t, err)
		assert.Equal(t, 9, f.stock(t, a.ID))
		assert.True(t, decimal.RequireFromString("12.00").Equal(updated.TotalAmount))
	})

	t.Run("remove item returns stock", func(t *testing.T) {
		current, err := f.orders.GetOrder(ctx, s, order.ID)
		require.NoError(t, err)
		updated, err := f.orders.RemoveItem(ctx, s, order.ID, current.Items[1].ID)
		require.NoError(t, err)
		require.Len(t, updated.Items, 1)
		assert.Equal(t, 3, f.stock(t, c.ID))
		assert.True(t, decimal.RequireFromString("2.00").Equal(updated.TotalAmount))
	})

	t.Run("last item stays", func(t *testing.T) {
		current, err := f.orders.GetOrder(ctx, s, order.ID)
		require.NoError(t, err)
		_, err = f.orders.RemoveItem(ctx, s, order.ID, current.Items[0].ID)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unknown item", func(t *testing.T) {
		_, err := f.orders.RemoveItem(ctx, s, order.ID, uuid.New())
		var nf *NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "order_item", nf.Resource)
	})

	t.Run("buyer cannot amend", func(t *testing.T) {
		_, err := f.orders.AddItem(ctx, b, order.ID, &OrderItemRequest{ProductID: c.ID, Quantity: 1})
		assert.ErrorIs(t, err, policy.ErrAccessDenied)
	})

	t.Run("confirmed orders are frozen", func(t *testing.T) {
		_, err := f.orders.UpdateOrderStatus(ctx, s, order.ID, &UpdateOrderStatusRequest{Status: "confirmed"})
		require.NoError(t, err)
		_, err = f.orders.AddItem(ctx, s, order.ID, &OrderItemRequest{ProductID: c.ID, Quantity: 1})
		assert.ErrorIs(t, err, ErrOrderNotPending)
	})

	final, err := f.orders.GetOrder(ctx, b, order.ID)
	require.NoError(t, err)
	assert.True(t, models.SumItems(final.Items).Equal(final.TotalAmount))
}

func TestGetOrderAccess(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s, b := seller(), buyer()
	p := f.product(t, s, "1.00", 5)
	order := placeOrder(t, f, b, s, line(p, 1))
	ctx := context.Background()

	_, err := f.orders.GetOrder(ctx, b, order.ID)
	assert.NoError(t, err)
	_, err = f.orders.GetOrder(ctx, s, order.ID)
	assert.NoError(t, err)
	_, err = f.orders.GetOrder(ctx, buyer(), order.ID)
	assert.ErrorIs(t, err, policy.ErrAccessDenied)
	_, err = f.orders.GetOrder(ctx, seller(), order.ID)
	assert.ErrorIs(t, err, policy.ErrAccessDenied)
	_, err = f.orders.GetOrder(ctx, b, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	byNumber, err := f.orders.GetOrderByNumber(ctx, b, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, order.ID, byNumber.ID)
	_, err = f.orders.GetOrderByNumber(ctx, b, "nope")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.orders.GetOrderByNumber(ctx, b, "ORD-2020-01-01-00-00-00-000000-0000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrdersScopesByRole(t *testing.T) {
	f := newFixture(t, config.StockModeAtomic)
	s1, s2, b1, b2 := seller(), seller(), buyer(), buyer()
	p1 := f.product(t, s1, "1.00", 10)
	p2 := f.product(t, s2, "1.00", 10)
	placeOrder(t, f, b1, s1, line(p1, 1))
	placeOrder(t, f, b1, s2, line(p2, 1))
	placeOrder(t, f, b2, s1, line(p1, 1))

	params := utils.PaginationParams{Page: 1, Limit: 10}
	ctx := context.Background()

	got, err := f.orders.ListOrders(ctx, b1, params, "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Total)

	got, err = f.orders.ListOrders(ctx, s1, params, "pending")
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Total)

	got, err = f.orders.ListOrders(ctx, s2, params, "shipped")
	require.NoError(t, err)
	assert.EqualValues(t, 0, got.Total)

	_, err = f.orders.ListOrders(ctx, s1, params, "bogus")
	assert.ErrorIs(t, err, ErrValidation)
}
