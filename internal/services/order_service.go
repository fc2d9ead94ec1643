// internal/services/order_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/javajoker/marketstock/internal/config"
	"github.com/javajoker/marketstock/internal/models"
	"github.com/javajoker/marketstock/internal/ordernum"
	"github.com/javajoker/marketstock/internal/policy"
	"github.com/javajoker/marketstock/internal/repository"
	"github.com/javajoker/marketstock/internal/resilience"
	"github.com/javajoker/marketstock/internal/telemetry"
	"github.com/javajoker/marketstock/internal/utils"
)

// NumberReserver claims an order number across processes ahead of the insert.
type NumberReserver interface {
	Reserve(ctx context.Context, number string) (bool, error)
	Release(ctx context.Context, number string) error
}

type OrderService struct {
	repo      repository.Repository
	inventory *InventoryService
	numbers   ordernum.Generator
	reserver  NumberReserver
	cfg       config.OrdersConfig
	log       *logrus.Logger
	tracer    trace.Tracer
	metrics   orderMetrics
	now       func() time.Time
}

type OrderOption func(*OrderService)

func WithNumberReserver(r NumberReserver) OrderOption {
	return func(s *OrderService) { s.reserver = r }
}

func WithOrderClock(now func() time.Time) OrderOption {
	return func(s *OrderService) { s.now = now }
}

type OrderItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
	// Zero means "whatever the product costs now".
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type SubmitOrderRequest struct {
	BuyerID         uuid.UUID          `json:"-"`
	SellerID        uuid.UUID          `json:"seller_id" validate:"required"`
	ShippingAddress string             `json:"buyer_shipping_address" validate:"max=1000"`
	Notes           string             `json:"notes" validate:"max=2000"`
	Items           []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type CheckoutRequest struct {
	ShippingAddress string             `json:"buyer_shipping_address" validate:"max=1000"`
	Notes           string             `json:"notes" validate:"max=2000"`
	Items           []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,status_target"`
}

type UpdateItemQuantityRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

type OrderResult struct {
	Order    *models.Order               `json:"order"`
	Warnings []PartialApplicationWarning `json:"warnings,omitempty"`
}

type CheckoutResult struct {
	Orders []*OrderResult `json:"orders"`
}

// CheckoutError carries the orders committed before a multi-seller checkout stopped.
type CheckoutError struct {
	Created []*OrderResult
	Err     error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("checkout stopped after %d order(s): %v", len(e.Created), e.Err)
}

func (e *CheckoutError) Unwrap() error { return e.Err }

type orderMetrics struct {
	placed          metric.Int64Counter
	collisions      metric.Int64Counter
	stockRejections metric.Int64Counter
	partial         metric.Int64Counter
}

func newOrderMetrics(meter metric.Meter) orderMetrics {
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			return noop.Int64Counter{}
		}
		return c
	}
	return orderMetrics{
		placed:          counter("orders.placed", "Orders committed"),
		collisions:      counter("orders.number_collisions", "Order number collisions seen before insert succeeded"),
		stockRejections: counter("orders.stock_rejections", "Submissions rejected for insufficient stock"),
		partial:         counter("orders.partial_applications", "Stock movements skipped in best-effort mode"),
	}
}

// pricedLine is one validated request item with its product and snapshot price.
type pricedLine struct {
	product   *models.Product
	quantity  int
	unitPrice decimal.Decimal
}

func NewOrderService(repo repository.Repository, inventory *InventoryService, numbers ordernum.Generator, cfg config.OrdersConfig, log *logrus.Logger, opts ...OrderOption) *OrderService {
	s := &OrderService{
		repo:      repo,
		inventory: inventory,
		numbers:   numbers,
		cfg:       cfg,
		log:       log,
		tracer:    telemetry.Tracer(),
		metrics:   newOrderMetrics(telemetry.Meter()),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitOrder turns one seller's cart into a persisted order: validate,
// check access, pre-check stock, then header, items, stock and total.
func (s *OrderService) SubmitOrder(ctx context.Context, caller policy.Caller, req *SubmitOrderRequest) (*OrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.submit", trace.WithAttributes(
		attribute.String("order.seller_id", req.SellerID.String()),
		attribute.Int("order.items", len(req.Items)),
		attribute.String("order.stock_mode", s.cfg.StockMode),
	))
	defer span.End()

	result, err := s.submit(ctx, caller, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrInsufficientStock) {
			s.metrics.stockRejections.Add(ctx, 1)
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.String("order.number", result.Order.OrderNumber),
		attribute.Int("order.warnings", len(result.Warnings)),
	)
	s.metrics.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("stock_mode", s.cfg.StockMode)))
	s.log.WithFields(logrus.Fields{
		"order_number": result.Order.OrderNumber,
		"buyer_id":     result.Order.BuyerID,
		"seller_id":    result.Order.SellerID,
		"total":        result.Order.TotalAmount.StringFixed(2),
		"items":        len(result.Order.Items),
	}).Info("order placed")
	return result, nil
}

func (s *OrderService) submit(ctx context.Context, caller policy.Caller, req *SubmitOrderRequest) (*OrderResult, error) {
	if req.BuyerID == uuid.Nil {
		req.BuyerID = caller.ID
	}
	if err := s.validateItems(req, req.Items); err != nil {
		return nil, err
	}
	if err := policy.Authorize(caller, policy.ActionCreate, policy.NewOrder{BuyerID: req.BuyerID, SellerID: req.SellerID}); err != nil {
		return nil, err
	}

	lines, err := s.prevalidate(ctx, req.SellerID, req.Items)
	if err != nil {
		return nil, err
	}

	// Each attempt runs its own transaction, so the backoff between
	// collisions sleeps with no transaction open.
	var result *OrderResult
	err = resilience.Retry(ctx, s.retryConfig(), func(attempt int) error {
		number, reserved, err := s.claimNumber(ctx, attempt)
		if err != nil {
			return err
		}
		result, err = s.place(ctx, caller, req, lines, number)
		if err != nil && reserved {
			s.release(ctx, number)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// place writes header, items, stock and total for one order number in a
// single transaction.
func (s *OrderService) place(ctx context.Context, caller policy.Caller, req *SubmitOrderRequest, lines []pricedLine, number string) (*OrderResult, error) {
	var result *OrderResult
	err := s.repo.Transaction(ctx, func(tx repository.Repository) error {
		order := &models.Order{
			BuyerID:         req.BuyerID,
			SellerID:        req.SellerID,
			OrderNumber:     number,
			Status:          models.OrderStatusPending,
			TotalAmount:     decimal.Zero,
			ShippingAddress: req.ShippingAddress,
			Notes:           req.Notes,
		}
		if err := s.createHeader(ctx, tx, order); err != nil {
			return err
		}

		items := make([]models.OrderItem, 0, len(lines))
		for _, line := range lines {
			item := models.NewOrderItem(order.ID, line.product.ID, line.quantity, line.unitPrice)
			if err := tx.CreateOrderItem(ctx, &item); err != nil {
				return fmt.Errorf("failed to add item for product %s: %w", line.product.ID, err)
			}
			items = append(items, item)
		}

		var warnings []PartialApplicationWarning
		for i, line := range lines {
			err := s.moveStock(ctx, tx, caller, order, line.product, items[i].Quantity, 0)
			if err == nil {
				continue
			}
			// stock that ran out after the pre-check is never downgraded to a warning
			if s.cfg.StockMode != config.StockModeBestEffort ||
				errors.Is(err, policy.ErrAccessDenied) || errors.Is(err, ErrInsufficientStock) {
				return err
			}
			w := PartialApplicationWarning{
				OrderNumber: order.OrderNumber,
				ProductID:   line.product.ID,
				Quantity:    items[i].Quantity,
				Reason:      err.Error(),
			}
			s.log.WithFields(logrus.Fields{
				"order_number": w.OrderNumber,
				"product_id":   w.ProductID,
				"quantity":     w.Quantity,
			}).WithError(err).Warn("stock not applied for order item")
			s.metrics.partial.Add(ctx, 1)
			warnings = append(warnings, w)
		}

		if _, err := s.RecomputeTotal(ctx, tx, order.ID); err != nil {
			return err
		}

		persisted, err := tx.GetOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		result = &OrderResult{Order: persisted, Warnings: warnings}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *OrderService) validateItems(req interface{}, items []OrderItemRequest) error {
	if err := utils.ValidateStruct(req); err != nil {
		return validationFailed(err)
	}
	if limit := s.cfg.MaxItemsPerOrder; limit > 0 && len(items) > limit {
		return invalid("an order may hold at most %d items, got %d", limit, len(items))
	}

	seen := make(map[uuid.UUID]bool, len(items))
	for _, item := range items {
		if seen[item.ProductID] {
			return invalid("product %s appears more than once", item.ProductID)
		}
		seen[item.ProductID] = true
		if item.UnitPrice.IsNegative() {
			return invalid("unit price for product %s must not be negative", item.ProductID)
		}
	}
	return nil
}

// prevalidate reads every product once and rejects the cart before any
// write. It is a check, not a lock: the conditional decrement is what
// finally guards stock.
func (s *OrderService) prevalidate(ctx context.Context, sellerID uuid.UUID, items []OrderItemRequest) ([]pricedLine, error) {
	ctx, span := s.tracer.Start(ctx, "order.prevalidate")
	defer span.End()

	products, err := s.productsByID(ctx, items)
	if err != nil {
		return nil, err
	}

	lines := make([]pricedLine, 0, len(items))
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, &NotFoundError{Resource: "product", ID: item.ProductID.String()}
		}
		line, err := priceLine(product, sellerID, item)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func priceLine(product *models.Product, sellerID uuid.UUID, item OrderItemRequest) (pricedLine, error) {
	if product.SellerID != sellerID {
		return pricedLine{}, invalid("product %s is not sold by seller %s", product.ID, sellerID)
	}
	if !product.IsActive {
		return pricedLine{}, &InsufficientStockError{ProductID: product.ID, Requested: item.Quantity, Available: product.StockQuantity, Inactive: true}
	}
	if product.StockQuantity < item.Quantity {
		return pricedLine{}, &InsufficientStockError{ProductID: product.ID, Requested: item.Quantity, Available: product.StockQuantity}
	}
	if !item.UnitPrice.IsZero() && !item.UnitPrice.Equal(product.Price) {
		return pricedLine{}, &PriceChangedError{ProductID: product.ID, Submitted: item.UnitPrice, Current: product.Price}
	}
	return pricedLine{product: product, quantity: item.Quantity, unitPrice: product.Price}, nil
}

func (s *OrderService) productsByID(ctx context.Context, items []OrderItemRequest) (map[uuid.UUID]*models.Product, error) {
	ids := make([]uuid.UUID, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	rows, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	products := make(map[uuid.UUID]*models.Product, len(rows))
	for i := range rows {
		products[rows[i].ID] = &rows[i]
	}
	return products, nil
}

// claimNumber draws the next order number and, when a reserver is
// configured, claims it across processes. reserved reports whether this
// call holds the claim and must release it on failure.
func (s *OrderService) claimNumber(ctx context.Context, attempt int) (string, bool, error) {
	number := s.numbers.Next()
	if s.reserver == nil {
		return number, false, nil
	}
	ok, err := s.reserver.Reserve(ctx, number)
	switch {
	case err != nil:
		// the unique index still catches duplicates
		s.log.WithError(err).WithField("attempt", attempt).Warn("order number reservation unavailable")
		return number, false, nil
	case !ok:
		return "", false, &CollisionError{OrderNumber: number}
	}
	return number, true, nil
}

// createHeader inserts the order row. A unique index violation on the
// number comes back as a CollisionError so the caller can retry.
func (s *OrderService) createHeader(ctx context.Context, tx repository.Repository, order *models.Order) error {
	ctx, span := s.tracer.Start(ctx, "order.create_header", trace.WithAttributes(
		attribute.String("order.number", order.OrderNumber),
	))
	defer span.End()

	err := tx.CreateOrder(ctx, order)
	if errors.Is(err, repository.ErrDuplicateOrderNumber) {
		err = &CollisionError{OrderNumber: order.OrderNumber, Err: err}
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (s *OrderService) retryConfig() *resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	if s.cfg.RetryMaxAttempts > 0 {
		cfg.MaxAttempts = s.cfg.RetryMaxAttempts
	}
	if s.cfg.RetryInitialDelayMs > 0 {
		cfg.InitialDelay = s.cfg.RetryInitialDelay()
	}
	if s.cfg.RetryMaxDelayMs > 0 {
		cfg.MaxDelay = s.cfg.RetryMaxDelay()
	}
	cfg.RetryIf = func(err error) bool {
		return errors.Is(err, ErrCollision)
	}
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.metrics.collisions.Add(context.Background(), 1)
		s.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).WithError(err).Warn("order number collision, retrying")
	}
	return cfg
}

func (s *OrderService) release(ctx context.Context, number string) {
	if s.reserver == nil || number == "" {
		return
	}
	if err := s.reserver.Release(ctx, number); err != nil {
		s.log.WithError(err).WithField("order_number", number).Warn("failed to release order number")
	}
}

// soldFor is the net quantity of product the order currently holds in the
// ledger: its sales minus its returns.
func (s *OrderService) soldFor(ctx context.Context, tx repository.Repository, productID uuid.UUID, orderNumber string) (int, error) {
	txns, _, err := tx.ListInventoryTransactions(ctx, repository.InventoryFilter{
		ProductID: productID,
		Reference: orderNumber,
	})
	if err != nil {
		return 0, err
	}
	sold := 0
	for _, t := range txns {
		switch t.TransactionType {
		case models.InventoryTransactionSale:
			sold += t.Quantity
		case models.InventoryTransactionReturn:
			sold -= t.Quantity
		}
	}
	return sold, nil
}

// moveStock brings the order's ledger position for product to want units,
// selling or returning the difference. held is what the ledger already
// records; pass -1 to look it up.
func (s *OrderService) moveStock(ctx context.Context, tx repository.Repository, caller policy.Caller, order *models.Order, product *models.Product, want, held int) error {
	if held < 0 {
		var err error
		if held, err = s.soldFor(ctx, tx, product.ID, order.OrderNumber); err != nil {
			return err
		}
	}

	delta := want - held
	if delta == 0 {
		return nil
	}

	txType, qty := models.InventoryTransactionSale, delta
	if delta < 0 {
		txType, qty = models.InventoryTransactionReturn, -delta
	}
	write := policy.InventoryWrite{Product: product, Type: txType, FromOwnOrder: caller.ID == order.BuyerID}
	if err := policy.Authorize(caller, policy.ActionWrite, write); err != nil {
		return err
	}

	createdBy := caller.ID
	_, err := s.inventory.Apply(ctx, tx, ApplyRequest{
		ProductID: product.ID,
		Type:      txType,
		Quantity:  qty,
		Reference: order.OrderNumber,
		CreatedBy: &createdBy,
	})
	return err
}

// RecomputeTotal sets the order's total to the sum of its persisted items.
func (s *OrderService) RecomputeTotal(ctx context.Context, repo repository.Repository, orderID uuid.UUID) (decimal.Decimal, error) {
	if repo == nil {
		repo = s.repo
	}
	items, err := repo.ListOrderItems(ctx, orderID)
	if err != nil {
		return decimal.Zero, err
	}
	total := models.SumItems(items)
	if err := repo.SetOrderTotal(ctx, orderID, total); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return decimal.Zero, &NotFoundError{Resource: "order", ID: orderID.String()}
		}
		return decimal.Zero, err
	}
	return total, nil
}

// Checkout splits a cart by seller and places one order per seller, in the
// order sellers first appear in the cart. Orders already placed stay placed
// when a later one fails.
func (s *OrderService) Checkout(ctx context.Context, caller policy.Caller, req *CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.checkout", trace.WithAttributes(
		attribute.Int("checkout.items", len(req.Items)),
	))
	defer span.End()

	if err := s.validateItems(req, req.Items); err != nil {
		return nil, err
	}
	if err := policy.Authorize(caller, policy.ActionCreate, policy.NewOrder{BuyerID: caller.ID}); err != nil {
		return nil, err
	}

	products, err := s.productsByID(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	var sellers []uuid.UUID
	groups := make(map[uuid.UUID][]OrderItemRequest)
	for _, item := range req.Items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, &NotFoundError{Resource: "product", ID: item.ProductID.String()}
		}
		if _, seen := groups[product.SellerID]; !seen {
			sellers = append(sellers, product.SellerID)
		}
		groups[product.SellerID] = append(groups[product.SellerID], item)
	}
	span.SetAttributes(attribute.Int("checkout.sellers", len(sellers)))

	result := &CheckoutResult{Orders: make([]*OrderResult, 0, len(sellers))}
	for i, sellerID := range sellers {
		if i > 0 {
			if err := sleepCtx(ctx, s.cfg.CheckoutSpacing()); err != nil {
				return result, &CheckoutError{Created: result.Orders, Err: err}
			}
		}

		placed, err := s.SubmitOrder(ctx, caller, &SubmitOrderRequest{
			BuyerID:         caller.ID,
			SellerID:        sellerID,
			ShippingAddress: req.ShippingAddress,
			Notes:           req.Notes,
			Items:           groups[sellerID],
		})
		if err != nil {
			span.RecordError(err)
			if len(result.Orders) == 0 {
				return result, err
			}
			return result, &CheckoutError{Created: result.Orders, Err: err}
		}
		result.Orders = append(result.Orders, placed)
	}
	return result, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// UpdateOrderStatus moves an order along pending -> confirmed -> shipped ->
// delivered, or to cancelled from pending/confirmed. Cancelling returns the
// order's stock in the same transaction.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, caller policy.Caller, orderID uuid.UUID, req *UpdateOrderStatusRequest) (*models.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.update_status", trace.WithAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.String("order.status", req.Status),
	))
	defer span.End()

	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationFailed(err)
	}
	status, _ := models.ParseOrderStatus(req.Status)

	var updated *models.Order
	err := s.repo.Transaction(ctx, func(tx repository.Repository) error {
		order, err := s.loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := policy.Authorize(caller, policy.ActionUpdateStatus, order); err != nil {
			return err
		}

		from := order.Status
		if !from.CanTransitionTo(status) {
			return &InvalidTransitionError{From: from, To: status}
		}

		order.MarkStatus(status, s.now())
		if err := tx.UpdateOrderStatus(ctx, order, from); err != nil {
			if errors.Is(err, repository.ErrStaleStatus) {
				return &InvalidTransitionError{From: from, To: status, Reason: "status changed concurrently"}
			}
			return err
		}

		if status == models.OrderStatusCancelled {
			for _, item := range order.Items {
				product, err := s.loadProduct(ctx, tx, item.ProductID)
				if err != nil {
					return err
				}
				if err := s.moveStock(ctx, tx, caller, order, product, 0, -1); err != nil {
					return fmt.Errorf("failed to restock product %s: %w", item.ProductID, err)
				}
			}
		}

		updated, err = tx.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"order_number": updated.OrderNumber,
		"status":       updated.Status,
		"seller_id":    caller.ID,
	}).Info("order status updated")
	return updated, nil
}

// AddItem appends a product to a pending order, sells its stock and
// recomputes the total.
func (s *OrderService) AddItem(ctx context.Context, caller policy.Caller, orderID uuid.UUID, req *OrderItemRequest) (*models.Order, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationFailed(err)
	}
	if req.UnitPrice.IsNegative() {
		return nil, invalid("unit price must not be negative")
	}

	return s.amend(ctx, caller, orderID, "order.add_item", func(tx repository.Repository, order *models.Order) error {
		for _, existing := range order.Items {
			if existing.ProductID == req.ProductID {
				return invalid("product %s is already on the order", req.ProductID)
			}
		}
		product, err := s.loadProduct(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}
		line, err := priceLine(product, order.SellerID, *req)
		if err != nil {
			return err
		}

		item := models.NewOrderItem(order.ID, product.ID, line.quantity, line.unitPrice)
		if err := tx.CreateOrderItem(ctx, &item); err != nil {
			return err
		}
		return s.moveStock(ctx, tx, caller, order, product, item.Quantity, -1)
	})
}

// UpdateItemQuantity changes a line's quantity. The unit price stays the
// one captured when the line was created.
func (s *OrderService) UpdateItemQuantity(ctx context.Context, caller policy.Caller, orderID, itemID uuid.UUID, req *UpdateItemQuantityRequest) (*models.Order, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationFailed(err)
	}

	return s.amend(ctx, caller, orderID, "order.update_item", func(tx repository.Repository, order *models.Order) error {
		item, err := findItem(order, itemID)
		if err != nil {
			return err
		}
		product, err := s.loadProduct(ctx, tx, item.ProductID)
		if err != nil {
			return err
		}

		total := item.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity)))
		if err := tx.UpdateOrderItemQuantity(ctx, item.ID, req.Quantity, total); err != nil {
			return err
		}
		return s.moveStock(ctx, tx, caller, order, product, req.Quantity, -1)
	})
}

// RemoveItem deletes a line and returns its stock. The last line cannot be removed.
func (s *OrderService) RemoveItem(ctx context.Context, caller policy.Caller, orderID, itemID uuid.UUID) (*models.Order, error) {
	return s.amend(ctx, caller, orderID, "order.remove_item", func(tx repository.Repository, order *models.Order) error {
		item, err := findItem(order, itemID)
		if err != nil {
			return err
		}
		if len(order.Items) == 1 {
			return invalid("an order must keep at least one item; cancel it instead")
		}
		product, err := s.loadProduct(ctx, tx, item.ProductID)
		if err != nil {
			return err
		}

		if err := tx.DeleteOrderItem(ctx, item.ID); err != nil {
			return err
		}
		return s.moveStock(ctx, tx, caller, order, product, 0, -1)
	})
}

// amend runs fn against a pending order the caller may modify, then
// recomputes the total, all in one transaction.
func (s *OrderService) amend(ctx context.Context, caller policy.Caller, orderID uuid.UUID, op string, fn func(tx repository.Repository, order *models.Order) error) (*models.Order, error) {
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer span.End()

	var updated *models.Order
	err := s.repo.Transaction(ctx, func(tx repository.Repository) error {
		order, err := s.loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := policy.Authorize(caller, policy.ActionModifyItems, order); err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending {
			return fmt.Errorf("%w: order %s is %s", ErrOrderNotPending, order.OrderNumber, order.Status)
		}

		if err := fn(tx, order); err != nil {
			return err
		}
		if _, err := s.RecomputeTotal(ctx, tx, order.ID); err != nil {
			return err
		}
		updated, err = tx.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"order_number": updated.OrderNumber,
		"operation":    op,
		"total":        updated.TotalAmount.StringFixed(2),
	}).Info("order amended")
	return updated, nil
}

func findItem(order *models.Order, itemID uuid.UUID) (*models.OrderItem, error) {
	for i := range order.Items {
		if order.Items[i].ID == itemID {
			return &order.Items[i], nil
		}
	}
	return nil, &NotFoundError{Resource: "order_item", ID: itemID.String()}
}

func (s *OrderService) GetOrder(ctx context.Context, caller policy.Caller, id uuid.UUID) (*models.Order, error) {
	order, err := s.loadOrder(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(caller, policy.ActionRead, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderService) GetOrderByNumber(ctx context.Context, caller policy.Caller, number string) (*models.Order, error) {
	if _, _, err := ordernum.Parse(number); err != nil {
		return nil, invalid("%v", err)
	}

	order, err := s.repo.GetOrderByNumber(ctx, number)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "order", ID: number}
	}
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(caller, policy.ActionRead, order); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders shows buyers their purchases and sellers their sales.
func (s *OrderService) ListOrders(ctx context.Context, caller policy.Caller, params utils.PaginationParams, status string) (*utils.PaginationResult, error) {
	filter := repository.OrderFilter{PaginationParams: params}
	switch {
	case caller.IsBuyer():
		filter.BuyerID = &caller.ID
	case caller.IsSeller():
		filter.SellerID = &caller.ID
	case caller.IsAdmin():
	default:
		return nil, policy.Authorize(caller, policy.ActionRead, &models.Order{})
	}

	if status != "" {
		parsed, ok := models.ParseOrderStatus(status)
		if !ok {
			return nil, invalid("unknown order status %q", status)
		}
		filter.Status = &parsed
	}

	orders, total, err := s.repo.ListOrders(ctx, filter)
	if err != nil {
		return nil, err
	}
	result := utils.CreatePaginationResult(orders, total, params)
	return &result, nil
}

func (s *OrderService) loadOrder(ctx context.Context, repo repository.Repository, id uuid.UUID) (*models.Order, error) {
	order, err := repo.GetOrder(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "order", ID: id.String()}
	}
	return order, err
}

func (s *OrderService) loadProduct(ctx context.Context, repo repository.Repository, id uuid.UUID) (*models.Product, error) {
	product, err := repo.GetProduct(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "product", ID: id.String()}
	}
	return product, err
}
