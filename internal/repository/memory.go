package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/marketstock/internal/models"
	"github.com/javajoker/marketstock/internal/utils"
)

var errCheckViolation = errors.New("check constraint violated")

// StockHook is consulted before every stock mutation. A non-nil error aborts
// the mutation and is returned to the caller.
type StockHook func(productID uuid.UUID) error

type memItem struct {
	item models.OrderItem
	seq  int64
}

type memState struct {
	products     map[uuid.UUID]models.Product
	orders       map[uuid.UUID]models.Order
	items        map[uuid.UUID]memItem
	orderNumbers map[string]uuid.UUID
	ledger       []models.InventoryTransaction
	audit        []models.AuditLog
	seq          int64
}

func newMemState() *memState {
	return &memState{
		products:     make(map[uuid.UUID]models.Product),
		orders:       make(map[uuid.UUID]models.Order),
		items:        make(map[uuid.UUID]memItem),
		orderNumbers: make(map[string]uuid.UUID),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		products:     make(map[uuid.UUID]models.Product, len(s.products)),
		orders:       make(map[uuid.UUID]models.Order, len(s.orders)),
		items:        make(map[uuid.UUID]memItem, len(s.items)),
		orderNumbers: make(map[string]uuid.UUID, len(s.orderNumbers)),
		ledger:       append([]models.InventoryTransaction(nil), s.ledger...),
		audit:        append([]models.AuditLog(nil), s.audit...),
		seq:          s.seq,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.orderNumbers {
		c.orderNumbers[k] = v
	}
	return c
}

func (s *memState) next() int64 {
	s.seq++
	return s.seq
}

type memStore struct {
	mu    sync.Mutex
	state *memState
	hook  StockHook
}

// Memory is an in-process Repository. A transaction holds the store lock
// for its whole duration, so concurrent transactions are serialized the way
// row locks would serialize them on the hot rows.
type Memory struct {
	store  *memStore
	locked bool
}

func NewMemory() *Memory {
	return &Memory{store: &memStore{state: newMemState()}}
}

// SetStockHook installs fn as the stock mutation hook. Pass nil to clear it.
func (m *Memory) SetStockHook(fn StockHook) {
	unlock := m.lock()
	defer unlock()
	m.store.hook = fn
}

// AuditLogs returns a copy of every audit entry written so far.
func (m *Memory) AuditLogs() []models.AuditLog {
	unlock := m.lock()
	defer unlock()
	return append([]models.AuditLog(nil), m.store.state.audit...)
}

func (m *Memory) lock() func() {
	if m.locked {
		return func() {}
	}
	m.store.mu.Lock()
	return m.store.mu.Unlock
}

func (m *Memory) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := m.lock()
	defer unlock()

	snapshot := m.store.state.clone()
	tx := &Memory{store: m.store, locked: true}
	if err := fn(tx); err != nil {
		m.store.state = snapshot
		return err
	}
	return nil
}

// Products

func (m *Memory) CreateProduct(ctx context.Context, product *models.Product) error {
	unlock := m.lock()
	defer unlock()

	if product.StockQuantity < 0 {
		return fmt.Errorf("failed to create product: %w", errCheckViolation)
	}
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	if _, exists := m.store.state.products[product.ID]; exists {
		return fmt.Errorf("failed to create product: duplicate id %s", product.ID)
	}
	now := time.Now()
	product.CreatedAt, product.UpdatedAt = now, now

	stored := *product
	stored.Seller = nil
	m.store.state.products[product.ID] = stored
	return nil
}

func (m *Memory) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	unlock := m.lock()
	defer unlock()

	p, ok := m.store.state.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	unlock := m.lock()
	defer unlock()

	products := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.store.state.products[id]; ok {
			products = append(products, p)
		}
	}
	return products, nil
}

func (m *Memory) ListProducts(ctx context.Context, filter ProductFilter) ([]models.Product, int64, error) {
	unlock := m.lock()
	defer unlock()

	search := strings.ToLower(filter.Search)
	var products []models.Product
	for _, p := range m.store.state.products {
		if filter.SellerID != nil && p.SellerID != *filter.SellerID {
			continue
		}
		if filter.ActiveOnly && !p.IsActive {
			continue
		}
		if filter.LowStockOnly && !p.IsLowStock() {
			continue
		}
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		products = append(products, p)
	}

	sortBy(products, filter.PaginationParams, func(a, b models.Product, field string) int {
		switch field {
		case "name":
			return strings.Compare(a.Name, b.Name)
		case "price":
			return a.Price.Cmp(b.Price)
		case "stock_quantity":
			return a.StockQuantity - b.StockQuantity
		case "updated_at":
			return a.UpdatedAt.Compare(b.UpdatedAt)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	total := int64(len(products))
	return paginate(products, filter.PaginationParams), total, nil
}

func (m *Memory) UpdateProduct(ctx context.Context, id uuid.UUID, changes ProductChanges) (*models.Product, error) {
	unlock := m.lock()
	defer unlock()

	p, ok := m.store.state.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	if changes.Name != nil {
		p.Name = *changes.Name
	}
	if changes.Description != nil {
		p.Description = *changes.Description
	}
	if changes.Category != nil {
		p.Category = *changes.Category
	}
	if changes.Tags != nil {
		p.Tags = append([]string(nil), changes.Tags...)
	}
	if changes.Price != nil {
		p.Price = *changes.Price
	}
	if changes.Cost != nil {
		p.Cost = *changes.Cost
	}
	if changes.MinStockLevel != nil {
		p.MinStockLevel = *changes.MinStockLevel
	}
	if changes.IsActive != nil {
		p.IsActive = *changes.IsActive
	}
	p.UpdatedAt = time.Now()
	m.store.state.products[id] = p
	return &p, nil
}

// Stock

func (m *Memory) mutateStock(productID uuid.UUID, fn func(current int) (int, error)) (int, int, error) {
	if m.store.hook != nil {
		if err := m.store.hook(productID); err != nil {
			return 0, 0, err
		}
	}
	p, ok := m.store.state.products[productID]
	if !ok {
		return 0, 0, ErrNotFound
	}
	next, err := fn(p.StockQuantity)
	if err != nil {
		return 0, 0, err
	}
	if next < 0 {
		return 0, 0, fmt.Errorf("failed to update stock: %w", errCheckViolation)
	}
	previous := p.StockQuantity
	p.StockQuantity = next
	p.UpdatedAt = time.Now()
	m.store.state.products[productID] = p
	return previous, next, nil
}

func (m *Memory) DecrementStock(ctx context.Context, productID uuid.UUID, qty int) (int, int, error) {
	unlock := m.lock()
	defer unlock()

	return m.mutateStock(productID, func(current int) (int, error) {
		if current < qty {
			return 0, ErrInsufficientStock
		}
		return current - qty, nil
	})
}

func (m *Memory) IncrementStock(ctx context.Context, productID uuid.UUID, qty int) (int, int, error) {
	unlock := m.lock()
	defer unlock()

	return m.mutateStock(productID, func(current int) (int, error) {
		return current + qty, nil
	})
}

func (m *Memory) SetStock(ctx context.Context, productID uuid.UUID, qty int) (int, int, error) {
	unlock := m.lock()
	defer unlock()

	return m.mutateStock(productID, func(int) (int, error) {
		return qty, nil
	})
}

func (m *Memory) CreateInventoryTransaction(ctx context.Context, txn *models.InventoryTransaction) error {
	unlock := m.lock()
	defer unlock()

	if txn.NewStock < 0 {
		return fmt.Errorf("failed to record inventory transaction: %w", errCheckViolation)
	}
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}
	m.store.state.ledger = append(m.store.state.ledger, *txn)
	return nil
}

func (m *Memory) ListInventoryTransactions(ctx context.Context, filter InventoryFilter) ([]models.InventoryTransaction, int64, error) {
	unlock := m.lock()
	defer unlock()

	var txns []models.InventoryTransaction
	for _, t := range m.store.state.ledger {
		if t.ProductID != filter.ProductID {
			continue
		}
		if filter.Type != nil && t.TransactionType != *filter.Type {
			continue
		}
		if filter.Reference != "" && t.Reference != filter.Reference {
			continue
		}
		txns = append(txns, t)
	}

	// the ledger slice is already in insertion order
	if filter.Order == "desc" {
		for i, j := 0, len(txns)-1; i < j; i, j = i+1, j-1 {
			txns[i], txns[j] = txns[j], txns[i]
		}
	}

	total := int64(len(txns))
	return paginate(txns, filter.PaginationParams), total, nil
}

// Orders

func (m *Memory) CreateOrder(ctx context.Context, order *models.Order) error {
	unlock := m.lock()
	defer unlock()

	if _, taken := m.store.state.orderNumbers[order.OrderNumber]; taken {
		return fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, order.OrderNumber)
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}
	now := time.Now()
	order.CreatedAt, order.UpdatedAt = now, now

	stored := *order
	stored.Items = nil
	m.store.state.orders[order.ID] = stored
	m.store.state.orderNumbers[order.OrderNumber] = order.ID
	return nil
}

func (m *Memory) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	unlock := m.lock()
	defer unlock()

	return m.loadOrder(id)
}

func (m *Memory) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	unlock := m.lock()
	defer unlock()

	id, ok := m.store.state.orderNumbers[number]
	if !ok {
		return nil, ErrNotFound
	}
	return m.loadOrder(id)
}

func (m *Memory) loadOrder(id uuid.UUID) (*models.Order, error) {
	o, ok := m.store.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	o.Items = m.itemsOf(id)
	return &o, nil
}

func (m *Memory) itemsOf(orderID uuid.UUID) []models.OrderItem {
	var rows []memItem
	for _, it := range m.store.state.items {
		if it.item.OrderID == orderID {
			rows = append(rows, it)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	items := make([]models.OrderItem, len(rows))
	for i, r := range rows {
		items[i] = r.item
	}
	return items
}

func (m *Memory) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, int64, error) {
	unlock := m.lock()
	defer unlock()

	var orders []models.Order
	for id, o := range m.store.state.orders {
		if filter.BuyerID != nil && o.BuyerID != *filter.BuyerID {
			continue
		}
		if filter.SellerID != nil && o.SellerID != *filter.SellerID {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		o.Items = m.itemsOf(id)
		orders = append(orders, o)
	}

	sortBy(orders, filter.PaginationParams, func(a, b models.Order, field string) int {
		switch field {
		case "total_amount":
			return a.TotalAmount.Cmp(b.TotalAmount)
		case "status":
			return strings.Compare(string(a.Status), string(b.Status))
		case "updated_at":
			return a.UpdatedAt.Compare(b.UpdatedAt)
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.OrderNumber, b.OrderNumber)
	})

	total := int64(len(orders))
	return paginate(orders, filter.PaginationParams), total, nil
}

func (m *Memory) UpdateOrderStatus(ctx context.Context, order *models.Order, from models.OrderStatus) error {
	unlock := m.lock()
	defer unlock()

	stored, ok := m.store.state.orders[order.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != from {
		return ErrStaleStatus
	}
	stored.Status = order.Status
	stored.ConfirmedAt = order.ConfirmedAt
	stored.ShippedAt = order.ShippedAt
	stored.DeliveredAt = order.DeliveredAt
	stored.CancelledAt = order.CancelledAt
	stored.UpdatedAt = time.Now()
	m.store.state.orders[order.ID] = stored
	return nil
}

func (m *Memory) SetOrderTotal(ctx context.Context, orderID uuid.UUID, total decimal.Decimal) error {
	unlock := m.lock()
	defer unlock()

	o, ok := m.store.state.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.TotalAmount = total
	o.UpdatedAt = time.Now()
	m.store.state.orders[orderID] = o
	return nil
}

// Order items

func (m *Memory) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	unlock := m.lock()
	defer unlock()

	if item.Quantity <= 0 {
		return fmt.Errorf("failed to create order item: %w", errCheckViolation)
	}
	if _, ok := m.store.state.orders[item.OrderID]; !ok {
		return fmt.Errorf("failed to create order item: order %s: %w", item.OrderID, ErrNotFound)
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	now := time.Now()
	item.CreatedAt, item.UpdatedAt = now, now
	m.store.state.items[item.ID] = memItem{item: *item, seq: m.store.state.next()}
	return nil
}

func (m *Memory) GetOrderItem(ctx context.Context, id uuid.UUID) (*models.OrderItem, error) {
	unlock := m.lock()
	defer unlock()

	it, ok := m.store.state.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	item := it.item
	return &item, nil
}

func (m *Memory) UpdateOrderItemQuantity(ctx context.Context, id uuid.UUID, quantity int, total decimal.Decimal) error {
	unlock := m.lock()
	defer unlock()

	it, ok := m.store.state.items[id]
	if !ok {
		return ErrNotFound
	}
	if quantity <= 0 {
		return fmt.Errorf("failed to update order item: %w", errCheckViolation)
	}
	it.item.Quantity = quantity
	it.item.TotalPrice = total
	it.item.UpdatedAt = time.Now()
	m.store.state.items[id] = it
	return nil
}

func (m *Memory) DeleteOrderItem(ctx context.Context, id uuid.UUID) error {
	unlock := m.lock()
	defer unlock()

	if _, ok := m.store.state.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.store.state.items, id)
	return nil
}

func (m *Memory) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	unlock := m.lock()
	defer unlock()

	return m.itemsOf(orderID), nil
}

func (m *Memory) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	unlock := m.lock()
	defer unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()
	m.store.state.audit = append(m.store.state.audit, *entry)
	return nil
}

func (m *Memory) ListAuditLogs(ctx context.Context, filter AuditFilter) ([]models.AuditLog, int64, error) {
	unlock := m.lock()
	defer unlock()

	var logs []models.AuditLog
	for _, entry := range m.store.state.audit {
		if filter.UserID != nil && (entry.UserID == nil || *entry.UserID != *filter.UserID) {
			continue
		}
		if filter.ResourceType != "" && entry.ResourceType != filter.ResourceType {
			continue
		}
		if filter.ResourceID != nil && (entry.ResourceID == nil || *entry.ResourceID != *filter.ResourceID) {
			continue
		}
		logs = append(logs, entry)
	}

	sortBy(logs, filter.PaginationParams, func(a, b models.AuditLog, field string) int {
		switch field {
		case "action":
			return strings.Compare(a.Action, b.Action)
		case "status":
			return a.Status - b.Status
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	total := int64(len(logs))
	return paginate(logs, filter.PaginationParams), total, nil
}

// Helpers

func sortBy[T any](rows []T, params utils.PaginationParams, cmp func(a, b T, field string) int) {
	sort.SliceStable(rows, func(i, j int) bool {
		c := cmp(rows[i], rows[j], params.Sort)
		if params.Order == "asc" {
			return c < 0
		}
		return c > 0
	})
}

func paginate[T any](rows []T, params utils.PaginationParams) []T {
	if params.Limit <= 0 {
		return rows
	}
	page := params.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * params.Limit
	if start >= len(rows) {
		return []T{}
	}
	end := start + params.Limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}

var _ Repository = (*Memory)(nil)
var _ Repository = (*PostgresRepository)(nil)
