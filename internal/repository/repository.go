// Package repository is the storage boundary for products, orders and the
// inventory ledger. Postgres (gorm) backs production; Memory backs tests and
// local tooling with the same semantics.
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/marketstock/internal/models"
	"github.com/javajoker/marketstock/internal/utils"
)

var (
	ErrNotFound             = errors.New("record not found")
	ErrDuplicateOrderNumber = errors.New("duplicate order number")
	// ErrInsufficientStock is returned when a conditional decrement matched no row.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStaleStatus is returned when an order's status changed underneath a transition.
	ErrStaleStatus = errors.New("order status changed concurrently")
)

type Repository interface {
	// Transaction runs fn atomically. Calling Transaction on a repository
	// handed to fn creates a savepoint that rolls back independently.
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	CreateProduct(ctx context.Context, product *models.Product) error
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]models.Product, int64, error)
	UpdateProduct(ctx context.Context, id uuid.UUID, changes ProductChanges) (*models.Product, error)

	// DecrementStock subtracts qty only when at least qty is on hand.
	DecrementStock(ctx context.Context, productID uuid.UUID, qty int) (previous, current int, err error)
	IncrementStock(ctx context.Context, productID uuid.UUID, qty int) (previous, current int, err error)
	SetStock(ctx context.Context, productID uuid.UUID, qty int) (previous, current int, err error)
	CreateInventoryTransaction(ctx context.Context, txn *models.InventoryTransaction) error
	ListInventoryTransactions(ctx context.Context, filter InventoryFilter) ([]models.InventoryTransaction, int64, error)

	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, int64, error)
	// UpdateOrderStatus persists order.Status and its timestamps if the
	// stored status still equals from.
	UpdateOrderStatus(ctx context.Context, order *models.Order, from models.OrderStatus) error
	SetOrderTotal(ctx context.Context, orderID uuid.UUID, total decimal.Decimal) error

	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderItem(ctx context.Context, id uuid.UUID) (*models.OrderItem, error)
	UpdateOrderItemQuantity(ctx context.Context, id uuid.UUID, quantity int, total decimal.Decimal) error
	DeleteOrderItem(ctx context.Context, id uuid.UUID) error
	ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)

	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
	ListAuditLogs(ctx context.Context, filter AuditFilter) ([]models.AuditLog, int64, error)
}

type ProductFilter struct {
	utils.PaginationParams
	SellerID     *uuid.UUID
	ActiveOnly   bool
	LowStockOnly bool
}

// ProductChanges lists the seller editable fields. Nil means unchanged.
type ProductChanges struct {
	Name          *string
	Description   *string
	Category      *string
	Tags          []string
	Price         *decimal.Decimal
	Cost          *decimal.Decimal
	MinStockLevel *int
	IsActive      *bool
}

type OrderFilter struct {
	utils.PaginationParams
	BuyerID  *uuid.UUID
	SellerID *uuid.UUID
	Status   *models.OrderStatus
}

type InventoryFilter struct {
	utils.PaginationParams
	ProductID uuid.UUID
	Type      *models.InventoryTransactionType
	// Reference matches exactly when set, e.g. an order number.
	Reference string
}

type AuditFilter struct {
	utils.PaginationParams
	UserID       *uuid.UUID
	ResourceType string
	ResourceID   *uuid.UUID
}
