package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/marketstock/internal/models"
	"github.com/javajoker/marketstock/internal/utils"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db *gorm.DB
}

func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	// gorm turns a Transaction on an open tx into SAVEPOINT / ROLLBACK TO
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PostgresRepository{db: tx})
	})
}

// Products

func (r *PostgresRepository) CreateProduct(ctx context.Context, product *models.Product) error {
	if err := r.db.WithContext(ctx).Omit("Seller").Create(product).Error; err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &product, nil
}

func (r *PostgresRepository) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	var products []models.Product
	if len(ids) == 0 {
		return products, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch products: %w", err)
	}
	return products, nil
}

func (r *PostgresRepository) ListProducts(ctx context.Context, filter ProductFilter) ([]models.Product, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Product{})

	if filter.SellerID != nil {
		query = query.Where("seller_id = ?", *filter.SellerID)
	}
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	if filter.LowStockOnly {
		query = query.Where("stock_quantity <= min_stock_level")
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Search != "" {
		searchTerm := "%" + strings.ToLower(filter.Search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", searchTerm, searchTerm)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	allowedSortFields := []string{"created_at", "updated_at", "name", "price", "stock_quantity"}
	query = utils.ApplySort(query, filter.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, filter.PaginationParams)

	var products []models.Product
	if err := query.Find(&products).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch products: %w", err)
	}
	return products, total, nil
}

func (r *PostgresRepository) UpdateProduct(ctx context.Context, id uuid.UUID, changes ProductChanges) (*models.Product, error) {
	updates := make(map[string]interface{})
	if changes.Name != nil {
		updates["name"] = *changes.Name
	}
	if changes.Description != nil {
		updates["description"] = *changes.Description
	}
	if changes.Category != nil {
		updates["category"] = *changes.Category
	}
	if changes.Tags != nil {
		updates["tags"] = changes.Tags
	}
	if changes.Price != nil {
		updates["price"] = *changes.Price
	}
	if changes.Cost != nil {
		updates["cost"] = *changes.Cost
	}
	if changes.MinStockLevel != nil {
		updates["min_stock_level"] = *changes.MinStockLevel
	}
	if changes.IsActive != nil {
		updates["is_active"] = *changes.IsActive
	}

	if len(updates) > 0 {
		updates["updated_at"] = time.Now()
		res := r.db.WithContext(ctx).Model(&models.Product{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to update product: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrNotFound
		}
	}

	return r.GetProduct(ctx, id)
}

// Stock

func (r *PostgresRepository) DecrementStock(ctx context.Context, productID uuid.UUID, qty int) (int, int, error) {
	var product models.Product
	res := r.db.WithContext(ctx).Model(&product).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "stock_quantity"}}}).
		Where("id = ? AND stock_quantity >= ?", productID, qty).
		UpdateColumns(map[string]interface{}{
			"stock_quantity": gorm.Expr("stock_quantity - ?", qty),
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return 0, 0, fmt.Errorf("failed to decrement stock: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetProduct(ctx, productID); err != nil {
			return 0, 0, err
		}
		return 0, 0, ErrInsufficientStock
	}
	return product.StockQuantity + qty, product.StockQuantity, nil
}

func (r *PostgresRepository) IncrementStock(ctx context.Context, productID uuid.UUID, qty int) (int, int, error) {
	var product models.Product
	res := r.db.WithContext(ctx).Model(&product).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "stock_quantity"}}}).
		Where("id = ?", productID).
		UpdateColumns(map[string]interface{}{
			"stock_quantity": gorm.Expr("stock_quantity + ?", qty),
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return 0, 0, fmt.Errorf("failed to increment stock: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, 0, ErrNotFound
	}
	return product.StockQuantity - qty, product.StockQuantity, nil
}

func (r *PostgresRepository) SetStock(ctx context.Context, productID uuid.UUID, qty int) (int, int, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&product, "id = ?", productID).Error; err != nil {
		return 0, 0, translate(err)
	}

	previous := product.StockQuantity
	if err := r.db.WithContext(ctx).Model(&models.Product{}).Where("id = ?", productID).
		UpdateColumns(map[string]interface{}{
			"stock_quantity": qty,
			"updated_at":     time.Now(),
		}).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to set stock: %w", err)
	}
	return previous, qty, nil
}

func (r *PostgresRepository) CreateInventoryTransaction(ctx context.Context, txn *models.InventoryTransaction) error {
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		return fmt.Errorf("failed to record inventory transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListInventoryTransactions(ctx context.Context, filter InventoryFilter) ([]models.InventoryTransaction, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.InventoryTransaction{}).Where("product_id = ?", filter.ProductID)
	if filter.Type != nil {
		query = query.Where("transaction_type = ?", *filter.Type)
	}
	if filter.Reference != "" {
		query = query.Where("reference = ?", filter.Reference)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count inventory transactions: %w", err)
	}

	query = utils.ApplySort(query, filter.PaginationParams, []string{"created_at"})
	if filter.Limit > 0 {
		query = utils.ApplyPagination(query, filter.PaginationParams)
	}

	var txns []models.InventoryTransaction
	if err := query.Find(&txns).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch inventory transactions: %w", err)
	}
	return txns, total, nil
}

// Orders

func (r *PostgresRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(order).Error; err != nil {
		if isUniqueViolation(err, "order_number") {
			return fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, order.OrderNumber)
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Preload("Items", orderItemsByCreation).
		First(&order, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func (r *PostgresRepository) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Preload("Items", orderItemsByCreation).
		First(&order, "order_number = ?", number).Error; err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func (r *PostgresRepository) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if filter.BuyerID != nil {
		query = query.Where("buyer_id = ?", *filter.BuyerID)
	}
	if filter.SellerID != nil {
		query = query.Where("seller_id = ?", *filter.SellerID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	allowedSortFields := []string{"created_at", "updated_at", "total_amount", "status"}
	query = utils.ApplySort(query, filter.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, filter.PaginationParams)

	var orders []models.Order
	if err := query.Preload("Items", orderItemsByCreation).Find(&orders).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch orders: %w", err)
	}
	return orders, total, nil
}

func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, order *models.Order, from models.OrderStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, from).
		Updates(map[string]interface{}{
			"status":       order.Status,
			"confirmed_at": order.ConfirmedAt,
			"shipped_at":   order.ShippedAt,
			"delivered_at": order.DeliveredAt,
			"cancelled_at": order.CancelledAt,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update order status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (r *PostgresRepository) SetOrderTotal(ctx context.Context, orderID uuid.UUID, total decimal.Decimal) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", orderID).
		UpdateColumns(map[string]interface{}{
			"total_amount": total,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update order total: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Order items

func (r *PostgresRepository) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("failed to create order item: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetOrderItem(ctx context.Context, id uuid.UUID) (*models.OrderItem, error) {
	var item models.OrderItem
	if err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

func (r *PostgresRepository) UpdateOrderItemQuantity(ctx context.Context, id uuid.UUID, quantity int, total decimal.Decimal) error {
	// unit_price is deliberately absent: it is fixed at insertion
	res := r.db.WithContext(ctx).Model(&models.OrderItem{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"quantity":    quantity,
			"total_price": total,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update order item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteOrderItem(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&models.OrderItem{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete order item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if err := orderItemsByCreation(r.db.WithContext(ctx)).Where("order_id = ?", orderID).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch order items: %w", err)
	}
	return items, nil
}

func (r *PostgresRepository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *PostgresRepository) ListAuditLogs(ctx context.Context, filter AuditFilter) ([]models.AuditLog, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.AuditLog{})
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.ResourceType != "" {
		query = query.Where("resource_type = ?", filter.ResourceType)
	}
	if filter.ResourceID != nil {
		query = query.Where("resource_id = ?", *filter.ResourceID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query = utils.ApplySort(query, filter.PaginationParams, []string{"created_at", "action", "status"})
	query = utils.ApplyPagination(query, filter.PaginationParams)

	var logs []models.AuditLog
	if err := query.Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch audit logs: %w", err)
	}
	return logs, total, nil
}

// Helpers

func orderItemsByCreation(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC, id ASC")
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("database error: %w", err)
}

// isUniqueViolation reports a 23505 on a constraint whose name mentions column.
func isUniqueViolation(err error, column string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation && strings.Contains(pgErr.ConstraintName, column)
	}
	return false
}
