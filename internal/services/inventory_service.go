// internal/services/inventory_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/javajoker/marketstock/internal/models"
	"github.com/javajoker/marketstock/internal/policy"
	"github.com/javajoker/marketstock/internal/repository"
	"github.com/javajoker/marketstock/internal/telemetry"
	"github.com/javajoker/marketstock/internal/utils"
)

// InventoryService is the stock ledger. It is the only writer of
// Product.StockQuantity and pairs every change with one InventoryTransaction.
type InventoryService struct {
	repo   repository.Repository
	log    *logrus.Logger
	tracer trace.Tracer
}

type ApplyRequest struct {
	ProductID uuid.UUID
	Type      models.InventoryTransactionType
	Quantity  int
	Reference string
	Notes     string
	CreatedBy *uuid.UUID
}

type AdjustStockRequest struct {
	Type      string `json:"transaction_type" validate:"required,inventory_type"`
	Quantity  int    `json:"quantity" validate:"min=0"`
	Reference string `json:"reference,omitempty" validate:"max=100"`
	Notes     string `json:"notes,omitempty"`
}

func NewInventoryService(repo repository.Repository, log *logrus.Logger) *InventoryService {
	return &InventoryService{
		repo:   repo,
		log:    log,
		tracer: telemetry.Tracer(),
	}
}

// NextStock computes the stock after applying a movement to previous.
// A result below zero is clamped to zero and reported through clamped.
func NextStock(previous int, t models.InventoryTransactionType, quantity int) (next int, clamped bool) {
	switch t {
	case models.InventoryTransactionPurchase, models.InventoryTransactionReturn:
		next = previous + quantity
	case models.InventoryTransactionSale:
		next = previous - quantity
	case models.InventoryTransactionAdjustment:
		next = quantity
	default:
		next = previous
	}
	if next < 0 {
		return 0, true
	}
	return next, false
}

func validateMovement(t models.InventoryTransactionType, quantity int) error {
	switch t {
	case models.InventoryTransactionPurchase, models.InventoryTransactionSale, models.InventoryTransactionReturn:
		if quantity <= 0 {
			return invalid("%s quantity must be positive, got %d", t, quantity)
		}
	case models.InventoryTransactionAdjustment:
		if quantity < 0 {
			return invalid("adjustment target must not be negative, got %d", quantity)
		}
	default:
		return invalid("unknown transaction type %q", t)
	}
	return nil
}

// Apply moves stock on repo and appends the matching ledger record. The
// product update and the record insert commit together; when repo is
// already a transaction this runs in a savepoint.
func (s *InventoryService) Apply(ctx context.Context, repo repository.Repository, req ApplyRequest) (*models.InventoryTransaction, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.apply", trace.WithAttributes(
		attribute.String("product.id", req.ProductID.String()),
		attribute.String("inventory.type", string(req.Type)),
		attribute.Int("inventory.quantity", req.Quantity),
	))
	defer span.End()

	if err := validateMovement(req.Type, req.Quantity); err != nil {
		return nil, err
	}
	if repo == nil {
		repo = s.repo
	}

	var record *models.InventoryTransaction
	err := repo.Transaction(ctx, func(tx repository.Repository) error {
		var previous, current int
		var err error
		switch req.Type {
		case models.InventoryTransactionSale:
			previous, current, err = tx.DecrementStock(ctx, req.ProductID, req.Quantity)
		case models.InventoryTransactionPurchase, models.InventoryTransactionReturn:
			previous, current, err = tx.IncrementStock(ctx, req.ProductID, req.Quantity)
		case models.InventoryTransactionAdjustment:
			previous, current, err = tx.SetStock(ctx, req.ProductID, req.Quantity)
		}
		if err != nil {
			return s.stockError(ctx, tx, req, err)
		}

		if want, clamped := NextStock(previous, req.Type, req.Quantity); clamped || want != current {
			s.log.WithFields(logrus.Fields{
				"product_id": req.ProductID,
				"type":       req.Type,
				"quantity":   req.Quantity,
				"previous":   previous,
				"stored":     current,
				"expected":   want,
			}).Warn("stock ledger computed a different level than storage")
		}

		record = &models.InventoryTransaction{
			ProductID:       req.ProductID,
			TransactionType: req.Type,
			Quantity:        req.Quantity,
			PreviousStock:   previous,
			NewStock:        current,
			Reference:       req.Reference,
			Notes:           req.Notes,
			CreatedBy:       req.CreatedBy,
		}
		return tx.CreateInventoryTransaction(ctx, record)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("inventory.new_stock", record.NewStock))
	return record, nil
}

func (s *InventoryService) stockError(ctx context.Context, tx repository.Repository, req ApplyRequest, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return &NotFoundError{Resource: "product", ID: req.ProductID.String()}
	case errors.Is(err, repository.ErrInsufficientStock):
		stockErr := &InsufficientStockError{ProductID: req.ProductID, Requested: req.Quantity}
		if p, getErr := tx.GetProduct(ctx, req.ProductID); getErr == nil {
			stockErr.Available = p.StockQuantity
		}
		return stockErr
	}
	return fmt.Errorf("failed to apply %s: %w", req.Type, err)
}

// AdjustStock lets a seller record purchases, returns and absolute
// adjustments against one of their own products.
func (s *InventoryService) AdjustStock(ctx context.Context, caller policy.Caller, productID uuid.UUID, req *AdjustStockRequest) (*models.InventoryTransaction, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationFailed(err)
	}
	txType, _ := models.ParseInventoryTransactionType(req.Type)
	if txType == models.InventoryTransactionSale {
		return nil, invalid("sales are recorded by order submission")
	}

	product, err := s.getProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(caller, policy.ActionWrite, policy.InventoryWrite{Product: product, Type: txType}); err != nil {
		return nil, err
	}

	createdBy := caller.ID
	record, err := s.Apply(ctx, s.repo, ApplyRequest{
		ProductID: productID,
		Type:      txType,
		Quantity:  req.Quantity,
		Reference: req.Reference,
		Notes:     req.Notes,
		CreatedBy: &createdBy,
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"product_id": productID,
		"type":       txType,
		"quantity":   req.Quantity,
		"new_stock":  record.NewStock,
		"seller_id":  caller.ID,
	}).Info("stock adjusted")
	return record, nil
}

// ListTransactions returns a product's ledger, newest first unless asked otherwise.
func (s *InventoryService) ListTransactions(ctx context.Context, caller policy.Caller, productID uuid.UUID, params utils.PaginationParams, txType *models.InventoryTransactionType) (*utils.PaginationResult, error) {
	product, err := s.getProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() {
		if err := policy.Authorize(caller, policy.ActionWrite, product); err != nil {
			return nil, err
		}
	}

	txns, total, err := s.repo.ListInventoryTransactions(ctx, repository.InventoryFilter{
		PaginationParams: params,
		ProductID:        productID,
		Type:             txType,
	})
	if err != nil {
		return nil, err
	}

	result := utils.CreatePaginationResult(txns, total, params)
	return &result, nil
}

// LowStock lists the caller's active products at or below their minimum level.
func (s *InventoryService) LowStock(ctx context.Context, caller policy.Caller, params utils.PaginationParams) (*utils.PaginationResult, error) {
	if !caller.IsSeller() {
		return nil, &policy.AccessDeniedError{
			CallerID: caller.ID, Role: caller.Role, Action: policy.ActionRead,
			Entity: "product", Reason: "only sellers track stock levels",
		}
	}

	sellerID := caller.ID
	products, total, err := s.repo.ListProducts(ctx, repository.ProductFilter{
		PaginationParams: params,
		SellerID:         &sellerID,
		ActiveOnly:       true,
		LowStockOnly:     true,
	})
	if err != nil {
		return nil, err
	}

	result := utils.CreatePaginationResult(products, total, params)
	return &result, nil
}

func (s *InventoryService) getProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "product", ID: id.String()}
	}
	return product, err
}
