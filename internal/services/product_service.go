// internal/services/product_service.go
package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketstock/internal/models"
	"github.com/javajoker/marketstock/internal/policy"
	"github.com/javajoker/marketstock/internal/repository"
	"github.com/javajoker/marketstock/internal/utils"
)

type ProductService struct {
	repo      repository.Repository
	inventory *InventoryService
	log       *logrus.Logger
}

type CreateProductRequest struct {
	Name          string          `json:"name" validate:"required,min=2,max=255"`
	Description   string          `json:"description,omitempty"`
	Category      string          `json:"category,omitempty" validate:"max=100"`
	Tags          []string        `json:"tags,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Cost          decimal.Decimal `json:"cost"`
	InitialStock  int             `json:"stock_quantity" validate:"min=0"`
	MinStockLevel int             `json:"min_stock_level" validate:"min=0"`
	IsActive      *bool           `json:"is_active,omitempty"`
}

// UpdateProductRequest has no stock field: stock moves only through the ledger.
type UpdateProductRequest struct {
	Name          *string          `json:"name,omitempty" validate:"omitempty,min=2,max=255"`
	Description   *string          `json:"description,omitempty"`
	Category      *string          `json:"category,omitempty" validate:"omitempty,max=100"`
	Tags          []string         `json:"tags,omitempty"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	Cost          *decimal.Decimal `json:"cost,omitempty"`
	MinStockLevel *int             `json:"min_stock_level,omitempty" validate:"omitempty,min=0"`
	IsActive      *bool            `json:"is_active,omitempty"`
}

func NewProductService(repo repository.Repository, inventory *InventoryService, log *logrus.Logger) *ProductService {
	return &ProductService{
		repo:      repo,
		inventory: inventory,
		log:       log,
	}
}

// CreateProduct stores a product with zero stock and books any opening
// stock as a purchase, so the ledger explains every unit from the start.
func (s *ProductService) CreateProduct(ctx context.Context, caller policy.Caller, req *CreateProductRequest) (*models.Product, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationFailed(err)
	}
	if !req.Price.IsPositive() {
		return nil, invalid("price must be greater than zero")
	}
	if req.Cost.IsNegative() {
		return nil, invalid("cost must not be negative")
	}

	product := &models.Product{
		SellerID:      caller.ID,
		Name:          req.Name,
		Description:   req.Description,
		Category:      req.Category,
		Tags:          req.Tags,
		Price:         req.Price,
		Cost:          req.Cost,
		MinStockLevel: req.MinStockLevel,
		IsActive:      req.IsActive == nil || *req.IsActive,
	}
	if err := policy.Authorize(caller, policy.ActionWrite, product); err != nil {
		return nil, err
	}

	err := s.repo.Transaction(ctx, func(tx repository.Repository) error {
		if err := tx.CreateProduct(ctx, product); err != nil {
			return err
		}
		if req.InitialStock == 0 {
			return nil
		}
		createdBy := caller.ID
		record, err := s.inventory.Apply(ctx, tx, ApplyRequest{
			ProductID: product.ID,
			Type:      models.InventoryTransactionPurchase,
			Quantity:  req.InitialStock,
			Notes:     "opening stock",
			CreatedBy: &createdBy,
		})
		if err != nil {
			return err
		}
		product.StockQuantity = record.NewStock
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"product_id": product.ID,
		"seller_id":  caller.ID,
		"stock":      product.StockQuantity,
	}).Info("product created")
	return product, nil
}

func (s *ProductService) GetProduct(ctx context.Context, caller policy.Caller, id uuid.UUID) (*models.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "product", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(caller, policy.ActionRead, product); err != nil {
		return nil, err
	}
	return product, nil
}

// ListProducts shows sellers their own catalog and buyers every active product.
func (s *ProductService) ListProducts(ctx context.Context, caller policy.Caller, params utils.PaginationParams) (*utils.PaginationResult, error) {
	filter := repository.ProductFilter{PaginationParams: params}
	switch {
	case caller.IsSeller():
		filter.SellerID = &caller.ID
	case caller.IsBuyer():
		filter.ActiveOnly = true
	case caller.IsAdmin():
	default:
		return nil, policy.Authorize(caller, policy.ActionRead, &models.Product{})
	}

	products, total, err := s.repo.ListProducts(ctx, filter)
	if err != nil {
		return nil, err
	}
	result := utils.CreatePaginationResult(products, total, params)
	return &result, nil
}

// UpdateProduct edits descriptive and pricing fields. Existing order lines
// keep the price they were created with.
func (s *ProductService) UpdateProduct(ctx context.Context, caller policy.Caller, id uuid.UUID, req *UpdateProductRequest) (*models.Product, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationFailed(err)
	}
	if req.Price != nil && !req.Price.IsPositive() {
		return nil, invalid("price must be greater than zero")
	}
	if req.Cost != nil && req.Cost.IsNegative() {
		return nil, invalid("cost must not be negative")
	}

	var updated *models.Product
	err := s.repo.Transaction(ctx, func(tx repository.Repository) error {
		product, err := tx.GetProduct(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return &NotFoundError{Resource: "product", ID: id.String()}
		}
		if err != nil {
			return err
		}
		if err := policy.Authorize(caller, policy.ActionWrite, product); err != nil {
			return err
		}

		updated, err = tx.UpdateProduct(ctx, id, repository.ProductChanges{
			Name:          req.Name,
			Description:   req.Description,
			Category:      req.Category,
			Tags:          req.Tags,
			Price:         req.Price,
			Cost:          req.Cost,
			MinStockLevel: req.MinStockLevel,
			IsActive:      req.IsActive,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
