// internal/services/admin_service.go
package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketstock/internal/models"
	"github.com/javajoker/marketstock/internal/policy"
	"github.com/javajoker/marketstock/internal/repository"
	"github.com/javajoker/marketstock/internal/utils"
)

type AdminService struct {
	repo repository.Repository
	log  *logrus.Logger
}

type AdminDashboardStats struct {
	OrdersByStatus   map[models.OrderStatus]int64 `json:"orders_by_status"`
	TotalOrders      int64                        `json:"total_orders"`
	ActiveProducts   int64                        `json:"active_products"`
	LowStockProducts int64                        `json:"low_stock_products"`
}

type AdminAuditFilter struct {
	utils.PaginationParams
	UserID       *uuid.UUID
	ResourceType string
	ResourceID   *uuid.UUID
}

func NewAdminService(repo repository.Repository, log *logrus.Logger) *AdminService {
	return &AdminService{
		repo: repo,
		log:  log,
	}
}

func requireAdmin(caller policy.Caller, entity string) error {
	if caller.IsAdmin() {
		return nil
	}
	return &policy.AccessDeniedError{
		CallerID: caller.ID, Role: caller.Role, Action: policy.ActionRead,
		Entity: entity, Reason: "admin only",
	}
}

// GetDashboardStats counts orders per status and flags active products at or
// below their minimum stock level.
func (s *AdminService) GetDashboardStats(ctx context.Context, caller policy.Caller) (*AdminDashboardStats, error) {
	if err := requireAdmin(caller, "dashboard"); err != nil {
		return nil, err
	}

	one := utils.PaginationParams{Page: 1, Limit: 1}
	stats := &AdminDashboardStats{OrdersByStatus: make(map[models.OrderStatus]int64)}

	statuses := []models.OrderStatus{
		models.OrderStatusPending, models.OrderStatusConfirmed, models.OrderStatusShipped,
		models.OrderStatusDelivered, models.OrderStatusCancelled,
	}
	for _, status := range statuses {
		status := status
		_, count, err := s.repo.ListOrders(ctx, repository.OrderFilter{PaginationParams: one, Status: &status})
		if err != nil {
			return nil, err
		}
		stats.OrdersByStatus[status] = count
		stats.TotalOrders += count
	}

	_, active, err := s.repo.ListProducts(ctx, repository.ProductFilter{PaginationParams: one, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	stats.ActiveProducts = active

	_, low, err := s.repo.ListProducts(ctx, repository.ProductFilter{PaginationParams: one, ActiveOnly: true, LowStockOnly: true})
	if err != nil {
		return nil, err
	}
	stats.LowStockProducts = low

	return stats, nil
}

func (s *AdminService) GetAuditLogs(ctx context.Context, caller policy.Caller, filter AdminAuditFilter) (*utils.PaginationResult, error) {
	if err := requireAdmin(caller, "audit_log"); err != nil {
		return nil, err
	}

	logs, total, err := s.repo.ListAuditLogs(ctx, repository.AuditFilter{
		PaginationParams: filter.PaginationParams,
		UserID:           filter.UserID,
		ResourceType:     filter.ResourceType,
		ResourceID:       filter.ResourceID,
	})
	if err != nil {
		return nil, err
	}

	result := utils.CreatePaginationResult(logs, total, filter.PaginationParams)
	return &result, nil
}
