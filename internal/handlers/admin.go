// internal/handlers/admin.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketstock/internal/services"
	"github.com/javajoker/marketstock/internal/utils"
)

type AdminHandler struct {
	adminService *services.AdminService
	log          *logrus.Logger
}

func NewAdminHandler(adminService *services.AdminService, log *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		log:          log,
	}
}

// GET /admin/dashboard/stats
func (h *AdminHandler) GetDashboardStats(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	stats, err := h.adminService.GetDashboardStats(c.Request.Context(), caller)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"stats": stats,
	})
}

// GET /admin/audit-logs
func (h *AdminHandler) GetAuditLogs(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	filter := services.AdminAuditFilter{
		PaginationParams: utils.GetPaginationParams(c),
		ResourceType:     c.Query("resource_type"),
	}

	if userIDStr := c.Query("user_id"); userIDStr != "" {
		if userID, err := uuid.Parse(userIDStr); err == nil {
			filter.UserID = &userID
		}
	}

	if resourceIDStr := c.Query("resource_id"); resourceIDStr != "" {
		if resourceID, err := uuid.Parse(resourceIDStr); err == nil {
			filter.ResourceID = &resourceID
		}
	}

	result, err := h.adminService.GetAuditLogs(c.Request.Context(), caller, filter)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	utils.PaginatedResponse(c, *result)
}
