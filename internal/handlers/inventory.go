// internal/handlers/inventory.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketstock/internal/i18n"
	"github.com/javajoker/marketstock/internal/models"
	"github.com/javajoker/marketstock/internal/services"
	"github.com/javajoker/marketstock/internal/utils"
)

type InventoryHandler struct {
	inventoryService *services.InventoryService
	log              *logrus.Logger
}

func NewInventoryHandler(inventoryService *services.InventoryService, log *logrus.Logger) *InventoryHandler {
	return &InventoryHandler{
		inventoryService: inventoryService,
		log:              log,
	}
}

// POST /products/:id/inventory
func (h *InventoryHandler) RecordMovement(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id", "product")
	if !ok {
		return
	}

	var req services.AdjustStockRequest
	if !bindJSON(c, &req) {
		return
	}

	record, err := h.inventoryService.AdjustStock(c.Request.Context(), caller, id, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":     i18n.T(utils.GetLangFromContext(c), i18n.KeyInventoryRecorded),
		"transaction": record,
	})
}

// GET /products/:id/inventory
func (h *InventoryHandler) ListTransactions(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id", "product")
	if !ok {
		return
	}

	var txType *models.InventoryTransactionType
	if raw := c.Query("type"); raw != "" {
		parsed, valid := models.ParseInventoryTransactionType(raw)
		if !valid {
			lang := utils.GetLangFromContext(c)
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "type"), nil)
			return
		}
		txType = &parsed
	}

	params := utils.GetPaginationParams(c)
	result, err := h.inventoryService.ListTransactions(c.Request.Context(), caller, id, params, txType)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	utils.PaginatedResponse(c, *result)
}

// GET /products/low-stock
func (h *InventoryHandler) LowStock(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	result, err := h.inventoryService.LowStock(c.Request.Context(), caller, params)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	utils.PaginatedResponse(c, *result)
}
