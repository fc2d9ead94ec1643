// internal/handlers/order.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketstock/internal/i18n"
	"github.com/javajoker/marketstock/internal/services"
	"github.com/javajoker/marketstock/internal/utils"
)

type OrderHandler struct {
	orderService *services.OrderService
	log          *logrus.Logger
}

func NewOrderHandler(orderService *services.OrderService, log *logrus.Logger) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		log:          log,
	}
}

// POST /orders
func (h *OrderHandler) SubmitOrder(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	var req services.SubmitOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	req.BuyerID = caller.ID

	result, err := h.orderService.SubmitOrder(c.Request.Context(), caller, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	lang := utils.GetLangFromContext(c)
	body := gin.H{
		"message": i18n.T(lang, i18n.KeyOrderPlaced),
		"order":   result.Order,
	}
	if len(result.Warnings) > 0 {
		body["message"] = i18n.T(lang, i18n.KeyOrderPartialStock)
		body["warnings"] = result.Warnings
	}
	utils.CreatedResponse(c, body)
}

// POST /checkout
func (h *OrderHandler) Checkout(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	var req services.CheckoutRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.orderService.Checkout(c.Request.Context(), caller, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyOrderPlaced),
		"orders":  result.Orders,
	})
}

// GET /orders
func (h *OrderHandler) ListOrders(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	result, err := h.orderService.ListOrders(c.Request.Context(), caller, params, c.Query("status"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	utils.PaginatedResponse(c, *result)
}

// GET /orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id", "order")
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), caller, id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"order": order})
}

// GET /orders/number/:number
func (h *OrderHandler) GetOrderByNumber(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	order, err := h.orderService.GetOrderByNumber(c.Request.Context(), caller, c.Param("number"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"order": order})
}

// PUT /orders/:id/status
func (h *OrderHandler) UpdateOrderStatus(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id", "order")
	if !ok {
		return
	}

	var req services.UpdateOrderStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.orderService.UpdateOrderStatus(c.Request.Context(), caller, id, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyOrderStatusUpdated),
		"order":   order,
	})
}

// POST /orders/:id/items
func (h *OrderHandler) AddItem(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id", "order")
	if !ok {
		return
	}

	var req services.OrderItemRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.orderService.AddItem(c.Request.Context(), caller, id, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"order": order})
}

// PUT /orders/:id/items/:itemId
func (h *OrderHandler) UpdateItem(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id", "order")
	if !ok {
		return
	}
	itemID, ok := parseID(c, "itemId", "order item")
	if !ok {
		return
	}

	var req services.UpdateItemQuantityRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.orderService.UpdateItemQuantity(c.Request.Context(), caller, id, itemID, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"order": order})
}

// DELETE /orders/:id/items/:itemId
func (h *OrderHandler) RemoveItem(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id", "order")
	if !ok {
		return
	}
	itemID, ok := parseID(c, "itemId", "order item")
	if !ok {
		return
	}

	order, err := h.orderService.RemoveItem(c.Request.Context(), caller, id, itemID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"order": order})
}
