// internal/handlers/product.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketstock/internal/i18n"
	"github.com/javajoker/marketstock/internal/services"
	"github.com/javajoker/marketstock/internal/utils"
)

type ProductHandler struct {
	productService *services.ProductService
	log            *logrus.Logger
}

func NewProductHandler(productService *services.ProductService, log *logrus.Logger) *ProductHandler {
	return &ProductHandler{
		productService: productService,
		log:            log,
	}
}

// GET /products
func (h *ProductHandler) GetProducts(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	result, err := h.productService.ListProducts(c.Request.Context(), caller, params)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	utils.PaginatedResponse(c, *result)
}

// POST /products
func (h *ProductHandler) CreateProduct(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	var req services.CreateProductRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.productService.CreateProduct(c.Request.Context(), caller, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyProductCreated),
		"product": product,
	})
}

// GET /products/:id
func (h *ProductHandler) GetProduct(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id", "product")
	if !ok {
		return
	}

	product, err := h.productService.GetProduct(c.Request.Context(), caller, id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"product": product})
}

// PUT /products/:id
func (h *ProductHandler) UpdateProduct(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id", "product")
	if !ok {
		return
	}

	var req services.UpdateProductRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.productService.UpdateProduct(c.Request.Context(), caller, id, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyProductUpdated),
		"product": product,
	})
}
