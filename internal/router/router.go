// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/javajoker/marketstock/internal/config"
	"github.com/javajoker/marketstock/internal/handlers"
	"github.com/javajoker/marketstock/internal/i18n"
	"github.com/javajoker/marketstock/internal/middleware"
	"github.com/javajoker/marketstock/internal/models"
	"github.com/javajoker/marketstock/internal/ordernum"
	"github.com/javajoker/marketstock/internal/repository"
	"github.com/javajoker/marketstock/internal/services"
	"github.com/javajoker/marketstock/internal/utils"
)

const version = "1.0.0"

// Router is the HTTP surface plus the background limiters it owns.
type Router struct {
	Engine   *gin.Engine
	limiters []*middleware.RateLimiter
}

// Close stops the limiter cleanup goroutines.
func (r *Router) Close() {
	for _, l := range r.limiters {
		l.Stop()
	}
}

func Initialize(repo repository.Repository, cfg *config.Config, log *logrus.Logger, orderOpts ...services.OrderOption) *Router {
	// Initialize services
	inventoryService := services.NewInventoryService(repo, log)
	productService := services.NewProductService(repo, inventoryService, log)
	orderService := services.NewOrderService(repo, inventoryService, ordernum.NewGenerator(), cfg.Orders, log, orderOpts...)
	adminService := services.NewAdminService(repo, log)

	// Initialize handlers
	orderHandler := handlers.NewOrderHandler(orderService, log)
	productHandler := handlers.NewProductHandler(productService, log)
	inventoryHandler := handlers.NewInventoryHandler(inventoryService, log)
	adminHandler := handlers.NewAdminHandler(adminService, log)

	utils.SetJWTSecret(cfg.JWT.SecretKey)
	utils.SetJWTIssuer(cfg.JWT.Issuer)

	general := middleware.NewRateLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst, middleware.ByClientIP)
	perMinute := cfg.RateLimit.OrdersPerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	placing := middleware.NewRateLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute, middleware.ByCaller)

	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	r.Use(middleware.I18nMiddleware())
	r.Use(general.Middleware())
	r.Use(middleware.AuditLogMiddleware(repo, log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "healthy",
			"version":    version,
			"stock_mode": cfg.Orders.StockMode,
			"languages":  i18n.GetSupportedLanguages(),
		})
	})

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthRequired())
	{
		buyers := middleware.RoleRequired(models.UserRoleBuyer)
		sellers := middleware.RoleRequired(models.UserRoleSeller)

		v1.POST("/checkout", buyers, placing.Middleware(), orderHandler.Checkout)

		orders := v1.Group("/orders")
		{
			orders.POST("", buyers, placing.Middleware(), orderHandler.SubmitOrder)
			orders.GET("", orderHandler.ListOrders)
			orders.GET("/number/:number", orderHandler.GetOrderByNumber)
			orders.GET("/:id", orderHandler.GetOrder)
			orders.PUT("/:id/status", sellers, orderHandler.UpdateOrderStatus)
			orders.POST("/:id/items", sellers, orderHandler.AddItem)
			orders.PUT("/:id/items/:itemId", sellers, orderHandler.UpdateItem)
			orders.DELETE("/:id/items/:itemId", sellers, orderHandler.RemoveItem)
		}

		products := v1.Group("/products")
		{
			products.GET("", productHandler.GetProducts)
			products.GET("/low-stock", sellers, inventoryHandler.LowStock)
			products.GET("/:id", productHandler.GetProduct)
			products.POST("", sellers, productHandler.CreateProduct)
			products.PUT("/:id", sellers, productHandler.UpdateProduct)
			products.POST("/:id/inventory", sellers, inventoryHandler.RecordMovement)
			products.GET("/:id/inventory", inventoryHandler.ListTransactions)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.RoleRequired(models.UserRoleAdmin))
		{
			admin.GET("/dashboard/stats", adminHandler.GetDashboardStats)
			admin.GET("/audit-logs", adminHandler.GetAuditLogs)
		}
	}

	return &Router{Engine: r, limiters: []*middleware.RateLimiter{general, placing}}
}
