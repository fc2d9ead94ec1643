// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Authentication
	KeyAuthRequired     = "auth.required"
	KeyAuthInvalidToken = "auth.invalid_token"
	KeyAccessDenied     = "auth.access_denied"
	KeyRateLimited      = "rate_limit.exceeded"

	// Products
	KeyProductCreated  = "product.created"
	KeyProductUpdated  = "product.updated"
	KeyProductNotFound = "product.not_found" // resolved as <resource>.not_found

	// Orders
	KeyOrderPlaced            = "order.placed"
	KeyOrderNotFound          = "order.not_found"
	KeyOrderItemNotFound      = "order_item.not_found"
	KeyOrderStatusUpdated     = "order.status_updated"
	KeyOrderInvalidTransition = "order.invalid_transition"
	KeyOrderNotPending        = "order.not_pending"
	KeyOrderNumberCollision   = "order.number_collision"
	KeyOrderPriceChanged      = "order.price_changed"
	KeyOrderPartialStock      = "order.partial_stock"

	// Inventory
	KeyInventoryInsufficient = "inventory.insufficient"
	KeyInventoryRecorded     = "inventory.recorded"

	// Validation
	KeyValidationInvalid = "validation.invalid"
)
