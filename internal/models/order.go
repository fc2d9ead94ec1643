// internal/models/order.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Order struct {
	BaseModel
	BuyerID         uuid.UUID       `json:"buyer_id" gorm:"type:uuid;not null;index"`
	SellerID        uuid.UUID       `json:"seller_id" gorm:"type:uuid;not null;index"`
	OrderNumber     string          `json:"order_number" gorm:"size:64;not null;uniqueIndex:idx_orders_order_number"`
	Status          OrderStatus     `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	TotalAmount     decimal.Decimal `json:"total_amount" gorm:"type:decimal(12,2);not null;default:0"`
	ShippingAddress string          `json:"buyer_shipping_address" gorm:"type:text"`
	Notes           string          `json:"notes" gorm:"type:text"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty"`
	ShippedAt       *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`

	// Relationships
	Items []OrderItem `json:"items,omitempty" gorm:"foreignKey:OrderID"`
}

type OrderItem struct {
	BaseModel
	OrderID    uuid.UUID       `json:"order_id" gorm:"type:uuid;not null;index"`
	ProductID  uuid.UUID       `json:"product_id" gorm:"type:uuid;not null;index"`
	Quantity   int             `json:"quantity" gorm:"not null;check:quantity > 0"`
	UnitPrice  decimal.Decimal `json:"unit_price" gorm:"type:decimal(12,2);not null"`
	TotalPrice decimal.Decimal `json:"total_price" gorm:"type:decimal(12,2);not null"`
}

// NewOrderItem snapshots the unit price and derives the line total.
func NewOrderItem(orderID, productID uuid.UUID, quantity int, unitPrice decimal.Decimal) OrderItem {
	return OrderItem{
		OrderID:    orderID,
		ProductID:  productID,
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		TotalPrice: unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusShipped, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered},
}

func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MarkStatus sets the status and stamps the matching timestamp.
func (o *Order) MarkStatus(status OrderStatus, at time.Time) {
	o.Status = status
	switch status {
	case OrderStatusConfirmed:
		o.ConfirmedAt = &at
	case OrderStatusShipped:
		o.ShippedAt = &at
	case OrderStatusDelivered:
		o.DeliveredAt = &at
	case OrderStatusCancelled:
		o.CancelledAt = &at
	}
}

// SumItems returns the total of the line items currently loaded on the order.
func SumItems(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.TotalPrice)
	}
	return total
}
