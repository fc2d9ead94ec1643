// internal/models/product.go
package models

import (
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Product.StockQuantity is written only by the stock ledger.
type Product struct {
	BaseModel
	SellerID      uuid.UUID       `json:"seller_id" gorm:"type:uuid;not null;index"`
	Name          string          `json:"name" gorm:"size:255;not null"`
	Description   string          `json:"description" gorm:"type:text"`
	Category      string          `json:"category" gorm:"size:100;index"`
	Tags          pq.StringArray  `json:"tags" gorm:"type:text[]"`
	Price         decimal.Decimal `json:"price" gorm:"type:decimal(12,2);not null"`
	Cost          decimal.Decimal `json:"cost" gorm:"type:decimal(12,2);not null;default:0"`
	StockQuantity int             `json:"stock_quantity" gorm:"not null;default:0;check:stock_quantity >= 0"`
	MinStockLevel int             `json:"min_stock_level" gorm:"not null;default:0"`
	IsActive      bool            `json:"is_active" gorm:"not null;default:true;index"`

	// Relationships
	Seller *User `json:"seller,omitempty" gorm:"foreignKey:SellerID"`
}

func (p *Product) IsLowStock() bool {
	return p.StockQuantity <= p.MinStockLevel
}
