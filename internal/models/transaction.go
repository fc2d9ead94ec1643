// internal/models/transaction.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InventoryTransaction is an append-only stock movement record.
type InventoryTransaction struct {
	ID              uuid.UUID                `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	ProductID       uuid.UUID                `json:"product_id" gorm:"type:uuid;not null;index"`
	TransactionType InventoryTransactionType `json:"transaction_type" gorm:"type:varchar(20);not null;index"`
	Quantity        int                      `json:"quantity" gorm:"not null"`
	PreviousStock   int                      `json:"previous_stock" gorm:"not null"`
	NewStock        int                      `json:"new_stock" gorm:"not null;check:new_stock >= 0"`
	Reference       string                   `json:"reference,omitempty" gorm:"size:100;index"`
	Notes           string                   `json:"notes,omitempty" gorm:"type:text"`
	CreatedBy       *uuid.UUID               `json:"created_by,omitempty" gorm:"type:uuid;index"`
	CreatedAt       time.Time                `json:"created_at" gorm:"index"`
}

func (t *InventoryTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Delta is the signed change this record applied to the product stock.
func (t *InventoryTransaction) Delta() int {
	return t.NewStock - t.PreviousStock
}
