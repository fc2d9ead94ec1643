package policy

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/javajoker/marketstock/internal/models"
)

func TestAuthorize(t *testing.T) {
	buyer := Caller{ID: uuid.New(), Role: models.UserRoleBuyer}
	otherBuyer := Caller{ID: uuid.New(), Role: models.UserRoleBuyer}
	seller := Caller{ID: uuid.New(), Role: models.UserRoleSeller}
	otherSeller := Caller{ID: uuid.New(), Role: models.UserRoleSeller}
	admin := Caller{ID: uuid.New(), Role: models.UserRoleAdmin}

	order := &models.Order{BuyerID: buyer.ID, SellerID: seller.ID}
	active := &models.Product{SellerID: seller.ID, IsActive: true}
	inactive := &models.Product{SellerID: seller.ID, IsActive: false}

	tests := []struct {
		name   string
		caller Caller
		action Action
		entity interface{}
		allow  bool
	}{
		{"buyer reads own order", buyer, ActionRead, order, true},
		{"seller reads own sale", seller, ActionRead, order, true},
		{"admin reads any order", admin, ActionRead, order, true},
		{"stranger buyer reads order", otherBuyer, ActionRead, order, false},
		{"stranger seller reads order", otherSeller, ActionRead, order, false},

		{"buyer creates for self", buyer, ActionCreate, NewOrder{BuyerID: buyer.ID}, true},
		{"buyer creates for someone else", buyer, ActionCreate, NewOrder{BuyerID: otherBuyer.ID}, false},
		{"seller creates order", seller, ActionCreate, NewOrder{BuyerID: seller.ID}, false},

		{"seller updates status", seller, ActionUpdateStatus, order, true},
		{"buyer updates status", buyer, ActionUpdateStatus, order, false},
		{"other seller updates status", otherSeller, ActionUpdateStatus, order, false},
		{"admin updates status", admin, ActionUpdateStatus, order, false},

		{"seller amends items", seller, ActionModifyItems, order, true},
		{"buyer amends items", buyer, ActionModifyItems, order, false},

		{"seller reads own inactive product", seller, ActionRead, inactive, true},
		{"other seller reads product", otherSeller, ActionRead, active, false},
		{"buyer reads active product", buyer, ActionRead, active, true},
		{"buyer reads inactive product", buyer, ActionRead, inactive, false},
		{"admin reads inactive product", admin, ActionRead, inactive, true},

		{"seller writes own product", seller, ActionWrite, active, true},
		{"other seller writes product", otherSeller, ActionWrite, active, false},
		{"buyer writes product", buyer, ActionWrite, active, false},

		{"seller adjusts own stock", seller, ActionWrite, InventoryWrite{Product: active, Type: models.InventoryTransactionAdjustment}, true},
		{"other seller adjusts stock", otherSeller, ActionWrite, InventoryWrite{Product: active, Type: models.InventoryTransactionAdjustment}, false},
		{"buyer sale from own order", buyer, ActionWrite, InventoryWrite{Product: active, Type: models.InventoryTransactionSale, FromOwnOrder: true}, true},
		{"buyer sale outside an order", buyer, ActionWrite, InventoryWrite{Product: active, Type: models.InventoryTransactionSale}, false},
		{"buyer adjustment", buyer, ActionWrite, InventoryWrite{Product: active, Type: models.InventoryTransactionAdjustment, FromOwnOrder: true}, false},
		{"buyer return", buyer, ActionWrite, InventoryWrite{Product: active, Type: models.InventoryTransactionReturn, FromOwnOrder: true}, false},

		{"unauthenticated", Caller{}, ActionRead, active, false},
		{"unknown role", Caller{ID: uuid.New(), Role: "guest"}, ActionRead, active, false},
		{"unknown entity", seller, ActionRead, "nope", false},
		{"unsupported action", buyer, ActionUpdateStatus, active, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.caller, tt.action, tt.entity)
			if tt.allow {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrAccessDenied)
			var denied *AccessDeniedError
			assert.True(t, errors.As(err, &denied))
			assert.Equal(t, tt.action, denied.Action)
		})
	}
}

func TestAccessDeniedErrorMessage(t *testing.T) {
	c := Caller{ID: uuid.New(), Role: models.UserRoleBuyer}
	err := CanCreateOrder(c, uuid.New())
	assert.EqualError(t, err, "access denied: buyer may not create order: buyer id does not match caller")
}
