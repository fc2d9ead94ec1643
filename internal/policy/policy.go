// Package policy holds the per-role, per-entity access rules. Services call
// it before every read or write; the storage layer never filters rows on
// the caller's behalf.
package policy

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/javajoker/marketstock/internal/models"
)

var ErrAccessDenied = errors.New("access denied")

type Action string

const (
	ActionRead         Action = "read"
	ActionCreate       Action = "create"
	ActionWrite        Action = "write"
	ActionUpdateStatus Action = "update_status"
	ActionModifyItems  Action = "modify_items"
)

// Caller is the authenticated identity performing a request.
type Caller struct {
	ID   uuid.UUID
	Role models.UserRole
}

func (c Caller) IsBuyer() bool  { return c.Role == models.UserRoleBuyer }
func (c Caller) IsSeller() bool { return c.Role == models.UserRoleSeller }
func (c Caller) IsAdmin() bool  { return c.Role == models.UserRoleAdmin }

// AccessDeniedError is never retried and always reaches the caller.
type AccessDeniedError struct {
	CallerID uuid.UUID
	Role     models.UserRole
	Action   Action
	Entity   string
	Reason   string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: %s may not %s %s: %s", e.Role, e.Action, e.Entity, e.Reason)
}

func (e *AccessDeniedError) Is(target error) bool {
	return target == ErrAccessDenied
}

func deny(c Caller, action Action, entity, reason string) error {
	return &AccessDeniedError{CallerID: c.ID, Role: c.Role, Action: action, Entity: entity, Reason: reason}
}

// NewOrder describes an order that does not exist yet.
type NewOrder struct {
	BuyerID  uuid.UUID
	SellerID uuid.UUID
}

// InventoryWrite describes a proposed stock movement.
type InventoryWrite struct {
	Product *models.Product
	Type    models.InventoryTransactionType
	// FromOwnOrder is set when the movement is a direct consequence of the
	// caller's own order submission.
	FromOwnOrder bool
}

// Authorize dispatches on the entity type. It returns nil to allow.
func Authorize(c Caller, action Action, entity interface{}) error {
	if c.ID == uuid.Nil || !c.Role.Valid() {
		return deny(c, action, "resource", "unauthenticated caller")
	}

	switch e := entity.(type) {
	case *models.Order:
		switch action {
		case ActionRead:
			return CanReadOrder(c, e)
		case ActionUpdateStatus:
			return CanUpdateOrderStatus(c, e)
		case ActionModifyItems:
			return CanModifyOrderItems(c, e)
		}
	case NewOrder:
		if action == ActionCreate {
			return CanCreateOrder(c, e.BuyerID)
		}
	case *models.Product:
		switch action {
		case ActionRead:
			return CanReadProduct(c, e)
		case ActionWrite:
			return CanWriteProduct(c, e)
		}
	case InventoryWrite:
		if action == ActionWrite {
			return CanWriteInventoryTransaction(c, e)
		}
	}

	return deny(c, action, fmt.Sprintf("%T", entity), "no policy")
}

func CanReadOrder(c Caller, o *models.Order) error {
	if c.IsAdmin() || c.ID == o.BuyerID || c.ID == o.SellerID {
		return nil
	}
	return deny(c, ActionRead, "order", "caller is neither buyer nor seller")
}

func CanCreateOrder(c Caller, buyerID uuid.UUID) error {
	if !c.IsBuyer() {
		return deny(c, ActionCreate, "order", "only buyers may place orders")
	}
	if c.ID != buyerID {
		return deny(c, ActionCreate, "order", "buyer id does not match caller")
	}
	return nil
}

func CanUpdateOrderStatus(c Caller, o *models.Order) error {
	if c.ID != o.SellerID {
		return deny(c, ActionUpdateStatus, "order", "only the order's seller may change its status")
	}
	return nil
}

func CanModifyOrderItems(c Caller, o *models.Order) error {
	if c.ID != o.SellerID {
		return deny(c, ActionModifyItems, "order", "only the order's seller may amend items")
	}
	return nil
}

func CanReadProduct(c Caller, p *models.Product) error {
	switch {
	case c.IsAdmin():
		return nil
	case c.IsSeller():
		if c.ID == p.SellerID {
			return nil
		}
		return deny(c, ActionRead, "product", "sellers may only read their own products")
	case c.IsBuyer():
		if p.IsActive {
			return nil
		}
		return deny(c, ActionRead, "product", "product is not active")
	}
	return deny(c, ActionRead, "product", "unknown role")
}

func CanWriteProduct(c Caller, p *models.Product) error {
	if c.IsSeller() && c.ID == p.SellerID {
		return nil
	}
	return deny(c, ActionWrite, "product", "only the owning seller may modify a product")
}

func CanWriteInventoryTransaction(c Caller, w InventoryWrite) error {
	switch {
	case c.IsSeller():
		if w.Product != nil && c.ID == w.Product.SellerID {
			return nil
		}
		return deny(c, ActionWrite, "inventory_transaction", "sellers may only move stock of their own products")
	case c.IsBuyer():
		if w.Type == models.InventoryTransactionSale && w.FromOwnOrder {
			return nil
		}
		return deny(c, ActionWrite, "inventory_transaction", "buyers may only record sales from their own orders")
	}
	return deny(c, ActionWrite, "inventory_transaction", "role may not move stock")
}
