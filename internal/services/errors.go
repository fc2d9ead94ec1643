// internal/services/errors.go
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/javajoker/marketstock/internal/models"
	"github.com/javajoker/marketstock/internal/utils"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrCollision         = errors.New("order number collision")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrPriceChanged      = errors.New("price changed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOrderNotPending   = errors.New("order is no longer pending")
)

// NotFoundError names the missing resource so the HTTP layer can localize it.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type ValidationError struct {
	Message string
	Fields  []utils.ValidationError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed: " + e.Message
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// validationFailed turns a validator error into a ValidationError.
func validationFailed(err error) error {
	fields := utils.GetValidationErrors(err)
	if len(fields) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	return &ValidationError{Fields: fields}
}

// InsufficientStockError is raised by pre-validation and by the conditional
// decrement. It is never retried.
type InsufficientStockError struct {
	ProductID uuid.UUID `json:"product_id"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
	Inactive  bool      `json:"inactive,omitempty"`
}

func (e *InsufficientStockError) Error() string {
	if e.Inactive {
		return fmt.Sprintf("product %s is not active", e.ProductID)
	}
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// CollisionError is a duplicate order number. It is retried by the order
// coordinator and only reaches callers once retries are exhausted.
type CollisionError struct {
	OrderNumber string
	Err         error
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("order number %s already taken", e.OrderNumber)
}

func (e *CollisionError) Is(target error) bool { return target == ErrCollision }

func (e *CollisionError) Unwrap() error { return e.Err }

type PriceChangedError struct {
	ProductID uuid.UUID       `json:"product_id"`
	Submitted decimal.Decimal `json:"submitted_price"`
	Current   decimal.Decimal `json:"current_price"`
}

func (e *PriceChangedError) Error() string {
	return fmt.Sprintf("price of product %s changed: submitted %s, current %s",
		e.ProductID, e.Submitted.StringFixed(2), e.Current.StringFixed(2))
}

func (e *PriceChangedError) Is(target error) bool { return target == ErrPriceChanged }

type InvalidTransitionError struct {
	From   models.OrderStatus
	To     models.OrderStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// PartialApplicationWarning records a stock movement that failed while the
// order itself was kept. Only produced in best-effort stock mode.
type PartialApplicationWarning struct {
	OrderNumber string    `json:"order_number"`
	ProductID   uuid.UUID `json:"product_id"`
	Quantity    int       `json:"quantity"`
	Reason      string    `json:"reason"`
}

func (w PartialApplicationWarning) Error() string {
	return fmt.Sprintf("order %s: stock for product %s (qty %d) not applied: %s",
		w.OrderNumber, w.ProductID, w.Quantity, w.Reason)
}
