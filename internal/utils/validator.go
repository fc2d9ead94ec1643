// internal/utils/validator.go
package utils

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/javajoker/marketstock/internal/models"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("status_target", validateStatusTarget)
	validate.RegisterValidation("inventory_type", validateInventoryType)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// status_target accepts any status an order can move to, in any letter
// case. pending is where orders start, never a target.
func validateStatusTarget(fl validator.FieldLevel) bool {
	status, ok := models.ParseOrderStatus(fl.Field().String())
	return ok && status != models.OrderStatusPending
}

func validateInventoryType(fl validator.FieldLevel) bool {
	_, ok := models.ParseInventoryTransactionType(fl.Field().String())
	return ok
}

// Validation tags for common fields
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "email":
		return "Invalid email format"
	case "min":
		if e.Kind() == reflect.Slice {
			return e.Field() + " must contain at least " + e.Param() + " entries"
		}
		if e.Kind() == reflect.String {
			return e.Field() + " must be at least " + e.Param() + " characters"
		}
		return e.Field() + " must be at least " + e.Param()
	case "max":
		if e.Kind() == reflect.String {
			return e.Field() + " must be at most " + e.Param() + " characters"
		}
		return e.Field() + " must be at most " + e.Param()
	case "status_target":
		return "Status must be one of confirmed, shipped, delivered, cancelled"
	case "inventory_type":
		return "Transaction type must be one of purchase, sale, adjustment, return"
	default:
		return e.Field() + " is invalid"
	}
}
