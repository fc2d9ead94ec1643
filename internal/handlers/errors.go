// internal/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketstock/internal/i18n"
	"github.com/javajoker/marketstock/internal/models"
	"github.com/javajoker/marketstock/internal/policy"
	"github.com/javajoker/marketstock/internal/services"
	"github.com/javajoker/marketstock/internal/utils"
)

// callerFrom reads the identity AuthRequired stored on the context.
func callerFrom(c *gin.Context) (policy.Caller, bool) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		return policy.Caller{}, false
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return policy.Caller{}, false
	}
	userType, _ := utils.GetUserTypeFromContext(c)
	return policy.Caller{ID: id, Role: models.UserRole(userType)}, true
}

// mustCaller writes a 401 and returns false when the request carries no caller.
func mustCaller(c *gin.Context) (policy.Caller, bool) {
	caller, ok := callerFrom(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
	}
	return caller, ok
}

func parseID(c *gin.Context, param, resource string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		lang := utils.GetLangFromContext(c)
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, resource+" id"), nil)
		return uuid.Nil, false
	}
	return id, true
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		lang := utils.GetLangFromContext(c)
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}
	return true
}

// respondError maps service errors onto the response envelope.
func respondError(c *gin.Context, log *logrus.Logger, err error) {
	lang := utils.GetLangFromContext(c)

	var (
		validationErr *services.ValidationError
		notFoundErr   *services.NotFoundError
		stockErr      *services.InsufficientStockError
		priceErr      *services.PriceChangedError
		transitionErr *services.InvalidTransitionError
		checkoutErr   *services.CheckoutError
	)

	var created interface{}
	if errors.As(err, &checkoutErr) {
		created = checkoutErr.Created
	}

	switch {
	case errors.As(err, &validationErr):
		if len(validationErr.Fields) > 0 {
			utils.ValidationErrorResponse(c, validationErr.Fields)
			return
		}
		utils.BadRequestResponse(c, validationErr.Message, created)
	case errors.Is(err, policy.ErrAccessDenied):
		utils.ForbiddenResponse(c, "")
	case errors.As(err, &notFoundErr):
		utils.NotFoundResponse(c, notFoundErr.Resource)
	case errors.As(err, &stockErr):
		utils.UnprocessableEntityResponse(c, i18n.T(lang, i18n.KeyInventoryInsufficient), withCreated(stockErr, created))
	case errors.As(err, &priceErr):
		utils.ConflictResponse(c, "PRICE_CHANGED", i18n.T(lang, i18n.KeyOrderPriceChanged), withCreated(priceErr, created))
	case errors.Is(err, services.ErrCollision):
		utils.ConflictResponse(c, "ORDER_NUMBER_COLLISION", i18n.T(lang, i18n.KeyOrderNumberCollision), created)
	case errors.As(err, &transitionErr):
		utils.ConflictResponse(c, "INVALID_TRANSITION", i18n.T(lang, i18n.KeyOrderInvalidTransition, string(transitionErr.From), string(transitionErr.To)), created)
	case errors.Is(err, services.ErrOrderNotPending):
		utils.ConflictResponse(c, "ORDER_NOT_PENDING", i18n.T(lang, i18n.KeyOrderNotPending), created)
	default:
		log.WithError(err).WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"path":       c.FullPath(),
		}).Error("request failed")
		if created != nil {
			utils.ErrorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", created)
			return
		}
		utils.InternalErrorResponse(c, "")
	}
}

func withCreated(detail interface{}, created interface{}) interface{} {
	if created == nil {
		return detail
	}
	return gin.H{"error": detail, "created_orders": created}
}
