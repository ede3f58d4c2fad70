package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
)

// retryLater is the only detail users see for gateway, carrier and messaging failures.
const retryLater = "Something went wrong on our side, please try again later"

// writeError renders err with the status of its kind. Diagnostic detail of external
// failures stays in the logs.
func (a *api) writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	if errors.Is(err, orders.ErrBookingInProgress) ||
		errors.Is(err, orders.ErrIllegalTransition) ||
		errors.Is(err, orders.ErrVersionConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": "the order changed, please retry"})
		return
	}

	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		var ve *apperr.ValidationError
		errors.As(err, &ve)
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": ve.Fields})
	case apperr.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case apperr.KindAuthorization:
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})
	case apperr.KindInvalidSig:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature", "message": "payment verification failed"})
	case apperr.KindExpired:
		c.JSON(http.StatusBadRequest, gin.H{"error": "otp_expired", "message": "the code has expired, request a new one"})
	case apperr.KindMismatch:
		c.JSON(http.StatusBadRequest, gin.H{"error": "otp_mismatch", "message": "the code is incorrect"})
	case apperr.KindNotShipped:
		c.JSON(http.StatusConflict, gin.H{"error": "not_shipped", "message": "the order has not been shipped yet"})
	case apperr.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": err.Error()})
	case apperr.KindExternalService:
		a.logger.WithError(err).WithField("step", apperr.StepOf(err)).Error("external service failure")
		c.JSON(http.StatusBadGateway, gin.H{"error": "service_unavailable", "message": retryLater})
	default:
		a.logger.WithError(err).Error("internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": retryLater})
	}
}
