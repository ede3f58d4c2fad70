package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/storefront-fulfillment/internal/payments"
	"github.com/imrishuroy/storefront-fulfillment/internal/validation"
)

func (a *api) createIntent(v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.PaymentIntentRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		rail := req.Rail
		if rail == "" {
			rail = payments.RailOnline
		}
		intent, err := a.cfg.Payments.CreateIntent(c.Request.Context(), userID(c), req.OrderID, rail)
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, intent)
	}
}

func (a *api) verifyPayment(v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.VerifyPaymentRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		o, err := a.cfg.Fulfillment.VerifyPayment(c.Request.Context(), userID(c), req.GatewayOrderID, req.PaymentID, req.Signature)
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "payment verified", "order": o})
	}
}

func (a *api) createPaymentLink(v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.OrderRef
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		link, err := a.cfg.Payments.CreatePaymentLink(c.Request.Context(), userID(c), req.OrderID)
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, link)
	}
}
