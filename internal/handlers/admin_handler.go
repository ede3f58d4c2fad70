package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
	"github.com/imrishuroy/storefront-fulfillment/internal/validation"
)

func (a *api) listOrders(c *gin.Context) {
	var f orders.Filter
	if s := c.Query("status"); s != "" {
		st, ok := orders.ParseStatus(s)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": map[string]string{"status": "unknown status"}})
			return
		}
		f.Status = st
	}
	if s := c.Query("paymentStatus"); s != "" {
		ps, ok := orders.ParsePaymentStatus(s)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": map[string]string{"paymentStatus": "unknown payment status"}})
			return
		}
		f.PaymentStatus = ps
	}
	f.UserID = c.Query("userId")

	list, err := a.cfg.Orders.ListOrders(c.Request.Context(), f)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list, "count": len(list)})
}

func (a *api) orderStats(c *gin.Context) {
	st, err := a.cfg.Orders.Stats(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (a *api) updateStatus(v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.UpdateStatusRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		o, err := a.cfg.Orders.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status, req.PaymentStatus)
		if err != nil {
			a.writeError(c, err)
			return
		}
		a.logger.WithField("order_id", o.OrderID).WithField("status", o.Status).Info("order status overridden")
		c.JSON(http.StatusOK, o)
	}
}

func (a *api) retryShipment(c *gin.Context) {
	o, err := a.cfg.Fulfillment.RetryShipment(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (a *api) adminCancel(c *gin.Context) {
	o, err := a.cfg.Fulfillment.Cancel(c.Request.Context(), userID(c), c.Param("id"), true)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (a *api) getDiscount(c *gin.Context) {
	pct, err := a.cfg.Settings.OnlineDiscount(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"percentage": pct})
}

func (a *api) setDiscount(v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.DiscountRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		pct := decimal.NewFromFloat(*req.Percentage).Round(2)
		if err := a.cfg.Settings.SetOnlineDiscount(c.Request.Context(), pct); err != nil {
			a.writeError(c, err)
			return
		}
		a.logger.WithField("percentage", pct.String()).Info("online discount updated")
		c.JSON(http.StatusOK, gin.H{"percentage": pct})
	}
}
