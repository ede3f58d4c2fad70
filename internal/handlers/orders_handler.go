package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-fulfillment/internal/idempotency"
	"github.com/imrishuroy/storefront-fulfillment/internal/metrics"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
	"github.com/imrishuroy/storefront-fulfillment/internal/payments"
	"github.com/imrishuroy/storefront-fulfillment/internal/validation"
)

// IdempotencyKeyHeader makes POST /orders replay-safe.
const IdempotencyKeyHeader = "Idempotency-Key"

type createOrderResponse struct {
	OrderID string        `json:"orderId"`
	Order   *orders.Order `json:"order"`
}

func (a *api) createOrder(v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		lines := make([]orders.LineInput, 0, len(req.Items))
		for _, it := range req.Items {
			lines = append(lines, orders.LineInput{ProductID: it.ProductID, Quantity: it.Quantity})
		}
		idempKey := c.GetHeader(IdempotencyKeyHeader)

		order, err := a.cfg.Orders.CreateOrder(ctx, orders.CreateInput{
			UserID:         userID(c),
			Items:          lines,
			Amount:         req.Amount,
			Address:        req.Address,
			IdempotencyKey: idempKey,
		})
		if errors.Is(err, orders.ErrDuplicateRequest) {
			a.replay(c, idempKey)
			return
		}
		if err != nil {
			a.writeError(c, err)
			return
		}
		metrics.OrdersTotal.WithLabelValues(string(order.Status)).Inc()

		resp := createOrderResponse{OrderID: order.OrderID, Order: order}
		if idempKey != "" {
			body, _ := json.Marshal(resp)
			if err := a.cfg.Idempotency.MarkDone(ctx, idempKey, string(body), http.StatusCreated); err != nil {
				a.logger.WithError(err).WithField("order_id", order.OrderID).Warn("idempotency record not completed")
			}
		}
		c.Header("Location", fmt.Sprintf("/orders/%s", order.OrderID))
		c.JSON(http.StatusCreated, resp)
	}
}

// replay answers a repeated create with the stored outcome of the first request.
func (a *api) replay(c *gin.Context, key string) {
	rec, err := a.cfg.Idempotency.Get(c.Request.Context(), key)
	if err != nil {
		a.writeError(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_request"})
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" && json.Valid([]byte(rec.ResponseBody)) {
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"orderId": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "orderId": rec.OrderID})
	default:
		c.JSON(http.StatusConflict, gin.H{"error": "previous_attempt_failed", "orderId": rec.OrderID})
	}
}

type orderView struct {
	*orders.Order
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
	AlreadyRated       bool            `json:"alreadyRated"`
}

func (a *api) getOrder(c *gin.Context) {
	ctx := c.Request.Context()
	o, err := a.cfg.Orders.GetOrder(ctx, c.Param("id"), userID(c))
	if err != nil {
		a.writeError(c, err)
		return
	}
	rated, err := a.cfg.Ratings.AlreadyRated(ctx, o.OrderID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderView{
		Order:              o,
		DiscountPercentage: payments.DiscountPercentage(decimal.NewFromFloat(o.Amount), decimal.NewFromFloat(o.ChargedAmount())),
		AlreadyRated:       rated,
	})
}

func (a *api) confirmCOD(v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.OrderRef
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		o, err := a.cfg.Fulfillment.ConfirmCOD(c.Request.Context(), userID(c), req.OrderID)
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "order confirmed", "order": o})
	}
}

func (a *api) sendOTP(v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.SendOTPRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		expireAt, err := a.cfg.OTP.Send(c.Request.Context(), userID(c), req.OrderID, req.Phone)
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "otp sent", "expireAt": expireAt})
	}
}

func (a *api) verifyOTP(v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.VerifyOTPRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		o, err := a.cfg.OTP.Verify(c.Request.Context(), userID(c), req.OrderID, req.OTP)
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "otp verified", "order": o})
	}
}

func (a *api) cancelOrder(v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.OrderRef
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		o, err := a.cfg.Fulfillment.Cancel(c.Request.Context(), userID(c), req.OrderID, false)
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "order cancelled", "order": o})
	}
}

func (a *api) trackOrder(v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.OrderRef
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		t, err := a.cfg.Fulfillment.Track(c.Request.Context(), userID(c), req.OrderID, isAdmin(c))
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

func (a *api) rateOrder(v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.RatingRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		r, err := a.cfg.Ratings.Rate(c.Request.Context(), userID(c), req.OrderID, req.ProductID, req.Score, req.Description)
		if err != nil {
			a.writeError(c, err)
			return
		}
		a.logger.WithFields(log.Fields{"order_id": r.OrderID, "product_id": r.ProductID}).Debug("rating stored")
		c.JSON(http.StatusCreated, r)
	}
}
