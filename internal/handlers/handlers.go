// Package handlers exposes the fulfillment services over gin.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-fulfillment/internal/fulfillment"
	"github.com/imrishuroy/storefront-fulfillment/internal/idempotency"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
	"github.com/imrishuroy/storefront-fulfillment/internal/payments"
	"github.com/imrishuroy/storefront-fulfillment/internal/ratings"
	"github.com/imrishuroy/storefront-fulfillment/internal/shipping"
	"github.com/imrishuroy/storefront-fulfillment/internal/validation"
)

// OrderService is implemented by *orders.Service.
type OrderService interface {
	CreateOrder(ctx context.Context, in orders.CreateInput) (*orders.Order, error)
	GetOrder(ctx context.Context, orderID, userID string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, orderID, status, paymentStatus string) (*orders.Order, error)
	ListOrders(ctx context.Context, filter orders.Filter) ([]orders.AdminOrder, error)
	Stats(ctx context.Context) (*orders.Stats, error)
}

// PaymentService is implemented by *payments.Service.
type PaymentService interface {
	CreateIntent(ctx context.Context, userID, orderID, rail string) (*payments.Intent, error)
	CreatePaymentLink(ctx context.Context, userID, orderID string) (*payments.PaymentLink, error)
	Rail(name string) (payments.Rail, bool)
}

// OTPService is implemented by *otp.Service.
type OTPService interface {
	Send(ctx context.Context, userID, orderID, phone string) (time.Time, error)
	Verify(ctx context.Context, userID, orderID, input string) (*orders.Order, error)
}

// FulfillmentService is implemented by *fulfillment.Service.
type FulfillmentService interface {
	ConfirmCOD(ctx context.Context, userID, orderID string) (*orders.Order, error)
	Cancel(ctx context.Context, userID, orderID string, admin bool) (*orders.Order, error)
	Track(ctx context.Context, userID, orderID string, admin bool) (*shipping.Tracking, error)
	VerifyPayment(ctx context.Context, userID, gatewayOrderID, paymentID, signature string) (*orders.Order, error)
	HandlePaymentEvent(ctx context.Context, ev *payments.Event) error
	HandleShipmentWebhook(ctx context.Context, u fulfillment.ShipmentUpdate) error
	RetryShipment(ctx context.Context, orderID string) (*orders.Order, error)
}

// RatingService is implemented by *ratings.Service.
type RatingService interface {
	Rate(ctx context.Context, userID, orderID, productID string, score int, description string) (*ratings.Rating, error)
	AlreadyRated(ctx context.Context, orderID string) (bool, error)
}

// DiscountSettings is implemented by *settings.Store.
type DiscountSettings interface {
	OnlineDiscount(ctx context.Context) (decimal.Decimal, error)
	SetOnlineDiscount(ctx context.Context, pct decimal.Decimal) error
}

// IdempotencyRecords is implemented by *idempotency.Store.
type IdempotencyRecords interface {
	Get(ctx context.Context, key string) (*idempotency.Record, error)
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
}

// HandlerConfig groups the dependencies of the HTTP surface.
type HandlerConfig struct {
	Orders      OrderService
	Payments    PaymentService
	OTP         OTPService
	Fulfillment FulfillmentService
	Ratings     RatingService
	Settings    DiscountSettings
	Idempotency IdempotencyRecords
	Logger      *log.Logger

	// CarrierWebhookToken, when set, must be presented in the carrier webhook's
	// X-Api-Key header.
	CarrierWebhookToken string
}

type api struct {
	cfg    HandlerConfig
	logger *log.Entry
}

// RegisterRoutes mounts the order, payment, webhook and admin routes on r.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	a := &api{cfg: cfg, logger: logger.WithField("component", "http")}
	v := validation.New()

	user := r.Group("/", Identity())
	user.POST("/orders", a.createOrder(v))
	user.GET("/orders/:id", a.getOrder)
	user.POST("/orders/cod/confirm", a.confirmCOD(v))
	user.POST("/orders/otp/send", a.sendOTP(v))
	user.POST("/orders/otp/verify", a.verifyOTP(v))
	user.POST("/orders/cancel", a.cancelOrder(v))
	user.POST("/orders/track", a.trackOrder(v))
	user.POST("/orders/ratings", a.rateOrder(v))
	user.POST("/payments/intent", a.createIntent(v))
	user.POST("/payments/verify", a.verifyPayment(v))
	user.POST("/payments/link", a.createPaymentLink(v))

	hooks := r.Group("/webhooks")
	hooks.POST("/payments/:rail", a.paymentWebhook)
	hooks.POST("/shipments", a.shipmentWebhook(v))

	admin := r.Group("/admin", Identity(), RequireAdmin())
	admin.GET("/orders", a.listOrders)
	admin.GET("/orders/stats", a.orderStats)
	admin.PUT("/orders/:id/status", a.updateStatus(v))
	admin.POST("/orders/:id/shipment/retry", a.retryShipment)
	admin.POST("/orders/:id/cancel", a.adminCancel)
	admin.GET("/settings/online-discount", a.getDiscount)
	admin.PUT("/settings/online-discount", a.setDiscount(v))
}
