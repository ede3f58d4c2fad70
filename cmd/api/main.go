package main

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-fulfillment/internal/alerts"
	"github.com/imrishuroy/storefront-fulfillment/internal/aws"
	"github.com/imrishuroy/storefront-fulfillment/internal/catalog"
	"github.com/imrishuroy/storefront-fulfillment/internal/config"
	"github.com/imrishuroy/storefront-fulfillment/internal/fulfillment"
	"github.com/imrishuroy/storefront-fulfillment/internal/handlers"
	"github.com/imrishuroy/storefront-fulfillment/internal/idempotency"
	"github.com/imrishuroy/storefront-fulfillment/internal/logging"
	"github.com/imrishuroy/storefront-fulfillment/internal/metrics"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
	"github.com/imrishuroy/storefront-fulfillment/internal/otp"
	"github.com/imrishuroy/storefront-fulfillment/internal/payments"
	"github.com/imrishuroy/storefront-fulfillment/internal/ratings"
	"github.com/imrishuroy/storefront-fulfillment/internal/settings"
	"github.com/imrishuroy/storefront-fulfillment/internal/shipping"
)

const serviceName = "storefront-api"

func setupRouter(logger *log.Logger, cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.RequestLogger(logger), metrics.PrometheusMiddleware(serviceName))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterRoutes(r, cfg)

	return r
}

func buildHandlerConfig(cfg config.AppConfig, clients *aws.Clients, rdb *redis.Client, logger *log.Logger) (handlers.HandlerConfig, error) {
	orderStore := orders.NewStore(clients.DynamoDB, cfg.OrdersTable, cfg.UsersTable)
	eventStore := idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	discounts := settings.NewStore(rdb)

	orderSvc := orders.NewService(orderStore, catalog.NewStore(clients.DynamoDB, cfg.ProductsTable),
		orders.IdempotencyConfig{Table: cfg.IdempotencyTable, TTL: cfg.IdempotencyTTL}, logger)

	online := payments.NewOnline(payments.OnlineConfig{
		BaseURL:       cfg.Razorpay.BaseURL,
		KeyID:         cfg.Razorpay.KeyID,
		KeySecret:     cfg.Razorpay.KeySecret,
		WebhookSecret: cfg.Razorpay.WebhookSecret,
		Currency:      cfg.Razorpay.Currency,
		Timeout:       cfg.HTTPClientTimeout,
	}, logger)

	var stripeRail *payments.Stripe
	if cfg.Stripe.SecretKey != "" {
		var err error
		stripeRail, err = payments.NewStripe(payments.StripeRailConfig{
			APIKey:        cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Currency:      cfg.Stripe.Currency,
			Logger: func(_ context.Context, event string, fields map[string]any) {
				logger.WithFields(fields).WithField("rail", payments.RailStripe).Info(event)
			},
		})
		if err != nil {
			return handlers.HandlerConfig{}, err
		}
	}
	paymentSvc := payments.NewService(orderStore, discounts, online, stripeRail, logger)

	whatsapp := otp.NewWhatsApp(otp.WhatsAppConfig{
		BaseURL:       cfg.WhatsApp.BaseURL,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		AccessToken:   cfg.WhatsApp.AccessToken,
		TemplateName:  cfg.WhatsApp.TemplateName,
		LanguageCode:  cfg.WhatsApp.LanguageCode,
		CountryCode:   cfg.WhatsApp.CountryCode,
		Timeout:       cfg.HTTPClientTimeout,
	})
	otpSvc := otp.NewService(otp.NewStore(clients.DynamoDB, cfg.OTPTable), orderStore, whatsapp, cfg.OTPExpiration, logger)

	carrier := shipping.NewClient(shipping.Config{
		BaseURL:        cfg.Carrier.BaseURL,
		Email:          cfg.Carrier.Email,
		Password:       cfg.Carrier.Password,
		PickupLocation: cfg.Carrier.PickupLocation,
		CourierName:    cfg.Carrier.CourierName,
		TestMode:       cfg.Carrier.TestMode,
		TokenTTL:       cfg.Carrier.TokenTTL,
		Timeout:        cfg.Carrier.Timeout,
	}, logger)

	var notifier alerts.Notifier = alerts.NewLog(logger)
	if cfg.AlertsQueueURL != "" {
		notifier = alerts.NewQueue(aws.NewPublisher(clients.SQS, cfg.AlertsQueueURL))
	}

	fulfillmentSvc := fulfillment.NewService(fulfillment.Deps{
		Orders:   orderStore,
		Carrier:  carrier,
		Refunds:  paymentSvc,
		Verifier: online,
		Events:   eventStore,
		Alerts:   notifier,
	}, logger)

	return handlers.HandlerConfig{
		Orders:      orderSvc,
		Payments:    paymentSvc,
		OTP:         otpSvc,
		Fulfillment: fulfillmentSvc,
		Ratings:     ratings.NewService(ratings.NewStore(clients.DynamoDB, cfg.RatingsTable), orderStore, logger),
		Settings:    discounts,
		Idempotency: eventStore,
		Logger:      logger,

		CarrierWebhookToken: cfg.Carrier.WebhookToken,
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := logging.Setup(cfg.LogLevel)

	clients, err := aws.NewClients(context.Background())
	if err != nil {
		logger.Fatalf("failed to init aws clients: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()

	hcfg, err := buildHandlerConfig(cfg, clients, rdb, logger)
	if err != nil {
		logger.Fatalf("failed to wire services: %v", err)
	}
	r := setupRouter(logger, hcfg)

	// RUN_LOCAL=true serves plain HTTP for development.
	if cfg.RunLocal {
		logger.WithField("addr", cfg.HTTPAddr).Info("running local server")
		if err := r.Run(cfg.HTTPAddr); err != nil {
			logger.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
