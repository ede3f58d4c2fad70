// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RazorpayConfig configures the primary online payment rail.
type RazorpayConfig struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Currency      string
}

// StripeConfig configures the secondary payment rail. The rail is disabled when SecretKey is empty.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

// WhatsAppConfig configures OTP delivery through the WhatsApp Cloud API.
type WhatsAppConfig struct {
	BaseURL       string
	PhoneNumberID string
	AccessToken   string
	TemplateName  string
	LanguageCode  string
	CountryCode   string // prefixed to 10 digit local numbers
}

// CarrierConfig configures the shipment carrier client.
type CarrierConfig struct {
	BaseURL        string
	Email          string
	Password       string
	PickupLocation string
	CourierName    string
	TestMode       bool
	TokenTTL       time.Duration
	Timeout        time.Duration
	// WebhookToken is the shared secret the carrier sends on status webhooks.
	WebhookToken string
}

// AppConfig aggregates runtime configuration; everything is injected through the environment.
type AppConfig struct {
	HTTPAddr string
	RunLocal bool
	LogLevel string

	OrdersTable      string
	UsersTable       string
	ProductsTable    string
	OTPTable         string
	RatingsTable     string
	IdempotencyTable string
	IdempotencyTTL   time.Duration

	AlertsQueueURL   string
	MetricsNamespace string

	RedisAddr string
	RedisDB   int

	Razorpay RazorpayConfig
	Stripe   StripeConfig
	WhatsApp WhatsAppConfig
	Carrier  CarrierConfig

	HTTPClientTimeout time.Duration
	OTPExpiration     time.Duration
}

// Load reads and validates configuration, falling back to defaults for unset values.
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		OrdersTable:      getEnv("ORDERS_TABLE", "orders"),
		UsersTable:       getEnv("USERS_TABLE", "users"),
		ProductsTable:    getEnv("PRODUCTS_TABLE", "products"),
		OTPTable:         getEnv("OTP_TABLE", "order_otps"),
		RatingsTable:     getEnv("RATINGS_TABLE", "ratings"),
		IdempotencyTable: getEnv("IDEMPOTENCY_TABLE", "idempotency"),

		AlertsQueueURL:   getEnv("ALERTS_QUEUE_URL", ""),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "Storefront/Fulfillment"),

		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),

		Razorpay: RazorpayConfig{
			BaseURL:       getEnv("RAZORPAY_BASE_URL", "https://api.razorpay.com"),
			KeyID:         getEnv("RAZORPAY_KEY_ID", ""),
			KeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
			WebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
			Currency:      getEnv("RAZORPAY_CURRENCY", "INR"),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Currency:      strings.ToLower(getEnv("STRIPE_CURRENCY", "inr")),
		},
		WhatsApp: WhatsAppConfig{
			BaseURL:       getEnv("WHATSAPP_BASE_URL", "https://graph.facebook.com/v19.0"),
			PhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
			AccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
			TemplateName:  getEnv("WHATSAPP_TEMPLATE_NAME", "order_otp"),
			LanguageCode:  getEnv("WHATSAPP_LANGUAGE_CODE", "en"),
			CountryCode:   getEnv("WHATSAPP_COUNTRY_CODE", "91"),
		},
		Carrier: CarrierConfig{
			BaseURL:        getEnv("CARRIER_BASE_URL", "https://apiv2.shiprocket.in"),
			Email:          getEnv("CARRIER_EMAIL", ""),
			Password:       getEnv("CARRIER_PASSWORD", ""),
			PickupLocation: getEnv("CARRIER_PICKUP_LOCATION", "Primary"),
			CourierName:    getEnv("CARRIER_COURIER_NAME", "Shiprocket"),
			WebhookToken:   getEnv("CARRIER_WEBHOOK_TOKEN", ""),
		},
	}

	var err error
	if cfg.RunLocal, err = getEnvBool("RUN_LOCAL", false); err != nil {
		return AppConfig{}, fmt.Errorf("invalid RUN_LOCAL: %w", err)
	}
	if cfg.Carrier.TestMode, err = getEnvBool("CARRIER_TEST_MODE", false); err != nil {
		return AppConfig{}, fmt.Errorf("invalid CARRIER_TEST_MODE: %w", err)
	}
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"IDEMPOTENCY_TTL", 48 * time.Hour, &cfg.IdempotencyTTL},
		{"CARRIER_TOKEN_TTL", 24 * time.Hour, &cfg.Carrier.TokenTTL},
		{"CARRIER_TIMEOUT", 10 * time.Second, &cfg.Carrier.Timeout},
		{"HTTP_CLIENT_TIMEOUT", 5 * time.Second, &cfg.HTTPClientTimeout},
		{"OTP_EXPIRATION_TIME", 10 * time.Minute, &cfg.OTPExpiration},
	}
	for _, d := range durations {
		v, err := getEnvDuration(d.key, d.fallback)
		if err != nil {
			return AppConfig{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if v <= 0 {
			return AppConfig{}, fmt.Errorf("%s must be > 0", d.key)
		}
		*d.dst = v
	}

	for key, v := range map[string]string{
		"ORDERS_TABLE":      cfg.OrdersTable,
		"USERS_TABLE":       cfg.UsersTable,
		"PRODUCTS_TABLE":    cfg.ProductsTable,
		"OTP_TABLE":         cfg.OTPTable,
		"RATINGS_TABLE":     cfg.RatingsTable,
		"IDEMPOTENCY_TABLE": cfg.IdempotencyTable,
	} {
		if v == "" {
			return AppConfig{}, fmt.Errorf("%s must not be empty", key)
		}
	}
	if !cfg.Carrier.TestMode && (cfg.Carrier.Email == "") != (cfg.Carrier.Password == "") {
		return AppConfig{}, fmt.Errorf("CARRIER_EMAIL and CARRIER_PASSWORD must be set together")
	}

	return cfg, nil
}

// getEnv reads a string variable, returning fallback when unset or blank.
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt reads an integer variable, returning fallback when unset.
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}
