package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
)

// StripeSignatureHeader carries the Stripe webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

// StripeLogger defines the logging contract for Stripe rail operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeClients overrides the Stripe API clients, for tests.
type StripeClients struct {
	Intents stripePaymentIntentAPI
	Refunds stripeRefundAPI
}

// StripeRailConfig configures the Stripe rail.
type StripeRailConfig struct {
	APIKey        string
	WebhookSecret string
	Currency      string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clients       *StripeClients
}

// Stripe is the secondary payment rail backed by Stripe PaymentIntents.
type Stripe struct {
	intents       stripePaymentIntentAPI
	refunds       stripeRefundAPI
	webhookSecret string
	currency      string
	logger        StripeLogger
}

// NewStripe constructs the Stripe rail.
func NewStripe(cfg StripeRailConfig) (*Stripe, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients StripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = StripeClients{Intents: sc.PaymentIntents, Refunds: sc.Refunds}
	}
	if clients.Intents == nil || clients.Refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "inr"
	}

	return &Stripe{
		intents:       clients.Intents,
		refunds:       clients.Refunds,
		webhookSecret: cfg.WebhookSecret,
		currency:      currency,
		logger:        logger,
	}, nil
}

// Name implements Rail.
func (s *Stripe) Name() string { return RailStripe }

// CreateIntent creates a PaymentIntent tagged with the order id.
func (s *Stripe) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	minor := ToMinor(req.Amount)
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minor),
		Currency: stripe.String(s.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			"order_id":   req.OrderID,
			"order_code": req.OrderCode,
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(fmt.Sprintf("intent-%s-%d", req.OrderID, minor))
	if req.Customer.Email != "" {
		params.ReceiptEmail = stripe.String(req.Customer.Email)
	}

	intent, err := s.intents.New(params)
	if err != nil {
		return nil, apperr.External(apperr.StepGateway, fmt.Errorf("stripe: create payment intent: %w", err))
	}
	s.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"orderId":       req.OrderID,
		"paymentIntent": intent.ID,
		"amount":        minor,
	})
	return &Intent{
		Rail:           RailStripe,
		GatewayOrderID: intent.ID,
		ClientSecret:   intent.ClientSecret,
		Amount:         req.Amount,
		AmountMinor:    minor,
		Currency:       strings.ToUpper(s.currency),
	}, nil
}

// Refund refunds the PaymentIntent named by req.PaymentID.
func (s *Stripe) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if req.PaymentID == "" {
		return nil, apperr.External(apperr.StepRefund, errors.New("stripe: no payment intent to refund"))
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
		Metadata:      map[string]string{"order_id": req.OrderID},
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + req.PaymentID)
	if req.Amount.IsPositive() {
		params.Amount = stripe.Int64(ToMinor(req.Amount))
	}
	r, err := s.refunds.New(params)
	if err != nil {
		return nil, apperr.External(apperr.StepRefund, fmt.Errorf("stripe: refund payment intent: %w", err))
	}
	s.logger(ctx, "payments.stripe.intent.refunded", map[string]any{
		"paymentIntent": req.PaymentID,
		"refund":        r.ID,
	})
	return &Refund{ID: r.ID, Status: string(r.Status)}, nil
}

// ParseWebhook verifies the Stripe-Signature header and normalizes payment intent events.
func (s *Stripe) ParseWebhook(body []byte, header http.Header) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(body, header.Get(StripeSignatureHeader), s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidSignature, err)
	}

	out := &Event{ID: ev.ID, Rail: RailStripe, Type: string(ev.Type), Kind: EventIgnored}
	switch string(ev.Type) {
	case "payment_intent.succeeded":
		out.Kind = EventSucceeded
	case "payment_intent.payment_failed":
		out.Kind = EventFailed
	default:
		return out, nil
	}
	if ev.Data == nil {
		return nil, apperr.Validation("body", "missing event data")
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return nil, apperr.Validation("body", "malformed payment intent")
	}
	out.GatewayOrderID = pi.ID
	out.PaymentID = pi.ID
	out.OrderID = pi.Metadata["order_id"]
	return out, nil
}
