package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/resilience"
)

// Online rail webhook headers.
const (
	SignatureHeader = "X-Razorpay-Signature"
	EventIDHeader   = "X-Razorpay-Event-Id"
)

// OnlineConfig configures the online gateway client.
type OnlineConfig struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Currency      string
	Timeout       time.Duration
}

// Online is the primary payment rail: a Razorpay-style orders/payments REST API.
type Online struct {
	cfg     OnlineConfig
	client  *resty.Client
	breaker *resilience.CircuitBreaker
	logger  *log.Entry
}

// NewOnline returns the online rail client.
func NewOnline(cfg OnlineConfig, logger *log.Logger) *Online {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetBasicAuth(cfg.KeyID, cfg.KeySecret).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(0) // callers decide; the breaker guards the gateway
	return &Online{
		cfg:     cfg,
		client:  client,
		breaker: resilience.NewCircuitBreaker("payment-gateway", "fulfillment", resilience.Settings{}),
		logger:  logger.WithField("rail", RailOnline),
	}
}

// Name implements Rail.
func (o *Online) Name() string { return RailOnline }

// KeyID is the public key the checkout widget needs.
func (o *Online) KeyID() string { return o.cfg.KeyID }

type gatewayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// post sends body to path through the breaker and decodes the response into out.
func (o *Online) post(ctx context.Context, step apperr.Step, path string, body, out any) error {
	_, err := o.breaker.Execute(func() (any, error) {
		resp, httpErr := o.client.R().
			SetContext(ctx).
			SetBody(body).
			Post(path)
		if httpErr != nil {
			return nil, fmt.Errorf("HTTP error: %w", httpErr)
		}
		if resp.IsError() {
			var ge gatewayError
			_ = json.Unmarshal(resp.Body(), &ge)
			return nil, fmt.Errorf("gateway returned status %d: %s %s", resp.StatusCode(), ge.Error.Code, ge.Error.Description)
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return apperr.External(step, err)
	}
	return nil
}

type gatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// CreateIntent creates a gateway order for req.Amount.
func (o *Online) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	minor := ToMinor(req.Amount)
	receipt := req.OrderCode
	if len(receipt) > 40 {
		receipt = receipt[:40]
	}
	var out gatewayOrder
	err := o.post(ctx, apperr.StepGateway, "/v1/orders", map[string]any{
		"amount":   minor,
		"currency": o.cfg.Currency,
		"receipt":  receipt,
		"notes":    map[string]string{"order_id": req.OrderID},
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, apperr.External(apperr.StepGateway, errors.New("gateway order id missing"))
	}
	o.logger.WithFields(log.Fields{
		"order_id":         req.OrderID,
		"gateway_order_id": out.ID,
		"amount_minor":     minor,
	}).Info("gateway order created")
	return &Intent{
		Rail:           RailOnline,
		GatewayOrderID: out.ID,
		KeyID:          o.cfg.KeyID,
		Amount:         req.Amount,
		AmountMinor:    minor,
		Currency:       o.cfg.Currency,
	}, nil
}

type gatewayLink struct {
	ID       string `json:"id"`
	ShortURL string `json:"short_url"`
	Status   string `json:"status"`
}

// CreatePaymentLink creates a hosted payment link for req.Amount.
func (o *Online) CreatePaymentLink(ctx context.Context, req IntentRequest) (*PaymentLink, error) {
	body := map[string]any{
		"amount":       ToMinor(req.Amount),
		"currency":     o.cfg.Currency,
		"reference_id": req.OrderID,
		"description":  "Payment for order " + req.OrderCode,
		"notify":       map[string]bool{"sms": req.Customer.Phone != "", "email": req.Customer.Email != ""},
		"notes":        map[string]string{"order_id": req.OrderID},
	}
	if req.Customer != (Customer{}) {
		body["customer"] = map[string]string{
			"name":    req.Customer.Name,
			"email":   req.Customer.Email,
			"contact": req.Customer.Phone,
		}
	}
	var out gatewayLink
	if err := o.post(ctx, apperr.StepGateway, "/v1/payment_links", body, &out); err != nil {
		return nil, err
	}
	return &PaymentLink{ID: out.ID, URL: out.ShortURL, Amount: req.Amount}, nil
}

type gatewayRefund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Refund refunds req.Amount of the captured payment, or all of it when Amount is zero.
func (o *Online) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if req.PaymentID == "" {
		return nil, apperr.External(apperr.StepRefund, errors.New("no captured payment to refund"))
	}
	body := map[string]any{
		"notes": map[string]string{"order_id": req.OrderID},
	}
	if req.Amount.IsPositive() {
		body["amount"] = ToMinor(req.Amount)
	}
	var out gatewayRefund
	err := o.post(ctx, apperr.StepRefund, "/v1/payments/"+req.PaymentID+"/refund", body, &out)
	if err != nil {
		return nil, err
	}
	return &Refund{ID: out.ID, Status: out.Status}, nil
}

// VerifyCallback checks the checkout callback signature over "gatewayOrderID|paymentID".
func (o *Online) VerifyCallback(gatewayOrderID, paymentID, signature string) error {
	return VerifySignature(o.cfg.KeySecret, CallbackPayload(gatewayOrderID, paymentID), signature)
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string            `json:"id"`
				OrderID string            `json:"order_id"`
				Status  string            `json:"status"`
				Notes   map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID    string            `json:"id"`
				Notes map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"order"`
		PaymentLink struct {
			Entity struct {
				ID          string `json:"id"`
				ReferenceID string `json:"reference_id"`
			} `json:"entity"`
		} `json:"payment_link"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// ParseWebhook verifies the body signature and normalizes the event.
func (o *Online) ParseWebhook(body []byte, header http.Header) (*Event, error) {
	if err := VerifySignature(o.cfg.WebhookSecret, body, header.Get(SignatureHeader)); err != nil {
		return nil, err
	}
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperr.Validation("body", "malformed webhook payload")
	}

	payment := env.Payload.Payment.Entity
	ev := &Event{
		Rail:           RailOnline,
		Type:           env.Event,
		PaymentID:      payment.ID,
		GatewayOrderID: payment.OrderID,
	}
	if ev.GatewayOrderID == "" {
		ev.GatewayOrderID = env.Payload.Order.Entity.ID
	}
	ev.OrderID = firstNonEmpty(
		payment.Notes["order_id"],
		env.Payload.Order.Entity.Notes["order_id"],
		env.Payload.PaymentLink.Entity.ReferenceID,
	)

	switch env.Event {
	case "payment.captured", "order.paid", "payment_link.paid":
		ev.Kind = EventSucceeded
	case "payment.failed":
		ev.Kind = EventFailed
	default:
		ev.Kind = EventIgnored
	}

	ev.ID = header.Get(EventIDHeader)
	if ev.ID == "" {
		// gateways without an event id header: one event per (type, payment)
		ev.ID = fmt.Sprintf("%s:%s:%s", env.Event, ev.GatewayOrderID, ev.PaymentID)
	}
	return ev, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
