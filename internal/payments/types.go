// Package payments integrates the payment gateways: the primary online rail, the Stripe
// rail, signature verification and the checkout operations that price an order for payment.
package payments

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
)

// Rail names.
const (
	RailOnline = "online"
	RailStripe = "stripe"
)

// EventKind is the normalized outcome of a gateway notification.
type EventKind string

const (
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "failed"
	EventIgnored   EventKind = "ignored"
)

// Customer is forwarded to the gateway for receipts and payment links.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// IntentRequest asks a rail to open a payment for an order.
type IntentRequest struct {
	OrderID   string
	OrderCode string
	Amount    decimal.Decimal // major units, already discounted
	Customer  Customer
}

// Intent is what the client needs to complete checkout.
type Intent struct {
	Rail               string          `json:"rail"`
	GatewayOrderID     string          `json:"gatewayOrderId"`
	KeyID              string          `json:"keyId,omitempty"`
	ClientSecret       string          `json:"clientSecret,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	AmountMinor        int64           `json:"amountMinor"`
	Currency           string          `json:"currency"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
}

// PaymentLink is a hosted payment page for an order.
type PaymentLink struct {
	ID     string          `json:"id"`
	URL    string          `json:"url"`
	Amount decimal.Decimal `json:"amount"`
}

// RefundRequest refunds a captured payment.
type RefundRequest struct {
	OrderID   string
	PaymentID string
	Amount    decimal.Decimal
}

// Refund is the gateway refund record.
type Refund struct {
	ID     string
	Status string
}

// Event is a verified, normalized webhook notification.
type Event struct {
	ID             string
	Rail           string
	Kind           EventKind
	Type           string // gateway event type, for logs
	GatewayOrderID string
	PaymentID      string
	OrderID        string // our order id when the gateway echoes it back
}

// Rail is implemented by every payment gateway integration.
type Rail interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	ParseWebhook(body []byte, header http.Header) (*Event, error)
	Refund(ctx context.Context, req RefundRequest) (*Refund, error)
}
