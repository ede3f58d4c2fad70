package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
)

// DiscountSource provides the online payment discount percentage.
type DiscountSource interface {
	OnlineDiscount(ctx context.Context) (decimal.Decimal, error)
}

// Service prices orders for online payment and records gateway correlation on the order.
type Service struct {
	orders    *orders.Store
	discounts DiscountSource
	online    *Online
	stripe    *Stripe // nil when the Stripe rail is not configured
	logger    *log.Entry
}

// NewService wires the checkout service. stripe may be nil.
func NewService(store *orders.Store, discounts DiscountSource, online *Online, stripe *Stripe, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{
		orders:    store,
		discounts: discounts,
		online:    online,
		stripe:    stripe,
		logger:    logger.WithField("component", "payments"),
	}
}

// Online returns the primary rail.
func (s *Service) Online() *Online { return s.online }

// Rail returns the rail registered under name.
func (s *Service) Rail(name string) (Rail, bool) {
	switch name {
	case "", RailOnline:
		return s.online, true
	case RailStripe:
		if s.stripe != nil {
			return s.stripe, true
		}
	}
	return nil, false
}

// payable loads the order for userID and checks it can still be paid.
func (s *Service) payable(ctx context.Context, userID, orderID string) (*orders.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperr.NotFound("order", orderID)
	}
	if o.UserID != userID {
		return nil, apperr.ErrAuthorization
	}
	return o, checkPayable(o)
}

func checkPayable(o *orders.Order) error {
	if o.PaymentStatus == orders.PaymentPaid || o.PaymentStatus == orders.PaymentRefunded {
		return apperr.ErrAlreadyPaid
	}
	if o.Status != orders.StatusPending {
		return apperr.Validation("orderId", fmt.Sprintf("order is %s and cannot be paid online", o.Status))
	}
	return nil
}

// price returns the discounted charge and the percentage used. The amount always comes
// from the persisted order.
func (s *Service) price(ctx context.Context, o *orders.Order) (decimal.Decimal, decimal.Decimal, error) {
	pct, err := s.discounts.OnlineDiscount(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return ApplyDiscount(decimal.NewFromFloat(o.Amount), pct), pct, nil
}

func customerOf(o *orders.Order) Customer {
	return Customer{
		Name:  strings.TrimSpace(o.Address.FirstName + " " + o.Address.LastName),
		Email: o.Address.Email,
		Phone: o.Address.Phone,
	}
}

// CreateIntent opens a payment for the order on the named rail.
func (s *Service) CreateIntent(ctx context.Context, userID, orderID, railName string) (*Intent, error) {
	rail, ok := s.Rail(railName)
	if !ok {
		return nil, apperr.Validation("rail", fmt.Sprintf("unsupported payment rail %q", railName))
	}
	o, err := s.payable(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	charge, pct, err := s.price(ctx, o)
	if err != nil {
		return nil, err
	}

	intent, err := rail.CreateIntent(ctx, IntentRequest{
		OrderID:   o.OrderID,
		OrderCode: o.Code,
		Amount:    charge,
		Customer:  customerOf(o),
	})
	if err != nil {
		return nil, err
	}
	intent.DiscountPercentage = pct

	_, err = s.orders.Update(ctx, o.OrderID, func(cur *orders.Order) error {
		if err := checkPayable(cur); err != nil {
			return err
		}
		cur.DiscountAmount = discountField(charge, pct)
		cur.GatewayRail = rail.Name()
		cur.GatewayOrderID = intent.GatewayOrderID
		if rail.Name() == RailStripe {
			cur.PaymentIntentID = intent.GatewayOrderID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":         o.OrderID,
		"rail":             rail.Name(),
		"gateway_order_id": intent.GatewayOrderID,
		"charge":           charge.StringFixed(2),
		"discount_pct":     pct.String(),
	}).Info("payment intent created")
	return intent, nil
}

// CreatePaymentLink creates a hosted payment link on the online rail.
func (s *Service) CreatePaymentLink(ctx context.Context, userID, orderID string) (*PaymentLink, error) {
	o, err := s.payable(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	charge, pct, err := s.price(ctx, o)
	if err != nil {
		return nil, err
	}
	link, err := s.online.CreatePaymentLink(ctx, IntentRequest{
		OrderID:   o.OrderID,
		OrderCode: o.Code,
		Amount:    charge,
		Customer:  customerOf(o),
	})
	if err != nil {
		return nil, err
	}
	_, err = s.orders.Update(ctx, o.OrderID, func(cur *orders.Order) error {
		if err := checkPayable(cur); err != nil {
			return err
		}
		cur.DiscountAmount = discountField(charge, pct)
		cur.GatewayRail = RailOnline
		cur.PaymentLinkID = link.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(log.Fields{"order_id": o.OrderID, "payment_link_id": link.ID}).Info("payment link created")
	return link, nil
}

// Refund refunds the charged amount of a paid order on the rail that collected it.
func (s *Service) Refund(ctx context.Context, o *orders.Order) (*Refund, error) {
	rail, ok := s.Rail(o.GatewayRail)
	if !ok {
		return nil, apperr.External(apperr.StepRefund, fmt.Errorf("rail %q not configured", o.GatewayRail))
	}
	paymentID := o.GatewayPaymentID
	if rail.Name() == RailStripe && o.PaymentIntentID != "" {
		paymentID = o.PaymentIntentID
	}
	return rail.Refund(ctx, RefundRequest{
		OrderID:   o.OrderID,
		PaymentID: paymentID,
		Amount:    decimal.NewFromFloat(o.ChargedAmount()),
	})
}

// RefundPayment refunds a single gateway payment on the named rail. A zero Amount refunds
// the payment in full.
func (s *Service) RefundPayment(ctx context.Context, railName string, req RefundRequest) (*Refund, error) {
	rail, ok := s.Rail(railName)
	if !ok {
		return nil, apperr.External(apperr.StepRefund, fmt.Errorf("rail %q not configured", railName))
	}
	return rail.Refund(ctx, req)
}

// discountField is the value persisted as DiscountAmount: the charged figure, only when a
// discount applied.
func discountField(charge, pct decimal.Decimal) float64 {
	if pct.IsZero() {
		return 0
	}
	return charge.InexactFloat64()
}
