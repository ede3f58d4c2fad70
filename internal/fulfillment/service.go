// Package fulfillment drives an order from payment to delivery: payment events, COD
// confirmation, shipment booking, carrier webhooks, tracking and cancellation.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-fulfillment/internal/alerts"
	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/idempotency"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
	"github.com/imrishuroy/storefront-fulfillment/internal/payments"
	"github.com/imrishuroy/storefront-fulfillment/internal/shipping"
)

// staleClaimAfter is how long a booking claim may stay unresolved before an admin retry
// may take it over.
const staleClaimAfter = 5 * time.Minute

// Carrier is the shipment adapter the orchestrator drives.
type Carrier interface {
	Courier() string
	CreateShipment(ctx context.Context, req shipping.ShipmentRequest) (string, error)
	GenerateAWB(ctx context.Context, shipmentID string) (string, error)
	RequestPickup(ctx context.Context, shipmentID string) error
	Track(ctx context.Context, awb string) (*shipping.Tracking, error)
	CancelShipment(ctx context.Context, awb string) error
}

// Refunder refunds the payment collected for an order, or a single gateway payment.
type Refunder interface {
	Refund(ctx context.Context, o *orders.Order) (*payments.Refund, error)
	RefundPayment(ctx context.Context, rail string, req payments.RefundRequest) (*payments.Refund, error)
}

// CallbackVerifier checks checkout callback signatures.
type CallbackVerifier interface {
	VerifyCallback(gatewayOrderID, paymentID, signature string) error
}

// Deps are the collaborators of Service.
type Deps struct {
	Orders   *orders.Store
	Carrier  Carrier
	Refunds  Refunder
	Verifier CallbackVerifier
	Events   *idempotency.Store
	Alerts   alerts.Notifier
}

// Service is the order fulfillment orchestrator.
type Service struct {
	orders   *orders.Store
	carrier  Carrier
	refunds  Refunder
	verifier CallbackVerifier
	events   *idempotency.Store
	alerts   alerts.Notifier
	logger   *log.Entry
	nowFunc  func() time.Time
}

// NewService wires the orchestrator.
func NewService(d Deps, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if d.Alerts == nil {
		d.Alerts = alerts.NewLog(logger)
	}
	return &Service{
		orders:   d.Orders,
		carrier:  d.Carrier,
		refunds:  d.Refunds,
		verifier: d.Verifier,
		events:   d.Events,
		alerts:   d.Alerts,
		logger:   logger.WithField("component", "fulfillment"),
		nowFunc:  time.Now,
	}
}

// owned loads orderID and checks the caller may act on it.
func (s *Service) owned(ctx context.Context, userID, orderID string, admin bool) (*orders.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperr.NotFound("order", orderID)
	}
	if !admin && o.UserID != userID {
		return nil, apperr.ErrAuthorization
	}
	return o, nil
}

func (s *Service) alert(ctx context.Context, a alerts.Alert) {
	if err := s.alerts.Notify(context.WithoutCancel(ctx), a); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"kind": a.Kind, "order_id": a.OrderID}).Error("alert delivery failed")
	}
}

// Track returns the carrier history of a shipped order.
func (s *Service) Track(ctx context.Context, userID, orderID string, admin bool) (*shipping.Tracking, error) {
	o, err := s.owned(ctx, userID, orderID, admin)
	if err != nil {
		return nil, err
	}
	if !o.HasAWB() {
		return nil, apperr.ErrNotShipped
	}
	return s.carrier.Track(ctx, o.Shipping.AWB)
}

// Cancel cancels the order. An existing shipment is cancelled with the carrier first; a
// carrier failure is alerted but does not block the cancellation. Paid online orders are
// refunded.
func (s *Service) Cancel(ctx context.Context, userID, orderID string, admin bool) (*orders.Order, error) {
	o, err := s.owned(ctx, userID, orderID, admin)
	if err != nil {
		return nil, err
	}
	if o.Status == orders.StatusCancelled {
		return o, nil
	}
	if o.Status.Terminal() {
		return nil, apperr.Validation("orderId", fmt.Sprintf("order is %s and cannot be cancelled", o.Status))
	}

	entry := s.logger.WithField("order_id", orderID)
	if o.HasAWB() {
		if err := s.carrier.CancelShipment(ctx, o.Shipping.AWB); err != nil {
			entry.WithError(err).WithField("awb", o.Shipping.AWB).Warn("carrier cancellation failed")
			s.alert(ctx, alerts.Alert{
				Kind:    alerts.KindCarrierCancel,
				Step:    string(apperr.StepCarrierCancel),
				OrderID: orderID,
				AWB:     o.Shipping.AWB,
				Detail:  err.Error(),
			})
		}
	}

	o, err = s.orders.Update(ctx, orderID, func(cur *orders.Order) error {
		return orders.Transition(cur, orders.Event{Kind: orders.EventCancelled})
	})
	if err != nil && !errors.Is(err, orders.ErrAlreadyApplied) {
		if errors.Is(err, orders.ErrIllegalTransition) {
			return nil, apperr.Validation("orderId", fmt.Sprintf("order is %s and cannot be cancelled", o.Status))
		}
		return nil, err
	}
	countStatus(o.Status)
	entry.Info("order cancelled")

	if o.PaymentStatus == orders.PaymentPaid && o.PaymentMethod == orders.MethodOnline {
		o = s.refund(ctx, o)
	}
	return o, nil
}

// refund refunds a cancelled paid order. Failures are alerted and leave the payment paid.
func (s *Service) refund(ctx context.Context, o *orders.Order) *orders.Order {
	entry := s.logger.WithField("order_id", o.OrderID)
	if s.refunds == nil {
		return o
	}
	r, err := s.refunds.Refund(ctx, o)
	if err != nil {
		entry.WithError(err).Error("refund failed")
		s.alert(ctx, alerts.Alert{
			Kind:    alerts.KindRefund,
			Step:    string(apperr.StepRefund),
			OrderID: o.OrderID,
			Detail:  err.Error(),
		})
		return o
	}
	updated, err := s.orders.Update(context.WithoutCancel(ctx), o.OrderID, func(cur *orders.Order) error {
		if err := orders.Transition(cur, orders.Event{Kind: orders.EventRefunded}); err != nil {
			return err
		}
		cur.GatewayRefundID = r.ID
		return nil
	})
	if err != nil {
		if !errors.Is(err, orders.ErrAlreadyApplied) {
			entry.WithError(err).WithField("refund_id", r.ID).Error("refund not recorded")
			s.alert(ctx, alerts.Alert{
				Kind:    alerts.KindRefund,
				Step:    string(apperr.StepRefund),
				OrderID: o.OrderID,
				Detail:  fmt.Sprintf("refund %s issued but not recorded: %v", r.ID, err),
			})
		}
		return o
	}
	entry.WithField("refund_id", r.ID).Info("order refunded")
	return updated
}
