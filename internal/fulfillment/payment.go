package fulfillment

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-fulfillment/internal/alerts"
	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/idempotency"
	"github.com/imrishuroy/storefront-fulfillment/internal/metrics"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
	"github.com/imrishuroy/storefront-fulfillment/internal/payments"
	"github.com/imrishuroy/storefront-fulfillment/internal/shipping"
)

// ScopePaymentEvent is the idempotency scope of gateway notifications.
const ScopePaymentEvent = "payment_event"

func eventKey(ev *payments.Event) string {
	return fmt.Sprintf("event:%s:%s", ev.Rail, ev.ID)
}

// resolve finds the order a gateway event refers to, or (nil, nil).
func (s *Service) resolve(ctx context.Context, ev *payments.Event) (*orders.Order, error) {
	if ev.GatewayOrderID != "" {
		o, err := s.orders.FindByGatewayOrderID(ctx, ev.GatewayOrderID)
		if err != nil || o != nil {
			return o, err
		}
	}
	if ev.OrderID != "" {
		return s.orders.Get(ctx, ev.OrderID)
	}
	return nil, nil
}

// HandlePaymentEvent applies a verified gateway notification. Each event id is processed
// once; a redelivered event whose first attempt failed is processed again. Shipment booking
// failures are recorded on the order and alerted, not returned: the gateway is always
// acknowledged.
func (s *Service) HandlePaymentEvent(ctx context.Context, ev *payments.Event) error {
	metrics.PaymentEvents.WithLabelValues(ev.Rail, string(ev.Kind)).Inc()
	entry := s.logger.WithFields(log.Fields{
		"rail":             ev.Rail,
		"event_id":         ev.ID,
		"event_type":       ev.Type,
		"gateway_order_id": ev.GatewayOrderID,
	})
	if ev.Kind == payments.EventIgnored {
		entry.Debug("payment event ignored")
		return nil
	}

	o, err := s.resolve(ctx, ev)
	if err != nil {
		return err
	}
	if o == nil {
		entry.Warn("payment event for unknown order dropped")
		return nil
	}
	entry = entry.WithField("order_id", o.OrderID)

	key := eventKey(ev)
	outcome, err := s.events.Begin(ctx, key, ScopePaymentEvent, o.OrderID)
	if err != nil {
		return err
	}
	if outcome != idempotency.Acquired {
		entry.WithField("outcome", outcome.String()).Info("duplicate payment event skipped")
		return nil
	}

	switch ev.Kind {
	case payments.EventSucceeded:
		_, err = s.paymentSucceeded(ctx, ev.Rail, o.OrderID, ev.PaymentID)
	case payments.EventFailed:
		err = s.paymentFailed(ctx, o.OrderID)
	}

	bg := context.WithoutCancel(ctx)
	if err != nil {
		entry.WithError(err).Error("payment event failed")
		if markErr := s.events.MarkFailed(bg, key, err.Error()); markErr != nil {
			entry.WithError(markErr).Warn("mark event failed")
		}
		s.alert(ctx, alerts.Alert{
			Kind:    alerts.KindPaymentWebhook,
			OrderID: o.OrderID,
			EventID: ev.ID,
			Detail:  err.Error(),
		})
		return err
	}
	if markErr := s.events.MarkDone(bg, key, string(ev.Kind), 200); markErr != nil {
		entry.WithError(markErr).Warn("mark event done")
	}
	return nil
}

// VerifyPayment checks a checkout callback signature and applies the payment to the
// caller's order. An invalid signature changes nothing.
func (s *Service) VerifyPayment(ctx context.Context, userID, gatewayOrderID, paymentID, signature string) (*orders.Order, error) {
	if err := s.verifier.VerifyCallback(gatewayOrderID, paymentID, signature); err != nil {
		metrics.PaymentEvents.WithLabelValues(payments.RailOnline, "invalid_signature").Inc()
		return nil, err
	}
	o, err := s.orders.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperr.NotFound("order", gatewayOrderID)
	}
	if o.UserID != userID {
		return nil, apperr.ErrAuthorization
	}
	metrics.PaymentEvents.WithLabelValues(payments.RailOnline, "callback").Inc()
	return s.paymentSucceeded(ctx, payments.RailOnline, o.OrderID, paymentID)
}

// paymentSucceeded marks the order paid and books its shipment. A booking failure is
// already recorded on the order and alerted, so it is not returned. A payment arriving
// after the customer chose COD is refunded.
func (s *Service) paymentSucceeded(ctx context.Context, rail, orderID, paymentID string) (*orders.Order, error) {
	entry := s.logger.WithField("order_id", orderID)
	o, err := s.orders.Update(ctx, orderID, func(cur *orders.Order) error {
		return orders.Transition(cur, orders.Event{
			Kind:      orders.EventPaymentSucceeded,
			Method:    orders.MethodOnline,
			PaymentID: paymentID,
		})
	})
	switch {
	case errors.Is(err, orders.ErrAlreadyApplied):
		if o.Shipping != nil {
			// booking was attempted already; failed attempts are retried by an operator
			entry.WithField("shipping_status", o.Shipping.Status).Info("payment already applied")
			return o, nil
		}
	case errors.Is(err, orders.ErrPaymentMethodConflict):
		s.refundStray(ctx, rail, o, paymentID)
		return o, nil
	case errors.Is(err, orders.ErrIllegalTransition):
		entry.WithError(err).Error("payment received for closed order")
		s.alert(ctx, alerts.Alert{
			Kind:    alerts.KindPaymentOnClosed,
			Step:    string(apperr.StepGateway),
			OrderID: orderID,
			Detail:  fmt.Sprintf("payment %s received for %s order", paymentID, o.Status),
		})
		return o, nil
	case err != nil:
		return nil, err
	default:
		metrics.PaymentAmount.Observe(o.ChargedAmount())
		countStatus(o.Status)
		entry.WithField("payment_id", paymentID).Info("order paid")
	}
	if o.Status != orders.StatusConfirmed {
		return o, nil
	}

	booked, err := s.book(ctx, orderID, shipping.PaymentPrepaid)
	if err != nil {
		if errors.Is(err, orders.ErrBookingInProgress) || apperr.KindOf(err) == apperr.KindExternalService {
			if booked != nil {
				return booked, nil
			}
			return o, nil
		}
		return nil, err
	}
	return booked, nil
}

// refundStray returns an online payment captured for an order already confirmed as COD.
// The order keeps its COD state either way.
func (s *Service) refundStray(ctx context.Context, rail string, o *orders.Order, paymentID string) {
	entry := s.logger.WithFields(log.Fields{"order_id": o.OrderID, "payment_id": paymentID, "rail": rail})
	if s.refunds == nil {
		entry.Error("online payment received for cod order")
		s.alert(ctx, alerts.Alert{
			Kind:    alerts.KindRefund,
			Step:    string(apperr.StepRefund),
			OrderID: o.OrderID,
			Detail:  fmt.Sprintf("payment %s received for cod order", paymentID),
		})
		return
	}
	r, err := s.refunds.RefundPayment(context.WithoutCancel(ctx), rail, payments.RefundRequest{
		OrderID:   o.OrderID,
		PaymentID: paymentID,
	})
	if err != nil {
		entry.WithError(err).Error("refund of payment on cod order failed")
		s.alert(ctx, alerts.Alert{
			Kind:    alerts.KindRefund,
			Step:    string(apperr.StepRefund),
			OrderID: o.OrderID,
			Detail:  fmt.Sprintf("payment %s on cod order: %v", paymentID, err),
		})
		return
	}
	entry.WithField("refund_id", r.ID).Warn("online payment on cod order refunded")
}

func (s *Service) paymentFailed(ctx context.Context, orderID string) error {
	_, err := s.orders.Update(ctx, orderID, func(cur *orders.Order) error {
		return orders.Transition(cur, orders.Event{Kind: orders.EventPaymentFailed})
	})
	if errors.Is(err, orders.ErrAlreadyApplied) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.WithField("order_id", orderID).Info("payment failed")
	return nil
}
