package fulfillment

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-fulfillment/internal/alerts"
	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
	"github.com/imrishuroy/storefront-fulfillment/internal/metrics"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
	"github.com/imrishuroy/storefront-fulfillment/internal/shipping"
)

// Step outcome labels.
const (
	outcomeOK      = "ok"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

func countStep(step apperr.Step, outcome string) {
	metrics.FulfillmentSteps.WithLabelValues(string(step), outcome).Inc()
}

func countStatus(st orders.Status) {
	metrics.OrdersTotal.WithLabelValues(string(st)).Inc()
}

func shipmentRequest(o *orders.Order, mode string) shipping.ShipmentRequest {
	// COD is collected at the door in full; online discounts never reach it
	subTotal := o.ChargedAmount()
	if mode == shipping.PaymentCOD {
		subTotal = o.Amount
	}
	items := make([]shipping.Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, shipping.Item{SKU: it.ProductID, Name: it.Name, Units: it.Quantity, Price: it.Price})
	}
	return shipping.ShipmentRequest{
		OrderID:   o.Code,
		OrderDate: o.CreatedAt,
		Consignee: shipping.Consignee{
			FirstName: o.Address.FirstName,
			LastName:  o.Address.LastName,
			Email:     o.Address.Email,
			Phone:     o.Address.Phone,
			Street:    o.Address.Street,
			City:      o.Address.City,
			State:     o.Address.State,
			Zip:       o.Address.Zip,
			Country:   o.Address.Country,
		},
		Items:       items,
		PaymentMode: mode,
		SubTotal:    subTotal,
	}
}

// book runs create shipment, AWB assignment and pickup for orderID under a booking claim.
// The outcome, success or the failing step, is always written to order.shipping. An order
// that already carries an AWB is returned untouched.
func (s *Service) book(ctx context.Context, orderID, mode string) (*orders.Order, error) {
	entry := s.logger.WithFields(log.Fields{"order_id": orderID, "payment_mode": mode})
	courier := s.carrier.Courier()

	o, err := s.orders.Update(ctx, orderID, func(cur *orders.Order) error {
		return orders.Transition(cur, orders.Event{
			Kind:     orders.EventBookingClaimed,
			Shipping: orders.Shipping{Courier: courier},
		})
	})
	switch {
	case errors.Is(err, orders.ErrAlreadyApplied):
		entry.WithField("awb", o.Shipping.AWB).Info("shipment already booked")
		countStep(apperr.StepShipmentBooking, outcomeSkipped)
		return o, nil
	case errors.Is(err, orders.ErrBookingInProgress):
		entry.Info("shipment booking already in progress")
		countStep(apperr.StepShipmentBooking, outcomeSkipped)
		return o, err
	case err != nil:
		return o, err
	}

	// the claim is held; every exit below must resolve it
	req := shipmentRequest(o, mode)
	result := orders.Shipping{Courier: courier}
	var stepErr error

	shipmentID, err := s.carrier.CreateShipment(ctx, req)
	if err != nil {
		result.Status = orders.ShippingShipmentFailed
		stepErr = asStep(apperr.StepShipmentBooking, err)
	} else {
		countStep(apperr.StepShipmentBooking, outcomeOK)
		awb, err := s.carrier.GenerateAWB(ctx, shipmentID)
		if err != nil {
			// the shipment id is not kept without an AWB
			result.Status = orders.ShippingAWBFailed
			stepErr = asStep(apperr.StepAWBAssignment, err)
		} else {
			countStep(apperr.StepAWBAssignment, outcomeOK)
			result.ShipmentID = shipmentID
			result.AWB = awb
			if err := s.carrier.RequestPickup(ctx, shipmentID); err != nil {
				result.Status = orders.ShippingPickupFailed
				stepErr = asStep(apperr.StepPickupRequest, err)
			} else {
				countStep(apperr.StepPickupRequest, outcomeOK)
				result.Status = orders.ShippingPickupRequested
			}
		}
	}

	kind := orders.EventShipmentBooked
	if stepErr != nil {
		kind = orders.EventShipmentFailed
	}
	finished, err := s.orders.Update(context.WithoutCancel(ctx), orderID, func(cur *orders.Order) error {
		return orders.Transition(cur, orders.Event{Kind: kind, Shipping: result})
	})
	if err != nil {
		entry.WithError(err).WithField("shipping_status", result.Status).Error("booking outcome not recorded")
		s.alert(ctx, alerts.Alert{
			Kind:    alerts.KindShipmentBooking,
			OrderID: orderID,
			AWB:     result.AWB,
			Detail:  fmt.Sprintf("booking outcome %s not recorded: %v", result.Status, err),
		})
		if stepErr != nil {
			return o, stepErr
		}
		return o, err
	}

	if stepErr != nil {
		step := apperr.StepOf(stepErr)
		countStep(step, outcomeFailed)
		entry.WithError(stepErr).WithField("step", step).Error("shipment booking failed")
		s.alert(ctx, alerts.Alert{
			Kind:    alerts.KindShipmentBooking,
			Step:    string(step),
			OrderID: orderID,
			AWB:     result.AWB,
			Detail:  stepErr.Error(),
		})
		return finished, stepErr
	}

	entry.WithFields(log.Fields{"awb": result.AWB, "shipment_id": result.ShipmentID}).Info("shipment booked")
	if finished.Status == orders.StatusCancelled {
		// cancelled while the carrier calls were in flight
		s.cancelLateShipment(ctx, finished)
	}
	return finished, nil
}

func (s *Service) cancelLateShipment(ctx context.Context, o *orders.Order) {
	if err := s.carrier.CancelShipment(context.WithoutCancel(ctx), o.Shipping.AWB); err != nil {
		s.alert(ctx, alerts.Alert{
			Kind:    alerts.KindCarrierCancel,
			Step:    string(apperr.StepCarrierCancel),
			OrderID: o.OrderID,
			AWB:     o.Shipping.AWB,
			Detail:  err.Error(),
		})
		return
	}
	s.logger.WithFields(log.Fields{"order_id": o.OrderID, "awb": o.Shipping.AWB}).Info("shipment of cancelled order withdrawn")
}

// asStep ensures err carries step.
func asStep(step apperr.Step, err error) error {
	if apperr.StepOf(err) == step {
		return err
	}
	return apperr.External(step, err)
}

// ConfirmCOD books the shipment of a cash-on-delivery order. The order becomes
// confirmed/cod/pending only when every booking step succeeded; on failure the order
// status is unchanged and the failing step is recorded on shipping.
func (s *Service) ConfirmCOD(ctx context.Context, userID, orderID string) (*orders.Order, error) {
	o, err := s.owned(ctx, userID, orderID, false)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus == orders.PaymentPaid || o.PaymentStatus == orders.PaymentRefunded {
		return nil, apperr.ErrAlreadyPaid
	}
	if o.Status != orders.StatusPending && o.Status != orders.StatusConfirmed {
		return nil, apperr.Validation("orderId", fmt.Sprintf("order is %s", o.Status))
	}
	if o.HasAWB() && o.PaymentMethod == orders.MethodCOD {
		return o, nil
	}

	if _, err := s.book(ctx, orderID, shipping.PaymentCOD); err != nil {
		return nil, err
	}

	o, err = s.orders.Update(ctx, orderID, func(cur *orders.Order) error {
		return orders.Transition(cur, orders.Event{Kind: orders.EventCODConfirmed})
	})
	if err != nil {
		return nil, err
	}
	countStatus(o.Status)
	s.logger.WithFields(log.Fields{"order_id": orderID, "awb": o.Shipping.AWB}).Info("cod order confirmed")
	return o, nil
}

// RetryShipment re-runs booking for a paid or COD-confirmed order that has no AWB, or
// re-requests pickup when only that step failed.
func (s *Service) RetryShipment(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := s.owned(ctx, "", orderID, true)
	if err != nil {
		return nil, err
	}
	paid := o.PaymentStatus == orders.PaymentPaid
	cod := o.Status == orders.StatusConfirmed && o.PaymentMethod == orders.MethodCOD
	if (!paid && !cod) || (o.Status != orders.StatusConfirmed) {
		return nil, apperr.Validation("orderId", "order is not awaiting shipment")
	}

	if o.HasAWB() {
		if o.Shipping.Status != orders.ShippingPickupFailed {
			return o, nil
		}
		return s.retryPickup(ctx, o)
	}

	if o.Shipping != nil && o.Shipping.Status == orders.ShippingBooking && s.nowFunc().Sub(o.UpdatedAt) > staleClaimAfter {
		o, err = s.orders.Update(ctx, orderID, func(cur *orders.Order) error {
			if cur.Shipping == nil || cur.Shipping.Status != orders.ShippingBooking {
				return nil
			}
			return orders.Transition(cur, orders.Event{
				Kind:     orders.EventShipmentFailed,
				Shipping: orders.Shipping{Courier: cur.Shipping.Courier, Status: orders.ShippingShipmentFailed},
			})
		})
		if err != nil {
			return nil, err
		}
		s.logger.WithField("order_id", orderID).Warn("stale booking claim released")
	}

	mode := shipping.PaymentPrepaid
	if o.PaymentMethod == orders.MethodCOD {
		mode = shipping.PaymentCOD
	}
	return s.book(ctx, orderID, mode)
}

func (s *Service) retryPickup(ctx context.Context, o *orders.Order) (*orders.Order, error) {
	if err := s.carrier.RequestPickup(ctx, o.Shipping.ShipmentID); err != nil {
		countStep(apperr.StepPickupRequest, outcomeFailed)
		return nil, asStep(apperr.StepPickupRequest, err)
	}
	countStep(apperr.StepPickupRequest, outcomeOK)
	return s.orders.Update(context.WithoutCancel(ctx), o.OrderID, func(cur *orders.Order) error {
		return orders.Transition(cur, orders.Event{
			Kind:          orders.EventCarrierUpdate,
			CarrierStatus: orders.ShippingPickupRequested,
		})
	})
}
