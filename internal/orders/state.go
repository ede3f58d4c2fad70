package orders

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIllegalTransition is returned when an event does not apply to the current state.
	ErrIllegalTransition = errors.New("illegal order transition")
	// ErrAlreadyApplied marks an event whose effect is already persisted; callers treat it as a no-op.
	ErrAlreadyApplied = errors.New("order transition already applied")
	// ErrBookingInProgress means another request holds the shipment booking claim.
	ErrBookingInProgress = errors.New("shipment booking in progress")
	// ErrPaymentMethodConflict rejects a payment on an order already settled by another method.
	ErrPaymentMethodConflict = fmt.Errorf("%w: payment method already decided", ErrIllegalTransition)
)

// EventKind enumerates everything that can move an order.
type EventKind string

const (
	EventPaymentSucceeded EventKind = "payment_succeeded"
	EventPaymentFailed    EventKind = "payment_failed"
	EventCODVerified      EventKind = "cod_verified"
	EventCODConfirmed     EventKind = "cod_confirmed"
	EventBookingClaimed   EventKind = "booking_claimed"
	EventShipmentBooked   EventKind = "shipment_booked"
	EventShipmentFailed   EventKind = "shipment_failed"
	EventCarrierUpdate    EventKind = "carrier_update"
	EventCarrierInTransit EventKind = "carrier_in_transit"
	EventDelivered        EventKind = "delivered"
	EventRTODelivered     EventKind = "rto_delivered"
	EventNDR              EventKind = "ndr"
	EventCancelled        EventKind = "cancelled"
	EventRefunded         EventKind = "refunded"
)

// Event carries the data an EventKind needs.
type Event struct {
	Kind EventKind

	// payment
	Method    PaymentMethod
	PaymentID string

	// shipment booking outcome
	Shipping Shipping

	// carrier reports
	CarrierStatus string
	Reason        string
}

// Transition applies ev to o in memory. It is the only place order, payment and
// shipping status change outside admin overrides.
func Transition(o *Order, ev Event) error {
	switch ev.Kind {
	case EventPaymentSucceeded:
		if o.PaymentStatus == PaymentPaid {
			return ErrAlreadyApplied
		}
		if o.Status != StatusPending && o.Status != StatusConfirmed {
			return illegal(o, ev)
		}
		if ev.Method == MethodUndecided {
			return fmt.Errorf("%w: payment method required", ErrIllegalTransition)
		}
		if o.PaymentMethod != MethodUndecided && o.PaymentMethod != ev.Method {
			return fmt.Errorf("%w: %s order paid via %s", ErrPaymentMethodConflict, o.PaymentMethod, ev.Method)
		}
		o.PaymentStatus = PaymentPaid
		o.PaymentMethod = ev.Method
		o.Status = StatusConfirmed
		if ev.PaymentID != "" {
			o.GatewayPaymentID = ev.PaymentID
		}

	case EventPaymentFailed:
		if o.PaymentStatus == PaymentPaid || o.PaymentStatus == PaymentRefunded {
			return ErrAlreadyApplied
		}
		o.PaymentStatus = PaymentFailed

	case EventCODVerified, EventCODConfirmed:
		if o.PaymentStatus == PaymentPaid {
			return illegal(o, ev)
		}
		if o.Status != StatusPending && o.Status != StatusConfirmed {
			return illegal(o, ev)
		}
		if ev.Kind == EventCODVerified && o.Status == StatusConfirmed && o.PaymentMethod == MethodCOD {
			return ErrAlreadyApplied
		}
		o.Status = StatusConfirmed
		o.PaymentMethod = MethodCOD
		o.PaymentStatus = PaymentPending
		// the online discount only applies to online payment
		o.DiscountAmount = 0

	case EventBookingClaimed:
		if o.HasAWB() {
			return ErrAlreadyApplied
		}
		if o.Shipping != nil && o.Shipping.Status == ShippingBooking {
			return ErrBookingInProgress
		}
		if o.Status != StatusPending && o.Status != StatusConfirmed {
			return illegal(o, ev)
		}
		o.Shipping = &Shipping{Courier: ev.Shipping.Courier, Status: ShippingBooking}
		o.BookingAttempts++

	case EventShipmentBooked, EventShipmentFailed:
		if o.Shipping == nil || o.Shipping.Status != ShippingBooking {
			return illegal(o, ev)
		}
		s := ev.Shipping
		o.Shipping = &s
		o.AWB = s.AWB

	case EventCarrierUpdate:
		if o.Shipping == nil {
			return illegal(o, ev)
		}
		o.Shipping.Status = ev.CarrierStatus

	case EventCarrierInTransit:
		if o.Shipping == nil {
			return illegal(o, ev)
		}
		if o.Status == StatusShipped {
			o.Shipping.Status = ev.CarrierStatus
			return nil
		}
		if o.Status != StatusConfirmed {
			return illegal(o, ev)
		}
		o.Status = StatusShipped
		o.Shipping.Status = ev.CarrierStatus

	case EventDelivered:
		if o.Status == StatusDelivered {
			return ErrAlreadyApplied
		}
		if (o.Status != StatusConfirmed && o.Status != StatusShipped) || o.Shipping == nil {
			return illegal(o, ev)
		}
		o.Status = StatusDelivered
		o.Shipping.Status = ShippingDelivered

	case EventRTODelivered:
		if o.Status == StatusReturned {
			return ErrAlreadyApplied
		}
		if (o.Status != StatusConfirmed && o.Status != StatusShipped) || o.Shipping == nil {
			return illegal(o, ev)
		}
		o.Status = StatusReturned
		o.Shipping.Status = ShippingRTODelivered

	case EventNDR:
		if o.Status.Terminal() || o.Shipping == nil {
			return illegal(o, ev)
		}
		o.Shipping.Status = ShippingNDR
		o.Shipping.NDRReason = ev.Reason

	case EventCancelled:
		if o.Status == StatusCancelled {
			return ErrAlreadyApplied
		}
		if o.Status.Terminal() {
			return illegal(o, ev)
		}
		o.Status = StatusCancelled

	case EventRefunded:
		if o.PaymentStatus == PaymentRefunded {
			return ErrAlreadyApplied
		}
		if o.PaymentStatus != PaymentPaid {
			return illegal(o, ev)
		}
		o.PaymentStatus = PaymentRefunded

	default:
		return fmt.Errorf("%w: unknown event %q", ErrIllegalTransition, ev.Kind)
	}
	return nil
}

func illegal(o *Order, ev Event) error {
	return fmt.Errorf("%w: %s from status=%s payment=%s", ErrIllegalTransition, ev.Kind, o.Status, o.PaymentStatus)
}

// ParseStatus validates an admin supplied status.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled, StatusReturned:
		return st, true
	}
	return "", false
}

// ParsePaymentStatus validates an admin supplied payment status.
func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	switch ps := PaymentStatus(strings.ToLower(strings.TrimSpace(s))); ps {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return ps, true
	}
	return "", false
}
