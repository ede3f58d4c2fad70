package orders

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func pendingOrder() *Order {
	return &Order{OrderID: "o1", Status: StatusPending, PaymentStatus: PaymentPending}
}

func TestTransition_PaymentSucceeded(t *testing.T) {
	o := pendingOrder()
	require.NoError(t, Transition(o, Event{Kind: EventPaymentSucceeded, Method: MethodOnline, PaymentID: "pay_1"}))
	require.Equal(t, StatusConfirmed, o.Status)
	require.Equal(t, PaymentPaid, o.PaymentStatus)
	require.Equal(t, MethodOnline, o.PaymentMethod)
	require.Equal(t, "pay_1", o.GatewayPaymentID)

	err := Transition(o, Event{Kind: EventPaymentSucceeded, Method: MethodOnline})
	require.ErrorIs(t, err, ErrAlreadyApplied)
}

func TestTransition_PaymentSucceededRequiresMethod(t *testing.T) {
	o := pendingOrder()
	err := Transition(o, Event{Kind: EventPaymentSucceeded})
	require.ErrorIs(t, err, ErrIllegalTransition)
	require.Equal(t, PaymentPending, o.PaymentStatus)
}

func TestTransition_PaymentFailedLeavesStatus(t *testing.T) {
	o := pendingOrder()
	require.NoError(t, Transition(o, Event{Kind: EventPaymentFailed}))
	require.Equal(t, PaymentFailed, o.PaymentStatus)
	require.Equal(t, StatusPending, o.Status)

	paid := pendingOrder()
	require.NoError(t, Transition(paid, Event{Kind: EventPaymentSucceeded, Method: MethodOnline}))
	require.ErrorIs(t, Transition(paid, Event{Kind: EventPaymentFailed}), ErrAlreadyApplied)
	require.Equal(t, PaymentPaid, paid.PaymentStatus)
}

func TestTransition_CODVerified(t *testing.T) {
	o := pendingOrder()
	require.NoError(t, Transition(o, Event{Kind: EventCODVerified}))
	require.Equal(t, StatusConfirmed, o.Status)
	require.Equal(t, MethodCOD, o.PaymentMethod)
	require.Equal(t, PaymentPending, o.PaymentStatus)
	require.ErrorIs(t, Transition(o, Event{Kind: EventCODVerified}), ErrAlreadyApplied)
}

func TestTransition_CODDropsOnlineDiscount(t *testing.T) {
	for _, kind := range []EventKind{EventCODVerified, EventCODConfirmed} {
		o := pendingOrder()
		o.Amount = 1000
		o.DiscountAmount = 900

		require.NoError(t, Transition(o, Event{Kind: kind}))
		require.Zero(t, o.DiscountAmount)
		require.Equal(t, 1000.0, o.ChargedAmount())
	}
}

func TestTransition_OnlinePaymentOnCODOrder(t *testing.T) {
	o := pendingOrder()
	require.NoError(t, Transition(o, Event{Kind: EventCODConfirmed}))

	err := Transition(o, Event{Kind: EventPaymentSucceeded, Method: MethodOnline, PaymentID: "pay_late"})
	require.ErrorIs(t, err, ErrPaymentMethodConflict)
	require.ErrorIs(t, err, ErrIllegalTransition)
	require.Equal(t, MethodCOD, o.PaymentMethod)
	require.Equal(t, PaymentPending, o.PaymentStatus)
	require.Empty(t, o.GatewayPaymentID)
}

func TestTransition_BookingLifecycle(t *testing.T) {
	o := pendingOrder()
	require.NoError(t, Transition(o, Event{Kind: EventPaymentSucceeded, Method: MethodOnline}))

	require.NoError(t, Transition(o, Event{Kind: EventBookingClaimed, Shipping: Shipping{Courier: "shiprocket"}}))
	require.Equal(t, ShippingBooking, o.Shipping.Status)
	require.Equal(t, 1, o.BookingAttempts)
	require.ErrorIs(t, Transition(o, Event{Kind: EventBookingClaimed}), ErrBookingInProgress)

	require.NoError(t, Transition(o, Event{Kind: EventShipmentBooked, Shipping: Shipping{
		Courier: "shiprocket", ShipmentID: "s1", AWB: "AWB1", Status: ShippingPickupRequested,
	}}))
	require.Equal(t, "AWB1", o.AWB)
	require.ErrorIs(t, Transition(o, Event{Kind: EventBookingClaimed}), ErrAlreadyApplied)
}

func TestTransition_FailedBookingCanBeReclaimed(t *testing.T) {
	o := pendingOrder()
	require.NoError(t, Transition(o, Event{Kind: EventBookingClaimed}))
	require.NoError(t, Transition(o, Event{Kind: EventShipmentFailed, Shipping: Shipping{Courier: "c", Status: ShippingAWBFailed}}))
	require.Equal(t, ShippingAWBFailed, o.Shipping.Status)
	require.NoError(t, Transition(o, Event{Kind: EventBookingClaimed}))
	require.Equal(t, 2, o.BookingAttempts)
}

func TestTransition_BookingOutcomeRequiresClaim(t *testing.T) {
	o := pendingOrder()
	require.ErrorIs(t, Transition(o, Event{Kind: EventShipmentBooked}), ErrIllegalTransition)
}

func TestTransition_CarrierEvents(t *testing.T) {
	o := &Order{Status: StatusConfirmed, PaymentStatus: PaymentPaid, Shipping: &Shipping{AWB: "A", Status: ShippingPickupRequested}}
	require.NoError(t, Transition(o, Event{Kind: EventCarrierInTransit, CarrierStatus: "IN TRANSIT"}))
	require.Equal(t, StatusShipped, o.Status)

	require.NoError(t, Transition(o, Event{Kind: EventNDR, Reason: "customer unavailable"}))
	require.Equal(t, ShippingNDR, o.Shipping.Status)
	require.Equal(t, "customer unavailable", o.Shipping.NDRReason)

	require.NoError(t, Transition(o, Event{Kind: EventDelivered}))
	require.Equal(t, StatusDelivered, o.Status)
	require.ErrorIs(t, Transition(o, Event{Kind: EventDelivered}), ErrAlreadyApplied)
	require.ErrorIs(t, Transition(o, Event{Kind: EventCancelled}), ErrIllegalTransition)
	require.ErrorIs(t, Transition(o, Event{Kind: EventRTODelivered}), ErrIllegalTransition)
}

func TestTransition_RTO(t *testing.T) {
	o := &Order{Status: StatusShipped, Shipping: &Shipping{AWB: "A"}}
	require.NoError(t, Transition(o, Event{Kind: EventRTODelivered}))
	require.Equal(t, StatusReturned, o.Status)
	require.Equal(t, ShippingRTODelivered, o.Shipping.Status)
}

func TestTransition_Cancel(t *testing.T) {
	o := pendingOrder()
	require.NoError(t, Transition(o, Event{Kind: EventCancelled}))
	require.Equal(t, StatusCancelled, o.Status)
	require.ErrorIs(t, Transition(o, Event{Kind: EventCancelled}), ErrAlreadyApplied)
	require.ErrorIs(t, Transition(o, Event{Kind: EventPaymentSucceeded, Method: MethodOnline}), ErrIllegalTransition)
}

func TestTransition_Refund(t *testing.T) {
	o := pendingOrder()
	require.ErrorIs(t, Transition(o, Event{Kind: EventRefunded}), ErrIllegalTransition)
	o.PaymentStatus = PaymentPaid
	require.NoError(t, Transition(o, Event{Kind: EventRefunded}))
	require.Equal(t, PaymentRefunded, o.PaymentStatus)
}

func TestTransition_PaidImpliesMethod(t *testing.T) {
	events := []Event{
		{Kind: EventCODVerified},
		{Kind: EventPaymentSucceeded, Method: MethodOnline},
		{Kind: EventPaymentFailed},
		{Kind: EventBookingClaimed},
		{Kind: EventCancelled},
		{Kind: EventRefunded},
	}
	for _, first := range events {
		for _, second := range events {
			o := pendingOrder()
			_ = Transition(o, first)
			_ = Transition(o, second)
			if o.PaymentStatus == PaymentPaid {
				require.NotEqual(t, MethodUndecided, o.PaymentMethod, "after %s then %s", first.Kind, second.Kind)
			}
		}
	}
}

func TestTransition_UnknownEvent(t *testing.T) {
	err := Transition(pendingOrder(), Event{Kind: "bogus"})
	require.True(t, errors.Is(err, ErrIllegalTransition))
}

func TestParseStatus(t *testing.T) {
	st, ok := ParseStatus(" Delivered ")
	require.True(t, ok)
	require.Equal(t, StatusDelivered, st)
	_, ok = ParseStatus("lost")
	require.False(t, ok)

	ps, ok := ParsePaymentStatus("refunded")
	require.True(t, ok)
	require.Equal(t, PaymentRefunded, ps)
	_, ok = ParsePaymentStatus("partial")
	require.False(t, ok)
}
