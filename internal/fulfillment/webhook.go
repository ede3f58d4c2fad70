package fulfillment

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-fulfillment/internal/alerts"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
)

// ShipmentUpdate is a carrier status push.
type ShipmentUpdate struct {
	AWB           string
	CurrentStatus string
	Reason        string
}

var inTransit = map[string]bool{
	"PICKED UP":                  true,
	"SHIPPED":                    true,
	"IN TRANSIT":                 true,
	"OUT FOR DELIVERY":           true,
	"REACHED AT DESTINATION HUB": true,
}

// carrierEvent maps a carrier status to an order event.
func carrierEvent(u ShipmentUpdate) orders.Event {
	raw := strings.TrimSpace(u.CurrentStatus)
	switch norm := strings.ToUpper(strings.Join(strings.Fields(raw), " ")); {
	case norm == "DELIVERED":
		return orders.Event{Kind: orders.EventDelivered}
	case norm == "RTO DELIVERED":
		return orders.Event{Kind: orders.EventRTODelivered}
	case norm == "NDR" || norm == "UNDELIVERED":
		return orders.Event{Kind: orders.EventNDR, Reason: u.Reason}
	case inTransit[norm]:
		return orders.Event{Kind: orders.EventCarrierInTransit, CarrierStatus: raw}
	default:
		return orders.Event{Kind: orders.EventCarrierUpdate, CarrierStatus: raw}
	}
}

// HandleShipmentWebhook applies a carrier status push. Unknown AWBs and updates that no
// longer apply are acknowledged and dropped; only storage failures are returned.
func (s *Service) HandleShipmentWebhook(ctx context.Context, u ShipmentUpdate) error {
	entry := s.logger.WithFields(log.Fields{"awb": u.AWB, "carrier_status": u.CurrentStatus})
	o, err := s.orders.FindByAWB(ctx, u.AWB)
	if err != nil {
		return err
	}
	if o == nil {
		entry.Warn("shipment webhook for unknown awb dropped")
		return nil
	}
	entry = entry.WithField("order_id", o.OrderID)

	ev := carrierEvent(u)
	updated, err := s.orders.Update(ctx, o.OrderID, func(cur *orders.Order) error {
		return orders.Transition(cur, ev)
	})
	switch {
	case errors.Is(err, orders.ErrAlreadyApplied):
		entry.Debug("shipment update already applied")
		return nil
	case errors.Is(err, orders.ErrIllegalTransition):
		// out of order pushes are routine
		entry.WithError(err).Warn("shipment update does not apply")
		return nil
	case err != nil:
		s.alert(ctx, alerts.Alert{
			Kind:    alerts.KindShipmentWebhook,
			OrderID: o.OrderID,
			AWB:     u.AWB,
			Detail:  err.Error(),
		})
		return err
	}

	if updated.Status != o.Status {
		countStatus(updated.Status)
	}
	entry.WithField("status", updated.Status).Info("shipment update applied")
	return nil
}
