// Package alerts routes failures that cannot be surfaced to the caller, such as those
// behind an acknowledged webhook, to an operator queue.
package alerts

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-fulfillment/internal/aws"
)

// Alert kinds.
const (
	KindShipmentBooking = "shipment_booking_failed"
	KindCarrierCancel   = "carrier_cancel_failed"
	KindRefund          = "refund_failed"
	KindPaymentWebhook  = "payment_webhook_failed"
	KindShipmentWebhook = "shipment_webhook_failed"
	KindPaymentOnClosed = "payment_on_closed_order"
)

// Alert is one operator follow-up item.
type Alert struct {
	Kind       string    `json:"kind"`
	Step       string    `json:"step,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	AWB        string    `json:"awb,omitempty"`
	EventID    string    `json:"event_id,omitempty"`
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Queue publishes alerts as JSON messages to SQS.
type Queue struct {
	publisher *aws.Publisher
	nowFunc   func() time.Time
}

// NewQueue returns a Notifier backed by publisher.
func NewQueue(publisher *aws.Publisher) *Queue {
	return &Queue{publisher: publisher, nowFunc: time.Now}
}

// Notify implements Notifier.
func (q *Queue) Notify(ctx context.Context, a Alert) error {
	if a.OccurredAt.IsZero() {
		a.OccurredAt = q.nowFunc().UTC()
	}
	return q.publisher.SendJSON(ctx, a, map[string]string{
		"kind":     a.Kind,
		"step":     a.Step,
		"order_id": a.OrderID,
	})
}

// Log writes alerts to the logger only. Used when no queue is configured.
type Log struct {
	logger *log.Entry
}

// NewLog returns a logging Notifier.
func NewLog(logger *log.Logger) *Log {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Log{logger: logger.WithField("component", "alerts")}
}

// Notify implements Notifier.
func (l *Log) Notify(_ context.Context, a Alert) error {
	l.logger.WithFields(log.Fields{
		"kind":     a.Kind,
		"step":     a.Step,
		"order_id": a.OrderID,
		"awb":      a.AWB,
		"event_id": a.EventID,
	}).Error(a.Detail)
	return nil
}
