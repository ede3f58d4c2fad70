package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-fulfillment/internal/alerts"
	"github.com/imrishuroy/storefront-fulfillment/internal/aws"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
)

// Processor consumes operator alerts from SQS. Each alert is logged and counted in
// CloudWatch unless the order has already recovered by the time it is read.
type Processor struct {
	cloudwatch aws.CloudWatchAPI
	namespace  string
	orders     OrderReader
	logger     *log.Entry
}

// NewProcessor creates a worker processor. orders may be nil, which disables the
// resolution check.
func NewProcessor(cw aws.CloudWatchAPI, namespace string, orders OrderReader, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Processor{
		cloudwatch: cw,
		namespace:  namespace,
		orders:     orders,
		logger:     logger.WithField("component", "alert-worker"),
	}
}

// Handle processes an SQS batch and reports failed messages individually so only they
// are redelivered. Messages that keep failing end up in the queue's DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.WithError(err).WithField("message_id", rec.MessageId).Error("alert processing failed")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var a alerts.Alert
	if err := json.Unmarshal([]byte(rec.Body), &a); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if a.Kind == "" {
		return fmt.Errorf("alert without kind")
	}

	entry := p.logger.WithFields(log.Fields{
		"kind":     a.Kind,
		"step":     a.Step,
		"order_id": a.OrderID,
		"awb":      a.AWB,
		"event_id": a.EventID,
	})

	resolved, err := p.resolved(ctx, a)
	if err != nil {
		return err
	}
	if resolved {
		entry.Info("alert already resolved")
		return nil
	}

	entry.Error(a.Detail)
	return p.publish(ctx, a)
}

// resolved reports whether the order no longer needs the follow-up the alert asks for.
func (p *Processor) resolved(ctx context.Context, a alerts.Alert) (bool, error) {
	if p.orders == nil || a.OrderID == "" {
		return false, nil
	}
	o, err := p.orders.Get(ctx, a.OrderID)
	if err != nil {
		return false, fmt.Errorf("load order %s: %w", a.OrderID, err)
	}
	if o == nil {
		return false, nil
	}
	switch a.Kind {
	case alerts.KindShipmentBooking:
		if o.Status == orders.StatusCancelled {
			return true, nil
		}
		return o.HasAWB() && o.Shipping.Status != orders.ShippingPickupFailed, nil
	case alerts.KindRefund:
		return o.PaymentStatus == orders.PaymentRefunded, nil
	}
	return false, nil
}

func (p *Processor) publish(ctx context.Context, a alerts.Alert) error {
	step := a.Step
	if step == "" {
		step = "none"
	}
	datum := cwtypes.MetricDatum{
		MetricName: sdkaws.String(metricName),
		Dimensions: []cwtypes.Dimension{
			{Name: sdkaws.String("Kind"), Value: sdkaws.String(a.Kind)},
			{Name: sdkaws.String("Step"), Value: sdkaws.String(step)},
		},
		Unit:  cwtypes.StandardUnitCount,
		Value: sdkaws.Float64(1),
	}
	if !a.OccurredAt.IsZero() {
		datum.Timestamp = sdkaws.Time(a.OccurredAt)
	}

	_, err := p.cloudwatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(p.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
