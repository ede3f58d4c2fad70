package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-fulfillment/internal/alerts"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
)

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

type fakeOrders map[string]*orders.Order

func (f fakeOrders) Get(_ context.Context, orderID string) (*orders.Order, error) {
	if orderID == "broken" {
		return nil, errors.New("dynamodb unavailable")
	}
	return f[orderID], nil
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetLevel(log.PanicLevel)
	return l
}

func message(t *testing.T, id string, a alerts.Alert) events.SQSMessage {
	t.Helper()
	body, err := json.Marshal(a)
	require.NoError(t, err)
	return events.SQSMessage{MessageId: id, Body: string(body)}
}

func dimensions(in *cloudwatch.PutMetricDataInput) map[string]string {
	out := map[string]string{}
	for _, d := range in.MetricData[0].Dimensions {
		out[*d.Name] = *d.Value
	}
	return out
}

func TestProcessorPublishesMetric(t *testing.T) {
	cw := &fakeCloudWatch{}
	p := NewProcessor(cw, "Storefront/Fulfillment", nil, quietLogger())
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		message(t, "m1", alerts.Alert{Kind: alerts.KindShipmentBooking, Step: "awb_generation", OrderID: "o1", Detail: "no courier", OccurredAt: at}),
		message(t, "m2", alerts.Alert{Kind: alerts.KindPaymentOnClosed, EventID: "evt_1"}),
	}})
	require.NoError(t, err)
	require.Empty(t, resp.BatchItemFailures)
	require.Len(t, cw.inputs, 2)

	first := cw.inputs[0]
	require.Equal(t, "Storefront/Fulfillment", *first.Namespace)
	require.Equal(t, metricName, *first.MetricData[0].MetricName)
	require.Equal(t, cwtypes.StandardUnitCount, first.MetricData[0].Unit)
	require.Equal(t, 1.0, *first.MetricData[0].Value)
	require.Equal(t, at, *first.MetricData[0].Timestamp)
	require.Equal(t, map[string]string{"Kind": alerts.KindShipmentBooking, "Step": "awb_generation"}, dimensions(first))

	require.Equal(t, "none", dimensions(cw.inputs[1])["Step"])
	require.Nil(t, cw.inputs[1].MetricData[0].Timestamp)
}

func TestProcessorReportsFailedItems(t *testing.T) {
	cw := &fakeCloudWatch{}
	p := NewProcessor(cw, "ns", fakeOrders{}, quietLogger())

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "bad-json", Body: "{"},
		{MessageId: "no-kind", Body: `{"order_id":"o1"}`},
		message(t, "store-down", alerts.Alert{Kind: alerts.KindRefund, OrderID: "broken"}),
		message(t, "ok", alerts.Alert{Kind: alerts.KindRefund, OrderID: "o1"}),
	}})
	require.NoError(t, err)
	require.Equal(t, []events.SQSBatchItemFailure{
		{ItemIdentifier: "bad-json"},
		{ItemIdentifier: "no-kind"},
		{ItemIdentifier: "store-down"},
	}, resp.BatchItemFailures)
	require.Len(t, cw.inputs, 1)
}

func TestProcessorCloudWatchFailureIsRetried(t *testing.T) {
	cw := &fakeCloudWatch{err: errors.New("throttled")}
	p := NewProcessor(cw, "ns", nil, quietLogger())

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		message(t, "m1", alerts.Alert{Kind: alerts.KindCarrierCancel, AWB: "AWB1"}),
	}})
	require.NoError(t, err)
	require.Equal(t, []events.SQSBatchItemFailure{{ItemIdentifier: "m1"}}, resp.BatchItemFailures)
}

func TestProcessorSkipsResolvedAlerts(t *testing.T) {
	store := fakeOrders{
		"booked": {
			OrderID:  "booked",
			Status:   orders.StatusConfirmed,
			Shipping: &orders.Shipping{AWB: "AWB1", Status: orders.ShippingPickupRequested},
		},
		"pickup": {
			OrderID:  "pickup",
			Status:   orders.StatusConfirmed,
			Shipping: &orders.Shipping{AWB: "AWB2", Status: orders.ShippingPickupFailed},
		},
		"cancelled": {OrderID: "cancelled", Status: orders.StatusCancelled},
		"refunded":  {OrderID: "refunded", PaymentStatus: orders.PaymentRefunded},
		"paid":      {OrderID: "paid", PaymentStatus: orders.PaymentPaid},
	}
	cw := &fakeCloudWatch{}
	p := NewProcessor(cw, "ns", store, quietLogger())

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		message(t, "1", alerts.Alert{Kind: alerts.KindShipmentBooking, OrderID: "booked"}),
		message(t, "2", alerts.Alert{Kind: alerts.KindShipmentBooking, OrderID: "pickup"}),
		message(t, "3", alerts.Alert{Kind: alerts.KindShipmentBooking, OrderID: "cancelled"}),
		message(t, "4", alerts.Alert{Kind: alerts.KindRefund, OrderID: "refunded"}),
		message(t, "5", alerts.Alert{Kind: alerts.KindRefund, OrderID: "paid"}),
		message(t, "6", alerts.Alert{Kind: alerts.KindShipmentBooking, OrderID: "missing"}),
	}})
	require.NoError(t, err)
	require.Empty(t, resp.BatchItemFailures)

	// pickup, paid and missing are still actionable
	require.Len(t, cw.inputs, 3)
}

func TestGetLocalBody(t *testing.T) {
	t.Setenv("LOCAL_SQS_BODY", "")
	var a alerts.Alert
	require.NoError(t, json.Unmarshal([]byte(getLocalBody()), &a))
	require.Equal(t, alerts.KindShipmentBooking, a.Kind)

	t.Setenv("LOCAL_SQS_BODY", `{"kind":"refund_failed"}`)
	require.Equal(t, `{"kind":"refund_failed"}`, getLocalBody())
}
