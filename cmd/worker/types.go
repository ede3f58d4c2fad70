package main

import (
	"context"
	"os"

	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
)

// metricName is the CloudWatch metric every unresolved alert increments.
const metricName = "FulfillmentFailures"

// OrderReader loads the current state of an alerted order.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

const defaultLocalBody = `{"kind":"shipment_booking_failed","step":"shipment_booking","order_id":"local-order-1","detail":"local simulation"}`

func getLocalBody() string {
	if v := os.Getenv("LOCAL_SQS_BODY"); v != "" {
		return v
	}
	return defaultLocalBody
}
