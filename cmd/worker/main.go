package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-fulfillment/internal/aws"
	"github.com/imrishuroy/storefront-fulfillment/internal/config"
	"github.com/imrishuroy/storefront-fulfillment/internal/logging"
	"github.com/imrishuroy/storefront-fulfillment/internal/orders"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := logging.Setup(cfg.LogLevel)

	clients, err := aws.NewClients(context.Background())
	if err != nil {
		logger.Fatalf("failed to init aws clients: %v", err)
	}
	p := NewProcessor(clients.CloudWatch, cfg.MetricsNamespace,
		orders.NewStore(clients.DynamoDB, cfg.OrdersTable, cfg.UsersTable), logger)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if cfg.RunLocal {
		body := getLocalBody()
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{MessageId: "local-1", Body: body},
			},
		}
		resp, err := p.Handle(context.Background(), event)
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logger.Fatalf("local handler error: %v failures=%d", err, len(resp.BatchItemFailures))
		}
		return
	}

	lambda.Start(p.Handle)
}
