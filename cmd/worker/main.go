package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-invoice-service/internal/aws"
	"github.com/imrishuroy/go-invoice-service/internal/config"
	"github.com/imrishuroy/go-invoice-service/internal/idempotency"
	"github.com/imrishuroy/go-invoice-service/internal/logging"
	"github.com/imrishuroy/go-invoice-service/internal/metrics"
)

const dedupeWindow = 48 * time.Hour

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"), ".env")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	clients, err := aws.NewAWSClients(context.Background(), aws.Settings{
		Region:           cfg.AWS.Region,
		EndpointOverride: cfg.AWS.EndpointOverride,
	})
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	p := NewProcessor(
		idempotency.NewStore(clients.DynamoDB, cfg.DynamoDB.IdempotencyTable, dedupeWindow),
		metrics.NewRecorder(clients.CloudWatch, cfg.Metrics.Namespace),
		logger,
	)

	// RUN_LOCAL=true handles one simulated SQS record instead of starting
	// the Lambda runtime.
	if os.Getenv("RUN_LOCAL") == "true" {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"event_id":"local-event-1","type":"invoice.created","invoice_id":"local-invoice-1","invoice_number":1,"total_amount":0}`
		}
		ev := events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		}
		resp, err := p.Handle(context.Background(), ev)
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logger.Fatal("local handler failed", zap.Error(err), zap.Int("failures", len(resp.BatchItemFailures)))
		}
		return
	}

	lambda.Start(p.Handle)
}
