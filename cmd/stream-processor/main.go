// Package main runs the change-stream post-processor Lambda.
package main

import (
	"context"
	"log"
	"time"

	"real-backend/infrastructure/config"
	"real-backend/infrastructure/di"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"
)

var (
	container     *di.Container
	coldStart     = true
	coldStartTime time.Time
)

// init runs during cold start
func init() {
	coldStartTime = time.Now()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, err = di.InitializeContainer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	container.Logger.Info("Stream processor initialized",
		zap.Duration("coldStart", time.Since(coldStartTime)),
		zap.Bool("reportBatchItemFailures", cfg.ReportBatchItemFailures),
		zap.Int("maxCascadeDepth", cfg.MaxCascadeDepth),
	)
}

// Handler processes one change-stream batch
func Handler(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	if coldStart {
		container.Logger.Debug("First invocation after cold start",
			zap.Duration("sinceInit", time.Since(coldStartTime)))
		coldStart = false
	}
	defer func() { _ = container.Logger.Sync() }()

	return container.Dispatcher.ProcessBatch(ctx, event)
}

func main() {
	lambda.Start(Handler)
}
