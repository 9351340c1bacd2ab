// Package main delivers realtime notifications published on the event bus
// to the recipient's WebSocket connections.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"real-backend/infrastructure/config"
	"real-backend/infrastructure/di"
	"real-backend/infrastructure/messaging/eventbridge"
	apperrors "real-backend/pkg/errors"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"
)

var container *di.DeliveryContainer

func init() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, err = di.InitializeDeliveryContainer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
}

// handler delivers one realtime notification event
func handler(ctx context.Context, event events.CloudWatchEvent) error {
	logger := container.Logger.With(
		zap.String("eventID", event.ID),
		zap.String("detailType", event.DetailType),
	)

	if event.Source != eventbridge.Source || event.DetailType != eventbridge.DetailTypeRealtime {
		logger.Warn("Ignoring unexpected event", zap.String("source", event.Source))
		return nil
	}

	var notification eventbridge.Notification
	if err := json.Unmarshal(event.Detail, &notification); err != nil {
		logger.Warn("Dropping malformed notification", zap.Error(err))
		return nil
	}

	if err := container.Deliverer.Deliver(ctx, notification); err != nil {
		if apperrors.IsDataIntegrity(err) {
			logger.Warn("Dropping undeliverable notification", zap.Error(err))
			return nil
		}
		return fmt.Errorf("deliver notification: %w", err)
	}
	return nil
}

func main() {
	lambda.Start(handler)
}
