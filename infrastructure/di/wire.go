//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"real-backend/infrastructure/config"

	"github.com/google/wire"
)

// SuperSet is the main provider set for the stream processor
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideCloudWatchClient,
	ProvideSQSClient,
	ProvidePinpointClient,
	ProvidePostProcessingConfig,
	ProvideTable,
	ProvideUsernameCache,
	ProvideSearchIndex,
	ProvidePushNotifications,
	ProvideRealtime,
	ProvideAnalytics,
	ProvideMetrics,
	ProvideTracer,
	ProvideCascadeController,
	ProvideDispatcher,
	ProvideOpsAuthenticator,
	ProvideOpsRateLimiter,
	wire.Struct(new(Container), "*"),
)

// DeliverySet is the provider set for the WebSocket delivery function
var DeliverySet = wire.NewSet(
	ProvideLogger,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideAPIGatewayClient,
	ProvideDeliverer,
	wire.Struct(new(DeliveryContainer), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(SuperSet)
	return nil, nil // Wire will replace this
}

// InitializeDeliveryContainer creates the delivery container
func InitializeDeliveryContainer(ctx context.Context, cfg *config.Config) (*DeliveryContainer, error) {
	wire.Build(DeliverySet)
	return nil, nil // Wire will replace this
}
