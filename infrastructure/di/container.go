package di

import (
	"real-backend/application/ports"
	"real-backend/application/postprocessing"
	"real-backend/infrastructure/config"
	"real-backend/infrastructure/messaging/websocket"
	"real-backend/pkg/auth"
	"real-backend/pkg/observability"

	"go.uber.org/zap"
)

// Container holds the stream processor and ops dependencies
type Container struct {
	Config        *config.Config
	Logger        *zap.Logger
	Table         ports.Table
	Dispatcher    *postprocessing.Dispatcher
	Metrics       *observability.Metrics
	Tracer        *observability.Tracer
	Authenticator *auth.Authenticator
	RateLimiter   *auth.OperatorRateLimiter
}

// DeliveryContainer holds the WebSocket delivery dependencies
type DeliveryContainer struct {
	Config    *config.Config
	Logger    *zap.Logger
	Deliverer *websocket.Deliverer
}

// Shutdown flushes buffered telemetry and logs
func (c *Container) Shutdown() {
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}
}
