package di

import (
	"context"
	"fmt"
	"strings"

	"real-backend/application/ports"
	"real-backend/application/postprocessing"
	"real-backend/application/postprocessing/processors"
	domainconfig "real-backend/domain/config"
	"real-backend/infrastructure/cache"
	"real-backend/infrastructure/config"
	"real-backend/infrastructure/messaging/eventbridge"
	"real-backend/infrastructure/messaging/sqs"
	"real-backend/infrastructure/messaging/websocket"
	"real-backend/infrastructure/notifications/pinpoint"
	"real-backend/infrastructure/persistence/dynamodb"
	"real-backend/infrastructure/search"
	"real-backend/pkg/auth"
	"real-backend/pkg/observability"
	"real-backend/pkg/resilience"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	awspinpoint "github.com/aws/aws-sdk-go-v2/service/pinpoint"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName identifies this service in traces.
const ServiceName = "real-postprocessor"

// usernameCacheSize bounds the warm-instance username cache.
const usernameCacheSize = 5000

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String("environment", cfg.Environment)), nil
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideSQSClient creates an SQS client
func ProvideSQSClient(awsCfg aws.Config) *awssqs.Client {
	return awssqs.NewFromConfig(awsCfg)
}

// ProvidePinpointClient creates a Pinpoint client
func ProvidePinpointClient(awsCfg aws.Config) *awspinpoint.Client {
	return awspinpoint.NewFromConfig(awsCfg)
}

// ProvideAPIGatewayClient creates the WebSocket management client for the
// configured stage endpoint
func ProvideAPIGatewayClient(awsCfg aws.Config, cfg *config.Config) *apigatewaymanagementapi.Client {
	return apigatewaymanagementapi.NewFromConfig(awsCfg, func(o *apigatewaymanagementapi.Options) {
		if cfg.WebSocketEndpoint == "" {
			return
		}
		endpoint := cfg.WebSocketEndpoint
		if !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		o.BaseEndpoint = aws.String(endpoint)
	})
}

// ProvidePostProcessingConfig derives the business rules from the runtime config
func ProvidePostProcessingConfig(cfg *config.Config) *domainconfig.PostProcessingConfig {
	return cfg.PostProcessing()
}

// ProvideTable creates the main table adapter
func ProvideTable(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) ports.Table {
	return dynamodb.NewTable(client, dynamodb.TableConfig{
		TableName:      cfg.TableName,
		OwnerIndexName: cfg.OwnerIndexName,
		ActorIndexName: cfg.ActorIndexName,
		CallTimeout:    cfg.CallTimeout,
	}, logger)
}

// ProvideUsernameCache creates the username cache used by admin flag checks
func ProvideUsernameCache() ports.Cache {
	return cache.NewMemory(usernameCacheSize)
}

// ProvideSearchIndex creates the signed search index client
func ProvideSearchIndex(awsCfg aws.Config, cfg *config.Config, pp *domainconfig.PostProcessingConfig, logger *zap.Logger) (ports.SearchIndex, error) {
	breaker := resilience.NewBreaker(resilience.DefaultBreakerConfig("search", pp.CallTimeout), logger)
	index, err := search.NewOpenSearch(search.Config{
		Endpoint: cfg.SearchEndpoint,
		Index:    cfg.SearchIndex,
	}, awsCfg, nil, breaker, logger)
	if err != nil {
		return nil, err
	}
	return index, nil
}

// ProvidePushNotifications creates the Pinpoint endpoint manager
func ProvidePushNotifications(client *awspinpoint.Client, cfg *config.Config, pp *domainconfig.PostProcessingConfig, logger *zap.Logger) ports.PushNotifications {
	breaker := resilience.NewBreaker(resilience.DefaultBreakerConfig("pinpoint", pp.CallTimeout), logger)
	return pinpoint.NewEndpoints(client, cfg.PinpointApplicationID, breaker, logger)
}

// ProvideRealtime creates the realtime notification publisher
func ProvideRealtime(client *awseventbridge.Client, cfg *config.Config, logger *zap.Logger) ports.Realtime {
	return eventbridge.NewRealtime(client, cfg.EventBusName, cfg.CallTimeout, logger)
}

// ProvideAnalytics creates the analytics event sender
func ProvideAnalytics(client *awssqs.Client, cfg *config.Config, logger *zap.Logger) ports.Analytics {
	return sqs.NewAnalytics(client, cfg.AnalyticsQueueURL, cfg.CallTimeout, logger)
}

// ProvideMetrics creates the metrics buffer. Metrics are kept in memory only
// unless enabled.
func ProvideMetrics(client *awscloudwatch.Client, cfg *config.Config, logger *zap.Logger) *observability.Metrics {
	if !cfg.EnableMetrics {
		return observability.NewMetrics(nil, cfg.MetricsNamespace, logger)
	}
	return observability.NewMetrics(client, cfg.MetricsNamespace, logger)
}

// ProvideTracer creates the X-Ray tracer
func ProvideTracer(cfg *config.Config) *observability.Tracer {
	return observability.NewTracer(ServiceName, cfg.EnableTracing)
}

// ProvideCascadeController creates the cascade controller
func ProvideCascadeController(
	table ports.Table,
	pp *domainconfig.PostProcessingConfig,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *postprocessing.Controller {
	return postprocessing.NewController(table, pp.MaxCascadeDepth, metrics, logger)
}

// ProvideDispatcher creates the dispatcher and registers every processor
func ProvideDispatcher(
	controller *postprocessing.Controller,
	table ports.Table,
	searchIndex ports.SearchIndex,
	push ports.PushNotifications,
	realtime ports.Realtime,
	analytics ports.Analytics,
	usernames ports.Cache,
	pp *domainconfig.PostProcessingConfig,
	cfg *config.Config,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
	logger *zap.Logger,
) (*postprocessing.Dispatcher, error) {
	pipeline := postprocessing.NewPipeline(
		postprocessing.RecoverMiddleware(),
		postprocessing.LoggingMiddleware(logger),
		postprocessing.MetricsMiddleware(metrics),
		postprocessing.TracingMiddleware(tracer),
	)

	dispatcher := postprocessing.NewDispatcher(controller, pipeline, postprocessing.DispatcherOptions{
		ReportBatchItemFailures: cfg.ReportBatchItemFailures,
		DeadlineMargin:          cfg.DeadlineMargin,
	}, metrics, tracer, logger)

	if err := RegisterProcessors(dispatcher, processors.Deps{
		Table:     table,
		Cascade:   controller,
		Config:    pp,
		Logger:    logger,
		Usernames: usernames,
	}, searchIndex, push, realtime, analytics); err != nil {
		return nil, err
	}

	return dispatcher, nil
}

// RegisterProcessors registers the full processor set on a dispatcher.
func RegisterProcessors(
	dispatcher *postprocessing.Dispatcher,
	deps processors.Deps,
	searchIndex ports.SearchIndex,
	push ports.PushNotifications,
	realtime ports.Realtime,
	analytics ports.Analytics,
) error {
	chats := processors.NewChatProcessor(deps)
	all := []postprocessing.Processor{
		processors.NewUserProcessor(deps, searchIndex, push, analytics),
		processors.NewPostProcessor(deps),
		processors.NewCommentProcessor(deps),
		chats,
		processors.NewChatMessageProcessor(deps, chats, realtime),
		processors.NewCardProcessor(deps, realtime),
		processors.NewAppStoreReceiptProcessor(deps),
		processors.NewAppStoreSubProcessor(deps),
	}
	for _, p := range all {
		if err := dispatcher.Register(p); err != nil {
			return fmt.Errorf("register %s: %w", p.Name(), err)
		}
	}
	return nil
}

// ProvideDeliverer creates the WebSocket fan-out used by the delivery function
func ProvideDeliverer(
	client *awsdynamodb.Client,
	apiClient *apigatewaymanagementapi.Client,
	cfg *config.Config,
	logger *zap.Logger,
) *websocket.Deliverer {
	return websocket.NewDeliverer(client, apiClient, websocket.Config{
		ConnectionsTable:     cfg.ConnectionsTable,
		ConnectionsUserIndex: cfg.ConnectionsUserIndex,
		CallTimeout:          cfg.CallTimeout,
	}, logger)
}

// ProvideOpsAuthenticator creates the ops token verifier
func ProvideOpsAuthenticator(cfg *config.Config) *auth.Authenticator {
	return auth.NewAuthenticator(cfg.OpsJWTSecret, cfg.OpsJWTIssuer)
}

// ProvideOpsRateLimiter creates the per-operator limiter for ops endpoints
func ProvideOpsRateLimiter(cfg *config.Config) *auth.OperatorRateLimiter {
	return auth.NewOperatorRateLimiter(cfg.OpsRequestsPerMinute)
}
