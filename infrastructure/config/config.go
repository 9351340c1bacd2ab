package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	domainconfig "real-backend/domain/config"
)

// Config holds all application configuration. It is read once at cold start
// and not modified afterwards.
type Config struct {
	// Server configuration
	ServerAddress string `validate:"required"`
	Environment   string `validate:"required,oneof=development local staging production"`

	// AWS configuration
	AWSRegion      string `validate:"required"`
	TableName      string `validate:"required"`
	OwnerIndexName string `validate:"required"`
	ActorIndexName string `validate:"required"`
	EventBusName   string `validate:"required"`

	// Collaborators
	AnalyticsQueueURL     string `validate:"omitempty,url"`
	PinpointApplicationID string
	SearchEndpoint        string `validate:"omitempty,url"`
	SearchIndex           string `validate:"required"`

	// WebSocket configuration
	WebSocketEndpoint    string
	ConnectionsTable     string `validate:"required"`
	ConnectionsUserIndex string `validate:"required"`

	// Post-processing
	CallTimeout             time.Duration `validate:"gt=0"`
	MaxCascadeDepth         int           `validate:"min=1,max=16"`
	AdminUsernames          []string
	ReportBatchItemFailures bool
	DeadlineMargin          time.Duration `validate:"gte=0"`
	MetricsNamespace        string        `validate:"required"`

	// Logging
	LogLevel string `validate:"oneof=debug info warn error"`

	// Ops authentication
	OpsJWTSecret         string
	OpsJWTIssuer         string
	OpsRequestsPerMinute int `validate:"min=1"`

	// Feature flags
	EnableMetrics bool
	EnableTracing bool
	EnableCORS    bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress:  getEnv("SERVER_ADDRESS", ":8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		TableName:      getEnv("TABLE_NAME", "real-main"),
		OwnerIndexName: getEnv("GSI_A1_INDEX_NAME", "GSI-A1"),
		ActorIndexName: getEnv("GSI_K1_INDEX_NAME", "GSI-K1"),
		EventBusName:   getEnv("EVENT_BUS_NAME", "real-events"),

		AnalyticsQueueURL:     getEnv("ANALYTICS_QUEUE_URL", ""),
		PinpointApplicationID: getEnv("PINPOINT_APPLICATION_ID", ""),
		SearchEndpoint:        getEnv("SEARCH_ENDPOINT", ""),
		SearchIndex:           getEnv("SEARCH_INDEX", "users"),

		WebSocketEndpoint:    getEnv("WEBSOCKET_ENDPOINT", ""),
		ConnectionsTable:     getEnv("CONNECTIONS_TABLE", "real-connections"),
		ConnectionsUserIndex: getEnv("CONNECTIONS_USER_INDEX", "connection-id-index"),

		CallTimeout:             getEnvDuration("CALL_TIMEOUT", 5*time.Second),
		MaxCascadeDepth:         getEnvInt("MAX_CASCADE_DEPTH", 4),
		AdminUsernames:          getEnvList("ADMIN_USERNAMES", []string{"azim", "ian", "mike"}),
		ReportBatchItemFailures: getEnvBool("REPORT_BATCH_ITEM_FAILURES", false),
		DeadlineMargin:          getEnvDuration("DEADLINE_MARGIN", 2*time.Second),
		MetricsNamespace:        getEnv("METRICS_NAMESPACE", "Real/PostProcessing"),

		OpsJWTSecret: getEnv("OPS_JWT_SECRET", ""),
		OpsJWTIssuer: getEnv("OPS_JWT_ISSUER", "real-backend-ops"),

		OpsRequestsPerMinute: getEnvInt("OPS_REQUESTS_PER_MINUTE", 30),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		EnableMetrics: getEnvBool("ENABLE_METRICS", false),
		EnableTracing: getEnvBool("ENABLE_TRACING", false),
		EnableCORS:    getEnvBool("ENABLE_CORS", true),
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks struct constraints and production requirements
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.IsProduction() {
		if c.OpsJWTSecret == "" {
			return fmt.Errorf("OPS_JWT_SECRET is required in production")
		}
		if c.SearchEndpoint == "" {
			return fmt.Errorf("SEARCH_ENDPOINT is required in production")
		}
		if c.PinpointApplicationID == "" {
			return fmt.Errorf("PINPOINT_APPLICATION_ID is required in production")
		}
		if c.AnalyticsQueueURL == "" {
			return fmt.Errorf("ANALYTICS_QUEUE_URL is required in production")
		}
	}

	return nil
}

// PostProcessing derives the business rules for this environment
func (c *Config) PostProcessing() *domainconfig.PostProcessingConfig {
	pp := domainconfig.LoadPostProcessingConfig(c.Environment)
	pp.MaxCascadeDepth = c.MaxCascadeDepth
	pp.CallTimeout = c.CallTimeout
	pp.AdminUsernames = append([]string(nil), c.AdminUsernames...)
	pp.EnableSearchSync = pp.EnableSearchSync && c.SearchEndpoint != ""
	pp.EnablePushSync = pp.EnablePushSync && c.PinpointApplicationID != ""
	pp.EnableAnalytics = pp.EnableAnalytics && c.AnalyticsQueueURL != ""
	return pp
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "local"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("5s") or whole seconds ("5")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty entries
func getEnvList(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
