package observability

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// Metric names emitted per batch.
const (
	MetricRecords    = "RecordsReceived"
	MetricDispatched = "RecordsDispatched"
	MetricSkipped    = "RecordsSkipped"
	MetricEchoes     = "CascadeEchoesSkipped"
	MetricCascades   = "CascadeRecords"
	MetricFailures   = "ProcessorFailures"
	MetricDuration   = "BatchDuration"
)

const maxDatumsPerRequest = 1000

// CloudWatchAPI is the subset of the CloudWatch client used here.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

type counterKey struct {
	name      string
	dimension string
}

// Metrics accumulates counters in memory and flushes them to CloudWatch at
// the end of each batch. A nil client only accumulates.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
	logger    *zap.Logger

	mu       sync.Mutex
	counters map[counterKey]float64
	timings  map[string]time.Duration
}

// NewMetrics creates a new metrics recorder
func NewMetrics(client CloudWatchAPI, namespace string, logger *zap.Logger) *Metrics {
	return &Metrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
		counters:  make(map[counterKey]float64),
		timings:   make(map[string]time.Duration),
	}
}

// Count adds delta to a counter. dimension is optional.
func (m *Metrics) Count(name, dimension string, delta float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counters[counterKey{name: name, dimension: dimension}] += delta
	m.mu.Unlock()
}

// Duration records a timing.
func (m *Metrics) Duration(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.timings[name] += d
	m.mu.Unlock()
}

// Value returns the current value of a counter.
func (m *Metrics) Value(name, dimension string) float64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[counterKey{name: name, dimension: dimension}]
}

// Flush sends and resets the accumulated data. Failures are logged and
// dropped; metrics never fail a batch.
func (m *Metrics) Flush(ctx context.Context) {
	if m == nil {
		return
	}

	m.mu.Lock()
	data := make([]types.MetricDatum, 0, len(m.counters)+len(m.timings))
	now := time.Now()
	for key, value := range m.counters {
		datum := types.MetricDatum{
			MetricName: aws.String(key.name),
			Value:      aws.Float64(value),
			Unit:       types.StandardUnitCount,
			Timestamp:  aws.Time(now),
		}
		if key.dimension != "" {
			datum.Dimensions = []types.Dimension{{Name: aws.String("Kind"), Value: aws.String(key.dimension)}}
		}
		data = append(data, datum)
	}
	for name, d := range m.timings {
		data = append(data, types.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(float64(d.Milliseconds())),
			Unit:       types.StandardUnitMilliseconds,
			Timestamp:  aws.Time(now),
		})
	}
	m.counters = make(map[counterKey]float64)
	m.timings = make(map[string]time.Duration)
	m.mu.Unlock()

	if m.client == nil || len(data) == 0 {
		return
	}

	for start := 0; start < len(data); start += maxDatumsPerRequest {
		end := start + maxDatumsPerRequest
		if end > len(data) {
			end = len(data)
		}
		_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: data[start:end],
		})
		if err != nil {
			m.logger.Warn("Failed to publish metrics", zap.Int("datums", end-start), zap.Error(err))
		}
	}
}
