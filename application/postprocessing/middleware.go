package postprocessing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"real-backend/domain/stream"
	"real-backend/pkg/common"
	apperrors "real-backend/pkg/errors"
	"real-backend/pkg/observability"
)

// LoggingMiddleware scopes the context logger to the processor
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(name string, next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, rec stream.Record) error {
			scoped := common.LoggerFrom(ctx, logger).With(zap.String("processor", name))
			ctx = common.WithLogger(ctx, scoped)

			start := time.Now()
			err := next.Handle(ctx, rec)
			scoped.Debug("Processor finished",
				zap.Duration("duration", time.Since(start)),
				zap.Bool("failed", err != nil),
			)
			return err
		})
	}
}

// RecoverMiddleware turns a processor panic into a programmer error
func RecoverMiddleware() Middleware {
	return func(name string, next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, rec stream.Record) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = apperrors.NewProgrammerError(
						fmt.Sprintf("processor %s panicked on %s: %v", name, rec.Address, r),
						apperrors.ErrInvariantBroken,
					)
				}
			}()
			return next.Handle(ctx, rec)
		})
	}
}

// MetricsMiddleware counts processor runs and failures by kind
func MetricsMiddleware(metrics *observability.Metrics) Middleware {
	return func(name string, next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, rec stream.Record) error {
			metrics.Count(observability.MetricDispatched, name, 1)
			err := next.Handle(ctx, rec)
			if err != nil {
				metrics.Count(observability.MetricFailures, string(apperrors.Classify(err)), 1)
			}
			return err
		})
	}
}

// TracingMiddleware runs each processor in its own subsegment
func TracingMiddleware(tracer *observability.Tracer) Middleware {
	return func(name string, next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, rec stream.Record) error {
			return tracer.TraceFunction(ctx, name, func(ctx context.Context) error {
				return next.Handle(ctx, rec)
			})
		})
	}
}
