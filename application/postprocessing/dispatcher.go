package postprocessing

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"real-backend/domain/stream"
	"real-backend/pkg/common"
	apperrors "real-backend/pkg/errors"
	"real-backend/pkg/observability"
)

type registration struct {
	name    string
	handler Handler
}

// DispatcherOptions configures batch behavior.
type DispatcherOptions struct {
	// ReportBatchItemFailures stops a batch at the first transient failure
	// and reports the failing record as the replay checkpoint.
	ReportBatchItemFailures bool
	// DeadlineMargin is the time left before the invocation deadline under
	// which remaining records are abandoned.
	DeadlineMargin time.Duration
}

// Dispatcher routes records to the processors registered for their
// (entityKind, facet), in registration order.
type Dispatcher struct {
	routes   map[Route][]registration
	names    map[string]struct{}
	pipeline *Pipeline
	cascade  *Controller
	options  DispatcherOptions
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher and binds it to the cascade controller.
func NewDispatcher(
	cascade *Controller,
	pipeline *Pipeline,
	options DispatcherOptions,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
	logger *zap.Logger,
) *Dispatcher {
	if pipeline == nil {
		pipeline = NewPipeline()
	}
	d := &Dispatcher{
		routes:   make(map[Route][]registration),
		names:    make(map[string]struct{}),
		pipeline: pipeline,
		cascade:  cascade,
		options:  options,
		metrics:  metrics,
		tracer:   tracer,
		logger:   logger,
	}
	cascade.SetDispatcher(d)
	return d
}

// Register adds a processor to every route it declares. Processors that
// also implement CascadeListener are registered with the controller.
func (d *Dispatcher) Register(p Processor) error {
	if _, exists := d.names[p.Name()]; exists {
		return fmt.Errorf("processor %s already registered", p.Name())
	}
	if len(p.Routes()) == 0 {
		return fmt.Errorf("processor %s declares no routes", p.Name())
	}
	d.names[p.Name()] = struct{}{}

	handler := d.pipeline.Wrap(p)
	for _, route := range p.Routes() {
		d.routes[route] = append(d.routes[route], registration{name: p.Name(), handler: handler})
	}
	if l, ok := p.(CascadeListener); ok {
		d.cascade.AddListener(l)
	}
	return nil
}

// Routes lists the registered routes with their processor names.
func (d *Dispatcher) Routes() map[Route][]string {
	out := make(map[Route][]string, len(d.routes))
	for route, regs := range d.routes {
		for _, reg := range regs {
			out[route] = append(out[route], reg.name)
		}
	}
	return out
}

// Dispatch runs one input record and then every cascade it causes. It
// returns a programmer error immediately, otherwise the first transient
// error seen. Data-integrity errors are logged and swallowed.
func (d *Dispatcher) Dispatch(ctx context.Context, rec stream.Record) error {
	queue := make([]operation, 0)
	ctx = withFrame(ctx, frame{queue: &queue, depth: rec.Depth, seq: rec.SequenceNumber, cause: rec.Cause})

	err := d.runRecord(ctx, rec)
	if apperrors.IsProgrammer(err) {
		return err
	}
	if cascadeErr := d.cascade.drain(ctx, &queue); cascadeErr != nil {
		if apperrors.IsProgrammer(cascadeErr) || err == nil {
			return cascadeErr
		}
	}
	return err
}

func (d *Dispatcher) recordLogger(rec stream.Record) *zap.Logger {
	return d.logger.With(
		zap.String("pk", rec.Address.PK()),
		zap.String("sk", rec.Address.SK()),
		zap.String("transition", rec.Transition.String()),
		zap.String("eventID", rec.EventID),
		zap.Int("depth", rec.Depth),
		zap.Bool("synthetic", rec.Synthetic),
	)
}

// runRecord fans one record out to its processors. The context must carry
// a frame.
func (d *Dispatcher) runRecord(ctx context.Context, rec stream.Record) error {
	logger := d.recordLogger(rec)
	ctx = common.WithLogger(ctx, logger)

	if !rec.Synthetic && stream.IsCascadeEcho(rec.Old, rec.New) {
		d.metrics.Count(observability.MetricEchoes, string(rec.Address.Kind), 1)
		logger.Debug("Skipping echo of a cascade write")
		return nil
	}
	if rec.Transition == stream.NOOP {
		d.metrics.Count(observability.MetricSkipped, "noop", 1)
		logger.Debug("Skipping index-only change")
		return nil
	}

	regs := d.routes[RouteOf(rec.Address)]
	if len(regs) == 0 {
		d.metrics.Count(observability.MetricSkipped, "unrouted", 1)
		logger.Debug("No processor registered for record")
		return nil
	}

	var firstTransient error
	for _, reg := range regs {
		err := reg.handler.Handle(ctx, rec)
		if err == nil {
			continue
		}
		switch apperrors.Classify(err) {
		case apperrors.ErrorTypeProgrammer:
			fields := []zap.Field{zap.String("processor", reg.name), zap.Error(err)}
			if appErr := apperrors.GetAppError(err); appErr != nil && appErr.StackTrace != "" {
				fields = append(fields, zap.String("stack", appErr.StackTrace))
			}
			logger.Error("Processor failed", fields...)
			return err
		case apperrors.ErrorTypeDataIntegrity:
			logger.Warn("Processor skipped operation", zap.String("processor", reg.name), zap.Error(err))
		default:
			logger.Warn("Processor failed on collaborator", zap.String("processor", reg.name), zap.Error(err))
			if firstTransient == nil {
				firstTransient = err
			}
		}
	}
	return firstTransient
}

// ProcessBatch is the stream Lambda handler. Records run sequentially in
// arrival order.
func (d *Dispatcher) ProcessBatch(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var response events.DynamoDBEventResponse
	start := time.Now()
	defer func() {
		d.metrics.Duration(observability.MetricDuration, time.Since(start))
		d.metrics.Flush(context.WithoutCancel(ctx))
	}()

	d.metrics.Count(observability.MetricRecords, "", float64(len(event.Records)))

	for i, raw := range event.Records {
		if d.nearDeadline(ctx) {
			d.logger.Warn("Invocation deadline reached, abandoning remaining records",
				zap.Int("processed", i),
				zap.Int("remaining", len(event.Records)-i),
			)
			if d.options.ReportBatchItemFailures {
				response.BatchItemFailures = append(response.BatchItemFailures,
					events.DynamoDBBatchItemFailure{ItemIdentifier: raw.Change.SequenceNumber})
				return response, nil
			}
			return response, apperrors.NewTransientError("processBatch", context.DeadlineExceeded)
		}

		rec, err := stream.FromEventRecord(raw)
		if err != nil {
			d.metrics.Count(observability.MetricSkipped, "unrecognized", 1)
			d.logger.Warn("Skipping record",
				zap.String("eventID", raw.EventID),
				zap.String("eventName", raw.EventName),
				zap.Error(err),
			)
			continue
		}

		err = d.tracer.TraceFunction(ctx, "record", func(ctx context.Context) error {
			d.tracer.AddAnnotation(ctx, "pk", rec.Address.PK())
			d.tracer.AddAnnotation(ctx, "sk", rec.Address.SK())
			return d.Dispatch(ctx, rec)
		})
		switch {
		case err == nil:
		case apperrors.IsProgrammer(err):
			return response, err
		case d.options.ReportBatchItemFailures:
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.DynamoDBBatchItemFailure{ItemIdentifier: rec.SequenceNumber})
			return response, nil
		}
	}
	return response, nil
}

func (d *Dispatcher) nearDeadline(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	deadline, ok := ctx.Deadline()
	return ok && time.Until(deadline) < d.options.DeadlineMargin
}
