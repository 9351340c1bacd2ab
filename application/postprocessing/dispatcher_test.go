package postprocessing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"real-backend/application/ports/mocks"
	"real-backend/domain/keys"
	"real-backend/domain/stream"
	apperrors "real-backend/pkg/errors"
	"real-backend/pkg/observability"
)

type fakeProcessor struct {
	name   string
	routes []Route
	run    func(ctx context.Context, rec stream.Record) error

	mu   sync.Mutex
	seen []stream.Record
}

func (p *fakeProcessor) Name() string    { return p.name }
func (p *fakeProcessor) Routes() []Route { return p.routes }

func (p *fakeProcessor) Run(ctx context.Context, rec stream.Record) error {
	p.mu.Lock()
	p.seen = append(p.seen, rec)
	p.mu.Unlock()
	if p.run == nil {
		return nil
	}
	return p.run(ctx, rec)
}

func (p *fakeProcessor) records() []stream.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]stream.Record(nil), p.seen...)
}

type listenerProcessor struct {
	*fakeProcessor
	owned func(owner keys.Address) []stream.Item
}

func (l listenerProcessor) OnCascade(ctx context.Context, owner keys.Address) ([]stream.Item, error) {
	return l.owned(owner), nil
}

var postRoute = Route{Kind: keys.KindPost, Facet: keys.FacetPrimary}

type fixture struct {
	table      *mocks.MemTable
	metrics    *observability.Metrics
	controller *Controller
	dispatcher *Dispatcher
}

func newFixture(options DispatcherOptions, seed ...stream.Item) *fixture {
	logger := zap.NewNop()
	f := &fixture{
		table:   mocks.NewMemTable(seed...),
		metrics: observability.NewMetrics(nil, "test", logger),
	}
	f.controller = NewController(f.table, 3, f.metrics, logger)
	pipeline := NewPipeline(RecoverMiddleware(), LoggingMiddleware(logger), MetricsMiddleware(f.metrics))
	f.dispatcher = NewDispatcher(f.controller, pipeline, options, f.metrics, nil, logger)
	return f
}

func postItem(id string, kv ...string) stream.Item {
	it := stream.Item{keys.AttrPartitionKey: "post/" + id, keys.AttrSortKey: "-"}
	for i := 0; i+1 < len(kv); i += 2 {
		it[kv[i]] = kv[i+1]
	}
	return it
}

func streamRecord(seq string, old, new map[string]string) events.DynamoDBEventRecord {
	image := func(m map[string]string) map[string]events.DynamoDBAttributeValue {
		if m == nil {
			return nil
		}
		out := make(map[string]events.DynamoDBAttributeValue, len(m))
		for k, v := range m {
			out[k] = events.NewStringAttribute(v)
		}
		return out
	}
	source := new
	if source == nil {
		source = old
	}
	return events.DynamoDBEventRecord{
		EventID:   "evt-" + seq,
		EventName: stream.EventModify,
		Change: events.DynamoDBStreamRecord{
			SequenceNumber: seq,
			Keys: map[string]events.DynamoDBAttributeValue{
				keys.AttrPartitionKey: events.NewStringAttribute(source[keys.AttrPartitionKey]),
				keys.AttrSortKey:      events.NewStringAttribute(source[keys.AttrSortKey]),
			},
			OldImage: image(old),
			NewImage: image(new),
		},
	}
}

func postEdit(seq, id, from, to string) events.DynamoDBEventRecord {
	return streamRecord(seq,
		map[string]string{keys.AttrPartitionKey: "post/" + id, keys.AttrSortKey: "-", "text": from},
		map[string]string{keys.AttrPartitionKey: "post/" + id, keys.AttrSortKey: "-", "text": to},
	)
}

func TestDispatcher_Register(t *testing.T) {
	f := newFixture(DispatcherOptions{})

	require.NoError(t, f.dispatcher.Register(&fakeProcessor{name: "a", routes: []Route{postRoute}}))
	require.NoError(t, f.dispatcher.Register(&fakeProcessor{name: "b", routes: []Route{postRoute}}))

	assert.Error(t, f.dispatcher.Register(&fakeProcessor{name: "a", routes: []Route{postRoute}}))
	assert.Error(t, f.dispatcher.Register(&fakeProcessor{name: "c"}))
	assert.Equal(t, map[Route][]string{postRoute: {"a", "b"}}, f.dispatcher.Routes())
}

func TestDispatcher_RunsProcessorsInRegistrationOrder(t *testing.T) {
	f := newFixture(DispatcherOptions{})
	var order []string
	for _, name := range []string{"first", "second"} {
		name := name
		require.NoError(t, f.dispatcher.Register(&fakeProcessor{
			name:   name,
			routes: []Route{postRoute},
			run: func(ctx context.Context, rec stream.Record) error {
				order = append(order, name)
				return nil
			},
		}))
	}

	resp, err := f.dispatcher.ProcessBatch(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{postEdit("1", "P", "a", "b")},
	})

	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDispatcher_SkipsNoopUnroutedAndUnrecognized(t *testing.T) {
	f := newFixture(DispatcherOptions{})
	p := &fakeProcessor{name: "post", routes: []Route{postRoute}}
	require.NoError(t, f.dispatcher.Register(p))

	noop := streamRecord("1",
		map[string]string{keys.AttrPartitionKey: "post/P", keys.AttrSortKey: "-", keys.AttrGSIA1PartitionKey: "post/A"},
		map[string]string{keys.AttrPartitionKey: "post/P", keys.AttrSortKey: "-", keys.AttrGSIA1PartitionKey: "post/B"},
	)
	unrouted := streamRecord("2", nil, map[string]string{keys.AttrPartitionKey: "card/K", keys.AttrSortKey: "-"})
	unknownKind := streamRecord("3", nil, map[string]string{keys.AttrPartitionKey: "album/A", keys.AttrSortKey: "-"})
	unrecognized := streamRecord("4", nil, map[string]string{keys.AttrPartitionKey: "widget", keys.AttrSortKey: "-"})

	resp, err := f.dispatcher.ProcessBatch(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{noop, unrouted, unknownKind, unrecognized},
	})

	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Empty(t, p.records())
}

func TestDispatcher_UnknownKindIsUnrouted(t *testing.T) {
	f := newFixture(DispatcherOptions{})
	require.NoError(t, f.dispatcher.Register(&fakeProcessor{name: "post", routes: []Route{postRoute}}))

	rec, err := stream.FromEventRecord(streamRecord("1", nil, map[string]string{keys.AttrPartitionKey: "album/A", keys.AttrSortKey: "-"}))
	require.NoError(t, err)
	assert.Equal(t, keys.EntityKind("album"), rec.Address.Kind)

	require.NoError(t, f.dispatcher.Dispatch(context.Background(), rec))
	assert.Equal(t, float64(1), f.metrics.Value(observability.MetricSkipped, "unrouted"))
	assert.Zero(t, f.metrics.Value(observability.MetricSkipped, "unrecognized"))
}

func TestDispatcher_SkipsCascadeEcho(t *testing.T) {
	f := newFixture(DispatcherOptions{})
	p := &fakeProcessor{name: "post", routes: []Route{postRoute}}
	require.NoError(t, f.dispatcher.Register(p))

	echo := streamRecord("1",
		map[string]string{keys.AttrPartitionKey: "post/P", keys.AttrSortKey: "-", "postStatus": "COMPLETED"},
		map[string]string{keys.AttrPartitionKey: "post/P", keys.AttrSortKey: "-", "postStatus": "ARCHIVED", stream.AttrCascadeToken: "t"},
	)
	deleteEcho := streamRecord("2",
		map[string]string{keys.AttrPartitionKey: "post/Q", keys.AttrSortKey: "-", stream.AttrCascadeDeleteToken: "d"},
		nil,
	)

	_, err := f.dispatcher.ProcessBatch(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{echo, deleteEcho},
	})

	require.NoError(t, err)
	assert.Empty(t, p.records())
}

func TestDispatcher_DataIntegrityErrorsAreSwallowed(t *testing.T) {
	f := newFixture(DispatcherOptions{ReportBatchItemFailures: true})
	require.NoError(t, f.dispatcher.Register(&fakeProcessor{
		name:   "post",
		routes: []Route{postRoute},
		run: func(ctx context.Context, rec stream.Record) error {
			return apperrors.NewDataIntegrityError("bad record", apperrors.ErrItemNotFound)
		},
	}))

	resp, err := f.dispatcher.ProcessBatch(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{postEdit("1", "P", "a", "b")},
	})

	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
}

func TestDispatcher_TransientErrors(t *testing.T) {
	failing := func() *fakeProcessor {
		return &fakeProcessor{
			name:   "post",
			routes: []Route{postRoute},
			run: func(ctx context.Context, rec stream.Record) error {
				if rec.Address.ID == "Q" {
					return apperrors.NewTransientError("search.AddUser", errors.New("timeout"))
				}
				return nil
			},
		}
	}
	batch := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		postEdit("1", "P", "a", "b"),
		postEdit("2", "Q", "a", "b"),
		postEdit("3", "R", "a", "b"),
	}}

	t.Run("default mode continues", func(t *testing.T) {
		f := newFixture(DispatcherOptions{})
		p := failing()
		require.NoError(t, f.dispatcher.Register(p))

		resp, err := f.dispatcher.ProcessBatch(context.Background(), batch)

		require.NoError(t, err)
		assert.Empty(t, resp.BatchItemFailures)
		assert.Len(t, p.records(), 3)
	})

	t.Run("report mode stops at the failing record", func(t *testing.T) {
		f := newFixture(DispatcherOptions{ReportBatchItemFailures: true})
		p := failing()
		require.NoError(t, f.dispatcher.Register(p))

		resp, err := f.dispatcher.ProcessBatch(context.Background(), batch)

		require.NoError(t, err)
		require.Len(t, resp.BatchItemFailures, 1)
		assert.Equal(t, "2", resp.BatchItemFailures[0].ItemIdentifier)
		assert.Len(t, p.records(), 2)
	})
}

func TestDispatcher_ProgrammerErrorFailsBatch(t *testing.T) {
	f := newFixture(DispatcherOptions{ReportBatchItemFailures: true})
	second := &fakeProcessor{name: "second", routes: []Route{postRoute}}
	require.NoError(t, f.dispatcher.Register(&fakeProcessor{
		name:   "first",
		routes: []Route{postRoute},
		run: func(ctx context.Context, rec stream.Record) error {
			return apperrors.NewProgrammerError("no rule", apperrors.ErrNoTransitionRule)
		},
	}))
	require.NoError(t, f.dispatcher.Register(second))

	_, err := f.dispatcher.ProcessBatch(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{postEdit("1", "P", "a", "b"), postEdit("2", "Q", "a", "b")},
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsProgrammer(err))
	assert.Empty(t, second.records())
}

func TestDispatcher_PanicBecomesProgrammerError(t *testing.T) {
	f := newFixture(DispatcherOptions{})
	require.NoError(t, f.dispatcher.Register(&fakeProcessor{
		name:   "post",
		routes: []Route{postRoute},
		run: func(ctx context.Context, rec stream.Record) error {
			var m map[string]int
			m["boom"]++
			return nil
		},
	}))

	_, err := f.dispatcher.ProcessBatch(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{postEdit("1", "P", "a", "b")},
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsProgrammer(err))
	assert.ErrorIs(t, err, apperrors.ErrInvariantBroken)
}

func TestDispatcher_Deadline(t *testing.T) {
	batch := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		postEdit("1", "P", "a", "b"),
		postEdit("2", "Q", "a", "b"),
	}}

	t.Run("report mode checkpoints the first unprocessed record", func(t *testing.T) {
		f := newFixture(DispatcherOptions{ReportBatchItemFailures: true, DeadlineMargin: time.Minute})
		p := &fakeProcessor{name: "post", routes: []Route{postRoute}}
		require.NoError(t, f.dispatcher.Register(p))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		resp, err := f.dispatcher.ProcessBatch(ctx, batch)

		require.NoError(t, err)
		require.Len(t, resp.BatchItemFailures, 1)
		assert.Equal(t, "1", resp.BatchItemFailures[0].ItemIdentifier)
		assert.Empty(t, p.records())
	})

	t.Run("default mode fails the invocation", func(t *testing.T) {
		f := newFixture(DispatcherOptions{DeadlineMargin: time.Minute})
		require.NoError(t, f.dispatcher.Register(&fakeProcessor{name: "post", routes: []Route{postRoute}}))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, err := f.dispatcher.ProcessBatch(ctx, batch)

		require.Error(t, err)
		assert.True(t, apperrors.IsTransient(err))
	})
}

func TestDispatcher_ProcessBatchFlushesMetrics(t *testing.T) {
	f := newFixture(DispatcherOptions{})
	require.NoError(t, f.dispatcher.Register(&fakeProcessor{name: "post", routes: []Route{postRoute}}))

	_, err := f.dispatcher.ProcessBatch(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{postEdit("1", "P", "a", "b")},
	})

	require.NoError(t, err)
	assert.Zero(t, f.metrics.Value(observability.MetricRecords, ""))
}

func TestDispatch_CountsDispatchedRecords(t *testing.T) {
	f := newFixture(DispatcherOptions{})
	require.NoError(t, f.dispatcher.Register(&fakeProcessor{name: "post", routes: []Route{postRoute}}))

	old, new := postItem("P", "text", "a"), postItem("P", "text", "b")
	rec := stream.Record{Address: keys.Primary(keys.KindPost, "P"), Transition: stream.EDIT, Old: old, New: new}
	require.NoError(t, f.dispatcher.Dispatch(context.Background(), rec))

	assert.Equal(t, float64(1), f.metrics.Value(observability.MetricDispatched, "post"))
}
