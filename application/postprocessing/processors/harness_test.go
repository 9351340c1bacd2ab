package processors_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"real-backend/application/ports/mocks"
	"real-backend/application/postprocessing"
	"real-backend/application/postprocessing/processors"
	"real-backend/domain/config"
	"real-backend/domain/keys"
	"real-backend/domain/stream"
	"real-backend/infrastructure/cache"
	"real-backend/pkg/observability"
)

type harness struct {
	table      *mocks.MemTable
	search     *mocks.MockSearchIndex
	push       *mocks.MockPushNotifications
	analytics  *mocks.MockAnalytics
	realtime   *mocks.RecordingRealtime
	usernames  *cache.Memory
	metrics    *observability.Metrics
	dispatcher *postprocessing.Dispatcher

	seq        int
	dispatched []stream.Record
}

func newHarness(t *testing.T, seed ...stream.Item) *harness {
	t.Helper()

	logger := zap.NewNop()
	h := &harness{
		table:     mocks.NewMemTable(seed...),
		search:    new(mocks.MockSearchIndex),
		push:      new(mocks.MockPushNotifications),
		analytics: new(mocks.MockAnalytics),
		realtime:  &mocks.RecordingRealtime{},
		usernames: cache.NewMemory(100),
		metrics:   observability.NewMetrics(nil, "test", logger),
	}

	controller := postprocessing.NewController(h.table, 4, h.metrics, logger)
	pipeline := postprocessing.NewPipeline(
		postprocessing.RecoverMiddleware(),
		postprocessing.LoggingMiddleware(logger),
		postprocessing.MetricsMiddleware(h.metrics),
	)
	h.dispatcher = postprocessing.NewDispatcher(controller, pipeline, postprocessing.DispatcherOptions{}, h.metrics, nil, logger)

	deps := processors.Deps{
		Table:     h.table,
		Cascade:   controller,
		Config:    config.DefaultPostProcessingConfig(),
		Logger:    logger,
		Usernames: h.usernames,
	}
	chats := processors.NewChatProcessor(deps)
	all := []postprocessing.Processor{
		processors.NewUserProcessor(deps, h.search, h.push, h.analytics),
		processors.NewPostProcessor(deps),
		processors.NewCommentProcessor(deps),
		chats,
		processors.NewChatMessageProcessor(deps, chats, h.realtime),
		processors.NewCardProcessor(deps, h.realtime),
		processors.NewAppStoreReceiptProcessor(deps),
		processors.NewAppStoreSubProcessor(deps),
	}
	for _, p := range all {
		require.NoError(t, h.dispatcher.Register(p))
	}

	t.Cleanup(func() {
		h.search.AssertExpectations(t)
		h.push.AssertExpectations(t)
		h.analytics.AssertExpectations(t)
	})
	return h
}

// insert applies a foreground write to the table and dispatches its record.
func (h *harness) insert(t *testing.T, it stream.Item) error {
	t.Helper()
	h.table.Put(it)
	return h.dispatch(record(t, stream.EventInsert, nil, it))
}

// modify applies a foreground update to the table and dispatches its record.
func (h *harness) modify(t *testing.T, old, new stream.Item) error {
	t.Helper()
	h.table.Put(new)
	return h.dispatch(record(t, stream.EventModify, old, new))
}

// remove dispatches the record of a foreground delete. The item must not be
// seeded.
func (h *harness) remove(t *testing.T, old stream.Item) error {
	t.Helper()
	return h.dispatch(record(t, stream.EventRemove, old, nil))
}

// dispatch gives the record the next stream position and dispatches it.
func (h *harness) dispatch(rec stream.Record) error {
	h.seq++
	rec.SequenceNumber = strconv.Itoa(h.seq)
	h.dispatched = append(h.dispatched, rec)
	return h.dispatcher.Dispatch(context.Background(), rec)
}

// replay dispatches every record again in stream order, the way a retried
// batch delivers them.
func (h *harness) replay(t *testing.T) {
	t.Helper()
	for _, rec := range h.dispatched {
		require.NoError(t, h.dispatcher.Dispatch(context.Background(), rec), rec.EventID)
	}
}

func record(t *testing.T, eventName string, old, new stream.Item) stream.Record {
	t.Helper()
	image := new
	if image.Empty() {
		image = old
	}
	addr, err := image.Address()
	require.NoError(t, err)
	return stream.Record{
		EventID:        eventName + ":" + addr.String(),
		EventName:      eventName,
		SequenceNumber: "1",
		Address:        addr,
		Transition:     stream.Classify(old, new),
		Old:            old,
		New:            new,
	}
}

// item builds a record image. Int values become decimals.
func item(pk, sk string, kv ...any) stream.Item {
	it := stream.Item{keys.AttrPartitionKey: pk, keys.AttrSortKey: sk}
	for i := 0; i+1 < len(kv); i += 2 {
		name := kv[i].(string)
		switch v := kv[i+1].(type) {
		case int:
			it[name] = stream.NewDecimal(int64(v))
		default:
			it[name] = v
		}
	}
	return it
}

func with(it stream.Item, kv ...any) stream.Item {
	out := it.Clone()
	for k, v := range item("", "", kv...) {
		if k == keys.AttrPartitionKey || k == keys.AttrSortKey {
			continue
		}
		out[k] = v
	}
	return out
}

func profile(userID, username string, kv ...any) stream.Item {
	return item("user/"+userID, "profile", append([]any{"userId", userID, "username", username}, kv...)...)
}

func post(postID, authorID string, kv ...any) stream.Item {
	base := []any{
		"postId", postID,
		"postedByUserId", authorID,
		keys.AttrGSIA1PartitionKey, "post/" + authorID,
		"postStatus", "COMPLETED",
	}
	return item("post/"+postID, "-", append(base, kv...)...)
}

func flag(kind keys.EntityKind, id, userID string) stream.Item {
	return item(string(kind)+"/"+id, "flag/"+userID,
		keys.AttrGSIK1PartitionKey, keys.ActorValue(keys.FacetFlag, userID))
}
