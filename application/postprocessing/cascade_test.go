package postprocessing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"real-backend/domain/keys"
	"real-backend/domain/stream"
	apperrors "real-backend/pkg/errors"
	"real-backend/pkg/observability"
)

var (
	cardRoute     = Route{Kind: keys.KindCard, Facet: keys.FacetPrimary}
	postFlagRoute = Route{Kind: keys.KindPost, Facet: keys.FacetFlag}
)

func editRecord(old, new stream.Item) stream.Record {
	addr, _ := new.Address()
	return stream.Record{Address: addr, Transition: stream.Classify(old, new), Old: old, New: new}
}

func TestController_DepthLimit(t *testing.T) {
	f := newFixture(DispatcherOptions{})
	p := &fakeProcessor{name: "post", routes: []Route{postRoute}}
	p.run = func(ctx context.Context, rec stream.Record) error {
		next := rec.New.Clone()
		next["text"] = rec.New.String("text") + "x"
		return f.controller.Edit(ctx, rec.New, next)
	}
	require.NoError(t, f.dispatcher.Register(p))

	err := f.dispatcher.Dispatch(context.Background(), editRecord(postItem("P", "text", ""), postItem("P", "text", "x")))
	require.NoError(t, err)

	seen := p.records()
	require.Len(t, seen, 4)
	for depth, rec := range seen {
		assert.Equal(t, depth, rec.Depth)
		assert.Equal(t, depth > 0, rec.Synthetic)
	}
	assert.Equal(t, float64(1), f.metrics.Value(observability.MetricSkipped, "cascadeTooDeep"))
	assert.Equal(t, float64(3), f.metrics.Value(observability.MetricCascades, "post"))
}

func TestController_RunsOperationsInOrder(t *testing.T) {
	f := newFixture(DispatcherOptions{})
	p := &fakeProcessor{name: "post", routes: []Route{postRoute}}
	p.run = func(ctx context.Context, rec stream.Record) error {
		switch rec.Address.ID {
		case "P":
			if err := f.controller.Edit(ctx, postItem("Q1"), postItem("Q1", "text", "y")); err != nil {
				return err
			}
			return f.controller.Edit(ctx, postItem("Q2"), postItem("Q2", "text", "y"))
		case "Q1":
			return f.controller.Edit(ctx, postItem("R1"), postItem("R1", "text", "y"))
		}
		return nil
	}
	require.NoError(t, f.dispatcher.Register(p))

	require.NoError(t, f.dispatcher.Dispatch(context.Background(), editRecord(postItem("P"), postItem("P", "text", "y"))))

	var order []string
	for _, rec := range p.records() {
		order = append(order, rec.Address.ID)
	}
	assert.Equal(t, []string{"P", "Q1", "Q2", "R1"}, order)
}

func TestController_OutsideDispatch(t *testing.T) {
	f := newFixture(DispatcherOptions{})

	err := f.controller.Delete(context.Background(), keys.Primary(keys.KindCard, "K"))

	require.Error(t, err)
	assert.True(t, apperrors.IsProgrammer(err))
}

func TestController_DeleteSynthesizesRecord(t *testing.T) {
	card := stream.Item{keys.AttrPartitionKey: "card/K", keys.AttrSortKey: "-", "title": "hi"}
	f := newFixture(DispatcherOptions{}, card)

	cards := &fakeProcessor{name: "card", routes: []Route{cardRoute}}
	require.NoError(t, f.dispatcher.Register(cards))
	require.NoError(t, f.dispatcher.Register(&fakeProcessor{
		name:   "post",
		routes: []Route{postRoute},
		run: func(ctx context.Context, rec stream.Record) error {
			if err := f.controller.Delete(ctx, keys.Primary(keys.KindCard, "K")); err != nil {
				return err
			}
			return f.controller.Delete(ctx, keys.Primary(keys.KindCard, "missing"))
		},
	}))

	rec := editRecord(postItem("P"), postItem("P", "text", "y"))
	rec.SequenceNumber = "42"
	require.NoError(t, f.dispatcher.Dispatch(context.Background(), rec))

	assert.Nil(t, f.table.Item(keys.Primary(keys.KindCard, "K")))
	seen := cards.records()
	require.Len(t, seen, 1)
	assert.Equal(t, stream.DELETE, seen[0].Transition)
	assert.True(t, seen[0].Synthetic)
	assert.Equal(t, 1, seen[0].Depth)
	assert.Equal(t, "hi", seen[0].Old.String("title"))
	assert.NotEmpty(t, seen[0].Old.String(stream.AttrCascadeDeleteToken))
	assert.Nil(t, seen[0].Cause)
	assert.Equal(t, "42", seen[0].SequenceNumber, "synthetic records keep the input record's position")
}

func TestController_RemoveChildren(t *testing.T) {
	flagItem := stream.Item{keys.AttrPartitionKey: "post/P", keys.AttrSortKey: "flag/U1"}
	cardItem := stream.Item{keys.AttrPartitionKey: "card/K", keys.AttrSortKey: "-"}
	f := newFixture(DispatcherOptions{},
		stream.Item{keys.AttrPartitionKey: "post/P", keys.AttrSortKey: "-"},
		flagItem,
		cardItem,
	)

	flags := &fakeProcessor{name: "flags", routes: []Route{postFlagRoute}}
	cards := listenerProcessor{
		fakeProcessor: &fakeProcessor{name: "card", routes: []Route{cardRoute}},
		owned: func(owner keys.Address) []stream.Item {
			if owner.Kind != keys.KindPost {
				return nil
			}
			return []stream.Item{cardItem, flagItem, {keys.AttrPartitionKey: "junk"}}
		},
	}
	require.NoError(t, f.dispatcher.Register(flags))
	require.NoError(t, f.dispatcher.Register(cards))
	require.NoError(t, f.dispatcher.Register(&fakeProcessor{
		name:   "post",
		routes: []Route{postRoute},
		run: func(ctx context.Context, rec stream.Record) error {
			return f.controller.RemoveChildren(ctx, rec.Address)
		},
	}))

	owner := keys.Primary(keys.KindPost, "P")
	require.NoError(t, f.dispatcher.Dispatch(context.Background(), editRecord(postItem("P"), postItem("P", "text", "y"))))

	assert.Equal(t, []keys.Address{
		keys.Child(keys.KindPost, "P", keys.FacetFlag, "U1"),
		keys.Primary(keys.KindCard, "K"),
	}, f.table.Deleted)
	assert.NotNil(t, f.table.Item(owner), "the owner itself is not a child")

	for _, rec := range append(flags.records(), cards.records()...) {
		require.NotNil(t, rec.Cause)
		assert.True(t, rec.CausedByRemovalOf(keys.KindPost, "P"))
		assert.Equal(t, 1, rec.Depth)
	}
	assert.Len(t, flags.records(), 1)
	assert.Len(t, cards.records(), 1)
}

func TestController_TransientDeleteFailure(t *testing.T) {
	f := newFixture(DispatcherOptions{}, stream.Item{keys.AttrPartitionKey: "card/K", keys.AttrSortKey: "-"})
	f.table.Fail["DeleteItem"] = apperrors.NewTransientError("dynamodb.DeleteItem", errors.New("throttled"))
	require.NoError(t, f.dispatcher.Register(&fakeProcessor{
		name:   "post",
		routes: []Route{postRoute},
		run: func(ctx context.Context, rec stream.Record) error {
			return f.controller.Delete(ctx, keys.Primary(keys.KindCard, "K"))
		},
	}))

	err := f.dispatcher.Dispatch(context.Background(), editRecord(postItem("P"), postItem("P", "text", "y")))

	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
	assert.NotNil(t, f.table.Item(keys.Primary(keys.KindCard, "K")))
}

func TestController_ProgrammerErrorStopsDrain(t *testing.T) {
	f := newFixture(DispatcherOptions{},
		stream.Item{keys.AttrPartitionKey: "card/K1", keys.AttrSortKey: "-"},
		stream.Item{keys.AttrPartitionKey: "card/K2", keys.AttrSortKey: "-"},
	)
	require.NoError(t, f.dispatcher.Register(&fakeProcessor{
		name:   "card",
		routes: []Route{cardRoute},
		run: func(ctx context.Context, rec stream.Record) error {
			return apperrors.NewProgrammerError("broken", apperrors.ErrInvariantBroken)
		},
	}))
	require.NoError(t, f.dispatcher.Register(&fakeProcessor{
		name:   "post",
		routes: []Route{postRoute},
		run: func(ctx context.Context, rec stream.Record) error {
			if err := f.controller.Delete(ctx, keys.Primary(keys.KindCard, "K1")); err != nil {
				return err
			}
			return f.controller.Delete(ctx, keys.Primary(keys.KindCard, "K2"))
		},
	}))

	err := f.dispatcher.Dispatch(context.Background(), editRecord(postItem("P"), postItem("P", "text", "y")))

	require.Error(t, err)
	assert.True(t, apperrors.IsProgrammer(err))
	assert.NotNil(t, f.table.Item(keys.Primary(keys.KindCard, "K2")))
}

func TestPipeline_WrapOrder(t *testing.T) {
	var calls []string
	trace := func(label string) Middleware {
		return func(name string, next Handler) Handler {
			return HandlerFunc(func(ctx context.Context, rec stream.Record) error {
				calls = append(calls, label+":"+name)
				return next.Handle(ctx, rec)
			})
		}
	}
	p := &fakeProcessor{name: "post", routes: []Route{postRoute}, run: func(context.Context, stream.Record) error {
		calls = append(calls, "run")
		return nil
	}}

	handler := NewPipeline(trace("outer"), trace("inner")).Wrap(p)
	require.NoError(t, handler.Handle(context.Background(), stream.Record{}))

	assert.Equal(t, []string{"outer:post", "inner:post", "run"}, calls)
}
