package postprocessing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"real-backend/application/ports"
	"real-backend/domain/keys"
	"real-backend/domain/stream"
	"real-backend/pkg/common"
	apperrors "real-backend/pkg/errors"
	"real-backend/pkg/observability"
)

type operationKind int

const (
	opEdit operationKind = iota
	opDelete
	opRemoveChildren
)

func (k operationKind) String() string {
	switch k {
	case opEdit:
		return "edit"
	case opDelete:
		return "delete"
	}
	return "removeChildren"
}

// operation is one queued cascade step. depth is the depth of the synthetic
// records it produces; seq is the sequence number of the input record.
type operation struct {
	kind  operationKind
	addr  keys.Address
	old   stream.Item
	new   stream.Item
	depth int
	seq   string
	cause *keys.Address
}

// frame binds the queue of the input record being dispatched and the depth
// of the record currently running.
type frame struct {
	queue *[]operation
	depth int
	seq   string
	cause *keys.Address
}

type frameKey struct{}

func withFrame(ctx context.Context, f frame) context.Context {
	return context.WithValue(ctx, frameKey{}, f)
}

func frameFrom(ctx context.Context) (frame, bool) {
	f, ok := ctx.Value(frameKey{}).(frame)
	return f, ok && f.queue != nil
}

// Controller queues the cross-entity effects requested by processors and
// replays them through the dispatcher as synthetic records once the
// requesting processor returns.
type Controller struct {
	table      ports.Table
	dispatcher *Dispatcher
	listeners  []CascadeListener
	maxDepth   int
	metrics    *observability.Metrics
	logger     *zap.Logger
	newToken   func() string
}

// NewController creates a cascade controller
func NewController(table ports.Table, maxDepth int, metrics *observability.Metrics, logger *zap.Logger) *Controller {
	return &Controller{
		table:    table,
		maxDepth: maxDepth,
		metrics:  metrics,
		logger:   logger,
		newToken: uuid.NewString,
	}
}

// SetDispatcher sets the dispatcher synthetic records are submitted to.
// This breaks the construction cycle between the two.
func (c *Controller) SetDispatcher(d *Dispatcher) {
	c.dispatcher = d
}

// AddListener registers a processor that owns records of removed entities.
func (c *Controller) AddListener(l CascadeListener) {
	c.listeners = append(c.listeners, l)
}

// Token returns a fresh cascade token for a core-initiated write.
func (c *Controller) Token() string {
	return c.newToken()
}

// Edit queues a synthetic EDIT for a write the caller already applied.
func (c *Controller) Edit(ctx context.Context, old, new stream.Item) error {
	addr, err := new.Address()
	if err != nil {
		return err
	}
	return c.enqueue(ctx, operation{kind: opEdit, addr: addr, old: old, new: new})
}

// Delete queues the removal of a record followed by a synthetic DELETE.
func (c *Controller) Delete(ctx context.Context, addr keys.Address) error {
	return c.enqueue(ctx, operation{kind: opDelete, addr: addr})
}

// RemoveChildren queues the removal of every record owned by the entity:
// its own partition and whatever the registered listeners report.
func (c *Controller) RemoveChildren(ctx context.Context, owner keys.Address) error {
	return c.enqueue(ctx, operation{kind: opRemoveChildren, addr: owner.Parent()})
}

func (c *Controller) enqueue(ctx context.Context, op operation) error {
	f, ok := frameFrom(ctx)
	if !ok {
		return apperrors.NewProgrammerError(
			fmt.Sprintf("cascade %s of %s requested outside a dispatch", op.kind, op.addr),
			apperrors.ErrInvariantBroken,
		)
	}

	op.depth = f.depth + 1
	op.seq = f.seq
	if op.kind != opRemoveChildren && op.cause == nil {
		op.cause = f.cause
	}
	if op.depth > c.maxDepth {
		c.metrics.Count(observability.MetricSkipped, "cascadeTooDeep", 1)
		common.LoggerFrom(ctx, c.logger).Warn("Cascade depth exceeded, dropping operation",
			zap.String("operation", op.kind.String()),
			zap.String("target", op.addr.String()),
			zap.Int("depth", op.depth),
			zap.Int("maxDepth", c.maxDepth),
		)
		return nil
	}

	*f.queue = append(*f.queue, op)
	return nil
}

// drain runs queued operations in FIFO order until the queue is empty.
// Programmer errors stop it; the first transient error is returned after
// the queue is exhausted.
func (c *Controller) drain(ctx context.Context, queue *[]operation) error {
	var firstTransient error
	for len(*queue) > 0 {
		op := (*queue)[0]
		*queue = (*queue)[1:]

		err := c.execute(ctx, queue, op)
		switch {
		case err == nil:
		case apperrors.IsProgrammer(err):
			return err
		case firstTransient == nil:
			firstTransient = err
		}
	}
	return firstTransient
}

func (c *Controller) execute(ctx context.Context, queue *[]operation, op operation) error {
	logger := common.LoggerFrom(ctx, c.logger).With(
		zap.String("operation", op.kind.String()),
		zap.String("target", op.addr.String()),
		zap.Int("depth", op.depth),
	)
	f := frame{queue: queue, depth: op.depth, seq: op.seq, cause: op.cause}

	switch op.kind {
	case opEdit:
		c.metrics.Count(observability.MetricCascades, string(op.addr.Kind), 1)
		rec := stream.Synthesize(op.addr, op.old, op.new, op.depth, op.cause)
		rec.SequenceNumber = op.seq
		return c.dispatcher.runRecord(withFrame(ctx, f), rec)

	case opDelete:
		old, err := c.table.DeleteItem(ctx, op.addr, c.newToken())
		if errors.Is(err, apperrors.ErrItemNotFound) {
			logger.Debug("Cascade target already removed")
			return nil
		}
		if err != nil {
			logger.Warn("Cascade delete failed", zap.Error(err))
			return err
		}
		c.metrics.Count(observability.MetricCascades, string(op.addr.Kind), 1)
		rec := stream.Synthesize(op.addr, old, stream.Item{}, op.depth, op.cause)
		rec.SequenceNumber = op.seq
		return c.dispatcher.runRecord(withFrame(ctx, f), rec)

	case opRemoveChildren:
		children, err := c.children(ctx, op.addr)
		if err != nil {
			logger.Warn("Failed to enumerate children", zap.Error(err))
			return err
		}
		logger.Debug("Removing children", zap.Int("count", len(children)))
		owner := op.addr
		for _, child := range children {
			*queue = append(*queue, operation{kind: opDelete, addr: child, depth: op.depth, seq: op.seq, cause: &owner})
		}
		return nil
	}

	return apperrors.NewProgrammerError(fmt.Sprintf("unknown cascade operation %d", op.kind), apperrors.ErrNoTransitionRule)
}

// children lists the distinct addresses owned by the entity, excluding its
// primary record.
func (c *Controller) children(ctx context.Context, owner keys.Address) ([]keys.Address, error) {
	items, err := c.table.QueryPartition(ctx, owner.PK())
	if err != nil {
		return nil, err
	}
	for _, l := range c.listeners {
		owned, err := l.OnCascade(ctx, owner)
		if err != nil {
			return nil, err
		}
		items = append(items, owned...)
	}

	seen := map[string]struct{}{owner.String(): {}}
	var out []keys.Address
	for _, item := range items {
		addr, err := item.Address()
		if err != nil {
			common.LoggerFrom(ctx, c.logger).Warn("Skipping child with unrecognized key", zap.Error(err))
			continue
		}
		if _, dup := seen[addr.String()]; dup {
			continue
		}
		seen[addr.String()] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}
