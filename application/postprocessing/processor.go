// Package postprocessing routes classified change records to the processors
// registered for their (entityKind, facet) and runs the cascades those
// processors request.
package postprocessing

import (
	"context"

	"real-backend/domain/keys"
	"real-backend/domain/stream"
)

// Route is one (entityKind, facet) pair a processor handles.
type Route struct {
	Kind  keys.EntityKind
	Facet keys.Facet
}

func (r Route) String() string {
	return string(r.Kind) + "/" + string(r.Facet)
}

// RouteOf returns the route of an address.
func RouteOf(addr keys.Address) Route {
	return Route{Kind: addr.Kind, Facet: addr.Facet}
}

// Processor handles the records of one entity family.
type Processor interface {
	Name() string
	Routes() []Route
	Run(ctx context.Context, rec stream.Record) error
}

// CascadeListener is implemented by processors that own records reachable
// from another entity. When an owner is removed, OnCascade returns the
// records that must be removed with it.
type CascadeListener interface {
	OnCascade(ctx context.Context, owner keys.Address) ([]stream.Item, error)
}

// Handler runs one processor for one record
type Handler interface {
	Handle(ctx context.Context, rec stream.Record) error
}

// HandlerFunc is an adapter to allow functions to be used as handlers
type HandlerFunc func(ctx context.Context, rec stream.Record) error

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, rec stream.Record) error {
	return f(ctx, rec)
}

// Middleware decorates a handler
type Middleware func(name string, next Handler) Handler

// Pipeline chains multiple middleware together
type Pipeline struct {
	middlewares []Middleware
}

// NewPipeline creates a new middleware pipeline
func NewPipeline(middlewares ...Middleware) *Pipeline {
	return &Pipeline{
		middlewares: middlewares,
	}
}

// Wrap applies the pipeline to a processor. The first middleware is outermost.
func (p *Pipeline) Wrap(proc Processor) Handler {
	var handler Handler = HandlerFunc(proc.Run)
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		handler = p.middlewares[i](proc.Name(), handler)
	}
	return handler
}
