package ports

import (
	"context"

	"real-backend/domain/keys"
	"real-backend/domain/stream"
)

// CounterChange adds Delta to one counter attribute of a record.
type CounterChange struct {
	Target keys.Address
	Attr   string
	Delta  int64
}

// Increment counts one more on the target's counter.
func Increment(target keys.Address, attr string) CounterChange {
	return CounterChange{Target: target, Attr: attr, Delta: 1}
}

// Decrement counts one less on the target's counter.
func Decrement(target keys.Address, attr string) CounterChange {
	return CounterChange{Target: target, Attr: attr, Delta: -1}
}

// Table defines the post-processor's view of the primary key-value table.
// This is a port in hexagonal architecture - processors don't know about the implementation
type Table interface {
	// GetItem reads a record. A missing record returns an error wrapping
	// errors.ErrItemNotFound.
	GetItem(ctx context.Context, addr keys.Address) (stream.Item, error)

	// ApplyOnce applies counter changes on behalf of a record at most once
	// per mark. The record is stamped with mark in the same write, and the
	// changes are skipped when it already carries an equal or later mark; the
	// result reports whether they were applied. A record that no longer
	// exists gets its changes applied unmarked. Changes on missing targets
	// are dropped, and dropped increments come back as an error wrapping
	// errors.ErrItemNotFound. Decrements of counters at zero are dropped.
	ApplyOnce(ctx context.Context, record keys.Address, mark string, changes ...CounterChange) (bool, error)

	// DecrementCount atomically subtracts one if the counter is above zero
	// and returns the updated record. A counter already at zero returns an
	// error wrapping errors.ErrCounterFloor.
	DecrementCount(ctx context.Context, addr keys.Address, attr string) (stream.Item, error)

	// TransitionStatus sets attr from one value to another, tagging the write
	// with the cascade token. It returns the images before and after.
	TransitionStatus(ctx context.Context, addr keys.Address, attr, from, to, token string) (old, new stream.Item, err error)

	// DeleteItem tags the record with the cascade token and deletes it. It
	// returns the deleted image, or an error wrapping errors.ErrItemNotFound.
	DeleteItem(ctx context.Context, addr keys.Address, token string) (stream.Item, error)

	// QueryPartition lists every record of a partition.
	QueryPartition(ctx context.Context, partitionKey string) ([]stream.Item, error)

	// QueryIndex lists every record whose index partition attribute equals value.
	QueryIndex(ctx context.Context, index keys.Index, value string) ([]stream.Item, error)
}
