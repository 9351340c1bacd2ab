// Package mocks provides test doubles for the application ports.
package mocks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/apd/v3"

	"real-backend/application/ports"
	"real-backend/domain/keys"
	"real-backend/domain/stream"
	apperrors "real-backend/pkg/errors"
)

// MemTable is an in-memory ports.Table with the same conditional write
// semantics as the DynamoDB adapter.
type MemTable struct {
	mu    sync.Mutex
	items map[string]stream.Item

	// Fail makes the named method return the error once per call while set.
	Fail map[string]error
	// Deleted records the addresses removed through DeleteItem, in order.
	Deleted []keys.Address
}

// NewMemTable creates a table seeded with items.
func NewMemTable(items ...stream.Item) *MemTable {
	t := &MemTable{items: make(map[string]stream.Item), Fail: make(map[string]error)}
	for _, item := range items {
		t.Put(item)
	}
	return t
}

// Put stores an item, replacing any record at the same key.
func (t *MemTable) Put(item stream.Item) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[rowKey(item.String(keys.AttrPartitionKey), item.String(keys.AttrSortKey))] = item.Clone()
}

// Item returns a copy of the stored record, or nil.
func (t *MemTable) Item(addr keys.Address) stream.Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[rowKey(addr.PK(), addr.SK())]
	if !ok {
		return nil
	}
	return item.Clone()
}

// Count returns an integer attribute of a stored record.
func (t *MemTable) Count(addr keys.Address, attr string) int64 {
	item := t.Item(addr)
	if item == nil {
		return 0
	}
	return item.Int(attr)
}

// Len reports the number of stored records.
func (t *MemTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func rowKey(pk, sk string) string {
	return pk + "|" + sk
}

func notFound(addr keys.Address) error {
	return apperrors.NewDataIntegrityError(fmt.Sprintf("no record at %s", addr), apperrors.ErrItemNotFound)
}

func (t *MemTable) injected(method string) error {
	if err, ok := t.Fail[method]; ok && err != nil {
		return err
	}
	return nil
}

func (t *MemTable) GetItem(ctx context.Context, addr keys.Address) (stream.Item, error) {
	if err := t.injected("GetItem"); err != nil {
		return nil, err
	}
	item := t.Item(addr)
	if item == nil {
		return nil, notFound(addr)
	}
	return item, nil
}

// ApplyOnce applies the changes and the mark under one lock, the way the
// DynamoDB adapter applies them in one transaction.
func (t *MemTable) ApplyOnce(ctx context.Context, record keys.Address, mark string, changes ...ports.CounterChange) (bool, error) {
	if err := t.injected("ApplyOnce"); err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	recordKey := rowKey(record.PK(), record.SK())
	item, exists := t.items[recordKey]
	if exists && mark != "" && item.String(stream.AttrAppliedMark) >= mark {
		return false, nil
	}

	var missing []string
	for _, change := range changes {
		key := rowKey(change.Target.PK(), change.Target.SK())
		target, ok := t.items[key]
		if !ok {
			if change.Delta > 0 {
				missing = append(missing, change.Target.String())
			}
			continue
		}
		current := target.Int(change.Attr)
		if change.Delta < 0 && current+change.Delta < 0 {
			continue
		}
		updated := target.Clone()
		updated[change.Attr] = apd.New(current+change.Delta, 0)
		t.items[key] = updated
	}

	if exists && mark != "" {
		marked := t.items[recordKey].Clone()
		marked[stream.AttrAppliedMark] = mark
		t.items[recordKey] = marked
	}
	if len(missing) > 0 {
		return true, apperrors.NewDataIntegrityError(
			fmt.Sprintf("cannot count on missing %s", strings.Join(missing, ", ")), apperrors.ErrItemNotFound)
	}
	return true, nil
}

func (t *MemTable) DecrementCount(ctx context.Context, addr keys.Address, attr string) (stream.Item, error) {
	if err := t.injected("DecrementCount"); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := rowKey(addr.PK(), addr.SK())
	item, ok := t.items[key]
	if !ok {
		return nil, notFound(addr)
	}
	current := item.Int(attr)
	if current <= 0 {
		return nil, apperrors.NewDataIntegrityError(fmt.Sprintf("%s of %s is not positive", attr, addr), apperrors.ErrCounterFloor)
	}
	updated := item.Clone()
	updated[attr] = apd.New(current-1, 0)
	t.items[key] = updated
	return updated.Clone(), nil
}

func (t *MemTable) TransitionStatus(ctx context.Context, addr keys.Address, attr, from, to, token string) (stream.Item, stream.Item, error) {
	if err := t.injected("TransitionStatus"); err != nil {
		return nil, nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := rowKey(addr.PK(), addr.SK())
	item, ok := t.items[key]
	if !ok || item.String(attr) != from {
		return nil, nil, apperrors.NewDataIntegrityError(
			fmt.Sprintf("%s of %s is not %s", attr, addr, from), apperrors.ErrConditionFailed)
	}
	updated := item.Clone()
	updated[attr] = to
	updated[stream.AttrCascadeToken] = token
	t.items[key] = updated
	return item.Clone(), updated.Clone(), nil
}

func (t *MemTable) DeleteItem(ctx context.Context, addr keys.Address, token string) (stream.Item, error) {
	if err := t.injected("DeleteItem"); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := rowKey(addr.PK(), addr.SK())
	item, ok := t.items[key]
	if !ok {
		return nil, notFound(addr)
	}
	delete(t.items, key)
	t.Deleted = append(t.Deleted, addr)

	old := item.Clone()
	old[stream.AttrCascadeDeleteToken] = token
	return old, nil
}

func (t *MemTable) QueryPartition(ctx context.Context, partitionKey string) ([]stream.Item, error) {
	if err := t.injected("QueryPartition"); err != nil {
		return nil, err
	}
	return t.collect(func(item stream.Item) bool {
		return item.String(keys.AttrPartitionKey) == partitionKey
	}), nil
}

func (t *MemTable) QueryIndex(ctx context.Context, index keys.Index, value string) ([]stream.Item, error) {
	if err := t.injected("QueryIndex"); err != nil {
		return nil, err
	}
	attr := index.PartitionAttr()
	return t.collect(func(item stream.Item) bool {
		return item.String(attr) == value
	}), nil
}

// collect returns matching records ordered by key, like a query would.
func (t *MemTable) collect(match func(stream.Item) bool) []stream.Item {
	t.mu.Lock()
	defer t.mu.Unlock()

	var rows []string
	for key, item := range t.items {
		if match(item) {
			rows = append(rows, key)
		}
	}
	sort.Strings(rows)

	out := make([]stream.Item, 0, len(rows))
	for _, key := range rows {
		out = append(out, t.items[key].Clone())
	}
	return out
}
