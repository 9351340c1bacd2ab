package stream

import (
	"bytes"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"real-backend/domain/keys"
)

// Bookkeeping attributes written by the post-processor itself.
const (
	AttrSchemaVersion      = "schemaVersion"
	AttrCascadeToken       = "cascadeToken"
	AttrCascadeDeleteToken = "cascadeDeleteToken"
	// AttrAppliedMark holds the stream position of the last record whose
	// counter changes were applied.
	AttrAppliedMark = "appliedMark"
)

// Item is a plain attribute map. Values are one of: string, *apd.Decimal,
// bool, nil, []byte, []string, []*apd.Decimal, [][]byte, []any or
// map[string]any.
type Item map[string]any

// Empty reports whether the image is absent.
func (it Item) Empty() bool {
	return len(it) == 0
}

// Has reports whether the attribute is present.
func (it Item) Has(name string) bool {
	_, ok := it[name]
	return ok
}

// String returns a string attribute or "".
func (it Item) String(name string) string {
	s, _ := it[name].(string)
	return s
}

// Decimal returns a numeric attribute.
func (it Item) Decimal(name string) (*apd.Decimal, bool) {
	d, ok := it[name].(*apd.Decimal)
	return d, ok && d != nil
}

// Int returns a numeric attribute truncated to an integer, or 0 when it is
// missing or not numeric.
func (it Item) Int(name string) int64 {
	d, ok := it.Decimal(name)
	if !ok {
		return 0
	}
	ctx := apd.BaseContext.WithPrecision(40)
	ctx.Rounding = apd.RoundDown
	var truncated apd.Decimal
	if _, err := ctx.Quantize(&truncated, d, 0); err != nil {
		return 0
	}
	n, err := truncated.Int64()
	if err != nil {
		return 0
	}
	return n
}

// Bool returns a boolean attribute or false.
func (it Item) Bool(name string) bool {
	b, _ := it[name].(bool)
	return b
}

// Address parses the item's own primary key.
func (it Item) Address() (keys.Address, error) {
	return keys.Parse(it.String(keys.AttrPartitionKey), it.String(keys.AttrSortKey))
}

// Clone returns a shallow copy.
func (it Item) Clone() Item {
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

// IsBookkeeping reports whether the attribute is a key, an index projection
// or one of the post-processor's own markers.
func IsBookkeeping(name string) bool {
	switch name {
	case keys.AttrPartitionKey, keys.AttrSortKey, AttrSchemaVersion,
		AttrCascadeToken, AttrCascadeDeleteToken, AttrAppliedMark:
		return true
	}
	return strings.HasPrefix(name, "gsi") &&
		(strings.HasSuffix(name, "PartitionKey") || strings.HasSuffix(name, "SortKey"))
}

// ChangedAttributes lists the non-bookkeeping attributes whose value differs
// between the two images, including added and removed ones.
func ChangedAttributes(old, new Item) []string {
	var changed []string
	for name, nv := range new {
		if IsBookkeeping(name) {
			continue
		}
		if ov, ok := old[name]; !ok || !Equal(ov, nv) {
			changed = append(changed, name)
		}
	}
	for name := range old {
		if IsBookkeeping(name) {
			continue
		}
		if _, ok := new[name]; !ok {
			changed = append(changed, name)
		}
	}
	return changed
}

// Equal compares two plain attribute values. Numbers compare by value so
// "1.0" and "1" are equal.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case *apd.Decimal:
		bv, ok := b.(*apd.Decimal)
		if !ok || av == nil || bv == nil {
			return ok && av == bv
		}
		return av.Cmp(bv) == 0
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case []string:
		bv, ok := b.([]string)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case []*apd.Decimal:
		bv, ok := b.([]*apd.Decimal)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i].Cmp(bv[i]) != 0 {
				return false
			}
		}
		return true
	case [][]byte:
		bv, ok := b.([][]byte)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !bytes.Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	return false
}

// Transportable converts a plain value into JSON-friendly form. Decimals
// become float64.
func Transportable(v any) any {
	switch tv := v.(type) {
	case *apd.Decimal:
		f, err := tv.Float64()
		if err != nil {
			return tv.String()
		}
		return f
	case []*apd.Decimal:
		out := make([]any, len(tv))
		for i, d := range tv {
			out[i] = Transportable(d)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = Transportable(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = Transportable(e)
		}
		return out
	case Item:
		return Transportable(map[string]any(tv))
	}
	return v
}

// NewDecimal builds a decimal from an integer, mainly for fixtures.
func NewDecimal(n int64) *apd.Decimal {
	return apd.New(n, 0)
}
