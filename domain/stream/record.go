package stream

import (
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"real-backend/domain/keys"
	apperrors "real-backend/pkg/errors"
)

// Transition is the entity-level change a record represents.
type Transition int

const (
	NOOP Transition = iota
	ADD
	EDIT
	DELETE
)

func (t Transition) String() string {
	switch t {
	case ADD:
		return "ADD"
	case EDIT:
		return "EDIT"
	case DELETE:
		return "DELETE"
	}
	return "NOOP"
}

// Stream event names.
const (
	EventInsert    = "INSERT"
	EventModify    = "MODIFY"
	EventRemove    = "REMOVE"
	EventSynthetic = "SYNTHETIC"
)

// Classify combines two images into a transition. Differences confined to
// bookkeeping attributes are NOOP.
func Classify(old, new Item) Transition {
	switch {
	case old.Empty() && new.Empty():
		return NOOP
	case old.Empty():
		return ADD
	case new.Empty():
		return DELETE
	case len(ChangedAttributes(old, new)) > 0:
		return EDIT
	}
	return NOOP
}

// IsCascadeEcho reports whether the images describe the table's own replay of
// a write the post-processor already handled in-process.
func IsCascadeEcho(old, new Item) bool {
	if new.Empty() {
		return old.Has(AttrCascadeDeleteToken)
	}
	if old.Empty() {
		return false
	}
	return tokenChanged(old, new, AttrCascadeToken) || tokenChanged(old, new, AttrCascadeDeleteToken)
}

func tokenChanged(old, new Item, attr string) bool {
	nv, ok := new[attr]
	if !ok {
		return false
	}
	return !Equal(old[attr], nv)
}

// Record is one classified change, either read from the stream or
// synthesized by a cascade.
type Record struct {
	EventID        string
	EventName      string
	SequenceNumber string
	Address        keys.Address
	Transition     Transition
	Old            Item
	New            Item

	Synthetic bool
	Depth     int
	// Cause is the entity whose removal produced this record, if any.
	Cause *keys.Address
}

// Image returns the new image, or the old one for deletions.
func (r Record) Image() Item {
	if r.New.Empty() {
		return r.Old
	}
	return r.New
}

// markWidth is the longest stream sequence number.
const markWidth = 40

// Mark is the record's stream position, zero padded so marks of one item
// order as strings. It is empty when the record has no sequence number and
// for synthetic records, which the conditional write that produced them
// already applies once.
func (r Record) Mark() string {
	if r.Synthetic {
		return ""
	}
	if r.SequenceNumber == "" || len(r.SequenceNumber) >= markWidth {
		return r.SequenceNumber
	}
	return strings.Repeat("0", markWidth-len(r.SequenceNumber)) + r.SequenceNumber
}

// CausedByRemovalOf reports whether the record was synthesized because the
// given entity is being removed.
func (r Record) CausedByRemovalOf(kind keys.EntityKind, id string) bool {
	return r.Cause != nil && r.Cause.Kind == kind && r.Cause.ID == id
}

// FromEventRecord decodes and classifies a stream record. Key shape errors
// come back as data-integrity errors.
func FromEventRecord(rec events.DynamoDBEventRecord) (Record, error) {
	out := Record{
		EventID:        rec.EventID,
		EventName:      rec.EventName,
		SequenceNumber: rec.Change.SequenceNumber,
	}

	pk, sk := keyString(rec.Change.Keys, keys.AttrPartitionKey), keyString(rec.Change.Keys, keys.AttrSortKey)
	addr, err := keys.Parse(pk, sk)
	if err != nil {
		return out, err
	}
	out.Address = addr

	if out.Old, err = FromEventImage(rec.Change.OldImage); err != nil {
		return out, apperrors.Wrap(err, "old image")
	}
	if out.New, err = FromEventImage(rec.Change.NewImage); err != nil {
		return out, apperrors.Wrap(err, "new image")
	}
	out.Transition = Classify(out.Old, out.New)
	return out, nil
}

// Synthesize builds a cascade record for the given images. The caller sets
// SequenceNumber to the position of the input record that caused it.
func Synthesize(addr keys.Address, old, new Item, depth int, cause *keys.Address) Record {
	return Record{
		EventID:    fmt.Sprintf("cascade:%s:%d", addr, depth),
		EventName:  EventSynthetic,
		Address:    addr,
		Transition: Classify(old, new),
		Old:        old,
		New:        new,
		Synthetic:  true,
		Depth:      depth,
		Cause:      cause,
	}
}

func keyString(m map[string]events.DynamoDBAttributeValue, name string) string {
	av, ok := m[name]
	if !ok || av.DataType() != events.DataTypeString {
		return ""
	}
	return av.String()
}
