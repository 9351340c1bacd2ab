// Package keys parses and builds the composite keys of the primary table.
//
// Partition keys have the shape "<kind>/<id>". Sort keys are "-" (the primary
// facet of every entity except users), a bare facet name such as "profile",
// or "<facet>/<facetId>" for child records such as "flag/{userId}".
package keys

import (
	"fmt"
	"strings"

	apperrors "real-backend/pkg/errors"
)

// EntityKind is the first segment of a partition key.
type EntityKind string

const (
	KindUser            EntityKind = "user"
	KindPost            EntityKind = "post"
	KindComment         EntityKind = "comment"
	KindChat            EntityKind = "chat"
	KindChatMessage     EntityKind = "chatMessage"
	KindCard            EntityKind = "card"
	KindAppStoreSub     EntityKind = "appStoreSub"
	KindAppStoreReceipt EntityKind = "appStoreReceipt"
)

// Facet is the semantic role of a sort key within a partition.
type Facet string

const (
	FacetPrimary  Facet = "-"
	FacetProfile  Facet = "profile"
	FacetFlag     Facet = "flag"
	FacetView     Facet = "view"
	FacetMember   Facet = "member"
	FacetImage    Facet = "image"
	FacetTrending Facet = "trending"
)

// Table attribute names for the primary key.
const (
	AttrPartitionKey = "partitionKey"
	AttrSortKey      = "sortKey"
)

// Address is the typed form of a (partitionKey, sortKey) pair.
type Address struct {
	Kind    EntityKind
	ID      string
	Facet   Facet
	FacetID string
}

// Parse converts raw keys into an Address. Any kind is accepted; routing
// decides whether it matters. Malformed shapes return an error wrapping
// ErrUnrecognizedKey.
func Parse(partitionKey, sortKey string) (Address, error) {
	kind, id, ok := strings.Cut(partitionKey, "/")
	if !ok || kind == "" || id == "" || strings.Contains(id, "/") {
		return Address{}, unrecognized(partitionKey, sortKey)
	}

	addr := Address{Kind: EntityKind(kind), ID: id}

	facet, facetID, hasID := strings.Cut(sortKey, "/")
	switch {
	case facet == "":
		return Address{}, unrecognized(partitionKey, sortKey)
	case hasID && (facetID == "" || strings.Contains(facetID, "/")):
		return Address{}, unrecognized(partitionKey, sortKey)
	case hasID && facet == string(FacetPrimary):
		return Address{}, unrecognized(partitionKey, sortKey)
	}

	addr.Facet = Facet(facet)
	addr.FacetID = facetID
	return addr, nil
}

func unrecognized(pk, sk string) error {
	return apperrors.NewDataIntegrityError(
		fmt.Sprintf("cannot parse key (%q, %q)", pk, sk),
		apperrors.ErrUnrecognizedKey,
	)
}

// PrimaryFacet returns the facet that represents the entity itself.
func PrimaryFacet(kind EntityKind) Facet {
	if kind == KindUser {
		return FacetProfile
	}
	return FacetPrimary
}

// IsPrimary reports whether the address points at the entity record itself.
func (a Address) IsPrimary() bool {
	return a.Facet == PrimaryFacet(a.Kind) && a.FacetID == ""
}

// PK renders the partition key.
func (a Address) PK() string {
	return string(a.Kind) + "/" + a.ID
}

// SK renders the sort key.
func (a Address) SK() string {
	if a.FacetID == "" {
		return string(a.Facet)
	}
	return string(a.Facet) + "/" + a.FacetID
}

// Parent returns the primary address of the entity owning this record.
func (a Address) Parent() Address {
	return Address{Kind: a.Kind, ID: a.ID, Facet: PrimaryFacet(a.Kind)}
}

func (a Address) String() string {
	return a.PK() + "|" + a.SK()
}
