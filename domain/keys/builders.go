package keys

import "strings"

// Global secondary index attribute names.
const (
	AttrGSIA1PartitionKey = "gsiA1PartitionKey"
	AttrGSIA1SortKey      = "gsiA1SortKey"
	AttrGSIK1PartitionKey = "gsiK1PartitionKey"
	AttrGSIK1SortKey      = "gsiK1SortKey"
)

// Index identifies one of the secondary indexes used for cascades.
type Index string

const (
	// IndexOwner groups records by owner: "<kind>/<ownerId>".
	IndexOwner Index = "GSI-A1"
	// IndexActor groups facet records by the acting user: "<facet>/<userId>".
	IndexActor Index = "GSI-K1"
)

// PartitionAttr returns the partition key attribute of the index.
func (i Index) PartitionAttr() string {
	if i == IndexActor {
		return AttrGSIK1PartitionKey
	}
	return AttrGSIA1PartitionKey
}

func UserProfile(userID string) Address {
	return Address{Kind: KindUser, ID: userID, Facet: FacetProfile}
}

func Primary(kind EntityKind, id string) Address {
	return Address{Kind: kind, ID: id, Facet: PrimaryFacet(kind)}
}

func Child(kind EntityKind, id string, facet Facet, facetID string) Address {
	return Address{Kind: kind, ID: id, Facet: facet, FacetID: facetID}
}

// OwnerValue renders a GSI-A1 partition value, e.g. "card/{userId}".
func OwnerValue(kind EntityKind, ownerID string) string {
	return string(kind) + "/" + ownerID
}

// ActorValue renders a GSI-K1 partition value, e.g. "flag/{userId}".
func ActorValue(facet Facet, userID string) string {
	return string(facet) + "/" + userID
}

// SplitIndexValue returns the id part of an index value "<prefix>/<id>".
func SplitIndexValue(value string) (prefix, id string, ok bool) {
	prefix, id, ok = strings.Cut(value, "/")
	if !ok || prefix == "" || id == "" {
		return "", "", false
	}
	return prefix, id, true
}
