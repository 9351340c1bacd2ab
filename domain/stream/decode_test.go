package stream

import (
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "real-backend/pkg/errors"
)

func mustDecimal(t *testing.T, s string) *apd.Decimal {
	t.Helper()
	d, _, err := apd.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestFromEventImage(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"username":  events.NewStringAttribute("azim"),
		"postCount": events.NewNumberAttribute("12"),
		"ratio":     events.NewNumberAttribute("0.25"),
		"verified":  events.NewBooleanAttribute(true),
		"bio":       events.NewNullAttribute(),
		"tags":      events.NewStringSetAttribute([]string{"a", "b"}),
		"scores":    events.NewNumberSetAttribute([]string{"1", "2"}),
		"blob":      events.NewBinaryAttribute([]byte{1, 2}),
		"nested": events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
			"list": events.NewListAttribute([]events.DynamoDBAttributeValue{
				events.NewNumberAttribute("3"),
				events.NewStringAttribute("x"),
			}),
		}),
	}

	item, err := FromEventImage(image)
	require.NoError(t, err)

	assert.Equal(t, "azim", item.String("username"))
	assert.Equal(t, int64(12), item.Int("postCount"))
	ratio, ok := item.Decimal("ratio")
	require.True(t, ok)
	assert.Equal(t, "0.25", ratio.String())
	assert.True(t, item.Bool("verified"))
	assert.True(t, item.Has("bio"))
	assert.Nil(t, item["bio"])
	assert.Equal(t, []string{"a", "b"}, item["tags"])
	assert.Len(t, item["scores"], 2)
	assert.Equal(t, []byte{1, 2}, item["blob"])

	nested, ok := item["nested"].(map[string]any)
	require.True(t, ok)
	list, ok := nested["list"].([]any)
	require.True(t, ok)
	assert.True(t, Equal(list[0], NewDecimal(3)))
	assert.Equal(t, "x", list[1])
}

func TestFromEventImage_Empty(t *testing.T) {
	item, err := FromEventImage(nil)
	require.NoError(t, err)
	assert.True(t, item.Empty())
}

func TestFromAttributeValues(t *testing.T) {
	image := map[string]types.AttributeValue{
		"partitionKey": &types.AttributeValueMemberS{Value: "post/P1"},
		"sortKey":      &types.AttributeValueMemberS{Value: "-"},
		"flagCount":    &types.AttributeValueMemberN{Value: "6"},
		"archived":     &types.AttributeValueMemberBOOL{Value: false},
		"list": &types.AttributeValueMemberL{Value: []types.AttributeValue{
			&types.AttributeValueMemberNULL{Value: true},
		}},
	}

	item, err := FromAttributeValues(image)
	require.NoError(t, err)
	assert.Equal(t, int64(6), item.Int("flagCount"))
	assert.False(t, item.Bool("archived"))

	addr, err := item.Address()
	require.NoError(t, err)
	assert.Equal(t, "post/P1", addr.PK())
}

func TestFromAttributeValues_MalformedNumber(t *testing.T) {
	_, err := FromAttributeValues(map[string]types.AttributeValue{
		"flagCount": &types.AttributeValueMemberN{Value: "six"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsDataIntegrity(err))
}

func TestTransportable(t *testing.T) {
	v := Transportable(map[string]any{
		"count": NewDecimal(3),
		"list":  []any{mustDecimal(t, "1.5"), "x"},
	})
	m := v.(map[string]any)
	assert.Equal(t, float64(3), m["count"])
	assert.Equal(t, []any{1.5, "x"}, m["list"])
}

func TestItem_IntTruncates(t *testing.T) {
	item := Item{
		"n":    mustDecimal(t, "2.0"),
		"half": mustDecimal(t, "2.5"),
		"up":   mustDecimal(t, "3.9"),
		"neg":  mustDecimal(t, "-1.7"),
		"s":    "x",
	}
	assert.Equal(t, int64(2), item.Int("n"))
	assert.Equal(t, int64(2), item.Int("half"))
	assert.Equal(t, int64(3), item.Int("up"))
	assert.Equal(t, int64(-1), item.Int("neg"))
	assert.Equal(t, int64(0), item.Int("s"))
	assert.Equal(t, int64(0), item.Int("missing"))
}

func TestChangedAttributes(t *testing.T) {
	old := Item{"a": "1", "b": "2", "gsiA1PartitionKey": "x"}
	new := Item{"a": "1", "b": "3", "c": "4", "gsiA1PartitionKey": "y"}
	assert.ElementsMatch(t, []string{"b", "c"}, ChangedAttributes(old, new))
	assert.True(t, IsBookkeeping("gsiK1SortKey"))
	assert.False(t, IsBookkeeping("gsiNote"))
}
