package processors_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"real-backend/domain/keys"
	"real-backend/domain/stream"
)

func comment(commentID, postID, commenterID string, kv ...any) stream.Item {
	base := []any{
		"commentId", commentID,
		"postId", postID,
		"commentedByUserId", commenterID,
		keys.AttrGSIA1PartitionKey, keys.OwnerValue(keys.KindComment, postID),
	}
	return item("comment/"+commentID, "-", append(base, kv...)...)
}

func TestComment_AddByOtherUser(t *testing.T) {
	h := newHarness(t,
		post("P", "A", "commentCount", 0, "commentsUnviewedCount", 0),
		profile("B", "commenter", "commentCount", 0),
	)

	require.NoError(t, h.insert(t, comment("C", "P", "B")))

	assert.Equal(t, int64(1), h.table.Count(postP, "commentCount"))
	assert.Equal(t, int64(1), h.table.Count(postP, "commentsUnviewedCount"))
	assert.Equal(t, int64(1), h.table.Count(keys.UserProfile("B"), "commentCount"))
}

func TestComment_AddByPostAuthor(t *testing.T) {
	h := newHarness(t,
		post("P", "A", "commentCount", 0, "commentsUnviewedCount", 0),
		profile("A", "author", "commentCount", 0),
	)

	require.NoError(t, h.insert(t, comment("C", "P", "A")))

	assert.Equal(t, int64(1), h.table.Count(postP, "commentCount"))
	assert.Equal(t, int64(0), h.table.Count(postP, "commentsUnviewedCount"))
}

func TestComment_AddOnMissingPost(t *testing.T) {
	h := newHarness(t, profile("B", "commenter", "commentCount", 0))

	require.NoError(t, h.insert(t, comment("C", "P", "B")), "a missing parent is skipped")

	assert.Equal(t, int64(1), h.table.Count(keys.UserProfile("B"), "commentCount"))
}

func TestComment_Delete(t *testing.T) {
	h := newHarness(t,
		post("P", "A", "commentCount", 1),
		profile("B", "commenter", "commentCount", 1),
	)

	require.NoError(t, h.remove(t, comment("C", "P", "B")))

	assert.Equal(t, int64(0), h.table.Count(postP, "commentCount"))
	assert.Equal(t, int64(0), h.table.Count(keys.UserProfile("B"), "commentCount"))
}

func TestComment_ForcedDelete(t *testing.T) {
	c := comment("C", "P", "B", "flagCount", 5)
	h := newHarness(t,
		post("P", "A", "commentCount", 1),
		profile("B", "commenter", "commentCount", 1),
		c,
		flag(keys.KindComment, "C", "U1"),
	)

	require.NoError(t, h.insert(t, flag(keys.KindComment, "C", "U6")))

	assert.Nil(t, h.table.Item(keys.Primary(keys.KindComment, "C")))
	assert.Nil(t, h.table.Item(keys.Child(keys.KindComment, "C", keys.FacetFlag, "U1")))
	assert.Nil(t, h.table.Item(keys.Child(keys.KindComment, "C", keys.FacetFlag, "U6")))
	assert.Equal(t, int64(0), h.table.Count(postP, "commentCount"))
	assert.Equal(t, int64(0), h.table.Count(keys.UserProfile("B"), "commentCount"))
}

func TestComment_BelowThresholdStays(t *testing.T) {
	h := newHarness(t, comment("C", "P", "B", "flagCount", 3))

	require.NoError(t, h.insert(t, flag(keys.KindComment, "C", "U4")))

	assert.Equal(t, int64(4), h.table.Count(keys.Primary(keys.KindComment, "C"), "flagCount"))
}

func TestComment_AdminFlagDeletes(t *testing.T) {
	h := newHarness(t,
		comment("C", "P", "B", "flagCount", 0),
		profile("I", "ian"),
	)

	require.NoError(t, h.insert(t, flag(keys.KindComment, "C", "I")))

	assert.Nil(t, h.table.Item(keys.Primary(keys.KindComment, "C")))
}
