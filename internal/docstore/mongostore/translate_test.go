package mongostore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/imagestore/imagestore/internal/docstore"
)

func TestFilter(t *testing.T) {
	tests := []struct {
		name string
		in   docstore.Filter
		want bson.D
	}{
		{name: "empty", in: nil, want: bson.D{}},
		{
			name: "equality stays flat",
			in:   docstore.Filter{docstore.Eq("user", "alice"), docstore.Eq("extension", nil)},
			want: bson.D{{Key: "user", Value: "alice"}, {Key: "extension", Value: nil}},
		},
		{
			name: "range on one field merges",
			in: docstore.Filter{
				docstore.In("user", []string{"a", "b"}),
				docstore.Gte("added", int64(10)),
				docstore.Lte("added", int64(20)),
			},
			want: bson.D{
				{Key: "user", Value: bson.D{{Key: "$in", Value: []any{"a", "b"}}}},
				{Key: "added", Value: bson.D{{Key: "$gte", Value: int64(10)}, {Key: "$lte", Value: int64(20)}}},
			},
		},
		{
			name: "dotted path",
			in:   docstore.Filter{docstore.Eq("acl.group", "g1")},
			want: bson.D{{Key: "acl.group", Value: "g1"}},
		},
		{
			name: "repeated operator uses $and",
			in:   docstore.Filter{docstore.Gte("width", int64(1)), docstore.Gte("width", int64(5))},
			want: bson.D{{Key: "$and", Value: bson.A{
				bson.D{{Key: "width", Value: bson.D{{Key: "$gte", Value: int64(1)}}}},
				bson.D{{Key: "width", Value: bson.D{{Key: "$gte", Value: int64(5)}}}},
			}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Filter(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilter_RejectsBadFields(t *testing.T) {
	_, err := Filter(docstore.Filter{docstore.Eq("$where", "1")})
	assert.Error(t, err)
	_, err = Filter(docstore.Filter{{Field: "a", Op: docstore.OpIn, Value: "not a list"}})
	assert.Error(t, err)
}

func TestSortAndProjection(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "_id", Value: 1}}, Sort(nil))
	assert.Equal(t,
		bson.D{{Key: "added", Value: -1}, {Key: "size", Value: 1}, {Key: "_id", Value: 1}},
		Sort([]docstore.SortField{{Field: "added", Descending: true}, {Field: "size"}}),
	)

	assert.Nil(t, Projection(nil))
	assert.Equal(t,
		bson.D{{Key: "mime", Value: 1}, {Key: "_id", Value: 0}},
		Projection([]string{"mime"}),
	)
}

func TestUpdate(t *testing.T) {
	got, err := Update(docstore.Update{
		Set:  map[string]any{"updated": int64(5)},
		Push: map[string]any{"acl": map[string]any{"id": "r1"}},
		Pull: map[string]docstore.Document{"acl": {"group": "g1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "$set", Value: bson.M{"updated": int64(5)}},
		{Key: "$push", Value: bson.M{"acl": map[string]any{"id": "r1"}}},
		{Key: "$pull", Value: bson.M{"acl": bson.M{"group": "g1"}}},
	}, got)

	_, err = Update(docstore.Update{})
	assert.Error(t, err)
}

func TestUpdate_PullAnyOf(t *testing.T) {
	oid := bson.NewObjectID()
	got, err := Update(docstore.Update{
		Pull: map[string]docstore.Document{"acl": {"id": docstore.AnyOf{oid.Hex(), oid}}},
	})
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "$pull", Value: bson.M{"acl": bson.M{"id": bson.M{"$in": []any{oid.Hex(), oid}}}}},
	}, got)
}

func TestSumPipeline(t *testing.T) {
	p := SumPipeline(bson.D{{Key: "user", Value: "alice"}}, "size")
	require.Len(t, p, 2)
	assert.Equal(t, bson.D{{Key: "$match", Value: bson.D{{Key: "user", Value: "alice"}}}}, p[0])
	assert.Equal(t, bson.D{{Key: "$group", Value: bson.D{
		{Key: "_id", Value: nil},
		{Key: "total", Value: bson.D{{Key: "$sum", Value: "$size"}}},
	}}}, p[1])
}
