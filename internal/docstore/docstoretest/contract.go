package docstoretest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagestore/imagestore/internal/docstore"
)

// RunContract checks the behavior every docstore.Store must share.
// newCollection must return an empty collection; when unique is set it
// must also enforce a unique index over ("user", "imageIdentifier").
func RunContract(t *testing.T, newCollection func(t *testing.T, unique bool) docstore.Collection) {
	t.Run("insert find count", func(t *testing.T) {
		ctx := context.Background()
		c := newCollection(t, false)

		require.NoError(t, c.InsertOne(ctx, docstore.Document{"user": "a", "n": int64(1), "tags": []any{"x", "y"}}))
		require.NoError(t, c.InsertOne(ctx, docstore.Document{"user": "b", "n": int64(2), "ext": nil}))

		doc, err := c.FindOne(ctx, docstore.Filter{docstore.Eq("user", "a")}, nil)
		require.NoError(t, err)
		assert.Equal(t, docstore.Document{"user": "a", "n": int64(1), "tags": []any{"x", "y"}}, doc)

		_, err = c.FindOne(ctx, docstore.Filter{docstore.Eq("user", "zzz")}, nil)
		assert.True(t, errors.Is(err, docstore.ErrNoDocuments), "got %v", err)

		n, err := c.Count(ctx, docstore.Filter{docstore.Eq("ext", nil)})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n, "null matches missing fields")

		n, err = c.Count(ctx, docstore.Filter{docstore.In("user", []string{"a", "b", "c"}), docstore.Gte("n", int64(2))})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = c.Count(ctx, docstore.Filter{docstore.Eq("tags", "y")})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "equality matches array elements")
	})

	t.Run("unique index", func(t *testing.T) {
		ctx := context.Background()
		c := newCollection(t, true)
		require.NoError(t, c.InsertOne(ctx, docstore.Document{"user": "a", "imageIdentifier": "1"}))
		err := c.InsertOne(ctx, docstore.Document{"user": "a", "imageIdentifier": "1"})
		assert.True(t, errors.Is(err, docstore.ErrDuplicateKey), "got %v", err)
	})

	t.Run("sort skip limit projection", func(t *testing.T) {
		ctx := context.Background()
		c := newCollection(t, false)
		for i := 0; i < 6; i++ {
			require.NoError(t, c.InsertOne(ctx, docstore.Document{
				"name": fmt.Sprintf("n%d", i), "bucket": int64(i % 2), "secret": "s",
			}))
		}
		docs, err := c.Find(ctx, nil, &docstore.FindOptions{
			Projection: []string{"name"},
			Sort:       []docstore.SortField{{Field: "bucket", Descending: true}},
			Skip:       1,
			Limit:      3,
		})
		require.NoError(t, err)
		var names []string
		for _, d := range docs {
			assert.NotContains(t, d, "secret")
			names = append(names, d["name"].(string))
		}
		assert.Equal(t, []string{"n3", "n5", "n0"}, names, "ties keep insertion order")
	})

	t.Run("updates", func(t *testing.T) {
		ctx := context.Background()
		c := newCollection(t, false)
		require.NoError(t, c.InsertOne(ctx, docstore.Document{"k": "1", "acl": []any{}}))
		require.NoError(t, c.InsertOne(ctx, docstore.Document{"k": "2", "acl": []any{}}))

		res, err := c.UpdateOne(ctx, docstore.Filter{docstore.Eq("k", "1")}, docstore.Update{
			Push: map[string]any{"acl": map[string]any{"id": "r1", "group": "g"}},
		})
		require.NoError(t, err)
		assert.Equal(t, docstore.UpdateResult{Matched: 1, Modified: 1}, res)
		_, err = c.UpdateOne(ctx, docstore.Filter{docstore.Eq("k", "2")}, docstore.Update{
			Push: map[string]any{"acl": map[string]any{"id": "r2", "group": "g"}},
		})
		require.NoError(t, err)

		res, err = c.UpdateOne(ctx, docstore.Filter{docstore.Eq("k", "1")}, docstore.Update{
			Set: map[string]any{"meta": map[string]any{"a": "b"}},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Modified)

		res, err = c.UpdateMany(ctx, docstore.Filter{docstore.Eq("acl.group", "g")}, docstore.Update{
			Pull: map[string]docstore.Document{"acl": {"group": "g"}},
		})
		require.NoError(t, err)
		assert.Equal(t, docstore.UpdateResult{Matched: 2, Modified: 2}, res)

		doc, err := c.FindOne(ctx, docstore.Filter{docstore.Eq("k", "1")}, nil)
		require.NoError(t, err)
		assert.Equal(t, []any{}, doc["acl"])
		assert.Equal(t, map[string]any{"a": "b"}, doc["meta"])

		res, err = c.UpdateOne(ctx, docstore.Filter{docstore.Eq("k", "missing")}, docstore.Update{
			Set: map[string]any{"x": int64(1)},
		})
		require.NoError(t, err)
		assert.Zero(t, res.Matched)
	})

	t.Run("delete sum distinct", func(t *testing.T) {
		ctx := context.Background()
		c := newCollection(t, false)
		for i, u := range []string{"a", "b", "a", "c"} {
			require.NoError(t, c.InsertOne(ctx, docstore.Document{"user": u, "size": int64(10 * (i + 1))}))
		}

		sum, err := c.Sum(ctx, docstore.Filter{docstore.Eq("user", "a")}, "size")
		require.NoError(t, err)
		assert.Equal(t, int64(40), sum)

		sum, err = c.Sum(ctx, docstore.Filter{docstore.Eq("user", "nobody")}, "size")
		require.NoError(t, err)
		assert.Zero(t, sum)

		users, err := c.Distinct(ctx, "user", nil)
		require.NoError(t, err)
		assert.ElementsMatch(t, []any{"a", "b", "c"}, users)

		n, err := c.DeleteOne(ctx, docstore.Filter{docstore.Eq("user", "a")})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = c.DeleteMany(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})
}
