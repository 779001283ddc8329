package images

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/imagestore/imagestore/internal/common"
	"github.com/imagestore/imagestore/internal/docstore"
	"github.com/imagestore/imagestore/internal/docstore/docstoretest"
	"github.com/imagestore/imagestore/internal/models"
)

var _ Repository = (*DocumentRepository)(nil)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newRepo(t *testing.T) (*DocumentRepository, *docstore.MemoryStore, *clock) {
	t.Helper()
	store := docstore.NewMemoryStore()
	store.EnsureUniqueIndex(CollectionName, fieldUser, fieldImageIdentifier)
	c := &clock{t: time.Unix(1_700_000_000, 0).UTC()}
	return NewDocumentRepository(store, WithClock(c.now)), store, c
}

func sampleImage() *models.Image {
	return &models.Image{
		Size:             100,
		Extension:        "png",
		MimeType:         "image/png",
		Width:            640,
		Height:           480,
		Checksum:         "c1",
		OriginalChecksum: "o1",
	}
}

func strptr(s string) *string { return &s }

func TestStoreImage_TouchIfExists(t *testing.T) {
	ctx := context.Background()
	repo, _, clk := newRepo(t)

	require.NoError(t, repo.StoreImage(ctx, "alice", "img1", sampleImage(), true))
	first, err := repo.Load(ctx, "alice", "img1")
	require.NoError(t, err)

	n, err := repo.CountImages(ctx, strptr("alice"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	sum, err := repo.SumBytes(ctx, strptr("alice"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), sum)

	clk.advance(time.Minute)
	second := sampleImage()
	second.Size = 999
	second.MimeType = "image/jpeg"
	require.NoError(t, repo.StoreImage(ctx, "alice", "img1", second, true))

	n, err = repo.CountImages(ctx, strptr("alice"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "touch must not create a second record")

	after, err := repo.Load(ctx, "alice", "img1")
	require.NoError(t, err)
	assert.Equal(t, first.Updated.Add(time.Minute), after.Updated)
	assert.Equal(t, first.Added, after.Added)
	assert.Equal(t, int64(100), after.Size)
	assert.Equal(t, "image/png", after.MimeType)
}

func TestStoreImage_DuplicateWithoutTouch(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newRepo(t)

	require.NoError(t, repo.StoreImage(ctx, "alice", "img1", sampleImage(), false))
	err := repo.StoreImage(ctx, "alice", "img1", sampleImage(), false)
	assert.ErrorIs(t, err, common.ErrDuplicateIdentifier)
	assert.False(t, errors.Is(err, common.ErrPersistence))
}

func TestStoreImage_UsesImageTimestamps(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newRepo(t)

	img := sampleImage()
	img.Added = time.Unix(1000, 0)
	img.Updated = time.Unix(2000, 0)
	require.NoError(t, repo.StoreImage(ctx, "alice", "img1", img, true))

	props, err := repo.GetImageProperties(ctx, "alice", "img1")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1000, 0).UTC(), props.Added)
	assert.Equal(t, time.Unix(2000, 0).UTC(), props.Updated)
	assert.Equal(t, int64(640), props.Width)
	assert.Equal(t, "png", props.Extension)
}

func TestStoreImage_Failures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")

	store := docstoretest.Faulty(docstore.NewMemoryStore(), docstoretest.Fault{Op: "InsertOne", Err: boom})
	repo := NewDocumentRepository(store)
	err := repo.StoreImage(ctx, "alice", "img1", sampleImage(), true)
	assert.ErrorIs(t, err, common.ErrPersistence)
	assert.ErrorIs(t, err, boom)

	store = docstoretest.Faulty(docstore.NewMemoryStore(), docstoretest.Fault{Op: "FindOne", Err: boom})
	repo = NewDocumentRepository(store)
	assert.ErrorIs(t, repo.StoreImage(ctx, "alice", "img1", sampleImage(), true), common.ErrPersistence)

	assert.ErrorIs(t, repo.StoreImage(ctx, "alice", "img1", nil, true), common.ErrInternal)
}

func TestDeleteImage(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newRepo(t)

	assert.ErrorIs(t, repo.DeleteImage(ctx, "alice", "img1"), common.ErrNotFound)

	require.NoError(t, repo.StoreImage(ctx, "alice", "img1", sampleImage(), true))
	require.NoError(t, repo.DeleteImage(ctx, "alice", "img1"))

	exists, err := repo.ImageExists(ctx, "alice", "img1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMetadata_MergeIsPerKeyLastWriteWins(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newRepo(t)
	require.NoError(t, repo.StoreImage(ctx, "alice", "img1", sampleImage(), true))

	md, err := repo.GetMetadata(ctx, "alice", "img1")
	require.NoError(t, err)
	assert.Empty(t, md)

	require.NoError(t, repo.UpdateMetadata(ctx, "alice", "img1", map[string]any{"k": "v1", "other": "keep"}))
	require.NoError(t, repo.UpdateMetadata(ctx, "alice", "img1", map[string]any{"k": "v2"}))
	require.NoError(t, repo.UpdateMetadata(ctx, "alice", "img1", map[string]any{"nested": map[string]any{"a": 1}}))

	md, err = repo.GetMetadata(ctx, "alice", "img1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"k":      "v2",
		"other":  "keep",
		"nested": map[string]any{"a": int64(1)},
	}, md)

	// shallow merge: nested maps are replaced, not merged
	require.NoError(t, repo.UpdateMetadata(ctx, "alice", "img1", map[string]any{"nested": map[string]any{"b": 2}}))
	md, err = repo.GetMetadata(ctx, "alice", "img1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"b": int64(2)}, md["nested"])

	require.NoError(t, repo.DeleteMetadata(ctx, "alice", "img1"))
	md, err = repo.GetMetadata(ctx, "alice", "img1")
	require.NoError(t, err)
	assert.Empty(t, md)
}

func TestMetadata_Errors(t *testing.T) {
	ctx := context.Background()
	repo, store, _ := newRepo(t)

	assert.ErrorIs(t, repo.UpdateMetadata(ctx, "alice", "nope", map[string]any{"a": 1}), common.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteMetadata(ctx, "alice", "nope"), common.ErrNotFound)
	_, err := repo.GetMetadata(ctx, "alice", "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, store.Collection(CollectionName).InsertOne(ctx, docstore.Document{
		fieldUser: "alice", fieldImageIdentifier: "broken", fieldMetadata: []any{"not", "a", "map"},
	}))
	_, err = repo.GetMetadata(ctx, "alice", "broken")
	assert.ErrorIs(t, err, common.ErrInternal)

	require.NoError(t, store.Collection(CollectionName).InsertOne(ctx, docstore.Document{
		fieldUser: "alice", fieldImageIdentifier: "missing",
	}))
	_, err = repo.GetMetadata(ctx, "alice", "missing")
	assert.ErrorIs(t, err, common.ErrInternal)

	require.NoError(t, store.Collection(CollectionName).InsertOne(ctx, docstore.Document{
		fieldUser: "alice", fieldImageIdentifier: "scalar", fieldMetadata: "x",
	}))
	_, err = repo.GetMetadata(ctx, "alice", "scalar")
	assert.ErrorIs(t, err, common.ErrInternal)
}

func TestMetadata_EmptyArrayIsEmptyMap(t *testing.T) {
	ctx := context.Background()
	repo, store, _ := newRepo(t)

	require.NoError(t, store.Collection(CollectionName).InsertOne(ctx, docstore.Document{
		fieldUser: "alice", fieldImageIdentifier: "img1", fieldMetadata: bson.A{},
	}))

	md, err := repo.GetMetadata(ctx, "alice", "img1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, md)

	require.NoError(t, repo.UpdateMetadata(ctx, "alice", "img1", map[string]any{"title": "sunset"}))
	md, err = repo.GetMetadata(ctx, "alice", "img1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "sunset"}, md)
}

// hookStore runs before once, just ahead of the first UpdateOne on the
// image collection.
type hookStore struct {
	docstore.Store
	before func()
}

func (h *hookStore) Collection(name string) docstore.Collection {
	return &hookCollection{Collection: h.Store.Collection(name), store: h}
}

type hookCollection struct {
	docstore.Collection
	store *hookStore
}

func (c *hookCollection) UpdateOne(ctx context.Context, f docstore.Filter, u docstore.Update) (docstore.UpdateResult, error) {
	if hook := c.store.before; hook != nil {
		c.store.before = nil
		hook()
	}
	return c.Collection.UpdateOne(ctx, f, u)
}

// The merge is read-then-write; a write that lands between the two steps
// is lost. This pins the documented behavior.
func TestUpdateMetadata_InterleavedWriteIsLost(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	hs := &hookStore{Store: mem}
	repo := NewDocumentRepository(hs)
	plain := NewDocumentRepository(mem)

	require.NoError(t, plain.StoreImage(ctx, "alice", "img1", sampleImage(), true))

	hs.before = func() {
		require.NoError(t, plain.UpdateMetadata(ctx, "alice", "img1", map[string]any{"concurrent": true}))
	}
	require.NoError(t, repo.UpdateMetadata(ctx, "alice", "img1", map[string]any{"mine": true}))

	md, err := plain.GetMetadata(ctx, "alice", "img1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"mine": true}, md)
}

func seed(t *testing.T, repo *DocumentRepository, clk *clock) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		user := "alice"
		if i%3 == 0 {
			user = "bob"
		}
		img := sampleImage()
		img.Size = int64(10 * (i + 1))
		img.Width = int64(100 + i%4)
		img.Checksum = fmt.Sprintf("c%d", i)
		img.OriginalChecksum = fmt.Sprintf("o%d", i%2)
		require.NoError(t, repo.StoreImage(ctx, user, fmt.Sprintf("img%d", i), img, true))
		clk.advance(time.Second)
	}
}

func TestSearch_FilterAndDefaultSort(t *testing.T) {
	ctx := context.Background()
	repo, _, clk := newRepo(t)
	start := clk.t
	seed(t, repo, clk)

	images, hits, err := repo.Search(ctx, []string{"alice"}, &models.SearchQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(6), hits)
	require.Len(t, images, 6)
	for i := 1; i < len(images); i++ {
		assert.False(t, images[i].Added.After(images[i-1].Added), "added must be descending")
	}
	assert.Nil(t, images[0].Metadata)

	from := start.Add(2 * time.Second)
	to := start.Add(5 * time.Second)
	images, hits, err = repo.Search(ctx, nil, &models.SearchQuery{From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, int64(4), hits)
	assert.Len(t, images, 4)

	images, hits, err = repo.Search(ctx, nil, &models.SearchQuery{
		ImageIdentifiers:  []string{"img1", "img2", "img3"},
		OriginalChecksums: []string{"o1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits)
	var ids []string
	for _, img := range images {
		ids = append(ids, img.ImageIdentifier)
	}
	assert.Equal(t, []string{"img3", "img1"}, ids)

	_, hits, err = repo.Search(ctx, nil, &models.SearchQuery{Checksums: []string{"c0", "c9", "zzz"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits)
}

func TestSearch_PagesConcatenateToPrefix(t *testing.T) {
	ctx := context.Background()
	repo, _, clk := newRepo(t)
	seed(t, repo, clk)

	sorts := [][]models.SortOrder{
		nil,
		{{Field: "width", Ascending: true}},
		{{Field: "width"}, {Field: "size", Ascending: true}},
		{{Field: "originalChecksum", Ascending: true}},
	}
	const limit, pages = 3, 3

	for _, sort := range sorts {
		t.Run(fmt.Sprint(sort), func(t *testing.T) {
			var paged []string
			for page := int64(1); page <= pages; page++ {
				images, hits, err := repo.Search(ctx, nil, &models.SearchQuery{Page: page, Limit: limit, Sort: sort})
				require.NoError(t, err)
				assert.Equal(t, int64(10), hits, "hits ignore pagination")
				for _, img := range images {
					paged = append(paged, img.ImageIdentifier)
				}
			}

			whole, _, err := repo.Search(ctx, nil, &models.SearchQuery{Page: 1, Limit: limit * pages, Sort: sort})
			require.NoError(t, err)
			var want []string
			for _, img := range whole {
				want = append(want, img.ImageIdentifier)
			}
			assert.Equal(t, want, paged)
		})
	}
}

func TestSearch_MetadataProjectionAndValidation(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newRepo(t)
	require.NoError(t, repo.StoreImage(ctx, "alice", "img1", sampleImage(), true))
	require.NoError(t, repo.UpdateMetadata(ctx, "alice", "img1", map[string]any{"title": "sunset"}))

	images, _, err := repo.Search(ctx, nil, &models.SearchQuery{ReturnMetadata: true})
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, map[string]any{"title": "sunset"}, images[0].Metadata)
	assert.Equal(t, "c1", images[0].Checksum)

	_, _, err = repo.Search(ctx, nil, &models.SearchQuery{Sort: []models.SortOrder{{Field: "metadata"}}})
	assert.ErrorIs(t, err, common.ErrInvalidQuery)
	_, _, err = repo.Search(ctx, nil, &models.SearchQuery{Limit: -1})
	assert.ErrorIs(t, err, common.ErrInvalidQuery)

	images, hits, err := repo.Search(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits)
	assert.Len(t, images, 1)
}

func TestSearchOptions(t *testing.T) {
	opts, err := searchOptions(&models.SearchQuery{Page: 3, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, int64(40), opts.Skip)
	assert.Equal(t, int64(20), opts.Limit)
	assert.Equal(t, []docstore.SortField{{Field: "added", Descending: true}}, opts.Sort)
	assert.NotContains(t, opts.Projection, "metadata")

	opts, err = searchOptions(&models.SearchQuery{Page: 1, Limit: 20, ReturnMetadata: true,
		Sort: []models.SortOrder{{Field: "size", Ascending: true}, {Field: "width"}}})
	require.NoError(t, err)
	assert.Zero(t, opts.Skip)
	assert.Contains(t, opts.Projection, "metadata")
	assert.Equal(t, []docstore.SortField{{Field: "size"}, {Field: "width", Descending: true}}, opts.Sort)
}

func TestSearchFilter(t *testing.T) {
	from, to := time.Unix(10, 0), time.Unix(20, 0)
	f := SearchFilter([]string{"a"}, &models.SearchQuery{From: &from, To: &to, Checksums: []string{"c"}})
	assert.Equal(t, docstore.Filter{
		docstore.In("user", []string{"a"}),
		docstore.Gte("added", int64(10)),
		docstore.Lte("added", int64(20)),
		docstore.In("checksum", []string{"c"}),
	}, f)

	assert.Empty(t, SearchFilter(nil, &models.SearchQuery{}))
}

func TestGetters_NotFound(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newRepo(t)

	_, err := repo.GetImageProperties(ctx, "alice", "x")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = repo.GetMimeType(ctx, "alice", "x")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = repo.Load(ctx, "alice", "x")
	assert.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, repo.StoreImage(ctx, "alice", "x", sampleImage(), true))
	mime, err := repo.GetMimeType(ctx, "alice", "x")
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
}

func TestLastModified(t *testing.T) {
	ctx := context.Background()
	repo, _, clk := newRepo(t)

	got, err := repo.GetLastModified(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, clk.t, got, "empty store falls back to now")

	_, err = repo.GetLastModified(ctx, nil, strptr("img1"))
	assert.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, repo.StoreImage(ctx, "alice", "img1", sampleImage(), true))
	clk.advance(time.Hour)
	require.NoError(t, repo.StoreImage(ctx, "bob", "img2", sampleImage(), true))
	bobTime := clk.t
	clk.advance(time.Hour)

	got, err = repo.GetLastModified(ctx, []string{"alice", "bob"}, nil)
	require.NoError(t, err)
	assert.Equal(t, bobTime, got)

	got, err = repo.GetLastModified(ctx, []string{"alice"}, strptr("img1"))
	require.NoError(t, err)
	assert.Equal(t, bobTime.Add(-time.Hour), got)

	set := time.Date(2030, 1, 2, 3, 4, 5, 600, time.UTC)
	stored, err := repo.SetLastModifiedTime(ctx, "alice", "img1", set)
	require.NoError(t, err)
	assert.Equal(t, set.Truncate(time.Second), stored)

	got, err = repo.GetLastModified(ctx, []string{"alice"}, nil)
	require.NoError(t, err)
	assert.Equal(t, stored, got)

	now, err := repo.SetLastModifiedNow(ctx, "bob", "img2")
	require.NoError(t, err)
	assert.Equal(t, clk.t, now)

	_, err = repo.SetLastModifiedNow(ctx, "bob", "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestAggregates(t *testing.T) {
	ctx := context.Background()
	repo, _, clk := newRepo(t)
	seed(t, repo, clk)

	n, err := repo.CountImages(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	n, err = repo.CountImages(ctx, strptr("bob"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	sum, err := repo.SumBytes(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(550), sum)

	sum, err = repo.SumBytes(ctx, strptr("nobody"))
	require.NoError(t, err)
	assert.Zero(t, sum)

	owners, err := repo.ListOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, owners)

	n, err = repo.CountDistinctOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestAggregates_PersistenceErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	store := docstoretest.Faulty(docstore.NewMemoryStore(),
		docstoretest.Fault{Op: "Count", Err: boom},
		docstoretest.Fault{Op: "Sum", Err: boom},
		docstoretest.Fault{Op: "Distinct", Err: boom},
		docstoretest.Fault{Op: "Find", Err: boom},
	)
	repo := NewDocumentRepository(store)

	_, err := repo.CountImages(ctx, nil)
	assert.ErrorIs(t, err, common.ErrPersistence)
	_, err = repo.SumBytes(ctx, nil)
	assert.ErrorIs(t, err, common.ErrPersistence)
	_, err = repo.CountDistinctOwners(ctx)
	assert.ErrorIs(t, err, common.ErrPersistence)
	_, _, err = repo.Search(ctx, nil, nil)
	assert.ErrorIs(t, err, common.ErrPersistence)
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()
	store := docstoretest.Faulty(docstore.NewMemoryStore())
	repo := NewDocumentRepository(store)
	assert.True(t, repo.HealthCheck(ctx))

	store.PingErr = errors.New("no reachable servers")
	assert.False(t, repo.HealthCheck(ctx))
}
