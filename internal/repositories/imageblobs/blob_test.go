package imageblobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagestore/imagestore/internal/blobstore"
	"github.com/imagestore/imagestore/internal/blobstore/blobstoretest"
	"github.com/imagestore/imagestore/internal/common"
)

var _ Repository = (*BlobRepository)(nil)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestStore_TouchesExisting(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	clk := &clock{t: time.Unix(1000, 0)}
	repo := NewBlobRepository(mem, WithClock(clk.now))

	require.NoError(t, repo.Store(ctx, "alice", "img1", []byte("original")))
	ts, err := repo.LastModified(ctx, "alice", "img1")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1000, 0).UTC(), ts)

	clk.t = time.Unix(2000, 0)
	require.NoError(t, repo.Store(ctx, "alice", "img1", []byte("different bytes")))

	data, err := repo.Fetch(ctx, "alice", "img1")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), data, "bytes are not re-uploaded")

	ts, err = repo.LastModified(ctx, "alice", "img1")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(2000, 0).UTC(), ts)

	files, err := mem.Find(ctx, blobstore.Query{})
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestStore_IgnoresSimilarNames(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	repo := NewBlobRepository(mem)

	require.NoError(t, mem.Upload(ctx, "alice.img1.320", []byte("variant"), map[string]string{
		blobstore.MetaUser: "alice", blobstore.MetaImageIdentifier: "img1", blobstore.MetaWidth: "320",
	}))
	exists, err := repo.Exists(ctx, "alice", "img1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.Store(ctx, "alice", "img1", []byte("original")))
	exists, err = repo.Exists(ctx, "alice", "img1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewBlobRepository(blobstore.NewMemoryStore())

	_, err := repo.Fetch(ctx, "alice", "img1")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "alice", "img1"), common.ErrNotFound)
	_, err = repo.LastModified(ctx, "alice", "img1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewBlobRepository(blobstore.NewMemoryStore())

	require.NoError(t, repo.Store(ctx, "alice", "img1", []byte("x")))
	require.NoError(t, repo.Delete(ctx, "alice", "img1"))

	exists, err := repo.Exists(ctx, "alice", "img1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLastModified_BadMetadata(t *testing.T) {
	ctx := context.Background()
	mem := blobstore.NewMemoryStore()
	repo := NewBlobRepository(mem)
	require.NoError(t, mem.Upload(ctx, "alice.img1", []byte("x"), map[string]string{
		blobstore.MetaUser: "alice", blobstore.MetaImageIdentifier: "img1", blobstore.MetaUpdated: "yesterday",
	}))

	_, err := repo.LastModified(ctx, "alice", "img1")
	assert.ErrorIs(t, err, common.ErrInternal)
}

func TestTransportErrors(t *testing.T) {
	ctx := context.Background()
	faulty := blobstoretest.Faulty(blobstore.NewMemoryStore())
	repo := NewBlobRepository(faulty)
	require.NoError(t, repo.Store(ctx, "alice", "img1", []byte("x")))

	faulty.DownloadErr = errors.New("reset by peer")
	_, err := repo.Fetch(ctx, "alice", "img1")
	assert.ErrorIs(t, err, common.ErrPersistence)
	assert.False(t, errors.Is(err, common.ErrNotFound))

	faulty.UpdateErr = errors.New("boom")
	assert.ErrorIs(t, repo.Store(ctx, "alice", "img1", nil), common.ErrPersistence)

	faulty.DeleteErr = errors.New("boom")
	assert.ErrorIs(t, repo.Delete(ctx, "alice", "img1"), common.ErrPersistence)

	faulty.UploadErr = errors.New("boom")
	assert.ErrorIs(t, repo.Store(ctx, "alice", "img2", nil), common.ErrPersistence)

	faulty.FindErr = errors.New("boom")
	_, err = repo.Exists(ctx, "alice", "img1")
	assert.ErrorIs(t, err, common.ErrPersistence)
}

func TestHealthCheck(t *testing.T) {
	faulty := blobstoretest.Faulty(blobstore.NewMemoryStore())
	repo := NewBlobRepository(faulty)
	assert.True(t, repo.HealthCheck(context.Background()))

	faulty.PingErr = errors.New("bucket gone")
	assert.False(t, repo.HealthCheck(context.Background()))
}
