package blobstoretest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagestore/imagestore/internal/blobstore"
)

// RunContract checks the behavior every blobstore.Store must share.
// newStore must return an empty store.
func RunContract(t *testing.T, newStore func(t *testing.T) blobstore.Store) {
	t.Run("upload download", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.Upload(ctx, "alice.img1", []byte("v1"), map[string]string{blobstore.MetaUser: "alice"}))
		require.NoError(t, s.Upload(ctx, "alice.img1", []byte("v2"), map[string]string{blobstore.MetaUser: "alice"}))

		got, err := s.DownloadByName(ctx, "alice.img1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got, "newest upload wins")

		_, err = s.DownloadByName(ctx, "alice.missing")
		assert.True(t, errors.Is(err, blobstore.ErrNotFound), "got %v", err)
	})

	t.Run("find update delete", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		for _, name := range []string{"bob.img1.100", "bob.img1.200", "bob.img10.100"} {
			require.NoError(t, s.Upload(ctx, name, []byte(name), map[string]string{
				blobstore.MetaUser:            "bob",
				blobstore.MetaImageIdentifier: name[4 : len(name)-4],
			}))
		}

		files, err := s.Find(ctx, blobstore.Query{
			Prefix:   "bob.img1.",
			Metadata: map[string]string{blobstore.MetaImageIdentifier: "img1"},
		})
		require.NoError(t, err)
		var names []string
		for _, f := range files {
			names = append(names, f.Name)
			assert.Equal(t, int64(len(f.Name)), f.Size)
		}
		assert.ElementsMatch(t, []string{"bob.img1.100", "bob.img1.200"}, names)

		require.NoError(t, s.UpdateMetadata(ctx, files[0].ID, map[string]string{blobstore.MetaUpdated: "42"}))
		files, err = s.Find(ctx, blobstore.Query{Metadata: map[string]string{blobstore.MetaUpdated: "42"}})
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "bob", files[0].Metadata[blobstore.MetaUser], "metadata update merges")

		require.NoError(t, s.Delete(ctx, files[0].ID))
		_, err = s.DownloadByName(ctx, files[0].Name)
		assert.True(t, errors.Is(err, blobstore.ErrNotFound), "got %v", err)

		err = s.Delete(ctx, files[0].ID)
		assert.True(t, errors.Is(err, blobstore.ErrNotFound), "got %v", err)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(context.Background()))
	})
}
