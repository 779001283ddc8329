package variants

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/imagestore/imagestore/internal/blobstore"
	"github.com/imagestore/imagestore/internal/common"
)

// BlobStoreRepository stores variant bytes under "{user}.{imageIdentifier}.{width}".
type BlobStoreRepository struct {
	blobs blobstore.Store
	now   func() time.Time
}

type BlobOption func(*BlobStoreRepository)

func WithBlobClock(now func() time.Time) BlobOption {
	return func(r *BlobStoreRepository) { r.now = now }
}

func NewBlobRepository(blobs blobstore.Store, opts ...BlobOption) *BlobStoreRepository {
	r := &BlobStoreRepository{blobs: blobs, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Filename is the blob name of one variant.
func Filename(user, imageIdentifier string, width int64) string {
	return user + "." + imageIdentifier + "." + strconv.FormatInt(width, 10)
}

func (r *BlobStoreRepository) Put(ctx context.Context, user, imageIdentifier string, width int64, data []byte) error {
	err := r.blobs.Upload(ctx, Filename(user, imageIdentifier, width), data, map[string]string{
		blobstore.MetaAdded:           strconv.FormatInt(r.now().Unix(), 10),
		blobstore.MetaUser:            user,
		blobstore.MetaImageIdentifier: imageIdentifier,
		blobstore.MetaWidth:           strconv.FormatInt(width, 10),
	})
	if err != nil {
		return fmt.Errorf("%w: unable to store image variation: %w", common.ErrPersistence, err)
	}
	return nil
}

func (r *BlobStoreRepository) Get(ctx context.Context, user, imageIdentifier string, width int64) ([]byte, error) {
	data, err := r.blobs.DownloadByName(ctx, Filename(user, imageIdentifier, width))
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: image variation %s", common.ErrNotFound, Filename(user, imageIdentifier, width))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: unable to get image variation: %w", common.ErrPersistence, err)
	}
	return data, nil
}

// DeleteByMetadata deletes matching blobs one by one and stops at the first
// failure; blobs deleted before it stay deleted.
func (r *BlobStoreRepository) DeleteByMetadata(ctx context.Context, user, imageIdentifier string, width *int64) error {
	q := blobstore.Query{
		Prefix: user + "." + imageIdentifier + ".",
		Metadata: map[string]string{
			blobstore.MetaUser:            user,
			blobstore.MetaImageIdentifier: imageIdentifier,
		},
	}
	if width != nil {
		q.Prefix = Filename(user, imageIdentifier, *width)
		q.Metadata[blobstore.MetaWidth] = strconv.FormatInt(*width, 10)
	}

	files, err := r.blobs.Find(ctx, q)
	if err != nil {
		return fmt.Errorf("%w: unable to find image variations: %w", common.ErrPersistence, err)
	}
	for _, f := range files {
		if err := r.blobs.Delete(ctx, f.ID); err != nil {
			return fmt.Errorf("%w: unable to delete image variations: %w", common.ErrPersistence, err)
		}
	}
	return nil
}
