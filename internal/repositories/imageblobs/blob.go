package imageblobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/imagestore/imagestore/internal/blobstore"
	"github.com/imagestore/imagestore/internal/common"
	"github.com/imagestore/imagestore/internal/logging"
)

type BlobRepository struct {
	blobs blobstore.Store
	now   func() time.Time
	log   logging.Logger
}

type Option func(*BlobRepository)

func WithClock(now func() time.Time) Option {
	return func(r *BlobRepository) { r.now = now }
}

func WithLogger(l logging.Logger) Option {
	return func(r *BlobRepository) { r.log = l }
}

func NewBlobRepository(blobs blobstore.Store, opts ...Option) *BlobRepository {
	r := &BlobRepository{blobs: blobs, now: time.Now, log: logging.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("repository", "imageblobs")
	return r
}

// Filename is the blob name of an original image.
func Filename(user, imageIdentifier string) string {
	return user + "." + imageIdentifier
}

// find returns the stored blob of an image, or nil.
func (r *BlobRepository) find(ctx context.Context, user, imageIdentifier string) (*blobstore.File, error) {
	name := Filename(user, imageIdentifier)
	files, err := r.blobs.Find(ctx, blobstore.Query{
		Prefix: name,
		Metadata: map[string]string{
			blobstore.MetaUser:            user,
			blobstore.MetaImageIdentifier: imageIdentifier,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: unable to look up image: %w", common.ErrPersistence, err)
	}
	for i := range files {
		if files[i].Name == name {
			return &files[i], nil
		}
	}
	return nil, nil
}

func (r *BlobRepository) Store(ctx context.Context, user, imageIdentifier string, data []byte) error {
	now := strconv.FormatInt(r.now().Unix(), 10)

	existing, err := r.find(ctx, user, imageIdentifier)
	if err != nil {
		return err
	}
	if existing != nil {
		err := r.blobs.UpdateMetadata(ctx, existing.ID, map[string]string{blobstore.MetaUpdated: now})
		if err != nil {
			return fmt.Errorf("%w: unable to touch image: %w", common.ErrPersistence, err)
		}
		return nil
	}

	err = r.blobs.Upload(ctx, Filename(user, imageIdentifier), data, map[string]string{
		blobstore.MetaUser:            user,
		blobstore.MetaImageIdentifier: imageIdentifier,
		blobstore.MetaUpdated:         now,
	})
	if err != nil {
		return fmt.Errorf("%w: unable to store image: %w", common.ErrPersistence, err)
	}
	return nil
}

func (r *BlobRepository) Fetch(ctx context.Context, user, imageIdentifier string) ([]byte, error) {
	data, err := r.blobs.DownloadByName(ctx, Filename(user, imageIdentifier))
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: image %s", common.ErrNotFound, Filename(user, imageIdentifier))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: unable to get image: %w", common.ErrPersistence, err)
	}
	return data, nil
}

func (r *BlobRepository) Delete(ctx context.Context, user, imageIdentifier string) error {
	f, err := r.find(ctx, user, imageIdentifier)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("%w: image %s", common.ErrNotFound, Filename(user, imageIdentifier))
	}
	if err := r.blobs.Delete(ctx, f.ID); err != nil {
		return fmt.Errorf("%w: unable to delete image: %w", common.ErrPersistence, err)
	}
	return nil
}

// LastModified reads the updated timestamp kept in the blob metadata.
func (r *BlobRepository) LastModified(ctx context.Context, user, imageIdentifier string) (time.Time, error) {
	f, err := r.find(ctx, user, imageIdentifier)
	if err != nil {
		return time.Time{}, err
	}
	if f == nil {
		return time.Time{}, fmt.Errorf("%w: image %s", common.ErrNotFound, Filename(user, imageIdentifier))
	}
	sec, err := strconv.ParseInt(f.Metadata[blobstore.MetaUpdated], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad updated timestamp on %s: %w", common.ErrInternal, f.Name, err)
	}
	return time.Unix(sec, 0).UTC(), nil
}

func (r *BlobRepository) Exists(ctx context.Context, user, imageIdentifier string) (bool, error) {
	f, err := r.find(ctx, user, imageIdentifier)
	return f != nil, err
}

func (r *BlobRepository) HealthCheck(ctx context.Context) bool {
	if err := r.blobs.Ping(ctx); err != nil {
		r.log.Warn(ctx, "blob store ping failed", "err", err)
		return false
	}
	return true
}
