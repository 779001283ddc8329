package variants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imagestore/imagestore/internal/common"
	"github.com/imagestore/imagestore/internal/docstore"
	"github.com/imagestore/imagestore/internal/models"
	"github.com/imagestore/imagestore/internal/normalize"
)

const CollectionName = "imagevariation"

const (
	fieldUser            = "user"
	fieldImageIdentifier = "imageIdentifier"
	fieldWidth           = "width"
	fieldHeight          = "height"
	fieldAdded           = "added"
)

type DocumentRepository struct {
	variants docstore.Collection
	now      func() time.Time
}

type Option func(*DocumentRepository)

func WithClock(now func() time.Time) Option {
	return func(r *DocumentRepository) { r.now = now }
}

func NewDocumentRepository(store docstore.Store, opts ...Option) *DocumentRepository {
	r := &DocumentRepository{
		variants: store.Collection(CollectionName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func imageFilter(user, imageIdentifier string) docstore.Filter {
	return docstore.Filter{
		docstore.Eq(fieldUser, user),
		docstore.Eq(fieldImageIdentifier, imageIdentifier),
	}
}

func (r *DocumentRepository) RecordVariant(ctx context.Context, user, imageIdentifier string, width, height int64) error {
	err := r.variants.InsertOne(ctx, docstore.Document{
		fieldAdded:           r.now().Unix(),
		fieldUser:            user,
		fieldImageIdentifier: imageIdentifier,
		fieldWidth:           width,
		fieldHeight:          height,
	})
	if err != nil {
		return fmt.Errorf("%w: unable to save image variation data: %w", common.ErrPersistence, err)
	}
	return nil
}

func (r *DocumentRepository) BestMatch(ctx context.Context, user, imageIdentifier string, width int64) (*models.ImageVariant, error) {
	filter := append(imageFilter(user, imageIdentifier), docstore.Gte(fieldWidth, width))
	doc, err := r.variants.FindOne(ctx, filter, &docstore.FindOptions{
		Projection: []string{fieldWidth, fieldHeight},
		Sort:       []docstore.SortField{{Field: fieldWidth}},
	})
	if errors.Is(err, docstore.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: unable to find image variation: %w", common.ErrPersistence, err)
	}

	w, werr := normalize.Int64(doc[fieldWidth])
	h, herr := normalize.Int64(doc[fieldHeight])
	if err := errors.Join(werr, herr); err != nil {
		return nil, fmt.Errorf("%w: malformed image variation: %w", common.ErrInternal, err)
	}
	return &models.ImageVariant{Width: w, Height: h}, nil
}

// DeleteVariants removes all variant rows of an image, or only those of the
// given width.
func (r *DocumentRepository) DeleteVariants(ctx context.Context, user, imageIdentifier string, width *int64) error {
	filter := imageFilter(user, imageIdentifier)
	if width != nil {
		filter = append(filter, docstore.Eq(fieldWidth, *width))
	}
	if _, err := r.variants.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("%w: unable to delete image variations: %w", common.ErrPersistence, err)
	}
	return nil
}
