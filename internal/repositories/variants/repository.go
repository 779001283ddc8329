// Package variants records resized derivatives of images and stores their
// bytes.
package variants

import (
	"context"

	"github.com/imagestore/imagestore/internal/models"
)

// Repository holds variant metadata rows. Rows are append-only.
type Repository interface {
	RecordVariant(ctx context.Context, user, imageIdentifier string, width, height int64) error
	// BestMatch returns the narrowest variant at least width pixels wide, or
	// nil when there is none.
	BestMatch(ctx context.Context, user, imageIdentifier string, width int64) (*models.ImageVariant, error)
	DeleteVariants(ctx context.Context, user, imageIdentifier string, width *int64) error
}

// BlobRepository holds variant bytes, one blob per (user, image, width).
type BlobRepository interface {
	Put(ctx context.Context, user, imageIdentifier string, width int64, data []byte) error
	Get(ctx context.Context, user, imageIdentifier string, width int64) ([]byte, error)
	DeleteByMetadata(ctx context.Context, user, imageIdentifier string, width *int64) error
}
