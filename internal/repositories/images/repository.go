// Package images stores image records and their metadata maps.
package images

import (
	"context"
	"time"

	"github.com/imagestore/imagestore/internal/models"
)

// Repository is the image metadata store.
type Repository interface {
	StoreImage(ctx context.Context, user, imageIdentifier string, image *models.Image, touchIfExists bool) error
	DeleteImage(ctx context.Context, user, imageIdentifier string) error
	ImageExists(ctx context.Context, user, imageIdentifier string) (bool, error)

	UpdateMetadata(ctx context.Context, user, imageIdentifier string, metadata map[string]any) error
	GetMetadata(ctx context.Context, user, imageIdentifier string) (map[string]any, error)
	DeleteMetadata(ctx context.Context, user, imageIdentifier string) error

	Search(ctx context.Context, users []string, query *models.SearchQuery) ([]models.Image, int64, error)
	GetImageProperties(ctx context.Context, user, imageIdentifier string) (*models.ImageProperties, error)
	GetMimeType(ctx context.Context, user, imageIdentifier string) (string, error)
	Load(ctx context.Context, user, imageIdentifier string) (*models.Image, error)

	GetLastModified(ctx context.Context, users []string, imageIdentifier *string) (time.Time, error)
	SetLastModifiedNow(ctx context.Context, user, imageIdentifier string) (time.Time, error)
	SetLastModifiedTime(ctx context.Context, user, imageIdentifier string, t time.Time) (time.Time, error)

	CountImages(ctx context.Context, user *string) (int64, error)
	SumBytes(ctx context.Context, user *string) (int64, error)
	CountDistinctOwners(ctx context.Context) (int64, error)
	ListOwners(ctx context.Context) ([]string, error)

	HealthCheck(ctx context.Context) bool
}
