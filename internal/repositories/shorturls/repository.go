// Package shorturls maps short URL ids to the image parameters they stand for.
package shorturls

import (
	"context"
	"net/url"

	"github.com/imagestore/imagestore/internal/models"
)

type Repository interface {
	Create(ctx context.Context, shortURLID, user, imageIdentifier string, extension *string, query url.Values) error
	// FindID never fails: store errors are logged and reported as not found.
	FindID(ctx context.Context, user, imageIdentifier string, extension *string, query url.Values) (string, bool)
	// Resolve returns nil, nil when the id is unknown or the store is unreachable.
	Resolve(ctx context.Context, shortURLID string) (*models.ShortURL, error)
	DeleteAll(ctx context.Context, user, imageIdentifier string, shortURLID *string) error
}
