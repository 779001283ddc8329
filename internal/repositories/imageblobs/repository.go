// Package imageblobs stores the original bytes of images.
package imageblobs

import (
	"context"
	"time"
)

type Repository interface {
	// Store uploads data unless a blob for the image already exists, in
	// which case only its updated timestamp is touched.
	Store(ctx context.Context, user, imageIdentifier string, data []byte) error
	Fetch(ctx context.Context, user, imageIdentifier string) ([]byte, error)
	Delete(ctx context.Context, user, imageIdentifier string) error
	LastModified(ctx context.Context, user, imageIdentifier string) (time.Time, error)
	Exists(ctx context.Context, user, imageIdentifier string) (bool, error)
	HealthCheck(ctx context.Context) bool
}
