// Package resourcegroups stores named resource lists that access rules can
// refer to by name.
package resourcegroups

import (
	"context"

	"github.com/imagestore/imagestore/internal/models"
)

type Repository interface {
	Create(ctx context.Context, name string, resources []string) error
	Get(ctx context.Context, name string) ([]string, bool, error)
	Exists(ctx context.Context, name string) (bool, error)
	Replace(ctx context.Context, name string, resources []string) error
	Delete(ctx context.Context, name string) (bool, error)
	List(ctx context.Context, page, limit int64) ([]models.ResourceGroup, int64, error)
}

// RuleCleaner removes access rules that reference a group. It is satisfied
// by accesscontrol.Repository.
type RuleCleaner interface {
	RemoveGroupReferences(ctx context.Context, group string) (int64, error)
}
