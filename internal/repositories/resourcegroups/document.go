package resourcegroups

import (
	"context"
	"errors"
	"fmt"

	"github.com/imagestore/imagestore/internal/common"
	"github.com/imagestore/imagestore/internal/docstore"
	"github.com/imagestore/imagestore/internal/logging"
	"github.com/imagestore/imagestore/internal/models"
	"github.com/imagestore/imagestore/internal/normalize"
)

const CollectionName = "accesscontrolgroup"

const (
	fieldName      = "name"
	fieldResources = "resources"
)

type DocumentRepository struct {
	groups docstore.Collection
	rules  RuleCleaner
	log    logging.Logger
}

type Option func(*DocumentRepository)

func WithLogger(l logging.Logger) Option {
	return func(r *DocumentRepository) { r.log = l }
}

// NewDocumentRepository returns a repository whose Delete cascades into rules.
func NewDocumentRepository(store docstore.Store, rules RuleCleaner, opts ...Option) *DocumentRepository {
	r := &DocumentRepository{
		groups: store.Collection(CollectionName),
		rules:  rules,
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("repository", "resourcegroups")
	return r
}

func byName(name string) docstore.Filter {
	return docstore.Filter{docstore.Eq(fieldName, name)}
}

func resourceList(resources []string) []any {
	out := make([]any, len(resources))
	for i, s := range resources {
		out[i] = s
	}
	return out
}

func (r *DocumentRepository) Create(ctx context.Context, name string, resources []string) error {
	err := r.groups.InsertOne(ctx, docstore.Document{
		fieldName:      name,
		fieldResources: resourceList(resources),
	})
	if errors.Is(err, docstore.ErrDuplicateKey) {
		return fmt.Errorf("%w: resource group %s already exists", common.ErrConflict, name)
	}
	if err != nil {
		return fmt.Errorf("%w: unable to add resource group: %w", common.ErrPersistence, err)
	}
	return nil
}

// Get returns the resources of a group. ok is false when the group does not
// exist or has no resources field.
func (r *DocumentRepository) Get(ctx context.Context, name string) ([]string, bool, error) {
	doc, err := r.groups.FindOne(ctx, byName(name), &docstore.FindOptions{Projection: []string{fieldResources}})
	if errors.Is(err, docstore.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: unable to fetch resource group: %w", common.ErrPersistence, err)
	}
	raw, ok := doc[fieldResources]
	if !ok || raw == nil {
		return nil, false, nil
	}
	resources := normalize.Strings(raw)
	if resources == nil {
		return nil, false, fmt.Errorf("%w: resources of group %s are not a list", common.ErrInternal, name)
	}
	return resources, true, nil
}

func (r *DocumentRepository) Exists(ctx context.Context, name string) (bool, error) {
	_, err := r.groups.FindOne(ctx, byName(name), &docstore.FindOptions{Projection: []string{fieldName}})
	if errors.Is(err, docstore.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: unable to fetch resource group: %w", common.ErrPersistence, err)
	}
	return true, nil
}

// Replace overwrites the resource list of an existing group.
func (r *DocumentRepository) Replace(ctx context.Context, name string, resources []string) error {
	res, err := r.groups.UpdateOne(ctx, byName(name), docstore.Update{
		Set: map[string]any{fieldResources: resourceList(resources)},
	})
	if err != nil {
		return fmt.Errorf("%w: unable to update resource group: %w", common.ErrPersistence, err)
	}
	if res.Matched == 0 {
		return fmt.Errorf("%w: resource group %s", common.ErrNotFound, name)
	}
	return nil
}

// Delete removes the group and then every access rule that refers to it.
// The two steps are independent writes. If the second one fails the group
// stays deleted, the rules keep a dangling reference, and the returned
// error wraps common.ErrPersistence alongside deleted == true.
func (r *DocumentRepository) Delete(ctx context.Context, name string) (bool, error) {
	n, err := r.groups.DeleteOne(ctx, byName(name))
	if err != nil {
		return false, fmt.Errorf("%w: unable to delete resource group: %w", common.ErrPersistence, err)
	}
	if n == 0 {
		return false, nil
	}

	changed, err := r.rules.RemoveGroupReferences(ctx, name)
	if err != nil {
		r.log.Error(ctx, "resource group deleted but access rules still reference it", "group", name, "err", err)
		if !errors.Is(err, common.ErrPersistence) {
			err = fmt.Errorf("%w: %w", common.ErrPersistence, err)
		}
		return true, fmt.Errorf("removing references to group %s: %w", name, err)
	}
	r.log.Debug(ctx, "resource group deleted", "group", name, "keyPairsChanged", changed)
	return true, nil
}

// List returns one page of groups ordered by name together with the total
// number of groups. A page below 1 is treated as the first page; a zero
// limit returns every group.
func (r *DocumentRepository) List(ctx context.Context, page, limit int64) ([]models.ResourceGroup, int64, error) {
	if limit < 0 {
		return nil, 0, fmt.Errorf("%w: negative limit", common.ErrInvalidQuery)
	}
	if page < 1 {
		page = 1
	}
	docs, err := r.groups.Find(ctx, nil, &docstore.FindOptions{
		Sort:  []docstore.SortField{{Field: fieldName}},
		Skip:  (page - 1) * limit,
		Limit: limit,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: unable to list resource groups: %w", common.ErrPersistence, err)
	}
	hits, err := r.groups.Count(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: unable to count resource groups: %w", common.ErrPersistence, err)
	}

	groups := make([]models.ResourceGroup, 0, len(docs))
	for _, doc := range docs {
		resources := normalize.Strings(doc[fieldResources])
		if resources == nil {
			resources = []string{}
		}
		groups = append(groups, models.ResourceGroup{
			Name:      normalize.String(doc[fieldName]),
			Resources: resources,
		})
	}
	return groups, hits, nil
}
