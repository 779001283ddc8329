package images

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/imagestore/imagestore/internal/common"
	"github.com/imagestore/imagestore/internal/docstore"
	"github.com/imagestore/imagestore/internal/logging"
	"github.com/imagestore/imagestore/internal/models"
	"github.com/imagestore/imagestore/internal/normalize"
)

// CollectionName is the document collection holding image records.
const CollectionName = "image"

const (
	fieldUser             = "user"
	fieldImageIdentifier  = "imageIdentifier"
	fieldSize             = "size"
	fieldExtension        = "extension"
	fieldMime             = "mime"
	fieldWidth            = "width"
	fieldHeight           = "height"
	fieldChecksum         = "checksum"
	fieldOriginalChecksum = "originalChecksum"
	fieldAdded            = "added"
	fieldUpdated          = "updated"
	fieldMetadata         = "metadata"
)

// searchFields is the fixed projection of Search; metadata is added on request.
var searchFields = []string{
	fieldExtension, fieldAdded, fieldChecksum, fieldOriginalChecksum, fieldUpdated,
	fieldUser, fieldImageIdentifier, fieldMime, fieldSize, fieldWidth, fieldHeight,
}

var propertyFields = []string{
	fieldSize, fieldWidth, fieldHeight, fieldMime, fieldExtension, fieldAdded, fieldUpdated,
}

// DocumentRepository implements Repository over a docstore.Store.
type DocumentRepository struct {
	store  docstore.Store
	images docstore.Collection
	now    func() time.Time
	log    logging.Logger
}

// Option configures a DocumentRepository.
type Option func(*DocumentRepository)

// WithClock overrides the time source used for added/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *DocumentRepository) { r.now = now }
}

func WithLogger(l logging.Logger) Option {
	return func(r *DocumentRepository) { r.log = l }
}

// NewDocumentRepository binds the repository to the image collection of store.
func NewDocumentRepository(store docstore.Store, opts ...Option) *DocumentRepository {
	r := &DocumentRepository{
		store:  store,
		images: store.Collection(CollectionName),
		now:    time.Now,
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("repository", "images")
	return r
}

func keyFilter(user, imageIdentifier string) docstore.Filter {
	return docstore.Filter{
		docstore.Eq(fieldUser, user),
		docstore.Eq(fieldImageIdentifier, imageIdentifier),
	}
}

func persistence(action string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrPersistence, action, err)
}

// StoreImage inserts a new image record. When touchIfExists is set and a
// record already exists, only its updated timestamp is bumped. An insert
// that collides with an existing (user, imageIdentifier) fails with
// common.ErrDuplicateIdentifier.
//
// The existence check and the insert are separate operations; two
// concurrent stores of a new identifier resolve through the unique index,
// so the loser gets ErrDuplicateIdentifier rather than a silent merge.
func (r *DocumentRepository) StoreImage(ctx context.Context, user, imageIdentifier string, image *models.Image, touchIfExists bool) error {
	if image == nil {
		return fmt.Errorf("%w: nil image", common.ErrInternal)
	}
	now := r.now().Unix()

	if touchIfExists {
		exists, err := r.ImageExists(ctx, user, imageIdentifier)
		if err != nil {
			return err
		}
		if exists {
			_, err := r.images.UpdateOne(ctx, keyFilter(user, imageIdentifier), docstore.Update{
				Set: map[string]any{fieldUpdated: now},
			})
			if err != nil {
				return persistence("unable to save image data", err)
			}
			return nil
		}
	}

	added, updated := now, now
	if !image.Added.IsZero() {
		added = image.Added.Unix()
	}
	if !image.Updated.IsZero() {
		updated = image.Updated.Unix()
	}

	doc := docstore.Document{
		fieldSize:             image.Size,
		fieldUser:             user,
		fieldImageIdentifier:  imageIdentifier,
		fieldExtension:        image.Extension,
		fieldMime:             image.MimeType,
		fieldMetadata:         map[string]any{},
		fieldAdded:            added,
		fieldUpdated:          updated,
		fieldWidth:            image.Width,
		fieldHeight:           image.Height,
		fieldChecksum:         image.Checksum,
		fieldOriginalChecksum: image.OriginalChecksum,
	}

	if err := r.images.InsertOne(ctx, doc); err != nil {
		if errors.Is(err, docstore.ErrDuplicateKey) {
			return fmt.Errorf("%w: %s/%s", common.ErrDuplicateIdentifier, user, imageIdentifier)
		}
		return persistence("unable to save image data", err)
	}
	return nil
}

// DeleteImage removes the record after confirming it exists.
func (r *DocumentRepository) DeleteImage(ctx context.Context, user, imageIdentifier string) error {
	if _, err := r.getImageData(ctx, user, imageIdentifier, []string{fieldUser}); err != nil {
		return err
	}
	if _, err := r.images.DeleteOne(ctx, keyFilter(user, imageIdentifier)); err != nil {
		return persistence("unable to delete image data", err)
	}
	return nil
}

func (r *DocumentRepository) ImageExists(ctx context.Context, user, imageIdentifier string) (bool, error) {
	_, err := r.getImageData(ctx, user, imageIdentifier, []string{fieldUser})
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateMetadata merges metadata over the stored map key by key and writes
// the full result back. Read and write are separate operations, so a
// concurrent update of a different key can be lost.
func (r *DocumentRepository) UpdateMetadata(ctx context.Context, user, imageIdentifier string, metadata map[string]any) error {
	current, err := r.GetMetadata(ctx, user, imageIdentifier)
	if err != nil {
		return err
	}
	merged := maps.Clone(current)
	maps.Copy(merged, metadata)

	_, err = r.images.UpdateOne(ctx, keyFilter(user, imageIdentifier), docstore.Update{
		Set: map[string]any{fieldMetadata: merged},
	})
	if err != nil {
		return persistence("unable to update meta data", err)
	}
	return nil
}

func (r *DocumentRepository) GetMetadata(ctx context.Context, user, imageIdentifier string) (map[string]any, error) {
	doc, err := r.getImageData(ctx, user, imageIdentifier, []string{fieldMetadata})
	if err != nil {
		return nil, err
	}
	metadata, ok := metadataDocument(doc[fieldMetadata])
	if !ok {
		return nil, fmt.Errorf("%w: incorrect metadata for image %s/%s", common.ErrInternal, user, imageIdentifier)
	}
	return metadata, nil
}

// metadataDocument accepts an empty array as an empty map; Imbo stores
// unset metadata that way.
func metadataDocument(v any) (map[string]any, bool) {
	if list, ok := normalize.Value(v).([]any); ok && len(list) == 0 {
		return map[string]any{}, true
	}
	return normalize.Document(v)
}

// DeleteMetadata resets the metadata of an existing image to an empty map.
func (r *DocumentRepository) DeleteMetadata(ctx context.Context, user, imageIdentifier string) error {
	if _, err := r.getImageData(ctx, user, imageIdentifier, []string{fieldUser}); err != nil {
		return err
	}
	_, err := r.images.UpdateOne(ctx, keyFilter(user, imageIdentifier), docstore.Update{
		Set: map[string]any{fieldMetadata: map[string]any{}},
	})
	if err != nil {
		return persistence("unable to delete meta data", err)
	}
	return nil
}

// Search returns one page of images matching query and the total number of
// hits for the filter without pagination. The hit count is a second
// operation and may disagree with the page under concurrent writes.
func (r *DocumentRepository) Search(ctx context.Context, users []string, query *models.SearchQuery) ([]models.Image, int64, error) {
	if query == nil {
		query = &models.SearchQuery{}
	}
	opts, err := searchOptions(query)
	if err != nil {
		return nil, 0, err
	}
	filter := SearchFilter(users, query)

	docs, err := r.images.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, persistence("unable to search for images", err)
	}
	hits, err := r.images.Count(ctx, filter)
	if err != nil {
		return nil, 0, persistence("unable to search for images", err)
	}

	result := make([]models.Image, 0, len(docs))
	for _, doc := range docs {
		img := decodeImage(doc)
		if query.ReturnMetadata {
			if md, ok := metadataDocument(doc[fieldMetadata]); ok {
				img.Metadata = md
			} else {
				img.Metadata = map[string]any{}
			}
		}
		result = append(result, img)
	}
	return result, hits, nil
}

// SearchFilter translates users and query into a document filter. An empty
// users list does not restrict by owner.
func SearchFilter(users []string, query *models.SearchQuery) docstore.Filter {
	var f docstore.Filter
	if len(users) > 0 {
		f = append(f, docstore.In(fieldUser, users))
	}
	if query.From != nil {
		f = append(f, docstore.Gte(fieldAdded, query.From.Unix()))
	}
	if query.To != nil {
		f = append(f, docstore.Lte(fieldAdded, query.To.Unix()))
	}
	if len(query.ImageIdentifiers) > 0 {
		f = append(f, docstore.In(fieldImageIdentifier, query.ImageIdentifiers))
	}
	if len(query.Checksums) > 0 {
		f = append(f, docstore.In(fieldChecksum, query.Checksums))
	}
	if len(query.OriginalChecksums) > 0 {
		f = append(f, docstore.In(fieldOriginalChecksum, query.OriginalChecksums))
	}
	return f
}

func searchOptions(query *models.SearchQuery) (*docstore.FindOptions, error) {
	if query.Limit < 0 || query.Page < 0 {
		return nil, fmt.Errorf("%w: negative page or limit", common.ErrInvalidQuery)
	}

	sort := []docstore.SortField{{Field: fieldAdded, Descending: true}}
	if len(query.Sort) > 0 {
		sort = make([]docstore.SortField, 0, len(query.Sort))
		for _, s := range query.Sort {
			if !slices.Contains(searchFields, s.Field) {
				return nil, fmt.Errorf("%w: cannot sort on %q", common.ErrInvalidQuery, s.Field)
			}
			sort = append(sort, docstore.SortField{Field: s.Field, Descending: !s.Ascending})
		}
	}

	projection := slices.Clone(searchFields)
	if query.ReturnMetadata {
		projection = append(projection, fieldMetadata)
	}

	opts := &docstore.FindOptions{Projection: projection, Sort: sort, Limit: query.Limit}
	if query.Page > 1 {
		opts.Skip = query.Limit * (query.Page - 1)
	}
	return opts, nil
}

func (r *DocumentRepository) GetImageProperties(ctx context.Context, user, imageIdentifier string) (*models.ImageProperties, error) {
	doc, err := r.getImageData(ctx, user, imageIdentifier, propertyFields)
	if err != nil {
		return nil, err
	}
	img := decodeImage(doc)
	return &models.ImageProperties{
		Size:      img.Size,
		Width:     img.Width,
		Height:    img.Height,
		MimeType:  img.MimeType,
		Extension: img.Extension,
		Added:     img.Added,
		Updated:   img.Updated,
	}, nil
}

func (r *DocumentRepository) GetMimeType(ctx context.Context, user, imageIdentifier string) (string, error) {
	doc, err := r.getImageData(ctx, user, imageIdentifier, []string{fieldMime})
	if err != nil {
		return "", err
	}
	return normalize.String(doc[fieldMime]), nil
}

// Load returns the stored image record without its metadata.
func (r *DocumentRepository) Load(ctx context.Context, user, imageIdentifier string) (*models.Image, error) {
	doc, err := r.getImageData(ctx, user, imageIdentifier, searchFields)
	if err != nil {
		return nil, err
	}
	img := decodeImage(doc)
	return &img, nil
}

// GetLastModified returns the newest updated timestamp among the images of
// users, or of one image when imageIdentifier is set. When no image
// identifier is given and nothing matches, the current time is returned.
func (r *DocumentRepository) GetLastModified(ctx context.Context, users []string, imageIdentifier *string) (time.Time, error) {
	var filter docstore.Filter
	if len(users) > 0 {
		filter = append(filter, docstore.In(fieldUser, users))
	}
	if imageIdentifier != nil {
		filter = append(filter, docstore.Eq(fieldImageIdentifier, *imageIdentifier))
	}

	doc, err := r.images.FindOne(ctx, filter, &docstore.FindOptions{
		Projection: []string{fieldUpdated},
		Sort:       []docstore.SortField{{Field: fieldUpdated, Descending: true}},
	})
	switch {
	case errors.Is(err, docstore.ErrNoDocuments) && imageIdentifier != nil:
		return time.Time{}, fmt.Errorf("%w: image %s", common.ErrNotFound, *imageIdentifier)
	case errors.Is(err, docstore.ErrNoDocuments):
		return time.Unix(r.now().Unix(), 0).UTC(), nil
	case err != nil:
		return time.Time{}, persistence("unable to fetch image data", err)
	}
	return unixTime(doc[fieldUpdated]), nil
}

func (r *DocumentRepository) SetLastModifiedNow(ctx context.Context, user, imageIdentifier string) (time.Time, error) {
	return r.SetLastModifiedTime(ctx, user, imageIdentifier, r.now())
}

// SetLastModifiedTime stores t (second precision) as the updated timestamp
// of an existing image and returns the stored value.
func (r *DocumentRepository) SetLastModifiedTime(ctx context.Context, user, imageIdentifier string, t time.Time) (time.Time, error) {
	exists, err := r.ImageExists(ctx, user, imageIdentifier)
	if err != nil {
		return time.Time{}, err
	}
	if !exists {
		return time.Time{}, fmt.Errorf("%w: image %s/%s", common.ErrNotFound, user, imageIdentifier)
	}

	_, err = r.images.UpdateOne(ctx, keyFilter(user, imageIdentifier), docstore.Update{
		Set: map[string]any{fieldUpdated: t.Unix()},
	})
	if err != nil {
		return time.Time{}, persistence("unable to update last modified", err)
	}
	return time.Unix(t.Unix(), 0).UTC(), nil
}

func ownerFilter(user *string) docstore.Filter {
	if user == nil {
		return nil
	}
	return docstore.Filter{docstore.Eq(fieldUser, *user)}
}

func (r *DocumentRepository) CountImages(ctx context.Context, user *string) (int64, error) {
	n, err := r.images.Count(ctx, ownerFilter(user))
	if err != nil {
		return 0, persistence("unable to count images", err)
	}
	return n, nil
}

// SumBytes adds up the size of all images, optionally for one user.
func (r *DocumentRepository) SumBytes(ctx context.Context, user *string) (int64, error) {
	n, err := r.images.Sum(ctx, ownerFilter(user), fieldSize)
	if err != nil {
		return 0, persistence("unable to sum image sizes", err)
	}
	return n, nil
}

func (r *DocumentRepository) CountDistinctOwners(ctx context.Context) (int64, error) {
	owners, err := r.ListOwners(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(owners)), nil
}

// ListOwners returns every user with at least one image, sorted.
func (r *DocumentRepository) ListOwners(ctx context.Context) ([]string, error) {
	values, err := r.images.Distinct(ctx, fieldUser, nil)
	if err != nil {
		return nil, persistence("unable to list users", err)
	}
	owners := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			owners = append(owners, s)
		}
	}
	slices.Sort(owners)
	return owners, nil
}

// HealthCheck pings the document store. Failures are logged, never returned.
func (r *DocumentRepository) HealthCheck(ctx context.Context) bool {
	if err := r.store.Ping(ctx); err != nil {
		r.log.Warn(ctx, "document store ping failed", "err", err)
		return false
	}
	return true
}

func (r *DocumentRepository) getImageData(ctx context.Context, user, imageIdentifier string, projection []string) (docstore.Document, error) {
	doc, err := r.images.FindOne(ctx, keyFilter(user, imageIdentifier), &docstore.FindOptions{Projection: projection})
	if errors.Is(err, docstore.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: image %s/%s", common.ErrNotFound, user, imageIdentifier)
	}
	if err != nil {
		return nil, persistence("unable to find image data", err)
	}
	return doc, nil
}

func unixTime(v any) time.Time {
	n, err := normalize.Int64(v)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}

func int64Field(doc docstore.Document, field string) int64 {
	n, _ := normalize.Int64(doc[field])
	return n
}

func decodeImage(doc docstore.Document) models.Image {
	return models.Image{
		User:             normalize.String(doc[fieldUser]),
		ImageIdentifier:  normalize.String(doc[fieldImageIdentifier]),
		Size:             int64Field(doc, fieldSize),
		Extension:        normalize.String(doc[fieldExtension]),
		MimeType:         normalize.String(doc[fieldMime]),
		Width:            int64Field(doc, fieldWidth),
		Height:           int64Field(doc, fieldHeight),
		Checksum:         normalize.String(doc[fieldChecksum]),
		OriginalChecksum: normalize.String(doc[fieldOriginalChecksum]),
		Added:            unixTime(doc[fieldAdded]),
		Updated:          unixTime(doc[fieldUpdated]),
	}
}
