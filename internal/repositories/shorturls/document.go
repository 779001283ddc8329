package shorturls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/imagestore/imagestore/internal/common"
	"github.com/imagestore/imagestore/internal/docstore"
	"github.com/imagestore/imagestore/internal/logging"
	"github.com/imagestore/imagestore/internal/models"
	"github.com/imagestore/imagestore/internal/normalize"
)

const CollectionName = "shortUrl"

const (
	fieldShortURLID      = "shortUrlId"
	fieldUser            = "user"
	fieldImageIdentifier = "imageIdentifier"
	fieldExtension       = "extension"
	fieldQuery           = "query"
)

type DocumentRepository struct {
	urls docstore.Collection
	log  logging.Logger
}

type Option func(*DocumentRepository)

func WithLogger(l logging.Logger) Option {
	return func(r *DocumentRepository) { r.log = l }
}

func NewDocumentRepository(store docstore.Store, opts ...Option) *DocumentRepository {
	r := &DocumentRepository{
		urls: store.Collection(CollectionName),
		log:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("repository", "shorturls")
	return r
}

// EncodeQuery serializes query as JSON with sorted keys. Equal queries
// always produce equal strings and an empty query encodes to "{}".
func EncodeQuery(query url.Values) (string, error) {
	clean := make(map[string][]string, len(query))
	for k, v := range query {
		if v == nil {
			v = []string{}
		}
		clean[k] = v
	}
	b, err := json.Marshal(clean)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeQuery is the inverse of EncodeQuery.
func DecodeQuery(s string) (url.Values, error) {
	if s == "" {
		return nil, errors.New("empty query")
	}
	var q url.Values
	if err := json.Unmarshal([]byte(s), &q); err != nil {
		return nil, err
	}
	if q == nil {
		return nil, errors.New("query is not an object")
	}
	return q, nil
}

func extensionValue(ext *string) any {
	if ext == nil {
		return nil
	}
	return *ext
}

// Create inserts a short URL. Uniqueness of shortURLID is left to the caller.
func (r *DocumentRepository) Create(ctx context.Context, shortURLID, user, imageIdentifier string, extension *string, query url.Values) error {
	q, err := EncodeQuery(query)
	if err != nil {
		return fmt.Errorf("%w: unable to encode query: %w", common.ErrInternal, err)
	}
	err = r.urls.InsertOne(ctx, docstore.Document{
		fieldShortURLID:      shortURLID,
		fieldUser:            user,
		fieldImageIdentifier: imageIdentifier,
		fieldExtension:       extensionValue(extension),
		fieldQuery:           q,
	})
	if err != nil {
		return fmt.Errorf("%w: unable to create short URL: %w", common.ErrPersistence, err)
	}
	return nil
}

func (r *DocumentRepository) FindID(ctx context.Context, user, imageIdentifier string, extension *string, query url.Values) (string, bool) {
	q, err := EncodeQuery(query)
	if err != nil {
		r.log.Warn(ctx, "short url query not encodable", "user", user, "imageIdentifier", imageIdentifier, "err", err)
		return "", false
	}
	doc, err := r.urls.FindOne(ctx, docstore.Filter{
		docstore.Eq(fieldUser, user),
		docstore.Eq(fieldImageIdentifier, imageIdentifier),
		docstore.Eq(fieldExtension, extensionValue(extension)),
		docstore.Eq(fieldQuery, q),
	}, &docstore.FindOptions{Projection: []string{fieldShortURLID}})
	if errors.Is(err, docstore.ErrNoDocuments) {
		return "", false
	}
	if err != nil {
		r.log.Warn(ctx, "short url lookup failed", "user", user, "imageIdentifier", imageIdentifier, "err", err)
		return "", false
	}
	id := normalize.String(doc[fieldShortURLID])
	return id, id != ""
}

func (r *DocumentRepository) Resolve(ctx context.Context, shortURLID string) (*models.ShortURL, error) {
	doc, err := r.urls.FindOne(ctx, docstore.Filter{docstore.Eq(fieldShortURLID, shortURLID)}, nil)
	if errors.Is(err, docstore.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		r.log.Warn(ctx, "short url resolve failed", "shortUrlId", shortURLID, "err", err)
		return nil, nil
	}

	raw := normalize.String(doc[fieldQuery])
	if raw == "" {
		return nil, fmt.Errorf("%w: missing query for short URL %s", common.ErrInternal, shortURLID)
	}
	query, err := DecodeQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt query for short URL %s: %w", common.ErrInternal, shortURLID, err)
	}

	out := &models.ShortURL{
		ShortURLID:      shortURLID,
		User:            normalize.String(doc[fieldUser]),
		ImageIdentifier: normalize.String(doc[fieldImageIdentifier]),
		Query:           query,
	}
	if ext, ok := doc[fieldExtension].(string); ok {
		out.Extension = &ext
	}
	return out, nil
}

// DeleteAll removes every short URL of an image, or only shortURLID when set.
func (r *DocumentRepository) DeleteAll(ctx context.Context, user, imageIdentifier string, shortURLID *string) error {
	filter := docstore.Filter{
		docstore.Eq(fieldUser, user),
		docstore.Eq(fieldImageIdentifier, imageIdentifier),
	}
	if shortURLID != nil {
		filter = append(filter, docstore.Eq(fieldShortURLID, *shortURLID))
	}
	if _, err := r.urls.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("%w: unable to delete short URLs: %w", common.ErrPersistence, err)
	}
	return nil
}
