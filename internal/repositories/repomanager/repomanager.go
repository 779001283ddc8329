// Package repomanager wires every repository to the gateways and prepares
// the underlying stores (migrations, unique indexes, buckets).
package repomanager

import (
	"context"
	"fmt"
	"time"

	"github.com/imagestore/imagestore/internal/blobstore"
	"github.com/imagestore/imagestore/internal/docstore"
	"github.com/imagestore/imagestore/internal/logging"
	"github.com/imagestore/imagestore/internal/repositories/accesscontrol"
	"github.com/imagestore/imagestore/internal/repositories/imageblobs"
	"github.com/imagestore/imagestore/internal/repositories/images"
	"github.com/imagestore/imagestore/internal/repositories/resourcegroups"
	"github.com/imagestore/imagestore/internal/repositories/shorturls"
	"github.com/imagestore/imagestore/internal/repositories/variants"
)

type RepositoryManager interface {
	Prepare(ctx context.Context) error
	Images() images.Repository
	ShortURLs() shorturls.Repository
	AccessControl() accesscontrol.Repository
	ResourceGroups() resourcegroups.Repository
	Variants() variants.Repository
	VariantBlobs() variants.BlobRepository
	ImageBlobs() imageblobs.Repository
}

// Gateways are the stores the repositories run on. VariantMetadata and
// VariantBlobs default to Metadata and ImageBlobs when nil.
type Gateways struct {
	Metadata        docstore.Store
	VariantMetadata docstore.Store
	ImageBlobs      blobstore.Store
	VariantBlobs    blobstore.Store
}

// Migrator is implemented by stores whose schema is managed by migrations.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// BucketEnsurer is implemented by blob stores that must create their
// bucket before first use.
type BucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// MetadataIndexes are the unique keys of the metadata collections.
var MetadataIndexes = []docstore.Index{
	{Collection: images.CollectionName, Fields: []string{"user", "imageIdentifier"}},
	{Collection: accesscontrol.CollectionName, Fields: []string{"publicKey"}},
	{Collection: resourcegroups.CollectionName, Fields: []string{"name"}},
}

type Option func(*Manager)

func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock sets the time source of every repository that stamps records.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager vends repositories built once over the gateways. Repositories are
// stateless, so the same instances are safe to share.
type Manager struct {
	gw  Gateways
	log logging.Logger
	now func() time.Time

	images         *images.DocumentRepository
	shortURLs      *shorturls.DocumentRepository
	accessControl  *accesscontrol.DocumentRepository
	resourceGroups *resourcegroups.DocumentRepository
	variants       *variants.DocumentRepository
	variantBlobs   *variants.BlobStoreRepository
	imageBlobs     *imageblobs.BlobRepository
}

func New(gw Gateways, opts ...Option) *Manager {
	m := &Manager{gw: gw, log: logging.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	if m.gw.VariantMetadata == nil {
		m.gw.VariantMetadata = m.gw.Metadata
	}
	if m.gw.VariantBlobs == nil {
		m.gw.VariantBlobs = m.gw.ImageBlobs
	}

	m.images = images.NewDocumentRepository(m.gw.Metadata, images.WithClock(m.now), images.WithLogger(m.log))
	m.shortURLs = shorturls.NewDocumentRepository(m.gw.Metadata, shorturls.WithLogger(m.log))
	m.accessControl = accesscontrol.NewDocumentRepository(m.gw.Metadata, accesscontrol.WithLogger(m.log))
	m.resourceGroups = resourcegroups.NewDocumentRepository(m.gw.Metadata, m.accessControl, resourcegroups.WithLogger(m.log))
	m.variants = variants.NewDocumentRepository(m.gw.VariantMetadata, variants.WithClock(m.now))
	m.variantBlobs = variants.NewBlobRepository(m.gw.VariantBlobs, variants.WithBlobClock(m.now))
	m.imageBlobs = imageblobs.NewBlobRepository(m.gw.ImageBlobs, imageblobs.WithClock(m.now), imageblobs.WithLogger(m.log))
	return m
}

func (m *Manager) Images() images.Repository                 { return m.images }
func (m *Manager) ShortURLs() shorturls.Repository           { return m.shortURLs }
func (m *Manager) AccessControl() accesscontrol.Repository   { return m.accessControl }
func (m *Manager) ResourceGroups() resourcegroups.Repository { return m.resourceGroups }
func (m *Manager) Variants() variants.Repository             { return m.variants }
func (m *Manager) VariantBlobs() variants.BlobRepository     { return m.variantBlobs }
func (m *Manager) ImageBlobs() imageblobs.Repository         { return m.imageBlobs }

// Prepare runs migrations or creates unique indexes on the metadata store
// and makes sure the blob buckets exist. It is idempotent.
func (m *Manager) Prepare(ctx context.Context) error {
	if err := prepareDocuments(ctx, m.gw.Metadata, MetadataIndexes); err != nil {
		return err
	}
	if m.gw.VariantMetadata != m.gw.Metadata {
		if err := prepareDocuments(ctx, m.gw.VariantMetadata, nil); err != nil {
			return err
		}
	}

	for _, bs := range []blobstore.Store{m.gw.ImageBlobs, m.gw.VariantBlobs} {
		e, ok := bs.(BucketEnsurer)
		if !ok {
			continue
		}
		if err := e.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("preparing blob store: %w", err)
		}
	}
	m.log.Info(ctx, "stores prepared")
	return nil
}

func prepareDocuments(ctx context.Context, store docstore.Store, indexes []docstore.Index) error {
	if mig, ok := store.(Migrator); ok {
		if err := mig.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating document store: %w", err)
		}
		return nil
	}
	if ix, ok := store.(docstore.Indexer); ok && len(indexes) > 0 {
		if err := ix.EnsureIndexes(ctx, indexes); err != nil {
			return fmt.Errorf("creating indexes: %w", err)
		}
	}
	return nil
}

var _ RepositoryManager = (*Manager)(nil)
