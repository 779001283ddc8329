// Package app builds the gateways named by the configuration, prepares the
// stores and checks that they are reachable.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/imagestore/imagestore/internal/blobstore"
	"github.com/imagestore/imagestore/internal/blobstore/gridfs"
	"github.com/imagestore/imagestore/internal/blobstore/s3store"
	"github.com/imagestore/imagestore/internal/config"
	"github.com/imagestore/imagestore/internal/docstore"
	"github.com/imagestore/imagestore/internal/docstore/mongostore"
	"github.com/imagestore/imagestore/internal/docstore/pgstore"
	"github.com/imagestore/imagestore/internal/logging"
	"github.com/imagestore/imagestore/internal/repositories/repomanager"
)

// Connection seams, replaced in tests.
var (
	connectMongo = mongostore.Connect
	openPostgres = pgstore.Open
	newS3Client  = func(ctx context.Context, c s3store.Config) (s3store.Client, error) {
		return s3store.NewClient(ctx, c)
	}
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	manager repomanager.RepositoryManager
	closers []func(context.Context) error
}

type Option func(*options)

type options struct {
	gateways *repomanager.Gateways
}

// WithGateways skips building gateways from the configuration.
func WithGateways(gw repomanager.Gateways) Option {
	return func(o *options) { o.gateways = &gw }
}

func New(ctx context.Context, cfg *config.Config, logger logging.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{config: cfg, logger: logger}
	gw := o.gateways
	if gw == nil {
		built, err := a.buildGateways(ctx)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		gw = &built
	}
	a.manager = repomanager.New(*gw, repomanager.WithLogger(logger))
	return a, nil
}

// Manager exposes the repositories.
func (a *App) Manager() repomanager.RepositoryManager {
	return a.manager
}

func (a *App) buildGateways(ctx context.Context) (repomanager.Gateways, error) {
	var (
		gw     repomanager.Gateways
		client *mongo.Client
	)
	mongoClient := func() (*mongo.Client, error) {
		if client != nil {
			return client, nil
		}
		c, err := connectMongo(a.config.MongoURI)
		if err != nil {
			return nil, err
		}
		client = c
		a.closers = append(a.closers, c.Disconnect)
		return c, nil
	}

	switch a.config.DocumentBackend {
	case config.DocumentMongo:
		c, err := mongoClient()
		if err != nil {
			return gw, err
		}
		gw.Metadata = mongostore.New(c.Database(a.config.MongoDatabase))
		gw.VariantMetadata = mongostore.New(c.Database(a.config.MongoVariationDatabase))
	case config.DocumentPostgres:
		db, err := openPostgres(a.config.PostgresDSN)
		if err != nil {
			return gw, err
		}
		a.closers = append(a.closers, closeDB(db))
		gw.Metadata = pgstore.New(db)
	case config.DocumentMemory:
		gw.Metadata = docstore.NewMemoryStore()
	default:
		return gw, fmt.Errorf("unknown document backend %q", a.config.DocumentBackend)
	}

	switch a.config.BlobBackend {
	case config.BlobGridFS:
		c, err := mongoClient()
		if err != nil {
			return gw, err
		}
		gw.ImageBlobs = gridfs.New(c.Database(a.config.MongoStorageDatabase), "")
		gw.VariantBlobs = gridfs.New(c.Database(a.config.MongoVariationDatabase), "")
	case config.BlobS3:
		c, err := newS3Client(ctx, s3store.Config{
			Region:       a.config.S3Region,
			Endpoint:     a.config.S3Endpoint,
			AccessKey:    a.config.S3AccessKey,
			SecretKey:    a.config.S3SecretKey,
			UsePathStyle: a.config.S3UsePathStyle,
		})
		if err != nil {
			return gw, err
		}
		gw.ImageBlobs = s3store.New(c, a.config.S3ImageBucket)
		gw.VariantBlobs = s3store.New(c, a.config.S3VariationBucket)
	case config.BlobMemory:
		gw.ImageBlobs = blobstore.NewMemoryStore()
		gw.VariantBlobs = blobstore.NewMemoryStore()
	default:
		return gw, fmt.Errorf("unknown blob backend %q", a.config.BlobBackend)
	}
	return gw, nil
}

func closeDB(db *sql.DB) func(context.Context) error {
	return func(context.Context) error { return db.Close() }
}

var ErrUnhealthy = errors.New("store unhealthy")

// Run prepares the stores and runs both health checks, each bounded by the
// operation timeout.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info(ctx, "starting imagestore",
		"documents", a.config.DocumentBackend, "blobs", a.config.BlobBackend)

	prepCtx, cancel := context.WithTimeout(ctx, a.config.OperationTimeout)
	defer cancel()
	if err := a.manager.Prepare(prepCtx); err != nil {
		a.logger.Error(ctx, "unable to prepare stores", "err", err)
		return err
	}

	checkCtx, cancelCheck := context.WithTimeout(ctx, a.config.OperationTimeout)
	defer cancelCheck()
	docsOK := a.manager.Images().HealthCheck(checkCtx)
	blobsOK := a.manager.ImageBlobs().HealthCheck(checkCtx)

	if !docsOK || !blobsOK {
		a.logger.Error(ctx, "health check failed", "documents", docsOK, "blobs", blobsOK)
		return fmt.Errorf("%w: documents=%t blobs=%t", ErrUnhealthy, docsOK, blobsOK)
	}
	a.logger.Info(ctx, "stores healthy")
	return nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
