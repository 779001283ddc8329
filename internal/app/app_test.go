package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/imagestore/imagestore/internal/blobstore"
	"github.com/imagestore/imagestore/internal/blobstore/blobstoretest"
	"github.com/imagestore/imagestore/internal/blobstore/s3store"
	"github.com/imagestore/imagestore/internal/config"
	"github.com/imagestore/imagestore/internal/docstore"
	"github.com/imagestore/imagestore/internal/docstore/docstoretest"
	"github.com/imagestore/imagestore/internal/docstore/pgstore"
	"github.com/imagestore/imagestore/internal/logging"
	"github.com/imagestore/imagestore/internal/models"
	"github.com/imagestore/imagestore/internal/repositories/repomanager"
)

func memoryConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.DocumentBackend = config.DocumentMemory
	c.BlobBackend = config.BlobMemory
	c.OperationTimeout = time.Second
	return c
}

func bufferLogger(buf *bytes.Buffer) logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(buf, nil)))
}

func TestApp_RunOnMemoryBackends(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	a, err := New(ctx, memoryConfig(), bufferLogger(&buf))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	require.NoError(t, a.Run(ctx))
	assert.Contains(t, buf.String(), "stores healthy")

	img := &models.Image{Size: 3, Extension: "png", MimeType: "image/png"}
	require.NoError(t, a.Manager().Images().StoreImage(ctx, "alice", "a1", img, false))
	require.NoError(t, a.Manager().ImageBlobs().Store(ctx, "alice", "a1", []byte("png")))
	got, err := a.Manager().ImageBlobs().Fetch(ctx, "alice", "a1")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), got)
}

func TestApp_RunReportsUnhealthyStores(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	docs := docstoretest.Faulty(docstore.NewMemoryStore())
	docs.PingErr = errors.New("no reachable servers")
	blobs := blobstoretest.Faulty(blobstore.NewMemoryStore())

	a, err := New(ctx, memoryConfig(), bufferLogger(&buf), WithGateways(repomanager.Gateways{Metadata: docs, ImageBlobs: blobs}))
	require.NoError(t, err)

	err = a.Run(ctx)
	require.ErrorIs(t, err, ErrUnhealthy)
	assert.Contains(t, err.Error(), "documents=false blobs=true")
	assert.Contains(t, buf.String(), "health check failed")
	assert.Contains(t, buf.String(), "no reachable servers")
}

func TestApp_RunFailsWhenPrepareFails(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	a, err := New(ctx, memoryConfig(), bufferLogger(&buf))
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, a.Run(cancelled))
	assert.Contains(t, buf.String(), "unable to prepare stores")
}

func TestApp_BuildMongoAndGridFS(t *testing.T) {
	origConnect := connectMongo
	t.Cleanup(func() { connectMongo = origConnect })

	calls := 0
	connectMongo = func(uri string) (*mongo.Client, error) {
		calls++
		return origConnect(uri)
	}

	c := memoryConfig()
	c.DocumentBackend = config.DocumentMongo
	c.BlobBackend = config.BlobGridFS
	c.MongoURI = "mongodb://127.0.0.1:1"

	a, err := New(context.Background(), c, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "documents and blobs share one client")
	assert.Len(t, a.closers, 1)
	require.NoError(t, a.Close(context.Background()))
	assert.Empty(t, a.closers)
}

func TestApp_BuildErrors(t *testing.T) {
	origConnect, origS3 := connectMongo, newS3Client
	t.Cleanup(func() { connectMongo, newS3Client = origConnect, origS3 })

	connectMongo = func(string) (*mongo.Client, error) { return nil, errors.New("bad uri") }
	c := memoryConfig()
	c.DocumentBackend = config.DocumentMongo
	_, err := New(context.Background(), c, logging.Nop())
	assert.ErrorContains(t, err, "bad uri")

	newS3Client = func(context.Context, s3store.Config) (s3store.Client, error) { return nil, errors.New("no region") }
	c = memoryConfig()
	c.BlobBackend = config.BlobS3
	_, err = New(context.Background(), c, logging.Nop())
	assert.ErrorContains(t, err, "no region")

	c = memoryConfig()
	c.DocumentBackend = "redis"
	_, err = New(context.Background(), c, logging.Nop())
	assert.Error(t, err)
}

func TestApp_BuildPostgresAndS3(t *testing.T) {
	origOpen, origS3 := openPostgres, newS3Client
	t.Cleanup(func() { openPostgres, newS3Client = origOpen, origS3 })

	var opened *sql.DB
	openPostgres = func(dsn string) (*sql.DB, error) {
		db, err := pgstore.Open(dsn)
		opened = db
		return db, err
	}
	var gotCfg s3store.Config
	newS3Client = func(_ context.Context, c s3store.Config) (s3store.Client, error) {
		gotCfg = c
		return nil, nil
	}

	c := memoryConfig()
	c.DocumentBackend = config.DocumentPostgres
	c.BlobBackend = config.BlobS3
	c.S3Endpoint = "http://minio:9000"

	a, err := New(context.Background(), c, logging.Nop())
	require.NoError(t, err)
	require.NotNil(t, opened)
	assert.Equal(t, "http://minio:9000", gotCfg.Endpoint)
	assert.True(t, gotCfg.UsePathStyle)
	require.NoError(t, a.Close(context.Background()))
}
