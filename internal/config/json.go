package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/imagestore/imagestore/internal/flagx"
	"github.com/imagestore/imagestore/internal/timex"
)

// jsonConfig is the file representation of Config. Keys missing from the
// file keep their current values.
type jsonConfig struct {
	DocumentBackend        string         `json:"document_backend"`
	BlobBackend            string         `json:"blob_backend"`
	MongoURI               string         `json:"mongodb_uri"`
	MongoDatabase          string         `json:"mongodb_database"`
	MongoStorageDatabase   string         `json:"mongodb_storage_database"`
	MongoVariationDatabase string         `json:"mongodb_variation_database"`
	PostgresDSN            string         `json:"postgres_dsn"`
	S3Region               string         `json:"s3_region"`
	S3Endpoint             string         `json:"s3_endpoint"`
	S3AccessKey            string         `json:"s3_access_key"`
	S3SecretKey            string         `json:"s3_secret_key"`
	S3ImageBucket          string         `json:"s3_image_bucket"`
	S3VariationBucket      string         `json:"s3_variation_bucket"`
	S3UsePathStyle         bool           `json:"s3_use_path_style"`
	OperationTimeout       timex.Duration `json:"operation_timeout"`
	LogLevel               string         `json:"log_level"`
}

func parseJSON(cfg *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	jc := jsonConfig{
		DocumentBackend:        cfg.DocumentBackend,
		BlobBackend:            cfg.BlobBackend,
		MongoURI:               cfg.MongoURI,
		MongoDatabase:          cfg.MongoDatabase,
		MongoStorageDatabase:   cfg.MongoStorageDatabase,
		MongoVariationDatabase: cfg.MongoVariationDatabase,
		PostgresDSN:            cfg.PostgresDSN,
		S3Region:               cfg.S3Region,
		S3Endpoint:             cfg.S3Endpoint,
		S3AccessKey:            cfg.S3AccessKey,
		S3SecretKey:            cfg.S3SecretKey,
		S3ImageBucket:          cfg.S3ImageBucket,
		S3VariationBucket:      cfg.S3VariationBucket,
		S3UsePathStyle:         cfg.S3UsePathStyle,
		OperationTimeout:       timex.Duration{Duration: cfg.OperationTimeout},
		LogLevel:               cfg.LogLevel,
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.DocumentBackend = jc.DocumentBackend
	cfg.BlobBackend = jc.BlobBackend
	cfg.MongoURI = jc.MongoURI
	cfg.MongoDatabase = jc.MongoDatabase
	cfg.MongoStorageDatabase = jc.MongoStorageDatabase
	cfg.MongoVariationDatabase = jc.MongoVariationDatabase
	cfg.PostgresDSN = jc.PostgresDSN
	cfg.S3Region = jc.S3Region
	cfg.S3Endpoint = jc.S3Endpoint
	cfg.S3AccessKey = jc.S3AccessKey
	cfg.S3SecretKey = jc.S3SecretKey
	cfg.S3ImageBucket = jc.S3ImageBucket
	cfg.S3VariationBucket = jc.S3VariationBucket
	cfg.S3UsePathStyle = jc.S3UsePathStyle
	cfg.OperationTimeout = jc.OperationTimeout.Duration
	cfg.LogLevel = jc.LogLevel
	return nil
}
