package config

import (
	"flag"
	"fmt"
	"io"

	"github.com/imagestore/imagestore/internal/flagx"
)

var shortFlags = []string{"-d", "-s", "-m", "-p", "-e", "-g", "-u", "-k", "-t", "-l"}

// parseFlags overlays the short flags:
//
//	-d string    document backend (mongodb, postgres, memory)
//	-s string    blob backend (gridfs, s3, memory)
//	-m string    MongoDB URI
//	-p string    PostgreSQL DSN
//	-e string    S3 endpoint
//	-g string    S3 region
//	-u string    S3 access key
//	-k string    S3 secret key
//	-t duration  per-operation timeout (e.g. 5s)
//	-l string    log level
func parseFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("imagestore", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.DocumentBackend, "d", cfg.DocumentBackend, "document backend")
	fs.StringVar(&cfg.BlobBackend, "s", cfg.BlobBackend, "blob backend")
	fs.StringVar(&cfg.MongoURI, "m", cfg.MongoURI, "MongoDB URI")
	fs.StringVar(&cfg.PostgresDSN, "p", cfg.PostgresDSN, "PostgreSQL DSN")
	fs.StringVar(&cfg.S3Endpoint, "e", cfg.S3Endpoint, "S3 endpoint")
	fs.StringVar(&cfg.S3Region, "g", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3AccessKey, "u", cfg.S3AccessKey, "S3 access key")
	fs.StringVar(&cfg.S3SecretKey, "k", cfg.S3SecretKey, "S3 secret key")
	fs.DurationVar(&cfg.OperationTimeout, "t", cfg.OperationTimeout, "operation timeout")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")

	if err := fs.Parse(flagx.FilterArgs(args, shortFlags)); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}
	return nil
}
