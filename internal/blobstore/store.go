// Package blobstore defines the binary object store gateway used for image
// and variant bytes, plus an in-memory implementation. Adapters for GridFS
// and S3 live in sub-packages.
package blobstore

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when no blob exists under the requested name.
var ErrNotFound = errors.New("blobstore: file not found")

// Metadata keys are lowercase so they survive S3 user metadata. The GridFS
// adapter maps them to the field names Imbo writes.
const (
	MetaUser            = "user"
	MetaImageIdentifier = "imageidentifier"
	MetaWidth           = "width"
	MetaAdded           = "added"
	MetaUpdated         = "updated"
)

// File describes a stored blob without its content.
type File struct {
	ID       string
	Name     string
	Size     int64
	Metadata map[string]string
}

// Query selects files whose name starts with Prefix and whose metadata
// contains every key/value pair of Metadata. Prefix lets adapters that can
// only list by key narrow the scan; Metadata is always checked.
type Query struct {
	Prefix   string
	Metadata map[string]string
}

// Matches reports whether f satisfies q.
func (q Query) Matches(f File) bool {
	if !strings.HasPrefix(f.Name, q.Prefix) {
		return false
	}
	for k, v := range q.Metadata {
		if f.Metadata[k] != v {
			return false
		}
	}
	return true
}

// Store is a named-blob bucket.
type Store interface {
	Upload(ctx context.Context, name string, data []byte, metadata map[string]string) error
	DownloadByName(ctx context.Context, name string) ([]byte, error)
	Find(ctx context.Context, q Query) ([]File, error)
	// UpdateMetadata merges metadata into the stored metadata of file id.
	UpdateMetadata(ctx context.Context, id string, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}
