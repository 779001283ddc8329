// Package docstore defines the document store gateway the repositories are
// written against, a small filter/update vocabulary that every adapter can
// translate, and an in-memory reference implementation.
//
// Adapters live in sub-packages: mongostore (MongoDB) and pgstore
// (PostgreSQL JSONB). Documents crossing this boundary are plain Go values
// as produced by the normalize package.
package docstore

import (
	"context"
	"errors"
)

var (
	// ErrNoDocuments is returned by FindOne when nothing matches.
	ErrNoDocuments = errors.New("docstore: no documents")
	// ErrDuplicateKey is returned by InsertOne on a unique index violation.
	ErrDuplicateKey = errors.New("docstore: duplicate key")
)

// Document is a single stored document.
type Document = map[string]any

// SortField is one component of a sort specification.
type SortField struct {
	Field      string
	Descending bool
}

// FindOptions shapes the result of Find and FindOne. Projection lists the
// top-level fields to return; nil returns every field. Zero Skip and Limit
// are ignored.
type FindOptions struct {
	Projection []string
	Sort       []SortField
	Skip       int64
	Limit      int64
}

// Update describes a single-document modification. Set assigns fields,
// Push appends one value to an array field and Pull removes every element
// of an array field whose sub-fields equal all of the given values.
type Update struct {
	Set  map[string]any
	Push map[string]any
	Pull map[string]Document
}

// AnyOf as a Pull value matches an element whose sub-field equals any of
// the listed values.
type AnyOf []any

// UpdateResult reports how many documents matched and how many changed.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

// Collection is a named set of documents.
type Collection interface {
	FindOne(ctx context.Context, filter Filter, opts *FindOptions) (Document, error)
	Find(ctx context.Context, filter Filter, opts *FindOptions) ([]Document, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	InsertOne(ctx context.Context, doc Document) error
	UpdateOne(ctx context.Context, filter Filter, update Update) (UpdateResult, error)
	UpdateMany(ctx context.Context, filter Filter, update Update) (UpdateResult, error)
	DeleteOne(ctx context.Context, filter Filter) (int64, error)
	DeleteMany(ctx context.Context, filter Filter) (int64, error)
	// Sum adds up the integer field over all matching documents.
	Sum(ctx context.Context, filter Filter, field string) (int64, error)
	// Distinct returns the distinct values of field among matching documents.
	Distinct(ctx context.Context, field string, filter Filter) ([]any, error)
}

// Store hands out collections and reports connectivity.
type Store interface {
	Collection(name string) Collection
	Ping(ctx context.Context) error
}

// Index is a unique index over one or more top-level fields.
type Index struct {
	Collection string
	Fields     []string
}

// Indexer is implemented by stores that create unique indexes at runtime.
// Stores without it enforce uniqueness through their schema migrations.
type Indexer interface {
	EnsureIndexes(ctx context.Context, indexes []Index) error
}
