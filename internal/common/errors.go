// Package common defines the error taxonomy shared by every repository.
// Callers match these values with errors.Is; the underlying store error,
// when there is one, stays reachable through errors.As/Unwrap.
package common

import "errors"

var (
	// ErrNotFound is returned when a record or blob that must exist is absent.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateIdentifier is returned when an image insert violates the
	// (user, imageIdentifier) unique key. Callers may retry with a new id.
	ErrDuplicateIdentifier = errors.New("duplicate image identifier")

	// ErrConflict signals a failed logical precondition, e.g. creating a key
	// pair or resource group under a name that is already taken.
	ErrConflict = errors.New("conflict")

	// ErrPersistence covers every other store or transport failure.
	ErrPersistence = errors.New("persistence error")

	// ErrInternal means data was found but has an unexpected shape.
	ErrInternal = errors.New("internal error")

	// ErrInvalidQuery is returned for search input the layer refuses to
	// translate into a store query (unknown sort field, bad pagination).
	ErrInvalidQuery = errors.New("invalid query")
)
