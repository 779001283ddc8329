package models

import "net/url"

// ShortURL is the parameter set a short URL id resolves to.
type ShortURL struct {
	ShortURLID      string
	User            string
	ImageIdentifier string
	// Extension is nil when the short URL was created without one.
	Extension *string
	Query     url.Values
}
