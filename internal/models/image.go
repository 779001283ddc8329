// Package models defines the records persisted by the repositories.
package models

import "time"

// Image is one stored image record, keyed by (User, ImageIdentifier).
type Image struct {
	User             string
	ImageIdentifier  string
	Size             int64
	Extension        string
	MimeType         string
	Width            int64
	Height           int64
	Checksum         string
	OriginalChecksum string
	Added            time.Time
	Updated          time.Time

	// Metadata is only populated when explicitly requested.
	Metadata map[string]any
}

// ImageProperties is the restricted projection returned by
// GetImageProperties.
type ImageProperties struct {
	Size      int64
	Width     int64
	Height    int64
	MimeType  string
	Extension string
	Added     time.Time
	Updated   time.Time
}
