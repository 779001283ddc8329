package models

// ImageVariant is a stored, resized derivative of an image.
type ImageVariant struct {
	Width  int64
	Height int64
}
