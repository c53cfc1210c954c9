package upload

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/franckalain/freshness/internal/config"
	"github.com/franckalain/freshness/internal/models"
)

// DefaultMaxBytes is the largest accepted image
const DefaultMaxBytes = config.DefaultMaxBytes

// Validate checks a candidate against the size limit and the media type rule.
// Size is checked first so an oversized file always gets the size message.
func Validate(candidate models.SelectedImage, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if sizeOf(candidate) > maxBytes {
		return &ValidationError{
			Constraint: ConstraintSize,
			Message:    "File size should be less than " + humanize.IBytes(uint64(maxBytes)) + ".",
		}
	}
	if !IsImageType(candidate.MediaType) {
		return &ValidationError{
			Constraint: ConstraintMediaType,
			Message:    "Please select a valid image file.",
		}
	}
	return nil
}

// IsImageType reports whether a declared media type is an image type
func IsImageType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}

// sizeOf trusts the payload over the declared size when it is larger
func sizeOf(c models.SelectedImage) int64 {
	size := c.Size
	if n := int64(len(c.Data)); n > size {
		size = n
	}
	return size
}
