// Package storage implements the S3-compatible object store used for gazette
// binaries, text artifacts and yearly archives.
package storage

import (
	"errors"
)

// ErrNotFound reports that the requested object does not exist. Downloads
// hitting it let the pipeline skip the gazette without retrying.
var ErrNotFound = errors.New("object not found in storage")

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
