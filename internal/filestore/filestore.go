package filestore

import (
	"io"
)

// AvatarStore stores uploaded avatar images content-addressed by hash.
type AvatarStore interface {
	// Save stores the content and returns its hex-encoded sha256 hash.
	// It is idempotent: saving the same content twice is a no-op.
	Save(r io.Reader) (hash string, size int64, err error)

	// Get retrieves the content for the given hash.
	Get(hash string) (io.ReadCloser, error)
}
