package storage

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/lumenandco/restoreflow/internal/id"
)

// Category classifies a stored blob. It becomes the key prefix.
type Category string

const (
	CategoryOriginal Category = "original"
	CategoryRestored Category = "restored"
	CategoryStaging  Category = "staging"
)

// Object is a stored blob reference. Callers treat URL and Key as opaque
// strings; only the store that minted them may interpret them.
type Object struct {
	URL string
	Key string
}

var ErrObjectNotFound = errors.New("object not found")

// BlobStore is the object-store adapter. Backends must behave identically
// from the caller's point of view.
type BlobStore interface {
	Put(ctx context.Context, data []byte, filename string, category Category) (Object, error)
	Get(ctx context.Context, keyOrURL string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// DeleteAll removes every key, continuing past individual failures and
// returning the first error seen.
func DeleteAll(ctx context.Context, store BlobStore, keys []string) error {
	var first error
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := store.Delete(ctx, key); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// newKey builds a collision-resistant object key. Only the extension of the
// user-supplied filename survives into the key.
func newKey(category Category, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
	default:
		ext = ".jpg"
	}
	return string(category) + "/" + id.NewToken() + ext
}

func contentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
