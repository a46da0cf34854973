// Package blob provides the object store abstraction consumed by the
// import pipelines and the report exporter.
//
// Two named instances exist at runtime ("external", "internal"), each
// optionally rooted at a key prefix. All keys passed to a Store are
// relative to that prefix.
package blob

import (
	"context"
	"io"
	"strings"
	"time"
)

// MaxListPageSize is the largest page a single List call may return.
const MaxListPageSize = 1000

// DefaultPresignTTL is the pre-signed URL lifetime when callers pass 0.
const DefaultPresignTTL = 7 * 24 * time.Hour

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectMeta extends ObjectInfo with content type and user metadata.
// User-metadata keys are opaque: the store may decorate them on the
// wire but round-trips them unchanged on read.
type ObjectMeta struct {
	ObjectInfo
	ContentType  string
	UserMetadata map[string]string
}

// ListPage is one page of a listing.
type ListPage struct {
	Items       []ObjectInfo
	IsTruncated bool
	NextToken   string
}

// Store is the capability surface the core consumes from an object store.
type Store interface {
	// List returns one page of keys under prefix, lexicographic order.
	// pageSize is clamped to MaxListPageSize.
	List(ctx context.Context, prefix string, pageSize int32, continuationToken string) (*ListPage, error)

	// Exists reports whether the key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Head returns object metadata, or a NotFound storage error.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// Download opens the object for reading.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Upload stores the reader's content under key in one call.
	Upload(ctx context.Context, key string, r io.Reader, contentType string, userMetadata map[string]string) error

	// OpenWrite returns a writer for large payloads (multipart upload).
	// The object is visible only after a successful Close.
	OpenWrite(ctx context.Context, key, contentType string, userMetadata map[string]string) (io.WriteCloser, error)

	// SetMetadata replaces the object's user metadata (copy-with-replace).
	SetMetadata(ctx context.Context, key string, userMetadata map[string]string) error

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// PresignGet returns a time-limited download URL.
	// ttl <= 0 uses DefaultPresignTTL.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// NormalizePrefix collapses leading/trailing slashes and whitespace.
// Empty or whitespace-only input means no prefix.
func NormalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	p = strings.Trim(p, "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

// JoinKey joins a normalized prefix and a relative key.
func JoinKey(prefix, key string) string {
	key = strings.TrimPrefix(key, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
