package blob

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu      sync.Mutex
	prefix  string
	objects map[string]*memoryObject
}

type memoryObject struct {
	data         []byte
	contentType  string
	userMetadata map[string]string
	etag         string
	lastModified time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(prefix string) *MemoryStore {
	return &MemoryStore{
		prefix:  NormalizePrefix(prefix),
		objects: make(map[string]*memoryObject),
	}
}

func (m *MemoryStore) fullKey(key string) string { return JoinKey(m.prefix, key) }

func copyMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// List returns one page of keys under prefix in lexicographic order.
// The continuation token is the numeric offset of the next page.
func (m *MemoryStore) List(ctx context.Context, prefix string, pageSize int32, continuationToken string) (*ListPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pageSize <= 0 || pageSize > MaxListPageSize {
		pageSize = MaxListPageSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	full := m.fullKey(prefix)
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, full) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	offset := 0
	if continuationToken != "" {
		n, err := strconv.Atoi(continuationToken)
		if err != nil {
			return nil, types.NewStorageError(types.ErrPermanent, "list", prefix, fmt.Errorf("bad continuation token %q", continuationToken))
		}
		offset = n
	}

	page := &ListPage{}
	end := offset + int(pageSize)
	if end > len(keys) {
		end = len(keys)
	}
	for _, k := range keys[offset:end] {
		obj := m.objects[k]
		page.Items = append(page.Items, ObjectInfo{
			Key:          m.relKey(k),
			Size:         int64(len(obj.data)),
			ETag:         obj.etag,
			LastModified: obj.lastModified,
		})
	}
	if end < len(keys) {
		page.IsTruncated = true
		page.NextToken = strconv.Itoa(end)
	}
	return page, nil
}

func (m *MemoryStore) relKey(full string) string {
	if m.prefix == "" {
		return full
	}
	return strings.TrimPrefix(full, m.prefix+"/")
}

// Exists reports whether the key is present.
func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[m.fullKey(key)]
	return ok, nil
}

// Head returns object metadata, or a NotFound storage error.
func (m *MemoryStore) Head(ctx context.Context, key string) (*ObjectMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[m.fullKey(key)]
	if !ok {
		return nil, types.NewStorageError(types.ErrNotFound, "head", key, fmt.Errorf("no such key"))
	}
	return &ObjectMeta{
		ObjectInfo: ObjectInfo{
			Key:          key,
			Size:         int64(len(obj.data)),
			ETag:         obj.etag,
			LastModified: obj.lastModified,
		},
		ContentType:  obj.contentType,
		UserMetadata: copyMeta(obj.userMetadata),
	}, nil
}

// Download opens the object for reading.
func (m *MemoryStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[m.fullKey(key)]
	if !ok {
		return nil, types.NewStorageError(types.ErrNotFound, "download", key, fmt.Errorf("no such key"))
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStore) put(key string, data []byte, contentType string, userMetadata map[string]string) {
	sum := md5.Sum(data)
	m.objects[m.fullKey(key)] = &memoryObject{
		data:         data,
		contentType:  contentType,
		userMetadata: copyMeta(userMetadata),
		etag:         `"` + hex.EncodeToString(sum[:]) + `"`,
		lastModified: time.Now().UTC(),
	}
}

// Upload stores the reader's content under key.
func (m *MemoryStore) Upload(ctx context.Context, key string, r io.Reader, contentType string, userMetadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return types.NewStorageError(types.ErrPermanent, "upload", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, data, contentType, userMetadata)
	return nil
}

// OpenWrite returns a writer whose Close makes the object visible.
func (m *MemoryStore) OpenWrite(ctx context.Context, key, contentType string, userMetadata map[string]string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryWriter{store: m, key: key, contentType: contentType, metadata: copyMeta(userMetadata)}, nil
}

type memoryWriter struct {
	store       *MemoryStore
	key         string
	contentType string
	metadata    map[string]string
	buf         bytes.Buffer
	closed      bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write after close")
	}
	return w.buf.Write(p)
}

func (w *memoryWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.put(w.key, w.buf.Bytes(), w.contentType, w.metadata)
	return nil
}

// SetMetadata replaces the object's user metadata.
func (m *MemoryStore) SetMetadata(ctx context.Context, key string, userMetadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[m.fullKey(key)]
	if !ok {
		return types.NewStorageError(types.ErrNotFound, "set-metadata", key, fmt.Errorf("no such key"))
	}
	obj.userMetadata = copyMeta(userMetadata)
	return nil
}

// Delete removes the object. Deleting a missing key is not an error.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, m.fullKey(key))
	return nil
}

// PresignGet returns a synthetic URL embedding the expiry.
func (m *MemoryStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[m.fullKey(key)]; !ok {
		return "", types.NewStorageError(types.ErrNotFound, "presign", key, fmt.Errorf("no such key"))
	}
	expires := time.Now().UTC().Add(ttl).Unix()
	return fmt.Sprintf("memory://%s?expires=%d", m.fullKey(key), expires), nil
}

// Verify MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
