package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// idBatchSize bounds how many documents one HMGET fetches at a time.
const idBatchSize = 500

// casAttempts bounds optimistic Update retries before ErrConflict.
const casAttempts = 8

// Store is a document store over Redis. Each collection is a hash of
// id -> JSON document plus a sorted set preserving insertion order.
type Store struct {
	client  *goredis.Client
	timeout time.Duration
}

// NewStore creates a store from a Redis connection URL.
func NewStore(url string, timeout time.Duration) (*Store, error) {
	if url == "" {
		return nil, errors.New("document store requires a redis URL")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("document store: invalid redis URL: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{client: goredis.NewClient(opts), timeout: timeout}, nil
}

// NewStoreWithClient wraps an existing client. Used by tests.
func NewStoreWithClient(client *goredis.Client, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{client: client, timeout: timeout}
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.client.Close() }

func docKey(collection string) string { return "kd:doc:" + collection }
func idxKey(collection string) string { return "kd:idx:" + collection }
func seqKey(collection string) string { return "kd:seq:" + collection }

// putScript upserts the document and registers the id in the insertion
// order index exactly once.
var putScript = goredis.NewScript(`
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
if redis.call('ZSCORE', KEYS[2], ARGV[1]) == false then
  local seq = redis.call('INCR', KEYS[3])
  redis.call('ZADD', KEYS[2], seq, ARGV[1])
end
return 1
`)

// casScript swaps the document only when its current JSON form equals
// the expected one ('' expects absence). Returns 1 on success.
var casScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if (cur == false and ARGV[2] == '') or cur == ARGV[2] then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
  if redis.call('ZSCORE', KEYS[2], ARGV[1]) == false then
    local seq = redis.call('INCR', KEYS[3])
    redis.call('ZADD', KEYS[2], seq, ARGV[1])
  end
  return 1
end
return 0
`)

// deleteScript removes the document and its index entry.
var deleteScript = goredis.NewScript(`
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func wrapStoreErr(err error, op, key string) error {
	if err == nil {
		return nil
	}
	kind := types.ErrPermanent
	if errors.Is(err, context.DeadlineExceeded) || isNetworkErr(err) {
		kind = types.ErrTransient
	}
	return types.NewStorageError(kind, op, key, err)
}

func isNetworkErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "broken pipe")
}

// Put upserts a document unconditionally.
func (s *Store) Put(ctx context.Context, collection, id string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return types.NewStorageError(types.ErrPermanent, "put", id, err)
	}
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	err = putScript.Run(opCtx, s.client,
		[]string{docKey(collection), idxKey(collection), seqKey(collection)},
		id, string(data)).Err()
	return wrapStoreErr(err, "put", id)
}

// Get fetches a document, or a NotFound storage error.
func (s *Store) Get(ctx context.Context, collection, id string) (Document, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	raw, err := s.client.HGet(opCtx, docKey(collection), id).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, types.NewStorageError(types.ErrNotFound, "get", id, err)
		}
		return nil, wrapStoreErr(err, "get", id)
	}
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, types.NewStorageError(types.ErrPermanent, "get", id, err)
	}
	return doc, nil
}

// Update applies fn to the current document (nil when absent) and
// writes the result with optimistic per-document concurrency. fn
// returning (nil, nil) leaves the store untouched.
func (s *Store) Update(ctx context.Context, collection, id string, fn func(Document) (Document, error)) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		opCtx, cancel := s.opCtx(ctx)
		raw, err := s.client.HGet(opCtx, docKey(collection), id).Result()
		cancel()

		expected := ""
		var current Document
		switch {
		case err == nil:
			expected = raw
			if uerr := json.Unmarshal([]byte(raw), &current); uerr != nil {
				return types.NewStorageError(types.ErrPermanent, "update", id, uerr)
			}
		case errors.Is(err, goredis.Nil):
			// absent; fn receives nil
		default:
			return wrapStoreErr(err, "update", id)
		}

		updated, err := fn(current)
		if err != nil {
			return err
		}
		if updated == nil {
			return nil
		}
		data, err := json.Marshal(updated)
		if err != nil {
			return types.NewStorageError(types.ErrPermanent, "update", id, err)
		}

		opCtx, cancel = s.opCtx(ctx)
		ok, err := casScript.Run(opCtx, s.client,
			[]string{docKey(collection), idxKey(collection), seqKey(collection)},
			id, expected, string(data)).Int()
		cancel()
		if err != nil {
			return wrapStoreErr(err, "update", id)
		}
		if ok == 1 {
			return nil
		}
		// Lost the race; reload and retry.
	}
	return types.NewStorageError(types.ErrConflict, "update", id, fmt.Errorf("gave up after %d attempts", casAttempts))
}

// Delete removes a document. Deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	err := deleteScript.Run(opCtx, s.client,
		[]string{docKey(collection), idxKey(collection)}, id).Err()
	return wrapStoreErr(err, "delete", id)
}

// Query executes one paged query. Documents are visited in insertion
// order unless a sort is requested.
func (s *Store) Query(ctx context.Context, params QueryParameters) (*QueryResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	matched, err := s.scan(ctx, params.Collection, params.Filter)
	if err != nil {
		return nil, err
	}

	if len(params.Sort) > 0 {
		sortDocuments(matched, params.Sort)
	}

	total := int64(len(matched))
	start := params.Skip
	if start > len(matched) {
		start = len(matched)
	}
	end := start + params.Top
	if end > len(matched) {
		end = len(matched)
	}

	page := make([]Document, 0, end-start)
	for _, doc := range matched[start:end] {
		page = append(page, selectFields(doc, params.SelectFields))
	}

	result := &QueryResult{
		Collection: params.Collection,
		Data:       page,
		Count:      len(page),
		Skip:       params.Skip,
		Top:        params.Top,
		ExecutedAt: time.Now().UTC(),
	}
	if params.IncludeCount {
		result.TotalCount = &total
	}
	return result, nil
}

// Count returns the number of documents matching the filter.
func (s *Store) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	res, err := s.Query(ctx, QueryParameters{
		Collection:   collection,
		Filter:       filter,
		Top:          0,
		IncludeCount: true,
	})
	if err != nil {
		return 0, err
	}
	return *res.TotalCount, nil
}

// scan walks the collection in insertion order, evaluating the filter.
func (s *Store) scan(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	var matched []Document
	offset := int64(0)
	for {
		opCtx, cancel := s.opCtx(ctx)
		ids, err := s.client.ZRange(opCtx, idxKey(collection), offset, offset+idBatchSize-1).Result()
		cancel()
		if err != nil {
			return nil, &types.QueryError{Kind: types.QueryStoreUnavailable, Detail: collection, Err: err}
		}
		if len(ids) == 0 {
			return matched, nil
		}

		opCtx, cancel = s.opCtx(ctx)
		raws, err := s.client.HMGet(opCtx, docKey(collection), ids...).Result()
		cancel()
		if err != nil {
			return nil, &types.QueryError{Kind: types.QueryStoreUnavailable, Detail: collection, Err: err}
		}

		for _, raw := range raws {
			str, ok := raw.(string)
			if !ok {
				// Index entry without a document: concurrent delete.
				continue
			}
			var doc Document
			if err := json.Unmarshal([]byte(str), &doc); err != nil {
				return nil, &types.QueryError{Kind: types.QueryStoreUnavailable, Detail: collection, Err: err}
			}
			if filter.Matches(doc) {
				matched = append(matched, doc)
			}
		}

		offset += int64(len(ids))
	}
}

// sortDocuments orders docs by the sort fields, stable across equal keys.
func sortDocuments(docs []Document, fields []SortField) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, sf := range fields {
			cmp, comparable := compareValues(docs[i][sf.Field], docs[j][sf.Field])
			if !comparable {
				// Missing/incomparable values sort last.
				_, iOk := docs[i][sf.Field]
				_, jOk := docs[j][sf.Field]
				if iOk == jOk {
					continue
				}
				return iOk
			}
			if cmp == 0 {
				continue
			}
			if sf.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}
