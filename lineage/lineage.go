// Package lineage maintains the append-only record mutation index.
// Events live in one Redis stream per collection; stream ids provide
// the per-collection event sequence.
package lineage

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

const streamPrefix = "kd:lineage:"

// Writer appends lineage events.
type Writer struct {
	client  *goredis.Client
	timeout time.Duration
}

// NewWriter creates a writer from a Redis connection URL.
func NewWriter(url string, timeout time.Duration) (*Writer, error) {
	if url == "" {
		return nil, errors.New("lineage writer requires a redis URL")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("lineage writer: invalid redis URL: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Writer{client: goredis.NewClient(opts), timeout: timeout}, nil
}

// NewWriterWithClient wraps an existing client. Used by tests.
func NewWriterWithClient(client *goredis.Client, timeout time.Duration) *Writer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Writer{client: client, timeout: timeout}
}

// Close releases the underlying client.
func (w *Writer) Close() error { return w.client.Close() }

// Append writes one event to the collection's stream and returns the
// event with its assigned sequence.
func (w *Writer) Append(ctx context.Context, event *types.LineageEvent) (*types.LineageEvent, error) {
	if event.RecordID == "" || event.Collection == "" {
		return nil, fmt.Errorf("lineage event requires record id and collection")
	}
	if event.EventDate.IsZero() {
		event.EventDate = time.Now().UTC()
	}

	body, err := msgpack.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("lineage: marshal event: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	seq, err := w.client.XAdd(opCtx, &goredis.XAddArgs{
		Stream: streamPrefix + event.Collection,
		Values: map[string]any{
			"record_id": event.RecordID,
			"event":     body,
		},
	}).Result()
	if err != nil {
		return nil, types.NewStorageError(types.ErrTransient, "lineage-append", event.RecordID, err)
	}

	event.EventSeq = seq
	return event, nil
}

// Reader queries the lineage index.
type Reader struct {
	client  *goredis.Client
	timeout time.Duration
}

// NewReaderWithClient wraps an existing client.
func NewReaderWithClient(client *goredis.Client, timeout time.Duration) *Reader {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Reader{client: client, timeout: timeout}
}

// ByRecord returns every event for one record in append order.
func (r *Reader) ByRecord(ctx context.Context, collection, recordID string) ([]*types.LineageEvent, error) {
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	entries, err := r.client.XRange(opCtx, streamPrefix+collection, "-", "+").Result()
	if err != nil {
		return nil, types.NewStorageError(types.ErrTransient, "lineage-read", recordID, err)
	}

	var events []*types.LineageEvent
	for _, entry := range entries {
		id, _ := entry.Values["record_id"].(string)
		if id != recordID {
			continue
		}
		event, err := decodeEntry(entry)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// ByCollection returns every event in one collection in append order.
func (r *Reader) ByCollection(ctx context.Context, collection string) ([]*types.LineageEvent, error) {
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	entries, err := r.client.XRange(opCtx, streamPrefix+collection, "-", "+").Result()
	if err != nil {
		return nil, types.NewStorageError(types.ErrTransient, "lineage-read", collection, err)
	}

	events := make([]*types.LineageEvent, 0, len(entries))
	for _, entry := range entries {
		event, err := decodeEntry(entry)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func decodeEntry(entry goredis.XMessage) (*types.LineageEvent, error) {
	raw, ok := entry.Values["event"].(string)
	if !ok {
		return nil, fmt.Errorf("lineage: malformed stream entry %s", entry.ID)
	}
	var event types.LineageEvent
	if err := msgpack.Unmarshal([]byte(raw), &event); err != nil {
		return nil, fmt.Errorf("lineage: decode entry %s: %w", entry.ID, err)
	}
	event.EventSeq = entry.ID
	return &event, nil
}
