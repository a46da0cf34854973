package docstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStoreWithClient(client, time.Second)
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	want := doc("CPH", "12/345/6789", "IsDeleted", false)
	if err := store.Put(ctx, "holdings", "id-1", want); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "holdings", "id-1")
	if err != nil {
		t.Fatal(err)
	}
	if got["CPH"] != "12/345/6789" || got["IsDeleted"] != false {
		t.Fatalf("unexpected document %v", got)
	}

	if _, err := store.Get(ctx, "holdings", "absent"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	if err := store.Delete(ctx, "holdings", "id-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "holdings", "id-1"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
	// Deleting a missing id is not an error.
	if err := store.Delete(ctx, "holdings", "id-1"); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateSemantics(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// fn sees nil for an absent document and may create it.
	err := store.Update(ctx, "c", "id-1", func(cur Document) (Document, error) {
		if cur != nil {
			t.Fatal("expected nil for absent document")
		}
		return doc("n", float64(1)), nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// fn mutates the current document.
	err = store.Update(ctx, "c", "id-1", func(cur Document) (Document, error) {
		cur["n"] = cur["n"].(float64) + 1
		return cur, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, "c", "id-1")
	if err != nil {
		t.Fatal(err)
	}
	if got["n"] != float64(2) {
		t.Fatalf("n = %v, want 2", got["n"])
	}

	// (nil, nil) leaves the store untouched.
	err = store.Update(ctx, "c", "id-1", func(cur Document) (Document, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ = store.Get(ctx, "c", "id-1")
	if got["n"] != float64(2) {
		t.Fatal("no-op update must not write")
	}

	// fn errors propagate unchanged.
	sentinel := fmt.Errorf("domain failure")
	err = store.Update(ctx, "c", "id-1", func(Document) (Document, error) {
		return nil, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected fn error, got %v", err)
	}
}

func seedCollection(t *testing.T, store *Store, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		d := doc(
			"CPH", fmt.Sprintf("%02d/345/6789", i+1),
			"county", float64(i+1),
			"IsDeleted", i%5 == 0,
		)
		if err := store.Put(ctx, "holdings", fmt.Sprintf("id-%03d", i), d); err != nil {
			t.Fatal(err)
		}
	}
}

func TestQueryPagingAndCount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedCollection(t, store, 12)

	live := Eq("IsDeleted", false)

	res, err := store.Query(ctx, QueryParameters{
		Collection:   "holdings",
		Filter:       live,
		Skip:         0,
		Top:          4,
		IncludeCount: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	// Indexes 0,5,10 are deleted: 9 live of 12.
	if res.TotalCount == nil || *res.TotalCount != 9 {
		t.Fatalf("total = %v, want 9", res.TotalCount)
	}
	if res.Count != 4 || len(res.Data) != 4 {
		t.Fatalf("page size = %d, want 4", res.Count)
	}
	// Insertion order: first live documents are id-001..id-004.
	if res.Data[0]["CPH"] != "02/345/6789" {
		t.Fatalf("unexpected first document %v", res.Data[0])
	}

	// Second page continues without overlap.
	res2, err := store.Query(ctx, QueryParameters{
		Collection: "holdings", Filter: live, Skip: 4, Top: 4,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res2.Data[0]["CPH"] == res.Data[3]["CPH"] {
		t.Fatal("pages must not overlap")
	}

	// Count-only probe.
	count, err := store.Count(ctx, "holdings", live)
	if err != nil {
		t.Fatal(err)
	}
	if count != 9 {
		t.Fatalf("count = %d, want 9", count)
	}

	// Skip past the end yields an empty page.
	res3, err := store.Query(ctx, QueryParameters{
		Collection: "holdings", Filter: live, Skip: 100, Top: 4,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res3.Data) != 0 {
		t.Fatal("expected empty page past the end")
	}
}

func TestQuerySortAndSelect(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedCollection(t, store, 5)

	res, err := store.Query(ctx, QueryParameters{
		Collection:   "holdings",
		Sort:         []SortField{{Field: "county", Descending: true}},
		SelectFields: []string{"county"},
		Top:          UnboundedTop,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Data) != 5 {
		t.Fatalf("got %d documents", len(res.Data))
	}
	if res.Data[0]["county"] != float64(5) || res.Data[4]["county"] != float64(1) {
		t.Fatalf("descending sort broken: %v", res.Data)
	}
	if _, ok := res.Data[0]["CPH"]; ok {
		t.Fatal("select must project fields")
	}
}

func TestQueryValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var qe *types.QueryError
	_, err := store.Query(ctx, QueryParameters{Collection: "c", Top: -1})
	if !errors.As(err, &qe) || qe.Kind != types.QueryBadRange {
		t.Fatalf("negative top: %v", err)
	}
	_, err = store.Query(ctx, QueryParameters{Collection: "c", Top: 0})
	if !errors.As(err, &qe) || qe.Kind != types.QueryBadRange {
		t.Fatalf("top 0 without count: %v", err)
	}
	_, err = store.Query(ctx, QueryParameters{Collection: "c", Skip: -1, Top: 1})
	if !errors.As(err, &qe) || qe.Kind != types.QueryBadRange {
		t.Fatalf("negative skip: %v", err)
	}
	_, err = store.Query(ctx, QueryParameters{Top: 1})
	if !errors.As(err, &qe) {
		t.Fatalf("empty collection name: %v", err)
	}
}

func TestCombine(t *testing.T) {
	t1, t2 := int64(3), int64(4)
	r1 := &QueryResult{Collection: "a", Data: []Document{doc("x", "1")}, Count: 1, TotalCount: &t1, Skip: 0, Top: 10}
	r2 := &QueryResult{Collection: "b", Data: []Document{doc("x", "2"), doc("x", "3")}, Count: 2, TotalCount: &t2}

	out := Combine(r1, r2)
	if out.Collection != "a" {
		t.Fatal("first collection preserved")
	}
	if out.Count != 3 || len(out.Data) != 3 {
		t.Fatalf("count = %d, want 3", out.Count)
	}
	if out.TotalCount == nil || *out.TotalCount != 7 {
		t.Fatalf("total = %v, want 7", out.TotalCount)
	}
	if out.ExecutedAt.IsZero() {
		t.Fatal("executedAt must be refreshed")
	}

	// Any missing total suppresses the sum.
	r2.TotalCount = nil
	if got := Combine(r1, r2); got.TotalCount != nil {
		t.Fatal("missing total must suppress the combined total")
	}

	if got := Combine(); got.Count != 0 || got.Collection != "" {
		t.Fatal("empty combine")
	}
}

func TestFromToStruct(t *testing.T) {
	type payload struct {
		ID    string `json:"id"`
		Count int    `json:"count"`
	}
	d, err := FromStruct(&payload{ID: "x", Count: 3})
	if err != nil {
		t.Fatal(err)
	}
	if d["id"] != "x" || d["count"] != float64(3) {
		t.Fatalf("unexpected document %v", d)
	}
	var back payload
	if err := ToStruct(d, &back); err != nil {
		t.Fatal(err)
	}
	if back.ID != "x" || back.Count != 3 {
		t.Fatalf("round trip: %+v", back)
	}
}
