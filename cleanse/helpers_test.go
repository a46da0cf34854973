package cleanse

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/blob"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/docstore"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/lock"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

const (
	ctsColl = "cts_cph_holdings"
	samColl = "sam_cph_holdings"
)

// harness wires the full cleanse stack over in-memory backends.
type harness struct {
	store    *docstore.Store
	locks    *lock.Manager
	views    *Views
	issues   *IssueService
	engine   *Engine
	reports  *blob.MemoryStore
	exporter *Exporter
	coord    *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := docstore.NewStoreWithClient(client, time.Second)
	locks := lock.NewManagerWithClient(client)
	views := NewViews(store, ctsColl, samColl)
	issues := NewIssueService(store)
	engine := NewEngine(store, views, issues, ctsColl, samColl, 10)
	reports := blob.NewMemoryStore("")
	exporter := NewExporter(issues, reports, "reports", time.Hour,
		blob.RetryPolicy{Attempts: 3, Base: time.Millisecond})
	coord := NewCoordinator(locks, store, engine, issues, exporter, time.Minute, 30*time.Second)

	return &harness{
		store:    store,
		locks:    locks,
		views:    views,
		issues:   issues,
		engine:   engine,
		reports:  reports,
		exporter: exporter,
		coord:    coord,
	}
}

func (h *harness) putCts(t *testing.T, lid, emails, phones, adrName string) {
	t.Helper()
	err := h.store.Put(context.Background(), ctsColl, lid, docstore.Document{
		types.FieldLidFullIdentifier: lid,
		types.FieldEmailAddress:      emails,
		types.FieldPhoneNumber:       phones,
		types.FieldAdrName:           adrName,
		types.FieldIsDeleted:         false,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (h *harness) putSam(t *testing.T, cph, emails, phones, species, feature string) {
	t.Helper()
	err := h.store.Put(context.Background(), samColl, cph, docstore.Document{
		types.FieldCph:               cph,
		types.FieldEmailAddress:      emails,
		types.FieldPhoneNumber:       phones,
		types.FieldAnimalSpeciesCode: species,
		types.FieldFeatureName:       feature,
		types.FieldIsDeleted:         false,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (h *harness) activeIssues(t *testing.T) []*types.Issue {
	t.Helper()
	issues, err := h.issues.ActiveIssues(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return issues
}
