package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

const testFileKey = "cts_cph_holdings_2025-01-02.csv.enc"

func ctsRow(lid, change, cph, email, phone string) map[string]string {
	return map[string]string{
		types.FieldLidFullIdentifier: lid,
		types.FieldChangeType:        change,
		types.FieldCph:               cph,
		types.FieldEmailAddress:      email,
		types.FieldPhoneNumber:       phone,
	}
}

func (h *harness) apply(t *testing.T, importID string, row map[string]string) applyOutcome {
	t.Helper()
	defs := testDatasets()
	outcome, err := h.upserter.ApplyRow(context.Background(), &defs[0], importID, testFileKey, 2, row)
	if err != nil {
		t.Fatal(err)
	}
	return outcome
}

func (h *harness) recordEvents(t *testing.T, recordID string) []*types.LineageEvent {
	t.Helper()
	events, err := h.events.ByRecord(context.Background(), "cts_cph_holdings", recordID)
	if err != nil {
		t.Fatal(err)
	}
	return events
}

func TestApplyRowInsert(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	outcome := h.apply(t, "imp-1", ctsRow("UK-12/345/6789", "I", "12/345/6789", "farm@example.com", ""))
	if outcome != outcomeCreated {
		t.Fatalf("outcome %d", outcome)
	}

	doc, err := h.store.Get(ctx, "cts_cph_holdings", "UK-12/345/6789")
	if err != nil {
		t.Fatal(err)
	}
	if doc[types.FieldCph] != "12/345/6789" || doc[types.FieldIsDeleted] != false {
		t.Fatalf("stored doc: %v", doc)
	}
	if doc[types.FieldBatchID] != "imp-1" || doc[types.FieldCreatedAtUtc] == nil {
		t.Fatalf("metadata: %v", doc)
	}

	events := h.recordEvents(t, "UK-12/345/6789")
	if len(events) != 1 || events[0].EventType != types.LineageCreated {
		t.Fatalf("events: %+v", events)
	}
	if events[0].NewValues[types.FieldEmailAddress] != "farm@example.com" {
		t.Fatalf("event payload: %+v", events[0])
	}

	// Replaying the identical row writes nothing and emits nothing.
	if got := h.apply(t, "imp-2", ctsRow("UK-12/345/6789", "I", "12/345/6789", "farm@example.com", "")); got != outcomeUnchanged {
		t.Fatalf("replay outcome %d", got)
	}
	if events := h.recordEvents(t, "UK-12/345/6789"); len(events) != 1 {
		t.Fatalf("replay must not emit: %d events", len(events))
	}
	doc, _ = h.store.Get(ctx, "cts_cph_holdings", "UK-12/345/6789")
	if doc[types.FieldBatchID] != "imp-1" {
		t.Fatal("unchanged replay must not restamp the batch")
	}
}

func TestApplyRowUpdate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.apply(t, "imp-1", ctsRow("UK-12/345/6789", "I", "12/345/6789", "old@example.com", ""))

	outcome := h.apply(t, "imp-2", ctsRow("UK-12/345/6789", "U", "12/345/6789", "new@example.com", ""))
	if outcome != outcomeUpdated {
		t.Fatalf("outcome %d", outcome)
	}

	doc, _ := h.store.Get(ctx, "cts_cph_holdings", "UK-12/345/6789")
	if doc[types.FieldEmailAddress] != "new@example.com" || doc[types.FieldBatchID] != "imp-2" {
		t.Fatalf("doc after update: %v", doc)
	}

	events := h.recordEvents(t, "UK-12/345/6789")
	if len(events) != 2 {
		t.Fatalf("%d events", len(events))
	}
	last := events[1]
	if last.EventType != types.LineageUpdated {
		t.Fatalf("event type %s", last.EventType)
	}
	// The diff carries only changed columns.
	if last.PreviousValues[types.FieldEmailAddress] != "old@example.com" || last.NewValues[types.FieldEmailAddress] != "new@example.com" {
		t.Fatalf("diff: %+v", last)
	}
	if _, ok := last.NewValues[types.FieldCph]; ok {
		t.Fatal("unchanged columns must not appear in the diff")
	}

	// Updating an unknown record is a row defect, not a crash.
	_, err := h.upserter.ApplyRow(ctx, &testDatasets()[0], "imp-2", testFileKey, 9,
		ctsRow("UK-00/000/0000", "U", "x", "", ""))
	var rowErr *RowError
	if !errors.As(err, &rowErr) {
		t.Fatalf("expected RowError, got %v", err)
	}
}

func TestApplyRowDeleteRestore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.apply(t, "imp-1", ctsRow("UK-12/345/6789", "I", "12/345/6789", "", ""))

	if got := h.apply(t, "imp-2", ctsRow("UK-12/345/6789", "D", "12/345/6789", "", "")); got != outcomeDeleted {
		t.Fatalf("delete outcome %d", got)
	}
	doc, _ := h.store.Get(ctx, "cts_cph_holdings", "UK-12/345/6789")
	if doc[types.FieldIsDeleted] != true {
		t.Fatal("record must be logically deleted, not removed")
	}

	// Deleting twice changes nothing.
	if got := h.apply(t, "imp-2", ctsRow("UK-12/345/6789", "D", "12/345/6789", "", "")); got != outcomeUnchanged {
		t.Fatalf("second delete outcome %d", got)
	}

	if got := h.apply(t, "imp-3", ctsRow("UK-12/345/6789", "R", "12/345/6789", "", "")); got != outcomeUndeleted {
		t.Fatalf("restore outcome %d", got)
	}
	doc, _ = h.store.Get(ctx, "cts_cph_holdings", "UK-12/345/6789")
	if doc[types.FieldIsDeleted] != false {
		t.Fatal("restore must clear the delete flag")
	}

	// Restoring a live record changes nothing.
	if got := h.apply(t, "imp-3", ctsRow("UK-12/345/6789", "R", "12/345/6789", "", "")); got != outcomeUnchanged {
		t.Fatalf("second restore outcome %d", got)
	}

	events := h.recordEvents(t, "UK-12/345/6789")
	want := []types.LineageEventType{types.LineageCreated, types.LineageDeleted, types.LineageUndeleted}
	if len(events) != len(want) {
		t.Fatalf("%d events", len(events))
	}
	for i, typ := range want {
		if events[i].EventType != typ {
			t.Fatalf("event %d: %s, want %s", i, events[i].EventType, typ)
		}
	}
}

func TestApplyRowInsertOnDeletedRestores(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.apply(t, "imp-1", ctsRow("UK-12/345/6789", "I", "12/345/6789", "", ""))
	h.apply(t, "imp-2", ctsRow("UK-12/345/6789", "D", "12/345/6789", "", ""))

	outcome := h.apply(t, "imp-3", ctsRow("UK-12/345/6789", "I", "12/345/6789", "back@example.com", ""))
	if outcome != outcomeUndeleted {
		t.Fatalf("outcome %d", outcome)
	}
	doc, _ := h.store.Get(ctx, "cts_cph_holdings", "UK-12/345/6789")
	if doc[types.FieldIsDeleted] != false || doc[types.FieldEmailAddress] != "back@example.com" {
		t.Fatalf("doc: %v", doc)
	}
}

func TestApplyRowDeleteMissing(t *testing.T) {
	h := newHarness(t)

	if got := h.apply(t, "imp-1", ctsRow("UK-99/999/9999", "D", "x", "", "")); got != outcomeMissingSkip {
		t.Fatalf("outcome %d", got)
	}
	if events := h.recordEvents(t, "UK-99/999/9999"); len(events) != 0 {
		t.Fatal("missing delete must not emit lineage")
	}
}

func TestApplyRowDefects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	defs := testDatasets()

	var rowErr *RowError

	// Unknown change letter.
	_, err := h.upserter.ApplyRow(ctx, &defs[0], "imp-1", testFileKey, 4,
		ctsRow("UK-12/345/6789", "X", "x", "", ""))
	if !errors.As(err, &rowErr) || rowErr.Line != 4 {
		t.Fatalf("unknown change: %v", err)
	}

	// Missing primary key value.
	_, err = h.upserter.ApplyRow(ctx, &defs[0], "imp-1", testFileKey, 5,
		ctsRow("  ", "I", "x", "", ""))
	if !errors.As(err, &rowErr) {
		t.Fatalf("blank key: %v", err)
	}

	// Change letters are case-insensitive.
	if got := h.apply(t, "imp-1", ctsRow("UK-12/345/6789", "i", "12/345/6789", "", "")); got != outcomeCreated {
		t.Fatalf("lowercase insert outcome %d", got)
	}
}
