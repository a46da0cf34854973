package cleanse

import (
	"context"
	"testing"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/docstore"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

func issueCmd(opID string, ictx types.IssueContext) IssueCommand {
	return IssueCommand{
		RecordID:    "UK-12/345/6789",
		RuleID:      RuleCtsCphNotInSam,
		OperationID: opID,
		Context:     ictx,
	}
}

func TestRecordIssueLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ictx := types.IssueContext{Cph: "12/345/6789", LidFullIdentifier: "UK-12/345/6789"}

	res, err := h.issues.RecordIssue(ctx, issueCmd("op-1", ictx))
	if err != nil {
		t.Fatal(err)
	}
	if res != types.IssueCreated {
		t.Fatalf("first observation: %s", res)
	}

	issues := h.activeIssues(t)
	if len(issues) != 1 {
		t.Fatalf("%d active issues", len(issues))
	}
	issue := issues[0]
	if issue.Fingerprint != types.IssueFingerprint("UK-12/345/6789", RuleCtsCphNotInSam) {
		t.Fatalf("fingerprint %q", issue.Fingerprint)
	}
	if !issue.Active || issue.LastSeenOperation != "op-1" || issue.CreatedAt.IsZero() {
		t.Fatalf("issue: %+v", issue)
	}

	// Same observation again, later operation: unchanged but touched.
	res, err = h.issues.RecordIssue(ctx, issueCmd("op-2", ictx))
	if err != nil {
		t.Fatal(err)
	}
	if res != types.IssueUnchanged {
		t.Fatalf("repeat observation: %s", res)
	}
	if got := h.activeIssues(t); got[0].LastSeenOperation != "op-2" {
		t.Fatalf("last seen not touched: %+v", got[0])
	}

	// Changed context: updated in place, no second issue.
	changed := ictx
	changed.CtsEmails = []string{"farm@example.com"}
	res, err = h.issues.RecordIssue(ctx, issueCmd("op-3", changed))
	if err != nil {
		t.Fatal(err)
	}
	if res != types.IssueUpdated {
		t.Fatalf("changed context: %s", res)
	}
	issues = h.activeIssues(t)
	if len(issues) != 1 || len(issues[0].Context.CtsEmails) != 1 {
		t.Fatalf("updated issue: %+v", issues)
	}

	// Not observed by op-4: retired.
	retired, err := h.issues.DeactivateStaleIssues(ctx, "op-4")
	if err != nil {
		t.Fatal(err)
	}
	if retired != 1 {
		t.Fatalf("retired %d", retired)
	}
	if got := h.activeIssues(t); len(got) != 0 {
		t.Fatal("issue must be inactive")
	}

	// Seen again later: reactivated, same fingerprint.
	res, err = h.issues.RecordIssue(ctx, issueCmd("op-5", ictx))
	if err != nil {
		t.Fatal(err)
	}
	if res != types.IssueReactivated {
		t.Fatalf("reobservation: %s", res)
	}
	issues = h.activeIssues(t)
	if len(issues) != 1 || issues[0].Fingerprint != issue.Fingerprint {
		t.Fatalf("reactivated: %+v", issues)
	}
}

func TestRecordIssueHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ictx := types.IssueContext{Cph: "12/345/6789"}

	// Two records in the same operation overwrite one history row;
	// a later operation adds a second.
	for _, opID := range []string{"op-1", "op-1", "op-2"} {
		if _, err := h.issues.RecordIssue(ctx, issueCmd(opID, ictx)); err != nil {
			t.Fatal(err)
		}
	}

	count, err := h.store.Count(ctx, types.CollectionIssueHistory, docstore.Empty)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("history rows = %d, want 2", count)
	}
}

func TestDeactivateStaleIssuesKeepsObserved(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first := issueCmd("op-1", types.IssueContext{Cph: "12/345/6789"})
	second := IssueCommand{
		RecordID:    "98/765/4321",
		RuleID:      RuleSamCphNotInCts,
		OperationID: "op-1",
		Context:     types.IssueContext{Cph: "98/765/4321"},
	}
	for _, cmd := range []IssueCommand{first, second} {
		if _, err := h.issues.RecordIssue(ctx, cmd); err != nil {
			t.Fatal(err)
		}
	}

	// op-2 observes only the first issue.
	first.OperationID = "op-2"
	if _, err := h.issues.RecordIssue(ctx, first); err != nil {
		t.Fatal(err)
	}
	retired, err := h.issues.DeactivateStaleIssues(ctx, "op-2")
	if err != nil {
		t.Fatal(err)
	}
	if retired != 1 {
		t.Fatalf("retired %d", retired)
	}

	issues := h.activeIssues(t)
	if len(issues) != 1 || issues[0].RuleID != RuleCtsCphNotInSam {
		t.Fatalf("survivors: %+v", issues)
	}

	// Running it again for the same operation retires nothing more.
	retired, err = h.issues.DeactivateStaleIssues(ctx, "op-2")
	if err != nil {
		t.Fatal(err)
	}
	if retired != 0 {
		t.Fatalf("second pass retired %d", retired)
	}
}
