package cleanse

import (
	"context"
	"testing"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

func TestEngineCtsWithoutSam(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.putCts(t, "UK-12/345/6789", "", "", "Home Farm")

	result, err := h.engine.Run(ctx, "op-1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.RecordsAnalyzed != 1 || result.TotalRecords != 1 || result.IssuesFound != 1 {
		t.Fatalf("result: %+v", result)
	}

	issues := h.activeIssues(t)
	if len(issues) != 1 || issues[0].RuleID != RuleCtsCphNotInSam {
		t.Fatalf("issues: %+v", issues)
	}
	if issues[0].Context.Cph != "12/345/6789" || issues[0].Context.LidFullIdentifier != "UK-12/345/6789" {
		t.Fatalf("context: %+v", issues[0].Context)
	}

	// Rerunning finds the same defect; no duplicate issue appears.
	result, err = h.engine.Run(ctx, "op-2", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.IssuesFound != 1 {
		t.Fatalf("rerun: %+v", result)
	}
	if got := h.activeIssues(t); len(got) != 1 || got[0].LastSeenOperation != "op-2" {
		t.Fatalf("rerun issues: %+v", got)
	}
}

func TestEngineSamWithoutCts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.putSam(t, "98/765/4321", "", "", "CTT", "Home Farm")

	result, err := h.engine.Run(ctx, "op-1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.IssuesFound != 1 {
		t.Fatalf("result: %+v", result)
	}
	issues := h.activeIssues(t)
	if len(issues) != 1 || issues[0].RuleID != RuleSamCphNotInCts {
		t.Fatalf("issues: %+v", issues)
	}
}

func TestEnginePairedHoldingRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	// No emails, no phones anywhere; SAM is not a cattle unit. Rules
	// KD002, KD004 and KD006 all fire for the same pair.
	h.putCts(t, "UK-12/345/6789", "", "", "Home Farm")
	h.putSam(t, "12/345/6789", "", "", "SHP", "")

	result, err := h.engine.Run(ctx, "op-1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.RecordsAnalyzed != 2 {
		t.Fatalf("analyzed %d", result.RecordsAnalyzed)
	}
	if result.IssuesFound != 3 {
		t.Fatalf("issues found %d", result.IssuesFound)
	}

	byRule := map[string]bool{}
	for _, issue := range h.activeIssues(t) {
		byRule[issue.RuleID] = true
	}
	for _, want := range []string{RuleCtsSamNoEmails, RuleCtsSamNoPhones, RuleSamNoCattleUnit} {
		if !byRule[want] {
			t.Fatalf("missing %s in %v", want, byRule)
		}
	}
	if byRule[RuleCtsCphNotInSam] || byRule[RuleSamCphNotInCts] {
		t.Fatal("paired holdings must not raise absence issues")
	}
}

func TestEngineCleanPairRaisesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.putCts(t, "UK-12/345/6789", "farm@example.com", "01onetwo", "Home Farm")
	h.putSam(t, "12/345/6789", "farm@example.com", "01onetwo", "CTT", "Home Farm")

	result, err := h.engine.Run(ctx, "op-1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.IssuesFound != 0 {
		t.Fatalf("clean pair raised %d issues: %+v", result.IssuesFound, h.activeIssues(t))
	}
}

func TestEngineCountyGate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	// County 99 is outside the analysed range; malformed LIDs are
	// likewise skipped without becoming issues.
	h.putCts(t, "UK-99/999/9999", "", "", "")
	h.putCts(t, "not-a-lid", "", "", "")

	result, err := h.engine.Run(ctx, "op-1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.RecordsAnalyzed != 2 || result.IssuesFound != 0 {
		t.Fatalf("result: %+v", result)
	}
}

func TestEngineIgnoresDeletedRecords(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.putCts(t, "UK-12/345/6789", "", "", "")
	// Logically delete it.
	err := h.store.Put(ctx, ctsColl, "UK-12/345/6789", map[string]any{
		types.FieldLidFullIdentifier: "UK-12/345/6789",
		types.FieldIsDeleted:         true,
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := h.engine.Run(ctx, "op-1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalRecords != 0 || result.RecordsAnalyzed != 0 || result.IssuesFound != 0 {
		t.Fatalf("result: %+v", result)
	}
}

func TestEngineProgressCallback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		lid := []string{"UK-11/111/1111", "UK-12/222/2222", "UK-13/333/3333", "UK-14/444/4444", "UK-15/555/5555"}[i]
		h.putCts(t, lid, "", "", "")
	}

	type tick struct{ analyzed, total, found int64 }
	var ticks []tick
	_, err := h.engine.Run(ctx, "op-1", func(analyzed, total, found int64) {
		ticks = append(ticks, tick{analyzed, total, found})
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(ticks) < 2 {
		t.Fatalf("ticks: %v", ticks)
	}
	if ticks[0].analyzed != 0 || ticks[0].total != 5 {
		t.Fatalf("first tick: %+v", ticks[0])
	}
	last := ticks[len(ticks)-1]
	if last.analyzed != 5 || last.found != 5 {
		t.Fatalf("last tick: %+v", last)
	}
}

func TestEnginePagination(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	// Page size 10; 23 holdings force three pages.
	for i := 0; i < 23; i++ {
		lid := types.Lid{Region: "UK", Cph: types.Cph{County: 11, Parish: 100 + i, Holding: 1000 + i}}
		h.putCts(t, lid.String(), "", "", "")
	}

	result, err := h.engine.Run(ctx, "op-1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.RecordsAnalyzed != 23 || result.IssuesFound != 23 {
		t.Fatalf("result: %+v", result)
	}
}
