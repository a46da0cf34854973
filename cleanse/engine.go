package cleanse

import (
	"context"
	"fmt"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/docstore"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/log"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/metrics"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// progressInterval is how often the progress callback fires, in
// analyzed records. It also fires once on entry at zero.
const progressInterval = 100

// ProgressFunc receives (analyzed, total, issuesFound) during a scan.
type ProgressFunc func(analyzed, total, issuesFound int64)

// Engine executes one full cross-dataset scan: every live CTS holding,
// then every live SAM holding, in fixed-size pages. It is strictly
// sequential; the coordinator's lock keeps it a cluster singleton.
type Engine struct {
	store    *docstore.Store
	views    *Views
	issues   *IssueService
	ctsColl  string
	samColl  string
	pageSize int
}

// NewEngine wires the analysis engine. pageSize bounds each dataset
// page fetch.
func NewEngine(store *docstore.Store, views *Views, issues *IssueService, ctsCollection, samCollection string, pageSize int) *Engine {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Engine{
		store:    store,
		views:    views,
		issues:   issues,
		ctsColl:  ctsCollection,
		samColl:  samCollection,
		pageSize: pageSize,
	}
}

// ScanResult summarizes one engine run.
type ScanResult struct {
	RecordsAnalyzed int64
	TotalRecords    int64
	IssuesFound     int64
}

// Run scans both datasets for operationID. progress and collector may
// be nil.
func (e *Engine) Run(ctx context.Context, operationID string, progress ProgressFunc, collector *metrics.Collector) (*ScanResult, error) {
	logger := log.ForOperation("cleanse-engine", operationID)

	live := docstore.Eq(types.FieldIsDeleted, false)
	ctsTotal, err := e.store.Count(ctx, e.ctsColl, live)
	if err != nil {
		return nil, err
	}
	samTotal, err := e.store.Count(ctx, e.samColl, live)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{TotalRecords: ctsTotal + samTotal}
	emit := func() {
		if progress != nil {
			progress(result.RecordsAnalyzed, result.TotalRecords, result.IssuesFound)
		}
	}
	emit()
	logger.Info("scan started", map[string]any{"total_records": result.TotalRecords})

	record := func(recordID, ruleID string, ictx types.IssueContext) error {
		res, err := e.issues.RecordIssue(ctx, IssueCommand{
			RecordID:    recordID,
			RuleID:      ruleID,
			OperationID: operationID,
			Context:     ictx,
		})
		if err != nil {
			return err
		}
		result.IssuesFound++
		collector.IncIssueFound()
		logger.Debug("rule hit", map[string]any{
			"rule": ruleID, "record": recordID, "result": string(res),
		})
		return nil
	}

	analyze := func() {
		result.RecordsAnalyzed++
		collector.IncRecordAnalyzed()
		if result.RecordsAnalyzed%progressInterval == 0 {
			emit()
		}
	}

	err = e.pump(ctx, e.ctsColl, types.FieldLidFullIdentifier, func(value string) error {
		analyze()
		lid, err := types.ParseLid(value)
		if err != nil || !types.CtsCountyInRange(lid.Cph.County) {
			return nil
		}
		return e.processCtsPrimary(ctx, lid, record)
	})
	if err != nil {
		return result, err
	}

	err = e.pump(ctx, e.samColl, types.FieldCph, func(value string) error {
		analyze()
		cph, err := types.ParseCph(value)
		if err != nil {
			return nil
		}
		return e.processSamPrimary(ctx, cph, record)
	})
	if err != nil {
		return result, err
	}

	emit()
	logger.Info("scan finished", map[string]any{
		"analyzed": result.RecordsAnalyzed, "issues_found": result.IssuesFound,
	})
	return result, nil
}

// pump pages one dataset's live records, handing the selected field's
// value to visit one row at a time.
func (e *Engine) pump(ctx context.Context, collection, field string, visit func(value string) error) error {
	skip := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := e.store.Query(ctx, docstore.QueryParameters{
			Collection:   collection,
			Filter:       docstore.Eq(types.FieldIsDeleted, false),
			SelectFields: []string{field},
			Skip:         skip,
			Top:          e.pageSize,
		})
		if err != nil {
			return fmt.Errorf("page %s at %d: %w", collection, skip, err)
		}
		for _, doc := range res.Data {
			if err := visit(docStr(doc, field)); err != nil {
				return err
			}
		}
		if res.Count < e.pageSize {
			return nil
		}
		skip += res.Count
	}
}

// processCtsPrimary reconciles one CTS holding against SAM.
func (e *Engine) processCtsPrimary(ctx context.Context, lid types.Lid, record func(string, string, types.IssueContext) error) error {
	recordID := lid.String()
	cphStr := lid.Cph.String()

	sam, err := e.views.SamByCph(ctx, cphStr)
	if err != nil {
		return err
	}
	if sam == nil {
		return record(recordID, RuleCtsCphNotInSam, types.IssueContext{
			Cph:               cphStr,
			LidFullIdentifier: recordID,
		})
	}

	cts, err := e.views.CtsByLid(ctx, recordID)
	if err != nil {
		return err
	}
	if cts == nil {
		// Deleted between the page read and the lookup.
		return nil
	}

	rc := &RuleContext{Cph: cphStr, Lid: recordID, Cts: cts, Sam: sam}
	for _, rule := range CtsPrimaryRules {
		ictx, fired := rule.Evaluate(rc)
		if !fired {
			continue
		}
		if err := record(recordID, rule.ID, ictx); err != nil {
			return err
		}
	}
	return nil
}

// processSamPrimary reconciles one SAM holding against CTS.
func (e *Engine) processSamPrimary(ctx context.Context, cph types.Cph, record func(string, string, types.IssueContext) error) error {
	cphStr := cph.String()
	cts, err := e.views.CtsByCph(ctx, cphStr)
	if err != nil {
		return err
	}
	if cts != nil {
		return nil
	}
	return record(cphStr, RuleSamCphNotInCts, types.IssueContext{Cph: cphStr})
}
