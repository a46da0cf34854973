package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/docstore"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

const (
	waitPollInterval = time.Second
	waitMaxDuration  = 5 * time.Minute
)

// Reporter persists import run and per-file progress documents. Both
// phases write through it; API reads come out of it.
type Reporter struct {
	store *docstore.Store
}

// NewReporter creates a reporter over the document store.
func NewReporter(store *docstore.Store) *Reporter {
	return &Reporter{store: store}
}

// CreateImport registers a new run with both phases Pending. Creating
// an id that already exists fails with a Conflict storage error.
func (r *Reporter) CreateImport(ctx context.Context, importID string, source types.SourceType) (*types.ImportRun, error) {
	run := &types.ImportRun{
		ImportID:    importID,
		SourceType:  source,
		Status:      types.ImportStarted,
		StartedAt:   time.Now().UTC(),
		Acquisition: types.PhaseRecord{Status: types.PhasePending},
		Ingestion:   types.PhaseRecord{Status: types.PhasePending},
	}
	err := r.store.Update(ctx, types.CollectionImports, importID, func(cur docstore.Document) (docstore.Document, error) {
		if cur != nil {
			return nil, types.NewStorageError(types.ErrConflict, "create-import", importID,
				fmt.Errorf("import already exists"))
		}
		return docstore.FromStruct(run)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetImportReport fetches one run, or a NotFound storage error.
func (r *Reporter) GetImportReport(ctx context.Context, importID string) (*types.ImportRun, error) {
	doc, err := r.store.Get(ctx, types.CollectionImports, importID)
	if err != nil {
		return nil, err
	}
	var run types.ImportRun
	if err := docstore.ToStruct(doc, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListImports returns runs ordered most recent first.
func (r *Reporter) ListImports(ctx context.Context, skip, top int) ([]*types.ImportRun, error) {
	res, err := r.store.Query(ctx, docstore.QueryParameters{
		Collection: types.CollectionImports,
		Sort:       []docstore.SortField{{Field: "started_at", Descending: true}},
		Skip:       skip,
		Top:        top,
	})
	if err != nil {
		return nil, err
	}
	runs := make([]*types.ImportRun, 0, len(res.Data))
	for _, doc := range res.Data {
		var run types.ImportRun
		if err := docstore.ToStruct(doc, &run); err != nil {
			return nil, err
		}
		runs = append(runs, &run)
	}
	return runs, nil
}

// UpdatePhase applies mutate to one phase of the run and persists it.
func (r *Reporter) UpdatePhase(ctx context.Context, importID string, kind types.PhaseKind, mutate func(*types.PhaseRecord)) error {
	return r.mutateRun(ctx, importID, func(run *types.ImportRun) {
		switch kind {
		case types.PhaseAcquisition:
			mutate(&run.Acquisition)
		case types.PhaseIngestion:
			mutate(&run.Ingestion)
		}
	})
}

// FinishImport records the run's terminal status.
func (r *Reporter) FinishImport(ctx context.Context, importID string, status types.ImportStatus, errText string) error {
	return r.mutateRun(ctx, importID, func(run *types.ImportRun) {
		now := time.Now().UTC()
		run.Status = status
		run.CompletedAt = &now
		run.Error = errText
	})
}

func (r *Reporter) mutateRun(ctx context.Context, importID string, mutate func(*types.ImportRun)) error {
	return r.store.Update(ctx, types.CollectionImports, importID, func(cur docstore.Document) (docstore.Document, error) {
		if cur == nil {
			return nil, types.NewStorageError(types.ErrNotFound, "update-import", importID,
				fmt.Errorf("import not found"))
		}
		var run types.ImportRun
		if err := docstore.ToStruct(cur, &run); err != nil {
			return nil, err
		}
		mutate(&run)
		return docstore.FromStruct(&run)
	})
}

// UpsertFileReport writes one file's progress document.
func (r *Reporter) UpsertFileReport(ctx context.Context, record *types.FileRecord) error {
	doc, err := docstore.FromStruct(record)
	if err != nil {
		return err
	}
	id := types.FileRecordID(record.ImportID, record.FileKey)
	return r.store.Put(ctx, types.CollectionFileReports, id, doc)
}

// MutateFileReport applies mutate to an existing file record.
func (r *Reporter) MutateFileReport(ctx context.Context, importID, fileKey string, mutate func(*types.FileRecord)) error {
	id := types.FileRecordID(importID, fileKey)
	return r.store.Update(ctx, types.CollectionFileReports, id, func(cur docstore.Document) (docstore.Document, error) {
		if cur == nil {
			return nil, types.NewStorageError(types.ErrNotFound, "update-file-report", id,
				fmt.Errorf("file report not found"))
		}
		var record types.FileRecord
		if err := docstore.ToStruct(cur, &record); err != nil {
			return nil, err
		}
		mutate(&record)
		return docstore.FromStruct(&record)
	})
}

// GetFileReports returns every file record of an import in discovery
// (insertion) order.
func (r *Reporter) GetFileReports(ctx context.Context, importID string) ([]*types.FileRecord, error) {
	res, err := r.store.Query(ctx, docstore.QueryParameters{
		Collection: types.CollectionFileReports,
		Filter:     docstore.Eq("import_id", importID),
		Top:        docstore.UnboundedTop,
	})
	if err != nil {
		return nil, err
	}
	records := make([]*types.FileRecord, 0, len(res.Data))
	for _, doc := range res.Data {
		var record types.FileRecord
		if err := docstore.ToStruct(doc, &record); err != nil {
			return nil, err
		}
		records = append(records, &record)
	}
	return records, nil
}

// WaitForCompletion polls until the run reaches a terminal status. It
// gives up after five minutes with ErrTimeout.
func (r *Reporter) WaitForCompletion(ctx context.Context, importID string) (*types.ImportRun, error) {
	deadline := time.Now().Add(waitMaxDuration)
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		run, err := r.GetImportReport(ctx, importID)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		if run != nil && run.Terminal() {
			return run, nil
		}
		if time.Now().After(deadline) {
			return run, types.NewStorageError(types.ErrTimeout, "wait-import", importID,
				fmt.Errorf("import still running after %v", waitMaxDuration))
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}
