package cleanse

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/docstore"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/lock"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/log"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/metrics"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// LockName guards the cluster-wide analysis singleton.
const LockName = "cleanse-analysis"

// Coordinator owns the lifecycle of cleanse operations: lock
// acquisition, background execution, lock renewal, stale-issue
// retirement and report export.
type Coordinator struct {
	locks         *lock.Manager
	store         *docstore.Store
	engine        *Engine
	issues        *IssueService
	exporter      *Exporter
	lockTTL       time.Duration
	renewInterval time.Duration
	logger        *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCoordinator wires the analysis lifecycle.
func NewCoordinator(locks *lock.Manager, store *docstore.Store, engine *Engine, issues *IssueService, exporter *Exporter, lockTTL, renewInterval time.Duration) *Coordinator {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	if renewInterval <= 0 {
		renewInterval = 2 * time.Minute
	}
	return &Coordinator{
		locks:         locks,
		store:         store,
		engine:        engine,
		issues:        issues,
		exporter:      exporter,
		lockTTL:       lockTTL,
		renewInterval: renewInterval,
		logger:        log.NewLogger("cleanse-coordinator"),
	}
}

// StartAnalysis launches an analysis in the background and returns its
// descriptor immediately. Returns (nil, nil) when another holder has
// the lock.
func (c *Coordinator) StartAnalysis(ctx context.Context) (*types.CleanseOperation, error) {
	handle, op, err := c.begin(ctx)
	if err != nil || handle == nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		c.runLocked(runCtx, handle, op)
	}()
	return op, nil
}

// RunAnalysis is the synchronous variant: same behavior, but it awaits
// completion and returns the terminal operation.
func (c *Coordinator) RunAnalysis(ctx context.Context) (*types.CleanseOperation, error) {
	handle, op, err := c.begin(ctx)
	if err != nil || handle == nil {
		return nil, err
	}
	c.runLocked(ctx, handle, op)
	return c.GetOperation(ctx, op.OperationID)
}

// Cancel stops a running background analysis and waits for its
// terminal state to persist. No-op when nothing is running.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// GetOperation fetches one operation document.
func (c *Coordinator) GetOperation(ctx context.Context, operationID string) (*types.CleanseOperation, error) {
	doc, err := c.store.Get(ctx, types.CollectionCleanseOperations, operationID)
	if err != nil {
		return nil, err
	}
	var op types.CleanseOperation
	if err := docstore.ToStruct(doc, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// begin takes the lock and registers a Running operation. A nil handle
// with nil error means the lock is held elsewhere.
func (c *Coordinator) begin(ctx context.Context) (*lock.Handle, *types.CleanseOperation, error) {
	handle, err := c.locks.TryAcquire(ctx, LockName, c.lockTTL)
	if err != nil {
		return nil, nil, err
	}
	if handle == nil {
		c.logger.Info("analysis already running elsewhere", nil)
		return nil, nil, nil
	}

	op := &types.CleanseOperation{
		OperationID: uuid.NewString(),
		Status:      types.OperationRunning,
		StatusText:  "starting",
		StartedAt:   time.Now().UTC(),
	}
	doc, err := docstore.FromStruct(op)
	if err != nil {
		_ = handle.Release(ctx)
		return nil, nil, err
	}
	if err := c.store.Put(ctx, types.CollectionCleanseOperations, op.OperationID, doc); err != nil {
		_ = handle.Release(ctx)
		return nil, nil, err
	}
	return handle, op, nil
}

// runLocked executes the analysis while holding the lock. Lock loss is
// non-fatal: the scan runs to completion and the terminal state still
// persists.
func (c *Coordinator) runLocked(ctx context.Context, handle *lock.Handle, op *types.CleanseOperation) {
	logger := log.ForOperation("cleanse-coordinator", op.OperationID)
	collector := metrics.NewCollector("cleanse", op.OperationID)
	started := time.Now()

	renewCtx, stopRenewer := context.WithCancel(ctx)
	renewerDone := make(chan struct{})
	go c.renewLoop(renewCtx, handle, renewerDone, logger)
	defer func() {
		stopRenewer()
		<-renewerDone
		if err := handle.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release lock", map[string]any{"error": err.Error()})
		}
	}()

	progress := func(analyzed, total, found int64) {
		percent := 0
		if total > 0 {
			percent = int(analyzed * 100 / total)
		}
		c.mutateOperation(context.WithoutCancel(ctx), op.OperationID, func(o *types.CleanseOperation) {
			o.ProgressPercent = percent
			o.StatusText = "analyzing"
			o.RecordsAnalyzed = analyzed
			o.TotalRecords = total
			o.IssuesFound = found
		})
	}

	result, scanErr := c.engine.Run(ctx, op.OperationID, progress, collector)

	// Stale retirement and the terminal write happen even on a
	// cancelled scan, on an uncancelled context.
	endCtx := context.WithoutCancel(ctx)
	var resolved int64
	if scanErr == nil {
		var err error
		resolved, err = c.issues.DeactivateStaleIssues(endCtx, op.OperationID)
		if err != nil {
			scanErr = err
		}
		collector.AddIssuesResolved(resolved)
	}

	status := types.OperationCompleted
	statusText := "completed"
	errText := ""
	switch {
	case errors.Is(scanErr, context.Canceled):
		status = types.OperationCancelled
		statusText = "cancelled"
	case scanErr != nil:
		status = types.OperationFailed
		statusText = "failed"
		errText = scanErr.Error()
	}

	now := time.Now().UTC()
	c.mutateOperation(endCtx, op.OperationID, func(o *types.CleanseOperation) {
		o.Status = status
		o.StatusText = statusText
		o.CompletedAt = &now
		o.DurationMs = time.Since(started).Milliseconds()
		o.Error = errText
		if result != nil {
			o.RecordsAnalyzed = result.RecordsAnalyzed
			o.TotalRecords = result.TotalRecords
			o.IssuesFound = result.IssuesFound
		}
		o.IssuesResolved = resolved
		if status == types.OperationCompleted {
			o.ProgressPercent = 100
		}
	})

	if status == types.OperationCompleted {
		key, url, err := c.exporter.Export(endCtx, op.OperationID)
		if err != nil {
			logger.Error("export report", map[string]any{"error": err.Error()})
		} else {
			c.mutateOperation(endCtx, op.OperationID, func(o *types.CleanseOperation) {
				o.ReportObjectKey = key
				o.ReportURL = url
			})
		}
	}
	logger.Info("analysis finished", map[string]any{
		"status": string(status), "metrics": collector.Snapshot(),
	})
}

// renewLoop refreshes the lock on its schedule until stopped. Renewal
// failure never aborts the analysis.
func (c *Coordinator) renewLoop(ctx context.Context, handle *lock.Handle, done chan<- struct{}, logger *log.Logger) {
	defer close(done)
	ticker := time.NewTicker(c.renewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Warn("renewer stopped", map[string]any{"reason": ctx.Err().Error()})
			return
		case <-ticker.C:
			err := handle.TryRenew(ctx, c.lockTTL)
			switch {
			case errors.Is(err, types.ErrLostOwnership):
				logger.Warn("lock ownership lost, continuing to completion", map[string]any{"error": err.Error()})
			case err != nil:
				logger.Warn("lock renewal error", map[string]any{"error": err.Error()})
			}
		}
	}
}

func (c *Coordinator) mutateOperation(ctx context.Context, operationID string, mutate func(*types.CleanseOperation)) {
	err := c.store.Update(ctx, types.CollectionCleanseOperations, operationID, func(cur docstore.Document) (docstore.Document, error) {
		if cur == nil {
			return nil, types.NewStorageError(types.ErrNotFound, "update-operation", operationID, errors.New("operation not found"))
		}
		var op types.CleanseOperation
		if err := docstore.ToStruct(cur, &op); err != nil {
			return nil, err
		}
		mutate(&op)
		return docstore.FromStruct(&op)
	})
	if err != nil {
		c.logger.Error("persist operation", map[string]any{"operation_id": operationID, "error": err.Error()})
	}
}
