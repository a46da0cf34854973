package importer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/blob"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/crypto"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/iox"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/log"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/metrics"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// progressRowInterval is how often row counters are flushed to the
// phase record and logged.
const progressRowInterval = 100

// Ingestion decrypts acquired files in place (streaming, never a whole
// file in memory), parses their rows and applies them to the document
// store. Files are processed oldest-first by key; rows within a file
// strictly in order.
type Ingestion struct {
	internal blob.Store
	reporter *Reporter
	registry *Registry
	upserter *Upserter
	salt     string
	workers  int
	retry    blob.RetryPolicy
}

// NewIngestion wires the ingestion phase. workers bounds how many files
// decrypt concurrently; rows within one file always apply sequentially.
func NewIngestion(internal blob.Store, reporter *Reporter, registry *Registry, upserter *Upserter, salt string, workers int, retry blob.RetryPolicy) *Ingestion {
	if workers < 1 {
		workers = 1
	}
	return &Ingestion{
		internal: internal,
		reporter: reporter,
		registry: registry,
		upserter: upserter,
		salt:     salt,
		workers:  workers,
		retry:    retry,
	}
}

// Run ingests every file the acquisition phase marked Acquired. Returns
// the final phase status; the error return carries only infrastructure
// failures.
func (g *Ingestion) Run(ctx context.Context, importID string) (types.PhaseStatus, error) {
	logger := log.ForImport("ingestion", importID)
	collector := metrics.NewCollector("ingestion", importID)

	if err := g.reporter.UpdatePhase(ctx, importID, types.PhaseIngestion, func(p *types.PhaseRecord) {
		now := time.Now().UTC()
		p.Status = types.PhaseRunning
		p.StartedAt = &now
	}); err != nil {
		return types.PhaseFailed, err
	}

	records, err := g.reporter.GetFileReports(ctx, importID)
	if err != nil {
		g.closePhase(ctx, importID, types.PhaseFailed, err.Error(), logger)
		return types.PhaseFailed, err
	}
	var pending []*types.FileRecord
	for _, r := range records {
		if r.Status == types.FileAcquired {
			pending = append(pending, r)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].FileKey < pending[j].FileKey })

	if err := g.reporter.UpdatePhase(ctx, importID, types.PhaseIngestion, func(p *types.PhaseRecord) {
		p.FilesDiscovered = int64(len(pending))
	}); err != nil {
		return types.PhaseFailed, err
	}
	logger.Info("ingestion started", map[string]any{"files": len(pending), "workers": g.workers})

	jobs := make(chan *types.FileRecord)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed int64

	for w := 0; w < g.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range jobs {
				if err := g.ingestFile(ctx, importID, record, collector, logger); err != nil {
					logger.Warn("file failed", map[string]any{"key": record.FileKey, "error": err.Error()})
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
		}()
	}

dispatch:
	for _, record := range pending {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- record:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		g.closePhase(ctx, importID, types.PhaseFailed, "cancelled", logger)
		return types.PhaseFailed, err
	}

	final := types.PhaseCompleted
	detail := ""
	if failed > 0 {
		final = types.PhaseFailed
		detail = fmt.Sprintf("%d file(s) failed", failed)
	}
	g.closePhase(ctx, importID, final, detail, logger)
	logger.Info("ingestion finished", map[string]any{
		"status": string(final), "metrics": collector.Snapshot(),
	})
	return final, nil
}

func (g *Ingestion) closePhase(ctx context.Context, importID string, status types.PhaseStatus, detail string, logger *log.Logger) {
	if err := g.reporter.UpdatePhase(ctx, importID, types.PhaseIngestion, func(p *types.PhaseRecord) {
		now := time.Now().UTC()
		p.Status = status
		p.CompletedAt = &now
		p.CurrentFile = ""
		p.Error = detail
	}); err != nil {
		logger.Error("record phase status", map[string]any{"error": err.Error()})
	}
}

// fileCounters accumulate between flushes to the phase record.
type fileCounters struct {
	processed int64
	created   int64
	updated   int64
	deleted   int64
	skipped   int64
	rowErrs   int64
}

// ingestFile decrypts, parses and applies one file. A returned error
// marks the file Failed; per-row defects only increment counters.
func (g *Ingestion) ingestFile(ctx context.Context, importID string, record *types.FileRecord, collector *metrics.Collector, logger *log.Logger) error {
	def, ok := g.registry.ByName(record.DatasetName)
	if !ok {
		return g.failFile(ctx, record, fmt.Errorf("unknown dataset %q", record.DatasetName))
	}
	if err := g.reporter.UpdatePhase(ctx, importID, types.PhaseIngestion, func(p *types.PhaseRecord) {
		p.CurrentFile = record.FileKey
	}); err != nil {
		return err
	}

	var src io.ReadCloser
	err := g.retry.Do(ctx, func() error {
		var derr error
		src, derr = g.internal.Download(ctx, record.FileKey)
		return derr
	})
	if err != nil {
		return g.failFile(ctx, record, fmt.Errorf("download: %w", err))
	}
	defer iox.DiscardClose(src)

	// Decrypt on a pipe so parsing consumes plaintext as it appears;
	// neither ciphertext nor plaintext is ever fully in memory. The
	// ciphertext byte position drives the total-rows and ETA estimates.
	password := crypto.PasswordFromFilename(lastSegment(record.FileKey))
	hasher := md5.New()
	counted := iox.NewCountingReader(src)
	pr, pw := io.Pipe()
	decryptStart := time.Now()
	go func() {
		err := crypto.DecryptStream(counted, io.MultiWriter(pw, hasher), password, g.salt, record.SizeBytes, nil)
		pw.CloseWithError(err)
	}()

	rr, err := NewRowReader(pr, def)
	if err != nil {
		_ = pr.CloseWithError(err)
		return g.failFile(ctx, record, fmt.Errorf("corrupt file: %w", err))
	}

	var totals fileCounters
	var delta fileCounters
	sinceFlush := 0
	for {
		row, line, err := rr.Next()
		if err != nil {
			var rowErr *RowError
			if errors.As(err, &rowErr) {
				totals.rowErrs++
				delta.rowErrs++
				collector.IncRowError()
				continue
			}
			if errors.Is(err, io.EOF) {
				break
			}
			_ = pr.CloseWithError(err)
			return g.failFile(ctx, record, err)
		}

		outcome, err := g.upserter.ApplyRow(ctx, def, importID, record.FileKey, line, row)
		var rowErr *RowError
		switch {
		case err == nil:
		case errors.As(err, &rowErr):
			totals.rowErrs++
			delta.rowErrs++
			collector.IncRowError()
			continue
		default:
			_ = pr.CloseWithError(err)
			return g.failFile(ctx, record, err)
		}

		totals.processed++
		delta.processed++
		collector.IncRecordProcessed()
		switch outcome {
		case outcomeCreated:
			totals.created++
			delta.created++
			collector.IncRecordCreated()
		case outcomeUpdated, outcomeUndeleted:
			totals.updated++
			delta.updated++
			collector.IncRecordUpdated()
		case outcomeDeleted:
			totals.deleted++
			delta.deleted++
			collector.IncRecordDeleted()
		case outcomeMissingSkip:
			totals.skipped++
			delta.skipped++
		}

		sinceFlush++
		if sinceFlush >= progressRowInterval {
			est := estimateProgress(totals.processed, counted.Count(), record.SizeBytes, time.Since(decryptStart))
			if err := g.flushProgress(ctx, importID, record.FileKey, &delta, est); err != nil {
				return err
			}
			sinceFlush = 0
			if est != nil {
				logger.Debug("progress", map[string]any{
					"key": record.FileKey, "rows": totals.processed,
					"rows_per_minute": est.rowsPerMinute, "estimated_total_rows": est.totalRows,
					"eta_ms": est.remaining.Milliseconds(),
				})
			}
		}
	}
	est := estimateProgress(totals.processed, counted.Count(), record.SizeBytes, time.Since(decryptStart))
	if err := g.flushProgress(ctx, importID, record.FileKey, &delta, est); err != nil {
		return err
	}

	now := time.Now().UTC()
	duration := time.Since(decryptStart)
	plainSum := hex.EncodeToString(hasher.Sum(nil))
	if err := g.reporter.MutateFileReport(ctx, importID, record.FileKey, func(fr *types.FileRecord) {
		fr.Status = types.FileIngested
		fr.IngestedAt = &now
		fr.DecryptionDuration = duration
		fr.PlaintextMD5 = plainSum
		fr.RowsProcessed = totals.processed
		fr.RowErrors = totals.rowErrs
	}); err != nil {
		return err
	}
	if err := g.reporter.UpdatePhase(ctx, importID, types.PhaseIngestion, func(p *types.PhaseRecord) {
		p.FilesProcessed++
	}); err != nil {
		return err
	}
	collector.IncFileIngested()
	logger.Info("file ingested", map[string]any{
		"key": record.FileKey, "rows": totals.processed, "row_errors": totals.rowErrs,
	})
	return nil
}

// progressEstimate is the throughput view of one file in flight, derived
// from the ciphertext byte position. Approximate until the file ends.
type progressEstimate struct {
	rowsPerMinute int64
	totalRows     int64
	remaining     time.Duration
}

// estimateProgress extrapolates totals from how far into the ciphertext
// the decryptor is. Returns nil when nothing has been read yet.
func estimateProgress(rows, bytesRead, totalBytes int64, elapsed time.Duration) *progressEstimate {
	if bytesRead <= 0 || elapsed <= 0 {
		return nil
	}
	est := &progressEstimate{
		rowsPerMinute: int64(float64(rows) / elapsed.Minutes()),
	}
	if totalBytes >= bytesRead {
		frac := float64(bytesRead) / float64(totalBytes)
		est.totalRows = int64(float64(rows)/frac + 0.5)
		est.remaining = time.Duration(float64(elapsed) * (1 - frac) / frac)
	}
	return est
}

// flushProgress folds accumulated deltas into the shared phase record
// and resets them.
func (g *Ingestion) flushProgress(ctx context.Context, importID, fileKey string, delta *fileCounters, est *progressEstimate) error {
	if *delta == (fileCounters{}) && est == nil {
		return nil
	}
	d := *delta
	err := g.reporter.UpdatePhase(ctx, importID, types.PhaseIngestion, func(p *types.PhaseRecord) {
		p.RecordsProcessed += d.processed
		p.RecordsCreated += d.created
		p.RecordsUpdated += d.updated
		p.RecordsDeleted += d.deleted
		p.RowErrors += d.rowErrs
		p.CurrentFile = fileKey
		if est != nil {
			p.RowsPerMinute = est.rowsPerMinute
			p.EstimatedTotalRows = est.totalRows
			p.EstimatedTimeRemaining = est.remaining
		}
	})
	if err != nil {
		return err
	}
	*delta = fileCounters{}
	return nil
}

// failFile marks the file record Failed and bumps the failure counter.
// Failed files stay out of FilesProcessed so the per-file buckets
// partition FilesDiscovered.
func (g *Ingestion) failFile(ctx context.Context, record *types.FileRecord, cause error) error {
	_ = g.reporter.MutateFileReport(ctx, record.ImportID, record.FileKey, func(fr *types.FileRecord) {
		fr.Status = types.FileFailed
		fr.Error = cause.Error()
	})
	_ = g.reporter.UpdatePhase(ctx, record.ImportID, types.PhaseIngestion, func(p *types.PhaseRecord) {
		p.FilesFailed++
	})
	return cause
}
