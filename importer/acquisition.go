package importer

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/blob"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/crypto"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/iox"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/log"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/metrics"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// probeBytes is how much leading ciphertext acquisition retains for the
// password probe: two cipher blocks.
const probeBytes = 32

// Acquisition copies encrypted drops from the external store into the
// internal store. Files stay encrypted; the phase fingerprints content,
// probes the filename-derived password, and records per-file progress.
// One bad file never stops the sweep.
type Acquisition struct {
	external  blob.Store
	internal  blob.Store
	registry  *Registry
	reporter  *Reporter
	salt      string
	forceCopy bool
	retry     blob.RetryPolicy
	logger    *log.Logger
}

// NewAcquisition wires the acquisition phase. retry bounds transient
// storage error retries on the non-streaming store calls.
func NewAcquisition(external, internal blob.Store, registry *Registry, reporter *Reporter, salt string, forceCopy bool, retry blob.RetryPolicy) *Acquisition {
	return &Acquisition{
		external:  external,
		internal:  internal,
		registry:  registry,
		reporter:  reporter,
		salt:      salt,
		forceCopy: forceCopy,
		retry:     retry,
		logger:    log.NewLogger("acquisition"),
	}
}

// Run sweeps the external store once for importID. Returns the final
// phase status; the error return carries only infrastructure failures
// that prevented the sweep itself.
func (a *Acquisition) Run(ctx context.Context, importID string) (types.PhaseStatus, error) {
	logger := log.ForImport("acquisition", importID)
	collector := metrics.NewCollector("acquisition", importID)

	if err := a.reporter.UpdatePhase(ctx, importID, types.PhaseAcquisition, func(p *types.PhaseRecord) {
		now := time.Now().UTC()
		p.Status = types.PhaseRunning
		p.StartedAt = &now
	}); err != nil {
		return types.PhaseFailed, err
	}

	keys, err := a.listAll(ctx)
	if err != nil {
		a.closePhase(ctx, importID, types.PhaseFailed, err.Error())
		return types.PhaseFailed, err
	}
	collector.AddFilesDiscovered(int64(len(keys)))
	if err := a.reporter.UpdatePhase(ctx, importID, types.PhaseAcquisition, func(p *types.PhaseRecord) {
		p.FilesDiscovered = int64(len(keys))
	}); err != nil {
		return types.PhaseFailed, err
	}
	logger.Info("sweep started", map[string]any{"files": len(keys)})

	var failed int64
	for _, info := range keys {
		if err := ctx.Err(); err != nil {
			a.closePhase(ctx, importID, types.PhaseFailed, "cancelled")
			return types.PhaseFailed, err
		}
		status, ferr := a.acquireOne(ctx, importID, info, logger)
		switch status {
		case types.FileSkipped:
			collector.IncFileSkipped()
		case types.FileFailed:
			collector.IncFileFailed()
			failed++
		default:
			collector.IncFileAcquired()
		}
		if ferr != nil {
			logger.Warn("file failed", map[string]any{"key": info.Key, "error": ferr.Error()})
		}
		// Each discovered file lands in exactly one bucket, so on
		// completion processed + failed + skipped == discovered.
		if err := a.reporter.UpdatePhase(ctx, importID, types.PhaseAcquisition, func(p *types.PhaseRecord) {
			p.CurrentFile = info.Key
			switch status {
			case types.FileSkipped:
				p.FilesSkipped++
			case types.FileFailed:
				p.FilesFailed++
			default:
				p.FilesProcessed++
			}
		}); err != nil {
			return types.PhaseFailed, err
		}
	}

	final := types.PhaseCompleted
	detail := ""
	if failed > 0 {
		final = types.PhaseFailed
		detail = fmt.Sprintf("%d file(s) failed", failed)
	}
	a.closePhase(ctx, importID, final, detail)
	logger.Info("sweep finished", map[string]any{
		"status": string(final), "metrics": collector.Snapshot(),
	})
	return final, nil
}

func (a *Acquisition) closePhase(ctx context.Context, importID string, status types.PhaseStatus, detail string) {
	if err := a.reporter.UpdatePhase(ctx, importID, types.PhaseAcquisition, func(p *types.PhaseRecord) {
		now := time.Now().UTC()
		p.Status = status
		p.CompletedAt = &now
		p.CurrentFile = ""
		p.Error = detail
	}); err != nil {
		a.logger.Error("record phase status", map[string]any{"import_id": importID, "error": err.Error()})
	}
}

// listAll enumerates the whole source prefix. Listing order is
// lexicographic, which is the processing order.
func (a *Acquisition) listAll(ctx context.Context) ([]blob.ObjectInfo, error) {
	var keys []blob.ObjectInfo
	token := ""
	for {
		var page *blob.ListPage
		err := a.retry.Do(ctx, func() error {
			var lerr error
			page, lerr = a.external.List(ctx, "", blob.MaxListPageSize, token)
			return lerr
		})
		if err != nil {
			return nil, fmt.Errorf("list external store: %w", err)
		}
		keys = append(keys, page.Items...)
		if !page.IsTruncated {
			return keys, nil
		}
		token = page.NextToken
	}
}

// acquireOne processes a single discovered object and records its
// FileRecord. The returned error is informational; the sweep continues.
func (a *Acquisition) acquireOne(ctx context.Context, importID string, info blob.ObjectInfo, logger *log.Logger) (types.FileProcessingStatus, error) {
	record := &types.FileRecord{
		ImportID:  importID,
		FileKey:   info.Key,
		SourceKey: info.Key,
		Status:    types.FileDiscovered,
		SizeBytes: info.Size,
	}

	def, _, matched := a.registry.Match(info.Key)
	if !matched {
		record.Status = types.FileSkipped
		record.Error = "no dataset matches file name"
		if err := a.reporter.UpsertFileReport(ctx, record); err != nil {
			return types.FileFailed, err
		}
		return types.FileSkipped, nil
	}
	record.DatasetName = def.Name

	// Skip the copy when the internal store already holds this content.
	// The external ETag is only trusted when it is a plain MD5.
	if !a.forceCopy {
		if skip, err := a.alreadyAcquired(ctx, info); err == nil && skip {
			now := time.Now().UTC()
			record.Status = types.FileSkipped
			record.CiphertextMD5 = cleanETag(info.ETag)
			record.AcquiredAt = &now
			if err := a.reporter.UpsertFileReport(ctx, record); err != nil {
				return types.FileFailed, err
			}
			logger.Debug("unchanged, skipped", map[string]any{"key": info.Key})
			return types.FileSkipped, nil
		}
	}

	record.Status = types.FileDiscovered
	if err := a.reporter.UpsertFileReport(ctx, record); err != nil {
		return types.FileFailed, err
	}

	sum, head, err := a.copyObject(ctx, importID, def.Name, info.Key)
	if err != nil {
		record.Status = types.FileFailed
		record.Error = err.Error()
		_ = a.reporter.UpsertFileReport(ctx, record)
		return types.FileFailed, err
	}
	record.CiphertextMD5 = sum

	// Probe the filename-derived password against the leading block.
	// Only a single-block file can be rejected here; larger files with
	// a bad password surface at ingestion.
	password := crypto.PasswordFromFilename(lastSegment(info.Key))
	probeStart := time.Now()
	if err := crypto.ProbeKey(bytes.NewReader(head), password, a.salt); err != nil {
		record.Status = types.FileFailed
		record.Error = fmt.Sprintf("password probe: %v", err)
		_ = a.reporter.UpsertFileReport(ctx, record)
		return types.FileFailed, err
	}
	record.DecryptionDuration = time.Since(probeStart)

	now := time.Now().UTC()
	record.Status = types.FileAcquired
	record.AcquiredAt = &now
	if err := a.reporter.UpsertFileReport(ctx, record); err != nil {
		return types.FileFailed, err
	}
	logger.Debug("acquired", map[string]any{"key": info.Key, "md5": sum, "bytes": info.Size})
	return types.FileAcquired, nil
}

// alreadyAcquired reports whether the internal copy's fingerprint
// matches the external object.
func (a *Acquisition) alreadyAcquired(ctx context.Context, info blob.ObjectInfo) (bool, error) {
	etag := cleanETag(info.ETag)
	if etag == "" || strings.Contains(etag, "-") {
		// Multipart ETags are not content MD5s; always copy.
		return false, nil
	}
	var meta *blob.ObjectMeta
	err := a.retry.Do(ctx, func() error {
		var herr error
		meta, herr = a.internal.Head(ctx, info.Key)
		return herr
	})
	if err != nil {
		return false, err
	}
	return meta.UserMetadata[types.MetaKeyMD5] == etag, nil
}

// copyObject streams the ciphertext external -> internal in one pass,
// hashing as it goes and retaining the first two blocks for the
// password probe. The final MD5 lands in the object's user metadata.
func (a *Acquisition) copyObject(ctx context.Context, importID, dataset, key string) (string, []byte, error) {
	// The open is retried; a failure mid-stream fails the file.
	var src io.ReadCloser
	err := a.retry.Do(ctx, func() error {
		var derr error
		src, derr = a.external.Download(ctx, key)
		return derr
	})
	if err != nil {
		return "", nil, fmt.Errorf("download: %w", err)
	}
	defer iox.DiscardClose(src)

	dst, err := a.internal.OpenWrite(ctx, key, "application/octet-stream", map[string]string{
		types.MetaKeyDataset:  dataset,
		types.MetaKeyImportID: importID,
	})
	if err != nil {
		return "", nil, fmt.Errorf("open target: %w", err)
	}

	hasher := md5.New()
	head := &headCapture{limit: probeBytes}
	if _, err := io.Copy(io.MultiWriter(hasher, head, dst), src); err != nil {
		_ = dst.Close()
		return "", nil, fmt.Errorf("copy: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", nil, fmt.Errorf("finish upload: %w", err)
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	err = a.retry.Do(ctx, func() error {
		return a.internal.SetMetadata(ctx, key, map[string]string{
			types.MetaKeyMD5:      sum,
			types.MetaKeyDataset:  dataset,
			types.MetaKeyImportID: importID,
		})
	})
	if err != nil {
		return "", nil, fmt.Errorf("stamp metadata: %w", err)
	}
	return sum, head.buf, nil
}

// headCapture retains the first limit bytes written through it.
type headCapture struct {
	limit int
	buf   []byte
}

func (h *headCapture) Write(p []byte) (int, error) {
	if len(h.buf) < h.limit {
		take := h.limit - len(h.buf)
		if take > len(p) {
			take = len(p)
		}
		h.buf = append(h.buf, p[:take]...)
	}
	return len(p), nil
}

func cleanETag(etag string) string {
	return strings.Trim(etag, `"`)
}

func lastSegment(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}
