package importer

import (
	"context"
	"errors"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/log"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// Orchestrator drives one import end to end: acquisition, then
// ingestion, then the terminal run status. Starting an id that already
// ran returns the prior outcome instead of re-running.
type Orchestrator struct {
	acquisition *Acquisition
	ingestion   *Ingestion
	reporter    *Reporter
	logger      *log.Logger
}

// NewOrchestrator wires the import driver.
func NewOrchestrator(acquisition *Acquisition, ingestion *Ingestion, reporter *Reporter) *Orchestrator {
	return &Orchestrator{
		acquisition: acquisition,
		ingestion:   ingestion,
		reporter:    reporter,
		logger:      log.NewLogger("orchestrator"),
	}
}

// Start runs the import identified by importID. Idempotent on the id:
// a terminal run is returned as-is, and a run already in flight is
// returned without starting a second one.
func (o *Orchestrator) Start(ctx context.Context, importID string, source types.SourceType) (*types.ImportRun, error) {
	if importID == "" {
		return nil, &types.ConfigError{Detail: "import id must be non-empty"}
	}

	existing, err := o.reporter.GetImportReport(ctx, importID)
	switch {
	case err == nil:
		o.logger.Info("import already known", map[string]any{
			"import_id": importID, "status": string(existing.Status),
		})
		return existing, nil
	case errors.Is(err, types.ErrNotFound):
	default:
		return nil, err
	}

	if _, err := o.reporter.CreateImport(ctx, importID, source); err != nil {
		if errors.Is(err, types.ErrConflict) {
			// Lost the creation race; the winner runs it.
			return o.reporter.GetImportReport(ctx, importID)
		}
		return nil, err
	}
	logger := log.ForImport("orchestrator", importID)
	logger.Info("import started", map[string]any{"source": string(source)})

	acqStatus, acqErr := o.acquisition.Run(ctx, importID)
	if acqErr != nil && ctx.Err() != nil {
		return o.finish(context.WithoutCancel(ctx), importID, types.ImportCancelled, "cancelled")
	}

	// Ingestion runs even when acquisition failed some files: whatever
	// was acquired still gets applied.
	ingStatus, ingErr := o.ingestion.Run(ctx, importID)
	if ingErr != nil && ctx.Err() != nil {
		return o.finish(context.WithoutCancel(ctx), importID, types.ImportCancelled, "cancelled")
	}

	status := types.ImportCompleted
	detail := ""
	if acqStatus != types.PhaseCompleted || ingStatus != types.PhaseCompleted {
		status = types.ImportFailed
		detail = "one or more phases failed"
	}
	if acqErr != nil {
		detail = acqErr.Error()
	} else if ingErr != nil {
		detail = ingErr.Error()
	}
	run, err := o.finish(ctx, importID, status, detail)
	if err != nil {
		return nil, err
	}
	logger.Info("import finished", map[string]any{"status": string(status)})
	return run, nil
}

func (o *Orchestrator) finish(ctx context.Context, importID string, status types.ImportStatus, detail string) (*types.ImportRun, error) {
	if err := o.reporter.FinishImport(ctx, importID, status, detail); err != nil {
		return nil, err
	}
	return o.reporter.GetImportReport(ctx, importID)
}
