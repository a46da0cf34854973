package types

import "time"

// ImportStatus is the terminal-state machine of an import run.
type ImportStatus string

const (
	ImportStarted   ImportStatus = "Started"
	ImportCompleted ImportStatus = "Completed"
	ImportFailed    ImportStatus = "Failed"
	ImportCancelled ImportStatus = "Cancelled"
)

// PhaseStatus is the forward-only state of one import phase.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "Pending"
	PhaseRunning   PhaseStatus = "Running"
	PhaseCompleted PhaseStatus = "Completed"
	PhaseFailed    PhaseStatus = "Failed"
)

// PhaseKind names the two phases of an import.
type PhaseKind string

const (
	PhaseAcquisition PhaseKind = "Acquisition"
	PhaseIngestion   PhaseKind = "Ingestion"
)

// FileProcessingStatus tracks a discovered file through both phases.
type FileProcessingStatus string

const (
	FileDiscovered FileProcessingStatus = "Discovered"
	FileAcquired   FileProcessingStatus = "Acquired"
	FileIngested   FileProcessingStatus = "Ingested"
	FileSkipped    FileProcessingStatus = "Skipped"
	FileFailed     FileProcessingStatus = "Failed"
)

// SourceType identifies where an import's files originate.
type SourceType string

const (
	SourceExternal SourceType = "external"
	SourceInternal SourceType = "internal"
)

// PhaseRecord carries progress counters for one phase of one import.
// Counters are monotonically non-decreasing within a run.
type PhaseRecord struct {
	Status          PhaseStatus `json:"status"`
	FilesDiscovered int64       `json:"files_discovered"`
	FilesProcessed  int64       `json:"files_processed"`
	FilesFailed     int64       `json:"files_failed"`
	FilesSkipped    int64       `json:"files_skipped"`

	// Ingestion-only record counters.
	RecordsProcessed int64 `json:"records_processed,omitempty"`
	RecordsCreated   int64 `json:"records_created,omitempty"`
	RecordsUpdated   int64 `json:"records_updated,omitempty"`
	RecordsDeleted   int64 `json:"records_deleted,omitempty"`
	RowErrors        int64 `json:"row_errors,omitempty"`

	// Throughput estimates for the file in flight, extrapolated from
	// the ciphertext byte position. Approximate until the file ends.
	RowsPerMinute          int64         `json:"rows_per_minute,omitempty"`
	EstimatedTotalRows     int64         `json:"estimated_total_rows,omitempty"`
	EstimatedTimeRemaining time.Duration `json:"estimated_time_remaining_ns,omitempty"`

	// CurrentFile is the most recently started file, if any.
	CurrentFile string `json:"current_file,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ImportRun is the top-level import document.
type ImportRun struct {
	ImportID    string       `json:"import_id"`
	SourceType  SourceType   `json:"source_type"`
	Status      ImportStatus `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Acquisition PhaseRecord  `json:"acquisition"`
	Ingestion   PhaseRecord  `json:"ingestion"`
	Error       string       `json:"error,omitempty"`
}

// Terminal reports whether the run has reached a final status.
func (r *ImportRun) Terminal() bool {
	switch r.Status {
	case ImportCompleted, ImportFailed, ImportCancelled:
		return true
	}
	return false
}

// FileRecord tracks one discovered file through acquisition and ingestion.
type FileRecord struct {
	ImportID    string               `json:"import_id"`
	FileKey     string               `json:"file_key"`
	DatasetName string               `json:"dataset_name"`
	SourceKey   string               `json:"source_key"`
	Status      FileProcessingStatus `json:"status"`

	// CiphertextMD5 and PlaintextMD5 fingerprint the file content.
	CiphertextMD5 string `json:"ciphertext_md5,omitempty"`
	PlaintextMD5  string `json:"plaintext_md5,omitempty"`
	SizeBytes     int64  `json:"size_bytes,omitempty"`

	AcquiredAt         *time.Time    `json:"acquired_at,omitempty"`
	IngestedAt         *time.Time    `json:"ingested_at,omitempty"`
	DecryptionDuration time.Duration `json:"decryption_duration_ns,omitempty"`

	RowsProcessed int64 `json:"rows_processed,omitempty"`
	RowErrors     int64 `json:"row_errors,omitempty"`

	Error string `json:"error,omitempty"`
}

// FileRecordID is the document id for a file record within an import.
func FileRecordID(importID, fileKey string) string {
	return importID + "|" + fileKey
}
