// Package metrics provides per-job metrics collection.
//
// The Collector accumulates counters during a single import or cleanse
// operation. It is a leaf package with no internal dependencies; its
// snapshots feed progress reporting, not an external exporter.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Safe to read concurrently after creation.
type Snapshot struct {
	// Acquisition
	FilesDiscovered int64
	FilesAcquired   int64
	FilesSkipped    int64
	FilesFailed     int64

	// Ingestion
	FilesIngested    int64
	RecordsProcessed int64
	RecordsCreated   int64
	RecordsUpdated   int64
	RecordsDeleted   int64
	RowErrors        int64

	// Cleanse
	RecordsAnalyzed int64
	IssuesFound     int64
	IssuesResolved  int64

	// Dimensions (informational, set at construction)
	JobKind string
	JobID   string
}

// Collector accumulates metrics during a single job.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	filesDiscovered int64
	filesAcquired   int64
	filesSkipped    int64
	filesFailed     int64

	filesIngested    int64
	recordsProcessed int64
	recordsCreated   int64
	recordsUpdated   int64
	recordsDeleted   int64
	rowErrors        int64

	recordsAnalyzed int64
	issuesFound     int64
	issuesResolved  int64

	jobKind string
	jobID   string
}

// NewCollector creates a Collector with dimension labels.
// jobKind is "import" or "cleanse"; jobID is the import or operation id.
func NewCollector(jobKind, jobID string) *Collector {
	return &Collector{jobKind: jobKind, jobID: jobID}
}

func (c *Collector) inc(field *int64, delta int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*field += delta
	c.mu.Unlock()
}

// AddFilesDiscovered records newly discovered files.
func (c *Collector) AddFilesDiscovered(n int64) {
	if c == nil {
		return
	}
	c.inc(&c.filesDiscovered, n)
}

// IncFileAcquired records a successfully acquired file.
func (c *Collector) IncFileAcquired() {
	if c == nil {
		return
	}
	c.inc(&c.filesAcquired, 1)
}

// IncFileSkipped records a file skipped by the hash-match fast path.
func (c *Collector) IncFileSkipped() {
	if c == nil {
		return
	}
	c.inc(&c.filesSkipped, 1)
}

// IncFileFailed records a per-file failure.
func (c *Collector) IncFileFailed() {
	if c == nil {
		return
	}
	c.inc(&c.filesFailed, 1)
}

// IncFileIngested records a fully ingested file.
func (c *Collector) IncFileIngested() {
	if c == nil {
		return
	}
	c.inc(&c.filesIngested, 1)
}

// IncRecordProcessed records one processed source row.
func (c *Collector) IncRecordProcessed() {
	if c == nil {
		return
	}
	c.inc(&c.recordsProcessed, 1)
}

// IncRecordCreated records an inserted document.
func (c *Collector) IncRecordCreated() {
	if c == nil {
		return
	}
	c.inc(&c.recordsCreated, 1)
}

// IncRecordUpdated records an updated document.
func (c *Collector) IncRecordUpdated() {
	if c == nil {
		return
	}
	c.inc(&c.recordsUpdated, 1)
}

// IncRecordDeleted records a logically deleted document.
func (c *Collector) IncRecordDeleted() {
	if c == nil {
		return
	}
	c.inc(&c.recordsDeleted, 1)
}

// IncRowError records a per-row parse or apply error.
func (c *Collector) IncRowError() {
	if c == nil {
		return
	}
	c.inc(&c.rowErrors, 1)
}

// IncRecordAnalyzed records one analyzed cleanse row.
func (c *Collector) IncRecordAnalyzed() {
	if c == nil {
		return
	}
	c.inc(&c.recordsAnalyzed, 1)
}

// IncIssueFound records a rule hit.
func (c *Collector) IncIssueFound() {
	if c == nil {
		return
	}
	c.inc(&c.issuesFound, 1)
}

// AddIssuesResolved records issues deactivated at operation end.
func (c *Collector) AddIssuesResolved(n int64) {
	if c == nil {
		return
	}
	c.inc(&c.issuesResolved, n)
}

// Snapshot returns an immutable view of all counters.
// Nil-receiver safe: returns a zero snapshot.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		FilesDiscovered:  c.filesDiscovered,
		FilesAcquired:    c.filesAcquired,
		FilesSkipped:     c.filesSkipped,
		FilesFailed:      c.filesFailed,
		FilesIngested:    c.filesIngested,
		RecordsProcessed: c.recordsProcessed,
		RecordsCreated:   c.recordsCreated,
		RecordsUpdated:   c.recordsUpdated,
		RecordsDeleted:   c.recordsDeleted,
		RowErrors:        c.rowErrors,
		RecordsAnalyzed:  c.recordsAnalyzed,
		IssuesFound:      c.issuesFound,
		IssuesResolved:   c.issuesResolved,
		JobKind:          c.jobKind,
		JobID:            c.jobID,
	}
}
