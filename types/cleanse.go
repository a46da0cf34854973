package types

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// OperationStatus is the state machine of a cleanse analysis operation.
type OperationStatus string

const (
	OperationNotStarted OperationStatus = "NotStarted"
	OperationRunning    OperationStatus = "Running"
	OperationCompleted  OperationStatus = "Completed"
	OperationFailed     OperationStatus = "Failed"
	OperationCancelled  OperationStatus = "Cancelled"
)

// CleanseOperation is one invocation of the cleanse analysis.
// At most one is Running per cluster; the distributed lock enforces it.
type CleanseOperation struct {
	OperationID     string          `json:"operation_id"`
	Status          OperationStatus `json:"status"`
	ProgressPercent int             `json:"progress_percent"`
	StatusText      string          `json:"status_text,omitempty"`
	RecordsAnalyzed int64           `json:"records_analyzed"`
	TotalRecords    int64           `json:"total_records"`
	IssuesFound     int64           `json:"issues_found"`
	IssuesResolved  int64           `json:"issues_resolved"`
	DurationMs      int64           `json:"duration_ms"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	ReportObjectKey string          `json:"report_object_key,omitempty"`
	ReportURL       string          `json:"report_url,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// IssueRecordResult classifies the effect of recording an issue.
type IssueRecordResult string

const (
	IssueCreated     IssueRecordResult = "Created"
	IssueReactivated IssueRecordResult = "Reactivated"
	IssueUpdated     IssueRecordResult = "Updated"
	IssueUnchanged   IssueRecordResult = "Unchanged"
	IssueResolved    IssueRecordResult = "Resolved"
)

// IssueContext is the rule-hit payload snapshotted on issues and history.
type IssueContext struct {
	Cph               string   `json:"cph"`
	LidFullIdentifier string   `json:"lid_full_identifier,omitempty"`
	CtsEmails         []string `json:"cts_emails,omitempty"`
	SamEmails         []string `json:"sam_emails,omitempty"`
	CtsPhones         []string `json:"cts_phones,omitempty"`
	SamPhones         []string `json:"sam_phones,omitempty"`
	MissingValues     []string `json:"missing_values,omitempty"`
	FeatureName       string   `json:"feature_name,omitempty"`
	AdrName           string   `json:"adr_name,omitempty"`
	SpeciesCode       string   `json:"species_code,omitempty"`
}

// Issue is a detected data-quality problem, keyed by fingerprint.
type Issue struct {
	Fingerprint       string       `json:"fingerprint"`
	RuleID            string       `json:"rule_id"`
	Context           IssueContext `json:"context"`
	CreatedAt         time.Time    `json:"created_at"`
	LastUpdatedAt     time.Time    `json:"last_updated_at"`
	LastSeenOperation string       `json:"last_seen_operation"`
	Active            bool         `json:"active"`
	Ignored           bool         `json:"ignored"`
}

// IssueHistory is an append-only observation snapshot.
type IssueHistory struct {
	Fingerprint string       `json:"fingerprint"`
	OperationID string       `json:"operation_id"`
	RuleID      string       `json:"rule_id"`
	Context     IssueContext `json:"context"`
	ObservedAt  time.Time    `json:"observed_at"`
}

// IssueFingerprint derives the stable issue key from the primary record
// id and the rule id. Stable across runs by construction.
func IssueFingerprint(recordID, ruleID string) string {
	sum := sha256.Sum256([]byte(recordID + ":" + ruleID))
	return hex.EncodeToString(sum[:])
}
