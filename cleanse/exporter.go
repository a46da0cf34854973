package cleanse

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/blob"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/log"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// reportHeader is the fixed column order of the exported CSV.
var reportHeader = []string{
	"CPH",
	"CTS LID Full Identifier",
	"Issue Code",
	"Rule Code",
	"Error Code",
	"Error Description",
	"Email (CTS)",
	"Email (SAM)",
	"Tel (CTS)",
	"Tel (SAM)",
	"FSA",
	"First Detected (UTC)",
	"Last Updated (UTC)",
	"Active",
	"Ignored",
	"Resolution Status",
	"Assigned To",
}

// reportValueSeparator joins multi-valued cells in the report.
const reportValueSeparator = "; "

// Exporter serializes the active issue set into a zipped CSV in the
// internal store and presigns a download URL.
type Exporter struct {
	issues        *IssueService
	store         blob.Store
	reportsPrefix string
	presignTTL    time.Duration
	retry         blob.RetryPolicy
	logger        *log.Logger
}

// NewExporter wires the report exporter. presignTTL <= 0 falls back to
// the store default (7 days); retry bounds transient storage retries on
// the upload and presign calls.
func NewExporter(issues *IssueService, store blob.Store, reportsPrefix string, presignTTL time.Duration, retry blob.RetryPolicy) *Exporter {
	if reportsPrefix == "" {
		reportsPrefix = "reports"
	}
	return &Exporter{
		issues:        issues,
		store:         store,
		reportsPrefix: blob.NormalizePrefix(reportsPrefix),
		presignTTL:    presignTTL,
		retry:         retry,
		logger:        log.NewLogger("report-exporter"),
	}
}

// ReportKey is the object key for one operation's report, partitioned
// by export date.
func (x *Exporter) ReportKey(operationID string, at time.Time) string {
	return fmt.Sprintf("%s/%s/cleanse-report-%s.zip",
		x.reportsPrefix, at.UTC().Format("2006/01/02"), operationID)
}

// Export writes the report for operationID and returns its object key
// and presigned URL.
func (x *Exporter) Export(ctx context.Context, operationID string) (string, string, error) {
	issues, err := x.issues.ActiveIssues(ctx)
	if err != nil {
		return "", "", fmt.Errorf("collect active issues: %w", err)
	}

	payload, err := buildReportZip(operationID, issues)
	if err != nil {
		return "", "", err
	}

	key := x.ReportKey(operationID, time.Now())
	err = x.retry.Do(ctx, func() error {
		return x.store.Upload(ctx, key, bytes.NewReader(payload), "application/zip", nil)
	})
	if err != nil {
		return "", "", fmt.Errorf("upload report: %w", err)
	}
	var url string
	err = x.retry.Do(ctx, func() error {
		var perr error
		url, perr = x.store.PresignGet(ctx, key, x.presignTTL)
		return perr
	})
	if err != nil {
		return "", "", fmt.Errorf("presign report: %w", err)
	}

	x.logger.Info("report exported", map[string]any{
		"operation_id": operationID, "key": key, "issues": len(issues),
	})
	return key, url, nil
}

// buildReportZip renders the issues as a single-entry zip archive.
func buildReportZip(operationID string, issues []*types.Issue) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entry, err := zw.Create(fmt.Sprintf("cleanse-report-%s.csv", operationID))
	if err != nil {
		return nil, fmt.Errorf("create archive entry: %w", err)
	}

	cw := csv.NewWriter(entry)
	if err := cw.Write(reportHeader); err != nil {
		return nil, fmt.Errorf("write report header: %w", err)
	}
	for _, issue := range issues {
		if err := cw.Write(reportRow(issue)); err != nil {
			return nil, fmt.Errorf("write report row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("flush report: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}

func reportRow(issue *types.Issue) []string {
	rule, _ := RuleByID(issue.RuleID)
	c := issue.Context
	return []string{
		c.Cph,
		c.LidFullIdentifier,
		issue.Fingerprint,
		issue.RuleID,
		rule.ErrorCode,
		rule.Description,
		strings.Join(c.CtsEmails, reportValueSeparator),
		strings.Join(c.SamEmails, reportValueSeparator),
		strings.Join(c.CtsPhones, reportValueSeparator),
		strings.Join(c.SamPhones, reportValueSeparator),
		c.FeatureName,
		issue.CreatedAt.UTC().Format(time.RFC3339),
		issue.LastUpdatedAt.UTC().Format(time.RFC3339),
		strconv.FormatBool(issue.Active),
		strconv.FormatBool(issue.Ignored),
		"",
		"",
	}
}
