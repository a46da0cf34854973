package cleanse

import (
	"context"
	"reflect"
	"time"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/docstore"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// IssueCommand is one rule hit to be recorded.
type IssueCommand struct {
	RecordID    string
	RuleID      string
	OperationID string
	Context     types.IssueContext
}

// IssueService records rule hits idempotently by fingerprint and
// retires issues no longer observed.
type IssueService struct {
	store *docstore.Store
}

// NewIssueService wires the issue store.
func NewIssueService(store *docstore.Store) *IssueService {
	return &IssueService{store: store}
}

// RecordIssue upserts the issue keyed by its stable fingerprint and
// appends a history snapshot. Re-recording the same observation in the
// same operation is a no-op beyond touching last-seen.
func (s *IssueService) RecordIssue(ctx context.Context, cmd IssueCommand) (types.IssueRecordResult, error) {
	fingerprint := types.IssueFingerprint(cmd.RecordID, cmd.RuleID)
	now := time.Now().UTC()

	var result types.IssueRecordResult
	err := s.store.Update(ctx, types.CollectionCleanseIssues, fingerprint, func(cur docstore.Document) (docstore.Document, error) {
		if cur == nil {
			result = types.IssueCreated
			return docstore.FromStruct(&types.Issue{
				Fingerprint:       fingerprint,
				RuleID:            cmd.RuleID,
				Context:           cmd.Context,
				CreatedAt:         now,
				LastUpdatedAt:     now,
				LastSeenOperation: cmd.OperationID,
				Active:            true,
			})
		}
		var issue types.Issue
		if err := docstore.ToStruct(cur, &issue); err != nil {
			return nil, err
		}
		switch {
		case !issue.Active:
			result = types.IssueReactivated
			issue.Active = true
			issue.Context = cmd.Context
			issue.LastUpdatedAt = now
		case !reflect.DeepEqual(issue.Context, cmd.Context):
			result = types.IssueUpdated
			issue.Context = cmd.Context
			issue.LastUpdatedAt = now
		default:
			result = types.IssueUnchanged
		}
		issue.LastSeenOperation = cmd.OperationID
		return docstore.FromStruct(&issue)
	})
	if err != nil {
		return "", err
	}

	// History is keyed on (fingerprint, operation): retries overwrite
	// the same row instead of duplicating it.
	history, err := docstore.FromStruct(&types.IssueHistory{
		Fingerprint: fingerprint,
		OperationID: cmd.OperationID,
		RuleID:      cmd.RuleID,
		Context:     cmd.Context,
		ObservedAt:  now,
	})
	if err != nil {
		return "", err
	}
	historyID := fingerprint + "|" + cmd.OperationID
	if err := s.store.Put(ctx, types.CollectionIssueHistory, historyID, history); err != nil {
		return "", err
	}
	return result, nil
}

// DeactivateStaleIssues retires every active issue the given operation
// did not observe, returning how many it retired. Called exactly once
// per operation after the full scan.
func (s *IssueService) DeactivateStaleIssues(ctx context.Context, operationID string) (int64, error) {
	res, err := s.store.Query(ctx, docstore.QueryParameters{
		Collection: types.CollectionCleanseIssues,
		Filter: docstore.And(
			docstore.Eq("active", true),
			docstore.Ne("last_seen_operation", operationID),
		),
		SelectFields: []string{"fingerprint"},
		Top:          docstore.UnboundedTop,
	})
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var count int64
	for _, doc := range res.Data {
		fingerprint := docStr(doc, "fingerprint")
		if fingerprint == "" {
			continue
		}
		err := s.store.Update(ctx, types.CollectionCleanseIssues, fingerprint, func(cur docstore.Document) (docstore.Document, error) {
			if cur == nil {
				return nil, nil
			}
			var issue types.Issue
			if err := docstore.ToStruct(cur, &issue); err != nil {
				return nil, err
			}
			if !issue.Active || issue.LastSeenOperation == operationID {
				// Raced with a concurrent observation; leave it.
				return nil, nil
			}
			issue.Active = false
			issue.LastUpdatedAt = now
			return docstore.FromStruct(&issue)
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ActiveIssues returns every active issue in insertion order.
func (s *IssueService) ActiveIssues(ctx context.Context) ([]*types.Issue, error) {
	res, err := s.store.Query(ctx, docstore.QueryParameters{
		Collection: types.CollectionCleanseIssues,
		Filter:     docstore.Eq("active", true),
		Top:        docstore.UnboundedTop,
	})
	if err != nil {
		return nil, err
	}
	issues := make([]*types.Issue, 0, len(res.Data))
	for _, doc := range res.Data {
		var issue types.Issue
		if err := docstore.ToStruct(doc, &issue); err != nil {
			return nil, err
		}
		issues = append(issues, &issue)
	}
	return issues, nil
}
