package importer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/docstore"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/lineage"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// Change type letters carried in the source change column.
const (
	changeInsert  = "I"
	changeUpdate  = "U"
	changeDelete  = "D"
	changeRestore = "R"
)

// applyOutcome classifies what one row did to its record.
type applyOutcome int

const (
	outcomeCreated applyOutcome = iota
	outcomeUpdated
	outcomeDeleted
	outcomeUndeleted
	// outcomeUnchanged: the row matched the stored state; no write, no event.
	outcomeUnchanged
	// outcomeMissingSkip: a delete for a record that was never stored.
	outcomeMissingSkip
)

// Upserter applies parsed rows to a dataset collection and emits one
// lineage event per actual mutation. Replaying the same file is a
// no-op: unchanged rows write nothing and emit nothing.
type Upserter struct {
	store   *docstore.Store
	lineage *lineage.Writer
}

// NewUpserter wires the row applier.
func NewUpserter(store *docstore.Store, lw *lineage.Writer) *Upserter {
	return &Upserter{store: store, lineage: lw}
}

// ApplyRow upserts one source row into the dataset's collection.
// A *RowError return means the row is defective and the file continues.
func (u *Upserter) ApplyRow(ctx context.Context, def *types.DataSetDefinition, importID, fileKey string, line int, row map[string]string) (applyOutcome, error) {
	recordID, err := def.RecordID(row)
	if err != nil {
		return outcomeUnchanged, &RowError{Line: line, Detail: err.Error()}
	}

	change := strings.ToUpper(strings.TrimSpace(row[def.ChangeTypeColumn]))
	switch change {
	case changeInsert, changeUpdate, changeDelete, changeRestore:
	default:
		return outcomeUnchanged, &RowError{Line: line, Detail: fmt.Sprintf("unknown change type %q", row[def.ChangeTypeColumn])}
	}

	values := make(map[string]string, len(def.AccumulatorColumns))
	for _, col := range def.AccumulatorColumns {
		values[col] = row[col]
	}

	var (
		outcome applyOutcome
		prev    map[string]string
		next    map[string]string
		rowErr  *RowError
	)
	err = u.store.Update(ctx, def.Name, recordID, func(cur docstore.Document) (docstore.Document, error) {
		outcome, prev, next, rowErr = outcomeUnchanged, nil, nil, nil
		now := time.Now().UTC().Format(time.RFC3339Nano)

		if cur == nil {
			switch change {
			case changeInsert:
				doc := docstore.Document{}
				for col, v := range values {
					doc[col] = v
				}
				doc[types.FieldIsDeleted] = false
				doc[types.FieldCreatedAtUtc] = now
				doc[types.FieldUpdatedAtUtc] = now
				doc[types.FieldBatchID] = importID
				outcome = outcomeCreated
				next = copyValues(values)
				return doc, nil
			case changeDelete:
				// Deleting what was never stored is a counted no-op.
				outcome = outcomeMissingSkip
				return nil, nil
			default:
				rowErr = &RowError{Line: line, Detail: fmt.Sprintf("change %q for unknown record %q", change, recordID)}
				return nil, nil
			}
		}

		deleted := docBool(cur, types.FieldIsDeleted)
		switch change {
		case changeDelete:
			if deleted {
				outcome = outcomeUnchanged
				return nil, nil
			}
			cur[types.FieldIsDeleted] = true
			cur[types.FieldUpdatedAtUtc] = now
			cur[types.FieldBatchID] = importID
			outcome = outcomeDeleted
			prev = map[string]string{types.FieldIsDeleted: "false"}
			next = map[string]string{types.FieldIsDeleted: "true"}
			return cur, nil

		case changeRestore:
			if !deleted {
				outcome = outcomeUnchanged
				return nil, nil
			}
			cur[types.FieldIsDeleted] = false
			cur[types.FieldUpdatedAtUtc] = now
			cur[types.FieldBatchID] = importID
			outcome = outcomeUndeleted
			prev = map[string]string{types.FieldIsDeleted: "true"}
			next = map[string]string{types.FieldIsDeleted: "false"}
			return cur, nil
		}

		// I on an existing live record applies as an update; I on a
		// logically deleted record also restores it.
		changedPrev := make(map[string]string)
		changedNext := make(map[string]string)
		for col, v := range values {
			old := docString(cur, col)
			if old != v {
				changedPrev[col] = old
				changedNext[col] = v
				cur[col] = v
			}
		}
		restore := change == changeInsert && deleted
		if restore {
			changedPrev[types.FieldIsDeleted] = "true"
			changedNext[types.FieldIsDeleted] = "false"
			cur[types.FieldIsDeleted] = false
		}
		if len(changedNext) == 0 {
			outcome = outcomeUnchanged
			return nil, nil
		}
		cur[types.FieldUpdatedAtUtc] = now
		cur[types.FieldBatchID] = importID
		if restore {
			outcome = outcomeUndeleted
		} else {
			outcome = outcomeUpdated
		}
		prev, next = changedPrev, changedNext
		return cur, nil
	})
	if err != nil {
		return outcomeUnchanged, err
	}
	if rowErr != nil {
		return outcomeUnchanged, rowErr
	}

	if eventType, mutated := eventFor(outcome); mutated {
		_, err := u.lineage.Append(ctx, &types.LineageEvent{
			RecordID:       recordID,
			Collection:     def.Name,
			EventType:      eventType,
			ImportID:       importID,
			FileKey:        fileKey,
			ChangeType:     change,
			PreviousValues: prev,
			NewValues:      next,
			EventDate:      time.Now().UTC(),
		})
		if err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

func eventFor(o applyOutcome) (types.LineageEventType, bool) {
	switch o {
	case outcomeCreated:
		return types.LineageCreated, true
	case outcomeUpdated:
		return types.LineageUpdated, true
	case outcomeDeleted:
		return types.LineageDeleted, true
	case outcomeUndeleted:
		return types.LineageUndeleted, true
	}
	return "", false
}

func copyValues(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func docBool(doc docstore.Document, field string) bool {
	b, _ := doc[field].(bool)
	return b
}

func docString(doc docstore.Document, field string) string {
	s, _ := doc[field].(string)
	return s
}
