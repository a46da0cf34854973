package docstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// Document is the schema-light in-memory wire form of a stored record.
type Document map[string]any

// SortField orders query results by one field.
type SortField struct {
	Field      string
	Descending bool
}

// UnboundedTop is a page size large enough to return every match.
// Callers that genuinely want the whole result set pass it as Top.
const UnboundedTop = 1 << 30

// QueryParameters describes one paged query.
type QueryParameters struct {
	Collection   string
	Filter       Filter
	Sort         []SortField
	SelectFields []string
	Skip         int
	Top          int
	// IncludeCount requests the total matching count alongside the page.
	// Top == 0 with IncludeCount is a count-only probe.
	IncludeCount bool
}

// Validate checks the paging range before any I/O.
func (p *QueryParameters) Validate() error {
	if p.Collection == "" {
		return &types.QueryError{Kind: types.QueryBadExpression, Detail: "collection must be non-empty"}
	}
	if p.Top < 0 {
		return &types.QueryError{Kind: types.QueryBadRange, Detail: fmt.Sprintf("top must be positive, got %d", p.Top)}
	}
	if p.Top == 0 && !p.IncludeCount {
		return &types.QueryError{Kind: types.QueryBadRange, Detail: "top 0 requires include-count (count-only probe)"}
	}
	if p.Skip < 0 {
		return &types.QueryError{Kind: types.QueryBadRange, Detail: fmt.Sprintf("skip must be non-negative, got %d", p.Skip)}
	}
	return nil
}

// QueryResult is one page of query output.
type QueryResult struct {
	Collection string
	Data       []Document
	Count      int
	// TotalCount is set when the query requested IncludeCount.
	TotalCount *int64
	Skip       int
	Top        int
	ExecutedAt time.Time
}

// Combine concatenates result pages: data in argument order, total
// counts summed when all are set, first collection preserved,
// ExecutedAt refreshed.
func Combine(results ...*QueryResult) *QueryResult {
	out := &QueryResult{ExecutedAt: time.Now().UTC()}
	if len(results) == 0 {
		return out
	}
	out.Collection = results[0].Collection
	out.Skip = results[0].Skip
	out.Top = results[0].Top

	var total int64
	allCounted := true
	for _, r := range results {
		out.Data = append(out.Data, r.Data...)
		if r.TotalCount == nil {
			allCounted = false
		} else {
			total += *r.TotalCount
		}
	}
	out.Count = len(out.Data)
	if allCounted {
		out.TotalCount = &total
	}
	return out
}

// selectFields projects a document onto the requested fields.
func selectFields(doc Document, fields []string) Document {
	if len(fields) == 0 {
		return doc
	}
	out := make(Document, len(fields))
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

// FromStruct converts a typed value to a Document via its JSON form.
func FromStruct(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ToStruct converts a Document back to a typed value via its JSON form.
func ToStruct(doc Document, out any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
