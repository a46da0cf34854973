// Package docstore provides the document store and the query/filter
// abstraction shared by the import pipelines and the cleanse engine.
//
// Documents are string-keyed maps. Queries are built from a closed-form
// filter algebra; an OData-style string surface translates onto it.
package docstore

// CmpOp is a comparison operator.
type CmpOp int

const (
	CmpEq CmpOp = iota
	CmpNe
	CmpGt
	CmpGte
	CmpLt
	CmpLte
)

// TextOp is a text match operator.
type TextOp int

const (
	TextContains TextOp = iota
	TextStartsWith
	TextEndsWith
)

type filterKind int

const (
	kindEmpty filterKind = iota
	kindCompare
	kindIn
	kindText
	kindRegex
	kindExists
	kindNotExists
	kindAnd
	kindOr
	kindNot
)

// Filter is a node in the query filter algebra. The zero value is the
// Empty filter: the identity element of And and Or.
type Filter struct {
	kind          filterKind
	field         string
	cmpOp         CmpOp
	textOp        TextOp
	value         any
	values        []any
	pattern       string
	caseSensitive bool
	children      []Filter
}

// Empty is the filter identity: And(x, Empty) == x.
var Empty = Filter{}

// IsEmpty reports whether f is the Empty filter.
func (f Filter) IsEmpty() bool { return f.kind == kindEmpty }

// Compare builds a comparison filter over (field, value).
func Compare(op CmpOp, field string, value any) Filter {
	return Filter{kind: kindCompare, cmpOp: op, field: field, value: value}
}

// Eq builds field == value.
func Eq(field string, value any) Filter { return Compare(CmpEq, field, value) }

// Ne builds field != value.
func Ne(field string, value any) Filter { return Compare(CmpNe, field, value) }

// Gt builds field > value.
func Gt(field string, value any) Filter { return Compare(CmpGt, field, value) }

// Gte builds field >= value.
func Gte(field string, value any) Filter { return Compare(CmpGte, field, value) }

// Lt builds field < value.
func Lt(field string, value any) Filter { return Compare(CmpLt, field, value) }

// Lte builds field <= value.
func Lte(field string, value any) Filter { return Compare(CmpLte, field, value) }

// In builds a set membership filter.
func In(field string, values ...any) Filter {
	return Filter{kind: kindIn, field: field, values: values}
}

// Text builds a text match filter with a case-sensitivity flag.
func Text(op TextOp, field, value string, caseSensitive bool) Filter {
	return Filter{kind: kindText, textOp: op, field: field, value: value, caseSensitive: caseSensitive}
}

// Contains builds a case-sensitive substring filter.
func Contains(field, value string) Filter { return Text(TextContains, field, value, true) }

// StartsWith builds a case-sensitive prefix filter.
func StartsWith(field, value string) Filter { return Text(TextStartsWith, field, value, true) }

// EndsWith builds a case-sensitive suffix filter.
func EndsWith(field, value string) Filter { return Text(TextEndsWith, field, value, true) }

// Regex builds a regular expression filter. The pattern is validated
// at evaluation; an invalid pattern matches nothing.
func Regex(field, pattern string, caseSensitive bool) Filter {
	return Filter{kind: kindRegex, field: field, pattern: pattern, caseSensitive: caseSensitive}
}

// Exists matches documents carrying the field with a non-nil value.
func Exists(field string) Filter { return Filter{kind: kindExists, field: field} }

// NotExists matches documents missing the field or carrying nil.
func NotExists(field string) Filter { return Filter{kind: kindNotExists, field: field} }

// And conjoins filters, collapsing Empty operands at construction.
// And() is Empty; And(x) is x.
func And(filters ...Filter) Filter { return combine(kindAnd, filters) }

// Or disjoins filters, collapsing Empty operands at construction.
func Or(filters ...Filter) Filter { return combine(kindOr, filters) }

func combine(kind filterKind, filters []Filter) Filter {
	kept := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f.IsEmpty() {
			continue
		}
		kept = append(kept, f)
	}
	switch len(kept) {
	case 0:
		return Empty
	case 1:
		return kept[0]
	}
	return Filter{kind: kind, children: kept}
}

// Not negates a filter. Not(Empty) is Empty.
func Not(f Filter) Filter {
	if f.IsEmpty() {
		return Empty
	}
	return Filter{kind: kindNot, children: []Filter{f}}
}
