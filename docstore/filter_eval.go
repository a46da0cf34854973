package docstore

import (
	"fmt"
	"regexp"
	"strings"
)

// Matches evaluates the filter against a document. Empty matches
// everything. Missing fields never satisfy comparison, text or regex
// nodes; only NotExists (and negations) match them.
func (f Filter) Matches(doc Document) bool {
	switch f.kind {
	case kindEmpty:
		return true
	case kindCompare:
		v, ok := doc[f.field]
		if !ok || v == nil {
			// != against a missing field holds vacuously.
			return f.cmpOp == CmpNe && f.value != nil
		}
		cmp, comparable := compareValues(v, f.value)
		if !comparable {
			return f.cmpOp == CmpNe
		}
		switch f.cmpOp {
		case CmpEq:
			return cmp == 0
		case CmpNe:
			return cmp != 0
		case CmpGt:
			return cmp > 0
		case CmpGte:
			return cmp >= 0
		case CmpLt:
			return cmp < 0
		case CmpLte:
			return cmp <= 0
		}
		return false
	case kindIn:
		v, ok := doc[f.field]
		if !ok || v == nil {
			return false
		}
		for _, candidate := range f.values {
			if cmp, comparable := compareValues(v, candidate); comparable && cmp == 0 {
				return true
			}
		}
		return false
	case kindText:
		s, ok := stringValue(doc[f.field])
		if !ok {
			return false
		}
		needle, _ := stringValue(f.value)
		if !f.caseSensitive {
			s = strings.ToLower(s)
			needle = strings.ToLower(needle)
		}
		switch f.textOp {
		case TextContains:
			return strings.Contains(s, needle)
		case TextStartsWith:
			return strings.HasPrefix(s, needle)
		case TextEndsWith:
			return strings.HasSuffix(s, needle)
		}
		return false
	case kindRegex:
		s, ok := stringValue(doc[f.field])
		if !ok {
			return false
		}
		pattern := f.pattern
		if !f.caseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	case kindExists:
		v, ok := doc[f.field]
		return ok && v != nil
	case kindNotExists:
		v, ok := doc[f.field]
		return !ok || v == nil
	case kindAnd:
		for _, child := range f.children {
			if !child.Matches(doc) {
				return false
			}
		}
		return true
	case kindOr:
		for _, child := range f.children {
			if child.Matches(doc) {
				return true
			}
		}
		return false
	case kindNot:
		return !f.children[0].Matches(doc)
	}
	return false
}

// stringValue coerces a document value to a string for text matching.
func stringValue(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case nil:
		return "", false
	default:
		return "", false
	}
}

// compareValues orders two values when they share a comparable domain.
// Numbers compare numerically (JSON decoding produces float64), bools
// by false < true, strings lexicographically.
func compareValues(a, b any) (int, bool) {
	if fa, ok := numericValue(a); ok {
		if fb, ok := numericValue(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// String renders the filter for diagnostics.
func (f Filter) String() string {
	switch f.kind {
	case kindEmpty:
		return "empty"
	case kindCompare:
		ops := [...]string{"==", "!=", ">", ">=", "<", "<="}
		return fmt.Sprintf("%s %s %v", f.field, ops[f.cmpOp], f.value)
	case kindIn:
		return fmt.Sprintf("%s in %v", f.field, f.values)
	case kindText:
		ops := [...]string{"contains", "startswith", "endswith"}
		return fmt.Sprintf("%s(%s, %v)", ops[f.textOp], f.field, f.value)
	case kindRegex:
		return fmt.Sprintf("regex(%s, %s)", f.field, f.pattern)
	case kindExists:
		return fmt.Sprintf("exists(%s)", f.field)
	case kindNotExists:
		return fmt.Sprintf("notexists(%s)", f.field)
	case kindAnd, kindOr:
		names := [...]string{kindAnd: "and", kindOr: "or"}
		parts := make([]string, len(f.children))
		for i, c := range f.children {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, " "+names[f.kind]+" ") + ")"
	case kindNot:
		return "not " + f.children[0].String()
	}
	return "unknown"
}
