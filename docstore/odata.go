package docstore

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// ParseFilter translates an OData-style filter string into the filter
// algebra. The accepted grammar is a restricted subset:
//
//	expr     := and-expr ( 'or' and-expr )*
//	and-expr := unary ( 'and' unary )*
//	unary    := 'not' unary | '(' expr ')' | primary
//	primary  := func '(' field ',' string ')'
//	          | field op literal
//	          | field 'in' '(' literal ( ',' literal )* ')'
//	func     := 'contains' | 'startswith' | 'endswith'
//	op       := 'eq' | 'ne' | 'gt' | 'ge' | 'lt' | 'le'
//	literal  := string | number | 'true' | 'false' | 'null'
//
// Invalid input fails with a BadExpression query error before any I/O.
// An empty or whitespace-only string yields the Empty filter.
func ParseFilter(input string) (Filter, error) {
	if strings.TrimSpace(input) == "" {
		return Empty, nil
	}
	toks, err := lex(input)
	if err != nil {
		return Empty, err
	}
	p := &filterParser{tokens: toks, input: input}
	f, err := p.parseOr()
	if err != nil {
		return Empty, err
	}
	if !p.atEnd() {
		return Empty, badExpr(input, fmt.Sprintf("unexpected token %q", p.peek().text))
	}
	return f, nil
}

// ParseOrderBy translates "Field [asc|desc], Field2 ..." into sort fields.
func ParseOrderBy(input string) ([]SortField, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	var out []SortField
	for _, clause := range strings.Split(input, ",") {
		parts := strings.Fields(clause)
		if len(parts) == 0 || len(parts) > 2 {
			return nil, badExpr(input, fmt.Sprintf("invalid orderby clause %q", clause))
		}
		if !isIdentifier(parts[0]) {
			return nil, badExpr(input, fmt.Sprintf("invalid field name %q", parts[0]))
		}
		sf := SortField{Field: parts[0]}
		if len(parts) == 2 {
			switch parts[1] {
			case "asc":
			case "desc":
				sf.Descending = true
			default:
				return nil, badExpr(input, fmt.Sprintf("invalid sort direction %q", parts[1]))
			}
		}
		out = append(out, sf)
	}
	return out, nil
}

// ParseSelect translates a comma-separated field list.
func ParseSelect(input string) ([]string, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	var out []string
	for _, raw := range strings.Split(input, ",") {
		field := strings.TrimSpace(raw)
		if !isIdentifier(field) {
			return nil, badExpr(input, fmt.Sprintf("invalid field name %q", field))
		}
		out = append(out, field)
	}
	return out, nil
}

func badExpr(input, detail string) error {
	return &types.QueryError{Kind: types.QueryBadExpression, Detail: detail + " in " + strconv.Quote(input)}
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

// lex splits the input into tokens, rejecting anything outside the
// restricted lexical grammar.
func lex(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case c == '\'':
			// String literal; '' escapes a quote.
			var sb strings.Builder
			i++
			closed := false
			for i < len(input) {
				if input[i] == '\'' {
					if i+1 < len(input) && input[i+1] == '\'' {
						sb.WriteByte('\'')
						i += 2
						continue
					}
					closed = true
					i++
					break
				}
				sb.WriteByte(input[i])
				i++
			}
			if !closed {
				return nil, badExpr(input, "unterminated string literal")
			}
			toks = append(toks, token{tokString, sb.String()})
		case c == '-' || (c >= '0' && c <= '9'):
			start := i
			i++
			for i < len(input) && (input[i] == '.' || (input[i] >= '0' && input[i] <= '9')) {
				i++
			}
			text := input[start:i]
			if _, err := strconv.ParseFloat(text, 64); err != nil {
				return nil, badExpr(input, fmt.Sprintf("invalid number %q", text))
			}
			toks = append(toks, token{tokNumber, text})
		case c == '_' || unicode.IsLetter(rune(c)):
			start := i
			for i < len(input) {
				r := rune(input[i])
				if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
					i++
					continue
				}
				break
			}
			toks = append(toks, token{tokIdent, input[start:i]})
		default:
			return nil, badExpr(input, fmt.Sprintf("unexpected character %q", string(c)))
		}
	}
	return toks, nil
}

type filterParser struct {
	tokens []token
	pos    int
	input  string
}

func (p *filterParser) atEnd() bool { return p.pos >= len(p.tokens) }

func (p *filterParser) peek() token {
	if p.atEnd() {
		return token{}
	}
	return p.tokens[p.pos]
}

func (p *filterParser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *filterParser) expect(kind tokenKind, what string) (token, error) {
	if p.atEnd() || p.tokens[p.pos].kind != kind {
		return token{}, badExpr(p.input, "expected "+what)
	}
	return p.next(), nil
}

func (p *filterParser) parseOr() (Filter, error) {
	left, err := p.parseAnd()
	if err != nil {
		return Empty, err
	}
	children := []Filter{left}
	for !p.atEnd() && p.peek().kind == tokIdent && p.peek().text == "or" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return Empty, err
		}
		children = append(children, right)
	}
	return Or(children...), nil
}

func (p *filterParser) parseAnd() (Filter, error) {
	left, err := p.parseUnary()
	if err != nil {
		return Empty, err
	}
	children := []Filter{left}
	for !p.atEnd() && p.peek().kind == tokIdent && p.peek().text == "and" {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return Empty, err
		}
		children = append(children, right)
	}
	return And(children...), nil
}

func (p *filterParser) parseUnary() (Filter, error) {
	if p.peek().kind == tokIdent && p.peek().text == "not" {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return Empty, err
		}
		return Not(inner), nil
	}
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return Empty, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return Empty, err
		}
		return inner, nil
	}
	return p.parsePrimary()
}

var textFuncs = map[string]TextOp{
	"contains":   TextContains,
	"startswith": TextStartsWith,
	"endswith":   TextEndsWith,
}

var compareOps = map[string]CmpOp{
	"eq": CmpEq,
	"ne": CmpNe,
	"gt": CmpGt,
	"ge": CmpGte,
	"lt": CmpLt,
	"le": CmpLte,
}

func (p *filterParser) parsePrimary() (Filter, error) {
	ident, err := p.expect(tokIdent, "field name or function")
	if err != nil {
		return Empty, err
	}

	// Text function call: func(Field, 'value')
	if op, isFunc := textFuncs[ident.text]; isFunc && p.peek().kind == tokLParen {
		p.next()
		field, err := p.expect(tokIdent, "field name")
		if err != nil {
			return Empty, err
		}
		if _, err := p.expect(tokComma, "','"); err != nil {
			return Empty, err
		}
		lit, err := p.expect(tokString, "string literal")
		if err != nil {
			return Empty, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return Empty, err
		}
		return Text(op, field.text, lit.text, true), nil
	}

	opTok, err := p.expect(tokIdent, "comparison operator")
	if err != nil {
		return Empty, err
	}

	if opTok.text == "in" {
		if _, err := p.expect(tokLParen, "'('"); err != nil {
			return Empty, err
		}
		var values []any
		for {
			v, err := p.parseLiteral()
			if err != nil {
				return Empty, err
			}
			values = append(values, v)
			if p.peek().kind == tokComma {
				p.next()
				continue
			}
			break
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return Empty, err
		}
		return In(ident.text, values...), nil
	}

	op, ok := compareOps[opTok.text]
	if !ok {
		return Empty, badExpr(p.input, fmt.Sprintf("unknown operator %q", opTok.text))
	}

	// null comparisons map onto existence checks.
	if p.peek().kind == tokIdent && p.peek().text == "null" {
		p.next()
		switch op {
		case CmpEq:
			return NotExists(ident.text), nil
		case CmpNe:
			return Exists(ident.text), nil
		default:
			return Empty, badExpr(p.input, "null only supports eq/ne")
		}
	}

	value, err := p.parseLiteral()
	if err != nil {
		return Empty, err
	}
	return Compare(op, ident.text, value), nil
}

func (p *filterParser) parseLiteral() (any, error) {
	switch t := p.peek(); t.kind {
	case tokString:
		p.next()
		return t.text, nil
	case tokNumber:
		p.next()
		f, _ := strconv.ParseFloat(t.text, 64)
		return f, nil
	case tokIdent:
		switch t.text {
		case "true":
			p.next()
			return true, nil
		case "false":
			p.next()
			return false, nil
		}
	}
	return nil, badExpr(p.input, "expected literal")
}
