// Package filter compiles and evaluates the boolean expression grammar
// over channel fields, ported from the PEG grammar in m3u-filter's
// src/foundation/filter.rs.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xtreamrelay/xtreamrelay/internal/model"
	"github.com/xtreamrelay/xtreamrelay/internal/template"
)

// BinaryOp is "and" or "or".
type BinaryOp int

const (
	OpAnd BinaryOp = iota
	OpOr
)

// RegexWithCaptures pairs a compiled regex with the names of its captures,
// exposed to mapper rules through the match context.
type RegexWithCaptures struct {
	Source   string
	Regex    *regexp.Regexp
	Captures []string
}

// Expr is the filter AST.
type Expr interface{ isExpr() }

type FieldComparison struct {
	Field model.Field
	Re    RegexWithCaptures
}

type TypeComparison struct {
	Type model.ItemType
}

type Not struct{ Inner Expr }

type Binary struct {
	Left  Expr
	Op    BinaryOp
	Right Expr
}

type Group struct{ Inner Expr }

func (FieldComparison) isExpr() {}
func (TypeComparison) isExpr()  {}
func (Not) isExpr()             {}
func (Binary) isExpr()          {}
func (Group) isExpr()           {}

var typeLiterals = map[string]model.ItemType{
	"live":        model.ItemLive,
	"vod":         model.ItemVideo,
	"movie":       model.ItemVideo,
	"video":       model.ItemVideo,
	"series":      model.ItemSeries,
	"series-info": model.ItemSeriesInfo,
}

type parser struct {
	toks []token
	pos  int
}

// Compile parses and compiles a filter expression. templateValues should be
// the fully-expanded template map from internal/template.Resolver.Expand;
// `!name!` placeholders inside regex literals are substituted before the
// regex is compiled.
func Compile(src string, templateValues map[string]string) (Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokEOF {
		return nil, fmt.Errorf("filter: unexpected token %q at %d", p.cur().text, p.cur().pos)
	}
	return substituteTemplates(expr, templateValues)
}

func (p *parser) cur() token { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

// parseExpr implements `expr := not? term (op expr)*`.
func (p *parser) parseExpr() (Expr, error) {
	var negate bool
	if p.cur().kind == tokIdent && strings.EqualFold(p.cur().text, "not") {
		p.advance()
		negate = true
	}
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	if negate {
		left = Not{Inner: left}
	}
	for p.cur().kind == tokIdent && (strings.EqualFold(p.cur().text, "and") || strings.EqualFold(p.cur().text, "or")) {
		op := OpAnd
		if strings.EqualFold(p.cur().text, "or") {
			op = OpOr
		}
		p.advance()
		right, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		left = Binary{Left: left, Op: op, Right: right}
	}
	return left, nil
}

// parseTerm implements `term := comparison | "(" expr ")"`.
func (p *parser) parseTerm() (Expr, error) {
	if p.cur().kind == tokLParen {
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.cur().kind != tokRParen {
			return nil, fmt.Errorf("filter: expected ')' at %d", p.cur().pos)
		}
		p.advance()
		return Group{Inner: inner}, nil
	}
	return p.parseComparison()
}

// parseComparison implements `comparison := field "~" regex | "type" "=" type-literal`.
func (p *parser) parseComparison() (Expr, error) {
	if p.cur().kind != tokIdent {
		return nil, fmt.Errorf("filter: expected field at %d, got %q", p.cur().pos, p.cur().text)
	}
	name := p.advance().text
	if strings.EqualFold(name, "type") {
		if p.cur().kind != tokEquals {
			return nil, fmt.Errorf("filter: expected '=' after type at %d", p.cur().pos)
		}
		p.advance()
		if p.cur().kind != tokIdent {
			return nil, fmt.Errorf("filter: expected type literal at %d", p.cur().pos)
		}
		lit := strings.ToLower(p.advance().text)
		t, ok := typeLiterals[lit]
		if !ok {
			return nil, fmt.Errorf("filter: unknown type literal %q", lit)
		}
		return TypeComparison{Type: t}, nil
	}
	field, ok := model.ParseField(strings.ToLower(name))
	if !ok {
		return nil, fmt.Errorf("filter: unknown field %q", name)
	}
	if p.cur().kind != tokTilde {
		return nil, fmt.Errorf("filter: expected '~' after field %q at %d", name, p.cur().pos)
	}
	p.advance()
	if p.cur().kind != tokRegex {
		return nil, fmt.Errorf("filter: expected regex literal at %d", p.cur().pos)
	}
	restr := p.advance().text
	return FieldComparison{Field: field, Re: RegexWithCaptures{Source: restr}}, nil
}

// substituteTemplates walks the tree, expanding `!name!` placeholders
// inside each regex literal and compiling it.
func substituteTemplates(e Expr, templateValues map[string]string) (Expr, error) {
	switch x := e.(type) {
	case FieldComparison:
		resolved := expandTemplateRefs(x.Re.Source, templateValues)
		re, err := regexp.Compile(resolved)
		if err != nil {
			return nil, fmt.Errorf("filter: bad regex %q: %w", resolved, err)
		}
		x.Re.Regex = re
		x.Re.Captures = re.SubexpNames()[1:]
		return x, nil
	case TypeComparison:
		return x, nil
	case Not:
		inner, err := substituteTemplates(x.Inner, templateValues)
		if err != nil {
			return nil, err
		}
		return Not{Inner: inner}, nil
	case Group:
		inner, err := substituteTemplates(x.Inner, templateValues)
		if err != nil {
			return nil, err
		}
		return Group{Inner: inner}, nil
	case Binary:
		l, err := substituteTemplates(x.Left, templateValues)
		if err != nil {
			return nil, err
		}
		r, err := substituteTemplates(x.Right, templateValues)
		if err != nil {
			return nil, err
		}
		return Binary{Left: l, Op: x.Op, Right: r}, nil
	default:
		return nil, fmt.Errorf("filter: unknown expr node %T", e)
	}
}


func expandTemplateRefs(s string, values map[string]string) string {
	if values == nil {
		return s
	}
	return template.ExpandString(s, values)
}

// ValueProcessor receives every matched field/regex pair during evaluation
// so that mapper rules can read named captures.
type ValueProcessor interface {
	Process(field model.Field, value string, re RegexWithCaptures, match []string)
}

type noopProcessor struct{}

func (noopProcessor) Process(model.Field, string, RegexWithCaptures, []string) {}

// Eval evaluates the compiled expression tree against item, short-circuiting
// left to right. This is a pure function: repeated evaluation against the
// same item always yields the same result (testable property 3).
func Eval(e Expr, item *model.Item, proc ValueProcessor) bool {
	if proc == nil {
		proc = noopProcessor{}
	}
	switch x := e.(type) {
	case FieldComparison:
		value := item.Value(x.Field)
		match := x.Re.Regex.FindStringSubmatch(value)
		matched := match != nil
		if matched {
			proc.Process(x.Field, value, x.Re, match)
		}
		return matched
	case TypeComparison:
		// type=series also matches SeriesInfo, avoiding a common authoring
		// trap.
		if x.Type == model.ItemSeries {
			return item.ItemType == model.ItemSeries || item.ItemType == model.ItemSeriesInfo
		}
		return item.ItemType == x.Type
	case Not:
		return !Eval(x.Inner, item, proc)
	case Group:
		return Eval(x.Inner, item, proc)
	case Binary:
		left := Eval(x.Left, item, proc)
		if x.Op == OpAnd {
			if !left {
				return false
			}
			return Eval(x.Right, item, proc)
		}
		if left {
			return true
		}
		return Eval(x.Right, item, proc)
	default:
		return false
	}
}
