// Package extract implements the small path/predicate language used to
// pull values out of step responses. Expressions are parsed into a typed
// node list and evaluated against the decoded JSON value tree; a missing
// path is "not found", never an error.
//
// Grammar:
//
//	expr    = segment ("." segment)*
//	segment = identifier | "[" identifier "=" literal "]"
//
// The predicate form selects the first array element whose named field
// equals the literal.
package extract

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSyntax indicates the expression could not be parsed.
var ErrSyntax = errors.New("extraction expression syntax error")

// BearerPrefix is prepended to harvested credentials that lack it.
const BearerPrefix = "Bearer "

type nodeKind int

const (
	nodeField nodeKind = iota
	nodeSelect
)

type node struct {
	kind  nodeKind
	field string // nodeField: object key
	key   string // nodeSelect: predicate field
	value string // nodeSelect: predicate literal
}

// Path is a parsed extraction expression.
type Path struct {
	raw   string
	nodes []node
}

// Parse compiles an expression into a Path.
func Parse(expr string) (*Path, error) {
	p := &parser{input: expr}
	nodes, err := p.parse()
	if err != nil {
		return nil, err
	}
	return &Path{raw: expr, nodes: nodes}, nil
}

// String returns the original expression text.
func (p *Path) String() string { return p.raw }

// Eval walks the value tree. The second return is false when any segment
// is missing or the current value is not a composite.
func (p *Path) Eval(v any) (any, bool) {
	cur := v
	for _, n := range p.nodes {
		switch n.kind {
		case nodeField:
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			cur, ok = obj[n.field]
			if !ok {
				return nil, false
			}
		case nodeSelect:
			arr, ok := cur.([]any)
			if !ok {
				return nil, false
			}
			found := false
			for _, elem := range arr {
				obj, ok := elem.(map[string]any)
				if !ok {
					continue
				}
				if fv, ok := obj[n.key]; ok && literalEqual(fv, n.value) {
					cur = elem
					found = true
					break
				}
			}
			if !found {
				return nil, false
			}
		}
	}
	return cur, true
}

// Value is a convenience wrapper: parse and evaluate in one call.
// Parse errors count as "not found".
func Value(v any, expr string) (any, bool) {
	p, err := Parse(expr)
	if err != nil {
		return nil, false
	}
	return p.Eval(v)
}

// BearerToken resolves a path to a textual leaf and normalizes it into a
// bearer credential. Returns false when the path is missing or the leaf is
// not a string.
func BearerToken(v any, expr string) (string, bool) {
	leaf, ok := Value(v, expr)
	if !ok {
		return "", false
	}
	s, ok := leaf.(string)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(s, BearerPrefix) {
		return s, true
	}
	return BearerPrefix + s, true
}

// literalEqual compares a JSON value against a predicate literal.
// JSON numbers decode as float64, so comparison goes through the printed
// form to keep "[id=1]" working.
func literalEqual(v any, literal string) bool {
	switch t := v.(type) {
	case string:
		return t == literal
	case float64:
		return trimFloat(t) == literal
	case bool:
		return fmt.Sprintf("%t", t) == literal
	default:
		return false
	}
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%v", f)
	return s
}

// --- parser ---

type parser struct {
	input string
	pos   int
}

func (p *parser) parse() ([]node, error) {
	if strings.TrimSpace(p.input) == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	var nodes []node
	for {
		n, err := p.parseSegment()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
		if p.pos >= len(p.input) {
			return nodes, nil
		}
		if p.input[p.pos] != '.' {
			return nil, fmt.Errorf("%w: expected '.' at position %d in %q", ErrSyntax, p.pos, p.input)
		}
		p.pos++
	}
}

func (p *parser) parseSegment() (node, error) {
	if p.pos >= len(p.input) {
		return node{}, fmt.Errorf("%w: unexpected end of %q", ErrSyntax, p.input)
	}
	if p.input[p.pos] == '[' {
		return p.parsePredicate()
	}
	ident := p.parseIdentifier()
	if ident == "" {
		return node{}, fmt.Errorf("%w: expected identifier at position %d in %q", ErrSyntax, p.pos, p.input)
	}
	return node{kind: nodeField, field: ident}, nil
}

func (p *parser) parsePredicate() (node, error) {
	p.pos++ // consume '['
	key := p.parseIdentifier()
	if key == "" {
		return node{}, fmt.Errorf("%w: expected predicate key in %q", ErrSyntax, p.input)
	}
	if p.pos >= len(p.input) || p.input[p.pos] != '=' {
		return node{}, fmt.Errorf("%w: expected '=' in predicate of %q", ErrSyntax, p.input)
	}
	p.pos++
	end := strings.IndexByte(p.input[p.pos:], ']')
	if end < 0 {
		return node{}, fmt.Errorf("%w: unterminated predicate in %q", ErrSyntax, p.input)
	}
	value := p.input[p.pos : p.pos+end]
	p.pos += end + 1
	return node{kind: nodeSelect, key: key, value: value}, nil
}

func (p *parser) parseIdentifier() string {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == '.' || c == '[' || c == ']' || c == '=' {
			break
		}
		p.pos++
	}
	return p.input[start:p.pos]
}
