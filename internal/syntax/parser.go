// Package syntax parses the text form of computed member expressions, as
// written in @computed(expr: "...") directives, into expression trees.
//
//	pets.where(p => p.type == "Cat").count()
//	firstName + " " + lastName
//	untracked(owner).name
//
// Bare names resolve to members of the root entity, or to lambda
// parameters in scope.
package syntax

import (
	"fmt"
	"strconv"

	"github.com/hanpama/computed/internal/expr"
	"github.com/hanpama/computed/internal/model"
)

// RootName is the name of the implicit root parameter. It may also be
// written explicitly.
const RootName = "self"

// Error is a parse or name resolution error.
type Error struct {
	Pos string
	Msg string
}

func (e *Error) Error() string { return e.Pos + ": " + e.Msg }

type parser struct {
	tokens []token
	pos    int
	root   *expr.Parameter
	scopes []*expr.Parameter
}

// Parse parses src as an expression over entities of type root.
func Parse(root *model.EntityType, src string) (*expr.Lambda, error) {
	return ParseFile(root, root.Name, src)
}

// ParseFile is Parse with a file name used in error positions.
func ParseFile(root *model.EntityType, filename, src string) (*expr.Lambda, error) {
	tokens, err := tokenize(filename, src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	p.root = &expr.Parameter{Name: RootName, T: expr.EntityOf(root)}

	body, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %q", t.text)
	}
	return &expr.Lambda{Params: []*expr.Parameter{p.root}, Body: body}, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) peekAt(offset int) token {
	if p.pos+offset >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+offset]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(text string) bool {
	if t := p.peek(); t.kind == tokPunct && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(text string) error {
	if !p.accept(text) {
		t := p.peek()
		return p.errorf(t, "expected %q, found %q", text, t.text)
	}
	return nil
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &Error{Pos: t.pos.String(), Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseExpr() (expr.Node, error) {
	test, err := p.parseCoalesce()
	if err != nil {
		return nil, err
	}
	if !p.accept("?") {
		return test, nil
	}
	then, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	els, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &expr.Conditional{Test: test, Then: then, Else: els}, nil
}

func (p *parser) parseCoalesce() (expr.Node, error) {
	left, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if !p.accept("??") {
		return left, nil
	}
	right, err := p.parseCoalesce()
	if err != nil {
		return nil, err
	}
	return &expr.Binary{Op: expr.Coalesce, Left: left, Right: right}, nil
}

// Binary operator precedence levels, loosest first.
var precedence = [][]struct {
	text string
	op   expr.BinaryOp
}{
	{{"||", expr.Or}},
	{{"&&", expr.And}},
	{{"==", expr.Equal}, {"!=", expr.NotEqual}},
	{{"<", expr.Less}, {"<=", expr.LessOrEqual}, {">", expr.Greater}, {">=", expr.GreaterOrEqual}},
	{{"+", expr.Add}, {"-", expr.Subtract}},
	{{"*", expr.Multiply}, {"/", expr.Divide}, {"%", expr.Modulo}},
}

func (p *parser) parseBinary(level int) (expr.Node, error) {
	if level == len(precedence) {
		return p.parseUnary()
	}
	left, err := p.parseBinary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		matched := false
		for _, candidate := range precedence[level] {
			if t.kind != tokPunct || t.text != candidate.text {
				continue
			}
			p.next()
			right, err := p.parseBinary(level + 1)
			if err != nil {
				return nil, err
			}
			if err := p.checkBinary(t, candidate.op, left, right); err != nil {
				return nil, err
			}
			left = &expr.Binary{Op: candidate.op, Left: left, Right: right}
			matched = true
			break
		}
		if !matched {
			return left, nil
		}
	}
}

func (p *parser) checkBinary(t token, op expr.BinaryOp, left, right expr.Node) error {
	l, r := left.Type(), right.Type()
	switch op {
	case expr.Add:
		if l.Kind == expr.String || r.Kind == expr.String {
			return nil
		}
		fallthrough
	case expr.Subtract, expr.Multiply, expr.Divide, expr.Modulo:
		if !numericOperand(l) || !numericOperand(r) {
			return p.errorf(t, "operator %s is not defined for %s and %s", op, l, r)
		}
	case expr.And, expr.Or:
		if !boolOperand(l) || !boolOperand(r) {
			return p.errorf(t, "operator %s requires booleans, got %s and %s", op, l, r)
		}
	}
	return nil
}

func numericOperand(t expr.Type) bool {
	return t.IsNumeric() || t.Kind == expr.Any || t.Kind == expr.Null
}

func boolOperand(t expr.Type) bool {
	return t.Kind == expr.Bool || t.Kind == expr.Any || t.Kind == expr.Null
}

func (p *parser) parseUnary() (expr.Node, error) {
	t := p.peek()
	switch {
	case p.accept("!"):
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &expr.Unary{Op: expr.Not, Operand: operand}, nil
	case p.accept("-"):
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if !numericOperand(operand.Type()) {
			return nil, p.errorf(t, "cannot negate %s", operand.Type())
		}
		return &expr.Unary{Op: expr.Negate, Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (expr.Node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.accept(".") {
		name := p.next()
		if name.kind != tokIdent {
			return nil, p.errorf(name, "expected member name, found %q", name.text)
		}
		if p.peek().text == "(" && p.peek().kind == tokPunct {
			n, err = p.parseMethod(n, name)
		} else {
			n, err = p.member(n, name)
		}
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (p *parser) member(target expr.Node, name token) (expr.Node, error) {
	t := target.Type()
	if t.Kind == expr.Group && name.text == "key" {
		return &expr.GroupKey{Group: target}, nil
	}
	if t.Kind != expr.Entity || t.Entity == nil {
		return nil, p.errorf(name, "cannot read %q of %s", name.text, t)
	}
	m, ok := t.Entity.Member(name.text)
	if !ok {
		return nil, p.errorf(name, "%s has no member %q", t.Entity.Name, name.text)
	}
	return &expr.Member{Target: target, Member: m}, nil
}

func (p *parser) parsePrimary() (expr.Node, error) {
	t := p.next()
	switch t.kind {
	case tokInt:
		v, err := strconv.ParseInt(t.text, 0, 64)
		if err != nil {
			return nil, p.errorf(t, "invalid integer %s", t.text)
		}
		return &expr.Constant{Value: v, T: expr.Type{Kind: expr.Int}}, nil
	case tokFloat:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf(t, "invalid number %s", t.text)
		}
		return &expr.Constant{Value: v, T: expr.Type{Kind: expr.Float}}, nil
	case tokString:
		v, err := strconv.Unquote(t.text)
		if err != nil {
			return nil, p.errorf(t, "invalid string %s", t.text)
		}
		return &expr.Constant{Value: v, T: expr.Type{Kind: expr.String}}, nil
	case tokIdent:
		return p.parseName(t)
	case tokPunct:
		switch t.text {
		case "(":
			n, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			return n, p.expect(")")
		case "[":
			return p.parseList()
		case "{":
			return p.parseObject()
		}
	}
	if t.kind == tokEOF {
		return nil, p.errorf(t, "unexpected end of expression")
	}
	return nil, p.errorf(t, "unexpected %q", t.text)
}

var conversions = map[string]expr.Kind{
	"int":    expr.Int,
	"float":  expr.Float,
	"string": expr.String,
	"bool":   expr.Bool,
}

func (p *parser) parseName(t token) (expr.Node, error) {
	switch t.text {
	case "true", "false":
		return &expr.Constant{Value: t.text == "true", T: expr.Type{Kind: expr.Bool}}, nil
	case "null":
		return &expr.Constant{T: expr.Type{Kind: expr.Null}}, nil
	case RootName:
		return p.root, nil
	case "tracked", "untracked":
		operand, err := p.parseSingleArg(t)
		if err != nil {
			return nil, err
		}
		return &expr.Track{Tracked: t.text == "tracked", Operand: operand}, nil
	}
	if kind, ok := conversions[t.text]; ok && p.peek().text == "(" {
		operand, err := p.parseSingleArg(t)
		if err != nil {
			return nil, err
		}
		return &expr.Convert{Operand: operand, To: expr.Type{Kind: kind}}, nil
	}
	for i := len(p.scopes) - 1; i >= 0; i-- {
		if p.scopes[i].Name == t.text {
			return p.scopes[i], nil
		}
	}
	return p.member(p.root, t)
}

func (p *parser) parseSingleArg(t token) (expr.Node, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	operand, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	return operand, nil
}

func (p *parser) parseList() (expr.Node, error) {
	list := &expr.List{}
	for !p.accept("]") {
		if len(list.Items) > 0 {
			if err := p.expect(","); err != nil {
				return nil, err
			}
		}
		item, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, item)
	}
	return list, nil
}

func (p *parser) parseObject() (expr.Node, error) {
	obj := &expr.Object{}
	for !p.accept("}") {
		if len(obj.Fields) > 0 {
			if err := p.expect(","); err != nil {
				return nil, err
			}
		}
		name := p.next()
		if name.kind != tokIdent && name.kind != tokString {
			return nil, p.errorf(name, "expected field name, found %q", name.text)
		}
		key := name.text
		if name.kind == tokString {
			key, _ = strconv.Unquote(name.text)
		}
		if err := p.expect(":"); err != nil {
			return nil, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		obj.Fields = append(obj.Fields, expr.Field{Name: key, Value: value})
	}
	return obj, nil
}
