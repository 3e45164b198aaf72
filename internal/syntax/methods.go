package syntax

import (
	"github.com/hanpama/computed/internal/expr"
)

type argShape int

const (
	noArgs argShape = iota
	lambdaArg
	optionalLambdaArg
	valueArg
)

var methods = map[string]struct {
	method expr.Method
	shape  argShape
}{
	"where":          {expr.Where, lambdaArg},
	"select":         {expr.Select, lambdaArg},
	"selectMany":     {expr.SelectMany, lambdaArg},
	"groupBy":        {expr.GroupBy, lambdaArg},
	"all":            {expr.All, lambdaArg},
	"count":          {expr.Count, optionalLambdaArg},
	"any":            {expr.AnyOf, optionalLambdaArg},
	"first":          {expr.First, optionalLambdaArg},
	"firstOrDefault": {expr.FirstOrDefault, optionalLambdaArg},
	"sum":            {expr.Sum, optionalLambdaArg},
	"min":            {expr.Min, optionalLambdaArg},
	"max":            {expr.Max, optionalLambdaArg},
	"average":        {expr.Average, optionalLambdaArg},
	"distinct":       {expr.Distinct, noArgs},
	"concat":         {expr.Concat, valueArg},
	"contains":       {expr.Contains, valueArg},
}

func (p *parser) parseMethod(source expr.Node, name token) (expr.Node, error) {
	sig, ok := methods[name.text]
	if !ok {
		return nil, p.errorf(name, "unknown method %q", name.text)
	}
	src := source.Type()
	if !src.IsCollection() && src.Kind != expr.Any {
		return nil, p.errorf(name, "%s requires a collection, got %s", name.text, src)
	}
	if err := p.expect("("); err != nil {
		return nil, err
	}

	call := &expr.Call{Method: sig.method, Source: source}
	if p.accept(")") {
		if sig.shape == lambdaArg || sig.shape == valueArg {
			return nil, p.errorf(name, "%s requires an argument", name.text)
		}
		return call, nil
	}

	switch sig.shape {
	case noArgs:
		return nil, p.errorf(name, "%s takes no arguments", name.text)
	case lambdaArg, optionalLambdaArg:
		fn, err := p.parseLambda(src.ElemType())
		if err != nil {
			return nil, err
		}
		if err := p.checkLambda(name, sig.method, fn); err != nil {
			return nil, err
		}
		call.Args = []expr.Node{fn}
	case valueArg:
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if sig.method == expr.Concat && !arg.Type().IsCollection() && arg.Type().Kind != expr.Any {
			return nil, p.errorf(name, "concat requires a collection, got %s", arg.Type())
		}
		call.Args = []expr.Node{arg}
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *parser) checkLambda(name token, m expr.Method, fn *expr.Lambda) error {
	body := fn.Body.Type()
	switch m {
	case expr.Where, expr.All, expr.Count, expr.AnyOf, expr.First, expr.FirstOrDefault:
		if !boolOperand(body) {
			return p.errorf(name, "%s predicate must be boolean, got %s", name.text, body)
		}
	case expr.Sum, expr.Average:
		if !numericOperand(body) {
			return p.errorf(name, "%s selector must be numeric, got %s", name.text, body)
		}
	case expr.SelectMany:
		if !body.IsCollection() && body.Kind != expr.Any {
			return p.errorf(name, "selectMany selector must return a collection, got %s", body)
		}
	}
	return nil
}

// parseLambda parses `p => body` or `(p) => body`, binding p to elements of type elem.
func (p *parser) parseLambda(elem expr.Type) (*expr.Lambda, error) {
	var name token
	switch {
	case p.peek().kind == tokIdent && p.peekAt(1).text == "=>":
		name = p.next()
	case p.peek().text == "(" && p.peekAt(1).kind == tokIdent && p.peekAt(2).text == ")" && p.peekAt(3).text == "=>":
		p.next()
		name = p.next()
		p.next()
	default:
		t := p.peek()
		return nil, p.errorf(t, "expected lambda, found %q", t.text)
	}
	p.next() // =>

	param := &expr.Parameter{Name: name.text, T: elem}
	p.scopes = append(p.scopes, param)
	body, err := p.parseExpr()
	p.scopes = p.scopes[:len(p.scopes)-1]
	if err != nil {
		return nil, err
	}
	return &expr.Lambda{Params: []*expr.Parameter{param}, Body: body}, nil
}
