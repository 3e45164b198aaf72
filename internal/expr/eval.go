package expr

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/hanpama/computed/internal/host"
)

// Env resolves member reads during evaluation. Implementations decide
// whether current or original values are read, and may hand out partial
// collections for incremental evaluation.
type Env interface {
	MemberValue(n *Member, target host.Entity) (any, error)
}

// GroupValue is one group produced by GroupBy.
type GroupValue struct {
	Key   any
	Items []any
}

var ErrEmptySequence = errors.New("sequence contains no matching element")

type scope struct {
	parent *scope
	params []*Parameter
	values []any
}

func (s *scope) lookup(p *Parameter) (any, bool) {
	for ; s != nil; s = s.parent {
		for i, q := range s.params {
			if q == p {
				return s.values[i], true
			}
		}
	}
	return nil, false
}

// Eval applies fn to args.
func Eval(fn *Lambda, env Env, args ...any) (any, error) {
	if len(args) != len(fn.Params) {
		return nil, fmt.Errorf("expression %s takes %d arguments, got %d", fn, len(fn.Params), len(args))
	}
	return eval(fn.Body, env, &scope{params: fn.Params, values: args})
}

func apply(fn *Lambda, env Env, s *scope, args ...any) (any, error) {
	return eval(fn.Body, env, &scope{parent: s, params: fn.Params, values: args})
}

func eval(n Node, env Env, s *scope) (any, error) {
	switch n := n.(type) {
	case *Parameter:
		v, ok := s.lookup(n)
		if !ok {
			return nil, fmt.Errorf("unbound parameter %s", n.Name)
		}
		return v, nil
	case *Constant:
		return n.Value, nil
	case *Member:
		target, err := eval(n.Target, env, s)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, nil
		}
		e, ok := target.(host.Entity)
		if !ok {
			return nil, fmt.Errorf("cannot read %s of non-entity value %T", n.Member.MemberName(), target)
		}
		v, err := env.MemberValue(n, e)
		return Normalize(v), err
	case *Convert:
		v, err := eval(n.Operand, env, s)
		if err != nil {
			return nil, err
		}
		return convert(v, n.To)
	case *Unary:
		v, err := eval(n.Operand, env, s)
		if err != nil || v == nil {
			return nil, err
		}
		if n.Op == Not {
			return !truthy(v), nil
		}
		v = Normalize(v)
		if i, ok := v.(int64); ok {
			return -i, nil
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("cannot negate %T", v)
		}
		return -f, nil
	case *Binary:
		return evalBinary(n, env, s)
	case *Conditional:
		test, err := eval(n.Test, env, s)
		if err != nil {
			return nil, err
		}
		if truthy(test) {
			return eval(n.Then, env, s)
		}
		return eval(n.Else, env, s)
	case *Call:
		return evalCall(n, env, s)
	case *GroupKey:
		v, err := eval(n.Group, env, s)
		if err != nil || v == nil {
			return nil, err
		}
		g, ok := v.(*GroupValue)
		if !ok {
			return nil, fmt.Errorf("cannot read key of %T", v)
		}
		return g.Key, nil
	case *List:
		items := make([]any, len(n.Items))
		for i, item := range n.Items {
			v, err := eval(item, env, s)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	case *Object:
		obj := make(map[string]any, len(n.Fields))
		for _, f := range n.Fields {
			v, err := eval(f.Value, env, s)
			if err != nil {
				return nil, err
			}
			obj[f.Name] = v
		}
		return obj, nil
	case *Track:
		return eval(n.Operand, env, s)
	case *Lambda:
		return nil, fmt.Errorf("lambda %s cannot be evaluated as a value", n)
	}
	return nil, fmt.Errorf("unsupported expression %T", n)
}

func evalBinary(n *Binary, env Env, s *scope) (any, error) {
	l, err := eval(n.Left, env, s)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case And:
		if !truthy(l) {
			return false, nil
		}
		r, err := eval(n.Right, env, s)
		return truthy(r), err
	case Or:
		if truthy(l) {
			return true, nil
		}
		r, err := eval(n.Right, env, s)
		return truthy(r), err
	case Coalesce:
		if l != nil {
			return l, nil
		}
		return eval(n.Right, env, s)
	}

	r, err := eval(n.Right, env, s)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case Equal:
		return Equals(l, r), nil
	case NotEqual:
		return !Equals(l, r), nil
	case Less, LessOrEqual, Greater, GreaterOrEqual:
		c, ok := compare(l, r)
		if !ok {
			return false, nil
		}
		switch n.Op {
		case Less:
			return c < 0, nil
		case LessOrEqual:
			return c <= 0, nil
		case Greater:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}
	return arithmetic(n.Op, l, r)
}

func arithmetic(op BinaryOp, l, r any) (any, error) {
	l, r = Normalize(l), Normalize(r)
	if op == Add {
		ls, lok := l.(string)
		rs, rok := r.(string)
		if lok || rok {
			if !lok {
				ls = stringify(l)
			}
			if !rok {
				rs = stringify(r)
			}
			return ls + rs, nil
		}
	}
	if l == nil || r == nil {
		return nil, nil
	}
	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt {
		switch op {
		case Add:
			return li + ri, nil
		case Subtract:
			return li - ri, nil
		case Multiply:
			return li * ri, nil
		case Divide:
			if ri == 0 {
				return nil, nil
			}
			return li / ri, nil
		case Modulo:
			if ri == 0 {
				return nil, nil
			}
			return li % ri, nil
		}
	}
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %s is not defined for %T and %T", op, l, r)
	}
	switch op {
	case Add:
		return lf + rf, nil
	case Subtract:
		return lf - rf, nil
	case Multiply:
		return lf * rf, nil
	case Divide:
		if rf == 0 {
			return nil, nil
		}
		return lf / rf, nil
	case Modulo:
		if rf == 0 {
			return nil, nil
		}
		return math.Mod(lf, rf), nil
	}
	return nil, fmt.Errorf("unsupported operator %s", op)
}

func evalCall(n *Call, env Env, s *scope) (any, error) {
	src, err := eval(n.Source, env, s)
	if err != nil {
		return nil, err
	}
	items, ok := ToList(src)
	if !ok {
		return nil, fmt.Errorf("%s requires a collection, got %T", n.Method, src)
	}
	fn := n.Lambda()

	project := func(item any) (any, error) {
		if fn == nil {
			return item, nil
		}
		return apply(fn, env, s, item)
	}
	matches := func(item any) (bool, error) {
		if fn == nil {
			return true, nil
		}
		v, err := apply(fn, env, s, item)
		return truthy(v), err
	}

	switch n.Method {
	case Where:
		out := make([]any, 0, len(items))
		for _, item := range items {
			ok, err := matches(item)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, item)
			}
		}
		return out, nil
	case Select, SelectMany:
		out := make([]any, 0, len(items))
		for _, item := range items {
			v, err := project(item)
			if err != nil {
				return nil, err
			}
			if n.Method == Select {
				out = append(out, v)
				continue
			}
			inner, ok := ToList(v)
			if !ok {
				return nil, fmt.Errorf("selectMany selector must return a collection, got %T", v)
			}
			out = append(out, inner...)
		}
		return out, nil
	case Count:
		var count int64
		for _, item := range items {
			ok, err := matches(item)
			if err != nil {
				return nil, err
			}
			if ok {
				count++
			}
		}
		return count, nil
	case AnyOf, All:
		for _, item := range items {
			ok, err := matches(item)
			if err != nil {
				return nil, err
			}
			if n.Method == AnyOf && ok {
				return true, nil
			}
			if n.Method == All && !ok {
				return false, nil
			}
		}
		return n.Method == All, nil
	case First, FirstOrDefault:
		for _, item := range items {
			ok, err := matches(item)
			if err != nil {
				return nil, err
			}
			if ok {
				return item, nil
			}
		}
		if n.Method == First {
			return nil, fmt.Errorf("%s: %w", n, ErrEmptySequence)
		}
		return nil, nil
	case Sum, Min, Max, Average:
		return aggregate(n, items, project)
	case Distinct:
		seen := make(map[any]struct{}, len(items))
		out := make([]any, 0, len(items))
		for _, item := range items {
			id := identity(item)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, item)
		}
		return out, nil
	case Concat:
		other, err := eval(n.Args[0], env, s)
		if err != nil {
			return nil, err
		}
		rest, ok := ToList(other)
		if !ok {
			return nil, fmt.Errorf("concat requires a collection, got %T", other)
		}
		return append(append(make([]any, 0, len(items)+len(rest)), items...), rest...), nil
	case Contains:
		v, err := eval(n.Args[0], env, s)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if Equals(item, v) {
				return true, nil
			}
		}
		return false, nil
	case GroupBy:
		index := make(map[any]*GroupValue)
		var groups []any
		for _, item := range items {
			key, err := project(item)
			if err != nil {
				return nil, err
			}
			id := identity(key)
			g, ok := index[id]
			if !ok {
				g = &GroupValue{Key: key}
				index[id] = g
				groups = append(groups, g)
			}
			g.Items = append(g.Items, item)
		}
		return groups, nil
	}
	return nil, fmt.Errorf("unsupported collection operator %s", n.Method)
}

func aggregate(n *Call, items []any, project func(any) (any, error)) (any, error) {
	var (
		values []any
		allInt = true
	)
	for _, item := range items {
		v, err := project(item)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		if _, ok := v.(int64); !ok {
			allInt = false
		}
		values = append(values, v)
	}

	switch n.Method {
	case Sum:
		if allInt && n.Type().Kind != Float {
			var sum int64
			for _, v := range values {
				sum += v.(int64)
			}
			return sum, nil
		}
		var sum float64
		for _, v := range values {
			f, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("sum: %T is not numeric", v)
			}
			sum += f
		}
		return sum, nil
	case Average:
		if len(values) == 0 {
			return nil, nil
		}
		var sum float64
		for _, v := range values {
			f, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("average: %T is not numeric", v)
			}
			sum += f
		}
		return sum / float64(len(values)), nil
	}

	var best any
	for _, v := range values {
		if best == nil {
			best = v
			continue
		}
		c, ok := compare(v, best)
		if !ok {
			return nil, fmt.Errorf("%s: cannot compare %T and %T", n.Method, v, best)
		}
		if (n.Method == Min && c < 0) || (n.Method == Max && c > 0) {
			best = v
		}
	}
	return best, nil
}

// ToList enumerates a collection value. nil is an empty collection.
func ToList(v any) ([]any, bool) {
	switch v := v.(type) {
	case nil:
		return nil, true
	case []any:
		return v, true
	case []host.Entity:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, true
	case *GroupValue:
		return v.Items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = Normalize(rv.Index(i).Interface())
	}
	return out, true
}

// Normalize converts Go numeric values to int64 or float64.
func Normalize(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return float64(v)
	}
	return v
}

// Equals compares two evaluated values. Entities are equal when their keys
// are; numbers are compared after promotion.
func Equals(a, b any) bool {
	a, b = Normalize(a), Normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ea, ok := a.(host.Entity); ok {
		eb, ok := b.(host.Entity)
		return ok && ea.Key() == eb.Key()
	}
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	la, aList := a.([]any)
	lb, bList := b.([]any)
	if aList && bList {
		if len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !Equals(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b any) (int, bool) {
	a, b = Normalize(a), Normalize(b)
	if ai, ok := a.(int64); ok {
		if bi, ok := b.(int64); ok {
			switch {
			case ai < bi:
				return -1, true
			case ai > bi:
				return 1, true
			}
			return 0, true
		}
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			switch {
			case as < bs:
				return -1, true
			case as > bs:
				return 1, true
			}
			return 0, true
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0, true
			case !ab:
				return -1, true
			}
			return 1, true
		}
	}
	return 0, false
}

// identity returns a comparable stand-in for v usable as a map key.
func identity(v any) any {
	v = Normalize(v)
	switch v := v.(type) {
	case host.Entity:
		return v.Key()
	case int64:
		return float64(v)
	case nil, string, bool, float64:
		return v
	}
	return fmt.Sprintf("%T:%v", v, v)
}

func toFloat(v any) (float64, bool) {
	switch v := Normalize(v).(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case host.Entity:
		return v.Key().String()
	}
	return fmt.Sprint(v)
}

func convert(v any, to Type) (any, error) {
	v = Normalize(v)
	if v == nil {
		return nil, nil
	}
	switch to.Kind {
	case Int:
		switch v := v.(type) {
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		case bool:
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			i, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to int: %w", v, err)
			}
			return i, nil
		}
	case Float:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
		if s, ok := v.(string); ok {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to float: %w", s, err)
			}
			return f, nil
		}
	case String:
		return stringify(v), nil
	case Bool:
		switch v := v.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(v)
		}
		if f, ok := toFloat(v); ok {
			return f != 0, nil
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, to)
}
