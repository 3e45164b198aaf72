package engine

import (
	"errors"
	"fmt"

	"github.com/hanpama/computed/internal/analysis"
	"github.com/hanpama/computed/internal/expr"
	"github.com/hanpama/computed/internal/model"
	"github.com/hanpama/computed/internal/strategy"
	"github.com/hanpama/computed/internal/syntax"
)

// Strategy selectors accepted by @computed(strategy:).
const (
	SelectCurrent            = "current"
	SelectNumeric            = "numeric"
	SelectNumericIncremental = "numeric-incremental"
	SelectSet                = "set"
	SelectSetIncremental     = "set-incremental"
	SelectPair               = "pair"
	SelectVoid               = "void"
)

// FromModel registers every computed member declared in the engine's model
// and finalizes the engine. All problems are returned together as a
// model.ValidationError.
func FromModel(e *Engine) error {
	var violations model.ValidationError
	for _, def := range e.model.Computed {
		if err := e.register(def); err != nil {
			violations = append(violations, definitionViolation(def, err))
		}
	}
	if len(violations) > 0 {
		return violations
	}
	return e.Finalize()
}

func (e *Engine) register(def *model.ComputedDefinition) error {
	prop, fn, filter, err := e.prepare(def.Entity, def.Field, def.Expr, def.Filter)
	if err != nil {
		return err
	}
	selector := def.Strategy
	if selector == "" {
		selector = SelectCurrent
	}

	numeric := func(incremental bool) error {
		switch {
		case prop.List:
		case prop.Kind == model.Int:
			s := strategy.NewNumber[int64]()
			if incremental {
				s = strategy.NewNumberIncremental[int64]()
			}
			return add(e, prop, fn, s, filter)
		case prop.Kind == model.Float:
			s := strategy.NewNumber[float64]()
			if incremental {
				s = strategy.NewNumberIncremental[float64]()
			}
			return add(e, prop, fn, s, filter)
		}
		return fmt.Errorf("strategy %q needs an Int or Float member, %s is %s", selector, prop, describeProperty(prop))
	}
	set := func(incremental bool) error {
		if !prop.List {
			return fmt.Errorf("strategy %q needs a list member, %s is %s", selector, prop, describeProperty(prop))
		}
		if fn.Body.Type().Kind != expr.KindList && fn.Body.Type().Kind != expr.Any {
			return fmt.Errorf("strategy %q needs a collection expression, got %s", selector, fn.Body.Type())
		}
		s := strategy.NewSet[any]()
		if incremental {
			s = strategy.NewSetIncremental[any]()
		}
		return add(e, prop, fn, s, filter)
	}

	switch selector {
	case SelectCurrent:
		return add(e, prop, fn, strategy.NewCurrent[any](), filter)
	case SelectNumeric:
		return numeric(false)
	case SelectNumericIncremental:
		return numeric(true)
	case SelectSet:
		return set(false)
	case SelectSetIncremental:
		return set(true)
	case SelectPair:
		return add(e, prop, fn, strategy.NewValuePair[any](), filter)
	case SelectVoid:
		return fmt.Errorf("strategy %q produces no value to store in %s", selector, prop)
	}
	return fmt.Errorf("unknown strategy %q", selector)
}

func add[V, R any](e *Engine, prop *model.Property, fn *expr.Lambda, s strategy.Strategy[V, R], filter *expr.Lambda) error {
	m, err := NewComputed(e.artifacts, prop, fn, s, filter)
	if err != nil {
		return err
	}
	return e.Add(m)
}

func describeProperty(p *model.Property) string {
	if p.List {
		return "[" + string(p.Kind) + "]"
	}
	return string(p.Kind)
}

func definitionViolation(def *model.ComputedDefinition, err error) *model.Violation {
	msg := fmt.Sprintf("Computed member %s.%s: %s", def.Entity, def.Field, err)
	var syntaxErr *syntax.Error
	var unsupported *analysis.UnsupportedExpressionError
	switch {
	case errors.As(err, &syntaxErr):
		msg = fmt.Sprintf("Computed member %s.%s has an invalid expression: %s", def.Entity, def.Field, syntaxErr.Msg)
	case errors.As(err, &unsupported):
		msg = fmt.Sprintf("Computed member %s.%s uses an unsupported expression %s: %s", def.Entity, def.Field, unsupported.Node, unsupported.Reason)
	case errors.Is(err, ErrNoTrackedAccess):
		msg = fmt.Sprintf("Computed member %s.%s reads no tracked member", def.Entity, def.Field)
	}
	return &model.Violation{Message: msg, File: def.File, Line: def.Line}
}
