package strategy

import (
	"fmt"

	"github.com/hanpama/computed/internal/expr"
)

// Numeric is the value type of numeric strategies.
type Numeric interface {
	~int64 | ~float64
}

// Number reports the difference between the current and original value.
type Number[N Numeric] struct {
	incremental bool
}

func NewNumber[N Numeric]() *Number[N] { return &Number[N]{} }

// NewNumberIncremental is Number evaluated over changed elements only.
func NewNumberIncremental[N Numeric]() *Number[N] { return &Number[N]{incremental: true} }

func (s *Number[N]) Name() string {
	if s.incremental {
		return "numeric-incremental"
	}
	return "numeric"
}

func (*Number[N]) Value(v any) (N, error) {
	switch v := expr.Normalize(v).(type) {
	case nil:
		return 0, nil
	case int64:
		return N(v), nil
	case float64:
		return N(v), nil
	}
	return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
}

func (*Number[N]) GetChange(original, current N) N { return current - original }

func (*Number[N]) IsNoChange(r N) bool { return r == 0 }

func (*Number[N]) MergeDelta(previous, current N) N { return previous + current }

func (*Number[N]) Apply(base, delta N) N { return base + delta }

func (*Number[N]) Invert(r N) N { return -r }

func (s *Number[N]) Incremental() bool { return s.incremental }
