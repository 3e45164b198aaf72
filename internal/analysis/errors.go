package analysis

import "fmt"

// UnsupportedExpressionError reports an expression shape whose value depends
// on the root entity but that no propagator understands.
type UnsupportedExpressionError struct {
	Expression string
	Node       string
	Reason     string
}

func (e *UnsupportedExpressionError) Error() string {
	return fmt.Sprintf("unsupported expression %s in %s: %s", e.Node, e.Expression, e.Reason)
}
