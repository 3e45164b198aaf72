package expr

import (
	"fmt"
	"strconv"
	"strings"
)

func (n *Parameter) String() string { return n.Name }

func (n *Constant) String() string {
	switch v := n.Value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	default:
		return fmt.Sprint(v)
	}
}

func (n *Member) String() string { return n.Target.String() + "." + n.Member.MemberName() }

var conversionNames = map[Kind]string{Int: "int", Float: "float", String: "string", Bool: "bool"}

func (n *Convert) String() string {
	name, ok := conversionNames[n.To.Kind]
	if !ok {
		name = strings.ToLower(n.To.String())
	}
	return fmt.Sprintf("%s(%s)", name, n.Operand)
}

func (n *Unary) String() string {
	if n.Op == Not {
		return "!" + n.Operand.String()
	}
	return "-" + n.Operand.String()
}

func (n *Binary) String() string { return fmt.Sprintf("(%s %s %s)", n.Left, n.Op, n.Right) }

func (n *Conditional) String() string {
	return fmt.Sprintf("(%s ? %s : %s)", n.Test, n.Then, n.Else)
}

func (n *Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s.%s(%s)", n.Source, n.Method, strings.Join(args, ", "))
}

func (n *GroupKey) String() string { return n.Group.String() + ".key" }

func (n *List) String() string {
	items := make([]string, len(n.Items))
	for i, item := range n.Items {
		items[i] = item.String()
	}
	return "[" + strings.Join(items, ", ") + "]"
}

func (n *Object) String() string {
	fields := make([]string, len(n.Fields))
	for i, f := range n.Fields {
		fields[i] = f.Name + ": " + f.Value.String()
	}
	return "{" + strings.Join(fields, ", ") + "}"
}

func (n *Lambda) String() string {
	names := make([]string, len(n.Params))
	for i, p := range n.Params {
		names[i] = p.Name
	}
	if len(names) == 1 {
		return names[0] + " => " + n.Body.String()
	}
	return "(" + strings.Join(names, ", ") + ") => " + n.Body.String()
}

func (n *Track) String() string {
	if n.Tracked {
		return "tracked(" + n.Operand.String() + ")"
	}
	return "untracked(" + n.Operand.String() + ")"
}

// Key returns the structural key of an expression: two expressions with the
// same key over the same root type share analysis artifacts.
func Key(fn *Lambda) string {
	var b strings.Builder
	for i, p := range fn.Params {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(p.T.String())
	}
	b.WriteString("|")
	b.WriteString(fn.String())
	return b.String()
}
