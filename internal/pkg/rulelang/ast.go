package rulelang

import (
	"sort"
	"strings"
)

// Node is the interface implemented by all AST nodes.
// Nodes are immutable values; a tree may be shared by concurrent evaluators.
type Node interface {
	node() // marker method
	String() string
}

// CompareOp is a comparison operator.
type CompareOp string

const (
	OpEq  CompareOp = "="
	OpNeq CompareOp = "!="
	OpGt  CompareOp = ">"
	OpLt  CompareOp = "<"
	OpGte CompareOp = ">="
	OpLte CompareOp = "<="
)

func parseCompareOp(s string) (CompareOp, bool) {
	switch op := CompareOp(s); op {
	case OpEq, OpNeq, OpGt, OpLt, OpGte, OpLte:
		return op, true
	}
	return "", false
}

// LogicOp is a logical connective.
type LogicOp string

const (
	OpAnd LogicOp = "AND"
	OpOr  LogicOp = "OR"
)

func parseLogicOp(s string) (LogicOp, bool) {
	switch op := LogicOp(s); op {
	case OpAnd, OpOr:
		return op, true
	}
	return "", false
}

// Comparison compares a context field against a literal.
type Comparison struct {
	Field string
	Op    CompareOp
	Value Value
}

func (Comparison) node() {}

func (c Comparison) String() string {
	return c.Field + " " + string(c.Op) + " " + c.Value.String()
}

// Logical joins two nodes with AND or OR.
type Logical struct {
	Op    LogicOp
	Left  Node
	Right Node
}

func (Logical) node() {}

func (l Logical) String() string {
	var sb strings.Builder
	writeOperand(&sb, l.Op, l.Left, false)
	sb.WriteByte(' ')
	sb.WriteString(string(l.Op))
	sb.WriteByte(' ')
	writeOperand(&sb, l.Op, l.Right, true)
	return sb.String()
}

// writeOperand renders a child of a logical node, adding parentheses only
// where precedence or left associativity would otherwise reshape the tree.
func writeOperand(sb *strings.Builder, parent LogicOp, child Node, right bool) {
	c, ok := child.(Logical)
	wrap := ok && ((parent == OpAnd && c.Op == OpOr) || (right && c.Op == parent))
	if wrap {
		sb.WriteByte('(')
	}
	sb.WriteString(nodeString(child))
	if wrap {
		sb.WriteByte(')')
	}
}

func nodeString(n Node) string {
	if n == nil {
		return "<nil>"
	}
	return n.String()
}

// Depth returns the height of the tree rooted at n. A single comparison has depth 1.
func Depth(n Node) int {
	switch t := n.(type) {
	case Logical:
		return 1 + max(Depth(t.Left), Depth(t.Right))
	case Comparison:
		return 1
	default:
		return 0
	}
}

// Fields returns the sorted distinct field names referenced by n.
func Fields(n Node) []string {
	seen := make(map[string]struct{})
	collectFields(n, seen)
	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func collectFields(n Node, seen map[string]struct{}) {
	switch t := n.(type) {
	case Logical:
		collectFields(t.Left, seen)
		collectFields(t.Right, seen)
	case Comparison:
		seen[t.Field] = struct{}{}
	}
}
