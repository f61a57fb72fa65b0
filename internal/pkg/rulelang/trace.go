package rulelang

// TraceResult records the verdict of one node during a traced evaluation.
type TraceResult struct {
	Node     Node           `json:"-"`
	Expr     string         `json:"expr"`
	Result   bool           `json:"result"`
	Skipped  bool           `json:"skipped,omitempty"`
	Children []*TraceResult `json:"children,omitempty"`
}

// Trace evaluates node like Evaluate and additionally returns the verdict of
// every node. Branches cut off by short-circuiting are reported with Skipped
// set and are not evaluated.
func Trace(node Node, ctx Context) (*TraceResult, error) {
	l, ok := node.(Logical)
	if !ok {
		res, err := Evaluate(node, ctx)
		if err != nil {
			return nil, err
		}
		return &TraceResult{Node: node, Expr: node.String(), Result: res}, nil
	}

	if l.Op != OpAnd && l.Op != OpOr {
		// Let Evaluate produce the malformed-node error.
		_, err := Evaluate(l, ctx)
		return nil, err
	}

	left, err := Trace(l.Left, ctx)
	if err != nil {
		return nil, err
	}
	tr := &TraceResult{Node: l, Expr: l.String(), Children: []*TraceResult{left}}

	if (l.Op == OpAnd && !left.Result) || (l.Op == OpOr && left.Result) {
		tr.Result = left.Result
		tr.Children = append(tr.Children, skipped(l.Right))
		return tr, nil
	}

	right, err := Trace(l.Right, ctx)
	if err != nil {
		return nil, err
	}
	tr.Result = right.Result
	tr.Children = append(tr.Children, right)
	return tr, nil
}

func skipped(n Node) *TraceResult {
	return &TraceResult{Node: n, Expr: nodeString(n), Skipped: true}
}
