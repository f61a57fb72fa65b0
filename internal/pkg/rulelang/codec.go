package rulelang

import (
	"fmt"
	"strings"

	"github.com/valyala/fastjson"
)

// Node type tags used in the serialized tree.
const (
	TypeComparison = "comparison"
	TypeLogical    = "logical"
)

var arenaPool fastjson.ArenaPool

// MarshalNode serializes n as a tree of tagged JSON objects:
//
//	{"type":"logical","operator":"AND","left":{...},"right":{...}}
//	{"type":"comparison","field":"age","operator":">","value":30}
func MarshalNode(n Node) ([]byte, error) {
	a := arenaPool.Get()
	defer arenaPool.Put(a)

	v, err := encodeNode(a, n, "$")
	if err != nil {
		return nil, err
	}
	return v.MarshalTo(nil), nil
}

// MarshalJSON implements json.Marshaler.
func (c Comparison) MarshalJSON() ([]byte, error) { return MarshalNode(c) }

// MarshalJSON implements json.Marshaler.
func (l Logical) MarshalJSON() ([]byte, error) { return MarshalNode(l) }

func encodeNode(a *fastjson.Arena, n Node, path string) (*fastjson.Value, error) {
	switch t := n.(type) {
	case Comparison:
		lit, err := encodeValue(a, t.Value)
		if err != nil {
			return nil, &DecodeError{Path: path, Msg: err.Error()}
		}
		o := a.NewObject()
		o.Set("type", a.NewString(TypeComparison))
		o.Set("field", a.NewString(t.Field))
		o.Set("operator", a.NewString(string(t.Op)))
		o.Set("value", lit)
		return o, nil

	case Logical:
		left, err := encodeNode(a, t.Left, path+".left")
		if err != nil {
			return nil, err
		}
		right, err := encodeNode(a, t.Right, path+".right")
		if err != nil {
			return nil, err
		}
		o := a.NewObject()
		o.Set("type", a.NewString(TypeLogical))
		o.Set("operator", a.NewString(string(t.Op)))
		o.Set("left", left)
		o.Set("right", right)
		return o, nil

	default:
		return nil, &DecodeError{Path: path, Msg: fmt.Sprintf("cannot encode %T", n)}
	}
}

func encodeValue(a *fastjson.Arena, v Value) (*fastjson.Value, error) {
	switch v.Kind() {
	case KindString:
		return a.NewString(v.Str()), nil
	case KindNumber:
		return a.NewNumberFloat64(v.Num()), nil
	case KindBool:
		if v.Boolean() {
			return a.NewTrue(), nil
		}
		return a.NewFalse(), nil
	default:
		return nil, fmt.Errorf("comparison has no literal")
	}
}

// UnmarshalNode parses a serialized tree produced by MarshalNode, or edited by
// hand, and re-validates it. Errors are of type *DecodeError.
func UnmarshalNode(data []byte) (Node, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, &DecodeError{Path: "$", Msg: err.Error()}
	}
	return NodeFromJSON(v)
}

// NodeFromJSON converts an already parsed JSON value into a Node.
func NodeFromJSON(v *fastjson.Value) (Node, error) {
	return decodeNode(v, "$", 1)
}

var (
	comparisonKeys = map[string]bool{"type": true, "field": true, "operator": true, "value": true}
	logicalKeys    = map[string]bool{"type": true, "operator": true, "left": true, "right": true}
)

func decodeNode(v *fastjson.Value, path string, depth int) (Node, error) {
	if v == nil {
		return nil, &DecodeError{Path: path, Msg: "missing node"}
	}
	if depth > MaxDepth {
		return nil, &DecodeError{Path: path, Msg: fmt.Sprintf("tree deeper than %d", MaxDepth)}
	}
	obj, err := v.Object()
	if err != nil {
		return nil, &DecodeError{Path: path, Msg: fmt.Sprintf("expected object, got %s", v.Type())}
	}

	typ, err := stringField(v, "type")
	if err != nil {
		return nil, &DecodeError{Path: path, Msg: err.Error()}
	}

	switch typ {
	case TypeComparison:
		if err := checkKeys(obj, comparisonKeys); err != nil {
			return nil, &DecodeError{Path: path, Msg: err.Error()}
		}
		return decodeComparison(v, path)
	case TypeLogical:
		if err := checkKeys(obj, logicalKeys); err != nil {
			return nil, &DecodeError{Path: path, Msg: err.Error()}
		}
		return decodeLogical(v, path, depth)
	default:
		return nil, &DecodeError{Path: path, Msg: fmt.Sprintf("unknown node type %q", typ)}
	}
}

func decodeComparison(v *fastjson.Value, path string) (Node, error) {
	field, err := stringField(v, "field")
	if err != nil {
		return nil, &DecodeError{Path: path, Msg: err.Error()}
	}
	if !IsIdentifier(field) {
		return nil, &DecodeError{Path: path + ".field", Msg: fmt.Sprintf("invalid field name %q", field)}
	}

	opStr, err := stringField(v, "operator")
	if err != nil {
		return nil, &DecodeError{Path: path, Msg: err.Error()}
	}
	op, ok := parseCompareOp(opStr)
	if !ok {
		return nil, &DecodeError{Path: path + ".operator", Msg: fmt.Sprintf("unknown comparison operator %q", opStr)}
	}

	raw := v.Get("value")
	if raw == nil {
		return nil, &DecodeError{Path: path, Msg: `missing "value"`}
	}
	lit, err := fromJSON(raw)
	if err != nil {
		return nil, &DecodeError{Path: path + ".value", Msg: err.Error()}
	}

	return Comparison{Field: field, Op: op, Value: lit}, nil
}

func decodeLogical(v *fastjson.Value, path string, depth int) (Node, error) {
	opStr, err := stringField(v, "operator")
	if err != nil {
		return nil, &DecodeError{Path: path, Msg: err.Error()}
	}
	op, ok := parseLogicOp(strings.ToUpper(opStr))
	if !ok {
		return nil, &DecodeError{Path: path + ".operator", Msg: fmt.Sprintf("unknown logical operator %q", opStr)}
	}

	left, err := decodeNode(v.Get("left"), path+".left", depth+1)
	if err != nil {
		return nil, err
	}
	right, err := decodeNode(v.Get("right"), path+".right", depth+1)
	if err != nil {
		return nil, err
	}

	return Logical{Op: op, Left: left, Right: right}, nil
}

func stringField(v *fastjson.Value, key string) (string, error) {
	f := v.Get(key)
	if f == nil {
		return "", fmt.Errorf("missing %q", key)
	}
	if f.Type() != fastjson.TypeString {
		return "", fmt.Errorf("%q must be a string", key)
	}
	return string(f.GetStringBytes()), nil
}

func checkKeys(obj *fastjson.Object, allowed map[string]bool) error {
	var unknown string
	obj.Visit(func(key []byte, _ *fastjson.Value) {
		if unknown == "" && !allowed[string(key)] {
			unknown = string(key)
		}
	})
	if unknown != "" {
		return fmt.Errorf("unexpected key %q", unknown)
	}
	return nil
}
