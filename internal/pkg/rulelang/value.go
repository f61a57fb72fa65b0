package rulelang

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"
)

// Kind identifies the type held by a Value.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	default:
		return "invalid"
	}
}

// Value is a string, number or boolean. The zero Value is invalid.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric Value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) Str() string { return v.str }
func (v Value) Num() float64 { return v.num }
func (v Value) Boolean() bool { return v.b }
func (v Value) IsValid() bool { return v.kind >= KindString && v.kind <= KindBool }

// String renders the value as it would appear in a rule.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return quote(v.str)
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return "<invalid>"
	}
}

// Equal reports whether v and o have the same kind and value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	default:
		return true
	}
}

// asNumber returns the numeric reading of v. Strings are coerced when they
// hold a numeric literal; booleans never are.
func (v Value) asNumber() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		s := strings.TrimSpace(v.str)
		if !isNumeric(s) {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' || s[i] == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	sb.WriteByte('\'')
	return sb.String()
}

// FromAny converts a Go scalar into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		if !t.IsValid() {
			return Value{}, fmt.Errorf("invalid value")
		}
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Number(float64(t)), nil
	case int8:
		return Number(float64(t)), nil
	case int16:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case uint16:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case float32:
		return numberChecked(float64(t))
	case float64:
		return numberChecked(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q", t.String())
		}
		return numberChecked(f)
	case nil:
		return Value{}, fmt.Errorf("null is not supported")
	default:
		return Value{}, fmt.Errorf("unsupported type %T", x)
	}
}

func numberChecked(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("number must be finite")
	}
	return Number(f), nil
}

// fromJSON converts a scalar fastjson value.
func fromJSON(v *fastjson.Value) (Value, error) {
	switch v.Type() {
	case fastjson.TypeString:
		return String(string(v.GetStringBytes())), nil
	case fastjson.TypeNumber:
		f, err := v.Float64()
		if err != nil {
			return Value{}, err
		}
		return numberChecked(f)
	case fastjson.TypeTrue:
		return Bool(true), nil
	case fastjson.TypeFalse:
		return Bool(false), nil
	default:
		return Value{}, fmt.Errorf("unsupported %s value", v.Type())
	}
}

// Context maps field names to values for one evaluation.
type Context map[string]Value

// ContextFromMap builds a Context from plain Go values.
func ContextFromMap(m map[string]any) (Context, error) {
	ctx := make(Context, len(m))
	for k, x := range m {
		v, err := FromAny(x)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		ctx[k] = v
	}
	return ctx, nil
}

// ParseContext decodes a flat JSON object into a Context.
func ParseContext(data []byte) (Context, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse data: %w", err)
	}
	return ContextFromJSON(v)
}

// ContextFromJSON converts an already parsed JSON object into a Context.
func ContextFromJSON(v *fastjson.Value) (Context, error) {
	obj, err := v.Object()
	if err != nil {
		return nil, fmt.Errorf("data must be a JSON object")
	}
	ctx := make(Context, obj.Len())
	obj.Visit(func(key []byte, val *fastjson.Value) {
		if err != nil {
			return
		}
		var cv Value
		cv, err = fromJSON(val)
		if err != nil {
			err = fmt.Errorf("field %q: %w", key, err)
			return
		}
		ctx[string(key)] = cv
	})
	if err != nil {
		return nil, err
	}
	return ctx, nil
}
