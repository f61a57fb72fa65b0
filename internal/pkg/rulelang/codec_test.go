package rulelang

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestMarshalNodeShape(t *testing.T) {
	data, err := MarshalNode(MustCompile("age > 30 AND dept = 'Sales'"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"logical","operator":"AND",` +
		`"left":{"type":"comparison","field":"age","operator":">","value":30},` +
		`"right":{"type":"comparison","field":"dept","operator":"=","value":"Sales"}}`
	if string(data) != want {
		t.Errorf("got  %s\nwant %s", data, want)
	}
}

func TestMarshalLiteralKinds(t *testing.T) {
	tests := []struct {
		rule string
		want string
	}{
		{"a = true", `{"type":"comparison","field":"a","operator":"=","value":true}`},
		{"a != false", `{"type":"comparison","field":"a","operator":"!=","value":false}`},
		{"a <= -1.5", `{"type":"comparison","field":"a","operator":"<=","value":-1.5}`},
		{`a = 'say "hi"'`, `{"type":"comparison","field":"a","operator":"=","value":"say \"hi\""}`},
	}
	for _, tt := range tests {
		data, err := MarshalNode(MustCompile(tt.rule))
		if err != nil {
			t.Fatalf("%s: %v", tt.rule, err)
		}
		if string(data) != tt.want {
			t.Errorf("%s: got %s, want %s", tt.rule, data, tt.want)
		}
	}
}

func TestMarshalJSONInterop(t *testing.T) {
	node := MustCompile("a = 1 OR b = 'x'")
	viaStd, err := json.Marshal(node)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	direct, _ := MarshalNode(node)
	if string(viaStd) != string(direct) {
		t.Errorf("json.Marshal %s differs from MarshalNode %s", viaStd, direct)
	}
}

func TestMarshalInvalid(t *testing.T) {
	_, err := MarshalNode(Logical{Op: OpAnd, Left: MustCompile("a = 1"), Right: Comparison{Field: "b", Op: OpEq}})
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if de.Path != "$.right" {
		t.Errorf("expected path $.right, got %s", de.Path)
	}

	if _, err := MarshalNode(nil); err == nil {
		t.Error("expected error for nil node")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	rules := []string{
		"age > 30",
		"name = 'O\\'Brien'",
		"ok = true AND n != -0.25",
		"((age > 30 AND department = 'Sales') OR (age < 25 AND department = 'Marketing')) AND (salary > 50000 OR experience > 5)",
		"a = 1 OR b = 2 OR c = 3 OR d = 4",
	}
	ctx := Context{
		"age": Number(35), "department": String("Sales"), "salary": Number(60000),
		"experience": Number(3), "name": String("O'Brien"), "ok": Bool(true), "n": Number(1),
		"a": Number(0), "b": Number(0), "c": Number(3), "d": Number(0),
	}

	for _, rule := range rules {
		t.Run(rule, func(t *testing.T) {
			orig := MustCompile(rule)
			data, err := MarshalNode(orig)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			decoded, err := UnmarshalNode(data)
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !reflect.DeepEqual(orig, decoded) {
				t.Errorf("round trip changed tree:\n%#v\n%#v", orig, decoded)
			}

			want, wantErr := Evaluate(orig, ctx)
			got, gotErr := Evaluate(decoded, ctx)
			if got != want || (wantErr == nil) != (gotErr == nil) {
				t.Errorf("decoded tree evaluates to %v, %v; original %v, %v", got, gotErr, want, wantErr)
			}
		})
	}
}

func TestRoundTripMaxDepth(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("a = 0")
	for i := 1; i < MaxDepth; i++ {
		sb.WriteString(" AND a = 0")
	}
	orig := MustCompile(sb.String())
	data, err := MarshalNode(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := UnmarshalNode(data)
	if err != nil {
		t.Fatalf("unmarshal tree of depth %d: %v", Depth(orig), err)
	}
	if Depth(decoded) != MaxDepth {
		t.Errorf("depth %d, want %d", Depth(decoded), MaxDepth)
	}
}

func TestUnmarshalLowercaseOperator(t *testing.T) {
	node, err := UnmarshalNode([]byte(`{"type":"logical","operator":"or",
		"left":{"type":"comparison","field":"a","operator":"=","value":1},
		"right":{"type":"comparison","field":"b","operator":"=","value":2}}`))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if l, ok := node.(Logical); !ok || l.Op != OpOr {
		t.Errorf("got %#v", node)
	}
}

func TestUnmarshalErrors(t *testing.T) {
	cmp := `{"type":"comparison","field":"a","operator":"=","value":1}`
	tests := []struct {
		name string
		json string
		path string
		msg  string
	}{
		{"syntax", `{"type":`, "$", ""},
		{"not object", `[1]`, "$", "expected object"},
		{"missing type", `{"field":"a"}`, "$", `missing "type"`},
		{"type not string", `{"type":1}`, "$", `"type" must be a string`},
		{"unknown type", `{"type":"not"}`, "$", `unknown node type "not"`},
		{"unknown compare op", `{"type":"comparison","field":"a","operator":"==","value":1}`, "$.operator", "unknown comparison operator"},
		{"unknown logical op", `{"type":"logical","operator":"XOR","left":` + cmp + `,"right":` + cmp + `}`, "$.operator", "unknown logical operator"},
		{"missing right", `{"type":"logical","operator":"AND","left":` + cmp + `}`, "$.right", "missing node"},
		{"bad child", `{"type":"logical","operator":"AND","left":` + cmp + `,"right":"x"}`, "$.right", "expected object"},
		{"bad field", `{"type":"comparison","field":"1a","operator":"=","value":1}`, "$.field", "invalid field name"},
		{"keyword field", `{"type":"comparison","field":"and","operator":"=","value":1}`, "$.field", "invalid field name"},
		{"missing value", `{"type":"comparison","field":"a","operator":"="}`, "$", `missing "value"`},
		{"null value", `{"type":"comparison","field":"a","operator":"=","value":null}`, "$.value", "unsupported"},
		{"object value", `{"type":"comparison","field":"a","operator":"=","value":{}}`, "$.value", "unsupported"},
		{"unexpected key", `{"type":"comparison","field":"a","operator":"=","value":1,"extra":true}`, "$", `unexpected key "extra"`},
		{"comparison key on logical", `{"type":"logical","operator":"AND","left":` + cmp + `,"right":` + cmp + `,"value":1}`, "$", `unexpected key "value"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalNode([]byte(tt.json))
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecodeError, got %T: %v", err, err)
			}
			if de.Path != tt.path {
				t.Errorf("expected path %q, got %q (%v)", tt.path, de.Path, err)
			}
			if !strings.Contains(de.Msg, tt.msg) {
				t.Errorf("expected message containing %q, got %q", tt.msg, de.Msg)
			}
		})
	}
}

func TestUnmarshalTooDeep(t *testing.T) {
	cmp := `{"type":"comparison","field":"a","operator":"=","value":1}`
	doc := cmp
	for i := 0; i < MaxDepth; i++ {
		doc = `{"type":"logical","operator":"AND","left":` + cmp + `,"right":` + doc + `}`
	}
	_, err := UnmarshalNode([]byte(doc))
	var de *DecodeError
	if !errors.As(err, &de) || !strings.Contains(de.Msg, "deeper than") {
		t.Fatalf("expected depth error, got %v", err)
	}
}
