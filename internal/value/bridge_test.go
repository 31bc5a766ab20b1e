package value

import (
	"encoding/json"
	"testing"
)

func TestDecodeParams_OptionQMark(t *testing.T) {
	// Scenario 1: FunOptionalQMark(string, option<s32>, option<s32>)
	paramTypes := []Type{
		{Kind: KindString},
		{Kind: KindOption, Elem: &Type{Kind: KindS32}},
		{Kind: KindOption, Elem: &Type{Kind: KindS32}},
	}
	got, err := DecodeParams(paramTypes, json.RawMessage(`["value1", 10, null]`))
	if err != nil {
		t.Fatalf("DecodeParams: %v", err)
	}

	want := []*Value{
		NewString("value1"),
		NewOptionSome(NewS32(10)),
		NewOptionNone(),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d params, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("param %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDecodeJSON_Variant(t *testing.T) {
	// Scenario 2: variant{case1(s32),case2(string),case3(bool),case4(record)}
	variantType := Type{
		Kind:      KindVariant,
		CaseNames: []string{"case1", "case2", "case3", "case4"},
		CasePayload: []*Type{
			{Kind: KindS32},
			{Kind: KindString},
			{Kind: KindBool},
			{Kind: KindRecord},
		},
	}

	got, err := DecodeJSON(variantType, json.RawMessage(`{"tag":"case3","val":true}`))
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}

	want := NewVariant(2, "case3", NewBool(true))
	if !got.Equal(want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.CaseIdx != 2 {
		t.Errorf("CaseIdx = %d, want 2", got.CaseIdx)
	}
}

func TestEncodeJSON_TaggedUnion(t *testing.T) {
	// Scenario 3: variant{case_idx:4, payload:record{"x",s32(200),bool(true)}}
	// for a tagged union whose case at index 4 is "e".
	rec := NewRecord([]string{"a", "b", "c"}, []*Value{
		NewString("x"),
		NewS32(200),
		NewBool(true),
	})
	v := NewVariant(4, "e", rec)

	raw, err := EncodeJSON(v)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got["tag"] != "e" {
		t.Errorf("tag = %v, want %q", got["tag"], "e")
	}
	val, ok := got["val"].(map[string]interface{})
	if !ok {
		t.Fatalf("val is not an object: %+v", got["val"])
	}
	if val["a"] != "x" {
		t.Errorf("val.a = %v, want %q", val["a"], "x")
	}
	if val["b"] != float64(200) {
		t.Errorf("val.b = %v, want 200", val["b"])
	}
	if val["c"] != true {
		t.Errorf("val.c = %v, want true", val["c"])
	}
}

func TestEncodeJSON_OptionNone(t *testing.T) {
	raw, err := EncodeJSON(NewOptionNone())
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	if string(raw) != "null" {
		t.Errorf("got %s, want null", raw)
	}
}

func TestEncodeJSON_Enum(t *testing.T) {
	raw, err := EncodeJSON(NewEnum(1, "running"))
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	if string(raw) != `"running"` {
		t.Errorf("got %s, want %q", raw, "running")
	}
}

func TestDecodeJSON_RoundTripsThroughEncode(t *testing.T) {
	recType := Type{
		Kind:       KindRecord,
		FieldNames: []string{"a", "b", "c"},
		FieldTypes: []Type{{Kind: KindString}, {Kind: KindS32}, {Kind: KindBool}},
	}
	rec := NewRecord([]string{"a", "b", "c"}, []*Value{
		NewString("x"),
		NewS32(200),
		NewBool(true),
	})

	raw, err := EncodeJSON(rec)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	got, err := DecodeJSON(recType, raw)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if !got.Equal(rec) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, rec)
	}
}
