package value

import "testing"

func TestEncodeDecode_Primitives(t *testing.T) {
	cases := []*Value{
		NewBool(true),
		NewS8(-12),
		NewU8(250),
		NewS64(-9223372036854775808),
		NewU64(18446744073709551615),
		NewF32(3.5),
		NewF64(2.718281828),
		NewChar('λ'),
		NewString("hello, golem"),
	}
	for _, v := range cases {
		data, err := Encode(v)
		if err != nil {
			t.Fatalf("Encode(%v): %v", v.Kind, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%v): %v", v.Kind, err)
		}
		if !got.Equal(v) {
			t.Errorf("round trip mismatch for %v: got %+v, want %+v", v.Kind, got, v)
		}
	}
}

func TestEncodeDecode_Composite(t *testing.T) {
	rec := NewRecord([]string{"a", "b", "c"}, []*Value{
		NewString("x"),
		NewS32(200),
		NewBool(true),
	})
	variant := NewVariant(4, "e", rec)
	list := NewList(NewS32(1), NewS32(2), NewS32(3))
	tuple := NewTuple(NewString("value1"), NewOptionSome(NewS32(10)), NewOptionNone())

	for _, v := range []*Value{rec, variant, list, tuple} {
		data, err := Encode(v)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !got.Equal(v) {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, v)
		}
	}
}

func TestEncodeDAG_SharedSubvalueEncodedOnce(t *testing.T) {
	shared := NewRecord([]string{"x"}, []*Value{NewS32(42)})
	root := NewTuple(shared, shared, shared)

	nodes := EncodeDAG(root)

	// The shared record + its child should appear exactly once each, plus
	// the tuple node itself: 3 nodes total, not 7.
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes for deduplicated DAG, got %d", len(nodes))
	}

	decoded, err := DecodeDAG(nodes)
	if err != nil {
		t.Fatalf("DecodeDAG: %v", err)
	}
	if !decoded.Equal(root) {
		t.Fatalf("decoded DAG not structurally equal to original")
	}
	// All three tuple elements decode to the same pointer since they share
	// an index in the node vector.
	if decoded.Elems[0] != decoded.Elems[1] || decoded.Elems[1] != decoded.Elems[2] {
		t.Fatalf("expected shared subvalue to decode to a single shared pointer")
	}
}

func TestDecodeDAG_RootIsLastEntry(t *testing.T) {
	v := NewTuple(NewS32(1), NewList(NewS32(2), NewS32(3)))
	nodes := EncodeDAG(v)
	if nodes[len(nodes)-1].Kind != KindTuple {
		t.Fatalf("expected root (tuple) to be the last node, got %v", nodes[len(nodes)-1].Kind)
	}
}

// Bridge encoding scenario from the end-to-end spec: a 3-element tuple
// combining a string, some(10) and none.
func TestScenario_OptionQMark(t *testing.T) {
	v := NewTuple(NewString("value1"), NewOptionSome(NewS32(10)), NewOptionNone())
	if v.Elems[1].Kind != KindOption || !v.Elems[1].HasValue {
		t.Fatalf("expected some(10) at index 1")
	}
	if v.Elems[2].HasValue {
		t.Fatalf("expected none at index 2")
	}
}

// Bridge scenario: the variant{case_idx:4, payload:record} value for a
// tagged-union whose case 4 is "e" carries that case index, name and payload.
func TestScenario_TaggedUnionValue(t *testing.T) {
	rec := NewRecord([]string{"a", "b", "c"}, []*Value{
		NewString("x"), NewS32(200), NewBool(true),
	})
	v := NewVariant(4, "e", rec)
	if v.CaseIdx != 4 || v.CaseName != "e" {
		t.Fatalf("unexpected case: idx=%d name=%q", v.CaseIdx, v.CaseName)
	}
	if !v.Elems[0].Equal(rec) {
		t.Fatalf("payload mismatch")
	}
}
