// Package value implements the typed value model of §3.3: component-model
// ABI-compatible primitives, lists, tuples, records, variants, enums,
// options, results, flags and handles, plus the DAG-shaped encoding of §3.3/
// §4.2/§9 for sharing-aware values such as composite SQL rows and recursive
// records.
//
// There is no teacher package this is grounded on directly — no repo in the
// retrieval pack implements a component-model value encoder — so the shape
// here follows the spec's own design note in §9 ("materialize as Vec<Node>;
// decoding is a post-order walk with a take-ownership pattern").
package value

import "fmt"

// Kind tags the variant of Value/Node. The analogous *type* (§3.3) is
// encoded separately in Type; Kind is shared between both since every value
// kind corresponds 1:1 to a type kind.
type Kind uint8

const (
	KindBool Kind = iota
	KindS8
	KindU8
	KindS16
	KindU16
	KindS32
	KindU32
	KindS64
	KindU64
	KindF32
	KindF64
	KindChar
	KindString
	KindList
	KindTuple
	KindRecord
	KindVariant
	KindEnum
	KindOption
	KindResult
	KindFlags
	KindHandle
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindS8:
		return "s8"
	case KindU8:
		return "u8"
	case KindS16:
		return "s16"
	case KindU16:
		return "u16"
	case KindS32:
		return "s32"
	case KindU32:
		return "u32"
	case KindS64:
		return "s64"
	case KindU64:
		return "u64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindChar:
		return "char"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindTuple:
		return "tuple"
	case KindRecord:
		return "record"
	case KindVariant:
		return "variant"
	case KindEnum:
		return "enum"
	case KindOption:
		return "option"
	case KindResult:
		return "result"
	case KindFlags:
		return "flags"
	case KindHandle:
		return "handle"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Value is a node in a (possibly shared) value tree. Composite kinds hold
// their children in Elems; leaf kinds populate the scalar fields.
//
// Elems is reused across kinds to avoid N near-identical struct shapes:
//   - List, Tuple: each item.
//   - Record: each field value, names in Fields (same length, same order).
//   - Variant: zero or one payload value (HasValue false means no payload).
//   - Option: zero (none) or one (some) value, in HasValue.
//   - Result: zero or one value for the ok/err branch (IsErr selects which).
type Value struct {
	Kind Kind

	B   bool
	I   int64 // s8..s64, sign-extended to the declared width
	U   uint64 // u8..u64, zero-extended/masked to the declared width
	F32 float32
	F64 float64
	Ch  rune
	Str string

	Elems  []*Value
	Fields []string // Record field names, parallel to Elems

	CaseIdx  uint32 // Variant/Enum: the selected case index
	CaseName string // case name; ignored by Equal, used as the tag by EncodeJSON

	HasValue bool // Option: some vs none; Variant: has a payload
	IsErr    bool // Result: err branch vs ok branch

	FlagsSet []string // Flags: names of set members

	HandleURI string // Handle: resource URI
	HandleID  uint64 // Handle: resource id
}

func NewBool(b bool) *Value { return &Value{Kind: KindBool, B: b} }

func NewS8(v int8) *Value   { return &Value{Kind: KindS8, I: int64(v)} }
func NewS16(v int16) *Value { return &Value{Kind: KindS16, I: int64(v)} }
func NewS32(v int32) *Value { return &Value{Kind: KindS32, I: int64(v)} }
func NewS64(v int64) *Value { return &Value{Kind: KindS64, I: v} }

func NewU8(v uint8) *Value   { return &Value{Kind: KindU8, U: uint64(v)} }
func NewU16(v uint16) *Value { return &Value{Kind: KindU16, U: uint64(v)} }
func NewU32(v uint32) *Value { return &Value{Kind: KindU32, U: uint64(v)} }
func NewU64(v uint64) *Value { return &Value{Kind: KindU64, U: v} }

func NewF32(v float32) *Value { return &Value{Kind: KindF32, F32: v} }
func NewF64(v float64) *Value { return &Value{Kind: KindF64, F64: v} }
func NewChar(v rune) *Value   { return &Value{Kind: KindChar, Ch: v} }
func NewString(v string) *Value { return &Value{Kind: KindString, Str: v} }

func NewList(items ...*Value) *Value  { return &Value{Kind: KindList, Elems: items} }
func NewTuple(items ...*Value) *Value { return &Value{Kind: KindTuple, Elems: items} }

// NewRecord builds a record from parallel name/value slices. Panics (a
// programmer error, caught in tests) if the slices differ in length.
func NewRecord(names []string, vals []*Value) *Value {
	if len(names) != len(vals) {
		panic("value.NewRecord: names and vals must have equal length")
	}
	return &Value{Kind: KindRecord, Fields: names, Elems: vals}
}

// NewVariant builds a variant with the given case index and optional payload.
func NewVariant(caseIdx uint32, caseName string, payload *Value) *Value {
	v := &Value{Kind: KindVariant, CaseIdx: caseIdx, CaseName: caseName}
	if payload != nil {
		v.HasValue = true
		v.Elems = []*Value{payload}
	}
	return v
}

// NewEnum builds a no-payload tagged case.
func NewEnum(caseIdx uint32, caseName string) *Value {
	return &Value{Kind: KindEnum, CaseIdx: caseIdx, CaseName: caseName}
}

// NewOptionSome / NewOptionNone build an option value.
func NewOptionSome(v *Value) *Value {
	return &Value{Kind: KindOption, HasValue: true, Elems: []*Value{v}}
}
func NewOptionNone() *Value { return &Value{Kind: KindOption} }

// NewResultOk / NewResultErr build a result<ok, err> value. Either branch may
// carry no payload (a void ok or err type).
func NewResultOk(v *Value) *Value {
	r := &Value{Kind: KindResult}
	if v != nil {
		r.HasValue = true
		r.Elems = []*Value{v}
	}
	return r
}
func NewResultErr(v *Value) *Value {
	r := &Value{Kind: KindResult, IsErr: true}
	if v != nil {
		r.HasValue = true
		r.Elems = []*Value{v}
	}
	return r
}

// NewFlags builds a flags value over the given set of member names.
func NewFlags(set []string) *Value { return &Value{Kind: KindFlags, FlagsSet: set} }

// NewHandle builds a resource handle (uri, resource id).
func NewHandle(uri string, id uint64) *Value {
	return &Value{Kind: KindHandle, HandleURI: uri, HandleID: id}
}

// Equal reports structural equality: same kind, same scalar payload, and
// recursively equal children in the same order. Two values that are not
// pointer-identical but describe the same tree are Equal — this is what §4.2
// requires of decoded shared subgraphs ("structurally equal, not necessarily
// shared").
func (v *Value) Equal(o *Value) bool {
	if v == o {
		return true
	}
	if v == nil || o == nil {
		return false
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.B == o.B
	case KindS8, KindS16, KindS32, KindS64:
		return v.I == o.I
	case KindU8, KindU16, KindU32, KindU64:
		return v.U == o.U
	case KindF32:
		return v.F32 == o.F32
	case KindF64:
		return v.F64 == o.F64
	case KindChar:
		return v.Ch == o.Ch
	case KindString:
		return v.Str == o.Str
	case KindEnum:
		return v.CaseIdx == o.CaseIdx
	case KindFlags:
		return equalStrings(v.FlagsSet, o.FlagsSet)
	case KindHandle:
		return v.HandleURI == o.HandleURI && v.HandleID == o.HandleID
	case KindVariant:
		if v.CaseIdx != o.CaseIdx || v.HasValue != o.HasValue {
			return false
		}
		return equalElems(v.Elems, o.Elems)
	case KindOption:
		if v.HasValue != o.HasValue {
			return false
		}
		return equalElems(v.Elems, o.Elems)
	case KindResult:
		if v.IsErr != o.IsErr || v.HasValue != o.HasValue {
			return false
		}
		return equalElems(v.Elems, o.Elems)
	case KindRecord:
		if !equalStrings(v.Fields, o.Fields) {
			return false
		}
		return equalElems(v.Elems, o.Elems)
	case KindList, KindTuple:
		return equalElems(v.Elems, o.Elems)
	default:
		return false
	}
}

func equalElems(a, b []*Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
