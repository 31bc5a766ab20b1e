package value

// Type describes the shape of a Value independently of any particular
// instance (§3.3: "the analogous type is encoded separately"). It is used by
// the RPC engine (§4.5) to validate stub call signatures and by the
// transformer pipeline (§4.6) to compare exported function signatures during
// update conflict detection.
type Type struct {
	Kind Kind

	Elem *Type // List, Option: element type

	Items []Type // Tuple: positional item types

	FieldNames []string // Record
	FieldTypes []Type

	CaseNames   []string // Variant, Enum
	CasePayload []*Type  // Variant only; nil entry means that case has no payload

	Ok  *Type // Result: ok branch type, nil if void
	Err *Type // Result: err branch type, nil if void

	FlagNames []string // Flags
}

// Equal reports whether two types describe the same shape.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindList, KindOption:
		return typePtrEqual(t.Elem, o.Elem)
	case KindTuple:
		return typeSliceEqual(t.Items, o.Items)
	case KindRecord:
		if !equalStrings(t.FieldNames, o.FieldNames) {
			return false
		}
		return typeSliceEqual(t.FieldTypes, o.FieldTypes)
	case KindVariant:
		if !equalStrings(t.CaseNames, o.CaseNames) {
			return false
		}
		if len(t.CasePayload) != len(o.CasePayload) {
			return false
		}
		for i := range t.CasePayload {
			if !typePtrEqual(t.CasePayload[i], o.CasePayload[i]) {
				return false
			}
		}
		return true
	case KindEnum:
		return equalStrings(t.CaseNames, o.CaseNames)
	case KindResult:
		return typePtrEqual(t.Ok, o.Ok) && typePtrEqual(t.Err, o.Err)
	case KindFlags:
		return equalStrings(t.FlagNames, o.FlagNames)
	default:
		return true // primitives: Kind equality is sufficient
	}
}

func typePtrEqual(a, b *Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func typeSliceEqual(a, b []Type) bool {
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
