package value

import (
	"encoding/json"
	"fmt"
)

// Bridge encode/decode (§6 "Bridge SDK contract"): the JSON wire format a
// generated bridge SDK exchanges with a caller, and the typed value model
// of value.go that the engine core stores and replays. There is no teacher
// package this is grounded on directly (the same gap noted in value.go's
// package doc) — the encoded shape follows the spec literally: option →
// nullable (null when absent); variant → {tag, val?}; enum → string name;
// record → object; tuple/list → array; flags → array of set names.
//
// Decoding needs a Type alongside the raw JSON because the wire form erases
// information the value model requires (an enum/variant tag name must be
// resolved to a case index; a bare JSON number doesn't say whether it's s32
// or u64). Encoding needs no Type: every Value already carries its own
// case/field names.

// EncodeJSON converts a value to its bridge JSON wire form.
func EncodeJSON(v *Value) (json.RawMessage, error) {
	if v == nil {
		return json.Marshal(nil)
	}
	switch v.Kind {
	case KindBool:
		return json.Marshal(v.B)
	case KindS8, KindS16, KindS32, KindS64:
		return json.Marshal(v.I)
	case KindU8, KindU16, KindU32, KindU64:
		return json.Marshal(v.U)
	case KindF32:
		return json.Marshal(v.F32)
	case KindF64:
		return json.Marshal(v.F64)
	case KindChar:
		return json.Marshal(string(v.Ch))
	case KindString:
		return json.Marshal(v.Str)
	case KindList, KindTuple:
		items := make([]json.RawMessage, len(v.Elems))
		for i, e := range v.Elems {
			enc, err := EncodeJSON(e)
			if err != nil {
				return nil, err
			}
			items[i] = enc
		}
		return json.Marshal(items)
	case KindRecord:
		obj := make(map[string]json.RawMessage, len(v.Elems))
		for i, e := range v.Elems {
			enc, err := EncodeJSON(e)
			if err != nil {
				return nil, err
			}
			obj[v.Fields[i]] = enc
		}
		return marshalOrderedObject(v.Fields, obj)
	case KindVariant:
		return encodeTagged(v.CaseName, v.HasValue, elemOrNil(v))
	case KindEnum:
		return json.Marshal(v.CaseName)
	case KindOption:
		if !v.HasValue {
			return json.Marshal(nil)
		}
		return EncodeJSON(v.Elems[0])
	case KindResult:
		tag := "ok"
		if v.IsErr {
			tag = "err"
		}
		return encodeTagged(tag, v.HasValue, elemOrNil(v))
	case KindFlags:
		return json.Marshal(v.FlagsSet)
	case KindHandle:
		return json.Marshal(struct {
			URI string `json:"uri"`
			ID  uint64 `json:"id"`
		}{v.HandleURI, v.HandleID})
	default:
		return nil, fmt.Errorf("value: EncodeJSON: unhandled kind %s", v.Kind)
	}
}

func elemOrNil(v *Value) *Value {
	if !v.HasValue || len(v.Elems) == 0 {
		return nil
	}
	return v.Elems[0]
}

func encodeTagged(tag string, hasVal bool, payload *Value) (json.RawMessage, error) {
	if !hasVal {
		return json.Marshal(struct {
			Tag string `json:"tag"`
		}{tag})
	}
	val, err := EncodeJSON(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Tag string          `json:"tag"`
		Val json.RawMessage `json:"val"`
	}{tag, val})
}

// marshalOrderedObject builds a JSON object preserving field order, since
// Go's map iteration (and encoding/json's alphabetical re-sort) would
// otherwise scramble record field order on the wire.
func marshalOrderedObject(order []string, fields map[string]json.RawMessage) (json.RawMessage, error) {
	var buf []byte
	buf = append(buf, '{')
	for i, name := range order {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, fields[name]...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// DecodeJSON converts a bridge JSON wire value into a typed Value, using t
// to resolve what the wire form alone can't carry (tag names to case
// indices, numeric width, record field types).
func DecodeJSON(t Type, raw json.RawMessage) (*Value, error) {
	switch t.Kind {
	case KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("value: DecodeJSON: bool: %w", err)
		}
		return NewBool(b), nil
	case KindS8, KindS16, KindS32, KindS64:
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("value: DecodeJSON: %s: %w", t.Kind, err)
		}
		return &Value{Kind: t.Kind, I: n}, nil
	case KindU8, KindU16, KindU32, KindU64:
		var n uint64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("value: DecodeJSON: %s: %w", t.Kind, err)
		}
		return &Value{Kind: t.Kind, U: n}, nil
	case KindF32:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("value: DecodeJSON: f32: %w", err)
		}
		return NewF32(float32(f)), nil
	case KindF64:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("value: DecodeJSON: f64: %w", err)
		}
		return NewF64(f), nil
	case KindChar:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("value: DecodeJSON: char: %w", err)
		}
		r := []rune(s)
		if len(r) != 1 {
			return nil, fmt.Errorf("value: DecodeJSON: char: expected exactly one rune, got %q", s)
		}
		return NewChar(r[0]), nil
	case KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("value: DecodeJSON: string: %w", err)
		}
		return NewString(s), nil
	case KindList:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("value: DecodeJSON: list: %w", err)
		}
		elems := make([]*Value, len(items))
		for i, item := range items {
			v, err := DecodeJSON(*t.Elem, item)
			if err != nil {
				return nil, fmt.Errorf("value: DecodeJSON: list[%d]: %w", i, err)
			}
			elems[i] = v
		}
		return NewList(elems...), nil
	case KindTuple:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("value: DecodeJSON: tuple: %w", err)
		}
		if len(items) != len(t.Items) {
			return nil, fmt.Errorf("value: DecodeJSON: tuple: got %d elements, want %d", len(items), len(t.Items))
		}
		elems := make([]*Value, len(items))
		for i, item := range items {
			v, err := DecodeJSON(t.Items[i], item)
			if err != nil {
				return nil, fmt.Errorf("value: DecodeJSON: tuple[%d]: %w", i, err)
			}
			elems[i] = v
		}
		return NewTuple(elems...), nil
	case KindRecord:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("value: DecodeJSON: record: %w", err)
		}
		elems := make([]*Value, len(t.FieldNames))
		for i, name := range t.FieldNames {
			field, ok := obj[name]
			if !ok {
				return nil, fmt.Errorf("value: DecodeJSON: record: missing field %q", name)
			}
			v, err := DecodeJSON(t.FieldTypes[i], field)
			if err != nil {
				return nil, fmt.Errorf("value: DecodeJSON: record.%s: %w", name, err)
			}
			elems[i] = v
		}
		return NewRecord(append([]string(nil), t.FieldNames...), elems), nil
	case KindVariant:
		tag, val, err := decodeTagged(raw)
		if err != nil {
			return nil, fmt.Errorf("value: DecodeJSON: variant: %w", err)
		}
		idx, ok := indexOf(t.CaseNames, tag)
		if !ok {
			return nil, fmt.Errorf("value: DecodeJSON: variant: unknown case %q", tag)
		}
		var payloadType *Type
		if idx < len(t.CasePayload) {
			payloadType = t.CasePayload[idx]
		}
		if payloadType == nil {
			return NewVariant(uint32(idx), tag, nil), nil
		}
		if val == nil {
			return nil, fmt.Errorf("value: DecodeJSON: variant: case %q requires a payload", tag)
		}
		payload, err := DecodeJSON(*payloadType, val)
		if err != nil {
			return nil, fmt.Errorf("value: DecodeJSON: variant.%s: %w", tag, err)
		}
		return NewVariant(uint32(idx), tag, payload), nil
	case KindEnum:
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return nil, fmt.Errorf("value: DecodeJSON: enum: %w", err)
		}
		idx, ok := indexOf(t.CaseNames, name)
		if !ok {
			return nil, fmt.Errorf("value: DecodeJSON: enum: unknown case %q", name)
		}
		return NewEnum(uint32(idx), name), nil
	case KindOption:
		if string(raw) == "null" {
			return NewOptionNone(), nil
		}
		inner, err := DecodeJSON(*t.Elem, raw)
		if err != nil {
			return nil, fmt.Errorf("value: DecodeJSON: option: %w", err)
		}
		return NewOptionSome(inner), nil
	case KindResult:
		tag, val, err := decodeTagged(raw)
		if err != nil {
			return nil, fmt.Errorf("value: DecodeJSON: result: %w", err)
		}
		switch tag {
		case "ok":
			if t.Ok == nil {
				return NewResultOk(nil), nil
			}
			inner, err := DecodeJSON(*t.Ok, val)
			if err != nil {
				return nil, fmt.Errorf("value: DecodeJSON: result.ok: %w", err)
			}
			return NewResultOk(inner), nil
		case "err":
			if t.Err == nil {
				return NewResultErr(nil), nil
			}
			inner, err := DecodeJSON(*t.Err, val)
			if err != nil {
				return nil, fmt.Errorf("value: DecodeJSON: result.err: %w", err)
			}
			return NewResultErr(inner), nil
		default:
			return nil, fmt.Errorf("value: DecodeJSON: result: tag must be \"ok\" or \"err\", got %q", tag)
		}
	case KindFlags:
		var set []string
		if err := json.Unmarshal(raw, &set); err != nil {
			return nil, fmt.Errorf("value: DecodeJSON: flags: %w", err)
		}
		return NewFlags(set), nil
	case KindHandle:
		var h struct {
			URI string `json:"uri"`
			ID  uint64 `json:"id"`
		}
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, fmt.Errorf("value: DecodeJSON: handle: %w", err)
		}
		return NewHandle(h.URI, h.ID), nil
	default:
		return nil, fmt.Errorf("value: DecodeJSON: unhandled kind %s", t.Kind)
	}
}

// DecodeParams decodes a JSON parameter array (the bridge call convention
// of §6) against the function's positional parameter types, e.g. scenario
// 1's `["value1", 10, null]` against `(string, option<s32>, option<s32>)`.
func DecodeParams(paramTypes []Type, raw json.RawMessage) ([]*Value, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("value: DecodeParams: %w", err)
	}
	if len(items) != len(paramTypes) {
		return nil, fmt.Errorf("value: DecodeParams: got %d arguments, want %d", len(items), len(paramTypes))
	}
	params := make([]*Value, len(items))
	for i, item := range items {
		v, err := DecodeJSON(paramTypes[i], item)
		if err != nil {
			return nil, fmt.Errorf("value: DecodeParams: arg %d: %w", i, err)
		}
		params[i] = v
	}
	return params, nil
}

// decodeTagged parses the {"tag": ..., "val": ...} shape shared by variant
// and result wire encodings. val is nil when no "val" key is present.
func decodeTagged(raw json.RawMessage) (tag string, val json.RawMessage, err error) {
	var env struct {
		Tag string          `json:"tag"`
		Val json.RawMessage `json:"val"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, err
	}
	return env.Tag, env.Val, nil
}

func indexOf(names []string, name string) (int, bool) {
	for i, n := range names {
		if n == name {
			return i, true
		}
	}
	return 0, false
}
