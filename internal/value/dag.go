package value

import "fmt"

// Node is one entry of the flattened DAG encoding (§3.3, §9): a value is
// stored as a vector of nodes where each node is either a leaf or references
// other nodes by index, and the root is the last entry.
//
// Shared *Value pointers in the source tree are encoded once and referenced
// by index from every occurrence, avoiding the quadratic blow-up of naively
// re-encoding repeated sub-values. True cyclic references (a node
// transitively pointing back to an ancestor) do not occur in component-model
// values — every guest-visible type is well-founded — so encoding uses a
// plain post-order walk rather than forward-reference placeholders.
type Node struct {
	Kind Kind

	Bool bool
	Int  int64
	UInt uint64
	F32  float32
	F64  float64
	Char rune
	Str  string

	Children   []uint32 // indices into the node vector
	FieldNames []string // Record field names, parallel to Children

	CaseIdx  uint32
	CaseName string

	HasValue bool
	IsErr    bool

	FlagsSet []string

	HandleURI string
	HandleID  uint64
}

// EncodeDAG flattens a value tree into its node vector. The root value's
// node is always the last element.
func EncodeDAG(root *Value) []Node {
	memo := make(map[*Value]uint32)
	var nodes []Node

	var walk func(v *Value) uint32
	walk = func(v *Value) uint32 {
		if idx, ok := memo[v]; ok {
			return idx
		}
		children := make([]uint32, len(v.Elems))
		for i, e := range v.Elems {
			children[i] = walk(e)
		}
		n := Node{
			Kind:       v.Kind,
			Bool:       v.B,
			Int:        v.I,
			UInt:       v.U,
			F32:        v.F32,
			F64:        v.F64,
			Char:       v.Ch,
			Str:        v.Str,
			Children:   children,
			FieldNames: v.Fields,
			CaseIdx:    v.CaseIdx,
			CaseName:   v.CaseName,
			HasValue:   v.HasValue,
			IsErr:      v.IsErr,
			FlagsSet:   v.FlagsSet,
			HandleURI:  v.HandleURI,
			HandleID:   v.HandleID,
		}
		idx := uint32(len(nodes))
		nodes = append(nodes, n)
		memo[v] = idx
		return idx
	}
	walk(root)
	return nodes
}

// DecodeDAG reconstructs a value tree from its node vector. Decoding is a
// post-order walk that builds each index's Value exactly once ("take
// ownership") and reuses the built pointer for every later reference to the
// same index, so shared subgraphs decode to structurally equal values
// without being re-materialized or cloned.
func DecodeDAG(nodes []Node) (*Value, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("value: DecodeDAG: empty node vector")
	}

	built := make([]*Value, len(nodes))
	var build func(idx uint32) (*Value, error)
	build = func(idx uint32) (*Value, error) {
		if int(idx) >= len(nodes) {
			return nil, fmt.Errorf("value: DecodeDAG: child index %d out of range (%d nodes)", idx, len(nodes))
		}
		if v := built[idx]; v != nil {
			return v, nil
		}
		n := nodes[idx]
		v := &Value{
			Kind:     n.Kind,
			B:        n.Bool,
			I:        n.Int,
			U:        n.UInt,
			F32:      n.F32,
			F64:      n.F64,
			Ch:       n.Char,
			Str:      n.Str,
			Fields:   n.FieldNames,
			CaseIdx:  n.CaseIdx,
			CaseName: n.CaseName,
			HasValue: n.HasValue,
			IsErr:    n.IsErr,
			FlagsSet: n.FlagsSet,
			HandleURI: n.HandleURI,
			HandleID:  n.HandleID,
		}
		built[idx] = v

		if len(n.Children) > 0 {
			elems := make([]*Value, len(n.Children))
			for i, c := range n.Children {
				cv, err := build(c)
				if err != nil {
					return nil, err
				}
				elems[i] = cv
			}
			v.Elems = elems
		}
		return v, nil
	}

	return build(uint32(len(nodes) - 1))
}
