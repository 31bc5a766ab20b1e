package value

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// WireVersion is the current binary encoding version (§6 "Oplog wire
// format: a versioned binary encoding"). Readers must accept a version they
// recognise and reject (not silently misinterpret) anything newer.
const WireVersion uint8 = 1

// Encode serializes a value tree to its versioned binary form. Round-trips
// with Decode: Decode(Encode(v)) equals v for every value of every type
// (§4.2).
func Encode(v *Value) ([]byte, error) {
	nodes := EncodeDAG(v)
	var buf bytes.Buffer
	buf.WriteByte(WireVersion)
	writeUvarint(&buf, uint64(len(nodes)))
	for _, n := range nodes {
		if err := writeNode(&buf, n); err != nil {
			return nil, fmt.Errorf("value: Encode: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// Decode parses a versioned binary value back into a value tree.
func Decode(data []byte) (*Value, error) {
	r := bytes.NewReader(data)
	ver, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("value: Decode: read version: %w", err)
	}
	if ver != WireVersion {
		return nil, fmt.Errorf("value: Decode: unsupported wire version %d (want %d)", ver, WireVersion)
	}
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("value: Decode: read node count: %w", err)
	}
	nodes := make([]Node, count)
	for i := range nodes {
		n, err := readNode(r)
		if err != nil {
			return nil, fmt.Errorf("value: Decode: node %d: %w", i, err)
		}
		nodes[i] = n
	}
	return DecodeDAG(nodes)
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := r.Read(b[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeStrings(buf *bytes.Buffer, ss []string) {
	writeUvarint(buf, uint64(len(ss)))
	for _, s := range ss {
		writeString(buf, s)
	}
}

func readStrings(r *bytes.Reader) ([]string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]string, n)
	for i := range out {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// writeNode serializes one Node. Every field is written unconditionally —
// this is simpler than a presence bitmask and the size cost is small at
// oplog scale; kinds that don't use a field write its zero value.
func writeNode(buf *bytes.Buffer, n Node) error {
	buf.WriteByte(byte(n.Kind))

	b := byte(0)
	if n.Bool {
		b = 1
	}
	buf.WriteByte(b)

	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], uint64(n.Int))
	buf.Write(tmp8[:])
	binary.LittleEndian.PutUint64(tmp8[:], n.UInt)
	buf.Write(tmp8[:])
	binary.LittleEndian.PutUint32(tmp8[:4], math.Float32bits(n.F32))
	buf.Write(tmp8[:4])
	binary.LittleEndian.PutUint64(tmp8[:], math.Float64bits(n.F64))
	buf.Write(tmp8[:])
	binary.LittleEndian.PutUint32(tmp8[:4], uint32(n.Char))
	buf.Write(tmp8[:4])

	writeString(buf, n.Str)

	writeUvarint(buf, uint64(len(n.Children)))
	for _, c := range n.Children {
		writeUvarint(buf, uint64(c))
	}
	writeStrings(buf, n.FieldNames)

	writeUvarint(buf, uint64(n.CaseIdx))
	writeString(buf, n.CaseName)

	hv := byte(0)
	if n.HasValue {
		hv = 1
	}
	buf.WriteByte(hv)
	ie := byte(0)
	if n.IsErr {
		ie = 1
	}
	buf.WriteByte(ie)

	writeStrings(buf, n.FlagsSet)
	writeString(buf, n.HandleURI)
	binary.LittleEndian.PutUint64(tmp8[:], n.HandleID)
	buf.Write(tmp8[:])

	return nil
}

func readNode(r *bytes.Reader) (Node, error) {
	var n Node

	kb, err := r.ReadByte()
	if err != nil {
		return n, err
	}
	n.Kind = Kind(kb)

	bb, err := r.ReadByte()
	if err != nil {
		return n, err
	}
	n.Bool = bb != 0

	var tmp8 [8]byte
	if _, err := readFull(r, tmp8[:]); err != nil {
		return n, err
	}
	n.Int = int64(binary.LittleEndian.Uint64(tmp8[:]))

	if _, err := readFull(r, tmp8[:]); err != nil {
		return n, err
	}
	n.UInt = binary.LittleEndian.Uint64(tmp8[:])

	if _, err := readFull(r, tmp8[:4]); err != nil {
		return n, err
	}
	n.F32 = math.Float32frombits(binary.LittleEndian.Uint32(tmp8[:4]))

	if _, err := readFull(r, tmp8[:]); err != nil {
		return n, err
	}
	n.F64 = math.Float64frombits(binary.LittleEndian.Uint64(tmp8[:]))

	if _, err := readFull(r, tmp8[:4]); err != nil {
		return n, err
	}
	n.Char = rune(binary.LittleEndian.Uint32(tmp8[:4]))

	if n.Str, err = readString(r); err != nil {
		return n, err
	}

	childCount, err := binary.ReadUvarint(r)
	if err != nil {
		return n, err
	}
	if childCount > 0 {
		n.Children = make([]uint32, childCount)
		for i := range n.Children {
			c, err := binary.ReadUvarint(r)
			if err != nil {
				return n, err
			}
			n.Children[i] = uint32(c)
		}
	}
	if n.FieldNames, err = readStrings(r); err != nil {
		return n, err
	}

	caseIdx, err := binary.ReadUvarint(r)
	if err != nil {
		return n, err
	}
	n.CaseIdx = uint32(caseIdx)
	if n.CaseName, err = readString(r); err != nil {
		return n, err
	}

	hv, err := r.ReadByte()
	if err != nil {
		return n, err
	}
	n.HasValue = hv != 0
	ie, err := r.ReadByte()
	if err != nil {
		return n, err
	}
	n.IsErr = ie != 0

	if n.FlagsSet, err = readStrings(r); err != nil {
		return n, err
	}
	if n.HandleURI, err = readString(r); err != nil {
		return n, err
	}
	if _, err := readFull(r, tmp8[:]); err != nil {
		return n, err
	}
	n.HandleID = binary.LittleEndian.Uint64(tmp8[:])

	return n, nil
}
