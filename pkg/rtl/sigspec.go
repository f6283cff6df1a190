// Copyright (C) 2018 Storj Labs, Inc.
// See LICENSE for copying information.

// Package rtl implements the netlist intermediate representation the
// optimization passes operate on: designs, modules, cells, wires and
// bit-level signal vectors.
package rtl

import (
	"strconv"
	"strings"

	"github.com/zeebo/errs"
)

// Error is the default rtl errs class.
var Error = errs.Class("rtl error")

// State is the value of a constant signal bit.
type State int8

const (
	// S0 is a constant low bit.
	S0 State = iota
	// S1 is a constant high bit.
	S1
	// Sx is an undefined bit.
	Sx
	// Sz is a high-impedance bit.
	Sz
)

func (s State) String() string {
	switch s {
	case S0:
		return "0"
	case S1:
		return "1"
	case Sz:
		return "z"
	default:
		return "x"
	}
}

// SigBit is one bit of a signal. It either refers to a bit of a wire
// (Wire != nil) or holds a constant state. SigBit is comparable and is
// used as a map key throughout the pass code.
type SigBit struct {
	Wire   *Wire
	Offset int
	State  State
}

// IsWire reports whether the bit refers to a wire bit.
func (b SigBit) IsWire() bool { return b.Wire != nil }

func (b SigBit) String() string {
	if b.Wire == nil {
		return b.State.String()
	}
	if b.Wire.Width == 1 {
		return b.Wire.Name
	}
	return b.Wire.Name + "[" + itoa(b.Offset) + "]"
}

// ConstBit returns a constant signal bit.
func ConstBit(s State) SigBit { return SigBit{State: s} }

// WireBit returns the bit at offset of the given wire.
func WireBit(w *Wire, offset int) SigBit { return SigBit{Wire: w, Offset: offset} }

// SigSpec is an ordered vector of signal bits. Index 0 is the least
// significant bit. The zero value is the empty signal.
type SigSpec struct {
	bits []SigBit
}

// S builds a signal from the given bits, least significant first.
func S(bits ...SigBit) SigSpec {
	return SigSpec{bits: bits}
}

// WireSig returns the full signal of a wire.
func WireSig(w *Wire) SigSpec {
	bits := make([]SigBit, w.Width)
	for i := range bits {
		bits[i] = WireBit(w, i)
	}
	return SigSpec{bits: bits}
}

// ConstSig returns a width-bit signal holding the unsigned value of v.
func ConstSig(v int, width int) SigSpec {
	bits := make([]SigBit, width)
	for i := range bits {
		if v&(1<<uint(i)) != 0 {
			bits[i] = ConstBit(S1)
		} else {
			bits[i] = ConstBit(S0)
		}
	}
	return SigSpec{bits: bits}
}

// Size returns the number of bits.
func (s SigSpec) Size() int { return len(s.bits) }

// Bits returns a copy of the bit vector.
func (s SigSpec) Bits() []SigBit {
	out := make([]SigBit, len(s.bits))
	copy(out, s.bits)
	return out
}

// Bit returns the bit at index i.
func (s SigSpec) Bit(i int) SigBit { return s.bits[i] }

// SetBit replaces the bit at index i and returns the updated signal.
// The receiver is not modified.
func (s SigSpec) SetBit(i int, b SigBit) SigSpec {
	out := s.Bits()
	out[i] = b
	return SigSpec{bits: out}
}

// Extract returns the length-bit sub-vector starting at offset.
func (s SigSpec) Extract(offset, length int) SigSpec {
	out := make([]SigBit, length)
	copy(out, s.bits[offset:offset+length])
	return SigSpec{bits: out}
}

// Append returns the concatenation of s followed by t.
func (s SigSpec) Append(t SigSpec) SigSpec {
	out := make([]SigBit, 0, len(s.bits)+len(t.bits))
	out = append(out, s.bits...)
	out = append(out, t.bits...)
	return SigSpec{bits: out}
}

// IsFullyConst reports whether every bit is a constant.
func (s SigSpec) IsFullyConst() bool {
	for _, b := range s.bits {
		if b.IsWire() {
			return false
		}
	}
	return true
}

// AsBool interprets a fully constant signal as a boolean: true iff any
// bit is S1.
func (s SigSpec) AsBool() bool {
	for _, b := range s.bits {
		if !b.IsWire() && b.State == S1 {
			return true
		}
	}
	return false
}

// Equal reports whether two signals have identical bits.
func (s SigSpec) Equal(t SigSpec) bool {
	if len(s.bits) != len(t.bits) {
		return false
	}
	for i := range s.bits {
		if s.bits[i] != t.bits[i] {
			return false
		}
	}
	return true
}

func (s SigSpec) String() string {
	if len(s.bits) == 0 {
		return "{}"
	}
	if len(s.bits) == 1 {
		return s.bits[0].String()
	}
	// render most significant first, run-length compressing wire spans
	var parts []string
	for i := len(s.bits) - 1; i >= 0; {
		b := s.bits[i]
		if !b.IsWire() {
			j := i
			for j >= 0 && !s.bits[j].IsWire() {
				j--
			}
			var sb strings.Builder
			for k := i; k > j; k-- {
				sb.WriteString(s.bits[k].State.String())
			}
			parts = append(parts, itoa(i-j)+"'"+sb.String())
			i = j
			continue
		}
		j := i
		for j >= 0 && s.bits[j].Wire == b.Wire && s.bits[j].Offset == b.Offset-(i-j) {
			j--
		}
		if i-j == b.Wire.Width && s.bits[j+1].Offset == 0 {
			parts = append(parts, b.Wire.Name)
		} else if i == j+1 {
			parts = append(parts, s.bits[i].String())
		} else {
			parts = append(parts, b.Wire.Name+"["+itoa(b.Offset)+":"+itoa(s.bits[j+1].Offset)+"]")
		}
		i = j
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func itoa(v int) string { return strconv.Itoa(v) }
