// Copyright (C) 2018 Storj Labs, Inc.
// See LICENSE for copying information.

package muxtree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/synth/pkg/rtl"
)

func addMux(m *rtl.Module, name string, a, b, s, y rtl.SigSpec) *rtl.Cell {
	typ := rtl.TypeMux
	if s.Size() > 1 {
		typ = rtl.TypePmux
	}
	cell := rtl.NewCell(name, typ)
	cell.SetPort("A", a)
	cell.SetPort("B", b)
	cell.SetPort("S", s)
	cell.SetPort("Y", y)
	cell.SetParam(rtl.ParamWidth, a.Size())
	if typ == rtl.TypePmux {
		cell.SetParam(rtl.ParamSWidth, s.Size())
	}
	m.AddCell(cell)
	return cell
}

func outputWire(m *rtl.Module, name string, width int) *rtl.Wire {
	w := m.AddWire(name, width)
	w.PortOutput = true
	return w
}

func runPass(t *testing.T, design *rtl.Design) (int, []Stats) {
	total, stats, err := Run(context.Background(), zaptest.NewLogger(t), design)
	require.NoError(t, err)
	return total, stats
}

// A two input mux with a constant high selector collapses to a direct
// connection to the selected input.
func TestConstActivatedPort(t *testing.T) {
	design := rtl.NewDesign()
	m := design.AddModule(rtl.NewModule("top"))
	w0 := m.AddWire("w0", 1)
	w1 := m.AddWire("w1", 1)
	y := outputWire(m, "y", 1)

	addMux(m, "mux0",
		rtl.WireSig(w0), rtl.WireSig(w1),
		rtl.ConstSig(1, 1), rtl.WireSig(y))

	total, _ := runPass(t, design)
	assert.Equal(t, 1, total)
	assert.Nil(t, m.Cell("mux0"))

	conns := m.Connections()
	require.Len(t, conns, 1)
	assert.True(t, conns[0].Lhs.Equal(rtl.WireSig(y)))
	assert.True(t, conns[0].Rhs.Equal(rtl.WireSig(w1)))
	assert.True(t, design.ScratchpadGetBool(DidSomethingKey, false))
}

// A priority mux port gated by a constant low selector dies; the
// remaining two port mux is retyped to a binary mux.
func TestConstDeactivatedPort(t *testing.T) {
	design := rtl.NewDesign()
	m := design.AddModule(rtl.NewModule("top"))
	s1 := m.AddWire("s1", 1)
	b0 := m.AddWire("b0", 1)
	b1 := m.AddWire("b1", 1)
	a := m.AddWire("a", 1)
	y := outputWire(m, "y", 1)

	cell := addMux(m, "pmux0",
		rtl.WireSig(a),
		rtl.WireSig(b0).Append(rtl.WireSig(b1)),
		rtl.S(rtl.ConstBit(rtl.S0), rtl.WireBit(s1, 0)),
		rtl.WireSig(y))

	total, _ := runPass(t, design)
	assert.Equal(t, 1, total)

	require.NotNil(t, m.Cell("pmux0"))
	assert.Equal(t, rtl.TypeMux, cell.Type)
	assert.True(t, cell.Port("A").Equal(rtl.WireSig(a)))
	assert.True(t, cell.Port("B").Equal(rtl.WireSig(b1)))
	assert.True(t, cell.Port("S").Equal(rtl.WireSig(s1)))
	assert.False(t, cell.HasParam(rtl.ParamSWidth))
}

// Entering a port forces sibling selectors inactive in the fan-in: a
// nested mux whose only selector matches a sibling selector of the
// consumer keeps just its default port.
func TestSelectorExclusion(t *testing.T) {
	design := rtl.NewDesign()
	m := design.AddModule(rtl.NewModule("top"))
	s := m.AddWire("s", 1)
	tt := m.AddWire("t", 1)
	m2a := m.AddWire("m2a", 1)
	m2b := m.AddWire("m2b", 1)
	mid := m.AddWire("mid", 1)
	w1 := m.AddWire("w1", 1)
	wd := m.AddWire("wd", 1)
	y := outputWire(m, "y", 1)

	// inner mux, selected by t, feeding the s-gated port of the root
	addMux(m, "m2",
		rtl.WireSig(m2a), rtl.WireSig(m2b),
		rtl.WireSig(tt), rtl.WireSig(mid))
	addMux(m, "m1",
		rtl.WireSig(wd),
		rtl.WireSig(mid).Append(rtl.WireSig(w1)),
		rtl.WireSig(s).Append(rtl.WireSig(tt)),
		rtl.WireSig(y))

	total, _ := runPass(t, design)
	assert.Equal(t, 1, total)

	// m2's t-gated port is unreachable: inside the s-gated port of m1
	// the t selector is known inactive
	assert.Nil(t, m.Cell("m2"))
	conns := m.Connections()
	require.Len(t, conns, 1)
	assert.True(t, conns[0].Lhs.Equal(rtl.WireSig(mid)))
	assert.True(t, conns[0].Rhs.Equal(rtl.WireSig(m2a)))

	// the root keeps all its ports
	require.NotNil(t, m.Cell("m1"))
	assert.Equal(t, rtl.TypePmux, m.Cell("m1").Type)
}

// The dual of selector exclusion: a nested mux sharing the selector of
// the port it feeds loses its default port.
func TestKnownActiveSelector(t *testing.T) {
	design := rtl.NewDesign()
	m := design.AddModule(rtl.NewModule("top"))
	s := m.AddWire("s", 1)
	m2a := m.AddWire("m2a", 1)
	m2b := m.AddWire("m2b", 1)
	mid := m.AddWire("mid", 1)
	wd := m.AddWire("wd", 1)
	y := outputWire(m, "y", 1)

	addMux(m, "m2",
		rtl.WireSig(m2a), rtl.WireSig(m2b),
		rtl.WireSig(s), rtl.WireSig(mid))
	addMux(m, "m1",
		rtl.WireSig(wd), rtl.WireSig(mid),
		rtl.WireSig(s), rtl.WireSig(y))

	total, _ := runPass(t, design)
	assert.Equal(t, 1, total)

	// inside the s-gated port of m1, s is known active, so m2 can only
	// ever present its s-gated input
	assert.Nil(t, m.Cell("m2"))
	conns := m.Connections()
	require.Len(t, conns, 1)
	assert.True(t, conns[0].Lhs.Equal(rtl.WireSig(mid)))
	assert.True(t, conns[0].Rhs.Equal(rtl.WireSig(m2b)))
}

// A mux whose output fans out to two distinct muxes is a root even
// without a non-mux consumer.
func TestFanoutRoots(t *testing.T) {
	m := rtl.NewModule("top")
	s0 := m.AddWire("s0", 1)
	s1 := m.AddWire("s1", 1)
	s2 := m.AddWire("s2", 1)
	a := m.AddWire("a", 1)
	b := m.AddWire("b", 1)
	y0 := m.AddWire("y0", 1)
	c1 := m.AddWire("c1", 1)
	c2 := m.AddWire("c2", 1)
	out1 := outputWire(m, "out1", 1)
	out2 := outputWire(m, "out2", 1)

	addMux(m, "m0", rtl.WireSig(a), rtl.WireSig(b), rtl.WireSig(s0), rtl.WireSig(y0))
	addMux(m, "m1", rtl.WireSig(c1), rtl.WireSig(y0), rtl.WireSig(s1), rtl.WireSig(out1))
	addMux(m, "m2", rtl.WireSig(c2), rtl.WireSig(y0), rtl.WireSig(s2), rtl.WireSig(out2))

	w := newWorker(zaptest.NewLogger(t), m)
	w.buildGraph()
	w.findRoots()

	require.Len(t, w.rootMuxes, 3)
	assert.True(t, w.rootMuxes[0], "fan-out mux must be a root")
	assert.True(t, w.rootMuxes[1])
	assert.True(t, w.rootMuxes[2])
	assert.Equal(t, 3, w.rootCount)
}

// A single consumer mux keeps the driver internal to the tree.
func TestSingleUserIsNotRoot(t *testing.T) {
	m := rtl.NewModule("top")
	s0 := m.AddWire("s0", 1)
	s1 := m.AddWire("s1", 1)
	a := m.AddWire("a", 1)
	b := m.AddWire("b", 1)
	y0 := m.AddWire("y0", 1)
	c1 := m.AddWire("c1", 1)
	out := outputWire(m, "out", 1)

	addMux(m, "m0", rtl.WireSig(a), rtl.WireSig(b), rtl.WireSig(s0), rtl.WireSig(y0))
	addMux(m, "m1", rtl.WireSig(c1), rtl.WireSig(y0), rtl.WireSig(s1), rtl.WireSig(out))

	w := newWorker(zaptest.NewLogger(t), m)
	w.buildGraph()
	w.findRoots()

	assert.False(t, w.rootMuxes[0])
	assert.True(t, w.rootMuxes[1])
	assert.Equal(t, 1, w.rootCount)
}

// A mux feeding itself through an assign loop terminates and keeps its
// ports.
func TestRecursionGuard(t *testing.T) {
	design := rtl.NewDesign()
	m := design.AddModule(rtl.NewModule("top"))
	s := m.AddWire("s", 1)
	fb := m.AddWire("fb", 1)
	w1 := m.AddWire("w1", 1)
	y := m.AddWire("y", 1)
	out := outputWire(m, "out", 1)

	addMux(m, "m0", rtl.WireSig(fb), rtl.WireSig(w1), rtl.WireSig(s), rtl.WireSig(y))
	m.Connect(rtl.WireSig(fb), rtl.WireSig(y))
	m.Connect(rtl.WireSig(out), rtl.WireSig(y))

	total, _ := runPass(t, design)
	assert.Equal(t, 0, total)
	assert.NotNil(t, m.Cell("m0"))
}

// A data input bit pinned by the context is rewritten to a constant on
// the nested cell.
func TestKnownBitSubstitution(t *testing.T) {
	design := rtl.NewDesign()
	m := design.AddModule(rtl.NewModule("top"))
	s := m.AddWire("s", 1)
	tt := m.AddWire("t", 1)
	w1 := m.AddWire("w1", 1)
	mid := m.AddWire("mid", 1)
	wd := m.AddWire("wd", 1)
	y := outputWire(m, "y", 1)

	// m2 routes the selector wire s itself as data
	m2 := addMux(m, "m2",
		rtl.WireSig(s), rtl.WireSig(w1),
		rtl.WireSig(tt), rtl.WireSig(mid))
	addMux(m, "m1",
		rtl.WireSig(wd), rtl.WireSig(mid),
		rtl.WireSig(s), rtl.WireSig(y))

	runPass(t, design)

	// within the s-gated port of m1 the bit s is known high, so m2's
	// default input is rewritten to constant 1
	require.NotNil(t, m.Cell("m2"))
	assert.True(t, m2.Port("A").Equal(rtl.ConstSig(1, 1)))
}

// All knowledge counters return to zero after every root evaluation.
func TestKnowledgeBalance(t *testing.T) {
	m := rtl.NewModule("top")
	s := m.AddWire("s", 1)
	tt := m.AddWire("t", 1)
	m2a := m.AddWire("m2a", 1)
	m2b := m.AddWire("m2b", 1)
	mid := m.AddWire("mid", 1)
	w1 := m.AddWire("w1", 1)
	wd := m.AddWire("wd", 1)
	y := outputWire(m, "y", 1)

	addMux(m, "m2",
		rtl.WireSig(m2a), rtl.WireSig(m2b),
		rtl.WireSig(tt), rtl.WireSig(mid))
	addMux(m, "m1",
		rtl.WireSig(wd),
		rtl.WireSig(mid).Append(rtl.WireSig(w1)),
		rtl.WireSig(s).Append(rtl.WireSig(tt)),
		rtl.WireSig(y))

	w := newWorker(zaptest.NewLogger(t), m)
	w.buildGraph()
	w.findRoots()

	for muxIdx := range w.muxes {
		if !w.rootMuxes[muxIdx] {
			continue
		}
		k := &knowledge{
			knownInactive: make([]int, len(w.bits)),
			knownActive:   make([]int, len(w.bits)),
			visitedMuxes:  make([]bool, len(w.muxes)),
		}
		k.visitedMuxes[muxIdx] = true
		w.evalMux(k, muxIdx)

		for idx, count := range k.knownInactive {
			assert.Zero(t, count, "known inactive %d unbalanced", idx)
		}
		for idx, count := range k.knownActive {
			assert.Zero(t, count, "known active %d unbalanced", idx)
		}
		for other, visited := range k.visitedMuxes {
			assert.Equal(t, other == muxIdx, visited)
		}
	}
}

// A surviving priority mux keeps selector width equal to ports minus
// one.
func TestSelectorWidthInvariant(t *testing.T) {
	design := rtl.NewDesign()
	m := design.AddModule(rtl.NewModule("top"))
	s0 := m.AddWire("s0", 1)
	s2 := m.AddWire("s2", 1)
	b0 := m.AddWire("b0", 1)
	b1 := m.AddWire("b1", 1)
	b2 := m.AddWire("b2", 1)
	a := m.AddWire("a", 1)
	y := outputWire(m, "y", 1)

	cell := addMux(m, "pmux0",
		rtl.WireSig(a),
		rtl.WireSig(b0).Append(rtl.WireSig(b1)).Append(rtl.WireSig(b2)),
		rtl.S(rtl.WireBit(s0, 0), rtl.ConstBit(rtl.S0), rtl.WireBit(s2, 0)),
		rtl.WireSig(y))

	total, _ := runPass(t, design)
	assert.Equal(t, 1, total)

	require.NotNil(t, m.Cell("pmux0"))
	assert.Equal(t, rtl.TypePmux, cell.Type)
	assert.Equal(t, 2, cell.Port("S").Size())
	assert.Equal(t, 2, cell.Param(rtl.ParamSWidth))
	assert.Equal(t, cell.Port("B").Size(), cell.Port("S").Size()*cell.Port("A").Size())
	assert.True(t, cell.Port("B").Equal(rtl.WireSig(b0).Append(rtl.WireSig(b2))))
	assert.True(t, cell.Port("S").Equal(rtl.WireSig(s0).Append(rtl.WireSig(s2))))
}

// Running the pass twice produces no further changes.
func TestIdempotence(t *testing.T) {
	design := rtl.NewDesign()
	m := design.AddModule(rtl.NewModule("top"))
	s1 := m.AddWire("s1", 1)
	b0 := m.AddWire("b0", 1)
	b1 := m.AddWire("b1", 1)
	a := m.AddWire("a", 1)
	y := outputWire(m, "y", 1)

	addMux(m, "pmux0",
		rtl.WireSig(a),
		rtl.WireSig(b0).Append(rtl.WireSig(b1)),
		rtl.S(rtl.ConstBit(rtl.S0), rtl.WireBit(s1, 0)),
		rtl.WireSig(y))

	first, _ := runPass(t, design)
	require.Equal(t, 1, first)

	before, err := rtl.EncodeDesign(design)
	require.NoError(t, err)

	second, _ := runPass(t, design)
	assert.Equal(t, 0, second)

	after, err := rtl.EncodeDesign(design)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

// Removed counts reported per module add up to the design total.
func TestStats(t *testing.T) {
	design := rtl.NewDesign()

	m1 := design.AddModule(rtl.NewModule("one"))
	w0 := m1.AddWire("w0", 1)
	w1 := m1.AddWire("w1", 1)
	y1 := outputWire(m1, "y", 1)
	addMux(m1, "mux0", rtl.WireSig(w0), rtl.WireSig(w1), rtl.ConstSig(1, 1), rtl.WireSig(y1))

	m2 := design.AddModule(rtl.NewModule("two"))
	s := m2.AddWire("s", 1)
	a := m2.AddWire("a", 1)
	b := m2.AddWire("b", 1)
	y2 := outputWire(m2, "y", 1)
	addMux(m2, "mux0", rtl.WireSig(a), rtl.WireSig(b), rtl.WireSig(s), rtl.WireSig(y2))

	total, stats := runPass(t, design)
	require.Len(t, stats, 2)

	sum := 0
	for _, s := range stats {
		sum += s.RemovedPorts
	}
	assert.Equal(t, total, sum)
	assert.Equal(t, 1, total)
	assert.Equal(t, "one", stats[0].Module)
	assert.Equal(t, 1, stats[0].Muxes)
	assert.Equal(t, 1, stats[0].Roots)
	assert.Equal(t, "two", stats[1].Module)
	assert.Equal(t, 0, stats[1].RemovedPorts)
}

// Rebuilding the graph after the pass finds exactly the ports that
// survived.
func TestGraphRebuildMatchesRemovedCount(t *testing.T) {
	design := rtl.NewDesign()
	m := design.AddModule(rtl.NewModule("top"))
	s0 := m.AddWire("s0", 1)
	s2 := m.AddWire("s2", 1)
	b0 := m.AddWire("b0", 1)
	b1 := m.AddWire("b1", 1)
	b2 := m.AddWire("b2", 1)
	a := m.AddWire("a", 1)
	y := outputWire(m, "y", 1)

	addMux(m, "pmux0",
		rtl.WireSig(a),
		rtl.WireSig(b0).Append(rtl.WireSig(b1)).Append(rtl.WireSig(b2)),
		rtl.S(rtl.WireBit(s0, 0), rtl.ConstBit(rtl.S0), rtl.WireBit(s2, 0)),
		rtl.WireSig(y))

	countPorts := func() int {
		w := newWorker(zaptest.NewLogger(t), m)
		w.buildGraph()
		ports := 0
		for i := range w.muxes {
			ports += len(w.muxes[i].ports)
		}
		return ports
	}

	before := countPorts()
	total, _ := runPass(t, design)
	assert.Equal(t, before-total, countPorts())
}

// Modules without muxes are left alone.
func TestNoMuxes(t *testing.T) {
	design := rtl.NewDesign()
	m := design.AddModule(rtl.NewModule("top"))
	a := m.AddWire("a", 1)
	y := outputWire(m, "y", 1)
	not := rtl.NewCell("not0", "$not")
	not.SetPort("A", rtl.WireSig(a))
	not.SetPort("Y", rtl.WireSig(y))
	m.AddCell(not)

	total, _ := runPass(t, design)
	assert.Equal(t, 0, total)
	assert.NotNil(t, m.Cell("not0"))
	assert.False(t, design.ScratchpadGetBool(DidSomethingKey, false))
}
