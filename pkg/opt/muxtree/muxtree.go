// Copyright (C) 2018 Storj Labs, Inc.
// See LICENSE for copying information.

// Package muxtree implements dead-branch elimination on multiplexer
// trees. It analyzes the control signals of the mux trees in a module,
// identifies input ports that can never be selected at runtime, and
// removes them: whole cells when every port is dead, a direct wire
// connection when a single port survives, shrunken port lists
// otherwise.
package muxtree

import (
	"context"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/synth/pkg/opt"
	"storj.io/synth/pkg/rtl"
)

var (
	mon = monkit.Package()

	// Error is the default muxtree errs class.
	Error = errs.Class("muxtree error")
)

// DidSomethingKey is the scratchpad flag raised when any port was
// removed.
const DidSomethingKey = "opt.did_something"

// Stats summarizes the pass result for one module.
type Stats struct {
	Module       string
	Muxes        int
	Roots        int
	RemovedPorts int
}

// Pass is the registered opt pass wrapper around Run.
type Pass struct{}

func init() { opt.Register(Pass{}) }

// Name implements opt.Pass.
func (Pass) Name() string { return "muxtree" }

// Help implements opt.Pass.
func (Pass) Help() string {
	return `This pass analyzes the control signals for the multiplexer trees in the design
and identifies inputs that can never be active. It then removes these dead
branches from the multiplexer trees.

This pass only operates on completely selected modules without processes.`
}

// Execute implements opt.Pass.
func (p Pass) Execute(ctx context.Context, log *zap.Logger, design *rtl.Design) error {
	_, _, err := Run(ctx, log, design)
	return err
}

// Run applies the pass to every whole-selected, process-free module of
// the design and returns the total number of removed ports plus
// per-module stats.
func Run(ctx context.Context, log *zap.Logger, design *rtl.Design) (total int, stats []Stats, err error) {
	defer mon.Task()(&ctx)(&err)

	for _, module := range design.Modules() {
		if !design.Selection.SelectedWholeModule(module.Name) {
			if design.Selection.Selected(module.Name) {
				log.Info("skipping partially selected module",
					zap.String("module", module.Name))
			}
			continue
		}
		if len(module.Processes) > 0 {
			log.Info("skipping module with processes",
				zap.String("module", module.Name))
			continue
		}

		w := newWorker(log, module)
		w.run()
		total += w.removed
		stats = append(stats, Stats{
			Module:       module.Name,
			Muxes:        len(w.muxes),
			Roots:        w.rootCount,
			RemovedPorts: w.removed,
		})
	}

	if total > 0 {
		design.ScratchpadSetBool(DidSomethingKey, true)
	}
	log.Info("removed multiplexer ports", zap.Int("count", total))
	return total, stats, nil
}

// worker holds the per-module analysis state. It is built, used once
// and discarded; nothing survives across modules.
type worker struct {
	log    *zap.Logger
	module *rtl.Module
	sigmap *rtl.SigMap

	bit2num map[rtl.SigBit]int
	bits    []bitInfo
	muxes   []muxInfo

	rootMuxes []bool
	rootCount int
	removed   int
}

// bitInfo is the analysis record of one interned wire bit.
type bitInfo struct {
	bit rtl.SigBit

	// seenNonMux marks bits consumed outside mux data inputs: inputs of
	// non-mux cells, module outputs and mux selector lines.
	seenNonMux bool

	muxUsers   []int // muxes reading this bit on A or B
	muxDrivers []int // muxes driving this bit on Y
}

// portInfo is one selectable input of a mux. The last port of every
// mux is the default port and has ctrlSig == -1.
type portInfo struct {
	ctrlSig          int
	inputSigs        []int
	inputMuxes       []int
	constActivated   bool
	constDeactivated bool
	enabled          bool
}

type muxInfo struct {
	cell  *rtl.Cell
	ports []portInfo
}

func newWorker(log *zap.Logger, module *rtl.Module) *worker {
	return &worker{
		log:     log.With(zap.String("module", module.Name)),
		module:  module,
		sigmap:  rtl.NewSigMap(module),
		bit2num: make(map[rtl.SigBit]int),
	}
}

func (w *worker) run() {
	w.log.Debug("running muxtree optimizer")

	w.buildGraph()
	if len(w.muxes) == 0 {
		w.log.Debug("no muxes found in this module")
		return
	}

	w.findRoots()
	for muxIdx := range w.muxes {
		if w.rootMuxes[muxIdx] {
			w.log.Debug("root of a mux tree",
				zap.String("cell", w.muxes[muxIdx].cell.Name))
			w.evalRootMux(muxIdx)
		}
	}

	w.rewrite()
}

// sigToBits canonicalizes a signal and interns its wire bits, handing
// out dense indices in first-observation order. Constant bits map to
// -1 when includeNonWires is set and are dropped otherwise.
func (w *worker) sigToBits(sig rtl.SigSpec, includeNonWires bool) []int {
	sig = w.sigmap.Apply(sig)
	results := make([]int, 0, sig.Size())
	for _, bit := range sig.Bits() {
		if !bit.IsWire() {
			if includeNonWires {
				results = append(results, -1)
			}
			continue
		}
		num, ok := w.bit2num[bit]
		if !ok {
			num = len(w.bits)
			w.bits = append(w.bits, bitInfo{bit: bit})
			w.bit2num[bit] = num
		}
		results = append(results, num)
	}
	return results
}

func addToList(list []int, value int) []int {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}

func isInList(list []int, value int) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// buildGraph populates the bit and mux records by a single traversal
// of the module cells, then links every mux port to the muxes feeding
// its data bits.
func (w *worker) buildGraph() {
	for _, cell := range w.module.Cells() {
		if cell.Type != rtl.TypeMux && cell.Type != rtl.TypePmux {
			for _, port := range cell.Connections() {
				for _, idx := range w.sigToBits(cell.Port(port), false) {
					w.bits[idx].seenNonMux = true
				}
			}
			continue
		}

		sigA := cell.Port("A")
		sigB := cell.Port("B")
		sigS := cell.Port("S")
		sigY := cell.Port("Y")

		mi := muxInfo{cell: cell}
		muxIdx := len(w.muxes)

		for i := 0; i < sigS.Size(); i++ {
			ctrl := w.sigmap.Apply(sigS.Extract(i, 1))
			pi := portInfo{
				ctrlSig:          w.sigToBits(ctrl, true)[0],
				constActivated:   ctrl.IsFullyConst() && ctrl.AsBool(),
				constDeactivated: ctrl.IsFullyConst() && !ctrl.AsBool(),
			}
			for _, idx := range w.sigToBits(sigB.Extract(i*sigA.Size(), sigA.Size()), false) {
				w.bits[idx].muxUsers = addToList(w.bits[idx].muxUsers, muxIdx)
				pi.inputSigs = addToList(pi.inputSigs, idx)
			}
			mi.ports = append(mi.ports, pi)
		}

		def := portInfo{ctrlSig: -1}
		for _, idx := range w.sigToBits(sigA, false) {
			w.bits[idx].muxUsers = addToList(w.bits[idx].muxUsers, muxIdx)
			def.inputSigs = addToList(def.inputSigs, idx)
		}
		mi.ports = append(mi.ports, def)

		for _, idx := range w.sigToBits(sigY, false) {
			w.bits[idx].muxDrivers = addToList(w.bits[idx].muxDrivers, muxIdx)
		}
		for _, idx := range w.sigToBits(sigS, false) {
			w.bits[idx].seenNonMux = true
		}

		w.muxes = append(w.muxes, mi)
	}

	for _, wire := range w.module.Wires() {
		if wire.PortOutput {
			for _, idx := range w.sigToBits(rtl.WireSig(wire), false) {
				w.bits[idx].seenNonMux = true
			}
		}
	}

	// second pass: link each consumer port to the fan-in muxes driving
	// any of its data bits
	for idx := range w.bits {
		for _, j := range w.bits[idx].muxUsers {
			for p := range w.muxes[j].ports {
				pi := &w.muxes[j].ports[p]
				if isInList(pi.inputSigs, idx) {
					for _, k := range w.bits[idx].muxDrivers {
						pi.inputMuxes = addToList(pi.inputMuxes, k)
					}
				}
			}
		}
	}
}

// findRoots marks every mux whose output escapes mux-to-mux dataflow:
// it drives a bit with a non-mux consumer, or it fans out to more than
// one distinct downstream mux.
func (w *worker) findRoots() {
	w.rootMuxes = make([]bool, len(w.muxes))

	muxToUsers := make(map[int]map[int]struct{})
	for idx := range w.bits {
		bi := &w.bits[idx]
		for _, i := range bi.muxDrivers {
			for _, j := range bi.muxUsers {
				users, ok := muxToUsers[i]
				if !ok {
					users = make(map[int]struct{})
					muxToUsers[i] = users
				}
				users[j] = struct{}{}
			}
		}
		if !bi.seenNonMux {
			continue
		}
		for _, muxIdx := range bi.muxDrivers {
			w.rootMuxes[muxIdx] = true
		}
	}

	for muxIdx, users := range muxToUsers {
		if len(users) > 1 {
			w.rootMuxes[muxIdx] = true
		}
	}

	for _, isRoot := range w.rootMuxes {
		if isRoot {
			w.rootCount++
		}
	}
}

// rewrite applies the evaluation verdicts: drops cells with no live
// port, collapses single-survivor muxes to a wire, and shrinks the
// port lists of the rest.
func (w *worker) rewrite() {
	w.log.Debug("analyzing evaluation results")

	for i := range w.muxes {
		mi := &w.muxes[i]

		var livePorts []int
		for portIdx := range mi.ports {
			if mi.ports[portIdx].enabled {
				livePorts = append(livePorts, portIdx)
			} else {
				w.log.Debug("dead port",
					zap.Int("port", portIdx+1),
					zap.Int("ports", len(mi.ports)),
					zap.String("type", mi.cell.Type),
					zap.String("cell", mi.cell.Name))
				w.removed++
			}
		}

		if len(livePorts) == len(mi.ports) {
			continue
		}

		if len(livePorts) == 0 {
			w.module.RemoveCell(mi.cell)
			continue
		}

		sigA := mi.cell.Port("A")
		sigB := mi.cell.Port("B")
		sigS := mi.cell.Port("S")
		sigY := mi.cell.Port("Y")

		// the stacked selectable inputs followed by the default input,
		// matching port index order
		sigPorts := sigB.Append(sigA)

		if len(livePorts) == 1 {
			sigIn := sigPorts.Extract(livePorts[0]*sigA.Size(), sigA.Size())
			w.module.Connect(sigY, sigIn)
			w.module.RemoveCell(mi.cell)
			continue
		}

		var newA, newB, newS rtl.SigSpec
		for n, portIdx := range livePorts {
			sigIn := sigPorts.Extract(portIdx*sigA.Size(), sigA.Size())
			if n == len(livePorts)-1 {
				newA = sigIn
			} else {
				newB = newB.Append(sigIn)
				newS = newS.Append(sigS.Extract(portIdx, 1))
			}
		}

		mi.cell.SetPort("A", newA)
		mi.cell.SetPort("B", newB)
		mi.cell.SetPort("S", newS)
		if newS.Size() == 1 {
			mi.cell.Type = rtl.TypeMux
			mi.cell.DelParam(rtl.ParamSWidth)
		} else {
			mi.cell.SetParam(rtl.ParamSWidth, newS.Size())
		}
	}
}
