// Copyright (C) 2018 Storj Labs, Inc.
// See LICENSE for copying information.

package muxtree

import (
	"go.uber.org/zap"

	"storj.io/synth/pkg/rtl"
)

// knowledge is the per-root analysis scratchpad. The inactive/active
// entries are reference counters: a bit is asserted low (or high) in
// the current context while its counter is non-zero. Every increment
// on the way into a port evaluation is paired with a decrement on the
// way out, so all counters return to zero when a root evaluation
// finishes.
type knowledge struct {
	knownInactive []int
	knownActive   []int

	// visitedMuxes prohibits endless recursion in mux loops; set while
	// the mux is on the evaluation stack.
	visitedMuxes []bool
}

// evalRootMux evaluates one mux tree from its root under a fresh
// context.
func (w *worker) evalRootMux(muxIdx int) {
	k := &knowledge{
		knownInactive: make([]int, len(w.bits)),
		knownActive:   make([]int, len(w.bits)),
		visitedMuxes:  make([]bool, len(w.muxes)),
	}
	k.visitedMuxes[muxIdx] = true
	w.evalMux(k, muxIdx)
}

// evalMux decides which ports of one mux may be live in the current
// context and descends into them.
func (w *worker) evalMux(k *knowledge, muxIdx int) {
	mi := &w.muxes[muxIdx]

	// set input bits to constants where the context pins them
	w.replaceKnown(k, mi, "A")
	w.replaceKnown(k, mi, "B")

	// the first constant activated port preempts every other port
	for portIdx := 0; portIdx < len(mi.ports)-1; portIdx++ {
		if mi.ports[portIdx].constActivated {
			w.evalMuxPort(k, muxIdx, portIdx)
			return
		}
	}

	// a known active selector means only its port can be selected; the
	// default port is excluded, it has no control signal
	for portIdx := 0; portIdx < len(mi.ports)-1; portIdx++ {
		pi := &mi.ports[portIdx]
		if pi.ctrlSig >= 0 && k.knownActive[pi.ctrlSig] > 0 {
			w.evalMuxPort(k, muxIdx, portIdx)
			return
		}
	}

	// general sweep: a port stays live unless its own selector is known
	// inactive, or some other selector is known active. No known
	// inactive match is performed on the default port.
	for portIdx := 0; portIdx < len(mi.ports); portIdx++ {
		pi := &mi.ports[portIdx]

		if portIdx < len(mi.ports)-1 {
			if pi.ctrlSig >= 0 && k.knownInactive[pi.ctrlSig] > 0 {
				continue
			}
		}

		portActive := true
		for i := 0; i < len(mi.ports)-1; i++ {
			if i == portIdx {
				continue
			}
			ctrl := mi.ports[i].ctrlSig
			if ctrl >= 0 && k.knownActive[ctrl] > 0 {
				portActive = false
			}
		}
		if portActive {
			w.evalMuxPort(k, muxIdx, portIdx)
		}
	}
}

// evalMuxPort enables one port and recursively evaluates the fan-in
// muxes reachable through it, under the assumption that this port is
// the selected one: every other selector is pushed known-inactive and,
// for a non-default non-constant port, its own selector is pushed
// known-active. The pushes are reverted exactly on the way out.
func (w *worker) evalMuxPort(k *knowledge, muxIdx, portIdx int) {
	mi := &w.muxes[muxIdx]

	if mi.ports[portIdx].constDeactivated {
		return
	}

	mi.ports[portIdx].enabled = true

	for i := range mi.ports {
		if i == portIdx {
			continue
		}
		if ctrl := mi.ports[i].ctrlSig; ctrl >= 0 {
			k.knownInactive[ctrl]++
		}
	}
	ownCtrl := -1
	if portIdx < len(mi.ports)-1 && !mi.ports[portIdx].constActivated {
		ownCtrl = mi.ports[portIdx].ctrlSig
	}
	if ownCtrl >= 0 {
		k.knownActive[ownCtrl]++
	}

	var parentMuxes []int
	for _, m := range mi.ports[portIdx].inputMuxes {
		if k.visitedMuxes[m] {
			continue
		}
		k.visitedMuxes[m] = true
		parentMuxes = append(parentMuxes, m)
	}
	for _, m := range parentMuxes {
		if !w.rootMuxes[m] {
			w.evalMux(k, m)
		}
	}
	for _, m := range parentMuxes {
		k.visitedMuxes[m] = false
	}

	if ownCtrl >= 0 {
		k.knownActive[ownCtrl]--
	}
	for i := range mi.ports {
		if i == portIdx {
			continue
		}
		if ctrl := mi.ports[i].ctrlSig; ctrl >= 0 {
			k.knownInactive[ctrl]--
		}
	}
}

// replaceKnown rewrites data input bits that the context pins low or
// high to the matching constant, directly on the cell port. The edit
// is visible to later evaluations.
func (w *worker) replaceKnown(k *knowledge, mi *muxInfo, portName string) {
	sig := mi.cell.Port(portName)
	changed := false

	bits := w.sigToBits(sig, true)
	for i, idx := range bits {
		if idx < 0 {
			continue
		}
		switch {
		case k.knownInactive[idx] > 0:
			sig = sig.SetBit(i, rtl.ConstBit(rtl.S0))
			changed = true
		case k.knownActive[idx] > 0:
			sig = sig.SetBit(i, rtl.ConstBit(rtl.S1))
			changed = true
		}
	}

	if changed {
		w.log.Debug("replacing known input bits",
			zap.String("port", portName),
			zap.String("cell", mi.cell.Name),
			zap.String("old", mi.cell.Port(portName).String()),
			zap.String("new", sig.String()))
		mi.cell.SetPort(portName, sig)
	}
}
