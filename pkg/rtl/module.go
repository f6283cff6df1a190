// Copyright (C) 2018 Storj Labs, Inc.
// See LICENSE for copying information.

package rtl

import "sort"

// Cell types the optimizer cares about. Any other type string is
// carried through the IR opaquely.
const (
	TypeMux  = "$mux"
	TypePmux = "$pmux"
)

// Cell parameters used by multiplexer cells.
const (
	ParamWidth  = "WIDTH"
	ParamSWidth = "S_WIDTH"
)

// Wire is a named bundle of bits inside a module.
type Wire struct {
	Name       string
	Width      int
	PortInput  bool
	PortOutput bool
}

// Cell is an instance of a primitive or a sub-module. Connections map
// port names to signals; parameters are plain integers.
type Cell struct {
	Name   string
	Type   string
	conns  map[string]SigSpec
	params map[string]int
}

// NewCell creates a cell of the given type with no connections.
func NewCell(name, typ string) *Cell {
	return &Cell{
		Name:   name,
		Type:   typ,
		conns:  make(map[string]SigSpec),
		params: make(map[string]int),
	}
}

// Port returns the signal connected to the named port. Missing ports
// read as the empty signal.
func (c *Cell) Port(name string) SigSpec { return c.conns[name] }

// SetPort connects sig to the named port, replacing any previous
// connection.
func (c *Cell) SetPort(name string, sig SigSpec) { c.conns[name] = sig }

// HasPort reports whether the named port is connected.
func (c *Cell) HasPort(name string) bool {
	_, ok := c.conns[name]
	return ok
}

// Connections returns the connected port names in sorted order.
func (c *Cell) Connections() []string {
	names := make([]string, 0, len(c.conns))
	for name := range c.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Param returns the named parameter, or 0 when unset.
func (c *Cell) Param(name string) int { return c.params[name] }

// HasParam reports whether the named parameter is set.
func (c *Cell) HasParam(name string) bool {
	_, ok := c.params[name]
	return ok
}

// SetParam sets the named parameter.
func (c *Cell) SetParam(name string, value int) { c.params[name] = value }

// DelParam removes the named parameter.
func (c *Cell) DelParam(name string) { delete(c.params, name) }

// Params returns the set parameter names in sorted order.
func (c *Cell) Params() []string {
	names := make([]string, 0, len(c.params))
	for name := range c.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SigSig is one module-level assignment: Lhs is driven by Rhs.
type SigSig struct {
	Lhs SigSpec
	Rhs SigSpec
}

// Process is an unresolved behavioral process. Passes that require a
// fully synthesized module skip modules that still carry any.
type Process struct {
	Name string
}

// Module is a named collection of wires, cells, assignments and
// processes. Wires and cells keep insertion order; passes rely on that
// order being stable within one run.
type Module struct {
	Name string

	wires   []*Wire
	wireIdx map[string]*Wire
	cells   []*Cell
	cellIdx map[string]*Cell
	conns   []SigSig

	Processes []*Process
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{
		Name:    name,
		wireIdx: make(map[string]*Wire),
		cellIdx: make(map[string]*Cell),
	}
}

// AddWire creates a wire of the given width and adds it to the module.
func (m *Module) AddWire(name string, width int) *Wire {
	w := &Wire{Name: name, Width: width}
	m.wires = append(m.wires, w)
	m.wireIdx[name] = w
	return w
}

// Wire returns the named wire or nil.
func (m *Module) Wire(name string) *Wire { return m.wireIdx[name] }

// Wires returns the module wires in insertion order.
func (m *Module) Wires() []*Wire { return m.wires }

// AddCell adds a cell to the module.
func (m *Module) AddCell(c *Cell) *Cell {
	m.cells = append(m.cells, c)
	m.cellIdx[c.Name] = c
	return c
}

// Cell returns the named cell or nil.
func (m *Module) Cell(name string) *Cell { return m.cellIdx[name] }

// Cells returns the module cells in insertion order.
func (m *Module) Cells() []*Cell { return m.cells }

// RemoveCell removes the cell from the module. Removing a cell that is
// not in the module is a no-op.
func (m *Module) RemoveCell(c *Cell) {
	for i, other := range m.cells {
		if other == c {
			m.cells = append(m.cells[:i], m.cells[i+1:]...)
			delete(m.cellIdx, c.Name)
			return
		}
	}
}

// Connect records a module-level assignment driving lhs from rhs. Both
// signals must have the same width.
func (m *Module) Connect(lhs, rhs SigSpec) {
	if lhs.Size() != rhs.Size() {
		panic(Error.New("connect width mismatch: %d vs %d", lhs.Size(), rhs.Size()))
	}
	m.conns = append(m.conns, SigSig{Lhs: lhs, Rhs: rhs})
}

// Connections returns the module-level assignments in insertion order.
func (m *Module) Connections() []SigSig { return m.conns }
