// Copyright (C) 2018 Storj Labs, Inc.
// See LICENSE for copying information.

package rtl

import (
	"encoding/json"
	"sort"
)

// The interchange format is a Yosys-flavored JSON netlist. Net bits are
// either numbers (net ids, starting at 2) or the constant strings
// "0", "1", "x", "z". A net id claimed by more than one netname is an
// alias; aliases and the explicit "assigns" list both decode into
// module-level assignments.

type jsonDesign struct {
	Modules map[string]*jsonModule `json:"modules"`
}

type jsonModule struct {
	Ports     map[string]*jsonPort   `json:"ports,omitempty"`
	Netnames  map[string]*jsonNet    `json:"netnames,omitempty"`
	Cells     map[string]*jsonCell   `json:"cells,omitempty"`
	Assigns   [][2][]jsonBit         `json:"assigns,omitempty"`
	Processes map[string]interface{} `json:"processes,omitempty"`
}

type jsonPort struct {
	Direction string    `json:"direction"`
	Bits      []jsonBit `json:"bits"`
}

type jsonNet struct {
	Bits []jsonBit `json:"bits"`
}

type jsonCell struct {
	Type        string               `json:"type"`
	Parameters  map[string]int       `json:"parameters,omitempty"`
	Connections map[string][]jsonBit `json:"connections"`
}

// jsonBit is one bit in the interchange format: a net id or a constant
// string.
type jsonBit struct {
	id    int
	state State
	wire  bool
}

func (b jsonBit) MarshalJSON() ([]byte, error) {
	if b.wire {
		return json.Marshal(b.id)
	}
	return json.Marshal(b.state.String())
}

func (b *jsonBit) UnmarshalJSON(data []byte) error {
	var id int
	if err := json.Unmarshal(data, &id); err == nil {
		b.id = id
		b.wire = true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return Error.New("invalid net bit: %s", string(data))
	}
	switch s {
	case "0":
		b.state = S0
	case "1":
		b.state = S1
	case "x":
		b.state = Sx
	case "z":
		b.state = Sz
	default:
		return Error.New("invalid constant bit %q", s)
	}
	return nil
}

// ParseDesign decodes a JSON netlist into a design. Names are visited
// in sorted order so wire and cell numbering is stable across runs.
func ParseDesign(data []byte) (*Design, error) {
	var jd jsonDesign
	if err := json.Unmarshal(data, &jd); err != nil {
		return nil, Error.Wrap(err)
	}
	design := NewDesign()
	for _, name := range sortedKeys(jd.Modules) {
		module, err := parseModule(name, jd.Modules[name])
		if err != nil {
			return nil, err
		}
		design.AddModule(module)
	}
	return design, nil
}

func parseModule(name string, jm *jsonModule) (*Module, error) {
	m := NewModule(name)
	if jm == nil {
		return m, nil
	}
	claimed := make(map[int]SigBit)

	// claimBits resolves a bit vector against the nets claimed so far,
	// creating a wire for the vector's unclaimed ids and alias assigns
	// for already claimed ones.
	claimBits := func(wireName string, bits []jsonBit) *Wire {
		w := m.AddWire(wireName, len(bits))
		var aliasLhs, aliasRhs []SigBit
		for i, b := range bits {
			if !b.wire {
				aliasLhs = append(aliasLhs, WireBit(w, i))
				aliasRhs = append(aliasRhs, ConstBit(b.state))
				continue
			}
			if owner, ok := claimed[b.id]; ok {
				aliasLhs = append(aliasLhs, WireBit(w, i))
				aliasRhs = append(aliasRhs, owner)
				continue
			}
			claimed[b.id] = WireBit(w, i)
		}
		if len(aliasLhs) > 0 {
			m.Connect(S(aliasLhs...), S(aliasRhs...))
		}
		return w
	}

	for _, netName := range sortedKeys(jm.Netnames) {
		claimBits(netName, jm.Netnames[netName].Bits)
	}
	for _, portName := range sortedKeys(jm.Ports) {
		jp := jm.Ports[portName]
		w := m.Wire(portName)
		if w == nil {
			w = claimBits(portName, jp.Bits)
		}
		switch jp.Direction {
		case "input":
			w.PortInput = true
		case "output":
			w.PortOutput = true
		case "inout":
			w.PortInput = true
			w.PortOutput = true
		default:
			return nil, Error.New("module %s port %s: invalid direction %q", name, portName, jp.Direction)
		}
	}

	resolve := func(bits []jsonBit) (SigSpec, error) {
		out := make([]SigBit, len(bits))
		for i, b := range bits {
			if !b.wire {
				out[i] = ConstBit(b.state)
				continue
			}
			owner, ok := claimed[b.id]
			if !ok {
				return SigSpec{}, Error.New("module %s: net id %d has no netname", name, b.id)
			}
			out[i] = owner
		}
		return S(out...), nil
	}

	for _, cellName := range sortedKeys(jm.Cells) {
		jc := jm.Cells[cellName]
		cell := NewCell(cellName, jc.Type)
		for _, port := range sortedKeys(jc.Connections) {
			sig, err := resolve(jc.Connections[port])
			if err != nil {
				return nil, err
			}
			cell.SetPort(port, sig)
		}
		for param, value := range jc.Parameters {
			cell.SetParam(param, value)
		}
		m.AddCell(cell)
	}

	for _, pair := range jm.Assigns {
		lhs, err := resolve(pair[0])
		if err != nil {
			return nil, err
		}
		rhs, err := resolve(pair[1])
		if err != nil {
			return nil, err
		}
		if lhs.Size() != rhs.Size() {
			return nil, Error.New("module %s: assign width mismatch", name)
		}
		m.Connect(lhs, rhs)
	}

	for _, procName := range sortedKeys(jm.Processes) {
		m.Processes = append(m.Processes, &Process{Name: procName})
	}
	return m, nil
}

// EncodeDesign encodes a design back into the JSON netlist format.
func EncodeDesign(d *Design) ([]byte, error) {
	jd := jsonDesign{Modules: make(map[string]*jsonModule)}
	for _, m := range d.Modules() {
		jd.Modules[m.Name] = encodeModule(m)
	}
	return json.MarshalIndent(jd, "", "  ")
}

func encodeModule(m *Module) *jsonModule {
	ids := make(map[SigBit]int)
	next := 2
	bitOf := func(b SigBit) jsonBit {
		if !b.IsWire() {
			return jsonBit{state: b.State}
		}
		id, ok := ids[b]
		if !ok {
			id = next
			next++
			ids[b] = id
		}
		return jsonBit{id: id, wire: true}
	}
	sigOf := func(sig SigSpec) []jsonBit {
		out := make([]jsonBit, sig.Size())
		for i := 0; i < sig.Size(); i++ {
			out[i] = bitOf(sig.Bit(i))
		}
		return out
	}

	jm := &jsonModule{
		Ports:    make(map[string]*jsonPort),
		Netnames: make(map[string]*jsonNet),
		Cells:    make(map[string]*jsonCell),
	}
	for _, w := range m.Wires() {
		bits := sigOf(WireSig(w))
		jm.Netnames[w.Name] = &jsonNet{Bits: bits}
		switch {
		case w.PortInput && w.PortOutput:
			jm.Ports[w.Name] = &jsonPort{Direction: "inout", Bits: bits}
		case w.PortInput:
			jm.Ports[w.Name] = &jsonPort{Direction: "input", Bits: bits}
		case w.PortOutput:
			jm.Ports[w.Name] = &jsonPort{Direction: "output", Bits: bits}
		}
	}
	for _, c := range m.Cells() {
		jc := &jsonCell{
			Type:        c.Type,
			Parameters:  make(map[string]int),
			Connections: make(map[string][]jsonBit),
		}
		for _, port := range c.Connections() {
			jc.Connections[port] = sigOf(c.Port(port))
		}
		for _, param := range c.Params() {
			jc.Parameters[param] = c.Param(param)
		}
		jm.Cells[c.Name] = jc
	}
	for _, conn := range m.Connections() {
		jm.Assigns = append(jm.Assigns, [2][]jsonBit{sigOf(conn.Lhs), sigOf(conn.Rhs)})
	}
	for _, p := range m.Processes {
		if jm.Processes == nil {
			jm.Processes = make(map[string]interface{})
		}
		jm.Processes[p.Name] = struct{}{}
	}
	return jm
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
