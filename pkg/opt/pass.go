// Copyright (C) 2018 Storj Labs, Inc.
// See LICENSE for copying information.

// Package opt defines the optimization pass interface and the registry
// the driver uses to look passes up by name.
package opt

import (
	"context"
	"sort"
	"sync"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/synth/pkg/rtl"
)

// Error is the default opt errs class.
var Error = errs.Class("opt error")

// Pass is one module-level netlist rewrite. Execute mutates the design
// in place and returns an error only on malformed input or environment failure;
// finding nothing to do is not an error.
type Pass interface {
	Name() string
	Help() string
	Execute(ctx context.Context, log *zap.Logger, design *rtl.Design) error
}

var (
	mu       sync.Mutex
	registry = make(map[string]Pass)
)

// Register adds a pass to the registry. Registering two passes under
// the same name is a programmer error.
func Register(p Pass) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := registry[p.Name()]; ok {
		panic("opt: duplicate pass registration: " + p.Name())
	}
	registry[p.Name()] = p
}

// Lookup returns the named pass.
func Lookup(name string) (Pass, error) {
	mu.Lock()
	defer mu.Unlock()
	p, ok := registry[name]
	if !ok {
		return nil, Error.New("unknown pass %q", name)
	}
	return p, nil
}

// All returns the registered passes sorted by name.
func All() []Pass {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	passes := make([]Pass, 0, len(names))
	for _, name := range names {
		passes = append(passes, registry[name])
	}
	return passes
}
