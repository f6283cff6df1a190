// Copyright (C) 2018 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testcontext provides a context with temporary directories
// and waitable goroutines for tests.
package testcontext

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const defaultTimeout = 3 * time.Minute

// Context is a test context with a scratch directory that is removed
// on cleanup. Goroutines started through Go are waited for before the
// cleanup completes.
type Context struct {
	context.Context

	test    testing.TB
	timeout time.Duration
	cancel  context.CancelFunc

	group sync.WaitGroup
	mu    sync.Mutex
	errs  []error

	once sync.Once
	dir  string
}

// New creates a test context with the default cleanup timeout.
func New(test testing.TB) *Context {
	return NewWithTimeout(test, defaultTimeout)
}

// NewWithTimeout creates a test context that gives goroutines the
// given time to finish during cleanup.
func NewWithTimeout(test testing.TB, timeout time.Duration) *Context {
	ctx, cancel := context.WithCancel(context.Background())
	return &Context{
		Context: ctx,
		test:    test,
		timeout: timeout,
		cancel:  cancel,
	}
}

// Go starts fn in a goroutine tracked by the context. A returned error
// fails the test during cleanup.
func (ctx *Context) Go(fn func() error) {
	ctx.group.Add(1)
	go func() {
		defer ctx.group.Done()
		if err := fn(); err != nil {
			ctx.mu.Lock()
			ctx.errs = append(ctx.errs, err)
			ctx.mu.Unlock()
		}
	}()
}

func (ctx *Context) scratch() string {
	ctx.once.Do(func() {
		dir, err := ioutil.TempDir("", "test-"+ctx.test.Name())
		if err != nil {
			ctx.test.Fatal(err)
		}
		ctx.dir = dir
	})
	return ctx.dir
}

// Dir returns a subdirectory inside the scratch directory, creating it
// when needed.
func (ctx *Context) Dir(elem ...string) string {
	dir := filepath.Join(append([]string{ctx.scratch()}, elem...)...)
	if err := os.MkdirAll(dir, 0744); err != nil {
		ctx.test.Fatal(err)
	}
	return dir
}

// File returns a path inside the scratch directory. The parent
// directory is created, the file itself is not.
func (ctx *Context) File(elem ...string) string {
	if len(elem) == 0 {
		ctx.test.Fatal("expected at least one path element")
	}
	dir := ctx.Dir(elem[:len(elem)-1]...)
	return filepath.Join(dir, elem[len(elem)-1])
}

// Cleanup cancels the context, waits for tracked goroutines and
// removes the scratch directory. Goroutines still running after the
// timeout or finishing with an error fail the test.
func (ctx *Context) Cleanup() {
	defer ctx.deleteScratch()

	ctx.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx.group.Wait()
	}()

	select {
	case <-done:
	case <-time.After(ctx.timeout):
		ctx.test.Fatal("timed out waiting for goroutines to finish")
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	for _, err := range ctx.errs {
		ctx.test.Error(err)
	}
}

func (ctx *Context) deleteScratch() {
	if ctx.dir == "" {
		return
	}
	if err := os.RemoveAll(ctx.dir); err != nil {
		ctx.test.Fatal(err)
	}
}
