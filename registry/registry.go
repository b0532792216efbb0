// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package registry is the device registry: the discovery and dispatch
// layer that maps a (major, minor) identifier to a driver's operation
// table. It is the only globally-addressable surface the shell and
// the partition loader see — one registry instance fans out to every
// driver instead of each caller holding its own concrete device.
package registry

import (
	"sync"

	"github.com/phoenix-rtos/plo-sub002/blockdev"
	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

// Class is the closed set of device classes.
type Class int

const (
	ClassUART Class = iota
	ClassTTY
	ClassStorage
	ClassNANDData
	ClassNANDMeta
	ClassNANDRaw
	numClasses
)

func (c Class) String() string {
	switch c {
	case ClassUART:
		return "uart"
	case ClassTTY:
		return "tty"
	case ClassStorage:
		return "storage"
	case ClassNANDData:
		return "nand-data"
	case ClassNANDMeta:
		return "nand-meta"
	case ClassNANDRaw:
		return "nand-raw"
	default:
		return "unknown"
	}
}

// entry tracks one registered minor range and its lifecycle state.
type entry struct {
	ops       blockdev.Ops
	minorBase int
	minorN    int
	initDone  []bool
}

func (e *entry) owns(minor int) bool {
	return minor >= e.minorBase && minor < e.minorBase+e.minorN
}

// Registry is the dispatch table from (major, minor) to a driver's
// Ops. Registration order is fixed at construction time: an explicit
// startup call populates it in link order, there is no self-running
// constructor magic. Registry itself is not safe for concurrent
// registration, but is safe for concurrent read-only dispatch once
// registration is complete, which matches the loader's
// single-threaded, cooperative execution model.
type Registry struct {
	mu      sync.Mutex
	classes [numClasses][]*entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Register records the ops table for minorCount consecutive minors of
// class major, starting at minorBase. It returns an error only for a
// programmer mistake (unrecognized class, overlapping minor range),
// which in the loader's build would be caught by construction order,
// not by a runtime check.
func (r *Registry) Register(major Class, minorBase, minorCount int, ops blockdev.Ops) error {
	if major < 0 || major >= numClasses {
		return ioerr.ErrInval
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.classes[major] {
		if minorBase < e.minorBase+e.minorN && e.minorBase < minorBase+minorCount {
			return ioerr.ErrInval
		}
	}

	r.classes[major] = append(r.classes[major], &entry{
		ops:       ops,
		minorBase: minorBase,
		minorN:    minorCount,
		initDone:  make([]bool, minorCount),
	})
	return nil
}

func (r *Registry) lookup(major Class, minor int) (*entry, int) {
	if major < 0 || major >= numClasses {
		return nil, 0
	}
	for _, e := range r.classes[major] {
		if e.owns(minor) {
			return e, minor - e.minorBase
		}
	}
	return nil, 0
}

// Init forwards to ops.Init(minor) exactly once. Repeated calls after
// the first success return nil without re-invoking the driver.
func (r *Registry) Init(major Class, minor int) error {
	r.mu.Lock()
	e, idx := r.lookup(major, minor)
	r.mu.Unlock()

	if e == nil {
		return ioerr.ErrNoDev
	}
	if e.initDone[idx] {
		return nil
	}
	if err := e.ops.Init(minor); err != nil {
		return err
	}
	e.initDone[idx] = true
	return nil
}

// Done forwards to ops.Done(minor) and marks the instance
// uninitialized again.
func (r *Registry) Done(major Class, minor int) error {
	e, idx := r.lookup(major, minor)
	if e == nil {
		return ioerr.ErrNoDev
	}
	if !e.initDone[idx] {
		return nil
	}
	err := e.ops.Done(minor)
	e.initDone[idx] = false
	return err
}

func (r *Registry) opsFor(major Class, minor int) (blockdev.Ops, error) {
	e, idx := r.lookup(major, minor)
	if e == nil {
		return nil, ioerr.ErrNoDev
	}
	if !e.initDone[idx] {
		return nil, ioerr.ErrNoDev
	}
	return e.ops, nil
}

func (r *Registry) Read(major Class, minor int, off int64, buf []byte, timeoutMs uint32) (int, error) {
	ops, err := r.opsFor(major, minor)
	if err != nil {
		return 0, err
	}
	return ops.Read(minor, off, buf, timeoutMs)
}

func (r *Registry) Write(major Class, minor int, off int64, buf []byte) (int, error) {
	ops, err := r.opsFor(major, minor)
	if err != nil {
		return 0, err
	}
	return ops.Write(minor, off, buf)
}

func (r *Registry) Erase(major Class, minor int, off int64, length int64, flags blockdev.EraseFlags) (int64, error) {
	ops, err := r.opsFor(major, minor)
	if err != nil {
		return 0, err
	}
	return ops.Erase(minor, off, length, flags)
}

func (r *Registry) Sync(major Class, minor int) error {
	ops, err := r.opsFor(major, minor)
	if err != nil {
		return err
	}
	return ops.Sync(minor)
}

func (r *Registry) Map(major Class, minor int, req blockdev.MapRequest) (blockdev.MapResult, error) {
	ops, err := r.opsFor(major, minor)
	if err != nil {
		return blockdev.MapResult{}, err
	}
	return ops.Map(minor, req)
}
