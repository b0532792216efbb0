// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package cfi

import "sync/atomic"

// FTMCTRL models the write-enable register bit on the external
// flash/timing memory controller that physically gates writes to the
// parallel NOR bus. A real FTMCTRL is a
// memory-mapped register; this is a plain on/off flag, not a counter:
// WrEn/WrDis do not nest, and the first WrDis closes the gate. The
// Driver issues a single top-level WrEn/WrDis pair per operation, and
// the cmdSet calls inside it issue none.
type FTMCTRL struct {
	enabled int32
}

func NewFTMCTRL() *FTMCTRL { return &FTMCTRL{} }

func (f *FTMCTRL) WrEn()  { atomic.StoreInt32(&f.enabled, 1) }
func (f *FTMCTRL) WrDis() { atomic.StoreInt32(&f.enabled, 0) }

// Enabled reports the gate state.
func (f *FTMCTRL) Enabled() bool { return atomic.LoadInt32(&f.enabled) != 0 }

var _ WriteEnableGate = (*FTMCTRL)(nil)
