// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package cfi

import (
	"github.com/phoenix-rtos/plo-sub002/internal/hal"
)

// AMD unlock-cycle addresses, word-addressed (the driver scales these
// by port width before writing to the byte-addressed bus).
const (
	amdUnlockAddr1 = 0xaaa
	amdUnlockAddr2 = 0x555

	amdCmdUnlock1   = 0xaa
	amdCmdUnlock2   = 0x55
	amdCmdReset     = 0xf0
	amdCmdErase     = 0x80
	amdCmdChipErase = 0x10
	amdCmdSectErase = 0x30
	amdCmdWriteBuf  = 0x25
	amdCmdConfirm   = 0x29

	amdDQ6Toggle = 1 << 6
)

// AMDCmdSet implements the AMD/Fujitsu standard command set.
type AMDCmdSet struct{}

func (AMDCmdSet) Name() string { return "amd" }

func scaledAddr(wordAddr int64, portWidth int) int64 {
	if portWidth == 16 {
		return wordAddr * 2
	}
	return wordAddr
}

func (a AMDCmdSet) unlock(bus ParallelBus, portWidth int) error {
	if err := bus.WriteCmd(scaledAddr(amdUnlockAddr1, portWidth), amdCmdUnlock1, portWidth); err != nil {
		return err
	}
	return bus.WriteCmd(scaledAddr(amdUnlockAddr2, portWidth), amdCmdUnlock2, portWidth)
}

func (a AMDCmdSet) Reset(bus ParallelBus, portWidth int) error {
	return bus.WriteCmd(0, amdCmdReset, portWidth)
}

func (a AMDCmdSet) WriteBuffer(bus ParallelBus, portWidth int, addr int64, data []byte, t hal.Timer, timeoutMs uint32) error {
	if err := checkPortWidth(portWidth); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	words := wordsFromBytes(data, portWidth)

	if err := a.unlock(bus, portWidth); err != nil {
		return err
	}
	if err := bus.WriteCmd(addr, amdCmdWriteBuf, portWidth); err != nil {
		return err
	}
	if err := bus.WriteCmd(addr, uint16(len(words)-1), portWidth); err != nil {
		return err
	}

	cur := addr
	step := int64(1)
	if portWidth == 16 {
		step = 2
	}
	var lastAddr int64
	for _, w := range words {
		if err := bus.WriteCmd(cur, w, portWidth); err != nil {
			return err
		}
		lastAddr = cur
		cur += step
	}

	if err := bus.WriteCmd(addr, amdCmdConfirm, portWidth); err != nil {
		return err
	}

	return a.pollToggle(bus, portWidth, lastAddr, t, timeoutMs)
}

// pollToggle implements AMD's DQ6 data-polling algorithm: read the
// same address twice; if bit 6 is unchanged, the operation is
// complete.
func (a AMDCmdSet) pollToggle(bus ParallelBus, portWidth int, addr int64, t hal.Timer, timeoutMs uint32) error {
	var prev uint16
	first := true

	return pollTimeout(t, timeoutMs, func() (bool, error) {
		cur, err := bus.ReadWord(addr, portWidth)
		if err != nil {
			return false, err
		}
		if first {
			prev = cur
			first = false
			return false, nil
		}
		done := (cur & amdDQ6Toggle) == (prev & amdDQ6Toggle)
		prev = cur
		return done, nil
	})
}

func (a AMDCmdSet) SectorErase(bus ParallelBus, portWidth int, addr int64, t hal.Timer, timeoutMs uint32) error {
	if err := checkPortWidth(portWidth); err != nil {
		return err
	}
	if err := a.unlock(bus, portWidth); err != nil {
		return err
	}
	if err := bus.WriteCmd(scaledAddr(amdUnlockAddr1, portWidth), amdCmdErase, portWidth); err != nil {
		return err
	}
	if err := a.unlock(bus, portWidth); err != nil {
		return err
	}
	if err := bus.WriteCmd(addr, amdCmdSectErase, portWidth); err != nil {
		return err
	}

	return pollTimeout(t, timeoutMs, func() (bool, error) {
		w, err := bus.ReadWord(addr, portWidth)
		if err != nil {
			return false, err
		}
		mask := uint16(0xff)
		if portWidth == 16 {
			mask = 0xffff
		}
		return w&mask == mask, nil
	})
}

func (a AMDCmdSet) ChipErase(bus ParallelBus, portWidth int, t hal.Timer, timeoutMs uint32) error {
	if err := checkPortWidth(portWidth); err != nil {
		return err
	}
	if err := a.unlock(bus, portWidth); err != nil {
		return err
	}
	if err := bus.WriteCmd(scaledAddr(amdUnlockAddr1, portWidth), amdCmdErase, portWidth); err != nil {
		return err
	}
	if err := a.unlock(bus, portWidth); err != nil {
		return err
	}
	if err := bus.WriteCmd(scaledAddr(amdUnlockAddr1, portWidth), amdCmdChipErase, portWidth); err != nil {
		return err
	}

	return pollTimeout(t, timeoutMs, func() (bool, error) {
		w, err := bus.ReadWord(0, portWidth)
		if err != nil {
			return false, err
		}
		mask := uint16(0xff)
		if portWidth == 16 {
			mask = 0xffff
		}
		return w&mask == mask, nil
	})
}

var _ CmdSet = AMDCmdSet{}
