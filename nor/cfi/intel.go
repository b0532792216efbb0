// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package cfi

import (
	"github.com/phoenix-rtos/plo-sub002/internal/hal"
	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

const (
	intelCmdReadArray  = 0xff
	intelCmdWriteBuf   = 0xe8
	intelCmdConfirm    = 0xd0
	intelCmdSectErase  = 0x20
	intelCmdClearStat  = 0x50

	intelStatusReady     = 1 << 7
	intelStatusEraseErr  = 1 << 5
	intelStatusProgErr   = 1 << 4
	intelStatusErrorMask = intelStatusEraseErr | intelStatusProgErr
)

// IntelCmdSet implements the Intel/Sharp extended command set.
type IntelCmdSet struct{}

func (IntelCmdSet) Name() string { return "intel" }

func (IntelCmdSet) Reset(bus ParallelBus, portWidth int) error {
	return bus.WriteCmd(0, intelCmdReadArray, portWidth)
}

func (i IntelCmdSet) pollReady(bus ParallelBus, portWidth int, addr int64, t hal.Timer, timeoutMs uint32) (uint16, error) {
	var status uint16
	err := pollTimeout(t, timeoutMs, func() (bool, error) {
		w, err := bus.ReadWord(addr, portWidth)
		if err != nil {
			return false, err
		}
		status = w
		return w&intelStatusReady != 0, nil
	})
	return status, err
}

func (i IntelCmdSet) checkAndClearStatus(bus ParallelBus, portWidth int, addr int64, status uint16) error {
	if status&intelStatusErrorMask != 0 {
		_ = bus.WriteCmd(addr, intelCmdClearStat, portWidth)
		return ioerr.ErrIO
	}
	return bus.WriteCmd(addr, intelCmdClearStat, portWidth)
}

func (i IntelCmdSet) WriteBuffer(bus ParallelBus, portWidth int, addr int64, data []byte, t hal.Timer, timeoutMs uint32) error {
	if err := checkPortWidth(portWidth); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	words := wordsFromBytes(data, portWidth)

	if err := bus.WriteCmd(addr, intelCmdWriteBuf, portWidth); err != nil {
		return err
	}
	if _, err := i.pollReady(bus, portWidth, addr, t, timeoutMs); err != nil {
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
	for _, w := range words {
		if err := bus.WriteCmd(cur, w, portWidth); err != nil {
			return err
		}
		cur += step
	}

	if err := bus.WriteCmd(addr, intelCmdConfirm, portWidth); err != nil {
		return err
	}

	status, err := i.pollReady(bus, portWidth, addr, t, timeoutMs)
	if err != nil {
		return err
	}
	return i.checkAndClearStatus(bus, portWidth, addr, status)
}

func (i IntelCmdSet) SectorErase(bus ParallelBus, portWidth int, addr int64, t hal.Timer, timeoutMs uint32) error {
	if err := checkPortWidth(portWidth); err != nil {
		return err
	}
	if err := bus.WriteCmd(addr, intelCmdSectErase, portWidth); err != nil {
		return err
	}
	if err := bus.WriteCmd(addr, intelCmdConfirm, portWidth); err != nil {
		return err
	}

	status, err := i.pollReady(bus, portWidth, addr, t, timeoutMs)
	if err != nil {
		return err
	}
	return i.checkAndClearStatus(bus, portWidth, addr, status)
}

// ChipErase is not available on Intel-set chips; the higher layer
// falls back to iterating SectorErase.
func (IntelCmdSet) ChipErase(bus ParallelBus, portWidth int, t hal.Timer, timeoutMs uint32) error {
	return ioerr.ErrNoSys
}

var _ CmdSet = IntelCmdSet{}
