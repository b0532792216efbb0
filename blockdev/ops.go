// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package blockdev

import "github.com/phoenix-rtos/plo-sub002/internal/ioerr"

// DeviceOps adapts a set of per-minor Devices to the minor-indexed
// Ops table the registry dispatches on. Drivers build their Device
// instances at registration time and hand the slice here; an
// out-of-range minor answers ErrNoDev, matching the registry's own
// policy for unknown instances.
type DeviceOps struct {
	devs []Device
}

// NewDeviceOps builds the adapter; minor i maps to devs[i].
func NewDeviceOps(devs ...Device) *DeviceOps {
	return &DeviceOps{devs: devs}
}

func (o *DeviceOps) dev(minor int) (Device, error) {
	if minor < 0 || minor >= len(o.devs) || o.devs[minor] == nil {
		return nil, ioerr.ErrNoDev
	}
	return o.devs[minor], nil
}

func (o *DeviceOps) Init(minor int) error {
	d, err := o.dev(minor)
	if err != nil {
		return err
	}
	return d.Init()
}

func (o *DeviceOps) Done(minor int) error {
	d, err := o.dev(minor)
	if err != nil {
		return err
	}
	return d.Done()
}

func (o *DeviceOps) Read(minor int, off int64, buf []byte, timeoutMs uint32) (int, error) {
	d, err := o.dev(minor)
	if err != nil {
		return 0, err
	}
	return d.Read(off, buf, timeoutMs)
}

func (o *DeviceOps) Write(minor int, off int64, buf []byte) (int, error) {
	d, err := o.dev(minor)
	if err != nil {
		return 0, err
	}
	return d.Write(off, buf)
}

func (o *DeviceOps) Erase(minor int, off int64, length int64, flags EraseFlags) (int64, error) {
	d, err := o.dev(minor)
	if err != nil {
		return 0, err
	}
	return d.Erase(off, length, flags)
}

func (o *DeviceOps) Sync(minor int) error {
	d, err := o.dev(minor)
	if err != nil {
		return err
	}
	return d.Sync()
}

func (o *DeviceOps) Map(minor int, req MapRequest) (MapResult, error) {
	d, err := o.dev(minor)
	if err != nil {
		return MapResult{}, err
	}
	return d.Map(req)
}

var _ Ops = (*DeviceOps)(nil)
