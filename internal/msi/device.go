// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package msi

import (
	"fmt"
	"math/bits"
)

// PCI capability IDs of the interrupt schemes a device may ask for.
type Type uint8

const (
	TypeMsi  Type = 0x05
	TypeMsix Type = 0x11
)

// Msg is what a device writes, and where, to raise an interrupt.
type Msg struct {
	AddressLo uint32
	AddressHi uint32
	Data      uint32
}

func (m Msg) String() string {
	return fmt.Sprintf("addr 0x%08x%08x data 0x%x", m.AddressHi, m.AddressLo, m.Data)
}

// Entry is one MSI capability of a device.
type Entry struct {
	// First virtual interrupt; 0 when unassigned.
	Irq Irq

	// log2 of the number of vectors.
	Multiple uint8

	Msg Msg
}

func (e *Entry) NVec() uint { return 1 << e.Multiple }

// Device is the PCI layer's view of an endpoint using MSI.
type Device struct {
	Name    string
	Entries []*Entry
	UseMsi  bool

	// WriteMsg, if set, programs the message into the device.
	WriteMsg func(*Entry, Msg) error
}

// multiple returns log2 of nvec rounded down, the MSI "multiple message"
// encoding.
func multiple(nvec uint) uint8 {
	if nvec == 0 {
		return 0
	}
	return uint8(bits.Len(nvec) - 1)
}

// SetupIrq binds a single vector for the entry.
func (c *Controller) SetupIrq(d *Device, e *Entry) error {
	return c.setup(d, e, 1)
}

// SetupIrqs binds nvec vectors for each of the device's MSI entries.
func (c *Controller) SetupIrqs(d *Device, nvec uint, t Type) error {
	c.debugf("%s: nvec %d", d.Name, nvec)
	if t != TypeMsi || nvec > MaxVectors {
		return fmt.Errorf("%s: type 0x%x nvec %d: %w",
			d.Name, uint8(t), nvec, ErrNoSpace)
	}
	for _, e := range d.Entries {
		e.Multiple = multiple(nvec)
		if err := c.setup(d, e, nvec); err != nil {
			c.debugf("%s: %v", d.Name, err)
			return err
		}
	}
	d.UseMsi = true
	return nil
}

func (c *Controller) setup(d *Device, e *Entry, nvec uint) error {
	irq, err := c.CreateIrq(nvec)
	if err != nil {
		return fmt.Errorf("%s: %w", d.Name, err)
	}
	c.debugf("irq %d allocated for %s", irq, d.Name)
	e.Irq = irq
	msg, err := c.ComposeMsg(irq)
	if err != nil {
		return err
	}
	e.Msg = msg
	if d.WriteMsg != nil {
		return d.WriteMsg(e, msg)
	}
	return nil
}

// TeardownIrqs releases every vector of every entry of the device.
func (c *Controller) TeardownIrqs(d *Device) (err error) {
	c.debugf("teardown %s", d.Name)
	d.UseMsi = false
	for _, e := range d.Entries {
		if e.Irq == 0 {
			continue
		}
		first := c.desc(e.Irq)
		if first == nil {
			if err == nil {
				err = fmt.Errorf("irq %d: %w", e.Irq, ErrNotAllocated)
			}
			continue
		}
		// Vectors are consecutive slots, not necessarily consecutive irqs.
		for i := uint(0); i < e.NVec(); i++ {
			var xerr error
			if v := c.Lookup(first.HwIrq + i); v != nil {
				xerr = c.DestroyIrq(v.Irq)
			} else {
				xerr = fmt.Errorf("hwirq %d: %w", first.HwIrq+i, ErrNotAllocated)
			}
			if err == nil {
				err = xerr
			}
		}
		e.Irq = 0
	}
	return
}
