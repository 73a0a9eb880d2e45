// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package msi

import (
	"fmt"
	"sync/atomic"
)

// gicmPolicy maps slot i directly to interrupt GicmBase+i of an interrupt
// controller that accepts MSI writes at GicmAddr.
type gicmPolicy struct {
	addr uint64
	base Irq
}

func (p gicmPolicy) String() string { return "gicm" }

func (p gicmPolicy) create(c *Controller, nvec uint) (*Desc, error) {
	pos, err := c.Bitmap.AllocRun(nvec)
	if err != nil {
		return nil, err
	}
	c.debugf("slot %d, in use %s", pos, &c.Bitmap)
	irq := p.base + Irq(pos)
	if irq == 0 {
		c.release(pos, nvec)
		c.errorf("gicm irq 0 for slot %d", pos)
		return nil, fmt.Errorf("gicm irq 0: %w", ErrInvalid)
	}
	var first *Desc
	for i := uint(0); i < nvec; i++ {
		desc, err := c.space.insert(irq+Irq(i), pos+i, gicmChip, c)
		if err != nil {
			for j := uint(0); j < i; j++ {
				c.space.remove(irq + Irq(j))
			}
			c.release(pos, nvec)
			return nil, err
		}
		desc.Edge = true
		atomic.StoreUint32(&desc.bound, 1)
		if i == 0 {
			first = desc
		}
	}
	return first, nil
}

func (p gicmPolicy) lookup(c *Controller, hw uint) *Desc {
	if hw >= NSlots {
		return nil
	}
	// another controller's interrupt where the bases overlap
	d := c.space.Lookup(p.base + Irq(hw))
	if d == nil || d.ctrl != c {
		return nil
	}
	return d
}

func (p gicmPolicy) destroy(c *Controller, desc *Desc) {
	desc.cleanup()
	c.space.remove(desc.Irq)
}

// The device adds the vector number to Data for vectors after the first.
func (p gicmPolicy) msg(c *Controller, desc *Desc) Msg {
	return Msg{
		AddressLo: uint32(p.addr),
		AddressHi: uint32(p.addr >> 32),
		Data:      uint32(desc.Irq),
	}
}
