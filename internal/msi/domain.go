// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package msi

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Domain is a linear map of controller slots to virtual interrupts.
// Mappings are created on first use and persist until the domain is
// removed.
type Domain struct {
	ctrl  *Controller
	space *Space

	// serializes mapping creation; lookups are lock free
	mu  sync.Mutex
	rev [NSlots]atomic.Value
}

func newDomain(c *Controller, s *Space) *Domain {
	return &Domain{ctrl: c, space: s}
}

// FindMapping returns the descriptor bound to slot hw or nil.
func (d *Domain) FindMapping(hw uint) *Desc {
	if hw >= NSlots {
		return nil
	}
	if v, ok := d.rev[hw].Load().(*Desc); ok {
		return v
	}
	return nil
}

// CreateMapping returns the slot's descriptor, creating it if needed.
func (d *Domain) CreateMapping(hw uint) (*Desc, error) {
	if hw >= NSlots {
		return nil, fmt.Errorf("hwirq %d: %w", hw, ErrInvalid)
	}
	if desc := d.FindMapping(hw); desc != nil {
		return desc, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if desc := d.FindMapping(hw); desc != nil {
		return desc, nil
	}
	desc := d.space.alloc(hw, domainChip, d.ctrl)
	d.rev[hw].Store(desc)
	return desc, nil
}

// remove drops every mapping from the descriptor space.
func (d *Domain) remove() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for hw := range d.rev {
		if desc := d.FindMapping(uint(hw)); desc != nil {
			d.space.remove(desc.Irq)
		}
	}
}

type domainPolicy struct{ *Domain }

func (p domainPolicy) String() string { return "domain" }

func (p domainPolicy) create(c *Controller, nvec uint) (*Desc, error) {
	pos, err := c.Bitmap.AllocRun(nvec)
	if err != nil {
		return nil, err
	}
	c.debugf("slot %d, in use %s", pos, &c.Bitmap)
	var first *Desc
	for i := uint(0); i < nvec; i++ {
		desc, err := p.CreateMapping(pos + i)
		if err != nil {
			c.release(pos, nvec)
			return nil, fmt.Errorf("create mapping %d: %w", pos+i, ErrInvalid)
		}
		atomic.StoreUint32(&desc.bound, 1)
		if i == 0 {
			first = desc
		}
	}
	return first, nil
}

func (p domainPolicy) lookup(c *Controller, hw uint) *Desc { return p.FindMapping(hw) }

func (p domainPolicy) destroy(c *Controller, desc *Desc) { desc.cleanup() }

func (p domainPolicy) msg(c *Controller, desc *Desc) Msg {
	return Msg{AddressLo: PhyAddr, Data: uint32(desc.HwIrq)}
}
