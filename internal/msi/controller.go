// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package msi demultiplexes the single MSI interrupt of a PCIe root complex
// into per-vector virtual interrupts.
package msi

import (
	"fmt"
	"sync/atomic"

	"github.com/platinasystems/log"
)

type Config struct {
	// Prefix for log messages, e.g. "RC0".
	Name string

	// Non-zero selects direct GICM mapping: slot i is virtual interrupt
	// GicmBase+i and devices write their message to GicmAddr.
	GicmAddr uint64
	GicmBase Irq

	// Descriptor table; DefaultSpace if nil.
	Space *Space

	// MSI controller registers; only needed by Scan and Configure.
	Regs Regs
}

type policy interface {
	String() string
	create(c *Controller, nvec uint) (*Desc, error)
	lookup(c *Controller, hw uint) *Desc
	destroy(c *Controller, d *Desc)
	msg(c *Controller, d *Desc) Msg
}

// Controller owns a root complex's slot bitmap and its mapping to virtual
// interrupts.
type Controller struct {
	// first for 64 bit atomic alignment on 32 bit arm
	spurious uint64

	Config
	Bitmap

	// Domain is nil under the GICM policy.
	Domain *Domain

	space  *Space
	policy policy

	// Base of the domain's mappings, created at init like slot 0.
	start Irq
}

// New builds the controller and selects its allocation policy.
func New(cfg Config) (*Controller, error) {
	c := &Controller{Config: cfg, space: cfg.Space}
	if c.space == nil {
		c.space = DefaultSpace
	}
	if cfg.GicmAddr != 0 {
		// interrupt numbers are 32 bit
		if uint64(cfg.GicmBase)+NSlots > 1<<32 {
			return nil, fmt.Errorf("%s: gicm base %d: %w",
				cfg.Name, cfg.GicmBase, ErrInvalid)
		}
		c.policy = gicmPolicy{addr: cfg.GicmAddr, base: cfg.GicmBase}
		return c, nil
	}
	c.Domain = newDomain(c, c.space)
	c.policy = domainPolicy{c.Domain}
	d, err := c.Domain.CreateMapping(0)
	if err != nil {
		return nil, err
	}
	c.start = d.Irq
	return c, nil
}

// Remove discards every mapping of the controller.
func (c *Controller) Remove() {
	if c.Domain != nil {
		c.Domain.remove()
	}
}

func (c *Controller) Policy() string  { return c.policy.String() }
func (c *Controller) Start() Irq       { return c.start }
func (c *Controller) Spurious() uint64 { return atomic.LoadUint64(&c.spurious) }

// Lookup returns the descriptor of slot hw or nil.
func (c *Controller) Lookup(hw uint) *Desc { return c.policy.lookup(c, hw) }

// CreateIrq binds nvec slots to virtual interrupts and returns the first.
func (c *Controller) CreateIrq(nvec uint) (Irq, error) {
	c.debugf("%s nvec %d", c.policy, nvec)
	d, err := c.policy.create(c, nvec)
	if err != nil {
		return 0, err
	}
	return d.Irq, nil
}

// DestroyIrq releases the interrupt's slot and clears its descriptor.
// Callers serialize create and destroy of the same interrupt.
func (c *Controller) DestroyIrq(irq Irq) error {
	d := c.desc(irq)
	if d == nil || d.ctrl != c {
		return fmt.Errorf("irq %d: %w", irq, ErrNotAllocated)
	}
	c.debugf("destroy %s irq %d", c.policy, irq)
	pos := d.HwIrq
	c.policy.destroy(c, d)
	err := c.Bitmap.Free(pos)
	c.debugf("free slot %d, in use %s", pos, &c.Bitmap)
	if err != nil {
		c.errorf("destroy irq %d: %v", irq, err)
	}
	return err
}

// ComposeMsg returns the address and data a device writes to raise irq.
func (c *Controller) ComposeMsg(irq Irq) (Msg, error) {
	d := c.desc(irq)
	if d == nil || atomic.LoadUint32(&d.bound) == 0 {
		return Msg{}, fmt.Errorf("irq %d: %w", irq, ErrNotAllocated)
	}
	return c.policy.msg(c, d), nil
}

// Request installs the handler of a bound virtual interrupt.
func (c *Controller) Request(irq Irq, h Handler) error {
	d := c.desc(irq)
	if d == nil || atomic.LoadUint32(&d.bound) == 0 {
		return fmt.Errorf("irq %d: %w", irq, ErrNotAllocated)
	}
	d.setHandler(h)
	return nil
}

func (c *Controller) Free(irq Irq) {
	if d := c.desc(irq); d != nil {
		d.setHandler(nil)
	}
}

func (c *Controller) Mask(irq Irq)   { c.chipOp(irq, Chip.Mask) }
func (c *Controller) Unmask(irq Irq) { c.chipOp(irq, Chip.Unmask) }
func (c *Controller) Ack(irq Irq)    { c.chipOp(irq, Chip.Ack) }

func (c *Controller) chipOp(irq Irq, op func(Chip, *Desc)) {
	if d := c.desc(irq); d != nil {
		op(d.chip, d)
	}
}

// Dispatch runs the flow handler of slot hw; it runs in interrupt context.
func (c *Controller) Dispatch(hw uint) {
	d := c.policy.lookup(c, hw)
	if d == nil {
		atomic.AddUint64(&c.spurious, 1)
		return
	}
	d.handle()
}

func (c *Controller) desc(irq Irq) *Desc {
	d := c.space.Lookup(irq)
	if d == nil || d.ctrl != c {
		return nil
	}
	return d
}

// release frees slots reserved by a failed create.
func (c *Controller) release(pos, n uint) {
	for i := uint(0); i < n; i++ {
		c.Bitmap.Free(pos + i)
	}
}

func (c *Controller) debugf(format string, args ...interface{}) {
	log.Print("daemon", "debug", c.Name, ": ", fmt.Sprintf(format, args...))
}

func (c *Controller) errorf(format string, args ...interface{}) {
	log.Print("daemon", "err", c.Name, ": ", fmt.Sprintf(format, args...))
}
