// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package msi

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Irq is a virtual interrupt number.
type Irq uint

// Handler services a virtual interrupt. It runs in interrupt context.
type Handler func(Irq)

// First virtual interrupt number handed out for domain mappings.
const FirstDynamicIrq Irq = 512

// Chip provides the flow operations of a virtual interrupt.
type Chip interface {
	String() string
	Ack(*Desc)
	Mask(*Desc)
	Unmask(*Desc)
}

// Desc describes one virtual interrupt.
type Desc struct {
	// 64 bit counters first for atomic alignment on 32 bit arm.
	count     uint64
	unhandled uint64

	Irq Irq
	// Slot in the owning controller's bitmap.
	HwIrq uint

	Edge bool

	chip Chip
	ctrl *Controller

	handler atomic.Value
	// non-zero while masked
	masked uint32
	// non-zero while bound to a device vector
	bound uint32
}

type handlerBox struct{ h Handler }

func (d *Desc) Chip() Chip              { return d.chip }
func (d *Desc) Controller() *Controller { return d.ctrl }
func (d *Desc) Masked() bool            { return atomic.LoadUint32(&d.masked) != 0 }
func (d *Desc) Count() uint64           { return atomic.LoadUint64(&d.count) }
func (d *Desc) Unhandled() uint64       { return atomic.LoadUint64(&d.unhandled) }

func (d *Desc) setHandler(h Handler) { d.handler.Store(handlerBox{h}) }

func (d *Desc) getHandler() Handler {
	if b, ok := d.handler.Load().(handlerBox); ok {
		return b.h
	}
	return nil
}

// handle is the simple flow handler: masked or unclaimed interrupts are
// counted and dropped.
func (d *Desc) handle() {
	d.chip.Ack(d)
	h := d.getHandler()
	if h == nil || d.Masked() {
		atomic.AddUint64(&d.unhandled, 1)
		return
	}
	atomic.AddUint64(&d.count, 1)
	h(d.Irq)
}

// cleanup returns the descriptor to its unbound state; the mapping itself
// persists.
func (d *Desc) cleanup() {
	d.setHandler(nil)
	atomic.StoreUint32(&d.masked, 0)
	atomic.StoreUint32(&d.bound, 0)
}

func (d *Desc) String() string {
	return fmt.Sprintf("irq %d hwirq %d (%s)", d.Irq, d.HwIrq, d.chip)
}

// Space is a table of virtual interrupt descriptors shared by every
// controller that allocates from it.
type Space struct {
	mu    sync.Mutex
	next  Irq
	descs sync.Map
}

// DefaultSpace is used by controllers configured without a Space.
var DefaultSpace = NewSpace(FirstDynamicIrq)

func NewSpace(first Irq) *Space { return &Space{next: first} }

// Lookup is safe from interrupt context.
func (s *Space) Lookup(irq Irq) *Desc {
	if v, ok := s.descs.Load(irq); ok {
		return v.(*Desc)
	}
	return nil
}

// alloc creates a descriptor with the next free dynamic number.
func (s *Space) alloc(hw uint, chip Chip, ctrl *Controller) *Desc {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		irq := s.next
		s.next++
		if _, used := s.descs.Load(irq); used {
			continue
		}
		d := &Desc{Irq: irq, HwIrq: hw, chip: chip, ctrl: ctrl}
		s.descs.Store(irq, d)
		return d
	}
}

// insert creates a descriptor at a fixed number.
func (s *Space) insert(irq Irq, hw uint, chip Chip, ctrl *Controller) (*Desc, error) {
	d := &Desc{Irq: irq, HwIrq: hw, chip: chip, ctrl: ctrl}
	if v, loaded := s.descs.LoadOrStore(irq, d); loaded {
		old := v.(*Desc)
		if old.ctrl != ctrl || old.HwIrq != hw {
			return nil, fmt.Errorf("irq %d busy: %w", irq, ErrInvalid)
		}
		return old, nil
	}
	return d, nil
}

func (s *Space) remove(irq Irq) { s.descs.Delete(irq) }

// Teardown releases a virtual interrupt through the controller that owns it.
func (s *Space) Teardown(irq Irq) error {
	d := s.Lookup(irq)
	if d == nil {
		return fmt.Errorf("irq %d: %w", irq, ErrNotAllocated)
	}
	return d.ctrl.DestroyIrq(irq)
}

// msiChip toggles a chip level mask flag. Ack is a no-op since the status
// register was cleared before dispatch.
type msiChip struct{ name string }

func (c *msiChip) String() string { return c.name }
func (*msiChip) Ack(*Desc)        {}
func (*msiChip) Mask(d *Desc)     { atomic.StoreUint32(&d.masked, 1) }
func (*msiChip) Unmask(d *Desc)   { atomic.StoreUint32(&d.masked, 0) }

var (
	domainChip = &msiChip{"msm-pcie-msi"}
	gicmChip   = &msiChip{"msm-pcie-gicm"}
)
