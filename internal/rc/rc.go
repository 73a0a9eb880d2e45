// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package rc ties together the interrupt lines, MSI controller and link
// machine of one PCIe root complex.
package rc

import (
	"fmt"
	"io"
	"sync"

	"github.com/platinasystems/log"
	"github.com/platinasystems/pcierc/internal/irq"
	"github.com/platinasystems/pcierc/internal/link"
	"github.com/platinasystems/pcierc/internal/msi"
	"go.uber.org/multierr"
)

// Lines are the physical interrupts of a root complex.
type Lines struct {
	LinkDown irq.Line
	Msi      irq.Line
	Wake     irq.Line
}

type RootComplex struct {
	*Config

	Link  *link.Machine
	Msi   *msi.Controller
	Lines Lines

	// MSI controller registers, nil to skip controller programming.
	Regs msi.Regs
	// Virtual interrupt table; msi.DefaultSpace if nil.
	Space *msi.Space

	// released by Deinit after the lines
	closers []io.Closer

	wg sync.WaitGroup
}

// New returns the root complex; Init starts it.
func New(cfg *Config, ops link.Ops, regs msi.Regs, lines Lines) *RootComplex {
	return &RootComplex{
		Config: cfg,
		Link: link.New(link.Config{
			Name:  cfg.Name(),
			Index: cfg.Index,
			Ops:   ops,
		}),
		Lines: lines,
		Regs:  regs,
	}
}

func (rc *RootComplex) String() string { return rc.Name() }

// Init programs the MSI controller, starts the deferred work, services
// the interrupt lines and arms wake.
func (rc *RootComplex) Init() error {
	log.Print("daemon", "debug", rc, ": init")
	c, err := msi.New(msi.Config{
		Name:     rc.Name(),
		GicmAddr: rc.GicmAddr,
		GicmBase: msi.Irq(rc.GicmBase),
		Space:    rc.Space,
		Regs:     rc.Regs,
	})
	if err != nil {
		err = fmt.Errorf("%s: msi: %w", rc, err)
		return multierr.Append(err, rc.Deinit())
	}
	rc.Msi = c
	if rc.Regs != nil {
		msi.Configure(rc.Regs)
	}
	rc.Link.Start()
	rc.serve(rc.Lines.LinkDown, rc.Link.LinkDownIrq)
	rc.serve(rc.Lines.Msi, rc.Msi.HandleIrq)
	rc.serve(rc.Lines.Wake, rc.Link.WakeIrq)
	if err = rc.Lines.Wake.SetWake(true); err != nil {
		err = fmt.Errorf("%s: arm wake: %w", rc, err)
		return multierr.Append(err, rc.Deinit())
	}
	return nil
}

// Deinit disarms wake, stops the lines and deferred work and drops every
// MSI mapping.
func (rc *RootComplex) Deinit() error {
	log.Print("daemon", "debug", rc, ": deinit")
	err := rc.Lines.Wake.SetWake(false)
	for _, l := range []irq.Line{
		rc.Lines.LinkDown,
		rc.Lines.Msi,
		rc.Lines.Wake,
	} {
		err = multierr.Append(err, l.Close())
	}
	rc.wg.Wait()
	rc.Link.Stop()
	if rc.Msi != nil {
		rc.Msi.Remove()
	}
	for _, c := range rc.closers {
		err = multierr.Append(err, c.Close())
	}
	rc.closers = nil
	return err
}

func (rc *RootComplex) serve(l irq.Line, h func()) {
	rc.wg.Add(1)
	go func() {
		defer rc.wg.Done()
		if err := l.Serve(h); err != nil {
			log.Print("daemon", "err", rc, ": ", l, ": ", err)
		}
	}()
}
