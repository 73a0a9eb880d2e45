// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package sysfs implements the link primitives of a root complex over the
// Linux PCI sysfs tree.
package sysfs

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/platinasystems/log"
	"github.com/platinasystems/pcierc/internal/link"
)

var (
	ErrLinkDown  = errors.New("link down")
	ErrNoShadow  = errors.New("no saved config space")
	ErrNoPcieCap = errors.New("no pci express capability")
)

// Reset is the endpoint's PERST# line.
type Reset interface {
	Assert() error
	Deassert() error
}

type Ops struct {
	// Sysfs root, "/sys" if empty.
	Root string
	// PCI addresses of the root port and the endpoint, e.g. "0000:00:00.0".
	RootPort string
	Endpoint string
	Reset    Reset

	mu     sync.Mutex
	up     bool
	shadow map[string][]byte
}

var _ link.Ops = (*Ops)(nil)

func (o *Ops) String() string { return o.RootPort }

func (o *Ops) root() string {
	if o.Root == "" {
		return "/sys"
	}
	return o.Root
}

func (o *Ops) device(addr string, elem ...string) string {
	return filepath.Join(append([]string{o.root(), "bus", "pci",
		"devices", addr}, elem...)...)
}

func (o *Ops) EnableLink(pm link.PM) error {
	if o.Reset != nil {
		if err := o.Reset.Deassert(); err != nil {
			return err
		}
	}
	if pm&(link.Clk|link.Vreg) != 0 {
		err := write(o.device(o.RootPort, "power", "control"), "on")
		if err != nil {
			return err
		}
	}
	if !o.ConfirmLinkUp(true, false) {
		return fmt.Errorf("%s: %w", o.RootPort, ErrLinkDown)
	}
	return nil
}

func (o *Ops) DisableLink(pm link.PM) error {
	o.mu.Lock()
	o.up = false
	o.mu.Unlock()
	if pm&link.Expt != 0 {
		// the endpoint is gone; drop it so a later rescan starts clean
		err := write(o.device(o.Endpoint, "remove"), "1")
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Print("daemon", "debug", o, ": ", err)
		}
	}
	if pm&(link.Clk|link.Vreg) != 0 {
		err := write(o.device(o.RootPort, "power", "control"), "auto")
		if err != nil {
			return err
		}
	}
	if o.Reset != nil {
		return o.Reset.Assert()
	}
	return nil
}

func (o *Ops) ConfirmLinkUp(forced, extraChecks bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !forced && o.up {
		return true
	}
	o.up = false
	b, err := ioutil.ReadFile(o.device(o.RootPort, "config"))
	if err != nil {
		log.Print("daemon", "debug", o, ": ", err)
		return false
	}
	up, err := linkActive(b)
	if err != nil {
		log.Print("daemon", "debug", o, ": ", err)
		return false
	}
	if up && extraChecks {
		b, err = ioutil.ReadFile(o.device(o.Endpoint, "config"))
		up = err == nil && present(b)
	}
	o.up = up
	return up
}

func (o *Ops) ResyncShadow(rootComplex bool) {
	addr := o.Endpoint
	if rootComplex {
		addr = o.RootPort
	}
	o.mu.Lock()
	b, found := o.shadow[addr]
	o.mu.Unlock()
	if !found {
		log.Print("daemon", "err", o, ": ", addr, ": ", ErrNoShadow)
		return
	}
	if err := write(o.device(addr, "config"), string(b)); err != nil {
		log.Print("daemon", "err", o, ": ", err)
	}
}

// Enumerate rescans the bus then saves the config space of both ends of
// the link for later resync.
func (o *Ops) Enumerate() error {
	if err := write(filepath.Join(o.root(), "bus", "pci", "rescan"),
		"1"); err != nil {
		return err
	}
	if !o.ConfirmLinkUp(true, true) {
		return fmt.Errorf("%s: %w", o.Endpoint, ErrLinkDown)
	}
	return o.Save()
}

func (o *Ops) Save() error {
	shadow := make(map[string][]byte)
	for _, addr := range []string{o.RootPort, o.Endpoint} {
		b, err := ioutil.ReadFile(o.device(addr, "config"))
		if err != nil {
			return err
		}
		shadow[addr] = b
	}
	o.mu.Lock()
	o.shadow = shadow
	o.mu.Unlock()
	return nil
}

func (o *Ops) AssertReset() error {
	if o.Reset == nil {
		return nil
	}
	return o.Reset.Assert()
}

func write(fn, v string) error {
	if err := ioutil.WriteFile(fn, []byte(v), 0644); err != nil {
		return fmt.Errorf("write %s: %w", fn, err)
	}
	return nil
}
