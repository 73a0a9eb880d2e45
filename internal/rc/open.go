// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package rc

import (
	"fmt"
	"io"

	"github.com/platinasystems/pcierc/internal/irq"
	"github.com/platinasystems/pcierc/internal/mmio"
	"github.com/platinasystems/pcierc/internal/msi"
	"github.com/platinasystems/pcierc/internal/perst"
	"github.com/platinasystems/pcierc/internal/sysfs"
	"go.uber.org/multierr"
)

type Options struct {
	// Sysfs root, "/sys" if empty.
	Sysfs string
	// Dry uses software interrupt lines and leaves the MSI controller
	// registers alone.
	Dry bool
}

// Open builds the root complex of cfg over sysfs, gpio, uio and /dev/mem.
func Open(cfg *Config, opt Options) (rc *RootComplex, err error) {
	var closers []io.Closer
	defer func() {
		if err != nil {
			for _, c := range closers {
				err = multierr.Append(err, c.Close())
			}
		}
	}()

	ops := &sysfs.Ops{
		Root:     opt.Sysfs,
		RootPort: cfg.RootPort,
		Endpoint: cfg.Endpoint,
	}
	if cfg.Perst != "" && !opt.Dry {
		l, err := perst.New(cfg.Perst, cfg.PerstActiveHigh)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Name(), err)
		}
		ops.Reset = l
	}

	var (
		regs msi.Regs
		win  *mmio.Window
	)
	if cfg.RegSize != 0 && !opt.Dry {
		win, err = mmio.Open(cfg.Reg, uint(cfg.RegSize))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Name(), err)
		}
		closers = append(closers, win)
		regs = win
	}

	line := func(what string, minor int) (irq.Line, error) {
		name := fmt.Sprint(cfg.Name(), " ", what)
		if minor < 0 || opt.Dry {
			return irq.NewSoft(name), nil
		}
		u, err := irq.OpenUIO(name, minor)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		u.Sysfs = opt.Sysfs
		closers = append(closers, u)
		return u, nil
	}
	var lines Lines
	if lines.LinkDown, err = line("linkdown", cfg.UioLinkDown); err != nil {
		return
	}
	if lines.Msi, err = line("msi", cfg.UioMsi); err != nil {
		return
	}
	if lines.Wake, err = line("wake", cfg.UioWake); err != nil {
		return
	}

	rc = New(cfg, ops, regs, lines)
	if win != nil {
		rc.closers = append(rc.closers, win)
	}
	return rc, nil
}
