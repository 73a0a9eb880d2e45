// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package rc

import (
	"errors"
	"fmt"
	"sort"

	"github.com/platinasystems/fdt"
)

const Compatible = "qcom,pci-msm"

var ErrConfig = errors.New("invalid root complex node")

// Config describes one root complex node of the device tree.
type Config struct {
	Node  string
	Index int

	// Direct GICM mapping, zero for the irq domain.
	GicmAddr uint64
	GicmBase uint32

	// dm_core register window
	Reg     uint64
	RegSize uint64

	// PERST# gpio pin name and its asserted level.
	Perst           string
	PerstActiveHigh bool

	// uio minors of the interrupt lines, -1 if absent.
	UioLinkDown int
	UioMsi      int
	UioWake     int

	// PCI addresses, e.g. "0000:00:00.0".
	RootPort string
	Endpoint string
}

func (c *Config) Name() string { return fmt.Sprint("RC", c.Index) }

// Parse returns the root complex configs of a device tree blob ordered by
// index.
func Parse(b []byte) ([]*Config, error) {
	t := &fdt.Tree{Debug: false, IsLittleEndian: false}
	if err := t.Parse(b); err != nil {
		return nil, err
	}
	return Configs(t)
}

func Configs(t *fdt.Tree) ([]*Config, error) {
	var (
		cfgs []*Config
		errs []error
	)
	t.EachProperty("compatible", Compatible,
		func(n *fdt.Node, name, value string) {
			cfg, err := nodeConfig(t, n)
			if err != nil {
				errs = append(errs, err)
				return
			}
			cfgs = append(cfgs, cfg)
		})
	if len(errs) > 0 {
		return nil, errs[0]
	}
	sort.Slice(cfgs, func(i, j int) bool {
		return cfgs[i].Index < cfgs[j].Index
	})
	for i := 1; i < len(cfgs); i++ {
		if cfgs[i].Index == cfgs[i-1].Index {
			return nil, fmt.Errorf("%s: %s duplicate: %w",
				cfgs[i].Node, cfgs[i].Name(), ErrConfig)
		}
	}
	return cfgs, nil
}

func nodeConfig(t *fdt.Tree, n *fdt.Node) (*Config, error) {
	cfg := &Config{Node: n.Name}
	u32 := func(name string) (uint32, bool) {
		b, found := n.Properties[name]
		if !found || len(b) < 4 {
			return 0, false
		}
		return t.PropUint32(b), true
	}
	minor := func(name string) int {
		if v, found := u32(name); found {
			return int(v)
		}
		return -1
	}
	str := func(name string) string {
		if b, found := n.Properties[name]; found {
			return t.PropString(b)
		}
		return ""
	}

	idx, found := u32("cell-index")
	if !found {
		return nil, fmt.Errorf("%s: no cell-index: %w", n.Name, ErrConfig)
	}
	cfg.Index = int(idx)
	if v, found := u32("qcom,msi-gicm-addr"); found {
		cfg.GicmAddr = uint64(v)
		cfg.GicmBase, _ = u32("qcom,msi-gicm-base")
		if cfg.GicmBase == 0 {
			return nil, fmt.Errorf("%s: gicm addr without base: %w",
				n.Name, ErrConfig)
		}
	}
	if b, found := n.Properties["reg"]; found && len(b) >= 8 {
		v := t.PropUint32Slice(b)
		cfg.Reg, cfg.RegSize = uint64(v[0]), uint64(v[1])
	}
	cfg.Perst = str("perst-gpio")
	_, cfg.PerstActiveHigh = n.Properties["perst-active-high"]
	cfg.UioLinkDown = minor("uio-linkdown")
	cfg.UioMsi = minor("uio-msi")
	cfg.UioWake = minor("uio-wake")
	cfg.RootPort = str("pci-rp")
	cfg.Endpoint = str("pci-ep")
	return cfg, nil
}
