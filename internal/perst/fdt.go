// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package perst

import (
	"path"
	"strconv"
	"strings"

	"github.com/platinasystems/fdt"
	"github.com/platinasystems/gpio"
)

// Gather rebuilds gpio.Aliases and gpio.Pins from a device tree blob.
func Gather(b []byte) error {
	t := &fdt.Tree{Debug: false, IsLittleEndian: false}
	if err := t.Parse(b); err != nil {
		return err
	}
	GatherTree(t)
	return nil
}

func GatherTree(t *fdt.Tree) {
	gpio.Aliases = make(gpio.GpioAliasMap)
	gpio.Pins = make(gpio.PinMap)
	t.MatchNode("aliases", gatherAliases)
	t.EachProperty("gpio-controller", "", gatherPins)
}

// gatherAliases maps gpio bank aliases (gpio0, gpio1, ...) to the name of
// their controller node.
func gatherAliases(n *fdt.Node) {
	for p, v := range n.Properties {
		if strings.Contains(p, "gpio") {
			gpio.Aliases[p] = path.Base(cstring(v))
		}
	}
}

func gatherPins(n *fdt.Node, name, value string) {
	for bank, alias := range gpio.Aliases {
		if alias != n.Name {
			continue
		}
		for _, c := range n.Children {
			addPin(bank, c.Name, c.Properties)
		}
	}
}

// addPin adds a "NAME@INDEX" pin node of the bank. Nodes without a pin
// description, mode or index are skipped.
func addPin(bank, node string, props map[string][]byte) bool {
	if _, found := props["gpio-pin-desc"]; !found {
		return false
	}
	at := strings.LastIndex(node, "@")
	if at < 1 {
		return false
	}
	i, err := strconv.Atoi(node[at+1:])
	if err != nil {
		return false
	}
	base, found := gpio.GpioBankToBase[bank]
	if !found {
		return false
	}
	for mode, flag := range gpio.GpioPinMode {
		if _, found := props[mode]; found {
			gpio.Pins[node[:at]] = flag | base | gpio.Pin(i)
			return true
		}
	}
	return false
}

func cstring(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
