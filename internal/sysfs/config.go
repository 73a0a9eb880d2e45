// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package sysfs

import "encoding/binary"

// Config space offsets.
const (
	vendorId   = 0x00
	status     = 0x06
	capPointer = 0x34

	statusCapList = 1 << 4

	capIdPcie = 0x10
	// Link Status, relative to the PCI Express capability.
	linkStatus = 0x12
	// Data Link Layer Link Active
	linkStatusDllla = 1 << 13
)

func cfg16(b []byte, off int) (uint16, bool) {
	if off < 0 || off+2 > len(b) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b[off:]), true
}

// present is false for a config space that reads all ones.
func present(b []byte) bool {
	v, ok := cfg16(b, vendorId)
	return ok && v != 0xffff
}

// pcieCap walks the capability list for the PCI Express capability.
func pcieCap(b []byte) (int, bool) {
	st, ok := cfg16(b, status)
	if !ok || st&statusCapList == 0 || len(b) <= capPointer {
		return 0, false
	}
	p := int(b[capPointer]) &^ 3
	// 48 capabilities fit in the first 256 bytes
	for n := 0; p >= 0x40 && n < 48; n++ {
		if p+1 >= len(b) {
			return 0, false
		}
		if b[p] == capIdPcie {
			return p, true
		}
		p = int(b[p+1]) &^ 3
	}
	return 0, false
}

func linkActive(b []byte) (bool, error) {
	if !present(b) {
		return false, nil
	}
	p, ok := pcieCap(b)
	if !ok {
		return false, ErrNoPcieCap
	}
	v, ok := cfg16(b, p+linkStatus)
	if !ok {
		return false, ErrNoPcieCap
	}
	return v&linkStatusDllla != 0, nil
}
