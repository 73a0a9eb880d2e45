// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package msi

// MSI controller registers, byte offsets from the root complex's dm_core
// base. Per bank registers repeat every BankStride bytes.
const (
	CtrlAddr      = 0x820
	CtrlUpperAddr = 0x824
	IntrEn        = 0x828
	IntrMask      = 0x82c
	IntrStatus    = 0x830

	BankStride = 12
	NBanks     = 8
	BankBits   = 32

	// Target address programmed into the controller; never dereferenced.
	PhyAddr uint32 = 0xa0000000
)

// Regs accesses 32 bit device registers.
type Regs interface {
	Load32(off uint) uint32
	Store32(off uint, v uint32)
	// Barrier returns once prior stores are visible to the device.
	Barrier()
}

func bankReg(reg uint, bank int) uint { return reg + uint(bank)*BankStride }

// Configure programs the MSI target address and enables every vector.
func Configure(r Regs) {
	r.Store32(CtrlAddr, PhyAddr)
	r.Store32(CtrlUpperAddr, 0)
	for i := 0; i < NBanks; i++ {
		r.Store32(bankReg(IntrEn, i), ^uint32(0))
	}
	r.Barrier()
}
