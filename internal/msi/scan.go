// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package msi

import "math/bits"

// Scan services the physical MSI interrupt. For each status bank it
// acknowledges the lowest set bit, waits for the write to land, dispatches
// that slot and re-reads the bank until it reads zero. Returns the number
// of slots dispatched.
//
// Scan runs in interrupt context: it neither blocks nor allocates.
func (c *Controller) Scan() (n int) {
	r := c.Regs
	if r == nil {
		return
	}
	for i := 0; i < NBanks; i++ {
		status := bankReg(IntrStatus, i)
		for val := r.Load32(status); val != 0; val = r.Load32(status) {
			j := uint(bits.TrailingZeros32(val))
			r.Store32(status, 1<<j)
			r.Barrier()
			c.Dispatch(j + BankBits*uint(i))
			n++
		}
	}
	return
}

// HandleIrq is the physical MSI interrupt handler.
func (c *Controller) HandleIrq() { c.Scan() }
