// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package msi

import (
	"fmt"
	"math/bits"
	"sync/atomic"
)

const (
	// Number of logical MSI slots per root complex.
	NSlots = NBanks * BankBits

	wordBits = 32
	nWords   = NSlots / wordBits

	// Largest multi-message MSI request (PCI MSI caps at 32 vectors).
	MaxVectors = 32
)

// Bitmap tracks which MSI slots are allocated. A bit is set iff the slot is
// bound to a device vector. All updates are per-word compare and swap so
// allocation and free need no lock.
type Bitmap struct {
	words [nWords]uint32
}

// index gives word index and mask for given slot
func bitmapIndex(x uint) (i uint, m uint32) {
	i = x / wordBits
	m = 1 << (x % wordBits)
	return
}

func (b *Bitmap) load(i uint) uint32 { return atomic.LoadUint32(&b.words[i]) }

// firstZero returns the lowest clear slot or NSlots if every slot is in use.
func (b *Bitmap) firstZero() uint {
	for i := uint(0); i < nWords; i++ {
		if w := b.load(i); w != ^uint32(0) {
			return i*wordBits + uint(bits.TrailingZeros32(^w))
		}
	}
	return NSlots
}

// testAndSet sets the slot's bit and returns its previous value.
func (b *Bitmap) testAndSet(x uint) (old bool) {
	i, m := bitmapIndex(x)
	for {
		v := b.load(i)
		if v&m != 0 {
			return true
		}
		if atomic.CompareAndSwapUint32(&b.words[i], v, v|m) {
			return false
		}
	}
}

// testAndClear clears the slot's bit and returns its previous value.
func (b *Bitmap) testAndClear(x uint) (old bool) {
	i, m := bitmapIndex(x)
	for {
		v := b.load(i)
		if v&m == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&b.words[i], v, v&^m) {
			return true
		}
	}
}

// Alloc reserves the lowest free slot. A lost race restarts the scan from
// slot 0; exhaustion returns ErrNoSpace without blocking.
func (b *Bitmap) Alloc() (uint, error) {
	for {
		pos := b.firstZero()
		if pos >= NSlots {
			return 0, ErrNoSpace
		}
		if !b.testAndSet(pos) {
			return pos, nil
		}
	}
}

// AllocRun reserves n contiguous slots aligned to n, n a power of two no
// larger than MaxVectors. The device ORs the vector number into the low
// message data bits so the first slot must be aligned.
func (b *Bitmap) AllocRun(n uint) (uint, error) {
	if n == 0 || n > MaxVectors || n&(n-1) != 0 {
		return 0, fmt.Errorf("%d vectors: %w", n, ErrInvalid)
	}
	if n == 1 {
		return b.Alloc()
	}
	mask := uint32(1)<<n - 1
	if n == wordBits {
		mask = ^uint32(0)
	}
again:
	for i := uint(0); i < nWords; i++ {
		for off := uint(0); off < wordBits; off += n {
			m := mask << off
			v := b.load(i)
			if v&m != 0 {
				continue
			}
			if !atomic.CompareAndSwapUint32(&b.words[i], v, v|m) {
				goto again
			}
			return i*wordBits + off, nil
		}
	}
	return 0, ErrNoSpace
}

// Free releases a slot. Releasing a slot that is not allocated is reported
// with ErrNotAllocated; the bitmap is unchanged in that case.
func (b *Bitmap) Free(x uint) error {
	if x >= NSlots {
		return fmt.Errorf("slot %d: %w", x, ErrInvalid)
	}
	if !b.testAndClear(x) {
		return fmt.Errorf("slot %d: %w", x, ErrNotAllocated)
	}
	return nil
}

// Get reports whether slot x is allocated.
func (b *Bitmap) Get(x uint) bool {
	if x >= NSlots {
		return false
	}
	i, m := bitmapIndex(x)
	return b.load(i)&m != 0
}

// Count returns the number of allocated slots.
func (b *Bitmap) Count() (n uint) {
	for i := uint(0); i < nWords; i++ {
		n += uint(bits.OnesCount32(b.load(i)))
	}
	return
}

func (b *Bitmap) String() (s string) {
	s = "{"
	first := true
	for i := uint(0); i < nWords; i++ {
		for w := b.load(i); w != 0; w &= w - 1 {
			if !first {
				s += ", "
			}
			s += fmt.Sprintf("%d", i*wordBits+uint(bits.TrailingZeros32(w)))
			first = false
		}
	}
	s += "}"
	return
}
