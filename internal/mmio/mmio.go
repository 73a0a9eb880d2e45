// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package mmio maps a window of device registers from physical memory.
package mmio

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const DevMem = "/dev/mem"

var ErrRange = errors.New("register offset out of range")

type Window struct {
	Base uint64
	Size uint

	mem []byte
	// offset of Base within mem
	off uint
}

// Open maps size bytes of physical memory at base.
func Open(base uint64, size uint) (*Window, error) {
	return Map(DevMem, base, size)
}

// Map maps size bytes of the file at base, rounding the mapping out to
// page boundaries.
func Map(fn string, base uint64, size uint) (*Window, error) {
	fd, err := unix.Open(fn, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fn, err)
	}
	defer unix.Close(fd)

	page := uint64(unix.Getpagesize())
	start := base &^ (page - 1)
	off := uint(base - start)
	n := (off + size + uint(page) - 1) &^ (uint(page) - 1)
	mem, err := unix.Mmap(fd, int64(start), int(n),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s %#x: %w", fn, base, err)
	}
	return &Window{Base: base, Size: size, mem: mem, off: off}, nil
}

func (w *Window) String() string {
	return fmt.Sprintf("%#x-%#x", w.Base, w.Base+uint64(w.Size)-1)
}

func (w *Window) reg(off uint) *uint32 {
	if off&3 != 0 || off+4 > w.Size {
		panic(fmt.Errorf("%s: %#x: %w", w, off, ErrRange))
	}
	return (*uint32)(unsafe.Pointer(&w.mem[w.off+off]))
}

func (w *Window) Load32(off uint) uint32 { return atomic.LoadUint32(w.reg(off)) }

func (w *Window) Store32(off uint, v uint32) { atomic.StoreUint32(w.reg(off), v) }

// Barrier reads back the window so posted writes reach the device.
func (w *Window) Barrier() { w.Load32(0) }

func (w *Window) Close() error {
	if w.mem == nil {
		return nil
	}
	err := unix.Munmap(w.mem)
	w.mem = nil
	return err
}
