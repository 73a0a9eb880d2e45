// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package irq delivers physical interrupt lines to handlers running on
// their own goroutine, the userspace analogue of interrupt context.
package irq

import (
	"errors"
	"sync"
	"sync/atomic"
)

var ErrClosed = errors.New("irq line closed")

type Line interface {
	String() string
	// Serve calls h once per interrupt until the line is closed.
	Serve(h func()) error
	// SetWake arms or disarms the line as a system wakeup source.
	SetWake(on bool) error
	Close() error
}

// Soft is a line raised by software.
type Soft struct {
	// first for 64 bit atomic alignment on 32 bit arm
	count uint64

	name string
	c    chan struct{}
	done chan struct{}
	once sync.Once
	wake uint32
}

func NewSoft(name string) *Soft {
	return &Soft{
		name: name,
		c:    make(chan struct{}, 64),
		done: make(chan struct{}),
	}
}

func (s *Soft) String() string { return s.name }

// Fire raises the line. Interrupts beyond the queue depth are lost, as
// with an edge triggered line that is not serviced.
func (s *Soft) Fire() {
	select {
	case s.c <- struct{}{}:
	default:
	}
}

func (s *Soft) Serve(h func()) error {
	for {
		select {
		case <-s.c:
			atomic.AddUint64(&s.count, 1)
			h()
		case <-s.done:
			return nil
		}
	}
}

// Count returns the number of serviced interrupts.
func (s *Soft) Count() uint64 { return atomic.LoadUint64(&s.count) }

func (s *Soft) SetWake(on bool) error {
	var v uint32
	if on {
		v = 1
	}
	atomic.StoreUint32(&s.wake, v)
	return nil
}

func (s *Soft) Wake() bool { return atomic.LoadUint32(&s.wake) != 0 }

func (s *Soft) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
