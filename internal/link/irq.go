// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package link

import "sync/atomic"

// LinkDownIrq is the link-down interrupt dispatcher. It never blocks.
//
// Only an enabled, enumerated, not suspending link is taken down; the
// status compare and swap makes that transition at most once per
// enable. Other interrupts are counted and otherwise ignored.
func (m *Machine) LinkDownIrq() {
	n := atomic.AddUint64(&m.stats.LinkDown, 1)
	atomic.AddInt32(&m.handling, 1)
	m.debugf("linkdown irq %d, handling %d", n, m.Handling())

	s := State{
		Status:     m.Status(),
		Enumerated: m.Enumerated(),
		Suspending: m.Suspending(),
	}
	switch {
	case OnLinkDownIrq(s) != TakeDown:
	case atomic.CompareAndSwapInt32(&m.status, int32(Enabled), int32(Disabled)):
		atomic.StoreUint32(&m.shadow, 0)
		m.assertReset()
		m.errorf("link down")
		atomic.AddInt32(&m.inflight, 1)
		m.linkdownWork.Schedule()
		return
	}

	atomic.AddUint64(&m.stats.Spurious, 1)
	if s.Suspending {
		m.debugf("linkdown irq while suspending")
	} else {
		m.debugf("linkdown irq with link %s", m.Status())
	}
	atomic.AddInt32(&m.coalesced, 1)
	if atomic.LoadInt32(&m.inflight) == 0 {
		m.uncoalesce()
	}
}

// uncoalesce drops one coalesced interrupt that no in-flight handler will
// account for.
func (m *Machine) uncoalesce() {
	for {
		c := atomic.LoadInt32(&m.coalesced)
		if c == 0 {
			return
		}
		if atomic.CompareAndSwapInt32(&m.coalesced, c, c-1) {
			atomic.AddInt32(&m.handling, -1)
			return
		}
	}
}

// WakeIrq is the WAKE# interrupt dispatcher. It never blocks.
func (m *Machine) WakeIrq() {
	n := atomic.AddUint64(&m.stats.Wake, 1)
	m.debugf("wake irq %d", n)
	if !m.Enumerated() {
		m.debugf("wake irq before enumeration")
	} else {
		m.debugf("wake irq with link %s", m.Status())
	}
	m.wakeWork.Schedule()
}
