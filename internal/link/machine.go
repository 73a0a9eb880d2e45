// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package link tracks the PCIe link of a root complex through link-down
// and wake interrupts, and coordinates its recovery with the client
// subscribed to link events.
//
// Interrupt entry points (LinkDownIrq, WakeIrq) only touch atomics and
// schedule deferred work. Everything else runs under the recovery mutex.
package link

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinasystems/log"
	"github.com/platinasystems/pcierc/internal/work"
	"github.com/satori/go.uuid"
)

type Config struct {
	// Log prefix, e.g. "RC0".
	Name  string
	Index int
	Ops   Ops

	// Sleep paces the wait for link-down handling; time.Sleep if nil.
	Sleep func(time.Duration)
}

type Stats struct {
	Wake             uint64
	LinkDown         uint64
	Spurious         uint64
	Notifications    uint64
	Recoveries       uint64
	RecoveryFailures uint64
	Timeouts         uint64
	Inconsistencies  uint64
}

type Machine struct {
	// first for 64 bit atomic alignment
	stats Stats

	Config

	// recovery mutex
	mu sync.Mutex

	// Read and written from interrupt context.
	status     int32
	enumerated uint32
	suspending uint32
	shadow     uint32

	// In-flight link-down handling. Interrupts that arrive while a
	// handler is in flight are coalesced into that handler's exit.
	handling  int32
	inflight  int32
	coalesced int32

	// Guarded by mu.
	recoveryPending bool
	userSuspend     bool
	sub             *Subscription
	retries         uint
	incident        uuid.UUID

	linkdownWork *work.Work
	wakeWork     *work.Work
}

// New returns a machine in the bring-up state: link disabled, not
// enumerated, every flag clear.
func New(cfg Config) *Machine {
	m := &Machine{Config: cfg, retries: 1}
	if m.Sleep == nil {
		m.Sleep = time.Sleep
	}
	m.linkdownWork = work.New(work.Func{
		Name: cfg.Name + " linkdown",
		Fn:   m.handleLinkDown,
	})
	m.wakeWork = work.New(work.Func{
		Name: cfg.Name + " wake",
		Fn:   m.handleWake,
	})
	return m
}

// Start launches the deferred work.
func (m *Machine) Start() {
	m.linkdownWork.Start()
	m.wakeWork.Start()
}

// Stop runs scheduled work to completion and ends the workers.
func (m *Machine) Stop() {
	m.wakeWork.Stop()
	m.linkdownWork.Stop()
}

// Flush waits until no deferred work is scheduled.
func (m *Machine) Flush() {
	for m.linkdownWork.Pending() > 0 || m.wakeWork.Pending() > 0 {
		m.linkdownWork.Flush()
		m.wakeWork.Flush()
	}
}

func (m *Machine) String() string { return m.Name }

func (m *Machine) Status() Status    { return Status(atomic.LoadInt32(&m.status)) }
func (m *Machine) Enumerated() bool  { return atomic.LoadUint32(&m.enumerated) != 0 }
func (m *Machine) Suspending() bool  { return atomic.LoadUint32(&m.suspending) != 0 }
func (m *Machine) ShadowValid() bool { return atomic.LoadUint32(&m.shadow) != 0 }
func (m *Machine) Handling() int32   { return atomic.LoadInt32(&m.handling) }

func (m *Machine) RecoveryPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recoveryPending
}

func (m *Machine) UserSuspended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userSuspend
}

// Retries is the number of the next wake-triggered recovery attempt.
func (m *Machine) Retries() uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// Incident identifies the last link-down incident.
func (m *Machine) Incident() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incident
}

func (m *Machine) Stats() Stats {
	return Stats{
		Wake:             atomic.LoadUint64(&m.stats.Wake),
		LinkDown:         atomic.LoadUint64(&m.stats.LinkDown),
		Spurious:         atomic.LoadUint64(&m.stats.Spurious),
		Notifications:    atomic.LoadUint64(&m.stats.Notifications),
		Recoveries:       atomic.LoadUint64(&m.stats.Recoveries),
		RecoveryFailures: atomic.LoadUint64(&m.stats.RecoveryFailures),
		Timeouts:         atomic.LoadUint64(&m.stats.Timeouts),
		Inconsistencies:  atomic.LoadUint64(&m.stats.Inconsistencies),
	}
}

// Register installs the client's subscription; the last one wins.
func (m *Machine) Register(s *Subscription) error {
	if s == nil || s.Observer == nil {
		return fmt.Errorf("%s: register without observer: %w",
			m.Name, ErrInvalidState)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sub = s
	m.debugf("registered for %s events", s.Events)
	return nil
}

func (m *Machine) Deregister() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sub = nil
	m.debugf("deregistered")
}

// Enumerate brings the bus up once and reports LinkUp.
func (m *Machine) Enumerate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enumerate(); err != nil {
		return err
	}
	m.notifyLinkUp()
	return nil
}

// Suspend disables the link on client request. Until Resume, wake
// interrupts are passed to the client's Wakeup observer.
func (m *Machine) Suspend() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Status() != Enabled {
		return fmt.Errorf("%s: suspend %s link: %w",
			m.Name, m.Status(), ErrInvalidState)
	}
	atomic.StoreUint32(&m.suspending, 1)
	defer atomic.StoreUint32(&m.suspending, 0)
	m.userSuspend = true
	m.debugf("suspend")
	return m.disable(PipeClk | Clk | Vreg)
}

// Resume is the client's explicit recovery of a suspended, or down and
// pending recovery, link.
func (m *Machine) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Enumerated() {
		return fmt.Errorf("%s: resume before enumeration: %w",
			m.Name, ErrInvalidState)
	}
	if m.Status() == Enabled {
		return nil
	}
	m.debugf("resume")
	if err := m.recoverLink(); err != nil {
		atomic.AddUint64(&m.stats.RecoveryFailures, 1)
		return err
	}
	m.userSuspend = false
	m.recoveryPending = false
	m.retries = 1
	atomic.AddUint64(&m.stats.Recoveries, 1)
	return nil
}

// state returns the decision inputs; mu held.
func (m *Machine) state() State {
	s := State{
		Status:          m.Status(),
		Enumerated:      m.Enumerated(),
		Suspending:      m.Suspending(),
		RecoveryPending: m.recoveryPending,
		UserSuspended:   m.userSuspend,
	}
	if sub := m.sub; sub != nil && sub.Observer != nil {
		s.Subscribed = true
		s.Events = sub.Events
		s.Options = sub.Options
	}
	return s
}

func (m *Machine) enumerate() error {
	if m.Enumerated() {
		return nil
	}
	if err := m.Ops.Enumerate(); err != nil {
		return fmt.Errorf("%s: enumerate: %w", m.Name, err)
	}
	atomic.StoreInt32(&m.status, int32(Enabled))
	atomic.StoreUint32(&m.shadow, 1)
	atomic.StoreUint32(&m.enumerated, 1)
	return nil
}

func (m *Machine) enable(pm PM) error {
	if err := m.Ops.EnableLink(pm); err != nil {
		return fmt.Errorf("%s: enable %s: %w", m.Name, pm, err)
	}
	atomic.StoreInt32(&m.status, int32(Enabled))
	return nil
}

func (m *Machine) disable(pm PM) error {
	atomic.StoreInt32(&m.status, int32(Disabled))
	if err := m.Ops.DisableLink(pm); err != nil {
		return fmt.Errorf("%s: disable %s: %w", m.Name, pm, err)
	}
	return nil
}

// takeDown marks the link down and holds the endpoint in reset.
func (m *Machine) takeDown() {
	atomic.StoreInt32(&m.status, int32(Disabled))
	atomic.StoreUint32(&m.shadow, 0)
	m.assertReset()
}

func (m *Machine) assertReset() {
	if err := m.Ops.AssertReset(); err != nil {
		m.errorf("assert PERST: %v", err)
	}
}

func (m *Machine) resync() {
	m.debugf("resync root port")
	m.Ops.ResyncShadow(true)
	m.debugf("resync endpoint")
	m.Ops.ResyncShadow(false)
	atomic.StoreUint32(&m.shadow, 1)
}

// notify calls the observer if it wants the event; mu held.
func (m *Machine) notify(e Event) bool {
	sub := m.sub
	if !sub.wants(e) {
		return false
	}
	l := &Link{m: m}
	n := &Notification{
		Event:    e,
		User:     sub.User,
		Rc:       m.Index,
		Incident: m.incident,
		Link:     l,
	}
	m.debugf("%s notification", e)
	atomic.AddUint64(&m.stats.Notifications, 1)
	sub.Observer.Notify(n)
	l.m = nil
	return true
}

func (m *Machine) notifyLinkUp() {
	if m.Status() == Enabled {
		m.notify(LinkUp)
	}
}

// inconsistent reports a state the protocol should never reach.
func (m *Machine) inconsistent(format string, args ...interface{}) {
	atomic.AddUint64(&m.stats.Inconsistencies, 1)
	m.errorf(format, args...)
}

func (m *Machine) debugf(format string, args ...interface{}) {
	log.Print("daemon", "debug", m.Name, ": ", fmt.Sprintf(format, args...))
}

func (m *Machine) errorf(format string, args ...interface{}) {
	log.Print("daemon", "err", m.Name, ": ", fmt.Sprintf(format, args...))
}
