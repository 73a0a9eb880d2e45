// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package link

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/satori/go.uuid"
)

const (
	drainInitMin = 995 * time.Microsecond
	drainInitMax = 1005 * time.Microsecond
	drainMin     = 4900 * time.Microsecond
	drainMax     = 5100 * time.Microsecond

	// DrainCycles bounds the wait for in-flight link-down handling.
	DrainCycles = 200
)

// interval returns a random duration in [min, max]. Attempt 0 of a
// backoff is always Min, attempt 1 spans the whole range.
func interval(min, max time.Duration) time.Duration {
	b := backoff.Backoff{
		Min:    min,
		Max:    max,
		Factor: float64(max) / float64(min),
		Jitter: true,
	}
	return b.ForAttempt(1)
}

// handleWake is the deferred half of WakeIrq.
func (m *Machine) handleWake() {
	m.debugf("wake work")
	if !m.Enumerated() {
		m.enumerateOnWake()
		return
	}
	if err := m.waitLinkDownDrained(); err != nil {
		m.errorf("%v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.wake(); err != nil {
		m.errorf("%v", err)
	}
}

func (m *Machine) enumerateOnWake() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enumerate(); err != nil {
		m.errorf("enumerate on wake: %v", err)
		return
	}
	m.debugf("enumerated on wake")
	m.notifyLinkUp()
}

// waitLinkDownDrained polls until no link-down handling is in flight. It
// gives up after DrainCycles polls and returns ErrTimeout; the caller
// proceeds anyway.
func (m *Machine) waitLinkDownDrained() error {
	m.Sleep(interval(drainInitMin, drainInitMax))
	for cycle := 0; m.Handling() > 0; cycle++ {
		if cycle == DrainCycles {
			atomic.AddUint64(&m.stats.Timeouts, 1)
			return fmt.Errorf("%s: %d polls: %w", m.Name, DrainCycles, ErrTimeout)
		}
		m.Sleep(interval(drainMin, drainMax))
	}
	return nil
}

// wake acts on a wake interrupt of an enumerated link; mu held.
func (m *Machine) wake() error {
	switch OnWake(m.state()) {
	case Enumerate:
		if err := m.enumerate(); err != nil {
			return err
		}
		m.notifyLinkUp()
	case Probe:
		m.debugf("link enabled, probing")
		if m.Ops.ConfirmLinkUp(false, true) {
			m.debugf("link up, wake ignored")
			return nil
		}
		m.takeDown()
		m.incident = uuid.NewV4()
		m.errorf("link down on probe")
		return m.notifyLinkDown()
	case Recover:
		m.debugf("recovery pending, try %d", m.retries)
		if err := m.recoverLink(); err != nil {
			atomic.AddUint64(&m.stats.RecoveryFailures, 1)
			try := m.retries
			m.retries++
			return fmt.Errorf("%s: try %d: %w", m.Name, try, err)
		}
		m.recoveryPending = false
		m.debugf("recovered on try %d", m.retries)
		m.retries = 1
		atomic.AddUint64(&m.stats.Recoveries, 1)
	case NotifyWakeup:
		m.debugf("wake while user suspended")
		if !m.notify(Wakeup) {
			atomic.AddUint64(&m.stats.Inconsistencies, 1)
			return fmt.Errorf("%s: wake while user suspended: %w",
				m.Name, ErrNoSubscriber)
		}
		if m.Status() == Enabled {
			m.debugf("link enabled in wakeup callback")
		} else {
			m.debugf("link still disabled after wakeup callback")
		}
	default:
		m.debugf("nothing pending, wake ignored")
	}
	return nil
}

// recoverLink re-enables power and clocks and restores config space;
// mu held. Retry bookkeeping is the caller's.
func (m *Machine) recoverLink() error {
	if err := m.enable(PipeClk | Clk | Vreg); err != nil {
		return fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}
	m.debugf("resync config space")
	m.resync()
	m.notifyLinkUp()
	return nil
}
