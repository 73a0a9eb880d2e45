// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package link

import (
	"fmt"
	"sync/atomic"

	"github.com/satori/go.uuid"
)

// handleLinkDown is the deferred half of LinkDownIrq.
func (m *Machine) handleLinkDown() {
	m.debugf("linkdown work")
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.linkDownDone()

	if m.Ops.ConfirmLinkUp(true, true) {
		m.debugf("link is up, already recovered")
		return
	}
	m.incident = uuid.NewV4()
	if err := m.notifyLinkDown(); err != nil {
		m.errorf("%v", err)
	}
}

// linkDownDone retires one in-flight handler and every interrupt
// coalesced into it. A negative result is reported as is.
func (m *Machine) linkDownDone() {
	atomic.AddInt32(&m.inflight, -1)
	c := atomic.SwapInt32(&m.coalesced, 0)
	if h := atomic.AddInt32(&m.handling, -1-c); h < 0 {
		m.inconsistent("linkdown handling count %d", h)
	}
}

// notifyLinkDown tells the client the link is down and acts on what the
// client did about it; mu held.
func (m *Machine) notifyLinkDown() error {
	if OnLinkDown(m.state()) == NoSubscriber {
		atomic.AddUint64(&m.stats.Inconsistencies, 1)
		return fmt.Errorf("%s: linkdown without registration: %w",
			m.Name, ErrNoSubscriber)
	}
	m.debugf("incident %s", m.incident)
	m.notify(LinkDown)

	switch AfterLinkDown(m.state()) {
	case ClientRecovers:
		m.userSuspend = true
		m.debugf("client recovers later")
	case PowerDown:
		m.debugf("link still down after callback, power down")
		m.recoveryPending = true
		return m.disable(Expt | PipeClk | Clk | Vreg)
	case Resync:
		m.recoveryPending = false
		if !m.ShadowValid() {
			m.debugf("link enabled in callback, resync config space")
			m.resync()
		}
		m.notifyLinkUp()
	}
	return nil
}
