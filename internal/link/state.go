// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package link

import (
	"strings"

	"github.com/satori/go.uuid"
)

type Status int32

const (
	Disabled Status = iota
	Enabled
)

func (s Status) String() string {
	if s == Enabled {
		return "enabled"
	}
	return "disabled"
}

// Event is a set of link events a client may subscribe to.
type Event uint8

const (
	LinkUp Event = 1 << iota
	LinkDown
	Wakeup
)

var eventNames = []string{"linkup", "linkdown", "wakeup"}

func (e Event) String() string {
	var names []string
	for i, name := range eventNames {
		if e&(1<<uint(i)) != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

type Option uint8

const (
	// NoRecovery leaves the link down after a LinkDown notification; the
	// client recovers it later with Resume.
	NoRecovery Option = 1 << iota
)

// PM selects the power resources of an enable or disable.
type PM uint8

const (
	PipeClk PM = 1 << iota
	Clk
	Vreg
	// Expt marks a disable that follows an unexpected link down.
	Expt
)

var pmNames = []string{"pipe_clk", "clk", "vreg", "expt"}

func (pm PM) String() string {
	var names []string
	for i, name := range pmNames {
		if pm&(1<<uint(i)) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// Ops are the hardware primitives of one root complex.
type Ops interface {
	EnableLink(PM) error
	DisableLink(PM) error
	// ConfirmLinkUp re-probes the physical link. Forced skips the cached
	// status; extraChecks also reads the endpoint's config space.
	ConfirmLinkUp(forced, extraChecks bool) bool
	// ResyncShadow restores config space from its saved image.
	ResyncShadow(rootComplex bool)
	Enumerate() error
	// AssertReset drives PERST# to its asserted level. It must not block.
	AssertReset() error
}

// Observer receives link events. Notify runs synchronously with the
// recovery mutex held and must not call back into the Machine except
// through the Notification's Link.
type Observer interface {
	Notify(*Notification)
}

type ObserverFunc func(*Notification)

func (f ObserverFunc) Notify(n *Notification) { f(n) }

// Subscription is a client's registration for link events; at most one
// per root complex.
type Subscription struct {
	Events   Event
	Options  Option
	User     interface{}
	Observer Observer
}

func (s *Subscription) wants(e Event) bool {
	return s != nil && s.Observer != nil && s.Events&e != 0
}

type Notification struct {
	Event Event
	User  interface{}
	// Index of the root complex.
	Rc int
	// Identifies the link-down incident being handled, if any.
	Incident uuid.UUID
	Link     *Link
}

// Link is the machine as seen from inside Notify. It is valid only until
// Notify returns.
type Link struct{ m *Machine }

func (l *Link) Status() Status {
	if l.m == nil {
		return Disabled
	}
	return l.m.Status()
}

// Resume re-enables the link from inside a notification, restores config
// space and ends a user suspend. It sends no LinkUp of its own.
func (l *Link) Resume() error {
	m := l.m
	if m == nil {
		return ErrInvalidState
	}
	if err := m.enable(PipeClk | Clk | Vreg); err != nil {
		return err
	}
	m.resync()
	m.userSuspend = false
	m.recoveryPending = false
	return nil
}
