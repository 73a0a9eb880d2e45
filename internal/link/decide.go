// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package link

// State is what the decision functions look at.
type State struct {
	Status          Status
	Enumerated      bool
	Suspending      bool
	RecoveryPending bool
	UserSuspended   bool
	Subscribed      bool
	Events          Event
	Options         Option
}

type Action uint8

const (
	Ignore Action = iota
	// link-down interrupt: disable, invalidate shadow, assert reset,
	// schedule deferred handling
	TakeDown
	Enumerate
	Probe
	Recover
	NotifyWakeup
	NoSubscriber
	NotifyLinkDown
	// after a LinkDown notification
	ClientRecovers
	PowerDown
	Resync
)

var actionNames = []string{
	Ignore:         "ignore",
	TakeDown:       "take-down",
	Enumerate:      "enumerate",
	Probe:          "probe",
	Recover:        "recover",
	NotifyWakeup:   "notify-wakeup",
	NoSubscriber:   "no-subscriber",
	NotifyLinkDown: "notify-linkdown",
	ClientRecovers: "client-recovers",
	PowerDown:      "power-down",
	Resync:         "resync",
}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}

// OnLinkDownIrq is the decision of the link-down interrupt.
func OnLinkDownIrq(s State) Action {
	if !s.Enumerated || s.Status != Enabled || s.Suspending {
		return Ignore
	}
	return TakeDown
}

// OnWake is the decision of deferred wake handling.
func OnWake(s State) Action {
	switch {
	case !s.Enumerated:
		return Enumerate
	case s.Status == Enabled:
		return Probe
	case s.RecoveryPending:
		return Recover
	case s.UserSuspended:
		return NotifyWakeup
	}
	return Ignore
}

// OnLinkDown decides whether a confirmed link down can be reported.
func OnLinkDown(s State) Action {
	if !s.Subscribed || s.Events&LinkDown == 0 {
		return NoSubscriber
	}
	return NotifyLinkDown
}

// AfterLinkDown decides what follows the client's LinkDown callback.
func AfterLinkDown(s State) Action {
	switch {
	case s.Options&NoRecovery != 0:
		return ClientRecovers
	case s.Status == Disabled:
		return PowerDown
	}
	return Resync
}
