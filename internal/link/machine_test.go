// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package link

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/satori/go.uuid"
)

type fakeOps struct {
	mu  sync.Mutex
	ops []string

	up        bool
	enableErr error
	enumErr   error

	// if set, ConfirmLinkUp waits for it to close
	confirm chan struct{}
	// signalled when ConfirmLinkUp is entered
	probing chan struct{}
}

func newFakeOps() *fakeOps { return &fakeOps{probing: make(chan struct{}, 16)} }

func (f *fakeOps) record(format string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, fmt.Sprintf(format, args...))
}

func (f *fakeOps) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeOps) EnableLink(pm PM) error {
	f.record("enable %s", pm)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enableErr
}

func (f *fakeOps) DisableLink(pm PM) error {
	f.record("disable %s", pm)
	return nil
}

func (f *fakeOps) ConfirmLinkUp(forced, extraChecks bool) bool {
	f.record("confirm forced=%v", forced)
	select {
	case f.probing <- struct{}{}:
	default:
	}
	f.mu.Lock()
	c := f.confirm
	f.mu.Unlock()
	if c != nil {
		<-c
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.up
}

func (f *fakeOps) ResyncShadow(rootComplex bool) {
	if rootComplex {
		f.record("resync rc")
	} else {
		f.record("resync ep")
	}
}

func (f *fakeOps) Enumerate() error {
	f.record("enumerate")
	return f.enumErr
}

func (f *fakeOps) AssertReset() error {
	f.record("reset")
	return nil
}

func (f *fakeOps) set(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

// observer records notifications and runs an optional action inside
// the callback.
type observer struct {
	mu     sync.Mutex
	events []Event
	notes  []Notification
	action func(*Notification)
}

func (o *observer) Notify(n *Notification) {
	o.mu.Lock()
	o.events = append(o.events, n.Event)
	o.notes = append(o.notes, *n)
	action := o.action
	o.mu.Unlock()
	if action != nil {
		action(n)
	}
}

func (o *observer) got() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Event(nil), o.events...)
}

func newMachine(t *testing.T, ops Ops, sleep func(time.Duration)) *Machine {
	if sleep == nil {
		sleep = func(time.Duration) {}
	}
	m := New(Config{Name: "RC0", Ops: ops, Sleep: sleep})
	m.Start()
	t.Cleanup(m.Stop)
	return m
}

// enabled returns an enumerated machine with the given subscription.
func enabled(t *testing.T, sub *Subscription) (*Machine, *fakeOps) {
	ops := newFakeOps()
	m := newMachine(t, ops, nil)
	if sub != nil {
		if err := m.Register(sub); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Enumerate(); err != nil {
		t.Fatal(err)
	}
	return m, ops
}

func suffix(ops []string, n int) []string {
	if len(ops) < n {
		return ops
	}
	return ops[len(ops)-n:]
}

func TestInitialState(t *testing.T) {
	m := newMachine(t, newFakeOps(), nil)
	if m.Status() != Disabled || m.Enumerated() || m.ShadowValid() ||
		m.RecoveryPending() || m.UserSuspended() || m.Suspending() {
		t.Errorf("initial state: %s enumerated %v", m.Status(), m.Enumerated())
	}
	if m.Handling() != 0 || m.Retries() != 1 {
		t.Errorf("handling %d retries %d", m.Handling(), m.Retries())
	}
	if s := m.Stats(); s != (Stats{}) {
		t.Errorf("stats: %+v", s)
	}
}

func TestLinkDownIrqWhileDisabled(t *testing.T) {
	ops := newFakeOps()
	m := newMachine(t, ops, nil)
	m.LinkDownIrq()
	m.Flush()
	if m.Status() != Disabled {
		t.Errorf("status: got %s", m.Status())
	}
	if h := m.Handling(); h != 0 {
		t.Errorf("handling: got %d want 0", h)
	}
	if n := m.linkdownWork.Runs(); n != 0 {
		t.Errorf("linkdown work ran %d times", n)
	}
	if got := ops.log(); len(got) != 0 {
		t.Errorf("ops: got %v want none", got)
	}
	if s := m.Stats(); s.LinkDown != 1 || s.Spurious != 1 {
		t.Errorf("stats: %+v", s)
	}
}

func TestLinkDownIrqWhileEnabled(t *testing.T) {
	o := &observer{}
	m, ops := enabled(t, &Subscription{Events: LinkDown, Observer: o})
	ops.set(func() {
		ops.up = true
		ops.confirm = make(chan struct{})
	})

	m.LinkDownIrq()
	if m.Status() != Disabled || m.ShadowValid() {
		t.Errorf("after irq: %s shadow %v", m.Status(), m.ShadowValid())
	}
	if h := m.Handling(); h != 1 {
		t.Errorf("handling: got %d want 1", h)
	}
	<-ops.probing

	m.LinkDownIrq()
	if h := m.Handling(); h != 2 {
		t.Errorf("handling after second irq: got %d want 2", h)
	}
	if p := m.linkdownWork.Pending(); p != 1 {
		t.Errorf("pending linkdown work: got %d want 1", p)
	}

	close(ops.confirm)
	m.Flush()
	if h := m.Handling(); h != 0 {
		t.Errorf("handling after drain: got %d want 0", h)
	}
	if n := m.linkdownWork.Runs(); n != 1 {
		t.Errorf("linkdown work ran %d times, want 1", n)
	}
	if s := m.Stats(); s.LinkDown != 2 || s.Spurious != 1 {
		t.Errorf("stats: %+v", s)
	}
	want := []string{"enumerate", "reset", "confirm forced=true"}
	if got := ops.log(); !reflect.DeepEqual(got, want) {
		t.Errorf("ops: got %v want %v", got, want)
	}
	// confirmed up: no callback and nothing else changes
	if got := o.got(); len(got) != 0 {
		t.Errorf("notifications: %v", got)
	}
	if m.Status() != Disabled || m.RecoveryPending() || m.UserSuspended() {
		t.Errorf("state changed by confirmed-up path")
	}
}

func TestLinkDownCoalesced(t *testing.T) {
	m, ops := enabled(t, &Subscription{Events: LinkDown, Observer: &observer{}})
	ops.set(func() { ops.confirm = make(chan struct{}) })

	m.LinkDownIrq()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.LinkDownIrq()
		}()
	}
	wg.Wait()
	if h := m.Handling(); h != 11 {
		t.Errorf("handling: got %d want 11", h)
	}
	close(ops.confirm)
	m.Flush()
	if h := m.Handling(); h != 0 {
		t.Errorf("handling: got %d want 0", h)
	}
	if s := m.Stats(); s.LinkDown != 11 || s.Spurious != 10 || s.Inconsistencies != 0 {
		t.Errorf("stats: %+v", s)
	}
}

func TestLinkDownClientReenables(t *testing.T) {
	o := &observer{}
	o.action = func(n *Notification) {
		if n.Event == LinkDown {
			if err := n.Link.Resume(); err != nil {
				t.Error(err)
			}
		}
	}
	m, ops := enabled(t, &Subscription{
		Events:   LinkDown | LinkUp,
		User:     "client",
		Observer: o,
	})
	m.LinkDownIrq()
	m.Flush()

	if want := []Event{LinkUp, LinkDown, LinkUp}; !reflect.DeepEqual(o.got(), want) {
		t.Errorf("events: got %v want %v", o.got(), want)
	}
	if m.Status() != Enabled || !m.ShadowValid() || m.RecoveryPending() {
		t.Errorf("state: %s shadow %v pending %v",
			m.Status(), m.ShadowValid(), m.RecoveryPending())
	}
	want := []string{"enable pipe_clk|clk|vreg", "resync rc", "resync ep"}
	if got := suffix(ops.log(), 3); !reflect.DeepEqual(got, want) {
		t.Errorf("ops: got %v want %v", got, want)
	}
	resyncs := 0
	for _, op := range ops.log() {
		if op == "resync rc" {
			resyncs++
		}
	}
	if resyncs != 1 {
		t.Errorf("root port resynced %d times: %v", resyncs, ops.log())
	}
	n := o.notes[1]
	if n.User != "client" || n.Rc != 0 {
		t.Errorf("notification: %+v", n)
	}
	if uuid.Equal(n.Incident, uuid.Nil) || !uuid.Equal(n.Incident, m.Incident()) {
		t.Errorf("incident: got %s want %s", n.Incident, m.Incident())
	}
	if n.Link.Status() != Disabled || n.Link.Resume() == nil {
		t.Error("link handle usable after Notify returned")
	}
}

func TestLinkDownClientDeclines(t *testing.T) {
	o := &observer{}
	m, ops := enabled(t, &Subscription{Events: LinkDown | LinkUp, Observer: o})
	m.LinkDownIrq()
	m.Flush()

	if want := []Event{LinkUp, LinkDown}; !reflect.DeepEqual(o.got(), want) {
		t.Errorf("events: got %v want %v", o.got(), want)
	}
	if m.Status() != Disabled || !m.RecoveryPending() || m.UserSuspended() {
		t.Errorf("state: %s pending %v", m.Status(), m.RecoveryPending())
	}
	want := []string{"reset", "confirm forced=true", "disable pipe_clk|clk|vreg|expt"}
	if got := suffix(ops.log(), 3); !reflect.DeepEqual(got, want) {
		t.Errorf("ops: got %v want %v", got, want)
	}
}

func TestLinkDownNoRecovery(t *testing.T) {
	o := &observer{}
	m, ops := enabled(t, &Subscription{
		Events:   LinkDown,
		Options:  NoRecovery,
		Observer: o,
	})
	m.LinkDownIrq()
	m.Flush()
	if !m.UserSuspended() || m.RecoveryPending() || m.Status() != Disabled {
		t.Errorf("state: %s suspended %v", m.Status(), m.UserSuspended())
	}
	for _, op := range ops.log() {
		if op[:4] == "disa" {
			t.Errorf("unexpected %s", op)
		}
	}
}

func TestLinkDownNoSubscriber(t *testing.T) {
	m, ops := enabled(t, nil)
	m.LinkDownIrq()
	m.Flush()
	if s := m.Stats(); s.Inconsistencies != 1 {
		t.Errorf("inconsistencies: got %d want 1", s.Inconsistencies)
	}
	if m.RecoveryPending() || m.UserSuspended() {
		t.Error("recovery state changed without subscriber")
	}
	want := []string{"enumerate", "reset", "confirm forced=true"}
	if got := ops.log(); !reflect.DeepEqual(got, want) {
		t.Errorf("ops: got %v want %v", got, want)
	}
}

func TestHandlingNegativeReported(t *testing.T) {
	m := newMachine(t, newFakeOps(), nil)
	m.linkDownDone()
	if h := m.Handling(); h != -1 {
		t.Errorf("handling: got %d want -1", h)
	}
	if s := m.Stats(); s.Inconsistencies != 1 {
		t.Errorf("inconsistencies: got %d want 1", s.Inconsistencies)
	}
}

func TestWakeEnumerates(t *testing.T) {
	ops := newFakeOps()
	m := newMachine(t, ops, nil)
	o := &observer{}
	m.Register(&Subscription{Events: LinkUp, Observer: o})

	m.WakeIrq()
	m.Flush()
	if !m.Enumerated() || m.Status() != Enabled || !m.ShadowValid() {
		t.Errorf("state: %s enumerated %v", m.Status(), m.Enumerated())
	}
	if want := []Event{LinkUp}; !reflect.DeepEqual(o.got(), want) {
		t.Errorf("events: got %v want %v", o.got(), want)
	}
	if s := m.Stats(); s.Wake != 1 {
		t.Errorf("wake counter: got %d want 1", s.Wake)
	}
}

func TestWakeEnumerateFails(t *testing.T) {
	ops := newFakeOps()
	ops.enumErr = errors.New("no link")
	m := newMachine(t, ops, nil)
	o := &observer{}
	m.Register(&Subscription{Events: LinkUp, Observer: o})

	m.WakeIrq()
	m.Flush()
	if m.Enumerated() || m.Status() != Disabled {
		t.Errorf("state: %s enumerated %v", m.Status(), m.Enumerated())
	}
	if got := o.got(); len(got) != 0 {
		t.Errorf("events: %v", got)
	}
}

func TestWakeLinkReallyUp(t *testing.T) {
	o := &observer{}
	m, ops := enabled(t, &Subscription{Events: LinkDown, Observer: o})
	ops.set(func() { ops.up = true })
	m.WakeIrq()
	m.Flush()
	want := []string{"enumerate", "confirm forced=false"}
	if got := ops.log(); !reflect.DeepEqual(got, want) {
		t.Errorf("ops: got %v want %v", got, want)
	}
	if m.Status() != Enabled || len(o.got()) != 0 {
		t.Errorf("spurious wake changed state")
	}
}

func TestWakeLinkActuallyDown(t *testing.T) {
	o := &observer{}
	m, ops := enabled(t, &Subscription{Events: LinkDown, Observer: o})
	m.WakeIrq()
	m.Flush()
	want := []string{
		"confirm forced=false",
		"reset",
		"disable pipe_clk|clk|vreg|expt",
	}
	if got := suffix(ops.log(), 3); !reflect.DeepEqual(got, want) {
		t.Errorf("ops: got %v want %v", got, want)
	}
	if m.Status() != Disabled || !m.RecoveryPending() || m.ShadowValid() {
		t.Errorf("state: %s pending %v", m.Status(), m.RecoveryPending())
	}
	if want := []Event{LinkDown}; !reflect.DeepEqual(o.got(), want) {
		t.Errorf("events: got %v want %v", o.got(), want)
	}
	if h := m.Handling(); h != 0 {
		t.Errorf("handling: got %d want 0", h)
	}
}

func TestWakeRecoverRetries(t *testing.T) {
	o := &observer{}
	m, ops := enabled(t, &Subscription{Events: LinkDown | LinkUp, Observer: o})
	m.LinkDownIrq()
	m.Flush()
	if !m.RecoveryPending() {
		t.Fatal("recovery not pending")
	}

	ops.set(func() { ops.enableErr = errors.New("vreg") })
	m.WakeIrq()
	m.Flush()
	m.WakeIrq()
	m.Flush()
	if r := m.Retries(); r != 3 {
		t.Errorf("retries: got %d want 3", r)
	}
	if s := m.Stats(); s.RecoveryFailures != 2 {
		t.Errorf("recovery failures: got %d want 2", s.RecoveryFailures)
	}
	if !m.RecoveryPending() || m.Status() != Disabled {
		t.Errorf("failed recovery changed state")
	}

	ops.set(func() { ops.enableErr = nil })
	m.WakeIrq()
	m.Flush()
	if m.RecoveryPending() || m.Status() != Enabled || !m.ShadowValid() {
		t.Errorf("state: %s pending %v", m.Status(), m.RecoveryPending())
	}
	if r := m.Retries(); r != 1 {
		t.Errorf("retries after success: got %d want 1", r)
	}
	if want := []Event{LinkUp, LinkDown, LinkUp}; !reflect.DeepEqual(o.got(), want) {
		t.Errorf("events: got %v want %v", o.got(), want)
	}
}

func TestWakeUserSuspended(t *testing.T) {
	o := &observer{}
	o.action = func(n *Notification) {
		if n.Event == Wakeup {
			n.Link.Resume()
		}
	}
	m, ops := enabled(t, &Subscription{Events: Wakeup, Observer: o})
	if err := m.Suspend(); err != nil {
		t.Fatal(err)
	}
	if !m.UserSuspended() || m.Status() != Disabled {
		t.Fatalf("suspend: %s suspended %v", m.Status(), m.UserSuspended())
	}

	m.WakeIrq()
	m.Flush()
	if want := []Event{Wakeup}; !reflect.DeepEqual(o.got(), want) {
		t.Errorf("events: got %v want %v", o.got(), want)
	}
	if m.UserSuspended() || m.Status() != Enabled || !m.ShadowValid() {
		t.Errorf("state: %s suspended %v", m.Status(), m.UserSuspended())
	}
	want := []string{"enable pipe_clk|clk|vreg", "resync rc", "resync ep"}
	if got := suffix(ops.log(), 3); !reflect.DeepEqual(got, want) {
		t.Errorf("ops: got %v want %v", got, want)
	}
}

func TestWakeUserSuspendedStaysDown(t *testing.T) {
	o := &observer{}
	m, ops := enabled(t, &Subscription{Events: Wakeup, Observer: o})
	m.Suspend()
	n := len(ops.log())
	m.WakeIrq()
	m.Flush()
	if want := []Event{Wakeup}; !reflect.DeepEqual(o.got(), want) {
		t.Errorf("events: got %v want %v", o.got(), want)
	}
	if got := ops.log()[n:]; len(got) != 0 {
		t.Errorf("ops: got %v want none", got)
	}
	if !m.UserSuspended() || m.Status() != Disabled {
		t.Errorf("state: %s suspended %v", m.Status(), m.UserSuspended())
	}
}

func TestWakeUserSuspendedNoObserver(t *testing.T) {
	m, _ := enabled(t, &Subscription{Events: LinkUp, Observer: &observer{}})
	m.Suspend()
	m.WakeIrq()
	m.Flush()
	if s := m.Stats(); s.Inconsistencies != 1 {
		t.Errorf("inconsistencies: got %d want 1", s.Inconsistencies)
	}
	if !m.UserSuspended() || m.Status() != Disabled {
		t.Error("state changed")
	}
}

func TestWakeIgnored(t *testing.T) {
	m, ops := enabled(t, nil)
	m.LinkDownIrq()
	m.Flush()
	n := len(ops.log())
	m.WakeIrq()
	m.Flush()
	if got := ops.log()[n:]; len(got) != 0 {
		t.Errorf("ops: got %v want none", got)
	}
	if m.Status() != Disabled {
		t.Errorf("status: got %s", m.Status())
	}
}

func TestWakeWaitsForLinkDownDrain(t *testing.T) {
	slept := make(chan time.Duration)
	ops := newFakeOps()
	m := newMachine(t, ops, func(d time.Duration) { slept <- d })
	o := &observer{}
	m.Register(&Subscription{Events: LinkDown | LinkUp, Observer: o})
	if err := m.Enumerate(); err != nil {
		t.Fatal(err)
	}
	ops.set(func() { ops.confirm = make(chan struct{}) })

	m.LinkDownIrq()
	<-ops.probing
	m.WakeIrq()

	if d := <-slept; d < drainInitMin || d > drainInitMax {
		t.Errorf("initial wait %v", d)
	}
	for i := 0; i < 5; i++ {
		if d := <-slept; d < drainMin || d > drainMax {
			t.Errorf("poll %d: wait %v", i, d)
		}
	}
	// wake has not touched the link while handling is in flight
	want := []string{"enumerate", "reset", "confirm forced=true"}
	if got := ops.log(); !reflect.DeepEqual(got, want) {
		t.Errorf("ops during drain: got %v want %v", got, want)
	}
	if h := m.Handling(); h != 1 {
		t.Errorf("handling: got %d want 1", h)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-slept:
				time.Sleep(time.Millisecond)
			case <-done:
				return
			}
		}
	}()
	close(ops.confirm)
	m.Flush()
	close(done)

	want = []string{
		"enumerate",
		"reset",
		"confirm forced=true",
		"disable pipe_clk|clk|vreg|expt",
		"enable pipe_clk|clk|vreg",
		"resync rc",
		"resync ep",
	}
	if got := ops.log(); !reflect.DeepEqual(got, want) {
		t.Errorf("ops: got %v want %v", got, want)
	}
	if m.Status() != Enabled || m.RecoveryPending() {
		t.Errorf("state: %s pending %v", m.Status(), m.RecoveryPending())
	}
	if s := m.Stats(); s.Timeouts != 0 || s.Recoveries != 1 {
		t.Errorf("stats: %+v", s)
	}
}

func TestWakeDrainTimeout(t *testing.T) {
	var mu sync.Mutex
	var sleeps []time.Duration
	ops := newFakeOps()
	m := newMachine(t, ops, func(d time.Duration) {
		mu.Lock()
		sleeps = append(sleeps, d)
		mu.Unlock()
	})
	m.Register(&Subscription{Events: LinkDown, Observer: &observer{}})
	m.Enumerate()
	ops.set(func() {
		ops.up = true
		ops.confirm = make(chan struct{})
	})

	m.LinkDownIrq()
	<-ops.probing
	m.WakeIrq()

	deadline := time.Now().Add(5 * time.Second)
	for m.Stats().Timeouts == 0 {
		if time.Now().After(deadline) {
			t.Fatal("drain wait did not time out")
		}
		time.Sleep(time.Millisecond)
	}
	mu.Lock()
	if n := len(sleeps); n != 1+DrainCycles {
		t.Errorf("sleeps: got %d want %d", n, 1+DrainCycles)
	}
	for i, d := range sleeps {
		min, max := drainMin, drainMax
		if i == 0 {
			min, max = drainInitMin, drainInitMax
		}
		if d < min || d > max {
			t.Errorf("sleep %d: %v not in [%v, %v]", i, d, min, max)
		}
	}
	mu.Unlock()
	close(ops.confirm)
	m.Flush()
	// the wake proceeded after the timeout and saw a disabled link
	if s := m.Stats(); s.Timeouts != 1 {
		t.Errorf("timeouts: got %d want 1", s.Timeouts)
	}
}

func TestSuspendResume(t *testing.T) {
	o := &observer{}
	m, _ := enabled(t, &Subscription{Events: LinkUp, Observer: o})
	if err := m.Suspend(); err != nil {
		t.Fatal(err)
	}
	if err := m.Suspend(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second suspend: got %v want %v", err, ErrInvalidState)
	}
	if err := m.Resume(); err != nil {
		t.Fatal(err)
	}
	if m.Status() != Enabled || m.UserSuspended() {
		t.Errorf("state: %s suspended %v", m.Status(), m.UserSuspended())
	}
	if want := []Event{LinkUp, LinkUp}; !reflect.DeepEqual(o.got(), want) {
		t.Errorf("events: got %v want %v", o.got(), want)
	}
	if err := m.Resume(); err != nil {
		t.Errorf("resume of enabled link: %v", err)
	}
}

func TestResumeFailure(t *testing.T) {
	m, ops := enabled(t, nil)
	m.Suspend()
	ops.set(func() { ops.enableErr = errors.New("clk") })
	if err := m.Resume(); !errors.Is(err, ErrRecoveryFailed) {
		t.Errorf("Resume: got %v want %v", err, ErrRecoveryFailed)
	}
	if !m.UserSuspended() || m.Status() != Disabled {
		t.Error("failed resume changed state")
	}
}

func TestResumeBeforeEnumeration(t *testing.T) {
	m := newMachine(t, newFakeOps(), nil)
	if err := m.Resume(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Resume: got %v want %v", err, ErrInvalidState)
	}
}

func TestRegister(t *testing.T) {
	m := newMachine(t, newFakeOps(), nil)
	if err := m.Register(nil); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Register(nil): got %v", err)
	}
	if err := m.Register(&Subscription{Events: LinkUp}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Register without observer: got %v", err)
	}
	first, last := &observer{}, &observer{}
	m.Register(&Subscription{Events: LinkUp, Observer: first})
	m.Register(&Subscription{Events: LinkUp, Observer: last})
	m.Enumerate()
	if len(first.got()) != 0 || len(last.got()) != 1 {
		t.Errorf("last registration should win: %v %v", first.got(), last.got())
	}
	m.Deregister()
	m.Suspend()
	m.Resume()
	if len(last.got()) != 1 {
		t.Errorf("notified after Deregister: %v", last.got())
	}
}

func TestStatsAlignment(t *testing.T) {
	var m Machine
	if off := unsafe.Offsetof(m.stats); off != 0 {
		t.Errorf("stats: offset %d", off)
	}
}

func TestInterval(t *testing.T) {
	seen := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		d := interval(drainMin, drainMax)
		if d < drainMin || d > drainMax {
			t.Fatalf("%v not in [%v, %v]", d, drainMin, drainMax)
		}
		seen[d] = true
	}
	if len(seen) < 2 {
		t.Errorf("no jitter: %v", seen)
	}
}
