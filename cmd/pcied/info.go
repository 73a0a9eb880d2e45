// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package pcied

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/platinasystems/log"
	"github.com/platinasystems/pcierc/internal/link"
	"github.com/platinasystems/pcierc/internal/rc"
	"github.com/platinasystems/redis/rpc/args"
	"github.com/platinasystems/redis/rpc/reply"
	"go.uber.org/multierr"
)

type printer interface {
	Print(...interface{}) (int, error)
}

// Info is the rpc receiver of redis hset on pcieN fields.
type Info struct {
	opts link.Option

	// Fixed once the daemon is up.
	rcs  map[string]*rc.RootComplex
	keys []string

	// Guards the publisher and the last published values. Never held
	// while calling into a link machine.
	mu   sync.Mutex
	pub  printer
	last map[string]string
}

func (i *Info) init(pub printer, opts link.Option) {
	i.pub = pub
	i.opts = opts
	i.rcs = make(map[string]*rc.RootComplex)
	i.last = make(map[string]string)
}

// add starts the root complex and subscribes to its link events.
func (i *Info) add(r *rc.RootComplex) error {
	key := fmt.Sprint("pcie", r.Index)
	if _, found := i.rcs[key]; found {
		return fmt.Errorf("%s: duplicate", key)
	}
	if err := r.Init(); err != nil {
		return err
	}
	i.rcs[key] = r
	i.keys = append(i.keys, key)
	return r.Link.Register(&link.Subscription{
		Events:   link.LinkUp | link.LinkDown | link.Wakeup,
		Options:  i.opts,
		User:     key,
		Observer: observer{i},
	})
}

func (i *Info) deinit() (err error) {
	for _, key := range i.keys {
		r := i.rcs[key]
		r.Link.Deregister()
		err = multierr.Append(err, r.Deinit())
	}
	i.keys = nil
	return
}

// enumerate brings up every bus; one that fails waits for its wake
// interrupt.
func (i *Info) enumerate() {
	for _, key := range i.keys {
		if err := i.rcs[key].Link.Enumerate(); err != nil {
			log.Print("daemon", "info", key, ": ", err)
		}
	}
}

func (i *Info) Hset(args args.Hset, reply *reply.Hset) error {
	f := strings.SplitN(args.Field, ".", 2)
	r, found := i.rcs[f[0]]
	if !found || len(f) != 2 {
		return fmt.Errorf("cannot hset: %s", args.Field)
	}
	if v, err := strconv.ParseBool(string(args.Value)); err != nil || !v {
		return fmt.Errorf("cannot hset %s: %q", args.Field, args.Value)
	}
	var err error
	switch f[1] {
	case "suspend":
		err = r.Link.Suspend()
	case "resume":
		err = r.Link.Resume()
	case "enumerate":
		err = r.Link.Enumerate()
	default:
		return fmt.Errorf("cannot hset: %s", args.Field)
	}
	if err != nil {
		return err
	}
	*reply = 1
	i.update()
	return nil
}

// update publishes whatever changed since the last update.
func (i *Info) update() {
	var kvs [][2]string
	for _, key := range i.keys {
		kvs = append(kvs, state(key, i.rcs[key])...)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, kv := range kvs {
		i.print(kv[0], kv[1])
	}
}

// print publishes the field if its value changed; mu held.
func (i *Info) print(k, v string) {
	if last, found := i.last[k]; found && last == v {
		return
	}
	i.publish(k, v)
}

// publish unconditionally; mu held.
func (i *Info) publish(k, v string) {
	if _, err := i.pub.Print(k, ": ", v); err != nil {
		log.Print("daemon", "err", Name, ": ", k, ": ", err)
		return
	}
	i.last[k] = v
}

func state(key string, r *rc.RootComplex) [][2]string {
	m := r.Link
	st := m.Stats()
	kv := func(k string, v interface{}) [2]string {
		return [2]string{key + "." + k, fmt.Sprint(v)}
	}
	return [][2]string{
		kv("link", m.Status()),
		kv("enumerated", m.Enumerated()),
		kv("recovery.pending", m.RecoveryPending()),
		kv("recovery.try", m.Retries()),
		kv("user.suspended", m.UserSuspended()),
		kv("linkdown.handling", m.Handling()),
		kv("stats.wake", st.Wake),
		kv("stats.linkdown", st.LinkDown),
		kv("stats.spurious", st.Spurious),
		kv("stats.recoveries", st.Recoveries),
		kv("stats.recovery.failures", st.RecoveryFailures),
		kv("stats.timeouts", st.Timeouts),
		kv("stats.inconsistencies", st.Inconsistencies),
		kv("msi.policy", r.Msi.Policy()),
		kv("msi.inuse", r.Msi.Count()),
		kv("msi.spurious", r.Msi.Spurious()),
	}
}

// observer is the daemon's subscription to link events. It publishes each
// event and, unless configured for client driven recovery, re-enables a
// link that went down.
type observer struct{ *Info }

func (o observer) Notify(n *link.Notification) {
	key, _ := n.User.(string)
	o.mu.Lock()
	o.publish(key+".event", n.Event.String())
	if n.Event == link.LinkDown {
		o.publish(key+".incident", n.Incident.String())
	}
	o.mu.Unlock()

	switch n.Event {
	case link.LinkDown:
		if o.opts&link.NoRecovery != 0 {
			return
		}
		fallthrough
	case link.Wakeup:
		if err := n.Link.Resume(); err != nil {
			log.Print("daemon", "err", key, ": ", n.Event, ": ", err)
		}
	}
}
