// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package work runs actions signalled from interrupt context on a worker
// goroutine where they may block.
package work

import (
	"sync"
	"sync/atomic"

	"github.com/platinasystems/log"
)

type Actor interface {
	EventAction()
	String() string
}

// Func adapts a named function to an Actor.
type Func struct {
	Name string
	Fn   func()
}

func (f Func) EventAction()   { f.Fn() }
func (f Func) String() string { return f.Name }

// Work is a deferred action with its own worker. Every Schedule results in
// exactly one EventAction; runs of the same Work never overlap.
type Work struct {
	// first for 64 bit atomic alignment on 32 bit arm
	runs uint64

	Actor

	pending int32
	started uint32

	c    chan struct{}
	stop chan struct{}
	done chan struct{}

	mu       sync.Mutex
	idle     *sync.Cond
	stopOnce sync.Once
}

func New(a Actor) *Work {
	w := &Work{
		Actor: a,
		c:     make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	w.idle = sync.NewCond(&w.mu)
	return w
}

// Start launches the worker once.
func (w *Work) Start() {
	if atomic.CompareAndSwapUint32(&w.started, 0, 1) {
		go w.loop()
	}
}

// Schedule queues one run. It never blocks and may be called from
// interrupt context.
func (w *Work) Schedule() {
	if atomic.AddInt32(&w.pending, 1) == 1 {
		select {
		case w.c <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of scheduled runs not yet finished.
func (w *Work) Pending() int { return int(atomic.LoadInt32(&w.pending)) }

// Runs returns the number of completed runs.
func (w *Work) Runs() uint64 { return atomic.LoadUint64(&w.runs) }

// Flush waits for every scheduled run to finish.
func (w *Work) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.Pending() > 0 {
		w.idle.Wait()
	}
}

// Stop runs whatever is still scheduled and ends the worker. Stop of a
// Work that was never started returns at once.
func (w *Work) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	if atomic.LoadUint32(&w.started) != 0 {
		<-w.done
	}
}

func (w *Work) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.c:
			w.drain()
		case <-w.stop:
			w.drain()
			return
		}
	}
}

func (w *Work) drain() {
	for w.Pending() > 0 {
		w.run()
		atomic.AddUint64(&w.runs, 1)
		if atomic.AddInt32(&w.pending, -1) == 0 {
			break
		}
	}
	w.mu.Lock()
	w.idle.Broadcast()
	w.mu.Unlock()
}

func (w *Work) run() {
	defer func() {
		if r := recover(); r != nil {
			log.Print("daemon", "err", w, ": ", r)
		}
	}()
	w.EventAction()
}
