// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package pcied brings up the PCIe root complexes described by the device
// tree, publishes their link state to redis and recovers their links.
//
// Clients drive a link with redis hset of,
//
//	pcieN.suspend true
//	pcieN.resume true
//	pcieN.enumerate true
package pcied

import (
	"fmt"
	"io/ioutil"
	"net/rpc"
	"sync"
	"time"

	"github.com/platinasystems/atsock"
	"github.com/platinasystems/flags"
	"github.com/platinasystems/log"
	"github.com/platinasystems/parms"
	"github.com/platinasystems/pcierc/cmd"
	"github.com/platinasystems/pcierc/internal/link"
	"github.com/platinasystems/pcierc/internal/perst"
	"github.com/platinasystems/pcierc/internal/rc"
	"github.com/platinasystems/pcierc/lang"
	"github.com/platinasystems/redis"
	"github.com/platinasystems/redis/publisher"
)

const (
	Name    = "pcied"
	Apropos = "PCIe root complex MSI and link recovery daemon"
	Usage   = "pcied [-dtb FILE] [-sysfs DIR] [-hash NAME] [-no-recovery] [-dry]"

	DefaultDtb = "/boot/linux.dtb"
)

var pollInterval = 5 * time.Second

type Command struct {
	Info
	stop     chan struct{}
	stopOnce sync.Once
}

func New() *Command { return &Command{stop: make(chan struct{})} }

func (*Command) String() string { return Name }
func (*Command) Usage() string  { return Usage }

func (*Command) Apropos() lang.Alt {
	return lang.Alt{
		lang.EnUS: Apropos,
	}
}

func (c *Command) Main(args ...string) error {
	parm, args := parms.New(args, "-dtb", "-sysfs", "-hash")
	flag, args := flags.New(args, "-no-recovery", "-dry")
	if len(args) > 0 {
		return fmt.Errorf("%v: %w", args, cmd.ErrUsage)
	}
	dtb := parm.ByName["-dtb"]
	if len(dtb) == 0 {
		dtb = DefaultDtb
	}
	hash := parm.ByName["-hash"]
	if len(hash) == 0 {
		hash = redis.DefaultHash
	}
	var opts link.Option
	if flag.ByName["-no-recovery"] {
		opts |= link.NoRecovery
	}

	b, err := ioutil.ReadFile(dtb)
	if err != nil {
		return err
	}
	if err = perst.Gather(b); err != nil {
		return fmt.Errorf("%s: %w", dtb, err)
	}
	cfgs, err := rc.Parse(b)
	if err != nil {
		return fmt.Errorf("%s: %w", dtb, err)
	}
	if len(cfgs) == 0 {
		return fmt.Errorf("%s: no %s nodes", dtb, rc.Compatible)
	}

	if err = redis.IsReady(); err != nil {
		return err
	}
	pub, err := publisher.New()
	if err != nil {
		return err
	}
	defer pub.Close()

	c.Info.init(pub, opts)
	defer func() {
		if err := c.Info.deinit(); err != nil {
			log.Print("daemon", "err", Name, ": ", err)
		}
	}()
	for _, cfg := range cfgs {
		r, err := rc.Open(cfg, rc.Options{
			Sysfs: parm.ByName["-sysfs"],
			Dry:   flag.ByName["-dry"],
		})
		if err != nil {
			return err
		}
		if err = c.Info.add(r); err != nil {
			return err
		}
	}

	srv, err := atsock.NewRpcServer(Name)
	if err != nil {
		return err
	}
	defer srv.Close()
	rpc.Register(&c.Info)
	for _, key := range c.Info.keys {
		err = redis.Assign(hash+":"+key+".", Name, "Info")
		if err != nil {
			return err
		}
	}

	c.Info.enumerate()
	c.Info.update()

	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return nil
		case <-t.C:
			c.Info.update()
		}
	}
}

func (c *Command) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}
