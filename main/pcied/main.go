// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// This is the PCIe root complex daemon.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinasystems/pcierc/cmd"
	"github.com/platinasystems/pcierc/cmd/pcied"
)

var Args = os.Args
var Exit = os.Exit
var Stdout io.Writer = os.Stdout
var Stderr io.Writer = os.Stderr

func main() {
	var c cmd.Closer = pcied.New()
	args := Args[1:]
	if len(args) > 0 && cmd.IsHelp(args[0]) {
		fmt.Fprintln(Stdout, cmd.Help(c))
		return
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, os.Interrupt)
	go func() {
		<-sig
		c.Close()
	}()
	if err := c.Main(args...); err != nil {
		fmt.Fprintf(Stderr, "%s: %v\n", c, err)
		if errors.Is(err, cmd.ErrUsage) {
			fmt.Fprintln(Stderr, cmd.Usage(c))
		}
		Exit(1)
	}
}
