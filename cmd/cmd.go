// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package cmd describes the commands built into a program.
package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/platinasystems/pcierc/lang"
)

// ErrUsage is wrapped by Main errors in the command's arguments.
var ErrUsage = errors.New("unexpected")

type Cmd interface {
	Apropos() lang.Alt
	Main(...string) error
	String() string
	Usage() string
}

// Closer is a Cmd that may be stopped from another goroutine, e.g. on
// SIGTERM.
type Closer interface {
	Cmd
	Close() error
}

func Usage(v Cmd) string {
	return fmt.Sprint("usage:\t", strings.TrimSpace(v.Usage()))
}

// Help is the command's name, apropos and usage.
func Help(v Cmd) string {
	return fmt.Sprint(v, " - ", v.Apropos(), "\n\n", Usage(v))
}

// IsHelp reports whether the argument asks for Help.
func IsHelp(arg string) bool {
	switch arg {
	case "-h", "-help", "--help", "help":
		return true
	}
	return false
}
