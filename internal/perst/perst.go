// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package perst drives the PCIe PERST# endpoint reset line of a root
// complex through a gpio pin.
package perst

import (
	"errors"
	"fmt"

	"github.com/platinasystems/gpio"
)

var ErrNotFound = errors.New("perst pin not found")

// Pin is the part of a gpio pin the reset line needs.
type Pin interface {
	SetValue(bool) error
	Value() (bool, error)
}

type Line struct {
	Name string
	Pin  Pin
	// Pin level while asserted.
	On bool
}

// New looks up the named pin among those gathered from the device tree
// and configures it as an output.
func New(name string, on bool) (*Line, error) {
	pin, found := gpio.Pins[name]
	if !found {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err := pin.SetDirection(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &Line{Name: name, Pin: pin, On: on}, nil
}

func (l *Line) String() string { return l.Name }

// Assert holds the endpoint in reset.
func (l *Line) Assert() error { return l.set(l.On) }

// Deassert releases the endpoint from reset.
func (l *Line) Deassert() error { return l.set(!l.On) }

func (l *Line) Asserted() (bool, error) {
	v, err := l.Pin.Value()
	if err != nil {
		return false, fmt.Errorf("%s: %w", l.Name, err)
	}
	return v == l.On, nil
}

func (l *Line) set(v bool) error {
	if err := l.Pin.SetValue(v); err != nil {
		return fmt.Errorf("%s: %w", l.Name, err)
	}
	return nil
}
