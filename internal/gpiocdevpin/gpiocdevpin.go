// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gpiocdevpin adapts a Linux GPIO character device line to
// gpio.PinIO, for boards where the deprecated sysfs interface that the
// host drivers rely on is unavailable.
package gpiocdevpin

import (
	"errors"
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
)

// Pin is one requested line on a gpiochip.
type Pin struct {
	chip   string
	offset int
	out    bool
	line   *gpiocdev.Line
}

// Input requests a line configured as an input.
func Input(chip string, offset int) (*Pin, error) {
	l, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsInput)
	if err != nil {
		return nil, fmt.Errorf("gpiocdevpin: %w", err)
	}
	return &Pin{chip: chip, offset: offset, line: l}, nil
}

// Output requests a line configured as an output, driven to the given
// initial level.
func Output(chip string, offset int, level gpio.Level) (*Pin, error) {
	v := 0
	if level {
		v = 1
	}
	l, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(v))
	if err != nil {
		return nil, fmt.Errorf("gpiocdevpin: %w", err)
	}
	return &Pin{chip: chip, offset: offset, out: true, line: l}, nil
}

// Close releases the line.
func (p *Pin) Close() error {
	return p.line.Close()
}

// String implements conn.Resource.
func (p *Pin) String() string {
	return fmt.Sprintf("%s/%d", p.chip, p.offset)
}

// Halt implements conn.Resource. The line stays requested; use Close to
// release it.
func (p *Pin) Halt() error {
	return nil
}

// Name implements pin.Pin.
func (p *Pin) Name() string {
	return p.String()
}

// Number implements pin.Pin.
func (p *Pin) Number() int {
	return p.offset
}

// Function implements pin.Pin.
func (p *Pin) Function() string {
	if p.out {
		return "Out"
	}
	return "In"
}

// In implements gpio.PinIn. Pull control and edge detection are not
// plumbed through; the line keeps the bias it was requested with.
func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	if pull != gpio.PullNoChange && pull != gpio.Float {
		return errors.New("gpiocdevpin: pull control is not supported")
	}
	if edge != gpio.NoEdge {
		return errors.New("gpiocdevpin: edge detection is not supported")
	}
	if p.out {
		if err := p.line.Reconfigure(gpiocdev.AsInput); err != nil {
			return fmt.Errorf("gpiocdevpin: %w", err)
		}
		p.out = false
	}
	return nil
}

// Read implements gpio.PinIn.
func (p *Pin) Read() gpio.Level {
	v, err := p.line.Value()
	if err != nil {
		return gpio.Low
	}
	return v != 0
}

// WaitForEdge implements gpio.PinIn; the adapter does not support it.
func (p *Pin) WaitForEdge(timeout time.Duration) bool {
	return false
}

// Pull implements gpio.PinIn.
func (p *Pin) Pull() gpio.Pull {
	return gpio.PullNoChange
}

// DefaultPull implements gpio.PinIn.
func (p *Pin) DefaultPull() gpio.Pull {
	return gpio.PullNoChange
}

// Out implements gpio.PinOut.
func (p *Pin) Out(l gpio.Level) error {
	v := 0
	if l {
		v = 1
	}
	if err := p.line.SetValue(v); err != nil {
		return fmt.Errorf("gpiocdevpin: %w", err)
	}
	return nil
}

// PWM implements gpio.PinOut; the adapter does not support it.
func (p *Pin) PWM(duty gpio.Duty, f physic.Frequency) error {
	return errors.New("gpiocdevpin: PWM is not supported")
}

var _ gpio.PinIO = &Pin{}
