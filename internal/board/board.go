// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package board describes how a VS1053b breakout is wired to the host: the
// SPI port plus the reset, DREQ, XCS and XDCS lines. The description is
// loaded from YAML so the command line tools work on any board without
// recompiling.
package board

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/vs1053/internal/gpiocdevpin"
)

// Config is the wiring description.
//
// When GPIOChip is empty, pins are periph gpioreg names ("GPIO25", "P1_22",
// ...). When it names a GPIO character device ("gpiochip0"), pins are line
// offsets on that chip.
type Config struct {
	SPI      string `yaml:"spi"`
	GPIOChip string `yaml:"gpiochip"`
	Reset    string `yaml:"reset"`
	DREQ     string `yaml:"dreq"`
	XCS      string `yaml:"xcs"`
	XDCS     string `yaml:"xdcs"`
}

// Load reads a wiring description from a YAML file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	c := &Config{}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	return c, nil
}

// Validate checks that every line is named.
func (c *Config) Validate() error {
	for _, p := range []struct{ name, v string }{
		{"reset", c.Reset},
		{"dreq", c.DREQ},
		{"xcs", c.XCS},
		{"xdcs", c.XDCS},
	} {
		if p.v == "" {
			return fmt.Errorf("board: %s pin is not set", p.name)
		}
	}
	return nil
}

// Port opens the configured SPI port. An empty name opens the first
// registered port.
func (c *Config) Port() (spi.PortCloser, error) {
	p, err := spireg.Open(c.SPI)
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	return p, nil
}

// Pins resolves the four control lines.
func (c *Config) Pins() (reset, xcs, xdcs gpio.PinOut, dreq gpio.PinIn, err error) {
	if err = c.Validate(); err != nil {
		return nil, nil, nil, nil, err
	}
	if c.GPIOChip != "" {
		return c.cdevPins()
	}
	byName := func(n string) (gpio.PinIO, error) {
		p := gpioreg.ByName(n)
		if p == nil {
			return nil, fmt.Errorf("board: no pin named %q", n)
		}
		return p, nil
	}
	if reset, err = byName(c.Reset); err != nil {
		return nil, nil, nil, nil, err
	}
	if xcs, err = byName(c.XCS); err != nil {
		return nil, nil, nil, nil, err
	}
	if xdcs, err = byName(c.XDCS); err != nil {
		return nil, nil, nil, nil, err
	}
	if dreq, err = byName(c.DREQ); err != nil {
		return nil, nil, nil, nil, err
	}
	return reset, xcs, xdcs, dreq, nil
}

func (c *Config) cdevPins() (gpio.PinOut, gpio.PinOut, gpio.PinOut, gpio.PinIn, error) {
	offset := func(n string) (int, error) {
		v, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("board: pin %q is not a line offset: %w", n, err)
		}
		return v, nil
	}
	out := func(n string) (gpio.PinOut, error) {
		o, err := offset(n)
		if err != nil {
			return nil, err
		}
		// All three control outputs idle high.
		return gpiocdevpin.Output(c.GPIOChip, o, gpio.High)
	}
	reset, err := out(c.Reset)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	xcs, err := out(c.XCS)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	xdcs, err := out(c.XDCS)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	o, err := offset(c.DREQ)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	dreq, err := gpiocdevpin.Input(c.GPIOChip, o)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return reset, xcs, xdcs, dreq, nil
}
