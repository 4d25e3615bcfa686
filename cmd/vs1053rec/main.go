// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// vs1053rec records IMA ADPCM from a VS1053b's line or microphone input
// into a WAV file.
//
// The output argument is an strftime pattern, so unattended recordings get
// unique names:
//
//	vs1053rec -c board.yaml --line --seconds 30 'take-%Y%m%d-%H%M%S.wav'
package main

import (
	"errors"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
	"github.com/spf13/pflag"
	"periph.io/x/periph/host"
	"periph.io/x/vs1053"
	"periph.io/x/vs1053/internal/board"
)

// overrunWarn is the HDAT1 high-water mark above which samples were close
// to being dropped; the chip's FIFO holds 896.
const overrunWarn = 768

func mainImpl() error {
	configPath := pflag.StringP("config", "c", "", "YAML wiring description")
	spiName := pflag.String("spi", "", "SPI port (overrides the config)")
	gpiochip := pflag.String("gpiochip", "", "GPIO character device; pins become line offsets")
	resetPin := pflag.String("reset", "", "reset pin")
	dreqPin := pflag.String("dreq", "", "DREQ pin")
	xcsPin := pflag.String("xcs", "", "XCS (command select) pin")
	xdcsPin := pflag.String("xdcs", "", "XDCS (data select) pin")
	seconds := pflag.Float64P("seconds", "s", 10, "recording length")
	lineIn := pflag.Bool("line", false, "record the line input instead of the microphone")
	rate := pflag.Uint16P("rate", "r", 8000, "sample rate in Hz")
	mono := pflag.Bool("mono", false, "record the left channel only")
	gain := pflag.Float64P("gain", "g", 0, "fixed input gain in dB; automatic gain control if not set")
	agcGain := pflag.Float64("agc-gain", 0, "automatic gain control ceiling in dB")
	verbose := pflag.BoolP("verbose", "V", false, "debug logging")
	pflag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "vs1053rec"})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}
	if pflag.NArg() != 1 {
		return errors.New("pass exactly one output file pattern")
	}
	name, err := strftime.Format(pflag.Arg(0), time.Now())
	if err != nil {
		return err
	}

	cfg := &board.Config{}
	if *configPath != "" {
		c, err := board.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = c
	}
	for flag, dst := range map[*string]*string{
		spiName:  &cfg.SPI,
		gpiochip: &cfg.GPIOChip,
		resetPin: &cfg.Reset,
		dreqPin:  &cfg.DREQ,
		xcsPin:   &cfg.XCS,
		xdcsPin:  &cfg.XDCS,
	} {
		if *flag != "" {
			*dst = *flag
		}
	}

	if _, err := host.Init(); err != nil {
		return err
	}
	port, err := cfg.Port()
	if err != nil {
		return err
	}
	defer port.Close()
	reset, xcs, xdcs, dreq, err := cfg.Pins()
	if err != nil {
		return err
	}
	d, err := vs1053.New(port, reset, xcs, xdcs, dreq, nil)
	if err != nil {
		return err
	}

	opts := &vs1053.RecordOpts{
		LineIn:     *lineIn,
		SampleRate: *rate,
		Mono:       *mono,
		Duration:   time.Duration(*seconds * float64(time.Second)),
	}
	if pflag.CommandLine.Changed("gain") {
		opts.Gain = gain
	}
	if pflag.CommandLine.Changed("agc-gain") {
		opts.MaxAGCGain = agcGain
	}

	f, err := os.Create(name)
	if err != nil {
		return err
	}
	logger.Info("recording", "file", name, "rate", *rate, "seconds", *seconds)
	overrun, err := d.Record(f, opts)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return err
	}
	if overrun > overrunWarn {
		logger.Warn("recording nearly overran the chip's buffer", "highwater", overrun)
	} else {
		logger.Debug("recording done", "highwater", overrun)
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		log.Fatal("vs1053rec", "err", err)
	}
}
