// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// vs1053 plays audio files through a VS1053b codec.
//
// Files are streamed in argument order; a directory argument is expanded to
// its files in lexicographic order. Interrupting the program cancels the
// current track cleanly through the chip's cancellation protocol.
package main

import (
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"periph.io/x/periph/host"
	"periph.io/x/vs1053"
	"periph.io/x/vs1053/internal/board"
)

func mainImpl() error {
	configPath := pflag.StringP("config", "c", "", "YAML wiring description")
	spiName := pflag.String("spi", "", "SPI port (overrides the config)")
	gpiochip := pflag.String("gpiochip", "", "GPIO character device; pins become line offsets")
	resetPin := pflag.String("reset", "", "reset pin")
	dreqPin := pflag.String("dreq", "", "DREQ pin")
	xcsPin := pflag.String("xcs", "", "XCS (command select) pin")
	xdcsPin := pflag.String("xdcs", "", "XDCS (data select) pin")
	volume := pflag.Float64P("volume", "v", -10, "attenuation per channel in dB (0 is loudest)")
	buffered := pflag.Bool("buffered", false, "buffer the source through a 2KiB ring (for slow media)")
	patchDir := pflag.String("patch", "", "apply every plugin in this directory before playing")
	sine := pflag.Duration("sine", 0, "play the built-in sine test for this long and exit")
	monitor := pflag.Bool("monitor", false, "log decode time and byte rate every second")
	verbose := pflag.BoolP("verbose", "V", false, "debug logging")
	pflag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "vs1053"})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
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
	logger.Debug("resetting codec")
	d, err := vs1053.New(port, reset, xcs, xdcs, dreq, &vs1053.Opts{Buffered: *buffered})
	if err != nil {
		return err
	}
	if v, err := d.Version(); err == nil {
		logger.Debug("codec up", "version", v)
	}
	if err := d.Volume(*volume, *volume); err != nil {
		return err
	}
	if *patchDir != "" {
		logger.Info("applying plugins", "dir", *patchDir)
		if err := d.Patch(*patchDir); err != nil {
			return err
		}
	}
	if *sine > 0 {
		logger.Info("sine test", "duration", *sine)
		return d.SineTest(vs1053.SineTest517Hz, *sine)
	}

	tracks, err := expand(pflag.Args())
	if err != nil {
		return err
	}
	if len(tracks) == 0 {
		return errors.New("nothing to play, pass files or directories")
	}

	var aborted atomic.Bool
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		for range sig {
			aborted.Store(true)
			d.Cancel()
		}
	}()

	for _, track := range tracks {
		if aborted.Load() {
			break
		}
		if err := playOne(d, logger, track, *monitor); err != nil {
			return err
		}
	}
	return nil
}

func playOne(d *vs1053.Dev, logger *log.Logger, track string, monitor bool) error {
	f, err := os.Open(track)
	if err != nil {
		return err
	}
	defer f.Close()
	logger.Info("playing", "file", track)
	if !monitor {
		return d.Play(f)
	}
	done := make(chan error, 1)
	go func() { done <- d.Play(f) }()
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case err := <-done:
			return err
		case <-tick.C:
			dt, _ := d.DecodeTime()
			br, _ := d.ByteRate()
			logger.Info("decoding", "time", dt, "rate", br)
		}
	}
}

// expand turns directory arguments into their files, in lexicographic
// order.
func expand(args []string) ([]string, error) {
	var out []string
	for _, a := range args {
		fi, err := os.Stat(a)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			out = append(out, a)
			continue
		}
		entries, err := os.ReadDir(a)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				out = append(out, filepath.Join(a, e.Name()))
			}
		}
	}
	return out, nil
}

func main() {
	if err := mainImpl(); err != nil {
		log.Fatal("vs1053", "err", err)
	}
}
