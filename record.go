// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vs1053

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"periph.io/x/periph/conn/gpio"
)

// The chip's IMA ADPCM recording mode needs this patch, datasheet 10.8.1.
var adpcmPatch = []uint16{
	0x3E12, 0xB817, 0x3E14, 0xF812, 0x3E01, 0xB811, 0x0007, 0x9717,
	0x0020, 0xFFD2, 0x0030, 0x11D1, 0x3111, 0x8024, 0x3704, 0xC024,
	0x3B81, 0x8024, 0x3101, 0x8024, 0x3B81, 0x8024, 0x3F04, 0xC024,
	0x2808, 0x4800, 0x36F1, 0x9811,
}

var adpcmPatch1 = []uint16{0x2A00, 0x040E}

// wavHeader is the RIFF/WAVE template for IMA ADPCM, size fields zeroed;
// they are patched once the sample count is known, datasheet 10.8.4.
var wavHeader = []byte{
	'R', 'I', 'F', 'F', 0x00, 0x00, 0x00, 0x00,
	'W', 'A', 'V', 'E', 'f', 'm', 't', ' ',
	0x14, 0x00, 0x00, 0x00, 0x11, 0x00, 0x02, 0x00,
	0x40, 0x1F, 0x00, 0x00, 0xAE, 0x1F, 0x00, 0x00,
	0x00, 0x02, 0x04, 0x00, 0x02, 0x00, 0xF9, 0x01,
	'f', 'a', 'c', 't', 0x04, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
	'd', 'a', 't', 'a', 0x00, 0x00, 0x00, 0x00,
}

// RecordOpts holds the recording parameters.
type RecordOpts struct {
	// LineIn selects the line input instead of the microphone.
	LineIn bool
	// SampleRate in Hz; 0 means 8000.
	SampleRate uint16
	// Mono records the left channel only; the default is stereo.
	Mono bool
	// Gain is the fixed input gain in dB. nil enables automatic gain
	// control.
	Gain *float64
	// MaxAGCGain caps the automatic gain control in dB; nil leaves the
	// chip's default.
	MaxAGCGain *float64
	// Stop ends the recording when it returns true. When nil, Duration
	// bounds the recording instead.
	Stop func() bool
	// Duration bounds the recording when Stop is nil; 0 means 10 seconds.
	Duration time.Duration
}

// fromDB converts a gain in dB to the chip's linear representation where
// 1024 is unity. nil maps to 0, which the chip reads as "automatic".
func fromDB(db *float64) uint16 {
	if db == nil {
		return 0
	}
	v := math.Round(1024 * math.Pow(10, *db/20))
	return uint16(math.Min(math.Max(v, 1), 65535))
}

// Record captures IMA ADPCM from the line or microphone input into w as a
// WAV file until the stop condition fires, then patches the container's
// size fields in place.
//
// It returns the overrun high-water mark: the largest number of samples
// found queued in the chip between two drain passes. The chip's FIFO holds
// 896 samples; a mark above 768 means the host barely kept up and samples
// may be lost on a slower medium.
//
// Recording reconfigures SCI_MODE for ADPCM and does not restore it; call
// Reset to return to decoding afterwards. SoftReset keeps the SM_ADPCM bit
// set, and Play does not clear it.
func (d *Dev) Record(w io.WriteSeeker, opts *RecordOpts) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if opts == nil {
		opts = &RecordOpts{}
	}
	sr := opts.SampleRate
	if sr == 0 {
		sr = 8000
	}
	d.overrun = 0

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(wavHeader); err != nil {
		return 0, fmt.Errorf("vs1053: %w", err)
	}

	mode, err := d.readReg(regMode)
	if err != nil {
		return 0, err
	}
	mode |= smReset | smADPCM | smSDINew
	if opts.LineIn {
		mode |= SMLineIn
	}
	if err := d.writeReg(regAICtrl0, sr); err != nil {
		return 0, err
	}
	if err := d.writeReg(regAICtrl1, fromDB(opts.Gain)); err != nil {
		return 0, err
	}
	if err := d.writeReg(regAICtrl2, fromDB(opts.MaxAGCGain)); err != nil {
		return 0, err
	}
	ctrl3 := uint16(0)
	if opts.Mono {
		ctrl3 = 2 // Left channel.
	}
	if err := d.writeReg(regAICtrl3, ctrl3); err != nil {
		return 0, err
	}
	// The mode switch must happen before the patch is loaded.
	if err := d.writeReg(regMode, mode); err != nil {
		return 0, err
	}
	if err := d.writeADPCMPatch(); err != nil {
		return 0, err
	}

	stop := opts.Stop
	if stop == nil {
		dur := opts.Duration
		if dur == 0 {
			dur = 10 * time.Second
		}
		deadline := time.Now().Add(dur)
		stop = func() bool { return !time.Now().Before(deadline) }
	}
	nsamples := 0
	for !stop() {
		n, err := d.drainSamples(bw)
		if err != nil {
			return d.overrun, err
		}
		nsamples += n
	}
	if err := bw.Flush(); err != nil {
		return d.overrun, fmt.Errorf("vs1053: %w", err)
	}
	if err := patchWavHeader(w, nsamples, int(sr), !opts.Mono); err != nil {
		return d.overrun, err
	}
	return d.overrun, nil
}

// drainSamples moves every sample the chip has queued (SCI_HDAT1 holds the
// count) into w, two bytes per sample MSB first, datasheet 10.8.4. The
// drain reads SCI_HDAT0 back to back at the SCI rate without the usual
// DREQ gating; during recording DREQ signals samples pending, not bus
// readiness.
func (d *Dev) drainSamples(w io.Writer) (int, error) {
	n, err := d.readReg(regHDAT1)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	d.busMu.Lock()
	defer d.busMu.Unlock()
	if err := d.port.LimitSpeed(sciBaud); err != nil {
		return 0, fmt.Errorf("vs1053: %w", err)
	}
	cmd := [4]byte{opRead, regHDAT0, 0xFF, 0xFF}
	var rbuf [4]byte
	for i := 0; i < int(n); i++ {
		if err := d.xcs.Out(gpio.Low); err != nil {
			return 0, fmt.Errorf("vs1053: %w", err)
		}
		err := d.c.Tx(cmd[:], rbuf[:])
		if err2 := d.xcs.Out(gpio.High); err == nil {
			err = err2
		}
		if err != nil {
			return 0, fmt.Errorf("vs1053: %w", err)
		}
		if _, err := w.Write(rbuf[2:4]); err != nil {
			return 0, fmt.Errorf("vs1053: %w", err)
		}
	}
	if err := d.port.LimitSpeed(dataBaud); err != nil {
		return 0, fmt.Errorf("vs1053: %w", err)
	}
	if int(n) > d.overrun {
		d.overrun = int(n)
	}
	return int(n), nil
}

func (d *Dev) writeADPCMPatch() error {
	d.busMu.Lock()
	defer d.busMu.Unlock()
	if err := d.writeRegLocked(regWRAMAddr, 0x8010); err != nil {
		return err
	}
	for _, v := range adpcmPatch {
		if err := d.writeRegLocked(regWRAM, v); err != nil {
			return err
		}
	}
	if err := d.writeRegLocked(regWRAMAddr, 0x8028); err != nil {
		return err
	}
	for _, v := range adpcmPatch1 {
		if err := d.writeRegLocked(regWRAM, v); err != nil {
			return err
		}
	}
	return nil
}

// patchWavHeader fills in the size fields once the sample count is known,
// datasheet 10.8.4. A block is 256 samples in stereo, 128 in mono, and
// decodes to 505 PCM samples.
func patchWavHeader(w io.WriteSeeker, nsamples, sampleRate int, stereo bool) error {
	chans := 1
	blockSamples := 128
	if stereo {
		chans = 2
		blockSamples = 256
	}
	nblocks := nsamples / blockSamples
	var u32 [4]byte
	writeAt := func(off int64, b []byte) error {
		if _, err := w.Seek(off, io.SeekStart); err != nil {
			return fmt.Errorf("vs1053: %w", err)
		}
		if _, err := w.Write(b); err != nil {
			return fmt.Errorf("vs1053: %w", err)
		}
		return nil
	}
	writeU32 := func(off int64, v uint32) error {
		binary.LittleEndian.PutUint32(u32[:], v)
		return writeAt(off, u32[:])
	}
	if err := writeU32(4, uint32(nblocks*256*chans+52)); err != nil {
		return err
	}
	if !stereo {
		if err := writeAt(22, []byte{0x01}); err != nil {
			return err
		}
		if err := writeAt(33, []byte{0x01}); err != nil {
			return err
		}
	}
	if err := writeU32(24, uint32(sampleRate)); err != nil {
		return err
	}
	byteRate := uint32(math.Round(float64(sampleRate) * 256 * float64(chans) / 505))
	if err := writeU32(28, byteRate); err != nil {
		return err
	}
	if err := writeU32(48, uint32(nblocks*505)); err != nil {
		return err
	}
	return writeU32(56, uint32(nblocks*256*chans))
}
