// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package vs1053 controls a VLSI VS1053b audio codec over SPI.
//
// The VS1053b decodes MP3, Ogg Vorbis, WMA, FLAC (with a patch) and more,
// and records IMA ADPCM from its line or microphone input. The host streams
// encoded bytes to the chip's serial data interface (SDI) gated by the DREQ
// pin, and configures it through the serial command interface (SCI). Both
// interfaces share one SPI bus with separate chip selects, XCS for commands
// and XDCS for data, each running at its own clock rate.
//
// The port is connected once with spi.NoCS; the driver owns the XCS and
// XDCS lines and guarantees that at most one of them is asserted at any
// time. Since the bus may be shared (typically with an SD card), the rate
// is re-applied at the start of every transaction with LimitSpeed.
//
// # Datasheet
//
// https://www.vlsi.fi/fileadmin/datasheets/vs1053.pdf
package vs1053

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/spi"
)

// Errors returned by the driver.
var (
	// ErrNoDevice means the SCI_CLOCKF read-back after reset did not match
	// what was written: no functioning VS1053b is on the bus.
	ErrNoDevice = errors.New("vs1053: no device found")
	// ErrInvalidHdat means HDAT0/HDAT1 were not zero after an end of stream
	// flush; the decoder did not reach a clean stream boundary.
	ErrInvalidHdat = errors.New("vs1053: invalid HDAT value")
	// ErrInvalidPatch means a plugin file ended in the middle of a record.
	ErrInvalidPatch = errors.New("vs1053: invalid patch file")
	// ErrNoPatchLocation means Patch was called with an empty location.
	ErrNoPatchLocation = errors.New("vs1053: no patch location")
)

// doSleep is overridden in tests.
var doSleep = time.Sleep

// Opts holds the configuration options.
type Opts struct {
	// Buffered selects the 2048 byte ring buffer between the byte source and
	// the SDI. It decouples source read latency (e.g. an SD card on a shared
	// bus) from the chip's appetite: the ring refills while the chip's own
	// buffer is too full to accept data.
	Buffered bool
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{}

const bufSize = 2048
const bufMask = bufSize - 1

// New returns a handle to a VS1053b.
//
// The port is connected at the data rate with manual chip select; reset,
// xcs and xdcs are outputs (all idle high), dreq is the chip's active high
// data request input. New hard-resets the chip, raises its clock and
// verifies its presence, returning ErrNoDevice on a read-back mismatch.
func New(p spi.PortCloser, reset, xcs, xdcs gpio.PinOut, dreq gpio.PinIn, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	c, err := p.Connect(dataBaud, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		return nil, fmt.Errorf("vs1053: %w", err)
	}
	if err := dreq.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("vs1053: %w", err)
	}
	d := &Dev{
		port:    p,
		c:       c,
		reset:   reset,
		xcs:     xcs,
		xdcs:    xdcs,
		dreq:    dreq,
		slowSPI: true,
	}
	if opts.Buffered {
		d.buf = make([]byte, bufSize)
	}
	if err := d.Reset(); err != nil {
		return nil, err
	}
	return d, nil
}

// Dev is a handle to an initialized VS1053b.
//
// Play, Record, Patch and SineTest are mutually exclusive; Cancel and the
// monitoring accessors (DecodeTime, ByteRate, Pins, ...) may be called
// concurrently with a running Play.
type Dev struct {
	port  spi.PortCloser
	c     spi.Conn
	reset gpio.PinOut
	xcs   gpio.PinOut
	xdcs  gpio.PinOut
	dreq  gpio.PinIn

	// mu serializes the top level operations.
	mu sync.Mutex
	// busMu serializes individual bus transactions so that SCI accesses from
	// another goroutine interleave between data bursts, never inside one.
	busMu   sync.Mutex
	cbuf    [4]byte
	slowSPI bool
	buf     []byte // Ring buffer, nil when unbuffered.

	playing   atomic.Bool
	cancelReq atomic.Bool
	overrun   int
}

func (d *Dev) String() string {
	return fmt.Sprintf("vs1053{%s}", d.c)
}

// Halt implements conn.Resource. It cancels any playback in progress and
// powers down the analog parts.
func (d *Dev) Halt() error {
	d.Cancel()
	return d.PowerDown()
}

// Reset issues a hardware reset followed by a soft reset.
func (d *Dev) Reset() error {
	if err := d.xcs.Out(gpio.High); err != nil {
		return fmt.Errorf("vs1053: %w", err)
	}
	if err := d.xdcs.Out(gpio.High); err != nil {
		return fmt.Errorf("vs1053: %w", err)
	}
	if err := d.reset.Out(gpio.Low); err != nil {
		return fmt.Errorf("vs1053: %w", err)
	}
	doSleep(20 * time.Millisecond)
	if err := d.reset.Out(gpio.High); err != nil {
		return fmt.Errorf("vs1053: %w", err)
	}
	doSleep(20 * time.Millisecond)
	return d.SoftReset()
}

// SoftReset resets the decoder, raises the internal clock and restores a
// flat frequency response at full volume.
func (d *Dev) SoftReset() error {
	d.busMu.Lock()
	defer d.busMu.Unlock()
	return d.softResetLocked()
}

func (d *Dev) softResetLocked() error {
	// SCI is limited to the initial rate until the clock has been raised.
	d.slowSPI = true
	if err := d.modeSetLocked(smReset); err != nil {
		return err
	}
	doSleep(20 * time.Millisecond)
	if err := d.writeRegLocked(regClockF, clockfValue); err != nil {
		return err
	}
	if v, err := d.readRegLocked(regClockF); err != nil {
		return err
	} else if v != clockfValue {
		return ErrNoDevice
	}
	doSleep(time.Millisecond) // Clock switch can take 100µs.
	if err := d.writeRegLocked(regBass, 0); err != nil {
		return err
	}
	if err := d.writeRegLocked(regVol, 0); err != nil {
		return err
	}
	if err := d.waitReady(); err != nil {
		return err
	}
	d.slowSPI = false
	return nil
}

// Volume sets the attenuation of each channel in dB. 0 is loudest, -63.5
// the quietest; values are clamped to that range.
func (d *Dev) Volume(left, right float64) error {
	l := volumeBits(left)
	r := volumeBits(right)
	return d.writeReg(regVol, l<<8|r)
}

func volumeBits(db float64) uint16 {
	return uint16(math.RoundToEven(math.Min(math.Max(2*-db, 0), 127)))
}

// PowerDown shuts down the analog parts. Any Volume call powers them up
// again.
func (d *Dev) PowerDown() error {
	return d.writeReg(regVol, 0xFFFF)
}

// Response sets the built-in bass enhancement and treble control.
//
// bassFreq is the enhancement's upper limit in Hz (20..150), bassAmp its
// amplitude in dB (0..15, 0 disables). trebleFreq is the control's lower
// limit in Hz (1000..15000), trebleAmp its amplitude in dB (-12..10.5 in
// steps of 1.5, 0 disables). Out of range values are clamped.
func (d *Dev) Response(bassFreq, trebleFreq int, bassAmp, trebleAmp float64) error {
	var bits uint16
	ta := int(math.RoundToEven(math.Min(math.Max(trebleAmp, -12), 10.5)/1.5)) & 0x0F
	bits |= uint16(ta) << 12
	if ta != 0 {
		tf := (min(max(trebleFreq, 1000), 15000) + 500) / 1000
		bits |= uint16(tf) << 8
	}
	ba := int(math.RoundToEven(math.Min(math.Max(bassAmp, 0), 15)))
	bits |= uint16(ba) << 4
	if ba != 0 {
		bf := (min(max(bassFreq, 20), 150) + 5) / 10
		bits |= uint16(bf)
	}
	return d.writeReg(regBass, bits)
}

// Mode returns the current value of SCI_MODE.
func (d *Dev) Mode() (uint16, error) {
	return d.readReg(regMode)
}

// ModeSet sets bits in SCI_MODE. The SDINEW framing bit is always kept set.
func (d *Dev) ModeSet(bits uint16) error {
	d.busMu.Lock()
	defer d.busMu.Unlock()
	return d.modeSetLocked(bits)
}

func (d *Dev) modeSetLocked(bits uint16) error {
	m, err := d.readRegLocked(regMode)
	if err != nil {
		return err
	}
	return d.writeRegLocked(regMode, m|bits|smSDINew)
}

// ModeClear clears bits in SCI_MODE. The SDINEW framing bit is always kept
// set.
func (d *Dev) ModeClear(bits uint16) error {
	d.busMu.Lock()
	defer d.busMu.Unlock()
	return d.modeClearLocked(bits)
}

func (d *Dev) modeClearLocked(bits uint16) error {
	m, err := d.readRegLocked(regMode)
	if err != nil {
		return err
	}
	return d.writeRegLocked(regMode, (m&^bits)|smSDINew)
}

// Version returns the chip version from SCI_STATUS. A VS1053b reports 4.
func (d *Dev) Version() (int, error) {
	v, err := d.readReg(regStatus)
	if err != nil {
		return 0, err
	}
	return int(v>>4) & 0x0F, nil
}

// DecodeTime returns the number of seconds decoded since the last reset.
func (d *Dev) DecodeTime() (time.Duration, error) {
	v, err := d.readReg(regDecodeTime)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Second, nil
}

// ByteRate returns the current stream data rate in bytes per second.
func (d *Dev) ByteRate() (int, error) {
	v, err := d.readRAM(ramByteRate)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// PinsDirection configures the chip's own GPIO pins; a set bit makes the
// corresponding pin an output.
func (d *Dev) PinsDirection(bits uint8) error {
	return d.writeRAM(ramIODir, uint16(bits))
}

// Pins returns the state of the chip's own GPIO pins.
func (d *Dev) Pins() (uint16, error) {
	v, err := d.readRAM(ramIORead)
	if err != nil {
		return 0, err
	}
	return v & 0x3FF, nil
}

// SetPins drives the chip's own GPIO pins configured as outputs.
func (d *Dev) SetPins(data uint8) error {
	return d.writeRAM(ramIOWrite, uint16(data))
}

// EnableI2S routes decoded audio to the I²S output at the given sample rate
// in kHz (48, 96 or 192), optionally with the master clock enabled.
func (d *Dev) EnableI2S(rate int, mclock bool) error {
	v := uint16(0x04)
	if mclock {
		v = 0x0C
	}
	switch rate {
	case 96:
		v |= 1
	case 192:
		v |= 2
	}
	if err := d.writeRAM(ramIODir, 0xF0); err != nil {
		return err
	}
	return d.writeRAM(ramI2SConfig, v)
}

// Playing reports whether a Play call is in progress.
func (d *Dev) Playing() bool {
	return d.playing.Load()
}

// Overrun returns the recording overrun high-water mark of the last Record
// call: the largest number of samples found queued in the chip between two
// drain passes. Values approaching 896 mean samples were nearly lost.
func (d *Dev) Overrun() int {
	return d.overrun
}

var _ fmt.Stringer = &Dev{}
