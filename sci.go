// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vs1053

import (
	"fmt"
	"runtime"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
)

// waitReady deasserts both chip selects and spins until DREQ is high,
// yielding to the scheduler on each pass. While playing, DREQ stays low for
// at most the chip's buffer drain time, under 40ms at 128kbps.
func (d *Dev) waitReady() error {
	if err := d.xdcs.Out(gpio.High); err != nil {
		return fmt.Errorf("vs1053: %w", err)
	}
	if err := d.xcs.Out(gpio.High); err != nil {
		return fmt.Errorf("vs1053: %w", err)
	}
	for d.dreq.Read() == gpio.Low {
		runtime.Gosched()
	}
	return nil
}

// sciSpeed is the rate for the next SCI frame. The initial rate applies
// until the clock boost has been verified.
func (d *Dev) sciSpeed() physic.Frequency {
	if d.slowSPI {
		return initialBaud
	}
	return sciBaud
}

// writeRegLocked writes an SCI register, datasheet 7.4. Callers hold busMu.
//
// The bus may be shared with other devices between transactions, so the
// rate is always set before the frame and restored to the data rate after.
func (d *Dev) writeRegLocked(addr uint8, value uint16) error {
	if err := d.waitReady(); err != nil {
		return err
	}
	if err := d.port.LimitSpeed(d.sciSpeed()); err != nil {
		return fmt.Errorf("vs1053: %w", err)
	}
	d.cbuf[0] = opWrite
	d.cbuf[1] = addr
	d.cbuf[2] = uint8(value >> 8)
	d.cbuf[3] = uint8(value)
	if err := d.xcs.Out(gpio.Low); err != nil {
		return fmt.Errorf("vs1053: %w", err)
	}
	err := d.c.Tx(d.cbuf[:], nil)
	if err2 := d.xcs.Out(gpio.High); err == nil {
		err = err2
	}
	if err != nil {
		return fmt.Errorf("vs1053: %w", err)
	}
	if err := d.port.LimitSpeed(dataBaud); err != nil {
		return fmt.Errorf("vs1053: %w", err)
	}
	return nil
}

// readRegLocked reads an SCI register, datasheet 7.4. Callers hold busMu.
func (d *Dev) readRegLocked(addr uint8) (uint16, error) {
	if err := d.waitReady(); err != nil {
		return 0, err
	}
	if err := d.port.LimitSpeed(d.sciSpeed()); err != nil {
		return 0, fmt.Errorf("vs1053: %w", err)
	}
	d.cbuf[0] = opRead
	d.cbuf[1] = addr
	d.cbuf[2] = 0xFF
	d.cbuf[3] = 0xFF
	if err := d.xcs.Out(gpio.Low); err != nil {
		return 0, fmt.Errorf("vs1053: %w", err)
	}
	err := d.c.Tx(d.cbuf[:], d.cbuf[:])
	if err2 := d.xcs.Out(gpio.High); err == nil {
		err = err2
	}
	if err != nil {
		return 0, fmt.Errorf("vs1053: %w", err)
	}
	if err := d.port.LimitSpeed(dataBaud); err != nil {
		return 0, fmt.Errorf("vs1053: %w", err)
	}
	return uint16(d.cbuf[2])<<8 | uint16(d.cbuf[3]), nil
}

func (d *Dev) writeReg(addr uint8, value uint16) error {
	d.busMu.Lock()
	defer d.busMu.Unlock()
	return d.writeRegLocked(addr, value)
}

func (d *Dev) readReg(addr uint8) (uint16, error) {
	d.busMu.Lock()
	defer d.busMu.Unlock()
	return d.readRegLocked(addr)
}

// readRAM reads a word of the chip's RAM through the WRAMADDR/WRAM
// indirection. The address write and data read form one transaction pair.
func (d *Dev) readRAM(addr uint16) (uint16, error) {
	d.busMu.Lock()
	defer d.busMu.Unlock()
	return d.readRAMLocked(addr)
}

func (d *Dev) readRAMLocked(addr uint16) (uint16, error) {
	if err := d.writeRegLocked(regWRAMAddr, addr); err != nil {
		return 0, err
	}
	return d.readRegLocked(regWRAM)
}

// writeRAM writes a word of the chip's RAM through the WRAMADDR/WRAM
// indirection.
func (d *Dev) writeRAM(addr, value uint16) error {
	d.busMu.Lock()
	defer d.busMu.Unlock()
	if err := d.writeRegLocked(regWRAMAddr, addr); err != nil {
		return err
	}
	return d.writeRegLocked(regWRAM, value)
}

// sdiWrite sends one burst to the serial data interface once the chip
// requests data. DREQ high means at least 32 bytes fit.
func (d *Dev) sdiWrite(buf []byte) error {
	d.busMu.Lock()
	defer d.busMu.Unlock()
	return d.sdiWriteLocked(buf)
}

func (d *Dev) sdiWriteLocked(buf []byte) error {
	for d.dreq.Read() == gpio.Low {
		runtime.Gosched()
	}
	return d.burstLocked(buf)
}

// burstLocked clocks bytes out under XDCS at the data rate without touching
// DREQ; the caller has already established that the chip can take them.
// The rate is set first since the bus may be shared.
func (d *Dev) burstLocked(buf []byte) error {
	if err := d.port.LimitSpeed(dataBaud); err != nil {
		return fmt.Errorf("vs1053: %w", err)
	}
	if err := d.xdcs.Out(gpio.Low); err != nil {
		return fmt.Errorf("vs1053: %w", err)
	}
	err := d.c.Tx(buf, nil)
	if err2 := d.xdcs.Out(gpio.High); err == nil {
		err = err2
	}
	if err != nil {
		return fmt.Errorf("vs1053: %w", err)
	}
	return nil
}
