// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vs1053

import "time"

// SineTestFreq encodes the test tone: the sample rate index in bits 7:5 and
// the skip speed in bits 4:0, datasheet 10.12.1.
type SineTestFreq byte

// SineTest517Hz is 22050Hz × 3/128.
const SineTest517Hz SineTestFreq = 0x63

// SineTest plays the chip's built-in sine test tone for the given duration.
// Useful to verify the analog output path without any stream data.
func (d *Dev) SineTest(freq SineTestFreq, duration time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.SoftReset(); err != nil {
		return err
	}
	if err := d.ModeSet(smTests); err != nil {
		return err
	}
	enter := [8]byte{0x53, 0xEF, 0x6E, byte(freq), 0, 0, 0, 0}
	if err := d.sdiWrite(enter[:]); err != nil {
		return err
	}
	doSleep(duration)
	exit := [8]byte{0x45, 0x78, 0x69, 0x74, 0, 0, 0, 0}
	if err := d.sdiWrite(exit[:]); err != nil {
		return err
	}
	return d.ModeClear(smTests)
}
