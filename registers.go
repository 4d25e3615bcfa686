// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vs1053

import "periph.io/x/periph/conn/physic"

// SPI baudrates.
//
// Before SCI_CLOCKF is raised the internal clock runs at 12.288MHz and the
// maximum speed for SCI reads is CLKI/7 = 1.75MHz (datasheet p7). After the
// clock boost (xtal × 3.5) data transfers may run at 12.288MHz × 3.5 / 4.
const (
	initialBaud = 1 * physic.MegaHertz
	sciBaud     = 5 * physic.MegaHertz
	dataBaud    = 10752 * physic.KiloHertz
)

// SCI opcodes, datasheet 7.4.
const (
	opWrite = 0x02
	opRead  = 0x03
)

// SCI registers.
const (
	regMode       = 0x00
	regStatus     = 0x01
	regBass       = 0x02
	regClockF     = 0x03
	regDecodeTime = 0x04
	regWRAM       = 0x06
	regWRAMAddr   = 0x07
	regHDAT0      = 0x08
	regHDAT1      = 0x09
	regVol        = 0x0B
	regAICtrl0    = 0x0C
	regAICtrl1    = 0x0D
	regAICtrl2    = 0x0E
	regAICtrl3    = 0x0F
)

// SCI_MODE bits safe for applications to set or clear with ModeSet and
// ModeClear.
const (
	SMDiff         = 0x0001 // Invert the left channel.
	SMLayer12      = 0x0002 // Allow MPEG layers I and II.
	SMEarSpeakerLo = 0x0010 // EarSpeaker spatial processing.
	SMEarSpeakerHi = 0x0080
	SMLineIn       = 0x4000 // Line input instead of microphone.
)

// SCI_MODE bits owned by the driver.
const (
	smReset  = 0x0004
	smCancel = 0x0008
	smTests  = 0x0020
	smSDINew = 0x0800
	smADPCM  = 0x1000
)

// Recommended clock multiplier, xtal × 3.5 + 1 (datasheet p42, p7 footnote 4).
const clockfValue = 0x8800

// XRAM locations, accessed indirectly through SCI_WRAMADDR/SCI_WRAM.
// Datasheet 10.11.1 and 11.10.
const (
	ramByteRate    = 0x1E05
	ramEndFillByte = 0x1E06
	ramIODir       = 0xC017
	ramIORead      = 0xC018
	ramIOWrite     = 0xC019
	ramI2SConfig   = 0xC040
)
