// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vs1053

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpiotest"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
)

// simOp is one SCI transaction as seen by the fake chip.
type simOp struct {
	read  bool
	addr  uint8
	val   uint16
	speed physic.Frequency
}

// codecSim is a behavioral fake of the chip: an spi.PortCloser whose
// register file, XRAM and DREQ line react the way the silicon does. It
// also polices the bus protocol: chip select exclusivity, SCI framing and
// the rate discipline (SCI at the initial or SCI rate, SDI at the data
// rate).
type codecSim struct {
	rst  *gpiotest.Pin
	xcs  *gpiotest.Pin
	xdcs *gpiotest.Pin
	dreq *simDREQ

	speed physic.Frequency

	regs     [16]uint16
	ram      map[uint16]uint16
	wramaddr uint16

	sdi []byte
	ops []simOp

	// clockfReadback, when set, overrides reads of SCI_CLOCKF.
	clockfReadback *uint16
	// cancelAckAfter is how many SCI_MODE reads the chip takes to
	// acknowledge SM_CANCEL once set; negative means never.
	cancelAckAfter  int
	cancelCountdown int
	cancelArmed     bool

	// dreqStallReads drops DREQ for that many reads after every data burst.
	dreqStallReads int
	dreqCountdown  int

	// hdat1 scripts successive non-zero reads of SCI_HDAT1.
	hdat1 []uint16
	// samples feeds reads of SCI_HDAT0 during a recording drain.
	samples []uint16
}

type simDREQ struct {
	gpiotest.Pin
	sim *codecSim
}

func (p *simDREQ) Read() gpio.Level {
	if p.sim.dreqCountdown > 0 {
		p.sim.dreqCountdown--
		return gpio.Low
	}
	return gpio.High
}

func newCodecSim() *codecSim {
	s := &codecSim{
		rst:  &gpiotest.Pin{N: "RESET"},
		xcs:  &gpiotest.Pin{N: "XCS", L: gpio.High},
		xdcs: &gpiotest.Pin{N: "XDCS", L: gpio.High},
		ram:  map[uint16]uint16{ramEndFillByte: 0x55},
	}
	s.dreq = &simDREQ{Pin: gpiotest.Pin{N: "DREQ", L: gpio.High}, sim: s}
	return s
}

// Connect implements spi.Port.
func (s *codecSim) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	if mode&spi.NoCS == 0 {
		return nil, errors.New("codecsim: the driver must own the chip selects")
	}
	s.speed = f
	return s, nil
}

// LimitSpeed implements spi.PortCloser.
func (s *codecSim) LimitSpeed(f physic.Frequency) error {
	s.speed = f
	return nil
}

// Close implements spi.PortCloser.
func (s *codecSim) Close() error {
	return nil
}

func (s *codecSim) String() string {
	return "codecsim"
}

// Duplex implements conn.Conn.
func (s *codecSim) Duplex() conn.Duplex {
	return conn.Full
}

// TxPackets implements spi.Conn.
func (s *codecSim) TxPackets(p []spi.Packet) error {
	return errors.New("codecsim: not implemented")
}

// Tx implements spi.Conn.
func (s *codecSim) Tx(w, r []byte) error {
	xcsLow := s.xcs.L == gpio.Low
	xdcsLow := s.xdcs.L == gpio.Low
	switch {
	case xcsLow && xdcsLow:
		return errors.New("codecsim: both chip selects asserted")
	case xcsLow:
		return s.sci(w, r)
	case xdcsLow:
		if s.speed != dataBaud {
			return fmt.Errorf("codecsim: SDI at %s, want %s", s.speed, dataBaud)
		}
		s.sdi = append(s.sdi, w...)
		if s.dreqStallReads > 0 {
			s.dreqCountdown = s.dreqStallReads
		}
		return nil
	default:
		return errors.New("codecsim: transfer with no chip select")
	}
}

func (s *codecSim) sci(w, r []byte) error {
	if len(w) != 4 {
		return fmt.Errorf("codecsim: SCI frame of %d bytes", len(w))
	}
	if s.speed != initialBaud && s.speed != sciBaud {
		return fmt.Errorf("codecsim: SCI at %s", s.speed)
	}
	op, addr := w[0], w[1]
	val := uint16(w[2])<<8 | uint16(w[3])
	switch op {
	case opWrite:
		s.writeReg(addr, val)
		s.ops = append(s.ops, simOp{addr: addr, val: val, speed: s.speed})
	case opRead:
		v := s.readReg(addr)
		s.ops = append(s.ops, simOp{read: true, addr: addr, val: v, speed: s.speed})
		if len(r) >= 4 {
			r[0] = 0
			r[1] = 0
			r[2] = uint8(v >> 8)
			r[3] = uint8(v)
		}
	default:
		return fmt.Errorf("codecsim: SCI opcode %#x", op)
	}
	return nil
}

func (s *codecSim) writeReg(addr uint8, val uint16) {
	switch addr {
	case regWRAMAddr:
		s.wramaddr = val
		s.regs[addr] = val
	case regWRAM:
		s.ram[s.wramaddr] = val
		s.wramaddr++
	case regMode:
		if val&smCancel != 0 && !s.cancelArmed {
			s.cancelArmed = true
			s.cancelCountdown = s.cancelAckAfter
		}
		// The chip clears the reset bit itself once done.
		s.regs[addr] = val &^ smReset
	default:
		if addr < uint8(len(s.regs)) {
			s.regs[addr] = val
		}
	}
}

func (s *codecSim) readReg(addr uint8) uint16 {
	switch addr {
	case regClockF:
		if s.clockfReadback != nil {
			return *s.clockfReadback
		}
	case regMode:
		if s.cancelArmed && s.cancelCountdown >= 0 {
			if s.cancelCountdown == 0 {
				s.cancelArmed = false
				s.regs[regMode] &^= smCancel
			}
			s.cancelCountdown--
		}
	case regWRAM:
		v := s.ram[s.wramaddr]
		s.wramaddr++
		return v
	case regHDAT1:
		if len(s.hdat1) > 0 {
			v := s.hdat1[0]
			s.hdat1 = s.hdat1[1:]
			return v
		}
	case regHDAT0:
		if len(s.samples) > 0 {
			v := s.samples[0]
			s.samples = s.samples[1:]
			return v
		}
	}
	if addr < uint8(len(s.regs)) {
		return s.regs[addr]
	}
	return 0
}

// sciWrites returns the recorded writes to one register, in order.
func (s *codecSim) sciWrites(addr uint8) []uint16 {
	var out []uint16
	for _, op := range s.ops {
		if !op.read && op.addr == addr {
			out = append(out, op.val)
		}
	}
	return out
}

// lastWrite returns the most recent write to a register.
func (s *codecSim) lastWrite(t *testing.T, addr uint8) uint16 {
	t.Helper()
	w := s.sciWrites(addr)
	require.NotEmpty(t, w, "no write to register %#x", addr)
	return w[len(w)-1]
}

// newTestDev builds a Dev wired to a fresh fake chip, with delays elided.
func newTestDev(t *testing.T, opts *Opts) (*codecSim, *Dev) {
	t.Helper()
	s := newCodecSim()
	d := mustNew(t, s, opts)
	return s, d
}

func mustNew(t *testing.T, s *codecSim, opts *Opts) *Dev {
	t.Helper()
	prev := doSleep
	doSleep = func(time.Duration) {}
	t.Cleanup(func() { doSleep = prev })
	d, err := New(s, s.rst, s.xcs, s.xdcs, s.dreq, opts)
	require.NoError(t, err)
	return d
}

var _ spi.PortCloser = &codecSim{}
var _ spi.Conn = &codecSim{}
