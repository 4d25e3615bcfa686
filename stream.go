// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vs1053

import (
	"fmt"
	"io"
	"runtime"
	"time"

	"periph.io/x/periph/conn/gpio"
)

// Play streams encoded audio from r to the decoder until the source is
// exhausted or Cancel is called, then runs the chip's end of stream
// procedure. It returns ErrInvalidHdat if the decoder did not reach a clean
// stream boundary.
//
// The source needs nothing beyond Read; 0 bytes means end of stream. Play
// blocks the calling goroutine; run it in its own goroutine to keep the
// application responsive. It yields the processor while waiting on DREQ and
// after every burst, so a concurrent goroutine may poll DecodeTime,
// ByteRate or Pins between bursts.
func (d *Dev) Play(r io.Reader) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelReq.Store(false)
	d.playing.Store(true)
	defer func() {
		d.cancelReq.Store(false)
		d.playing.Store(false)
	}()
	if d.buf != nil {
		return d.playBuffered(r)
	}
	return d.playDirect(r)
}

// Cancel aborts the Play call in progress, if any. It is asynchronous and
// idempotent: it only raises a flag observed by the playback loop, then
// waits for the loop to finish the chip's cancellation protocol (or, if the
// chip never acknowledges, its watchdog reset).
func (d *Dev) Cancel() {
	if !d.playing.Load() {
		return
	}
	d.cancelReq.Store(true)
	for d.playing.Load() {
		doSleep(50 * time.Millisecond)
	}
}

// readSome performs a single read. The byte source contract is one
// read-into-buffer operation per call, 0 bytes meaning end of stream, so
// io.EOF alongside a final chunk is folded away.
func readSome(r io.Reader, buf []byte) (int, error) {
	n, err := r.Read(buf)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// readFull fills buf unless the source runs out first, the read-into
// semantics the ring refill relies on. 0 bytes from a single read means end
// of stream.
func readFull(r io.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err == io.EOF || (n == 0 && err == nil) {
			break
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// waitData spins until the chip requests data, yielding to the scheduler on
// every pass. cnt enforces the yield cadence: once 30 bursts (960 bytes)
// have gone out without a wait, the wait runs before the next one even if
// DREQ never drops, so a chip consuming faster than the host can feed
// cannot starve other goroutines.
func (d *Dev) waitData(cnt *int) {
	for d.dreq.Read() == gpio.Low || *cnt > 30 {
		*cnt = 0
		runtime.Gosched()
	}
}

// playDirect reads the source in bursts of up to 32 bytes and hands each
// straight to the SDI.
func (d *Dev) playDirect(r io.Reader) error {
	var buf [32]byte
	cnt := 0
	cancnt := 0
	for {
		n, err := readSome(r, buf[:])
		if err != nil {
			return fmt.Errorf("vs1053: %w", err)
		}
		if n == 0 {
			return d.endPlay(buf[:])
		}
		cnt++
		d.waitData(&cnt)
		if err := d.burst(buf[:n]); err != nil {
			return err
		}
		done, err := d.stepCancel(&cancnt, buf[:])
		if done || err != nil {
			return err
		}
	}
}

// playBuffered pumps the source through the 2048 byte ring. The ring is
// refilled once per DREQ wait entry, while the chip's own buffer is too
// full to take data, so source read latency overlaps the stall instead of
// extending it.
func (d *Dev) playBuffered(r io.Reader) error {
	buf := d.buf
	cnt := 0
	cancnt := 0
	rptr := 0
	bsize, err := readFull(r, buf)
	if err != nil {
		return fmt.Errorf("vs1053: %w", err)
	}
	wptr := bsize & bufMask
	for bsize > 0 {
		cnt++
		for d.dreq.Read() == gpio.Low || cnt > 30 {
			if cnt > 0 { // Refill once per wait entry.
				cnt = 0
				if wptr > rptr {
					// Fill through the end of the ring.
					n, err := readFull(r, buf[wptr:])
					if err != nil {
						return fmt.Errorf("vs1053: %w", err)
					}
					bsize += n
					wptr = (wptr + n) & bufMask
				}
				if wptr < rptr {
					// Fill up to, never past, the read side.
					n, err := readFull(r, buf[wptr:rptr])
					if err != nil {
						return fmt.Errorf("vs1053: %w", err)
					}
					bsize += n
					wptr += n
				}
			}
			runtime.Gosched()
		}
		// Contiguous chunk of at most 32 bytes from the read side.
		chunk := min(32, bsize)
		chunk = min(chunk, bufSize-rptr)
		if err := d.burst(buf[rptr : rptr+chunk]); err != nil {
			return err
		}
		rptr = (rptr + chunk) & bufMask
		bsize -= chunk
		done, err := d.stepCancel(&cancnt, buf[:32])
		if done || err != nil {
			return err
		}
	}
	return d.endPlay(buf[:32])
}

// burst clocks one chunk out under XDCS, then yields the processor. The
// caller has already seen DREQ high for this chunk.
func (d *Dev) burst(buf []byte) error {
	d.busMu.Lock()
	err := d.burstLocked(buf)
	d.busMu.Unlock()
	runtime.Gosched()
	return err
}

// stepCancel advances the cancellation protocol, datasheet 10.5.2. It
// returns done=true when playback must stop, either because the chip
// acknowledged the cancel and the stream was flushed, or because the
// watchdog gave up and soft-reset the chip. Until then real stream data
// keeps flowing.
func (d *Dev) stepCancel(cancnt *int, scratch []byte) (done bool, _ error) {
	if *cancnt == 0 {
		if !d.cancelReq.Load() {
			return false, nil
		}
		*cancnt = 1
		if err := d.ModeSet(smCancel); err != nil {
			return true, err
		}
	}
	m, err := d.Mode()
	if err != nil {
		return true, err
	}
	if m&smCancel == 0 {
		return true, d.cancelFlush(scratch)
	}
	if *cancnt > 64 {
		// The chip never acknowledged. Cancellation is best effort: reset
		// and report success.
		return true, d.SoftReset()
	}
	*cancnt++
	return false, nil
}

// fillEndBytes reads the stream's end fill byte and spreads it over the
// first 32 bytes of scratch.
func (d *Dev) fillEndBytes(scratch []byte) ([]byte, error) {
	efb, err := d.readRAM(ramEndFillByte)
	if err != nil {
		return nil, err
	}
	b := scratch[:32]
	for i := range b {
		b[i] = byte(efb)
	}
	return b, nil
}

// endPlay runs the normal end of stream procedure, datasheet 10.5.1: 2080
// bytes of end fill byte, SM_CANCEL, then up to 2048 more until the chip
// clears the bit. No acknowledgment within that budget means the decoder is
// wedged and gets a soft reset instead.
func (d *Dev) endPlay(scratch []byte) error {
	b, err := d.fillEndBytes(scratch)
	if err != nil {
		return err
	}
	for i := 0; i < 65; i++ {
		if err := d.sdiWrite(b); err != nil {
			return err
		}
	}
	if err := d.ModeSet(smCancel); err != nil {
		return err
	}
	cleared := false
	for i := 0; i < 64; i++ {
		if err := d.sdiWrite(b); err != nil {
			return err
		}
		m, err := d.Mode()
		if err != nil {
			return err
		}
		if m&smCancel == 0 {
			cleared = true
			break
		}
	}
	if !cleared {
		return d.SoftReset()
	}
	return d.checkHdat()
}

// cancelFlush flushes the decoder after a mid-stream cancel was
// acknowledged: 2048 bytes of end fill byte plus 4 trailing bytes.
func (d *Dev) cancelFlush(scratch []byte) error {
	b, err := d.fillEndBytes(scratch)
	if err != nil {
		return err
	}
	for i := 0; i < 64; i++ {
		if err := d.sdiWrite(b); err != nil {
			return err
		}
	}
	if err := d.sdiWrite(b[:4]); err != nil {
		return err
	}
	return d.checkHdat()
}

// checkHdat verifies the decoder reached a clean stream boundary.
func (d *Dev) checkHdat() error {
	h0, err := d.readReg(regHDAT0)
	if err != nil {
		return err
	}
	h1, err := d.readReg(regHDAT1)
	if err != nil {
		return err
	}
	if h0 != 0 || h1 != 0 {
		return ErrInvalidHdat
	}
	return nil
}
