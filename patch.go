// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vs1053

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ApplyPatch loads one VLSI plugin from r.
//
// The format is a sequence of little endian 16 bit words: an SCI register
// address followed by a count. A count with the top bit set is a run length
// record, one value written count&0x7FFF times; otherwise count values
// follow, each written to the same register (the chip auto-increments the
// underlying address). A short read mid-record returns ErrInvalidPatch.
func (d *Dev) ApplyPatch(r io.Reader) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.busMu.Lock()
	defer d.busMu.Unlock()
	return d.applyPatchLocked(r)
}

func (d *Dev) applyPatchLocked(r io.Reader) error {
	var b [2]byte
	readWord := func() (uint16, error) {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return uint16(b[1])<<8 | uint16(b[0]), nil
	}
	for {
		addr, err := readWord()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
		}
		count, err := readWord()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
		}
		if count&0x8000 != 0 {
			// Run length record: replicate one value.
			count &= 0x7FFF
			val, err := readWord()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
			}
			for i := uint16(0); i < count; i++ {
				if err := d.writeRegLocked(uint8(addr), val); err != nil {
					return err
				}
			}
		} else {
			// Copy record: count values follow.
			for i := uint16(0); i < count; i++ {
				val, err := readWord()
				if err != nil {
					return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
				}
				if err := d.writeRegLocked(uint8(addr), val); err != nil {
					return err
				}
			}
		}
	}
}

// Patch applies every plugin file found in dir, in lexicographic order.
// FLAC decoding in particular needs the vendor's patch set loaded after
// each reset.
func (d *Dev) Patch(dir string) error {
	if dir == "" {
		return ErrNoPatchLocation
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("vs1053: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("vs1053: %w", err)
		}
		err = d.ApplyPatch(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%w (%s)", err, e.Name())
		}
	}
	return nil
}
