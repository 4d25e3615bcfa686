// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vs1053

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPatch(t *testing.T) {
	s, d := newTestDev(t, nil)
	// One run length record (two copies of 0x1234) followed by one copy
	// record, both targeting register 3.
	plugin := []byte{
		0x03, 0x00, 0x02, 0x80, 0x34, 0x12,
		0x03, 0x00, 0x01, 0x00, 0xCD, 0xAB,
	}
	require.NoError(t, d.ApplyPatch(bytes.NewReader(plugin)))
	// The first write to register 3 is the clock boost from reset.
	assert.Equal(t, []uint16{clockfValue, 0x1234, 0x1234, 0xABCD}, s.sciWrites(regClockF))
}

func TestApplyPatch_Short(t *testing.T) {
	_, d := newTestDev(t, nil)
	for _, plugin := range [][]byte{
		{0x03},                               // Half an address.
		{0x03, 0x00},                         // Address without a count.
		{0x03, 0x00, 0x02, 0x80},             // Run length without a value.
		{0x03, 0x00, 0x02, 0x00, 0x34, 0x12}, // Copy record one value short.
	} {
		err := d.ApplyPatch(bytes.NewReader(plugin))
		assert.ErrorIs(t, err, ErrInvalidPatch, "plugin %x", plugin)
	}
}

func TestApplyPatch_Empty(t *testing.T) {
	_, d := newTestDev(t, nil)
	require.NoError(t, d.ApplyPatch(bytes.NewReader(nil)))
}

func TestPatch_Dir(t *testing.T) {
	s, d := newTestDev(t, nil)
	dir := t.TempDir()
	// Lexicographic order: 010.plg before 020.plg, whatever the creation
	// order.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "020-second.plg"),
		[]byte{0x03, 0x00, 0x01, 0x00, 0x22, 0x22}, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "010-first.plg"),
		[]byte{0x03, 0x00, 0x01, 0x00, 0x11, 0x11}, 0o600))

	require.NoError(t, d.Patch(dir))
	assert.Equal(t, []uint16{clockfValue, 0x1111, 0x2222}, s.sciWrites(regClockF))
}

func TestPatch_Errors(t *testing.T) {
	_, d := newTestDev(t, nil)
	assert.ErrorIs(t, d.Patch(""), ErrNoPatchLocation)
	assert.Error(t, d.Patch(filepath.Join(t.TempDir(), "missing")))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.plg"), []byte{0x03}, 0o600))
	assert.ErrorIs(t, d.Patch(dir), ErrInvalidPatch)
}
