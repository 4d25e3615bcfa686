// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package board

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/gpio/gpiotest"
)

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "board.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
spi: SPI0.0
reset: GPIO25
dreq: GPIO16
xcs: GPIO8
xdcs: GPIO7
`), 0o600))

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "SPI0.0", c.SPI)
	assert.Equal(t, "GPIO25", c.Reset)
	assert.Equal(t, "GPIO16", c.DREQ)
	assert.Equal(t, "GPIO8", c.XCS)
	assert.Equal(t, "GPIO7", c.XDCS)
	require.NoError(t, c.Validate())
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := &Config{Reset: "GPIO25", DREQ: "GPIO16", XCS: "GPIO8"}
	assert.ErrorContains(t, c.Validate(), "xdcs")
}

func TestPins_ByName(t *testing.T) {
	for _, n := range []string{"BRD_RESET", "BRD_DREQ", "BRD_XCS", "BRD_XDCS"} {
		require.NoError(t, gpioreg.Register(&gpiotest.Pin{N: n}))
	}
	c := &Config{Reset: "BRD_RESET", DREQ: "BRD_DREQ", XCS: "BRD_XCS", XDCS: "BRD_XDCS"}
	reset, xcs, xdcs, dreq, err := c.Pins()
	require.NoError(t, err)
	assert.Equal(t, "BRD_RESET(0)", reset.String())
	assert.Equal(t, "BRD_XCS(0)", xcs.String())
	assert.Equal(t, "BRD_XDCS(0)", xdcs.String())
	assert.Equal(t, "BRD_DREQ(0)", dreq.String())
}

func TestPins_Unknown(t *testing.T) {
	c := &Config{Reset: "NO_SUCH_PIN", DREQ: "NO_SUCH_PIN", XCS: "NO_SUCH_PIN", XDCS: "NO_SUCH_PIN"}
	_, _, _, _, err := c.Pins()
	assert.Error(t, err)
}

func TestPins_BadOffset(t *testing.T) {
	c := &Config{GPIOChip: "gpiochip0", Reset: "x", DREQ: "1", XCS: "2", XDCS: "3"}
	_, _, _, _, err := c.Pins()
	assert.ErrorContains(t, err, "line offset")
}
