// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package gorilla

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeEmpty(t *testing.T) {
	buf := Encode(nil)
	assert.Empty(t, buf)

	points, err := Decode(buf)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestEncodeDecodeSinglePoint(t *testing.T) {
	in := []Point{{Timestamp: 1609459200, Value: 23.5}}
	out, err := Decode(Encode(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

// Scenario 1 from the test-suite corpus: four regularly-spaced samples.
func TestEncodeDecodeRegularSeries(t *testing.T) {
	in := []Point{
		{Timestamp: 1609459200, Value: 23.5},
		{Timestamp: 1609459260, Value: 23.6},
		{Timestamp: 1609459320, Value: 23.4},
		{Timestamp: 1609459380, Value: 23.5},
	}
	out, err := Decode(Encode(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestEncodeDecodeTenPointSeries(t *testing.T) {
	in := make([]Point, 10)
	for i := range in {
		in[i] = Point{
			Timestamp: 1609459200 + uint64(i)*60,
			Value:     20 + 0.5*float64(i),
		}
	}
	out, err := Decode(Encode(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

// A zero delta-of-delta run (perfectly regular sampling) collapses to one
// bit per sample after the second; verify it still round-trips.
func TestEncodeDecodeConstantInterval(t *testing.T) {
	in := make([]Point, 50)
	for i := range in {
		in[i] = Point{Timestamp: 1000 + uint64(i)*10, Value: 1.0}
	}
	out, err := Decode(Encode(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

// Exercises the small-dod boundary values, including +64, which two's
// complement in 7 bits cannot distinguish from -64 — the reason this tier
// is encoded as an unsigned offset rather than raw two's complement.
func TestEncodeDecodeSmallDodBoundary(t *testing.T) {
	in := []Point{
		{Timestamp: 0, Value: 1},
		{Timestamp: 100, Value: 2}, // delta = 100 (first delta)
		{Timestamp: 200, Value: 3}, // delta = 100, dod = 0
		{Timestamp: 364, Value: 4}, // delta = 164, dod = 64 (small tier max)
		{Timestamp: 528, Value: 5}, // delta = 164, dod = 0
		{Timestamp: 629, Value: 6}, // delta = 101, dod = -63 (small tier min)
		{Timestamp: 795, Value: 7}, // delta = 166, dod = 65 (large tier)
	}
	out, err := Decode(Encode(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

// Exercises the large-dod (12-bit) tier, still within the window.
func TestEncodeDecodeLargeDodWithinWindow(t *testing.T) {
	in := []Point{
		{Timestamp: 0, Value: 1},
		{Timestamp: 1000, Value: 2},
		{Timestamp: 3000, Value: 3},  // dod = 1000, within [-2048,2047]
		{Timestamp: 6500, Value: 4},  // dod = 1500
		{Timestamp: 6600, Value: 5}, // dod = -3400 -> wraps, documented lossy edge
	}
	out, err := Decode(Encode(in))
	require.NoError(t, err)
	require.Len(t, out, len(in))
	// Within-window prefix must still be exact.
	for i := 0; i < 4; i++ {
		assert.Equal(t, in[i], out[i])
	}
}

// A value whose XOR against its predecessor spans the full 64 bits (leading
// and trailing zero runs both zero, meaningful_bits = 64) is the bug case a
// naive 6-bit meaningful-bits field cannot represent directly.
func TestEncodeDecodeFullWidthXOR(t *testing.T) {
	in := []Point{
		{Timestamp: 1, Value: math.Float64frombits(0)},
		{Timestamp: 2, Value: math.Float64frombits(^uint64(0))},
	}
	out, err := Decode(Encode(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncodeDecodeRepeatedValue(t *testing.T) {
	in := []Point{
		{Timestamp: 10, Value: 42.0},
		{Timestamp: 20, Value: 42.0},
		{Timestamp: 30, Value: 42.0},
	}
	out, err := Decode(Encode(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncodeDecodeNegativeValues(t *testing.T) {
	in := []Point{
		{Timestamp: 10, Value: -1.5},
		{Timestamp: 20, Value: -1.25},
		{Timestamp: 30, Value: 0},
		{Timestamp: 40, Value: 3.0},
	}
	out, err := Decode(Encode(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
