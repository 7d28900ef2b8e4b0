// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package bitstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0b1, 1)
	w.WriteBits(0b101, 3)
	w.WriteBits(0xFF, 8)
	w.WriteBits(0x3FFF, 14)
	w.WriteBits(^uint64(0), 64)

	r := NewReader(w.Bytes())

	v, err := r.ReadBits(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b1), v)

	v, err = r.ReadBits(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b101), v)

	v, err = r.ReadBits(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xFF), v)

	v, err = r.ReadBits(14)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x3FFF), v)

	v, err = r.ReadBits(64)
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), v)
}

func TestReadBitsShortRead(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0b1, 1)

	r := NewReader(w.Bytes())
	_, err := r.ReadBits(1)
	require.NoError(t, err)

	_, err = r.ReadBits(1)
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestWriteBitsOutOfRangeIsNoOp(t *testing.T) {
	w := NewWriter()
	w.WriteBits(123, 0)
	w.WriteBits(123, 65)
	assert.Equal(t, uint64(0), w.BitLen())
	assert.Empty(t, w.Bytes())
}

func TestRewind(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0b1010, 4)
	w.WriteBits(0xFF, 8)

	r := NewReader(w.Bytes())
	_, err := r.ReadBits(4)
	require.NoError(t, err)

	peek, err := r.ReadBits(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xFF), peek)

	r.Rewind(8)
	assert.Equal(t, uint64(8), r.BitsRemaining())

	again, err := r.ReadBits(8)
	require.NoError(t, err)
	assert.Equal(t, peek, again)
}

func TestRewindClampsAtZero(t *testing.T) {
	r := NewReader([]byte{0xFF})
	r.Rewind(100)
	assert.Equal(t, uint64(8), r.BitsRemaining())
}
