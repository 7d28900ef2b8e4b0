// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package gorilla implements the Facebook Gorilla time-series compression
// scheme: delta-of-delta timestamp encoding and XOR-based value encoding,
// both built on pkg/bitstream. It knows nothing about series keys, tags,
// or segments; it operates on a flat slice of (timestamp, value) pairs.
package gorilla

import (
	"math"
	"math/bits"

	"github.com/nhr-fau/gorilla-tsdb/pkg/bitstream"
)

// Point is one (timestamp, value) pair as seen by the codec. The engine's
// richer sample type is reduced to this before encoding.
type Point struct {
	Timestamp uint64
	Value     float64
}

// endOfStreamMarker is appended after the last sample. A sample starting
// with a 0 bit or with the 10 tag cannot begin with this all-ones byte, but
// a large-tier delta-of-delta of -64 (11 then 111111000000) can. The decoder
// therefore reads this value at a sample boundary as end-of-stream only when
// fewer than 8 bits (the zero padding) follow it; a real sample is always
// followed by at least the 8-bit marker.
const endOfStreamMarker = 0xFF

const (
	firstDeltaBits  = 14
	firstDeltaMin   = -8191
	firstDeltaMax   = 8191
	smallDodBits    = 7
	smallDodMin     = -63
	smallDodMax     = 64
	smallDodOffset  = 63
	largeDodBits    = 12
	leadingZeroBits = 6
	meaningfulBits  = 6
)

// Encode compresses points into a byte buffer using delta-of-delta timestamp
// encoding and XOR value encoding. An empty input yields an empty buffer (no
// end marker is written for a stream with zero samples).
func Encode(points []Point) []byte {
	if len(points) == 0 {
		return nil
	}

	w := bitstream.NewWriter()

	w.WriteBits(points[0].Timestamp, 64)
	w.WriteBits(math.Float64bits(points[0].Value), 64)

	var prevTS uint64
	var prevDelta int64
	var prevValue float64

	prevTS = points[0].Timestamp
	prevValue = points[0].Value

	for i := 1; i < len(points); i++ {
		ts := points[i].Timestamp
		delta := int64(ts) - int64(prevTS)

		if i == 1 {
			w.WriteBits(0b10, 2)
			clamped := clampInt64(delta, firstDeltaMin, firstDeltaMax)
			w.WriteBits(uint64(clamped)&mask(firstDeltaBits), firstDeltaBits)
		} else {
			dod := delta - prevDelta
			switch {
			case dod == 0:
				w.WriteBits(0, 1)
			case dod >= smallDodMin && dod <= smallDodMax:
				w.WriteBits(0b10, 2)
				w.WriteBits(uint64(dod+smallDodOffset)&mask(smallDodBits), smallDodBits)
			default:
				w.WriteBits(0b11, 2)
				w.WriteBits(uint64(dod)&mask(largeDodBits), largeDodBits)
			}
		}

		encodeValue(w, points[i].Value, prevValue)

		prevDelta = delta
		prevTS = ts
		prevValue = points[i].Value
	}

	w.WriteBits(endOfStreamMarker, 8)

	return w.Bytes()
}

// encodeValue writes the XOR block for one value against its predecessor.
func encodeValue(w *bitstream.Writer, value, prev float64) {
	x := math.Float64bits(value) ^ math.Float64bits(prev)
	if x == 0 {
		w.WriteBits(0, 1)
		return
	}

	w.WriteBits(1, 1)
	leading := bits.LeadingZeros64(x)
	trailing := bits.TrailingZeros64(x)
	mbits := 64 - leading - trailing

	w.WriteBits(uint64(leading), leadingZeroBits)
	// meaningful_bits is in [1, 64]; storing mbits-1 lets a full 64-bit span
	// fit the 6-bit field (0..63) without losing information on decode.
	w.WriteBits(uint64(mbits-1), meaningfulBits)
	w.WriteBits((x>>uint(trailing))&mask(mbits), mbits)
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func mask(nbits int) uint64 {
	if nbits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(nbits)) - 1
}
