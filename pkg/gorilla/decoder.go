// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package gorilla

import (
	"fmt"
	"math"

	"github.com/nhr-fau/gorilla-tsdb/pkg/bitstream"
)

// Decode is the inverse of Encode: decode(encode(s)) == s for any sequence
// whose consecutive delta-of-delta values fit the 12-bit window. An empty
// buffer decodes to an empty, non-nil slice.
func Decode(buf []byte) ([]Point, error) {
	if len(buf) == 0 {
		return []Point{}, nil
	}

	r := bitstream.NewReader(buf)

	ts0, err := r.ReadBits(64)
	if err != nil {
		return nil, fmt.Errorf("gorilla: decode first timestamp: %w", err)
	}
	v0, err := r.ReadBits(64)
	if err != nil {
		return nil, fmt.Errorf("gorilla: decode first value: %w", err)
	}

	points := []Point{{Timestamp: ts0, Value: math.Float64frombits(v0)}}

	prevTS := ts0
	prevValue := math.Float64frombits(v0)
	var prevDelta int64
	haveDelta := false

	for {
		peek, err := r.ReadBits(8)
		if err != nil {
			return nil, fmt.Errorf("gorilla: decode end-marker lookahead: %w", err)
		}
		// Only zero padding (fewer than 8 bits) follows the real marker.
		if peek == endOfStreamMarker && r.BitsRemaining() < 8 {
			break
		}
		r.Rewind(8)

		var delta int64
		if !haveDelta {
			tag, err := r.ReadBits(2)
			if err != nil {
				return nil, fmt.Errorf("gorilla: decode first-delta tag: %w", err)
			}
			if tag != 0b10 {
				return nil, fmt.Errorf("gorilla: unexpected first-delta tag %02b", tag)
			}
			raw, err := r.ReadBits(firstDeltaBits)
			if err != nil {
				return nil, fmt.Errorf("gorilla: decode first delta: %w", err)
			}
			delta = signExtend(raw, firstDeltaBits)
			haveDelta = true
		} else {
			tag0, err := r.ReadBits(1)
			if err != nil {
				return nil, fmt.Errorf("gorilla: decode dod tag bit: %w", err)
			}
			var dod int64
			if tag0 == 0 {
				dod = 0
			} else {
				tag1, err := r.ReadBits(1)
				if err != nil {
					return nil, fmt.Errorf("gorilla: decode dod tag bit 2: %w", err)
				}
				if tag1 == 0 {
					raw, err := r.ReadBits(smallDodBits)
					if err != nil {
						return nil, fmt.Errorf("gorilla: decode small dod: %w", err)
					}
					dod = int64(raw) - smallDodOffset
				} else {
					raw, err := r.ReadBits(largeDodBits)
					if err != nil {
						return nil, fmt.Errorf("gorilla: decode large dod: %w", err)
					}
					dod = signExtend(raw, largeDodBits)
				}
			}
			delta = prevDelta + dod
		}

		ts := uint64(int64(prevTS) + delta)

		value, err := decodeValue(r, prevValue)
		if err != nil {
			return nil, err
		}

		points = append(points, Point{Timestamp: ts, Value: value})

		prevDelta = delta
		prevTS = ts
		prevValue = value
	}

	return points, nil
}

// decodeValue reads one XOR block and reconstructs the value from prev.
func decodeValue(r *bitstream.Reader, prev float64) (float64, error) {
	tag, err := r.ReadBits(1)
	if err != nil {
		return 0, fmt.Errorf("gorilla: decode value tag: %w", err)
	}
	if tag == 0 {
		return prev, nil
	}

	leading, err := r.ReadBits(leadingZeroBits)
	if err != nil {
		return 0, fmt.Errorf("gorilla: decode leading zeros: %w", err)
	}
	mbitsStored, err := r.ReadBits(meaningfulBits)
	if err != nil {
		return 0, fmt.Errorf("gorilla: decode meaningful bits: %w", err)
	}
	mbits := int(mbitsStored) + 1

	trailing := 64 - int(leading) - mbits

	raw, err := r.ReadBits(mbits)
	if err != nil {
		return 0, fmt.Errorf("gorilla: decode xor payload: %w", err)
	}

	x := raw << uint(trailing)
	return math.Float64frombits(math.Float64bits(prev) ^ x), nil
}

// signExtend interprets the low nbits of raw as a two's-complement integer
// of that width and sign-extends it to int64.
func signExtend(raw uint64, nbits int) int64 {
	signBit := uint64(1) << uint(nbits-1)
	if raw&signBit != 0 {
		return int64(raw) - int64(signBit<<1)
	}
	return int64(raw)
}
