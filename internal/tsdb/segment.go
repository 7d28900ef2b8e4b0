// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package tsdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/zstd"

	"github.com/nhr-fau/gorilla-tsdb/pkg/gorilla"
	"github.com/nhr-fau/gorilla-tsdb/pkg/log"
)

// seriesBlock is one series' worth of content inside a segment file: its
// key, its Gorilla-compressed payload, the tags shared by every sample in
// the block, and the summary fields used to prune range scans without
// decompressing.
type seriesBlock struct {
	Key          string
	Payload      []byte
	Tags         Tags
	MinTimestamp uint64
	MaxTimestamp uint64
	Count        uint64
}

// Segment is one immutable on-disk file (an "SSTable") holding an ordered
// list of series blocks. Reads are served from a lazily-established memory
// mapping; any write path drops the mapping first. Not safe for concurrent
// use from multiple goroutines without an external lock (the engine
// serializes segment access via its own segment-list lock).
type Segment struct {
	path string

	mmapMu sync.Mutex
	mapped mmap.MMap

	onPrune func()
}

// NewSegment wraps an existing or not-yet-created file at path. It performs
// no I/O.
func NewSegment(path string) *Segment {
	return &Segment{path: path}
}

// SetPruneHook installs fn to be called once for every block Query skips
// via min/max timestamp pruning, backing the "monotonic pruning" counter.
// A nil receiver hook is a no-op.
func (s *Segment) SetPruneHook(fn func()) {
	s.onPrune = fn
}

// Path returns the segment's backing file path.
func (s *Segment) Path() string {
	return s.path
}

// checksumSize is the trailing xxhash64 integrity checksum appended to
// every serialized, zstd-compressed segment body.
const checksumSize = 8

// Write serializes blocks, compresses the result, appends an integrity
// checksum, and atomically replaces the segment file (truncate-write plus
// fsync). Any existing mapping is dropped first since the file content is
// about to change underneath it.
func (s *Segment) Write(blocks []seriesBlock) error {
	s.dropMapping()

	raw, err := encodeBlocks(blocks)
	if err != nil {
		return fmt.Errorf("tsdb: serialize segment %s: %w", s.path, err)
	}

	compressed, err := compressBody(raw)
	if err != nil {
		return fmt.Errorf("tsdb: compress segment %s: %w", s.path, err)
	}

	sum := xxhash.Sum64(compressed)
	out := make([]byte, 0, len(compressed)+checksumSize)
	out = append(out, compressed...)
	out = binary.LittleEndian.AppendUint64(out, sum)

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("tsdb: open segment %s for write: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.Write(out); err != nil {
		return fmt.Errorf("tsdb: write segment %s: %w", s.path, err)
	}
	return f.Sync()
}

// removeFile deletes the segment's backing file outright. A missing file
// is not an error.
func (s *Segment) removeFile() error {
	s.dropMapping()
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("tsdb: delete segment %s: %w", s.path, err)
	}
	return nil
}

// dropMapping releases any active memory mapping. Safe to call when none
// is held.
func (s *Segment) dropMapping() {
	s.mmapMu.Lock()
	defer s.mmapMu.Unlock()
	if s.mapped != nil {
		s.mapped.Unmap()
		s.mapped = nil
	}
}

// readBody returns the segment's raw (decompressed, checksum-verified)
// byte content, mapping the file lazily on first access. A missing or
// zero-length file yields a nil slice and a nil error. A corrupt file is
// reported as an error so the caller can log and degrade to an empty
// result rather than halting the whole engine.
func (s *Segment) readBody() ([]byte, error) {
	s.mmapMu.Lock()
	defer s.mmapMu.Unlock()

	if s.mapped == nil {
		info, err := os.Stat(s.path)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("tsdb: stat segment %s: %w", s.path, err)
		}
		if info.Size() == 0 {
			return nil, nil
		}

		f, err := os.Open(s.path)
		if err != nil {
			return nil, fmt.Errorf("tsdb: open segment %s for read: %w", s.path, err)
		}
		defer f.Close()

		m, err := mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			return nil, fmt.Errorf("tsdb: mmap segment %s: %w", s.path, err)
		}
		s.mapped = m
	}

	if len(s.mapped) < checksumSize {
		return nil, fmt.Errorf("tsdb: segment %s shorter than checksum trailer", s.path)
	}

	body := s.mapped[:len(s.mapped)-checksumSize]
	wantSum := binary.LittleEndian.Uint64(s.mapped[len(s.mapped)-checksumSize:])
	if xxhash.Sum64(body) != wantSum {
		return nil, fmt.Errorf("tsdb: segment %s failed checksum verification", s.path)
	}

	return decompressBody(body)
}

// readBlocks returns the segment's deserialized block list, or an empty
// list (with a logged warning) on any read or deserialize failure — a
// single corrupt segment must not poison whole-database reads.
func (s *Segment) readBlocks() []seriesBlock {
	body, err := s.readBody()
	if err != nil {
		log.Warnf("tsdb: segment %s unreadable, treating as empty: %v", s.path, err)
		return nil
	}
	if len(body) == 0 {
		return nil
	}

	blocks, err := decodeBlocks(body)
	if err != nil {
		log.Warnf("tsdb: segment %s malformed, treating as empty: %v", s.path, err)
		return nil
	}
	return blocks
}

// Query returns every live sample of key within [start, end] found in this
// segment, pruning by min/max timestamp before decompressing.
func (s *Segment) Query(key string, start, end *uint64) []Sample {
	var out []Sample
	for _, b := range s.readBlocks() {
		if b.Key != key {
			continue
		}
		if end != nil && b.MinTimestamp > *end {
			if s.onPrune != nil {
				s.onPrune()
			}
			continue
		}
		if start != nil && b.MaxTimestamp < *start {
			if s.onPrune != nil {
				s.onPrune()
			}
			continue
		}

		points, err := gorilla.Decode(b.Payload)
		if err != nil {
			log.Warnf("tsdb: segment %s series %s undecodable: %v", s.path, key, err)
			continue
		}
		for _, p := range points {
			if start != nil && p.Timestamp < *start {
				continue
			}
			if end != nil && p.Timestamp > *end {
				continue
			}
			out = append(out, Sample{Timestamp: p.Timestamp, Value: p.Value, Tags: b.Tags})
		}
	}
	return out
}

// Update finds the block for key, decompresses it, replaces the first
// sample at ts, recompresses, and rewrites the whole file. Returns false
// if no block or no timestamp matched, leaving the file untouched.
func (s *Segment) Update(key string, ts uint64, newValue float64) (bool, error) {
	blocks := s.readBlocks()

	updated := false
	for i := range blocks {
		if blocks[i].Key != key {
			continue
		}
		points, err := gorilla.Decode(blocks[i].Payload)
		if err != nil {
			return false, fmt.Errorf("tsdb: decode series %s for update: %w", key, err)
		}
		for j := range points {
			if points[j].Timestamp == ts {
				points[j].Value = newValue
				updated = true
				break
			}
		}
		if updated {
			blocks[i].Payload = gorilla.Encode(points)
			break
		}
	}

	if !updated {
		return false, nil
	}
	return true, s.Write(blocks)
}

// Delete removes samples matching key from this segment. If ts is nil the
// whole block is dropped; otherwise only the matching sample is removed
// and the block is dropped if it becomes empty. If every block is gone the
// file is deleted; otherwise it is rewritten. Returns whether anything
// changed.
func (s *Segment) Delete(key string, ts *uint64) (bool, error) {
	blocks := s.readBlocks()

	changed := false
	result := make([]seriesBlock, 0, len(blocks))

	for _, b := range blocks {
		if b.Key != key {
			result = append(result, b)
			continue
		}

		if ts == nil {
			changed = true
			continue
		}

		points, err := gorilla.Decode(b.Payload)
		if err != nil {
			return false, fmt.Errorf("tsdb: decode series %s for delete: %w", key, err)
		}

		kept := points[:0:0]
		removed := false
		for _, p := range points {
			if !removed && p.Timestamp == *ts {
				removed = true
				continue
			}
			kept = append(kept, p)
		}

		if !removed {
			result = append(result, b)
			continue
		}

		changed = true
		if len(kept) == 0 {
			continue
		}
		b.Payload = gorilla.Encode(kept)
		b.Count = uint64(len(kept))
		b.MinTimestamp, b.MaxTimestamp = timestampBounds(kept)
		result = append(result, b)
	}

	if !changed {
		return false, nil
	}

	if len(result) == 0 {
		return true, s.removeFile()
	}
	return true, s.Write(result)
}

// AllSeriesKeys returns every series key present in this segment.
func (s *Segment) AllSeriesKeys() []string {
	blocks := s.readBlocks()
	keys := make([]string, 0, len(blocks))
	for _, b := range blocks {
		keys = append(keys, b.Key)
	}
	return keys
}

func timestampBounds(points []gorilla.Point) (min, max uint64) {
	if len(points) == 0 {
		return 0, 0
	}
	min, max = points[0].Timestamp, points[0].Timestamp
	for _, p := range points[1:] {
		if p.Timestamp < min {
			min = p.Timestamp
		}
		if p.Timestamp > max {
			max = p.Timestamp
		}
	}
	return min, max
}

// --- wire format ---
//
// [uint32 block count]
// for each block:
//   [uint32 key length][key bytes]
//   [uint32 payload length][payload bytes]
//   [uint32 tag count] { [uint32 len][bytes key] [uint32 len][bytes value] }
//   [uint64 min_timestamp][uint64 max_timestamp][uint64 count]
//
// The whole buffer is then zstd-compressed and an xxhash64 checksum is
// appended by the caller. All integers are little-endian.

func encodeBlocks(blocks []seriesBlock) ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(blocks))); err != nil {
		return nil, err
	}

	for _, b := range blocks {
		if err := writeString(&buf, b.Key); err != nil {
			return nil, err
		}
		if err := writeBytes(&buf, b.Payload); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(b.Tags))); err != nil {
			return nil, err
		}
		for k, v := range b.Tags {
			if err := writeString(&buf, k); err != nil {
				return nil, err
			}
			if err := writeString(&buf, v); err != nil {
				return nil, err
			}
		}
		if err := binary.Write(&buf, binary.LittleEndian, b.MinTimestamp); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, b.MaxTimestamp); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, b.Count); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeBlocks(raw []byte) ([]seriesBlock, error) {
	r := bytes.NewReader(raw)

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read block count: %w", err)
	}

	blocks := make([]seriesBlock, 0, count)
	for i := uint32(0); i < count; i++ {
		var b seriesBlock

		key, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		b.Key = key

		payload, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		b.Payload = payload

		var tagCount uint32
		if err := binary.Read(r, binary.LittleEndian, &tagCount); err != nil {
			return nil, fmt.Errorf("read tag count: %w", err)
		}
		if tagCount > 0 {
			b.Tags = make(Tags, tagCount)
			for j := uint32(0); j < tagCount; j++ {
				k, err := readString(r)
				if err != nil {
					return nil, fmt.Errorf("read tag key: %w", err)
				}
				v, err := readString(r)
				if err != nil {
					return nil, fmt.Errorf("read tag value: %w", err)
				}
				b.Tags[k] = v
			}
		}

		if err := binary.Read(r, binary.LittleEndian, &b.MinTimestamp); err != nil {
			return nil, fmt.Errorf("read min_timestamp: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &b.MaxTimestamp); err != nil {
			return nil, fmt.Errorf("read max_timestamp: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &b.Count); err != nil {
			return nil, fmt.Errorf("read count: %w", err)
		}

		blocks = append(blocks, b)
	}

	return blocks, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	return writeBytes(buf, []byte(s))
}

func writeBytes(buf *bytes.Buffer, b []byte) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := buf.Write(b)
	return err
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// compressBody wraps the serialized block list in zstd, an outer
// compression layer on top of the per-series Gorilla payloads: the
// series-block framing (keys, tags, length prefixes) is not itself
// delta-of-delta/XOR friendly and benefits from a general-purpose pass.
func compressBody(raw []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

func decompressBody(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(compressed, nil)
}
