// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package tsdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nhr-fau/gorilla-tsdb/internal/metrics"
	"github.com/nhr-fau/gorilla-tsdb/pkg/gorilla"
	"github.com/nhr-fau/gorilla-tsdb/pkg/log"
)

// Stats is a point-in-time snapshot of engine size, returned by the /stats
// HTTP endpoint.
type Stats struct {
	MemtableSize int
	SegmentCount int
	TotalSeries  int
}

// Engine orchestrates the memtable and segment list: insert, flush,
// compaction, and merged reads. It holds two independent locks — the
// memtable's own reader/writer lock, and an exclusive lock over the
// segment list — and never takes both at once. Query, AllSeries and Flush
// copy what they need out under a lock and do their segment I/O without
// it; Update, Delete and Compact hold the segment-list lock while they read,
// rewrite or remove segment files.
type Engine struct {
	memtable *Memtable

	segMu    sync.Mutex
	segments []*Segment

	dataDir  string
	capacity int

	flushSeq atomic.Uint64

	metrics *metrics.Collector
}

// SetMetrics attaches a metrics collector to the engine, wiring its
// segment-pruning hook into every segment already held (boot-recovered or
// otherwise) as well as every one created from now on. Passing nil detaches
// any collector, including the held segments' prune hooks; calling it more
// than once replaces the prior collector.
func (e *Engine) SetMetrics(m *metrics.Collector) {
	e.metrics = m

	e.segMu.Lock()
	defer e.segMu.Unlock()
	for _, seg := range e.segments {
		seg.SetPruneHook(e.pruneHook())
	}
}

// pruneHook returns a callback suitable for Segment.SetPruneHook, or nil if
// no metrics collector is attached.
func (e *Engine) pruneHook() func() {
	if e.metrics == nil {
		return nil
	}
	return e.metrics.SegmentsPrunedTotal.Inc
}

// Open creates dataDir if absent, installs every "*.data" file found there
// as a segment in directory-iteration order (no log replay; none exists),
// and returns a ready Engine. A malformed segment found at boot is kept in
// the list and simply returns empty results later — a single bad header
// must not prevent the rest of the database from starting.
func Open(dataDir string, memtableCapacity int) (*Engine, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("tsdb: create data directory %s: %w", dataDir, err)
	}

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("tsdb: read data directory %s: %w", dataDir, err)
	}

	var segments []*Segment
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".data" {
			continue
		}
		segments = append(segments, NewSegment(filepath.Join(dataDir, e.Name())))
	}

	return &Engine{
		memtable: NewMemtable(memtableCapacity),
		segments: segments,
		dataDir:  dataDir,
		capacity: memtableCapacity,
	}, nil
}

// Insert appends sample to key's memtable bucket, then flushes (outside
// the memtable's lock) if that pushed the memtable over capacity.
func (e *Engine) Insert(key string, sample Sample) error {
	if e.metrics != nil {
		e.metrics.InsertsTotal.Inc()
	}
	if e.memtable.InsertAndCheckFull(key, sample) {
		return e.Flush()
	}
	return nil
}

// Flush drains the memtable and, if it held anything, writes its contents
// to a new segment file named sstable_<unix_secs>_<seq>.data (see
// newSegmentPath).
func (e *Engine) Flush() error {
	data := e.memtable.Drain()
	if len(data) == 0 {
		return nil
	}

	blocks := make([]seriesBlock, 0, len(data))
	for key, samples := range data {
		if len(samples) == 0 {
			continue
		}
		blocks = append(blocks, buildBlock(key, samples))
	}
	if len(blocks) == 0 {
		return nil
	}

	path := e.newSegmentPath("sstable")
	seg := NewSegment(path)
	seg.SetPruneHook(e.pruneHook())
	if err := seg.Write(blocks); err != nil {
		return fmt.Errorf("tsdb: flush to %s: %w", path, err)
	}

	e.segMu.Lock()
	e.segments = append(e.segments, seg)
	e.segMu.Unlock()

	if e.metrics != nil {
		e.metrics.FlushesTotal.Inc()
	}
	log.Infof("tsdb: flushed memtable to %s (%d series)", path, len(blocks))
	return nil
}

// buildBlock runs the Gorilla encoder over samples and summarizes the
// result into a series block. The tags of the first sample are captured as
// the block's shared tags.
func buildBlock(key string, samples []Sample) seriesBlock {
	points := make([]gorilla.Point, len(samples))
	var minTS, maxTS uint64 = ^uint64(0), 0
	for i, s := range samples {
		points[i] = gorilla.Point{Timestamp: s.Timestamp, Value: s.Value}
		if s.Timestamp < minTS {
			minTS = s.Timestamp
		}
		if s.Timestamp > maxTS {
			maxTS = s.Timestamp
		}
	}

	return seriesBlock{
		Key:          key,
		Payload:      gorilla.Encode(points),
		Tags:         samples[0].Tags.Clone(),
		MinTimestamp: minTS,
		MaxTimestamp: maxTS,
		Count:        uint64(len(samples)),
	}
}

// newSegmentPath names a new segment file <prefix>_<unix_secs>_<seq>.data,
// where seq is a monotonic in-process counter written in base 36. The
// counter is always appended, so files created in the same second do not
// collide.
func (e *Engine) newSegmentPath(prefix string) string {
	secs := time.Now().Unix()
	seq := e.flushSeq.Add(1)
	name := fmt.Sprintf("%s_%d_%s.data", prefix, secs, strconv.FormatUint(seq, 36))
	return filepath.Join(e.dataDir, name)
}

// Query merges memtable and segment results for key within [start, end].
// Memtable samples are concatenated after segment samples so that, after a
// stable sort by timestamp and same-timestamp dedup keeping the last
// occurrence, the freshest (memtable) copy wins on a collision — see the
// package-level cross-store dedup note in DESIGN.md.
func (e *Engine) Query(key string, start, end *uint64) []Sample {
	if e.metrics != nil {
		e.metrics.QueriesTotal.Inc()
	}

	var all []Sample

	e.segMu.Lock()
	segs := make([]*Segment, len(e.segments))
	copy(segs, e.segments)
	e.segMu.Unlock()

	for _, seg := range segs {
		all = append(all, seg.Query(key, start, end)...)
	}

	all = append(all, e.memtable.Query(key, start, end)...)

	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })
	return dedupByTimestamp(all)
}

// dedupByTimestamp collapses runs of equal timestamps, keeping the last
// occurrence after a stable sort. Combined with appending memtable samples
// after segment samples in Query, this makes the most recently written
// copy win a timestamp collision (freshness-wins; see DESIGN.md for why
// this departs from a naive keep-first reading of the merge).
func dedupByTimestamp(samples []Sample) []Sample {
	if len(samples) == 0 {
		return samples
	}
	out := make([]Sample, 0, len(samples))
	for i, s := range samples {
		if i > 0 && s.Timestamp == samples[i-1].Timestamp {
			out[len(out)-1] = s
			continue
		}
		out = append(out, s)
	}
	return out
}

// AllSeries returns the union of memtable keys and every segment's key
// list.
func (e *Engine) AllSeries() []string {
	seen := make(map[string]struct{})
	for _, k := range e.memtable.AllSeries() {
		seen[k] = struct{}{}
	}

	e.segMu.Lock()
	segs := make([]*Segment, len(e.segments))
	copy(segs, e.segments)
	e.segMu.Unlock()

	for _, seg := range segs {
		for _, k := range seg.AllSeriesKeys() {
			seen[k] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Update tries the memtable first; on a miss it tries every segment in
// order and stops at the first hit. Cross-store duplicates are not
// reconciled: only the first store holding a matching sample is mutated.
func (e *Engine) Update(key string, ts uint64, newValue float64) (bool, error) {
	if e.memtable.Update(key, ts, newValue) {
		if e.metrics != nil {
			e.metrics.UpdatesTotal.Inc()
		}
		return true, nil
	}

	e.segMu.Lock()
	defer e.segMu.Unlock()

	for _, seg := range e.segments {
		ok, err := seg.Update(key, ts, newValue)
		if err != nil {
			return false, err
		}
		if ok {
			if e.metrics != nil {
				e.metrics.UpdatesTotal.Inc()
			}
			return true, nil
		}
	}
	return false, nil
}

// Delete removes samples matching key (a single timestamp if ts is
// non-nil, otherwise the whole series) from the memtable and from every
// segment, then drops any segment whose file was removed as a side effect.
// Returns whether anything was removed from any store.
func (e *Engine) Delete(key string, ts *uint64) (bool, error) {
	deletedMemtable := e.memtable.Delete(key, ts)

	e.segMu.Lock()
	defer e.segMu.Unlock()

	deletedAny := deletedMemtable
	remaining := e.segments[:0:0]
	for _, seg := range e.segments {
		ok, err := seg.Delete(key, ts)
		if err != nil {
			return false, err
		}
		if ok {
			deletedAny = true
		}
		if segmentStillExists(seg) {
			remaining = append(remaining, seg)
		}
	}
	e.segments = remaining

	if deletedAny && e.metrics != nil {
		e.metrics.DeletesTotal.Inc()
	}
	return deletedAny, nil
}

// segmentStillExists reports whether seg's backing file is still present;
// Segment.Delete removes the file once its last block is gone.
func segmentStillExists(seg *Segment) bool {
	_, err := os.Stat(seg.Path())
	return err == nil
}

// Compact merges every segment into one, deduplicating by timestamp per
// series, and installs the result as the sole segment. It is a no-op with
// fewer than two segments. The new segment is written and fsynced before
// any old segment file is unlinked, so a failure partway through leaves the
// prior segments intact rather than losing data.
func (e *Engine) Compact() error {
	e.segMu.Lock()
	defer e.segMu.Unlock()

	if len(e.segments) < 2 {
		return nil
	}

	merged := make(map[string][]gorilla.Point)
	tags := make(map[string]Tags)

	for _, seg := range e.segments {
		for _, key := range seg.AllSeriesKeys() {
			samples := seg.Query(key, nil, nil)
			if len(samples) == 0 {
				continue
			}
			if _, ok := tags[key]; !ok {
				tags[key] = samples[0].Tags
			}
			for _, s := range samples {
				merged[key] = append(merged[key], gorilla.Point{Timestamp: s.Timestamp, Value: s.Value})
			}
		}
	}

	blocks := make([]seriesBlock, 0, len(merged))
	for key, points := range merged {
		sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
		points = dedupPointsByTimestamp(points)
		if len(points) == 0 {
			continue
		}
		minTS, maxTS := timestampBounds(points)
		blocks = append(blocks, seriesBlock{
			Key:          key,
			Payload:      gorilla.Encode(points),
			Tags:         tags[key],
			MinTimestamp: minTS,
			MaxTimestamp: maxTS,
			Count:        uint64(len(points)),
		})
	}

	path := e.newSegmentPath("compacted")
	newSeg := NewSegment(path)
	newSeg.SetPruneHook(e.pruneHook())
	if err := newSeg.Write(blocks); err != nil {
		return fmt.Errorf("tsdb: write compacted segment %s: %w", path, err)
	}

	oldSegments := e.segments
	e.segments = []*Segment{newSeg}

	for _, seg := range oldSegments {
		if err := seg.removeFile(); err != nil {
			log.Warnf("tsdb: compaction could not remove old segment %s: %v", seg.Path(), err)
		}
	}

	if e.metrics != nil {
		e.metrics.CompactionsTotal.Inc()
	}
	log.Infof("tsdb: compacted %d segments into %s (%d series)", len(oldSegments), path, len(blocks))
	return nil
}

// dedupPointsByTimestamp applies the same keep-last-after-stable-sort rule
// as dedupByTimestamp, so that compaction's merge (oldest segment first,
// newest last) keeps the freshest write on a collision.
func dedupPointsByTimestamp(points []gorilla.Point) []gorilla.Point {
	if len(points) == 0 {
		return points
	}
	out := make([]gorilla.Point, 0, len(points))
	for i, p := range points {
		if i > 0 && p.Timestamp == points[i-1].Timestamp {
			out[len(out)-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}

// SeriesSummary reports the merged sample count and timestamp range for key
// across the memtable and every segment. ok is false if key has no samples
// in any store.
func (e *Engine) SeriesSummary(key string) (count int, minTS, maxTS uint64, ok bool) {
	samples := e.Query(key, nil, nil)
	if len(samples) == 0 {
		return 0, 0, 0, false
	}

	minTS, maxTS = samples[0].Timestamp, samples[0].Timestamp
	for _, s := range samples {
		if s.Timestamp < minTS {
			minTS = s.Timestamp
		}
		if s.Timestamp > maxTS {
			maxTS = s.Timestamp
		}
	}
	return len(samples), minTS, maxTS, true
}

// Stats returns a size snapshot of the engine.
func (e *Engine) Stats() Stats {
	e.segMu.Lock()
	segCount := len(e.segments)
	e.segMu.Unlock()

	return Stats{
		MemtableSize: len(e.memtable.AllSeries()),
		SegmentCount: segCount,
		TotalSeries:  len(e.AllSeries()),
	}
}
