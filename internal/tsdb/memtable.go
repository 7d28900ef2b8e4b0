// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package tsdb

import "sync"

// Memtable is the in-memory write buffer: a mapping from series key to an
// insertion-ordered sequence of samples, plus a running total sample count
// checked against a fixed capacity. Reads (Query, AllSeries) take the
// read lock; writes (Insert, Update, Delete, Drain) take the write lock.
// No method here performs I/O, so the lock is never held across a
// suspension point.
type Memtable struct {
	mu       sync.RWMutex
	buckets  map[string][]Sample
	count    int
	capacity int
}

// NewMemtable returns an empty memtable that reports full once its total
// sample count reaches capacity.
func NewMemtable(capacity int) *Memtable {
	return &Memtable{
		buckets:  make(map[string][]Sample),
		capacity: capacity,
	}
}

// Insert appends s to key's bucket in insertion order.
func (m *Memtable) Insert(key string, s Sample) {
	m.InsertAndCheckFull(key, s)
}

// InsertAndCheckFull appends s to key's bucket and reports, under the same
// critical section as the append, whether the memtable has now reached
// capacity. Callers that need to decide whether to flush must use this
// rather than a separate Insert followed by IsFull, so the full-check
// reflects the exact state the insert produced.
func (m *Memtable) InsertAndCheckFull(key string, s Sample) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[key] = append(m.buckets[key], s)
	m.count++
	return m.count >= m.capacity
}

// Update replaces the first sample in key's bucket whose timestamp equals
// ts with newValue, reporting whether a match was found.
func (m *Memtable) Update(key string, ts uint64, newValue float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := m.buckets[key]
	for i := range bucket {
		if bucket[i].Timestamp == ts {
			bucket[i].Value = newValue
			return true
		}
	}
	return false
}

// Delete removes samples matching key. If ts is non-nil, every sample at
// that timestamp is removed (the bucket is dropped if it becomes empty).
// If ts is nil, the whole bucket is dropped. Reports whether anything was
// removed.
func (m *Memtable) Delete(key string, ts *uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.buckets[key]
	if !ok {
		return false
	}

	if ts == nil {
		delete(m.buckets, key)
		m.count -= len(bucket)
		return true
	}

	kept := bucket[:0]
	for _, s := range bucket {
		if s.Timestamp != *ts {
			kept = append(kept, s)
		}
	}
	removed := len(bucket) - len(kept)
	if removed == 0 {
		return false
	}
	m.count -= removed
	if len(kept) == 0 {
		delete(m.buckets, key)
	} else {
		m.buckets[key] = kept
	}
	return true
}

// IsFull reports whether the total sample count has reached capacity.
func (m *Memtable) IsFull() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count >= m.capacity
}

// Query returns key's samples in insertion order, filtered inclusively by
// [start, end]. A nil bound is open on that side.
func (m *Memtable) Query(key string, start, end *uint64) []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bucket := m.buckets[key]
	out := make([]Sample, 0, len(bucket))
	for _, s := range bucket {
		if start != nil && s.Timestamp < *start {
			continue
		}
		if end != nil && s.Timestamp > *end {
			continue
		}
		out = append(out, s)
	}
	return out
}

// AllSeries returns every series key currently present in the memtable.
func (m *Memtable) AllSeries() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.buckets))
	for k := range m.buckets {
		keys = append(keys, k)
	}
	return keys
}

// Drain returns the current contents and resets the memtable to empty.
func (m *Memtable) Drain() map[string][]Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	data := m.buckets
	m.buckets = make(map[string][]Sample)
	m.count = 0
	return data
}
