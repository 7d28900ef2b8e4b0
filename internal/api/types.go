// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

// Response is the envelope every endpoint responds with: {success, message,
// data?, timestamp}.
type Response struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// DatapointInsertRequest is the body of a single-point insert, and the
// element type of a batch insert.
type DatapointInsertRequest struct {
	SeriesKey string            `json:"series_key"`
	Timestamp uint64            `json:"timestamp"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// DatapointUpdateRequest is the body of a point update; the series key and
// timestamp come from the URL.
type DatapointUpdateRequest struct {
	Value float64 `json:"value"`
}

// AdminCompactRequest is the body of a manual compaction trigger. Force
// bypasses the endpoint's rate limiter.
type AdminCompactRequest struct {
	Force bool `json:"force,omitempty"`
}

// DatapointResponse is one point in a range-query result.
type DatapointResponse struct {
	Timestamp uint64            `json:"timestamp"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// BatchInsertResponse reports per-item success/failure counts for a batch
// insert: an engine error on one element does not stop its siblings. A
// malformed element fails schema validation, which rejects the whole batch
// before any element is inserted.
type BatchInsertResponse struct {
	Inserted int                  `json:"inserted"`
	Failed   int                  `json:"failed"`
	Errors   []BatchInsertItemErr `json:"errors,omitempty"`
}

// BatchInsertItemErr names the index (within the request array) of an item
// that failed to insert and why.
type BatchInsertItemErr struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// SeriesSummaryResponse is the per-series summary returned by
// GET /api/v1/series/{key}.
type SeriesSummaryResponse struct {
	Key          string `json:"series_key"`
	Count        int    `json:"count"`
	MinTimestamp uint64 `json:"min_timestamp"`
	MaxTimestamp uint64 `json:"max_timestamp"`
}

// SeriesListResponse is the data payload of GET /api/v1/series.
type SeriesListResponse struct {
	Series []string `json:"series"`
}
