// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nhr-fau/gorilla-tsdb/internal/metrics"
	"github.com/nhr-fau/gorilla-tsdb/internal/tsdb"
)

func newTestAPI(t *testing.T) (*API, *mux.Router) {
	t.Helper()

	eng, err := tsdb.Open(t.TempDir(), 1000)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg)
	eng.SetMetrics(m)

	a := &API{
		Engine:       eng,
		Metrics:      m,
		Gatherer:     reg,
		CompactLimit: rate.NewLimiter(rate.Inf, 10),
	}

	r := mux.NewRouter()
	a.MountRoutes(r)
	return a, r
}

func doRequest(r *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	return rw
}

func decodeResponse(t *testing.T, rw *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rw.Body).Decode(&resp))
	return resp
}

func TestInsertThenRangeQuery(t *testing.T) {
	_, r := newTestAPI(t)

	rw := doRequest(r, http.MethodPost, "/api/v1/datapoints", DatapointInsertRequest{
		SeriesKey: "cpu.load", Timestamp: 100, Value: 1.5, Tags: map[string]string{"host": "a"},
	})
	require.Equal(t, http.StatusCreated, rw.Code)
	assert.True(t, decodeResponse(t, rw).Success)

	rw = doRequest(r, http.MethodGet, "/api/v1/series/cpu.load/datapoints", nil)
	require.Equal(t, http.StatusOK, rw.Code)
	resp := decodeResponse(t, rw)
	require.True(t, resp.Success)

	var points []DatapointResponse
	b, _ := json.Marshal(resp.Data)
	require.NoError(t, json.Unmarshal(b, &points))
	require.Len(t, points, 1)
	assert.Equal(t, uint64(100), points[0].Timestamp)
	assert.Equal(t, 1.5, points[0].Value)
}

func TestInsertRejectsSchemaViolation(t *testing.T) {
	_, r := newTestAPI(t)

	rw := doRequest(r, http.MethodPost, "/api/v1/datapoints", map[string]interface{}{
		"series_key": "cpu.load",
		// missing timestamp and value
	})
	require.Equal(t, http.StatusBadRequest, rw.Code)
	assert.False(t, decodeResponse(t, rw).Success)
}

func TestBatchInsertReportsCounts(t *testing.T) {
	_, r := newTestAPI(t)

	rw := doRequest(r, http.MethodPost, "/api/v1/datapoints/batch", []DatapointInsertRequest{
		{SeriesKey: "a", Timestamp: 1, Value: 1},
		{SeriesKey: "b", Timestamp: 2, Value: 2},
	})
	require.Equal(t, http.StatusOK, rw.Code)
	resp := decodeResponse(t, rw)
	require.True(t, resp.Success)

	var result BatchInsertResponse
	b, _ := json.Marshal(resp.Data)
	require.NoError(t, json.Unmarshal(b, &result))
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 0, result.Failed)
}

func TestUpdateThenDeletePoint(t *testing.T) {
	_, r := newTestAPI(t)

	doRequest(r, http.MethodPost, "/api/v1/datapoints", DatapointInsertRequest{
		SeriesKey: "cpu.load", Timestamp: 100, Value: 1.5,
	})

	rw := doRequest(r, http.MethodPut, "/api/v1/series/cpu.load/datapoints/100", DatapointUpdateRequest{Value: 9.9})
	require.Equal(t, http.StatusOK, rw.Code)

	rw = doRequest(r, http.MethodDelete, "/api/v1/series/cpu.load/datapoints/100", nil)
	require.Equal(t, http.StatusOK, rw.Code)

	rw = doRequest(r, http.MethodDelete, "/api/v1/series/cpu.load/datapoints/100", nil)
	require.Equal(t, http.StatusNotFound, rw.Code)
}

func TestSeriesSummaryAndListAndDelete(t *testing.T) {
	_, r := newTestAPI(t)

	doRequest(r, http.MethodPost, "/api/v1/datapoints", DatapointInsertRequest{
		SeriesKey: "cpu.load", Timestamp: 100, Value: 1.5,
	})

	rw := doRequest(r, http.MethodGet, "/api/v1/series", nil)
	require.Equal(t, http.StatusOK, rw.Code)

	rw = doRequest(r, http.MethodGet, "/api/v1/series/cpu.load", nil)
	require.Equal(t, http.StatusOK, rw.Code)
	resp := decodeResponse(t, rw)
	var summary SeriesSummaryResponse
	b, _ := json.Marshal(resp.Data)
	require.NoError(t, json.Unmarshal(b, &summary))
	assert.Equal(t, 1, summary.Count)

	rw = doRequest(r, http.MethodDelete, "/api/v1/series/cpu.load", nil)
	require.Equal(t, http.StatusOK, rw.Code)

	rw = doRequest(r, http.MethodGet, "/api/v1/series/cpu.load", nil)
	require.Equal(t, http.StatusNotFound, rw.Code)
}

func TestCompactAndHealthAndStats(t *testing.T) {
	_, r := newTestAPI(t)

	rw := doRequest(r, http.MethodPost, "/api/v1/admin/compact", AdminCompactRequest{Force: true})
	require.Equal(t, http.StatusOK, rw.Code)

	rw = doRequest(r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rw.Code)

	rw = doRequest(r, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rw.Code)

	rw = doRequest(r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rw.Code)
}

func TestCompactRateLimited(t *testing.T) {
	eng, err := tsdb.Open(t.TempDir(), 1000)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	a := &API{
		Engine:       eng,
		Gatherer:     reg,
		CompactLimit: rate.NewLimiter(0, 1),
	}
	r := mux.NewRouter()
	a.MountRoutes(r)

	rw := doRequest(r, http.MethodPost, "/api/v1/admin/compact", AdminCompactRequest{})
	require.Equal(t, http.StatusOK, rw.Code)

	rw = doRequest(r, http.MethodPost, "/api/v1/admin/compact", AdminCompactRequest{})
	assert.Equal(t, http.StatusTooManyRequests, rw.Code)
}
