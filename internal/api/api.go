// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api is the HTTP adapter: it translates the JSON request surface
// described in the external interface table into calls against the tsdb
// engine, validating every request body against an embedded JSON Schema
// before it reaches the engine.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/nhr-fau/gorilla-tsdb/internal/metrics"
	"github.com/nhr-fau/gorilla-tsdb/internal/schema"
	"github.com/nhr-fau/gorilla-tsdb/internal/tsdb"
	"github.com/nhr-fau/gorilla-tsdb/pkg/log"
)

// API wires the engine, its metrics collector, and a rate limiter guarding
// manual compaction triggers into a set of mux routes.
type API struct {
	Engine       *tsdb.Engine
	Metrics      *metrics.Collector
	Gatherer     prometheus.Gatherer
	CompactLimit *rate.Limiter
}

// MountRoutes registers every endpoint from the external interface table
// onto r.
func (a *API) MountRoutes(r *mux.Router) {
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/datapoints", a.handleInsert).Methods(http.MethodPost)
	v1.HandleFunc("/datapoints/batch", a.handleBatchInsert).Methods(http.MethodPost)
	v1.HandleFunc("/series/{key}/datapoints", a.handleRangeQuery).Methods(http.MethodGet)
	v1.HandleFunc("/series/{key}/datapoints/{ts}", a.handleUpdate).Methods(http.MethodPut)
	v1.HandleFunc("/series/{key}/datapoints/{ts}", a.handleDeletePoint).Methods(http.MethodDelete)
	v1.HandleFunc("/series", a.handleListSeries).Methods(http.MethodGet)
	v1.HandleFunc("/series/{key}", a.handleSeriesSummary).Methods(http.MethodGet)
	v1.HandleFunc("/series/{key}", a.handleDeleteSeries).Methods(http.MethodDelete)
	v1.HandleFunc("/admin/compact", a.handleCompact).Methods(http.MethodPost)

	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(a.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// decodeValidated reads r's body once, validates it against kind, and (only
// on success) JSON-decodes the same bytes into v.
func decodeValidated(r *http.Request, kind schema.Kind, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}

	if err := schema.Validate(kind, bytes.NewReader(body)); err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeResponse(rw http.ResponseWriter, status int, resp Response) {
	resp.Timestamp = time.Now().Unix()
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(resp); err != nil {
		log.Errorf("api: encode response: %v", err)
	}
}

func writeSuccess(rw http.ResponseWriter, status int, message string, data interface{}) {
	writeResponse(rw, status, Response{Success: true, Message: message, Data: data})
}

func writeError(rw http.ResponseWriter, status int, err error) {
	writeResponse(rw, status, Response{Success: false, Message: err.Error()})
}

func (a *API) handleInsert(rw http.ResponseWriter, r *http.Request) {
	var req DatapointInsertRequest
	if err := decodeValidated(r, schema.DatapointInsert, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}

	if err := a.Engine.Insert(req.SeriesKey, tsdb.Sample{
		Timestamp: req.Timestamp,
		Value:     req.Value,
		Tags:      req.Tags,
	}); err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}

	writeSuccess(rw, http.StatusCreated, "datapoint inserted", nil)
}

func (a *API) handleBatchInsert(rw http.ResponseWriter, r *http.Request) {
	var reqs []DatapointInsertRequest
	if err := decodeValidated(r, schema.DatapointBatchInsert, &reqs); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}

	result := BatchInsertResponse{}
	for i, req := range reqs {
		if err := a.Engine.Insert(req.SeriesKey, tsdb.Sample{
			Timestamp: req.Timestamp,
			Value:     req.Value,
			Tags:      req.Tags,
		}); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BatchInsertItemErr{Index: i, Error: err.Error()})
			continue
		}
		result.Inserted++
	}

	writeSuccess(rw, http.StatusOK, "batch processed", result)
}

func (a *API) handleRangeQuery(rw http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	start, err := parseOptionalUint64(r.URL.Query().Get("start_time"))
	if err != nil {
		writeError(rw, http.StatusBadRequest, fmt.Errorf("invalid start_time: %w", err))
		return
	}
	end, err := parseOptionalUint64(r.URL.Query().Get("end_time"))
	if err != nil {
		writeError(rw, http.StatusBadRequest, fmt.Errorf("invalid end_time: %w", err))
		return
	}

	samples := a.Engine.Query(key, start, end)
	out := make([]DatapointResponse, len(samples))
	for i, s := range samples {
		out[i] = DatapointResponse{Timestamp: s.Timestamp, Value: s.Value, Tags: s.Tags}
	}

	writeSuccess(rw, http.StatusOK, "", out)
}

func (a *API) handleUpdate(rw http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := vars["key"]

	ts, err := strconv.ParseUint(vars["ts"], 10, 64)
	if err != nil {
		writeError(rw, http.StatusBadRequest, fmt.Errorf("invalid timestamp: %w", err))
		return
	}

	var req DatapointUpdateRequest
	if err := decodeValidated(r, schema.DatapointUpdate, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}

	ok, err := a.Engine.Update(key, ts, req.Value)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(rw, http.StatusNotFound, fmt.Errorf("no datapoint at series %q timestamp %d", key, ts))
		return
	}

	writeSuccess(rw, http.StatusOK, "datapoint updated", nil)
}

func (a *API) handleDeletePoint(rw http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := vars["key"]

	ts, err := strconv.ParseUint(vars["ts"], 10, 64)
	if err != nil {
		writeError(rw, http.StatusBadRequest, fmt.Errorf("invalid timestamp: %w", err))
		return
	}

	ok, err := a.Engine.Delete(key, &ts)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(rw, http.StatusNotFound, fmt.Errorf("no datapoint at series %q timestamp %d", key, ts))
		return
	}

	writeSuccess(rw, http.StatusOK, "datapoint deleted", nil)
}

func (a *API) handleListSeries(rw http.ResponseWriter, r *http.Request) {
	writeSuccess(rw, http.StatusOK, "", SeriesListResponse{Series: a.Engine.AllSeries()})
}

func (a *API) handleSeriesSummary(rw http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	count, minTS, maxTS, ok := a.Engine.SeriesSummary(key)
	if !ok {
		writeError(rw, http.StatusNotFound, fmt.Errorf("series %q not found", key))
		return
	}

	writeSuccess(rw, http.StatusOK, "", SeriesSummaryResponse{
		Key:          key,
		Count:        count,
		MinTimestamp: minTS,
		MaxTimestamp: maxTS,
	})
}

func (a *API) handleDeleteSeries(rw http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	ok, err := a.Engine.Delete(key, nil)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(rw, http.StatusNotFound, fmt.Errorf("series %q not found", key))
		return
	}

	writeSuccess(rw, http.StatusOK, "series deleted", nil)
}

// handleCompact triggers compaction. A non-forced request is subject to the
// endpoint's token-bucket limiter, so repeated manual triggers cannot starve
// the background scheduler's own compaction tick; force=true bypasses the
// limiter for an operator who explicitly wants it to run now.
func (a *API) handleCompact(rw http.ResponseWriter, r *http.Request) {
	var req AdminCompactRequest
	if err := decodeValidated(r, schema.AdminCompact, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}

	if !req.Force && a.CompactLimit != nil && !a.CompactLimit.Allow() {
		writeError(rw, http.StatusTooManyRequests, fmt.Errorf("compaction rate limit exceeded, retry later or pass force=true"))
		return
	}

	if err := a.Engine.Compact(); err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}

	writeSuccess(rw, http.StatusOK, "compaction triggered", nil)
}

func (a *API) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeSuccess(rw, http.StatusOK, "ok", nil)
}

func (a *API) handleStats(rw http.ResponseWriter, r *http.Request) {
	writeSuccess(rw, http.StatusOK, "", a.Engine.Stats())
}

func parseOptionalUint64(v string) (*uint64, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
