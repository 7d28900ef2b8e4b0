// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package tsdb

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhr-fau/gorilla-tsdb/internal/metrics"
)

func TestEngineQueryIncrementsPruneCounter(t *testing.T) {
	e := openTestEngine(t, 1000)
	col := metrics.NewCollector(prometheus.NewRegistry())
	e.SetMetrics(col)

	require.NoError(t, e.Insert("s", Sample{Timestamp: 100, Value: 1}))
	require.NoError(t, e.Flush())

	start, end := uint64(100000), uint64(200000)
	assert.Empty(t, e.Query("s", &start, &end))

	assert.Equal(t, float64(1), counterValue(t, col.SegmentsPrunedTotal))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
