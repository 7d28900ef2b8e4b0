// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestCollectorCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.InsertsTotal.Inc()
	c.InsertsTotal.Inc()
	c.QueriesTotal.Inc()

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range metricFamilies {
		values[mf.GetName()] = sumCounterValues(mf)
	}

	require.Equal(t, float64(2), values["tsdb_inserts_total"])
	require.Equal(t, float64(1), values["tsdb_queries_total"])
}

func sumCounterValues(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	return total
}
