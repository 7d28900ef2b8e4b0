// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{envDataDir, envMemtableThreshold, envPort, envLogLevel} {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, defaultDataDir, cfg.DataDir)
	assert.Equal(t, defaultMemtableThreshold, cfg.MemtableThreshold)
	assert.Equal(t, uint16(defaultPort), cfg.Port)
	assert.Equal(t, defaultLogLevel, cfg.LogLevel)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(envDataDir, "/tmp/tsdb-data")
	t.Setenv(envMemtableThreshold, "500")
	t.Setenv(envPort, "9090")
	t.Setenv(envLogLevel, "debug")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/tsdb-data", cfg.DataDir)
	assert.Equal(t, 500, cfg.MemtableThreshold)
	assert.Equal(t, uint16(9090), cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestFromEnvRejectsUnparsableThreshold(t *testing.T) {
	clearEnv(t)
	t.Setenv(envMemtableThreshold, "not-a-number")

	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFromEnvRejectsNonPositiveThreshold(t *testing.T) {
	clearEnv(t)
	t.Setenv(envMemtableThreshold, "0")

	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFromEnvRejectsInvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv(envPort, "not-a-port")

	_, err := FromEnv()
	assert.Error(t, err)
}
