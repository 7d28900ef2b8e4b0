// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config resolves the daemon's settings from the process
// environment (optionally pre-loaded from a .env file by the caller).
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds every setting the engine and its HTTP adapter need at boot.
// There is no config file; every field is sourced from an environment
// variable, matching the embedded nature of the storage engine.
type Config struct {
	// DataDir is where segment files live. Created at engine open if
	// absent.
	DataDir string

	// MemtableThreshold is the sample count at which the memtable is
	// flushed to a new segment.
	MemtableThreshold int

	// Port is the HTTP listen port.
	Port uint16

	// LogLevel is one of "debug", "info", "warn", "err"/"fatal", "crit".
	LogLevel string
}

const (
	envDataDir           = "DATA_DIR"
	envMemtableThreshold = "MEMTABLE_THRESHOLD"
	envPort              = "PORT"
	envLogLevel          = "LOG_LEVEL"
)

const (
	defaultDataDir           = "./var/data"
	defaultMemtableThreshold = 1000
	defaultPort              = 8080
	defaultLogLevel          = "info"
)

// FromEnv builds a Config from the process environment, falling back to
// documented defaults for anything unset. A present-but-unparsable numeric
// variable is an error, since silently falling back there would mask a
// typo in deployment configuration.
func FromEnv() (Config, error) {
	cfg := Config{
		DataDir:           defaultDataDir,
		MemtableThreshold: defaultMemtableThreshold,
		Port:              defaultPort,
		LogLevel:          defaultLogLevel,
	}

	if v := os.Getenv(envDataDir); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv(envMemtableThreshold); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("config: %s must be a positive integer, got %q", envMemtableThreshold, v)
		}
		cfg.MemtableThreshold = n
	}

	if v := os.Getenv(envPort); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s must be a valid port number, got %q", envPort, v)
		}
		cfg.Port = uint16(n)
	}

	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}
