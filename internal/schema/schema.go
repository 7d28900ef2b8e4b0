// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package schema validates HTTP request bodies against embedded JSON
// Schema documents before the API layer unmarshals them into Go structs.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind identifies which embedded schema to validate a request body
// against.
type Kind int

const (
	DatapointInsert Kind = iota + 1
	DatapointBatchInsert
	DatapointUpdate
	AdminCompact
)

//go:embed schemas/*
var schemaFiles embed.FS

func loadEmbedded(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	// "embedFS://schemas/x.json" parses as host "schemas", path "/x.json".
	return schemaFiles.Open(u.Host + u.Path)
}

func init() {
	// Loaders are looked up by the parsed URL scheme, which url.Parse
	// lowercases.
	jsonschema.Loaders["embedfs"] = loadEmbedded
}

var (
	compileOnce sync.Once
	compiled    map[Kind]*jsonschema.Schema
	compileErr  error
)

func schemaURL(k Kind) (string, error) {
	switch k {
	case DatapointInsert:
		return "embedFS://schemas/datapoint-insert.schema.json", nil
	case DatapointBatchInsert:
		return "embedFS://schemas/datapoint-batch-insert.schema.json", nil
	case DatapointUpdate:
		return "embedFS://schemas/datapoint-update.schema.json", nil
	case AdminCompact:
		return "embedFS://schemas/admin-compact.schema.json", nil
	default:
		return "", fmt.Errorf("schema: unknown kind %d", k)
	}
}

func compileAll() (map[Kind]*jsonschema.Schema, error) {
	kinds := []Kind{DatapointInsert, DatapointBatchInsert, DatapointUpdate, AdminCompact}
	out := make(map[Kind]*jsonschema.Schema, len(kinds))
	for _, k := range kinds {
		u, err := schemaURL(k)
		if err != nil {
			return nil, err
		}
		s, err := jsonschema.Compile(u)
		if err != nil {
			return nil, fmt.Errorf("schema: compile %s: %w", u, err)
		}
		out[k] = s
	}
	return out, nil
}

// Validate decodes r as JSON and checks it against the schema identified by
// k. The decoded value, not the raw bytes, is what gets validated, matching
// jsonschema's expected input shape.
func Validate(k Kind, r io.Reader) error {
	compileOnce.Do(func() {
		compiled, compileErr = compileAll()
	})
	if compileErr != nil {
		return compileErr
	}

	s, ok := compiled[k]
	if !ok {
		return fmt.Errorf("schema: unknown kind %d", k)
	}

	var v interface{}
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return fmt.Errorf("schema: decode request body: %w", err)
	}

	if err := s.Validate(v); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
