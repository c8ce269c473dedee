// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// configSchemaDoc is a minimal structural schema for PipelineConfig: it
// only pins down the enums and required top-level keys the orchestrator
// cannot safely default (§7 ConfigurationError is fatal at startup if
// these are wrong). It intentionally does not try to re-describe every
// field — that is still Go's job via json.Unmarshal.
const configSchemaDoc = `{
  "type": "object",
  "required": ["dataset", "source"],
  "properties": {
    "dataset": {
      "type": "object",
      "required": ["name"],
      "properties": { "name": {"type": "string", "minLength": 1} }
    },
    "source": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"enum": ["remote_http", "local_fs", "globus", "single_file"]}
      }
    },
    "output": {
      "type": "object",
      "properties": {
        "format": {"enum": ["parquet", "csv"]}
      }
    }
  }
}`

var configSchema *jsonschema.Schema

func init() {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("pipeline-config.json", strings.NewReader(configSchemaDoc)); err != nil {
		panic(fmt.Sprintf("schema: compile embedded config schema: %v", err))
	}
	s, err := c.Compile("pipeline-config.json")
	if err != nil {
		panic(fmt.Sprintf("schema: compile embedded config schema: %v", err))
	}
	configSchema = s
}

// ValidateConfig checks raw config bytes against the embedded pipeline
// config schema before it is decoded into a PipelineConfig. A failure
// here is a ConfigurationError (§7): fatal at startup.
func ValidateConfig(raw []byte) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("config is not valid JSON: %w", err)
	}
	if err := configSchema.Validate(v); err != nil {
		return fmt.Errorf("config schema validation: %w", err)
	}
	return nil
}
