// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package loader

import (
	"context"
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/esgenomics/record"
	"gopkg.in/yaml.v2"
)

// Config describes how the columns of a file are loaded. It is read from
// YAML:
//
//   index: sample123
//   doc_type: run_42
//   field_types: {start: int, end: int, score: float}
//   field_mapping: {chrom_number: chromosome}
//   field_ignore: [comment]
//   header: {caller: titan, sample_id: SA123}
type Config struct {
	// Index is the target index. Defaults to the lower-cased sample_id (or
	// normal_sample_id) header value.
	Index string `yaml:"index"`
	// DocType is the document type. Defaults to the run_id, then the
	// caller, header value.
	DocType string `yaml:"doc_type"`
	// FieldTypes names the kind ("int", "float", "str") of columns. Other
	// columns are typed from the first data row.
	FieldTypes map[string]string `yaml:"field_types"`
	// FieldMapping maps a field name to the column providing it.
	FieldMapping map[string]string `yaml:"field_mapping"`
	// FieldIgnore lists columns that are not loaded.
	FieldIgnore []string `yaml:"field_ignore"`
	// Header holds constant fields added to every record. Values override
	// those read from "##key=value" lines at the top of the file.
	Header map[string]interface{} `yaml:"header"`
}

// ParseConfig decodes a YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.E(errors.Invalid, "parsing loader config", err)
	}
	for k, v := range cfg.Header {
		// Nested YAML maps decode with interface{} keys, which cannot be
		// encoded as JSON.
		if _, ok := v.(map[interface{}]interface{}); ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("header field %s: nested values are not supported", k))
		}
	}
	return cfg, nil
}

// ReadConfig reads a YAML configuration from path.
func ReadConfig(ctx context.Context, path string) (cfg *Config, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := f.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	data, err := ioutil.ReadAll(f.Reader(ctx))
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// kinds returns the configured column kinds.
func (c *Config) kinds() (map[string]record.Kind, error) {
	kinds := make(map[string]record.Kind, len(c.FieldTypes))
	for col, name := range c.FieldTypes {
		k, err := record.ParseKind(name)
		if err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("field %s", col), err)
		}
		kinds[col] = k
	}
	return kinds, nil
}

func (c *Config) empty() bool {
	return c.Index == "" && c.DocType == "" && len(c.FieldTypes) == 0 &&
		len(c.FieldMapping) == 0 && len(c.FieldIgnore) == 0 && len(c.Header) == 0
}

func (c *Config) ignored(col string) bool {
	for _, f := range c.FieldIgnore {
		if f == col {
			return true
		}
	}
	return false
}

// Target returns the index and document type for records carrying the
// given header fields.
func (c *Config) Target(header map[string]interface{}) (index, docType string, err error) {
	lookup := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := header[k]; ok && v != nil {
				if s := record.AsString(v); s != "" {
					return s
				}
			}
		}
		return ""
	}
	index, docType = c.Index, c.DocType
	if index == "" {
		index = strings.ToLower(lookup("sample_id", "normal_sample_id"))
	}
	if docType == "" {
		docType = lookup("run_id", "caller")
	}
	if index == "" {
		return "", "", errors.E(errors.Invalid, "no index given and no sample_id header")
	}
	if docType == "" {
		return "", "", errors.E(errors.Invalid, "no document type given and no run_id or caller header")
	}
	return index, docType, nil
}
