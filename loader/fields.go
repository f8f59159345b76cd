// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package loader

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/esgenomics/record"
)

// Reserved field names are produced by denormalization and cannot be
// loaded.
var Reserved = []string{record.EventsField, "paired_record", record.SourceIDField}

// column is a loaded column of a file.
type column struct {
	index int
	name  string // field name after mapping
	kind  record.Kind
}

// schema is the typed column layout of one file.
type schema struct {
	columns []column
}

// newSchema types the loaded columns of a file. Configured kinds take
// precedence; other columns are typed from the first data row. The
// chromosome is always a string.
func newSchema(header, first []string, cfg *Config, mapping *FieldMapping) (*schema, error) {
	kinds, err := cfg.kinds()
	if err != nil {
		return nil, err
	}
	s := &schema{}
	seen := map[string]string{}
	for i, col := range header {
		if cfg.ignored(col) {
			continue
		}
		name := mapping.Name(col)
		for _, r := range Reserved {
			if name == r {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("%q is a reserved field name and should be changed", name))
			}
		}
		if prev, ok := seen[name]; ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("columns %s and %s both load field %s", prev, col, name))
		}
		seen[name] = col
		k, ok := kinds[col]
		if !ok {
			if k, ok = kinds[name]; !ok {
				raw := ""
				if i < len(first) {
					raw = first[i]
				}
				k = record.InferKind(raw)
			}
		}
		if name == record.ChromField {
			k = record.String
		}
		s.columns = append(s.columns, column{index: i, name: col, kind: k})
		log.Debug.Printf("field %s: %s", name, k)
	}
	return s, nil
}

// parse converts one row into fields keyed by column name. Absent values
// are kept as nil.
func (s *schema) parse(row []string) (map[string]interface{}, error) {
	fields := make(map[string]interface{}, len(s.columns))
	for _, c := range s.columns {
		raw := ""
		if c.index < len(row) {
			raw = row[c.index]
		}
		v, err := record.Parse(c.kind, raw)
		if err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("column %s", c.name), err)
		}
		fields[c.name] = v.Interface()
	}
	return fields, nil
}

// splitPlate splits a sample plate position such as "R01-C05" into its row
// and column numbers.
func splitPlate(plate string) (row, col string, ok bool) {
	parts := strings.Split(strings.Replace(plate, "_", "-", -1), "-")
	if len(parts) != 2 || len(parts[0]) < 2 || len(parts[1]) < 2 {
		return "", "", false
	}
	return strings.TrimLeft(parts[0][1:], "0"), strings.TrimLeft(parts[1][1:], "0"), true
}
