// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package loader

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/esgenomics/record"
)

// autodetect lists the fields located by column name when no explicit
// mapping is given, in matching order.
var autodetect = []struct {
	field string
	re    *regexp.Regexp
}{
	{record.ChromField, regexp.MustCompile(`(?i)^chr`)},
	{record.StartField, regexp.MustCompile(`(?i)^start`)},
	{record.EndField, regexp.MustCompile(`(?i)^end`)},
}

// FieldMapping renames columns to field names. It is built once per file
// and applied to every record.
type FieldMapping struct {
	// names maps a column to its field name.
	names map[string]string
}

// NewFieldMapping validates an explicit field->column mapping against the
// columns of a file. Without one, columns are matched to the chromosome,
// start and end fields by name prefix, unless a column already carries the
// field name.
func NewFieldMapping(columns []string, explicit map[string]string) (*FieldMapping, error) {
	m := &FieldMapping{names: map[string]string{}}
	present := map[string]bool{}
	for _, c := range columns {
		present[c] = true
	}
	if len(explicit) > 0 {
		fields := make([]string, 0, len(explicit))
		for f := range explicit {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			col := explicit[f]
			if !present[col] {
				log.Debug.Printf("field mapping %s: column %s not present", f, col)
				continue
			}
			if prev, ok := m.names[col]; ok {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("column %s mapped to both %s and %s", col, prev, f))
			}
			m.names[col] = f
		}
		return m, nil
	}
	for _, a := range autodetect {
		if present[a.field] {
			continue
		}
		for _, c := range columns {
			if _, taken := m.names[c]; !taken && a.re.MatchString(c) {
				m.names[c] = a.field
				break
			}
		}
	}
	return m, nil
}

// Name returns the field name of a column.
func (m *FieldMapping) Name(column string) string {
	if f, ok := m.names[column]; ok {
		return f
	}
	return column
}

// Apply returns a copy of fields with mapped columns renamed. A renamed
// column replaces any field already holding its new name.
func (m *FieldMapping) Apply(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if _, renamed := m.names[k]; !renamed {
			out[k] = v
		}
	}
	for col, f := range m.names {
		if v, ok := fields[col]; ok {
			out[f] = v
		}
	}
	return out
}
