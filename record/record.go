// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package record

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Field names shared by the loader, the backends and the denormalizer.
const (
	ChromField    = "chrom_number"
	StartField    = "start"
	EndField      = "end"
	CellIDField   = "cell_id"
	CallerField   = "caller"
	ColumnField   = "column"
	RowField      = "row"
	EventsField   = "events"
	OverlapsField = "overlaps"
	RecordIDField = "record_id"
	FileField     = "file_fullname"
	SourceIDField = "source_id"

	// QCCaller is the caller value carried by single-cell QC records.
	QCCaller = "single_cell_qc"
)

// Record is one genomic observation as stored in the search backend.
//
// Source is the document body. It is treated as immutable once the record
// has been handed to an index or a writer; producers of derived documents
// copy it first (see Clone).
type Record struct {
	// ID is the backend document id.
	ID string
	// Type is the collection/type tag the record was stored under.
	Type string
	// Source holds the caller-supplied fields.
	Source map[string]interface{}
	// Size is an estimate of the serialized size of Source, in bytes.
	Size int
}

// Field returns the named field and whether it is present and non-null.
func (r *Record) Field(name string) (interface{}, bool) {
	v, ok := r.Source[name]
	return v, ok && v != nil
}

// Chrom returns the chromosome label, or "" if absent.
func (r *Record) Chrom() string {
	v, ok := r.Field(ChromField)
	if !ok {
		return ""
	}
	return AsString(v)
}

// Start returns the start coordinate. Records without a numeric start report
// zero.
func (r *Record) Start() int {
	v, _ := r.Field(StartField)
	n, _ := AsInt(v)
	return int(n)
}

// End returns the inclusive end coordinate. Records without an end are
// treated as single-position records.
func (r *Record) End() int {
	v, ok := r.Field(EndField)
	if !ok {
		return r.Start()
	}
	n, ok := AsInt(v)
	if !ok {
		return r.Start()
	}
	return int(n)
}

// CellID returns the single-cell identity of the record, if it has one.
func (r *Record) CellID() (string, bool) {
	v, ok := r.Field(CellIDField)
	if !ok {
		return "", false
	}
	return AsString(v), true
}

// Clone returns a copy of r whose Source map can be modified without
// affecting r. Nested values are shared.
func (r *Record) Clone() *Record {
	c := *r
	c.Source = make(map[string]interface{}, len(r.Source)+2)
	for k, v := range r.Source {
		c.Source[k] = v
	}
	return &c
}

// EstimateSize sets r.Size from the JSON encoding of r.Source if it is not
// already known.
func (r *Record) EstimateSize() {
	if r.Size > 0 {
		return
	}
	data, err := json.Marshal(r.Source)
	if err != nil {
		return
	}
	r.Size = len(data)
}

// AsInt converts a decoded JSON scalar to int64.
func AsInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// AsString renders a decoded JSON scalar the way the backend matches terms:
// integral floats print without a fraction.
func AsString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		if s == math.Trunc(s) && math.Abs(s) < 1e15 {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'g', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
