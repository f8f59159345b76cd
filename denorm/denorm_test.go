// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package denorm

import (
	"context"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/esgenomics/backend"
	"github.com/grailbio/esgenomics/record"
)

func rec(id, chrom string, start, end int, file string, extra ...interface{}) *record.Record {
	src := map[string]interface{}{
		record.ChromField: chrom,
		record.StartField: start,
		record.EndField:   end,
		record.FileField:  file,
	}
	for i := 0; i+1 < len(extra); i += 2 {
		src[extra[i].(string)] = extra[i+1]
	}
	return &record.Record{ID: id, Type: "t", Source: src}
}

func fileFilter(file string) backend.Query {
	return backend.Query{}.And(record.FileField, file)
}

// eventIDs returns the sorted record ids or cell ids listed in a document's
// events.
func eventIDs(doc *record.Record) []string {
	events, _ := doc.Source[record.EventsField].([]interface{})
	ids := []string{}
	for _, e := range events {
		src := e.(map[string]interface{})
		if id, ok := src[record.RecordIDField]; ok {
			ids = append(ids, id.(string))
		} else {
			ids = append(ids, src[record.CellIDField].(string))
		}
	}
	sort.Strings(ids)
	return ids
}

func overlaps(doc *record.Record) int {
	n, _ := record.AsInt(doc.Source[record.OverlapsField])
	return int(n)
}

// failingClient fails every query scoped to one chromosome.
type failingClient struct {
	backend.Client
	chrom string
}

func (c failingClient) fails(q backend.Query) bool {
	for _, t := range q.Must {
		if t.Field == record.ChromField && record.AsString(t.Value) == c.chrom {
			return true
		}
	}
	return false
}

var errRefused = errors.E(errors.Unavailable, "connection refused")

func (c failingClient) Scan(ctx context.Context, index string, q backend.Query) backend.Iterator {
	if c.fails(q) {
		return backend.NewSliceIterator(nil, errRefused)
	}
	return c.Client.Scan(ctx, index, q)
}

func (c failingClient) Search(ctx context.Context, index string, q backend.Query) ([]*record.Record, error) {
	if c.fails(q) {
		return nil, errRefused
	}
	return c.Client.Search(ctx, index, q)
}

func (c failingClient) MinMax(ctx context.Context, index string, q backend.Query, lo, hi string) (backend.Bounds, error) {
	if c.fails(q) {
		return backend.Bounds{}, errRefused
	}
	return c.Client.MinMax(ctx, index, q, lo, hi)
}
