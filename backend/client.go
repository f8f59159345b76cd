// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package backend

import (
	"context"

	"github.com/grailbio/esgenomics/record"
)

// Client is the capability set the loader and the denormalizer need from a
// document search service. Implementations must tolerate concurrent
// upserts keyed by document id from independent clients.
//
// A Client is owned by a single task; use a Dialer to get one per task.
type Client interface {
	// Scan returns every document in index matching q, paginating as
	// needed. The iterator must be closed.
	Scan(ctx context.Context, index string, q Query) Iterator
	// Search returns the documents matching q, honoring q.Sort and q.Size.
	Search(ctx context.Context, index string, q Query) ([]*record.Record, error)
	// MinMax returns the minimum of minField and the maximum of maxField
	// over the documents matching q.
	MinMax(ctx context.Context, index string, q Query, minField, maxField string) (Bounds, error)
	// Count returns the number of documents matching q.
	Count(ctx context.Context, index string, q Query) (int64, error)
	// Bulk indexes the given documents, replacing existing documents with
	// the same index and id.
	Bulk(ctx context.Context, items []Item) error
	// Exists reports whether the index exists.
	Exists(ctx context.Context, index string) (bool, error)
	// Create creates an index with the given settings/mappings body.
	Create(ctx context.Context, index string, body map[string]interface{}) error
	// Refresh makes recent writes to the index visible to searches.
	Refresh(ctx context.Context, index string) error
	// SetRefreshInterval changes the index refresh interval; "-1" disables
	// periodic refresh.
	SetRefreshInterval(ctx context.Context, index, interval string) error
	// PutAlias links alias to index.
	PutAlias(ctx context.Context, index, alias string) error
	// Close releases the client's resources.
	Close() error
}

// Dialer establishes a new Client. Connections are not assumed to be
// shareable, so every task dials its own.
type Dialer func(ctx context.Context) (Client, error)

// Iterator iterates over scanned documents:
//
//   it := client.Scan(ctx, index, q)
//   for it.Scan() {
//     rec := it.Record()
//     ...
//   }
//   if err := it.Close(); err != nil { ... }
type Iterator interface {
	// Scan advances to the next record, returning false at the end of the
	// results or on error.
	Scan() bool
	// Record returns the current record.
	Record() *record.Record
	// Err returns the error that stopped iteration, if any.
	Err() error
	// Close releases the iterator and returns Err().
	Close() error
}

// Bounds is the result of a MinMax aggregation. Valid is false when no
// documents matched.
type Bounds struct {
	Min, Max int64
	Valid    bool
}

// Command identifies the destination of a bulk-indexed document.
type Command struct {
	Index string
	Type  string
	ID    string
}

// Item is one document of a bulk request.
type Item struct {
	Command Command
	Doc     map[string]interface{}
	// Size is the estimated serialized size of Doc, in bytes.
	Size int
}

// sliceIterator iterates over an in-memory snapshot.
type sliceIterator struct {
	recs []*record.Record
	cur  *record.Record
	err  error
}

// NewSliceIterator returns an Iterator over recs. A non-nil err is reported
// by Err after the records are exhausted.
func NewSliceIterator(recs []*record.Record, err error) Iterator {
	return &sliceIterator{recs: recs, err: err}
}

func (it *sliceIterator) Scan() bool {
	if len(it.recs) == 0 {
		it.cur = nil
		return false
	}
	it.cur, it.recs = it.recs[0], it.recs[1:]
	return true
}

func (it *sliceIterator) Record() *record.Record { return it.cur }
func (it *sliceIterator) Err() error             { return it.err }
func (it *sliceIterator) Close() error           { return it.err }
