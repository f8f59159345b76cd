// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package denorm

import (
	"context"

	"github.com/grailbio/base/log"
	"github.com/grailbio/esgenomics/backend"
	"github.com/grailbio/esgenomics/interval"
	"github.com/grailbio/esgenomics/record"
)

// Matcher reports whether candidate may be listed in the events of rec.
type Matcher func(rec, candidate *record.Record) bool

// MatchAll accepts every overlapping candidate.
func MatchAll(rec, candidate *record.Record) bool { return true }

// SameCell accepts a candidate only if it carries the cell id of rec.
// Records without a cell id accept every candidate, so bulk data is joined
// as with MatchAll.
func SameCell(rec, candidate *record.Record) bool {
	id, ok := rec.CellID()
	if !ok {
		return true
	}
	other, ok := candidate.CellID()
	return ok && other == id
}

// NeighborFunc returns every record overlapping rec, rec included or not.
type NeighborFunc func(ctx context.Context, rec *record.Record) ([]*record.Record, error)

// BackendNeighbors returns a NeighborFunc querying index for records of
// rec's chromosome whose closed span intersects rec's.
func BackendNeighbors(client backend.Client, index string) NeighborFunc {
	return func(ctx context.Context, rec *record.Record) ([]*record.Record, error) {
		q := backend.Query{}.
			And(record.ChromField, rec.Chrom()).
			WithRange(backend.Range{Field: record.StartField, LTE: backend.Int64(int64(rec.End()))}).
			WithRange(backend.Range{Field: record.EndField, GTE: backend.Int64(int64(rec.Start()))})
		it := client.Scan(ctx, index, q)
		var out []*record.Record
		for it.Scan() {
			out = append(out, it.Record())
		}
		return out, it.Close()
	}
}

// BuildIndex loads the records of index whose start lies in sr into an
// interval index keyed by [start, end+1). Each record's id is copied into
// its source under record.RecordIDField.
func BuildIndex(ctx context.Context, client backend.Client, index string, sr SubRange) (*interval.Index, error) {
	q := backend.Query{}.
		And(record.ChromField, sr.Chrom).
		WithRange(backend.Range{Field: record.StartField, GTE: backend.Int64(sr.Min), LT: backend.Int64(sr.Max)})
	it := client.Scan(ctx, index, q)
	idx := new(interval.Index)
	for it.Scan() {
		r := it.Record()
		r.Source[record.RecordIDField] = r.ID
		idx.Insert(r.Start(), r.End()+1, r)
	}
	if err := it.Close(); err != nil {
		return nil, err
	}
	return idx, nil
}

// JoinOpts configures Join.
type JoinOpts struct {
	// IsSource selects the records whose events are computed in the
	// first pass.
	IsSource func(*record.Record) bool
	// Match filters overlapping candidates. Defaults to MatchAll.
	Match Matcher
	// Neighbors, if set, supplies the overlap set of the records emitted by
	// the second pass instead of the index.
	Neighbors NeighborFunc
}

// Join returns an iterator over the denormalized documents of idx. The
// first pass yields one document per source record. The second pass yields
// one document per non-source record that was listed in some source
// record's events, each exactly once.
func Join(ctx context.Context, idx *interval.Index, opts JoinOpts) *JoinIterator {
	if opts.Match == nil {
		opts.Match = MatchAll
	}
	j := &JoinIterator{ctx: ctx, idx: idx, opts: opts, attached: map[string]bool{}}
	idx.Do(func(iv *interval.Interval) bool {
		if opts.IsSource(iv.Payload.(*record.Record)) {
			j.sources = append(j.sources, iv)
		}
		return false
	})
	j.isSource = make(map[*interval.Interval]bool, len(j.sources))
	for _, iv := range j.sources {
		j.isSource[iv] = true
	}
	return j
}

// JoinIterator yields denormalized documents. Its Scan/Doc/Err protocol
// follows the backend iterators.
type JoinIterator struct {
	ctx  context.Context
	idx  *interval.Index
	opts JoinOpts

	sources  []*interval.Interval
	isSource map[*interval.Interval]bool
	attached map[string]bool
	others   []*interval.Interval
	pos      int
	second   bool

	doc *record.Record
	err error

	// NumSources and NumOverlapping count the documents yielded by each
	// pass.
	NumSources, NumOverlapping int
}

// Sources returns the number of source records in the index.
func (j *JoinIterator) Sources() int { return len(j.sources) }

// Scan advances to the next document.
func (j *JoinIterator) Scan() bool {
	if j.err != nil {
		return false
	}
	if !j.second {
		if j.pos < len(j.sources) {
			iv := j.sources[j.pos]
			j.pos++
			j.doc = j.denormalize(iv, true)
			j.NumSources++
			return true
		}
		j.second, j.pos = true, 0
	}
	if j.pos >= len(j.others) {
		j.doc = nil
		return false
	}
	iv := j.others[j.pos]
	j.pos++
	if j.opts.Neighbors != nil {
		j.doc, j.err = j.exact(iv.Payload.(*record.Record))
		if j.err != nil {
			return false
		}
	} else {
		j.doc = j.denormalize(iv, false)
	}
	j.NumOverlapping++
	return true
}

// Doc returns the current document. Its id and type are those of the
// originating record.
func (j *JoinIterator) Doc() *record.Record { return j.doc }

// Err returns the error that stopped the iteration, if any.
func (j *JoinIterator) Err() error { return j.err }

func (j *JoinIterator) overlapping(iv *interval.Interval) []*interval.Interval {
	if iv.End-iv.Start == 1 {
		return j.idx.QueryPoint(iv.Start)
	}
	return j.idx.QueryRange(iv.Start, iv.End)
}

// denormalize computes the events of iv against the index. In the first
// pass, the non-source records added as events are remembered for the
// second.
func (j *JoinIterator) denormalize(iv *interval.Interval, first bool) *record.Record {
	rec := iv.Payload.(*record.Record)
	var events []*record.Record
	for _, c := range j.overlapping(iv) {
		if c == iv {
			continue
		}
		cand := c.Payload.(*record.Record)
		if !j.opts.Match(rec, cand) {
			continue
		}
		events = append(events, cand)
		if first && !j.isSource[c] && !j.attached[cand.ID] {
			j.attached[cand.ID] = true
			j.others = append(j.others, c)
		}
	}
	return document(rec, events)
}

func (j *JoinIterator) exact(rec *record.Record) (*record.Record, error) {
	neighbors, err := j.opts.Neighbors(j.ctx, rec)
	if err != nil {
		return nil, err
	}
	var events []*record.Record
	for _, n := range neighbors {
		if n.ID == rec.ID || !j.opts.Match(rec, n) {
			continue
		}
		if _, ok := n.Source[record.RecordIDField]; !ok {
			n = n.Clone()
			n.Source[record.RecordIDField] = n.ID
		}
		events = append(events, n)
	}
	return document(rec, events), nil
}

// document returns a copy of rec carrying events and their count. Its size
// estimate includes the events.
func document(rec *record.Record, events []*record.Record) *record.Record {
	doc := rec.Clone()
	doc.EstimateSize()
	payloads := make([]interface{}, len(events))
	for i, e := range events {
		payloads[i] = e.Source
		e.EstimateSize()
		doc.Size += e.Size
	}
	doc.Source[record.EventsField] = payloads
	doc.Source[record.OverlapsField] = len(events)
	return doc
}

// joinRange denormalizes one sub-range and writes the results through w.
func joinRange(ctx context.Context, client backend.Client, job Job, opts Opts, sr SubRange, w *backend.BatchWriter) (Stats, error) {
	var stats Stats
	idx, err := BuildIndex(ctx, client, job.Source, sr)
	if err != nil {
		return stats, err
	}
	jopts := JoinOpts{
		IsSource: func(r *record.Record) bool { return job.Filter.Matches(r.Source) },
		Match:    SameCell,
	}
	if opts.ExactNeighborhood {
		jopts.Neighbors = BackendNeighbors(client, job.Source)
	}
	j := Join(ctx, idx, jopts)
	if j.Sources() == 0 {
		log.Debug.Printf("%s: no source records among %d", sr, idx.Len())
		return stats, nil
	}
	for j.Scan() {
		if err := write(ctx, w, job.Dest, j.Doc()); err != nil {
			return stats, err
		}
	}
	if err := j.Err(); err != nil {
		return stats, err
	}
	stats.Sources, stats.Overlapping = j.NumSources, j.NumOverlapping
	log.Debug.Printf("%s: %d source records, %d overlapping records, index of %d",
		sr, j.NumSources, j.NumOverlapping, idx.Len())
	return stats, nil
}

// write queues doc for the destination index, keeping its id and type.
func write(ctx context.Context, w *backend.BatchWriter, dest string, doc *record.Record) error {
	doc.EstimateSize()
	return w.Add(ctx, backend.Command{Index: dest, Type: doc.Type, ID: doc.ID}, doc.Source, doc.Size)
}
