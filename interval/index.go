// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package interval

import (
	biointerval "github.com/biogo/store/interval"
)

// Interval is a half-open [Start, End) range with an attached payload, as
// stored in an Index.
type Interval struct {
	Start, End int
	Payload    interface{}
	uid        uintptr
}

// Overlap implements biointerval.IntOverlapper with half-open semantics.
func (iv *Interval) Overlap(b biointerval.IntRange) bool {
	return iv.End > b.Start && iv.Start < b.End
}

// ID implements biointerval.IntInterface.
func (iv *Interval) ID() uintptr { return iv.uid }

// Range implements biointerval.IntRanger.
func (iv *Interval) Range() biointerval.IntRange {
	return biointerval.IntRange{Start: iv.Start, End: iv.End}
}

// query is a probe range passed to the tree; it is never inserted.
type query struct {
	start, end int
}

func (q query) Overlap(b biointerval.IntRange) bool {
	return q.end > b.Start && q.start < b.End
}

// Index is an augmented interval tree over half-open ranges. Several
// intervals may share identical bounds; each insertion is tracked
// separately.
//
// An Index is not safe for concurrent use.
type Index struct {
	tree    biointerval.IntTree
	nextUID uintptr
	// dirty is set by fast insertions; the tree's subtree ranges must be
	// recomputed before the next query.
	dirty bool
}

// Insert adds [start, end) with the given payload and returns the stored
// interval. Empty or inverted ranges are widened to a single position, so a
// point record [p, p) is indexed as [p, p+1).
func (x *Index) Insert(start, end int, payload interface{}) *Interval {
	if end <= start {
		end = start + 1
	}
	iv := &Interval{Start: start, End: end, Payload: payload, uid: x.nextUID}
	x.nextUID++
	// Insertion can only fail for inverted ranges, which are excluded above.
	if err := x.tree.Insert(iv, true); err != nil {
		panic(err)
	}
	x.dirty = true
	return iv
}

// Remove deletes iv, which must have been returned by Insert on this index.
func (x *Index) Remove(iv *Interval) error {
	x.adjust()
	return x.tree.Delete(iv, false)
}

// Len returns the number of stored intervals.
func (x *Index) Len() int { return x.tree.Len() }

// QueryPoint returns every interval containing pos.
func (x *Index) QueryPoint(pos int) []*Interval {
	return x.QueryRange(pos, pos+1)
}

// QueryRange returns every interval overlapping [start, end), ordered by
// start.
func (x *Index) QueryRange(start, end int) []*Interval {
	if end <= start {
		return nil
	}
	x.adjust()
	var out []*Interval
	x.tree.DoMatching(func(e biointerval.IntInterface) bool {
		out = append(out, e.(*Interval))
		return false
	}, query{start: start, end: end})
	return out
}

// Do calls fn on every stored interval in start order, stopping early if fn
// returns true.
func (x *Index) Do(fn func(*Interval) bool) {
	x.adjust()
	x.tree.Do(func(e biointerval.IntInterface) bool {
		return fn(e.(*Interval))
	})
}

func (x *Index) adjust() {
	if x.dirty {
		x.tree.AdjustRanges()
		x.dirty = false
	}
}
