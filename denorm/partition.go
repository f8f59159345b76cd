// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package denorm

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/esgenomics/backend"
	"github.com/grailbio/esgenomics/record"
)

// SubRange is a half-open window [Min, Max) of start positions on one
// chromosome. A record belongs to the SubRange containing its start; the
// partitioner guarantees that its end then lies before Max too.
type SubRange struct {
	Chrom    string
	Min, Max int64
}

func (s SubRange) String() string {
	return fmt.Sprintf("%s:%d-%d", s.Chrom, s.Min, s.Max)
}

// Direction is the way a boundary moves while searching for a safe cut.
type Direction int

const (
	// Right moves a boundary past the end of the records it bisects.
	Right Direction = iota
	// Left moves a boundary to the start of the records it bisects.
	Left
)

// Partitioner splits a chromosome's coordinate extent into SubRanges that
// never bisect a record. Record ends are inclusive: a record [s, e] is
// bisected by a cut c when s < c <= e.
type Partitioner struct {
	Client backend.Client
	// Index is searched for straddling records. All records of the
	// chromosome count, not only those of the source file.
	Index string
	// MaxSteps caps the boundary moves made by one SafeBoundary call.
	MaxSteps int
}

// Extent returns the smallest start and largest end of the records of chrom
// matching filter. ok is false when there are none.
func (p *Partitioner) Extent(ctx context.Context, chrom string, filter backend.Query) (lo, hi int64, ok bool, err error) {
	q := filter.And(record.ChromField, chrom)
	b, err := p.Client.MinMax(ctx, p.Index, q, record.StartField, record.EndField)
	if err != nil || !b.Valid {
		return 0, 0, false, err
	}
	return b.Min, b.Max, true, nil
}

// straddling returns the record bisected by cut that lies farthest in dir,
// or nil.
func (p *Partitioner) straddling(ctx context.Context, chrom string, cut int64, dir Direction) (*record.Record, error) {
	q := backend.Query{}.
		And(record.ChromField, chrom).
		WithRange(backend.Range{Field: record.StartField, LT: backend.Int64(cut)}).
		WithRange(backend.Range{Field: record.EndField, GTE: backend.Int64(cut)})
	q.Size = 1
	if dir == Right {
		q.Sort = &backend.Sort{Field: record.EndField, Desc: true}
	} else {
		q.Sort = &backend.Sort{Field: record.StartField}
	}
	recs, err := p.Client.Search(ctx, p.Index, q)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// SafeBoundary returns the nearest cut at or beyond pos, in direction dir,
// that bisects no record of chrom. A leftward search stops at 0. The search
// fails with errors.Invalid after MaxSteps moves.
func (p *Partitioner) SafeBoundary(ctx context.Context, chrom string, pos int64, dir Direction) (int64, error) {
	maxSteps := p.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultOpts.MaxBoundarySteps
	}
	cut := pos
	for step := 0; ; step++ {
		if dir == Left && cut <= 0 {
			return 0, nil
		}
		if step == maxSteps {
			return 0, errors.E(errors.Invalid, fmt.Sprintf(
				"chromosome %s: no safe boundary within %d steps of %d", chrom, maxSteps, pos))
		}
		r, err := p.straddling(ctx, chrom, cut, dir)
		if err != nil {
			return 0, err
		}
		if r == nil {
			return cut, nil
		}
		next := int64(r.End()) + 1
		if dir == Left {
			next = int64(r.Start())
		}
		// The straddling record satisfies start < cut <= end, so each
		// move is strict.
		if (dir == Right && next <= cut) || (dir == Left && next >= cut) {
			return 0, errors.E(errors.Invalid, fmt.Sprintf(
				"chromosome %s: record %s [%d, %d] does not straddle %d", chrom, r.ID, r.Start(), r.End(), cut))
		}
		cut = next
	}
}

// Partition splits the extent of chrom's records matching filter into about
// target contiguous SubRanges. The first SubRange starts at or before the
// smallest start and the last ends after the largest end. It returns no
// SubRanges if no record matches.
func (p *Partitioner) Partition(ctx context.Context, chrom string, filter backend.Query, target int) ([]SubRange, error) {
	minStart, maxEnd, ok, err := p.Extent(ctx, chrom, filter)
	if err != nil || !ok {
		return nil, err
	}
	if target <= 0 {
		target = DefaultOpts.SubRanges
	}
	lo, err := p.SafeBoundary(ctx, chrom, minStart, Left)
	if err != nil {
		return nil, err
	}
	length := (maxEnd - lo) / int64(target)
	if length < 1 {
		length = 1
	}
	log.Debug.Printf("partitioning chromosome %s over %d-%d, segment length %d", chrom, lo, maxEnd, length)
	var (
		ranges []SubRange
		cur    = lo
	)
	for next := cur + length; next <= maxEnd; next = cur + length {
		if next, err = p.SafeBoundary(ctx, chrom, next, Right); err != nil {
			return nil, err
		}
		ranges = append(ranges, SubRange{Chrom: chrom, Min: cur, Max: next})
		cur = next
	}
	if cur <= maxEnd {
		hi, err := p.SafeBoundary(ctx, chrom, maxEnd+1, Right)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, SubRange{Chrom: chrom, Min: cur, Max: hi})
	}
	return ranges, nil
}
