// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package denorm

import (
	"github.com/grailbio/esgenomics/backend"
)

// Opts holds the tunable limits of a denormalization job.
type Opts struct {
	// BatchSize is the number of buffered documents that forces a bulk write.
	BatchSize int
	// MaxBatchBytes is the estimated buffer size above which a bulk write is
	// forced.
	MaxBatchBytes int
	// HeaderSize is the estimated per-document size of a bulk command line.
	HeaderSize int
	// MaxWorkers caps the number of concurrently running tasks. The pool is
	// further limited by the number of tasks and runtime.NumCPU().
	MaxWorkers int
	// SubRanges is the target number of sub-ranges per chromosome.
	SubRanges int
	// MaxBoundarySteps caps the number of moves made while searching for a
	// partition boundary that does not bisect a record.
	MaxBoundarySteps int
	// QCColumns is the number of QC columns ("1".."QCColumns") visited in
	// single-cell QC mode.
	QCColumns int
	// ExactNeighborhood makes the overlapping-record pass compute events
	// from a backend query over the record's full span instead of from the
	// sub-range index. Records whose neighbors extend past the sub-range
	// are otherwise undercounted.
	ExactNeighborhood bool
}

// DefaultOpts are the limits used by the command line tools.
var DefaultOpts = Opts{
	BatchSize:        4000,
	MaxBatchBytes:    4 << 20,
	HeaderSize:       140,
	MaxWorkers:       4,
	SubRanges:        8,
	MaxBoundarySteps: 10000,
	QCColumns:        72,
}

func (o Opts) batchOpts() backend.BatchOpts {
	return backend.BatchOpts{
		BatchSize:  o.BatchSize,
		MaxBytes:   o.MaxBatchBytes,
		HeaderSize: o.HeaderSize,
	}
}

// withDefaults fills non-positive limits from DefaultOpts.
func (o Opts) withDefaults() Opts {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultOpts.BatchSize
	}
	if o.MaxBatchBytes <= 0 {
		o.MaxBatchBytes = DefaultOpts.MaxBatchBytes
	}
	if o.HeaderSize < 0 {
		o.HeaderSize = DefaultOpts.HeaderSize
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = DefaultOpts.MaxWorkers
	}
	if o.SubRanges <= 0 {
		o.SubRanges = DefaultOpts.SubRanges
	}
	if o.MaxBoundarySteps <= 0 {
		o.MaxBoundarySteps = DefaultOpts.MaxBoundarySteps
	}
	if o.QCColumns <= 0 {
		o.QCColumns = DefaultOpts.QCColumns
	}
	return o
}
