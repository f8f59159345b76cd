// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package denorm builds a denormalized copy of a genomic record index: every
// record that overlaps another record on the same chromosome (or, for
// single-cell data, shares its cell) carries the overlapping records as a
// nested "events" list together with an "overlaps" count.
//
// Run drives a job. For bulk data each chromosome's extent is split into
// sub-ranges whose boundaries never bisect a record span (Partitioner), each
// sub-range is loaded into an interval index and joined against the records
// of the source file (Join), and the results are bulk-written to the
// destination index by a per-task backend.BatchWriter. Tasks run on a
// bounded worker pool; a failed task is logged and reported in the Summary
// without stopping its siblings.
package denorm
