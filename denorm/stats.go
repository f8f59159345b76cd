// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package denorm

import (
	"fmt"
	"time"
)

// Stats counts the work done by a task.
type Stats struct {
	// Sources is the number of records matching the job filter that were
	// processed.
	Sources int
	// Overlapping is the number of other records rewritten because they
	// overlap a source record.
	Overlapping int
	// Written is the number of documents submitted to the destination.
	Written int
	// Flushes is the number of bulk requests.
	Flushes int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Sources += o.Sources
	s.Overlapping += o.Overlapping
	s.Written += o.Written
	s.Flushes += o.Flushes
}

func (s Stats) String() string {
	return fmt.Sprintf("sources:%d overlapping:%d written:%d flushes:%d",
		s.Sources, s.Overlapping, s.Written, s.Flushes)
}

// Failure records a task that produced no (or partial) output.
type Failure struct {
	Task string
	Err  error
}

func (f Failure) Error() string { return f.Task + ": " + f.Err.Error() }

// Summary reports the outcome of a job. A job with failed tasks or a
// verification mismatch still completes; callers inspect Failures and
// Missing.
type Summary struct {
	Mode Mode
	// Tasks is the number of tasks scheduled.
	Tasks int
	Stats
	Failures []Failure
	// SourceCount and DestCount are the document totals of the two indices
	// after the run.
	SourceCount, DestCount int64
	// Missing is SourceCount-DestCount.
	Missing  int64
	Duration time.Duration
}

// OK reports whether every task succeeded and verification found no
// missing documents.
func (s *Summary) OK() bool {
	return len(s.Failures) == 0 && s.Missing == 0
}
