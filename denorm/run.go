// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package denorm

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/esgenomics/backend"
	"github.com/grailbio/esgenomics/record"
)

// Run denormalizes the records of job.Source selected by job.Filter into
// job.Dest. Only configuration errors and failures to reach or prepare the
// indices are returned; task failures and missing documents are logged and
// reported in the Summary.
func Run(ctx context.Context, dial backend.Dialer, job Job, opts Opts) (*Summary, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	job, opts = job.withDefaults(), opts.withDefaults()
	start := time.Now()

	client, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Error.Printf("closing backend client: %v", err)
		}
	}()
	ok, err := client.Exists(ctx, job.Source)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("index %s does not exist", job.Source))
	}
	if err := prepareDest(ctx, client, job); err != nil {
		return nil, err
	}
	log.Printf("denormalizing index %s into %s, source %s", job.Source, job.Dest, job.Filter)

	summary := &Summary{}
	if summary.Mode, err = detectMode(ctx, client, job); err != nil {
		return nil, err
	}
	log.Debug.Printf("denormalizing %s data", summary.Mode)

	var tasks []Task
	switch summary.Mode {
	case Bulk:
		var failures []Failure
		tasks, failures = partitionTasks(ctx, dial, job, opts)
		summary.Failures = append(summary.Failures, failures...)
	case SingleCell:
		for _, chrom := range record.ChromLabels {
			tasks = append(tasks, singleCellTask(job, opts, chrom))
		}
	case SingleCellQC:
		for col := 1; col <= opts.QCColumns; col++ {
			tasks = append(tasks, qcTask(job, opts, strconv.Itoa(col)))
		}
	}
	if len(tasks) == 0 {
		log.Printf("no data from source %s has been found", job.Filter)
	}
	stats, failures := Schedule(ctx, dial, job.Filter.String(), tasks, opts.MaxWorkers)
	summary.Tasks += len(tasks)
	summary.Stats.Add(stats)
	summary.Failures = append(summary.Failures, failures...)

	if err := client.SetRefreshInterval(ctx, job.Dest, "1s"); err != nil {
		log.Error.Printf("restoring refresh interval of %s: %v", job.Dest, err)
	}
	summary.Duration = time.Since(start)
	log.Printf("denormalization completed in %.2f minutes: %s, %d failed tasks",
		summary.Duration.Minutes(), summary.Stats, len(summary.Failures))
	if err := verify(ctx, client, job, summary); err != nil {
		log.Error.Printf("verifying %s: %v", job.Dest, err)
	}
	return summary, nil
}

// prepareDest creates the destination index if needed, links the alias and
// disables periodic refresh for the duration of the run.
func prepareDest(ctx context.Context, client backend.Client, job Job) error {
	ok, err := client.Exists(ctx, job.Dest)
	if err != nil {
		return err
	}
	if !ok {
		if err := client.Create(ctx, job.Dest, Mapping()); err != nil && !errors.Is(errors.Exists, err) {
			return err
		}
	}
	if err := client.PutAlias(ctx, job.Dest, job.Alias); err != nil {
		return err
	}
	return client.SetRefreshInterval(ctx, job.Dest, "-1")
}

// detectMode selects Bulk unless the source records carry cell ids. Single
// cell data is paired with QC records when the job loads QC data, or when
// QC records are already present in the destination or in the source
// index. The source index is checked too because QC records loaded there
// are only copied to the destination by a QC job.
func detectMode(ctx context.Context, client backend.Client, job Job) (Mode, error) {
	n, err := client.Count(ctx, job.Source, job.Filter.WithExists(record.CellIDField))
	if err != nil {
		return Bulk, err
	}
	if n == 0 {
		return Bulk, nil
	}
	if job.IsQC {
		return SingleCellQC, nil
	}
	qc := backend.Query{}.And(record.CallerField, record.QCCaller)
	for _, index := range []string{job.Dest, job.Source} {
		n, err := client.Count(ctx, index, qc)
		if err != nil {
			return Bulk, err
		}
		if n > 0 {
			return SingleCellQC, nil
		}
	}
	return SingleCell, nil
}

// partitionTasks splits every chromosome of the source records into
// sub-ranges and returns one join task per sub-range. Chromosomes are
// partitioned concurrently; a chromosome that cannot be partitioned is
// reported as a failure.
func partitionTasks(ctx context.Context, dial backend.Dialer, job Job, opts Opts) ([]Task, []Failure) {
	ranges := make([][]SubRange, len(record.ChromLabels))
	var parts []Task
	for i, chrom := range record.ChromLabels {
		i, chrom := i, chrom
		parts = append(parts, Task{
			Name: "partition " + chrom,
			Run: func(ctx context.Context, client backend.Client) (Stats, error) {
				p := &Partitioner{Client: client, Index: job.Source, MaxSteps: opts.MaxBoundarySteps}
				var err error
				ranges[i], err = p.Partition(ctx, chrom, job.Filter, opts.SubRanges)
				return Stats{}, err
			},
		})
	}
	_, failures := Schedule(ctx, dial, job.Filter.String(), parts, opts.MaxWorkers)
	var tasks []Task
	for _, rs := range ranges {
		for _, sr := range rs {
			sr := sr
			tasks = append(tasks, Task{
				Name: sr.String(),
				Run: writing(opts, func(ctx context.Context, client backend.Client, w *backend.BatchWriter) (Stats, error) {
					return joinRange(ctx, client, job, opts, sr, w)
				}),
			})
		}
	}
	return tasks, failures
}

// writing wraps fn with a task-owned BatchWriter that is drained when fn
// succeeds.
func writing(opts Opts, fn func(context.Context, backend.Client, *backend.BatchWriter) (Stats, error)) func(context.Context, backend.Client) (Stats, error) {
	return func(ctx context.Context, client backend.Client) (Stats, error) {
		w := backend.NewBatchWriter(client, opts.batchOpts())
		stats, err := fn(ctx, client, w)
		if err == nil {
			err = w.Flush(ctx)
		}
		stats.Written, stats.Flushes = w.Written, w.Flushes
		return stats, err
	}
}

// singleCellTask writes the source records of one chromosome with empty
// events.
func singleCellTask(job Job, opts Opts, chrom string) Task {
	return Task{
		Name: "chromosome " + chrom,
		Run: writing(opts, func(ctx context.Context, client backend.Client, w *backend.BatchWriter) (Stats, error) {
			var stats Stats
			it := client.Scan(ctx, job.Source, job.Filter.And(record.ChromField, chrom))
			for it.Scan() {
				if err := write(ctx, w, job.Dest, document(it.Record(), nil)); err != nil {
					it.Close()
					return stats, err
				}
				stats.Sources++
			}
			if err := it.Close(); err != nil {
				return stats, err
			}
			if stats.Sources > 0 {
				log.Debug.Printf("chromosome %s: %d single-cell records", chrom, stats.Sources)
			}
			return stats, nil
		}),
	}
}

// qcTask pairs the QC records of one column with the records of their cell.
// For a QC job, the QC records themselves are written with empty events
// and paired with the records of other files; otherwise they are paired
// with the records of the source file.
func qcTask(job Job, opts Opts, column string) Task {
	return Task{
		Name: "qc column " + column,
		Run: writing(opts, func(ctx context.Context, client backend.Client, w *backend.BatchWriter) (Stats, error) {
			var (
				stats Stats
				qcs   []*record.Record
			)
			q := backend.Query{}.And(record.ColumnField, column).And(record.CallerField, record.QCCaller)
			it := client.Scan(ctx, job.Source, q)
			for it.Scan() {
				qcs = append(qcs, it.Record())
			}
			if err := it.Close(); err != nil {
				return stats, err
			}
			for _, qc := range qcs {
				cell, ok := qc.CellID()
				if !ok {
					continue
				}
				if job.IsQC {
					if err := write(ctx, w, job.Dest, document(qc, nil)); err != nil {
						return stats, err
					}
					stats.Sources++
				}
				n, err := pairCell(ctx, client, job, w, qc, cell)
				stats.Overlapping += n
				if err != nil {
					return stats, err
				}
			}
			if len(qcs) > 0 {
				log.Debug.Printf("column %s: %d QC records with %d paired records", column, len(qcs), stats.Overlapping)
			}
			return stats, nil
		}),
	}
}

// pairCell writes the records of cell paired with qc. For a QC job these
// are the records not matching the source filter, otherwise the records
// matching it.
func pairCell(ctx context.Context, client backend.Client, job Job, w *backend.BatchWriter, qc *record.Record, cell string) (int, error) {
	q := backend.Query{}.And(record.CellIDField, cell)
	if !job.IsQC {
		for _, t := range job.Filter.Must {
			q = q.And(t.Field, t.Value)
		}
	}
	var n int
	it := client.Scan(ctx, job.Source, q)
	for it.Scan() {
		if job.IsQC && job.Filter.Matches(it.Record().Source) {
			continue
		}
		if err := write(ctx, w, job.Dest, document(it.Record(), []*record.Record{qc})); err != nil {
			it.Close()
			return n, err
		}
		n++
	}
	return n, it.Close()
}

// verify compares the document counts of the source and destination
// indices. A mismatch is logged, not returned.
func verify(ctx context.Context, client backend.Client, job Job, s *Summary) error {
	if err := client.Refresh(ctx, job.Dest); err != nil {
		return err
	}
	var err error
	if s.SourceCount, err = client.Count(ctx, job.Source, backend.Query{}); err != nil {
		return err
	}
	if s.DestCount, err = client.Count(ctx, job.Dest, backend.Query{}); err != nil {
		return err
	}
	s.Missing = s.SourceCount - s.DestCount
	if s.Missing == 0 {
		log.Printf("all records have been denormalized")
	} else {
		log.Error.Printf("%d records are missing from index %s", s.Missing, job.Dest)
	}
	return nil
}
