// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

/*
bio-denormalize rewrites the records loaded from one file, and every record
overlapping them, into the denormalized copy of their index. Each rewritten
document lists its overlapping records in an "events" field.

  bio-denormalize -index sa123 -doc-type run7 -infile /data/segs.tsv
*/

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/esgenomics/backend"
	"github.com/grailbio/esgenomics/backend/esbackend"
	"github.com/grailbio/esgenomics/denorm"
	"github.com/grailbio/esgenomics/loader"
)

var (
	esOpts = esbackend.DefaultOpts

	index       = flag.String("index", "", "Source index name (required)")
	docType     = flag.String("doc-type", "", "Source document type (required)")
	dest        = flag.String("dest", "", "Destination index; defaults to <index>"+denorm.DestSuffix)
	alias       = flag.String("alias", denorm.DefaultAlias, "Alias linked to the destination index")
	infile      = flag.String("infile", "", "Denormalize the records loaded from this file")
	filterField = flag.String("filter-field", "", "Select source records by this field instead of -infile")
	filterValue = flag.String("filter-value", "", "Value of -filter-field")
	isQC        = flag.Bool("qc", false, "The source file holds single-cell QC records")
	workers     = flag.Int("parallelism", denorm.DefaultOpts.MaxWorkers, "Maximum number of concurrent tasks")
	subRanges   = flag.Int("sub-ranges", denorm.DefaultOpts.SubRanges, "Target number of sub-ranges per chromosome")
	batchSize   = flag.Int("batch-size", denorm.DefaultOpts.BatchSize, "Documents per bulk request")
	batchBytes  = flag.Int("batch-bytes", denorm.DefaultOpts.MaxBatchBytes, "Estimated bytes per bulk request")
	qcColumns   = flag.Int("qc-columns", denorm.DefaultOpts.QCColumns, "Number of single-cell QC columns")
	exact       = flag.Bool("exact-neighborhood", denorm.DefaultOpts.ExactNeighborhood, "Compute events of overlapping records from their full span")
)

func usage() {
	fmt.Printf("Usage: %s -index INDEX -doc-type TYPE {-infile PATH | -filter-field F -filter-value V} [OPTIONS]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	esOpts.RegisterFlags(flag.CommandLine)
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	var filter backend.Query
	switch {
	case *filterField != "":
		filter = filter.And(*filterField, *filterValue)
	case *infile != "":
		filter = filter.And("file_fullname", loader.FullName(*infile))
	default:
		log.Fatalf("one of -infile or -filter-field is required")
	}
	job := denorm.Job{
		Source:  *index,
		DocType: *docType,
		Dest:    *dest,
		Alias:   *alias,
		Filter:  filter,
		IsQC:    *isQC,
	}
	if err := job.Validate(); err != nil {
		log.Fatalf("%v", err)
	}
	opts := denorm.DefaultOpts
	opts.MaxWorkers = *workers
	opts.SubRanges = *subRanges
	opts.BatchSize = *batchSize
	opts.MaxBatchBytes = *batchBytes
	opts.QCColumns = *qcColumns
	opts.ExactNeighborhood = *exact

	ctx := vcontext.Background()
	summary, err := denorm.Run(ctx, esbackend.Dialer(esOpts), job, opts)
	if err != nil {
		log.Fatalf("%v", err)
	}
	for _, f := range summary.Failures {
		log.Error.Printf("failed: %v", f)
	}
	log.Printf("%s denormalization of %s: %d tasks, %s, %d missing", summary.Mode, *index, summary.Tasks, summary.Stats, summary.Missing)
	if len(summary.Failures) > 0 {
		os.Exit(1)
	}
}
