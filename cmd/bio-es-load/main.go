// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

/*
bio-es-load loads a TSV, CSV or GTF file into a record index and then
denormalizes the loaded records.

  bio-es-load -config segs.yaml /data/segs.tsv

With -pipeline, it loads every result file of a pipeline run instead, each
with the config template of its kind found in the -templates directory.

  bio-es-load -pipeline run.yaml -templates /etc/es-templates
*/

import (
	"context"
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
	"github.com/grailbio/esgenomics/record"
)

var (
	esOpts = esbackend.DefaultOpts

	configPath      = flag.String("config", "", "YAML file with field types, field mapping and header fields")
	pipelinePath    = flag.String("pipeline", "", "YAML description of a pipeline run; loads all of its result files")
	templateDir     = flag.String("templates", ".", "Directory of the config templates used with -pipeline")
	index           = flag.String("index", "", "Index to load into; overrides the config and the file header")
	docType         = flag.String("doc-type", "", "Document type; overrides the config and the file header")
	alias           = flag.String("alias", denorm.DefaultAlias, "Alias linked to the denormalized index")
	loadID          = flag.String("load-id", "", "Value of the source_id field; random if empty")
	skipDenormalize = flag.Bool("skip-denormalize", false, "Only load the file")
	isQC            = flag.Bool("qc", false, "The file holds single-cell QC records")
	batchSize       = flag.Int("batch-size", backend.DefaultBatchOpts.BatchSize, "Documents per bulk request")
	workers         = flag.Int("parallelism", denorm.DefaultOpts.MaxWorkers, "Maximum number of concurrent denormalization tasks")
)

func usage() {
	fmt.Printf("Usage: %s [OPTIONS] {path | -pipeline run.yaml}\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	esOpts.RegisterFlags(flag.CommandLine)
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()
	ctx := vcontext.Background()

	if *pipelinePath != "" {
		if flag.NArg() != 0 {
			log.Fatalf("-pipeline takes no input file arguments")
		}
		p, err := loader.ReadPipeline(ctx, *pipelinePath)
		if err != nil {
			log.Fatalf("%s: %v", *pipelinePath, err)
		}
		files, err := p.Files(ctx, *templateDir)
		if err != nil {
			log.Fatalf("%s: %v", *pipelinePath, err)
		}
		log.Printf("loading %d files of analysis %s, library %s", len(files), p.AnalysisID, p.LibraryID)
		ok := true
		for _, f := range files {
			ok = load(ctx, f.Path, f.Config, f.IsQC) && ok
		}
		if !ok {
			os.Exit(1)
		}
		return
	}

	if flag.NArg() != 1 {
		log.Fatalf("expected one input file, got %d arguments", flag.NArg())
	}
	path := flag.Arg(0)
	cfg := &loader.Config{}
	if *configPath != "" {
		var err error
		if cfg, err = loader.ReadConfig(ctx, *configPath); err != nil {
			log.Fatalf("%s: %v", *configPath, err)
		}
	}
	if !load(ctx, path, cfg, *isQC) {
		os.Exit(1)
	}
}

// load imports path and denormalizes its records. It reports whether all
// records were denormalized.
func load(ctx context.Context, path string, cfg *loader.Config, qc bool) bool {
	if *index != "" {
		cfg.Index = *index
	}
	if *docType != "" {
		cfg.DocType = *docType
	}
	client, err := esbackend.New(esOpts)
	if err != nil {
		log.Fatalf("%v", err)
	}
	opts := loader.DefaultOpts
	opts.LoadID = *loadID
	opts.Batch.BatchSize = *batchSize
	stats, err := loader.Load(ctx, client, path, cfg, opts)
	if err != nil {
		log.Fatalf("loading %s: %v", path, err)
	}
	if err := client.Close(); err != nil {
		log.Error.Printf("%v", err)
	}
	if *skipDenormalize || stats.Rows == 0 {
		return true
	}

	job := denorm.Job{
		Source:  stats.Index,
		DocType: stats.DocType,
		Alias:   *alias,
		Filter:  backend.Query{}.And(record.FileField, stats.Path),
		IsQC:    qc,
	}
	dopts := denorm.DefaultOpts
	dopts.MaxWorkers = *workers
	dopts.BatchSize = *batchSize
	summary, err := denorm.Run(ctx, esbackend.Dialer(esOpts), job, dopts)
	if err != nil {
		log.Fatalf("denormalizing %s: %v", path, err)
	}
	if !summary.OK() {
		log.Error.Printf("denormalization of %s incomplete: %d failed tasks, %d missing records",
			path, len(summary.Failures), summary.Missing)
		return false
	}
	return true
}
