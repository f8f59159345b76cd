// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package loader

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"gopkg.in/yaml.v2"
)

// PipelineKinds lists the outputs of a pipeline run in load order, with
// the name of the loader config template of each. QC results come last so
// that they can be paired with the records loaded before them.
var PipelineKinds = []struct {
	Kind, Template string
}{
	{"bins", "hmm-bin.yaml"},
	{"segs", "hmm-seg.yaml"},
	{"qc", "hmm-qc.yaml"},
}

// Pipeline describes one analysis run and the result files it produced:
//
//   analysis_id: A96213
//   jira_id: SC-1234
//   library_id: A90554A
//   description: hmmcopy on A90554A
//   type: hmmcopy
//   files:
//     bins: /data/A90554A/reads.csv
//     segs: /data/A90554A/segs.csv
//     qc: /data/A90554A/metrics.csv
type Pipeline struct {
	AnalysisID  string            `yaml:"analysis_id"`
	JiraID      string            `yaml:"jira_id"`
	LibraryID   string            `yaml:"library_id"`
	Description string            `yaml:"description"`
	Type        string            `yaml:"type"`
	FilePaths   map[string]string `yaml:"files"`
}

// PipelineFile is a result file of a pipeline run with the config it is
// loaded with.
type PipelineFile struct {
	Kind   string
	Path   string
	Config *Config
	// IsQC is set for single-cell QC results.
	IsQC bool
}

// ParsePipeline decodes a pipeline description. Every kind of
// PipelineKinds must be listed under files, and nothing else.
func ParsePipeline(data []byte) (*Pipeline, error) {
	p := &Pipeline{}
	if err := yaml.UnmarshalStrict(data, p); err != nil {
		return nil, errors.E(errors.Invalid, "parsing pipeline config", err)
	}
	if p.LibraryID == "" {
		return nil, errors.E(errors.Invalid, "pipeline config has no library_id")
	}
	known := map[string]bool{}
	for _, k := range PipelineKinds {
		known[k.Kind] = true
		if p.FilePaths[k.Kind] == "" {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("pipeline config lists no %s file", k.Kind))
		}
	}
	var unknown []string
	for k := range p.FilePaths {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, errors.E(errors.Invalid, fmt.Sprintf("unknown pipeline files %v", unknown))
	}
	return p, nil
}

// ReadPipeline reads a pipeline description from path.
func ReadPipeline(ctx context.Context, path string) (p *Pipeline, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := f.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	data, err := ioutil.ReadAll(f.Reader(ctx))
	if err != nil {
		return nil, err
	}
	return ParsePipeline(data)
}

// Files returns the result files of the run, in load order, with the
// configs read from the templates in dir. The library id replaces the
// sample_id header of a template. Files whose template is empty are not
// loaded.
func (p *Pipeline) Files(ctx context.Context, dir string) ([]PipelineFile, error) {
	var files []PipelineFile
	for _, k := range PipelineKinds {
		tmpl := filepath.Join(dir, k.Template)
		cfg, err := ReadConfig(ctx, tmpl)
		if err != nil {
			return nil, errors.E(fmt.Sprintf("template %s", tmpl), err)
		}
		if cfg.empty() {
			log.Printf("template %s is empty, skipping %s", tmpl, p.FilePaths[k.Kind])
			continue
		}
		if _, ok := cfg.Header["sample_id"]; ok {
			cfg.Header["sample_id"] = p.LibraryID
		}
		files = append(files, PipelineFile{
			Kind:   k.Kind,
			Path:   p.FilePaths[k.Kind],
			Config: cfg,
			IsQC:   k.Kind == "qc",
		})
	}
	return files, nil
}
