// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package loader

import (
	"bufio"
	"bytes"
	"context"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/esgenomics/backend"
	"github.com/grailbio/esgenomics/record"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/klauspost/compress/gzip"
)

const segs = `##sample_id=SA123
##caller=titan
# free-form comment
Chr	Start_pos	end	copy_number	score	sample_plate
1	100	200	2	0.5	R01-C05
23	150	250	2.0	na	R02_C12
MT	300	400	NA	1.5	R03-C01
`

func writeFile(t *testing.T, dir, name string, data []byte) string {
	path := filepath.Join(dir, name)
	assert.NoError(t, ioutil.WriteFile(path, data, 0644))
	return path
}

func TestLoadTSV(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "loader")
	defer cleanup()
	path := writeFile(t, dir, "segs.tsv", []byte(segs))

	ctx := context.Background()
	m := backend.NewMemory()
	cfg, err := ParseConfig([]byte("field_types: {copy_number: int}\nheader: {run_id: run7}\n"))
	assert.NoError(t, err)
	stats, err := Load(ctx, m, path, cfg, Opts{LoadID: "load1"})
	assert.NoError(t, err)
	expect.EQ(t, stats.Index, "sa123")
	expect.EQ(t, stats.DocType, "run7")
	expect.EQ(t, stats.Rows, 3)
	expect.EQ(t, stats.Imported, int64(3))
	expect.EQ(t, stats.Path, path)
	expect.EQ(t, m.RefreshInterval("sa123"), "1s")

	doc := m.Get("sa123", DocID(path, 2))
	assert.NotNil(t, doc)
	expect.EQ(t, doc.Type, "run7")
	expect.EQ(t, doc.Chrom(), "X")
	expect.EQ(t, doc.Start(), 150)
	expect.EQ(t, doc.End(), 250)
	expect.EQ(t, doc.Source["copy_number"], int64(2))
	expect.True(t, doc.Source["score"] == nil)
	expect.EQ(t, doc.Source[record.RowField], "2")
	expect.EQ(t, doc.Source[record.ColumnField], "12")
	expect.EQ(t, doc.Source["caller"], "titan")
	expect.EQ(t, doc.Source[record.FileField], path)
	expect.EQ(t, doc.Source[record.SourceIDField], "load1")
	_, ok := doc.Source["Chr"]
	expect.False(t, ok)
	_, ok = doc.Source["Start_pos"]
	expect.False(t, ok)

	doc = m.Get("sa123", DocID(path, 1))
	expect.EQ(t, doc.Chrom(), "01")
	expect.EQ(t, doc.Source["score"], 0.5)
	doc = m.Get("sa123", DocID(path, 3))
	expect.EQ(t, doc.Chrom(), "MT")
	expect.True(t, doc.Source["copy_number"] == nil)

	// Reloading overwrites.
	stats, err = Load(ctx, m, path, cfg, Opts{})
	assert.NoError(t, err)
	expect.EQ(t, stats.Imported, int64(3))
	n, err := m.Count(ctx, "sa123", backend.Query{})
	assert.NoError(t, err)
	expect.EQ(t, n, int64(3))
}

func TestLoadGzipCSV(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "loader")
	defer cleanup()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("chromosome,from,to,cell_id\n7,5,9,c1\n7,8,8,c2\n"))
	assert.NoError(t, err)
	assert.NoError(t, gz.Close())
	path := writeFile(t, dir, "cells.csv.gz", buf.Bytes())

	cfg := &Config{
		Index:        "cells",
		DocType:      "hmmcopy",
		FieldMapping: map[string]string{"chrom_number": "chromosome", "start": "from", "end": "to"},
	}
	m := backend.NewMemory()
	stats, err := Load(context.Background(), m, path, cfg, DefaultOpts)
	assert.NoError(t, err)
	expect.EQ(t, stats.Rows, 2)
	doc := m.Get("cells", DocID(path, 2))
	assert.NotNil(t, doc)
	expect.EQ(t, doc.Chrom(), "07")
	expect.EQ(t, doc.Start(), 8)
	id, ok := doc.CellID()
	expect.True(t, ok)
	expect.EQ(t, id, "c2")
}

func TestLoadErrors(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "loader")
	defer cleanup()
	ctx := context.Background()
	m := backend.NewMemory()

	path := writeFile(t, dir, "reserved.tsv", []byte("chr\tstart\tevents\n1\t2\tx\n"))
	_, err := Load(ctx, m, path, &Config{Index: "i", DocType: "t"}, DefaultOpts)
	expect.True(t, errors.Is(errors.Invalid, err), "got %v", err)

	path = writeFile(t, dir, "noindex.tsv", []byte("chr\tstart\n1\t2\n"))
	_, err = Load(ctx, m, path, nil, DefaultOpts)
	expect.True(t, errors.Is(errors.Invalid, err), "got %v", err)

	path = writeFile(t, dir, "badint.tsv", []byte("chr\tstart\n1\t2\n1\tx\n"))
	_, err = Load(ctx, m, path, &Config{Index: "i", DocType: "t"}, DefaultOpts)
	expect.True(t, errors.Is(errors.Invalid, err), "got %v", err)

	path = writeFile(t, dir, "empty.tsv", []byte("##sample_id=S\n##caller=c\nchr\tstart\n"))
	stats, err := Load(ctx, m, path, nil, DefaultOpts)
	assert.NoError(t, err)
	expect.EQ(t, stats.Rows, 0)
}

func TestFieldMapping(t *testing.T) {
	m, err := NewFieldMapping([]string{"CHROM", "start", "End_Position", "chr_other"}, nil)
	assert.NoError(t, err)
	expect.EQ(t, m.Name("CHROM"), "chrom_number")
	expect.EQ(t, m.Name("start"), "start")
	expect.EQ(t, m.Name("End_Position"), "end")
	expect.EQ(t, m.Name("chr_other"), "chr_other")
	expect.EQ(t, m.Apply(map[string]interface{}{"CHROM": "1", "start": 1, "x": 2}),
		map[string]interface{}{"chrom_number": "1", "start": 1, "x": 2})

	m, err = NewFieldMapping([]string{"chrom_number", "chr_other"}, nil)
	assert.NoError(t, err)
	expect.EQ(t, m.Name("chr_other"), "chr_other")

	_, err = NewFieldMapping([]string{"a"}, map[string]string{"start": "a", "end": "a"})
	expect.True(t, errors.Is(errors.Invalid, err))

	m, err = NewFieldMapping([]string{"a", "b"}, map[string]string{"start": "a", "end": "missing"})
	assert.NoError(t, err)
	expect.EQ(t, m.Name("a"), "start")
	expect.EQ(t, m.Name("b"), "b")
}

func TestSplitPlate(t *testing.T) {
	for _, test := range []struct {
		plate, row, col string
		ok              bool
	}{
		{"R01-C05", "1", "5", true},
		{"R10_C72", "10", "72", true},
		{"R1-C1", "1", "1", true},
		{"plate", "", "", false},
		{"R-C", "", "", false},
	} {
		row, col, ok := splitPlate(test.plate)
		expect.EQ(t, ok, test.ok, test.plate)
		expect.EQ(t, row, test.row, test.plate)
		expect.EQ(t, col, test.col, test.plate)
	}
}

func TestConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
index: idx
field_types:
  start: int
  ratio: float
field_ignore: [comment]
header:
  caller: titan
  version: 3
`))
	assert.NoError(t, err)
	expect.EQ(t, cfg.Index, "idx")
	expect.True(t, cfg.ignored("comment"))
	expect.EQ(t, cfg.Header["version"], 3)
	kinds, err := cfg.kinds()
	assert.NoError(t, err)
	expect.EQ(t, kinds, map[string]record.Kind{"start": record.Int, "ratio": record.Float})

	index, docType, err := cfg.Target(cfg.Header)
	assert.NoError(t, err)
	expect.EQ(t, index, "idx")
	expect.EQ(t, docType, "titan")

	_, err = ParseConfig([]byte("unknown: 1\n"))
	expect.True(t, errors.Is(errors.Invalid, err))
	cfg, err = ParseConfig([]byte("field_types: {start: bignum}\n"))
	assert.NoError(t, err)
	_, err = cfg.kinds()
	expect.True(t, errors.Is(errors.Invalid, err))
}

func bufioReader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestReadHeaderOnly(t *testing.T) {
	h, r, err := readHeader(bufioReader("##a=1\n##b=x=y\n#c\n"))
	assert.NoError(t, err)
	expect.EQ(t, h, map[string]interface{}{"a": "1", "b": "x=y"})
	rest, err := ioutil.ReadAll(r)
	assert.NoError(t, err)
	expect.EQ(t, len(rest), 0)
}

const annotations = `#!genome-build GRCh38.p2
#!genome-date 2013-12
#!genebuild-last-updated 2015-06-1
#!genome-version GRCh38
1	havana	gene	11869	14409	.	+	.	gene_id "ENSG00000223972"; gene_version "5"; gene_name "DDX11L1";
1	havana	transcript	11869	14409	.	+	.	gene_id "ENSG00000223972"; transcript_id "ENST00000456328"
X	ensembl	exon	100	200	.	-
23	ensembl	exon	300	400	.	-	.	gene_id "ENSG00000000003" ; exon_number "2";
`

func TestLoadGTF(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "loader")
	defer cleanup()
	path := writeFile(t, dir, "genes.gtf", []byte(annotations))

	ctx := context.Background()
	m := backend.NewMemory()
	cfg := &Config{Index: "reference", FieldTypes: map[string]string{"exon_number": "int"}}
	stats, err := Load(ctx, m, path, cfg, DefaultOpts)
	assert.NoError(t, err)
	expect.EQ(t, stats.DocType, GeneAnnotationsCaller)
	expect.EQ(t, stats.Rows, 3)
	expect.EQ(t, stats.Skipped, 1)
	expect.EQ(t, stats.Imported, int64(3))

	doc := m.Get("reference", DocID(path, 1))
	assert.NotNil(t, doc)
	expect.EQ(t, doc.Chrom(), "01")
	expect.EQ(t, doc.Start(), 11869)
	expect.EQ(t, doc.End(), 14409)
	expect.EQ(t, doc.Source["feature"], "gene")
	expect.EQ(t, doc.Source["gene_name"], "DDX11L1")
	expect.EQ(t, doc.Source["gene_version"], "5")
	expect.EQ(t, doc.Source[record.CallerField], GeneAnnotationsCaller)
	expect.EQ(t, doc.Source["genome-build"], "GRCh38.p2")
	expect.EQ(t, doc.Source["genome-date"], "2013-12-01")
	expect.EQ(t, doc.Source["genebuild-last-updated"], "2015-06-01")
	_, ok := doc.Source["sequence"]
	expect.False(t, ok)
	_, ok = doc.Source["attribute"]
	expect.False(t, ok)

	expect.EQ(t, m.Get("reference", DocID(path, 2)).Source["transcript_id"], "ENST00000456328")
	expect.True(t, m.Get("reference", DocID(path, 3)) == nil)
	doc = m.Get("reference", DocID(path, 4))
	expect.EQ(t, doc.Chrom(), "X")
	expect.EQ(t, doc.Source["exon_number"], int64(2))
	expect.EQ(t, doc.Source["gene_id"], "ENSG00000000003")
}

func TestSplitAttributes(t *testing.T) {
	expect.EQ(t, splitAttributes(`gene_id "G1"; tag "basic"; note "two words";`),
		map[string]string{"gene_id": "G1", "tag": "basic", "note": "two words"})
	expect.EQ(t, splitAttributes(""), map[string]string{})

	d, err := parseHeaderDate("2014-6-12")
	assert.NoError(t, err)
	expect.EQ(t, d, "2014-06-12")
	_, err = parseHeaderDate("June 2014")
	expect.True(t, err != nil)
}

func TestPipeline(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "pipeline")
	defer cleanup()
	ctx := context.Background()
	writeFile(t, dir, "hmm-bin.yaml", []byte("header: {sample_id: placeholder, caller: hmmcopy_bins}\n"))
	writeFile(t, dir, "hmm-seg.yaml", nil)
	writeFile(t, dir, "hmm-qc.yaml", []byte("index: qc\nheader: {caller: single_cell_qc}\n"))
	path := writeFile(t, dir, "run.yaml", []byte(`
analysis_id: A1
jira_id: SC-1
library_id: A90554A
description: test run
type: hmmcopy
files:
  bins: /data/reads.csv
  segs: /data/segs.csv
  qc: /data/metrics.csv
`))
	p, err := ReadPipeline(ctx, path)
	assert.NoError(t, err)
	files, err := p.Files(ctx, dir)
	assert.NoError(t, err)
	assert.EQ(t, len(files), 2)
	expect.EQ(t, files[0].Kind, "bins")
	expect.EQ(t, files[0].Path, "/data/reads.csv")
	expect.EQ(t, files[0].Config.Header["sample_id"], "A90554A")
	expect.False(t, files[0].IsQC)
	expect.EQ(t, files[1].Kind, "qc")
	expect.EQ(t, files[1].Config.Index, "qc")
	expect.True(t, files[1].IsQC)
	_, ok := files[1].Config.Header["sample_id"]
	expect.False(t, ok)

	_, err = p.Files(ctx, filepath.Join(dir, "missing"))
	expect.True(t, err != nil)

	for _, bad := range []string{
		"library_id: L\nfiles: {bins: a, segs: b}\n",
		"library_id: L\nfiles: {bins: a, segs: b, qc: c, extra: d}\n",
		"files: {bins: a, segs: b, qc: c}\n",
		"library_id: L\nowner: me\nfiles: {bins: a, segs: b, qc: c}\n",
	} {
		_, err := ParsePipeline([]byte(bad))
		expect.True(t, errors.Is(errors.Invalid, err), bad)
	}
}
