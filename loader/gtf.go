// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package loader

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/esgenomics/record"
)

// GeneAnnotationsCaller is the caller of records loaded from GTF files.
const GeneAnnotationsCaller = "gene_annotations"

// gtfColumns are the fixed columns of a GTF line. The attribute column is
// expanded into one field per attribute.
var gtfColumns = []string{"sequence", "source", "feature", "start", "end", "score", "strand", "frame", "attribute"}

// gtfDates are the header fields holding dates.
var gtfDates = []string{"genome-date", "genebuild-last-updated"}

var (
	attrTrailer   = regexp.MustCompile(`\s*;\s*$`)
	attrSeparator = regexp.MustCompile(`\s*;\s*`)
)

// gtfHeader sets the caller of gene annotations and rewrites the header
// dates ("2014-06" or "2014-06-12") as full dates.
func gtfHeader(header map[string]interface{}) {
	for _, f := range gtfDates {
		v, ok := header[f]
		if !ok {
			continue
		}
		d, err := parseHeaderDate(record.AsString(v))
		if err != nil {
			log.Error.Printf("unable to parse date %s in header: %v", f, err)
			continue
		}
		header[f] = d
	}
	header[record.CallerField] = GeneAnnotationsCaller
}

func parseHeaderDate(s string) (string, error) {
	for _, layout := range []string{"2006-1-2", "2006-1"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("%q is not a date", s)
}

// splitAttributes parses a GTF attribute column such as
//
//   gene_id "ENSG0001"; gene_name "DDX11L1";
//
// into its key/value pairs.
func splitAttributes(s string) map[string]string {
	s = strings.Replace(attrTrailer.ReplaceAllString(s, ""), `"`, "", -1)
	attrs := map[string]string{}
	for _, a := range attrSeparator.Split(strings.TrimSpace(s), -1) {
		if a == "" {
			continue
		}
		kv := strings.Fields(a)
		attrs[kv[0]] = strings.Join(kv[1:], " ")
	}
	return attrs
}

// gtfParser reads the lines of a GTF file.
type gtfParser struct {
	r     *tsv.Reader
	kinds map[string]record.Kind
	cfg   *Config
	line  int
}

// newGTFParser reads gene annotations from r. Attributes are strings
// unless typed by the config. The mapping renames the fixed columns.
func newGTFParser(r *tsv.Reader, cfg *Config) (*gtfParser, *FieldMapping, error) {
	r.Comma = '\t'
	r.Comment = '#'
	kinds, err := cfg.kinds()
	if err != nil {
		return nil, nil, err
	}
	mapping, err := NewFieldMapping(gtfColumns, cfg.FieldMapping)
	if err != nil {
		return nil, nil, err
	}
	return &gtfParser{r: r, kinds: kinds, cfg: cfg}, mapping, nil
}

func (p *gtfParser) Next() (map[string]interface{}, int, error) {
	row, err := readRow(p.r)
	if err == io.EOF {
		return nil, p.line, io.EOF
	}
	p.line++
	if err != nil {
		return nil, p.line, errors.E(errors.Invalid, err)
	}
	if len(row) != len(gtfColumns) {
		log.Error.Printf("line %d: expected %d GTF columns, got %d", p.line, len(gtfColumns), len(row))
		return nil, p.line, nil
	}
	raw := make(map[string]string, len(gtfColumns)+8)
	for i, c := range gtfColumns[:len(gtfColumns)-1] {
		raw[c] = row[i]
	}
	for k, v := range splitAttributes(row[len(row)-1]) {
		if _, ok := raw[k]; ok {
			continue
		}
		raw[k] = v
	}
	fields := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if p.cfg.ignored(k) {
			continue
		}
		for _, r := range Reserved {
			if k == r {
				return nil, p.line, errors.E(errors.Invalid, fmt.Sprintf("%q is a reserved field name and should be changed", k))
			}
		}
		kind, ok := p.kinds[k]
		switch {
		case k == record.StartField || k == record.EndField:
			kind = record.Int
		case !ok:
			kind = record.String
		}
		val, err := record.Parse(kind, v)
		if err != nil {
			return nil, p.line, errors.E(errors.Invalid, fmt.Sprintf("field %s", k), err)
		}
		fields[k] = val.Interface()
	}
	if seq, ok := fields["sequence"]; ok {
		fields[record.ChromField] = seq
		delete(fields, "sequence")
	}
	return fields, p.line, nil
}
