// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package loader

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	farm "github.com/dgryski/go-farm"
	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/esgenomics/backend"
	"github.com/grailbio/esgenomics/record"
	"github.com/klauspost/compress/gzip"
)

// Opts configures Load.
type Opts struct {
	Batch backend.BatchOpts
	// LoadID is stored in the source_id field of every record. A random id
	// is used if empty.
	LoadID string
	// Comma is the field delimiter. By default it is ',' for .csv files
	// and a tab otherwise.
	Comma rune
}

// DefaultOpts are the options used by the command line tools.
var DefaultOpts = Opts{Batch: backend.DefaultBatchOpts}

// Stats describes a completed load.
type Stats struct {
	// Path is the file_fullname of the loaded records.
	Path    string
	Index   string
	DocType string
	LoadID  string
	// Rows is the number of records read.
	Rows int
	// Skipped is the number of malformed gene annotation lines.
	Skipped int
	// Imported is the number of documents of the file found in the index
	// after the load.
	Imported int64
	Flushes  int
}

// FullName returns the name stored in the file_fullname field of records
// loaded from path: the absolute path for local files, the path itself
// otherwise.
func FullName(path string) string {
	if strings.Contains(path, "://") {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// DocID returns the id of the record read from the given line of a file.
func DocID(fullName string, line int) string {
	return fmt.Sprintf("%016x", farm.Fingerprint64([]byte(fullName+"\x00"+strconv.Itoa(line))))
}

// readHeader consumes the leading comment lines of r. Lines of the form
// "##key=value" and "#!key value" become header fields.
func readHeader(r *bufio.Reader) (map[string]interface{}, io.Reader, error) {
	header := map[string]interface{}{}
	for {
		line, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, nil, err
		}
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			return header, io.MultiReader(strings.NewReader(line), r), nil
		}
		switch {
		case strings.HasPrefix(trimmed, "##"):
			kv := strings.SplitN(strings.TrimLeft(trimmed, "#"), "=", 2)
			if len(kv) == 2 && kv[0] != "" {
				header[kv[0]] = kv[1]
			}
		case strings.HasPrefix(trimmed, "#!"):
			kv := strings.Fields(strings.TrimPrefix(trimmed, "#!"))
			if len(kv) > 1 {
				header[kv[0]] = strings.Join(kv[1:], " ")
			}
		}
		if err == io.EOF {
			return header, strings.NewReader(""), nil
		}
	}
}

// parser yields the raw fields of the records of one file, keyed by
// column name.
type parser interface {
	// Next returns the fields of the next record and its line number among
	// the data lines of the file, or io.EOF. Nil fields mark a skipped
	// line.
	Next() (fields map[string]interface{}, line int, err error)
}

// Load imports the records of the file at path into the index named by cfg
// (or the file's header), creating the index if needed. Gzipped files are
// recognized by a .gz suffix. Files ending in .gtf are read as gene
// annotations; other files as tab- or comma-separated tables.
func Load(ctx context.Context, client backend.Client, path string, cfg *Config, opts Opts) (stats *Stats, err error) {
	if cfg == nil {
		cfg = &Config{}
	}
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := f.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	var in io.Reader = f.Reader(ctx)
	name := strings.ToLower(path)
	if strings.HasSuffix(name, ".gz") {
		gz, err := gzip.NewReader(in)
		if err != nil {
			return nil, errors.E(errors.Invalid, path, err)
		}
		defer gz.Close() // nolint: errcheck
		in = gz
		name = strings.TrimSuffix(name, ".gz")
	}
	header, in, err := readHeader(bufio.NewReader(in))
	if err != nil {
		return nil, err
	}
	for k, v := range cfg.Header {
		header[k] = v
	}
	gtf := strings.HasSuffix(name, ".gtf")
	if gtf {
		gtfHeader(header)
	}
	stats = &Stats{Path: FullName(path), LoadID: opts.LoadID}
	if stats.LoadID == "" {
		stats.LoadID = uuid.New().String()
	}
	if stats.Index, stats.DocType, err = cfg.Target(header); err != nil {
		return nil, err
	}

	r := tsv.NewReader(in)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	switch {
	case opts.Comma != 0:
		r.Comma = opts.Comma
	case strings.HasSuffix(name, ".csv"):
		r.Comma = ','
	}
	var (
		p       parser
		mapping *FieldMapping
	)
	if gtf {
		p, mapping, err = newGTFParser(r, cfg)
	} else {
		p, mapping, err = newTableParser(r, cfg)
	}
	if err == io.EOF {
		log.Printf("%s: no records", path)
		return stats, nil
	}
	if err != nil {
		return nil, errors.E(path, err)
	}

	if err := prepareIndex(ctx, client, stats.Index); err != nil {
		return nil, err
	}
	defer func() {
		if e := client.SetRefreshInterval(ctx, stats.Index, "1s"); e != nil && err == nil {
			err = e
		}
	}()

	log.Printf("loading %s into index %s, type %s", stats.Path, stats.Index, stats.DocType)
	w := backend.NewBatchWriter(client, opts.Batch)
	for {
		fields, line, err := p.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E(fmt.Sprintf("%s: line %d", path, line), err)
		}
		if fields == nil {
			stats.Skipped++
			continue
		}
		stats.Rows++
		for k, v := range header {
			fields[k] = v
		}
		fields[record.FileField] = stats.Path
		fields[record.SourceIDField] = stats.LoadID
		fields = finish(mapping.Apply(fields))
		id := DocID(stats.Path, line)
		doc := &record.Record{ID: id, Type: stats.DocType, Source: fields}
		doc.EstimateSize()
		if err := w.Add(ctx, backend.Command{Index: stats.Index, Type: stats.DocType, ID: id}, doc.Source, doc.Size); err != nil {
			return nil, err
		}
	}
	if err := w.Flush(ctx); err != nil {
		return nil, err
	}
	stats.Flushes = w.Flushes
	if err := client.Refresh(ctx, stats.Index); err != nil {
		return nil, err
	}
	if stats.Imported, err = client.Count(ctx, stats.Index, backend.Query{}.And(record.FileField, stats.Path)); err != nil {
		return nil, err
	}
	if stats.Imported != int64(stats.Rows) {
		log.Error.Printf("%s: read %d records but index %s holds %d", path, stats.Rows, stats.Index, stats.Imported)
	} else {
		log.Printf("%s: %d records loaded", path, stats.Rows)
	}
	return stats, nil
}

// tableParser reads a table whose first row names the columns.
type tableParser struct {
	r       *tsv.Reader
	sch     *schema
	pending []string
	line    int
}

// newTableParser reads the column names and the first data row, which
// types the columns. It returns io.EOF if the table has no data rows.
func newTableParser(r *tsv.Reader, cfg *Config) (*tableParser, *FieldMapping, error) {
	columns, err := readRow(r)
	if err == io.EOF {
		return nil, nil, io.EOF
	}
	if err != nil {
		return nil, nil, errors.E(errors.Invalid, "reading column names", err)
	}
	first, err := readRow(r)
	if err == io.EOF {
		return nil, nil, io.EOF
	}
	if err != nil {
		return nil, nil, errors.E(errors.Invalid, err)
	}
	mapping, err := NewFieldMapping(columns, cfg.FieldMapping)
	if err != nil {
		return nil, nil, err
	}
	sch, err := newSchema(columns, first, cfg, mapping)
	if err != nil {
		return nil, nil, err
	}
	return &tableParser{r: r, sch: sch, pending: first}, mapping, nil
}

func (p *tableParser) Next() (map[string]interface{}, int, error) {
	row := p.pending
	p.pending = nil
	if row == nil {
		var err error
		if row, err = readRow(p.r); err == io.EOF {
			return nil, p.line, io.EOF
		} else if err != nil {
			return nil, p.line + 1, errors.E(errors.Invalid, err)
		}
	}
	p.line++
	fields, err := p.sch.parse(row)
	return fields, p.line, err
}

// readRow returns a copy of the next raw row.
func readRow(r *tsv.Reader) ([]string, error) {
	row, err := r.Reader.Read()
	if err != nil {
		return nil, err
	}
	return append([]string(nil), row...), nil
}

// finish derives the plate row and column and normalizes the chromosome.
func finish(fields map[string]interface{}) map[string]interface{} {
	if v, ok := fields["sample_plate"]; ok && v != nil {
		if row, col, ok := splitPlate(record.AsString(v)); ok {
			fields[record.RowField] = row
			fields[record.ColumnField] = col
		}
	}
	if v, ok := fields[record.ChromField]; ok && v != nil {
		fields[record.ChromField] = record.NormalizeChrom(record.AsString(v))
	}
	return fields
}

func prepareIndex(ctx context.Context, client backend.Client, index string) error {
	ok, err := client.Exists(ctx, index)
	if err != nil {
		return err
	}
	if !ok {
		if err := client.Create(ctx, index, nil); err != nil && !errors.Is(errors.Exists, err) {
			return err
		}
	}
	return client.SetRefreshInterval(ctx, index, "-1")
}
