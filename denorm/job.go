// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package denorm

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/esgenomics/backend"
)

// DefaultAlias is the alias attached to every destination index.
const DefaultAlias = "denormalized"

// DestSuffix is appended to the source index name to form the default
// destination index name.
const DestSuffix = "_denormalized"

// Job describes one denormalization run. A Job is not modified by Run.
type Job struct {
	// Source is the index holding the loaded records.
	Source string
	// DocType is the document type of the source records.
	DocType string
	// Dest is the destination index. Defaults to Source+DestSuffix.
	Dest string
	// Alias is attached to Dest. Defaults to DefaultAlias.
	Alias string
	// Filter selects the records of the file being denormalized, e.g.
	// {file_fullname: <path>}.
	Filter backend.Query
	// IsQC is set when the file being denormalized holds single-cell QC
	// records.
	IsQC bool
}

// Validate reports a configuration error before any work is done.
func (j Job) Validate() error {
	if j.Source == "" || j.DocType == "" {
		return errors.E(errors.Invalid, "index and document type names must be provided")
	}
	if len(j.Filter.Must) == 0 {
		return errors.E(errors.Invalid, "source filter must name at least one field")
	}
	if j.Dest == j.Source {
		return errors.E(errors.Invalid, fmt.Sprintf("destination index %q is the source index", j.Dest))
	}
	return nil
}

func (j Job) withDefaults() Job {
	if j.Dest == "" {
		j.Dest = j.Source + DestSuffix
	}
	if j.Alias == "" {
		j.Alias = DefaultAlias
	}
	return j
}

// Mode is the processing shape selected for a job.
type Mode int

const (
	// Bulk joins ranged records by coordinate overlap.
	Bulk Mode = iota
	// SingleCell passes single-cell records through with no events.
	SingleCell
	// SingleCellQC pairs single-cell records with the QC record of their
	// cell.
	SingleCellQC
)

func (m Mode) String() string {
	switch m {
	case Bulk:
		return "bulk"
	case SingleCell:
		return "single-cell"
	case SingleCellQC:
		return "single-cell-qc"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}
