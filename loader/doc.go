// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package loader imports tab- or comma-separated analysis results and GTF
// gene annotations into a record index. Columns are renamed through a
// FieldMapping, typed once per file into record.Kind values, and written
// with stable ids derived from the file path and line so that reloading a
// file overwrites its records.
//
// A Pipeline lists the result files of one analysis run; each is loaded
// with a config template named after its kind.
package loader
