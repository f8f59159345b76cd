// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package backend

import (
	"fmt"
	"strings"

	"github.com/grailbio/esgenomics/record"
)

// Term is a field/value match. Values are compared by their string form,
// so 5, 5.0 and "5" all match each other.
type Term struct {
	Field string
	Value interface{}
}

func (t Term) String() string {
	return fmt.Sprintf("%s=%v", t.Field, t.Value)
}

// Range bounds a numeric field. Nil bounds are open.
type Range struct {
	Field   string
	GT, GTE *int64
	LT, LTE *int64
}

// Int64 returns a pointer to v, for building Ranges.
func Int64(v int64) *int64 { return &v }

// Sort orders search results by a numeric field.
type Sort struct {
	Field string
	Desc  bool
}

// Query is a conjunction of clauses. The zero Query matches every document.
type Query struct {
	Must    []Term
	MustNot []Term
	Exists  []string
	Ranges  []Range
	// Sort and Size apply to Search only; Scan ignores them.
	Sort *Sort
	Size int
}

// And returns a copy of q with the term added to Must.
func (q Query) And(field string, value interface{}) Query {
	q.Must = append(append([]Term(nil), q.Must...), Term{field, value})
	return q
}

// Not returns a copy of q with the term added to MustNot.
func (q Query) Not(field string, value interface{}) Query {
	q.MustNot = append(append([]Term(nil), q.MustNot...), Term{field, value})
	return q
}

// WithRange returns a copy of q with the range added.
func (q Query) WithRange(r Range) Query {
	q.Ranges = append(append([]Range(nil), q.Ranges...), r)
	return q
}

// WithExists returns a copy of q requiring the field to be present.
func (q Query) WithExists(field string) Query {
	q.Exists = append(append([]string(nil), q.Exists...), field)
	return q
}

func (q Query) String() string {
	var parts []string
	for _, t := range q.Must {
		parts = append(parts, t.String())
	}
	for _, t := range q.MustNot {
		parts = append(parts, "!"+t.String())
	}
	for _, f := range q.Exists {
		parts = append(parts, "exists("+f+")")
	}
	for _, r := range q.Ranges {
		parts = append(parts, r.String())
	}
	if len(parts) == 0 {
		return "match_all"
	}
	return strings.Join(parts, " && ")
}

func (r Range) String() string {
	var parts []string
	if r.GT != nil {
		parts = append(parts, fmt.Sprintf("%s>%d", r.Field, *r.GT))
	}
	if r.GTE != nil {
		parts = append(parts, fmt.Sprintf("%s>=%d", r.Field, *r.GTE))
	}
	if r.LT != nil {
		parts = append(parts, fmt.Sprintf("%s<%d", r.Field, *r.LT))
	}
	if r.LTE != nil {
		parts = append(parts, fmt.Sprintf("%s<=%d", r.Field, *r.LTE))
	}
	return strings.Join(parts, " && ")
}

// Matches evaluates q against a document body.
func (q Query) Matches(src map[string]interface{}) bool {
	for _, t := range q.Must {
		if !termMatches(t, src) {
			return false
		}
	}
	for _, t := range q.MustNot {
		if termMatches(t, src) {
			return false
		}
	}
	for _, f := range q.Exists {
		if v, ok := src[f]; !ok || v == nil {
			return false
		}
	}
	for _, r := range q.Ranges {
		v, ok := src[r.Field]
		if !ok {
			return false
		}
		n, ok := record.AsInt(v)
		if !ok {
			return false
		}
		if (r.GT != nil && n <= *r.GT) || (r.GTE != nil && n < *r.GTE) ||
			(r.LT != nil && n >= *r.LT) || (r.LTE != nil && n > *r.LTE) {
			return false
		}
	}
	return true
}

func termMatches(t Term, src map[string]interface{}) bool {
	v, ok := src[t.Field]
	if !ok || v == nil {
		return false
	}
	return record.AsString(v) == record.AsString(t.Value)
}
