// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package esbackend

import "github.com/grailbio/esgenomics/backend"

// queryDSL translates q into the Elasticsearch query DSL. An empty query
// becomes match_all.
func queryDSL(q backend.Query) map[string]interface{} {
	var must, mustNot []interface{}
	for _, t := range q.Must {
		must = append(must, matchClause(t))
	}
	for _, f := range q.Exists {
		must = append(must, map[string]interface{}{"exists": map[string]string{"field": f}})
	}
	for _, r := range q.Ranges {
		must = append(must, rangeClause(r))
	}
	for _, t := range q.MustNot {
		mustNot = append(mustNot, matchClause(t))
	}
	if len(must) == 0 && len(mustNot) == 0 {
		return map[string]interface{}{"match_all": map[string]interface{}{}}
	}
	b := map[string]interface{}{}
	if len(must) > 0 {
		b["must"] = must
	}
	if len(mustNot) > 0 {
		b["must_not"] = mustNot
	}
	return map[string]interface{}{"bool": b}
}

func matchClause(t backend.Term) map[string]interface{} {
	return map[string]interface{}{"match": map[string]interface{}{t.Field: t.Value}}
}

func rangeClause(r backend.Range) map[string]interface{} {
	bounds := map[string]interface{}{}
	if r.GT != nil {
		bounds["gt"] = *r.GT
	}
	if r.GTE != nil {
		bounds["gte"] = *r.GTE
	}
	if r.LT != nil {
		bounds["lt"] = *r.LT
	}
	if r.LTE != nil {
		bounds["lte"] = *r.LTE
	}
	return map[string]interface{}{"range": map[string]interface{}{r.Field: bounds}}
}
