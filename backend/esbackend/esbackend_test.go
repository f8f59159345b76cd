// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package esbackend

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/esgenomics/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryDSL(t *testing.T) {
	assert.Equal(t, map[string]interface{}{"match_all": map[string]interface{}{}}, queryDSL(backend.Query{}))

	q := backend.Query{}.
		And("chrom_number", "01").
		Not("file_fullname", "a.tsv").
		WithExists("cell_id").
		WithRange(backend.Range{Field: "start", GTE: backend.Int64(10), LT: backend.Int64(20)})
	data, err := json.Marshal(queryDSL(q))
	require.NoError(t, err)
	assert.JSONEq(t, `{"bool": {
		"must": [
			{"match": {"chrom_number": "01"}},
			{"exists": {"field": "cell_id"}},
			{"range": {"start": {"gte": 10, "lt": 20}}}
		],
		"must_not": [{"match": {"file_fullname": "a.tsv"}}]
	}}`, string(data))
}

func TestOptsAddress(t *testing.T) {
	assert.Equal(t, "http://localhost:9200", DefaultOpts.Address())
	o := DefaultOpts
	o.Host, o.Port, o.UseSSL = "es.example.com", 443, true
	assert.Equal(t, "https://es.example.com:443", o.Address())
	_, err := New(Opts{})
	assert.True(t, errors.Is(errors.Invalid, err))
}

// fakeCluster serves the subset of the REST API used by Client.
type fakeCluster struct {
	mu      sync.Mutex
	pages   [][]string
	bodies  []string
	cleared bool
}

func hits(ids []string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, id := range ids {
		start, _ := strconv.Atoi(id)
		out = append(out, map[string]interface{}{
			"_index":  "src",
			"_type":   "_doc",
			"_id":     id,
			"_source": map[string]interface{}{"chrom_number": "01", "start": start, "end": start + 10},
		})
	}
	return out
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, _ := ioutil.ReadAll(r.Body)
	f.bodies = append(f.bodies, r.Method+" "+r.URL.Path+" "+string(body))
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	reply := func(status int, v interface{}) {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v) // nolint: errcheck
	}
	page := func() {
		var ids []string
		if len(f.pages) > 0 {
			ids, f.pages = f.pages[0], f.pages[1:]
		}
		reply(http.StatusOK, map[string]interface{}{
			"_scroll_id": "scroll1",
			"hits":       map[string]interface{}{"hits": hits(ids)},
		})
	}
	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/src":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusNotFound)
	case strings.HasPrefix(r.URL.Path, "/_search/scroll") && r.Method == http.MethodDelete:
		f.cleared = true
		reply(http.StatusOK, map[string]interface{}{"succeeded": true})
	case strings.HasPrefix(r.URL.Path, "/_search/scroll"):
		page()
	case r.URL.Path == "/src/_count":
		reply(http.StatusOK, map[string]interface{}{"count": 3})
	case r.URL.Path == "/src/_search" && r.URL.Query().Get("scroll") != "":
		page()
	case r.URL.Path == "/src/_search" && strings.Contains(string(body), "aggs"):
		reply(http.StatusOK, map[string]interface{}{
			"hits":         map[string]interface{}{"hits": []interface{}{}},
			"aggregations": map[string]interface{}{"lo": map[string]interface{}{"value": 10.0}, "hi": map[string]interface{}{"value": 250.0}},
		})
	case r.URL.Path == "/src/_search":
		reply(http.StatusOK, map[string]interface{}{"hits": map[string]interface{}{"hits": hits([]string{"150"})}})
	case r.URL.Path == "/_bulk":
		reply(http.StatusOK, map[string]interface{}{
			"errors": true,
			"items": []interface{}{
				map[string]interface{}{"index": map[string]interface{}{"_id": "1", "status": 201}},
				map[string]interface{}{"index": map[string]interface{}{"_id": "2", "status": 400, "error": map[string]interface{}{"type": "mapper_parsing_exception"}}},
			},
		})
	case r.Method == http.MethodPut && r.URL.Path == "/dst":
		reply(http.StatusBadRequest, map[string]interface{}{"error": map[string]interface{}{"type": "resource_already_exists_exception"}})
	default:
		reply(http.StatusNotFound, map[string]interface{}{"error": "no handler for " + r.URL.Path})
	}
}

func (f *fakeCluster) lastBody() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[len(f.bodies)-1]
}

func (f *fakeCluster) scrollCleared() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleared
}

func newTestClient(t *testing.T, f *fakeCluster) (*Client, func()) {
	srv := httptest.NewServer(f)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	opts := DefaultOpts
	opts.Host, opts.Port, opts.Timeout = u.Hostname(), port, 5*time.Second
	c, err := New(opts)
	require.NoError(t, err)
	return c, srv.Close
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	f := &fakeCluster{pages: [][]string{{"1", "2"}, {"3"}}}
	c, cleanup := newTestClient(t, f)
	defer cleanup()

	ok, err := c.Exists(ctx, "src")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := c.Count(ctx, "src", backend.Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	it := c.Scan(ctx, "src", backend.Query{}.And("chrom_number", "01"))
	var ids []string
	for it.Scan() {
		ids = append(ids, it.Record().ID)
		assert.Equal(t, "01", it.Record().Chrom())
		assert.True(t, it.Record().Size > 0)
	}
	require.NoError(t, it.Close())
	assert.Equal(t, []string{"1", "2", "3"}, ids)
	assert.True(t, f.scrollCleared())

	q := backend.Query{}.And("chrom_number", "01")
	q.Sort, q.Size = &backend.Sort{Field: "end", Desc: true}, 1
	recs, err := c.Search(ctx, "src", q)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 150, recs[0].Start())
	assert.Equal(t, 160, recs[0].End())
	last := f.lastBody()
	assert.Contains(t, last, `"sort":[{"end":{"order":"desc"}}]`)
	assert.Contains(t, last, `"size":1`)

	b, err := c.MinMax(ctx, "src", backend.Query{}, "start", "end")
	require.NoError(t, err)
	assert.Equal(t, backend.Bounds{Min: 10, Max: 250, Valid: true}, b)

	err = c.Bulk(ctx, []backend.Item{
		{Command: backend.Command{Index: "dst", ID: "1"}, Doc: map[string]interface{}{"a": 1}},
		{Command: backend.Command{Index: "dst", ID: "2"}, Doc: map[string]interface{}{"a": "x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 documents failed")
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
	assert.Contains(t, f.lastBody(), `{"index":{"_id":"1","_index":"dst"}}`)

	err = c.Create(ctx, "dst", nil)
	assert.True(t, errors.Is(errors.Exists, err), fmt.Sprint(err))
	assert.NoError(t, c.Close())
}

func TestClientUnavailable(t *testing.T) {
	c, err := New(Opts{Host: "127.0.0.1", Port: 1, Timeout: time.Second})
	require.NoError(t, err)
	_, err = c.Count(context.Background(), "src", backend.Query{})
	assert.True(t, errors.Is(errors.Unavailable, err), fmt.Sprint(err))
}

func TestRegisterFlags(t *testing.T) {
	opts := DefaultOpts
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	opts.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-host", "es.internal", "-use-ssl", "-timeout", "10s"}))
	assert.Equal(t, "https://es.internal:9200", opts.Address())
	assert.Equal(t, 10*time.Second, opts.Timeout)
	assert.Equal(t, DefaultOpts.ScrollSize, opts.ScrollSize)
}
