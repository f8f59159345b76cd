// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package esbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/esgenomics/backend"
	"github.com/grailbio/esgenomics/record"
	pkgerrors "github.com/pkg/errors"
)

// Opts configures a connection to an Elasticsearch cluster.
type Opts struct {
	Host     string
	Port     int
	UseSSL   bool
	Username string
	Password string
	// Timeout bounds every request. A stalled call fails with
	// errors.Timeout instead of blocking its task.
	Timeout time.Duration
	// ScrollSize is the page size of scans.
	ScrollSize int
	// ScrollKeepAlive is how long the cluster keeps a scroll context
	// between pages.
	ScrollKeepAlive time.Duration
}

// DefaultOpts matches a local single-node cluster.
var DefaultOpts = Opts{
	Host:            "localhost",
	Port:            9200,
	Timeout:         300 * time.Second,
	ScrollSize:      1000,
	ScrollKeepAlive: 5 * time.Minute,
}

// Address returns the cluster URL.
func (o Opts) Address() string {
	scheme := "http"
	if o.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, o.Host, o.Port)
}

// Client implements backend.Client on top of the Elasticsearch REST API.
type Client struct {
	es   *elasticsearch.Client
	opts Opts
}

var _ backend.Client = (*Client)(nil)

// New returns a client for the cluster described by opts. Retries are
// disabled; a failed request fails its task.
func New(opts Opts) (*Client, error) {
	if opts.Host == "" {
		return nil, errors.E(errors.Invalid, "elasticsearch host not set")
	}
	if opts.ScrollSize <= 0 {
		opts.ScrollSize = DefaultOpts.ScrollSize
	}
	if opts.ScrollKeepAlive <= 0 {
		opts.ScrollKeepAlive = DefaultOpts.ScrollKeepAlive
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
		ResponseHeaderTimeout: opts.Timeout,
		MaxIdleConnsPerHost:   4,
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{opts.Address()},
		Username:     opts.Username,
		Password:     opts.Password,
		Transport:    transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, errors.E(errors.Invalid, "creating elasticsearch client", err)
	}
	return &Client{es: es, opts: opts}, nil
}

// Dialer returns a backend.Dialer creating a fresh Client per call.
func Dialer(opts Opts) backend.Dialer {
	return func(context.Context) (backend.Client, error) {
		return New(opts)
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.Timeout)
}

// classify converts a transport error into a backend error kind.
func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.E(errors.Timeout, op, err)
	}
	if ctx.Err() == context.Canceled {
		return errors.E(errors.Canceled, op, err)
	}
	return errors.E(errors.Unavailable, op, err)
}

// decode reads a response, failing on HTTP errors, and unmarshals its body
// into v when v is non-nil.
func decode(op string, res *esapi.Response, v interface{}) error {
	defer res.Body.Close()
	if res.IsError() {
		body, _ := ioutil.ReadAll(io.LimitReader(res.Body, 4096))
		kind := errors.Other
		switch res.StatusCode {
		case http.StatusNotFound:
			kind = errors.NotExist
		case http.StatusBadRequest:
			kind = errors.Invalid
			if bytes.Contains(body, []byte("resource_already_exists_exception")) {
				kind = errors.Exists
			}
		case http.StatusServiceUnavailable, http.StatusTooManyRequests:
			kind = errors.Unavailable
		}
		return errors.E(kind, fmt.Sprintf("%s: %s: %s", op, res.Status(), strings.TrimSpace(string(body))))
	}
	if v == nil {
		return nil
	}
	d := json.NewDecoder(res.Body)
	d.UseNumber()
	if err := d.Decode(v); err != nil {
		return pkgerrors.Wrapf(err, "%s: decoding response", op)
	}
	return nil
}

func encode(v interface{}) (*bytes.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

type hit struct {
	Index  string          `json:"_index"`
	Type   string          `json:"_type"`
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []hit `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]struct {
		Value *json.Number `json:"value"`
	} `json:"aggregations"`
}

// toRecord decodes a hit. The record's size estimate is the length of its
// raw source.
func toRecord(h hit) (*record.Record, error) {
	src := map[string]interface{}{}
	d := json.NewDecoder(bytes.NewReader(h.Source))
	d.UseNumber()
	if err := d.Decode(&src); err != nil {
		return nil, pkgerrors.Wrapf(err, "decoding document %s", h.ID)
	}
	return &record.Record{ID: h.ID, Type: h.Type, Source: src, Size: len(h.Source)}, nil
}

func toRecords(hits []hit) ([]*record.Record, error) {
	recs := make([]*record.Record, 0, len(hits))
	for _, h := range hits {
		r, err := toRecord(h)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, nil
}

// Scan implements backend.Client using the scroll API.
func (c *Client) Scan(ctx context.Context, index string, q backend.Query) backend.Iterator {
	return &scroller{c: c, ctx: ctx, index: index, body: map[string]interface{}{"query": queryDSL(q)}}
}

// Search implements backend.Client.
func (c *Client) Search(ctx context.Context, index string, q backend.Query) ([]*record.Record, error) {
	body := map[string]interface{}{"query": queryDSL(q)}
	if q.Sort != nil {
		order := "asc"
		if q.Sort.Desc {
			order = "desc"
		}
		body["sort"] = []interface{}{map[string]interface{}{q.Sort.Field: map[string]string{"order": order}}}
	}
	if q.Size > 0 {
		body["size"] = q.Size
	}
	r, err := encode(body)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(r),
	)
	if err != nil {
		return nil, classify(ctx, "search "+index, err)
	}
	var resp searchResponse
	if err := decode("search "+index, res, &resp); err != nil {
		return nil, err
	}
	return toRecords(resp.Hits.Hits)
}

// MinMax implements backend.Client with min and max aggregations.
func (c *Client) MinMax(ctx context.Context, index string, q backend.Query, minField, maxField string) (backend.Bounds, error) {
	body := map[string]interface{}{
		"query": queryDSL(q),
		"size":  0,
		"aggs": map[string]interface{}{
			"lo": map[string]interface{}{"min": map[string]string{"field": minField}},
			"hi": map[string]interface{}{"max": map[string]string{"field": maxField}},
		},
	}
	r, err := encode(body)
	if err != nil {
		return backend.Bounds{}, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(r),
	)
	if err != nil {
		return backend.Bounds{}, classify(ctx, "aggregate "+index, err)
	}
	var resp searchResponse
	if err := decode("aggregate "+index, res, &resp); err != nil {
		return backend.Bounds{}, err
	}
	lo, hi := resp.Aggregations["lo"].Value, resp.Aggregations["hi"].Value
	if lo == nil || hi == nil {
		return backend.Bounds{}, nil
	}
	min, ok1 := record.AsInt(*lo)
	max, ok2 := record.AsInt(*hi)
	if !ok1 || !ok2 {
		return backend.Bounds{}, errors.E(errors.Invalid, fmt.Sprintf("aggregate %s: non-numeric bounds %v, %v", index, *lo, *hi))
	}
	return backend.Bounds{Min: min, Max: max, Valid: true}, nil
}

// Count implements backend.Client.
func (c *Client) Count(ctx context.Context, index string, q backend.Query) (int64, error) {
	r, err := encode(map[string]interface{}{"query": queryDSL(q)})
	if err != nil {
		return 0, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.es.Count(
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(index),
		c.es.Count.WithBody(r),
	)
	if err != nil {
		return 0, classify(ctx, "count "+index, err)
	}
	var resp struct {
		Count int64 `json:"count"`
	}
	if err := decode("count "+index, res, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Bulk implements backend.Client. Item-level failures are reported as an
// error naming the first failed document.
func (c *Client) Bulk(ctx context.Context, items []backend.Item) error {
	if len(items) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, it := range items {
		meta := map[string]interface{}{"_index": it.Command.Index, "_id": it.Command.ID}
		if err := enc.Encode(map[string]interface{}{"index": meta}); err != nil {
			return err
		}
		if err := enc.Encode(it.Doc); err != nil {
			return pkgerrors.Wrapf(err, "encoding document %s", it.Command.ID)
		}
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.es.Bulk(bytes.NewReader(buf.Bytes()), c.es.Bulk.WithContext(ctx))
	if err != nil {
		return classify(ctx, "bulk", err)
	}
	var resp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string          `json:"_id"`
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := decode("bulk", res, &resp); err != nil {
		return err
	}
	if !resp.Errors {
		return nil
	}
	failed := 0
	var first string
	for _, item := range resp.Items {
		for _, r := range item {
			if r.Status >= 300 {
				if failed == 0 {
					first = fmt.Sprintf("%s (status %d): %s", r.ID, r.Status, r.Error)
				}
				failed++
			}
		}
	}
	return errors.E(fmt.Sprintf("bulk: %d of %d documents failed; first: %s", failed, len(items), first))
}

// Exists implements backend.Client.
func (c *Client) Exists(ctx context.Context, index string) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.es.Indices.Exists([]string{index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, classify(ctx, "exists "+index, err)
	}
	defer res.Body.Close()
	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, errors.E(fmt.Sprintf("exists %s: %s", index, res.Status()))
}

// Create implements backend.Client.
func (c *Client) Create(ctx context.Context, index string, body map[string]interface{}) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	opts := []func(*esapi.IndicesCreateRequest){c.es.Indices.Create.WithContext(ctx)}
	if body != nil {
		r, err := encode(body)
		if err != nil {
			return err
		}
		opts = append(opts, c.es.Indices.Create.WithBody(r))
	}
	res, err := c.es.Indices.Create(index, opts...)
	if err != nil {
		return classify(ctx, "create "+index, err)
	}
	return decode("create "+index, res, nil)
}

// Refresh implements backend.Client.
func (c *Client) Refresh(ctx context.Context, index string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(index),
	)
	if err != nil {
		return classify(ctx, "refresh "+index, err)
	}
	return decode("refresh "+index, res, nil)
}

// SetRefreshInterval implements backend.Client.
func (c *Client) SetRefreshInterval(ctx context.Context, index, interval string) error {
	r, err := encode(map[string]interface{}{
		"index": map[string]interface{}{"refresh_interval": interval},
	})
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.es.Indices.PutSettings(r,
		c.es.Indices.PutSettings.WithContext(ctx),
		c.es.Indices.PutSettings.WithIndex(index),
	)
	if err != nil {
		return classify(ctx, "settings "+index, err)
	}
	return decode("settings "+index, res, nil)
}

// PutAlias implements backend.Client.
func (c *Client) PutAlias(ctx context.Context, index, alias string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.es.Indices.PutAlias([]string{index}, alias, c.es.Indices.PutAlias.WithContext(ctx))
	if err != nil {
		return classify(ctx, "alias "+index, err)
	}
	return decode("alias "+index, res, nil)
}

// Close implements backend.Client.
func (c *Client) Close() error {
	if t, ok := c.es.Transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// scroller pages through a scroll context.
type scroller struct {
	c     *Client
	ctx   context.Context
	index string
	body  map[string]interface{}

	started  bool
	scrollID string
	page     []hit
	cur      *record.Record
	err      error
	done     bool
}

func (s *scroller) Scan() bool {
	for len(s.page) == 0 {
		if s.done || s.err != nil {
			return false
		}
		s.fetch()
	}
	s.cur, s.err = toRecord(s.page[0])
	s.page = s.page[1:]
	return s.err == nil
}

func (s *scroller) fetch() {
	ctx, cancel := s.c.withTimeout(s.ctx)
	defer cancel()
	var (
		res *esapi.Response
		err error
	)
	if !s.started {
		s.started = true
		var r *bytes.Reader
		if r, err = encode(s.body); err != nil {
			s.err = err
			return
		}
		res, err = s.c.es.Search(
			s.c.es.Search.WithContext(ctx),
			s.c.es.Search.WithIndex(s.index),
			s.c.es.Search.WithBody(r),
			s.c.es.Search.WithScroll(s.c.opts.ScrollKeepAlive),
			s.c.es.Search.WithSize(s.c.opts.ScrollSize),
		)
	} else {
		res, err = s.c.es.Scroll(
			s.c.es.Scroll.WithContext(ctx),
			s.c.es.Scroll.WithScrollID(s.scrollID),
			s.c.es.Scroll.WithScroll(s.c.opts.ScrollKeepAlive),
		)
	}
	if err != nil {
		s.err = classify(ctx, "scan "+s.index, err)
		return
	}
	var resp searchResponse
	if s.err = decode("scan "+s.index, res, &resp); s.err != nil {
		return
	}
	s.scrollID = resp.ScrollID
	s.page = resp.Hits.Hits
	if len(s.page) == 0 {
		s.done = true
	}
}

func (s *scroller) Record() *record.Record { return s.cur }
func (s *scroller) Err() error             { return s.err }

func (s *scroller) Close() error {
	if s.scrollID != "" {
		res, err := s.c.es.ClearScroll(s.c.es.ClearScroll.WithScrollID(s.scrollID))
		if err != nil {
			log.Debug.Printf("clearing scroll on %s: %v", s.index, err)
		} else {
			res.Body.Close()
		}
		s.scrollID = ""
	}
	return s.err
}
