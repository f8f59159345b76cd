// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/esgenomics/record"
)

// Memory is an in-process document store implementing Client. It is safe
// for concurrent use, so a single Memory may be handed to many tasks; its
// Dialer returns the store itself.
type Memory struct {
	mu      sync.Mutex
	indices map[string]*memIndex
	aliases map[string][]string
	// bulks counts Bulk calls, for tests.
	bulks int
}

type memIndex struct {
	body    map[string]interface{}
	docs    map[string]*record.Record
	refresh string
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		indices: map[string]*memIndex{},
		aliases: map[string][]string{},
	}
}

// Dialer returns a Dialer handing out m.
func (m *Memory) Dialer() Dialer {
	return func(context.Context) (Client, error) { return m, nil }
}

// Put stores recs in index directly, creating the index if needed. It is
// meant for seeding test fixtures.
func (m *Memory) Put(index string, recs ...*record.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	x := m.index(index)
	for _, r := range recs {
		c := r.Clone()
		c.EstimateSize()
		x.docs[c.ID] = c
	}
}

// Get returns a stored document, or nil.
func (m *Memory) Get(index, id string) *record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	x, ok := m.indices[index]
	if !ok {
		return nil
	}
	return x.docs[id]
}

// BulkCalls returns the number of Bulk requests served.
func (m *Memory) BulkCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bulks
}

// Aliases returns the aliases linked to index.
func (m *Memory) Aliases(index string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.aliases[index]...)
}

// RefreshInterval returns the last interval set on index.
func (m *Memory) RefreshInterval(index string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if x, ok := m.indices[index]; ok {
		return x.refresh
	}
	return ""
}

// index returns the named index, creating it. REQUIRES: m.mu is held.
func (m *Memory) index(name string) *memIndex {
	x, ok := m.indices[name]
	if !ok {
		x = &memIndex{docs: map[string]*record.Record{}}
		m.indices[name] = x
	}
	return x
}

// match returns copies of the matching documents of index ordered by id.
func (m *Memory) match(index string, q Query) []*record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	x, ok := m.indices[index]
	if !ok {
		return nil
	}
	var out []*record.Record
	for _, r := range x.docs {
		if q.Matches(r.Source) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Scan implements Client.
func (m *Memory) Scan(ctx context.Context, index string, q Query) Iterator {
	if err := ctx.Err(); err != nil {
		return NewSliceIterator(nil, err)
	}
	return NewSliceIterator(m.match(index, q), nil)
}

// Search implements Client.
func (m *Memory) Search(ctx context.Context, index string, q Query) ([]*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := m.match(index, q)
	if s := q.Sort; s != nil {
		key := func(r *record.Record) int64 {
			v, _ := r.Field(s.Field)
			n, _ := record.AsInt(v)
			return n
		}
		sort.SliceStable(out, func(i, j int) bool {
			if s.Desc {
				return key(out[i]) > key(out[j])
			}
			return key(out[i]) < key(out[j])
		})
	}
	if q.Size > 0 && len(out) > q.Size {
		out = out[:q.Size]
	}
	return out, nil
}

// MinMax implements Client.
func (m *Memory) MinMax(ctx context.Context, index string, q Query, minField, maxField string) (Bounds, error) {
	if err := ctx.Err(); err != nil {
		return Bounds{}, err
	}
	var b Bounds
	for _, r := range m.match(index, q) {
		lo, ok1 := r.Field(minField)
		hi, ok2 := r.Field(maxField)
		if !ok1 || !ok2 {
			continue
		}
		l, ok1 := record.AsInt(lo)
		h, ok2 := record.AsInt(hi)
		if !ok1 || !ok2 {
			continue
		}
		if !b.Valid || l < b.Min {
			b.Min = l
		}
		if !b.Valid || h > b.Max {
			b.Max = h
		}
		b.Valid = true
	}
	return b, nil
}

// Count implements Client.
func (m *Memory) Count(ctx context.Context, index string, q Query) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return int64(len(m.match(index, q))), nil
}

// Bulk implements Client.
func (m *Memory) Bulk(ctx context.Context, items []Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulks++
	for _, it := range items {
		if it.Command.Index == "" || it.Command.ID == "" {
			return errors.E(errors.Invalid, fmt.Sprintf("bulk item without index or id: %+v", it.Command))
		}
		x := m.index(it.Command.Index)
		x.docs[it.Command.ID] = &record.Record{
			ID:     it.Command.ID,
			Type:   it.Command.Type,
			Source: it.Doc,
			Size:   it.Size,
		}
	}
	return nil
}

// Exists implements Client.
func (m *Memory) Exists(ctx context.Context, index string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.indices[index]
	return ok, nil
}

// Create implements Client.
func (m *Memory) Create(ctx context.Context, index string, body map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indices[index]; ok {
		return errors.E(errors.Exists, "index", index, "already exists")
	}
	x := m.index(index)
	x.body = body
	return nil
}

// Refresh implements Client. Writes are visible immediately.
func (m *Memory) Refresh(ctx context.Context, index string) error { return ctx.Err() }

// SetRefreshInterval implements Client.
func (m *Memory) SetRefreshInterval(ctx context.Context, index, interval string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	x, ok := m.indices[index]
	if !ok {
		return errors.E(errors.NotExist, "index", index)
	}
	x.refresh = interval
	return nil
}

// PutAlias implements Client.
func (m *Memory) PutAlias(ctx context.Context, index, alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indices[index]; !ok {
		return errors.E(errors.NotExist, "index", index)
	}
	for _, a := range m.aliases[index] {
		if a == alias {
			return nil
		}
	}
	m.aliases[index] = append(m.aliases[index], alias)
	return nil
}

// Close implements Client. The store outlives its clients.
func (m *Memory) Close() error { return nil }
