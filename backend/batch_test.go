// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package backend

import (
	"context"
	"strconv"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func cmd(i int) Command {
	return Command{Index: "dst", Type: "t", ID: strconv.Itoa(i)}
}

func TestBatchWriterCountThreshold(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	w := NewBatchWriter(m, DefaultBatchOpts)
	for i := 0; i < 4000; i++ {
		assert.NoError(t, w.Add(ctx, cmd(i), map[string]interface{}{"i": i}, 1))
	}
	expect.EQ(t, w.Flushes, 1)
	expect.EQ(t, w.Buffered(), 0)
	assert.NoError(t, w.Flush(ctx))
	expect.EQ(t, w.Flushes, 1)

	assert.NoError(t, w.Add(ctx, cmd(4000), map[string]interface{}{}, 1))
	expect.EQ(t, w.Flushes, 1)
	assert.NoError(t, w.Flush(ctx))
	expect.EQ(t, w.Flushes, 2)
	expect.EQ(t, w.Written, 4001)
	expect.EQ(t, m.BulkCalls(), 2)
	n, err := m.Count(ctx, "dst", Query{})
	assert.NoError(t, err)
	expect.EQ(t, n, int64(4001))
}

func TestBatchWriterByteThreshold(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	w := NewBatchWriter(m, DefaultBatchOpts)
	assert.NoError(t, w.Add(ctx, cmd(1), map[string]interface{}{}, 3<<20))
	expect.EQ(t, w.Flushes, 0)
	assert.NoError(t, w.Add(ctx, cmd(2), map[string]interface{}{}, 3<<20))
	expect.EQ(t, w.Flushes, 1)
	expect.EQ(t, w.Buffered(), 0)
}

func TestBatchWriterEmptyFlush(t *testing.T) {
	m := NewMemory()
	w := NewBatchWriter(m, BatchOpts{})
	assert.NoError(t, w.Flush(context.Background()))
	assert.NoError(t, w.Flush(context.Background()))
	expect.EQ(t, w.Flushes, 0)
	expect.EQ(t, m.BulkCalls(), 0)
}
