// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package backend

import (
	"context"

	"github.com/grailbio/base/log"
)

// BatchOpts sets the flush thresholds of a BatchWriter.
type BatchOpts struct {
	// BatchSize is the number of buffered documents that forces a flush.
	BatchSize int
	// MaxBytes is the buffered byte estimate above which a flush is forced.
	MaxBytes int
	// HeaderSize is the per-document overhead added to the byte estimate
	// for the bulk command line.
	HeaderSize int
}

// DefaultBatchOpts are the thresholds used when none are given.
var DefaultBatchOpts = BatchOpts{
	BatchSize:  4000,
	MaxBytes:   4 << 20,
	HeaderSize: 140,
}

// BatchWriter buffers documents for bulk indexing and submits them when
// either the document count or the byte estimate crosses its threshold.
// Byte accounting is an estimate used only to bound request sizes.
//
// A BatchWriter belongs to one task; it is not safe for concurrent use.
// Callers must call Flush once more when done.
type BatchWriter struct {
	client Client
	opts   BatchOpts
	items  []Item
	bytes  int

	// Flushes is the number of bulk requests submitted.
	Flushes int
	// Written is the number of documents submitted.
	Written int
}

// NewBatchWriter returns a writer submitting to client. Non-positive
// BatchSize and MaxBytes take their defaults.
func NewBatchWriter(client Client, opts BatchOpts) *BatchWriter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchOpts.BatchSize
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultBatchOpts.MaxBytes
	}
	return &BatchWriter{client: client, opts: opts}
}

// Add buffers a document and flushes if a threshold has been crossed.
func (w *BatchWriter) Add(ctx context.Context, cmd Command, doc map[string]interface{}, size int) error {
	w.items = append(w.items, Item{Command: cmd, Doc: doc, Size: size})
	w.bytes += size + w.opts.HeaderSize
	return w.MaybeFlush(ctx)
}

// Buffered returns the number of documents waiting to be flushed.
func (w *BatchWriter) Buffered() int { return len(w.items) }

// MaybeFlush flushes if the buffered count reaches BatchSize or the byte
// estimate exceeds MaxBytes.
func (w *BatchWriter) MaybeFlush(ctx context.Context) error {
	if len(w.items) >= w.opts.BatchSize || w.bytes > w.opts.MaxBytes {
		return w.Flush(ctx)
	}
	return nil
}

// Flush submits all buffered documents. It is a no-op on an empty buffer.
// The buffer is cleared even if the submission fails.
func (w *BatchWriter) Flush(ctx context.Context) error {
	if len(w.items) == 0 {
		return nil
	}
	items, n := w.items, w.bytes
	w.items, w.bytes = nil, 0
	w.Flushes++
	log.Debug.Printf("bulk indexing %d documents (~%d bytes)", len(items), n)
	if err := w.client.Bulk(ctx, items); err != nil {
		return err
	}
	w.Written += len(items)
	return nil
}
