// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package denorm

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/esgenomics/backend"
)

// Task is an independent unit of work. It receives a client dialed for it
// alone.
type Task struct {
	Name string
	Run  func(ctx context.Context, client backend.Client) (Stats, error)
}

// Workers returns the size of the pool used for n tasks.
func Workers(n, maxWorkers int) int {
	w := runtime.NumCPU()
	if n < w {
		w = n
	}
	if maxWorkers > 0 && maxWorkers < w {
		w = maxWorkers
	}
	return w
}

// Schedule runs tasks on at most Workers(len(tasks), maxWorkers) goroutines.
// Each task dials its own client. A task that fails or panics is logged
// with source and the task name and reported in the returned failures; the
// other tasks continue.
func Schedule(ctx context.Context, dial backend.Dialer, source string, tasks []Task, maxWorkers int) (Stats, []Failure) {
	var total Stats
	if len(tasks) == 0 {
		return total, nil
	}
	var (
		stats = make([]Stats, len(tasks))
		errs  = make([]error, len(tasks))
	)
	workers := Workers(len(tasks), maxWorkers)
	log.Debug.Printf("running %d tasks on %d workers", len(tasks), workers)
	_ = traverse.Limit(workers).Each(len(tasks), func(i int) error {
		stats[i], errs[i] = runTask(ctx, dial, tasks[i])
		if errs[i] != nil {
			log.Error.Printf("denormalizing records from source %s: task %s failed: %v",
				source, tasks[i].Name, errs[i])
		}
		return nil
	})
	var failures []Failure
	for i := range tasks {
		total.Add(stats[i])
		if errs[i] != nil {
			failures = append(failures, Failure{Task: tasks[i].Name, Err: errs[i]})
		}
	}
	return total, failures
}

func runTask(ctx context.Context, dial backend.Dialer, task Task) (stats Stats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.E(fmt.Sprintf("panic: %v\n%s", r, debug.Stack()))
		}
	}()
	client, err := dial(ctx)
	if err != nil {
		return stats, err
	}
	defer func() {
		if e := client.Close(); e != nil && err == nil {
			err = e
		}
	}()
	return task.Run(ctx, client)
}
