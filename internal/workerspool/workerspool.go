// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs tasks in goroutines, with a limit on how many run at the same time.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool of workers. Use New to create it, WaitToStart to run tasks and Wait to wait for all of them to finish.
type Pool struct {
	// maxParallelism is the limit of tasks running at the same time.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning is decreased.
	numRunning int

	// firstErr is the first error returned by a task.
	firstErr error
}

// New returns a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	w := &Pool{maxParallelism: runtime.NumCPU()}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// MaxParallelism is the limit of tasks running in parallel.
// If 0 parallelism is disabled, and if -1 parallelism is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism. A value of 0 disables parallelism (tasks run inline) and a negative
// value makes it unlimited.
//
// It should only be changed before any task starts running, otherwise the behavior is undefined.
// It returns the pool, so calls can be cascaded.
func (w *Pool) SetMaxParallelism(maxParallelism int) *Pool {
	w.maxParallelism = maxParallelism
	return w
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// WaitToStart waits until there is a worker available and runs the task in a goroutine.
//
// If parallelism is disabled (maxParallelism is 0), it runs the task inline and returns when it is finished.
//
// The first error returned by a task is kept and returned by Wait and Err.
func (w *Pool) WaitToStart(task func() error) {
	if w.maxParallelism == 0 {
		w.record(task())
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		err := task()
		w.mu.Lock()
		if err != nil && w.firstErr == nil {
			w.firstErr = err
		}
		w.numRunning--
		w.cond.Broadcast()
		w.mu.Unlock()
	}()
}

func (w *Pool) record(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil && w.firstErr == nil {
		w.firstErr = err
	}
}

// Err returns the first error returned by a task so far, if any.
// Used by producers to stop scheduling new tasks early.
func (w *Pool) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.firstErr
}

// Wait for all started tasks to finish, and returns the first error returned by any of them.
func (w *Pool) Wait() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.numRunning > 0 {
		w.cond.Wait()
	}
	return w.firstErr
}
