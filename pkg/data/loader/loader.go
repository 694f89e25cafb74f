// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package loader implements BatchLoader, a pool of background workers that continuously sample random
// batches of files from a fixed index, preprocess them and push them onto a bounded queue, so that a
// training loop doesn't wait on I/O or on CPU-bound preprocessing.
//
// Example:
//
//	l, err := loader.New(dataDir, preprocessFn, 16, 4)
//	if err != nil { ... }
//	if err = l.WithRand(rand.New(rand.NewSource(42))).Start(); err != nil { ... }
//	defer l.Stop()
//	for step := range numSteps {
//		batch, err := l.Get(ctx)
//		...
//	}
//
// Delivery is best-effort: if preprocessing any sample of a batch fails, the failure is logged (with its stack
// trace) and the whole batch is dropped. Failures are never retried and never reach the consumer.
package loader

import (
	"context"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultQueueCapacity is the number of finished batches buffered for the consumer.
const DefaultQueueCapacity = 16

var (
	// ErrAlreadyStarted is returned by BatchLoader.Start if it is called more than once.
	ErrAlreadyStarted = errors.New("loader already started")

	// ErrNotStarted is returned by BatchLoader.Get if BatchLoader.Start was never called.
	ErrNotStarted = errors.New("loader not started")

	// ErrStopped is returned by BatchLoader.Get (and BatchLoader.Start) once BatchLoader.Stop was called.
	ErrStopped = errors.New("loader stopped")
)

// PreprocessFn converts the file at path to one example: its sample and label.
//
// It is called concurrently from all workers, so it must be safe for concurrent use.
// A panic is handled as if the function returned an error.
type PreprocessFn[S any] func(path string) (sample S, label int, err error)

// Example is one preprocessed sample, its label and the path it was read from.
type Example[S any] struct {
	Path   string
	Sample S
	Label  int
}

// Batch is a group of examples produced together. Within a batch there are no repeated paths.
type Batch[S any] []Example[S]

// Paths returns the source path of each example in the batch.
func (b Batch[S]) Paths() []string {
	paths := make([]string, len(b))
	for ii, example := range b {
		paths[ii] = example.Path
	}
	return paths
}

// BatchLoader samples random batches from a fixed index of files in the background.
// Create it with New or NewFromPaths, optionally configure it, and call Start.
type BatchLoader[S any] struct {
	index      []string
	preprocess PreprocessFn[S]

	batchSize, numWorkers, queueCapacity int
	rng                                  *rand.Rand

	// mu protects queue, the wait group registration and closing of stop.
	mu       sync.Mutex
	queue    chan Batch[S]
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	counters counters
}

// New creates a BatchLoader over all files found (recursively) under root.
//
// The directory is walked synchronously here, and the resulting index is never changed afterward.
// It returns ErrEmptyIndex if there are no files, and ErrBatchTooLarge if batchSize is larger than the number
// of files.
func New[S any](root string, preprocess PreprocessFn[S], batchSize, numWorkers int) (*BatchLoader[S], error) {
	paths, err := WalkIndex(root)
	if err != nil {
		return nil, err
	}
	return NewFromPaths(paths, preprocess, batchSize, numWorkers)
}

// NewFromPaths creates a BatchLoader sampling from the given paths. The slice is copied.
func NewFromPaths[S any](paths []string, preprocess PreprocessFn[S], batchSize, numWorkers int) (*BatchLoader[S], error) {
	if len(paths) == 0 {
		return nil, ErrEmptyIndex
	}
	if preprocess == nil {
		return nil, errors.New("loader requires a preprocess function")
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be > 0, got %d", batchSize)
	}
	if numWorkers <= 0 {
		return nil, errors.Errorf("number of workers must be > 0, got %d", numWorkers)
	}
	if batchSize > len(paths) {
		return nil, errors.Wrapf(ErrBatchTooLarge, "batch size %d, but only %d files indexed", batchSize, len(paths))
	}
	return &BatchLoader[S]{
		index:         slices.Clone(paths),
		preprocess:    preprocess,
		batchSize:     batchSize,
		numWorkers:    numWorkers,
		queueCapacity: DefaultQueueCapacity,
		stop:          make(chan struct{}),
	}, nil
}

// QueueCapacity sets the number of finished batches that can wait for the consumer. Workers block once it is full.
// Default is DefaultQueueCapacity.
//
// This must be called before Start. It returns the loader, so calls can be cascaded.
func (l *BatchLoader[S]) QueueCapacity(n int) *BatchLoader[S] {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queue != nil {
		klog.Warningf("BatchLoader.QueueCapacity(%d) called after Start, ignored.", n)
		return l
	}
	if n < 0 {
		n = 0
	}
	l.queueCapacity = n
	return l
}

// WithRand sets the random number generator used to seed the workers. Each worker gets its own generator seeded
// from rng during Start, so rng itself is not used concurrently and the caller keeps ownership of it.
//
// If not set, workers are seeded from the current time.
//
// This must be called before Start. It returns the loader, so calls can be cascaded.
func (l *BatchLoader[S]) WithRand(rng *rand.Rand) *BatchLoader[S] {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queue != nil {
		klog.Warning("BatchLoader.WithRand called after Start, ignored.")
		return l
	}
	l.rng = rng
	return l
}

// Index returns a copy of the paths sampled by the loader.
func (l *BatchLoader[S]) Index() []string { return slices.Clone(l.index) }

// BatchSize returns the number of examples in each batch.
func (l *BatchLoader[S]) BatchSize() int { return l.batchSize }

// NumWorkers returns the number of workers started by Start.
func (l *BatchLoader[S]) NumWorkers() int { return l.numWorkers }

// Stats returns a snapshot of the loader counters.
func (l *BatchLoader[S]) Stats() Stats { return l.counters.snapshot() }

// Start the workers. From now on they continuously produce batches until Stop is called.
//
// Calling it more than once returns ErrAlreadyStarted, and calling it after Stop returns ErrStopped.
func (l *BatchLoader[S]) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queue != nil {
		klog.Warning("BatchLoader.Start called more than once!?")
		return ErrAlreadyStarted
	}
	select {
	case <-l.stop:
		return ErrStopped
	default:
	}

	rng := l.rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UTC().UnixNano()))
	}
	l.queue = make(chan Batch[S], l.queueCapacity)
	for ii := range l.numWorkers {
		w := newWorker(ii, l.index, l.preprocess, l.batchSize, rng.Int63())
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			w.run(l.queue, l.stop, &l.counters)
		}()
	}
	klog.V(1).Infof("BatchLoader started: %d workers, batch size %d, %d files indexed, queue capacity %d",
		l.numWorkers, l.batchSize, len(l.index), l.queueCapacity)
	return nil
}

// Get blocks until a batch is available and returns it. Batches are returned in the order they were completed,
// and there is no ordering across workers.
//
// It returns ErrNotStarted before Start and ErrStopped after Stop, in which case any queued batches are discarded.
// If all samples keep failing, no batch is ever produced and Get blocks until ctx is done.
func (l *BatchLoader[S]) Get(ctx context.Context) (Batch[S], error) {
	l.mu.Lock()
	queue := l.queue
	l.mu.Unlock()
	select {
	case <-l.stop:
		return nil, ErrStopped
	default:
	}
	if queue == nil {
		return nil, ErrNotStarted
	}

	select {
	case batch := <-queue:
		return batch, nil
	case <-l.stop:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop signals the workers to finish and waits for all of them to exit.
//
// Workers only check for the signal between batches (or while waiting on a full queue), so it may take up to the
// time of producing one batch to return. After it returns no more batches are produced.
//
// It is safe to call it more than once, and before Start.
func (l *BatchLoader[S]) Stop() {
	l.mu.Lock()
	l.stopOnce.Do(func() { close(l.stop) })
	l.mu.Unlock()
	l.wg.Wait()
	klog.V(1).Infof("BatchLoader stopped: %s", l.Stats())
}
