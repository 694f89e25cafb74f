// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package loader

import (
	"math/rand"
	"runtime/debug"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// worker owns everything it needs to produce batches: it shares nothing with its siblings except the queue,
// the stop channel and the counters.
type worker[S any] struct {
	id         int
	index      []string
	preprocess PreprocessFn[S]
	batchSize  int
	rng        *rand.Rand

	// perm is a permutation of the index positions, partially reshuffled for each batch.
	perm []int
}

func newWorker[S any](id int, index []string, preprocess PreprocessFn[S], batchSize int, seed int64) *worker[S] {
	w := &worker[S]{
		id:         id,
		index:      index,
		preprocess: preprocess,
		batchSize:  batchSize,
		rng:        rand.New(rand.NewSource(seed)),
		perm:       make([]int, len(index)),
	}
	for ii := range w.perm {
		w.perm[ii] = ii
	}
	return w
}

// result of preprocessing one path.
type result[S any] struct {
	example Example[S]
	err     error
}

func (w *worker[S]) run(queue chan<- Batch[S], stop <-chan struct{}, c *counters) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		batch, err := w.produce()
		if err != nil {
			c.failedSamples.Add(1)
			c.droppedBatches.Add(1)
			klog.Errorf("BatchLoader worker #%d dropped a batch: %+v", w.id, err)
			continue
		}
		select {
		case <-stop:
			return
		case queue <- batch:
			c.batches.Add(1)
		}
	}
}

// sample returns batchSize distinct index positions drawn uniformly at random, using a partial Fisher-Yates
// shuffle. The returned slice is only valid until the next call.
func (w *worker[S]) sample() []int {
	n := len(w.perm)
	for ii := range w.batchSize {
		jj := ii + w.rng.Intn(n-ii)
		w.perm[ii], w.perm[jj] = w.perm[jj], w.perm[ii]
	}
	return w.perm[:w.batchSize]
}

// produce one batch, stopping at the first failed example.
func (w *worker[S]) produce() (Batch[S], error) {
	batch := make(Batch[S], 0, w.batchSize)
	for _, idx := range w.sample() {
		r := w.preprocessOne(w.index[idx])
		if r.err != nil {
			return nil, r.err
		}
		batch = append(batch, r.example)
	}
	return batch, nil
}

func (w *worker[S]) preprocessOne(path string) (r result[S]) {
	r.example.Path = path
	defer func() {
		if p := recover(); p != nil {
			r.err = errors.Errorf("panic while preprocessing %q: %v\n%s", path, p, debug.Stack())
		}
	}()
	r.example.Sample, r.example.Label, r.err = w.preprocess(path)
	if r.err != nil {
		r.err = errors.Wrapf(r.err, "failed to preprocess %q", path)
	}
	return
}
