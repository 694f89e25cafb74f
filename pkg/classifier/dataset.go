// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"context"
	"io"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/selfsupervised/pkg/data/imagefolder"
	"github.com/gomlx/selfsupervised/pkg/data/loader"
	"github.com/pkg/errors"
)

// Dataset implements train.Dataset on top of a loader.BatchLoader of preprocessed images.
//
// It yields:
//
//   - spec: a pointer to the Dataset.
//   - inputs: one tensor with the images, shaped `[batch_size, height, width, 3]` (float32).
//   - labels: one tensor with the class indices, shaped `[batch_size, 1]` (int32).
//
// It is infinite by default, since the loader samples batches forever. See WithMaxSteps.
type Dataset struct {
	name          string
	loader        *loader.BatchLoader[imagefolder.Sample]
	width, height int

	// ctx bounds the wait for each batch.
	ctx context.Context

	mu       sync.Mutex
	maxSteps int
	step     int
}

// NewDataset yields batches from a started batchLoader, of images with the given width and height.
func NewDataset(name string, batchLoader *loader.BatchLoader[imagefolder.Sample], width, height int) *Dataset {
	return &Dataset{
		name:   name,
		loader: batchLoader,
		width:  width,
		height: height,
		ctx:    context.Background(),
	}
}

// WithMaxSteps makes the Dataset return io.EOF after maxSteps batches. Reset restarts the count.
// If maxSteps <= 0 the Dataset is infinite.
func (ds *Dataset) WithMaxSteps(maxSteps int) *Dataset {
	ds.maxSteps = maxSteps
	return ds
}

// WithContext sets the context used while waiting for batches: if it is cancelled, Yield returns its error.
func (ds *Dataset) WithContext(ctx context.Context) *Dataset {
	ds.ctx = ctx
	return ds
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Reset implements train.Dataset. It only restarts the count of steps, the loader keeps sampling randomly.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.step = 0
}

// Yield implements train.Dataset.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	if ds.maxSteps > 0 && ds.step >= ds.maxSteps {
		ds.mu.Unlock()
		err = io.EOF
		return
	}
	ds.step++
	ds.mu.Unlock()

	spec = ds
	batch, err := ds.loader.Get(ds.ctx)
	if err != nil {
		err = errors.WithMessagef(err, "dataset %q", ds.name)
		return
	}
	images, labelsT, err := ds.batchToTensors(batch)
	if err != nil {
		return
	}
	inputs = []*tensors.Tensor{images}
	labels = []*tensors.Tensor{labelsT}
	return
}

// batchToTensors stacks the samples of the batch.
func (ds *Dataset) batchToTensors(batch loader.Batch[imagefolder.Sample]) (images, labels *tensors.Tensor, err error) {
	sampleSize := ds.width * ds.height * imagefolder.NumChannels
	flatImages := make([]float32, 0, len(batch)*sampleSize)
	flatLabels := make([]int32, len(batch))
	for ii, example := range batch {
		if len(example.Sample) != sampleSize {
			return nil, nil, errors.Errorf("dataset %q: image %q has %d values, expected %d (%dx%dx%d)",
				ds.name, example.Path, len(example.Sample), sampleSize, ds.height, ds.width, imagefolder.NumChannels)
		}
		flatImages = append(flatImages, example.Sample...)
		flatLabels[ii] = int32(example.Label)
	}
	images = tensors.FromFlatDataAndDimensions(flatImages, len(batch), ds.height, ds.width, imagefolder.NumChannels)
	labels = tensors.FromFlatDataAndDimensions(flatLabels, len(batch), 1)
	return
}
