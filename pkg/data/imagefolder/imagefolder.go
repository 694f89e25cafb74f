// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package imagefolder preprocesses images of a class-per-folder dataset (`<dir>/<class>/<image>`)
// into normalized float32 samples, to be used as the preprocessing function of a loader.BatchLoader.
package imagefolder

import (
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

const (
	// DefaultWidth and DefaultHeight of the preprocessed images.
	DefaultWidth, DefaultHeight = 224, 224

	// NumChannels of the preprocessed images (RGB).
	NumChannels = 3
)

var (
	// ImageNetMean per RGB channel, for values in [0, 1].
	ImageNetMean = [NumChannels]float32{0.485, 0.456, 0.406}

	// ImageNetStd per RGB channel, for values in [0, 1].
	ImageNetStd = [NumChannels]float32{0.229, 0.224, 0.225}
)

// Sample is a preprocessed image, with values flattened in [height, width, NumChannels] order.
type Sample = []float32

// ClassIndex lists the sub-directories of dir, sorted, and maps each one to its position.
func ClassIndex(dir string) (classToIdx map[string]int, classes []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to list classes in %q", dir)
	}
	classToIdx = make(map[string]int)
	for _, entry := range entries {
		if entry.IsDir() {
			classToIdx[entry.Name()] = len(classes)
			classes = append(classes, entry.Name())
		}
	}
	if len(classes) == 0 {
		return nil, nil, errors.Errorf("no class sub-directories in %q", dir)
	}
	return
}

// Preprocessor resizes and normalizes images, and labels them by the name of their parent directory.
type Preprocessor struct {
	Width, Height int
	Mean, Std     [NumChannels]float32

	classToIdx map[string]int
	classes    []string
}

// NewPreprocessor for the images in dataDir, with the classes given by its sub-directories.
// Images are resized to width x height and normalized with ImageNetMean and ImageNetStd.
func NewPreprocessor(dataDir string, width, height int) (*Preprocessor, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid image size %dx%d", width, height)
	}
	classToIdx, classes, err := ClassIndex(dataDir)
	if err != nil {
		return nil, err
	}
	return &Preprocessor{
		Width:      width,
		Height:     height,
		Mean:       ImageNetMean,
		Std:        ImageNetStd,
		classToIdx: classToIdx,
		classes:    classes,
	}, nil
}

// Classes returns the sorted class names, the label of an image is the position of its class.
func (p *Preprocessor) Classes() []string {
	return p.classes
}

// SampleSize is the number of float32 values of each Sample.
func (p *Preprocessor) SampleSize() int {
	return p.Width * p.Height * NumChannels
}

// Label returns the class index of the image in path, given by the name of its parent directory.
func (p *Preprocessor) Label(path string) (int, error) {
	class := filepath.Base(filepath.Dir(path))
	idx, found := p.classToIdx[class]
	if !found {
		return 0, errors.Errorf("unknown class %q for image %q", class, path)
	}
	return idx, nil
}

// Preprocess reads the image in path, converts it to RGB, resizes it and normalizes each channel with
// (value/255 - Mean) / Std. It can be used as a loader.PreprocessFn.
func (p *Preprocessor) Preprocess(path string) (Sample, int, error) {
	label, err := p.Label(path)
	if err != nil {
		return nil, 0, err
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to read image %q", path)
	}
	resized := imaging.Resize(img, p.Width, p.Height, imaging.Linear)
	sample := make(Sample, p.SampleSize())
	idx := 0
	for y := range p.Height {
		row := resized.Pix[y*resized.Stride:]
		for x := range p.Width {
			for c := range NumChannels {
				v := float32(row[x*4+c]) / 255
				sample[idx] = (v - p.Mean[c]) / p.Std[c]
				idx++
			}
		}
	}
	return sample, label, nil
}
