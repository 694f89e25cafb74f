// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package split partitions lists of files into train and validation sets.
//
// All randomness comes from a *rand.Rand owned by the caller: using the same seed yields the same partition.
package split

import (
	"math"
	"math/rand"
	"slices"

	"github.com/gomlx/selfsupervised/pkg/data/loader"
	"github.com/pkg/errors"
)

// Names of the splits used when exporting datasets to disk.
const (
	Train      = "train"
	Validation = "valid"
)

// Paths splits paths into train and validation, with round(len(paths)*trainFraction) paths in train.
//
// If rng is not nil the paths are shuffled (a copy, paths is not modified) before splitting, otherwise the
// first paths go to train. Every path ends up in exactly one of the two sets.
func Paths(paths []string, trainFraction float64, rng *rand.Rand) (train, valid []string, err error) {
	if trainFraction < 0 || trainFraction > 1 || math.IsNaN(trainFraction) {
		err = errors.Errorf("train fraction must be in [0, 1], got %g", trainFraction)
		return
	}
	shuffled := slices.Clone(paths)
	if rng != nil {
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
	}
	numTrain := int(math.Round(float64(len(shuffled)) * trainFraction))
	train = shuffled[:numTrain:numTrain]
	valid = shuffled[numTrain:]
	return
}

// Dir indexes every file under root (see loader.WalkIndex) and splits them with Paths.
func Dir(root string, trainFraction float64, rng *rand.Rand) (train, valid []string, err error) {
	paths, err := loader.WalkIndex(root)
	if err != nil {
		return nil, nil, err
	}
	return Paths(paths, trainFraction, rng)
}
