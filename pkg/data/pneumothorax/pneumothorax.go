// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pneumothorax indexes the Pneumothorax binary classification dataset (x-rays).
//
// Download it from https://www.kaggle.com/datasets/volodymyrgavrysh/pneumothorax-binary-classification-task
// and point Load to the directory holding "train_data.csv" (e.g. "small_train_data_set/small_train_data_set").
package pneumothorax

import (
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/selfsupervised/pkg/data/split"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// IndexFileName is the CSV file, in the data directory, listing the images and their labels.
	IndexFileName = "train_data.csv"

	// TargetColumn holds the class label, "0" or "1".
	TargetColumn = "target"

	// FileNameColumn holds the image path, relative to the data directory.
	FileNameColumn = "file_name"
)

// Data maps each class to the paths of its images.
type Data struct {
	ByClass map[string][]string
}

// Load reads IndexFileName from dataDir and returns the class to image paths index.
// Paths are joined with dataDir, and kept in the order of the CSV file.
func Load(dataDir string) (*Data, error) {
	indexPath := filepath.Join(dataDir, IndexFileName)
	f, err := os.Open(indexPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open pneumothorax index")
	}
	defer func() { _ = f.Close() }()
	data, err := Parse(f, dataDir)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading %q", indexPath)
	}
	return data, nil
}

// Parse the CSV contents from r. Paths in the FileNameColumn are joined with dataDir.
func Parse(r io.Reader, dataDir string) (*Data, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to parse CSV")
	}
	names := df.Names()
	for _, column := range []string{TargetColumn, FileNameColumn} {
		if !slices.Contains(names, column) {
			return nil, errors.Errorf("CSV is missing column %q (columns found: %q)", column, names)
		}
	}
	targets := df.Col(TargetColumn).Records()
	fileNames := df.Col(FileNameColumn).Records()
	data := &Data{ByClass: make(map[string][]string)}
	for ii, target := range targets {
		target = strings.TrimSpace(target)
		data.ByClass[target] = append(data.ByClass[target], filepath.Join(dataDir, fileNames[ii]))
	}
	return data, nil
}

// Classes returns the sorted class names.
func (d *Data) Classes() []string {
	classes := make([]string, 0, len(d.ByClass))
	for class := range d.ByClass {
		classes = append(classes, class)
	}
	slices.Sort(classes)
	return classes
}

// NumExamples returns the total number of images.
func (d *Data) NumExamples() int {
	count := 0
	for _, paths := range d.ByClass {
		count += len(paths)
	}
	return count
}

// Split each class into train and validation, so both keep the class proportions.
// Classes are visited in sorted order, so the same rng seed gives the same split.
func (d *Data) Split(trainFraction float64, rng *rand.Rand) (train, valid *Data, err error) {
	train = &Data{ByClass: make(map[string][]string)}
	valid = &Data{ByClass: make(map[string][]string)}
	for _, class := range d.Classes() {
		train.ByClass[class], valid.ByClass[class], err = split.Paths(d.ByClass[class], trainFraction, rng)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "splitting class %q", class)
		}
	}
	return
}

// Export copies the images to outDir/splitName/<class>/<base name>, the class-per-folder layout read by
// the blur generation and the training.
func (d *Data) Export(outDir, splitName string) error {
	for _, class := range d.Classes() {
		classDir := filepath.Join(outDir, splitName, class)
		if err := os.MkdirAll(classDir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create %q", classDir)
		}
		for _, src := range d.ByClass[class] {
			if err := copyFile(src, filepath.Join(classDir, filepath.Base(src))); err != nil {
				return err
			}
		}
		klog.V(1).Infof("exported %d images of class %q to %q", len(d.ByClass[class]), class, classDir)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q", src)
	}
	defer func() { _ = in.Close() }()
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", dst)
	}
	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return errors.Wrapf(err, "failed to copy %q to %q", src, dst)
	}
	return errors.Wrapf(out.Close(), "failed to close %q", dst)
}
