// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package visualize draws a grid of sample images of a class-per-folder dataset: one row per class.
package visualize

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
	"k8s.io/klog/v2"
)

const (
	// DefaultOutputPath where Save writes the grid if no path is given.
	DefaultOutputPath = "classification_visualization.png"

	// DefaultNumImages per class.
	DefaultNumImages = 5

	// TileSize is the size of each image in the grid.
	TileSize = 2 * vg.Inch

	// thumbnailSize in pixels, images are shrunk to fit it before plotting.
	thumbnailSize = 256
)

var imageExtensions = []string{".png", ".jpg", ".jpeg"}

// ClassFolders returns the sorted names of the sub-directories of dir, each one a class.
func ClassFolders(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list classes in %q", dir)
	}
	var classes []string
	for _, entry := range entries {
		if entry.IsDir() {
			classes = append(classes, entry.Name())
		}
	}
	return classes, nil
}

// ImageFiles returns the paths to the first n images (.png, .jpg, .jpeg) in classDir, in name order.
func ImageFiles(classDir string, n int) ([]string, error) {
	entries, err := os.ReadDir(classDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list images in %q", classDir)
	}
	var paths []string
	for _, entry := range entries {
		if len(paths) >= n {
			break
		}
		if entry.Type().IsRegular() && slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(entry.Name()))) {
			paths = append(paths, filepath.Join(classDir, entry.Name()))
		}
	}
	return paths, nil
}

// Grid draws numImages images of each class found in folder, one class per row, with the class name
// as the title of the first image of the row.
//
// Classes with fewer images leave the remaining tiles empty.
func Grid(folder string, numImages int) (*vgimg.Canvas, error) {
	if numImages <= 0 {
		return nil, errors.Errorf("invalid number of images per class %d", numImages)
	}
	classes, err := ClassFolders(folder)
	if err != nil {
		return nil, err
	}
	if len(classes) == 0 {
		return nil, errors.Errorf("no class folders found in %q", folder)
	}

	plots := make([][]*plot.Plot, len(classes))
	numDrawn := make([]int, len(classes))
	for row, class := range classes {
		plots[row] = make([]*plot.Plot, numImages)
		paths, err := ImageFiles(filepath.Join(folder, class), numImages)
		if err != nil {
			return nil, err
		}
		for col, path := range paths {
			img, err := imaging.Open(path)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read image %q", path)
			}
			img = imaging.Fit(img, thumbnailSize, thumbnailSize, imaging.Lanczos)
			bounds := img.Bounds()
			p := plot.New()
			p.HideAxes()
			if col == 0 {
				p.Title.Text = class
			}
			p.Add(plotter.NewImage(img, 0, 0, float64(bounds.Dx()), float64(bounds.Dy())))
			plots[row][col] = p
		}
		for col := len(paths); col < numImages; col++ {
			empty := plot.New()
			empty.HideAxes()
			plots[row][col] = empty
		}
		numDrawn[row] = len(paths)
		klog.V(1).Infof("class %q: %d images", class, len(paths))
	}

	canvas := vgimg.New(vg.Length(numImages)*TileSize, vg.Length(len(classes))*TileSize)
	dc := draw.New(canvas)
	tiles := draw.Tiles{
		Rows: len(classes),
		Cols: numImages,
		PadX: vg.Millimeter,
		PadY: vg.Millimeter,
	}
	canvases := plot.Align(plots, tiles, dc)
	for row := range plots {
		for col := range numDrawn[row] {
			plots[row][col].Draw(canvases[row][col])
		}
	}
	return canvas, nil
}

// Save the Grid of images of folder as a PNG in outputPath. If outputPath is empty, DefaultOutputPath is used.
func Save(folder string, numImages int, outputPath string) error {
	if outputPath == "" {
		outputPath = DefaultOutputPath
	}
	canvas, err := Grid(folder, numImages)
	if err != nil {
		return err
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", outputPath)
	}
	if _, err = (vgimg.PngCanvas{Canvas: canvas}).WriteTo(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write %q", outputPath)
	}
	return errors.Wrapf(f.Close(), "failed to close %q", outputPath)
}
