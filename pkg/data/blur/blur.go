// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package blur generates a synthetic classification dataset ("pretext task") out of unlabeled images:
// each image is blurred with a Gaussian kernel at several sigma levels, and the sigma becomes the class.
//
// The output is laid out as `<output>/<split>/<class>/<image base name>`, where the class is given by ClassName.
package blur

import (
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gomlx/selfsupervised/internal/workerspool"
	"github.com/gomlx/selfsupervised/pkg/data/loader"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	// DefaultSigmas used by Generate if none are given.
	DefaultSigmas = []float64{0.5, 1.0, 1.5, 2.0, 3.0}

	// ImageExtensions are the file extensions (lower case) considered images.
	ImageExtensions = []string{".png", ".jpg", ".jpeg"}
)

// OriginalClassName is the class of the unblurred copies, see Config.IncludeOriginal.
const OriginalClassName = "original"

// ClassName returns the class name for images blurred with sigma: "blur_<sigma*10>" if sigma*10 is an integer
// (0.5 -> "blur_5", 1.0 -> "blur_10"), otherwise sigma with the decimal point removed (0.25 -> "blur_025").
func ClassName(sigma float64) string {
	scaled := sigma * 10
	if rounded := math.Round(scaled); math.Abs(scaled-rounded) < 1e-9 {
		return fmt.Sprintf("blur_%d", int(rounded))
	}
	return "blur_" + strings.ReplaceAll(strconv.FormatFloat(sigma, 'f', -1, 64), ".", "")
}

// IsImage returns whether the path has one of the ImageExtensions.
func IsImage(path string) bool {
	return slices.Contains(ImageExtensions, strings.ToLower(filepath.Ext(path)))
}

// WriteBlurred writes one blurred copy of the image in imgPath for each sigma, to
// `<outputBase>/<split>/<ClassName(sigma)>/<base name of imgPath>`.
//
// It returns the paths written.
func WriteBlurred(imgPath, split, outputBase string, sigmas []float64) ([]string, error) {
	img, err := imaging.Open(imgPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read image %q", imgPath)
	}
	baseName := filepath.Base(imgPath)
	written := make([]string, 0, len(sigmas))
	for _, sigma := range sigmas {
		dst := filepath.Join(outputBase, split, ClassName(sigma), baseName)
		if err = saveImage(imaging.Blur(img, sigma), dst); err != nil {
			return written, err
		}
		written = append(written, dst)
	}
	return written, nil
}

func saveImage(img image.Image, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %q", dst)
	}
	return errors.Wrapf(imaging.Save(img, dst), "failed to save %q", dst)
}

// Config for Generate.
type Config struct {
	// InputDir holds one sub-directory per split, each with images (in any sub-directory structure).
	InputDir string

	// OutputDir where to write the blurred dataset.
	OutputDir string

	// Splits to process, sub-directories of InputDir. If empty, all sub-directories of InputDir are used.
	Splits []string

	// Sigmas of the Gaussian blur, one class per sigma. If empty DefaultSigmas is used.
	Sigmas []float64

	// IncludeOriginal also writes an unblurred copy of each image, under the class OriginalClassName.
	IncludeOriginal bool

	// Parallelism is the number of images processed in parallel. If 0, runtime.NumCPU() is used.
	Parallelism int

	// Verbose displays a progress bar.
	Verbose bool
}

// Generate the blurred dataset described by config. It returns the number of images written.
//
// Images are processed in parallel. It stops at the first error, which is returned.
func Generate(config Config) (numWritten int, err error) {
	sigmas := config.Sigmas
	if len(sigmas) == 0 {
		sigmas = DefaultSigmas
	}
	splits := config.Splits
	if len(splits) == 0 {
		splits, err = subDirectories(config.InputDir)
		if err != nil {
			return 0, err
		}
		if len(splits) == 0 {
			return 0, errors.Errorf("no split sub-directories found in %q", config.InputDir)
		}
	}

	inputs := make(map[string][]string, len(splits))
	total := 0
	for _, split := range splits {
		paths, err := loader.WalkIndex(filepath.Join(config.InputDir, split))
		if err != nil {
			return 0, errors.WithMessagef(err, "split %q", split)
		}
		paths = slices.DeleteFunc(paths, func(p string) bool { return !IsImage(p) })
		inputs[split] = paths
		total += len(paths)
	}
	klog.V(1).Infof("blurring %d images from %q with sigmas %v", total, config.InputDir, sigmas)

	var pBar *progressbar.ProgressBar
	if config.Verbose {
		pBar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Blurring"),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
			progressbar.OptionThrottle(250*time.Millisecond),
		)
	}

	parallelism := config.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	pool := workerspool.New().SetMaxParallelism(parallelism)
	var count atomic.Int64
schedule:
	for _, split := range splits {
		for _, imgPath := range inputs[split] {
			if pool.Err() != nil {
				break schedule
			}
			pool.WaitToStart(func() error {
				written, err := WriteBlurred(imgPath, split, config.OutputDir, sigmas)
				count.Add(int64(len(written)))
				if err != nil {
					return err
				}
				if config.IncludeOriginal {
					img, err := imaging.Open(imgPath)
					if err != nil {
						return errors.Wrapf(err, "failed to read image %q", imgPath)
					}
					dst := filepath.Join(config.OutputDir, split, OriginalClassName, filepath.Base(imgPath))
					if err = saveImage(img, dst); err != nil {
						return err
					}
					count.Add(1)
				}
				if pBar != nil {
					_ = pBar.Add(1)
				}
				return nil
			})
		}
	}
	err = pool.Wait()
	if pBar != nil {
		_ = pBar.Close()
		fmt.Println()
	}
	return int(count.Load()), err
}

// subDirectories returns the sorted names of the directories in dir.
func subDirectories(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %q", dir)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}
