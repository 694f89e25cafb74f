// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// generate_blur creates the blur classification dataset: each image of each split of the input directory
// is blurred with every sigma, and saved under `<output>/<split>/blur_<sigma>/`.
package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/selfsupervised/pkg/data/blur"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagInput       = flag.String("input", "~/work/pneumothorax/split", "Directory with one sub-directory per split (e.g. \"train\" and \"valid\") of unlabeled images.")
	flagOutput      = flag.String("output", "~/work/pretext_blur", "Directory where to write the blurred dataset.")
	flagSplits      = flag.String("splits", "", "Comma-separated list of splits to process. If empty, all sub-directories of --input.")
	flagSigmas      = flag.String("sigmas", "", "Comma-separated list of blur sigmas, one class per sigma. Defaults to "+formatSigmas(blur.DefaultSigmas)+".")
	flagOriginal    = flag.Bool("original", false, "Also include the unblurred images as the class \""+blur.OriginalClassName+"\".")
	flagParallelism = flag.Int("parallelism", 0, "Number of images processed in parallel. If 0, the number of cores.")
	flagQuiet       = flag.Bool("quiet", false, "Don't display a progress bar.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	config := blur.Config{
		InputDir:        check1(fsutil.ReplaceTildeInDir(*flagInput)),
		OutputDir:       check1(fsutil.ReplaceTildeInDir(*flagOutput)),
		Sigmas:          check1(parseSigmas(*flagSigmas)),
		IncludeOriginal: *flagOriginal,
		Parallelism:     *flagParallelism,
		Verbose:         !*flagQuiet,
	}
	if *flagSplits != "" {
		config.Splits = strings.Split(*flagSplits, ",")
	}
	numWritten := check1(blur.Generate(config))
	fmt.Printf("Wrote %s images to %q\n", humanize.Comma(int64(numWritten)), config.OutputDir)
}

func parseSigmas(list string) ([]float64, error) {
	if list == "" {
		return nil, nil
	}
	var sigmas []float64
	for _, part := range strings.Split(list, ",") {
		sigma, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || sigma <= 0 {
			return nil, errors.Errorf("invalid sigma %q in --sigmas=%q: it must be a positive number", part, list)
		}
		sigmas = append(sigmas, sigma)
	}
	return sigmas, nil
}

func formatSigmas(sigmas []float64) string {
	parts := make([]string, len(sigmas))
	for ii, sigma := range sigmas {
		parts[ii] = strconv.FormatFloat(sigma, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// check reports and exits on error.
func check(err error) {
	if err == nil {
		return
	}
	klog.Fatalf("Fatal error: %+v", err)
}

// check1 reports and exits on error. Otherwise returns the value passed.
func check1[T any](v T, err error) T {
	check(err)
	return v
}
