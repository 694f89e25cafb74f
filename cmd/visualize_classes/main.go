// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// visualize_classes saves a grid with sample images of each class of a class-per-folder dataset.
package main

import (
	"flag"
	"fmt"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/selfsupervised/pkg/data/visualize"
	"k8s.io/klog/v2"
)

var (
	flagDir       = flag.String("dir", "~/work/pretext_blur/train", "Directory with one sub-directory of images per class.")
	flagNumImages = flag.Int("num_images", visualize.DefaultNumImages, "Number of images displayed per class.")
	flagOutput    = flag.String("output", visualize.DefaultOutputPath, "Path of the PNG file to write.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	dir, err := fsutil.ReplaceTildeInDir(*flagDir)
	if err == nil {
		err = visualize.Save(dir, *flagNumImages, *flagOutput)
	}
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
	fmt.Printf("Saved %q\n", *flagOutput)
}
