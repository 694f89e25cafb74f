// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// pneumothorax_index prints the number of images per class of the Pneumothorax dataset and, optionally,
// exports a stratified train/validation split in the class-per-folder layout.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/selfsupervised/internal/tables"
	"github.com/gomlx/selfsupervised/pkg/data/pneumothorax"
	"github.com/gomlx/selfsupervised/pkg/data/split"
	"k8s.io/klog/v2"
)

var (
	flagDataDir       = flag.String("data", "~/work/pneumothorax/small_train_data_set", "Directory with the Pneumothorax images and "+pneumothorax.IndexFileName+".")
	flagSplitOut      = flag.String("split_out", "", "If set, export a train/validation split of the images to this directory.")
	flagTrainFraction = flag.Float64("train_fraction", 0.8, "Fraction of each class used for training, when exporting a split.")
	flagSeed          = flag.Int64("seed", 0, "Seed used for the split. If 0, a time based seed is used.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	dataDir := check1(fsutil.ReplaceTildeInDir(*flagDataDir))
	data := check1(pneumothorax.Load(dataDir))
	fmt.Println(countsTable(data, "").String())
	if *flagSplitOut == "" {
		return
	}

	seed := *flagSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	train, valid := check2(data.Split(*flagTrainFraction, rand.New(rand.NewSource(seed))))
	outDir := check1(fsutil.ReplaceTildeInDir(*flagSplitOut))
	check(train.Export(outDir, split.Train))
	check(valid.Export(outDir, split.Validation))
	fmt.Printf("Exported split (seed=%d) to %q:\n", seed, outDir)
	table := countsTable(train, split.Train)
	for _, class := range valid.Classes() {
		table.Row(false, split.Validation, class, humanize.Comma(int64(len(valid.ByClass[class]))))
	}
	table.Row(true, split.Validation, "total", humanize.Comma(int64(valid.NumExamples())))
	fmt.Println(table.String())
}

// countsTable lists the number of images per class. If splitName is given, it is added as a first column.
func countsTable(data *pneumothorax.Data, splitName string) *tables.Table {
	var table *tables.Table
	row := func(highlight bool, class string, count int) {
		if splitName != "" {
			table.Row(highlight, splitName, class, humanize.Comma(int64(count)))
		} else {
			table.Row(highlight, class, humanize.Comma(int64(count)))
		}
	}
	if splitName != "" {
		table = tables.New([]string{"Split", "Class", "Images"}, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	} else {
		table = tables.New([]string{"Class", "Images"}, lipgloss.Left, lipgloss.Right)
	}
	for _, class := range data.Classes() {
		row(false, class, len(data.ByClass[class]))
	}
	row(true, "total", data.NumExamples())
	return table
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

// check2 reports and exits on error. Otherwise returns the values passed.
func check2[T1, T2 any](v1 T1, v2 T2, err error) (T1, T2) {
	check(err)
	return v1, v2
}
