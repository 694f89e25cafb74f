// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// train_blur trains the EfficientNet-style classifier to tell the blur level of images, as generated
// by generate_blur.
//
// Hyperparameters can be set with --set, and the environment variables BS (batch size) and STEPS
// (number of train steps) override them.
package main

import (
	"flag"

	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/selfsupervised/pkg/classifier"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagDataDir    = flag.String("data", "~/work/pretext_blur/train", "Directory with one sub-directory of training images per class.")
	flagEvalDir    = flag.String("eval_data", "", "Directory with one sub-directory of validation images per class. If empty, no validation.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory save and load checkpoints from. If left empty, no checkpoints are created. Relative paths are taken from --data.")
	flagVerbosity  = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
)

func main() {
	ctx := classifier.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := check1(commandline.ParseContextSettings(ctx, *settings))
	config := check1(classifier.NewConfig(ctx, *flagDataDir, paramsSet))
	config.Verbosity = *flagVerbosity
	check(classifier.TrainModel(config, *flagCheckpoint, *flagEvalDir))
}

// check reports and exits on error.
func check(err error) {
	if err == nil {
		return
	}
	klog.Fatalf("Failed with error: %+v", err)
}

// check1 reports and exits on error. Otherwise returns the value passed.
func check1[T any](v T, err error) T {
	check(err)
	return v
}
