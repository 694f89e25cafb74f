// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package classifier trains an EfficientNet-style image classifier on a class-per-folder dataset,
// for instance the blur levels generated by package blur, reading the images with a loader.BatchLoader.
package classifier

import (
	"fmt"
	"math/rand"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gomlx/ui/gonb/plotly"
	"github.com/gomlx/selfsupervised/pkg/data/imagefolder"
	"github.com/gomlx/selfsupervised/pkg/data/loader"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Hyperparameters not used by the model itself.
const (
	ParamBatchSize      = "batch_size"
	ParamTrainSteps     = "train_steps"
	ParamNumWorkers     = "num_workers"
	ParamQueueCapacity  = "queue_capacity"
	ParamImageSize      = "image_size"
	ParamNumCheckpoints = "num_checkpoints"
	ParamEvalSteps      = "eval_steps"

	// ParamSeed of the random sampling of batches. If 0, a time based seed is used.
	ParamSeed = "seed"
)

// Environment variables overriding hyperparameters, see ApplyEnv.
const (
	EnvBatchSize  = "BS"
	EnvTrainSteps = "STEPS"
)

// ParamsExcludedFromSaving are the hyperparameters not saved along the checkpoints, so they can be changed
// when training continues.
var ParamsExcludedFromSaving = []string{
	ParamTrainSteps, ParamNumWorkers, ParamQueueCapacity, ParamNumCheckpoints, ParamEvalSteps, ParamSeed,
	plotly.ParamPlots,
}

// CreateDefaultContext sets the context with default hyperparameters to use with TrainModel.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.ResetRNGState()
	ctx.SetParams(map[string]any{
		ParamBatchSize:      16,
		ParamTrainSteps:     2048,
		ParamNumWorkers:     4,
		ParamQueueCapacity:  loader.DefaultQueueCapacity,
		ParamImageSize:      imagefolder.DefaultWidth,
		ParamNumCheckpoints: 3,
		ParamEvalSteps:      20, // Number of batches sampled for the final evaluation.
		ParamSeed:           0,

		// plotly.ParamPlots collects evaluation points during training, saved along the checkpoint,
		// and plots them when running in a notebook.
		plotly.ParamPlots: false,

		ParamNumClasses:    6,
		ParamDropoutRate:   0.2,
		ParamWidth:         1.0,
		ParamDepth:         1.0,
		ParamSqueezeExcite: true,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.001,
	})
	return ctx
}

// ApplyEnv overrides the batch size and the number of train steps with the environment variables
// EnvBatchSize and EnvTrainSteps, if set. It returns the names of the hyperparameters set.
func ApplyEnv(ctx *context.Context) (paramsSet []string, err error) {
	for _, override := range []struct{ env, param string }{
		{EnvBatchSize, ParamBatchSize},
		{EnvTrainSteps, ParamTrainSteps},
	} {
		value, found := os.LookupEnv(override.env)
		if !found || value == "" {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return nil, errors.Errorf("invalid value %q for environment variable %s: it must be a positive integer",
				value, override.env)
		}
		ctx.SetParam(override.param, n)
		paramsSet = append(paramsSet, override.param)
	}
	return
}

// Config of a training session.
type Config struct {
	// Ctx holds the hyperparameters, see CreateDefaultContext.
	Ctx *context.Context

	// TrainDir with one sub-directory of images per class.
	TrainDir string

	// ParamsSet are the hyperparameters set by the user, they are not overwritten by the values loaded
	// from a checkpoint.
	ParamsSet []string

	// Verbosity level: 0 only shows the progress bar, 1 adds a summary, 2 prints all hyperparameters.
	Verbosity int
}

// NewConfig for training on trainDir, with hyperparameters from ctx overridden by the environment (see ApplyEnv).
func NewConfig(ctx *context.Context, trainDir string, paramsSet []string) (Config, error) {
	envParams, err := ApplyEnv(ctx)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Ctx:       ctx,
		TrainDir:  trainDir,
		ParamsSet: append(slices.Clone(paramsSet), envParams...),
		Verbosity: 1,
	}, nil
}

// newLoader creates and starts a BatchLoader for the images in dir.
func newLoader(ctx *context.Context, preprocessor *imagefolder.Preprocessor, dir string, batchSize int, rng *rand.Rand) (
	*loader.BatchLoader[imagefolder.Sample], error) {
	numWorkers := context.GetParamOr(ctx, ParamNumWorkers, 4)
	batchLoader, err := loader.New(dir, preprocessor.Preprocess, batchSize, numWorkers)
	if err != nil {
		return nil, err
	}
	batchLoader.QueueCapacity(context.GetParamOr(ctx, ParamQueueCapacity, loader.DefaultQueueCapacity))
	if rng != nil {
		batchLoader.WithRand(rng)
	}
	if err = batchLoader.Start(); err != nil {
		return nil, err
	}
	return batchLoader, nil
}

// TrainModel trains the classifier on config.TrainDir for the configured number of steps.
//
// If checkpointPath is given, the model is loaded from it (if it exists) and saved to it during training.
// A relative checkpointPath is taken relative to config.TrainDir.
// If evalDir is given, the model is evaluated at the end on batches sampled from it, along with
// batches sampled from the training data.
func TrainModel(config Config, checkpointPath, evalDir string) error {
	return exceptions.TryCatch[error](func() { trainModel(config, checkpointPath, evalDir) })
}

func trainModel(config Config, checkpointPath, evalDir string) {
	ctx := config.Ctx
	trainDir := must.M1(fsutil.ReplaceTildeInDir(config.TrainDir))
	batchSize := context.GetParamOr(ctx, ParamBatchSize, 0)
	if batchSize <= 0 {
		exceptions.Panicf("batch size must be > 0 (maybe it was not set?): %d", batchSize)
	}
	imageSize := context.GetParamOr(ctx, ParamImageSize, imagefolder.DefaultWidth)

	// Checkpoints: loaded if it already exists, and saved as we train.
	var checkpoint *checkpoints.Handler
	if checkpointPath != "" {
		checkpoint = must.M1(checkpoints.Build(ctx).
			DirFromBase(checkpointPath, trainDir).
			Keep(context.GetParamOr(ctx, ParamNumCheckpoints, 3)).
			ExcludeParams(append(slices.Clone(config.ParamsSet), ParamsExcludedFromSaving...)...).
			Done())
		fmt.Printf("Checkpointing model to %q\n", checkpoint.Dir())
	}
	if config.Verbosity >= 2 {
		fmt.Println(commandline.SprintContextSettings(ctx))
	}

	// Data: the classes are the sub-directories of trainDir.
	preprocessor := must.M1(imagefolder.NewPreprocessor(trainDir, imageSize, imageSize))
	numClasses := context.GetParamOr(ctx, ParamNumClasses, 0)
	if numClasses != len(preprocessor.Classes()) {
		exceptions.Panicf("%q has %d classes %q, but hyperparameter %q is %d",
			trainDir, len(preprocessor.Classes()), preprocessor.Classes(), ParamNumClasses, numClasses)
	}
	var rng *rand.Rand
	if seed := context.GetParamOr(ctx, ParamSeed, 0); seed != 0 {
		rng = rand.New(rand.NewSource(int64(seed)))
	}
	trainLoader := must.M1(newLoader(ctx, preprocessor, trainDir, batchSize, rng))
	defer func() {
		trainLoader.Stop()
		klog.V(1).Infof("train loader: %s", trainLoader.Stats())
	}()
	fmt.Printf("Training on %d images of %d classes %q, with batch size %d\n",
		len(trainLoader.Index()), numClasses, preprocessor.Classes(), batchSize)
	evalSteps := context.GetParamOr(ctx, ParamEvalSteps, 20)
	trainDS := NewDataset("train", trainLoader, imageSize, imageSize)
	trainEvalDS := NewDataset("train-eval", trainLoader, imageSize, imageSize).WithMaxSteps(evalSteps)
	var evalDatasets []train.Dataset
	if evalDir != "" {
		evalDir = must.M1(fsutil.ReplaceTildeInDir(evalDir))
		evalPreprocessor := must.M1(imagefolder.NewPreprocessor(evalDir, imageSize, imageSize))
		if !slices.Equal(evalPreprocessor.Classes(), preprocessor.Classes()) {
			exceptions.Panicf("evaluation classes %q in %q don't match the training classes %q",
				evalPreprocessor.Classes(), evalDir, preprocessor.Classes())
		}
		evalLoader := must.M1(newLoader(ctx, evalPreprocessor, evalDir, batchSize, nil))
		defer evalLoader.Stop()
		evalDatasets = append(evalDatasets, NewDataset("validation", evalLoader, imageSize, imageSize).WithMaxSteps(evalSteps))
	}
	evalDatasets = append(evalDatasets, trainEvalDS)

	// Metrics we are interested.
	meanAccuracyMetric := metrics.NewSparseCategoricalAccuracy("Mean Accuracy", "#acc")
	movingAccuracyMetric := metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)

	backend := backends.MustNew()
	if config.Verbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}
	ctx = ctx.In("model")
	trainer := train.NewTrainer(backend, ctx, ModelGraph,
		losses.SparseCategoricalCrossEntropyLogits,
		optimizers.FromContext(ctx),
		[]metrics.Interface{movingAccuracyMetric}, // trainMetrics
		[]metrics.Interface{meanAccuracyMetric})   // evalMetrics

	loop := train.NewLoop(trainer)
	commandline.AttachProgressBar(loop)
	if checkpoint != nil {
		period := time.Minute * 3
		train.PeriodicCallback(loop, period, true, "saving checkpoint", 100,
			func(loop *train.Loop, metrics []*tensors.Tensor) error {
				return checkpoint.Save()
			})
	}
	if context.GetParamOr(ctx, plotly.ParamPlots, false) {
		_ = plotly.New().
			WithCheckpoint(checkpoint).
			Dynamic().
			WithDatasets(evalDatasets...).
			ScheduleExponential(loop, 200, 1.2).
			WithBatchNormalizationAveragesUpdate(trainEvalDS)
	}

	numTrainSteps := context.GetParamOr(ctx, ParamTrainSteps, 0)
	globalStep := int(optimizers.GetGlobalStep(ctx))
	if globalStep > 0 {
		trainer.SetContext(ctx.Reuse())
	}
	if globalStep < numTrainSteps {
		_ = must.M1(loop.RunSteps(trainDS, numTrainSteps-globalStep))
		if config.Verbosity >= 1 {
			fmt.Printf("\t[Step %d] median train step: %d microseconds\n",
				loop.LoopStep, loop.MedianTrainStepDuration().Microseconds())
		}
		if must.M1(batchnorm.UpdateAverages(trainer, trainEvalDS)) {
			if config.Verbosity >= 1 {
				fmt.Println("\tUpdated batch normalization mean/variances averages.")
			}
			if checkpoint != nil {
				must.M(checkpoint.Save())
			}
		}
	} else {
		fmt.Printf("\t - target %s=%d already reached. To train further, set a number additional "+
			"to current global step.\n", ParamTrainSteps, numTrainSteps)
	}

	if evalDir != "" || config.Verbosity >= 1 {
		must.M(commandline.ReportEval(trainer, evalDatasets...))
	}
}
