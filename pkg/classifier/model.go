// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
)

const (
	// ParamNumClasses is the number of classes of the classifier.
	ParamNumClasses = "num_classes"

	// ParamDropoutRate before the final dense layer. Set to 0 to disable.
	ParamDropoutRate = "dropout_rate"

	// ParamWidth multiplies the number of channels of every layer.
	ParamWidth = "effnet_width"

	// ParamDepth multiplies the number of repeats of every stage.
	ParamDepth = "effnet_depth"

	// ParamSqueezeExcite enables the squeeze-and-excitation in the MBConv blocks.
	ParamSqueezeExcite = "effnet_se"
)

// stage of MBConv blocks.
type stage struct {
	expandRatio, kernelSize, stride, channels, repeats int
}

// Stages of EfficientNet-B0, the sizes before the width and depth multipliers.
var stages = []stage{
	{expandRatio: 1, kernelSize: 3, stride: 1, channels: 16, repeats: 1},
	{expandRatio: 6, kernelSize: 3, stride: 2, channels: 24, repeats: 2},
	{expandRatio: 6, kernelSize: 5, stride: 2, channels: 40, repeats: 2},
	{expandRatio: 6, kernelSize: 3, stride: 2, channels: 80, repeats: 3},
	{expandRatio: 6, kernelSize: 5, stride: 1, channels: 112, repeats: 3},
	{expandRatio: 6, kernelSize: 5, stride: 2, channels: 192, repeats: 4},
	{expandRatio: 6, kernelSize: 3, stride: 1, channels: 320, repeats: 1},
}

const (
	stemChannels = 32
	headChannels = 1280
	seRatio      = 0.25
)

// roundChannels scales channels by width, rounding to a multiple of 8 without going down more than 10%.
func roundChannels(channels int, width float64) int {
	const divisor = 8
	scaled := float64(channels) * width
	rounded := max(divisor, int(scaled+divisor/2)/divisor*divisor)
	if float64(rounded) < 0.9*scaled {
		rounded += divisor
	}
	return rounded
}

// roundRepeats scales repeats by depth, rounding up.
func roundRepeats(repeats int, depth float64) int {
	return int(math.Ceil(float64(repeats) * depth))
}

// ModelGraph implements train.ModelFn: an EfficientNet-style convolutional classifier.
//
// It takes the images shaped `[batch_size, height, width, 3]` and returns the logits shaped
// `[batch_size, num_classes]`.
func ModelGraph(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
	_ = spec // Not used.
	images := inputs[0]
	if images.Rank() != 4 {
		exceptions.Panicf("ModelGraph expects images shaped [batch_size, height, width, 3], got %s", images.Shape())
	}
	g := images.Graph()
	dtype := images.DType()
	batchSize := images.Shape().Dimensions[0]
	numClasses := context.GetParamOr(ctx, ParamNumClasses, 6)
	width := context.GetParamOr(ctx, ParamWidth, 1.0)
	depth := context.GetParamOr(ctx, ParamDepth, 1.0)
	useSE := context.GetParamOr(ctx, ParamSqueezeExcite, true)

	// Stem.
	x := layers.Convolution(ctx.In("stem"), images).
		Channels(roundChannels(stemChannels, width)).KernelSize(3).Strides(2).PadSame().UseBias(false).Done()
	x = batchnorm.New(ctx.In("stem_bn"), x, -1).Done()
	x = activations.Swish(x)

	// MBConv blocks.
	blockIdx := 0
	for _, s := range stages {
		channels := roundChannels(s.channels, width)
		for repeat := range roundRepeats(s.repeats, depth) {
			stride := s.stride
			if repeat > 0 {
				stride = 1
			}
			x = mbConv(ctx.Inf("block_%02d", blockIdx), x, s.expandRatio, s.kernelSize, stride, channels, useSE)
			blockIdx++
		}
	}

	// Head.
	x = layers.Convolution(ctx.In("head"), x).
		Channels(roundChannels(headChannels, width)).KernelSize(1).PadSame().UseBias(false).Done()
	x = batchnorm.New(ctx.In("head_bn"), x, -1).Done()
	x = activations.Swish(x)
	x = graph.ReduceMean(x, 1, 2) // Global average pooling.

	if dropoutRate := context.GetParamOr(ctx, ParamDropoutRate, 0.0); dropoutRate > 0 {
		x = layers.DropoutNormalize(ctx.In("dropout"), x, graph.Scalar(g, dtype, dropoutRate), true)
	}
	logits := layers.Dense(ctx.In("logits"), x, true, numClasses)
	logits.AssertDims(batchSize, numClasses)
	return []*graph.Node{logits}
}

// mbConv is the inverted residual block: 1x1 expansion, depthwise convolution, optional
// squeeze-and-excitation and 1x1 projection, with a residual connection when the shapes match.
func mbConv(ctx *context.Context, x *graph.Node, expandRatio, kernelSize, stride, outChannels int, useSE bool) *graph.Node {
	inChannels := x.Shape().Dimensions[3]
	residual := x
	expanded := inChannels * expandRatio
	if expandRatio != 1 {
		x = layers.Convolution(ctx.In("expand"), x).Channels(expanded).KernelSize(1).PadSame().UseBias(false).Done()
		x = batchnorm.New(ctx.In("expand_bn"), x, -1).Done()
		x = activations.Swish(x)
	}

	// Depthwise: one group per channel.
	x = layers.Convolution(ctx.In("depthwise"), x).
		Channels(expanded).KernelSize(kernelSize).Strides(stride).PadSame().
		ChannelGroupCount(expanded).UseBias(false).Done()
	x = batchnorm.New(ctx.In("depthwise_bn"), x, -1).Done()
	x = activations.Swish(x)

	if useSE {
		x = squeezeExcite(ctx.In("se"), x, max(1, int(float64(inChannels)*seRatio)))
	}

	x = layers.Convolution(ctx.In("project"), x).Channels(outChannels).KernelSize(1).PadSame().UseBias(false).Done()
	x = batchnorm.New(ctx.In("project_bn"), x, -1).Done()
	if stride == 1 && inChannels == outChannels {
		x = graph.Add(x, residual)
	}
	return x
}

// squeezeExcite scales each channel of x by a gate computed from the channel averages.
func squeezeExcite(ctx *context.Context, x *graph.Node, reducedChannels int) *graph.Node {
	dims := x.Shape().Dimensions
	batchSize, channels := dims[0], dims[3]
	gate := graph.ReduceMean(x, 1, 2)
	gate = layers.Dense(ctx.In("reduce"), gate, true, reducedChannels)
	gate = activations.Swish(gate)
	gate = layers.Dense(ctx.In("expand"), gate, true, channels)
	gate = graph.Sigmoid(gate)
	gate = graph.Reshape(gate, batchSize, 1, 1, channels)
	return graph.Mul(x, gate)
}
