// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// ParamAlexNetHiddenDim is the context parameter with the width of AlexNet's two hidden dense layers.
const ParamAlexNetHiddenDim = "alexnet_hidden_dim"

// alexNetConvs lists the (channels, kernel, stride, pool after) of the convolutional stack.
var alexNetConvs = []struct {
	channels, kernel, stride int
	pool                     bool
}{
	{64, 11, 4, true},
	{192, 5, 1, true},
	{384, 3, 1, false},
	{256, 3, 1, false},
	{256, 3, 1, true},
}

// AlexNetModelGraph builds AlexNet for small images: five convolutions with max-pooling,
// followed by two dense layers with dropout and the linear readout.
//
// Reference:
// - ImageNet Classification with Deep Convolutional Neural Networks, NIPS 2012.
func AlexNetModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec
	ctx = ctx.In("model")
	embeddings := AlexNetEmbeddings(ctx, inputs[0])
	logits := layers.Dense(ctx.In("readout"), embeddings, true, numClasses(ctx))
	return []*Node{logits}
}

// AlexNetEmbeddings returns the output of the last hidden dense layer.
func AlexNetEmbeddings(ctx *context.Context, images *Node) *Node {
	g := images.Graph()
	batchSize := images.Shape().Dimensions[0]
	x := images
	for ii, c := range alexNetConvs {
		x = layers.Convolution(ctx.Inf("conv_%d", ii), x).
			Channels(c.channels).KernelSize(c.kernel).Strides(c.stride).PadSame().Done()
		x = activations.Relu(x)
		// Pooling windows don't fit images already reduced below 3x3.
		if c.pool && x.Shape().Dimensions[1] >= 3 && x.Shape().Dimensions[2] >= 3 {
			x = MaxPool(x).Window(3).Strides(2).Done()
		}
	}
	x = Reshape(x, batchSize, -1)

	hiddenDim := context.GetParamOr(ctx, ParamAlexNetHiddenDim, 4096)
	dropoutRate := context.GetParamOr(ctx, ParamDropoutRate, 0.5)
	for ii := range 2 {
		ctx := ctx.Inf("dense_%d", ii)
		if dropoutRate > 0 {
			x = layers.Dropout(ctx, x, Scalar(g, x.DType(), dropoutRate))
		}
		x = layers.Dense(ctx, x, true, hiddenDim)
		x = activations.Relu(x)
	}
	return x
}
