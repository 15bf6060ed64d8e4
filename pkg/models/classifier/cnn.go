// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
)

// Context parameters of the "cnn" model.
const (
	ParamCnnNumLayers      = "cnn_num_layers"
	ParamCnnChannels       = "cnn_channels"
	ParamCnnEmbeddingsSize = "cnn_embeddings_size"
)

// CnnModelGraph builds a small residual convolutional model, cheaper than AlexNet.
func CnnModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec
	ctx = ctx.In("model")
	embeddings := CnnEmbeddings(ctx, inputs[0])
	logits := fnn.New(ctx.In("readout"), embeddings, numClasses(ctx)).NumHiddenLayers(0, 0).Done()
	return []*Node{logits}
}

// CnnEmbeddings applies the convolution blocks, halving the image until it is at most 8x8,
// and projects the flattened result to the embeddings size.
func CnnEmbeddings(ctx *context.Context, images *Node) *Node {
	g := images.Graph()
	batchSize := images.Shape().Dimensions[0]
	numLayers := context.GetParamOr(ctx, ParamCnnNumLayers, 3)
	numChannels := context.GetParamOr(ctx, ParamCnnChannels, 16)
	dropoutRate := context.GetParamOr(ctx, ParamDropoutRate, 0.1)

	x := images
	for layerIdx := range numLayers {
		ctx := ctx.Inf("%03d_conv", layerIdx)
		residual := x
		x = layers.Convolution(ctx, x).Channels(numChannels).KernelSize(3).PadSame().Done()
		x = activations.Relu(x)
		if dropoutRate > 0 {
			x = layers.Dropout(ctx, x, Scalar(g, x.DType(), dropoutRate))
		}
		if residual.Shape().Equal(x.Shape()) {
			x = Add(x, residual)
		}
		if x.Shape().Dimensions[1] > 8 {
			x = MaxPool(x).Window(2).Done()
		}
	}
	x = Reshape(x, batchSize, -1)
	return fnn.New(ctx.In("embeddings"), x, context.GetParamOr(ctx, ParamCnnEmbeddingsSize, 64)).Done()
}
