// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

// Package classifier holds the image classification models a training session can select by name.
//
// Every model takes images shaped [batch_size, height, width, 3] and returns logits shaped
// [batch_size, num_classes], where num_classes is read from the context parameter ParamNumClasses.
package classifier

import (
	"maps"
	"slices"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"k8s.io/klog/v2"
)

const (
	// ParamNumClasses is the context parameter with the number of output classes. Default is 2.
	ParamNumClasses = "num_classes"

	// ParamDropoutRate is the context parameter with the dropout rate of the dense layers.
	ParamDropoutRate = "classifier_dropout_rate"

	// DefaultModel is used when the requested model name is unknown.
	DefaultModel = "alexnet"
)

// ModelsFns maps model names to their model functions.
var ModelsFns = map[string]train.ModelFn{
	"alexnet": AlexNetModelGraph,
	"cnn":     CnnModelGraph,
}

// KnownModels returns the sorted names of the registered models.
func KnownModels() []string {
	return slices.Sorted(maps.Keys(ModelsFns))
}

// ByName returns the model function registered under name and the name actually used.
// Unknown names fall back to DefaultModel with a warning.
func ByName(name string) (train.ModelFn, string) {
	if fn, found := ModelsFns[name]; found {
		return fn, name
	}
	klog.Warningf("unknown model %q (known models: %q), using %q", name, KnownModels(), DefaultModel)
	return ModelsFns[DefaultModel], DefaultModel
}

// SetDefaults sets in ctx the default hyperparameters of the named model, so they can be listed
// and overridden by name. Unknown names get the defaults of DefaultModel.
func SetDefaults(ctx *context.Context, name string) {
	switch name {
	case "cnn":
		ctx.SetParams(map[string]any{
			ParamCnnNumLayers:      3,
			ParamCnnChannels:       16,
			ParamCnnEmbeddingsSize: 64,
			ParamDropoutRate:       0.1,
		})
	default:
		ctx.SetParams(map[string]any{
			ParamAlexNetHiddenDim: 4096,
			ParamDropoutRate:      0.5,
		})
	}
}

func numClasses(ctx *context.Context) int {
	return context.GetParamOr(ctx, ParamNumClasses, 2)
}
