// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestByName(t *testing.T) {
	assert.Equal(t, []string{"alexnet", "cnn"}, KnownModels())
	_, name := ByName("cnn")
	assert.Equal(t, "cnn", name)
	fn, name := ByName("resnet152")
	assert.Equal(t, DefaultModel, name)
	assert.NotNil(t, fn)
}

func TestSetDefaults(t *testing.T) {
	ctx := context.New()
	SetDefaults(ctx, "cnn")
	assert.Equal(t, 16, context.GetParamOr(ctx, ParamCnnChannels, 0))
	assert.Equal(t, 0.1, context.GetParamOr(ctx, ParamDropoutRate, 0.0))

	ctx = context.New()
	SetDefaults(ctx, "unknown")
	assert.Equal(t, 4096, context.GetParamOr(ctx, ParamAlexNetHiddenDim, 0))
	assert.Equal(t, 0.5, context.GetParamOr(ctx, ParamDropoutRate, 0.0))
}

func TestModelsOutputShape(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping model compilation in short mode.")
	}
	backend := graphtest.BuildTestBackend()
	for _, name := range KnownModels() {
		t.Run(name, func(t *testing.T) {
			ctx := context.New()
			ctx.SetParams(map[string]any{
				ParamNumClasses:        3,
				ParamAlexNetHiddenDim:  16,
				ParamCnnChannels:       4,
				ParamCnnEmbeddingsSize: 8,
			})
			modelFn, _ := ByName(name)
			images := tensors.FromShape(shapes.Make(dtypes.Float32, 2, 32, 32, 3))
			exec, err := context.NewExec(backend, ctx, func(ctx *context.Context, images *Node) *Node {
				ctx.SetTraining(images.Graph(), true)
				return modelFn(ctx, nil, []*Node{images})[0]
			})
			require.NoError(t, err)
			logits, err := exec.Exec1(images)
			require.NoError(t, err)
			assert.Equal(t, []int{2, 3}, logits.Shape().Dimensions)
			assert.Greater(t, ctx.NumVariables(), 0)
		})
	}
}
