// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/analyzer-lab/analyzer/pkg/session"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestContext() *context.Context {
	ctx := context.New()
	ctx.SetParam("x", 11.0)
	ctx.SetParam("y", 7)
	ctx.SetParam("z", false)
	ctx.SetParam("s", "foo")
	ctx.SetParam("f", float32(0.5))
	return ctx
}

func TestParseSettings(t *testing.T) {
	ctx := createTestContext()

	paramsSet, err := ParseSettings(ctx, "x=13;/a/z=true;/a/b/y=3_000;s=bar; f=0.25;", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"x", "/a/z", "/a/b/y", "s", "f"}, paramsSet)
	assert.Equal(t, 13.0, context.GetParamOr(ctx, "x", 0.0))
	assert.Equal(t, 7, context.GetParamOr(ctx, "y", 0))
	assert.Equal(t, 7, context.GetParamOr(ctx.In("a"), "y", 0))
	assert.Equal(t, 3000, context.GetParamOr(ctx.In("a").In("b"), "y", 0))
	assert.False(t, context.GetParamOr(ctx, "z", true))
	assert.True(t, context.GetParamOr(ctx.In("a"), "z", false))
	assert.Equal(t, "bar", context.GetParamOr(ctx, "s", ""))
	assert.Equal(t, float32(0.25), context.GetParamOr(ctx, "f", float32(0)))

	// Unknown parameter.
	_, err = ParseSettings(ctx, "q=3", nil)
	require.Error(t, err)

	// Known only in a sub-scope is still unknown.
	ctx.In("c").SetParam("q", 13)
	_, err = ParseSettings(ctx, "q=3", nil)
	require.Error(t, err)

	// Wrong type of value.
	_, err = ParseSettings(ctx, "y=3.14", nil)
	require.Error(t, err)

	// Scope not absolute.
	_, err = ParseSettings(ctx, "a/abc=3.14", nil)
	require.Error(t, err)

	// Missing "=".
	_, err = ParseSettings(ctx, "x", nil)
	require.Error(t, err)
}

func TestParseSettingsOwnedParams(t *testing.T) {
	ctx := createTestContext()
	owned := map[string]string{"y": "Y_SIZE", "s": ""}

	_, err := ParseSettings(ctx, "x=1;y=3", owned)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "$Y_SIZE")
	assert.Equal(t, 7, context.GetParamOr(ctx, "y", 0))

	// Also in a scope.
	_, err = ParseSettings(ctx, "/a/y=3", owned)
	require.Error(t, err)
	assert.Equal(t, 7, context.GetParamOr(ctx.In("a"), "y", 0))

	_, err = ParseSettings(ctx, "s=bar", owned)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can't be changed")

	paramsSet, err := ParseSettings(ctx, "z=true", owned)
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, paramsSet)
}

func TestSettingsTable(t *testing.T) {
	ctx := createTestContext()
	paramsSet, err := ParseSettings(ctx, "/a/y=5", nil)
	require.NoError(t, err)
	table := SettingsTable(ctx, paramsSet)
	assert.Contains(t, table, "Hyperparameter")
	assert.Contains(t, table, "foo")
	assert.Contains(t, table, "/a/y")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "500ns", FormatDuration(500*time.Nanosecond))
	assert.Equal(t, "1.50µs", FormatDuration(1500*time.Nanosecond))
	assert.Equal(t, "12.35ms", FormatDuration(12345*time.Microsecond))
	assert.Equal(t, "3.25s", FormatDuration(3250*time.Millisecond))
	assert.Equal(t, "2m5s", FormatDuration(2*time.Minute+5400*time.Millisecond))
}

func TestHumanizeInt(t *testing.T) {
	assert.Equal(t, "0", humanizeInt(0))
	assert.Equal(t, "999", humanizeInt(999))
	assert.Equal(t, "1_000", humanizeInt(int32(1000)))
	assert.Equal(t, "1_234_567", humanizeInt(uint64(1234567)))
	assert.Equal(t, "-12_345", humanizeInt(-12345))
}

func TestSummaryTable(t *testing.T) {
	history := []session.EpochMetrics{
		{Epoch: 0, TrainLoss: 0.69, ValidLoss: 0.68, Accuracy: 0.55, TrainExamples: 2000, ValidExamples: 400,
			TrainDuration: 3 * time.Second, TracePath: "/tmp/run.json"},
		{Epoch: 1, TrainLoss: 0.52, ValidLoss: 0.61, Accuracy: 0.7, TrainExamples: 2000, ValidExamples: 400,
			TracePath: "/tmp/run.json"},
	}
	var out bytes.Buffer
	PrintSummary(&out, history)
	text := out.String()
	assert.Contains(t, text, "Train Loss")
	assert.Contains(t, text, "0.6900")
	assert.Contains(t, text, "70.00%")
	assert.Contains(t, text, "2,000 / 400")
	assert.Equal(t, 1, strings.Count(text, "Trace: /tmp/run.json"))

	out.Reset()
	PrintSummary(&out, nil)
	assert.Empty(t, out.String())
}

// oneBatchDS yields a single batch of two examples.
type oneBatchDS struct{ done bool }

func (ds *oneBatchDS) Name() string { return "one" }
func (ds *oneBatchDS) Reset()       { ds.done = false }
func (ds *oneBatchDS) Yield() (any, []*tensors.Tensor, []*tensors.Tensor, error) {
	if ds.done {
		return nil, nil, nil, io.EOF
	}
	ds.done = true
	return ds, []*tensors.Tensor{tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2, 1)},
		[]*tensors.Tensor{tensors.FromFlatDataAndDimensions([]int32{0, 1}, 2, 1)}, nil
}

type constStepper struct{}

func (constStepper) Place(_, _ []*tensors.Tensor) error { return nil }
func (constStepper) TrainStep(_, _ []*tensors.Tensor) (float64, error) {
	return 0.25, nil
}
func (constStepper) EvalStep(_, _ []*tensors.Tensor) (float64, int, error) {
	return 0.5, 1, nil
}

func TestProgressBar(t *testing.T) {
	sess := session.New(constStepper{}, &oneBatchDS{}, &oneBatchDS{}, session.Options{Epochs: 1, Out: io.Discard})
	var out bytes.Buffer
	pBar := attachProgressBar(sess, &out, func(session.Pass) int { return 1 })
	_, err := sess.Run()
	require.NoError(t, err)
	assert.Equal(t, session.Validation, pBar.pass)
	assert.Equal(t, 2, pBar.numExamples)
	assert.Contains(t, out.String(), "train")
	assert.Contains(t, out.String(), "loss=0.2500")
	assert.Contains(t, out.String(), "loss=0.5000")
}
