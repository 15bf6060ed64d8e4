// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

package opbench

import (
	"testing"

	"github.com/analyzer-lab/analyzer/pkg/profiler"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestVerify(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{0.5, 0.25, 0}
	require.NoError(t, verify("test", a, b, []float32{1.5, 2.25, 3}))

	err := verify("test", a, b, []float32{1.5, 2.5, 3})
	var vErr *VerificationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, 1, vErr.Index)
	assert.Equal(t, float32(2.25), vErr.Want)

	require.Error(t, verify("test", a, b, []float32{1.5}))
}

func TestRandomVectorsAreDeterministic(t *testing.T) {
	opts := DefaultOptions()
	a1, b1 := randomVectors(opts)
	a2, b2 := randomVectors(opts)
	assert.Equal(t, a1, a2)
	assert.Equal(t, b1, b2)
	assert.Len(t, a1, DefaultSize)
	assert.NotEqual(t, a1, b1)
}

func TestRun(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping compilation in short mode.")
	}
	backend := graphtest.BuildTestBackend()
	prof := profiler.New(nil)
	result, err := Run(backend, Options{Size: 64, Repeat: 5, Seed: 1}, prof)
	require.NoError(t, err)
	prof.Stop()
	assert.Equal(t, 64, result.Size)
	assert.Equal(t, 5, result.Repeat)
	assert.Positive(t, result.Mean)
	assert.LessOrEqual(t, result.Min, result.Mean)

	var spans int
	for _, e := range prof.Trace().TraceEvents {
		if e.Name == OperatorName {
			spans++
		}
	}
	assert.Equal(t, 5, spans)

	_, err = Run(backend, Options{Size: 0, Repeat: 1}, nil)
	require.Error(t, err)
}

func TestRunAllSkipsUnavailableBackends(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping compilation in short mode.")
	}
	newBackend := func(config string) (backends.Backend, error) {
		if config == "missing" {
			return nil, errors.New("not installed")
		}
		// RunAll finalizes the backends it creates, so the shared test backend can't be used.
		return backends.NewWithConfig("go")
	}
	results, err := RunAll([]string{"missing", "go"}, newBackend, Options{Size: 8, Repeat: 2, Seed: 3}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "go", results[0].Backend)

	_, err = RunAll([]string{"missing"}, newBackend, DefaultOptions(), nil)
	require.Error(t, err)
}
