// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

// Package opbench compiles a single vector-add operator ("myadd") for one or more backends,
// verifies its results against a plain Go reference and measures its execution time.
package opbench

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/analyzer-lab/analyzer/pkg/profiler"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// OperatorName is the name of the benchmarked operator, used in results and trace spans.
	OperatorName = "myadd"

	// DefaultSize is the length of the added vectors.
	DefaultSize = 1024

	// DefaultRepeat is the number of timed executions.
	DefaultRepeat = 100
)

// Tolerance is the maximum relative difference accepted between the operator and the reference.
var Tolerance = 1e-6

// VectorAdd is the benchmarked operator: c = a + b.
func VectorAdd(a, b *Node) *Node {
	return Add(a, b)
}

// Options of a benchmark run.
type Options struct {
	Size, Repeat int
	Seed         uint64
}

// DefaultOptions returns the options of the standard benchmark.
func DefaultOptions() Options {
	return Options{Size: DefaultSize, Repeat: DefaultRepeat, Seed: 42}
}

// Result of benchmarking the operator on one backend.
type Result struct {
	Backend string
	Size    int
	Repeat  int

	// FirstRun includes building and compiling the graph.
	FirstRun time.Duration
	Mean     time.Duration
	Min      time.Duration
}

func (r Result) String() string {
	return fmt.Sprintf("%s[%d] on %s: mean %s (min %s) over %d runs, first run %s",
		OperatorName, r.Size, r.Backend, r.Mean, r.Min, r.Repeat, r.FirstRun)
}

// VerificationError is returned when the operator output differs from the reference.
type VerificationError struct {
	Backend   string
	Index     int
	Got, Want float32
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s on %s: c[%d]=%g, want %g", OperatorName, e.Backend, e.Index, e.Got, e.Want)
}

// Run benchmarks VectorAdd on backend. If prof is not nil, every execution is recorded as a span
// named after the operator.
func Run(backend backends.Backend, opts Options, prof *profiler.Session) (result Result, err error) {
	if opts.Size <= 0 || opts.Repeat <= 0 {
		return result, errors.Errorf("invalid benchmark options: size=%d, repeat=%d", opts.Size, opts.Repeat)
	}
	result = Result{Backend: backend.Name(), Size: opts.Size, Repeat: opts.Repeat}
	a, b := randomVectors(opts)
	aT := tensors.FromFlatDataAndDimensions(a, opts.Size)
	bT := tensors.FromFlatDataAndDimensions(b, opts.Size)
	defer func() {
		_ = aT.FinalizeAll()
		_ = bT.FinalizeAll()
	}()

	var runErr error
	err = exceptions.TryCatch[error](func() {
		result, runErr = run(backend, aT, bT, result, prof)
	})
	if err == nil {
		err = runErr
	}
	if err != nil {
		err = errors.WithMessagef(err, "benchmarking %s on %s", OperatorName, backend.Name())
	}
	return
}

func run(backend backends.Backend, aT, bT *tensors.Tensor, result Result, prof *profiler.Session) (Result, error) {
	start := time.Now()
	exec, err := NewExec(backend, VectorAdd)
	if err != nil {
		return result, err
	}
	defer exec.Finalize()
	c, err := exec.Exec1(aT, bT)
	if err != nil {
		return result, err
	}
	result.FirstRun = time.Since(start)
	if prof != nil {
		prof.Record(OperatorName+"_compile", backend.Name(), start, result.FirstRun, nil)
	}
	err = verify(result.Backend, tensors.MustCopyFlatData[float32](aT), tensors.MustCopyFlatData[float32](bT),
		tensors.MustCopyFlatData[float32](c))
	_ = c.FinalizeAll()
	if err != nil {
		return result, err
	}

	var total time.Duration
	result.Min = time.Duration(math.MaxInt64)
	for range result.Repeat {
		start = time.Now()
		c, err = exec.Exec1(aT, bT)
		if err != nil {
			return result, err
		}
		// Transferring the output to the host makes sure the execution finished.
		_ = c.Value()
		elapsed := time.Since(start)
		_ = c.FinalizeAll()
		total += elapsed
		result.Min = min(result.Min, elapsed)
		if prof != nil {
			prof.Record(OperatorName, backend.Name(), start, elapsed, nil)
		}
	}
	result.Mean = total / time.Duration(result.Repeat)
	klog.V(1).Infof("%s", result)
	return result, nil
}

func randomVectors(opts Options) (a, b []float32) {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed+1))
	a = make([]float32, opts.Size)
	b = make([]float32, opts.Size)
	for ii := range opts.Size {
		a[ii] = rng.Float32()
		b[ii] = rng.Float32()
	}
	return
}

// verify checks c = a + b within Tolerance.
func verify(backendName string, a, b, c []float32) error {
	if len(c) != len(a) {
		return errors.Errorf("%s on %s: got %d values, want %d", OperatorName, backendName, len(c), len(a))
	}
	for ii := range a {
		want := a[ii] + b[ii]
		if math.Abs(float64(c[ii]-want)) > Tolerance*math.Max(1, math.Abs(float64(want))) {
			return &VerificationError{Backend: backendName, Index: ii, Got: c[ii], Want: want}
		}
	}
	return nil
}

// BackendFn creates a backend from its configuration, e.g. device.NewBackend.
type BackendFn func(config string) (backends.Backend, error)

// RunAll benchmarks the operator on each backend configuration. Backends that can't be created
// are skipped with a warning, but it fails if none could be benchmarked.
func RunAll(configs []string, newBackend BackendFn, opts Options, prof *profiler.Session) ([]Result, error) {
	var results []Result
	for _, config := range configs {
		backend, err := newBackend(config)
		if err != nil {
			klog.Warningf("skipping backend %q: %v", config, err)
			continue
		}
		result, err := Run(backend, opts, prof)
		backend.Finalize()
		if err != nil {
			return results, err
		}
		result.Backend = config
		results = append(results, result)
	}
	if len(results) == 0 {
		return nil, errors.Errorf("none of the backends %q could be created", configs)
	}
	return results, nil
}
