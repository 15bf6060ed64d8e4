// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

// Package onnxprofile measures the execution time and Go heap usage of an ONNX model run with GoMLX,
// and of a trivial "x+1" graph used as a baseline for the fixed costs of a backend.
package onnxprofile

import (
	"fmt"
	"runtime"
	"time"

	"github.com/analyzer-lab/analyzer/pkg/profiler"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/onnx-gomlx/onnx"
	"github.com/gomlx/onnx-gomlx/onnx/parser"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Measurement of running one graph repeatedly.
type Measurement struct {
	Name string

	// FirstRun includes building and compiling the graph.
	FirstRun time.Duration
	Mean     time.Duration
	Runs     int

	// Allocated is the number of bytes allocated in the Go heap during all runs, and HeapInUse
	// the heap in use after them.
	Allocated, HeapInUse uint64

	Output shapes.Shape
}

func (m Measurement) String() string {
	return fmt.Sprintf("%s: output %s, first run %s, mean %s over %d runs, allocated %s, heap in use %s",
		m.Name, m.Output, m.FirstRun, m.Mean, m.Runs, humanize.Bytes(m.Allocated), humanize.Bytes(m.HeapInUse))
}

// runFn executes the graph once, returning its output.
type runFn func() (*tensors.Tensor, error)

// measure calls run repeat+1 times: the first call is reported separately as it compiles the graph.
func measure(name string, repeat int, prof *profiler.Session, run runFn) (m Measurement, err error) {
	if repeat <= 0 {
		return m, errors.Errorf("%s: repeat must be positive, got %d", name, repeat)
	}
	m = Measurement{Name: name, Runs: repeat}
	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	var runErr error
	err = exceptions.TryCatch[error](func() {
		var total time.Duration
		for ii := range repeat + 1 {
			start := time.Now()
			var output *tensors.Tensor
			output, runErr = run()
			if runErr != nil {
				return
			}
			// Transferring the output to the host makes sure the execution finished.
			m.Output = output.Shape()
			_ = output.Value()
			elapsed := time.Since(start)
			_ = output.FinalizeAll()
			spanName := name
			if ii == 0 {
				m.FirstRun = elapsed
				spanName += "_first_run"
			} else {
				total += elapsed
			}
			if prof != nil {
				prof.Record(spanName, "onnx", start, elapsed, nil)
				prof.SampleMemory()
			}
		}
		m.Mean = total / time.Duration(repeat)
	})
	if err == nil {
		err = runErr
	}
	if err != nil {
		return m, errors.WithMessagef(err, "running %s", name)
	}

	var after runtime.MemStats
	runtime.ReadMemStats(&after)
	m.Allocated = after.TotalAlloc - before.TotalAlloc
	m.HeapInUse = after.HeapInuse
	klog.V(1).Infof("%s", m)
	return m, nil
}

// BaselineName is the name of the baseline measurement.
const BaselineName = "x_plus_one"

// AddOne is the baseline graph.
func AddOne(x *Node) *Node {
	return OnePlus(x)
}

// Baseline measures the AddOne graph on a single float32 value.
func Baseline(backend backends.Backend, repeat int, prof *profiler.Session) (Measurement, error) {
	exec, err := NewExec(backend, AddOne)
	if err != nil {
		return Measurement{}, errors.WithMessage(err, "building baseline graph")
	}
	defer exec.Finalize()
	x := tensors.FromValue([]float32{0.5})
	defer func() { _ = x.FinalizeAll() }()
	return measure(BaselineName, repeat, prof, func() (*tensors.Tensor, error) {
		return exec.Exec1(x)
	})
}

// Model is an ONNX model with its variables loaded in a context.
type Model struct {
	Path    string
	Inputs  []string
	Outputs []string

	model onnx.Model
	ctx   *context.Context
}

// Load reads the ONNX model in path and converts its weights to context variables.
func Load(path string) (*Model, error) {
	model, err := parser.ParseFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading ONNX model %q", path)
	}
	m := &Model{Path: path, model: model, ctx: context.New()}
	m.Inputs, _ = model.Inputs()
	m.Outputs, _ = model.Outputs()
	if err = model.VariablesToContext(m.ctx); err != nil {
		_ = model.Close()
		return nil, errors.WithMessagef(err, "loading variables of %q", path)
	}
	klog.V(1).Infof("ONNX model %q: inputs %q, outputs %q, %d variables", path, m.Inputs, m.Outputs,
		m.ctx.NumVariables())
	return m, nil
}

// Close releases the model.
func (m *Model) Close() error {
	return errors.Wrapf(m.model.Close(), "closing ONNX model %q", m.Path)
}

// Profile measures the model fed with input as inputName, or as its first input if inputName is
// empty. Only the first output is computed.
func (m *Model) Profile(backend backends.Backend, inputName string, input *tensors.Tensor, repeat int,
	prof *profiler.Session) (Measurement, error) {
	if inputName == "" {
		if len(m.Inputs) == 0 {
			return Measurement{}, errors.Errorf("ONNX model %q has no inputs", m.Path)
		}
		inputName = m.Inputs[0]
	}
	if len(m.Outputs) == 0 {
		return Measurement{}, errors.Errorf("ONNX model %q has no outputs", m.Path)
	}
	exec, err := context.NewExec(backend, m.ctx, func(ctx *context.Context, x *Node) *Node {
		return m.model.CallGraph(ctx, x.Graph(), map[string]*Node{inputName: x}, m.Outputs[0])[0]
	})
	if err != nil {
		return Measurement{}, errors.WithMessagef(err, "building graph for %q", m.Path)
	}
	defer exec.Finalize()
	return measure("onnx_model", repeat, prof, func() (*tensors.Tensor, error) {
		return exec.Exec1(input)
	})
}
