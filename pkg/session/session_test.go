// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/analyzer-lab/analyzer/pkg/profiler"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// batchesDS yields one batch per entry of sizes, and can be reset.
type batchesDS struct {
	name  string
	sizes []int
	next  int
	err   error // Returned instead of the second batch, if set.
}

func (ds *batchesDS) Name() string { return ds.name }
func (ds *batchesDS) Reset()       { ds.next = 0 }
func (ds *batchesDS) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if ds.err != nil && ds.next == 1 {
		return nil, nil, nil, ds.err
	}
	if ds.next >= len(ds.sizes) {
		return nil, nil, nil, io.EOF
	}
	size := ds.sizes[ds.next]
	ds.next++
	inputs = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(make([]float32, size*2), size, 2)}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(make([]int32, size), size, 1)}
	return ds, inputs, labels, nil
}

// scriptedStepper returns the given losses (and correct counts) in order, cycling if needed.
type scriptedStepper struct {
	trainLosses, evalLosses []float64
	correct                 []int
	numTrain, numEval       int
	numPlaced               int
	trainBatchSizes         []int
	failTrainAt             int
}

func (st *scriptedStepper) Place(inputs, labels []*tensors.Tensor) error {
	st.numPlaced++
	return nil
}

func (st *scriptedStepper) TrainStep(inputs, labels []*tensors.Tensor) (float64, error) {
	defer func() { st.numTrain++ }()
	if st.failTrainAt > 0 && st.numTrain+1 == st.failTrainAt {
		return 0, errors.New("shape mismatch")
	}
	st.trainBatchSizes = append(st.trainBatchSizes, inputs[0].Shape().Dimensions[0])
	return st.trainLosses[st.numTrain%len(st.trainLosses)], nil
}

func (st *scriptedStepper) EvalStep(inputs, labels []*tensors.Tensor) (float64, int, error) {
	defer func() { st.numEval++ }()
	return st.evalLosses[st.numEval%len(st.evalLosses)], st.correct[st.numEval%len(st.correct)], nil
}

func TestSingleBatchScenario(t *testing.T) {
	var out bytes.Buffer
	stepper := &scriptedStepper{
		trainLosses: []float64{0.5}, // Mean of per-sample losses 0.6 and 0.4.
		evalLosses:  []float64{0.3},
		correct:     []int{7},
	}
	trainDS := &batchesDS{name: "train", sizes: []int{2}}
	validDS := &batchesDS{name: "val", sizes: []int{10}}
	s := New(stepper, trainDS, validDS, Options{Epochs: 1, Out: &out})
	assert.Equal(t, Idle, s.State())
	history, err := s.Run()
	require.NoError(t, err)
	assert.Equal(t, Done, s.State())
	require.Len(t, history, 1)
	assert.InDelta(t, 0.5, history[0].TrainLoss, 1e-9)
	assert.InDelta(t, 0.7, history[0].Accuracy, 1e-9)
	assert.Equal(t, "Epoch: 0, Training Loss: 0.50, Validation Loss: 0.30, accuracy = 0.70\n", out.String())
	assert.Equal(t, 2, stepper.numPlaced)
}

func TestEpochAccounting(t *testing.T) {
	// S=10 samples in batches of B=4: sizes 4, 4, 2.
	stepper := &scriptedStepper{
		trainLosses: []float64{1.0, 2.0, 4.0},
		evalLosses:  []float64{1.0},
		correct:     []int{1},
	}
	trainDS := &batchesDS{name: "train", sizes: []int{4, 4, 2}}
	validDS := &batchesDS{name: "val", sizes: []int{3}}
	s := New(stepper, trainDS, validDS, Options{Epochs: 1, Out: io.Discard})
	history, err := s.Run()
	require.NoError(t, err)
	sum := 0
	for _, b := range stepper.trainBatchSizes {
		sum += b
	}
	assert.Equal(t, 10, sum)
	assert.Equal(t, 10, history[0].TrainExamples)
	assert.InDelta(t, (1.0*4+2.0*4+4.0*2)/10, history[0].TrainLoss, 1e-9)
}

func TestAccuracyIsSampleWeighted(t *testing.T) {
	// Batch accuracies 1/1 and 1/9: the mean of ratios would be 0.56, the right answer is 0.20.
	stepper := &scriptedStepper{
		trainLosses: []float64{1.0},
		evalLosses:  []float64{0.5, 1.5},
		correct:     []int{1, 1},
	}
	s := New(stepper, &batchesDS{name: "train", sizes: []int{2}}, &batchesDS{name: "val", sizes: []int{1, 9}},
		Options{Epochs: 1, Out: io.Discard})
	history, err := s.Run()
	require.NoError(t, err)
	assert.InDelta(t, 0.2, history[0].Accuracy, 1e-9)
	assert.InDelta(t, (0.5*1+1.5*9)/10, history[0].ValidLoss, 1e-9)
	assert.Equal(t, 2, history[0].Correct)
}

func TestTwoEpochsPerRunTrace(t *testing.T) {
	var out bytes.Buffer
	stepper := &scriptedStepper{trainLosses: []float64{0.9, 0.5}, evalLosses: []float64{0.4}, correct: []int{3}}
	namer := profiler.TraceNamer{Folder: t.TempDir() + "/", ModelName: "alexnet", Policy: profiler.PerRun}
	var passes []string
	s := New(stepper, &batchesDS{name: "train", sizes: []int{2, 2}}, &batchesDS{name: "val", sizes: []int{4}},
		Options{Epochs: 2, Out: &out, TracePath: namer.Path, TraceMetadata: map[string]any{"model": "alexnet"}})
	s.OnPassStart(func(pass Pass, epoch int) error {
		passes = append(passes, fmt.Sprintf("%s#%d", pass, epoch))
		return nil
	})
	history, err := s.Run()
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, []string{"train#0", "validation#0", "train#1", "validation#1"}, passes)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		"Exported trace",
		"Epoch: 0, Training Loss: 0.70, Validation Loss: 0.40, accuracy = 0.75",
		"Exported trace",
		"Epoch: 1, Training Loss: 0.70, Validation Loss: 0.40, accuracy = 0.75",
	}, lines)

	// Both epochs wrote the same path: the file holds the second epoch.
	assert.Equal(t, history[0].TracePath, history[1].TracePath)
	trace, err := profiler.ReadTrace(history[1].TracePath)
	require.NoError(t, err)
	assert.Equal(t, 1.0, trace.OtherData["epoch"])
	assert.Equal(t, "alexnet", trace.OtherData["model"])
	var steps, transfers int
	for _, e := range trace.TraceEvents {
		switch e.Name {
		case "train_step":
			steps++
		case "to_device":
			transfers++
		}
	}
	assert.Equal(t, 2, steps)
	assert.Equal(t, 2, transfers)
}

func TestPerEpochTraces(t *testing.T) {
	stepper := &scriptedStepper{trainLosses: []float64{0.1}, evalLosses: []float64{0.1}, correct: []int{1}}
	dir := t.TempDir()
	namer := profiler.TraceNamer{Folder: dir + "/", ModelName: "cnn", Policy: profiler.PerEpoch}
	s := New(stepper, &batchesDS{name: "train", sizes: []int{1}}, &batchesDS{name: "val", sizes: []int{1}},
		Options{Epochs: 3, Out: io.Discard, TracePath: namer.Path})
	_, err := s.Run()
	require.NoError(t, err)
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestErrorsAbort(t *testing.T) {
	stepper := &scriptedStepper{trainLosses: []float64{0.1}, evalLosses: []float64{0.1}, correct: []int{1}, failTrainAt: 2}
	var out bytes.Buffer
	s := New(stepper, &batchesDS{name: "train", sizes: []int{2, 2, 2}}, &batchesDS{name: "val", sizes: []int{1}},
		Options{Epochs: 2, Out: &out})
	history, err := s.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shape mismatch")
	assert.Empty(t, history)
	assert.Equal(t, TrainingPass, s.State())
	assert.Empty(t, out.String())

	// Dataset errors abort too.
	stepper = &scriptedStepper{trainLosses: []float64{0.1}, evalLosses: []float64{0.1}, correct: []int{1}}
	s = New(stepper, &batchesDS{name: "train", sizes: []int{1, 1}, err: errors.New("disk gone")},
		&batchesDS{name: "val", sizes: []int{1}}, Options{Epochs: 1, Out: io.Discard})
	_, err = s.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestEmptyDataset(t *testing.T) {
	stepper := &scriptedStepper{trainLosses: []float64{0.1}, evalLosses: []float64{0.1}, correct: []int{1}}
	s := New(stepper, &batchesDS{name: "train", sizes: []int{1}}, &batchesDS{name: "val"},
		Options{Epochs: 1, Out: io.Discard})
	_, err := s.Run()
	require.ErrorIs(t, err, ErrEmptyDataset)
}

func TestTestPass(t *testing.T) {
	var out bytes.Buffer
	stepper := &scriptedStepper{trainLosses: []float64{0.1}, evalLosses: []float64{0.25}, correct: []int{3}}
	s := New(stepper, &batchesDS{name: "train", sizes: []int{1}}, &batchesDS{name: "val", sizes: []int{4}},
		Options{Epochs: 1, Out: io.Discard})
	_, err := s.Run()
	require.NoError(t, err)
	s.opts.Out = &out
	result, err := s.Test(&batchesDS{name: "test", sizes: []int{4}})
	require.NoError(t, err)
	assert.Equal(t, Test, result.Pass)
	assert.Equal(t, "Test Loss: 0.25, accuracy = 0.75\n", out.String())
}

func TestCheckClassCount(t *testing.T) {
	sets := []ClassSet{
		{Name: "train", Classes: []string{"cat", "dog"}},
		{Name: "val", Classes: []string{"cat", "dog"}},
	}
	require.NoError(t, CheckClassCount(2, true, sets...))
	err := CheckClassCount(3, true, sets...)
	require.ErrorIs(t, err, ErrClassCount)
	assert.Contains(t, err.Error(), "train")
	require.NoError(t, CheckClassCount(3, false, sets...))

	sets[1].Classes = []string{"cat", "dog", "fish"}
	require.ErrorIs(t, CheckClassCount(2, true, sets...), ErrClassCount)
}
