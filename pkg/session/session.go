// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

// Package session runs a training session: a fixed number of epochs, each one a profiled
// training pass over the training set followed by an evaluation pass over the validation set.
//
// The numerical work (forward, loss, backward and optimizer step) is delegated to a Stepper.
// Session only iterates the datasets, aggregates sample-weighted metrics, exports the profiling
// trace of each training pass and reports the per-epoch results:
//
//	Exported trace
//	Epoch: 0, Training Loss: 0.69, Validation Loss: 0.68, accuracy = 0.55
package session

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/analyzer-lab/analyzer/pkg/profiler"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Stepper executes the per-batch computations of a session.
type Stepper interface {
	// Place moves the batch to the compute device.
	Place(inputs, labels []*tensors.Tensor) error

	// TrainStep runs forward, loss, backward and one optimizer update, returning the mean loss
	// of the batch. Gradients are not accumulated across calls.
	TrainStep(inputs, labels []*tensors.Tensor) (loss float64, err error)

	// EvalStep runs the model in inference mode, returning the mean loss of the batch and
	// how many examples were classified correctly.
	EvalStep(inputs, labels []*tensors.Tensor) (loss float64, correct int, err error)
}

// EpochMetrics are the aggregated results of one epoch.
type EpochMetrics struct {
	// Epoch index, starting at 0.
	Epoch int

	TrainLoss, ValidLoss, Accuracy float64

	TrainExamples, ValidExamples, Correct int
	TrainDuration, ValidDuration          time.Duration

	// TracePath is where the training pass trace was exported.
	TracePath string
}

// PassResult holds the aggregated results of one pass over a dataset.
type PassResult struct {
	Pass                 Pass
	LossSum              float64
	NumExamples, Correct int
	NumBatches           int
	Duration             time.Duration
}

// Loss returns the sample-weighted mean loss of the pass.
func (r PassResult) Loss() float64 { return r.LossSum / float64(r.NumExamples) }

// Accuracy returns the fraction of examples classified correctly.
func (r PassResult) Accuracy() float64 { return float64(r.Correct) / float64(r.NumExamples) }

// ErrEmptyDataset is returned when a pass finds no examples, since its averages are undefined.
var ErrEmptyDataset = errors.New("dataset yielded no examples")

// Options configure a Session.
type Options struct {
	Epochs int

	// TracePath returns where the trace of the training pass of the given epoch is exported.
	TracePath func(epoch int) string

	// TraceMetadata is included in every exported trace.
	TraceMetadata map[string]any

	// Out receives the user-facing lines. Defaults to os.Stdout.
	Out io.Writer
}

// Hooks called during a pass. Returning an error aborts the session.
type (
	PassStartFn func(pass Pass, epoch int) error
	BatchFn     func(pass Pass, batchSize int, loss float64) error
	PassEndFn   func(result PassResult) error
	EpochFn     func(metrics EpochMetrics) error
)

// Session runs training and validation passes with a Stepper.
type Session struct {
	stepper      Stepper
	train, valid train.Dataset
	opts         Options
	state        State

	onPassStart []PassStartFn
	onBatch     []BatchFn
	onPassEnd   []PassEndFn
	onEpoch     []EpochFn

	history []EpochMetrics
}

// New creates a Session in the Idle state.
func New(stepper Stepper, trainDS, validDS train.Dataset, opts Options) *Session {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Session{
		stepper: stepper,
		train:   trainDS,
		valid:   validDS,
		opts:    opts,
	}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// History returns the metrics of the epochs completed so far.
func (s *Session) History() []EpochMetrics { return s.history }

// OnPassStart registers fn to be called at the start of every pass.
func (s *Session) OnPassStart(fn PassStartFn) { s.onPassStart = append(s.onPassStart, fn) }

// OnBatch registers fn to be called after every batch.
func (s *Session) OnBatch(fn BatchFn) { s.onBatch = append(s.onBatch, fn) }

// OnPassEnd registers fn to be called after every pass.
func (s *Session) OnPassEnd(fn PassEndFn) { s.onPassEnd = append(s.onPassEnd, fn) }

// OnEpoch registers fn to be called after every epoch line is printed.
func (s *Session) OnEpoch(fn EpochFn) { s.onEpoch = append(s.onEpoch, fn) }

// Run executes all epochs. It stops at the first error, leaving the session in the state
// where it failed.
func (s *Session) Run() ([]EpochMetrics, error) {
	if s.state != Idle {
		return nil, errors.Errorf("session.Run called in state %s, it can only run once", s.state)
	}
	for epoch := range s.opts.Epochs {
		m, err := s.runEpoch(epoch)
		if err != nil {
			return s.history, errors.WithMessagef(err, "epoch %d", epoch)
		}
		s.history = append(s.history, m)
	}
	s.state = Done
	return s.history, nil
}

func (s *Session) runEpoch(epoch int) (m EpochMetrics, err error) {
	m.Epoch = epoch

	s.state = TrainingPass
	trainResult, tracePath, err := s.profiledTrainingPass(epoch)
	if err != nil {
		return
	}
	m.TrainLoss = trainResult.Loss()
	m.TrainExamples = trainResult.NumExamples
	m.TrainDuration = trainResult.Duration
	m.TracePath = tracePath

	s.state = ValidationPass
	validResult, err := s.pass(Validation, epoch, s.valid, nil)
	if err != nil {
		return
	}
	m.ValidLoss = validResult.Loss()
	m.Accuracy = validResult.Accuracy()
	m.ValidExamples = validResult.NumExamples
	m.Correct = validResult.Correct
	m.ValidDuration = validResult.Duration

	s.state = EpochComplete
	_, _ = fmt.Fprintf(s.opts.Out, "Epoch: %d, Training Loss: %.2f, Validation Loss: %.2f, accuracy = %.2f\n",
		epoch, m.TrainLoss, m.ValidLoss, m.Accuracy)
	for _, fn := range s.onEpoch {
		if err = fn(m); err != nil {
			return
		}
	}
	return
}

// profiledTrainingPass runs the training pass inside a profiling session and exports its trace.
func (s *Session) profiledTrainingPass(epoch int) (result PassResult, tracePath string, err error) {
	metadata := map[string]any{"epoch": epoch}
	for k, v := range s.opts.TraceMetadata {
		metadata[k] = v
	}
	prof := profiler.New(metadata)
	result, err = s.pass(Training, epoch, s.train, prof)
	prof.Stop()
	if err != nil {
		return
	}
	if s.opts.TracePath != nil {
		tracePath = s.opts.TracePath(epoch)
		if err = prof.Export(tracePath); err != nil {
			return
		}
		_, _ = fmt.Fprintln(s.opts.Out, "Exported trace")
	}
	return
}

// Test runs one evaluation pass over ds and prints its loss and accuracy.
func (s *Session) Test(ds train.Dataset) (PassResult, error) {
	result, err := s.pass(Test, len(s.history), ds, nil)
	if err != nil {
		return result, errors.WithMessage(err, "test pass")
	}
	_, _ = fmt.Fprintf(s.opts.Out, "Test Loss: %.2f, accuracy = %.2f\n", result.Loss(), result.Accuracy())
	return result, nil
}

// pass iterates ds once. Training passes call Stepper.TrainStep, the others Stepper.EvalStep.
// If prof is not nil, per-batch spans and memory samples are recorded.
func (s *Session) pass(kind Pass, epoch int, ds train.Dataset, prof *profiler.Session) (result PassResult, err error) {
	result.Pass = kind
	for _, fn := range s.onPassStart {
		if err = fn(kind, epoch); err != nil {
			return
		}
	}
	start := time.Now()
	for {
		spanStart := time.Now()
		_, inputs, labels, yieldErr := ds.Yield()
		if yieldErr == io.EOF {
			break
		}
		if yieldErr != nil {
			err = errors.WithMessagef(yieldErr, "reading %s dataset %q", kind, ds.Name())
			return
		}
		if prof != nil {
			prof.Record("data", "input", spanStart, time.Since(spanStart), nil)
		}

		var loss float64
		var batchSize, correct int
		batchSize, loss, correct, err = s.step(kind, inputs, labels, prof)
		finalizeAll(inputs)
		finalizeAll(labels)
		if err != nil {
			err = errors.WithMessagef(err, "%s batch #%d", kind, result.NumBatches)
			return
		}
		result.LossSum += loss * float64(batchSize)
		result.NumExamples += batchSize
		result.Correct += correct
		result.NumBatches++
		for _, fn := range s.onBatch {
			if err = fn(kind, batchSize, loss); err != nil {
				return
			}
		}
	}
	ds.Reset()
	result.Duration = time.Since(start)
	if result.NumExamples == 0 {
		err = errors.Wrapf(ErrEmptyDataset, "%s dataset %q", kind, ds.Name())
		return
	}
	klog.V(1).Infof("%s pass of epoch %d: %d examples in %d batches, %s", kind, epoch,
		result.NumExamples, result.NumBatches, result.Duration)
	for _, fn := range s.onPassEnd {
		if err = fn(result); err != nil {
			return
		}
	}
	return
}

func (s *Session) step(kind Pass, inputs, labels []*tensors.Tensor, prof *profiler.Session) (
	batchSize int, loss float64, correct int, err error) {
	if len(inputs) == 0 || inputs[0].Shape().Rank() == 0 {
		err = errors.Errorf("batch with no inputs or unbatched inputs")
		return
	}
	batchSize = inputs[0].Shape().Dimensions[0]

	endPlace := prof.Span("to_device", "device")
	err = s.stepper.Place(inputs, labels)
	endPlace()
	if err != nil {
		return
	}

	spanStart := time.Now()
	if kind == Training {
		loss, err = s.stepper.TrainStep(inputs, labels)
	} else {
		loss, correct, err = s.stepper.EvalStep(inputs, labels)
	}
	if err != nil {
		return
	}
	if prof != nil {
		prof.Record("train_step", "step", spanStart, time.Since(spanStart),
			map[string]any{"batch_size": batchSize, "loss": loss})
		prof.SampleMemory()
	}
	return
}

func finalizeAll(ts []*tensors.Tensor) {
	for _, t := range ts {
		if t == nil {
			continue
		}
		if err := t.FinalizeAll(); err != nil {
			klog.V(2).Infof("failed to finalize batch tensor: %v", err)
		}
	}
}
