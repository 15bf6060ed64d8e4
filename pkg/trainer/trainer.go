// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

// Package trainer implements session.Stepper with GoMLX: a train.Trainer running the model,
// the sparse categorical cross-entropy loss and the Adam optimizer for training steps, and a
// separate computation graph for evaluation steps that returns the mean loss and the number
// of correct predictions.
package trainer

import (
	"fmt"

	"github.com/analyzer-lab/analyzer/pkg/device"
	"github.com/analyzer-lab/analyzer/pkg/session"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

// ComputationError wraps failures of the numerical library (shape mismatches, device
// out-of-memory and the like) during a step.
type ComputationError struct {
	Op  string
	Err error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

// Trainer runs the train and evaluation steps of a model on a device.
type Trainer struct {
	dev      *device.Device
	ctx      *context.Context
	modelFn  train.ModelFn
	trainer  *train.Trainer
	evalExec *context.Exec
}

var _ session.Stepper = (*Trainer)(nil)

// New creates the Trainer for modelFn. The model variables and the optimizer hyperparameters
// (optimizers.ParamLearningRate) live in ctx.
//
// Training and evaluation share the variables in ctx, whichever graph creates them first, so
// both are built on the unchecked view of ctx.
func New(dev *device.Device, ctx *context.Context, modelFn train.ModelFn) (*Trainer, error) {
	ctx = ctx.Checked(false)
	t := &Trainer{dev: dev, ctx: ctx, modelFn: modelFn}
	err := exceptions.TryCatch[error](func() {
		t.trainer = train.NewTrainer(dev.Backend(), ctx, modelFn,
			losses.SparseCategoricalCrossEntropyLogits,
			optimizers.Adam().FromContext(ctx).Done(),
			nil, nil)
	})
	if err != nil {
		return nil, &ComputationError{Op: "creating trainer", Err: err}
	}
	t.evalExec, err = context.NewExec(dev.Backend(), ctx, t.evalGraph)
	if err != nil {
		return nil, &ComputationError{Op: "creating evaluation graph", Err: err}
	}
	return t, nil
}

// Place implements session.Stepper.
func (t *Trainer) Place(inputs, labels []*tensors.Tensor) error {
	if err := t.dev.Place(inputs...); err != nil {
		return err
	}
	return t.dev.Place(labels...)
}

// TrainStep implements session.Stepper.
func (t *Trainer) TrainStep(inputs, labels []*tensors.Tensor) (loss float64, err error) {
	var metrics []*tensors.Tensor
	var stepErr error
	err = exceptions.TryCatch[error](func() {
		metrics, stepErr = t.trainer.TrainStep(nil, inputs, labels)
	})
	if err == nil {
		err = stepErr
	}
	if err != nil {
		return 0, &ComputationError{Op: "train step", Err: err}
	}
	if len(metrics) == 0 {
		return 0, &ComputationError{Op: "train step", Err: errors.New("no batch loss returned")}
	}
	return scalarToFloat(metrics[0])
}

// EvalStep implements session.Stepper.
func (t *Trainer) EvalStep(inputs, labels []*tensors.Tensor) (loss float64, correct int, err error) {
	if len(inputs) != 1 || len(labels) != 1 {
		return 0, 0, errors.Errorf("evaluation takes one input and one label tensor, got %d and %d",
			len(inputs), len(labels))
	}
	var lossT, correctT *tensors.Tensor
	var execErr error
	err = exceptions.TryCatch[error](func() {
		lossT, correctT, execErr = t.evalExec.Exec2(inputs[0], labels[0])
	})
	if err == nil {
		err = execErr
	}
	if err != nil {
		return 0, 0, &ComputationError{Op: "evaluation step", Err: err}
	}
	defer func() {
		_ = lossT.FinalizeAll()
		_ = correctT.FinalizeAll()
	}()
	loss, err = scalarToFloat(lossT)
	if err != nil {
		return
	}
	correct = int(tensors.ToScalar[int32](correctT))
	return
}

// evalGraph computes the mean loss of the batch and how many argmax predictions match the labels.
func (t *Trainer) evalGraph(ctx *context.Context, images, labels *Node) (loss, correct *Node) {
	g := images.Graph()
	ctx.SetTraining(g, false)
	logits := t.modelFn(ctx, nil, []*Node{images})[0]
	loss = ReduceAllMean(losses.SparseCategoricalCrossEntropyLogits([]*Node{labels}, []*Node{logits}))
	predictions := ArgMax(Softmax(logits, 1), 1, labels.DType())
	matches := Equal(predictions, Squeeze(labels, 1))
	correct = ReduceAllSum(ConvertDType(matches, dtypes.Int32))
	return
}

func scalarToFloat(t *tensors.Tensor) (float64, error) {
	switch v := t.Value().(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, errors.Errorf("expected a float scalar, got %s", t.Shape())
}
