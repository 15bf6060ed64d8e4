// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

// trainnn trains an image classifier on class-per-subdirectory image folders and exports a
// Chrome trace of every training pass.
//
// All options are read from the environment (see package config), e.g.:
//
//	MODEL_NAME=cnn EPOCHS=3 BATCH_SIZE=32 TRACE_FOLDER=/tmp/traces/ trainnn
//
// The train, validation and test sets are always loaded and their classes checked. The test
// pass itself only runs with EVAL_TEST=true.
//
// The backend can be forced with GOMLX_BACKEND (e.g. "go" or "xla:cpu"). Use -v=1 for diagnostics.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/analyzer-lab/analyzer/pkg/config"
	"github.com/analyzer-lab/analyzer/pkg/datasets/imagefolder"
	"github.com/analyzer-lab/analyzer/pkg/device"
	"github.com/analyzer-lab/analyzer/pkg/models/classifier"
	"github.com/analyzer-lab/analyzer/pkg/session"
	"github.com/analyzer-lab/analyzer/pkg/trainer"
	"github.com/analyzer-lab/analyzer/ui/commandline"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

// prefetch is the number of batches read ahead of the training loop.
const prefetch = 2

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if err := run(os.LookupEnv, os.Stdout); err != nil {
		klog.Exitf("trainnn failed: %+v", err)
	}
}

// run executes one training session configured by lookup, writing the user-facing lines to out.
func run(lookup config.LookupFn, out io.Writer) error {
	cfg, err := config.LoadFrom(lookup, out)
	if err != nil {
		return err
	}
	dev, err := device.SelectWith(lookup, device.NewBackend, out)
	if err != nil {
		return err
	}
	defer dev.Finalize()

	trainSet, err := imagefolder.New("train", cfg.TrainSet, cfg.ImageSize)
	if err != nil {
		return err
	}
	valSet, err := imagefolder.New("val", cfg.ValSet, cfg.ImageSize)
	if err != nil {
		return err
	}
	testSet, err := imagefolder.New("test", cfg.TestSet, cfg.ImageSize)
	if err != nil {
		return err
	}
	allSets := []*imagefolder.Dataset{trainSet, valSet, testSet}
	classSets := make([]session.ClassSet, 0, len(allSets))
	for _, ds := range allSets {
		classSets = append(classSets, session.ClassSet{Name: ds.Name(), Classes: ds.Classes()})
	}
	if err = session.CheckClassCount(cfg.NumClasses, cfg.CheckClasses, classSets...); err != nil {
		return err
	}

	ctx := context.New()
	modelFn, modelName := classifier.ByName(cfg.ModelName)
	classifier.SetDefaults(ctx, modelName)
	cfg.ApplyToContext(ctx)
	paramsSet, err := commandline.ParseSettings(ctx, cfg.Settings, config.OwnedParams)
	if err != nil {
		return errors.WithMessage(err, "parsing "+config.EnvSettings)
	}
	klog.V(1).Infof("hyperparameters:\n%s", commandline.SettingsTable(ctx, paramsSet))

	stepper, err := trainer.New(dev, ctx, modelFn)
	if err != nil {
		return err
	}

	backend := dev.Backend()
	trainDS, err := imagefolder.NewLoader(backend, trainSet, cfg.BatchSize, prefetch)
	if err != nil {
		return err
	}
	validDS, err := imagefolder.NewLoader(backend, valSet, cfg.BatchSize, prefetch)
	if err != nil {
		return err
	}
	sess := session.New(stepper, trainDS, validDS, session.Options{
		Epochs:    cfg.Epochs,
		TracePath: cfg.TraceNamer(time.Now()).Path,
		TraceMetadata: map[string]any{
			"model":        modelName,
			"device":       dev.String(),
			"gpu_fraction": cfg.GPUFraction,
			"batch_size":   cfg.BatchSize,
		},
		Out: out,
	})
	if cfg.Progress {
		commandline.AttachProgressBar(sess, func(pass session.Pass) int {
			switch pass {
			case session.Training:
				return numBatches(trainSet.NumExamples(), cfg.BatchSize)
			case session.Validation:
				return numBatches(valSet.NumExamples(), cfg.BatchSize)
			case session.Test:
				return numBatches(testSet.NumExamples(), cfg.BatchSize)
			}
			return -1
		})
	}

	start := time.Now()
	history, err := sess.Run()
	if err != nil {
		return err
	}
	klog.V(1).Infof("training finished in %s", commandline.FormatDuration(time.Since(start)))
	if cfg.EvalTest {
		testDS, err := imagefolder.NewLoader(backend, testSet, cfg.BatchSize, prefetch)
		if err != nil {
			return err
		}
		if _, err = sess.Test(testDS); err != nil {
			return err
		}
	}
	for _, ds := range allSets {
		if n := ds.NumSkipped(); n > 0 {
			klog.Warningf("dataset %q: %d images failed to load and were skipped", ds.Name(), n)
		}
	}
	if cfg.Summary {
		_, _ = fmt.Fprintln(out)
		commandline.PrintSummary(out, history)
	}
	return nil
}

func numBatches(numExamples, batchSize int) int {
	return (numExamples + batchSize - 1) / batchSize
}
