// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

// Package config resolves the training session options from the process environment.
//
// Every option is read from an environment variable. A missing variable, or one set to the
// literal "null", resolves to the option's default. Each resolved option is echoed as
//
//	read env key: <KEY>, value:<value>
//
// The resulting Config is immutable and is passed explicitly to the components that need it.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/analyzer-lab/analyzer/pkg/models/classifier"
	"github.com/analyzer-lab/analyzer/pkg/profiler"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

// NullValue is the environment value that selects an option's default.
const NullValue = "null"

// Environment variable names.
const (
	EnvModelName    = "MODEL_NAME"
	EnvNumClasses   = "NUM_CLASSES"
	EnvTrainSet     = "TRAIN_SET"
	EnvValSet       = "VAL_SET"
	EnvTestSet      = "TEST_SET"
	EnvBatchSize    = "BATCH_SIZE"
	EnvGPUFraction  = "GPU_FRACTION"
	EnvTraceFolder  = "TRACE_FOLDER"
	EnvEpochs       = "EPOCHS"
	EnvLearningRate = "LOSS_RATE"
	EnvTraceNaming  = "TRACE_NAMING"
	EnvCheckClasses = "CHECK_CLASSES"
	EnvImageSize    = "IMAGE_SIZE"
	EnvEvalTest     = "EVAL_TEST"
	EnvProgress     = "PROGRESS"
	EnvSummary      = "SUMMARY"
	EnvSettings     = "MODEL_SETTINGS"
)

// Hyperparameter keys set in a context.Context by Config.ApplyToContext.
const (
	ParamModel     = "model"
	ParamBatchSize = "batch_size"
	ParamImageSize = "image_size"
	ParamEpochs    = "epochs"
)

// OwnedParams maps the hyperparameters set by Config.ApplyToContext to the environment variable
// that configures them. An empty variable means the value is fixed (the optimizer is always Adam).
// MODEL_SETTINGS can't override them: see commandline.ParseSettings.
var OwnedParams = map[string]string{
	ParamModel:                   EnvModelName,
	classifier.ParamNumClasses:   EnvNumClasses,
	ParamBatchSize:               EnvBatchSize,
	ParamImageSize:               EnvImageSize,
	ParamEpochs:                  EnvEpochs,
	optimizers.ParamOptimizer:    "",
	optimizers.ParamLearningRate: EnvLearningRate,
}

// Config holds the resolved options of one training session.
type Config struct {
	ModelName    string
	NumClasses   int
	TrainSet     string
	ValSet       string
	TestSet      string
	BatchSize    int
	GPUFraction  string
	TraceFolder  string
	Epochs       int
	LearningRate float64

	// TraceNaming is either "run" (one artifact per run, rewritten every epoch) or "epoch".
	TraceNaming string

	// CheckClasses makes a mismatch between NumClasses and the discovered dataset classes fatal.
	CheckClasses bool

	// ImageSize is the side of the square images fed to the model.
	ImageSize int

	EvalTest bool
	Progress bool
	Summary  bool

	// Settings overrides model hyperparameters, as "param=value" pairs separated by ";".
	Settings string
}

// Default returns the configuration used when no environment variable is set.
func Default() Config {
	return Config{
		ModelName:    "alexnet",
		NumClasses:   2,
		TrainSet:     "/root/github/pytorch_datasets/train/",
		ValSet:       "/root/github/pytorch_datasets/val/",
		TestSet:      "/root/github/pytorch_datasets/test/",
		BatchSize:    64,
		GPUFraction:  "",
		TraceFolder:  "/tmp/",
		Epochs:       1,
		LearningRate: 0.001,
		TraceNaming:  "run",
		CheckClasses: true,
		ImageSize:    64,
	}
}

// ParseError is returned when an environment value can't be parsed into its option's type.
type ParseError struct {
	Key, Value string
	Err        error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("config: failed to parse %s=%q: %v", e.Key, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// LookupFn returns the value of an environment variable and whether it is set, like os.LookupEnv.
type LookupFn func(key string) (string, bool)

// Load resolves the configuration from the process environment, echoing each key to stdout.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv, os.Stdout)
}

// LoadFrom resolves the configuration using lookup, echoing each resolved key to out (if not nil).
//
// It returns a *ParseError (possibly wrapped) if a numeric or boolean value is malformed.
func LoadFrom(lookup LookupFn, out io.Writer) (*Config, error) {
	r := NewReader(lookup, out)
	cfg := Default()
	cfg.ModelName = r.String(EnvModelName, cfg.ModelName)
	cfg.NumClasses = r.Int(EnvNumClasses, cfg.NumClasses)
	cfg.TrainSet = r.String(EnvTrainSet, cfg.TrainSet)
	cfg.ValSet = r.String(EnvValSet, cfg.ValSet)
	cfg.TestSet = r.String(EnvTestSet, cfg.TestSet)
	cfg.BatchSize = r.Int(EnvBatchSize, cfg.BatchSize)
	cfg.GPUFraction = r.String(EnvGPUFraction, cfg.GPUFraction)
	cfg.TraceFolder = r.String(EnvTraceFolder, cfg.TraceFolder)
	cfg.Epochs = r.Int(EnvEpochs, cfg.Epochs)
	cfg.LearningRate = r.Float(EnvLearningRate, cfg.LearningRate)
	cfg.TraceNaming = r.String(EnvTraceNaming, cfg.TraceNaming)
	cfg.CheckClasses = r.Bool(EnvCheckClasses, cfg.CheckClasses)
	cfg.ImageSize = r.Int(EnvImageSize, cfg.ImageSize)
	cfg.EvalTest = r.Bool(EnvEvalTest, cfg.EvalTest)
	cfg.Progress = r.Bool(EnvProgress, cfg.Progress)
	cfg.Summary = r.Bool(EnvSummary, cfg.Summary)
	cfg.Settings = r.String(EnvSettings, cfg.Settings)
	if err := r.Err(); err != nil {
		return nil, errors.WithMessage(err, "failed to load configuration from environment")
	}
	return &cfg, nil
}

// ApplyToContext sets the session hyperparameters in ctx, so model functions and
// optimizers can read them with context.GetParamOr.
func (c *Config) ApplyToContext(ctx *context.Context) {
	ctx.SetParams(map[string]any{
		ParamModel:                   c.ModelName,
		classifier.ParamNumClasses:   c.NumClasses,
		ParamBatchSize:               c.BatchSize,
		ParamImageSize:               c.ImageSize,
		ParamEpochs:                  c.Epochs,
		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: c.LearningRate,
	})
}

// TraceNamer returns the trace artifact naming for a session started at start.
func (c *Config) TraceNamer(start time.Time) profiler.TraceNamer {
	return profiler.TraceNamer{
		Folder:      c.TraceFolder,
		GPUFraction: c.GPUFraction,
		ModelName:   c.ModelName,
		Policy:      profiler.NamingPolicy(c.TraceNaming),
		Start:       start,
	}
}
