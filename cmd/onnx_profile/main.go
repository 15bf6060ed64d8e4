// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

// onnx_profile measures an ONNX model fed with the luminance of an image, plus an "x+1" baseline,
// and exports the measurements as a Chrome trace.
//
// Options are read from the environment: ONNX_MODEL (required), ONNX_IMAGE (required), ONNX_INPUT
// (input name, defaults to the first model input), ONNX_REPEAT (default 10) and TRACE_FOLDER.
// The backend is selected as for trainnn, and can be forced with GOMLX_BACKEND.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/analyzer-lab/analyzer/pkg/config"
	"github.com/analyzer-lab/analyzer/pkg/device"
	"github.com/analyzer-lab/analyzer/pkg/onnxprofile"
	"github.com/analyzer-lab/analyzer/pkg/profiler"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	r := config.NewReader(os.LookupEnv, os.Stdout)
	modelPath := r.String("ONNX_MODEL", "")
	imagePath := r.String("ONNX_IMAGE", "")
	inputName := r.String("ONNX_INPUT", "")
	repeat := r.Int("ONNX_REPEAT", 10)
	traceFolder := r.String(config.EnvTraceFolder, config.Default().TraceFolder)
	if err := r.Err(); err != nil {
		klog.Exitf("onnx_profile: %v", err)
	}
	if modelPath == "" || imagePath == "" {
		klog.Exitf("onnx_profile: ONNX_MODEL and ONNX_IMAGE must be set")
	}

	dev := must.M1(device.Select())
	defer dev.Finalize()
	model := must.M1(onnxprofile.Load(modelPath))
	defer func() {
		if err := model.Close(); err != nil {
			klog.Warningf("%v", err)
		}
	}()
	fmt.Printf("Model inputs: %v\n", model.Inputs)
	fmt.Printf("Model outputs: %v\n", model.Outputs)
	input := must.M1(onnxprofile.LumaInput(imagePath, onnxprofile.InputSize))

	prof := profiler.New(map[string]any{"model": modelPath, "device": dev.String()})
	measurements := []onnxprofile.Measurement{
		must.M1(model.Profile(dev.Backend(), inputName, input, repeat, prof)),
		must.M1(onnxprofile.Baseline(dev.Backend(), repeat, prof)),
	}
	prof.Stop()
	for _, m := range measurements {
		fmt.Println(m)
	}

	tracePath := filepath.Join(traceFolder,
		fmt.Sprintf("onnx_profile%s.json", time.Now().Format(profiler.TimestampLayout)))
	must.M(prof.Export(tracePath))
	fmt.Println("Exported trace")
}
