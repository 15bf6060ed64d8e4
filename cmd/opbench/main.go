// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

// opbench benchmarks a vector-add operator on each of the backends listed in OPBENCH_BACKENDS
// (comma separated, default "go,xla:cpu") and exports the timings as a Chrome trace.
//
// Other options: OPBENCH_SIZE (vector length, default 1024), OPBENCH_REPEAT (timed runs,
// default 100) and TRACE_FOLDER (default "/tmp/").
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/analyzer-lab/analyzer/pkg/config"
	"github.com/analyzer-lab/analyzer/pkg/device"
	"github.com/analyzer-lab/analyzer/pkg/opbench"
	"github.com/analyzer-lab/analyzer/pkg/profiler"
	"github.com/analyzer-lab/analyzer/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	r := config.NewReader(os.LookupEnv, os.Stdout)
	defaults := opbench.DefaultOptions()
	backendsList := r.String("OPBENCH_BACKENDS", strings.Join(device.CPUConfigs, ","))
	opts := opbench.Options{
		Size:   r.Int("OPBENCH_SIZE", defaults.Size),
		Repeat: r.Int("OPBENCH_REPEAT", defaults.Repeat),
		Seed:   defaults.Seed,
	}
	traceFolder := r.String(config.EnvTraceFolder, config.Default().TraceFolder)
	if err := r.Err(); err != nil {
		klog.Exitf("opbench: %v", err)
	}

	prof := profiler.New(map[string]any{
		"operator": opbench.OperatorName,
		"size":     opts.Size,
		"host":     device.HostDescription(),
	})
	results, err := opbench.RunAll(strings.Split(backendsList, ","), device.NewBackend, opts, prof)
	prof.Stop()
	if err != nil {
		klog.Exitf("opbench failed: %+v", err)
	}
	for _, result := range results {
		fmt.Printf("%s on %-8s  mean %s  min %s  first run %s\n", opbench.OperatorName, result.Backend,
			commandline.FormatDuration(result.Mean), commandline.FormatDuration(result.Min),
			commandline.FormatDuration(result.FirstRun))
	}
	tracePath := filepath.Join(traceFolder,
		fmt.Sprintf("%s%s.json", opbench.OperatorName, time.Now().Format(profiler.TimestampLayout)))
	must.M(prof.Export(tracePath))
	fmt.Println("Exported trace")
}
