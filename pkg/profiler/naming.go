// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"fmt"
	"time"

	"k8s.io/klog/v2"
)

// NamingPolicy selects how trace artifacts of a multi-epoch run are named.
type NamingPolicy string

const (
	// PerRun computes one path per run: every epoch overwrites the same artifact,
	// so only the last epoch's trace survives.
	PerRun NamingPolicy = "run"

	// PerEpoch appends the epoch number to the path, keeping one artifact per epoch.
	PerEpoch NamingPolicy = "epoch"
)

// TimestampLayout is the layout of the timestamp embedded in trace names.
const TimestampLayout = "20060102150405"

// TraceNamer builds trace artifact paths as
// <Folder><GPUFraction><ModelName><timestamp>[_epoch<N>].json.
//
// Folder is concatenated verbatim, so it should end with a path separator.
type TraceNamer struct {
	Folder, GPUFraction, ModelName string
	Policy                         NamingPolicy
	Start                          time.Time
}

// Path returns the artifact path for the given epoch, counted from 0.
func (n TraceNamer) Path(epoch int) string {
	base := n.Folder + n.GPUFraction + n.ModelName + n.Start.Format(TimestampLayout)
	switch n.Policy {
	case PerEpoch:
		return fmt.Sprintf("%s_epoch%d.json", base, epoch)
	case PerRun, "":
	default:
		klog.Warningf("unknown trace naming policy %q, using %q", n.Policy, PerRun)
	}
	return base + ".json"
}
