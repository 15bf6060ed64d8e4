// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

//go:build cuda

package device

import (
	"github.com/dustin/go-humanize"
	"gorgonia.org/cu"
	"k8s.io/klog/v2"
)

// probeAccelerator asks the CUDA driver whether a device is present.
func probeAccelerator() (probed, present bool) {
	n, err := cu.NumDevices()
	if err != nil {
		klog.V(1).Infof("CUDA driver probe failed: %v", err)
		return true, false
	}
	for ii := range n {
		dev := cu.Device(ii)
		name, _ := dev.Name()
		mem, _ := dev.TotalMem()
		klog.V(1).Infof("CUDA device #%d: %s, %s", ii, name, humanize.Bytes(uint64(mem)))
	}
	return true, n > 0
}
