// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

//go:build !cuda

package device

// probeAccelerator can't tell without the CUDA driver bindings: the caller tries the
// accelerator backend and falls back if it fails.
func probeAccelerator() (probed, present bool) {
	return false, false
}
