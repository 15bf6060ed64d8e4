// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

// Package device selects the compute device for a session: an accelerator when one is
// available, the CPU otherwise.
package device

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Kind is the kind of device computations run on.
type Kind int

const (
	CPU Kind = iota
	Accelerator
)

// String returns the notice printed when the device is selected: "cpu" or "cuda".
func (k Kind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case Accelerator:
		return "cuda"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// BackendEnvVar overrides the device selection with an explicit backend configuration,
// e.g. "xla:cuda", "xla:cpu" or "go".
const BackendEnvVar = "GOMLX_BACKEND"

// Backend configurations tried, in order, when BackendEnvVar is not set.
var (
	AcceleratorConfig = "xla:cuda"
	CPUConfigs        = []string{"xla:cpu", "go"}
)

// acceleratorMarkers are substrings of backend configurations that denote an accelerator.
var acceleratorMarkers = []string{"cuda", "rocm", "tpu", "metal", "gpu"}

// KindOf infers the device kind from a backend configuration string.
func KindOf(config string) Kind {
	lower := strings.ToLower(config)
	for _, marker := range acceleratorMarkers {
		if strings.Contains(lower, marker) {
			return Accelerator
		}
	}
	return CPU
}

// Device is the selected compute device and the backend that runs on it.
type Device struct {
	kind    Kind
	config  string
	backend backends.Backend
}

// New wraps an already created backend.
func New(kind Kind, config string, backend backends.Backend) *Device {
	return &Device{kind: kind, config: config, backend: backend}
}

// Kind returns the kind of the device.
func (d *Device) Kind() Kind { return d.kind }

// Config returns the backend configuration used to create the device.
func (d *Device) Config() string { return d.config }

// Backend returns the backend running the computations.
func (d *Device) Backend() backends.Backend { return d.backend }

// String implements fmt.Stringer.
func (d *Device) String() string {
	return fmt.Sprintf("%s (%s)", d.kind, d.backend.Description())
}

// Place transfers the given tensors to the device, if they are not there yet.
func (d *Device) Place(ts ...*tensors.Tensor) error {
	for ii, t := range ts {
		if t == nil {
			continue
		}
		if err := t.MaterializeOnDevice(d.backend, false, 0); err != nil {
			return errors.WithMessagef(err, "placing tensor #%d (%s) on %s", ii, t.Shape(), d.kind)
		}
	}
	return nil
}

// Finalize releases the backend.
func (d *Device) Finalize() {
	if d.backend != nil {
		d.backend.Finalize()
		d.backend = nil
	}
}

// Constructor creates a backend from a configuration string.
type Constructor func(config string) (backends.Backend, error)

// NewBackend creates a backend with backends.NewWithConfig, converting panics into errors.
func NewBackend(config string) (backend backends.Backend, err error) {
	var newErr error
	err = exceptions.TryCatch[error](func() {
		backend, newErr = backends.NewWithConfig(config)
	})
	if err == nil {
		err = newErr
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "creating backend %q", config)
	}
	return backend, nil
}

// Select picks the device and prints its kind ("cuda" or "cpu") to stdout.
//
// The order of preference is: the configuration in GOMLX_BACKEND if set, then an accelerator,
// then the CPU.
func Select() (*Device, error) {
	return SelectWith(os.LookupEnv, NewBackend, os.Stdout)
}

// SelectWith implements Select with injectable environment lookup, backend constructor and output.
func SelectWith(lookup func(string) (string, bool), newBackend Constructor, out io.Writer) (*Device, error) {
	d, err := selectDevice(lookup, newBackend)
	if err != nil {
		return nil, err
	}
	if out != nil {
		_, _ = fmt.Fprintln(out, d.kind)
	}
	logHost()
	klog.V(1).Infof("selected device %s with backend config %q", d, d.config)
	return d, nil
}

func selectDevice(lookup func(string) (string, bool), newBackend Constructor) (*Device, error) {
	if config, found := lookup(BackendEnvVar); found && config != "" {
		backend, err := newBackend(config)
		if err != nil {
			return nil, errors.WithMessagef(err, "backend set by $%s", BackendEnvVar)
		}
		return New(KindOf(config), config, backend), nil
	}

	if probed, present := probeAccelerator(); !probed || present {
		backend, err := newBackend(AcceleratorConfig)
		if err == nil {
			return New(Accelerator, AcceleratorConfig, backend), nil
		}
		if present {
			klog.Warningf("accelerator detected but backend %q failed, falling back to CPU: %v", AcceleratorConfig, err)
		} else {
			klog.V(1).Infof("no accelerator available (%v)", err)
		}
	}

	var errs []string
	for _, config := range CPUConfigs {
		backend, err := newBackend(config)
		if err == nil {
			return New(CPU, config, backend), nil
		}
		errs = append(errs, err.Error())
	}
	return nil, errors.Errorf("no usable backend found, tried %q: %s",
		append([]string{AcceleratorConfig}, CPUConfigs...), strings.Join(errs, "; "))
}

// logHost logs the host CPU description.
func logHost() {
	if !klog.V(1).Enabled() {
		return
	}
	klog.Infof("host CPU: %s, %d physical cores, %d threads, AVX512: %v",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores,
		cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ))
}

// HostDescription returns a one line description of the host CPU.
func HostDescription() string {
	return fmt.Sprintf("%s (%d cores)", strings.TrimSpace(cpuid.CPU.BrandName), cpuid.CPU.LogicalCores)
}
