// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

package session

import (
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrClassCount is the cause of the error returned when the configured number of classes
// doesn't match the classes discovered in a dataset.
var ErrClassCount = errors.New("class count mismatch")

// ClassSet names the classes discovered in one dataset.
type ClassSet struct {
	Name    string
	Classes []string
}

// CheckClassCount verifies that every dataset has numClasses classes. If strict is false,
// mismatches are only logged.
func CheckClassCount(numClasses int, strict bool, sets ...ClassSet) error {
	var mismatches []string
	for _, set := range sets {
		if len(set.Classes) != numClasses {
			mismatches = append(mismatches, set.Name)
			klog.Warningf("dataset %q has %d classes %q, but %d classes are configured",
				set.Name, len(set.Classes), set.Classes, numClasses)
		}
	}
	if len(mismatches) == 0 || !strict {
		return nil
	}
	return errors.Wrapf(ErrClassCount, "%d classes configured, datasets %s differ",
		numClasses, strings.Join(mismatches, ", "))
}
