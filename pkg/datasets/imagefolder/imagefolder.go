// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

// Package imagefolder implements a train.Dataset over a directory tree with one
// subdirectory per class:
//
//	root/
//	  cat/ 001.jpg 002.png ...
//	  dog/ a.jpg b.jpg ...
//
// Classes are labeled by their position in the lexicographically sorted list of
// subdirectories. Files that don't decode as images are excluded when scanning.
//
// The Dataset yields one example at a time: an image tensor shaped [size, size, 3] and
// an int32 label shaped [1]. Use NewLoader to batch and prefetch it.
package imagefolder

import (
	"io"
	"sync"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Dataset yields the samples of an Index, in order, transformed to tensors.
// It is finite and Reset restarts it from the first sample.
type Dataset struct {
	name      string
	index     *Index
	transform *Transform

	mu          sync.Mutex
	next        int
	numSkipped  int
	numExamples int
}

var _ train.Dataset = (*Dataset)(nil)

// New scans root, keeping only decodable images, and returns a Dataset whose images
// are resized to size x size.
func New(name, root string, size int) (*Dataset, error) {
	idx, err := Scan(root, IsDecodable)
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q", name)
	}
	if idx.NumRejected > 0 {
		klog.V(1).Infof("dataset %q: %d files under %s are not decodable images and were excluded",
			name, idx.NumRejected, root)
	}
	return FromIndex(name, idx, NewTransform(size)), nil
}

// FromIndex creates a Dataset over an already scanned Index.
func FromIndex(name string, idx *Index, transform *Transform) *Dataset {
	return &Dataset{
		name:        name,
		index:       idx,
		transform:   transform,
		numExamples: len(idx.Samples),
	}
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Classes returns the class names, in label order.
func (ds *Dataset) Classes() []string { return ds.index.Classes }

// NumExamples returns the number of samples in one pass over the dataset.
func (ds *Dataset) NumExamples() int { return ds.numExamples }

// NumSkipped returns the number of samples that failed to load since creation.
func (ds *Dataset) NumSkipped() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.numSkipped
}

// Reset implements train.Dataset.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.next = 0
}

// Yield implements train.Dataset. It returns io.EOF after the last sample.
//
// A sample that fails to load is skipped and logged.
func (ds *Dataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for ds.next < len(ds.index.Samples) {
		sample := ds.index.Samples[ds.next]
		ds.next++
		img, loadErr := ds.transform.Load(sample.Path)
		if loadErr != nil {
			ds.numSkipped++
			klog.V(1).Infof("dataset %q: skipping %s: %v", ds.name, sample.Path, loadErr)
			continue
		}
		label := tensors.FromFlatDataAndDimensions([]int32{sample.Label}, 1)
		return ds, []*tensors.Tensor{img}, []*tensors.Tensor{label}, nil
	}
	return nil, nil, nil, io.EOF
}

// NewLoader batches ds into batches of batchSize examples. The last batch of a pass may be
// shorter. If prefetch > 0, that many batches are read ahead in a background goroutine,
// preserving the order.
//
// It returns an error if batchSize is not positive.
func NewLoader(backend backends.Backend, ds train.Dataset, batchSize, prefetch int) (train.Dataset, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("dataset %q: batch size must be positive, got %d", ds.Name(), batchSize)
	}
	var batched train.Dataset = datasets.Batch(backend, ds, batchSize, true, false)
	if prefetch > 0 {
		batched = datasets.ReadAhead(batched, prefetch)
	}
	return batched, nil
}
