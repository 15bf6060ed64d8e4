// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

package imagefolder

import (
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrDatasetPath is the cause of the errors returned when a dataset root can't be listed.
var ErrDatasetPath = errors.New("dataset path not readable")

// ValidFn decides whether a file found under a class directory is a usable sample.
type ValidFn func(path string) bool

// IsDecodable reports whether path starts with the header of a registered image format
// (jpeg, png, gif, bmp or tiff) with non-empty dimensions. Only the header is read: files
// truncated after it pass and are skipped later, when Dataset.Yield fails to decode them.
func IsDecodable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	cfg, _, err := image.DecodeConfig(f)
	return err == nil && cfg.Width > 0 && cfg.Height > 0
}

// Sample is one image file with its class label.
type Sample struct {
	Path  string
	Label int32
}

// Index is the result of scanning a dataset root: the sorted class names and the
// samples in a stable order (class by class, files in lexicographic order).
type Index struct {
	Root    string
	Classes []string
	Samples []Sample

	// NumRejected is the number of files excluded by the validity predicate.
	NumRejected int
}

// Scan lists the class subdirectories of root, sorted lexicographically, and collects
// every file under each of them (recursively) for which valid returns true.
// The label of a sample is the index of its class in the sorted class list.
//
// A nil valid accepts every file. If root can't be listed the error wraps ErrDatasetPath.
func Scan(root string, valid ValidFn) (*Index, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(ErrDatasetPath, "scanning %q: %v", root, err)
	}
	idx := &Index{Root: root}
	for _, entry := range entries {
		if entry.IsDir() {
			idx.Classes = append(idx.Classes, entry.Name())
		}
	}
	slices.Sort(idx.Classes)

	for label, class := range idx.Classes {
		classDir := filepath.Join(root, class)
		// WalkDir visits entries in lexical order.
		err = filepath.WalkDir(classDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if valid != nil && !valid(path) {
				idx.NumRejected++
				klog.V(2).Infof("skipping %s: not a valid sample", path)
				return nil
			}
			idx.Samples = append(idx.Samples, Sample{Path: path, Label: int32(label)})
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(ErrDatasetPath, "scanning class %q of %q: %v", class, root, err)
		}
	}
	return idx, nil
}

// NumClasses returns the number of class directories found.
func (idx *Index) NumClasses() int { return len(idx.Classes) }
