// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

package imagefolder

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
)

// ImageNet channel statistics used to normalize RGB images.
var (
	NormalizationMean = [3]float32{0.485, 0.456, 0.406}
	NormalizationStd  = [3]float32{0.229, 0.224, 0.225}
)

// Transform converts decoded images to normalized float32 tensors shaped [size, size, 3].
type Transform struct {
	Size      int
	Mean, Std [3]float32
	toTensor  *timage.ToTensorConfig
}

// NewTransform returns the resize-then-normalize transform for square images of the given size.
func NewTransform(size int) *Transform {
	return &Transform{
		Size:     size,
		Mean:     NormalizationMean,
		Std:      NormalizationStd,
		toTensor: timage.ToTensor(dtypes.Float32),
	}
}

// Resize scales img to Size x Size, without preserving the aspect ratio.
func (tr *Transform) Resize(img image.Image) image.Image {
	return imaging.Resize(img, tr.Size, tr.Size, imaging.Linear)
}

// Apply resizes img, converts it to values in [0, 1] and normalizes each channel
// with (x - mean) / std.
func (tr *Transform) Apply(img image.Image) *tensors.Tensor {
	t := tr.toTensor.Single(tr.Resize(img))
	tensors.MustMutableFlatData[float32](t, func(flat []float32) {
		for ii := range flat {
			ch := ii % 3
			flat[ii] = (flat[ii] - tr.Mean[ch]) / tr.Std[ch]
		}
	})
	return t
}

// Load opens and transforms the image at path.
func (tr *Transform) Load(path string) (*tensors.Tensor, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, err
	}
	return tr.Apply(img), nil
}
