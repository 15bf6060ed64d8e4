// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

package onnxprofile

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// InputSize is the side of the square luminance image fed to super-resolution models.
const InputSize = 224

// LumaInput reads the image in path and returns its luminance as a tensor shaped [1, 1, size, size].
func LumaInput(path string, size int) (*tensors.Tensor, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading input image %q", path)
	}
	return LumaTensor(img, size), nil
}

// LumaTensor resizes img to size×size and returns its Y channel (as in YCbCr) as float32 values
// in [0, 255], shaped [1, 1, size, size].
func LumaTensor(img image.Image, size int) *tensors.Tensor {
	resized := imaging.Resize(img, size, size, imaging.CatmullRom)
	data := make([]float32, size*size)
	for y := range size {
		for x := range size {
			c := resized.NRGBAAt(x, y)
			luma, _, _ := color.RGBToYCbCr(c.R, c.G, c.B)
			data[y*size+x] = float32(luma)
		}
	}
	return tensors.FromFlatDataAndDimensions(data, 1, 1, size, size)
}
