// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pacs

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
)

// ImageSize is the default height and width of the images fed to the model.
const ImageSize = 224

var (
	// ImageNetMean is the per-channel (RGB) mean used to normalize the images.
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}

	// ImageNetStdDev is the per-channel (RGB) standard deviation used to normalize the images.
	ImageNetStdDev = [3]float32{0.229, 0.224, 0.225}
)

// Transform converts images to the normalized tensors the model takes: it crops the center square
// of Size x Size pixels, converts the pixel values to [0, 1] and normalizes each channel with
// ImageNetMean and ImageNetStdDev.
type Transform struct {
	Size     int
	toTensor *timage.ToTensorConfig
}

// NewTransform creates a Transform cropping images to size x size.
func NewTransform(size int) *Transform {
	return &Transform{Size: size, toTensor: timage.ToTensor(dtypes.Float32)}
}

// Crop returns the center size x size crop of the image. Images smaller than that are first
// scaled up, preserving the aspect ratio, so they cover the crop.
func (t *Transform) Crop(img image.Image) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() < t.Size || bounds.Dy() < t.Size {
		return imaging.Fill(img, t.Size, t.Size, imaging.Center, imaging.Lanczos)
	}
	return imaging.CropCenter(img, t.Size, t.Size)
}

// Batch transforms the images into a float32 tensor shaped `[len(images), Size, Size, 3]`.
func (t *Transform) Batch(images []image.Image) *tensors.Tensor {
	cropped := make([]image.Image, len(images))
	for ii, img := range images {
		cropped[ii] = t.Crop(img)
	}
	batch := t.toTensor.Batch(cropped)
	tensors.MustMutableFlatData(batch, func(flat []float32) {
		Normalize(flat)
	})
	return batch
}

// Normalize in place the pixel values of images with channels in the last axis,
// using ImageNetMean and ImageNetStdDev.
func Normalize(flat []float32) {
	for ii := range flat {
		channel := ii % 3
		flat[ii] = (flat[ii] - ImageNetMean[channel]) / ImageNetStdDev[channel]
	}
}
