// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pacstest creates small synthetic image folders, laid out like the PACS domains, for tests.
package pacstest

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ClassColor returns the color used to paint the images of the class with the given index.
func ClassColor(classIdx int) color.NRGBA {
	palette := []color.NRGBA{
		{R: 255, A: 255},
		{G: 255, A: 255},
		{B: 255, A: 255},
		{R: 255, G: 255, A: 255},
		{G: 255, B: 255, A: 255},
		{R: 255, B: 255, A: 255},
		{R: 128, G: 128, B: 128, A: 255},
	}
	return palette[classIdx%len(palette)]
}

// WriteImageFolder writes perClass PNG images of width x height pixels for each class into
// `<root>/<class>/`. The images of a class are painted with ClassColor.
func WriteImageFolder(root string, classes []string, perClass, width, height int) error {
	for classIdx, className := range classes {
		classDir := filepath.Join(root, className)
		if err := os.MkdirAll(classDir, 0777); err != nil {
			return errors.Wrapf(err, "creating %q", classDir)
		}
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		c := ClassColor(classIdx)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.SetNRGBA(x, y, c)
			}
		}
		for ii := 0; ii < perClass; ii++ {
			if err := writePNG(filepath.Join(classDir, fmt.Sprintf("pic_%03d.png", ii)), img); err != nil {
				return err
			}
		}
	}
	return nil
}

func writePNG(filePath string, img image.Image) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q", filePath)
	}
	if err = png.Encode(f, img); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "encoding %q", filePath)
	}
	return errors.Wrapf(f.Close(), "closing %q", filePath)
}
