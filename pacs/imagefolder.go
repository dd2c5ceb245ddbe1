// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pacs

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ImageExtensions recognized by ImageFolder, lower-case.
var ImageExtensions = []string{".jpg", ".jpeg", ".png"}

// ImageFolder is a collection of images labeled by the name of the sub-directory they are in:
// `<root>/<class_name>/<image_file>`.
//
// Class names are sorted alphabetically and their indices are their position in the sorted list.
// It is immutable once created.
type ImageFolder struct {
	root         string
	classes      []string
	classToIndex map[string]int
	paths        []string
	targets      []int
}

// NewImageFolder scans root for images, one sub-directory per class.
func NewImageFolder(root string) (*ImageFolder, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read image folder %q", root)
	}
	f := &ImageFolder{root: root, classToIndex: make(map[string]int)}
	for _, entry := range entries {
		if entry.IsDir() {
			f.classes = append(f.classes, entry.Name())
		}
	}
	if len(f.classes) == 0 {
		return nil, errors.Errorf("no class sub-directories found in %q", root)
	}
	slices.Sort(f.classes)
	for classIdx, className := range f.classes {
		f.classToIndex[className] = classIdx
		classDir := filepath.Join(root, className)
		files, err := os.ReadDir(classDir)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read class directory %q", classDir)
		}
		for _, file := range files {
			if file.IsDir() || !slices.Contains(ImageExtensions, strings.ToLower(filepath.Ext(file.Name()))) {
				continue
			}
			f.paths = append(f.paths, filepath.Join(classDir, file.Name()))
			f.targets = append(f.targets, classIdx)
		}
	}
	if len(f.paths) == 0 {
		return nil, errors.Errorf("no images found in %q", root)
	}
	klog.V(1).Infof("Image folder %q: %s images in %d classes", root, humanize.Comma(int64(len(f.paths))), len(f.classes))
	return f, nil
}

// Root directory of the image folder.
func (f *ImageFolder) Root() string { return f.root }

// Len returns the number of images.
func (f *ImageFolder) Len() int { return len(f.paths) }

// Classes returns the class names, in the order of their indices.
func (f *ImageFolder) Classes() []string { return slices.Clone(f.classes) }

// ClassToIndex returns the index of the class name and whether it was found.
func (f *ImageFolder) ClassToIndex(className string) (int, bool) {
	idx, found := f.classToIndex[className]
	return idx, found
}

// Targets returns the class index of each image.
func (f *ImageFolder) Targets() []int { return slices.Clone(f.targets) }

// Path of the i-th image.
func (f *ImageFolder) Path(i int) string { return f.paths[i] }

// Item reads and decodes the i-th image, and returns it with its class index.
func (f *ImageFolder) Item(i int) (image.Image, int, error) {
	if i < 0 || i >= len(f.paths) {
		return nil, 0, errors.Errorf("image index %d out of range for image folder with %d images", i, len(f.paths))
	}
	img, err := readImage(f.paths[i])
	if err != nil {
		return nil, 0, err
	}
	return img, f.targets[i], nil
}

// ClassDistribution returns the number of images per class.
func (f *ImageFolder) ClassDistribution() []int {
	counts := make([]int, len(f.classes))
	for _, target := range f.targets {
		counts[target]++
	}
	return counts
}

func readImage(imagePath string) (image.Image, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open image %q", imagePath)
	}
	defer func() { _ = file.Close() }()
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %q", imagePath)
	}
	return img, nil
}
