// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pacs

import (
	"image"
	"io"
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Batch of transformed images and their labels.
type Batch struct {
	// Images shaped `[size, height, width, 3]`, float32.
	Images *tensors.Tensor

	// Labels shaped `[size, 1]`, int32.
	Labels *tensors.Tensor

	// ClassIDs holds the same values as Labels.
	ClassIDs []int

	// Indices of the images in the ImageFolder.
	Indices []int
}

// Size of the batch: the number of examples.
func (b *Batch) Size() int { return len(b.ClassIDs) }

// Finalize frees the batch's tensors immediately, without waiting for the garbage collector.
func (b *Batch) Finalize() {
	for _, t := range []*tensors.Tensor{b.Images, b.Labels} {
		if t != nil {
			_ = t.FinalizeAll()
		}
	}
}

// Loader iterates over an ImageFolder in batches.
//
// Each iteration (epoch) is started with Reset, which reshuffles the order of the images if a
// random number generator was given.
type Loader struct {
	name      string
	folder    *ImageFolder
	transform *Transform
	batchSize int
	dropLast  bool

	// mu protects shuffle, order and next.
	mu      sync.Mutex
	shuffle *rand.Rand
	order   []int
	next    int
}

// NewLoader creates a Loader of batches of batchSize images from folder.
//
//   - shuffle: if not nil, the images are shuffled on every Reset.
//   - dropLast: if true, the last batch is dropped if it has fewer than batchSize images.
func NewLoader(name string, folder *ImageFolder, transform *Transform, batchSize int, shuffle *rand.Rand, dropLast bool) *Loader {
	l := &Loader{
		name:      name,
		folder:    folder,
		transform: transform,
		batchSize: batchSize,
		dropLast:  dropLast,
		shuffle:   shuffle,
	}
	l.Reset()
	return l
}

// Name of the Loader, used in error messages.
func (l *Loader) Name() string { return l.name }

// Folder returns the ImageFolder the Loader iterates over.
func (l *Loader) Folder() *ImageFolder { return l.folder }

// BatchSize configured.
func (l *Loader) BatchSize() int { return l.batchSize }

// Len returns the number of images in the underlying ImageFolder.
func (l *Loader) Len() int { return l.folder.Len() }

// NumBatches returns the number of batches in one iteration.
func (l *Loader) NumBatches() int {
	n := l.folder.Len()
	if l.dropLast {
		return n / l.batchSize
	}
	return (n + l.batchSize - 1) / l.batchSize
}

// permutation returns a new order of the images. It must be called with mu locked.
func (l *Loader) permutation() []int {
	if l.shuffle == nil {
		order := make([]int, l.folder.Len())
		for ii := range order {
			order[ii] = ii
		}
		return order
	}
	return l.shuffle.Perm(l.folder.Len())
}

// Reset restarts the iteration, reshuffling the images if configured.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = l.permutation()
	l.next = 0
}

// nextIndices selects the images of the next batch, or returns io.EOF.
func (l *Loader) nextIndices() ([]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	remaining := len(l.order) - l.next
	if remaining <= 0 || (l.dropLast && remaining < l.batchSize) {
		return nil, io.EOF
	}
	n := min(remaining, l.batchSize)
	indices := l.order[l.next : l.next+n]
	l.next += n
	return indices, nil
}

// Next returns the next batch of the current iteration, or io.EOF when it is exhausted.
func (l *Loader) Next() (*Batch, error) {
	indices, err := l.nextIndices()
	if err != nil {
		return nil, err
	}
	return l.load(indices)
}

// First returns the first batch of a new, independently shuffled, iteration.
// It doesn't change the state of the current iteration.
func (l *Loader) First() (*Batch, error) {
	l.mu.Lock()
	order := l.permutation()
	l.mu.Unlock()
	n := min(len(order), l.batchSize)
	if n == 0 || (l.dropLast && n < l.batchSize) {
		return nil, io.EOF
	}
	return l.load(order[:n])
}

// load reads, in parallel, and transforms the images with the given indices.
func (l *Loader) load(indices []int) (*Batch, error) {
	images := make([]image.Image, len(indices))
	classIDs := make([]int, len(indices))
	errs := make([]error, len(indices))
	var wg sync.WaitGroup
	for ii, imgIdx := range indices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			images[ii], classIDs[ii], errs[ii] = l.folder.Item(imgIdx)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, errors.WithMessagef(err, "loading batch for %q", l.name)
		}
	}
	labels := make([]int32, len(classIDs))
	for ii, classID := range classIDs {
		labels[ii] = int32(classID)
	}
	return &Batch{
		Images:   l.transform.Batch(images),
		Labels:   tensors.FromFlatDataAndDimensions(labels, len(labels), 1),
		ClassIDs: classIDs,
		Indices:  append([]int(nil), indices...),
	}, nil
}
