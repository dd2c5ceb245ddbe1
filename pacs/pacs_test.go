// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pacs_test

import (
	"fmt"
	"image"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/pacsdann/pacs"
	"github.com/gomlx/pacsdann/pacs/pacstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDomain(t *testing.T) {
	for _, d := range pacs.AllDomains {
		parsed, err := pacs.ParseDomain(d.String())
		require.NoError(t, err)
		require.Equal(t, d, parsed)
	}
	for _, name := range []string{"art", "Art Painting", "art_painting"} {
		d, err := pacs.ParseDomain(name)
		require.NoError(t, err)
		require.Equal(t, pacs.ArtPainting, d)
	}
	_, err := pacs.ParseDomain("watercolor")
	require.Error(t, err)
	require.Equal(t, "sketch", pacs.Sketch.String())
	require.Len(t, pacs.Classes, pacs.NumClasses)
}

func TestImageFolder(t *testing.T) {
	root := t.TempDir()
	// Classes written out of order: they must come out sorted.
	require.NoError(t, pacstest.WriteImageFolder(root, []string{"horse", "dog"}, 3, 8, 6))
	// A non-image file is ignored.
	require.NoError(t, os.WriteFile(filepath.Join(root, "dog", "README.txt"), []byte("x"), 0666))

	f, err := pacs.NewImageFolder(root)
	require.NoError(t, err)
	require.Equal(t, 6, f.Len())
	require.Equal(t, []string{"dog", "horse"}, f.Classes())
	idx, found := f.ClassToIndex("horse")
	require.True(t, found)
	require.Equal(t, 1, idx)
	_, found = f.ClassToIndex("cat")
	require.False(t, found)
	require.Equal(t, []int{0, 0, 0, 1, 1, 1}, f.Targets())
	require.Equal(t, []int{3, 3}, f.ClassDistribution())

	img, label, err := f.Item(4)
	require.NoError(t, err)
	require.Equal(t, 1, label)
	require.Equal(t, 8, img.Bounds().Dx())
	require.Equal(t, 6, img.Bounds().Dy())

	_, _, err = f.Item(6)
	require.Error(t, err)

	_, err = pacs.NewImageFolder(filepath.Join(root, "missing"))
	require.Error(t, err)
	_, err = pacs.NewImageFolder(t.TempDir())
	require.Error(t, err)
}

func TestLoadDomain(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, pacstest.WriteImageFolder(pacs.DomainDir(dataDir, pacs.Cartoon), pacs.Classes, 1, 4, 4))
	f, err := pacs.LoadDomain(dataDir, pacs.Cartoon)
	require.NoError(t, err)
	require.Equal(t, pacs.Classes, f.Classes())
	_, err = pacs.LoadDomain(dataDir, pacs.Sketch)
	require.Error(t, err)
}

func TestTransform(t *testing.T) {
	flat := []float32{1, 1, 1, 0, 0, 0}
	pacs.Normalize(flat)
	for ii, want := range []float64{
		(1 - 0.485) / 0.229, (1 - 0.456) / 0.224, (1 - 0.406) / 0.225,
		-0.485 / 0.229, -0.456 / 0.224, -0.406 / 0.225,
	} {
		require.InDelta(t, want, float64(flat[ii]), 1e-5, "flat[%d]", ii)
	}

	root := t.TempDir()
	require.NoError(t, pacstest.WriteImageFolder(root, []string{"a", "b"}, 1, 10, 6))
	f, err := pacs.NewImageFolder(root)
	require.NoError(t, err)
	img0, _, err := f.Item(0)
	require.NoError(t, err)
	img1, _, err := f.Item(1)
	require.NoError(t, err)

	transform := pacs.NewTransform(4)
	require.Equal(t, 4, transform.Crop(img0).Bounds().Dx())
	batch := transform.Batch([]image.Image{img0, img1})
	require.Equal(t, []int{2, 4, 4, 3}, batch.Shape().Dimensions)
	values := tensors.MustCopyFlatData[float32](batch)
	// First image is pure red.
	require.InDelta(t, (1-0.485)/0.229, float64(values[0]), 1e-2)
	require.InDelta(t, -0.456/0.224, float64(values[1]), 1e-2)

	// Images smaller than the crop are scaled up.
	big := pacs.NewTransform(16)
	cropped := big.Crop(img0)
	require.Equal(t, 16, cropped.Bounds().Dx())
	require.Equal(t, 16, cropped.Bounds().Dy())
}

func newTestLoader(t *testing.T, numImages, batchSize int, shuffle *rand.Rand, dropLast bool) *pacs.Loader {
	root := t.TempDir()
	require.NoError(t, pacstest.WriteImageFolder(root, []string{"x"}, numImages, 4, 4))
	f, err := pacs.NewImageFolder(root)
	require.NoError(t, err)
	return pacs.NewLoader("test", f, pacs.NewTransform(4), batchSize, shuffle, dropLast)
}

func collectEpoch(t *testing.T, l *pacs.Loader) (sizes []int, indices []int) {
	l.Reset()
	for {
		batch, err := l.Next()
		if err == io.EOF {
			return
		}
		require.NoError(t, err)
		require.Equal(t, []int{batch.Size(), 4, 4, 3}, batch.Images.Shape().Dimensions)
		require.Equal(t, []int{batch.Size(), 1}, batch.Labels.Shape().Dimensions)
		sizes = append(sizes, batch.Size())
		indices = append(indices, batch.Indices...)
		batch.Finalize()
	}
}

func TestLoader(t *testing.T) {
	testCases := []struct {
		numImages, batchSize int
		dropLast             bool
		wantSizes            []int
	}{
		{10, 4, true, []int{4, 4}},
		{10, 4, false, []int{4, 4, 2}},
		{8, 4, true, []int{4, 4}},
		{3, 4, true, nil},
		{3, 4, false, []int{3}},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%d/%d/dropLast=%v", tc.numImages, tc.batchSize, tc.dropLast), func(t *testing.T) {
			l := newTestLoader(t, tc.numImages, tc.batchSize, rand.New(rand.NewSource(1)), tc.dropLast)
			require.Equal(t, len(tc.wantSizes), l.NumBatches())
			sizes, _ := collectEpoch(t, l)
			require.Equal(t, tc.wantSizes, sizes)
			// Second epoch yields the same number of batches.
			sizes, _ = collectEpoch(t, l)
			require.Equal(t, tc.wantSizes, sizes)
		})
	}
}

func TestLoaderShuffle(t *testing.T) {
	// Without shuffle, images come in order.
	l := newTestLoader(t, 12, 4, nil, false)
	_, indices := collectEpoch(t, l)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, indices)

	// With shuffle, every image is visited once per epoch, in a different order each epoch.
	l = newTestLoader(t, 12, 4, rand.New(rand.NewSource(42)), false)
	_, first := collectEpoch(t, l)
	_, second := collectEpoch(t, l)
	require.NotEqual(t, first, second)
	slices.Sort(first)
	slices.Sort(second)
	require.Equal(t, indices, first)
	require.Equal(t, indices, second)
}

func TestLoaderFirst(t *testing.T) {
	l := newTestLoader(t, 12, 4, rand.New(rand.NewSource(7)), false)
	l.Reset()
	batch, err := l.Next()
	require.NoError(t, err)
	cursor := batch.Indices

	// First draws don't disturb the current iteration.
	seen := make(map[int]bool)
	for range 10 {
		first, err := l.First()
		require.NoError(t, err)
		require.Equal(t, 4, first.Size())
		for _, idx := range first.Indices {
			seen[idx] = true
		}
	}
	assert.Greater(t, len(seen), 4, "fresh draws should not always return the same images")
	batch, err = l.Next()
	require.NoError(t, err)
	require.NotEqual(t, cursor, batch.Indices)
	_, err = l.Next()
	require.NoError(t, err)
	_, err = l.Next()
	require.Equal(t, io.EOF, err)

	// Too small for a full batch with dropLast.
	small := newTestLoader(t, 3, 4, nil, true)
	_, err = small.First()
	require.Equal(t, io.EOF, err)
}

func TestLoaderEpoch(t *testing.T) {
	l := newTestLoader(t, 5, 2, nil, false)
	require.Equal(t, "test", l.Name())
	var count int
	for {
		batch, err := l.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Equal(t, []int{batch.Size(), 4, 4, 3}, batch.Images.Shape().Dimensions)
		require.Equal(t, []int{batch.Size(), 1}, batch.Labels.Shape().Dimensions)
		batch.Finalize()
		count++
	}
	require.Equal(t, 3, count)
}

func TestDownloadIfMissing(t *testing.T) {
	content := []byte("some archive content")
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write(content)
	}))
	defer server.Close()

	filePath := filepath.Join(t.TempDir(), "sub", "file.zip")
	require.NoError(t, pacs.DownloadIfMissing(server.URL, filePath))
	got, err := os.ReadFile(filePath)
	require.NoError(t, err)
	require.Equal(t, content, got)

	// Second call finds the file already there.
	require.NoError(t, pacs.DownloadIfMissing(server.URL, filePath))
	require.Equal(t, int32(1), requests.Load())

	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()
	require.Error(t, pacs.DownloadIfMissing(notFound.URL, filepath.Join(t.TempDir(), "missing.zip")))
}
