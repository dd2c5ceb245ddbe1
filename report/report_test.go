// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"bytes"
	"image/png"
	"os"
	"path"
	"testing"

	"github.com/gomlx/pacsdann/dann"
	"github.com/gomlx/pacsdann/modes"
	"github.com/gomlx/pacsdann/pacs"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResults(t *testing.T, mode modes.Mode) *Results {
	alpha := 0.25
	cfg, err := modes.New(mode, modes.DefaultHyperparameters(), &alpha)
	require.NoError(t, err)
	m := dann.NewMetrics()
	m.LossClass = []float64{1.9, 1.5, 1.25, 1}
	if cfg.UseDomainAdaptation() {
		m.LossSource = []float64{0.7, 0.69, 0.68, 0.67}
		m.LossTarget = []float64{0.71, 0.7, 0.69, 0.68}
	}
	if cfg.UseValidation() {
		m.AccuraciesValidation = []float64{0.2, 0.35}
	}
	m.TestAccuracy = 0.5
	return &Results{Config: cfg, Metrics: m, TestCorrect: 1024, TestTotal: 2048}
}

func TestFormatSequence(t *testing.T) {
	assert.Equal(t, "[]", formatSequence([]float64{}))
	assert.Equal(t, "[1.5, 0.25, 3]", formatSequence([]float64{1.5, 0.25, 3}))
	assert.Equal(t, "[0.5]", formatSequence([]float32{0.5}))
}

func TestPrintLosses(t *testing.T) {
	var buf bytes.Buffer
	PrintLosses(&buf, newResults(t, modes.Mode3A))
	assert.Contains(t, buf.String(), "Loss classifier\n[1.9, 1.5, 1.25, 1]\n")
	assert.NotContains(t, buf.String(), "Loss discriminator")

	buf.Reset()
	PrintLosses(&buf, newResults(t, modes.Mode3B))
	assert.Contains(t, buf.String(), "Loss discriminator source\n[0.7, 0.69, 0.68, 0.67]\n")
	assert.Contains(t, buf.String(), "Loss discriminator target\n[0.71, 0.7, 0.69, 0.68]\n")
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	r := newResults(t, modes.Mode4C)
	PrintTestAccuracy(&buf, r)
	PrintResults(&buf, r)
	out := buf.String()
	assert.Contains(t, out, "Test Accuracy (art_painting): 0.5 (1024 / 2048)")
	assert.Contains(t, out, "Validation on:  sketch\naccuracy_valid: 0.3500\n")
	assert.Contains(t, out, "Test accuracy:  0.5000\n")
	assert.Contains(t, out, "Val on sketch, LR = 0.01, ALPHA = 0.25, BATCH_SIZE = 256\n")

	buf.Reset()
	PrintResults(&buf, newResults(t, modes.Mode3A))
	assert.NotContains(t, buf.String(), "Validation on")
	assert.Contains(t, buf.String(), "ALPHA = None")
}

func TestSummary(t *testing.T) {
	summary := Summary(newResults(t, modes.Mode3B))
	for _, want := range []string{"3B", "art_painting", "alpha", "0.25", "50.00%", "1,024", "2,048"} {
		assert.Contains(t, summary, want)
	}
	assert.NotContains(t, Summary(newResults(t, modes.Mode3A)), "alpha")
}

func requirePNG(t *testing.T, filePath string) {
	f, err := os.Open(filePath)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Greater(t, cfg.Width, 0)
	assert.Greater(t, cfg.Height, 0)
}

func TestPlotClassDistribution(t *testing.T) {
	dir := t.TempDir()
	domains := []string{pacs.Photo.String(), pacs.Sketch.String()}
	counts := [][]int{{10, 20, 5, 7, 9, 11, 3}, {1, 2, 3, 4, 5, 6, 7}}
	filePath := path.Join(dir, "distribution.png")
	require.NoError(t, PlotClassDistribution(filePath, domains, pacs.Classes, counts))
	requirePNG(t, filePath)

	require.Error(t, PlotClassDistribution(filePath, domains[:1], pacs.Classes, counts))
	require.Error(t, PlotClassDistribution(filePath, domains, pacs.Classes[:3], counts))
}

func TestWritePlots(t *testing.T) {
	dir := path.Join(t.TempDir(), "plots")
	files := must.M1(WritePlots(dir, newResults(t, modes.Mode3A)))
	assert.Empty(t, files)

	files = must.M1(WritePlots(dir, newResults(t, modes.Mode4C)))
	require.Equal(t, []string{path.Join(dir, LossesPlotFile), path.Join(dir, AccuraciesPlotFile)}, files)
	for _, filePath := range files {
		requirePNG(t, filePath)
	}
}
