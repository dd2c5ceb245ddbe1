// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"os"
	"path"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

// Plot sizes.
var (
	PlotWidth  = 12 * vg.Inch
	PlotHeight = 6 * vg.Inch
)

// File names of the plots written by WritePlots.
const (
	LossesPlotFile     = "losses.png"
	AccuraciesPlotFile = "accuracies.png"
)

// PlotClassDistribution saves to filePath a grouped bar chart with the number of images per class of each domain.
// counts[i][j] is the number of images of class j in domains[i].
func PlotClassDistribution(filePath string, domains, classes []string, counts [][]int) error {
	if len(counts) != len(domains) {
		return errors.Errorf("got counts for %d domains, but %d domain names", len(counts), len(domains))
	}
	p := plot.New()
	p.Title.Text = "Images per class"
	p.Y.Label.Text = "# images"
	p.Legend.Top = true

	barWidth := vg.Points(12)
	for ii, domainCounts := range counts {
		if len(domainCounts) != len(classes) {
			return errors.Errorf("domain %q has counts for %d classes, expected %d",
				domains[ii], len(domainCounts), len(classes))
		}
		values := make(plotter.Values, len(domainCounts))
		for jj, c := range domainCounts {
			values[jj] = float64(c)
		}
		bars, err := plotter.NewBarChart(values, barWidth)
		if err != nil {
			return errors.Wrapf(err, "bar chart for domain %q", domains[ii])
		}
		bars.LineStyle.Width = vg.Length(0)
		bars.Color = plotutil.Color(ii)
		bars.Offset = barWidth * vg.Length(2*ii-len(counts)+1) / 2
		p.Add(bars)
		p.Legend.Add(domains[ii], bars)
	}
	p.NominalX(classes...)
	return savePlot(p, filePath)
}

// PlotLosses saves to filePath the per-step losses: the classifier's and, if present, the discriminator's
// on source and target.
func PlotLosses(filePath string, r *Results) error {
	p := plot.New()
	p.Title.Text = "Losses"
	p.X.Label.Text = "step"
	p.Y.Label.Text = "loss"
	p.Legend.Top = true
	m := r.Metrics
	series := []struct {
		name   string
		values []float64
	}{
		{"classifier", m.LossClass},
		{"discriminator source", m.LossSource},
		{"discriminator target", m.LossTarget},
	}
	for ii, s := range series {
		if len(s.values) == 0 {
			continue
		}
		if err := addLine(p, ii, s.name, s.values); err != nil {
			return err
		}
	}
	return savePlot(p, filePath)
}

// PlotAccuracies saves to filePath the accuracies measured at the end of each epoch.
func PlotAccuracies(filePath string, r *Results) error {
	p := plot.New()
	p.Title.Text = "Accuracy per epoch"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "accuracy"
	p.Y.Min, p.Y.Max = 0, 1
	p.Legend.Top = true
	cfg, m := r.Config, r.Metrics
	if len(m.AccuraciesTrain) > 0 {
		if err := addLine(p, 0, "train ("+cfg.Source().String()+")", m.AccuraciesTrain); err != nil {
			return err
		}
	}
	if len(m.AccuraciesValidation) > 0 {
		if err := addLine(p, 1, "validation ("+cfg.Target().String()+")", m.AccuraciesValidation); err != nil {
			return err
		}
	}
	return savePlot(p, filePath)
}

// addLine adds a line with the values indexed from 1.
func addLine(p *plot.Plot, colorIdx int, name string, values []float64) error {
	xys := make(plotter.XYs, len(values))
	for ii, v := range values {
		xys[ii].X = float64(ii + 1)
		xys[ii].Y = v
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return errors.Wrapf(err, "plotting %q", name)
	}
	line.Color = plotutil.Color(colorIdx)
	p.Add(line)
	p.Legend.Add(name, line)
	return nil
}

func savePlot(p *plot.Plot, filePath string) error {
	if err := p.Save(PlotWidth, PlotHeight, filePath); err != nil {
		return errors.Wrapf(err, "saving plot to %q", filePath)
	}
	klog.V(1).Infof("Saved plot %q", filePath)
	return nil
}

// WritePlots saves the post-training plots of the experiment in dir, which is created if needed:
// the losses when domain adaptation was used, and the accuracies when they were measured.
// It returns the paths of the files written.
func WritePlots(dir string, r *Results) (files []string, err error) {
	if err = os.MkdirAll(dir, 0777); err != nil {
		return nil, errors.Wrapf(err, "creating plots directory %q", dir)
	}
	if r.Config.UseDomainAdaptation() {
		filePath := path.Join(dir, LossesPlotFile)
		if err = PlotLosses(filePath, r); err != nil {
			return
		}
		files = append(files, filePath)
	}
	if len(r.Metrics.AccuraciesTrain) > 0 || len(r.Metrics.AccuraciesValidation) > 0 {
		filePath := path.Join(dir, AccuraciesPlotFile)
		if err = PlotAccuracies(filePath, r); err != nil {
			return
		}
		files = append(files, filePath)
	}
	return
}
