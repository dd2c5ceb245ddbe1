// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package experiment runs one PACS domain adaptation experiment end to end: it builds the configuration
// from the context hyperparameters, loads the four PACS domains, trains the DANN model on photo, measures
// the accuracy on art_painting and reports the results.
package experiment

import (
	stdcontext "context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/pacsdann/dann"
	"github.com/gomlx/pacsdann/model"
	"github.com/gomlx/pacsdann/modes"
	"github.com/gomlx/pacsdann/pacs"
	"github.com/gomlx/pacsdann/report"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ClassDistributionPlotFile is the name of the class distribution chart written in Options.PlotsDir.
const ClassDistributionPlotFile = "class_distribution.png"

// Options of an experiment that are not hyperparameters.
type Options struct {
	// DataDir holding the PACS dataset. A leading "~" is replaced by the user's home directory.
	DataDir string

	// Download the dataset into DataDir, if not there yet.
	Download bool

	// PretrainedDir, if set, is a GoMLX checkpoint directory with weights to initialize the model with.
	PretrainedDir string

	// PlotsDir, if set, is where the charts are saved.
	PlotsDir string

	// ProgressBar shown during each epoch.
	ProgressBar bool

	// Stdout is where the results are printed. Defaults to os.Stdout.
	Stdout io.Writer
}

// Data holds the four PACS domains and the loaders used by an experiment.
type Data struct {
	Folders map[pacs.Domain]*pacs.ImageFolder

	// Source is the shuffled loader of the training domain, dropping the last incomplete batch.
	Source *pacs.Loader

	// Target is the shuffled loader of the target domain, used for domain adaptation and validation.
	Target *pacs.Loader

	// Test is the loader of the test domain, in order.
	Test *pacs.Loader
}

// LoadData loads all PACS domains from dataDir and creates the loaders for cfg.
// The source and target loaders are shuffled with random sources derived from seed.
func LoadData(dataDir string, cfg modes.Config, imageSize int, seed int64) (*Data, error) {
	data := &Data{Folders: make(map[pacs.Domain]*pacs.ImageFolder, len(pacs.AllDomains))}
	for _, domain := range pacs.AllDomains {
		folder, err := pacs.LoadDomain(dataDir, domain)
		if err != nil {
			return nil, err
		}
		data.Folders[domain] = folder
	}
	transform := pacs.NewTransform(imageSize)
	batchSize := cfg.Hyperparameters().BatchSize
	data.Source = pacs.NewLoader(cfg.Source().String(), data.Folders[cfg.Source()], transform, batchSize,
		rand.New(rand.NewSource(seed)), true)
	data.Target = pacs.NewLoader(cfg.Target().String(), data.Folders[cfg.Target()], transform, batchSize,
		rand.New(rand.NewSource(seed+1)), false)
	data.Test = pacs.NewLoader(cfg.Test().String()+" (test)", data.Folders[cfg.Test()], transform, batchSize, nil, false)
	if data.Source.NumBatches() == 0 {
		return nil, errors.Errorf("source domain %s has %d images, less than a batch of %d",
			cfg.Source(), data.Source.Len(), batchSize)
	}
	return data, nil
}

// PlotClassDistribution charts the number of images per class of each domain.
func (d *Data) PlotClassDistribution(filePath string) error {
	classes := d.Folders[pacs.Photo].Classes()
	names := make([]string, 0, len(pacs.AllDomains))
	counts := make([][]int, 0, len(pacs.AllDomains))
	for _, domain := range pacs.AllDomains {
		names = append(names, domain.String())
		counts = append(counts, d.Folders[domain].ClassDistribution())
	}
	return report.PlotClassDistribution(filePath, names, classes, counts)
}

// Run the experiment configured by the hyperparameters in ctx, on the given backend.
//
// Configuration errors are returned before any data is loaded. stop is checked for cancellation
// between training steps.
func Run(stop stdcontext.Context, backend backends.Backend, ctx *context.Context, opts Options) (*report.Results, error) {
	cfg, err := modes.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	klog.Infof("Experiment: %s", cfg)
	klog.V(1).Infof("Hyperparameters:\n%s", commandline.SprintContextSettings(ctx))

	dataDir, err := fsutil.ReplaceTildeInDir(opts.DataDir)
	if err != nil {
		return nil, err
	}
	if opts.Download {
		if err = pacs.Download(dataDir); err != nil {
			return nil, err
		}
	}
	seed := int64(context.GetParamOr(ctx, modes.ParamSeed, 0))
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	klog.V(1).Infof("Seed: %d", seed)
	data, err := LoadData(dataDir, cfg, context.GetParamOr(ctx, modes.ParamImageSize, pacs.ImageSize), seed)
	if err != nil {
		return nil, err
	}
	for _, domain := range pacs.AllDomains {
		fmt.Fprintf(out, "%s Dataset: %s\n", domain, humanize.Comma(int64(data.Folders[domain].Len())))
	}
	if opts.PlotsDir != "" {
		if err = os.MkdirAll(opts.PlotsDir, 0777); err != nil {
			return nil, errors.Wrapf(err, "creating plots directory %q", opts.PlotsDir)
		}
		if err = data.PlotClassDistribution(path.Join(opts.PlotsDir, ClassDistributionPlotFile)); err != nil {
			return nil, err
		}
	}

	// Model, optimizer and learning rate schedule.
	klog.Infof("Backend %q: %s", backend.Name(), backend.Description())
	if err = ctx.SetRNGStateFromSeed(seed); err != nil {
		return nil, err
	}
	if opts.PretrainedDir != "" {
		if err = model.LoadPretrained(ctx, opts.PretrainedDir); err != nil {
			return nil, err
		}
	}
	net, err := model.New(backend, ctx, len(data.Folders[cfg.Source()].Classes()))
	if err != nil {
		return nil, err
	}
	optimizer := model.NewOptimizer(net)
	scheduler, err := model.NewStepLR(optimizer)
	if err != nil {
		return nil, err
	}

	trainer := dann.NewTrainer(cfg, net, optimizer, scheduler, data.Source, data.Target).
		WithProgressBar(opts.ProgressBar).
		WithOutput(out)
	metrics, err := trainer.Run(stop)
	if err != nil {
		return nil, err
	}
	klog.Infof("Model: %s parameters, trained for %s steps",
		humanize.Comma(int64(net.NumParameters())), humanize.Comma(optimizer.GlobalStep()))
	results := &report.Results{Config: cfg, Metrics: metrics}
	report.PrintLosses(out, results)

	metrics.TestAccuracy, results.TestCorrect, results.TestTotal, err = dann.TestAccuracy(net, data.Test)
	if err != nil {
		return nil, errors.WithMessagef(err, "testing on %s", cfg.Test())
	}
	report.PrintTestAccuracy(out, results)
	report.PrintResults(out, results)
	fmt.Fprintln(out, report.Summary(results))

	if opts.PlotsDir != "" {
		files, err := report.WritePlots(opts.PlotsDir, results)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			klog.Infof("Plot saved to %q", f)
		}
	}
	return results, nil
}
