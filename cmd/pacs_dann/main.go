// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// pacs_dann trains a classifier on the photo domain of PACS, optionally with domain-adversarial
// adaptation (DANN) towards art_painting or sketch, and tests it on art_painting.
//
// Select the experiment with the "mode" hyperparameter (3A, 3B, 4A or 4C), e.g.:
//
//	pacs_dann -download -set="mode=3B;alpha=0.1"
//
// The hyperparameters and their default values are listed in the -help of the -set flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/pacsdann/experiment"
	"github.com/gomlx/pacsdann/modes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagDataDir     = flag.String("data", "~/tmp/pacs", "Directory with the PACS dataset, or where to download it.")
	flagDownload    = flag.Bool("download", false, "Download the PACS dataset into -data, if not there yet.")
	flagPretrained  = flag.String("pretrained", "", "GoMLX checkpoint directory with the weights to initialize the model with.")
	flagOutput      = flag.String("output", "", "Directory where to save the plots. If empty, no plots are generated.")
	flagProgressBar = flag.Bool("progress", true, "Show a progress bar for each epoch.")
)

func main() {
	klog.InitFlags(nil)
	ctx := modes.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	flag.Parse()
	if _, err := commandline.ParseContextSettings(ctx, *settings); err != nil {
		klog.Fatalf("Failed to parse -set=%q: %+v", *settings, err)
	}

	stop, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	err := exceptions.TryCatch[error](func() {
		backend, err := backends.New()
		if err != nil {
			panic(err)
		}
		defer backend.Finalize()
		_, err = experiment.Run(stop, backend, ctx, experiment.Options{
			DataDir:       *flagDataDir,
			Download:      *flagDownload,
			PretrainedDir: *flagPretrained,
			PlotsDir:      *flagOutput,
			ProgressBar:   *flagProgressBar,
		})
		if err != nil {
			panic(err)
		}
	})
	if err != nil {
		if errors.Is(err, modes.ErrNoMode) {
			fmt.Fprintf(os.Stderr, "Valid modes: %q, set with -set=\"mode=<mode>\"\n", modes.AllModes)
		}
		klog.Fatalf("Failed: %+v", err)
	}
}
