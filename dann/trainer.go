// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dann

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/gomlx/pacsdann/modes"
	"github.com/gomlx/pacsdann/pacs"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Trainer runs the training loop of one experiment, configured by a modes.Config.
type Trainer struct {
	cfg       modes.Config
	net       Network
	optimizer Optimizer
	scheduler Scheduler

	source, target Batches

	showProgressBar bool
	output          io.Writer
	metrics         *Metrics
}

// NewTrainer creates a Trainer.
//
// The source batches are used to train the label classifier. The target batches are drawn for the
// domain discriminator if domain adaptation is enabled, and used for validation if validation is enabled.
// target can be nil if neither is enabled.
func NewTrainer(cfg modes.Config, net Network, optimizer Optimizer, scheduler Scheduler, source, target Batches) *Trainer {
	return &Trainer{
		cfg:       cfg,
		net:       net,
		optimizer: optimizer,
		scheduler: scheduler,
		source:    source,
		target:    target,
		output:    os.Stdout,
		metrics:   NewMetrics(),
	}
}

// WithProgressBar enables a progress bar for each epoch.
// It returns the Trainer, so configuration calls can be chained.
func (t *Trainer) WithProgressBar(enabled bool) *Trainer {
	t.showProgressBar = enabled
	return t
}

// WithOutput sets where the epoch headers and accuracies are printed. Defaults to os.Stdout.
// It returns the Trainer, so configuration calls can be chained.
func (t *Trainer) WithOutput(w io.Writer) *Trainer {
	t.output = w
	return t
}

// Metrics collected so far.
func (t *Trainer) Metrics() *Metrics { return t.metrics }

// Run trains for the configured number of epochs, and returns the collected metrics.
//
// ctx is checked for cancellation between training steps.
func (t *Trainer) Run(ctx context.Context) (*Metrics, error) {
	if (t.cfg.UseDomainAdaptation() || t.cfg.UseValidation()) && t.target == nil {
		return nil, errors.Errorf("mode %s requires target batches", t.cfg.Mode())
	}
	if _, hasAlpha := t.cfg.Alpha(); t.cfg.UseDomainAdaptation() && !hasAlpha {
		return nil, errors.WithStack(modes.ErrAlphaRequired)
	}
	numEpochs := t.cfg.Hyperparameters().NumEpochs
	for epoch := range numEpochs {
		if err := t.runEpoch(ctx, epoch, numEpochs); err != nil {
			return t.metrics, errors.WithMessagef(err, "epoch %d/%d", epoch+1, numEpochs)
		}
	}
	return t.metrics, nil
}

func (t *Trainer) runEpoch(ctx context.Context, epoch, numEpochs int) error {
	lr := t.scheduler.LearningRate()
	t.metrics.LearningRates = append(t.metrics.LearningRates, lr)
	fmt.Fprintf(t.output, "--- Epoch %d/%d, LR = %g\n", epoch+1, numEpochs, lr)

	t.net.SetTraining(true)
	t.source.Reset()
	numBatches := t.source.NumBatches()
	var bar *progressbar.ProgressBar
	if t.showProgressBar {
		bar = progressbar.NewOptions(numBatches,
			progressbar.OptionSetDescription(fmt.Sprintf("Epoch %d/%d", epoch+1, numEpochs)),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
		defer func() { _ = bar.Close() }()
	}
	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "training interrupted")
		}
		batch, err := t.source.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		progress := float64(epoch*numBatches+step) / float64(numEpochs*max(numBatches, 1))
		err = t.trainStep(batch, t.cfg.AlphaAt(progress))
		batch.Finalize()
		if err != nil {
			return errors.WithMessagef(err, "training step %d", step)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	if t.cfg.EvalAccuracyOnTraining() {
		accuracy, err := Evaluate(t.net, t.source)
		if err != nil {
			return errors.WithMessagef(err, "on train (%s)", t.cfg.Source())
		}
		t.metrics.AccuraciesTrain = append(t.metrics.AccuraciesTrain, accuracy)
		fmt.Fprintf(t.output, "Accuracy on train (%s): %.4f\n", t.cfg.Source(), accuracy)
	}
	if t.cfg.UseValidation() {
		accuracy, err := Evaluate(t.net, t.target)
		if err != nil {
			return errors.WithMessagef(err, "on validation (%s)", t.cfg.Target())
		}
		t.metrics.AccuraciesValidation = append(t.metrics.AccuraciesValidation, accuracy)
		fmt.Fprintf(t.output, "Accuracy on validation (%s): %.4f\n", t.cfg.Target(), accuracy)
	}
	return t.scheduler.Step()
}

// trainStep runs one optimization step for one source batch: gradients of the classification loss, plus,
// with domain adaptation, of the discriminator losses on the source batch and on a fresh target batch,
// all accumulated before a single update.
func (t *Trainer) trainStep(source *pacs.Batch, alpha float64) error {
	if err := t.optimizer.ZeroGrad(); err != nil {
		return err
	}
	lossClass, err := t.net.ClassifierBackward(source)
	if err != nil {
		return errors.WithMessage(err, "classifier loss")
	}
	t.metrics.LossClass = append(t.metrics.LossClass, lossClass)

	if t.cfg.UseDomainAdaptation() {
		target, err := t.target.First()
		if err != nil {
			return errors.WithMessagef(err, "drawing batch from target domain %s", t.cfg.Target())
		}
		defer target.Finalize()
		lossSource, err := t.net.DiscriminatorBackward(source, SourceDomain, alpha)
		if err != nil {
			return errors.WithMessage(err, "discriminator loss on source")
		}
		t.metrics.LossSource = append(t.metrics.LossSource, lossSource)
		lossTarget, err := t.net.DiscriminatorBackward(target, TargetDomain, alpha)
		if err != nil {
			return errors.WithMessage(err, "discriminator loss on target")
		}
		t.metrics.LossTarget = append(t.metrics.LossTarget, lossTarget)
		klog.V(2).Infof("losses: class=%.4f, source=%.4f, target=%.4f (alpha=%.3f)", lossClass, lossSource, lossTarget, alpha)
	} else {
		klog.V(2).Infof("loss: class=%.4f", lossClass)
	}
	return t.optimizer.Step()
}
