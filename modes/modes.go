// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package modes maps the named experiment presets (3A, 3B, 4A and 4C) to an immutable Config
// used by the training loop, the evaluator and the reporter.
//
// The hyperparameters are registered in a GoMLX context.Context (see CreateDefaultContext), so
// they can be overridden from the command line with commandline.ParseContextSettings, and
// FromContext builds the Config once, before any data is loaded.
package modes

import (
	"fmt"
	"math"
	"strings"

	"github.com/gomlx/pacsdann/pacs"
	"github.com/pkg/errors"
)

// Mode is one of the named experiment presets.
type Mode string

const (
	// Mode3A trains on photo only and tests on art_painting: no domain adaptation, no validation.
	Mode3A Mode = "3A"

	// Mode3B trains on photo with domain adaptation towards art_painting.
	Mode3B Mode = "3B"

	// Mode4A trains on photo only, validating on sketch every epoch.
	Mode4A Mode = "4A"

	// Mode4C trains on photo with domain adaptation towards sketch, validating on sketch every epoch.
	Mode4C Mode = "4C"
)

// AllModes lists the valid modes, in presentation order.
var AllModes = []Mode{Mode3A, Mode3B, Mode4A, Mode4C}

// ErrNoMode is returned when no mode or an unknown mode is selected.
var ErrNoMode = errors.New("select a MODE")

// ErrAlphaRequired is returned when domain adaptation is enabled without a gradient-reversal coefficient.
var ErrAlphaRequired = errors.New("to use domain adaptation you must define parameter alpha")

// Parse converts the mode name to a Mode. It is case-insensitive.
func Parse(name string) (Mode, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return "", errors.WithStack(ErrNoMode)
	}
	for _, m := range AllModes {
		if string(m) == name {
			return m, nil
		}
	}
	return "", errors.Wrapf(ErrNoMode, "unknown mode %q, valid modes are %q", name, AllModes)
}

// preset holds the flags each mode sets.
type preset struct {
	useDomainAdaptation    bool
	useValidation          bool
	crossDomainValidation  bool
	evalAccuracyOnTraining bool
	target                 pacs.Domain
}

var presets = map[Mode]preset{
	Mode3A: {target: pacs.ArtPainting},
	Mode3B: {useDomainAdaptation: true, target: pacs.ArtPainting},
	Mode4A: {useValidation: true, target: pacs.Sketch},
	Mode4C: {useDomainAdaptation: true, useValidation: true, crossDomainValidation: true, target: pacs.Sketch},
}

// Hyperparameters of the training. See DefaultHyperparameters for the values used by default.
type Hyperparameters struct {
	BatchSize   int
	NumEpochs   int
	LR          float64
	Momentum    float64
	WeightDecay float64

	// Gamma is the factor the learning rate is multiplied by every StepSize epochs.
	Gamma    float64
	StepSize int
}

// DefaultHyperparameters returns the hyperparameters used when none are overridden.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		BatchSize:   256,
		NumEpochs:   30,
		LR:          1e-2,
		Momentum:    0.9,
		WeightDecay: 5e-5,
		Gamma:       0.1,
		StepSize:    20,
	}
}

// Validate checks the hyperparameters are usable.
func (hp Hyperparameters) Validate() error {
	switch {
	case hp.BatchSize <= 0:
		return errors.Errorf("batch_size must be > 0, got %d", hp.BatchSize)
	case hp.NumEpochs <= 0:
		return errors.Errorf("num_epochs must be > 0, got %d", hp.NumEpochs)
	case hp.LR <= 0:
		return errors.Errorf("learning_rate must be > 0, got %g", hp.LR)
	case hp.StepSize <= 0:
		return errors.Errorf("step_size must be > 0, got %d", hp.StepSize)
	}
	return nil
}

// Config is the immutable configuration of one experiment run. Create it with New or FromContext.
type Config struct {
	mode                   Mode
	useDomainAdaptation    bool
	useValidation          bool
	crossDomainValidation  bool
	evalAccuracyOnTraining bool
	source, target         pacs.Domain
	alpha                  float64
	hasAlpha               bool
	alphaSchedule          AlphaSchedule
	hp                     Hyperparameters
}

// AlphaSchedule defines how the gradient-reversal coefficient evolves during training.
type AlphaSchedule string

const (
	// AlphaConstant uses the configured alpha for the whole training.
	AlphaConstant AlphaSchedule = "constant"

	// AlphaDANN ramps alpha from 0 to the configured value following `2/(1+exp(-10*p)) - 1`,
	// where p is the training progress in [0, 1].
	AlphaDANN AlphaSchedule = "dann"
)

// New creates the Config for the given mode.
//
// alpha is the gradient-reversal coefficient: it may be nil only if the mode doesn't use domain adaptation,
// and it is ignored by those modes. It must not be negative.
func New(mode Mode, hp Hyperparameters, alpha *float64) (Config, error) {
	p, found := presets[mode]
	if !found {
		return Config{}, errors.Wrapf(ErrNoMode, "unknown mode %q", mode)
	}
	if !p.useDomainAdaptation {
		alpha = nil
	}
	if p.useDomainAdaptation && alpha == nil {
		return Config{}, errors.Wrapf(ErrAlphaRequired, "mode %s", mode)
	}
	if alpha != nil && (*alpha < 0 || math.IsNaN(*alpha)) {
		return Config{}, errors.Errorf("alpha must be >= 0, got %g", *alpha)
	}
	if err := hp.Validate(); err != nil {
		return Config{}, err
	}
	cfg := Config{
		mode:                   mode,
		useDomainAdaptation:    p.useDomainAdaptation,
		useValidation:          p.useValidation,
		crossDomainValidation:  p.crossDomainValidation,
		evalAccuracyOnTraining: p.evalAccuracyOnTraining,
		source:                 pacs.Photo,
		target:                 p.target,
		alphaSchedule:          AlphaConstant,
		hp:                     hp,
	}
	if alpha != nil {
		cfg.alpha = *alpha
		cfg.hasAlpha = true
	}
	return cfg, nil
}

// WithEvalAccuracyOnTraining returns a copy of the Config with the evaluation of the accuracy on the
// training (source) set after each epoch enabled or disabled.
func (c Config) WithEvalAccuracyOnTraining(enabled bool) Config {
	c.evalAccuracyOnTraining = enabled
	return c
}

// WithAlphaSchedule returns a copy of the Config using the given schedule for alpha.
func (c Config) WithAlphaSchedule(schedule AlphaSchedule) (Config, error) {
	switch schedule {
	case AlphaConstant, AlphaDANN:
		c.alphaSchedule = schedule
		return c, nil
	}
	return c, errors.Errorf("unknown alpha schedule %q, valid values are %q and %q", schedule, AlphaConstant, AlphaDANN)
}

// AlphaSchedule used by the run.
func (c Config) AlphaSchedule() AlphaSchedule { return c.alphaSchedule }

// AlphaAt returns the gradient-reversal coefficient at the given training progress, a value from 0
// (start of training) to 1 (end of training).
func (c Config) AlphaAt(progress float64) float64 {
	if c.alphaSchedule != AlphaDANN {
		return c.alpha
	}
	return c.alpha * (2/(1+math.Exp(-10*progress)) - 1)
}

// Mode of the run.
func (c Config) Mode() Mode { return c.mode }

// UseDomainAdaptation indicates whether the domain discriminator losses are trained.
func (c Config) UseDomainAdaptation() bool { return c.useDomainAdaptation }

// UseValidation indicates whether the accuracy on the target domain is evaluated after each epoch.
func (c Config) UseValidation() bool { return c.useValidation }

// CrossDomainValidation indicates the validation domain is also the adaptation target.
func (c Config) CrossDomainValidation() bool { return c.crossDomainValidation }

// EvalAccuracyOnTraining indicates whether the accuracy on the source set is evaluated after each epoch.
func (c Config) EvalAccuracyOnTraining() bool { return c.evalAccuracyOnTraining }

// Source domain, where labels are used for training.
func (c Config) Source() pacs.Domain { return c.source }

// Target domain: used for adaptation and/or validation.
func (c Config) Target() pacs.Domain { return c.target }

// Test domain, where the final accuracy is measured.
func (c Config) Test() pacs.Domain { return pacs.ArtPainting }

// Alpha returns the gradient-reversal coefficient and whether it was set.
func (c Config) Alpha() (float64, bool) { return c.alpha, c.hasAlpha }

// Hyperparameters of the run.
func (c Config) Hyperparameters() Hyperparameters { return c.hp }

// String implements fmt.Stringer.
func (c Config) String() string {
	alpha := "none"
	if c.hasAlpha {
		alpha = fmt.Sprintf("%g", c.alpha)
	}
	return fmt.Sprintf("mode=%s, domain_adaptation=%v, validation=%v, cross_domain_validation=%v, "+
		"source=%s, target=%s, alpha=%s (%s)", c.mode, c.useDomainAdaptation, c.useValidation,
		c.crossDomainValidation, c.source, c.target, alpha, c.alphaSchedule)
}
