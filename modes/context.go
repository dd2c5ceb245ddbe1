// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package modes

import (
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/pacsdann/pacs"
)

// Hyperparameter keys, as stored in the context.Context.
const (
	ParamMode                   = "mode"
	ParamAlpha                  = "alpha"
	ParamAlphaSchedule          = "alpha_schedule"
	ParamBatchSize              = "batch_size"
	ParamNumEpochs              = "num_epochs"
	ParamMomentum               = "momentum"
	ParamWeightDecay            = "weight_decay"
	ParamGamma                  = "gamma"
	ParamStepSize               = "step_size"
	ParamEvalAccuracyOnTraining = "eval_accuracy_on_training"
	ParamSeed                   = "seed"
	ParamImageSize              = "image_size"
)

// ParamLearningRate is the same key used by the GoMLX optimizers.
var ParamLearningRate = optimizers.ParamLearningRate

// CreateDefaultContext creates a context with the default hyperparameters of the experiment.
// Model hyperparameters (see package model) are also registered, so they can be listed and
// set from the command line.
func CreateDefaultContext() *context.Context {
	hp := DefaultHyperparameters()
	ctx := context.New()
	ctx.SetParams(map[string]any{
		// One of "3A", "3B", "4A", "4C".
		ParamMode: string(Mode4C),

		// Gradient-reversal coefficient. A value <= 0 means not set, which is only valid for
		// the modes without domain adaptation.
		ParamAlpha: 0.25,

		// Either "constant" or "dann" (ramps alpha up from 0 during training).
		ParamAlphaSchedule: string(AlphaConstant),

		ParamBatchSize:    hp.BatchSize,
		ParamNumEpochs:    hp.NumEpochs,
		ParamLearningRate: hp.LR,
		ParamMomentum:     hp.Momentum,
		ParamWeightDecay:  hp.WeightDecay,
		ParamGamma:        hp.Gamma,
		ParamStepSize:     hp.StepSize,

		ParamEvalAccuracyOnTraining: false,

		// Side of the square center crop fed to the model.
		ParamImageSize: pacs.ImageSize,

		// Seed for the shuffling of the datasets. If 0 a seed is generated from the clock.
		ParamSeed: 0,

		// Model: see package model.
		"backbone_channels":  64,
		"backbone_blocks":    4,
		"head_hidden_layers": 1,
		"head_hidden_nodes":  256,
		"dropout":            0.5,
	})
	return ctx
}

// FromContext builds the Config from the hyperparameters in ctx.
// It fails if the mode is not valid, if alpha is negative, or if domain adaptation is enabled without alpha.
func FromContext(ctx *context.Context) (Config, error) {
	mode, err := Parse(context.GetParamOr(ctx, ParamMode, ""))
	if err != nil {
		return Config{}, err
	}
	hp := Hyperparameters{
		BatchSize:   context.GetParamOr(ctx, ParamBatchSize, 0),
		NumEpochs:   context.GetParamOr(ctx, ParamNumEpochs, 0),
		LR:          context.GetParamOr(ctx, ParamLearningRate, 0.0),
		Momentum:    context.GetParamOr(ctx, ParamMomentum, 0.0),
		WeightDecay: context.GetParamOr(ctx, ParamWeightDecay, 0.0),
		Gamma:       context.GetParamOr(ctx, ParamGamma, 1.0),
		StepSize:    context.GetParamOr(ctx, ParamStepSize, 1),
	}
	// 0 means alpha is not set.
	var alpha *float64
	if a := context.GetParamOr(ctx, ParamAlpha, 0.0); a != 0 {
		alpha = &a
	}
	cfg, err := New(mode, hp, alpha)
	if err != nil {
		return Config{}, err
	}
	cfg = cfg.WithEvalAccuracyOnTraining(context.GetParamOr(ctx, ParamEvalAccuracyOnTraining, false))
	return cfg.WithAlphaSchedule(AlphaSchedule(context.GetParamOr(ctx, ParamAlphaSchedule, string(AlphaConstant))))
}
