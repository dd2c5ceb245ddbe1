// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"math"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/pacsdann/dann"
	"github.com/pkg/errors"
)

// Hyperparameters of the learning rate schedule, read from the context.
const (
	// ParamGamma is the factor the learning rate is multiplied by every ParamStepSize epochs.
	ParamGamma = "gamma"

	// ParamStepSize is the number of epochs between learning rate decays.
	ParamStepSize = "step_size"
)

// StepLR decays the learning rate of an Optimizer by gamma every stepSize epochs:
// `lr = initial_lr * gamma^floor(epoch / stepSize)`. It implements dann.Scheduler.
type StepLR struct {
	optimizer   *Optimizer
	initialLR   float64
	gamma       float64
	stepSize    int
	epoch       int
	currentRate float64
}

var _ dann.Scheduler = (*StepLR)(nil)

// NewStepLR creates a StepLR schedule for the optimizer, with gamma and stepSize read from the context
// hyperparameters.
func NewStepLR(optimizer *Optimizer) (*StepLR, error) {
	ctx := optimizer.model.ctx
	s := &StepLR{
		optimizer: optimizer,
		initialLR: optimizer.learningRate,
		gamma:     context.GetParamOr(ctx, ParamGamma, 0.1),
		stepSize:  context.GetParamOr(ctx, ParamStepSize, 20),
	}
	if s.stepSize <= 0 {
		return nil, errors.Errorf("%s must be > 0, got %d", ParamStepSize, s.stepSize)
	}
	s.currentRate = s.initialLR
	return s, nil
}

// LearningRateAt returns the learning rate for the given epoch (0-based).
func (s *StepLR) LearningRateAt(epoch int) float64 {
	return s.initialLR * math.Pow(s.gamma, float64(epoch/s.stepSize))
}

// Step implements dann.Scheduler: it advances one epoch, updating the optimizer's learning rate if it changed.
func (s *StepLR) Step() error {
	s.epoch++
	lr := s.LearningRateAt(s.epoch)
	if lr == s.currentRate {
		return nil
	}
	if err := s.optimizer.SetLearningRate(lr); err != nil {
		return err
	}
	s.currentRate = lr
	return nil
}

// LearningRate implements dann.Scheduler.
func (s *StepLR) LearningRate() float64 { return s.currentRate }

// Epoch returns the number of epochs stepped.
func (s *StepLR) Epoch() int { return s.epoch }
