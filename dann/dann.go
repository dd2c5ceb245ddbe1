// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dann implements the training loop of a domain-adversarial neural network (DANN): a label
// classifier trained on a labeled source domain, and a domain discriminator, fed through a
// gradient-reversal layer, trained to tell source from target images. The reversed gradient pushes
// the shared feature extractor towards features the discriminator can't tell apart.
//
// The model, the optimizer, the learning rate schedule and the data are collaborators behind the
// interfaces below. Package model implements them with GoMLX, and package pacs provides the data.
package dann

import (
	"github.com/gomlx/pacsdann/pacs"
)

// DomainLabel is the class of the domain discriminator.
type DomainLabel int

const (
	// SourceDomain is the discriminator label of source images.
	SourceDomain DomainLabel = 0

	// TargetDomain is the discriminator label of target images.
	TargetDomain DomainLabel = 1
)

// Batches is an iterator over batches of a dataset. pacs.Loader implements it.
type Batches interface {
	// Reset starts a new iteration, reshuffling if configured.
	Reset()

	// Next returns the next batch of the current iteration, or io.EOF.
	Next() (*pacs.Batch, error)

	// First returns the first batch of a new independent iteration, without changing the current one.
	First() (*pacs.Batch, error)

	// NumBatches in one iteration.
	NumBatches() int

	// BatchSize configured for the iterator. The last batch may be smaller.
	BatchSize() int
}

// Network is the model being trained.
//
// The backward methods add the gradients of their loss to the gradients accumulated in the model
// since the last Optimizer.ZeroGrad, and return the value of the loss.
type Network interface {
	// SetTraining switches between training and inference (evaluation) mode.
	SetTraining(training bool)

	// ClassifierBackward computes the label classification loss of the batch and accumulates its gradients.
	ClassifierBackward(batch *pacs.Batch) (loss float64, err error)

	// DiscriminatorBackward computes the loss of the domain discriminator, for all images of the batch
	// labeled as domain, and accumulates its gradients, reversed and scaled by alpha for the feature extractor.
	DiscriminatorBackward(batch *pacs.Batch, domain DomainLabel, alpha float64) (loss float64, err error)

	// Predict returns the predicted class of each image of the batch.
	Predict(batch *pacs.Batch) ([]int, error)
}

// Optimizer updates the Network parameters from the accumulated gradients.
type Optimizer interface {
	// ZeroGrad clears the accumulated gradients.
	ZeroGrad() error

	// Step applies one update to the parameters from the accumulated gradients.
	Step() error
}

// Scheduler of the learning rate, advanced once per epoch.
type Scheduler interface {
	// Step advances the schedule by one epoch.
	Step() error

	// LearningRate currently in use.
	LearningRate() float64
}
