// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dann

import (
	"math"
)

// Metrics collected during a run. Sequences are only appended to.
type Metrics struct {
	// LossClass has the label classification loss of every training step.
	LossClass []float64

	// LossSource and LossTarget have the domain discriminator losses of every training step, when
	// domain adaptation is enabled.
	LossSource, LossTarget []float64

	// AccuraciesTrain has the accuracy on the source domain at the end of every epoch, if enabled.
	AccuraciesTrain []float64

	// AccuraciesValidation has the accuracy on the target domain at the end of every epoch, if enabled.
	AccuraciesValidation []float64

	// LearningRates used in every epoch.
	LearningRates []float64

	// TestAccuracy is NaN until measured.
	TestAccuracy float64
}

// NewMetrics returns empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{TestAccuracy: math.NaN()}
}

// LastValidationAccuracy returns the accuracy on the target domain of the last epoch, and whether there is one.
func (m *Metrics) LastValidationAccuracy() (float64, bool) {
	if len(m.AccuraciesValidation) == 0 {
		return 0, false
	}
	return m.AccuraciesValidation[len(m.AccuraciesValidation)-1], true
}

// NumSteps returns the number of training steps recorded.
func (m *Metrics) NumSteps() int { return len(m.LossClass) }
