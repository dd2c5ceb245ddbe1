// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dann

import (
	"io"

	"github.com/pkg/errors"
)

// evalCounts is the result of one pass of predictions over a dataset.
type evalCounts struct {
	correct, examples, batches int
}

// countCorrect predicts every batch of one iteration over batches and counts the correct predictions.
func countCorrect(net Network, batches Batches) (counts evalCounts, err error) {
	net.SetTraining(false)
	batches.Reset()
	for {
		batch, err := batches.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return counts, err
		}
		predictions, err := net.Predict(batch)
		if err != nil {
			batch.Finalize()
			return counts, err
		}
		if len(predictions) != batch.Size() {
			batch.Finalize()
			return counts, errors.Errorf("got %d predictions for a batch of %d images", len(predictions), batch.Size())
		}
		for ii, pred := range predictions {
			if pred == batch.ClassIDs[ii] {
				counts.correct++
			}
		}
		counts.examples += batch.Size()
		counts.batches++
		batch.Finalize()
	}
	return counts, nil
}

// Evaluate returns the accuracy of net's predictions over one iteration of batches.
//
// The accuracy is the number of correct predictions divided by the number of batches times the configured
// batch size. The network is left in inference mode.
func Evaluate(net Network, batches Batches) (float64, error) {
	counts, err := countCorrect(net, batches)
	if err != nil {
		return 0, errors.WithMessage(err, "evaluating accuracy")
	}
	if counts.batches == 0 {
		return 0, errors.New("evaluating accuracy: no batches to evaluate")
	}
	return float64(counts.correct) / float64(counts.batches*batches.BatchSize()), nil
}

// TestAccuracy returns the accuracy of net's predictions over one iteration of batches, divided by the
// exact number of examples seen.
func TestAccuracy(net Network, batches Batches) (accuracy float64, correct, total int, err error) {
	counts, err := countCorrect(net, batches)
	if err != nil {
		return 0, 0, 0, errors.WithMessage(err, "testing accuracy")
	}
	if counts.examples == 0 {
		return 0, 0, 0, errors.New("testing accuracy: no examples to evaluate")
	}
	return float64(counts.correct) / float64(counts.examples), counts.correct, counts.examples, nil
}
