// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package report prints and plots the results of a PACS domain adaptation experiment.
package report

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/pacsdann/dann"
	"github.com/gomlx/pacsdann/modes"
	"golang.org/x/exp/constraints"
)

// Results of one experiment.
type Results struct {
	Config  modes.Config
	Metrics *dann.Metrics

	// TestCorrect is the number of correct predictions on the test domain, out of TestTotal images.
	TestCorrect, TestTotal int
}

// formatSequence formats values as a bracketed, comma-separated list.
func formatSequence[T constraints.Float](values []T) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for ii, v := range values {
		if ii > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 64))
	}
	sb.WriteByte(']')
	return sb.String()
}

// PrintLosses prints the per-step loss sequences. The discriminator losses are only printed with
// domain adaptation.
func PrintLosses(w io.Writer, r *Results) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Loss classifier")
	fmt.Fprintln(w, formatSequence(r.Metrics.LossClass))
	if r.Config.UseDomainAdaptation() {
		fmt.Fprintln(w, "\nLoss discriminator source")
		fmt.Fprintln(w, formatSequence(r.Metrics.LossSource))
		fmt.Fprintln(w, "\nLoss discriminator target")
		fmt.Fprintln(w, formatSequence(r.Metrics.LossTarget))
	}
}

// PrintTestAccuracy prints the accuracy on the test domain with the counts it was computed from.
func PrintTestAccuracy(w io.Writer, r *Results) {
	fmt.Fprintf(w, "\nTest Accuracy (%s): %g (%d / %d)\n",
		r.Config.Test(), r.Metrics.TestAccuracy, r.TestCorrect, r.TestTotal)
}

// PrintResults prints the final validation and test accuracies, and the hyperparameters that matter most.
func PrintResults(w io.Writer, r *Results) {
	cfg := r.Config
	if accuracy, ok := r.Metrics.LastValidationAccuracy(); ok {
		fmt.Fprintf(w, "Validation on:  %s\n", cfg.Target())
		fmt.Fprintf(w, "accuracy_valid: %.4f\n", accuracy)
	}
	fmt.Fprintf(w, "Test accuracy:  %.4f\n", r.Metrics.TestAccuracy)
	hp := cfg.Hyperparameters()
	fmt.Fprintf(w, "Val on %s, LR = %g, ALPHA = %s, BATCH_SIZE = %d\n", cfg.Target(), hp.LR, alphaString(cfg), hp.BatchSize)
}

func alphaString(cfg modes.Config) string {
	alpha, ok := cfg.Alpha()
	if !ok {
		return "None"
	}
	return strconv.FormatFloat(alpha, 'g', -1, 64)
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
)

func newTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
}

func formatAccuracy(accuracy float64) string {
	if math.IsNaN(accuracy) {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", 100*accuracy)
}

// Summary renders a table with the configuration and the results of the experiment.
func Summary(r *Results) string {
	cfg := r.Config
	hp := cfg.Hyperparameters()
	table := newTable()
	table.Row("mode", string(cfg.Mode()))
	table.Row("source", cfg.Source().String())
	table.Row("target", cfg.Target().String())
	table.Row("domain adaptation", strconv.FormatBool(cfg.UseDomainAdaptation()))
	if cfg.UseDomainAdaptation() {
		table.Row("alpha", fmt.Sprintf("%s (%s)", alphaString(cfg), cfg.AlphaSchedule()))
	}
	table.Row("validation", strconv.FormatBool(cfg.UseValidation()))
	table.Row("batch size", strconv.Itoa(hp.BatchSize))
	table.Row("epochs", strconv.Itoa(hp.NumEpochs))
	table.Row("learning rate", strconv.FormatFloat(hp.LR, 'g', -1, 64))
	table.Row("training steps", humanize.Comma(int64(r.Metrics.NumSteps())))
	if n := len(r.Metrics.AccuraciesTrain); n > 0 {
		table.Row(fmt.Sprintf("accuracy on train (%s)", cfg.Source()), formatAccuracy(r.Metrics.AccuraciesTrain[n-1]))
	}
	if accuracy, ok := r.Metrics.LastValidationAccuracy(); ok {
		table.Row(fmt.Sprintf("accuracy on validation (%s)", cfg.Target()), formatAccuracy(accuracy))
	}
	table.Row(fmt.Sprintf("accuracy on test (%s)", cfg.Test()),
		fmt.Sprintf("%s (%s / %s)", formatAccuracy(r.Metrics.TestAccuracy),
			humanize.Comma(int64(r.TestCorrect)), humanize.Comma(int64(r.TestTotal))))
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render("Experiment "+string(cfg.Mode())), table.Render())
}
