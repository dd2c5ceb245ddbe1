// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package modes

import (
	"math"
	"testing"

	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/pacsdann/pacs"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestNew(t *testing.T) {
	testCases := []struct {
		mode                                      Mode
		domainAdaptation, validation, crossDomain bool
		target                                    pacs.Domain
	}{
		{Mode3A, false, false, false, pacs.ArtPainting},
		{Mode3B, true, false, false, pacs.ArtPainting},
		{Mode4A, false, true, false, pacs.Sketch},
		{Mode4C, true, true, true, pacs.Sketch},
	}
	for _, tc := range testCases {
		t.Run(string(tc.mode), func(t *testing.T) {
			cfg, err := New(tc.mode, DefaultHyperparameters(), ptr(0.25))
			require.NoError(t, err)
			assert.Equal(t, tc.mode, cfg.Mode())
			assert.Equal(t, tc.domainAdaptation, cfg.UseDomainAdaptation())
			assert.Equal(t, tc.validation, cfg.UseValidation())
			assert.Equal(t, tc.crossDomain, cfg.CrossDomainValidation())
			assert.False(t, cfg.EvalAccuracyOnTraining())
			assert.Equal(t, tc.target, cfg.Target())
			assert.Equal(t, pacs.Photo, cfg.Source())
			assert.Equal(t, pacs.ArtPainting, cfg.Test())
		})
	}
}

func TestNewErrors(t *testing.T) {
	_, err := New("5Z", DefaultHyperparameters(), ptr(0.25))
	require.ErrorIs(t, err, ErrNoMode)

	_, err = New("", DefaultHyperparameters(), nil)
	require.ErrorIs(t, err, ErrNoMode)

	// Domain adaptation requires alpha.
	for _, mode := range []Mode{Mode3B, Mode4C} {
		_, err = New(mode, DefaultHyperparameters(), nil)
		require.ErrorIs(t, err, ErrAlphaRequired, "mode %s", mode)
	}

	// Modes without domain adaptation are fine without alpha.
	for _, mode := range []Mode{Mode3A, Mode4A} {
		cfg, err := New(mode, DefaultHyperparameters(), nil)
		require.NoError(t, err, "mode %s", mode)
		_, hasAlpha := cfg.Alpha()
		require.False(t, hasAlpha)
	}

	// Modes without domain adaptation ignore alpha.
	for _, mode := range []Mode{Mode3A, Mode4A} {
		cfg, err := New(mode, DefaultHyperparameters(), ptr(0.25))
		require.NoError(t, err, "mode %s", mode)
		_, hasAlpha := cfg.Alpha()
		require.False(t, hasAlpha, "mode %s", mode)
		require.Zero(t, cfg.AlphaAt(0.5))
		require.Contains(t, cfg.String(), "alpha=none")
	}

	// Negative alpha is an error, not "unset".
	for _, mode := range []Mode{Mode3B, Mode4C} {
		_, err = New(mode, DefaultHyperparameters(), ptr(-0.25))
		require.Error(t, err, "mode %s", mode)
		require.NotErrorIs(t, err, ErrAlphaRequired)
	}

	hp := DefaultHyperparameters()
	hp.BatchSize = 0
	_, err = New(Mode3A, hp, nil)
	require.Error(t, err)
}

func TestParse(t *testing.T) {
	m, err := Parse(" 4c ")
	require.NoError(t, err)
	require.Equal(t, Mode4C, m)

	_, err = Parse("")
	require.True(t, errors.Is(err, ErrNoMode))
	_, err = Parse("3C")
	require.ErrorIs(t, err, ErrNoMode)
}

func TestFromContext(t *testing.T) {
	ctx := CreateDefaultContext()
	cfg, err := FromContext(ctx)
	require.NoError(t, err)
	require.Equal(t, Mode4C, cfg.Mode())
	alpha, hasAlpha := cfg.Alpha()
	require.True(t, hasAlpha)
	require.Equal(t, 0.25, alpha)
	require.Equal(t, DefaultHyperparameters(), cfg.Hyperparameters())

	// Overriding from the command line.
	ctx = CreateDefaultContext()
	must.M1(commandline.ParseContextSettings(ctx, "mode=3b;alpha=0;eval_accuracy_on_training=true"))
	_, err = FromContext(ctx)
	require.ErrorIs(t, err, ErrAlphaRequired)

	ctx = CreateDefaultContext()
	must.M1(commandline.ParseContextSettings(ctx, "mode=3b;alpha=-0.5"))
	_, err = FromContext(ctx)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAlphaRequired)

	// The default alpha is dropped in modes without domain adaptation.
	ctx = CreateDefaultContext()
	must.M1(commandline.ParseContextSettings(ctx, "mode=3A"))
	cfg, err = FromContext(ctx)
	require.NoError(t, err)
	_, hasAlpha = cfg.Alpha()
	require.False(t, hasAlpha)

	ctx = CreateDefaultContext()
	must.M1(commandline.ParseContextSettings(ctx, "mode=4A;alpha=0;eval_accuracy_on_training=true;batch_size=4"))
	cfg, err = FromContext(ctx)
	require.NoError(t, err)
	require.Equal(t, Mode4A, cfg.Mode())
	require.True(t, cfg.EvalAccuracyOnTraining())
	require.Equal(t, 4, cfg.Hyperparameters().BatchSize)
}

func TestAlphaSchedule(t *testing.T) {
	cfg, err := New(Mode4C, DefaultHyperparameters(), ptr(0.5))
	require.NoError(t, err)
	require.Equal(t, AlphaConstant, cfg.AlphaSchedule())
	require.Equal(t, 0.5, cfg.AlphaAt(0))
	require.Equal(t, 0.5, cfg.AlphaAt(1))

	cfg, err = cfg.WithAlphaSchedule(AlphaDANN)
	require.NoError(t, err)
	require.InDelta(t, 0.0, cfg.AlphaAt(0), 1e-9)
	require.InDelta(t, 0.5*(2/(1+math.Exp(-5))-1), cfg.AlphaAt(0.5), 1e-9)
	require.InDelta(t, 0.5, cfg.AlphaAt(1), 1e-4)
	require.Less(t, cfg.AlphaAt(0.1), cfg.AlphaAt(0.2))

	_, err = cfg.WithAlphaSchedule("linear")
	require.Error(t, err)

	ctx := CreateDefaultContext()
	must.M1(commandline.ParseContextSettings(ctx, "alpha_schedule=dann"))
	cfg, err = FromContext(ctx)
	require.NoError(t, err)
	require.Equal(t, AlphaDANN, cfg.AlphaSchedule())
}
