// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LoadPretrained attaches the GoMLX checkpoint in dir to ctx, so the model variables found in it (typically the
// backbone, trained on a larger dataset) are used instead of being randomly initialized.
//
// Only variables under the backbone, classifier and discriminator scopes (relative to ctx's scope) are
// loaded. The optimizer state, accumulated gradients, random number generator state and hyperparameters
// saved with the checkpoint are ignored.
//
// Variables are loaded lazily, as the model graphs are built, so it must be called before New.
func LoadPretrained(ctx *context.Context, dir string) error {
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		return err
	}
	// The checkpoint is attached to an empty context, so it doesn't overwrite variables already in ctx.
	handler, err := checkpoints.Load(context.New()).Dir(dir).ExcludeAllParams().Done()
	if err != nil {
		return errors.WithMessagef(err, "loading pretrained weights from %q", dir)
	}
	loader := &pretrainedLoader{checkpoint: handler, previous: ctx.Loader()}
	for _, scope := range []string{BackboneScope, ClassifierScope, DiscriminatorScope} {
		loader.scopes = append(loader.scopes, context.JoinScope(ctx.Scope(), scope))
	}
	numModelVars := 0
	for paramName := range handler.LoadedVariables() {
		scope, _ := context.VariableScopeAndNameFromParameterName(paramName)
		if loader.inModelScope(scope) {
			numModelVars++
		}
	}
	if numModelVars == 0 {
		return errors.Errorf("no model variables (%s) found in checkpoint %q",
			strings.Join(loader.scopes, ", "), dir)
	}
	ctx.SetLoader(loader)
	klog.Infof("Pretrained weights: %s (%d of %d variables)", handler, numModelVars, len(handler.LoadedVariables()))
	return nil
}

// pretrainedLoader implements context.Loader, serving only the model variables of a checkpoint.
type pretrainedLoader struct {
	checkpoint *checkpoints.Handler
	previous   context.Loader
	scopes     []string
}

var _ context.Loader = (*pretrainedLoader)(nil)

func (l *pretrainedLoader) inModelScope(scope string) bool {
	for _, s := range l.scopes {
		if scope == s || strings.HasPrefix(scope, s+context.ScopeSeparator) {
			return true
		}
	}
	return false
}

// LoadVariable implements context.Loader.
func (l *pretrainedLoader) LoadVariable(ctx *context.Context, scope, name string) (value *tensors.Tensor, found bool) {
	if l.previous != nil {
		value, found = l.previous.LoadVariable(ctx, scope, name)
		if found {
			return
		}
	}
	if !l.inModelScope(scope) {
		return nil, false
	}
	return l.checkpoint.LoadVariable(ctx, scope, name)
}

// DeleteVariable implements context.Loader.
func (l *pretrainedLoader) DeleteVariable(ctx *context.Context, scope, name string) error {
	if l.previous != nil {
		if err := l.previous.DeleteVariable(ctx, scope, name); err != nil {
			return err
		}
	}
	return l.checkpoint.DeleteVariable(ctx, scope, name)
}
