// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/pacsdann/dann"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Hyperparameters of the optimizer, read from the context.
const (
	// ParamMomentum is the momentum factor of the SGD optimizer.
	ParamMomentum = "momentum"

	// ParamWeightDecay is the L2 penalty added to the gradients of the SGD optimizer.
	ParamWeightDecay = "weight_decay"
)

// MomentumScope under the optimizers scope holds the momentum buffers.
const MomentumScope = "momentum"

// Optimizer implements stochastic gradient descent with momentum and weight decay over the gradients
// accumulated by a Model. It implements dann.Optimizer.
//
// For each trainable variable w with accumulated gradient g and momentum buffer b:
//
//	d = g + weight_decay * w
//	b = momentum * b + d
//	w = w - learning_rate * b
//
// The learning rate is stored in the variable optimizers.LearningRateVar, so it can be changed without
// recompiling the update graph (see StepLR).
type Optimizer struct {
	model                               *Model
	learningRate, momentum, weightDecay float64

	stepExec *context.Exec

	// numVariables updated by stepExec: the graph is rebuilt if new accumulators are created.
	numVariables int
}

var _ dann.Optimizer = (*Optimizer)(nil)

// NewOptimizer creates the momentum SGD optimizer for the model. It reads the initial learning rate,
// momentum and weight decay from the model's context hyperparameters.
func NewOptimizer(m *Model) *Optimizer {
	ctx := m.ctx
	o := &Optimizer{
		model:        m,
		learningRate: context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.01),
		momentum:     context.GetParamOr(ctx, ParamMomentum, 0.9),
		weightDecay:  context.GetParamOr(ctx, ParamWeightDecay, 0.0),
	}
	// Creates the learning rate variable with its initial value.
	optimizers.LearningRateVar(ctx, DType, o.learningRate)
	return o
}

// ZeroGrad implements dann.Optimizer: it sets all accumulated gradients to zero.
func (o *Optimizer) ZeroGrad() error {
	for _, acc := range o.model.accumulators {
		if err := acc.gradient.SetValue(tensors.FromShape(acc.gradient.Shape())); err != nil {
			return errors.WithMessagef(err, "zeroing gradient of %s", acc.variable.ScopeAndName())
		}
	}
	return nil
}

// Step implements dann.Optimizer: it applies one update to the trainable variables from the accumulated gradients.
func (o *Optimizer) Step() error {
	if len(o.model.accumulators) == 0 {
		return errors.New("optimizer step without any accumulated gradients: no backward pass was executed")
	}
	if o.stepExec == nil || o.numVariables != len(o.model.accumulators) {
		var err error
		o.stepExec, err = context.NewExec(o.model.backend, o.model.ctx, o.updateGraph)
		if err != nil {
			return errors.WithMessage(err, "creating optimizer step executor")
		}
		o.numVariables = len(o.model.accumulators)
		klog.V(1).Infof("Optimizer updating %d variables", o.numVariables)
	}
	var err error
	if tryErr := exceptions.TryCatch[error](func() {
		var globalStep *tensors.Tensor
		globalStep, err = o.stepExec.Exec1()
		if err == nil {
			_ = globalStep.FinalizeAll()
		}
	}); tryErr != nil {
		err = tryErr
	}
	if err != nil {
		return errors.WithMessage(err, "optimizer step")
	}
	return nil
}

// updateGraph builds the update of all variables with accumulated gradients. It returns the incremented global step.
func (o *Optimizer) updateGraph(ctx *context.Context, g *Graph) *Node {
	learningRate := optimizers.LearningRateVar(ctx, DType, o.learningRate).ValueGraph(g)
	momentumCtx := ctx.InAbsPath(context.ScopeSeparator + optimizers.Scope).In(MomentumScope).
		Checked(false).WithInitializer(initializers.Zero)
	for _, acc := range o.model.accumulators {
		v := acc.variable
		value := v.ValueGraph(g)
		dtype := value.DType()
		update := acc.gradient.ValueGraph(g)
		if o.weightDecay > 0 {
			update = Add(update, MulScalar(value, o.weightDecay))
		}
		if o.momentum > 0 {
			bufferVar := momentumCtx.InAbsPath(momentumCtx.Scope()+v.Scope()).
				VariableWithShape(v.Name(), v.Shape()).SetTrainable(false)
			update = Add(MulScalar(bufferVar.ValueGraph(g), o.momentum), update)
			bufferVar.SetValueGraph(update)
		}
		lr := learningRate
		if lr.DType() != dtype {
			lr = ConvertDType(lr, dtype)
		}
		step := optimizers.ClipStepByValue(ctx, Mul(update, lr))
		optimizers.TraceNaNInGradients(ctx, v, step)
		updated := Sub(value, step)
		v.SetValueGraph(optimizers.ClipNaNsInUpdates(ctx, value, updated))
	}
	return optimizers.IncrementGlobalStepGraph(ctx, g, dtypes.Int64)
}

// SetLearningRate changes the learning rate used by the following steps.
func (o *Optimizer) SetLearningRate(learningRate float64) error {
	lrVar := optimizers.LearningRateVar(o.model.ctx, DType, o.learningRate)
	if err := lrVar.SetValue(tensors.FromScalar(float32(learningRate))); err != nil {
		return errors.WithMessage(err, "setting learning rate")
	}
	return nil
}

// LearningRate currently set.
func (o *Optimizer) LearningRate() (float64, error) {
	lrVar := optimizers.LearningRateVar(o.model.ctx, DType, o.learningRate)
	value, err := lrVar.Value()
	if err != nil {
		return 0, errors.WithMessage(err, "reading learning rate")
	}
	return float64(tensors.ToScalar[float32](value)), nil
}

// GlobalStep returns the number of updates applied so far.
func (o *Optimizer) GlobalStep() int64 {
	return optimizers.GetGlobalStep(o.model.ctx)
}
