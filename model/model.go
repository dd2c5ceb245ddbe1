// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package model implements the DANN network with GoMLX: a convolutional backbone shared by a label
// classifier head and a domain discriminator head, the latter fed through a gradient-reversal layer.
//
// Model implements dann.Network: each backward call runs one computation graph that computes a loss and
// adds its gradients to per-variable accumulators. Optimizer (momentum SGD with weight decay) then applies
// the accumulated gradients in one update, and StepLR decays its learning rate once per epoch.
package model

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/pacsdann/dann"
	"github.com/gomlx/pacsdann/pacs"
	"github.com/pkg/errors"
)

// Hyperparameters of the model, read from the context.
const (
	// ParamBackboneChannels is the number of channels of the first convolution block. Each following block
	// doubles it, up to 4 times the initial value.
	ParamBackboneChannels = "backbone_channels"

	// ParamBackboneBlocks is the number of convolution blocks, each halving the spatial dimensions.
	ParamBackboneBlocks = "backbone_blocks"

	// ParamHeadHiddenLayers is the number of hidden layers of the classifier and discriminator heads.
	ParamHeadHiddenLayers = "head_hidden_layers"

	// ParamHeadHiddenNodes is the number of nodes of the hidden layers of the heads.
	ParamHeadHiddenNodes = "head_hidden_nodes"

	// ParamDropout is the dropout rate used in the heads, during training.
	ParamDropout = "dropout"
)

// Scopes of the model variables.
const (
	BackboneScope      = "backbone"
	ClassifierScope    = "classifier"
	DiscriminatorScope = "discriminator"
)

// DType of the model variables and of the images.
var DType = dtypes.Float32

// NumDomains is the number of classes of the domain discriminator: source and target.
const NumDomains = 2

// Backbone returns the features of the images, shaped `[batch_size, num_features]`.
func Backbone(ctx *context.Context, images *Node) *Node {
	ctx = ctx.In(BackboneScope)
	channels := context.GetParamOr(ctx, ParamBackboneChannels, 64)
	numBlocks := context.GetParamOr(ctx, ParamBackboneBlocks, 4)
	x := images
	for block := range numBlocks {
		blockCtx := ctx.Inf("%03d_block", block)
		blockChannels := channels << min(block, 2)
		x = layers.Convolution(blockCtx.In("conv_0"), x).Channels(blockChannels).KernelSize(3).PadSame().Done()
		x = activations.Relu(x)
		x = layers.Convolution(blockCtx.In("conv_1"), x).Channels(blockChannels).KernelSize(3).PadSame().Done()
		x = activations.Relu(x)
		if x.Shape().Dimensions[1] >= 2 && x.Shape().Dimensions[2] >= 2 {
			x = MaxPool(x).Window(2).Done()
		}
	}
	// Global average pooling over the spatial axes.
	return ReduceMean(x, 1, 2)
}

// head is a feed-forward network from the features to numOutputs logits.
func head(ctx *context.Context, features *Node, numOutputs int) *Node {
	return fnn.New(ctx, features, numOutputs).
		NumHiddenLayers(
			context.GetParamOr(ctx, ParamHeadHiddenLayers, 1),
			context.GetParamOr(ctx, ParamHeadHiddenNodes, 256)).
		Dropout(context.GetParamOr(ctx, ParamDropout, 0.5)).
		Done()
}

// ClassifierLogits returns the label classifier logits, shaped `[batch_size, numClasses]`.
func ClassifierLogits(ctx *context.Context, images *Node, numClasses int) *Node {
	return head(ctx.In(ClassifierScope), Backbone(ctx, images), numClasses)
}

// DiscriminatorLogits returns the domain discriminator logits, shaped `[batch_size, NumDomains]`.
// The features go through GradientReversal with the scalar alpha.
func DiscriminatorLogits(ctx *context.Context, images, alpha *Node) *Node {
	features := GradientReversal(Backbone(ctx, images), alpha)
	return head(ctx.In(DiscriminatorScope), features, NumDomains)
}

// GradientReversal returns x unchanged, but multiplies the gradient flowing back through it by -alpha.
func GradientReversal(x, alpha *Node) *Node {
	if !alpha.Shape().IsScalar() {
		exceptions.Panicf("GradientReversal requires a scalar alpha, got shape %s", alpha.Shape())
	}
	return IdentityWithCustomGradient(x, func(_, v *Node) *Node {
		return Neg(Mul(v, ConvertDType(alpha, v.DType())))
	})
}

// Model holds the context with the variables and the computation graphs of the DANN network.
// It implements dann.Network.
type Model struct {
	backend    backends.Backend
	ctx        *context.Context
	numClasses int
	training   bool

	classifierExec, discriminatorExec, predictExec *context.Exec

	// accumulators of the gradients, one per trainable variable, in creation order.
	accumulators   []gradientAccumulator
	accumulatorFor map[*context.Variable]*context.Variable
}

var _ dann.Network = (*Model)(nil)

type gradientAccumulator struct {
	variable, gradient *context.Variable
}

// AccumulatedGradientsScope is the absolute scope of the variables holding the accumulated gradients.
const AccumulatedGradientsScope = "/accumulated_gradients"

// New creates a Model with numClasses output classes, with the hyperparameters in ctx.
// The variables are created (or loaded, see LoadPretrained) in ctx.
func New(backend backends.Backend, ctx *context.Context, numClasses int) (*Model, error) {
	m := &Model{
		backend:        backend,
		ctx:            ctx.Checked(false),
		numClasses:     numClasses,
		accumulatorFor: make(map[*context.Variable]*context.Variable),
	}
	var err error
	m.classifierExec, err = context.NewExec(backend, m.ctx, m.classifierLossGraph)
	if err != nil {
		return nil, errors.WithMessage(err, "creating classifier executor")
	}
	m.discriminatorExec, err = context.NewExec(backend, m.ctx, m.discriminatorLossGraph)
	if err != nil {
		return nil, errors.WithMessage(err, "creating discriminator executor")
	}
	m.predictExec, err = context.NewExec(backend, m.ctx, m.predictGraph)
	if err != nil {
		return nil, errors.WithMessage(err, "creating prediction executor")
	}
	return m, nil
}

// Context holding the model variables.
func (m *Model) Context() *context.Context { return m.ctx }

// Backend used to execute the model.
func (m *Model) Backend() backends.Backend { return m.backend }

// SetTraining implements dann.Network.
func (m *Model) SetTraining(training bool) { m.training = training }

// IsTraining returns whether the model is in training mode.
func (m *Model) IsTraining() bool { return m.training }

// accumulateGradientsGraph adds the gradients of loss with respect to the trainable variables used in the
// graph to their accumulators.
func (m *Model) accumulateGradientsGraph(ctx *context.Context, loss *Node) {
	g := loss.Graph()
	// Same enumeration as BuildTrainableVariablesGradientsGraph, so gradients and variables line up.
	var trainable []*context.Variable
	ctx.EnumerateVariables(func(v *context.Variable) {
		if v.Trainable && v.InUseByGraph(g) {
			trainable = append(trainable, v)
		}
	})
	grads := ctx.BuildTrainableVariablesGradientsGraph(loss)
	if len(grads) != len(trainable) {
		exceptions.Panicf("got %d gradients for %d trainable variables", len(grads), len(trainable))
	}
	for ii, v := range trainable {
		accVar := m.accumulatorVar(ctx, v)
		accVar.SetValueGraph(Add(accVar.ValueGraph(g), grads[ii]))
	}
}

// accumulatorVar returns the variable accumulating the gradients of v, creating it if needed.
func (m *Model) accumulatorVar(ctx *context.Context, v *context.Variable) *context.Variable {
	if accVar, found := m.accumulatorFor[v]; found {
		return accVar
	}
	accVar := ctx.InAbsPath(AccumulatedGradientsScope+v.Scope()).
		Checked(false).
		WithInitializer(initializers.Zero).
		VariableWithShape(v.Name(), v.Shape()).
		SetTrainable(false)
	m.accumulatorFor[v] = accVar
	m.accumulators = append(m.accumulators, gradientAccumulator{variable: v, gradient: accVar})
	return accVar
}

func crossEntropy(labels, logits *Node) *Node {
	return ReduceAllMean(losses.SparseCategoricalCrossEntropyLogits([]*Node{labels}, []*Node{logits}))
}

func (m *Model) classifierLossGraph(ctx *context.Context, images, labels *Node) *Node {
	ctx.SetTraining(images.Graph(), true)
	loss := crossEntropy(labels, ClassifierLogits(ctx, images, m.numClasses))
	m.accumulateGradientsGraph(ctx, loss)
	return loss
}

func (m *Model) discriminatorLossGraph(ctx *context.Context, images, domainLabels, alpha *Node) *Node {
	ctx.SetTraining(images.Graph(), true)
	loss := crossEntropy(domainLabels, DiscriminatorLogits(ctx, images, alpha))
	m.accumulateGradientsGraph(ctx, loss)
	return loss
}

func (m *Model) predictGraph(ctx *context.Context, images *Node) *Node {
	ctx.SetTraining(images.Graph(), false)
	return ArgMax(ClassifierLogits(ctx, images, m.numClasses), 1, dtypes.Int32)
}

// execLoss runs a loss executor, and returns the scalar loss.
func execLoss(exec *context.Exec, args ...any) (loss float64, err error) {
	if tryErr := exceptions.TryCatch[error](func() {
		var lossT *tensors.Tensor
		lossT, err = exec.Exec1(args...)
		if err != nil {
			return
		}
		loss = float64(tensors.ToScalar[float32](lossT))
		_ = lossT.FinalizeAll()
	}); tryErr != nil {
		err = tryErr
	}
	return
}

// ClassifierBackward implements dann.Network.
func (m *Model) ClassifierBackward(batch *pacs.Batch) (float64, error) {
	if !m.training {
		return 0, errors.New("ClassifierBackward requires the model to be in training mode")
	}
	loss, err := execLoss(m.classifierExec, batch.Images, batch.Labels)
	if err != nil {
		return 0, errors.WithMessage(err, "classifier backward")
	}
	return loss, nil
}

// DomainLabels returns the discriminator labels for a batch of the given size, all set to domain,
// shaped `[size, 1]`.
func DomainLabels(size int, domain dann.DomainLabel) *tensors.Tensor {
	labels := make([]int32, size)
	for ii := range labels {
		labels[ii] = int32(domain)
	}
	return tensors.FromFlatDataAndDimensions(labels, size, 1)
}

// DiscriminatorBackward implements dann.Network.
// The domain labels are sized to the actual number of images in the batch.
func (m *Model) DiscriminatorBackward(batch *pacs.Batch, domain dann.DomainLabel, alpha float64) (float64, error) {
	if !m.training {
		return 0, errors.New("DiscriminatorBackward requires the model to be in training mode")
	}
	labels := DomainLabels(batch.Images.Shape().Dimensions[0], domain)
	defer func() { _ = labels.FinalizeAll() }()
	loss, err := execLoss(m.discriminatorExec, batch.Images, labels, tensors.FromScalar(float32(alpha)))
	if err != nil {
		return 0, errors.WithMessagef(err, "discriminator backward for domain %d", domain)
	}
	return loss, nil
}

// Predict implements dann.Network. It always runs the model in inference mode.
func (m *Model) Predict(batch *pacs.Batch) (predictions []int, err error) {
	if tryErr := exceptions.TryCatch[error](func() {
		var predT *tensors.Tensor
		predT, err = m.predictExec.Exec1(batch.Images)
		if err != nil {
			return
		}
		flat := tensors.MustCopyFlatData[int32](predT)
		_ = predT.FinalizeAll()
		predictions = make([]int, len(flat))
		for ii, p := range flat {
			predictions[ii] = int(p)
		}
	}); tryErr != nil {
		err = tryErr
	}
	if err != nil {
		return nil, errors.WithMessage(err, "predict")
	}
	return predictions, nil
}

// NumParameters returns the number of scalar values in the trainable variables of the model.
func (m *Model) NumParameters() int {
	var count int
	for v := range m.ctx.IterVariables() {
		if v.Trainable {
			count += v.Shape().Size()
		}
	}
	return count
}
