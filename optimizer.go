package varfilter

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
)

// An Optimizer updates one parameter partition from
// gradients accumulated over multiple backward passes.
//
// Backward passes deposit gradients into the current
// buffer; Collect folds the current buffer into the stored
// buffer; Step applies the stored buffer exactly once.
// This decouples how often gradients are computed (once
// per inference iteration, once per sequence) from how
// often parameters are updated (once per batch).
type Optimizer struct {
	Params      []*anydiff.Var
	Transformer anysgd.Transformer
	Rater       anysgd.Rater

	current anydiff.Grad
	stored  anydiff.Grad

	numSteps int
}

// NewOptimizer creates an Optimizer for a parameter
// partition.
//
// The transformer (e.g. &anysgd.Adam{}) may be nil for
// plain gradient descent.
func NewOptimizer(params []*anydiff.Var, t anysgd.Transformer,
	r anysgd.Rater) *Optimizer {
	return &Optimizer{
		Params:      params,
		Transformer: t,
		Rater:       r,
		current:     anydiff.NewGrad(params...),
		stored:      anydiff.NewGrad(params...),
	}
}

// CurrentGrad returns the working gradient buffer for this
// iteration's backward passes.
func (o *Optimizer) CurrentGrad() anydiff.Grad {
	return o.current
}

// ZeroCurrentGrad clears the working gradient buffer.
func (o *Optimizer) ZeroCurrentGrad() {
	o.current.Clear()
}

// ZeroStoredGrad clears the cross-iteration accumulator.
// It should be called once per batch before any backward
// pass.
func (o *Optimizer) ZeroStoredGrad() {
	o.stored.Clear()
}

// Collect adds the working gradient buffer into the stored
// accumulator, keyed by parameter identity.
func (o *Optimizer) Collect() {
	for v, acc := range o.stored {
		acc.Add(o.current[v])
	}
}

// Step applies the stored accumulator through the
// transformer and learning rate, updating the parameters.
//
// It must be called exactly once per batch, after every
// backward/Collect cycle has completed, and followed by
// ZeroStoredGrad before the accumulator is reused.
func (o *Optimizer) Step() {
	scratch := anydiff.NewGrad(o.Params...)
	for v, acc := range o.stored {
		scratch[v].Set(acc)
	}
	update := scratch
	if o.Transformer != nil {
		update = o.Transformer.Transform(scratch)
	}
	c := creatorOfGrad(update)
	update.Scale(c.MakeNumeric(-o.LearningRate()))
	update.AddToVars()
	o.numSteps++
}

// LearningRate returns the learning rate the next Step
// will use.
func (o *Optimizer) LearningRate() float64 {
	return o.Rater.Rate(float64(o.numSteps))
}

// GradNorm returns the mean absolute value of the stored
// gradient accumulator, for diagnostics.
func (o *Optimizer) GradNorm() float64 {
	var total float64
	var count int
	for _, acc := range o.stored {
		total += numericToFloat(anyvec.AbsSum(acc))
		count += acc.Len()
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func creatorOfGrad(g anydiff.Grad) anyvec.Creator {
	for _, v := range g {
		return v.Creator()
	}
	panic("empty gradient")
}

// numericToFloat converts an anyvec numeric to a float64.
func numericToFloat(n anyvec.Numeric) float64 {
	switch n := n.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	}
	panic("unsupported numeric type")
}
