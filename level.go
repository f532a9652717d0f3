package varfilter

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A LatentLevel couples a LatentVariable with level-local
// recurrent networks for the inference and generative
// pathways.
//
// The inference network summarizes observation encodings
// across refinement iterations; the generative network
// summarizes past context for the prior.
type LatentLevel struct {
	Latent *LatentVariable
	InfRNN *LSTM
	GenRNN *LSTM
}

// NewLatentLevel creates a level whose recurrent networks
// map inputs of size in to states of size state, feeding a
// latent variable with numVars dimensions.
func NewLatentLevel(c anyvec.Creator, proc InferenceProcedure, numVars, in,
	state int) *LatentLevel {
	return &LatentLevel{
		Latent: NewLatentVariable(c, proc, numVars, state, state),
		InfRNN: NewLSTM(c, in, state, 1),
		GenRNN: NewLSTM(c, in, state, 1),
	}
}

// Infer runs the inference network on an input batch and
// updates the latent variable's approximate posterior.
func (l *LatentLevel) Infer(in anydiff.Res, batch int) anydiff.Res {
	h := l.InfRNN.Forward(in, batch)
	return l.Latent.Infer(h, batch)
}

// Generate samples the latent variable, recomputing the
// prior from in (shaped batch*seqLen rows) when in is
// non-nil.
func (l *LatentLevel) Generate(in anydiff.Res, gen bool, nSamples, batch,
	seqLen int) anydiff.Res {
	if in != nil {
		h := l.GenRNN.Forward(in, batch*seqLen)
		return l.Latent.Generate(h, gen, nSamples, batch, seqLen)
	}
	return l.Latent.Generate(nil, gen, nSamples, batch, seqLen)
}

// Step advances the level-local recurrent state.
func (l *LatentLevel) Step() {
	l.InfRNN.Step()
	l.GenRNN.Step()
}

// ReInit resets the recurrent state and the latent
// variable's distributions for a new sequence.
func (l *LatentLevel) ReInit(c anyvec.Creator, batch int) {
	l.InfRNN.ReInit(c, batch)
	l.GenRNN.ReInit(c, batch)
	l.Latent.ReInit(c, batch)
}

// InferenceParameters returns the inference-side
// parameters of the level.
func (l *LatentLevel) InferenceParameters() []*anydiff.Var {
	return append(l.Latent.InferenceParameters(), l.InfRNN.Parameters()...)
}

// GenerativeParameters returns the generative-side
// parameters of the level.
func (l *LatentLevel) GenerativeParameters() []*anydiff.Var {
	return append(l.Latent.GenerativeParameters(), l.GenRNN.Parameters()...)
}
