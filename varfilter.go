// Package varfilter implements latent-variable sequence
// models trained with iterative amortized variational
// inference.
// At every timestep, an approximate posterior over the
// latent variables is refined for several gradient-informed
// iterations before the generative model commits a step,
// and the inference and generative parameters are updated
// by two independent optimizers from gradients accumulated
// at different points in the per-step protocol.
package varfilter

import (
	"github.com/unixpickle/anydiff"
)

// An Encoder turns a batch of observations into a feature
// batch and a list of skip connections for the decoder.
//
// The observation is packed row-major, one row per batch
// entry.
type Encoder interface {
	// Encode produces features and skip connections.
	Encode(obs anydiff.Res, batch int) (features anydiff.Res, skip []anydiff.Res)

	// Parameters returns the learnable parameters.
	Parameters() []*anydiff.Var
}

// A Decoder turns decoded features and skip connections
// into the mean and log-variance of a distribution over
// observations.
type Decoder interface {
	// Decode produces the observation mean and
	// log-variance, one row per batch entry.
	Decode(features anydiff.Res, skip []anydiff.Res, batch int) (mean, logVar anydiff.Res)

	// Parameters returns the learnable parameters.
	Parameters() []*anydiff.Var
}
