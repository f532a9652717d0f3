package varfilter

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
)

// An InferenceProcedure selects how the approximate
// posterior is updated by Infer.
type InferenceProcedure int

const (
	// DirectInference recomputes the posterior from
	// scratch on every call.
	DirectInference InferenceProcedure = iota

	// IterativeInference blends a fresh candidate with the
	// detached previous posterior through learned sigmoid
	// gates, refining the estimate across calls.
	IterativeInference
)

// A LatentVariable is a fully connected Gaussian latent
// variable with a learned approximate posterior and a
// learned prior.
//
// The posterior parameters are exposed through pooling
// variables so that the gradient of an objective with
// respect to them can be recorded during back-propagation
// (see Pool).
type LatentVariable struct {
	Procedure InferenceProcedure

	ApproxPost *Normal
	Prior      *Normal

	postMean       *anynet.FC
	postLogVar     *anynet.FC
	postMeanGate   anynet.Net
	postLogVarGate anynet.Net
	priorMean      *anynet.FC
	priorLogVar    *anynet.FC

	numVars     int
	priorBlocks int

	meanPool   *Pool
	logVarPool *Pool

	meanGrad   anyvec.Vector
	logVarGrad anyvec.Vector
}

// NewLatentVariable creates a latent variable with the
// given number of latent dimensions, posterior input size,
// and prior input size.
func NewLatentVariable(c anyvec.Creator, proc InferenceProcedure, numVars, postIn,
	priorIn int) *LatentVariable {
	res := &LatentVariable{
		Procedure:  proc,
		ApproxPost: &Normal{},
		Prior:      &Normal{},

		postMean:    anynet.NewFC(c, postIn, numVars),
		postLogVar:  anynet.NewFC(c, postIn, numVars),
		priorMean:   anynet.NewFC(c, priorIn, numVars),
		priorLogVar: anynet.NewFC(c, priorIn, numVars),

		numVars: numVars,
	}
	if proc == IterativeInference {
		res.postMeanGate = anynet.Net{anynet.NewFC(c, postIn, numVars), anynet.Sigmoid}
		res.postLogVarGate = anynet.Net{anynet.NewFC(c, postIn, numVars), anynet.Sigmoid}
	}
	return res
}

// Infer updates the approximate posterior from an input
// batch and returns a fresh reparameterized sample.
//
// Under DirectInference the posterior is overwritten by
// the computed candidate.
// Under IterativeInference the new estimate is a
// per-element convex combination of the detached previous
// posterior and the candidate, weighted by learned sigmoid
// gates.
func (v *LatentVariable) Infer(in anydiff.Res, batch int) anydiff.Res {
	mean := v.postMean.Apply(in, batch)
	logVar := v.postLogVar.Apply(in, batch)
	if v.Procedure == IterativeInference {
		oldMean := anydiff.NewConst(v.ApproxPost.Mean.Output().Copy())
		oldLogVar := anydiff.NewConst(v.ApproxPost.LogVar.Output().Copy())
		meanGate := v.postMeanGate.Apply(in, batch)
		logVarGate := v.postLogVarGate.Apply(in, batch)
		mean = anydiff.Add(anydiff.Mul(meanGate, oldMean),
			anydiff.Mul(oneMinus(meanGate), mean))
		logVar = anydiff.Add(anydiff.Mul(logVarGate, oldLogVar),
			anydiff.Mul(oneMinus(logVarGate), logVar))
	}
	v.meanPool = NewPool(mean)
	v.logVarPool = NewPool(logVar)
	v.meanGrad = nil
	v.logVarGrad = nil
	v.ApproxPost.Mean = v.meanPool.V
	v.ApproxPost.LogVar = v.logVarPool.V
	v.ApproxPost.noise = nil
	return v.ApproxPost.Sample(1, true)
}

// Generate samples the variable, recomputing the prior
// when an input is supplied.
//
// A non-nil input covers batch*seqLen rows; the prior is
// recomputed from it and retained for input-less calls.
// When gen is true, the sample comes from the prior;
// otherwise it comes from the approximate posterior.
func (v *LatentVariable) Generate(in anydiff.Res, gen bool, nSamples, batch,
	seqLen int) anydiff.Res {
	if in != nil {
		rows := batch * seqLen
		v.Prior.Mean = v.priorMean.Apply(in, rows)
		v.Prior.LogVar = v.priorLogVar.Apply(in, rows)
		v.Prior.noise = nil
		v.priorBlocks = seqLen
	}
	if gen {
		return v.Prior.Sample(nSamples, true)
	}
	return v.ApproxPost.Sample(nSamples, true)
}

// KL computes the per-row sampled KL divergence between
// the approximate posterior and the prior at the sample z,
// which should be a stacked batch of nSamples samples.
//
// When detachPost is true, the posterior parameters are
// stop-gradiented, so only the prior receives gradients
// (used for the sequence-level generative backward pass).
func (v *LatentVariable) KL(z anydiff.Res, nSamples int, detachPost bool) anydiff.Res {
	post := v.ApproxPost
	if detachPost {
		post = &Normal{
			Mean:   anydiff.NewConst(v.ApproxPost.Mean.Output()),
			LogVar: anydiff.NewConst(v.ApproxPost.LogVar.Output()),
		}
	}
	priorTile := z.Output().Len() / v.Prior.Mean.Output().Len()
	elem := anydiff.Sub(post.LogProb(z, nSamples), v.Prior.LogProb(z, priorTile))
	return sumRowsRes(elem, v.numVars)
}

func (v *LatentVariable) priorBlocksOrOne() int {
	if v.priorBlocks == 0 {
		return 1
	}
	return v.priorBlocks
}

// ReInit resets the prior to a standard normal over a
// batch, then re-seeds the approximate posterior from it.
func (v *LatentVariable) ReInit(c anyvec.Creator, batch int) {
	v.Prior.ReInit(c, batch*v.numVars, nil, nil)
	v.priorBlocks = 1
	v.ReInitApproxPosterior()
}

// ReInitApproxPosterior seeds the approximate posterior
// with the detached mean over the sample dimension of the
// prior's current statistics.
func (v *LatentVariable) ReInitApproxPosterior() {
	blocks := v.priorBlocksOrOne()
	mean := blockMean(v.Prior.Mean.Output(), blocks)
	logVar := blockMean(v.Prior.LogVar.Output(), blocks)
	v.meanPool = NewConstPool(mean)
	v.logVarPool = NewConstPool(logVar)
	v.meanGrad = nil
	v.logVarGrad = nil
	v.ApproxPost.Mean = v.meanPool.V
	v.ApproxPost.LogVar = v.logVarPool.V
	v.ApproxPost.noise = nil
}

// InferenceParameters returns the posterior and gate
// parameters.
func (v *LatentVariable) InferenceParameters() []*anydiff.Var {
	res := anynet.AllParameters(v.postMean, v.postLogVar)
	if v.Procedure == IterativeInference {
		res = append(res, anynet.AllParameters(v.postMeanGate, v.postLogVarGate)...)
	}
	return res
}

// GenerativeParameters returns the prior parameters.
func (v *LatentVariable) GenerativeParameters() []*anydiff.Var {
	return anynet.AllParameters(v.priorMean, v.priorLogVar)
}

// ApproxPosteriorParameters returns the current mean and
// log-variance of the approximate posterior.
func (v *LatentVariable) ApproxPosteriorParameters() (mean, logVar anyvec.Vector) {
	return v.ApproxPost.Mean.Output(), v.ApproxPost.LogVar.Output()
}

// Pools returns the pooling variables standing in for the
// current posterior parameters.
func (v *LatentVariable) Pools() []*Pool {
	return []*Pool{v.meanPool, v.logVarPool}
}

// RecordGradients stashes cut-point gradients extracted
// from the pools for later diagnostic access.
func (v *LatentVariable) RecordGradients(meanGrad, logVarGrad anyvec.Vector) {
	if meanGrad != nil {
		v.meanGrad = meanGrad
	}
	if logVarGrad != nil {
		v.logVarGrad = logVarGrad
	}
}

// ApproxPosteriorGradients returns the most recent
// gradients with respect to the posterior mean and
// log-variance.
//
// It panics when no backward pass has recorded gradients
// since the posterior was last updated.
func (v *LatentVariable) ApproxPosteriorGradients() (mean, logVar anyvec.Vector) {
	if v.meanGrad == nil || v.logVarGrad == nil {
		panic("approximate posterior gradients are not available")
	}
	return v.meanGrad, v.logVarGrad
}
