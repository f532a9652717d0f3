package varfilter

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A Normal is a diagonal Gaussian parameterized by a mean
// and a log-variance.
//
// The parameters are differentiable results, so samples
// drawn with Sample are reparameterized: gradients flow
// from a sample back into the mean and log-variance.
//
// Both parameters must be set (via direct assignment or
// ReInit) before Sample or LogProb is called.
type Normal struct {
	Mean   anydiff.Res
	LogVar anydiff.Res

	noise anyvec.Vector
}

// ReInit resets the distribution parameters to detached
// constants and discards the cached sampling noise.
//
// A nil mean or logVar is replaced by zeros of the given
// size.
func (n *Normal) ReInit(c anyvec.Creator, size int, mean, logVar anyvec.Vector) {
	if mean == nil {
		mean = c.MakeVector(size)
	}
	if logVar == nil {
		logVar = c.MakeVector(size)
	}
	if mean.Len() != logVar.Len() {
		panic("mean and log-variance sizes do not match")
	}
	n.Mean = anydiff.NewConst(mean)
	n.LogVar = anydiff.NewConst(logVar)
	n.noise = nil
}

// Sample draws a batch of nSamples reparameterized samples
// as mean + exp(0.5*logVar)*noise.
//
// The result stacks nSamples copies of the parameter row
// block, so its length is nSamples times the parameter
// length.
//
// If resample is false and noise of a matching size has
// been cached by a previous call, that noise is reused and
// the samples are deterministic given the parameters.
// Otherwise fresh standard normal noise is drawn and
// cached.
func (n *Normal) Sample(nSamples int, resample bool) anydiff.Res {
	if n.Mean == nil || n.LogVar == nil {
		panic("sample from uninitialized distribution")
	}
	size := nSamples * n.Mean.Output().Len()
	if resample || n.noise == nil || n.noise.Len() != size {
		noise := n.Mean.Output().Creator().MakeVector(size)
		anyvec.Rand(noise, anyvec.Normal, nil)
		n.noise = noise
	}
	c := n.Mean.Output().Creator()
	mean := Repeat(n.Mean, nSamples)
	logVar := Repeat(n.LogVar, nSamples)
	std := anydiff.Exp(anydiff.Scale(logVar, c.MakeNumeric(0.5)))
	return anydiff.Add(mean, anydiff.Mul(std, anydiff.NewConst(n.noise)))
}

// LogProb computes the elementwise Gaussian log-density of
// x under the distribution.
//
// The parameters are tiled nSamples times so that x may be
// a stacked sample batch from Sample.
func (n *Normal) LogProb(x anydiff.Res, nSamples int) anydiff.Res {
	if n.Mean == nil || n.LogVar == nil {
		panic("log-probability of uninitialized distribution")
	}
	c := x.Output().Creator()
	mean := Repeat(n.Mean, nSamples)
	logVar := Repeat(n.LogVar, nSamples)
	if mean.Output().Len() != x.Output().Len() {
		panic("sample size does not match distribution size")
	}
	diff := anydiff.Sub(x, mean)
	sqErr := anydiff.Mul(diff, diff)
	precision := anydiff.Exp(anydiff.Scale(logVar, c.MakeNumeric(-1)))
	nll := anydiff.Add(logVar, anydiff.Mul(sqErr, precision))
	nll = anydiff.AddScalar(nll, c.MakeNumeric(math.Log(2*math.Pi)))
	return anydiff.Scale(nll, c.MakeNumeric(-0.5))
}
