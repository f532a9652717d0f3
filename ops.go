package varfilter

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

type repeatRes struct {
	In  anydiff.Res
	N   int
	Out anyvec.Vector
}

// Repeat stacks n copies of a result, producing a vector
// of n times the input length.
//
// It is used to expand distribution parameters and context
// features along the sample dimension.
func Repeat(in anydiff.Res, n int) anydiff.Res {
	if n < 1 {
		panic("repeat count must be positive")
	} else if n == 1 {
		return in
	}
	out := in.Output().Creator().MakeVector(in.Output().Len() * n)
	anyvec.AddRepeated(out, in.Output())
	return &repeatRes{In: in, N: n, Out: out}
}

func (r *repeatRes) Output() anyvec.Vector {
	return r.Out
}

func (r *repeatRes) Vars() anydiff.VarSet {
	return r.In.Vars()
}

func (r *repeatRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	downstream := anyvec.SumRows(u, r.In.Output().Len())
	r.In.Propagate(downstream, g)
}

// blockMean averages a packed vector over its leading
// blocks dimension, producing a vector of length
// v.Len()/blocks.
//
// The result is a fresh vector with no gradient
// information.
func blockMean(v anyvec.Vector, blocks int) anyvec.Vector {
	if v.Len()%blocks != 0 {
		panic("vector length is not divisible by block count")
	}
	mean := anyvec.SumRows(v, v.Len()/blocks)
	mean.Scale(mean.Creator().MakeNumeric(1 / float64(blocks)))
	return mean
}

// sumRowsRes reduces an elementwise result to one value
// per row by summing over cols columns.
func sumRowsRes(in anydiff.Res, cols int) anydiff.Res {
	rows := in.Output().Len() / cols
	return anydiff.SumCols(&anydiff.Matrix{Data: in, Rows: rows, Cols: cols})
}

// oneMinus computes (1 - x) elementwise.
func oneMinus(in anydiff.Res) anydiff.Res {
	c := in.Output().Creator()
	return anydiff.AddScalar(anydiff.Scale(in, c.MakeNumeric(-1)), c.MakeNumeric(1))
}
