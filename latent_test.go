package varfilter

import (
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

func TestLatentParameterPartition(t *testing.T) {
	c := testCreator()
	for _, proc := range []InferenceProcedure{DirectInference, IterativeInference} {
		v := NewLatentVariable(c, proc, 4, 6, 5)
		infSet := anydiff.NewVarSet(v.InferenceParameters()...)
		for _, param := range v.GenerativeParameters() {
			if infSet.Has(param) {
				t.Errorf("procedure %d: parameter partitions overlap", proc)
			}
		}
	}
}

func TestLatentReInitSeedsPosterior(t *testing.T) {
	c := testCreator()
	v := NewLatentVariable(c, DirectInference, 3, 5, 5)

	// Prime the prior over two sequence blocks so the
	// posterior seed is a genuine average.
	const batch = 2
	const seqLen = 2
	v.Generate(randRes(c, batch*seqLen*5), true, 1, batch, seqLen)
	v.ReInitApproxPosterior()

	halfMean := func(vec anyvec.Vector) anyvec.Vector {
		half := vec.Len() / 2
		res := vec.Slice(0, half).Copy()
		res.Add(vec.Slice(half, vec.Len()))
		res.Scale(c.MakeNumeric(0.5))
		return res
	}
	assertClose(t, v.ApproxPost.Mean.Output(), halfMean(v.Prior.Mean.Output()))
	assertClose(t, v.ApproxPost.LogVar.Output(), halfMean(v.Prior.LogVar.Output()))
}

func TestLatentDirectInference(t *testing.T) {
	c := testCreator()
	v := NewLatentVariable(c, DirectInference, 3, 5, 5)
	v.ReInit(c, 2)

	in := randRes(c, 2*5)
	v.Infer(in, 2)

	expected := v.postMean.Apply(in, 2)
	assertClose(t, v.ApproxPost.Mean.Output(), expected.Output())
}

func TestLatentPosteriorParameters(t *testing.T) {
	c := testCreator()
	v := NewLatentVariable(c, DirectInference, 3, 5, 5)
	v.ReInit(c, 2)

	in := randRes(c, 2*5)
	v.Infer(in, 2)

	mean, logVar := v.ApproxPosteriorParameters()
	assertClose(t, mean, v.postMean.Apply(in, 2).Output())
	assertClose(t, logVar, v.postLogVar.Apply(in, 2).Output())
}

func TestLatentGatedInference(t *testing.T) {
	c := testCreator()
	v := NewLatentVariable(c, IterativeInference, 3, 5, 5)
	v.ReInit(c, 2)

	// Give the previous posterior a nonzero value so the
	// blend is visible.
	v.Generate(randRes(c, 2*5), true, 1, 2, 1)
	v.ReInitApproxPosterior()
	oldMean := v.ApproxPost.Mean.Output().Copy()

	in := randRes(c, 2*5)
	v.Infer(in, 2)

	gate := v.postMeanGate.Apply(in, 2).Output()
	cand := v.postMean.Apply(in, 2).Output()

	// expected = gate*old + (1-gate)*cand
	blended := gate.Copy()
	blended.Mul(oldMean)
	comp := gate.Copy()
	comp.Scale(c.MakeNumeric(-1))
	comp.AddScalar(c.MakeNumeric(1))
	comp.Mul(cand)
	blended.Add(comp)

	assertClose(t, v.ApproxPost.Mean.Output(), blended)

	// Per-element, the blend must lie between the old
	// mean and the candidate.
	news := v.ApproxPost.Mean.Output().Data().([]float64)
	olds := oldMean.Data().([]float64)
	cands := cand.Data().([]float64)
	for i, newVal := range news {
		lo, hi := olds[i], cands[i]
		if lo > hi {
			lo, hi = hi, lo
		}
		if newVal < lo-1e-6 || newVal > hi+1e-6 {
			t.Errorf("component %d: %f outside segment [%f, %f]", i, newVal,
				lo, hi)
		}
	}
}

func TestLatentGatedGradientAttribution(t *testing.T) {
	c := testCreator()
	v := NewLatentVariable(c, IterativeInference, 3, 5, 5)
	v.ReInit(c, 2)

	in1 := randRes(c, 2*5)
	in2 := randRes(c, 2*5)
	v.Infer(in1, 2)
	firstMean := v.ApproxPost.Mean.Output().Copy()
	v.Infer(in2, 2)

	params := v.InferenceParameters()
	upstream := randVec(c, 2*3)
	actual := anydiff.NewGrad(params...)
	v.meanPool.Src.Propagate(upstream.Copy(), actual)

	// Rebuild the second refinement alone from the
	// detached first posterior. The earlier refinement
	// must contribute nothing to the gradients.
	old := anydiff.NewConst(firstMean)
	gate := v.postMeanGate.Apply(in2, 2)
	cand := v.postMean.Apply(in2, 2)
	blend := anydiff.Add(anydiff.Mul(gate, old),
		anydiff.Mul(oneMinus(gate), cand))
	expected := anydiff.NewGrad(params...)
	blend.Propagate(upstream.Copy(), expected)

	for _, param := range params {
		assertClose(t, actual[param], expected[param])
	}
}

func TestLatentMissingGradients(t *testing.T) {
	c := testCreator()
	v := NewLatentVariable(c, DirectInference, 3, 5, 5)
	v.ReInit(c, 1)
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	v.ApproxPosteriorGradients()
}
