package varfilter

import (
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

func TestModelParameterPartition(t *testing.T) {
	c := testCreator()
	m := NewModelConfig(c, testConfig())
	infSet := anydiff.NewVarSet(m.InferenceParameters()...)
	for _, param := range m.GenerativeParameters() {
		if infSet.Has(param) {
			t.Fatal("parameter partitions overlap")
		}
	}
	if len(m.InferenceParameters()) == 0 || len(m.GenerativeParameters()) == 0 {
		t.Fatal("empty parameter partition")
	}
}

func TestModelUnknownProfile(t *testing.T) {
	if _, err := NewModel(testCreator(), Profile(42)); err == nil {
		t.Error("expected an error for an unknown profile")
	}
}

func TestModelProfiles(t *testing.T) {
	for _, p := range []Profile{SMMNIST, KTHActions, BAIRRobotPushing} {
		if _, err := NewModel(testCreator(), p); err != nil {
			t.Errorf("%v: %s", p, err)
		}
	}
}

func TestModelGenerateShape(t *testing.T) {
	c := testCreator()
	cfg := testConfig()
	m := NewModelConfig(c, cfg)

	const batch = 2
	ctx := m.ReInit(randVec(c, batch*cfg.FrameSize), batch)

	recon := m.Generate(ctx, true, 1)
	if recon.Output().Len() != batch*cfg.FrameSize {
		t.Errorf("expected %d components, got %d", batch*cfg.FrameSize,
			recon.Output().Len())
	}

	multi := m.Generate(ctx, true, 3)
	if multi.Output().Len() != 3*batch*cfg.FrameSize {
		t.Errorf("expected %d components, got %d", 3*batch*cfg.FrameSize,
			multi.Output().Len())
	}
}

func TestModelGenerateBeforeReInit(t *testing.T) {
	c := testCreator()
	m := NewModelConfig(c, testConfig())
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	m.Generate(&Context{Batch: 1}, true, 1)
}

func TestModelEvalRestoresInferenceMode(t *testing.T) {
	c := testCreator()
	cfg := testConfig()
	m := NewModelConfig(c, cfg)

	const batch = 1
	obs := anydiff.NewConst(randVec(c, batch*cfg.FrameSize))
	ctx := m.ReInit(randVec(c, batch*cfg.FrameSize), batch)
	m.Infer(ctx, obs)

	postParams := m.Levels[0].Latent.InferenceParameters()
	gradMag := func() float64 {
		g := anydiff.NewGrad(postParams...)
		m.Backward(m.FreeEnergy(obs), g)
		var total float64
		for _, param := range postParams {
			total += numericToFloat(anyvec.AbsSum(g[param]))
		}
		return total
	}

	m.GenerativeMode()
	m.Generate(ctx, false, 1)
	if mag := gradMag(); mag != 0 {
		t.Errorf("generative mode leaked posterior gradient: %f", mag)
	}

	m.Eval()
	m.Generate(ctx, false, 1)
	if gradMag() == 0 {
		t.Error("eval did not restore inference mode")
	}
}

func TestModelFreeEnergyDecomposition(t *testing.T) {
	c := testCreator()
	cfg := testConfig()
	m := NewModelConfig(c, cfg)

	const batch = 1
	first := c.MakeVector(batch * cfg.FrameSize)
	obs := anydiff.NewConst(c.MakeVector(batch * cfg.FrameSize))

	ctx := m.ReInit(first, batch)
	m.Infer(ctx, obs)
	m.Generate(ctx, false, 1)

	fe, cll, kl := m.Losses(obs)

	// fe must reconcile with -cll + sum(kl).
	recombined := cll.Output().Copy()
	recombined.Scale(c.MakeNumeric(-1))
	for _, levelKL := range kl {
		recombined.Add(levelKL.Output())
	}
	assertClose(t, fe.Output(), recombined)

	// The decomposition must also reconcile against
	// densities recomputed from the logged distribution
	// parameters.
	z := m.lastSample
	post := m.Levels[0].Latent.ApproxPost
	prior := m.Levels[0].Latent.Prior
	klCheck := post.LogProb(z, 1).Output().Copy()
	klCheck.Sub(prior.LogProb(z, 1).Output())
	klSum := sumAll(klCheck)
	cllSum := sumAll(m.OutputDist.LogProb(obs, 1).Output())
	feSum := sumAll(fe.Output())
	if diff := feSum - (klSum - cllSum); diff > 1e-4 || diff < -1e-4 {
		t.Errorf("free energy %f does not reconcile with %f", feSum,
			klSum-cllSum)
	}
}

func sumAll(v anyvec.Vector) float64 {
	return numericToFloat(anyvec.Sum(v))
}
