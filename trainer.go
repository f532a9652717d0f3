package varfilter

import (
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/lazyseq"
)

// A Trainer drives the per-batch, per-step,
// per-inference-iteration training protocol with two
// independent optimizers.
//
// Inference parameters receive gradients from each
// refinement iteration's backward pass, collected per
// step; generative parameters receive one gradient from
// the sequence-level free energy.
// Both parameter groups are updated exactly once per
// batch.
type Trainer struct {
	Model  *Model
	InfOpt *Optimizer
	GenOpt *Optimizer

	// InfIters is the number of inference refinement
	// iterations per sequence step.
	InfIters int
}

// NewTrainer creates a Trainer with Adam-transformed
// optimizers at the given learning rates.
func NewTrainer(m *Model, infRate, genRate float64, infIters int) *Trainer {
	return &Trainer{
		Model: m,
		InfOpt: NewOptimizer(m.InferenceParameters(), &anysgd.Adam{},
			anysgd.ConstRater(infRate)),
		GenOpt: NewOptimizer(m.GenerativeParameters(), &anysgd.Adam{},
			anysgd.ConstRater(genRate)),
		InfIters: infIters,
	}
}

// A BatchResult holds the diagnostics collected while
// processing one batch of sequences.
//
// Per-step metrics are indexed [iteration][step], where
// iteration 0 is the zero-shot evaluation before any
// refinement.
type BatchResult struct {
	FreeEnergy   [][]float64
	CondLogLike  [][]float64
	KL           [][]float64
	OutputLogVar [][]float64

	// MeanGrad and LogVarGrad are the magnitudes of the
	// free-energy gradient with respect to the posterior
	// mean and log-variance.
	MeanGrad   [][]float64
	LogVarGrad [][]float64

	// Reconstructions holds the output mean of the final
	// generative pass for each step.
	Reconstructions []anyvec.Vector

	// InfGradNorm and GenGradNorm are the magnitudes of
	// the stored parameter gradients before the update.
	InfGradNorm float64
	GenGradNorm float64

	// InfRate and GenRate are the learning rates used for
	// the update.
	InfRate float64
	GenRate float64
}

func newBatchResult(iters, steps int) *BatchResult {
	res := &BatchResult{}
	grids := []*[][]float64{&res.FreeEnergy, &res.CondLogLike, &res.KL,
		&res.OutputLogVar, &res.MeanGrad, &res.LogVarGrad}
	for _, grid := range grids {
		*grid = make([][]float64, iters+1)
		for i := range *grid {
			(*grid)[i] = make([]float64, steps)
		}
	}
	return res
}

// Train processes one batch of sequences from a tape and
// updates the model parameters.
//
// The tape holds one frame batch per timestep; the first
// frame seeds the model state and the remaining frames are
// processed as sequence steps.
//
// If the total free energy diverges to NaN, Train returns
// an error before either optimizer applies an update.
func (t *Trainer) Train(tape lazyseq.Tape) (*BatchResult, error) {
	if t.InfIters < 1 {
		return nil, fmt.Errorf("inference iteration count must be positive")
	}
	frames, err := readFrames(tape)
	if err != nil {
		return nil, err
	}
	batch := frames[0].NumPresent()
	steps := len(frames) - 1
	res := newBatchResult(t.InfIters, steps)

	t.Model.Train()
	ctx := t.Model.ReInit(frames[0].Packed, batch)

	t.InfOpt.ZeroStoredGrad()
	t.InfOpt.ZeroCurrentGrad()
	t.GenOpt.ZeroStoredGrad()
	t.GenOpt.ZeroCurrentGrad()

	var totalFE anydiff.Res
	for stepIdx, frame := range frames[1:] {
		obs := anydiff.NewConst(frame.Packed)

		t.Model.InferenceMode()
		t.InfOpt.ZeroCurrentGrad()

		// Zero-shot evaluation of the re-seeded posterior.
		t.Model.Generate(ctx, false, 1)
		t.evalAndBackward(ctx, obs, res, 0, stepIdx)

		for it := 1; it <= t.InfIters; it++ {
			t.Model.Infer(ctx, obs)
			t.Model.Generate(ctx, false, 1)
			t.evalAndBackward(ctx, obs, res, it, stepIdx)
		}
		t.InfOpt.Collect()

		t.Model.GenerativeMode()
		t.Model.Generate(ctx, false, 1)
		res.Reconstructions = append(res.Reconstructions,
			t.Model.OutputDist.Mean.Output().Copy())
		stepFE := t.Model.FreeEnergy(obs)
		if totalFE == nil {
			totalFE = stepFE
		} else {
			totalFE = anydiff.Add(totalFE, stepFE)
		}

		t.Model.Step(ctx)
	}

	if math.IsNaN(batchMean(totalFE, 1)) {
		return res, fmt.Errorf("total free energy is NaN; skipping update")
	}

	t.GenOpt.ZeroCurrentGrad()
	totalFE.Propagate(scalarUpstream(t.Model.Creator()), t.GenOpt.CurrentGrad())
	t.GenOpt.Collect()

	res.InfGradNorm = t.InfOpt.GradNorm()
	res.GenGradNorm = t.GenOpt.GradNorm()
	res.InfRate = t.InfOpt.LearningRate()
	res.GenRate = t.GenOpt.LearningRate()

	t.InfOpt.Step()
	t.GenOpt.Step()
	return res, nil
}

// evalAndBackward evaluates the objective against obs,
// back-propagates it into the inference optimizer's
// working buffer, and records diagnostics.
func (t *Trainer) evalAndBackward(ctx *Context, obs anydiff.Res,
	res *BatchResult, iter, step int) {
	fe, cll, kl := t.Model.Losses(obs)
	rows := fe.Output().Len()
	mean := anydiff.Scale(anydiff.Sum(fe),
		t.Model.Creator().MakeNumeric(1/float64(rows)))
	t.Model.Backward(mean, t.InfOpt.CurrentGrad())

	res.FreeEnergy[iter][step] = batchMean(fe, rows)
	res.CondLogLike[iter][step] = batchMean(cll, rows)
	res.KL[iter][step] = batchMean(kl[0], rows)
	lv := t.Model.OutputDist.LogVar.Output()
	res.OutputLogVar[iter][step] = numericToFloat(anyvec.Sum(lv)) / float64(lv.Len())
	meanGrad, logVarGrad := t.Model.Levels[0].Latent.ApproxPosteriorGradients()
	res.MeanGrad[iter][step] = absMean(meanGrad)
	res.LogVarGrad[iter][step] = absMean(logVarGrad)
}

// Validate evaluates the model on one batch of sequences
// without computing gradients or updating parameters.
//
// Each step performs a single inference pass followed by a
// reconstruction, so the diagnostics have exactly one
// iteration row.
func (t *Trainer) Validate(tape lazyseq.Tape) (*BatchResult, error) {
	frames, err := readFrames(tape)
	if err != nil {
		return nil, err
	}
	batch := frames[0].NumPresent()
	res := newBatchResult(0, len(frames)-1)

	t.Model.Eval()
	ctx := t.Model.ReInit(frames[0].Packed, batch)

	for stepIdx, frame := range frames[1:] {
		obs := anydiff.NewConst(frame.Packed)
		t.Model.Infer(ctx, obs)
		t.Model.Generate(ctx, false, 1)
		res.Reconstructions = append(res.Reconstructions,
			t.Model.OutputDist.Mean.Output().Copy())

		fe, cll, kl := t.Model.Losses(obs)
		rows := fe.Output().Len()
		res.FreeEnergy[0][stepIdx] = batchMean(fe, rows)
		res.CondLogLike[0][stepIdx] = batchMean(cll, rows)
		res.KL[0][stepIdx] = batchMean(kl[0], rows)
		lv := t.Model.OutputDist.LogVar.Output()
		res.OutputLogVar[0][stepIdx] = numericToFloat(anyvec.Sum(lv)) /
			float64(lv.Len())

		t.Model.Step(ctx)
	}
	return res, nil
}

// readFrames reads a full tape of constant-presence frame
// batches.
func readFrames(tape lazyseq.Tape) ([]*anyseq.Batch, error) {
	var frames []*anyseq.Batch
	for frame := range tape.ReadTape(0, -1) {
		if len(frames) > 0 &&
			frame.NumPresent() != frames[0].NumPresent() {
			return nil, fmt.Errorf("sequence batch size changed mid-tape")
		}
		frames = append(frames, frame)
	}
	if len(frames) < 2 {
		return nil, fmt.Errorf("need at least two frames, got %d", len(frames))
	}
	return frames, nil
}

func scalarUpstream(c anyvec.Creator) anyvec.Vector {
	return c.MakeVectorData(c.MakeNumericList([]float64{1}))
}

func batchMean(res anydiff.Res, rows int) float64 {
	return numericToFloat(anyvec.Sum(res.Output())) / float64(rows)
}

func absMean(v anyvec.Vector) float64 {
	return numericToFloat(anyvec.AbsSum(v)) / float64(v.Len())
}
