package varfilter

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
)

// A Profile identifies a supported model configuration.
type Profile int

const (
	// SMMNIST models stochastic moving MNIST frames.
	SMMNIST Profile = iota

	// KTHActions models KTH action recognition frames.
	KTHActions

	// BAIRRobotPushing models BAIR robot pushing frames.
	BAIRRobotPushing
)

// String returns a human-readable profile name.
func (p Profile) String() string {
	switch p {
	case SMMNIST:
		return "SMMNIST"
	case KTHActions:
		return "KTHActions"
	case BAIRRobotPushing:
		return "BAIRRobotPushing"
	}
	return fmt.Sprintf("Profile(%d)", int(p))
}

// A Config fully describes a model's dimensions.
type Config struct {
	// FrameSize is the flattened observation size.
	FrameSize int

	// EncodedSize is the encoder feature size.
	EncodedSize int

	// SkipSize is the size of the encoder's skip
	// connection.
	SkipSize int

	// StateSize is the recurrent state size of the latent
	// level and the decoder network.
	StateSize int

	// NumLatent is the latent dimensionality.
	NumLatent int

	// DecoderLayers is the decoder LSTM depth.
	DecoderLayers int

	// Procedure selects the inference procedure.
	Procedure InferenceProcedure
}

func profileConfig(p Profile) (Config, error) {
	switch p {
	case SMMNIST:
		return Config{FrameSize: 64 * 64, EncodedSize: 128, SkipSize: 256,
			StateSize: 256, NumLatent: 10, DecoderLayers: 2,
			Procedure: DirectInference}, nil
	case KTHActions:
		return Config{FrameSize: 64 * 64, EncodedSize: 128, SkipSize: 256,
			StateSize: 256, NumLatent: 32, DecoderLayers: 2,
			Procedure: DirectInference}, nil
	case BAIRRobotPushing:
		return Config{FrameSize: 64 * 64 * 3, EncodedSize: 128, SkipSize: 256,
			StateSize: 256, NumLatent: 64, DecoderLayers: 2,
			Procedure: DirectInference}, nil
	}
	return Config{}, fmt.Errorf("unsupported model profile: %v", p)
}

// A Context carries the per-sequence decoding state: the
// current and previous frame encodings along with their
// skip connections.
//
// A Context is produced by ReInit and threaded through
// Infer, Generate, and Step, making the data flow of the
// per-step protocol explicit.
type Context struct {
	Batch int

	H    anydiff.Res
	Skip []anydiff.Res

	PrevH    anydiff.Res
	PrevSkip []anydiff.Res
}

// A Model is a latent-variable sequence model with a
// learned prior, in the style of stochastic video
// generation models.
//
// Per sequence, the caller runs ReInit on the first frame
// and then, per subsequent frame, some number of
// Infer/Generate cycles followed by Step.
type Model struct {
	Encoder    Encoder
	Decoder    Decoder
	Levels     []*LatentLevel
	DecoderRNN *LSTM
	DecoderOut anynet.Net
	OutputDist *Normal

	cfg     Config
	creator anyvec.Creator
	mixer   anynet.Mixer

	genMode bool

	lastSample anydiff.Res
	lastN      int
}

// NewModel creates a model for one of the supported
// profiles.
//
// An unknown profile is a construction-time error.
func NewModel(c anyvec.Creator, p Profile) (*Model, error) {
	cfg, err := profileConfig(p)
	if err != nil {
		return nil, err
	}
	return NewModelConfig(c, cfg), nil
}

// NewModelConfig creates a model from an explicit
// configuration.
func NewModelConfig(c anyvec.Creator, cfg Config) *Model {
	return &Model{
		Encoder: NewFCEncoder(c, cfg.FrameSize, cfg.SkipSize, cfg.EncodedSize),
		Decoder: NewFCDecoder(c, cfg.EncodedSize, cfg.SkipSize, cfg.FrameSize),
		Levels: []*LatentLevel{
			NewLatentLevel(c, cfg.Procedure, cfg.NumLatent, cfg.EncodedSize,
				cfg.StateSize),
		},
		DecoderRNN: NewLSTM(c, cfg.EncodedSize+cfg.NumLatent, cfg.StateSize,
			cfg.DecoderLayers),
		DecoderOut: anynet.Net{
			anynet.NewFC(c, cfg.StateSize, cfg.EncodedSize),
			anynet.Tanh,
		},
		OutputDist: &Normal{},
		cfg:        cfg,
		creator:    c,
		mixer:      anynet.ConcatMixer{},
	}
}

// Creator returns the vector creator the model was built
// with.
func (m *Model) Creator() anyvec.Creator {
	return m.creator
}

// Config returns the model configuration.
func (m *Model) Config() Config {
	return m.cfg
}

// encodingForm normalizes an observation for the encoder.
func (m *Model) encodingForm(obs anydiff.Res) anydiff.Res {
	return anydiff.AddScalar(obs, m.creator.MakeNumeric(-0.5))
}

// ReInit resets all recurrent state and distributions,
// encodes the first frame of a sequence, and primes the
// prior and approximate posterior from it.
func (m *Model) ReInit(frame anyvec.Vector, batch int) *Context {
	for _, level := range m.Levels {
		level.ReInit(m.creator, batch)
	}
	m.DecoderRNN.ReInit(m.creator, batch)
	m.OutputDist.Mean = nil
	m.OutputDist.LogVar = nil
	m.lastSample = nil

	ctx := &Context{Batch: batch}
	obs := anydiff.NewConst(frame)
	ctx.PrevH, ctx.PrevSkip = m.Encoder.Encode(m.encodingForm(obs), batch)
	m.primePrior(ctx)
	return ctx
}

// primePrior recomputes the prior from the previous frame
// encoding and re-seeds the approximate posterior from the
// new prior statistics.
func (m *Model) primePrior(ctx *Context) {
	m.Levels[0].Generate(ctx.PrevH, true, 1, ctx.Batch, 1)
	m.Levels[0].Latent.ReInitApproxPosterior()
}

// Infer encodes an observation and updates the approximate
// posterior over the latent variables.
func (m *Model) Infer(ctx *Context, obs anydiff.Res) {
	ctx.H, ctx.Skip = m.Encoder.Encode(m.encodingForm(obs), ctx.Batch)
	m.Levels[0].Infer(ctx.H, ctx.Batch)
}

// Generate runs the generative model forward, producing a
// sampled reconstruction or prediction.
//
// When gen is true the latent sample comes from the prior;
// otherwise it comes from the approximate posterior.
// In generative mode, posterior samples are stop-gradiented
// so that the sequence-level backward pass reaches only
// generative parameters.
func (m *Model) Generate(ctx *Context, gen bool, nSamples int) anydiff.Res {
	if ctx.PrevH == nil {
		panic("generate before re-init")
	}
	z := m.Levels[0].Generate(nil, gen, nSamples, ctx.Batch, 1)
	if m.genMode && !gen {
		z = anydiff.NewConst(z.Output().Copy())
	}
	m.lastSample = z
	m.lastN = nSamples

	rows := ctx.Batch * nSamples
	joined := m.mixer.Mix(z, Repeat(ctx.PrevH, nSamples), rows)
	g := m.DecoderRNN.Forward(joined, rows)
	g = m.DecoderOut.Apply(g, rows)

	skip := make([]anydiff.Res, len(ctx.PrevSkip))
	for i, s := range ctx.PrevSkip {
		skip[i] = Repeat(s, nSamples)
	}
	mean, logVar := m.Decoder.Decode(g, skip, rows)
	m.OutputDist.Mean = mean
	m.OutputDist.LogVar = logVar
	m.OutputDist.noise = nil
	return m.OutputDist.Sample(1, true)
}

// Step advances the recurrent state one frame: the current
// encoding becomes the previous one, the prior for the
// next frame is recomputed from it, and the approximate
// posterior is re-seeded from that prior.
func (m *Model) Step(ctx *Context) {
	if ctx.H == nil {
		panic("step without an inferred observation")
	}
	m.Levels[0].Step()
	m.DecoderRNN.Step()
	ctx.PrevH, ctx.PrevSkip = ctx.H, ctx.Skip
	ctx.H, ctx.Skip = nil, nil
	m.primePrior(ctx)
}

// Losses evaluates the variational objective against an
// observation, using the latent sample from the most
// recent Generate call.
//
// It returns the per-row free energy, conditional
// log-likelihood, and per-level KL divergences, where
// freeEnergy = -condLogLike + sum(kl).
func (m *Model) Losses(obs anydiff.Res) (freeEnergy, condLogLike anydiff.Res,
	kl []anydiff.Res) {
	if m.lastSample == nil {
		panic("losses before generate")
	}
	obsTiled := Repeat(obs, m.lastN)
	ll := m.OutputDist.LogProb(obsTiled, 1)
	condLogLike = sumRowsRes(ll, m.cfg.FrameSize)

	var klTotal anydiff.Res
	for _, level := range m.Levels {
		levelKL := level.Latent.KL(m.lastSample, m.lastN, m.genMode)
		kl = append(kl, levelKL)
		if klTotal == nil {
			klTotal = levelKL
		} else {
			klTotal = anydiff.Add(klTotal, levelKL)
		}
	}
	freeEnergy = anydiff.Sub(klTotal, condLogLike)
	return
}

// FreeEnergy evaluates the batch-averaged variational
// objective against an observation.
func (m *Model) FreeEnergy(obs anydiff.Res) anydiff.Res {
	fe, _, _ := m.Losses(obs)
	n := fe.Output().Len()
	return anydiff.Scale(anydiff.Sum(fe), m.creator.MakeNumeric(1/float64(n)))
}

// InferenceMode prepares the model for posterior
// refinement: gradients flow through the full inference
// pathway.
func (m *Model) InferenceMode() {
	m.genMode = false
}

// GenerativeMode prepares the model for the committed
// generative pass of a step: posterior samples are
// stop-gradiented so the sequence-level backward pass
// touches only generative parameters.
func (m *Model) GenerativeMode() {
	m.genMode = true
}

// Train prepares the model for a new training batch,
// starting in inference mode.
func (m *Model) Train() {
	m.genMode = false
}

// Eval prepares the model for evaluation, which runs
// entirely in inference mode.
func (m *Model) Eval() {
	m.genMode = false
}

// InferenceParameters returns the encoder parameters plus
// every level's inference parameters.
func (m *Model) InferenceParameters() []*anydiff.Var {
	res := m.Encoder.Parameters()
	for _, level := range m.Levels {
		res = append(res, level.InferenceParameters()...)
	}
	return res
}

// GenerativeParameters returns the decoder, decoder
// network, and every level's generative parameters.
func (m *Model) GenerativeParameters() []*anydiff.Var {
	res := m.Decoder.Parameters()
	for _, level := range m.Levels {
		res = append(res, level.GenerativeParameters()...)
	}
	res = append(res, m.DecoderRNN.Parameters()...)
	res = append(res, m.DecoderOut.Parameters()...)
	return res
}

// Pools returns the pooling variables for every level's
// posterior parameters.
func (m *Model) Pools() []*Pool {
	var res []*Pool
	for _, level := range m.Levels {
		res = append(res, level.Latent.Pools()...)
	}
	return res
}

// Backward back-propagates a scalar loss into g.
//
// Posterior pooling variables are registered first so that
// the gradients at the posterior cut points are recorded
// for diagnostics and then pushed onward into the
// inference parameters.
func (m *Model) Backward(loss anydiff.Res, g anydiff.Grad) {
	if loss.Output().Len() != 1 {
		panic("loss must be a scalar")
	}
	for _, pool := range m.Pools() {
		pool.Register(g)
	}
	ones := m.creator.MakeVectorData(m.creator.MakeNumericList([]float64{1}))
	loss.Propagate(ones, g)
	for _, level := range m.Levels {
		pools := level.Latent.Pools()
		meanGrad := pools[0].Flush(g)
		logVarGrad := pools[1].Flush(g)
		level.Latent.RecordGradients(meanGrad, logVarGrad)
	}
}
