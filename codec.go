package varfilter

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
)

// FCEncoder is a fully connected Encoder reference
// implementation.
//
// Its hidden activation doubles as the skip connection
// handed to the decoder.
type FCEncoder struct {
	Hidden anynet.Net
	Out    anynet.Net
}

// NewFCEncoder creates an encoder mapping frames of size
// frameSize to features of size outSize through a hidden
// layer of size skipSize.
func NewFCEncoder(c anyvec.Creator, frameSize, skipSize, outSize int) *FCEncoder {
	return &FCEncoder{
		Hidden: anynet.Net{anynet.NewFC(c, frameSize, skipSize), anynet.Tanh},
		Out:    anynet.Net{anynet.NewFC(c, skipSize, outSize), anynet.Tanh},
	}
}

// Encode produces features and one skip connection.
func (f *FCEncoder) Encode(obs anydiff.Res, batch int) (anydiff.Res, []anydiff.Res) {
	hidden := f.Hidden.Apply(obs, batch)
	return f.Out.Apply(hidden, batch), []anydiff.Res{hidden}
}

// Parameters returns the encoder parameters.
func (f *FCEncoder) Parameters() []*anydiff.Var {
	return anynet.AllParameters(f.Hidden, f.Out)
}

// FCDecoder is a fully connected Decoder reference
// implementation.
//
// The decoded features are joined with the skip connection
// and mapped to separate observation mean and log-variance
// heads.
type FCDecoder struct {
	Mixer      anynet.Mixer
	Body       anynet.Net
	MeanHead   *anynet.FC
	LogVarHead *anynet.FC
}

// NewFCDecoder creates a decoder mapping features of size
// inSize (plus a skip connection of size skipSize) to
// frames of size frameSize.
func NewFCDecoder(c anyvec.Creator, inSize, skipSize, frameSize int) *FCDecoder {
	return &FCDecoder{
		Mixer: anynet.ConcatMixer{},
		Body: anynet.Net{
			anynet.NewFC(c, inSize+skipSize, skipSize),
			anynet.Tanh,
		},
		MeanHead:   anynet.NewFC(c, skipSize, frameSize),
		LogVarHead: anynet.NewFC(c, skipSize, frameSize),
	}
}

// Decode produces the observation mean and log-variance.
func (f *FCDecoder) Decode(features anydiff.Res, skip []anydiff.Res,
	batch int) (mean, logVar anydiff.Res) {
	in := features
	if len(skip) > 0 {
		in = f.Mixer.Mix(features, skip[0], batch)
	}
	body := f.Body.Apply(in, batch)
	return f.MeanHead.Apply(body, batch), f.LogVarHead.Apply(body, batch)
}

// Parameters returns the decoder parameters.
func (f *FCDecoder) Parameters() []*anydiff.Var {
	return anynet.AllParameters(f.Body, f.MeanHead, f.LogVarHead)
}
