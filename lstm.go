package varfilter

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
)

type lstmGate struct {
	InProj    *anynet.FC
	StateProj *anynet.FC
	Act       anynet.Layer
}

func newLSTMGate(c anyvec.Creator, in, state int, act anynet.Layer) *lstmGate {
	return &lstmGate{
		InProj:    anynet.NewFC(c, in, state),
		StateProj: anynet.NewFC(c, state, state),
		Act:       act,
	}
}

func (l *lstmGate) Apply(x, h anydiff.Res, batch int) anydiff.Res {
	sum := anydiff.Add(l.InProj.Apply(x, batch), l.StateProj.Apply(h, batch))
	return l.Act.Apply(sum, batch)
}

func (l *lstmGate) Parameters() []*anydiff.Var {
	return append(l.InProj.Parameters(), l.StateProj.Parameters()...)
}

type lstmCell struct {
	Input  *lstmGate
	Forget *lstmGate
	Output *lstmGate
	Cand   *lstmGate
}

// An LSTM is a stack of LSTM cells with explicitly managed
// recurrent state.
//
// Within one sequence step, Forward may be called any
// number of times; every call recomputes from the same
// committed state, which is what iterative inference
// refinement needs.
// Step commits the state produced by the most recent
// Forward, and ReInit resets the state for a new sequence.
//
// The committed state stays attached to the computation
// graph, so a backward pass over a whole sequence reaches
// every step's parameters.
type LSTM struct {
	cells []*lstmCell
	size  int

	batch   int
	hidden  []anydiff.Res
	cell    []anydiff.Res
	pending *lstmPending
}

type lstmPending struct {
	batch  int
	hidden []anydiff.Res
	cell   []anydiff.Res
	out    anydiff.Res
}

// NewLSTM creates an LSTM with the given input size, state
// size, and number of stacked layers.
func NewLSTM(c anyvec.Creator, in, state, layers int) *LSTM {
	if layers < 1 {
		panic("layer count must be positive")
	}
	res := &LSTM{size: state}
	for i := 0; i < layers; i++ {
		cellIn := in
		if i > 0 {
			cellIn = state
		}
		res.cells = append(res.cells, &lstmCell{
			Input:  newLSTMGate(c, cellIn, state, anynet.Sigmoid),
			Forget: newLSTMGate(c, cellIn, state, anynet.Sigmoid),
			Output: newLSTMGate(c, cellIn, state, anynet.Sigmoid),
			Cand:   newLSTMGate(c, cellIn, state, anynet.Tanh),
		})
	}
	return res
}

// ReInit resets the recurrent state to zero for a batch of
// the given size.
func (l *LSTM) ReInit(c anyvec.Creator, batch int) {
	l.batch = batch
	l.hidden = l.hidden[:0]
	l.cell = l.cell[:0]
	l.pending = nil
	for range l.cells {
		l.hidden = append(l.hidden, anydiff.NewConst(c.MakeVector(batch*l.size)))
		l.cell = append(l.cell, anydiff.NewConst(c.MakeVector(batch*l.size)))
	}
}

// Forward applies the network to an input batch, starting
// from the committed recurrent state.
//
// The batch may be an integer multiple of the committed
// batch, in which case the state is tiled along the sample
// dimension; such an expanded step cannot be committed.
func (l *LSTM) Forward(in anydiff.Res, batch int) anydiff.Res {
	if len(l.hidden) == 0 {
		panic("forward before re-init")
	}
	if batch%l.batch != 0 {
		panic("batch size is not a multiple of the state batch size")
	}
	tile := batch / l.batch

	pend := &lstmPending{batch: batch}
	x := in
	for i, cellNet := range l.cells {
		h := Repeat(l.hidden[i], tile)
		c := Repeat(l.cell[i], tile)

		inGate := cellNet.Input.Apply(x, h, batch)
		forget := cellNet.Forget.Apply(x, h, batch)
		outGate := cellNet.Output.Apply(x, h, batch)
		cand := cellNet.Cand.Apply(x, h, batch)

		newCell := anydiff.Add(anydiff.Mul(forget, c), anydiff.Mul(inGate, cand))
		newHidden := anydiff.Mul(outGate, anynet.Tanh.Apply(newCell, batch))

		pend.hidden = append(pend.hidden, newHidden)
		pend.cell = append(pend.cell, newCell)
		x = newHidden
	}
	pend.out = x
	l.pending = pend
	return x
}

// Step commits the state from the most recent Forward.
//
// It panics when no Forward has happened since the last
// commit, or when the most recent Forward used an expanded
// batch.
func (l *LSTM) Step() {
	if l.pending == nil {
		panic("step without a pending forward pass")
	}
	if l.pending.batch != l.batch {
		panic("cannot commit an expanded forward pass")
	}
	l.hidden = l.pending.hidden
	l.cell = l.pending.cell
	l.pending = nil
}

// Parameters returns the parameters of every gate in every
// layer.
func (l *LSTM) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, cell := range l.cells {
		for _, gate := range []*lstmGate{cell.Input, cell.Forget, cell.Output, cell.Cand} {
			res = append(res, gate.Parameters()...)
		}
	}
	return res
}
