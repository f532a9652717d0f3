package varfilter

import (
	"testing"
)

func TestLSTMRecomputeWithinStep(t *testing.T) {
	c := testCreator()
	rnn := NewLSTM(c, 4, 6, 2)
	rnn.ReInit(c, 3)

	in := randRes(c, 3*4)
	out1 := rnn.Forward(in, 3)
	out2 := rnn.Forward(in, 3)
	assertClose(t, out2.Output(), out1.Output())

	rnn.Step()
	out3 := rnn.Forward(in, 3)
	if maxDiff(out3.Output(), out1.Output()) < 1e-8 {
		t.Error("committed state did not change the output")
	}

	rnn.Step()
	rnn.ReInit(c, 3)
	out4 := rnn.Forward(in, 3)
	assertClose(t, out4.Output(), out1.Output())
}

func TestLSTMExpandedBatch(t *testing.T) {
	c := testCreator()
	rnn := NewLSTM(c, 4, 6, 1)
	rnn.ReInit(c, 2)

	out := rnn.Forward(randRes(c, 3*2*4), 6)
	if out.Output().Len() != 6*6 {
		t.Fatalf("expected %d components, got %d", 6*6, out.Output().Len())
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic committing an expanded pass")
		}
	}()
	rnn.Step()
}

func TestLSTMStepWithoutForward(t *testing.T) {
	c := testCreator()
	rnn := NewLSTM(c, 4, 6, 1)
	rnn.ReInit(c, 2)
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	rnn.Step()
}
