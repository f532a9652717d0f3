package varfilter

import (
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/essentials"
)

func testCreator() anyvec.Creator {
	return anyvec64.DefaultCreator{}
}

func randVec(c anyvec.Creator, size int) anyvec.Vector {
	vec := c.MakeVector(size)
	anyvec.Rand(vec, anyvec.Normal, nil)
	return vec
}

func randRes(c anyvec.Creator, size int) anydiff.Res {
	return anydiff.NewConst(randVec(c, size))
}

// maxDiff computes the largest absolute difference between
// two vectors.
func maxDiff(a, b anyvec.Vector) float64 {
	diff := a.Copy()
	diff.Sub(b)
	return numericToFloat(anyvec.AbsMax(diff))
}

func assertClose(t *testing.T, actual, expected anyvec.Vector) {
	t.Helper()
	if actual.Len() != expected.Len() {
		t.Errorf("length mismatch: expected %d got %d", expected.Len(),
			actual.Len())
		return
	}
	if maxDiff(actual, expected) > 1e-4 {
		t.Errorf("value mismatch: expected %v got %v", expected.Data(),
			actual.Data())
	}
}

// assertGridsClose compares two [iteration][step] grids of
// diagnostics.
func assertGridsClose(t *testing.T, name string, actual, expected [][]float64) {
	t.Helper()
	rows := essentials.MaxInt(len(actual), len(expected))
	for i := 0; i < rows; i++ {
		if i >= len(actual) || i >= len(expected) {
			t.Errorf("%s: row count mismatch: expected %d got %d", name,
				len(expected), len(actual))
			return
		}
		cols := essentials.MaxInt(len(actual[i]), len(expected[i]))
		for j := 0; j < cols; j++ {
			if j >= len(actual[i]) || j >= len(expected[i]) {
				t.Errorf("%s: column count mismatch in row %d", name, i)
				return
			}
			diff := actual[i][j] - expected[i][j]
			if diff < -1e-4 || diff > 1e-4 {
				t.Errorf("%s: mismatch at [%d][%d]: expected %f got %f", name,
					i, j, expected[i][j], actual[i][j])
				return
			}
		}
	}
}

func testConfig() Config {
	return Config{
		FrameSize:     9,
		EncodedSize:   6,
		SkipSize:      8,
		StateSize:     10,
		NumLatent:     3,
		DecoderLayers: 2,
		Procedure:     DirectInference,
	}
}
