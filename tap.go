package varfilter

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A Pool inserts a pooling variable at a cut point of a
// computation graph.
//
// The pool variable stands in for the source result, so a
// backward pass deposits the gradient at the cut point
// into the variable's gradient slot.
// That gradient can then be inspected (e.g. for posterior
// gradient diagnostics) and fed back into the source so
// that propagation continues into the parameters beneath
// the cut.
//
// A Pool with a nil Src represents a detached value, such
// as a posterior that was re-seeded from prior statistics:
// the cut-point gradient is still recorded, but nothing is
// propagated further.
type Pool struct {
	V   *anydiff.Var
	Src anydiff.Res
}

// NewPool creates a Pool whose variable holds the current
// output of src.
func NewPool(src anydiff.Res) *Pool {
	return &Pool{V: anydiff.NewVar(src.Output()), Src: src}
}

// NewConstPool creates a detached Pool holding vec.
func NewConstPool(vec anyvec.Vector) *Pool {
	return &Pool{V: anydiff.NewVar(vec)}
}

// Register adds the pool variable to a gradient with a
// zero entry so that back-propagation descends through
// subgraphs containing the variable.
func (p *Pool) Register(g anydiff.Grad) {
	if _, ok := g[p.V]; !ok {
		g[p.V] = p.V.Vector.Creator().MakeVector(p.V.Vector.Len())
	}
}

// Flush extracts the cut-point gradient from g, continues
// propagation into the source (when one exists), and
// removes the pool variable from g.
//
// It returns the cut-point gradient, or nil if the pool
// variable was never registered.
func (p *Pool) Flush(g anydiff.Grad) anyvec.Vector {
	upstream, ok := g[p.V]
	if !ok {
		return nil
	}
	delete(g, p.V)
	if p.Src != nil {
		p.Src.Propagate(upstream.Copy(), g)
	}
	return upstream
}
