package dfg

import (
	"github.com/chazu/dfgjit/pkg/bytecode"
)

// Options configure one compilation.
type Options struct {
	Inliner InlinerOptions

	// Validate runs the validator before and after phantom insertion.
	Validate         bool
	AllowUnreachable bool

	Phantoms bool
}

// DefaultOptions enables inlining with the stock heuristic, phantom
// insertion and validation.
func DefaultOptions() Options {
	return Options{
		Inliner:  DefaultInlinerOptions(),
		Validate: true,
		Phantoms: true,
	}
}

// Stats summarizes a built graph.
type Stats struct {
	Blocks    int
	Nodes     int
	Frames    int
	Phantoms  int
	Inlined   int
	VRegs     int
	Slots     int
	Constants int
}

// Stats returns the size of g.
func (g *Graph) Stats() Stats {
	s := Stats{
		Blocks:    len(g.Blocks),
		Nodes:     g.NumNodes(),
		Frames:    len(g.Frames),
		Phantoms:  g.CountKind(KindPhantom),
		VRegs:     g.totalVRegs,
		Slots:     g.totalSlots,
		Constants: len(g.consts),
	}
	for _, d := range g.Decisions {
		if d.Accepted {
			s.Inlined++
		}
	}
	return s
}

// Build translates root into a validated IR graph, inlining profiled
// monomorphic calls. Malformed input or an internal inconsistency panics
// with an *InvariantError.
func Build(prog *bytecode.Program, root *bytecode.Function, opts Options) *Graph {
	invariant(prog != nil && root != nil, "building without a program or root function")

	g := newGraph(prog, root)
	vregs := NewVRegAllocator()
	frame := newRootFrame(root, vregs)
	g.addFrame(frame)
	g.updateTotalVirtualRegisters(vregs.VectorLength())

	tr := translate(g, frame, vregs, &opts)
	invariant(len(tr.blocks) > 0 && tr.blocks[0] == tr.entry, "%s: entry block is not first", root.Name)
	g.Blocks = tr.blocks

	g.ComputeReachabilityAndPredecessors()
	if removed := g.RemoveUnreachableBlocks(); removed > 0 {
		builderLog.Debugf("%s: removed %d unreachable blocks", root.Name, removed)
	}
	for i, b := range g.Blocks {
		b.id = i
	}

	if opts.Validate {
		mustValidate(g, opts.AllowUnreachable)
	}
	if opts.Phantoms {
		InsertPhantoms(g)
		if opts.Validate {
			mustValidate(g, opts.AllowUnreachable)
		}
	}
	builderLog.Infof("built %s: %d blocks, %d nodes, %d frames", root.Name, len(g.Blocks), g.NumNodes(), len(g.Frames))
	return g
}

func mustValidate(g *Graph, allowUnreachable bool) {
	if err := Validate(g, allowUnreachable); err != nil {
		ve := err.(*ValidationError)
		panic(&InvariantError{Msg: ve.Msg + "\n" + ve.Dump})
	}
}
