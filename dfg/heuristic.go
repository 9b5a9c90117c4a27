package dfg

import (
	"fmt"
	"math"

	"github.com/chazu/dfgjit/pkg/bytecode"
)

// InlinerOptions are the knobs of the inlining heuristic.
type InlinerOptions struct {
	Enabled bool

	// A root function with at least RootCutoff bytecodes gets no budget.
	RootCutoff int

	// Bytecode budgets, by the kind of frame doing the inlining.
	RootBudget    int
	DirectBudget  int
	ClosureBudget int

	// MaxDepth bounds the frames from the caller up to and including the
	// root; MaxRecursion bounds how often one function may appear among them.
	MaxDepth     int
	MaxRecursion int

	// MaxFrames caps the frames of one compilation, root included.
	MaxFrames int
}

// DefaultInlinerOptions returns the stock heuristic.
func DefaultInlinerOptions() InlinerOptions {
	return InlinerOptions{
		Enabled:       true,
		RootCutoff:    5000,
		RootBudget:    120,
		DirectBudget:  90,
		ClosureBudget: 75,
		MaxDepth:      4,
		MaxRecursion:  1,
		MaxFrames:     200,
	}
}

const infiniteCost = math.MaxInt

// Decision records one inlining decision at a call bytecode.
type Decision struct {
	Caller   string
	Frame    int
	Index    int
	Site     int
	Callee   string
	Accepted bool
	Reason   string
	Cost     int
}

func (d Decision) String() string {
	verdict := "declined"
	if d.Accepted {
		verdict = "inlined"
	}
	callee := d.Callee
	if callee == "" {
		callee = "?"
	}
	return fmt.Sprintf("%s@%d -> %s: %s (%s)", d.Caller, d.Index, callee, verdict, d.Reason)
}

func initialBudget(f *InlinedCallFrame, o *InlinerOptions) int {
	switch {
	case f.root:
		if f.fn.NumBytecodes() >= o.RootCutoff {
			return 0
		}
		return o.RootBudget
	case f.direct:
		return o.DirectBudget
	}
	return o.ClosureBudget
}

// pickMonomorphicSite returns the only call site with exactly one observed
// target. Sites that never saw a call are ignored.
func pickMonomorphicSite(sites []bytecode.CallSite) (int, string) {
	pick := -1
	for i := range sites {
		s := &sites[i]
		if s.ObservedNoTarget() {
			continue
		}
		if !s.ObservedExactlyOneTarget() {
			return -1, fmt.Sprintf("site %d is %s", i, s.State)
		}
		if pick >= 0 {
			return -1, "more than one monomorphic site"
		}
		pick = i
	}
	if pick < 0 {
		return -1, "no observed target"
	}
	return pick, ""
}

// inliningCost is the callee's bytecode count, or infiniteCost when it does
// not fit the budget or the caller chain is too deep or too recursive.
func inliningCost(caller *InlinedCallFrame, callee *bytecode.Function, budget int, o *InlinerOptions) (int, string) {
	n := callee.NumBytecodes()
	if n > budget {
		return infiniteCost, fmt.Sprintf("%d bytecodes over budget %d", n, budget)
	}
	depth, recursion := 0, 0
	for f := caller; f != nil; f = f.caller {
		depth++
		if f.fn == callee {
			recursion++
		}
	}
	if depth > o.MaxDepth {
		return infiniteCost, fmt.Sprintf("depth %d over %d", depth, o.MaxDepth)
	}
	if recursion > o.MaxRecursion {
		return infiniteCost, fmt.Sprintf("recursion %d over %d", recursion, o.MaxRecursion)
	}
	return n, ""
}
