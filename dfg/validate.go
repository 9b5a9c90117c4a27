package dfg

import (
	"fmt"
)

// ValidationError describes the first structural violation found in a graph.
type ValidationError struct {
	Msg  string
	Dump string
}

func (e *ValidationError) Error() string {
	return "dfg: invalid graph: " + e.Msg
}

// Validate checks the structural invariants of g: block shape, node
// placement, the variadic-result chain of every block, and control flow.
// Unreachable blocks are an error unless allowUnreachable is set.
func Validate(g *Graph, allowUnreachable bool) error {
	if err := validate(g, allowUnreachable); err != "" {
		return &ValidationError{Msg: err, Dump: Dump(g)}
	}
	return nil
}

func validate(g *Graph, allowUnreachable bool) string {
	if len(g.Blocks) == 0 {
		return "graph has no blocks"
	}
	inGraph := make(map[*BasicBlock]bool, len(g.Blocks))
	for _, b := range g.Blocks {
		inGraph[b] = true
	}
	seen := make(map[*Node]bool)

	for _, b := range g.Blocks {
		if len(b.Nodes) == 0 {
			return fmt.Sprintf("b%d is empty", b.id)
		}
		term := b.Terminator()
		if term == nil {
			return fmt.Sprintf("b%d has no terminator", b.id)
		}
		termIdx := -1
		for i, n := range b.Nodes {
			if n == term {
				termIdx = i
				break
			}
		}
		if termIdx < 0 {
			return fmt.Sprintf("b%d: terminator n%d is not in the block", b.id, term.id)
		}
		for _, n := range b.Nodes {
			if n != term && n.NumSuccessors() != 1 {
				return fmt.Sprintf("b%d: n%d (%s) has %d successors but does not end the block", b.id, n.id, n.Name(), n.NumSuccessors())
			}
			if n.Kind == KindReturn && n.NumSuccessors() != 0 {
				return fmt.Sprintf("b%d: return n%d has %d successors", b.id, n.id, n.NumSuccessors())
			}
		}
		if term.NumSuccessors() != b.numSucc {
			return fmt.Sprintf("b%d: terminator n%d (%s) has %d successors, block has %d", b.id, term.id, term.Name(), term.NumSuccessors(), b.numSucc)
		}
		if b.numSucc <= 1 && termIdx != len(b.Nodes)-1 {
			return fmt.Sprintf("b%d: terminator n%d is not the last node", b.id, term.id)
		}

		pos := make(map[*Node]int, len(b.Nodes))
		var curVR *Node
		seenGen := false
		for i, n := range b.Nodes {
			if n.IsConstantLike() {
				return fmt.Sprintf("b%d: constant-like n%d (%s) placed in a block", b.id, n.id, n.Name())
			}
			if seen[n] {
				return fmt.Sprintf("n%d (%s) appears more than once", n.id, n.Name())
			}
			seen[n] = true
			pos[n] = i

			if n.Has(FlagMayOsrExit) && !n.Has(FlagExitOK) {
				return fmt.Sprintf("b%d: n%d (%s) may exit but exits are not allowed there", b.id, n.id, n.Name())
			}
			for _, in := range n.Inputs {
				if in.Node == nil {
					return fmt.Sprintf("b%d: n%d (%s) has a nil input", b.id, n.id, n.Name())
				}
				if !in.Node.IsConstantLike() {
					if p, ok := pos[in.Node]; !ok || p >= i {
						return fmt.Sprintf("b%d: n%d (%s) uses %v, which is not an earlier node of the block", b.id, n.id, n.Name(), in)
					}
				}
				if !in.Node.HasOutput(in.Ord) {
					return fmt.Sprintf("b%d: n%d (%s) uses missing output %v", b.id, n.id, n.Name(), in)
				}
			}

			if n.Has(FlagAccessesVR) {
				if curVR == nil {
					if seenGen || n.Kind != KindPrependVariadicRes || len(n.Inputs) != 0 || n.VRInput != nil {
						return fmt.Sprintf("b%d: n%d (%s) reads variadic results that are not available", b.id, n.id, n.Name())
					}
				} else if n.VRInput != curVR {
					return fmt.Sprintf("b%d: n%d (%s) reads variadic results of %s, current generator is n%d",
						b.id, n.id, n.Name(), vrName(n.VRInput), curVR.id)
				}
			}
			if n.Has(FlagClobbersVR) {
				curVR = nil
			}
			if n.Has(FlagGeneratesVR) {
				curVR = n
				seenGen = true
			}
		}

		for i, s := range b.Successors() {
			if s == nil {
				return fmt.Sprintf("b%d: successor %d is nil", b.id, i)
			}
			if !inGraph[s] {
				return fmt.Sprintf("b%d: successor b%d is not in the graph", b.id, s.id)
			}
			if s == g.Blocks[0] {
				return fmt.Sprintf("b%d: branches to the entry block", b.id)
			}
		}
	}

	if !allowUnreachable {
		reached := map[*BasicBlock]bool{g.Blocks[0]: true}
		queue := []*BasicBlock{g.Blocks[0]}
		for len(queue) > 0 {
			b := queue[0]
			queue = queue[1:]
			for _, s := range b.Successors() {
				if !reached[s] {
					reached[s] = true
					queue = append(queue, s)
				}
			}
		}
		for _, b := range g.Blocks {
			if !reached[b] {
				return fmt.Sprintf("b%d is unreachable", b.id)
			}
		}
	}
	return ""
}

func vrName(n *Node) string {
	if n == nil {
		return "<none>"
	}
	return fmt.Sprintf("n%d", n.id)
}
