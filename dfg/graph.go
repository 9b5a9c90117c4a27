package dfg

import (
	"github.com/chazu/dfgjit/pkg/bytecode"
)

type constKey struct {
	kind  NodeKind
	value bytecode.Value
	raw   uint64
}

// Graph is the IR of one compilation: blocks in order with the entry first,
// the deduplicated constant-like nodes, and every inlined frame.
type Graph struct {
	Blocks []*BasicBlock
	Frames []*InlinedCallFrame

	// Decisions records every inlining decision in the order it was taken.
	Decisions []Decision

	prog   *bytecode.Program
	root   *bytecode.Function
	consts map[constKey]*Node

	totalVRegs int
	totalSlots int

	nextNode  int
	nextBlock int
}

func newGraph(prog *bytecode.Program, root *bytecode.Function) *Graph {
	return &Graph{
		prog:       prog,
		root:       root,
		consts:     make(map[constKey]*Node),
		totalSlots: root.NumLocals,
	}
}

// Root returns the function being compiled.
func (g *Graph) Root() *bytecode.Function { return g.root }

// Program returns the program the root belongs to.
func (g *Graph) Program() *bytecode.Program { return g.prog }

func (g *Graph) newNode(kind NodeKind) *Node {
	n := &Node{id: g.nextNode, Kind: kind}
	g.nextNode++
	return n
}

func (g *Graph) newBlock() *BasicBlock {
	b := &BasicBlock{id: g.nextBlock, InPlaceCallRcFrameLocalOrd: -1}
	g.nextBlock++
	return b
}

func (g *Graph) addFrame(f *InlinedCallFrame) {
	f.ordinal = len(g.Frames)
	g.Frames = append(g.Frames, f)
}

func (g *Graph) constant(key constKey, init func(*Node)) Value {
	if n, ok := g.consts[key]; ok {
		return n.Out(0)
	}
	n := g.newNode(key.kind)
	n.HasDirectOutput = true
	init(n)
	g.consts[key] = n
	return n.Out(0)
}

// Constant returns the boxed constant v.
func (g *Graph) Constant(v bytecode.Value) Value {
	return g.constant(constKey{kind: KindConstant, value: v}, func(n *Node) { n.Const = v })
}

// UnboxedConstant returns the raw 64-bit constant u.
func (g *Graph) UnboxedConstant(u uint64) Value {
	return g.constant(constKey{kind: KindUnboxedConstant, raw: u}, func(n *Node) { n.Unboxed = u })
}

// UndefValue returns the placeholder for slots with no meaningful value.
func (g *Graph) UndefValue() Value {
	return g.constant(constKey{kind: KindUndefValue}, func(*Node) {})
}

// Argument returns fixed argument i of the root function.
func (g *Graph) Argument(i int) Value {
	return g.constant(constKey{kind: KindArgument, raw: uint64(i)}, func(n *Node) { n.Param = int64(i) })
}

// FunctionObject returns the root function object.
func (g *Graph) FunctionObject() Value {
	return g.constant(constKey{kind: KindGetFunctionObject}, func(*Node) {})
}

// NumVarArgs returns the vararg count of the root function.
func (g *Graph) NumVarArgs() Value {
	return g.constant(constKey{kind: KindGetNumVariadicArgs}, func(*Node) {})
}

// KthVarArg returns vararg k of the root function.
func (g *Graph) KthVarArg(k int) Value {
	return g.constant(constKey{kind: KindGetKthVariadicArg, raw: uint64(k)}, func(n *Node) { n.Param = int64(k) })
}

// NumConstants returns the number of distinct constant-like nodes.
func (g *Graph) NumConstants() int { return len(g.consts) }

func (g *Graph) updateTotalVirtualRegisters(n int) {
	if n > g.totalVRegs {
		g.totalVRegs = n
	}
}

func (g *Graph) updateTotalInterpreterSlots(n int) {
	if n > g.totalSlots {
		g.totalSlots = n
	}
}

// TotalVirtualRegisters is the register vector length the backend must
// provide.
func (g *Graph) TotalVirtualRegisters() int { return g.totalVRegs }

// TotalInterpreterSlots is the interpreter frame size an OSR exit may need.
func (g *Graph) TotalInterpreterSlots() int { return g.totalSlots }

// NumNodes counts the nodes placed in blocks.
func (g *Graph) NumNodes() int {
	n := 0
	for _, b := range g.Blocks {
		n += len(b.Nodes)
	}
	return n
}

// CountKind counts block nodes of the given kind.
func (g *Graph) CountKind(k NodeKind) int {
	n := 0
	for _, b := range g.Blocks {
		for _, nd := range b.Nodes {
			if nd.Kind == k {
				n++
			}
		}
	}
	return n
}

// ComputeReachabilityAndPredecessors marks the blocks reachable from the
// entry and rebuilds their predecessor lists.
func (g *Graph) ComputeReachabilityAndPredecessors() {
	for _, b := range g.Blocks {
		b.Reachable = false
		b.Preds = b.Preds[:0]
	}
	if len(g.Blocks) == 0 {
		return
	}
	entry := g.Blocks[0]
	entry.Reachable = true
	queue := []*BasicBlock{entry}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		for _, s := range b.Successors() {
			s.Preds = append(s.Preds, b)
			if !s.Reachable {
				s.Reachable = true
				queue = append(queue, s)
			}
		}
	}
}

// RemoveUnreachableBlocks drops blocks not marked reachable.
func (g *Graph) RemoveUnreachableBlocks() int {
	kept := g.Blocks[:0]
	removed := 0
	for _, b := range g.Blocks {
		if b.Reachable {
			kept = append(kept, b)
		} else {
			removed++
		}
	}
	for i := len(kept); i < len(g.Blocks); i++ {
		g.Blocks[i] = nil
	}
	g.Blocks = kept
	return removed
}
