package dfg

import (
	"fmt"

	"github.com/chazu/dfgjit/pkg/bytecode"
	"github.com/willf/bitset"
)

// PrimBlock is a bytecode-level basic block together with the set of locals
// that hold captured-variable cells at its head and tail.
type PrimBlock struct {
	Ordinal    int
	Start      int
	Terminal   int
	Successors []*PrimBlock

	CapturedAtHead  *bitset.BitSet
	CapturedAtTail  *bitset.BitSet
	CapturedInBlock *bitset.BitSet

	// closeLimit is the upvalue-close start of the terminal, or the local
	// count when the block does not close upvalues.
	closeLimit int
}

func (b *PrimBlock) NumBytecodes() int { return b.Terminal - b.Start + 1 }

// ControlFlowInfo is the block structure of one function.
type ControlFlowInfo struct {
	Function *bytecode.Function
	Blocks   []*PrimBlock

	byStart map[int]*PrimBlock
}

// BlockAt returns the block starting at bytecode start, if any.
func (c *ControlFlowInfo) BlockAt(start int) (*PrimBlock, bool) {
	b, ok := c.byStart[start]
	return b, ok
}

// AnalyzeControlFlow splits the function into blocks and computes which
// locals are captured at every block boundary.
func AnalyzeControlFlow(dec *bytecode.Decoder) *ControlFlowInfo {
	fn := dec.Function()
	n := dec.Len()
	numLocals := fn.NumLocals

	isStart := make([]bool, n+1)
	isStart[0] = true
	for i := 0; i < n; i++ {
		if dec.IsBarrier(i) || dec.MayBranch(i) {
			isStart[i+1] = true
		}
		if dec.MayBranch(i) {
			isStart[dec.BranchTarget(i)] = true
		}
	}

	cfi := &ControlFlowInfo{Function: fn, byStart: make(map[int]*PrimBlock)}

	var visit func(start int) *PrimBlock
	visit = func(start int) *PrimBlock {
		if b, ok := cfi.byStart[start]; ok {
			return b
		}
		term := start
		for term < n-1 && !isStart[term+1] {
			term++
		}
		b := &PrimBlock{
			Ordinal:         len(cfi.Blocks),
			Start:           start,
			Terminal:        term,
			CapturedAtHead:  newLocalSet(numLocals),
			CapturedAtTail:  newLocalSet(numLocals),
			CapturedInBlock: newLocalSet(numLocals),
			closeLimit:      numLocals,
		}
		cfi.Blocks = append(cfi.Blocks, b)
		cfi.byStart[start] = b

		var succ []int
		if !dec.IsBarrier(term) {
			invariant(term+1 < n, "%s falls off the end at %d", fn.Name, term)
			succ = append(succ, term+1)
		}
		if dec.MayBranch(term) {
			succ = append(succ, dec.BranchTarget(term))
		}
		for _, s := range succ {
			b.Successors = append(b.Successors, visit(s))
		}
		return b
	}
	visit(0)

	for _, b := range cfi.Blocks {
		for i := b.Start; i <= b.Terminal; i++ {
			in := dec.Intrinsic(i)
			if in.Kind != bytecode.IntrinsicCreateClosure {
				continue
			}
			for _, uv := range in.Proto.Upvalues {
				if uv.ParentLocal && !uv.Immutable {
					bitSet(b.CapturedInBlock, uv.Slot)
				}
			}
		}
		if in := dec.Intrinsic(b.Terminal); in.Kind == bytecode.IntrinsicUpvalueClose {
			b.closeLimit = in.Start
		}
	}

	cfi.propagate()

	for _, b := range cfi.Blocks {
		if len(b.Successors) == 0 {
			invariant(b.CapturedAtTail.None(), "%s: locals %v still captured at exit block %d",
				fn.Name, members(b.CapturedAtTail), b.Start)
		}
	}
	return cfi
}

func (b *PrimBlock) computeTail(numLocals int) *bitset.BitSet {
	tail := b.CapturedAtHead.Union(b.CapturedInBlock)
	clearFrom(tail, b.closeLimit, numLocals)
	return tail
}

// propagate runs the forward fixpoint over all blocks.
func (c *ControlFlowInfo) propagate() {
	numLocals := c.Function.NumLocals
	queue := append([]*PrimBlock(nil), c.Blocks...)
	queued := make([]bool, len(c.Blocks))
	for i := range queued {
		queued[i] = true
	}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		queued[b.Ordinal] = false

		b.CapturedAtTail = b.computeTail(numLocals)
		for _, s := range b.Successors {
			head := s.CapturedAtHead.Union(b.CapturedAtTail)
			if head.Equal(s.CapturedAtHead) {
				continue
			}
			s.CapturedAtHead = head
			if !queued[s.Ordinal] {
				queued[s.Ordinal] = true
				queue = append(queue, s)
			}
		}
	}
}

// Verify checks that the capture sets are a fixpoint: every head is the
// union of its predecessors' tails and every tail follows from its head.
func (c *ControlFlowInfo) Verify() error {
	numLocals := c.Function.NumLocals
	heads := make([]*bitset.BitSet, len(c.Blocks))
	for i := range heads {
		heads[i] = newLocalSet(numLocals)
	}
	for _, b := range c.Blocks {
		tail := b.computeTail(numLocals)
		if !tail.Equal(b.CapturedAtTail) {
			return fmt.Errorf("dfg: %s block %d: captured-at-tail %v, recomputed %v",
				c.Function.Name, b.Start, members(b.CapturedAtTail), members(tail))
		}
		for _, s := range b.Successors {
			heads[s.Ordinal].InPlaceUnion(tail)
		}
	}
	for _, b := range c.Blocks {
		if !heads[b.Ordinal].Equal(b.CapturedAtHead) {
			return fmt.Errorf("dfg: %s block %d: captured-at-head %v, predecessors give %v",
				c.Function.Name, b.Start, members(b.CapturedAtHead), members(heads[b.Ordinal]))
		}
	}
	return nil
}
