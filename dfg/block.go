package dfg

// BasicBlock is a straight-line node list. Only the terminator may have a
// successor count other than one.
type BasicBlock struct {
	id    int
	Nodes []*Node

	succ       [2]*BasicBlock
	numSucc    int
	terminator *Node

	Preds     []*BasicBlock
	Reachable bool

	// BytecodeAtHead is the interpreter state the block starts in. It is
	// invalid for the root entry block.
	BytecodeAtHead CodeOrigin

	// InPlaceCallRcFrameLocalOrd is set on the join block of an in-place
	// call: locals of the head frame at or above it are dead on entry.
	InPlaceCallRcFrameLocalOrd int
}

func (b *BasicBlock) ID() int { return b.id }

func (b *BasicBlock) Push(n *Node) { b.Nodes = append(b.Nodes, n) }

func (b *BasicBlock) Len() int { return len(b.Nodes) }

func (b *BasicBlock) NumSuccessors() int { return b.numSucc }

func (b *BasicBlock) SetNumSuccessors(n int) {
	invariant(n >= 0 && n <= 2, "block b%d: %d successors", b.id, n)
	b.numSucc = n
}

func (b *BasicBlock) Successor(i int) *BasicBlock {
	invariant(i < b.numSucc, "block b%d: successor %d of %d", b.id, i, b.numSucc)
	return b.succ[i]
}

func (b *BasicBlock) SetSuccessor(i int, s *BasicBlock) {
	invariant(i < b.numSucc, "block b%d: successor %d of %d", b.id, i, b.numSucc)
	b.succ[i] = s
}

// Successors returns the successor list, fallthrough first.
func (b *BasicBlock) Successors() []*BasicBlock { return b.succ[:b.numSucc] }

// Terminator returns the node ending the block. A block with one successor
// ends with its last node.
func (b *BasicBlock) Terminator() *Node {
	if b.numSucc == 1 {
		if len(b.Nodes) == 0 {
			return nil
		}
		return b.Nodes[len(b.Nodes)-1]
	}
	return b.terminator
}

func (b *BasicBlock) SetTerminator(n *Node) { b.terminator = n }

// VRegAtHead reports what interpreter slot s holds on entry to the block.
func (b *BasicBlock) VRegAtHead(s int) MappingInfo {
	o := b.BytecodeAtHead
	if !o.IsValid() {
		return DeadMapping()
	}
	f := o.Frame
	if s < f.base {
		return f.MappingBeforeBase(s)
	}
	l := s - f.base
	if l >= f.fn.NumLocals {
		return DeadMapping()
	}
	if b.InPlaceCallRcFrameLocalOrd >= 0 && l >= b.InPlaceCallRcFrameLocalOrd {
		return DeadMapping()
	}
	if f.liveness.IsLive(o.Index, BeforeUse, l) {
		return VRegMapping(f.localRegs[l])
	}
	return DeadMapping()
}

// VRegAtTail reports what slot s holds on leaving the block, as seen by the
// first successor that keeps it live.
func (b *BasicBlock) VRegAtTail(s int) MappingInfo {
	if b.numSucc == 0 {
		return DeadMapping()
	}
	m := b.succ[0].VRegAtHead(s)
	if !m.IsLive() && b.numSucc == 2 {
		m = b.succ[1].VRegAtHead(s)
	}
	return m
}
