package dfg

import (
	"sort"

	"github.com/chazu/dfgjit/pkg/bytecode"
	"github.com/willf/bitset"
)

// LivenessPoint selects the liveness before or after a bytecode's uses.
type LivenessPoint uint8

const (
	BeforeUse LivenessPoint = iota
	AfterUse
)

// BytecodeLiveness holds, for every bytecode of a function, the locals live
// before its reads and after them.
type BytecodeLiveness struct {
	numLocals int
	before    []*bitset.BitSet
	after     []*bitset.BitSet
}

// IsLive reports whether local l is live at the given point of bytecode idx.
func (bl *BytecodeLiveness) IsLive(idx int, point LivenessPoint, l int) bool {
	if idx < 0 || idx >= len(bl.before) || l < 0 || l >= bl.numLocals {
		return false
	}
	if point == BeforeUse {
		return bitTest(bl.before[idx], l)
	}
	return bitTest(bl.after[idx], l)
}

// Live returns the live set at a point. The result must not be modified.
func (bl *BytecodeLiveness) Live(idx int, point LivenessPoint) *bitset.BitSet {
	if point == BeforeUse {
		return bl.before[idx]
	}
	return bl.after[idx]
}

type useDef struct {
	uses []int
	defs []int
}

type blockLiveness struct {
	trace []useDef

	andMask *bitset.BitSet
	orMask  *bitset.BitSet
	head    *bitset.BitSet
	tail    *bitset.BitSet

	lastChanged int
	lastChecked int
}

// traceBlock records the uses and defs of every bytecode in b, tracking
// which locals hold cells as it goes.
func traceBlock(dec *bytecode.Decoder, b *PrimBlock) []useDef {
	numLocals := dec.Function().NumLocals
	captured := b.CapturedAtHead.Clone()
	trace := make([]useDef, 0, b.NumBytecodes())

	for i := b.Start; i <= b.Terminal; i++ {
		var ud useDef
		in := dec.Intrinsic(i)
		switch in.Kind {
		case bytecode.IntrinsicCreateClosure:
			for _, uv := range in.Proto.Upvalues {
				if !uv.ParentLocal {
					continue
				}
				if uv.Slot == in.Dest {
					if !uv.Immutable && bitTest(captured, uv.Slot) {
						ud.uses = append(ud.uses, uv.Slot)
					}
					continue
				}
				ud.uses = append(ud.uses, uv.Slot)
			}
			for _, uv := range in.Proto.Upvalues {
				if uv.ParentLocal && !uv.Immutable && !bitTest(captured, uv.Slot) {
					bitSet(captured, uv.Slot)
					ud.defs = append(ud.defs, uv.Slot)
				}
			}
			if !bitTest(captured, in.Dest) {
				ud.defs = append(ud.defs, in.Dest)
			}

		case bytecode.IntrinsicUpvalueClose:
			for l := in.Start; l < numLocals; l++ {
				if bitTest(captured, l) {
					ud.uses = append(ud.uses, l)
					ud.defs = append(ud.defs, l)
					bitClear(captured, l)
				}
			}

		default:
			for _, op := range dec.ReadInfo(i) {
				switch op.Kind {
				case bytecode.OperandLocal:
					ud.uses = append(ud.uses, op.Local)
				case bytecode.OperandRange:
					for l := op.Start; l < op.Start+op.Len; l++ {
						ud.uses = append(ud.uses, l)
					}
				}
			}
			for _, op := range dec.WriteInfo(i) {
				switch op.Kind {
				case bytecode.OperandLocal:
					if !bitTest(captured, op.Local) {
						ud.defs = append(ud.defs, op.Local)
					}
				case bytecode.OperandRange:
					for l := op.Start; l < op.Start+op.Len; l++ {
						if !bitTest(captured, l) {
							ud.defs = append(ud.defs, l)
						}
					}
				}
			}
		}
		trace = append(trace, ud)
	}
	return trace
}

// transfer computes the live set before one bytecode from the set after it.
func (ud useDef) transfer(live *bitset.BitSet) {
	for _, l := range ud.defs {
		bitClear(live, l)
	}
	for _, l := range ud.uses {
		bitSet(live, l)
	}
}

// headFrom runs the block trace backward from tail.
func (bl *blockLiveness) headFrom(tail *bitset.BitSet) *bitset.BitSet {
	live := tail.Clone()
	for i := len(bl.trace) - 1; i >= 0; i-- {
		bl.trace[i].transfer(live)
	}
	return live
}

// ComputeLiveness runs the backward liveness fixpoint over the blocks of cfi
// and expands the result to every bytecode.
func ComputeLiveness(dec *bytecode.Decoder, cfi *ControlFlowInfo) *BytecodeLiveness {
	numLocals := dec.Function().NumLocals
	n := dec.Len()

	info := make([]*blockLiveness, len(cfi.Blocks))
	hasPred := make([]bool, len(cfi.Blocks))
	for _, b := range cfi.Blocks {
		bl := &blockLiveness{trace: traceBlock(dec, b), lastChanged: -1}
		full := newLocalSet(numLocals)
		for l := 0; l < numLocals; l++ {
			bitSet(full, l)
		}
		bl.orMask = bl.headFrom(newLocalSet(numLocals))
		// Bits that survive an all-ones tail but are not forced by the OR
		// mask pass straight through the block.
		bl.andMask = bl.headFrom(full).Difference(bl.orMask)
		bl.head = newLocalSet(numLocals)
		bl.tail = newLocalSet(numLocals)
		info[b.Ordinal] = bl
		for _, s := range b.Successors {
			hasPred[s.Ordinal] = true
		}
	}

	order := append([]*PrimBlock(nil), cfi.Blocks...)
	sort.Slice(order, func(i, j int) bool { return order[i].Start > order[j].Start })

	for epoch, first := 1, true; ; epoch, first = epoch+1, false {
		again := false
		for _, b := range order {
			bl := info[b.Ordinal]
			check := first
			for _, s := range b.Successors {
				if info[s.Ordinal].lastChanged >= bl.lastChecked {
					check = true
				}
			}
			if !check {
				continue
			}
			bl.lastChecked = epoch

			tail := newLocalSet(numLocals)
			for _, s := range b.Successors {
				tail.InPlaceUnion(info[s.Ordinal].head)
			}
			bl.tail = tail
			head := tail.Intersection(bl.andMask)
			head.InPlaceUnion(bl.orMask)
			if !head.Equal(bl.head) {
				bl.head = head
				bl.lastChanged = epoch
				if hasPred[b.Ordinal] {
					again = true
				}
			}
		}
		if !again {
			break
		}
	}

	out := &BytecodeLiveness{
		numLocals: numLocals,
		before:    make([]*bitset.BitSet, n),
		after:     make([]*bitset.BitSet, n),
	}
	for _, b := range cfi.Blocks {
		bl := info[b.Ordinal]
		live := bl.tail.Clone()
		for i := len(bl.trace) - 1; i >= 0; i-- {
			idx := b.Start + i
			for _, l := range bl.trace[i].defs {
				bitClear(live, l)
			}
			out.after[idx] = live.Clone()
			for _, l := range bl.trace[i].uses {
				bitSet(live, l)
			}
			out.before[idx] = live.Clone()
		}
	}
	for i := 0; i < n; i++ {
		if out.before[i] == nil {
			out.before[i] = newLocalSet(numLocals)
			out.after[i] = newLocalSet(numLocals)
		}
	}
	return out
}
