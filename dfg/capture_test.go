package dfg

import (
	"testing"

	"github.com/chazu/dfgjit/pkg/bytecode"
)

func analyze(t *testing.T, p *bytecode.Program, name string) *ControlFlowInfo {
	t.Helper()
	cfi := AnalyzeControlFlow(bytecode.NewDecoder(p, mustLookup(t, p, name)))
	if err := cfi.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	checkPartition(t, cfi)
	return cfi
}

// checkPartition fails t unless the blocks cover every bytecode exactly
// once. Fixtures carry no dead code, so every bytecode is reachable.
func checkPartition(t *testing.T, cfi *ControlFlowInfo) {
	t.Helper()
	owner := make([]int, cfi.Function.NumBytecodes())
	for i := range owner {
		owner[i] = -1
	}
	for bi, b := range cfi.Blocks {
		if b.Start > b.Terminal {
			t.Errorf("block %d starts at %d after its terminal %d", bi, b.Start, b.Terminal)
			continue
		}
		for i := b.Start; i <= b.Terminal; i++ {
			if i < 0 || i >= len(owner) {
				t.Errorf("block %d covers bytecode %d outside the function", bi, i)
				continue
			}
			if owner[i] >= 0 {
				t.Errorf("bytecode %d is in blocks %d and %d", i, owner[i], bi)
			}
			owner[i] = bi
		}
		if got, ok := cfi.BlockAt(b.Start); !ok || got != b {
			t.Errorf("BlockAt(%d) does not find block %d", b.Start, bi)
		}
	}
	for i, o := range owner {
		if o < 0 {
			t.Errorf("bytecode %d is in no block", i)
		}
	}
}

func TestBlocksPartitionBytecode(t *testing.T) {
	counter, inc := counterFns()
	tests := []struct {
		root string
		fns  []*bytecode.FunctionBuilder
	}{
		{"add", []*bytecode.FunctionBuilder{addFn()}},
		{"twoexits", []*bytecode.FunctionBuilder{twoExitsFn()}},
		{"loop", []*bytecode.FunctionBuilder{loopFn()}},
		{"counter", []*bytecode.FunctionBuilder{counter, inc}},
		{"main", []*bytecode.FunctionBuilder{inPlaceCaller(bytecode.Direct("f", 7)), identityFn("f")}},
		{"rec", []*bytecode.FunctionBuilder{recursiveFn()}},
	}
	for _, tt := range tests {
		t.Run(tt.root, func(t *testing.T) {
			analyze(t, newProgram(t, tt.fns...), tt.root)
		})
	}
}

func TestControlFlowStraightLine(t *testing.T) {
	p := newProgram(t, addFn())
	cfi := analyze(t, p, "add")

	if len(cfi.Blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(cfi.Blocks))
	}
	b := cfi.Blocks[0]
	if b.Start != 0 || b.Terminal != 1 || len(b.Successors) != 0 {
		t.Errorf("block = [%d, %d] with %d successors, want [0, 1] with none", b.Start, b.Terminal, len(b.Successors))
	}
	if !b.CapturedAtHead.None() || !b.CapturedAtTail.None() || !b.CapturedInBlock.None() {
		t.Error("straight-line function should capture nothing")
	}
}

func TestControlFlowLoop(t *testing.T) {
	p := newProgram(t, loopFn())
	cfi := analyze(t, p, "loop")

	tests := []struct {
		start, terminal int
		succs           []int
	}{
		{0, 0, []int{1}},
		{1, 2, []int{3, 1}},
		{3, 3, nil},
	}
	if len(cfi.Blocks) != len(tests) {
		t.Fatalf("got %d blocks, want %d", len(cfi.Blocks), len(tests))
	}
	for _, tt := range tests {
		b, ok := cfi.BlockAt(tt.start)
		if !ok {
			t.Fatalf("no block starts at %d", tt.start)
		}
		if b.Terminal != tt.terminal {
			t.Errorf("block %d ends at %d, want %d", tt.start, b.Terminal, tt.terminal)
		}
		if len(b.Successors) != len(tt.succs) {
			t.Fatalf("block %d has %d successors, want %d", tt.start, len(b.Successors), len(tt.succs))
		}
		for i, s := range tt.succs {
			if b.Successors[i].Start != s {
				t.Errorf("block %d successor %d starts at %d, want %d", tt.start, i, b.Successors[i].Start, s)
			}
		}
	}
}

func TestCaptureInLoop(t *testing.T) {
	main, inc := counterFns()
	p := newProgram(t, main, inc)
	cfi := analyze(t, p, "counter")

	if len(cfi.Blocks) != 4 {
		t.Fatalf("got %d blocks, want 4", len(cfi.Blocks))
	}
	entry, _ := cfi.BlockAt(0)
	body, _ := cfi.BlockAt(1)
	closeBlk, _ := cfi.BlockAt(3)
	ret, _ := cfi.BlockAt(4)

	if !entry.CapturedAtTail.None() {
		t.Errorf("entry tail = %v, want empty", members(entry.CapturedAtTail))
	}
	if !bitTest(body.CapturedInBlock, 0) {
		t.Error("loop body should capture r0")
	}
	if !bitTest(body.CapturedAtHead, 0) {
		t.Error("back-edge target should have r0 captured at head")
	}
	if !bitTest(closeBlk.CapturedAtHead, 0) || !closeBlk.CapturedAtTail.None() {
		t.Errorf("close block head=%v tail=%v, want [0] and empty",
			members(closeBlk.CapturedAtHead), members(closeBlk.CapturedAtTail))
	}
	if !ret.CapturedAtHead.None() {
		t.Errorf("return block head = %v, want empty", members(ret.CapturedAtHead))
	}
}

func TestCaptureOpenAtExitPanics(t *testing.T) {
	inc := bytecode.NewFunction("inc", 0, 1).Upvalue(true, false, 0)
	inc.Emit(bytecode.OpUGetM, 0, 0)
	inc.Emit(bytecode.OpRet, 0, 1)
	leak := bytecode.NewFunction("leak", 0, 2)
	leak.Emit(bytecode.OpClosure, 1, leak.Const(bytecode.ProtoValue("inc")))
	leak.Emit(bytecode.OpRet, 1, 1)
	p := newProgram(t, leak, inc)

	defer func() {
		r := recover()
		if _, ok := r.(*InvariantError); !ok {
			t.Fatalf("recovered %v, want *InvariantError", r)
		}
	}()
	AnalyzeControlFlow(bytecode.NewDecoder(p, mustLookup(t, p, "leak")))
}

func TestVerifyDetectsStaleSets(t *testing.T) {
	main, inc := counterFns()
	p := newProgram(t, main, inc)
	cfi := analyze(t, p, "counter")

	body, _ := cfi.BlockAt(1)
	bitClear(body.CapturedAtHead, 0)
	if err := cfi.Verify(); err == nil {
		t.Error("Verify accepted a head that disagrees with its predecessors")
	}
}
