package dfg

import (
	"testing"

	"github.com/chazu/dfgjit/pkg/bytecode"
)

func newProgram(t *testing.T, fns ...*bytecode.FunctionBuilder) *bytecode.Program {
	t.Helper()
	built := make([]*bytecode.Function, len(fns))
	for i, f := range fns {
		built[i] = f.Build()
	}
	p, err := bytecode.NewProgram(built...)
	if err != nil {
		t.Fatalf("NewProgram: %v", err)
	}
	return p
}

func mustLookup(t *testing.T, p *bytecode.Program, name string) *bytecode.Function {
	t.Helper()
	fn, err := p.Lookup(name)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", name, err)
	}
	return fn
}

func mustBuild(t *testing.T, p *bytecode.Program, name string, opts Options) (g *Graph) {
	t.Helper()
	root := mustLookup(t, p, name)
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Build(%s) panicked: %v", name, r)
		}
	}()
	return Build(p, root, opts)
}

// addFn computes r2 = r0 + r1 and returns it.
func addFn() *bytecode.FunctionBuilder {
	f := bytecode.NewFunction("add", 2, 3)
	f.Emit(bytecode.OpAdd, 2, 0, 1)
	f.Emit(bytecode.OpRet, 2, 1)
	return f
}

// twoExitsFn has two bytecodes that may exit, the second reading only r0.
func twoExitsFn() *bytecode.FunctionBuilder {
	f := bytecode.NewFunction("twoexits", 2, 4)
	f.Emit(bytecode.OpAdd, 2, 0, 1)
	f.Emit(bytecode.OpAdd, 3, 0, 0)
	f.Emit(bytecode.OpRet, 3, 1)
	return f
}

// loopFn adds r0 to r1 until r1 is no longer below r0.
func loopFn() *bytecode.FunctionBuilder {
	f := bytecode.NewFunction("loop", 1, 3)
	f.Emit(bytecode.OpKSet, 1, f.Const(bytecode.IntValue(0)))
	head := f.Emit(bytecode.OpAdd, 1, 1, 0)
	f.Branch(bytecode.OpJlt, head, 1, 0)
	f.Emit(bytecode.OpRet, 1, 1)
	return f
}

// counterFns builds a loop whose body creates a closure over the mutable
// local r0, closed before returning.
func counterFns() (main, inc *bytecode.FunctionBuilder) {
	inc = bytecode.NewFunction("inc", 0, 1).Upvalue(true, false, 0)
	inc.Emit(bytecode.OpUGetM, 0, 0)
	inc.Emit(bytecode.OpRet, 0, 1)

	main = bytecode.NewFunction("counter", 0, 4)
	main.Emit(bytecode.OpKSet, 0, main.Const(bytecode.IntValue(0)))
	body := main.Emit(bytecode.OpClosure, 1, main.Const(bytecode.ProtoValue("inc")))
	main.Branch(bytecode.OpJt, body, 2)
	exit := main.Here() + 1
	main.Branch(bytecode.OpUClose, exit, 0)
	main.Emit(bytecode.OpRet0)
	return main, inc
}

// identityFn returns r0 + r0 in r1.
func identityFn(name string) *bytecode.FunctionBuilder {
	f := bytecode.NewFunction(name, 1, 2)
	f.Emit(bytecode.OpAdd, 1, 0, 0)
	f.Emit(bytecode.OpRet, 1, 1)
	return f
}

// inPlaceCaller calls callee in place through CALL r1 with one argument in
// r5 and keeps the first result in r1.
func inPlaceCaller(targets ...bytecode.CallTarget) *bytecode.FunctionBuilder {
	m := bytecode.NewFunction("main", 1, 8)
	m.Emit(bytecode.OpMov, 5, 0)
	call := m.Emit(bytecode.OpCall, 1, 1, 1)
	m.Observe(call, bytecode.DirectCall, targets...)
	m.Emit(bytecode.OpRet, 1, 1)
	return m
}

func countSpec(g *Graph, kind SpecKind) int {
	n := 0
	for _, b := range g.Blocks {
		for _, nd := range b.Nodes {
			if nd.Kind == KindGuest && nd.Spec.Kind == kind {
				n++
			}
		}
	}
	return n
}

func noPhantoms() Options {
	o := DefaultOptions()
	o.Phantoms = false
	return o
}

// tailCaller calls f through CALLT, which returns whatever f returns.
func tailCaller() *bytecode.FunctionBuilder {
	m := bytecode.NewFunction("main", 1, 8)
	m.Emit(bytecode.OpMov, 5, 0)
	call := m.Emit(bytecode.OpCallT, 0, 1, 1)
	m.Observe(call, bytecode.DirectCall, bytecode.Direct("f", 7))
	m.Emit(bytecode.OpRet, 0, 1)
	return m
}

// varargCaller passes its own varargs to a variadic callee through CALLM.
func varargCaller() []*bytecode.FunctionBuilder {
	f := bytecode.NewFunction("f", 1, 2).Variadic(2)
	f.Emit(bytecode.OpAdd, 1, 0, 0)
	f.Emit(bytecode.OpRet, 1, 1)

	m := bytecode.NewFunction("main", 1, 8).Variadic(2)
	m.Emit(bytecode.OpMov, 5, 0)
	m.Emit(bytecode.OpVargAll)
	call := m.Emit(bytecode.OpCallM, 1, 1, 1)
	m.Observe(call, bytecode.DirectCall, bytecode.Direct("f", 7))
	m.Emit(bytecode.OpRet, 1, 1)
	return []*bytecode.FunctionBuilder{m, f}
}

// nestedTailCaller calls mid in place; mid closes over its argument, closes
// it again and tail calls g.
func nestedTailCaller() []*bytecode.FunctionBuilder {
	inc := bytecode.NewFunction("inc", 0, 1).Upvalue(true, false, 0)
	inc.Emit(bytecode.OpUGetM, 0, 0)
	inc.Emit(bytecode.OpRet, 0, 1)

	g := bytecode.NewFunction("g", 1, 3)
	g.Emit(bytecode.OpAdd, 1, 0, 0)
	g.Emit(bytecode.OpRet, 1, 1)

	mid := bytecode.NewFunction("mid", 1, 8)
	mid.Emit(bytecode.OpClosure, 1, mid.Const(bytecode.ProtoValue("inc")))
	mid.Branch(bytecode.OpUClose, mid.Here()+1, 0)
	mid.Emit(bytecode.OpMov, 6, 0)
	tail := mid.Emit(bytecode.OpTailCall, 2, 1)
	mid.Observe(tail, bytecode.DirectCall, bytecode.Direct("g", 3))

	m := bytecode.NewFunction("main", 1, 8)
	m.Emit(bytecode.OpMov, 5, 0)
	call := m.Emit(bytecode.OpCall, 1, 1, 1)
	m.Observe(call, bytecode.DirectCall, bytecode.Direct("mid", 5))
	m.Emit(bytecode.OpRet, 1, 1)
	return []*bytecode.FunctionBuilder{m, mid, g, inc}
}

// checkShadowStores fails t unless every SetLocal is preceded in its block
// by a shadow store of the same value to the same interpreter slot.
func checkShadowStores(t *testing.T, g *Graph) {
	t.Helper()
	type store struct {
		slot int
		v    Value
	}
	for bi, b := range g.Blocks {
		stored := make(map[store]bool)
		undef := make(map[int]bool)
		for _, n := range b.Nodes {
			switch n.Kind {
			case KindShadowStore:
				stored[store{n.Slot, n.Inputs[0]}] = true
			case KindShadowStoreUndefToRange:
				for s := n.Slot; s < n.Slot+n.RangeLen; s++ {
					undef[s] = true
				}
			case KindSetLocal:
				slot := n.Local.InterpreterSlot()
				v := n.Inputs[0]
				if stored[store{slot, v}] || (undef[slot] && v.Node.Kind == KindUndefValue) {
					continue
				}
				t.Errorf("b%d: %s (slot %d) has no shadow store before it:\n%s", bi, FormatNode(n), slot, Dump(g))
			}
		}
	}
}
