package bytecode

import (
	"errors"
	"strings"
	"testing"
)

// callerAndCallee builds main(x) = f(x) through an in-place CALL.
func callerAndCallee(t *testing.T) *Program {
	t.Helper()
	f := NewFunction("f", 1, 2)
	f.Emit(OpAdd, 1, 0, 0)
	f.Emit(OpRet, 1, 1)

	m := NewFunction("main", 1, 8)
	m.Emit(OpMov, 5, 0)
	call := m.Emit(OpCall, 1, 1, 1)
	m.Observe(call, DirectCall, Direct("f", 7))
	m.Emit(OpRet, 1, 1)

	p, err := NewProgram(m.Build(), f.Build())
	if err != nil {
		t.Fatalf("NewProgram: %v", err)
	}
	return p
}

func TestDecoderOperands(t *testing.T) {
	p := callerAndCallee(t)
	main, _ := p.Lookup("main")
	d := NewDecoder(p, main)

	reads := d.ReadInfo(1)
	if len(reads) != 2 {
		t.Fatalf("CALL reads %d operands, want 2", len(reads))
	}
	if reads[0].Kind != OperandLocal || reads[0].Local != 1 {
		t.Errorf("callee operand = %v, want r1", reads[0])
	}
	if reads[1].Kind != OperandRange || reads[1].Start != 5 || reads[1].Len != 1 {
		t.Errorf("argument operand = %v, want r[5..6)", reads[1])
	}
	if d.HasDirectOutput(1) {
		t.Error("CALL should have no direct output")
	}
	if !d.HasDirectOutput(0) || d.DirectOutput(0) != 5 {
		t.Error("MOV r5 should have direct output r5")
	}
}

func TestDecoderInliningTrait(t *testing.T) {
	p := callerAndCallee(t)
	main, _ := p.Lookup("main")
	d := NewDecoder(p, main)

	tr := d.InliningTrait(1, 0)
	if tr == nil {
		t.Fatal("CALL site 0 should have a trait")
	}
	if !tr.InPlaceCall || tr.TailCall {
		t.Errorf("trait in-place=%v tail=%v, want in-place only", tr.InPlaceCall, tr.TailCall)
	}
	if tr.RangeStart != 5 || tr.RangeLen != 1 {
		t.Errorf("range = [%d, +%d), want [5, +1)", tr.RangeStart, tr.RangeLen)
	}
	if tr.RC != RCStoreFirstK || tr.RCNum != 1 || tr.RCRangeStart != 1 {
		t.Errorf("continuation = %v(%d, %d), want store-first-k(1, 1)", tr.RC, tr.RCNum, tr.RCRangeStart)
	}
	if d.InliningTrait(1, 1) != nil {
		t.Error("out-of-range site should have no trait")
	}
	if d.InliningTrait(0, 0) != nil {
		t.Error("MOV should have no trait")
	}

	callee, ok := d.Callee(d.CallSites(1)[0].Targets[0])
	if !ok || callee.Name != "f" {
		t.Errorf("Callee = %v, %v; want f", callee, ok)
	}
	if _, ok := d.Callee(Native("print")); ok {
		t.Error("native target should have no bytecode callee")
	}
}

func TestDecoderIntrinsics(t *testing.T) {
	inner := NewFunction("inner", 0, 1).Upvalue(true, false, 0).Upvalue(true, true, 1)
	inner.Emit(OpUGetM, 0, 0)
	inner.Emit(OpRet, 0, 1)

	outer := NewFunction("outer", 0, 3)
	k := outer.Const(ProtoValue("inner"))
	outer.Emit(OpClosure, 2, k)
	outer.Branch(OpUClose, 2, 0)
	outer.Emit(OpRet, 2, 1)

	p, err := NewProgram(outer.Build(), inner.Build())
	if err != nil {
		t.Fatalf("NewProgram: %v", err)
	}
	fn, _ := p.Lookup("outer")
	d := NewDecoder(p, fn)

	cl := d.Intrinsic(0)
	if cl.Kind != IntrinsicCreateClosure || cl.Dest != 2 || cl.Proto == nil || cl.Proto.Name != "inner" {
		t.Errorf("CLOSURE intrinsic = %+v", cl)
	}
	uc := d.Intrinsic(1)
	if uc.Kind != IntrinsicUpvalueClose || uc.Start != 0 {
		t.Errorf("UCLOSE intrinsic = %+v", uc)
	}
	if d.BranchTarget(1) != 2 {
		t.Errorf("UCLOSE target = %d, want 2", d.BranchTarget(1))
	}
	ret := d.Intrinsic(2)
	if ret.Kind != IntrinsicReturn || ret.Start != 2 || ret.Length != 1 {
		t.Errorf("RET intrinsic = %+v", ret)
	}
}

func TestProgramValidation(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *Function
		wantErr string
	}{
		{
			name: "falls off the end",
			build: func() *Function {
				b := NewFunction("bad", 0, 2)
				b.Emit(OpMov, 0, 1)
				return b.Build()
			},
			wantErr: "falls off the end",
		},
		{
			name: "local out of range",
			build: func() *Function {
				b := NewFunction("bad", 0, 2)
				b.Emit(OpMov, 0, 5)
				b.Emit(OpRet0)
				return b.Build()
			},
			wantErr: "out of range",
		},
		{
			name: "branch target out of range",
			build: func() *Function {
				b := NewFunction("bad", 0, 1)
				b.Branch(OpJmp, 9)
				return b.Build()
			},
			wantErr: "branch target",
		},
		{
			name: "unknown callee",
			build: func() *Function {
				b := NewFunction("bad", 0, 6)
				pc := b.Emit(OpCallV, 0, 0)
				b.Observe(pc, DirectCall, Direct("nope", 1))
				b.Emit(OpRet0)
				return b.Build()
			},
			wantErr: "unknown function",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProgram(tt.build())
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLookupUnknownFunction(t *testing.T) {
	p := callerAndCallee(t)
	_, err := p.Lookup("missing")
	if !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("Lookup(missing) error = %v, want ErrUnknownFunction", err)
	}
}

func TestDisassemble(t *testing.T) {
	p := callerAndCallee(t)
	main, _ := p.Lookup("main")
	out := Disassemble(main)

	for _, want := range []string{"; === main ===", "CALL", "site0 direct/mono f#7", "RET"} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}
