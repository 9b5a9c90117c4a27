package bytecode

import "fmt"

// OperandKind tags an Operand.
type OperandKind uint8

const (
	OperandLocal    OperandKind = iota // one local slot
	OperandConstant                    // a constant value
	OperandRange                       // locals [Start, Start+Len)
	OperandVarRets                     // the current variadic results
)

// Operand describes one input or output of an instruction.
type Operand struct {
	Kind  OperandKind
	Local int
	Const Value
	Start int
	Len   int
}

func LocalOperand(r int) Operand { return Operand{Kind: OperandLocal, Local: r} }
func ConstOperand(v Value) Operand { return Operand{Kind: OperandConstant, Const: v} }
func RangeOperand(start, n int) Operand { return Operand{Kind: OperandRange, Start: start, Len: n} }
func VarRetsOperand() Operand { return Operand{Kind: OperandVarRets} }

func (o Operand) String() string {
	switch o.Kind {
	case OperandLocal:
		return fmt.Sprintf("r%d", o.Local)
	case OperandConstant:
		return o.Const.String()
	case OperandRange:
		return fmt.Sprintf("r[%d..%d)", o.Start, o.Start+o.Len)
	case OperandVarRets:
		return "VR"
	}
	return "?"
}

// IntrinsicKind names the instructions the IR builder expands specially.
type IntrinsicKind uint8

const (
	IntrinsicNone IntrinsicKind = iota
	IntrinsicUpvalueClose
	IntrinsicCreateClosure
	IntrinsicUpvalueGetImmutable
	IntrinsicUpvalueGetMutable
	IntrinsicUpvaluePut
	IntrinsicGetVarArgPrefix
	IntrinsicGetAllVarArgsAsVarRet
	IntrinsicReturn0
	IntrinsicReturn
	IntrinsicReturnAppendingVarRet
)

var intrinsicNames = [...]string{
	"none", "upvalue-close", "create-closure", "upvalue-get-immutable",
	"upvalue-get-mutable", "upvalue-put", "get-vararg-prefix",
	"get-all-varargs", "return0", "return", "return-appending-varret",
}

func (k IntrinsicKind) String() string {
	if int(k) < len(intrinsicNames) {
		return intrinsicNames[k]
	}
	return fmt.Sprintf("intrinsic(%d)", uint8(k))
}

// Intrinsic is the decoded payload of an intrinsic instruction.
// Only the fields relevant to Kind are set.
type Intrinsic struct {
	Kind IntrinsicKind

	Proto *Function // CreateClosure: the prototype
	Dest  int       // CreateClosure, GetVarArgPrefix: first written local

	Start  int // UpvalueClose, Return*: first local
	Length int // Return*: number of returned locals
	Num    int // GetVarArgPrefix: number of varargs read

	Ordinal int     // UpvalueGet*, UpvaluePut: upvalue ordinal
	Value   Operand // UpvaluePut: the stored value
}

// Decoder answers operand and profile queries about one function.
// It never mutates the function.
type Decoder struct {
	prog *Program
	fn   *Function
}

// NewDecoder returns a decoder for fn, resolving callees and prototypes in prog.
func NewDecoder(prog *Program, fn *Function) *Decoder {
	return &Decoder{prog: prog, fn: fn}
}

func (d *Decoder) Function() *Function { return d.fn }
func (d *Decoder) Program() *Program { return d.prog }
func (d *Decoder) Len() int { return len(d.fn.Code) }

func (d *Decoder) Instr(i int) Instr { return d.fn.Code[i] }
func (d *Decoder) Kind(i int) Opcode { return d.fn.Code[i].Op }

// Next returns the index of the instruction after i.
func (d *Decoder) Next(i int) int { return i + 1 }

func (d *Decoder) IsBarrier(i int) bool { return d.Kind(i).IsBarrier() }
func (d *Decoder) MayBranch(i int) bool { return d.Kind(i).MayBranch() }
func (d *Decoder) MayTailCall(i int) bool { return d.Kind(i).MayTailCall() }
func (d *Decoder) MayOsrExit(i int) bool { return d.Kind(i).MayOsrExit() }

// BranchTarget returns the branch target of i, which must be able to branch.
func (d *Decoder) BranchTarget(i int) int {
	in := d.fn.Code[i]
	if !in.Op.MayBranch() {
		panic(fmt.Sprintf("bytecode: %s@%d (%s) has no branch target", d.fn.Name, i, in.Op))
	}
	return in.Target
}

// ReadInfo returns the inputs of instruction i in node-input order.
func (d *Decoder) ReadInfo(i int) []Operand {
	in := d.fn.Code[i]
	k := func(idx int) Operand { return ConstOperand(d.fn.Constants[idx]) }
	switch in.Op {
	case OpMov, OpNot:
		return []Operand{LocalOperand(in.B)}
	case OpKSet, OpClosure:
		return []Operand{k(in.B)}
	case OpAdd, OpSub, OpMul, OpLt:
		return []Operand{LocalOperand(in.B), LocalOperand(in.C)}
	case OpJt, OpJf:
		return []Operand{LocalOperand(in.A)}
	case OpJlt:
		return []Operand{LocalOperand(in.A), LocalOperand(in.B)}
	case OpCall, OpCallV, OpTailCall:
		return []Operand{LocalOperand(in.A), RangeOperand(in.A+FrameHeaderSlots, in.B)}
	case OpCallM, OpTailCallM:
		return []Operand{LocalOperand(in.A), RangeOperand(in.A+FrameHeaderSlots, in.B), VarRetsOperand()}
	case OpCall1, OpCallT:
		return []Operand{LocalOperand(in.B), RangeOperand(in.B+FrameHeaderSlots, in.C)}
	case OpUSet:
		return []Operand{LocalOperand(in.B)}
	case OpUSetK:
		return []Operand{k(in.B)}
	case OpPack:
		return []Operand{VarRetsOperand()}
	case OpRet:
		return []Operand{RangeOperand(in.A, in.B)}
	case OpRetM:
		return []Operand{RangeOperand(in.A, in.B), VarRetsOperand()}
	}
	return nil
}

// WriteInfo returns the outputs of instruction i. A direct output, if any,
// comes first.
func (d *Decoder) WriteInfo(i int) []Operand {
	in := d.fn.Code[i]
	switch in.Op {
	case OpMov, OpKSet, OpAdd, OpSub, OpMul, OpLt, OpNot,
		OpCall1, OpCallT, OpClosure, OpUGet, OpUGetM, OpPack:
		return []Operand{LocalOperand(in.A)}
	case OpKNil, OpVarg:
		return []Operand{RangeOperand(in.A, in.B)}
	case OpCall, OpCallM:
		return []Operand{RangeOperand(in.A, in.C)}
	case OpCallV, OpVargAll:
		return []Operand{VarRetsOperand()}
	}
	return nil
}

// HasDirectOutput reports whether i writes a single local as its primary result.
func (d *Decoder) HasDirectOutput(i int) bool {
	w := d.WriteInfo(i)
	return len(w) > 0 && w[0].Kind == OperandLocal
}

// DirectOutput returns the local written as i's direct output.
func (d *Decoder) DirectOutput(i int) int {
	w := d.WriteInfo(i)
	if len(w) == 0 || w[0].Kind != OperandLocal {
		panic(fmt.Sprintf("bytecode: %s@%d (%s) has no direct output", d.fn.Name, i, d.Kind(i)))
	}
	return w[0].Local
}

// Intrinsic decodes the intrinsic payload of i. Kind is IntrinsicNone for
// ordinary instructions.
func (d *Decoder) Intrinsic(i int) Intrinsic {
	in := d.fn.Code[i]
	info := GetOpcodeInfo(in.Op)
	out := Intrinsic{Kind: info.Intrinsic}
	switch info.Intrinsic {
	case IntrinsicUpvalueClose:
		out.Start = in.A
	case IntrinsicCreateClosure:
		out.Dest = in.A
		proto, err := d.prog.Lookup(d.fn.Constants[in.B].Str)
		if err != nil {
			panic(fmt.Sprintf("bytecode: %s@%d: %v", d.fn.Name, i, err))
		}
		out.Proto = proto
	case IntrinsicUpvalueGetImmutable, IntrinsicUpvalueGetMutable:
		out.Ordinal = in.B
	case IntrinsicUpvaluePut:
		out.Ordinal = in.A
		out.Value = d.ReadInfo(i)[0]
	case IntrinsicGetVarArgPrefix:
		out.Dest = in.A
		out.Num = in.B
	case IntrinsicReturn, IntrinsicReturnAppendingVarRet:
		out.Start = in.A
		out.Length = in.B
	}
	return out
}

// CallSites returns the call-site profiles recorded for i.
func (d *Decoder) CallSites(i int) []CallSite {
	return d.fn.Code[i].Sites
}

// InliningTrait returns the trait of call site `site` of i, or nil when the
// instruction cannot be inlined at that site.
func (d *Decoder) InliningTrait(i, site int) *InliningTrait {
	in := d.fn.Code[i]
	shape, ok := traitShapes[in.Op]
	if !ok || site < 0 || site >= len(in.Sites) {
		return nil
	}
	return shape(in)
}

// Callee resolves a call target to its bytecode function.
// Native targets have none.
func (d *Decoder) Callee(t CallTarget) (*Function, bool) {
	if t.IsNative() {
		return nil, false
	}
	fn, err := d.prog.Lookup(t.Callee)
	if err != nil {
		return nil, false
	}
	return fn, true
}
