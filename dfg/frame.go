package dfg

import (
	"github.com/chazu/dfgjit/pkg/bytecode"
)

// InlinedCallFrame is one activation in the inlining tree: the root function
// or a callee inlined at some caller bytecode.
//
// Interpreter slot layout of a non-root frame:
//
//	frame start = base - 4 - maxVarArgs
//	vararg k    = base - 4 - maxVarArgs + k
//	header i    = base - 4 + i
//	local l     = base + l
//	frame end   = base + numLocals
//
// The root frame has base 0, no header and the identity register mapping.
type InlinedCallFrame struct {
	fn      *bytecode.Function
	ordinal int

	caller      *InlinedCallFrame
	callerIndex int
	site        int
	parent      *InlinedCallFrame // frame a return lands in; nil returns to the interpreter

	root          bool
	direct        bool
	directObject  uint64
	tail          bool
	staticVarArgs bool
	maxVarArgs    int
	base          int

	localRegs     []int
	varArgRegs    []int
	funcObjReg    int
	numVarArgsReg int

	beforeBase []MappingInfo
	liveness   *BytecodeLiveness
	usage      []bool
}

// newRootFrame creates the root frame, allocating one register per local.
func newRootFrame(fn *bytecode.Function, vregs *VRegAllocator) *InlinedCallFrame {
	f := &InlinedCallFrame{
		fn:            fn,
		root:          true,
		callerIndex:   -1,
		site:          -1,
		funcObjReg:    -1,
		numVarArgsReg: -1,
	}
	f.localRegs = make([]int, fn.NumLocals)
	for i := range f.localRegs {
		f.localRegs[i] = vregs.Allocate()
	}
	f.InitializeUsage(vregs.VectorLength())
	return f
}

func (f *InlinedCallFrame) Function() *bytecode.Function { return f.fn }
func (f *InlinedCallFrame) Ordinal() int { return f.ordinal }
func (f *InlinedCallFrame) NumLocals() int { return f.fn.NumLocals }
func (f *InlinedCallFrame) IsRoot() bool { return f.root }
func (f *InlinedCallFrame) IsDirectCall() bool { return f.direct }
func (f *InlinedCallFrame) DirectObject() uint64 { return f.directObject }
func (f *InlinedCallFrame) IsTailCall() bool { return f.tail }
func (f *InlinedCallFrame) Caller() *InlinedCallFrame { return f.caller }
func (f *InlinedCallFrame) CallSiteOrdinal() int { return f.site }

// StaticallyKnowsNumVarArgs reports whether the vararg count is a
// compile-time constant, in which case MaxVarArgs is that count.
func (f *InlinedCallFrame) StaticallyKnowsNumVarArgs() bool { return f.staticVarArgs }
func (f *InlinedCallFrame) MaxVarArgs() int { return f.maxVarArgs }

// CallerOrigin is the caller bytecode this frame was inlined at.
func (f *InlinedCallFrame) CallerOrigin() CodeOrigin {
	if f.root {
		return CodeOrigin{}
	}
	return CodeOrigin{Frame: f.caller, Index: f.callerIndex}
}

// ParentFrameForReturn is the frame that receives this frame's return
// values. A tail call returns wherever its caller would have.
func (f *InlinedCallFrame) ParentFrameForReturn() *InlinedCallFrame { return f.parent }

func (f *InlinedCallFrame) Base() int { return f.base }

func (f *InlinedCallFrame) FrameStart() int {
	if f.root {
		return 0
	}
	return f.base - bytecode.FrameHeaderSlots - f.maxVarArgs
}

func (f *InlinedCallFrame) FrameEnd() int { return f.base + f.fn.NumLocals }

func (f *InlinedCallFrame) HeaderSlot(i int) int {
	invariant(!f.root, "root frame has no header")
	return f.base - bytecode.FrameHeaderSlots + i
}

func (f *InlinedCallFrame) VarArgSlot(k int) int {
	invariant(!f.root && k >= 0 && k < f.maxVarArgs, "vararg %d out of range", k)
	return f.FrameStart() + k
}

func (f *InlinedCallFrame) LocalSlot(l int) int {
	invariant(l >= 0 && l < f.fn.NumLocals, "local %d out of range in %s", l, f.fn.Name)
	return f.base + l
}

// InterpreterSlot returns the absolute interpreter slot of loc.
func (f *InlinedCallFrame) InterpreterSlot(loc FrameLocation) int {
	switch {
	case loc.IsLocal():
		return f.LocalSlot(loc.Local())
	case loc == FunctionObjectLoc:
		return f.HeaderSlot(0)
	case loc == NumVarArgsLoc:
		return f.HeaderSlot(1)
	}
	return f.VarArgSlot(loc.VarArg())
}

func (f *InlinedCallFrame) RegisterForLocal(l int) int { return f.localRegs[l] }

// RegisterFor returns the virtual register backing loc.
func (f *InlinedCallFrame) RegisterFor(loc FrameLocation) int {
	switch {
	case loc.IsLocal():
		return f.localRegs[loc.Local()]
	case loc == FunctionObjectLoc:
		invariant(!f.root && !f.direct, "frame has no function object register")
		return f.funcObjReg
	case loc == NumVarArgsLoc:
		invariant(!f.root && !f.staticVarArgs, "frame has no vararg count register")
		return f.numVarArgsReg
	}
	return f.varArgRegs[loc.VarArg()]
}

// MappingBeforeBase returns what interpreter slot s < Base() holds on entry
// to this frame.
func (f *InlinedCallFrame) MappingBeforeBase(s int) MappingInfo {
	invariant(s >= 0 && s < len(f.beforeBase), "slot %d is not below the base of frame %d", s, f.ordinal)
	return f.beforeBase[s]
}

func (f *InlinedCallFrame) Liveness() *BytecodeLiveness { return f.liveness }

// InitializeUsage marks the registers this frame itself occupies.
func (f *InlinedCallFrame) InitializeUsage(vecLen int) {
	f.usage = make([]bool, vecLen)
	for _, r := range f.localRegs {
		f.usage[r] = true
	}
	if f.root {
		return
	}
	for _, r := range f.varArgRegs {
		f.usage[r] = true
	}
	if !f.direct {
		f.usage[f.funcObjReg] = true
	}
	if !f.staticVarArgs {
		f.usage[f.numVarArgsReg] = true
	}
}

// UpdateUsage folds in the registers used by a frame inlined into this one.
func (f *InlinedCallFrame) UpdateUsage(callee *InlinedCallFrame) {
	for len(f.usage) < len(callee.usage) {
		f.usage = append(f.usage, false)
	}
	for r, used := range callee.usage {
		if used {
			f.usage[r] = true
		}
	}
}

// IsRegisterUsed reports whether r is used by this frame or anything inlined
// into it. The graph builder only maintains the bitmap; it is the query a
// backend uses to find the registers an inlined subtree leaves untouched.
func (f *InlinedCallFrame) IsRegisterUsed(r int) bool {
	return r < len(f.usage) && f.usage[r]
}

// IsLiveAt reports whether interpreter slot s holds a live value at the
// given bytecode of this frame.
func (f *InlinedCallFrame) IsLiveAt(index int, point LivenessPoint, s int) bool {
	if s < f.base {
		return f.MappingBeforeBase(s).IsLive()
	}
	l := s - f.base
	if l >= f.fn.NumLocals {
		return false
	}
	return f.liveness.IsLive(index, point, l)
}
