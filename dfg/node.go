package dfg

import (
	"fmt"

	"github.com/chazu/dfgjit/pkg/bytecode"
)

// NodeKind tags a Node. KindGuest nodes carry the bytecode opcode they
// implement in Node.Op.
type NodeKind uint8

const (
	KindGuest NodeKind = iota

	// constant-like, owned by the graph
	KindConstant
	KindUnboxedConstant
	KindUndefValue
	KindArgument
	KindGetNumVariadicArgs
	KindGetKthVariadicArg
	KindGetFunctionObject

	KindNop
	KindGetLocal
	KindSetLocal
	KindShadowStore
	KindShadowStoreUndefToRange
	KindPhantom

	KindCreateCapturedVar
	KindGetCapturedVar
	KindSetCapturedVar

	KindGetKthVariadicRes
	KindGetNumVariadicRes
	KindCreateVariadicRes
	KindPrependVariadicRes

	KindCheckU64InBound
	KindU64SaturateSub

	KindCreateFunctionObject
	KindGetUpvalue
	KindSetUpvalue
	KindReturn
)

var kindNames = [...]string{
	KindGuest:                   "Guest",
	KindConstant:                "Constant",
	KindUnboxedConstant:         "UnboxedConstant",
	KindUndefValue:              "UndefValue",
	KindArgument:                "Argument",
	KindGetNumVariadicArgs:      "GetNumVariadicArgs",
	KindGetKthVariadicArg:       "GetKthVariadicArg",
	KindGetFunctionObject:       "GetFunctionObject",
	KindNop:                     "Nop",
	KindGetLocal:                "GetLocal",
	KindSetLocal:                "SetLocal",
	KindShadowStore:             "ShadowStore",
	KindShadowStoreUndefToRange: "ShadowStoreUndefToRange",
	KindPhantom:                 "Phantom",
	KindCreateCapturedVar:       "CreateCapturedVar",
	KindGetCapturedVar:          "GetCapturedVar",
	KindSetCapturedVar:          "SetCapturedVar",
	KindGetKthVariadicRes:       "GetKthVariadicRes",
	KindGetNumVariadicRes:       "GetNumVariadicRes",
	KindCreateVariadicRes:       "CreateVariadicRes",
	KindPrependVariadicRes:      "PrependVariadicRes",
	KindCheckU64InBound:         "CheckU64InBound",
	KindU64SaturateSub:          "U64SaturateSub",
	KindCreateFunctionObject:    "CreateFunctionObject",
	KindGetUpvalue:              "GetUpvalue",
	KindSetUpvalue:              "SetUpvalue",
	KindReturn:                  "Return",
}

func (k NodeKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("NodeKind(%d)", uint8(k))
}

// IsConstantLike reports whether nodes of this kind live in the graph's
// constant table rather than in a block.
func (k NodeKind) IsConstantLike() bool {
	return k >= KindConstant && k <= KindGetFunctionObject
}

// NodeFlags is a bit set of Node properties.
type NodeFlags uint16

const (
	FlagBarrier NodeFlags = 1 << iota
	FlagBranch
	FlagClobbersVR
	FlagAccessesVR
	FlagGeneratesVR
	FlagMayOsrExit
	FlagExitOK
	FlagTailCall
	FlagTailCallTransformed
)

// SpecKind marks nodes the inliner rewrote.
type SpecKind uint8

const (
	SpecNone SpecKind = iota
	SpecPrologue
	SpecEpilogue
)

// Specialization records which call site of a guest node was inlined.
type Specialization struct {
	Kind SpecKind
	Site int
}

// Value is one output of a node. Ord 0 is the direct output, 1.. the extra
// outputs.
type Value struct {
	Node *Node
	Ord  int
}

func (v Value) IsNil() bool { return v.Node == nil }

func (v Value) String() string {
	if v.Node == nil {
		return "<nil>"
	}
	if v.Ord == 0 {
		return fmt.Sprintf("n%d", v.Node.id)
	}
	return fmt.Sprintf("n%d.%d", v.Node.id, v.Ord)
}

// LocalAccess names a frame location accessed by GetLocal or SetLocal.
type LocalAccess struct {
	Frame *InlinedCallFrame
	Loc   FrameLocation
}

// InterpreterSlot is the absolute slot of the access.
func (a LocalAccess) InterpreterSlot() int { return a.Frame.InterpreterSlot(a.Loc) }

// Register is the virtual register of the access.
func (a LocalAccess) Register() int { return a.Frame.RegisterFor(a.Loc) }

// Node is one IR operation.
type Node struct {
	id   int
	Kind NodeKind
	Op   bytecode.Opcode

	Inputs          []Value
	HasDirectOutput bool
	NumExtraOutputs int
	Flags           NodeFlags

	// VRInput is the variadic-result generator an AccessesVR node reads.
	// Nil is legal only for a leading PrependVariadicRes.
	VRInput *Node

	Origin CodeOrigin
	Exit   OsrExitDestination

	// Payload; which fields matter depends on Kind.
	Local     LocalAccess    // GetLocal, SetLocal
	Slot      int            // ShadowStore, ShadowStoreUndefToRange
	RangeLen  int            // ShadowStoreUndefToRange
	Param     int64          // ordinals, counts and bounds
	Immutable bool           // GetUpvalue
	Const     bytecode.Value // Constant
	Unboxed   uint64         // UnboxedConstant
	Spec      Specialization // Guest

	marker int
}

func (n *Node) ID() int { return n.id }

func (n *Node) Has(f NodeFlags) bool { return n.Flags&f != 0 }

func (n *Node) Set(f NodeFlags, on bool) {
	if on {
		n.Flags |= f
	} else {
		n.Flags &^= f
	}
}

func (n *Node) IsConstantLike() bool { return n.Kind.IsConstantLike() }

// NumOutputs counts the direct and extra outputs.
func (n *Node) NumOutputs() int {
	if n.HasDirectOutput {
		return 1 + n.NumExtraOutputs
	}
	return n.NumExtraOutputs
}

// SetNumOutputs sets the output shape.
func (n *Node) SetNumOutputs(direct bool, extra int) {
	n.HasDirectOutput = direct
	n.NumExtraOutputs = extra
}

// Out returns output ord of n.
func (n *Node) Out(ord int) Value { return Value{Node: n, Ord: ord} }

// HasOutput reports whether ord names a real output of n.
func (n *Node) HasOutput(ord int) bool {
	if ord == 0 {
		return n.HasDirectOutput
	}
	return ord >= 1 && ord <= n.NumExtraOutputs
}

// NumSuccessors is the number of control-flow successors of the node.
func (n *Node) NumSuccessors() int {
	if n.Has(FlagTailCall) {
		if n.Has(FlagTailCallTransformed) {
			return 1
		}
		return 0
	}
	s := 0
	if !n.Has(FlagBarrier) {
		s++
	}
	if n.Has(FlagBranch) {
		s++
	}
	return s
}

// IsTerminal reports whether the node must end its block.
func (n *Node) IsTerminal() bool { return n.NumSuccessors() != 1 }

// Name is the display name of the node: the opcode for guest nodes.
func (n *Node) Name() string {
	if n.Kind == KindGuest {
		s := n.Op.String()
		switch n.Spec.Kind {
		case SpecPrologue:
			s += fmt.Sprintf(".prologue[%d]", n.Spec.Site)
		case SpecEpilogue:
			s += fmt.Sprintf(".epilogue[%d]", n.Spec.Site)
		}
		return s
	}
	return n.Kind.String()
}
