package dfg

import (
	"fmt"
	"strings"
)

// Dump renders g as text for debugging.
func Dump(g *Graph) string {
	var sb strings.Builder
	name := "?"
	if g.root != nil {
		name = g.root.Name
	}
	fmt.Fprintf(&sb, "; dfg %s: %d blocks, %d nodes, %d frames, %d vregs, %d slots\n",
		name, len(g.Blocks), g.NumNodes(), len(g.Frames), g.totalVRegs, g.totalSlots)

	for _, f := range g.Frames {
		dumpFrame(&sb, f)
	}
	for _, b := range g.Blocks {
		dumpBlock(&sb, b)
	}
	return sb.String()
}

func dumpFrame(sb *strings.Builder, f *InlinedCallFrame) {
	fmt.Fprintf(sb, "frame %d: %s", f.ordinal, f.fn.Name)
	if f.root {
		sb.WriteString(" root")
	} else {
		fmt.Fprintf(sb, " <- %v site %d", f.CallerOrigin(), f.site)
		if f.direct {
			fmt.Fprintf(sb, " direct #%d", f.directObject)
		} else {
			sb.WriteString(" closure")
		}
		if f.tail {
			sb.WriteString(" tail")
		}
		if f.staticVarArgs {
			fmt.Fprintf(sb, " varargs=%d", f.maxVarArgs)
		} else {
			fmt.Fprintf(sb, " varargs<=%d", f.maxVarArgs)
		}
	}
	fmt.Fprintf(sb, " base=%d regs=%v\n", f.base, f.localRegs)
}

func dumpBlock(sb *strings.Builder, b *BasicBlock) {
	fmt.Fprintf(sb, "b%d head=%v", b.id, b.BytecodeAtHead)
	if b.InPlaceCallRcFrameLocalOrd >= 0 {
		fmt.Fprintf(sb, " inplace>=%d", b.InPlaceCallRcFrameLocalOrd)
	}
	if len(b.Preds) > 0 {
		sb.WriteString(" preds=")
		for i, p := range b.Preds {
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(sb, "b%d", p.id)
		}
	}
	sb.WriteString(" ->")
	for _, s := range b.Successors() {
		if s == nil {
			sb.WriteString(" ?")
			continue
		}
		fmt.Fprintf(sb, " b%d", s.id)
	}
	sb.WriteByte('\n')
	for _, n := range b.Nodes {
		sb.WriteString("  ")
		sb.WriteString(FormatNode(n))
		sb.WriteByte('\n')
	}
}

// FormatNode renders one node on a single line.
func FormatNode(n *Node) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "n%d", n.id)
	if n.NumOutputs() > 0 {
		fmt.Fprintf(&sb, "/%d", n.NumOutputs())
	}
	sb.WriteString(" = ")
	sb.WriteString(n.Name())

	switch n.Kind {
	case KindGetLocal, KindSetLocal:
		fmt.Fprintf(&sb, "[f%d:%v]", n.Local.Frame.ordinal, n.Local.Loc)
	case KindShadowStore:
		fmt.Fprintf(&sb, "[s%d]", n.Slot)
	case KindShadowStoreUndefToRange:
		fmt.Fprintf(&sb, "[s%d..s%d)", n.Slot, n.Slot+n.RangeLen)
	case KindGetUpvalue:
		fmt.Fprintf(&sb, "[%d", n.Param)
		if n.Immutable {
			sb.WriteString(" imm")
		}
		sb.WriteByte(']')
	case KindSetUpvalue, KindGetKthVariadicRes, KindCreateVariadicRes, KindCreateFunctionObject,
		KindCheckU64InBound, KindU64SaturateSub:
		fmt.Fprintf(&sb, "[%d]", n.Param)
	}

	sb.WriteByte('(')
	for i, in := range n.Inputs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(formatInput(in))
	}
	sb.WriteByte(')')

	if n.Has(FlagAccessesVR) {
		fmt.Fprintf(&sb, " vr=%s", vrName(n.VRInput))
	}
	if n.Has(FlagMayOsrExit) {
		fmt.Fprintf(&sb, " exit=%v", n.Exit)
	}
	if !n.Has(FlagExitOK) {
		sb.WriteString(" !exit")
	}
	fmt.Fprintf(&sb, " @%v", n.Origin)
	return sb.String()
}

func formatInput(v Value) string {
	n := v.Node
	if n == nil {
		return "<nil>"
	}
	switch n.Kind {
	case KindConstant:
		return n.Const.String()
	case KindUnboxedConstant:
		return fmt.Sprintf("#%d", n.Unboxed)
	case KindUndefValue:
		return "undef"
	case KindArgument:
		return fmt.Sprintf("arg%d", n.Param)
	case KindGetKthVariadicArg:
		return fmt.Sprintf("vararg%d", n.Param)
	case KindGetNumVariadicArgs:
		return "nvarargs"
	case KindGetFunctionObject:
		return "funcobj"
	}
	return v.String()
}
