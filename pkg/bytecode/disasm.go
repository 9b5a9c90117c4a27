package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of fn.
func Disassemble(fn *Function) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("; === %s ===\n", fn.Name))
	sb.WriteString(fmt.Sprintf("; Args: %d", fn.NumFixedArgs))
	if fn.IsVariadic {
		sb.WriteString(" [VARIADIC]")
	}
	if fn.Tiered {
		sb.WriteString(" [TIERED]")
	}
	sb.WriteString(fmt.Sprintf("\n; Locals: %d slots\n", fn.NumLocals))

	// Upvalues
	if len(fn.Upvalues) > 0 {
		sb.WriteString(fmt.Sprintf("; Upvalues (%d):", len(fn.Upvalues)))
		for i, uv := range fn.Upvalues {
			src := "u"
			if uv.ParentLocal {
				src = "r"
			}
			mode := "mut"
			if uv.Immutable {
				mode = "imm"
			}
			sb.WriteString(fmt.Sprintf(" [%d]=%s%d/%s", i, src, uv.Slot, mode))
		}
		sb.WriteString("\n")
	}

	// Constants
	if len(fn.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, k := range fn.Constants {
			sb.WriteString(fmt.Sprintf(";   [%d] %s\n", i, k))
		}
	}
	sb.WriteString("\n")

	for pc, in := range fn.Code {
		sb.WriteString(DisassembleInstruction(fn, pc, in))
		sb.WriteString("\n")
	}
	return sb.String()
}

// DisassembleInstruction formats one instruction.
func DisassembleInstruction(fn *Function, pc int, in Instr) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%04d  %-10s", pc, in.Op))

	switch in.Op {
	case OpNop, OpRet0, OpVargAll:
	case OpMov, OpNot:
		sb.WriteString(fmt.Sprintf("r%d r%d", in.A, in.B))
	case OpKSet:
		sb.WriteString(fmt.Sprintf("r%d k%d", in.A, in.B))
		if in.B >= 0 && in.B < len(fn.Constants) {
			sb.WriteString(fmt.Sprintf("  ; %s", fn.Constants[in.B]))
		}
	case OpClosure:
		sb.WriteString(fmt.Sprintf("r%d k%d", in.A, in.B))
		if in.B >= 0 && in.B < len(fn.Constants) {
			sb.WriteString(fmt.Sprintf("  ; %s", fn.Constants[in.B]))
		}
	case OpKNil, OpVarg, OpRet, OpRetM:
		sb.WriteString(fmt.Sprintf("r%d #%d", in.A, in.B))
	case OpAdd, OpSub, OpMul, OpLt:
		sb.WriteString(fmt.Sprintf("r%d r%d r%d", in.A, in.B, in.C))
	case OpJmp:
		sb.WriteString(fmt.Sprintf("-> %04d", in.Target))
	case OpJt, OpJf:
		sb.WriteString(fmt.Sprintf("r%d -> %04d", in.A, in.Target))
	case OpJlt:
		sb.WriteString(fmt.Sprintf("r%d r%d -> %04d", in.A, in.B, in.Target))
	case OpUClose:
		sb.WriteString(fmt.Sprintf("r%d -> %04d", in.A, in.Target))
	case OpCall, OpCallM:
		sb.WriteString(fmt.Sprintf("r%d #%d -> #%d", in.A, in.B, in.C))
	case OpCallV, OpTailCall, OpTailCallM:
		sb.WriteString(fmt.Sprintf("r%d #%d", in.A, in.B))
	case OpCall1, OpCallT:
		sb.WriteString(fmt.Sprintf("r%d = r%d #%d", in.A, in.B, in.C))
	case OpUGet, OpUGetM:
		sb.WriteString(fmt.Sprintf("r%d u%d", in.A, in.B))
	case OpUSet:
		sb.WriteString(fmt.Sprintf("u%d r%d", in.A, in.B))
	case OpUSetK:
		sb.WriteString(fmt.Sprintf("u%d k%d", in.A, in.B))
	case OpPack:
		sb.WriteString(fmt.Sprintf("r%d", in.A))
	default:
		sb.WriteString(fmt.Sprintf("%d %d %d", in.A, in.B, in.C))
	}

	for i, site := range in.Sites {
		sb.WriteString(fmt.Sprintf("  ; site%d %s/%s", i, site.Mode, site.State))
		for _, t := range site.Targets {
			sb.WriteString(" " + t.String())
		}
	}
	return sb.String()
}
