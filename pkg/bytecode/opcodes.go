package bytecode

import (
	"fmt"
	"strings"
)

// Opcode identifies a register-bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Moves and constants (0x00-0x0F)
	// ========================================================================

	OpNop  Opcode = 0x00 // No operation
	OpMov  Opcode = 0x01 // R[A] = R[B]
	OpKSet Opcode = 0x02 // R[A] = K[B]
	OpKNil Opcode = 0x03 // R[A..A+B) = nil

	// ========================================================================
	// Arithmetic and comparison (0x10-0x1F)
	// ========================================================================

	OpAdd Opcode = 0x10 // R[A] = R[B] + R[C]
	OpSub Opcode = 0x11 // R[A] = R[B] - R[C]
	OpMul Opcode = 0x12 // R[A] = R[B] * R[C]
	OpLt  Opcode = 0x13 // R[A] = R[B] < R[C]
	OpNot Opcode = 0x14 // R[A] = not R[B]

	// ========================================================================
	// Control flow (0x20-0x2F)
	// ========================================================================

	OpJmp    Opcode = 0x20 // goto T
	OpJt     Opcode = 0x21 // if R[A] goto T
	OpJf     Opcode = 0x22 // if not R[A] goto T
	OpJlt    Opcode = 0x23 // if R[A] < R[B] goto T
	OpUClose Opcode = 0x24 // close upvalues >= A, goto T

	// ========================================================================
	// Calls (0x30-0x3F)
	// Callee lives in R[base], arguments start at R[base+4].
	// ========================================================================

	OpCall      Opcode = 0x30 // R[A..A+C) = R[A](R[A+4..A+4+B))
	OpCallV     Opcode = 0x31 // VR = R[A](R[A+4..A+4+B))
	OpCallM     Opcode = 0x32 // R[A..A+C) = R[A](R[A+4..A+4+B), VR...)
	OpCall1     Opcode = 0x33 // R[A] = first result of R[B](R[B+4..B+4+C))
	OpCallT     Opcode = 0x34 // R[A] = truthiness of first result of R[B](R[B+4..B+4+C))
	OpTailCall  Opcode = 0x35 // return R[A](R[A+4..A+4+B))
	OpTailCallM Opcode = 0x36 // return R[A](R[A+4..A+4+B), VR...)

	// ========================================================================
	// Closures and upvalues (0x40-0x4F)
	// ========================================================================

	OpClosure Opcode = 0x40 // R[A] = closure of function B
	OpUGet    Opcode = 0x41 // R[A] = U[B], immutable upvalue
	OpUGetM   Opcode = 0x42 // R[A] = U[B], mutable upvalue
	OpUSet    Opcode = 0x43 // U[A] = R[B]
	OpUSetK   Opcode = 0x44 // U[A] = K[B]

	// ========================================================================
	// Variadic arguments and results (0x50-0x5F)
	// ========================================================================

	OpVarg    Opcode = 0x50 // R[A..A+B) = varargs
	OpVargAll Opcode = 0x51 // VR = all varargs
	OpPack    Opcode = 0x52 // R[A] = table of VR

	// ========================================================================
	// Return (0x60-0x6F)
	// ========================================================================

	OpRet0 Opcode = 0x60 // return
	OpRet  Opcode = 0x61 // return R[A..A+B)
	OpRetM Opcode = 0x62 // return R[A..A+B), VR...
)

// OpcodeFlags describes static control-flow properties of an opcode.
type OpcodeFlags uint8

const (
	// FlagBarrier means control never falls through to the next instruction.
	FlagBarrier OpcodeFlags = 1 << iota
	// FlagBranch means the instruction may transfer control to its target T.
	FlagBranch
	// FlagTailCall means the instruction may perform a tail call.
	FlagTailCall
	// FlagMayExit means the optimized code for the instruction may OSR-exit.
	FlagMayExit
)

// OpcodeInfo contains metadata about an opcode.
type OpcodeInfo struct {
	Name      string
	Flags     OpcodeFlags
	Intrinsic IntrinsicKind
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Moves and constants
	OpNop:  {"NOP", 0, IntrinsicNone},
	OpMov:  {"MOV", 0, IntrinsicNone},
	OpKSet: {"KSET", 0, IntrinsicNone},
	OpKNil: {"KNIL", 0, IntrinsicNone},

	// Arithmetic and comparison
	OpAdd: {"ADD", FlagMayExit, IntrinsicNone},
	OpSub: {"SUB", FlagMayExit, IntrinsicNone},
	OpMul: {"MUL", FlagMayExit, IntrinsicNone},
	OpLt:  {"LT", FlagMayExit, IntrinsicNone},
	OpNot: {"NOT", 0, IntrinsicNone},

	// Control flow
	OpJmp:    {"JMP", FlagBarrier | FlagBranch, IntrinsicNone},
	OpJt:     {"JT", FlagBranch, IntrinsicNone},
	OpJf:     {"JF", FlagBranch, IntrinsicNone},
	OpJlt:    {"JLT", FlagBranch | FlagMayExit, IntrinsicNone},
	OpUClose: {"UCLOSE", FlagBarrier | FlagBranch, IntrinsicUpvalueClose},

	// Calls
	OpCall:      {"CALL", 0, IntrinsicNone},
	OpCallV:     {"CALLV", 0, IntrinsicNone},
	OpCallM:     {"CALLM", 0, IntrinsicNone},
	OpCall1:     {"CALL1", 0, IntrinsicNone},
	OpCallT:     {"CALLT", 0, IntrinsicNone},
	OpTailCall:  {"TAILCALL", FlagBarrier | FlagTailCall, IntrinsicNone},
	OpTailCallM: {"TAILCALLM", FlagBarrier | FlagTailCall, IntrinsicNone},

	// Closures and upvalues
	OpClosure: {"CLOSURE", 0, IntrinsicCreateClosure},
	OpUGet:    {"UGET", 0, IntrinsicUpvalueGetImmutable},
	OpUGetM:   {"UGETM", 0, IntrinsicUpvalueGetMutable},
	OpUSet:    {"USET", 0, IntrinsicUpvaluePut},
	OpUSetK:   {"USETK", 0, IntrinsicUpvaluePut},

	// Variadic arguments and results
	OpVarg:    {"VARG", 0, IntrinsicGetVarArgPrefix},
	OpVargAll: {"VARGALL", 0, IntrinsicGetAllVarArgsAsVarRet},
	OpPack:    {"PACK", 0, IntrinsicNone},

	// Return
	OpRet0: {"RET0", FlagBarrier, IntrinsicReturn0},
	OpRet:  {"RET", FlagBarrier, IntrinsicReturn},
	OpRetM: {"RETM", FlagBarrier, IntrinsicReturnAppendingVarRet},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// MarshalText encodes the opcode by name, so fixtures stay readable.
func (op Opcode) MarshalText() ([]byte, error) {
	if _, ok := opcodeInfoTable[op]; !ok {
		return nil, fmt.Errorf("bytecode: unknown opcode 0x%02X", byte(op))
	}
	return []byte(op.String()), nil
}

// UnmarshalText decodes an opcode from its name (case-insensitive).
func (op *Opcode) UnmarshalText(text []byte) error {
	got, ok := ParseOpcode(string(text))
	if !ok {
		return fmt.Errorf("bytecode: unknown opcode %q", text)
	}
	*op = got
	return nil
}

// ParseOpcode looks an opcode up by name.
func ParseOpcode(name string) (Opcode, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for op, info := range opcodeInfoTable {
		if info.Name == name {
			return op, true
		}
	}
	return 0, false
}

// IsBarrier returns true if control never falls through this opcode.
func (op Opcode) IsBarrier() bool {
	return GetOpcodeInfo(op).Flags&FlagBarrier != 0
}

// MayBranch returns true if this opcode has a branch target.
func (op Opcode) MayBranch() bool {
	return GetOpcodeInfo(op).Flags&FlagBranch != 0
}

// MayTailCall returns true if this opcode makes a tail call.
func (op Opcode) MayTailCall() bool {
	return GetOpcodeInfo(op).Flags&FlagTailCall != 0
}

// MayOsrExit returns true if optimized code for this opcode may deoptimize.
func (op Opcode) MayOsrExit() bool {
	return GetOpcodeInfo(op).Flags&FlagMayExit != 0
}

// IsCall returns true if this opcode is call-shaped.
func (op Opcode) IsCall() bool {
	return op >= OpCall && op <= OpTailCallM
}

// IsReturn returns true if this opcode returns from the function.
func (op Opcode) IsReturn() bool {
	return op >= OpRet0 && op <= OpRetM
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
