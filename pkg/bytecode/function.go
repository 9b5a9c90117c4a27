package bytecode

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FrameHeaderSlots is the number of interpreter slots reserved for a call
// frame header (function object, vararg count, return address, caller base).
// Call-shaped instructions place their arguments at base+FrameHeaderSlots.
const FrameHeaderSlots = 4

// ErrUnknownFunction is returned when a function name cannot be resolved.
var ErrUnknownFunction = errors.New("bytecode: unknown function")

// ValueKind tags the payload of a constant Value.
type ValueKind uint8

const (
	KindNil ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindProto // a function prototype, named by Str
)

var valueKindNames = [...]string{"nil", "bool", "int", "float", "string", "proto"}

func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText encodes the kind by name.
func (k ValueKind) MarshalText() ([]byte, error) {
	if int(k) >= len(valueKindNames) {
		return nil, fmt.Errorf("bytecode: unknown value kind %d", uint8(k))
	}
	return []byte(valueKindNames[k]), nil
}

// UnmarshalText decodes a kind from its name.
func (k *ValueKind) UnmarshalText(text []byte) error {
	s := strings.ToLower(string(text))
	for i, name := range valueKindNames {
		if name == s {
			*k = ValueKind(i)
			return nil
		}
	}
	return fmt.Errorf("bytecode: unknown value kind %q", text)
}

// Value is a constant operand. Values are comparable, so they can key maps.
type Value struct {
	Kind  ValueKind `cbor:"1,keyasint" toml:"kind"`
	Bool  bool      `cbor:"2,keyasint,omitempty" toml:"bool,omitempty"`
	Int   int64     `cbor:"3,keyasint,omitempty" toml:"int,omitempty"`
	Float float64   `cbor:"4,keyasint,omitempty" toml:"float,omitempty"`
	Str   string    `cbor:"5,keyasint,omitempty" toml:"str,omitempty"`
}

func NilValue() Value { return Value{Kind: KindNil} }
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }
func IntValue(n int64) Value { return Value{Kind: KindInt, Int: n} }
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func ProtoValue(name string) Value { return Value{Kind: KindProto, Str: name} }

// IsNil reports whether v is the nil constant.
func (v Value) IsNil() bool { return v.Kind == KindNil }

func (v Value) String() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		if math.IsInf(v.Float, 0) || math.IsNaN(v.Float) {
			return fmt.Sprintf("%v", v.Float)
		}
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.Str)
	case KindProto:
		return "<proto " + v.Str + ">"
	}
	return v.Kind.String()
}

// Instr is one decoded register-bytecode instruction.
// Target is only meaningful for instructions that may branch.
type Instr struct {
	Op     Opcode     `cbor:"1,keyasint" toml:"op"`
	A      int        `cbor:"2,keyasint,omitempty" toml:"a,omitempty"`
	B      int        `cbor:"3,keyasint,omitempty" toml:"b,omitempty"`
	C      int        `cbor:"4,keyasint,omitempty" toml:"c,omitempty"`
	Target int        `cbor:"5,keyasint,omitempty" toml:"target,omitempty"`
	Sites  []CallSite `cbor:"6,keyasint,omitempty" toml:"sites,omitempty"`
}

// UpvalueDesc describes one capture of a closure prototype.
// A parent-local upvalue captures slot Slot of the creating frame; otherwise
// it forwards upvalue Slot of the creating closure.
type UpvalueDesc struct {
	ParentLocal bool `cbor:"1,keyasint" toml:"parent-local"`
	Immutable   bool `cbor:"2,keyasint" toml:"immutable"`
	Slot        int  `cbor:"3,keyasint" toml:"slot"`
}

// Function is one bytecode function together with its baseline profile.
type Function struct {
	ID           int           `cbor:"-" toml:"-"`
	Name         string        `cbor:"1,keyasint" toml:"name"`
	NumFixedArgs int           `cbor:"2,keyasint" toml:"args"`
	IsVariadic   bool          `cbor:"3,keyasint,omitempty" toml:"variadic,omitempty"`
	NumLocals    int           `cbor:"4,keyasint" toml:"locals"`
	Code         []Instr       `cbor:"5,keyasint" toml:"code"`
	Constants    []Value       `cbor:"6,keyasint,omitempty" toml:"constants,omitempty"`
	Upvalues     []UpvalueDesc `cbor:"7,keyasint,omitempty" toml:"upvalues,omitempty"`

	// Tiered is set once the function has run in the baseline tier, so its
	// call-site profiles are meaningful.
	Tiered bool `cbor:"8,keyasint,omitempty" toml:"tiered,omitempty"`

	// MaxObservedVarArgs is the largest vararg count the baseline tier saw.
	MaxObservedVarArgs int `cbor:"9,keyasint,omitempty" toml:"max-observed-varargs,omitempty"`
}

// NumBytecodes returns the instruction count.
func (f *Function) NumBytecodes() int { return len(f.Code) }

// Program is a set of functions addressed by name.
type Program struct {
	Functions []*Function `cbor:"1,keyasint" toml:"function"`

	byName map[string]*Function
}

// NewProgram links and validates the given functions.
func NewProgram(fns ...*Function) (*Program, error) {
	p := &Program{Functions: fns}
	if err := p.Link(); err != nil {
		return nil, err
	}
	return p, nil
}

// Link assigns function IDs, builds the name index and validates every function.
func (p *Program) Link() error {
	p.byName = make(map[string]*Function, len(p.Functions))
	for i, fn := range p.Functions {
		if fn == nil {
			return fmt.Errorf("bytecode: function %d is nil", i)
		}
		if fn.Name == "" {
			return fmt.Errorf("bytecode: function %d has no name", i)
		}
		if _, dup := p.byName[fn.Name]; dup {
			return fmt.Errorf("bytecode: duplicate function %q", fn.Name)
		}
		fn.ID = i
		p.byName[fn.Name] = fn
	}
	for _, fn := range p.Functions {
		if err := p.validate(fn); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the function with the given name.
func (p *Program) Lookup(name string) (*Function, error) {
	if p.byName == nil {
		if err := p.Link(); err != nil {
			return nil, err
		}
	}
	if fn, ok := p.byName[name]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownFunction, name)
}

// validate checks that every operand of fn stays inside its frame.
func (p *Program) validate(fn *Function) error {
	fail := func(pc int, format string, args ...any) error {
		return fmt.Errorf("bytecode: %s@%d (%s): %s", fn.Name, pc, fn.Code[pc].Op, fmt.Sprintf(format, args...))
	}
	if len(fn.Code) == 0 {
		return fmt.Errorf("bytecode: %s: empty function", fn.Name)
	}
	if fn.NumFixedArgs < 0 || fn.NumFixedArgs > fn.NumLocals {
		return fmt.Errorf("bytecode: %s: %d args do not fit in %d locals", fn.Name, fn.NumFixedArgs, fn.NumLocals)
	}
	if last := fn.Code[len(fn.Code)-1].Op; !last.IsBarrier() {
		return fmt.Errorf("bytecode: %s: falls off the end after %s", fn.Name, last)
	}
	local := func(r int) bool { return r >= 0 && r < fn.NumLocals }
	span := func(start, n int) bool { return start >= 0 && n >= 0 && start+n <= fn.NumLocals }
	konst := func(k int) bool { return k >= 0 && k < len(fn.Constants) }

	for pc, in := range fn.Code {
		if _, ok := opcodeInfoTable[in.Op]; !ok {
			return fail(pc, "unknown opcode")
		}
		if in.Op.MayBranch() && (in.Target < 0 || in.Target >= len(fn.Code)) {
			return fail(pc, "branch target %d out of range", in.Target)
		}
		ok := true
		switch in.Op {
		case OpNop, OpJmp, OpRet0, OpVargAll:
		case OpMov, OpNot:
			ok = local(in.A) && local(in.B)
		case OpKSet:
			ok = local(in.A) && konst(in.B)
		case OpKNil, OpVarg, OpRet, OpRetM:
			ok = span(in.A, in.B)
		case OpAdd, OpSub, OpMul, OpLt:
			ok = local(in.A) && local(in.B) && local(in.C)
		case OpJt, OpJf:
			ok = local(in.A)
		case OpJlt:
			ok = local(in.A) && local(in.B)
		case OpUClose:
			ok = in.A >= 0 && in.A <= fn.NumLocals
		case OpCall, OpCallM:
			ok = local(in.A) && span(in.A+FrameHeaderSlots, in.B) && span(in.A, in.C)
		case OpCallV, OpTailCall, OpTailCallM:
			ok = local(in.A) && span(in.A+FrameHeaderSlots, in.B)
		case OpCall1, OpCallT:
			ok = local(in.A) && local(in.B) && span(in.B+FrameHeaderSlots, in.C)
		case OpClosure:
			ok = local(in.A) && konst(in.B)
			if ok {
				k := fn.Constants[in.B]
				if k.Kind != KindProto {
					return fail(pc, "constant %d is not a prototype", in.B)
				}
				proto, found := p.byName[k.Str]
				if !found {
					return fail(pc, "%v %q", ErrUnknownFunction, k.Str)
				}
				for i, uv := range proto.Upvalues {
					if uv.ParentLocal && !local(uv.Slot) {
						return fail(pc, "upvalue %d of %s captures slot %d", i, proto.Name, uv.Slot)
					}
				}
			}
		case OpUGet, OpUGetM:
			ok = local(in.A) && in.B >= 0 && in.B < len(fn.Upvalues)
		case OpUSet:
			ok = in.A >= 0 && in.A < len(fn.Upvalues) && local(in.B)
		case OpUSetK:
			ok = in.A >= 0 && in.A < len(fn.Upvalues) && konst(in.B)
		case OpPack:
			ok = local(in.A)
		}
		if !ok {
			return fail(pc, "operand out of range (a=%d b=%d c=%d, %d locals)", in.A, in.B, in.C, fn.NumLocals)
		}
		if len(in.Sites) > 0 && !in.Op.IsCall() {
			return fail(pc, "call-site profile on a non-call instruction")
		}
		for s, site := range in.Sites {
			for _, t := range site.Targets {
				if t.Native != "" {
					continue
				}
				if _, found := p.byName[t.Callee]; !found {
					return fail(pc, "site %d: %v %q", s, ErrUnknownFunction, t.Callee)
				}
			}
		}
	}
	return nil
}
