package bytecode

// FunctionBuilder assembles a Function instruction by instruction.
// It is meant for tests and hand-written fixtures.
type FunctionBuilder struct {
	fn *Function
}

// NewFunction starts a tiered function with the given arity and frame size.
func NewFunction(name string, numFixedArgs, numLocals int) *FunctionBuilder {
	return &FunctionBuilder{fn: &Function{
		Name:         name,
		NumFixedArgs: numFixedArgs,
		NumLocals:    numLocals,
		Tiered:       true,
	}}
}

// Variadic marks the function variadic with the given profiled maximum
// vararg count.
func (b *FunctionBuilder) Variadic(maxObserved int) *FunctionBuilder {
	b.fn.IsVariadic = true
	b.fn.MaxObservedVarArgs = maxObserved
	return b
}

// Untiered marks the function as never having run in the baseline tier.
func (b *FunctionBuilder) Untiered() *FunctionBuilder {
	b.fn.Tiered = false
	return b
}

// Upvalue appends an upvalue descriptor.
func (b *FunctionBuilder) Upvalue(parentLocal, immutable bool, slot int) *FunctionBuilder {
	b.fn.Upvalues = append(b.fn.Upvalues, UpvalueDesc{ParentLocal: parentLocal, Immutable: immutable, Slot: slot})
	return b
}

// Const interns v in the constant table and returns its index.
func (b *FunctionBuilder) Const(v Value) int {
	for i, k := range b.fn.Constants {
		if k == v {
			return i
		}
	}
	b.fn.Constants = append(b.fn.Constants, v)
	return len(b.fn.Constants) - 1
}

// Here returns the index the next emitted instruction will get.
func (b *FunctionBuilder) Here() int { return len(b.fn.Code) }

// Emit appends an instruction with operands A, B, C (missing ones are zero)
// and returns its index.
func (b *FunctionBuilder) Emit(op Opcode, operands ...int) int {
	in := Instr{Op: op}
	for i, v := range operands {
		switch i {
		case 0:
			in.A = v
		case 1:
			in.B = v
		case 2:
			in.C = v
		}
	}
	b.fn.Code = append(b.fn.Code, in)
	return len(b.fn.Code) - 1
}

// Branch appends a branching instruction targeting target.
func (b *FunctionBuilder) Branch(op Opcode, target int, operands ...int) int {
	pc := b.Emit(op, operands...)
	b.fn.Code[pc].Target = target
	return pc
}

// Patch sets the branch target of the instruction at pc.
func (b *FunctionBuilder) Patch(pc, target int) *FunctionBuilder {
	b.fn.Code[pc].Target = target
	return b
}

// Observe records a profiled call site on the instruction at pc, seen calling
// each target once.
func (b *FunctionBuilder) Observe(pc int, mode CallMode, targets ...CallTarget) *FunctionBuilder {
	site := CallSite{Mode: mode}
	for _, t := range targets {
		site.Observe(t)
	}
	b.fn.Code[pc].Sites = append(b.fn.Code[pc].Sites, site)
	return b
}

// Build returns the assembled function.
func (b *FunctionBuilder) Build() *Function { return b.fn }

// Direct returns a direct-call target for the named function object.
func Direct(callee string, object uint64) CallTarget {
	return CallTarget{Callee: callee, Object: object}
}

// Closure returns a closure-call target for the named prototype.
func Closure(callee string) CallTarget {
	return CallTarget{Callee: callee}
}

// Native returns a host-function target.
func Native(name string) CallTarget {
	return CallTarget{Native: name}
}
