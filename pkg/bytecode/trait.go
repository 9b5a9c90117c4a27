package bytecode

// ReturnContinuation classifies what a call does with its results once the
// callee returns.
type ReturnContinuation uint8

const (
	// RCNotTrivial means the call instruction itself must run again to
	// consume the results.
	RCNotTrivial ReturnContinuation = iota
	// RCReturnKth stores result RCNum into the instruction's direct output.
	RCReturnKth
	// RCStoreFirstK stores the first RCNum results starting at local RCRangeStart.
	RCStoreFirstK
	// RCStoreAll leaves every result as the variadic results.
	RCStoreAll
)

func (rc ReturnContinuation) String() string {
	switch rc {
	case RCNotTrivial:
		return "not-trivial"
	case RCReturnKth:
		return "return-kth"
	case RCStoreFirstK:
		return "store-first-k"
	case RCStoreAll:
		return "store-all"
	}
	return "unknown"
}

// InliningTrait describes how a call-shaped instruction passes arguments and
// consumes results, resolved for one instruction.
type InliningTrait struct {
	TailCall       bool
	InPlaceCall    bool
	AppendsVarRets bool

	// Range arguments are read from locals [RangeStart, RangeStart+RangeLen).
	// RangeLocation is where they sit among the prologue's extra outputs.
	HasRangeArgs  bool
	RangeStart    int
	RangeLen      int
	RangeLocation int

	// NumExtraOutputs is the number of singleton arguments the prologue produces.
	NumExtraOutputs int

	// ReducedReads lists the locals the prologue still reads once the call is
	// inlined. Nil keeps the instruction's full read list.
	ReducedReads []int

	RC           ReturnContinuation
	RCNum        int
	RCRangeStart int
}

type traitShape func(in Instr) *InliningTrait

// traitShapes is the per-opcode trait table for call-shaped instructions.
var traitShapes = map[Opcode]traitShape{
	OpCall: func(in Instr) *InliningTrait {
		return &InliningTrait{
			InPlaceCall:  true,
			HasRangeArgs: true,
			RangeStart:   in.A + FrameHeaderSlots,
			RangeLen:     in.B,
			ReducedReads: []int{in.A},
			RC:           RCStoreFirstK,
			RCNum:        in.C,
			RCRangeStart: in.A,
		}
	},
	OpCallV: func(in Instr) *InliningTrait {
		return &InliningTrait{
			InPlaceCall:  true,
			HasRangeArgs: true,
			RangeStart:   in.A + FrameHeaderSlots,
			RangeLen:     in.B,
			ReducedReads: []int{in.A},
			RC:           RCStoreAll,
		}
	},
	OpCallM: func(in Instr) *InliningTrait {
		return &InliningTrait{
			InPlaceCall:    true,
			AppendsVarRets: true,
			HasRangeArgs:   true,
			RangeStart:     in.A + FrameHeaderSlots,
			RangeLen:       in.B,
			ReducedReads:   []int{in.A},
			RC:             RCStoreFirstK,
			RCNum:          in.C,
			RCRangeStart:   in.A,
		}
	},
	OpCall1: func(in Instr) *InliningTrait {
		return &InliningTrait{
			HasRangeArgs: true,
			RangeStart:   in.B + FrameHeaderSlots,
			RangeLen:     in.C,
			ReducedReads: []int{in.B},
			RC:           RCReturnKth,
		}
	},
	OpCallT: func(in Instr) *InliningTrait {
		return &InliningTrait{
			HasRangeArgs: true,
			RangeStart:   in.B + FrameHeaderSlots,
			RangeLen:     in.C,
			ReducedReads: []int{in.B},
			RC:           RCNotTrivial,
		}
	},
	OpTailCall: func(in Instr) *InliningTrait {
		return &InliningTrait{
			TailCall:     true,
			HasRangeArgs: true,
			RangeStart:   in.A + FrameHeaderSlots,
			RangeLen:     in.B,
			ReducedReads: []int{in.A},
		}
	},
	OpTailCallM: func(in Instr) *InliningTrait {
		return &InliningTrait{
			TailCall:       true,
			AppendsVarRets: true,
			HasRangeArgs:   true,
			RangeStart:     in.A + FrameHeaderSlots,
			RangeLen:       in.B,
			ReducedReads:   []int{in.A},
		}
	},
}
