package dfg

import (
	"github.com/chazu/dfgjit/pkg/bytecode"
	"github.com/tliron/commonlog"
)

var builderLog = commonlog.GetLogger("dfg.builder")

// translation is the result of translating one frame: its blocks in order
// and the block control enters through.
type translation struct {
	entry  *BasicBlock
	blocks []*BasicBlock
}

// pendingEdge is a successor edge whose target block was not built yet.
type pendingEdge struct {
	from   *BasicBlock
	succ   int
	target int // primitive block ordinal
}

// translator builds the IR of one frame. The per-block state (value cache,
// capture state, current variadic results, exit state) is reset at every
// block boundary.
type translator struct {
	g      *Graph
	opts   *Options
	frame  *InlinedCallFrame
	fn     *bytecode.Function
	dec    *bytecode.Decoder
	cfi    *ControlFlowInfo
	vregs  *VRegAllocator
	budget int

	mainBlocks []*BasicBlock
	blocks     []*BasicBlock
	pending    []pendingEdge
	entry      *BasicBlock

	cur         *BasicBlock
	prim        *PrimBlock
	captured    []bool
	values      []Value // per local: the value, or the cell of a captured local
	varArgs     []Value
	funcObj     Value
	numVarArgs  Value
	currentVR   *Node
	vrClobbered bool

	exitOK bool
	origin CodeOrigin
	exit   OsrExitDestination
}

// translate builds the IR of frame, recursively inlining callees.
func translate(g *Graph, frame *InlinedCallFrame, vregs *VRegAllocator, opts *Options) *translation {
	fn := frame.fn
	dec := bytecode.NewDecoder(g.prog, fn)
	cfi := AnalyzeControlFlow(dec)
	frame.liveness = ComputeLiveness(dec, cfi)

	t := &translator{
		g:          g,
		opts:       opts,
		frame:      frame,
		fn:         fn,
		dec:        dec,
		cfi:        cfi,
		vregs:      vregs,
		budget:     initialBudget(frame, &opts.Inliner),
		mainBlocks: make([]*BasicBlock, len(cfi.Blocks)),
		captured:   make([]bool, fn.NumLocals),
		values:     make([]Value, fn.NumLocals),
	}
	builderLog.Debugf("translating %s in frame %d (%d blocks, budget %d)", fn.Name, frame.ordinal, len(cfi.Blocks), t.budget)

	for ord := range cfi.Blocks {
		t.buildBlock(ord)
	}
	t.buildEntry()
	t.finalize()
	return &translation{entry: t.entry, blocks: t.blocks}
}

func (t *translator) addBlock(b *BasicBlock) { t.blocks = append(t.blocks, b) }

// push appends n to the current block, stamping the current exit state.
func (t *translator) push(n *Node) {
	invariant(t.cur != nil, "%s: emitting %s with no current block", t.fn.Name, n.Name())
	n.Origin = t.origin
	n.Exit = t.exit
	n.Set(FlagExitOK, t.exitOK)
	invariant(!n.Has(FlagMayOsrExit) || t.exitOK, "%s at %v may exit where exits are disallowed", n.Name(), t.origin)
	t.cur.Push(n)
}

func (t *translator) emit(kind NodeKind, direct bool, inputs ...Value) *Node {
	n := t.g.newNode(kind)
	n.Inputs = inputs
	n.HasDirectOutput = direct
	t.push(n)
	return n
}

func (t *translator) loadFrom(frame *InlinedCallFrame, loc FrameLocation) Value {
	n := t.emit(KindGetLocal, true)
	n.Local = LocalAccess{Frame: frame, Loc: loc}
	return n.Out(0)
}

func (t *translator) load(loc FrameLocation) Value { return t.loadFrom(t.frame, loc) }

func (t *translator) storeTo(frame *InlinedCallFrame, loc FrameLocation, v Value) *Node {
	n := t.emit(KindSetLocal, false, v)
	n.Local = LocalAccess{Frame: frame, Loc: loc}
	return n
}

func (t *translator) shadowStore(slot int, v Value) {
	n := t.emit(KindShadowStore, false, v)
	n.Slot = slot
}

func (t *translator) shadowStoreUndefToRange(start, n int) {
	nd := t.emit(KindShadowStoreUndefToRange, false)
	nd.Slot = start
	nd.RangeLen = n
}

// cachedLocal returns the block's value for local l: the cell when the
// local is captured.
func (t *translator) cachedLocal(l int) Value {
	if t.values[l].IsNil() {
		t.values[l] = t.load(LocalLoc(l))
	}
	return t.values[l]
}

// getLocal reads local l, going through its cell when captured.
func (t *translator) getLocal(l int) Value {
	if t.captured[l] {
		return t.emit(KindGetCapturedVar, true, t.cachedLocal(l)).Out(0)
	}
	return t.cachedLocal(l)
}

// setLocal writes v to local l, into its cell when captured.
func (t *translator) setLocal(l int, v Value) {
	if t.captured[l] {
		t.emit(KindSetCapturedVar, false, t.cachedLocal(l), v)
		return
	}
	t.storeTo(t.frame, LocalLoc(l), v)
	t.values[l] = v
}

func (t *translator) functionObject() Value {
	switch {
	case t.frame.root:
		return t.g.FunctionObject()
	case t.frame.direct:
		return t.g.UnboxedConstant(t.frame.directObject)
	}
	if t.funcObj.IsNil() {
		t.funcObj = t.load(FunctionObjectLoc)
	}
	return t.funcObj
}

func (t *translator) numVarArgsValue() Value {
	switch {
	case t.frame.root:
		return t.g.NumVarArgs()
	case t.frame.staticVarArgs:
		return t.g.UnboxedConstant(uint64(t.frame.maxVarArgs))
	}
	if t.numVarArgs.IsNil() {
		t.numVarArgs = t.load(NumVarArgsLoc)
	}
	return t.numVarArgs
}

func (t *translator) varArg(k int) Value {
	if t.frame.root {
		return t.g.KthVarArg(k)
	}
	if k >= t.frame.maxVarArgs {
		return t.g.Constant(bytecode.NilValue())
	}
	if t.varArgs == nil {
		t.varArgs = make([]Value, t.frame.maxVarArgs)
	}
	if t.varArgs[k].IsNil() {
		t.varArgs[k] = t.load(VarArgLoc(k))
	}
	return t.varArgs[k]
}

func (t *translator) clearCaches() {
	for i := range t.values {
		t.values[i] = Value{}
	}
	t.varArgs = nil
	t.funcObj = Value{}
	t.numVarArgs = Value{}
	t.currentVR = nil
	t.vrClobbered = false
}

// startNewBlock makes b current. With a primitive block the capture state is
// reset to its head; without one the current capture state carries over.
func (t *translator) startNewBlock(b *BasicBlock, prim *PrimBlock) {
	t.cur = b
	if prim != nil {
		t.prim = prim
		for l := range t.captured {
			t.captured[l] = bitTest(prim.CapturedAtHead, l)
		}
	}
	t.clearCaches()
}

// accessVR makes n read the current variadic results, materializing an
// empty prefix when the block has none yet.
func (t *translator) accessVR(n *Node) {
	invariant(!t.vrClobbered, "%s at %v reads variadic results that were clobbered", n.Name(), t.origin)
	if t.currentVR == nil {
		p := t.g.newNode(KindPrependVariadicRes)
		p.Set(FlagAccessesVR|FlagClobbersVR|FlagGeneratesVR, true)
		t.push(p)
		t.currentVR = p
	}
	n.Set(FlagAccessesVR, true)
	n.VRInput = t.currentVR
}

// parseAndProcess translates bytecode idx into the current block. It returns
// the index of the node that stands for the bytecode, or -1 when none does.
// forRC translates an epilogue: the exit state was set up by the caller and
// exits stay disallowed until the outputs are stored.
func (t *translator) parseAndProcess(idx int, forRC bool) int {
	if forRC {
		invariant(!t.exitOK, "epilogue of %v emitted with exits allowed", t.origin)
	} else {
		t.origin = CodeOrigin{Frame: t.frame, Index: idx}
		t.exit = NormalExit(t.origin)
		t.exitOK = true
	}

	d := t.dec
	n := t.g.newNode(KindGuest)
	n.Op = d.Kind(idx)
	n.Set(FlagClobbersVR, true)
	if d.MayTailCall(idx) {
		invariant(idx == t.prim.Terminal, "%s: tail call at %d does not end its block", t.fn.Name, idx)
		n.Set(FlagTailCall, true)
	}
	n.Set(FlagBarrier, d.IsBarrier(idx))
	n.Set(FlagBranch, d.MayBranch(idx))
	n.Set(FlagMayOsrExit, d.MayOsrExit(idx) && !forRC)
	invariant(!n.IsTerminal() || idx == t.prim.Terminal, "%s: terminal %s at %d inside a block", t.fn.Name, n.Op, idx)

	reads := d.ReadInfo(idx)
	for _, r := range reads {
		if r.Kind == bytecode.OperandVarRets {
			t.accessVR(n)
		}
	}

	in := d.Intrinsic(idx)
	switch in.Kind {
	case bytecode.IntrinsicUpvalueClose:
		for l := in.Start; l < t.fn.NumLocals; l++ {
			if !t.captured[l] {
				continue
			}
			v := t.getLocal(l)
			t.shadowStore(t.frame.LocalSlot(l), v)
			t.captured[l] = false
			t.setLocal(l, v)
		}
		return -1

	case bytecode.IntrinsicCreateClosure:
		t.createClosure(n, in)

	case bytecode.IntrinsicUpvalueGetImmutable, bytecode.IntrinsicUpvalueGetMutable:
		n.Kind = KindGetUpvalue
		n.Flags &= FlagBarrier
		n.Inputs = []Value{t.functionObject()}
		n.Param = int64(in.Ordinal)
		n.Immutable = in.Kind == bytecode.IntrinsicUpvalueGetImmutable

	case bytecode.IntrinsicUpvaluePut:
		n.Kind = KindSetUpvalue
		n.Flags &= FlagBarrier
		fo := t.functionObject()
		var v Value
		if in.Value.Kind == bytecode.OperandConstant {
			v = t.g.Constant(in.Value.Const)
		} else {
			v = t.getLocal(in.Value.Local)
		}
		n.Inputs = []Value{fo, v}
		n.Param = int64(in.Ordinal)

	case bytecode.IntrinsicGetVarArgPrefix:
		t.exitOK = false
		for i := 0; i < in.Num; i++ {
			if !t.captured[in.Dest+i] {
				t.shadowStore(t.frame.LocalSlot(in.Dest+i), t.varArg(i))
			}
		}
		t.exit = NormalExit(CodeOrigin{Frame: t.frame, Index: idx + 1})
		t.exitOK = true
		for i := 0; i < in.Num; i++ {
			t.setLocal(in.Dest+i, t.varArg(i))
		}
		return -1

	case bytecode.IntrinsicGetAllVarArgsAsVarRet:
		if !t.frame.root {
			n.Kind = KindCreateVariadicRes
			n.Flags = FlagClobbersVR
			if t.frame.staticVarArgs {
				n.Inputs = []Value{t.g.UnboxedConstant(0)}
				for k := 0; k < t.frame.maxVarArgs; k++ {
					n.Inputs = append(n.Inputs, t.varArg(k))
				}
				n.Param = int64(t.frame.maxVarArgs)
			} else {
				n.Inputs = []Value{t.numVarArgsValue()}
				for k := 0; k < t.frame.maxVarArgs; k++ {
					n.Inputs = append(n.Inputs, t.varArg(k))
				}
				n.Param = 0
			}
		}

	case bytecode.IntrinsicReturn0, bytecode.IntrinsicReturn, bytecode.IntrinsicReturnAppendingVarRet:
		n.Kind = KindReturn
		n.Flags &= FlagBarrier | FlagAccessesVR
		for l := in.Start; l < in.Start+in.Length; l++ {
			n.Inputs = append(n.Inputs, t.getLocal(l))
		}

	default:
		for _, r := range reads {
			switch r.Kind {
			case bytecode.OperandLocal:
				n.Inputs = append(n.Inputs, t.getLocal(r.Local))
			case bytecode.OperandConstant:
				n.Inputs = append(n.Inputs, t.g.Constant(r.Const))
			case bytecode.OperandRange:
				for l := r.Start; l < r.Start+r.Len; l++ {
					n.Inputs = append(n.Inputs, t.getLocal(l))
				}
			}
		}
		if !forRC && n.Op.IsCall() {
			if res, ok := t.tryInline(n, idx); ok {
				return res
			}
		}
	}

	t.push(n)
	nodeIndex := t.cur.Len() - 1
	t.currentVR = nil
	t.vrClobbered = true
	t.exitOK = false

	t.processOutputs(n, idx)
	return nodeIndex
}

type output struct {
	local int
	ord   int
}

// processOutputs stores the outputs of n in write-stage order: captured
// cells, shadow stores, then the exit state moves past the bytecode, then
// the SetLocals.
func (t *translator) processOutputs(n *Node, idx int) {
	d := t.dec
	writes := d.WriteInfo(idx)
	direct := d.HasDirectOutput(idx)
	directLocal := -1

	var outs []output
	if direct {
		directLocal = writes[0].Local
		outs = append(outs, output{local: directLocal})
		writes = writes[1:]
	}
	extra := 0
	for _, w := range writes {
		switch w.Kind {
		case bytecode.OperandLocal:
			extra++
			outs = append(outs, output{local: w.Local, ord: extra})
		case bytecode.OperandRange:
			for l := w.Start; l < w.Start+w.Len; l++ {
				extra++
				if l == directLocal {
					continue
				}
				outs = append(outs, output{local: l, ord: extra})
			}
		case bytecode.OperandVarRets:
			n.Set(FlagGeneratesVR, true)
			t.currentVR = n
			t.vrClobbered = false
		}
	}
	n.SetNumOutputs(direct, extra)

	for _, o := range outs {
		if t.captured[o.local] {
			t.setLocal(o.local, n.Out(o.ord))
		}
	}
	for _, o := range outs {
		if !t.captured[o.local] {
			t.shadowStore(t.frame.LocalSlot(o.local), n.Out(o.ord))
		}
	}

	t.exitOK = true
	if idx == t.prim.Terminal {
		switch len(t.prim.Successors) {
		case 0:
			invariant(len(outs) == 0, "%s: exiting bytecode %d has outputs", t.fn.Name, idx)
		case 1:
			t.exit = NormalExit(CodeOrigin{Frame: t.frame, Index: t.prim.Successors[0].Start})
		case 2:
			t.exit = BranchDestExit(t.origin)
		}
	} else {
		t.exit = NormalExit(CodeOrigin{Frame: t.frame, Index: idx + 1})
	}

	for _, o := range outs {
		if !t.captured[o.local] {
			t.setLocal(o.local, n.Out(o.ord))
		}
	}
}

// createClosure boxes the mutable locals the new closure captures and turns
// n into CreateFunctionObject.
func (t *translator) createClosure(n *Node, in bytecode.Intrinsic) {
	proto := in.Proto
	selfRef := -1
	for i, uv := range proto.Upvalues {
		if uv.ParentLocal && uv.Immutable && uv.Slot == in.Dest {
			selfRef = i
			break
		}
	}

	for _, uv := range proto.Upvalues {
		if !uv.ParentLocal || uv.Immutable || t.captured[uv.Slot] {
			continue
		}
		var v Value
		if uv.Slot == in.Dest {
			v = t.g.UndefValue()
		} else {
			v = t.getLocal(uv.Slot)
		}
		cell := t.emit(KindCreateCapturedVar, true, v).Out(0)
		t.shadowStore(t.frame.LocalSlot(uv.Slot), cell)
		t.setLocal(uv.Slot, cell)
		t.captured[uv.Slot] = true
	}

	n.Kind = KindCreateFunctionObject
	n.Flags &= FlagBarrier
	n.Inputs = []Value{t.functionObject(), t.g.UnboxedConstant(uint64(proto.ID))}
	for i, uv := range proto.Upvalues {
		switch {
		case !uv.ParentLocal:
		case !uv.Immutable:
			t.captured[uv.Slot] = false
			n.Inputs = append(n.Inputs, t.getLocal(uv.Slot))
			t.captured[uv.Slot] = true
		case i != selfRef:
			n.Inputs = append(n.Inputs, t.getLocal(uv.Slot))
		}
	}
	n.Param = int64(selfRef)
}

// buildBlock translates primitive block ord and wires its successor edges,
// inserting an intermediate block on edges where new locals become captured.
func (t *translator) buildBlock(ord int) {
	prim := t.cfi.Blocks[ord]
	main := t.g.newBlock()
	main.BytecodeAtHead = CodeOrigin{Frame: t.frame, Index: prim.Start}
	t.addBlock(main)
	t.mainBlocks[ord] = main
	t.startNewBlock(main, prim)

	var term *Node
	for idx := prim.Start; idx <= prim.Terminal; idx = t.dec.Next(idx) {
		ni := t.parseAndProcess(idx, false)
		if idx == prim.Terminal && ni >= 0 && t.cur != nil {
			term = t.cur.Nodes[ni]
		}
	}
	invariant(t.prim == prim, "%s: block %d finished in another block", t.fn.Name, prim.Start)

	mainEnd := t.cur
	if mainEnd == nil {
		// an inlined tail call closed the block
		return
	}
	numSucc := len(prim.Successors)
	if mainEnd.Len() == 0 {
		t.exitOK = false
		t.origin = mainEnd.BytecodeAtHead
		t.exit = NormalExit(mainEnd.BytecodeAtHead)
		t.emit(KindNop, false)
	}
	mainEnd.SetNumSuccessors(numSucc)
	if numSucc != 1 {
		invariant(term != nil, "%s: block %d has %d successors but no terminator", t.fn.Name, prim.Start, numSucc)
		mainEnd.SetTerminator(term)
	}
	termOrigin := mainEnd.Terminator().Origin

	for i, succ := range prim.Successors {
		from, slot := mainEnd, i
		if !succ.CapturedAtHead.Equal(prim.CapturedAtTail) {
			ib := t.g.newBlock()
			ib.BytecodeAtHead = CodeOrigin{Frame: t.frame, Index: succ.Start}
			ib.SetNumSuccessors(1)
			t.addBlock(ib)
			mainEnd.SetSuccessor(i, ib)

			t.startNewBlock(ib, nil)
			t.exitOK = true
			t.origin = termOrigin
			t.exit = NormalExit(CodeOrigin{Frame: t.frame, Index: succ.Start})
			for _, l := range members(succ.CapturedAtHead) {
				if bitTest(prim.CapturedAtTail, l) {
					continue
				}
				cell := t.emit(KindCreateCapturedVar, true, t.load(LocalLoc(l))).Out(0)
				t.shadowStore(t.frame.LocalSlot(l), cell)
				t.storeTo(t.frame, LocalLoc(l), cell)
			}
			from, slot = ib, 0
		}
		t.pending = append(t.pending, pendingEdge{from: from, succ: slot, target: succ.Ordinal})
	}
	t.cur = nil
}

// buildEntry creates the block control enters the frame through: argument
// setup for the root and cells for locals captured at bytecode 0.
func (t *translator) buildEntry() {
	main := t.mainBlocks[0]
	head := t.cfi.Blocks[0].CapturedAtHead

	ib := t.g.newBlock()
	if !t.frame.root {
		ib.BytecodeAtHead = CodeOrigin{Frame: t.frame, Index: 0}
	}
	ib.SetNumSuccessors(1)
	ib.SetSuccessor(0, main)

	t.startNewBlock(ib, nil)
	t.origin = CodeOrigin{Frame: t.frame, Index: 0}
	t.exit = NormalExit(t.origin)
	t.exitOK = false

	if t.frame.root {
		for i := 0; i < t.fn.NumFixedArgs; i++ {
			t.shadowStore(t.frame.LocalSlot(i), t.g.Argument(i))
		}
		t.exitOK = true
		for i := 0; i < t.fn.NumFixedArgs; i++ {
			t.storeTo(t.frame, LocalLoc(i), t.g.Argument(i))
		}
	}

	t.exitOK = true
	for _, l := range members(head) {
		var init Value
		switch {
		case l < t.fn.NumFixedArgs && t.frame.root:
			init = t.g.Argument(l)
		case l < t.fn.NumFixedArgs:
			init = t.load(LocalLoc(l))
		default:
			init = t.g.UndefValue()
		}
		cell := t.emit(KindCreateCapturedVar, true, init).Out(0)
		t.shadowStore(t.frame.LocalSlot(l), cell)
		t.storeTo(t.frame, LocalLoc(l), cell)
	}

	if t.frame.root && ib.Len() == 0 {
		t.exitOK = false
		t.emit(KindNop, false)
	}
	t.cur = nil

	if ib.Len() == 0 {
		t.entry = main
		return
	}
	t.entry = ib
	t.blocks = append([]*BasicBlock{ib}, t.blocks...)
}

// finalize resolves the successor edges recorded while building.
func (t *translator) finalize() {
	for _, e := range t.pending {
		target := t.mainBlocks[e.target]
		invariant(target != nil, "%s: block %d was never built", t.fn.Name, e.target)
		e.from.SetSuccessor(e.succ, target)
	}
	t.pending = nil
}
