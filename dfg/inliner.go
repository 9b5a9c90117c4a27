package dfg

import (
	"fmt"

	"github.com/chazu/dfgjit/pkg/bytecode"
	"github.com/tliron/commonlog"
)

var inlinerLog = commonlog.GetLogger("dfg.inliner")

// parentFrameBaseNone is stored in the parent-base header slot of a frame
// that returns straight to the interpreter.
const parentFrameBaseNone = 1<<30 - 1

func (t *translator) decline(idx, site int, callee, reason string) (int, bool) {
	d := Decision{
		Caller: t.fn.Name,
		Frame:  t.frame.ordinal,
		Index:  idx,
		Site:   site,
		Callee: callee,
		Reason: reason,
	}
	t.g.Decisions = append(t.g.Decisions, d)
	inlinerLog.Debugf("not inlining %s", d)
	return -1, false
}

// tryInline decides whether to inline the call n at bytecode idx and, if
// so, inlines it. It returns the index of the node standing for the
// bytecode in the current block afterwards (-1 for none).
func (t *translator) tryInline(n *Node, idx int) (int, bool) {
	o := &t.opts.Inliner
	if !o.Enabled {
		return -1, false
	}
	d := t.dec
	site, reason := pickMonomorphicSite(d.CallSites(idx))
	if site < 0 {
		return t.decline(idx, site, "", reason)
	}
	target, _ := d.CallSites(idx)[site].Target()
	tr := d.InliningTrait(idx, site)
	if tr == nil {
		return t.decline(idx, site, target.String(), "call shape cannot be inlined")
	}
	callee, ok := d.Callee(target)
	if !ok {
		return t.decline(idx, site, target.String(), "target is not a bytecode function")
	}
	if !callee.Tiered {
		return t.decline(idx, site, callee.Name, "callee has no baseline profile")
	}
	if len(t.g.Frames) >= o.MaxFrames {
		return t.decline(idx, site, callee.Name, fmt.Sprintf("frame cap %d reached", o.MaxFrames))
	}
	if tr.InPlaceCall {
		for l := tr.RangeStart - bytecode.FrameHeaderSlots; l < t.fn.NumLocals; l++ {
			if l >= 0 && t.captured[l] {
				return t.decline(idx, site, callee.Name, fmt.Sprintf("r%d is captured inside the callee frame", l))
			}
		}
	}
	cost, reason := inliningCost(t.frame, callee, t.budget, o)
	if cost > t.budget {
		return t.decline(idx, site, callee.Name, reason)
	}
	t.budget -= cost

	dec := Decision{
		Caller:   t.fn.Name,
		Frame:    t.frame.ordinal,
		Index:    idx,
		Site:     site,
		Callee:   callee.Name,
		Accepted: true,
		Reason:   fmt.Sprintf("cost %d, %d left", cost, t.budget),
		Cost:     cost,
	}
	t.g.Decisions = append(t.g.Decisions, dec)
	inlinerLog.Infof("inlining %s", dec)

	mode := d.CallSites(idx)[site].Mode
	return t.inline(n, idx, site, tr, callee, target, mode == bytecode.DirectCall), true
}

// headerMappings describes the four header slots of f.
func headerMappings(f *InlinedCallFrame) []MappingInfo {
	out := make([]MappingInfo, bytecode.FrameHeaderSlots)
	out[0] = UnmappedMapping()
	if !f.direct {
		out[0] = VRegMapping(f.funcObjReg)
	}
	out[1] = UnmappedMapping()
	if !f.staticVarArgs {
		out[1] = VRegMapping(f.numVarArgsReg)
	}
	for i := 2; i < len(out); i++ {
		out[i] = UnmappedMapping()
	}
	return out
}

// inline rewrites n into the prologue of an inlined call to callee and
// translates the callee in a new frame.
func (t *translator) inline(n *Node, idx, site int, tr *bytecode.InliningTrait,
	callee *bytecode.Function, target bytecode.CallTarget, direct bool) int {
	caller := t.frame
	g := t.g

	vr := n.VRInput
	n.Set(FlagClobbersVR|FlagBarrier|FlagBranch|FlagTailCall, false)
	n.Set(FlagMayOsrExit, true)
	n.Spec = Specialization{Kind: SpecPrologue, Site: site}

	if tr.TailCall {
		invariant(idx == t.prim.Terminal, "%s: inlined tail call at %d does not end its block", t.fn.Name, idx)
		invariant(len(t.dec.WriteInfo(idx)) == 0, "%s: tail call at %d has outputs", t.fn.Name, idx)
	}

	numStatic := tr.NumExtraOutputs
	if tr.HasRangeArgs {
		numStatic += tr.RangeLen
	}

	vrStatic := false
	numVR := 0
	if tr.AppendsVarRets {
		invariant(vr != nil, "%s: call at %d appends variadic results it does not read", t.fn.Name, idx)
		if vr.Kind == KindCreateVariadicRes && len(vr.Inputs) > 0 {
			if c := vr.Inputs[0].Node; c.Kind == KindUnboxedConstant && c.Unboxed == 0 {
				vrStatic = true
				numVR = int(vr.Param)
			}
		}
	}

	fixed := callee.NumFixedArgs
	staticCount := true
	maxVA := 0
	switch {
	case !callee.IsVariadic:
	case !tr.AppendsVarRets:
		maxVA = max(0, numStatic-fixed)
	case vrStatic:
		maxVA = max(0, numStatic+numVR-fixed)
	default:
		maxVA = max(max(0, numStatic-fixed), callee.MaxObservedVarArgs)
		staticCount = false
	}
	numArgs := fixed + maxVA

	if tr.ReducedReads != nil {
		n.Inputs = n.Inputs[:0]
		for _, l := range tr.ReducedReads {
			n.Inputs = append(n.Inputs, t.getLocal(l))
		}
	}
	n.Set(FlagAccessesVR, false)
	n.VRInput = nil

	var vrLen *Node
	if tr.AppendsVarRets && !vrStatic && !staticCount {
		vrLen = t.emit(KindGetNumVariadicRes, true)
		vrLen.Set(FlagAccessesVR, true)
		vrLen.VRInput = vr
		chk := g.newNode(KindCheckU64InBound)
		chk.Inputs = []Value{vrLen.Out(0)}
		chk.Param = int64(maxVA + fixed - numStatic)
		chk.Set(FlagMayOsrExit, true)
		t.push(chk)
	}

	n.SetNumOutputs(!direct, tr.NumExtraOutputs)
	t.push(n)

	args := make([]Value, 0, numArgs)
	for i := 1; i <= tr.RangeLocation && i <= tr.NumExtraOutputs; i++ {
		args = append(args, n.Out(i))
	}
	if tr.HasRangeArgs {
		for l := tr.RangeStart; l < tr.RangeStart+tr.RangeLen; l++ {
			args = append(args, t.getLocal(l))
		}
	}
	for i := tr.RangeLocation + 1; i <= tr.NumExtraOutputs; i++ {
		args = append(args, n.Out(i))
	}
	if tr.AppendsVarRets {
		if vrStatic {
			args = append(args, vr.Inputs[1:]...)
		} else {
			for k := 0; len(args) < numArgs; k++ {
				kth := t.emit(KindGetKthVariadicRes, true)
				kth.Set(FlagAccessesVR, true)
				kth.VRInput = vr
				kth.Param = int64(k)
				args = append(args, kth.Out(0))
			}
		}
	}
	if len(args) > numArgs {
		args = args[:numArgs]
	}
	for len(args) < numArgs {
		args = append(args, g.Constant(bytecode.NilValue()))
	}

	var base int
	switch {
	case tr.TailCall && caller.root:
		base = maxVA + bytecode.FrameHeaderSlots
	case tr.TailCall:
		base = caller.FrameStart() + maxVA + bytecode.FrameHeaderSlots
	case tr.InPlaceCall:
		base = caller.base + tr.RangeStart + maxVA
	default:
		base = caller.FrameEnd() + maxVA + bytecode.FrameHeaderSlots
	}

	canReuse := tr.HasRangeArgs && (tr.TailCall || tr.InPlaceCall)
	reused := func(l int) bool {
		return canReuse && l >= tr.RangeStart && l < tr.RangeStart+tr.RangeLen &&
			tr.RangeLocation+(l-tr.RangeStart) < numArgs
	}

	vregs := t.vregs.Clone()
	switch {
	case tr.TailCall:
		if !caller.root {
			for _, r := range caller.varArgRegs {
				vregs.Deallocate(r)
			}
			if !caller.direct {
				vregs.Deallocate(caller.funcObjReg)
			}
			if !caller.staticVarArgs {
				vregs.Deallocate(caller.numVarArgsReg)
			}
		}
		for l, r := range caller.localRegs {
			if !reused(l) {
				vregs.Deallocate(r)
			}
		}
	case tr.InPlaceCall:
		for l := max(0, tr.RangeStart-bytecode.FrameHeaderSlots); l < caller.NumLocals(); l++ {
			if !reused(l) {
				vregs.Deallocate(caller.localRegs[l])
			}
		}
	}

	f := &InlinedCallFrame{
		fn:            callee,
		caller:        caller,
		callerIndex:   idx,
		site:          site,
		direct:        direct,
		tail:          tr.TailCall,
		staticVarArgs: staticCount,
		maxVarArgs:    maxVA,
		base:          base,
		funcObjReg:    -1,
		numVarArgsReg: -1,
		localRegs:     make([]int, callee.NumLocals),
		varArgRegs:    make([]int, maxVA),
	}
	if direct {
		f.directObject = target.Object
	}
	if tr.TailCall {
		f.parent = caller.parent
	} else {
		f.parent = caller
	}
	g.addFrame(f)

	if canReuse {
		for pos := 0; pos < numArgs; pos++ {
			var r int
			if p := pos - tr.RangeLocation; p >= 0 && p < tr.RangeLen {
				r = caller.localRegs[tr.RangeStart+p]
			} else {
				r = vregs.Allocate()
			}
			if pos < fixed {
				f.localRegs[pos] = r
			} else {
				f.varArgRegs[pos-fixed] = r
			}
		}
		for l := fixed; l < callee.NumLocals; l++ {
			f.localRegs[l] = vregs.Allocate()
		}
	} else {
		for l := range f.localRegs {
			f.localRegs[l] = vregs.Allocate()
		}
		for k := range f.varArgRegs {
			f.varArgRegs[k] = vregs.Allocate()
		}
	}
	if !staticCount {
		f.numVarArgsReg = vregs.Allocate()
	}
	if !direct {
		f.funcObjReg = vregs.Allocate()
	}
	f.InitializeUsage(vregs.VectorLength())
	g.updateTotalVirtualRegisters(vregs.VectorLength())
	g.updateTotalInterpreterSlots(f.FrameEnd())

	f.beforeBase = t.mappingBeforeBase(f, idx, tr)

	var funcObj Value
	if direct {
		funcObj = g.UnboxedConstant(target.Object)
	} else {
		funcObj = n.Out(0)
	}
	var numVarArgs Value
	if staticCount {
		numVarArgs = g.UnboxedConstant(uint64(maxVA))
	} else {
		sub := t.emit(KindU64SaturateSub, true, vrLen.Out(0))
		sub.Param = int64(fixed - numStatic)
		numVarArgs = sub.Out(0)
	}
	parentBase := g.UnboxedConstant(parentFrameBaseNone)
	if f.parent != nil {
		parentBase = g.UnboxedConstant(uint64(f.parent.base))
	}

	argLoc := func(pos int) FrameLocation {
		if pos < fixed {
			return LocalLoc(pos)
		}
		return VarArgLoc(pos - fixed)
	}

	t.exitOK = false
	t.shadowStore(f.HeaderSlot(0), funcObj)
	t.shadowStore(f.HeaderSlot(1), numVarArgs)
	t.shadowStore(f.HeaderSlot(2), g.UnboxedConstant(0))
	t.shadowStore(f.HeaderSlot(3), parentBase)
	for pos, a := range args {
		t.shadowStore(f.InterpreterSlot(argLoc(pos)), a)
	}
	if callee.NumLocals > fixed {
		t.shadowStoreUndefToRange(f.LocalSlot(fixed), callee.NumLocals-fixed)
	}

	t.exitOK = true
	t.exit = NormalExit(CodeOrigin{Frame: f, Index: 0})
	for pos, a := range args {
		t.storeTo(f, argLoc(pos), a)
	}
	for l := fixed; l < callee.NumLocals; l++ {
		t.storeTo(f, LocalLoc(l), g.UndefValue())
	}
	if !direct {
		t.storeTo(f, FunctionObjectLoc, funcObj)
	}
	if !staticCount {
		t.storeTo(f, NumVarArgsLoc, numVarArgs)
	}

	sub := translate(g, f, vregs, t.opts)
	caller.UpdateUsage(f)
	t.cur.SetNumSuccessors(1)
	t.cur.SetSuccessor(0, sub.entry)

	if tr.TailCall {
		t.blocks = append(t.blocks, sub.blocks...)
		t.startNewBlock(nil, nil)
		return -1
	}
	return t.join(idx, site, tr, sub)
}

// mappingBeforeBase describes every interpreter slot below the base of the
// new frame f inlined at bytecode idx.
func (t *translator) mappingBeforeBase(f *InlinedCallFrame, idx int, tr *bytecode.InliningTrait) []MappingInfo {
	caller := t.frame
	out := make([]MappingInfo, 0, f.base)
	for s := 0; s < caller.FrameStart(); s++ {
		out = append(out, caller.MappingBeforeBase(s))
	}
	if !tr.TailCall {
		if !caller.root {
			for _, r := range caller.varArgRegs {
				out = append(out, VRegMapping(r))
			}
			out = append(out, headerMappings(caller)...)
		}
		n := caller.NumLocals()
		if tr.InPlaceCall {
			n = tr.RangeStart - bytecode.FrameHeaderSlots
		}
		point := AfterUse
		if tr.RC == bytecode.RCNotTrivial {
			point = BeforeUse
		}
		for l := 0; l < n; l++ {
			if caller.liveness.IsLive(idx, point, l) {
				out = append(out, VRegMapping(caller.localRegs[l]))
			} else {
				out = append(out, DeadMapping())
			}
		}
	}
	for _, r := range f.varArgRegs {
		out = append(out, VRegMapping(r))
	}
	out = append(out, headerMappings(f)...)
	invariant(len(out) == f.base, "frame %d: %d slots mapped below base %d", f.ordinal, len(out), f.base)
	return out
}

// joinState carries the fixed exit state of the nodes that deliver an
// inlined callee's results back to its caller.
type joinState struct {
	codeOrigin  CodeOrigin
	exitTrivial OsrExitDestination
	disallowed  OsrExitDestination
	ipOrd       int
}

// cleanupShadow marks the caller locals the callee frame overlapped as
// garbage in the interpreter frame.
func (t *translator) cleanupShadow(js *joinState) {
	if js.ipOrd >= 0 && js.ipOrd < t.fn.NumLocals {
		t.shadowStoreUndefToRange(t.frame.LocalSlot(js.ipOrd), t.fn.NumLocals-js.ipOrd)
	}
}

// storeLocal writes a result into caller local l.
func (t *translator) storeLocal(l int, v Value) {
	if t.captured[l] {
		t.emit(KindSetCapturedVar, false, t.load(LocalLoc(l)), v)
		return
	}
	t.storeTo(t.frame, LocalLoc(l), v)
}

// storeResults stores vals into caller locals [first, first+len(vals)),
// then resets the rest of an in-place call's overlapped locals.
func (t *translator) storeResults(js *joinState, first int, vals []Value) {
	t.exitOK = false
	t.exit = js.disallowed
	t.cleanupShadow(js)
	for i, v := range vals {
		if !t.captured[first+i] {
			t.shadowStore(t.frame.LocalSlot(first+i), v)
		}
	}
	t.exitOK = true
	t.exit = js.exitTrivial
	for i, v := range vals {
		t.storeLocal(first+i, v)
	}
	if js.ipOrd >= 0 {
		undef := t.g.UndefValue()
		for l := js.ipOrd; l < t.fn.NumLocals; l++ {
			if l >= first && l < first+len(vals) {
				continue
			}
			t.storeTo(t.frame, LocalLoc(l), undef)
		}
	}
}

func (t *translator) getKthVariadicRes(k int, vr *Node) Value {
	kth := t.emit(KindGetKthVariadicRes, true)
	kth.Set(FlagAccessesVR, true)
	kth.VRInput = vr
	kth.Param = int64(k)
	return kth.Out(0)
}

// join routes every exit of the callee translation into a new join block of
// the caller and makes it current.
func (t *translator) join(idx, site int, tr *bytecode.InliningTrait, sub *translation) int {
	caller := t.frame
	g := t.g

	rc := g.newBlock()
	head := idx + 1
	if tr.RC == bytecode.RCNotTrivial {
		head = idx
	}
	rc.BytecodeAtHead = CodeOrigin{Frame: caller, Index: head}

	js := &joinState{
		codeOrigin:  CodeOrigin{Frame: caller, Index: idx},
		exitTrivial: NormalExit(CodeOrigin{Frame: caller, Index: idx + 1}),
		disallowed:  NormalExit(CodeOrigin{Frame: caller, Index: idx}),
		ipOrd:       -1,
	}
	if tr.InPlaceCall {
		js.ipOrd = tr.RangeStart - bytecode.FrameHeaderSlots
	}

	directOut := -1
	if tr.RC == bytecode.RCReturnKth {
		directOut = t.dec.DirectOutput(idx)
	}

	enter := func(b *BasicBlock) {
		t.cur = b
		t.origin = js.codeOrigin
		t.exit = js.disallowed
		t.exitOK = false
	}

	for _, cb := range sub.blocks {
		if cb.NumSuccessors() != 0 {
			continue
		}
		term := cb.Terminator()
		switch {
		case term.Has(FlagTailCall) && !term.Has(FlagTailCallTransformed):
			term.Set(FlagTailCallTransformed|FlagGeneratesVR, true)
			cb.SetTerminator(nil)
			cb.SetNumSuccessors(1)
			cb.SetSuccessor(0, rc)
			enter(cb)
			switch tr.RC {
			case bytecode.RCReturnKth:
				t.storeResults(js, directOut, []Value{t.getKthVariadicRes(tr.RCNum, term)})
			case bytecode.RCStoreFirstK:
				vals := make([]Value, tr.RCNum)
				for k := range vals {
					vals[k] = t.getKthVariadicRes(k, term)
				}
				t.storeResults(js, tr.RCRangeStart, vals)
			}

		case term.Kind == KindReturn:
			invariant(cb.Nodes[cb.Len()-1] == term, "callee return is not the last node of b%d", cb.id)
			cb.Nodes = cb.Nodes[:cb.Len()-1]
			cb.SetTerminator(nil)
			cb.SetNumSuccessors(1)
			cb.SetSuccessor(0, rc)
			enter(cb)

			kth := func(k int) Value {
				if k < len(term.Inputs) {
					return term.Inputs[k]
				}
				if term.Has(FlagAccessesVR) {
					return t.getKthVariadicRes(k-len(term.Inputs), term.VRInput)
				}
				return g.Constant(bytecode.NilValue())
			}
			switch tr.RC {
			case bytecode.RCReturnKth:
				t.storeResults(js, directOut, []Value{kth(tr.RCNum)})
			case bytecode.RCStoreFirstK:
				vals := make([]Value, tr.RCNum)
				for k := range vals {
					vals[k] = kth(k)
				}
				t.storeResults(js, tr.RCRangeStart, vals)
			default:
				if term.Has(FlagAccessesVR) {
					p := g.newNode(KindPrependVariadicRes)
					p.Inputs = term.Inputs
					p.Set(FlagAccessesVR|FlagClobbersVR|FlagGeneratesVR, true)
					p.VRInput = term.VRInput
					t.push(p)
				} else {
					c := g.newNode(KindCreateVariadicRes)
					c.Inputs = append([]Value{g.UnboxedConstant(0)}, term.Inputs...)
					c.Param = int64(len(term.Inputs))
					c.Set(FlagClobbersVR|FlagGeneratesVR, true)
					t.push(c)
				}
			}
			if cb.Len() == 0 {
				t.emit(KindNop, false)
			}
		}
	}

	t.blocks = append(t.blocks, sub.blocks...)
	t.addBlock(rc)
	t.startNewBlock(rc, nil)
	t.origin = js.codeOrigin
	t.exit = js.disallowed
	t.exitOK = false

	ret := -1
	switch tr.RC {
	case bytecode.RCNotTrivial:
		p := g.newNode(KindPrependVariadicRes)
		p.Set(FlagAccessesVR|FlagClobbersVR|FlagGeneratesVR, true)
		t.push(p)
		t.currentVR = p
		t.cleanupShadow(js)
		if js.ipOrd >= 0 {
			for l := js.ipOrd; l < t.fn.NumLocals; l++ {
				t.values[l] = g.UndefValue()
			}
		}
		ret = t.parseAndProcess(idx, true)
		ep := rc.Nodes[ret]
		ep.Spec = Specialization{Kind: SpecEpilogue, Site: site}
		ep.Set(FlagAccessesVR, true)
		ep.VRInput = p
		if js.ipOrd >= 0 {
			written := make(map[int]bool)
			for _, nd := range rc.Nodes[ret+1:] {
				if nd.Kind == KindSetLocal && nd.Local.Frame == caller {
					written[nd.Local.Register()] = true
				}
			}
			for l := js.ipOrd; l < t.fn.NumLocals; l++ {
				if !written[caller.localRegs[l]] {
					t.storeTo(caller, LocalLoc(l), g.UndefValue())
				}
			}
			rc.InPlaceCallRcFrameLocalOrd = js.ipOrd
		}

	case bytecode.RCStoreAll:
		t.cleanupShadow(js)
		t.exitOK = true
		t.exit = js.exitTrivial
		if js.ipOrd >= 0 {
			for l := js.ipOrd; l < t.fn.NumLocals; l++ {
				t.storeTo(caller, LocalLoc(l), g.UndefValue())
			}
			rc.InPlaceCallRcFrameLocalOrd = js.ipOrd
		}
	}
	return ret
}
