package dfg

import "github.com/tliron/commonlog"

var phantomLog = commonlog.GetLogger("dfg.phantom")

type pendingPhantom struct {
	after int
	node  *Node
}

// phantomState is the per-block scratch of phantom insertion.
type phantomState struct {
	g *Graph
	b *BasicBlock

	slotValue []Value
	lastUse   []int

	lastExitOrd  int
	lastExitDest OsrExitDestination
	lastExitIdx  int
	seenBranch   bool

	pending []pendingPhantom
}

// InsertPhantoms keeps alive, until the last OSR exit that can observe them,
// the values shadow-stored to interpreter slots whose SSA uses end earlier.
// It returns the number of Phantom nodes inserted. Running it twice inserts
// nothing the second time.
func InsertPhantoms(g *Graph) int {
	total := 0
	for _, b := range g.Blocks {
		total += insertBlockPhantoms(g, b)
	}
	phantomLog.Debugf("inserted %d phantoms over %d blocks", total, len(g.Blocks))
	return total
}

func insertBlockPhantoms(g *Graph, b *BasicBlock) int {
	numMarkers := 0
	for _, n := range b.Nodes {
		n.marker = numMarkers
		numMarkers += 1 + n.NumExtraOutputs
	}
	ps := &phantomState{
		g:           g,
		b:           b,
		slotValue:   make([]Value, g.TotalInterpreterSlots()),
		lastUse:     make([]int, numMarkers),
		lastExitOrd: 1,
		lastExitIdx: -1,
	}

	for i, n := range b.Nodes {
		exitOrd := ps.lastExitOrd
		mayExit := n.Has(FlagMayOsrExit)
		if mayExit {
			exitOrd++
		}
		for _, in := range n.Inputs {
			if !in.Node.IsConstantLike() {
				ps.lastUse[in.Node.marker+in.Ord] = exitOrd
			}
		}
		for k := 0; k <= n.NumExtraOutputs; k++ {
			ps.lastUse[n.marker+k] = exitOrd
		}

		switch n.Kind {
		case KindShadowStore:
			ps.kill(n.Slot)
			ps.slotValue[n.Slot] = n.Inputs[0]
		case KindShadowStoreUndefToRange:
			undef := g.UndefValue()
			for s := n.Slot; s < n.Slot+n.RangeLen; s++ {
				ps.kill(s)
				ps.slotValue[s] = undef
			}
		case KindSetLocal:
			ps.slotValue[n.Local.InterpreterSlot()] = Value{}
		}

		if mayExit {
			ps.handleDest(n.Exit)
			ps.lastExitOrd++
			ps.lastExitDest = n.Exit
			ps.lastExitIdx = i
		}
	}

	for s := range ps.slotValue {
		ps.kill(s)
	}
	return ps.commit()
}

// kill ends the life of whatever slot s holds.
func (ps *phantomState) kill(s int) {
	v := ps.slotValue[s]
	ps.slotValue[s] = Value{}
	if v.IsNil() || v.Node.IsConstantLike() {
		return
	}
	m := v.Node.marker + v.Ord
	if ps.lastUse[m] >= ps.lastExitOrd {
		return
	}
	ps.lastUse[m] = ps.lastExitOrd

	at := ps.b.Nodes[ps.lastExitIdx]
	p := ps.g.newNode(KindPhantom)
	p.Inputs = []Value{v}
	p.Origin = at.Origin
	p.Exit = at.Exit
	ps.pending = append(ps.pending, pendingPhantom{after: ps.lastExitIdx, node: p})
}

func liveAtOrigin(o CodeOrigin, s int) bool {
	return o.Frame.IsLiveAt(o.Index, BeforeUse, s)
}

// handleDest kills the slots that die when exits start resuming at dest.
func (ps *phantomState) handleDest(dest OsrExitDestination) {
	if dest.IsBranchDest() {
		if ps.seenBranch {
			return
		}
		ps.seenBranch = true
		for s, v := range ps.slotValue {
			if !v.IsNil() && !ps.b.VRegAtTail(s).IsLive() {
				ps.kill(s)
			}
		}
		return
	}

	old := ps.lastExitDest
	cur := dest.NormalOrigin()
	switch {
	case !old.IsValid() || old.IsBranchDest():
		for s, v := range ps.slotValue {
			if !v.IsNil() && !liveAtOrigin(cur, s) {
				ps.kill(s)
			}
		}

	case old == dest:

	case old.Origin.Frame == cur.Frame:
		f := cur.Frame
		dying := f.liveness.Live(old.Origin.Index, BeforeUse).Difference(f.liveness.Live(cur.Index, BeforeUse))
		for _, l := range members(dying) {
			ps.kill(f.LocalSlot(l))
		}

	default:
		for s, v := range ps.slotValue {
			if !v.IsNil() && liveAtOrigin(old.Origin, s) && !liveAtOrigin(cur, s) {
				ps.kill(s)
			}
		}
	}
}

// commit splices the pending phantoms into the block.
func (ps *phantomState) commit() int {
	if len(ps.pending) == 0 {
		return 0
	}
	nodes := make([]*Node, 0, len(ps.b.Nodes)+len(ps.pending))
	next := 0
	for i, n := range ps.b.Nodes {
		nodes = append(nodes, n)
		for next < len(ps.pending) && ps.pending[next].after == i {
			nodes = append(nodes, ps.pending[next].node)
			next++
		}
	}
	invariant(next == len(ps.pending), "block b%d: %d phantoms left unplaced", ps.b.id, len(ps.pending)-next)
	ps.b.Nodes = nodes
	return len(ps.pending)
}
