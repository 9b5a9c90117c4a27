package dfg

import "fmt"

// VRegAllocator hands out virtual registers. Freed registers are reused LIFO
// before the high-water mark grows.
type VRegAllocator struct {
	free           []int
	isFree         []bool
	firstAvailable int
}

func NewVRegAllocator() *VRegAllocator {
	return &VRegAllocator{}
}

// Allocate returns a free register.
func (a *VRegAllocator) Allocate() int {
	if n := len(a.free); n > 0 {
		r := a.free[n-1]
		a.free = a.free[:n-1]
		a.isFree[r] = false
		return r
	}
	r := a.firstAvailable
	a.firstAvailable++
	a.isFree = append(a.isFree, false)
	return r
}

// Deallocate returns r to the free list. Freeing a register twice is an
// invariant violation.
func (a *VRegAllocator) Deallocate(r int) {
	invariant(r >= 0 && r < a.firstAvailable, "deallocating unallocated register %d", r)
	invariant(!a.isFree[r], "double free of register %d", r)
	a.isFree[r] = true
	a.free = append(a.free, r)
}

// Clone returns an independent copy of the allocator state.
func (a *VRegAllocator) Clone() *VRegAllocator {
	return &VRegAllocator{
		free:           append([]int(nil), a.free...),
		isFree:         append([]bool(nil), a.isFree...),
		firstAvailable: a.firstAvailable,
	}
}

// VectorLength is one past the highest register ever handed out.
func (a *VRegAllocator) VectorLength() int { return a.firstAvailable }

// numFree returns how many registers are waiting on the free list.
func (a *VRegAllocator) numFree() int { return len(a.free) }

// MappingKind classifies what an interpreter slot holds at a program point.
type MappingKind uint8

const (
	MappingUninitialized MappingKind = iota
	MappingDead
	MappingUnmapped // the slot holds a compile-time constant
	MappingVReg
)

// MappingInfo maps one interpreter slot to its virtual register, if any.
type MappingInfo struct {
	Kind MappingKind
	Reg  int
}

func DeadMapping() MappingInfo { return MappingInfo{Kind: MappingDead} }
func UnmappedMapping() MappingInfo { return MappingInfo{Kind: MappingUnmapped} }
func VRegMapping(r int) MappingInfo {
	return MappingInfo{Kind: MappingVReg, Reg: r}
}

// IsLive reports whether the slot carries a value the interpreter may read.
func (m MappingInfo) IsLive() bool {
	invariant(m.Kind != MappingUninitialized, "querying an uninitialized mapping")
	return m.Kind != MappingDead
}

func (m MappingInfo) IsVReg() bool { return m.Kind == MappingVReg }

func (m MappingInfo) String() string {
	switch m.Kind {
	case MappingDead:
		return "dead"
	case MappingUnmapped:
		return "unmapped"
	case MappingVReg:
		return fmt.Sprintf("v%d", m.Reg)
	}
	return "uninit"
}
