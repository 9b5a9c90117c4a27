package dfg

import "github.com/willf/bitset"

// Bit vectors over local ordinals. Every vector of one function is created
// with the function's local count so Equal compares like with like.

func newLocalSet(n int) *bitset.BitSet { return bitset.New(uint(n)) }

func bitTest(b *bitset.BitSet, l int) bool { return b.Test(uint(l)) }

func bitSet(b *bitset.BitSet, l int) { b.Set(uint(l)) }

func bitClear(b *bitset.BitSet, l int) { b.Clear(uint(l)) }

// clearFrom clears every bit in [start, n).
func clearFrom(b *bitset.BitSet, start, n int) {
	for l := start; l < n; l++ {
		b.Clear(uint(l))
	}
}

// members returns the set bits in ascending order.
func members(b *bitset.BitSet) []int {
	var out []int
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		out = append(out, int(i))
	}
	return out
}
