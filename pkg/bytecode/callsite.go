package bytecode

import (
	"fmt"
	"strings"
)

// Call-site profiling
//
// The baseline tier keeps one CallSite per profiled call in an instruction.
// Each site remembers what it has been seen calling:
// - a direct-call site keys on the exact function object;
// - a closure-call site keys on the prototype, since every closure of one
//   prototype runs the same code.
//
// A site progresses Empty -> Monomorphic -> Polymorphic -> Megamorphic.
// Only monomorphic sites are inlining candidates.

// CacheState represents the current state of a call-site profile.
type CacheState uint8

const (
	CacheEmpty       CacheState = iota // Never observed a call
	CacheMonomorphic                   // Exactly one target
	CachePolymorphic                   // 2..MaxPICEntries targets
	CacheMegamorphic                   // Too many targets, no longer tracked
)

// MaxPICEntries is the number of targets tracked before a site goes megamorphic.
const MaxPICEntries = 6

var cacheStateNames = [...]string{"empty", "mono", "poly", "mega"}

func (s CacheState) String() string {
	if int(s) < len(cacheStateNames) {
		return cacheStateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MarshalText encodes the state by name.
func (s CacheState) MarshalText() ([]byte, error) {
	if int(s) >= len(cacheStateNames) {
		return nil, fmt.Errorf("bytecode: unknown cache state %d", uint8(s))
	}
	return []byte(cacheStateNames[s]), nil
}

// UnmarshalText decodes a state from its name.
func (s *CacheState) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for i, n := range cacheStateNames {
		if n == name {
			*s = CacheState(i)
			return nil
		}
	}
	return fmt.Errorf("bytecode: unknown cache state %q", text)
}

// CallMode says whether a site is keyed by function object or by prototype.
type CallMode uint8

const (
	DirectCall  CallMode = iota // target is one specific function object
	ClosureCall                 // target is any closure of one prototype
)

func (m CallMode) String() string {
	if m == ClosureCall {
		return "closure"
	}
	return "direct"
}

// MarshalText encodes the mode by name.
func (m CallMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText decodes a mode from its name.
func (m *CallMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "direct":
		*m = DirectCall
	case "closure":
		*m = ClosureCall
	default:
		return fmt.Errorf("bytecode: unknown call mode %q", text)
	}
	return nil
}

// CallTarget is one observed callee.
// Exactly one of Callee (a bytecode function) or Native (a host function) is set.
// Object identifies the function object for direct calls.
type CallTarget struct {
	Callee string `cbor:"1,keyasint,omitempty" toml:"callee,omitempty"`
	Native string `cbor:"2,keyasint,omitempty" toml:"native,omitempty"`
	Object uint64 `cbor:"3,keyasint,omitempty" toml:"object,omitempty"`
}

// IsNative reports whether the target is a host function.
func (t CallTarget) IsNative() bool { return t.Native != "" }

func (t CallTarget) String() string {
	if t.IsNative() {
		return "native:" + t.Native
	}
	if t.Object != 0 {
		return fmt.Sprintf("%s#%d", t.Callee, t.Object)
	}
	return t.Callee
}

// CallSite is the baseline profile of one call.
type CallSite struct {
	Mode    CallMode     `cbor:"1,keyasint" toml:"mode"`
	State   CacheState   `cbor:"2,keyasint" toml:"state"`
	Targets []CallTarget `cbor:"3,keyasint,omitempty" toml:"targets,omitempty"`

	// Statistics for profiling
	Hits   uint64 `cbor:"4,keyasint,omitempty" toml:"hits,omitempty"`
	Misses uint64 `cbor:"5,keyasint,omitempty" toml:"misses,omitempty"`
}

func (s *CallSite) same(a, b CallTarget) bool {
	if s.Mode == ClosureCall {
		return a.Callee == b.Callee && a.Native == b.Native
	}
	return a == b
}

// Lookup reports whether t is one of the site's tracked targets and counts
// the hit or miss.
func (s *CallSite) Lookup(t CallTarget) bool {
	if s.State == CacheMonomorphic || s.State == CachePolymorphic {
		for _, have := range s.Targets {
			if s.same(have, t) {
				s.Hits++
				return true
			}
		}
	}
	s.Misses++
	return false
}

// Observe records a call to t, potentially upgrading the site's state.
func (s *CallSite) Observe(t CallTarget) {
	switch s.State {
	case CacheEmpty:
		s.State = CacheMonomorphic
		s.Targets = []CallTarget{t}

	case CacheMonomorphic, CachePolymorphic:
		for _, have := range s.Targets {
			if s.same(have, t) {
				return
			}
		}
		if len(s.Targets) < MaxPICEntries {
			s.Targets = append(s.Targets, t)
			s.State = CachePolymorphic
		} else {
			s.State = CacheMegamorphic
			s.Targets = nil
		}

	case CacheMegamorphic:
	}
}

// Reset clears the site back to the empty state.
func (s *CallSite) Reset() {
	s.State = CacheEmpty
	s.Targets = nil
	s.Hits = 0
	s.Misses = 0
}

// ObservedNoTarget reports whether the site was never seen calling anything.
func (s *CallSite) ObservedNoTarget() bool { return s.State == CacheEmpty }

// ObservedExactlyOneTarget reports whether the site is monomorphic.
func (s *CallSite) ObservedExactlyOneTarget() bool {
	return s.State == CacheMonomorphic && len(s.Targets) == 1
}

// Target returns the single target of a monomorphic site.
func (s *CallSite) Target() (CallTarget, bool) {
	if !s.ObservedExactlyOneTarget() {
		return CallTarget{}, false
	}
	return s.Targets[0], true
}

// HitRate returns the hit rate as a percentage (0-100).
func (s *CallSite) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) * 100 / float64(total)
}
