package bytecode

import "testing"

func TestCallSiteStateProgression(t *testing.T) {
	var site CallSite

	if !site.ObservedNoTarget() {
		t.Fatal("new site should be empty")
	}

	site.Observe(Direct("f", 1))
	if site.State != CacheMonomorphic {
		t.Errorf("After first observe: state = %v, want mono", site.State)
	}
	if !site.ObservedExactlyOneTarget() {
		t.Error("site should report exactly one target")
	}

	// Same target again stays monomorphic
	site.Observe(Direct("f", 1))
	if site.State != CacheMonomorphic {
		t.Errorf("After repeat observe: state = %v, want mono", site.State)
	}

	// A different function object of the same prototype is a new direct target
	site.Observe(Direct("f", 2))
	if site.State != CachePolymorphic {
		t.Errorf("After second target: state = %v, want poly", site.State)
	}
	if site.ObservedExactlyOneTarget() {
		t.Error("polymorphic site should not report exactly one target")
	}

	for i := 3; i <= MaxPICEntries; i++ {
		site.Observe(Direct("f", uint64(i)))
	}
	if site.State != CachePolymorphic || len(site.Targets) != MaxPICEntries {
		t.Fatalf("state = %v with %d targets, want poly with %d", site.State, len(site.Targets), MaxPICEntries)
	}

	site.Observe(Direct("f", 99))
	if site.State != CacheMegamorphic {
		t.Errorf("After overflow: state = %v, want mega", site.State)
	}
	if len(site.Targets) != 0 {
		t.Errorf("megamorphic site keeps %d targets, want 0", len(site.Targets))
	}
}

func TestClosureSiteKeysOnPrototype(t *testing.T) {
	site := CallSite{Mode: ClosureCall}
	site.Observe(CallTarget{Callee: "g", Object: 10})
	site.Observe(CallTarget{Callee: "g", Object: 11})

	if !site.ObservedExactlyOneTarget() {
		t.Fatalf("closure site with one prototype: state = %v, want mono", site.State)
	}
	if got, _ := site.Target(); got.Callee != "g" {
		t.Errorf("Target() = %v, want g", got)
	}
}

func TestCallSiteLookupStats(t *testing.T) {
	var site CallSite
	site.Observe(Direct("f", 1))

	if !site.Lookup(Direct("f", 1)) {
		t.Error("Lookup of tracked target should hit")
	}
	if site.Lookup(Native("print")) {
		t.Error("Lookup of untracked target should miss")
	}
	if site.Hits != 1 || site.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", site.Hits, site.Misses)
	}
	if got := site.HitRate(); got != 50 {
		t.Errorf("HitRate() = %v, want 50", got)
	}

	site.Reset()
	if !site.ObservedNoTarget() || site.Hits != 0 {
		t.Error("Reset should clear state and statistics")
	}
}
