package compilelog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/dfgjit/dfg"
	"github.com/chazu/dfgjit/pkg/bytecode"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// inlinedGraph builds main calling f in place, with f inlined.
func inlinedGraph(t *testing.T) *dfg.Graph {
	t.Helper()
	f := bytecode.NewFunction("f", 1, 2)
	f.Emit(bytecode.OpAdd, 1, 0, 0)
	f.Emit(bytecode.OpRet, 1, 1)

	m := bytecode.NewFunction("main", 1, 8)
	m.Emit(bytecode.OpMov, 5, 0)
	call := m.Emit(bytecode.OpCall, 1, 1, 1)
	m.Observe(call, bytecode.DirectCall, bytecode.Direct("f", 7))
	m.Emit(bytecode.OpRet, 1, 1)

	p, err := bytecode.NewProgram(m.Build(), f.Build())
	if err != nil {
		t.Fatal(err)
	}
	root, err := p.Lookup("main")
	if err != nil {
		t.Fatal(err)
	}
	return dfg.Build(p, root, dfg.DefaultOptions())
}

func TestNewReport(t *testing.T) {
	g := inlinedGraph(t)
	r := NewReport(g)

	if r.Function != "main" {
		t.Errorf("function = %q, want main", r.Function)
	}
	if r.Frames != 2 {
		t.Errorf("frames = %d, want 2", r.Frames)
	}
	if r.Blocks != len(g.Blocks) || r.Nodes != g.NumNodes() {
		t.Errorf("blocks=%d nodes=%d, want %d %d", r.Blocks, r.Nodes, len(g.Blocks), g.NumNodes())
	}
	if len(r.Decisions) != 1 || r.Inlined() != 1 {
		t.Fatalf("decisions = %v, want one accepted", r.Decisions)
	}
	if d := r.Decisions[0]; d.Caller != "main" || d.Callee != "f" || d.Index != 1 {
		t.Errorf("decision = %+v, want main@1 -> f", d)
	}
}

func TestRecordAndGet(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	r := NewReport(inlinedGraph(t))
	id, err := s.Record(ctx, r)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if id == "" {
		t.Fatal("Record returned an empty ID")
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != id || got.Function != "main" || got.Frames != r.Frames || got.Nodes != r.Nodes {
		t.Errorf("Get = %+v, want %+v", got, r)
	}
	if got.Created.IsZero() {
		t.Error("created time was not recorded")
	}
	if len(got.Decisions) != 1 || got.Decisions[0] != r.Decisions[0] {
		t.Errorf("decisions = %v, want %v", got.Decisions, r.Decisions)
	}
}

func TestGetMissing(t *testing.T) {
	s := openMemory(t)
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, fn := range []string{"a", "b", "c"} {
		r := Report{
			Function: fn,
			Created:  base.Add(time.Duration(i) * time.Minute),
			Blocks:   i + 1,
			Decisions: []Decision{
				{Caller: fn, Index: i, Callee: "g", Reason: "site 0 is poly"},
			},
		}
		if _, err := s.Record(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d reports, want 2", len(recent))
	}
	if recent[0].Function != "c" || recent[1].Function != "b" {
		t.Errorf("order = %s, %s, want c, b", recent[0].Function, recent[1].Function)
	}
	if !recent[0].Created.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("created = %v", recent[0].Created)
	}
	if len(recent[1].Decisions) != 1 || recent[1].Decisions[0].Index != 1 {
		t.Errorf("decisions of b = %v", recent[1].Decisions)
	}
}

func TestOpenFileReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Record(ctx, Report{ID: "fixed", Function: "main"})
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Get(ctx, id); err != nil {
		t.Errorf("Get after reopen: %v", err)
	}
	if _, err := s.Record(ctx, Report{ID: "fixed", Function: "main"}); err == nil {
		t.Error("Record accepted a duplicate ID")
	}
}
