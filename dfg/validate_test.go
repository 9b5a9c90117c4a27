package dfg

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateRejectsCorruptGraphs(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(g *Graph)
		want    string
	}{
		{
			name:    "empty block",
			corrupt: func(g *Graph) { g.Blocks[1].Nodes = nil },
			want:    "is empty",
		},
		{
			name: "constant in a block",
			corrupt: func(g *Graph) {
				b := g.Blocks[1]
				b.Nodes = append([]*Node{g.Argument(0).Node}, b.Nodes...)
			},
			want: "constant-like",
		},
		{
			name: "duplicated node",
			corrupt: func(g *Graph) {
				b := g.Blocks[1]
				b.Nodes = append([]*Node{b.Nodes[0]}, b.Nodes...)
			},
			want: "more than once",
		},
		{
			name: "input defined later",
			corrupt: func(g *Graph) {
				g.Blocks[1].Nodes[0].Inputs = []Value{findGuest(g, "ADD").Out(0)}
			},
			want: "not an earlier node",
		},
		{
			name: "exit where exits are disallowed",
			corrupt: func(g *Graph) {
				findGuest(g, "ADD").Set(FlagExitOK, false)
			},
			want: "exits are not allowed",
		},
		{
			name: "branch to entry",
			corrupt: func(g *Graph) {
				entry := g.Blocks[0]
				entry.SetSuccessor(0, entry)
			},
			want: "branches to the entry block",
		},
		{
			name: "missing output",
			corrupt: func(g *Graph) {
				add := findGuest(g, "ADD")
				for _, b := range g.Blocks {
					for _, n := range b.Nodes {
						if n.Kind == KindReturn {
							n.Inputs = []Value{add.Out(3)}
						}
					}
				}
			},
			want: "missing output",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProgram(t, addFn())
			g := mustBuild(t, p, "add", DefaultOptions())
			tt.corrupt(g)

			err := Validate(g, false)
			if err == nil {
				t.Fatal("Validate accepted a corrupt graph")
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error %T is not a *ValidationError", err)
			}
			if !strings.Contains(ve.Msg, tt.want) {
				t.Errorf("message %q does not mention %q", ve.Msg, tt.want)
			}
			if !strings.HasPrefix(ve.Dump, "; dfg add:") {
				t.Error("error carries no graph dump")
			}
		})
	}
}

func TestValidateUnreachable(t *testing.T) {
	p := newProgram(t, addFn())
	g := mustBuild(t, p, "add", DefaultOptions())

	orphan := g.newBlock()
	ret := g.newNode(KindReturn)
	ret.Set(FlagBarrier, true)
	orphan.Push(ret)
	orphan.SetTerminator(ret)
	g.Blocks = append(g.Blocks, orphan)

	if err := Validate(g, false); err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Errorf("Validate = %v, want an unreachable-block error", err)
	}
	if err := Validate(g, true); err != nil {
		t.Errorf("Validate with unreachable blocks allowed: %v", err)
	}

	g.ComputeReachabilityAndPredecessors()
	if n := g.RemoveUnreachableBlocks(); n != 1 {
		t.Errorf("removed %d blocks, want 1", n)
	}
	if err := Validate(g, false); err != nil {
		t.Error(err)
	}
}

func TestValidateVariadicResults(t *testing.T) {
	p := newProgram(t, addFn())
	g := mustBuild(t, p, "add", DefaultOptions())

	// a reader of variadic results after a clobbering node
	body := g.Blocks[1]
	add := findGuest(g, "ADD")
	kth := g.newNode(KindGetKthVariadicRes)
	kth.HasDirectOutput = true
	kth.Set(FlagAccessesVR, true)
	kth.VRInput = add
	body.Nodes = append(body.Nodes[:len(body.Nodes)-1], kth, body.Nodes[len(body.Nodes)-1])

	if err := Validate(g, false); err == nil || !strings.Contains(err.Error(), "variadic results") {
		t.Errorf("Validate = %v, want a variadic-results error", err)
	}
}
