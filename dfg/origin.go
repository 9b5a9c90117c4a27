package dfg

import "fmt"

// CodeOrigin is a bytecode position inside one inlined frame. The zero value
// is invalid.
type CodeOrigin struct {
	Frame *InlinedCallFrame
	Index int
}

func (o CodeOrigin) IsValid() bool { return o.Frame != nil }

func (o CodeOrigin) String() string {
	if !o.IsValid() {
		return "<none>"
	}
	return fmt.Sprintf("f%d@%d", o.Frame.Ordinal(), o.Index)
}

// ExitKind distinguishes the two shapes of OSR exit destination.
type ExitKind uint8

const (
	ExitNone ExitKind = iota
	ExitNormal
	// ExitBranchDest resumes at whichever successor the branch at Origin took.
	ExitBranchDest
)

// OsrExitDestination is where the interpreter resumes if a node exits.
type OsrExitDestination struct {
	Kind   ExitKind
	Origin CodeOrigin
}

func NormalExit(o CodeOrigin) OsrExitDestination {
	return OsrExitDestination{Kind: ExitNormal, Origin: o}
}

func BranchDestExit(o CodeOrigin) OsrExitDestination {
	return OsrExitDestination{Kind: ExitBranchDest, Origin: o}
}

func (d OsrExitDestination) IsValid() bool { return d.Kind != ExitNone }
func (d OsrExitDestination) IsBranchDest() bool { return d.Kind == ExitBranchDest }

// NormalOrigin returns the resume origin of a normal destination.
func (d OsrExitDestination) NormalOrigin() CodeOrigin {
	invariant(d.Kind == ExitNormal, "exit destination %v is not normal", d)
	return d.Origin
}

func (d OsrExitDestination) String() string {
	switch d.Kind {
	case ExitNormal:
		return d.Origin.String()
	case ExitBranchDest:
		return "branch(" + d.Origin.String() + ")"
	}
	return "<none>"
}
