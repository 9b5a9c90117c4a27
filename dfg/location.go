package dfg

import "fmt"

// FrameLocation addresses one interpreter slot relative to a frame:
// a local ordinal (>= 0), the function object, the vararg count, or vararg k.
type FrameLocation int

const (
	FunctionObjectLoc FrameLocation = -1
	NumVarArgsLoc     FrameLocation = -2
)

func LocalLoc(ord int) FrameLocation { return FrameLocation(ord) }
func VarArgLoc(k int) FrameLocation { return FrameLocation(-3 - k) }
func (l FrameLocation) IsLocal() bool { return l >= 0 }
func (l FrameLocation) IsVarArg() bool {
	return l <= -3
}

// Local returns the local ordinal of a local location.
func (l FrameLocation) Local() int {
	invariant(l.IsLocal(), "%v is not a local", l)
	return int(l)
}

// VarArg returns the vararg ordinal of a vararg location.
func (l FrameLocation) VarArg() int {
	invariant(l.IsVarArg(), "%v is not a vararg", l)
	return int(-3 - l)
}

func (l FrameLocation) String() string {
	switch {
	case l.IsLocal():
		return fmt.Sprintf("r%d", int(l))
	case l == FunctionObjectLoc:
		return "funcobj"
	case l == NumVarArgsLoc:
		return "nvarargs"
	}
	return fmt.Sprintf("va%d", l.VarArg())
}
