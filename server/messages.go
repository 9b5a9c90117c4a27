package server

import (
	"github.com/chazu/dfgjit/compilelog"
	"github.com/chazu/dfgjit/dfg"
)

// CompileProcedure is the Connect procedure path of CompileService.Compile.
const CompileProcedure = "/dfgjit.v1.CompileService/Compile"

// CompileRequest asks for one compilation.
type CompileRequest struct {
	// Program is a CBOR encoded bytecode program.
	Program []byte `cbor:"1,keyasint"`
	// Function names the root function; empty means "main".
	Function string `cbor:"2,keyasint,omitempty"`
	// Options overrides the server's compilation options.
	Options *dfg.Options `cbor:"3,keyasint,omitempty"`
}

// CompileResponse describes the built graph.
type CompileResponse struct {
	ID        string                `cbor:"1,keyasint"`
	Blocks    int                   `cbor:"2,keyasint"`
	Nodes     int                   `cbor:"3,keyasint"`
	Frames    int                   `cbor:"4,keyasint"`
	Phantoms  int                   `cbor:"5,keyasint"`
	Dump      string                `cbor:"6,keyasint"`
	Decisions []compilelog.Decision `cbor:"7,keyasint,omitempty"`
	Cached    bool                  `cbor:"8,keyasint,omitempty"`
}
