package bytecode

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoadProgram reads a program from path. Files ending in .toml are parsed as
// hand-written fixtures; anything else is treated as CBOR.
func LoadProgram(path string) (*Program, error) {
	if IsTOMLPath(path) {
		return LoadProgramTOML(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bytecode: read %s: %w", path, err)
	}
	return UnmarshalProgram(data)
}

// IsTOMLPath reports whether path names a TOML fixture.
func IsTOMLPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadProgramTOML reads a TOML fixture from path.
func LoadProgramTOML(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bytecode: read %s: %w", path, err)
	}
	return ParseProgramTOML(data)
}

// ParseProgramTOML decodes and links a TOML fixture.
func ParseProgramTOML(data []byte) (*Program, error) {
	var p Program
	md, err := toml.Decode(string(data), &p)
	if err != nil {
		return nil, fmt.Errorf("bytecode: parse toml: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("bytecode: unknown toml key %s", undecoded[0])
	}
	if err := p.Link(); err != nil {
		return nil, err
	}
	return &p, nil
}

// EncodeProgramTOML renders p as a TOML fixture.
func EncodeProgramTOML(p *Program) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(p); err != nil {
		return nil, fmt.Errorf("bytecode: encode toml: %w", err)
	}
	return buf.Bytes(), nil
}
