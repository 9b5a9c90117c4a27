package bytecode

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const fixtureTOML = `
[[function]]
name = "main"
args = 1
locals = 8
constants = [{ kind = "int", int = 2 }]
code = [
  { op = "KSET", a = 5, b = 0 },
  { op = "CALL1", a = 0, b = 1, c = 1, sites = [{ mode = "direct", state = "mono", targets = [{ callee = "double", object = 3 }] }] },
  { op = "RET", a = 0, b = 1 },
]

[[function]]
name = "double"
args = 1
locals = 2
code = [
  { op = "ADD", a = 1, b = 0, c = 0 },
  { op = "RET", a = 1, b = 1 },
]
`

func TestParseProgramTOML(t *testing.T) {
	p, err := ParseProgramTOML([]byte(fixtureTOML))
	if err != nil {
		t.Fatalf("ParseProgramTOML: %v", err)
	}
	if len(p.Functions) != 2 {
		t.Fatalf("got %d functions, want 2", len(p.Functions))
	}
	main, err := p.Lookup("main")
	if err != nil {
		t.Fatalf("Lookup(main): %v", err)
	}
	if main.Code[1].Op != OpCall1 {
		t.Errorf("code[1] = %s, want CALL1", main.Code[1].Op)
	}
	site := main.Code[1].Sites[0]
	if !site.ObservedExactlyOneTarget() || site.Targets[0].Object != 3 {
		t.Errorf("site = %+v, want mono double#3", site)
	}
	if main.Constants[0] != IntValue(2) {
		t.Errorf("constant = %v, want 2", main.Constants[0])
	}
}

func TestParseProgramTOMLRejectsUnknownKeys(t *testing.T) {
	_, err := ParseProgramTOML([]byte("[[function]]\nname = \"f\"\nbogus = 1\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestProgramCBORRoundTrip(t *testing.T) {
	p, err := ParseProgramTOML([]byte(fixtureTOML))
	if err != nil {
		t.Fatalf("ParseProgramTOML: %v", err)
	}

	data, err := MarshalProgram(p)
	if err != nil {
		t.Fatalf("MarshalProgram: %v", err)
	}
	again, err := MarshalProgram(p)
	if err != nil {
		t.Fatalf("MarshalProgram: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Error("canonical encoding should be deterministic")
	}

	back, err := UnmarshalProgram(data)
	if err != nil {
		t.Fatalf("UnmarshalProgram: %v", err)
	}
	fn, err := back.Lookup("double")
	if err != nil {
		t.Fatalf("Lookup(double): %v", err)
	}
	if fn.ID != 1 || Disassemble(fn) != Disassemble(p.Functions[1]) {
		t.Errorf("decoded function differs:\n%s", Disassemble(fn))
	}
}

func TestLoadProgramByExtension(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "prog.toml")
	if err := os.WriteFile(tomlPath, []byte(fixtureTOML), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadProgram(tomlPath)
	if err != nil {
		t.Fatalf("LoadProgram(toml): %v", err)
	}

	data, err := MarshalProgram(p)
	if err != nil {
		t.Fatal(err)
	}
	cborPath := filepath.Join(dir, "prog.cbor")
	if err := os.WriteFile(cborPath, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProgram(cborPath); err != nil {
		t.Fatalf("LoadProgram(cbor): %v", err)
	}

	if _, err := LoadProgram(filepath.Join(dir, "missing.cbor")); err == nil {
		t.Error("LoadProgram of a missing file should fail")
	}
}

const variadicTOML = `
[[function]]
name = "main"
args = 1
locals = 8
variadic = true
tiered = true
max-observed-varargs = 2
constants = [{ kind = "proto", str = "inc" }, { kind = "float", float = 1.5 }]
code = [
  { op = "MOV", a = 5, b = 0 },
  { op = "VARGALL" },
  { op = "CALLM", a = 1, b = 1, c = 1, sites = [{ mode = "direct", state = "poly", hits = 9, misses = 1, targets = [{ callee = "inc", object = 7 }, { native = "print" }] }] },
  { op = "RET", a = 1, b = 1 },
]

[[function]]
name = "inc"
args = 0
locals = 1
upvalues = [{ parent-local = true, immutable = false, slot = 0 }]
code = [
  { op = "UGETM", a = 0, b = 0 },
  { op = "RET", a = 0, b = 1 },
]
`

func TestProgramTOMLRoundTrip(t *testing.T) {
	for name, src := range map[string]string{"call": fixtureTOML, "variadic": variadicTOML} {
		t.Run(name, func(t *testing.T) {
			p, err := ParseProgramTOML([]byte(src))
			if err != nil {
				t.Fatalf("ParseProgramTOML: %v", err)
			}
			data, err := EncodeProgramTOML(p)
			if err != nil {
				t.Fatalf("EncodeProgramTOML: %v", err)
			}
			back, err := ParseProgramTOML(data)
			if err != nil {
				t.Fatalf("ParseProgramTOML(encoded): %v\n%s", err, data)
			}
			if !reflect.DeepEqual(back.Functions, p.Functions) {
				t.Errorf("round trip changed the program:\n%s", data)
			}

			path := filepath.Join(t.TempDir(), "prog.toml")
			if err := os.WriteFile(path, data, 0o644); err != nil {
				t.Fatal(err)
			}
			loaded, err := LoadProgramTOML(path)
			if err != nil {
				t.Fatalf("LoadProgramTOML: %v", err)
			}
			if !reflect.DeepEqual(loaded.Functions, p.Functions) {
				t.Error("LoadProgramTOML differs from ParseProgramTOML")
			}
		})
	}
}
