package main

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/dfgjit/pkg/bytecode"
	"github.com/chazu/dfgjit/server"
)

// writeProgram stores a caller/callee pair as prog.toml and prog.cbor in a
// fresh directory, next to a dfg.toml holding cfg.
func writeProgram(t *testing.T, cfg string) string {
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
		t.Fatalf("NewProgram: %v", err)
	}
	dir := t.TempDir()
	text, err := bytecode.EncodeProgramTOML(p)
	if err != nil {
		t.Fatal(err)
	}
	data, err := bytecode.MarshalProgram(p)
	if err != nil {
		t.Fatal(err)
	}
	files := map[string][]byte{
		"prog.toml": text,
		"prog.cbor": data,
		"dfg.toml":  []byte(cfg),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestCompileAndDump(t *testing.T) {
	dir := writeProgram(t, "[log]\nverbosity = 0\n")
	for _, name := range []string{"prog.toml", "prog.cbor"} {
		t.Run(name, func(t *testing.T) {
			out, _, err := runCLI(t, "-config", dir, "-f", filepath.Join(dir, name), "-dump")
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			for _, want := range []string{"main: ", "2 frames", "main@1 -> f: inlined", "; dfg main:"} {
				if !strings.Contains(out, want) {
					t.Errorf("output lacks %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestConfigDisablesInlining(t *testing.T) {
	dir := writeProgram(t, "[inliner]\nenabled = false\n")
	out, _, err := runCLI(t, "-config", dir, "-f", filepath.Join(dir, "prog.toml"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "1 frames") || strings.Contains(out, "inlined (") {
		t.Errorf("inliner ran with enabled = false:\n%s", out)
	}
}

func TestEncodePicksFormatFromExtension(t *testing.T) {
	dir := writeProgram(t, "")
	for _, name := range []string{"out.toml", "out.cbor"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			out, _, err := runCLI(t, "-config", dir, "-f", filepath.Join(dir, "prog.toml"), "-encode", path)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if !strings.HasPrefix(out, "wrote "+path) {
				t.Errorf("output = %q, want a wrote line", out)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			isTOML := bytes.Contains(data, []byte("[[function]]"))
			if isTOML != bytecode.IsTOMLPath(path) {
				t.Errorf("%s written as toml=%v", name, isTOML)
			}
			p, err := bytecode.LoadProgram(path)
			if err != nil {
				t.Fatalf("LoadProgram: %v", err)
			}
			if len(p.Functions) != 2 {
				t.Errorf("got %d functions, want 2", len(p.Functions))
			}
		})
	}
}

func TestRecordAndHistory(t *testing.T) {
	dir := writeProgram(t, "")
	store := filepath.Join(dir, "log.db")
	out, _, err := runCLI(t, "-config", dir, "-f", filepath.Join(dir, "prog.cbor"), "-record", "-store", store)
	if err != nil {
		t.Fatalf("run -record: %v", err)
	}
	if !strings.Contains(out, "recorded ") {
		t.Errorf("output lacks the recorded id:\n%s", out)
	}

	out, _, err = runCLI(t, "-config", dir, "-history", "5", "-store", store)
	if err != nil {
		t.Fatalf("run -history: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], "main") || !strings.Contains(lines[0], "2 frames") {
		t.Errorf("history = %q, want one main compilation with 2 frames", out)
	}
}

func TestCompileRemote(t *testing.T) {
	srv := server.New()
	defer srv.Stop()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	dir := writeProgram(t, "")
	out, _, err := runCLI(t, "-config", dir, "-f", filepath.Join(dir, "prog.toml"), "-remote", ts.URL, "-dump")
	if err != nil {
		t.Fatalf("run -remote: %v", err)
	}
	for _, want := range []string{"2 frames", "main@1 -> f: inlined", "; dfg main:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestBadInvocations(t *testing.T) {
	dir := writeProgram(t, "")
	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte("[[function]]\nname = \"main\"\nbogus = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no file", []string{"-config", dir}, "no program file"},
		{"missing file", []string{"-config", dir, "-f", filepath.Join(dir, "nope.cbor")}, "nope.cbor"},
		{"bad program", []string{"-config", dir, "-f", bad}, "unknown toml key"},
		{"unknown function", []string{"-config", dir, "-f", filepath.Join(dir, "prog.toml"), "-fn", "g"}, `"g"`},
		{"missing config", []string{"-config", filepath.Join(dir, "absent"), "-f", filepath.Join(dir, "prog.toml")}, "dfg.toml"},
		{"unknown flag", []string{"-frobnicate"}, "frobnicate"},
		{"stray argument", []string{"-config", dir, "-f", filepath.Join(dir, "prog.toml"), "extra"}, "unexpected arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runCLI(t, tt.args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %s", err, tt.want)
			}
		})
	}
}

func TestHelpIsNotAnError(t *testing.T) {
	_, stderr, err := runCLI(t, "-h")
	if err != nil {
		t.Fatalf("run -h: %v", err)
	}
	if !strings.Contains(stderr, "Usage: dfgc") {
		t.Errorf("stderr lacks usage:\n%s", stderr)
	}
}
