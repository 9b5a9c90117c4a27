// Package config handles dfg.toml compiler configuration.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"

	"github.com/chazu/dfgjit/dfg"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "dfg.toml"

//go:embed schema.cue
var schemaSource []byte

// Config represents a dfg.toml configuration.
type Config struct {
	Inliner  Inliner  `toml:"inliner" json:"inliner"`
	Pipeline Pipeline `toml:"pipeline" json:"pipeline"`
	Log      Log      `toml:"log" json:"log"`
	Store    Store    `toml:"store" json:"store"`
	Server   Server   `toml:"server" json:"server"`

	// Dir is the directory containing the dfg.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Inliner holds the inlining heuristic knobs.
type Inliner struct {
	Enabled       bool `toml:"enabled" json:"enabled"`
	RootCutoff    int  `toml:"root-cutoff" json:"root-cutoff"`
	RootBudget    int  `toml:"root-budget" json:"root-budget"`
	DirectBudget  int  `toml:"direct-budget" json:"direct-budget"`
	ClosureBudget int  `toml:"closure-budget" json:"closure-budget"`
	MaxDepth      int  `toml:"max-depth" json:"max-depth"`
	MaxRecursion  int  `toml:"max-recursion" json:"max-recursion"`
	MaxFrames     int  `toml:"max-frames" json:"max-frames"`
}

// Pipeline selects the passes run after graph construction.
type Pipeline struct {
	Validate         bool `toml:"validate" json:"validate"`
	AllowUnreachable bool `toml:"allow-unreachable" json:"allow-unreachable"`
	Phantoms         bool `toml:"phantoms" json:"phantoms"`
}

// Log configures logging.
type Log struct {
	Verbosity int `toml:"verbosity" json:"verbosity"`
}

// Store configures the compile log database.
type Store struct {
	Path string `toml:"path" json:"path"`
}

// Server configures the compile service.
type Server struct {
	Addr string `toml:"addr" json:"addr"`
}

// Default returns the configuration used when no dfg.toml exists.
func Default() *Config {
	o := dfg.DefaultOptions()
	return &Config{
		Inliner: Inliner{
			Enabled:       o.Inliner.Enabled,
			RootCutoff:    o.Inliner.RootCutoff,
			RootBudget:    o.Inliner.RootBudget,
			DirectBudget:  o.Inliner.DirectBudget,
			ClosureBudget: o.Inliner.ClosureBudget,
			MaxDepth:      o.Inliner.MaxDepth,
			MaxRecursion:  o.Inliner.MaxRecursion,
			MaxFrames:     o.Inliner.MaxFrames,
		},
		Pipeline: Pipeline{
			Validate:         o.Validate,
			AllowUnreachable: o.AllowUnreachable,
			Phantoms:         o.Phantoms,
		},
		Store:  Store{Path: "dfgc.db"},
		Server: Server{Addr: ":8765"},
	}
}

// Load parses a dfg.toml file from the given directory. Keys missing from
// the file keep their default values.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("config: parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("config: cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if c.Store.Path == "" {
		c.Store.Path = "dfgc.db"
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a dfg.toml file, then loads
// and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks c against the embedded schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Options returns the compilation options c describes.
func (c *Config) Options() dfg.Options {
	return dfg.Options{
		Inliner: dfg.InlinerOptions{
			Enabled:       c.Inliner.Enabled,
			RootCutoff:    c.Inliner.RootCutoff,
			RootBudget:    c.Inliner.RootBudget,
			DirectBudget:  c.Inliner.DirectBudget,
			ClosureBudget: c.Inliner.ClosureBudget,
			MaxDepth:      c.Inliner.MaxDepth,
			MaxRecursion:  c.Inliner.MaxRecursion,
			MaxFrames:     c.Inliner.MaxFrames,
		},
		Validate:         c.Pipeline.Validate,
		AllowUnreachable: c.Pipeline.AllowUnreachable,
		Phantoms:         c.Pipeline.Phantoms,
	}
}

// StorePath returns the compile log path, resolved against Dir when relative.
func (c *Config) StorePath() string {
	if c.Store.Path == ":memory:" || filepath.IsAbs(c.Store.Path) || c.Dir == "" {
		return c.Store.Path
	}
	return filepath.Join(c.Dir, c.Store.Path)
}
