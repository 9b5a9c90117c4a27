// dfgc - builds the optimizing-tier IR graph of a bytecode program
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/dfgjit/compilelog"
	"github.com/chazu/dfgjit/config"
	"github.com/chazu/dfgjit/dfg"
	"github.com/chazu/dfgjit/pkg/bytecode"
	"github.com/chazu/dfgjit/server"
)

var log = commonlog.GetLogger("dfgc")

type options struct {
	file      string
	function  string
	configDir string
	dump      bool
	record    bool
	storePath string
	history   int
	serve     bool
	port      int
	remote    string
	encode    string
	verbosity int
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("dfgc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.file, "f", "", "Program file (.cbor or .toml)")
	fs.StringVar(&o.function, "fn", "main", "Root function to compile")
	fs.StringVar(&o.configDir, "config", "", "Directory holding dfg.toml (default: search upwards from the working directory)")
	fs.BoolVar(&o.dump, "dump", false, "Print the IR dump")
	fs.BoolVar(&o.record, "record", false, "Record the compilation in the compile log")
	fs.StringVar(&o.storePath, "store", "", "Compile log path (overrides [store] path)")
	fs.IntVar(&o.history, "history", 0, "List the N most recent recorded compilations")
	fs.BoolVar(&o.serve, "serve", false, "Start the compile service (Connect, CBOR)")
	fs.IntVar(&o.port, "port", 0, "Compile service port (overrides [server] addr)")
	fs.StringVar(&o.remote, "remote", "", "Compile on the service at this base URL")
	fs.StringVar(&o.encode, "encode", "", "Write the program to this file (.toml, else CBOR) and exit")
	fs.IntVar(&o.verbosity, "v", -1, "Log verbosity 0-5 (overrides [log] verbosity)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: dfgc [options]\n\n")
		fmt.Fprintf(stderr, "Builds the IR graph of one function of a bytecode program.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  dfgc -f prog.toml -dump            # Compile main, print the graph\n")
		fmt.Fprintf(stderr, "  dfgc -f prog.cbor -fn loop -record # Compile loop, record it\n")
		fmt.Fprintf(stderr, "  dfgc -f prog.toml -encode prog.cbor\n")
		fmt.Fprintf(stderr, "  dfgc -history 10                   # Show recent compilations\n")
		fmt.Fprintf(stderr, "\nCompile Service:\n")
		fmt.Fprintf(stderr, "  dfgc -serve -port 8765 -record\n")
		fmt.Fprintf(stderr, "  dfgc -f prog.cbor -remote http://localhost:8765 -dump\n")
	}
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return o, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if o.file == "" && !o.serve && o.history <= 0 {
		fs.Usage()
		return o, fmt.Errorf("no program file given")
	}
	return o, nil
}

// run executes one dfgc invocation. Reports go to stdout and usage to stderr.
func run(args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	cfg, err := loadConfig(o.configDir)
	if err != nil {
		return err
	}
	verbosity := cfg.Log.Verbosity
	if o.verbosity >= 0 {
		verbosity = o.verbosity
	}
	commonlog.Configure(verbosity, nil)

	storePath := cfg.StorePath()
	if o.storePath != "" {
		storePath = o.storePath
	}

	switch {
	case o.serve:
		return serve(cfg, o, storePath)
	case o.history > 0:
		return history(stdout, storePath, o.history)
	}

	prog, err := bytecode.LoadProgram(o.file)
	if err != nil {
		return err
	}
	if o.encode != "" {
		return encode(stdout, prog, o.encode)
	}
	if o.remote != "" {
		return compileRemote(stdout, prog, o, cfg)
	}
	return compileLocal(stdout, prog, o, cfg, storePath)
}

func loadConfig(dir string) (*config.Config, error) {
	if dir != "" {
		return config.Load(dir)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func compileLocal(w io.Writer, prog *bytecode.Program, o options, cfg *config.Config, storePath string) (err error) {
	root, err := prog.Lookup(o.function)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compiling %s: %v", o.function, r)
		}
	}()
	start := time.Now()
	g := dfg.Build(prog, root, cfg.Options())
	log.Infof("compiled %s in %s", o.function, time.Since(start))

	report := compilelog.NewReport(g)
	printReport(w, report)
	if o.dump {
		fmt.Fprint(w, dfg.Dump(g))
	}

	if o.record {
		store, err := compilelog.Open(storePath)
		if err != nil {
			return err
		}
		defer store.Close()
		id, err := store.Record(context.Background(), report)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "recorded %s\n", id)
	}
	return nil
}

func compileRemote(w io.Writer, prog *bytecode.Program, o options, cfg *config.Config) error {
	data, err := bytecode.MarshalProgram(prog)
	if err != nil {
		return err
	}
	opts := cfg.Options()
	client := server.NewClient(http.DefaultClient, o.remote)
	resp, err := client.Compile(context.Background(), &server.CompileRequest{
		Program:  data,
		Function: o.function,
		Options:  &opts,
	})
	if err != nil {
		return fmt.Errorf("remote compile: %w", err)
	}

	printReport(w, compilelog.Report{
		ID:        resp.ID,
		Function:  o.function,
		Blocks:    resp.Blocks,
		Nodes:     resp.Nodes,
		Frames:    resp.Frames,
		Phantoms:  resp.Phantoms,
		Decisions: resp.Decisions,
	})
	if resp.Cached {
		fmt.Fprintln(w, "(cached)")
	}
	if o.dump {
		fmt.Fprint(w, resp.Dump)
	}
	return nil
}

func printReport(w io.Writer, r compilelog.Report) {
	fmt.Fprintf(w, "%s: %d blocks, %d nodes, %d frames, %d phantoms\n", r.Function, r.Blocks, r.Nodes, r.Frames, r.Phantoms)
	for _, d := range r.Decisions {
		verdict := "declined"
		if d.Accepted {
			verdict = "inlined"
		}
		callee := d.Callee
		if callee == "" {
			callee = "?"
		}
		fmt.Fprintf(w, "  %s@%d -> %s: %s (%s)\n", d.Caller, d.Index, callee, verdict, d.Reason)
	}
}

func encode(w io.Writer, prog *bytecode.Program, out string) error {
	marshal := bytecode.MarshalProgram
	if bytecode.IsTOMLPath(out) {
		marshal = bytecode.EncodeProgramTOML
	}
	data, err := marshal(prog)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("cannot write %s: %w", out, err)
	}
	fmt.Fprintf(w, "wrote %s (%d bytes)\n", out, len(data))
	return nil
}

func history(w io.Writer, storePath string, n int) error {
	store, err := compilelog.Open(storePath)
	if err != nil {
		return err
	}
	defer store.Close()

	reports, err := store.Recent(context.Background(), n)
	if err != nil {
		return err
	}
	for _, r := range reports {
		fmt.Fprintf(w, "%s  %s  %-20s %d blocks, %d nodes, %d frames, %d inlined\n",
			r.ID, r.Created.Format(time.RFC3339), r.Function, r.Blocks, r.Nodes, r.Frames, r.Inlined())
	}
	return nil
}

func serve(cfg *config.Config, o options, storePath string) error {
	addr := cfg.Server.Addr
	if o.port > 0 {
		addr = fmt.Sprintf(":%d", o.port)
	}

	opts := []server.ServerOption{server.WithDefaults(cfg.Options())}
	if o.record {
		store, err := compilelog.Open(storePath)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, server.WithStore(store))
	}

	srv := server.New(opts...)
	defer srv.Stop()
	return srv.ListenAndServe(addr)
}
