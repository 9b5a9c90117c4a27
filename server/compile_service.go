package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/tliron/commonlog"

	"github.com/chazu/dfgjit/compilelog"
	"github.com/chazu/dfgjit/dfg"
	"github.com/chazu/dfgjit/pkg/bytecode"
)

var log = commonlog.GetLogger("dfgc.server")

// CompileService implements the CompileService Connect handler.
type CompileService struct {
	worker   *CompileWorker
	store    *compilelog.Store
	cache    *lru.Cache
	defaults dfg.Options
}

// NewCompileService creates a CompileService. store and cache may be nil.
func NewCompileService(worker *CompileWorker, store *compilelog.Store, cache *lru.Cache, defaults dfg.Options) *CompileService {
	return &CompileService{
		worker:   worker,
		store:    store,
		cache:    cache,
		defaults: defaults,
	}
}

// Compile builds the IR graph of one function of a program.
func (s *CompileService) Compile(
	ctx context.Context,
	req *connect.Request[CompileRequest],
) (*connect.Response[CompileResponse], error) {
	msg := req.Msg
	if len(msg.Program) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("program is required"))
	}
	name := msg.Function
	if name == "" {
		name = "main"
	}
	opts := s.defaults
	if msg.Options != nil {
		opts = *msg.Options
	}

	key := cacheKey(msg.Program, name, opts)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			resp := v.(CompileResponse)
			resp.Cached = true
			log.Debugf("cache hit for %s (%s)", name, resp.ID)
			return connect.NewResponse(&resp), nil
		}
	}

	prog, err := bytecode.UnmarshalProgram(msg.Program)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	root, err := prog.Lookup(name)
	if err != nil {
		if errors.Is(err, bytecode.ErrUnknownFunction) {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	g, err := s.worker.Compile(prog, root, opts)
	if err != nil {
		log.Errorf("compiling %s: %s", name, err)
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	report := compilelog.NewReport(g)
	id := uuid.NewString()
	if s.store != nil {
		report.ID = id
		if _, err := s.store.Record(ctx, report); err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
	}

	resp := CompileResponse{
		ID:        id,
		Blocks:    report.Blocks,
		Nodes:     report.Nodes,
		Frames:    report.Frames,
		Phantoms:  report.Phantoms,
		Dump:      dfg.Dump(g),
		Decisions: report.Decisions,
	}
	if s.cache != nil {
		s.cache.Add(key, resp)
	}
	log.Infof("compiled %s: %d blocks, %d nodes, %d frames", name, resp.Blocks, resp.Nodes, resp.Frames)
	return connect.NewResponse(&resp), nil
}

// cacheKey hashes everything a compilation result depends on.
func cacheKey(program []byte, function string, opts dfg.Options) uint64 {
	h := xxhash.New()
	h.Write(program)
	h.Write([]byte{0})
	h.WriteString(function)
	fmt.Fprintf(h, "\x00%+v", opts)
	return h.Sum64()
}
