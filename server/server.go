package server

import (
	"net/http"

	"connectrpc.com/connect"
	lru "github.com/hashicorp/golang-lru"

	"github.com/chazu/dfgjit/compilelog"
	"github.com/chazu/dfgjit/dfg"
)

// CompileServer serves the compile service over Connect.
type CompileServer struct {
	worker *CompileWorker
	mux    *http.ServeMux
}

// ServerOption configures a CompileServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	store     *compilelog.Store
	cacheSize int
	defaults  dfg.Options
}

// WithStore records every compilation in store.
func WithStore(store *compilelog.Store) ServerOption {
	return func(c *serverConfig) { c.store = store }
}

// WithCacheSize keeps the last n responses. Zero disables the cache.
func WithCacheSize(n int) ServerOption {
	return func(c *serverConfig) { c.cacheSize = n }
}

// WithDefaults sets the options used by requests that carry none.
func WithDefaults(opts dfg.Options) ServerOption {
	return func(c *serverConfig) { c.defaults = opts }
}

// New creates a CompileServer.
func New(opts ...ServerOption) *CompileServer {
	cfg := &serverConfig{
		cacheSize: 128,
		defaults:  dfg.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var cache *lru.Cache
	if cfg.cacheSize > 0 {
		// only fails for a non-positive size
		cache, _ = lru.New(cfg.cacheSize)
	}

	s := &CompileServer{
		worker: NewCompileWorker(),
		mux:    http.NewServeMux(),
	}
	svc := NewCompileService(s.worker, cfg.store, cache, cfg.defaults)
	s.mux.Handle(CompileProcedure, connect.NewUnaryHandler(
		CompileProcedure,
		svc.Compile,
		connect.WithCodec(cborCodec{}),
	))
	return s
}

// Handler returns the HTTP handler serving the compile service.
func (s *CompileServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *CompileServer) ListenAndServe(addr string) error {
	log.Noticef("compile service listening on %s", addr)
	log.Noticef("  Connect (CBOR): http://%s%s", addr, CompileProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// Stop shuts down the server.
func (s *CompileServer) Stop() {
	s.worker.Stop()
}
