package server

import (
	"fmt"

	"github.com/chazu/dfgjit/dfg"
	"github.com/chazu/dfgjit/pkg/bytecode"
)

// compileRequest represents a unit of work to be executed on the worker goroutine.
type compileRequest struct {
	fn   func() interface{}
	done chan compileResult
}

// compileResult holds the return value of a unit of work.
type compileResult struct {
	value interface{}
	err   error
}

// CompileWorker serializes compilations through a single goroutine.
// A compilation that panics becomes an error; the worker keeps running.
type CompileWorker struct {
	requests chan compileRequest
	quit     chan struct{}
}

// NewCompileWorker creates a CompileWorker and starts the processing goroutine.
func NewCompileWorker() *CompileWorker {
	w := &CompileWorker{
		requests: make(chan compileRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *CompileWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics.
func (w *CompileWorker) execute(fn func() interface{}) compileResult {
	var result compileResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok {
					result.err = fmt.Errorf("compilation failed: %w", err)
				} else {
					result.err = fmt.Errorf("compilation failed: %v", r)
				}
			}
		}()
		result.value = fn()
	}()
	return result
}

// Do submits fn for execution on the worker goroutine and blocks until it
// completes. Returns the result and any error (including panics).
func (w *CompileWorker) Do(fn func() interface{}) (interface{}, error) {
	req := compileRequest{
		fn:   fn,
		done: make(chan compileResult, 1),
	}
	w.requests <- req
	result := <-req.done
	return result.value, result.err
}

// Compile builds the graph of root on the worker goroutine.
func (w *CompileWorker) Compile(prog *bytecode.Program, root *bytecode.Function, opts dfg.Options) (*dfg.Graph, error) {
	v, err := w.Do(func() interface{} {
		return dfg.Build(prog, root, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*dfg.Graph), nil
}

// Stop shuts down the worker goroutine.
func (w *CompileWorker) Stop() {
	close(w.quit)
}
