// Package chain executes a resolved list of middleware as a continuation chain.
//
// Each middleware receives a Next bound to the stage after it; the last Next invokes the
// final handler. A stage halts the chain by returning without calling next, and hands the
// request to the ErrorFilter by returning an error. Halting without writing a response,
// exceeding the stall timeout and panicking are all reported as errors naming the stage.
package chain

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Suhaibinator/SKernel/pkg/common"
	"github.com/Suhaibinator/SKernel/pkg/metrics"
	"go.uber.org/zap"
)

// Options configures chain execution.
type Options struct {
	Resolver     common.Resolver  // Dependencies for middleware factories
	ErrorFilter  ErrorFilter      // Receives the first raised error; defaults to DefaultErrorFilter
	Logger       *zap.Logger      // Defaults to a no-op logger
	StallTimeout time.Duration    // Maximum time a single stage may run without advancing; 0 disables
	Recorder     metrics.Recorder // Execution events; defaults to metrics.NopRecorder
}

// Chain is an immutable, ordered list of middleware descriptors.
// It is safe to execute concurrently.
type Chain struct {
	stages []*common.Descriptor
	opts   Options
}

// Build creates a chain that runs descriptors in order.
func Build(descriptors []*common.Descriptor, opts Options) *Chain {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ErrorFilter == nil {
		opts.ErrorFilter = DefaultErrorFilter(opts.Logger)
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NopRecorder{}
	}
	stages := make([]*common.Descriptor, len(descriptors))
	copy(stages, descriptors)
	return &Chain{stages: stages, opts: opts}
}

// Len returns the number of middleware in the chain.
func (c *Chain) Len() int {
	return len(c.stages)
}

// Names returns the middleware names in execution order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.stages))
	for i, d := range c.stages {
		names[i] = d.Name()
	}
	return names
}

// Then returns a handler that runs the chain in front of final and delivers
// any raised error to the error filter.
func (c *Chain) Then(final common.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = c.Serve(w, r, final)
	})
}

// Serve runs the chain and delivers the terminal error to the error filter exactly once.
// Abandoned chains are logged and not delivered. The terminal error is returned.
func (c *Chain) Serve(w http.ResponseWriter, r *http.Request, final common.HandlerFunc) error {
	fw, err := c.execute(w, r, final)
	if err == nil {
		return nil
	}
	var abandoned *common.AbandonedError
	if errors.As(err, &abandoned) {
		c.opts.Logger.Debug("Chain abandoned",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("middleware", abandoned.Stage),
			zap.Error(abandoned.Err),
		)
		return err
	}
	c.opts.ErrorFilter.Catch(err, fw, r)
	return err
}

// Execute runs the chain without the error filter and returns the terminal error:
// the first error raised by a stage or the final handler, a *common.StallError,
// or a *common.AbandonedError.
func (c *Chain) Execute(w http.ResponseWriter, r *http.Request, final common.HandlerFunc) error {
	_, err := c.execute(w, r, final)
	return err
}

func (c *Chain) execute(w http.ResponseWriter, r *http.Request, final common.HandlerFunc) (http.ResponseWriter, error) {
	start := time.Now()
	c.opts.Recorder.ChainStarted(len(c.stages))
	defer func() {
		c.opts.Recorder.ChainCompleted(time.Since(start))
	}()

	if final == nil {
		final = func(http.ResponseWriter, *http.Request) error { return nil }
	}

	timeout := c.opts.StallTimeout
	rw := newResponseWriter(w, timeout > 0)
	x := &run{
		chain:     c,
		final:     final,
		rw:        rw,
		instances: make([]common.Middleware, len(c.stages)),
	}

	if timeout <= 0 {
		_ = x.dispatch(0, rw, r)
		return rw, x.finish()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	r = r.WithContext(ctx)
	x.progress = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_ = x.dispatch(0, rw, r)
		done <- x.finish()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case err := <-done:
			return rw, err
		case <-x.progress:
			timer.Reset(timeout)
		case <-timer.C:
			stage := x.inFlight()
			fw := rw.detach()
			cancel()
			c.opts.Logger.Error("Chain stalled",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("middleware", stage),
				zap.Duration("timeout", timeout),
			)
			x.halt(metrics.HaltStall, stage)
			return fw, &common.StallError{Middleware: stage, Timeout: timeout}
		}
	}
}

// run is the state of one chain execution.
type run struct {
	chain     *Chain
	final     common.HandlerFunc
	rw        *responseWriter
	instances []common.Middleware
	progress  chan struct{}
	current   atomic.Value // string

	mu        sync.Mutex
	err       error
	abandoned *common.AbandonedError
	halted    bool
}

// handlerStage names the final handler in diagnostics.
const handlerStage = "handler"

func (x *run) stageName(i int) string {
	if i >= len(x.chain.stages) {
		return handlerStage
	}
	return x.chain.stages[i].Name()
}

func (x *run) enter(name string) {
	x.current.Store(name)
	if x.progress != nil {
		select {
		case x.progress <- struct{}{}:
		default:
		}
	}
}

func (x *run) inFlight() string {
	name, _ := x.current.Load().(string)
	return name
}

// dispatch runs stage i, or the final handler once every stage has advanced.
// It returns what the stage returned, which is what the previous stage's next returns.
func (x *run) dispatch(i int, w http.ResponseWriter, r *http.Request) error {
	name := x.stageName(i)
	if err := r.Context().Err(); err != nil {
		return x.abandon(name, err)
	}
	x.enter(name)

	if i == len(x.chain.stages) {
		return x.raise(x.callFinal(w, r), "")
	}

	mw, err := x.instance(i)
	if err != nil {
		return x.raise(err, name)
	}

	var called atomic.Bool
	next := func(w http.ResponseWriter, r *http.Request) error {
		if !called.CompareAndSwap(false, true) {
			return common.ErrNextCalledTwice
		}
		err := x.dispatch(i+1, w, r)
		// Control is back in this stage.
		x.enter(name)
		return err
	}

	sw := &stageWriter{ResponseWriter: w}
	start := time.Now()
	err = x.callStage(name, mw, sw, r, next)
	x.chain.opts.Recorder.StageCompleted(name, time.Since(start))
	if err != nil {
		return x.raise(err, name)
	}
	if !called.Load() {
		// The stage may have written to a writer an upstream stage wraps, such as a buffer.
		if sw.wrote.Load() || ResponseStarted(w) {
			x.halt(metrics.HaltShortCircuit, name)
			return nil
		}
		return x.raise(&common.StallError{Middleware: name}, name)
	}
	return nil
}

func (x *run) instance(i int) (common.Middleware, error) {
	if mw := x.instances[i]; mw != nil {
		return mw, nil
	}
	mw, err := x.chain.stages[i].Instance(x.chain.opts.Resolver)
	if err != nil {
		return nil, err
	}
	x.instances[i] = mw
	return mw, nil
}

func (x *run) callStage(name string, mw common.Middleware, w http.ResponseWriter, r *http.Request, next common.Next) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &common.PanicError{Middleware: name, Value: rec, Stack: debug.Stack()}
		}
	}()
	return mw.Use(w, r, next)
}

func (x *run) callFinal(w http.ResponseWriter, r *http.Request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &common.PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return x.final(w, r)
}

// raise records err as the chain error if it is the first one and returns it unchanged.
// Abandonment is tracked separately; it is never a raised error.
func (x *run) raise(err error, stage string) error {
	if err == nil {
		return nil
	}
	var abandoned *common.AbandonedError
	if errors.As(err, &abandoned) {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.err != nil {
		if err != x.err {
			x.chain.opts.Logger.Debug("Later error ignored, first error wins",
				zap.String("middleware", stage),
				zap.Error(err),
			)
		}
		return err
	}
	x.err = err
	if x.halted {
		return err
	}
	x.halted = true
	var stall *common.StallError
	if errors.As(err, &stall) {
		x.chain.opts.Recorder.ChainHalted(metrics.HaltStall, stage)
	} else {
		x.chain.opts.Recorder.ChainHalted(metrics.HaltError, stage)
	}
	return err
}

func (x *run) abandon(stage string, cause error) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.abandoned == nil {
		x.abandoned = &common.AbandonedError{Stage: stage, Err: cause}
		if !x.halted {
			x.halted = true
			x.chain.opts.Recorder.ChainHalted(metrics.HaltAbandoned, stage)
		}
	}
	return x.abandoned
}

func (x *run) halt(reason metrics.HaltReason, stage string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.halted {
		return
	}
	x.halted = true
	x.chain.opts.Recorder.ChainHalted(reason, stage)
}

// finish picks the terminal error once the chain has unwound.
func (x *run) finish() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.err != nil {
		return x.err
	}
	if x.abandoned != nil {
		return x.abandoned
	}
	return nil
}
