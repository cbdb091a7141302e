// Package sandbox runs one module extraction script at a time inside an
// embedded goja interpreter and bridges it to native networking.
//
// Every context owns a single goroutine, its event loop, and all access to
// the interpreter happens as jobs on that goroutine. Bridge fetches run on
// their own goroutines and post their settlement back to the loop.
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"sora/internal/logging"
)

var (
	// ErrNoScript is returned when a call is made with no live context.
	ErrNoScript = errors.New("no script loaded")
	// ErrContextReplaced is returned to calls whose context was discarded by
	// a later LoadScript or by Close.
	ErrContextReplaced = errors.New("script context replaced")
	// ErrMissingFunction is returned when the script doesn't define the
	// requested entry point.
	ErrMissingFunction = errors.New("script function not defined")
)

// AppInfo is the read-only application identity exposed to scripts.
type AppInfo struct {
	Name    string
	Version string
}

// Options configures a Sandbox.
type Options struct {
	Client  *http.Client
	Logger  *zap.Logger
	AppInfo AppInfo
}

// Sandbox holds the single live script context.
type Sandbox struct {
	mu     sync.Mutex
	cur    *scriptContext
	gen    uint64
	bridge *Bridge
	logger *zap.Logger
	info   AppInfo
}

// New creates an empty sandbox. LoadScript must be called before any call.
func New(opts Options) *Sandbox {
	info := opts.AppInfo
	if info.Name == "" {
		info.Name = "Sora"
	}
	return &Sandbox{
		bridge: NewBridge(opts.Client),
		logger: logging.OrNop(opts.Logger),
		info:   info,
	}
}

type callResult struct {
	value string
	err   error
}

type watch struct {
	promise *goja.Promise
	done    chan callResult
}

// scriptContext is one interpreter bound to one module's script.
type scriptContext struct {
	moduleID string
	digest   [sha256.Size]byte
	gen      uint64
	rt       *goja.Runtime
	flushPrg *goja.Program

	jobs    chan func()
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once

	// ctx bounds bridge fetches to the context's lifetime.
	ctx    context.Context
	cancel context.CancelFunc

	// watches is only touched on the loop goroutine.
	watches []watch

	bridge *Bridge
	logger *zap.Logger
}

// LoadScript discards the live context, cancelling its bridge fetches and
// failing its pending calls with ErrContextReplaced, then evaluates script
// in a fresh interpreter. If evaluation fails no context remains live.
func (s *Sandbox) LoadScript(moduleID, script string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != nil {
		s.cur.shutdown()
		s.cur = nil
	}

	s.gen++
	c, err := s.newContext(moduleID, s.gen)
	if err != nil {
		return err
	}
	go c.run()

	done := make(chan error, 1)
	if !c.enqueue(func() {
		_, err := c.rt.RunScript(moduleID, script)
		done <- err
	}) {
		return ErrContextReplaced
	}

	select {
	case err = <-done:
	case <-c.stopped:
		err = ErrContextReplaced
	}
	if err != nil {
		c.shutdown()
		return fmt.Errorf("loading script for module %s: %w", moduleID, err)
	}

	c.digest = sha256.Sum256([]byte(script))
	s.cur = c
	s.logger.Debug("script loaded", zap.String("module", moduleID), zap.Uint64("generation", c.gen))
	return nil
}

// Loaded returns the module id bound to the live context, if any.
func (s *Sandbox) Loaded() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return "", false
	}
	return s.cur.moduleID, true
}

// Holds reports whether the live context runs exactly script for moduleID.
// A refreshed module keeps its id but not its script text.
func (s *Sandbox) Holds(moduleID, script string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil && s.cur.moduleID == moduleID && s.cur.digest == sha256.Sum256([]byte(script))
}

// Close discards the live context.
func (s *Sandbox) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		s.cur.shutdown()
		s.cur = nil
	}
}

// CallSync invokes a synchronous-style extraction function. A promise
// returned anyway is awaited like CallAsync.
func (s *Sandbox) CallSync(ctx context.Context, fn string, args ...string) (string, error) {
	return s.call(ctx, fn, args)
}

// CallAsync invokes a promise-returning extraction function and waits for
// its settlement. A plain return value is accepted as-is.
func (s *Sandbox) CallAsync(ctx context.Context, fn string, args ...string) (string, error) {
	return s.call(ctx, fn, args)
}

// HasFunction reports whether the live script defines fn.
func (s *Sandbox) HasFunction(ctx context.Context, fn string) bool {
	c := s.current()
	if c == nil {
		return false
	}
	done := make(chan bool, 1)
	if !c.enqueue(func() {
		_, ok := goja.AssertFunction(c.rt.Get(fn))
		done <- ok
	}) {
		return false
	}
	select {
	case ok := <-done:
		return ok
	case <-c.stopped:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Sandbox) current() *scriptContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// call returns the function's result as text: strings verbatim, undefined
// and null as "", anything else JSON-encoded.
func (s *Sandbox) call(ctx context.Context, fn string, args []string) (string, error) {
	c := s.current()
	if c == nil {
		return "", ErrNoScript
	}

	done := make(chan callResult, 1)
	if !c.enqueue(func() {
		f, ok := goja.AssertFunction(c.rt.Get(fn))
		if !ok {
			done <- callResult{err: fmt.Errorf("%w: %s", ErrMissingFunction, fn)}
			return
		}
		vals := make([]goja.Value, len(args))
		for i, a := range args {
			vals[i] = c.rt.ToValue(a)
		}
		v, err := f(goja.Undefined(), vals...)
		if err != nil {
			done <- callResult{err: fmt.Errorf("calling %s: %w", fn, err)}
			return
		}
		if p, ok := v.Export().(*goja.Promise); ok {
			c.watches = append(c.watches, watch{promise: p, done: done})
			return
		}
		done <- exportResult(v)
	}) {
		return "", ErrContextReplaced
	}

	select {
	case r := <-done:
		return r.value, r.err
	case <-c.stopped:
		return "", ErrContextReplaced
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func exportResult(v goja.Value) callResult {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return callResult{}
	}
	if s, ok := v.Export().(string); ok {
		return callResult{value: s}
	}
	b, err := json.Marshal(v.Export())
	if err != nil {
		return callResult{err: fmt.Errorf("encoding script result: %w", err)}
	}
	return callResult{value: string(b)}
}

func (s *Sandbox) newContext(moduleID string, gen uint64) (*scriptContext, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &scriptContext{
		moduleID: moduleID,
		gen:      gen,
		rt:       goja.New(),
		jobs:     make(chan func(), 64),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		bridge:   s.bridge,
		logger:   s.logger.With(zap.String("module", moduleID)),
	}
	prg, err := goja.Compile("flush", "", false)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("compiling flush program: %w", err)
	}
	c.flushPrg = prg
	if err := c.installGlobals(s.info); err != nil {
		cancel()
		return nil, fmt.Errorf("installing bridge globals: %w", err)
	}
	return c, nil
}

func (c *scriptContext) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.stop:
			c.failWatches(ErrContextReplaced)
			return
		case job := <-c.jobs:
			job()
			c.settleWatches()
		}
	}
}

// enqueue schedules job on the loop. It reports false once the context is
// shut down.
func (c *scriptContext) enqueue(job func()) bool {
	select {
	case <-c.stop:
		return false
	default:
	}
	select {
	case c.jobs <- job:
		return true
	case <-c.stop:
		return false
	}
}

// shutdown stops the loop, aborts any running script and cancels fetches.
// Safe to call more than once.
func (c *scriptContext) shutdown() {
	c.once.Do(func() {
		close(c.stop)
		c.cancel()
		c.rt.Interrupt(ErrContextReplaced)
	})
}

// flush runs pending promise reactions.
func (c *scriptContext) flush() {
	if _, err := c.rt.RunProgram(c.flushPrg); err != nil {
		c.logger.Debug("flushing job queue", zap.Error(err))
	}
}

func (c *scriptContext) settleWatches() {
	if len(c.watches) == 0 {
		return
	}
	pending := c.watches[:0]
	for _, w := range c.watches {
		switch w.promise.State() {
		case goja.PromiseStateFulfilled:
			w.done <- exportResult(w.promise.Result())
		case goja.PromiseStateRejected:
			w.done <- callResult{err: &RejectionError{Reason: reasonString(w.promise.Result())}}
		default:
			pending = append(pending, w)
		}
	}
	c.watches = pending
}

func (c *scriptContext) failWatches(err error) {
	for _, w := range c.watches {
		w.done <- callResult{err: err}
	}
	c.watches = nil
}

// RejectionError is returned when a script promise rejects.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "script promise rejected: " + e.Reason
}

func reasonString(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	return v.String()
}
