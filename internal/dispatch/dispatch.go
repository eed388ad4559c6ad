// Package dispatch implements the miniui RPC object: the method registry,
// the handlers and the loop that serves calls one at a time.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"

	"hackohio/miniui/internal/facts"
	"hackohio/miniui/internal/validate"
	"hackohio/miniui/pkg/procexec"
)

// ObjectName is the name the dispatcher is registered under on the bus.
const ObjectName = "miniui"

// Method names. They are part of the wire contract.
const (
	MethodStatus        = "status"
	MethodApplyLAN      = "apply_lan"
	MethodReloadNetwork = "reload_network"
	MethodSysupgrade    = "sysupgrade"
)

var (
	// ErrInvalidArgument: the request was rejected before anything ran.
	ErrInvalidArgument = validate.ErrInvalidArgument
	// ErrExecutionFailed: an external program could not be started or
	// did not succeed.
	ErrExecutionFailed = errors.New("execution failed")
	ErrMethodNotFound  = errors.New("method not found")
	// ErrStopped: the call loop is not running.
	ErrStopped  = errors.New("dispatcher stopped")
	ErrInternal = errors.New("internal error")
)

// Request is one decoded RPC call.
type Request struct {
	Method string
	Fields map[string]any
}

// Reply is the payload returned to the caller.
type Reply map[string]any

// Handler serves one method.
type Handler func(ctx context.Context, fields map[string]any) (Reply, error)

// FactCollector supplies the status payload.
type FactCollector interface {
	Collect() facts.Facts
}

// Programs are the external programs the dispatcher may run.
type Programs struct {
	ApplyLAN   string
	Network    string
	Sysupgrade string
}

// DefaultPrograms returns the install locations of the helper scripts.
func DefaultPrograms() Programs {
	return Programs{
		ApplyLAN:   "/usr/libexec/miniui/apply_lan.sh",
		Network:    "/etc/init.d/network",
		Sysupgrade: "/usr/libexec/miniui/sysupgrade.sh",
	}
}

// List returns the program paths.
func (p Programs) List() []string {
	return []string{p.ApplyLAN, p.Network, p.Sysupgrade}
}

// Options configure a Dispatcher. Zero fields take defaults.
type Options struct {
	Programs   Programs
	ScratchDir string
	Executor   procexec.Executor
	Facts      FactCollector
	// Logger defaults to a disabled logger.
	Logger *zerolog.Logger
}

// Dispatcher maps method names to handlers.
type Dispatcher struct {
	exec       procexec.Executor
	facts      FactCollector
	router     commandRouter
	scratchDir string
	logger     zerolog.Logger
	methods    map[string]Handler

	calls   chan *call
	stopped chan struct{}
	started atomic.Bool
}

type call struct {
	ctx  context.Context
	req  Request
	done chan result
}

type result struct {
	reply Reply
	err   error
}

// New builds a Dispatcher with the four miniui methods registered.
func New(opts Options) *Dispatcher {
	if opts.Programs == (Programs{}) {
		opts.Programs = DefaultPrograms()
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = validate.DefaultScratchDir
	}
	if opts.Executor == nil {
		opts.Executor = procexec.NewLocal(procexec.Config{AllowedBinaries: opts.Programs.List()})
	}
	if opts.Facts == nil {
		opts.Facts = facts.NewCollector()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	d := &Dispatcher{
		exec:       opts.Executor,
		facts:      opts.Facts,
		router:     newCommandRouter(defaultRoutes(opts.Programs)),
		scratchDir: opts.ScratchDir,
		logger:     logger,
		calls:      make(chan *call),
		stopped:    make(chan struct{}),
	}
	d.methods = map[string]Handler{
		MethodStatus:        d.status,
		MethodApplyLAN:      d.applyLAN,
		MethodReloadNetwork: d.reloadNetwork,
		MethodSysupgrade:    d.sysupgrade,
	}
	return d
}

// Methods returns the registered method names, sorted.
func (d *Dispatcher) Methods() []string {
	out := make([]string, 0, len(d.methods))
	for name := range d.methods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Run serves calls one at a time until ctx is done. A running call always
// completes; Run returns after it. Run may only be called once.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("dispatcher already running")
	}
	defer close(d.stopped)

	d.logger.Info().Str("object", ObjectName).Strs("methods", d.Methods()).Msg("dispatcher running")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("dispatcher stopped")
			return nil
		case c := <-d.calls:
			if err := c.ctx.Err(); err != nil {
				c.done <- result{err: err}
				continue
			}
			reply, err := d.Dispatch(c.ctx, c.req)
			c.done <- result{reply: reply, err: err}
		}
	}
}

// Stopped is closed once Run has returned.
func (d *Dispatcher) Stopped() <-chan struct{} { return d.stopped }

// Call queues a request on the loop and waits for its reply. If ctx ends
// while the request is still queued the context error is returned.
func (d *Dispatcher) Call(ctx context.Context, method string, fields map[string]any) (Reply, error) {
	c := &call{ctx: ctx, req: Request{Method: method, Fields: fields}, done: make(chan result, 1)}
	select {
	case d.calls <- c:
	case <-d.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r := <-c.done
	return r.reply, r.err
}

// Dispatch runs the handler for req in the caller's goroutine. Handler
// panics are recovered and reported as ErrInternal.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (reply Reply, err error) {
	h, ok := d.methods[req.Method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMethodNotFound, req.Method)
	}
	logger := d.logger.With().Str("method", req.Method).Logger()
	ctx = logger.WithContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("handler panic")
			reply, err = nil, fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()

	reply, err = h(ctx, req.Fields)
	if err != nil {
		logger.Warn().Err(err).Msg("call failed")
	}
	return reply, err
}
