package procexec

import (
	"context"
	"sync"
	"time"
)

// Recorder implements Executor without running anything. It records every
// invocation and reports whether two runs ever overlapped.
type Recorder struct {
	// ExitCode returned by RunSynchronous.
	ExitCode int
	// Err, when set, is returned by both methods.
	Err error
	// PID returned by RunDetached.
	PID int
	// Delay blocks each run for this long.
	Delay time.Duration

	mu      sync.Mutex
	calls   []Invocation
	active  int
	overlap bool
}

var _ Executor = (*Recorder)(nil)

func (r *Recorder) RunSynchronous(ctx context.Context, path string, args []string) (int, error) {
	r.run(Invocation{Path: path, Args: append([]string(nil), args...), Mode: Synchronous})
	if r.Err != nil {
		return -1, r.Err
	}
	return r.ExitCode, nil
}

func (r *Recorder) RunDetached(ctx context.Context, path string, args []string) (int, error) {
	r.run(Invocation{Path: path, Args: append([]string(nil), args...), Mode: Detached})
	if r.Err != nil {
		return -1, r.Err
	}
	return r.PID, nil
}

func (r *Recorder) run(inv Invocation) {
	r.mu.Lock()
	r.calls = append(r.calls, inv)
	r.active++
	if r.active > 1 {
		r.overlap = true
	}
	r.mu.Unlock()

	if r.Delay > 0 {
		time.Sleep(r.Delay)
	}

	r.mu.Lock()
	r.active--
	r.mu.Unlock()
}

// Calls returns a copy of the recorded invocations in order.
func (r *Recorder) Calls() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Invocation(nil), r.calls...)
}

// Overlapped reports whether two runs were ever in progress at once.
func (r *Recorder) Overlapped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overlap
}
