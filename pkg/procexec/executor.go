// Package procexec runs external programs on behalf of the agent.
//
// Two strategies are provided. RunSynchronous blocks until the child exits
// and surfaces its exit status. RunDetached hands the target to a short-lived
// intermediary process which starts it in a new session and exits, so the
// target is reparented to the process supervisor and the caller never holds
// a zombie.
//
// Paths and arguments must already be validated by the caller; the executor
// only checks the binary allowlist.
package procexec

import (
	"context"
	"errors"
	"fmt"
)

// Mode selects how an Invocation is run.
type Mode int

const (
	Synchronous Mode = iota
	Detached
)

func (m Mode) String() string {
	switch m {
	case Synchronous:
		return "sync"
	case Detached:
		return "detached"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Invocation is one request to run an external program.
type Invocation struct {
	// Absolute path of the executable.
	Path string
	// Arguments after argv[0].
	Args []string
	Mode Mode
}

// Argv returns the full argument vector with the path as argv[0].
func (i Invocation) Argv() []string {
	out := make([]string, 0, len(i.Args)+1)
	out = append(out, i.Path)
	return append(out, i.Args...)
}

// Executor defines the process execution interface.
type Executor interface {
	// RunSynchronous waits for the program and returns its exit status.
	// A non-zero status is not an error.
	RunSynchronous(ctx context.Context, path string, args []string) (int, error)
	// RunDetached starts the program outside the caller's process tree and
	// returns the target pid once the intermediary has been reaped.
	RunDetached(ctx context.Context, path string, args []string) (int, error)
}

// Run dispatches inv to the matching Executor method. For detached
// invocations the returned int is the target pid.
func Run(ctx context.Context, e Executor, inv Invocation) (int, error) {
	switch inv.Mode {
	case Synchronous:
		return e.RunSynchronous(ctx, inv.Path, inv.Args)
	case Detached:
		return e.RunDetached(ctx, inv.Path, inv.Args)
	default:
		return -1, fmt.Errorf("unknown execution mode %v", inv.Mode)
	}
}

// Kind classifies executor failures.
type Kind int

const (
	// KindSpawnFailed: the child could not be created or its image loaded.
	KindSpawnFailed Kind = iota + 1
	// KindAbnormalTermination: the child did not exit normally.
	KindAbnormalTermination
)

var (
	ErrSpawnFailed         = errors.New("spawn failed")
	ErrAbnormalTermination = errors.New("abnormal termination")
	ErrBinaryNotAllowed    = errors.New("binary not allowed")
)

// Error is returned by Executor implementations.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	var what string
	switch e.Kind {
	case KindSpawnFailed:
		what = ErrSpawnFailed.Error()
	case KindAbnormalTermination:
		what = ErrAbnormalTermination.Error()
	default:
		what = "exec error"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", what, e.Path)
	}
	return fmt.Sprintf("%s: %s: %v", what, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrSpawnFailed:
		return e.Kind == KindSpawnFailed
	case ErrAbnormalTermination:
		return e.Kind == KindAbnormalTermination
	}
	return false
}

func spawnError(path string, err error) error {
	return &Error{Kind: KindSpawnFailed, Path: path, Err: err}
}
