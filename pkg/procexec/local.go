package procexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the behavior of Local.
type Config struct {
	// Absolute paths of binaries that may be run. Empty allows any
	// absolute path. Entries are compared after symlink resolution.
	AllowedBinaries []string

	// Executable re-run as the detach intermediary. Empty means the
	// running binary (see ExecutableEnvVar).
	Intermediary string

	// Environment for spawned programs; nil inherits the agent's.
	Env []string

	// Tail sizes in bytes; default 4096 when zero.
	StdoutTailBytes int
	StderrTailBytes int
}

// Local executes programs on the local host.
type Local struct {
	cfg   Config
	allow map[string]struct{}
}

var _ Executor = (*Local)(nil)

// NewLocal creates an Executor backed by os/exec.
func NewLocal(cfg Config) *Local {
	if cfg.StdoutTailBytes <= 0 {
		cfg.StdoutTailBytes = 4 << 10
	}
	if cfg.StderrTailBytes <= 0 {
		cfg.StderrTailBytes = 4 << 10
	}
	l := &Local{cfg: cfg}
	if len(cfg.AllowedBinaries) > 0 {
		l.allow = make(map[string]struct{}, len(cfg.AllowedBinaries))
		for _, p := range cfg.AllowedBinaries {
			if !filepath.IsAbs(p) {
				continue
			}
			l.allow[resolvePath(p)] = struct{}{}
		}
	}
	return l
}

// RunSynchronous implements Executor.
func (l *Local) RunSynchronous(ctx context.Context, path string, args []string) (int, error) {
	logger := zerolog.Ctx(ctx)
	if err := l.checkBinary(path); err != nil {
		return -1, spawnError(path, err)
	}

	cmd := exec.Command(path, args...)
	cmd.Env = l.cfg.Env
	outTail := newTailBuffer(l.cfg.StdoutTailBytes)
	errTail := newTailBuffer(l.cfg.StderrTailBytes)
	cmd.Stdout = outTail
	cmd.Stderr = errTail

	logger.Debug().
		Str("event", "exec.start").
		Str("mode", Synchronous.String()).
		Str("argv0", path).
		Int("args_len", len(args)).
		Msg("starting program")

	start := time.Now()
	if err := cmd.Start(); err != nil {
		logger.Warn().
			Str("event", "exec.spawn_error").
			Str("argv0", path).
			Err(err).
			Msg("program could not be started")
		return -1, spawnError(path, err)
	}

	waitErr := cmd.Wait()
	dur := time.Since(start)
	state := cmd.ProcessState
	if state == nil {
		return -1, spawnError(path, waitErr)
	}

	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		logger.Warn().
			Str("event", "exec.abnormal").
			Str("argv0", path).
			Str("signal", ws.Signal().String()).
			Dur("duration", dur).
			Str("stderr_tail", errTail.String()).
			Msg("program terminated by signal")
		return -1, &Error{Kind: KindAbnormalTermination, Path: path, Err: fmt.Errorf("signal: %v", ws.Signal())}
	}
	if !state.Exited() {
		return -1, &Error{Kind: KindAbnormalTermination, Path: path, Err: errors.New(state.String())}
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		// Output copy failures do not change the exit status.
		logger.Warn().Str("argv0", path).Err(waitErr).Msg("program output lost")
	}

	code := state.ExitCode()
	event := logger.Info()
	if code != 0 {
		event = logger.Warn()
	}
	event.
		Str("event", "exec.finish").
		Str("mode", Synchronous.String()).
		Str("argv0", path).
		Int("exit_code", code).
		Dur("duration", dur).
		Str("stdout_tail", outTail.String()).
		Str("stderr_tail", errTail.String()).
		Msg("program finished")
	return code, nil
}

func (l *Local) checkBinary(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %q is not an absolute path", ErrBinaryNotAllowed, path)
	}
	if l.allow == nil {
		return nil
	}
	if _, ok := l.allow[resolvePath(path)]; !ok {
		return fmt.Errorf("%w: %s", ErrBinaryNotAllowed, path)
	}
	return nil
}

func (l *Local) environ() []string {
	if l.cfg.Env != nil {
		return append([]string(nil), l.cfg.Env...)
	}
	return os.Environ()
}

func resolvePath(p string) string {
	if rp, err := filepath.EvalSymlinks(p); err == nil {
		return rp
	}
	return filepath.Clean(p)
}

// tailBuffer keeps the last size bytes written to it.
type tailBuffer struct {
	b    []byte
	size int
	mu   sync.Mutex
}

func newTailBuffer(n int) *tailBuffer {
	if n <= 0 {
		n = 4 << 10
	}
	return &tailBuffer{b: make([]byte, 0, n), size: n}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(p) >= t.size {
		t.b = append(t.b[:0], p[len(p)-t.size:]...)
		return len(p), nil
	}
	if len(t.b)+len(p) > t.size {
		drop := len(t.b) + len(p) - t.size
		t.b = t.b[drop:]
	}
	t.b = append(t.b, p...)
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.b)
}
