package procexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	// IntermediaryEnvVar marks a process started as the detach intermediary.
	IntermediaryEnvVar = "MINIUI_INTERMEDIARY"

	// ExecutableEnvVar overrides the binary used as the intermediary.
	// Used in tests to point at a built agent binary instead of os.Executable().
	ExecutableEnvVar = "MINIUI_EXECUTABLE"

	// intermediaryStartFailed is the intermediary's exit status when the
	// target could not be started.
	intermediaryStartFailed = 127
)

// IsIntermediary reports whether this process was started as the detach
// intermediary. main should check it before anything else.
func IsIntermediary() bool {
	return os.Getenv(IntermediaryEnvVar) == "1"
}

// RunIntermediary starts argv in a new session, writes the target pid to
// stdout and returns the exit status for the intermediary process. The
// target is never waited on; once the intermediary exits it is inherited by
// the process supervisor.
func RunIntermediary(argv []string) int {
	return runIntermediary(argv, os.Stdout, os.Stderr)
}

func runIntermediary(argv []string, stdout, stderr io.Writer) int {
	if len(argv) == 0 {
		fmt.Fprintln(stderr, "intermediary: no target program")
		return intermediaryStartFailed
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = withoutEnv(os.Environ(), IntermediaryEnvVar)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		fmt.Fprintln(stderr, err)
		return intermediaryStartFailed
	}
	fmt.Fprintf(stdout, "%d\n", cmd.Process.Pid)
	_ = cmd.Process.Release()
	return 0
}

// RunDetached implements Executor. It blocks only for the lifetime of the
// intermediary.
func (l *Local) RunDetached(ctx context.Context, path string, args []string) (int, error) {
	logger := zerolog.Ctx(ctx)
	if err := l.checkBinary(path); err != nil {
		return -1, spawnError(path, err)
	}
	self, err := l.intermediaryPath()
	if err != nil {
		return -1, spawnError(path, err)
	}

	argv := make([]string, 0, len(args)+1)
	argv = append(argv, path)
	argv = append(argv, args...)

	cmd := exec.Command(self, argv...)
	cmd.Env = append(withoutEnv(l.environ(), IntermediaryEnvVar), IntermediaryEnvVar+"=1")
	var out bytes.Buffer
	errTail := newTailBuffer(l.cfg.StderrTailBytes)
	cmd.Stdout = &out
	cmd.Stderr = errTail

	start := time.Now()
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = fmt.Errorf("intermediary exited %d: %s", exitErr.ExitCode(), strings.TrimSpace(errTail.String()))
		}
		logger.Warn().
			Str("event", "exec.spawn_error").
			Str("mode", Detached.String()).
			Str("argv0", path).
			Err(err).
			Msg("detached program could not be started")
		return -1, spawnError(path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(out.String()))
	if err != nil {
		// The target was started; only its pid is unknown.
		logger.Warn().Str("argv0", path).Str("output", out.String()).Msg("intermediary reported no pid")
		pid = 0
	}
	logger.Info().
		Str("event", "exec.detached").
		Str("argv0", path).
		Int("args_len", len(args)).
		Int("pid", pid).
		Dur("duration", time.Since(start)).
		Msg("detached program started")
	return pid, nil
}

func (l *Local) intermediaryPath() (string, error) {
	if l.cfg.Intermediary != "" {
		return l.cfg.Intermediary, nil
	}
	if path := os.Getenv(ExecutableEnvVar); path != "" {
		return path, nil
	}
	path, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("get executable path: %w", err)
	}
	return path, nil
}

func withoutEnv(env []string, key string) []string {
	prefix := key + "="
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			continue
		}
		out = append(out, kv)
	}
	return out
}
