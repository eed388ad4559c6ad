package procexec_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"hackohio/miniui/pkg/procexec"
)

func TestMain(m *testing.M) {
	// The detach tests re-execute this binary as the intermediary.
	if procexec.IsIntermediary() {
		os.Exit(procexec.RunIntermediary(os.Args[1:]))
	}
	os.Exit(m.Run())
}

func lookupOrSkip(t *testing.T, name string) string {
	t.Helper()
	p, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not found in PATH; skipping", name)
	}
	if !filepath.IsAbs(p) {
		t.Skipf("%s resolved to non-absolute path %q; skipping", name, p)
	}
	return p
}

func TestRunSynchronous_ExitCode(t *testing.T) {
	sh := lookupOrSkip(t, "sh")
	ex := procexec.NewLocal(procexec.Config{})

	tests := []struct {
		script string
		want   int
	}{
		{"exit 0", 0},
		{"exit 3", 3},
		{"echo boom >&2; exit 1", 1},
	}
	for _, tt := range tests {
		code, err := ex.RunSynchronous(context.Background(), sh, []string{"-c", tt.script})
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.script, err)
		}
		if code != tt.want {
			t.Fatalf("%q: exit code = %d, want %d", tt.script, code, tt.want)
		}
	}
}

func TestRunSynchronous_PassesArgumentsVerbatim(t *testing.T) {
	sh := lookupOrSkip(t, "sh")
	ex := procexec.NewLocal(procexec.Config{})

	script := `[ "$1" = "10.0.0.1; reboot" ] && [ -z "$2" ] && [ $# -eq 2 ]`
	code, err := ex.RunSynchronous(context.Background(), sh, []string{"-c", script, "sh", "10.0.0.1; reboot", ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0 (arguments were altered)", code)
	}
}

func TestRunSynchronous_Signalled(t *testing.T) {
	sh := lookupOrSkip(t, "sh")
	ex := procexec.NewLocal(procexec.Config{})

	_, err := ex.RunSynchronous(context.Background(), sh, []string{"-c", "kill -KILL $$"})
	if !errors.Is(err, procexec.ErrAbnormalTermination) {
		t.Fatalf("err = %v, want ErrAbnormalTermination", err)
	}
	if errors.Is(err, procexec.ErrSpawnFailed) {
		t.Fatalf("signalled child reported as spawn failure: %v", err)
	}
}

func TestRunSynchronous_SpawnFailed(t *testing.T) {
	dir := t.TempDir()
	notExec := filepath.Join(dir, "script.sh")
	if err := os.WriteFile(notExec, []byte("#!/bin/sh\nexit 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ex := procexec.NewLocal(procexec.Config{})

	for _, path := range []string{filepath.Join(dir, "missing"), notExec} {
		code, err := ex.RunSynchronous(context.Background(), path, nil)
		if !errors.Is(err, procexec.ErrSpawnFailed) {
			t.Fatalf("%s: err = %v, want ErrSpawnFailed", path, err)
		}
		if code != -1 {
			t.Fatalf("%s: exit code = %d, want -1", path, code)
		}
		var pe *procexec.Error
		if !errors.As(err, &pe) || pe.Path != path {
			t.Fatalf("%s: error does not carry path: %v", path, err)
		}
	}
}

func TestRunSynchronous_Allowlist(t *testing.T) {
	sh := lookupOrSkip(t, "sh")
	truePath := lookupOrSkip(t, "true")
	ex := procexec.NewLocal(procexec.Config{AllowedBinaries: []string{sh}})

	if _, err := ex.RunSynchronous(context.Background(), sh, []string{"-c", "exit 0"}); err != nil {
		t.Fatalf("allowed binary rejected: %v", err)
	}
	_, err := ex.RunSynchronous(context.Background(), truePath, nil)
	if !errors.Is(err, procexec.ErrBinaryNotAllowed) || !errors.Is(err, procexec.ErrSpawnFailed) {
		t.Fatalf("err = %v, want ErrBinaryNotAllowed", err)
	}
	_, err = ex.RunSynchronous(context.Background(), "sh", []string{"-c", "exit 0"})
	if !errors.Is(err, procexec.ErrBinaryNotAllowed) {
		t.Fatalf("relative path: err = %v, want ErrBinaryNotAllowed", err)
	}
}

func TestRunDetached_ReturnsBeforeTargetExits(t *testing.T) {
	sleep := lookupOrSkip(t, "sleep")
	ex := procexec.NewLocal(procexec.Config{})

	start := time.Now()
	pid, err := ex.RunDetached(context.Background(), sleep, []string{"5"})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("pid = %d, want > 0", pid)
	}
	t.Cleanup(func() { _ = syscall.Kill(pid, syscall.SIGKILL) })

	if elapsed >= time.Second {
		t.Fatalf("RunDetached took %v, want well under 1s", elapsed)
	}

	st, err := readStat(pid)
	if err != nil {
		t.Fatalf("target not running: %v", err)
	}
	if st.ppid == os.Getpid() {
		t.Fatalf("target is still a child of the caller")
	}
	if st.session != pid {
		t.Fatalf("target session = %d, want %d (session leader)", st.session, pid)
	}
	if z := zombieChildren(t); len(z) > 0 {
		t.Fatalf("zombie children left behind: %v", z)
	}
}

func TestRunDetached_TargetStartFailure(t *testing.T) {
	ex := procexec.NewLocal(procexec.Config{})
	missing := filepath.Join(t.TempDir(), "sysupgrade.sh")

	_, err := ex.RunDetached(context.Background(), missing, []string{"1", "/tmp/img.bin"})
	if !errors.Is(err, procexec.ErrSpawnFailed) {
		t.Fatalf("err = %v, want ErrSpawnFailed", err)
	}
	if z := zombieChildren(t); len(z) > 0 {
		t.Fatalf("zombie children left behind: %v", z)
	}
}

func TestRunDetached_Allowlist(t *testing.T) {
	sleep := lookupOrSkip(t, "sleep")
	ex := procexec.NewLocal(procexec.Config{AllowedBinaries: []string{"/usr/libexec/miniui/sysupgrade.sh"}})

	_, err := ex.RunDetached(context.Background(), sleep, []string{"5"})
	if !errors.Is(err, procexec.ErrBinaryNotAllowed) {
		t.Fatalf("err = %v, want ErrBinaryNotAllowed", err)
	}
}

func TestRun_Mode(t *testing.T) {
	rec := &procexec.Recorder{ExitCode: 2, PID: 42}

	code, err := procexec.Run(context.Background(), rec, procexec.Invocation{Path: "/bin/a", Args: []string{"x"}, Mode: procexec.Synchronous})
	if err != nil || code != 2 {
		t.Fatalf("sync: code = %d, err = %v", code, err)
	}
	pid, err := procexec.Run(context.Background(), rec, procexec.Invocation{Path: "/bin/b", Mode: procexec.Detached})
	if err != nil || pid != 42 {
		t.Fatalf("detached: pid = %d, err = %v", pid, err)
	}
	calls := rec.Calls()
	if len(calls) != 2 || calls[0].Mode != procexec.Synchronous || calls[1].Mode != procexec.Detached {
		t.Fatalf("calls = %+v", calls)
	}
	if got := calls[0].Argv(); len(got) != 2 || got[0] != "/bin/a" || got[1] != "x" {
		t.Fatalf("argv = %q", got)
	}
}

type procStat struct {
	state   string
	ppid    int
	session int
}

func readStat(pid int) (procStat, error) {
	b, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return procStat{}, err
	}
	s := string(b)
	// comm may contain spaces; fields resume after the last ')'.
	i := strings.LastIndexByte(s, ')')
	if i < 0 {
		return procStat{}, errors.New("malformed stat")
	}
	f := strings.Fields(s[i+1:])
	if len(f) < 4 {
		return procStat{}, errors.New("short stat")
	}
	ppid, _ := strconv.Atoi(f[1])
	session, _ := strconv.Atoi(f[3])
	return procStat{state: f[0], ppid: ppid, session: session}, nil
}

func zombieChildren(t *testing.T) []int {
	t.Helper()
	entries, err := os.ReadDir("/proc")
	if err != nil {
		t.Skipf("/proc not available: %v", err)
	}
	self := os.Getpid()
	var out []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		st, err := readStat(pid)
		if err != nil {
			continue
		}
		if st.ppid == self && st.state == "Z" {
			out = append(out, pid)
		}
	}
	return out
}
