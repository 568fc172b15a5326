// Package process cleans up decoder processes left behind by a previous run.
package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/mitchellh/go-ps"

	"github.com/arthur326/ARMS/internal/logger"
)

// linuxCommLength is the length Linux truncates process names to.
const linuxCommLength = 15

// PIDFile records the ids of running child processes, one per line.
// It is safe for concurrent use.
type PIDFile struct {
	path string

	mu   sync.Mutex
	pids []int
}

// NewPIDFile returns a PID file stored at path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: filepath.Clean(path)}
}

// Track records a started process.
func (f *PIDFile) Track(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pids = append(f.pids, pid)

	return f.writeLocked()
}

// Untrack forgets a process that has exited.
func (f *PIDFile) Untrack(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pids = slices.DeleteFunc(f.pids, func(p int) bool { return p == pid })

	return f.writeLocked()
}

// TerminateStale kills the processes recorded by a previous run that are
// still running name, then clears the file. Ids reused by other programs
// are left alone. It returns the number of processes killed.
func (f *PIDFile) TerminateStale(ctx context.Context, name string) (int, error) {
	recorded, err := f.read()
	if err != nil {
		return 0, err
	}

	name = Executable(name)
	thisProcessID := os.Getpid()
	killed := 0

	for _, pid := range recorded {
		if pid == thisProcessID {
			continue
		}

		process, err := ps.FindProcess(pid)
		if err != nil {
			return killed, fmt.Errorf("find process %d: %w", pid, err)
		}

		if process == nil {
			continue
		}

		if !sameExecutable(process.Executable(), name) {
			logger.DebugKV(ctx, "Recorded process id now belongs to another program",
				"pid", pid, "executable", process.Executable())

			continue
		}

		runningProcess, err := os.FindProcess(pid)
		if err != nil {
			return killed, err
		}

		if err = runningProcess.Kill(); err != nil {
			return killed, fmt.Errorf("kill %s (%d): %w", name, pid, err)
		}

		killed++

		logger.InfoKV(ctx, "Terminated stale process", "name", name, "pid", pid)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.pids = nil

	return killed, f.writeLocked()
}

// read returns the ids stored in the file.
func (f *PIDFile) read() ([]int, error) {
	contents, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read pid file: %w", err)
	}

	var pids []int

	lines := bufio.NewScanner(bytes.NewReader(contents))
	for lines.Scan() {
		line := strings.TrimSpace(lines.Text())
		if line == "" {
			continue
		}

		pid, err := strconv.Atoi(line)
		if err != nil || pid <= 0 {
			continue
		}

		pids = append(pids, pid)
	}

	return pids, nil
}

// writeLocked stores the tracked ids, removing the file when there are none.
func (f *PIDFile) writeLocked() error {
	if len(f.pids) == 0 {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove pid file: %w", err)
		}

		return nil
	}

	var b strings.Builder
	for _, pid := range f.pids {
		b.WriteString(strconv.Itoa(pid))
		b.WriteByte('\n')
	}

	if err := os.WriteFile(f.path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	return nil
}

// Executable returns the platform file name of a program.
func Executable(name string) string {
	if runtime.GOOS == "windows" && name != "" && filepath.Ext(name) == "" {
		return name + ".exe"
	}

	return name
}

// sameExecutable compares a reported process name with a program name.
func sameExecutable(reported, name string) bool {
	if reported == name {
		return true
	}

	return runtime.GOOS == "linux" && len(reported) == linuxCommLength && strings.HasPrefix(name, reported)
}
