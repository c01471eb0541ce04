package controller

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/jfmyers9/carousel/internal/config"
)

const windowLockName = "watch.lock"

// ErrWindowOpen is returned when another view already holds the window
var ErrWindowOpen = errors.New("another controller view is already open")

// OpenWindow reserves a live view on this machine. Without the MultiWindow
// capability only one window may be open per directory; a lock left by a
// process that is gone is taken over. The returned func releases it.
func OpenWindow(dir string, caps config.Capabilities) (func(), error) {
	if caps.MultiWindow {
		return func() {}, nil
	}

	path := filepath.Join(dir, windowLockName)
	for range 2 {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if err := errors.Join(werr, cerr); err != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("failed to write window lock: %w", err)
			}
			return func() { _ = os.Remove(path) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create window lock: %w", err)
		}

		if holder, ok := lockHolder(path); ok && processAlive(holder) {
			return nil, fmt.Errorf("%w (pid %d)", ErrWindowOpen, holder)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale window lock: %w", err)
		}
	}
	return nil, ErrWindowOpen
}

func lockHolder(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
