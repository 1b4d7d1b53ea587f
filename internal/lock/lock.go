// Package lock provides named advisory locks backed by lock files in a
// shared directory. Independent janitor processes (other hosts included,
// when the directory is on shared storage) observe the same lock state,
// so the same maintenance task is never run twice concurrently.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrAlreadyHeld is returned by Acquire when another holder owns the lock.
var ErrAlreadyHeld = errors.New("lock already held")

// Handle represents a held lock. Release must be called exactly once,
// including on failure paths.
type Handle struct {
	name string
	path string
}

// Name returns the lock name this handle owns.
func (h *Handle) Name() string { return h.name }

// Acquire makes a non-blocking attempt to become the sole holder of name.
// The lock file is created atomically (O_EXCL); its body records the holder
// identity so operators and the stale-lock sweeper can tell who owns it.
func Acquire(dir, name string) (*Handle, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	path := filepath.Join(dir, name+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil, ErrAlreadyHeld
	}
	if err != nil {
		return nil, fmt.Errorf("create lock file %s: %w", path, err)
	}

	host, _ := os.Hostname()
	_, werr := fmt.Fprintf(f, "%s %d %s\n", host, os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(path)
		if werr != nil {
			return nil, fmt.Errorf("write lock file %s: %w", path, werr)
		}
		return nil, fmt.Errorf("close lock file %s: %w", path, cerr)
	}

	return &Handle{name: name, path: path}, nil
}

// Release frees the lock. Releasing a lock whose file has already been
// removed (e.g. by the stale-lock sweeper after a crash) is not an error.
func (h *Handle) Release() error {
	err := os.Remove(h.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock file %s: %w", h.path, err)
	}
	return nil
}

// Info describes an existing lock file.
type Info struct {
	Name     string
	Path     string
	Host     string
	PID      int
	Acquired time.Time
	ModTime  time.Time
}

// Inspect reads an existing lock file's holder identity. Returns
// fs.ErrNotExist if the lock is not held.
func Inspect(dir, name string) (*Info, error) {
	return readInfo(filepath.Join(dir, name+".lock"))
}

// List returns every lock file in the directory. A missing directory is
// treated as empty.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock dir: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		info, err := readInfo(filepath.Join(dir, e.Name()))
		if errors.Is(err, fs.ErrNotExist) {
			// Released between ReadDir and the read; skip.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *info)
	}
	return out, nil
}

func readInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fs.ErrNotExist
		}
		return nil, fmt.Errorf("read lock file %s: %w", path, err)
	}
	st, err := os.Stat(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat lock file %s: %w", path, err)
	}

	info := &Info{
		Name: strings.TrimSuffix(filepath.Base(path), ".lock"),
		Path: path,
	}
	if st != nil {
		info.ModTime = st.ModTime()
	}

	fields := strings.Fields(strings.TrimSpace(string(data)))
	if len(fields) >= 1 {
		info.Host = fields[0]
	}
	if len(fields) >= 2 {
		info.PID, _ = strconv.Atoi(fields[1])
	}
	if len(fields) >= 3 {
		info.Acquired, _ = time.Parse(time.RFC3339, fields[2])
	}
	return info, nil
}

// Remove deletes a lock file by name without holding it. Used only by the
// stale-lock sweeper for locks whose holder is known to be gone.
func Remove(dir, name string) error {
	err := os.Remove(filepath.Join(dir, name+".lock"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale lock %s: %w", name, err)
	}
	return nil
}
