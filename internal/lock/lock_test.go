package lock_test

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/corvohq/janitor/internal/lock"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()

	h, err := lock.Acquire(dir, "task-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h.Name() != "task-a" {
		t.Errorf("Name = %q, want task-a", h.Name())
	}

	// Held: a second attempt must fail without blocking.
	if _, err := lock.Acquire(dir, "task-a"); !errors.Is(err, lock.ErrAlreadyHeld) {
		t.Errorf("second Acquire err = %v, want ErrAlreadyHeld", err)
	}

	// Different name is independent.
	other, err := lock.Acquire(dir, "task-b")
	if err != nil {
		t.Fatalf("Acquire other name: %v", err)
	}
	other.Release()

	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Released: reacquire succeeds.
	h2, err := lock.Acquire(dir, "task-a")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	h2.Release()
}

func TestAcquireConcurrent(t *testing.T) {
	dir := t.TempDir()

	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := lock.Acquire(dir, "contended")
			if err == nil {
				won.Add(1)
				t.Cleanup(func() { h.Release() })
				return
			}
			if !errors.Is(err, lock.ErrAlreadyHeld) {
				t.Errorf("Acquire: %v", err)
			}
		}()
	}
	wg.Wait()

	if won.Load() != 1 {
		t.Errorf("winners = %d, want exactly 1", won.Load())
	}
}

func TestReleaseAfterSweep(t *testing.T) {
	dir := t.TempDir()

	h, err := lock.Acquire(dir, "task-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Sweeper removed the file out from under the holder.
	if err := lock.Remove(dir, "task-a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Errorf("Release after sweep: %v", err)
	}
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()

	h, err := lock.Acquire(dir, "task-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	info, err := lock.Inspect(dir, "task-a")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	host, _ := os.Hostname()
	if info.Host != host {
		t.Errorf("Host = %q, want %q", info.Host, host)
	}
	if info.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", info.PID, os.Getpid())
	}
	if info.Acquired.IsZero() {
		t.Error("Acquired is zero")
	}

	if _, err := lock.Inspect(dir, "not-held"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Inspect missing err = %v, want ErrNotExist", err)
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()

	// Missing directory counts as empty.
	infos, err := lock.List(dir + "/nope")
	if err != nil || len(infos) != 0 {
		t.Fatalf("List missing dir = %v, %v; want empty, nil", infos, err)
	}

	a, _ := lock.Acquire(dir, "a")
	b, _ := lock.Acquire(dir, "b")
	defer a.Release()
	defer b.Release()

	infos, err = lock.List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("len = %d, want 2", len(infos))
	}
}
