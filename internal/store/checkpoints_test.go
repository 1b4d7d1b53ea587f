package store_test

import (
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/corvohq/janitor/internal/store"
)

var errInjected = errors.New("injected")

// testStore creates a Store backed by a fresh database in a temp dir.
func testStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s := store.NewStore(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := testStore(t)

	if err := s.SaveCheckpoint("task-a", json.RawMessage(`{"k":1}`)); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	state, err := s.LoadCheckpoint("task-a")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if string(state) != `{"k":1}` {
		t.Errorf("state = %s, want {\"k\":1}", state)
	}
}

func TestCheckpointOverwrite(t *testing.T) {
	s := testStore(t)

	s.SaveCheckpoint("task-a", json.RawMessage(`{"k":1}`))
	if err := s.SaveCheckpoint("task-a", json.RawMessage(`{"k":2}`)); err != nil {
		t.Fatalf("second SaveCheckpoint: %v", err)
	}

	state, err := s.LoadCheckpoint("task-a")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if string(state) != `{"k":2}` {
		t.Errorf("state = %s, want {\"k\":2}", state)
	}

	// Overwrite, not append: exactly one row per task name.
	var count int
	s.ReadDB().QueryRow("SELECT COUNT(*) FROM checkpoints WHERE task_name = ?", "task-a").Scan(&count)
	if count != 1 {
		t.Errorf("checkpoint rows = %d, want 1", count)
	}
}

func TestCheckpointAbsent(t *testing.T) {
	s := testStore(t)

	state, err := s.LoadCheckpoint("never-saved")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if state != nil {
		t.Errorf("state = %s, want nil for absent checkpoint", state)
	}
}

func TestCheckpointDelete(t *testing.T) {
	s := testStore(t)

	s.SaveCheckpoint("task-a", json.RawMessage(`{}`))
	if err := s.DeleteCheckpoint("task-a"); err != nil {
		t.Fatalf("DeleteCheckpoint: %v", err)
	}

	state, _ := s.LoadCheckpoint("task-a")
	if state != nil {
		t.Errorf("state after delete = %s, want nil", state)
	}

	// Deleting a missing checkpoint is not an error.
	if err := s.DeleteCheckpoint("task-a"); err != nil {
		t.Errorf("second DeleteCheckpoint: %v", err)
	}
}

func TestCheckpointTxRollback(t *testing.T) {
	s := testStore(t)

	s.SaveCheckpoint("task-a", json.RawMessage(`{"k":1}`))

	// A rolled-back transaction must not advance the checkpoint.
	err := s.WithTx(func(tx *sql.Tx) error {
		if err := store.SaveCheckpointTx(tx, "task-a", json.RawMessage(`{"k":9}`)); err != nil {
			return err
		}
		return errInjected
	})
	if err != errInjected {
		t.Fatalf("WithTx error = %v, want injected", err)
	}

	state, _ := s.LoadCheckpoint("task-a")
	if string(state) != `{"k":1}` {
		t.Errorf("state after rollback = %s, want {\"k\":1}", state)
	}
}

func TestListCheckpoints(t *testing.T) {
	s := testStore(t)

	s.SaveCheckpoint("b-task", json.RawMessage(`{}`))
	s.SaveCheckpoint("a-task", json.RawMessage(`{}`))

	cps, err := s.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(cps) != 2 {
		t.Fatalf("len = %d, want 2", len(cps))
	}
	if cps[0].TaskName != "a-task" || cps[1].TaskName != "b-task" {
		t.Errorf("order = %s, %s; want a-task, b-task", cps[0].TaskName, cps[1].TaskName)
	}
}
