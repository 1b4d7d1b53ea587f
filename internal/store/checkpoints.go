package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Checkpoint is a persisted resumption token for an incremental task.
type Checkpoint struct {
	TaskName  string          `json:"task_name"`
	State     json.RawMessage `json:"state"`
	UpdatedAt string          `json:"updated_at"`
}

// LoadCheckpoint returns the stored state for a task, or nil if the task
// has never checkpointed. Absence means "start of collection".
func (s *Store) LoadCheckpoint(name string) (json.RawMessage, error) {
	var state string
	err := s.db.Read.QueryRow("SELECT state FROM checkpoints WHERE task_name = ?", name).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", name, err)
	}
	return json.RawMessage(state), nil
}

// SaveCheckpoint overwrites the stored state for a task. There is at most
// one row per task name.
func (s *Store) SaveCheckpoint(name string, state json.RawMessage) error {
	_, err := s.db.Write.Exec(checkpointUpsertSQL, name, string(state))
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", name, err)
	}
	return nil
}

// SaveCheckpointTx writes the checkpoint inside an existing transaction so
// an incremental task can commit its data write and its new high-water mark
// atomically.
func SaveCheckpointTx(tx *sql.Tx, name string, state json.RawMessage) error {
	_, err := tx.Exec(checkpointUpsertSQL, name, string(state))
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", name, err)
	}
	return nil
}

const checkpointUpsertSQL = `INSERT INTO checkpoints (task_name, state, updated_at)
	VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%f', 'now'))
	ON CONFLICT(task_name) DO UPDATE SET
		state = excluded.state,
		updated_at = excluded.updated_at`

// DeleteCheckpoint removes a task's checkpoint record, if present.
func (s *Store) DeleteCheckpoint(name string) error {
	_, err := s.db.Write.Exec("DELETE FROM checkpoints WHERE task_name = ?", name)
	if err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", name, err)
	}
	return nil
}

// ListCheckpoints returns all checkpoint records ordered by task name.
func (s *Store) ListCheckpoints() ([]Checkpoint, error) {
	rows, err := s.db.Read.Query("SELECT task_name, state, updated_at FROM checkpoints ORDER BY task_name")
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var state string
		if err := rows.Scan(&cp.TaskName, &state, &cp.UpdatedAt); err != nil {
			return nil, err
		}
		cp.State = json.RawMessage(state)
		out = append(out, cp)
	}
	return out, rows.Err()
}
