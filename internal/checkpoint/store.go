// Package checkpoint persists run snapshots. Every backend assigns per-run sequence
// numbers starting at 1 and never rewrites a stored checkpoint.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dyike/cortexflow/models"
)

type Store interface {
	// Put stores an immutable snapshot of state and returns its sequence number.
	Put(ctx context.Context, runID string, state *models.RunState) (int64, error)
	// GetLatest returns the newest checkpoint, or nil when the run has none.
	GetLatest(ctx context.Context, runID string) (*models.Checkpoint, error)
	// History returns every retained checkpoint of a run, oldest first.
	History(ctx context.Context, runID string) ([]models.Checkpoint, error)
	Backend() string
	Close() error
}

// Locker serializes resumption of a run identity.
type Locker interface {
	// Lock blocks until the identity is free or ctx is done.
	Lock(ctx context.Context, runID string) (unlock func(), err error)
}

func encodeState(state *models.RunState) ([]byte, error) {
	if state == nil {
		return nil, fmt.Errorf("state is nil")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode run state: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (models.RunState, error) {
	var state models.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return models.RunState{}, fmt.Errorf("decode run state: %w", err)
	}
	return state, nil
}
