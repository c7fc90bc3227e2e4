package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/dyike/cortexflow/consts"
	"github.com/dyike/cortexflow/models"
)

type memoryEntry struct {
	seq       int64
	data      []byte
	createdAt time.Time
}

// MemoryStore keeps encoded snapshots in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string][]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][]memoryEntry)}
}

func (s *MemoryStore) Put(ctx context.Context, runID string, state *models.RunState) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := encodeState(state)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.runs[runID]
	seq := int64(len(entries)) + 1
	s.runs[runID] = append(entries, memoryEntry{seq: seq, data: data, createdAt: time.Now().UTC()})
	return seq, nil
}

func (s *MemoryStore) GetLatest(ctx context.Context, runID string) (*models.Checkpoint, error) {
	s.mu.RLock()
	entries := s.runs[runID]
	s.mu.RUnlock()
	if len(entries) == 0 {
		return nil, nil
	}
	cp, err := toCheckpoint(runID, entries[len(entries)-1])
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *MemoryStore) History(ctx context.Context, runID string) ([]models.Checkpoint, error) {
	s.mu.RLock()
	entries := append([]memoryEntry(nil), s.runs[runID]...)
	s.mu.RUnlock()
	out := make([]models.Checkpoint, 0, len(entries))
	for _, e := range entries {
		cp, err := toCheckpoint(runID, e)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *MemoryStore) Backend() string { return consts.BackendMemory }

func (s *MemoryStore) Close() error { return nil }

func toCheckpoint(runID string, e memoryEntry) (models.Checkpoint, error) {
	state, err := decodeState(e.data)
	if err != nil {
		return models.Checkpoint{}, err
	}
	return models.Checkpoint{RunID: runID, Seq: e.seq, State: state, CreatedAt: e.createdAt}, nil
}
