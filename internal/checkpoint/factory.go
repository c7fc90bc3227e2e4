package checkpoint

import (
	"context"
	"fmt"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/consts"
)

// Open builds the configured backend and the matching identity locker.
func Open(ctx context.Context, cfg *config.Config) (Store, Locker, error) {
	switch cfg.CheckpointBackend {
	case consts.BackendMemory:
		return NewMemoryStore(), NewKeyedLocker(), nil
	case consts.BackendFile:
		store, err := OpenSQLite(cfg.CheckpointPath)
		if err != nil {
			return nil, nil, err
		}
		return store, NewKeyedLocker(), nil
	case consts.BackendNetworked:
		store, err := OpenPostgres(ctx, cfg.CheckpointDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, NewPostgresLocker(store.DB()), nil
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", cfg.CheckpointBackend)
	}
}
