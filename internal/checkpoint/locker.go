package checkpoint

import (
	"context"
	"sync"
)

// KeyedLocker is an in-process lock per run identity.
type KeyedLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{held: make(map[string]chan struct{})}
}

func (l *KeyedLocker) Lock(ctx context.Context, runID string) (func(), error) {
	for {
		l.mu.Lock()
		released, busy := l.held[runID]
		if !busy {
			ch := make(chan struct{})
			l.held[runID] = ch
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, runID)
					l.mu.Unlock()
					close(ch)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-released:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
