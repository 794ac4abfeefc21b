package auth

import (
	"context"
	"sync"
)

// subjectLocks is a set of per-subject mutexes whose acquisition honours ctx.
// Idle locks are dropped once nobody holds or waits for them.
type subjectLocks struct {
	mu    sync.Mutex
	locks map[string]*subjectLock
}

type subjectLock struct {
	held chan struct{}
	refs int
}

func (l *subjectLocks) lock(ctx context.Context, subjectID string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*subjectLock)
	}
	sl, ok := l.locks[subjectID]
	if !ok {
		sl = &subjectLock{held: make(chan struct{}, 1)}
		l.locks[subjectID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	select {
	case sl.held <- struct{}{}:
	case <-ctx.Done():
		l.release(subjectID, sl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-sl.held
			l.release(subjectID, sl)
		})
	}, nil
}

func (l *subjectLocks) release(subjectID string, sl *subjectLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.locks, subjectID)
	}
}

func (l *subjectLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
