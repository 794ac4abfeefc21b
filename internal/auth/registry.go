package auth

import (
	"context"
	"sync"
	"time"
)

// Entry is the server-side record of an issued refresh token.
type Entry struct {
	SubjectID string    `json:"subject_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry's expiry is before now.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt.Before(now)
}

// Registry indexes the currently valid refresh tokens. Implementations must
// be safe for concurrent use.
type Registry interface {
	// Insert stores or replaces the entry for token.
	Insert(ctx context.Context, token string, entry Entry) error
	// Lookup returns the entry for token without removing it.
	Lookup(ctx context.Context, token string) (Entry, bool, error)
	// Take removes and returns the entry for token. At most one of several
	// concurrent callers for the same token observes ok == true.
	Take(ctx context.Context, token string) (Entry, bool, error)
	// Remove deletes the entry for token. Removing an absent token is not an error.
	Remove(ctx context.Context, token string) error
	// RemoveAllForSubject deletes every entry owned by subjectID.
	RemoveAllForSubject(ctx context.Context, subjectID string) (int, error)
	// SweepExpired deletes every entry that expired before now.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	// LockSubject serialises session changes of one subject, so a rotation
	// in flight cannot outlive a concurrent RemoveAllForSubject. The returned
	// func releases the lock and is safe to call more than once.
	LockSubject(ctx context.Context, subjectID string) (func(), error)
}

// MemoryRegistry is a process-local Registry. It does not survive restarts
// and is not shared between instances.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	locks   subjectLocks
}

var _ Registry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]Entry)}
}

func (r *MemoryRegistry) Insert(_ context.Context, token string, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[token] = entry
	return nil
}

func (r *MemoryRegistry) Lookup(_ context.Context, token string) (Entry, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[token]
	return entry, ok, nil
}

func (r *MemoryRegistry) Take(_ context.Context, token string) (Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[token]
	if ok {
		delete(r.entries, token)
	}
	return entry, ok, nil
}

func (r *MemoryRegistry) Remove(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, token)
	return nil
}

func (r *MemoryRegistry) RemoveAllForSubject(_ context.Context, subjectID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for token, entry := range r.entries {
		if entry.SubjectID == subjectID {
			delete(r.entries, token)
			removed++
		}
	}
	return removed, nil
}

func (r *MemoryRegistry) LockSubject(ctx context.Context, subjectID string) (func(), error) {
	return r.locks.lock(ctx, subjectID)
}

// SweepExpired collects candidates under the read lock, then takes the write
// lock once per key so request-path lookups are never starved.
func (r *MemoryRegistry) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.RLock()
	var candidates []string
	for token, entry := range r.entries {
		if entry.Expired(now) {
			candidates = append(candidates, token)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, token := range candidates {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		r.mu.Lock()
		if entry, ok := r.entries[token]; ok && entry.Expired(now) {
			delete(r.entries, token)
			removed++
		}
		r.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of entries currently held.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
