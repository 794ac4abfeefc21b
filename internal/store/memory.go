package store

import (
	"context"
	"sync"
	"time"

	"github.com/folio-press/apiserver/types"
)

// MemoryAccountRepository keeps accounts in a map with the same not-found
// and duplicate semantics as AccountRepository. It backs tests and local
// runs without Postgres.
type MemoryAccountRepository struct {
	mu   sync.RWMutex
	byID map[string]types.Account
	now  func() time.Time
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{byID: make(map[string]types.Account), now: time.Now}
}

func (m *MemoryAccountRepository) find(match func(types.Account) bool) (types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.byID {
		if match(a) {
			return a, nil
		}
	}
	return types.Account{}, ErrNotFound
}

func (m *MemoryAccountRepository) FindByID(_ context.Context, id string) (types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return types.Account{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryAccountRepository) FindByEmail(_ context.Context, email string) (types.Account, error) {
	email = types.NormalizeEmail(email)
	return m.find(func(a types.Account) bool { return a.Email == email })
}

func (m *MemoryAccountRepository) FindByUsername(_ context.Context, username string) (types.Account, error) {
	return m.find(func(a types.Account) bool { return a.Username != "" && a.Username == username })
}

func (m *MemoryAccountRepository) Create(_ context.Context, account types.Account) (types.Account, error) {
	account.Email = types.NormalizeEmail(account.Email)
	if account.Role == "" {
		account.Role = types.RoleUser
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.Email == account.Email {
			return types.Account{}, &DuplicateError{Field: "email"}
		}
		if account.Username != "" && a.Username == account.Username {
			return types.Account{}, &DuplicateError{Field: "username"}
		}
	}
	now := m.now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	m.byID[account.ID] = account
	return account, nil
}

func (m *MemoryAccountRepository) update(id string, fn func(*types.Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(&a)
	a.UpdatedAt = m.now().UTC()
	m.byID[id] = a
	return nil
}

func (m *MemoryAccountRepository) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return m.update(id, func(a *types.Account) { a.PasswordHash = hash })
}

func (m *MemoryAccountRepository) UpdateRole(_ context.Context, id string, role types.Role) error {
	return m.update(id, func(a *types.Account) { a.Role = role })
}

func (m *MemoryAccountRepository) UpdateAvatarKey(_ context.Context, id, key string) error {
	return m.update(id, func(a *types.Account) { a.AvatarKey = key })
}

func (m *MemoryAccountRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return ErrNotFound
	}
	delete(m.byID, id)
	return nil
}
