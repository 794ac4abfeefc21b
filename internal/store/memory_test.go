package store

import (
	"context"
	"testing"

	"github.com/folio-press/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAccountRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAccountRepository()

	created, err := repo.Create(ctx, types.Account{ID: "a1", Email: "Ann@X.com", Username: "ann", PasswordHash: "h"})
	require.NoError(t, err)
	assert.Equal(t, "ann@x.com", created.Email)
	assert.Equal(t, types.RoleUser, created.Role)
	assert.False(t, created.CreatedAt.IsZero())

	_, err = repo.Create(ctx, types.Account{ID: "a2", Email: "ann@x.com"})
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "email", dup.Field)

	_, err = repo.Create(ctx, types.Account{ID: "a3", Email: "b@x.com", Username: "ann"})
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "username", dup.Field)

	_, err = repo.Create(ctx, types.Account{ID: "a4", Email: "c@x.com"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, types.Account{ID: "a5", Email: "d@x.com"})
	require.NoError(t, err, "empty usernames never collide")

	got, err := repo.FindByEmail(ctx, "ANN@x.com")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)

	got, err = repo.FindByUsername(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)

	_, err = repo.FindByUsername(ctx, "")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.UpdateRole(ctx, "a1", types.RoleAdmin))
	require.NoError(t, repo.UpdatePasswordHash(ctx, "a1", "h2"))
	require.NoError(t, repo.UpdateAvatarKey(ctx, "a1", "avatars/a1"))
	got, err = repo.FindByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, got.Role)
	assert.Equal(t, "h2", got.PasswordHash)
	assert.Equal(t, "avatars/a1", got.AvatarKey)

	require.ErrorIs(t, repo.UpdateRole(ctx, "ghost", types.RoleUser), ErrNotFound)
	require.NoError(t, repo.Delete(ctx, "a1"))
	require.ErrorIs(t, repo.Delete(ctx, "a1"), ErrNotFound)
	_, err = repo.FindByID(ctx, "a1")
	require.ErrorIs(t, err, ErrNotFound)
}
