package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/folio-press/apiserver/types"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var accountRowColumns = []string{"id", "email", "username", "display_name", "role", "password_hash", "avatar_key", "created_at", "updated_at"}

func newAccountRepoWithMock(t *testing.T) (*AccountRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	repo := NewAccountRepository(db)
	repo.now = func() time.Time { return time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC) }
	return repo, mock
}

func TestAccountFindByEmailNormalizes(t *testing.T) {
	repo, mock := newAccountRepoWithMock(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(accountRowColumns).
		AddRow("id-1", "a@x.com", nil, "Ann", "EDITOR", "$2a$hash", "", created, created)
	mock.ExpectQuery(`(?s)^SELECT .+ FROM accounts WHERE email = \$1$`).
		WithArgs("a@x.com").
		WillReturnRows(rows)

	got, err := repo.FindByEmail(context.Background(), "  A@X.com ")
	require.NoError(t, err)
	assert.Equal(t, "id-1", got.ID)
	assert.Equal(t, "", got.Username)
	assert.Equal(t, types.RoleEditor, got.Role)
	assert.Equal(t, "$2a$hash", got.PasswordHash)
	assert.Equal(t, created, got.CreatedAt)
}

func TestAccountFindByUsername(t *testing.T) {
	repo, mock := newAccountRepoWithMock(t)
	now := time.Now()

	rows := sqlmock.NewRows(accountRowColumns).
		AddRow("id-2", "b@x.com", "bob", "", "USER", "h", "avatars/id-2", now, now)
	mock.ExpectQuery(`FROM accounts WHERE username = \$1`).
		WithArgs("bob").
		WillReturnRows(rows)

	got, err := repo.FindByUsername(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Username)
	assert.Equal(t, "avatars/id-2", got.AvatarKey)
}

func TestAccountFindByIDNotFound(t *testing.T) {
	repo, mock := newAccountRepoWithMock(t)

	mock.ExpectQuery(`FROM accounts WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAccountFindByIDDBError(t *testing.T) {
	repo, mock := newAccountRepoWithMock(t)

	mock.ExpectQuery(`FROM accounts WHERE id = \$1`).
		WithArgs("id-1").
		WillReturnError(errors.New("db down"))

	_, err := repo.FindByID(context.Background(), "id-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestAccountCreate(t *testing.T) {
	repo, mock := newAccountRepoWithMock(t)

	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+accounts\s*\(id, email, username, display_name, role, password_hash, avatar_key, created_at, updated_at\)`).
		WithArgs("id-1", "a@x.com", nil, "", "USER", "hash", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := repo.Create(context.Background(), types.Account{ID: "id-1", Email: "A@x.com", PasswordHash: "hash"})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", got.Email)
	assert.Equal(t, types.RoleUser, got.Role)
	assert.Equal(t, repo.now(), got.CreatedAt)
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)
}

func TestAccountCreateWithUsername(t *testing.T) {
	repo, mock := newAccountRepoWithMock(t)

	mock.ExpectExec(`INSERT\s+INTO\s+accounts`).
		WithArgs("id-1", "a@x.com", "ann", "Ann", "ADMIN", "hash", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := repo.Create(context.Background(), types.Account{
		ID:           "id-1",
		Email:        "a@x.com",
		Username:     "ann",
		DisplayName:  "Ann",
		Role:         types.RoleAdmin,
		PasswordHash: "hash",
	})
	require.NoError(t, err)
}

func TestAccountCreateDuplicate(t *testing.T) {
	tests := []struct {
		constraint string
		field      string
	}{
		{"accounts_email_key", "email"},
		{"accounts_username_key", "username"},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			repo, mock := newAccountRepoWithMock(t)

			mock.ExpectExec(`INSERT\s+INTO\s+accounts`).
				WillReturnError(&pq.Error{Code: "23505", Constraint: tt.constraint})

			_, err := repo.Create(context.Background(), types.Account{ID: "id", Email: "a@x.com", PasswordHash: "h"})
			require.ErrorIs(t, err, ErrDuplicate)

			var dup *DuplicateError
			require.ErrorAs(t, err, &dup)
			assert.Equal(t, tt.field, dup.Field)
		})
	}
}

func TestAccountCreateOtherPQError(t *testing.T) {
	repo, mock := newAccountRepoWithMock(t)

	mock.ExpectExec(`INSERT\s+INTO\s+accounts`).
		WillReturnError(&pq.Error{Code: "23502", Column: "email"})

	_, err := repo.Create(context.Background(), types.Account{ID: "id", PasswordHash: "h"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicate)
}

func TestAccountUpdates(t *testing.T) {
	repo, mock := newAccountRepoWithMock(t)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE accounts SET password_hash = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("new-hash", sqlmock.AnyArg(), "id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE accounts SET role = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("ADMIN", sqlmock.AnyArg(), "id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE accounts SET avatar_key = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("avatars/id-1", sqlmock.AnyArg(), "id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdatePasswordHash(ctx, "id-1", "new-hash"))
	require.NoError(t, repo.UpdateRole(ctx, "id-1", types.RoleAdmin))
	require.NoError(t, repo.UpdateAvatarKey(ctx, "id-1", "avatars/id-1"))
}

func TestAccountUpdateMissingRow(t *testing.T) {
	repo, mock := newAccountRepoWithMock(t)

	mock.ExpectExec(`UPDATE accounts SET role`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.ErrorIs(t, repo.UpdateRole(context.Background(), "ghost", types.RoleUser), ErrNotFound)
}

func TestAccountDelete(t *testing.T) {
	repo, mock := newAccountRepoWithMock(t)

	mock.ExpectExec(`DELETE FROM accounts WHERE id = \$1`).
		WithArgs("id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM accounts WHERE id = \$1`).
		WithArgs("id-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), "id-1"))
	require.ErrorIs(t, repo.Delete(context.Background(), "id-1"), ErrNotFound)
}

func TestAccountDeleteResultError(t *testing.T) {
	repo, mock := newAccountRepoWithMock(t)

	mock.ExpectExec(`DELETE FROM accounts`).
		WillReturnResult(sqlmock.NewErrorResult(errors.New("rows affected unavailable")))

	err := repo.Delete(context.Background(), "id-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
