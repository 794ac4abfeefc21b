package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/folio-press/apiserver/types"
)

var accountUniqueFields = map[string]string{
	"accounts_email_key":    "email",
	"accounts_username_key": "username",
}

const accountColumns = `id, email, username, display_name, role, password_hash, avatar_key, created_at, updated_at`

// AccountRepository handles persistence for accounts.
type AccountRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (types.Account, error) {
	var (
		account  types.Account
		username sql.NullString
	)
	err := row.Scan(
		&account.ID,
		&account.Email,
		&username,
		&account.DisplayName,
		&account.Role,
		&account.PasswordHash,
		&account.AvatarKey,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	account.Username = username.String
	return account, nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (types.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

// FindByEmail matches case-insensitively.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (types.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, types.NormalizeEmail(email)))
}

func (r *AccountRepository) FindByUsername(ctx context.Context, username string) (types.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE username = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, username))
}

// Create inserts account. A taken email or username yields a DuplicateError.
func (r *AccountRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	now := r.now().UTC()
	account.Email = types.NormalizeEmail(account.Email)
	account.CreatedAt = now
	account.UpdatedAt = now
	if account.Role == "" {
		account.Role = types.RoleUser
	}

	const query = `
		INSERT INTO accounts (id, email, username, display_name, role, password_hash, avatar_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		account.ID,
		account.Email,
		nullString(account.Username),
		account.DisplayName,
		account.Role,
		account.PasswordHash,
		account.AvatarKey,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return types.Account{}, translateUnique(err, accountUniqueFields)
	}
	return account, nil
}

func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	const query = `UPDATE accounts SET password_hash = $1, updated_at = $2 WHERE id = $3`
	return r.execOne(ctx, query, hash, r.now().UTC(), id)
}

func (r *AccountRepository) UpdateRole(ctx context.Context, id string, role types.Role) error {
	const query = `UPDATE accounts SET role = $1, updated_at = $2 WHERE id = $3`
	return r.execOne(ctx, query, role, r.now().UTC(), id)
}

func (r *AccountRepository) UpdateAvatarKey(ctx context.Context, id, key string) error {
	const query = `UPDATE accounts SET avatar_key = $1, updated_at = $2 WHERE id = $3`
	return r.execOne(ctx, query, key, r.now().UTC(), id)
}

func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM accounts WHERE id = $1`
	return r.execOne(ctx, query, id)
}

// execOne runs a statement that must touch exactly one row.
func (r *AccountRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
