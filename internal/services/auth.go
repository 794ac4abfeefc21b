package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/folio-press/apiserver/internal/auth"
	"github.com/folio-press/apiserver/internal/storage"
	"github.com/folio-press/apiserver/internal/store"
	"github.com/folio-press/apiserver/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// dummyPassword is hashed once at startup so logins for unknown emails pay
// the same bcrypt compare as logins with a wrong password.
const dummyPassword = "folio-dummy-password-for-timing"

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	FindByID(ctx context.Context, id string) (types.Account, error)
	FindByEmail(ctx context.Context, email string) (types.Account, error)
	FindByUsername(ctx context.Context, username string) (types.Account, error)
	Create(ctx context.Context, account types.Account) (types.Account, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	UpdateRole(ctx context.Context, id string, role types.Role) error
	UpdateAvatarKey(ctx context.Context, id, key string) error
	Delete(ctx context.Context, id string) error
}

// EventPublisher delivers account lifecycle events to other subsystems.
type EventPublisher interface {
	PublishAccountEvent(ctx context.Context, evt types.AccountEvent) error
}

// AuthDeps collects what an AuthService needs. Events and Avatars are optional.
type AuthDeps struct {
	Accounts   AccountRepository
	Hasher     auth.Hasher
	Registry   auth.Registry
	Access     *auth.Codec
	Refresh    *auth.Codec
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Events     EventPublisher
	Avatars    storage.ObjectStorage
	Logger     zerolog.Logger
}

// RegisterInput is the payload of a registration.
type RegisterInput struct {
	Email       string
	Password    string
	Username    string
	DisplayName string
}

// AuthResult is returned by every operation that issues a token pair.
type AuthResult struct {
	Account      types.Account `json:"account"`
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in"`
}

// AuthService implements registration, login, token rotation and revocation.
type AuthService struct {
	accounts   AccountRepository
	hasher     auth.Hasher
	registry   auth.Registry
	access     *auth.Codec
	refresh    *auth.Codec
	accessTTL  time.Duration
	refreshTTL time.Duration
	events     EventPublisher
	avatars    storage.ObjectStorage
	log        zerolog.Logger

	dummyHash string
	now       func() time.Time
	newID     func() string
}

// NewAuthService validates deps and precomputes the dummy digest used by Login.
func NewAuthService(ctx context.Context, deps AuthDeps) (*AuthService, error) {
	switch {
	case deps.Accounts == nil:
		return nil, errors.New("auth service: account repository is required")
	case deps.Hasher == nil:
		return nil, errors.New("auth service: password hasher is required")
	case deps.Registry == nil:
		return nil, errors.New("auth service: session registry is required")
	case deps.Access == nil || deps.Refresh == nil:
		return nil, errors.New("auth service: access and refresh codecs are required")
	case deps.AccessTTL <= 0 || deps.RefreshTTL <= 0:
		return nil, errors.New("auth service: token lifetimes must be positive")
	}

	dummy, err := deps.Hasher.Hash(ctx, dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("auth service: hash dummy password: %w", err)
	}

	return &AuthService{
		accounts:   deps.Accounts,
		hasher:     deps.Hasher,
		registry:   deps.Registry,
		access:     deps.Access,
		refresh:    deps.Refresh,
		accessTTL:  deps.AccessTTL,
		refreshTTL: deps.RefreshTTL,
		events:     deps.Events,
		avatars:    deps.Avatars,
		log:        deps.Logger.With().Str("component", "auth").Logger(),
		dummyHash:  dummy,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

// Register creates a USER account and signs it in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	email := types.NormalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)
	if err := validateEmail(email); err != nil {
		return AuthResult{}, err
	}
	if in.Password == "" {
		return AuthResult{}, auth.Invalid("password is required")
	}

	if err := s.ensureFree(ctx, "email", email, s.accounts.FindByEmail); err != nil {
		return AuthResult{}, err
	}
	if username != "" {
		if err := s.ensureFree(ctx, "username", username, s.accounts.FindByUsername); err != nil {
			return AuthResult{}, err
		}
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return AuthResult{}, err
	}

	account, err := s.accounts.Create(ctx, types.Account{
		ID:           s.newID(),
		Email:        email,
		Username:     username,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		Role:         types.RoleUser,
		PasswordHash: hash,
	})
	if err != nil {
		var dup *store.DuplicateError
		if errors.As(err, &dup) {
			return AuthResult{}, auth.Conflict(dup.Field)
		}
		return AuthResult{}, fmt.Errorf("create account: %w", err)
	}

	// The account exists now; finish issuing even if the caller went away.
	ctx = context.WithoutCancel(ctx)
	result, err := s.issueTokens(ctx, account)
	if err != nil {
		return AuthResult{}, err
	}
	s.publish(ctx, types.AccountRegistered, account)
	return result, nil
}

// Login exchanges credentials for a token pair. Unknown emails and wrong
// passwords fail identically.
func (s *AuthService) Login(ctx context.Context, email, password string) (AuthResult, error) {
	account, err := s.accounts.FindByEmail(ctx, types.NormalizeEmail(email))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return AuthResult{}, fmt.Errorf("find account: %w", err)
		}
		if _, err := s.hasher.Verify(ctx, password, s.dummyHash); err != nil {
			return AuthResult{}, fmt.Errorf("verify password: %w", err)
		}
		return AuthResult{}, auth.Unauthenticated(auth.ReasonInvalidCredentials, nil)
	}

	match, err := s.hasher.Verify(ctx, password, account.PasswordHash)
	if err != nil {
		return AuthResult{}, fmt.Errorf("verify password: %w", err)
	}
	if !match {
		return AuthResult{}, auth.Unauthenticated(auth.ReasonInvalidCredentials, nil)
	}
	return s.issueTokens(ctx, account)
}

// Refresh consumes refreshToken and issues a new pair carrying the account's
// current role. A consumed token never validates again.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	if refreshToken == "" {
		return AuthResult{}, auth.Unauthenticated(auth.ReasonTokenInvalid, nil)
	}

	var claims auth.RefreshClaims
	if err := s.refresh.Decode(refreshToken, &claims); err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			if rmErr := s.registry.Remove(ctx, refreshToken); rmErr != nil {
				s.log.Warn().Err(rmErr).Msg("failed to drop expired refresh token")
			}
			return AuthResult{}, auth.Unauthenticated(auth.ReasonTokenExpired, err)
		}
		return AuthResult{}, auth.Unauthenticated(auth.ReasonTokenInvalid, err)
	}

	// Held until the rotated token is stored so a concurrent revocation of
	// the subject either sees it or runs after it.
	unlock, err := s.registry.LockSubject(ctx, claims.Subject)
	if err != nil {
		return AuthResult{}, fmt.Errorf("lock subject sessions: %w", err)
	}
	defer unlock()

	entry, ok, err := s.registry.Take(ctx, refreshToken)
	if err != nil {
		return AuthResult{}, fmt.Errorf("take refresh session: %w", err)
	}
	if !ok || entry.SubjectID != claims.Subject {
		return AuthResult{}, auth.Unauthenticated(auth.ReasonSessionUnknown, nil)
	}
	if entry.Expired(s.now()) {
		return AuthResult{}, auth.Unauthenticated(auth.ReasonTokenExpired, nil)
	}

	// The old token is gone; a caller hanging up now must not strand the session.
	ctx = context.WithoutCancel(ctx)
	account, err := s.findAccount(ctx, claims.Subject)
	if err != nil {
		return AuthResult{}, err
	}
	return s.issueTokens(ctx, account)
}

// Logout revokes refreshToken. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.registry.Remove(ctx, refreshToken); err != nil {
		return fmt.Errorf("remove refresh session: %w", err)
	}
	return nil
}

// LogoutAll revokes every refresh token of subjectID and returns how many
// were live.
func (s *AuthService) LogoutAll(ctx context.Context, subjectID string) (int, error) {
	unlock, err := s.registry.LockSubject(ctx, subjectID)
	if err != nil {
		return 0, fmt.Errorf("lock subject sessions: %w", err)
	}
	defer unlock()

	removed, err := s.registry.RemoveAllForSubject(ctx, subjectID)
	if err != nil {
		return 0, fmt.Errorf("remove subject sessions: %w", err)
	}
	return removed, nil
}

// ChangePassword replaces the password and revokes every refresh token of
// subjectID. Access tokens already issued stay valid until they expire.
func (s *AuthService) ChangePassword(ctx context.Context, subjectID, current, next string) error {
	if next == "" {
		return auth.Invalid("new password is required")
	}
	account, err := s.findAccount(ctx, subjectID)
	if err != nil {
		return err
	}
	match, err := s.hasher.Verify(ctx, current, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !match {
		return auth.Unauthenticated(auth.ReasonWrongPassword, nil)
	}

	hash, err := s.hasher.Hash(ctx, next)
	if err != nil {
		return err
	}

	unlock, err := s.registry.LockSubject(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("lock subject sessions: %w", err)
	}
	defer unlock()

	if err := s.accounts.UpdatePasswordHash(ctx, subjectID, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return auth.NotFound("account")
		}
		return fmt.Errorf("update password: %w", err)
	}

	ctx = context.WithoutCancel(ctx)
	if _, err := s.registry.RemoveAllForSubject(ctx, subjectID); err != nil {
		return fmt.Errorf("revoke sessions after password change: %w", err)
	}
	s.publish(ctx, types.AccountPasswordChanged, account)
	return nil
}

// DeleteAccount removes the account, its sessions and its avatar object.
func (s *AuthService) DeleteAccount(ctx context.Context, subjectID string) error {
	account, err := s.findAccount(ctx, subjectID)
	if err != nil {
		return err
	}

	unlock, err := s.registry.LockSubject(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("lock subject sessions: %w", err)
	}
	defer unlock()

	if err := s.accounts.Delete(ctx, subjectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return auth.NotFound("account")
		}
		return fmt.Errorf("delete account: %w", err)
	}

	ctx = context.WithoutCancel(ctx)
	if _, err := s.registry.RemoveAllForSubject(ctx, subjectID); err != nil {
		return fmt.Errorf("revoke sessions of deleted account: %w", err)
	}
	if s.avatars != nil && account.AvatarKey != "" {
		if err := s.avatars.Delete(ctx, account.AvatarKey); err != nil {
			s.log.Warn().Err(err).Str("account_id", subjectID).Str("key", account.AvatarKey).Msg("failed to delete avatar object")
		}
	}
	s.publish(ctx, types.AccountDeleted, account)
	return nil
}

// SetRole changes the role of subjectID. Tokens minted by later refreshes carry it.
func (s *AuthService) SetRole(ctx context.Context, subjectID string, role types.Role) (types.Account, error) {
	parsed, ok := types.ParseRole(string(role))
	if !ok {
		return types.Account{}, auth.Invalid(fmt.Sprintf("unknown role %q", role))
	}
	if err := s.accounts.UpdateRole(ctx, subjectID, parsed); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, auth.NotFound("account")
		}
		return types.Account{}, fmt.Errorf("update role: %w", err)
	}
	return s.GetAccountByID(ctx, subjectID)
}

// VerifyAccessToken checks an access token. It never consults the registry.
func (s *AuthService) VerifyAccessToken(_ context.Context, token string) (*auth.AccessClaims, error) {
	if token == "" {
		return nil, auth.Unauthenticated(auth.ReasonMissingToken, nil)
	}
	var claims auth.AccessClaims
	if err := s.access.Decode(token, &claims); err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, auth.Unauthenticated(auth.ReasonTokenExpired, err)
		}
		return nil, auth.Unauthenticated(auth.ReasonTokenInvalid, err)
	}
	return &claims, nil
}

// Authenticate verifies token and loads the live account behind it. A token
// whose account has been deleted is invalid.
func (s *AuthService) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	claims, err := s.VerifyAccessToken(ctx, token)
	if err != nil {
		return auth.Identity{}, err
	}
	account, err := s.GetAccountByID(ctx, claims.Subject)
	if err != nil {
		if auth.IsKind(err, auth.KindNotFound) {
			return auth.Identity{}, auth.Unauthenticated(auth.ReasonTokenInvalid, err)
		}
		return auth.Identity{}, err
	}
	return auth.IdentityFromAccount(account), nil
}

// GetAccountByID returns the account without its password hash.
func (s *AuthService) GetAccountByID(ctx context.Context, id string) (types.Account, error) {
	account, err := s.findAccount(ctx, id)
	if err != nil {
		return types.Account{}, err
	}
	return account.Public(), nil
}

func (s *AuthService) findAccount(ctx context.Context, id string) (types.Account, error) {
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, auth.NotFound("account")
		}
		return types.Account{}, fmt.Errorf("find account: %w", err)
	}
	return account, nil
}

func (s *AuthService) ensureFree(ctx context.Context, field, value string, find func(context.Context, string) (types.Account, error)) error {
	_, err := find(ctx, value)
	switch {
	case err == nil:
		return auth.Conflict(field)
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("check %s: %w", field, err)
	}
}

// issueTokens mints an access/refresh pair and registers the refresh token
// with the same expiry it carries.
func (s *AuthService) issueTokens(ctx context.Context, account types.Account) (AuthResult, error) {
	accessToken, _, err := s.access.Encode(auth.NewAccessClaims(account.ID, account.Email, account.Role), s.accessTTL)
	if err != nil {
		return AuthResult{}, err
	}
	refreshToken, expiresAt, err := s.refresh.Encode(auth.NewRefreshClaims(account.ID, s.newID()), s.refreshTTL)
	if err != nil {
		return AuthResult{}, err
	}
	if err := s.registry.Insert(ctx, refreshToken, auth.Entry{SubjectID: account.ID, ExpiresAt: expiresAt}); err != nil {
		return AuthResult{}, fmt.Errorf("register refresh session: %w", err)
	}

	return AuthResult{
		Account:      account.Public(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.accessTTL / time.Second),
	}, nil
}

func (s *AuthService) publish(ctx context.Context, typ types.AccountEventType, account types.Account) {
	if s.events == nil {
		return
	}
	evt := types.AccountEvent{
		Type:       typ,
		AccountID:  account.ID,
		Email:      account.Email,
		OccurredAt: s.now().UTC(),
	}
	if err := s.events.PublishAccountEvent(ctx, evt); err != nil {
		s.log.Warn().Err(err).Str("event", string(typ)).Str("account_id", account.ID).Msg("failed to publish account event")
	}
}

func validateEmail(email string) error {
	if email == "" {
		return auth.Invalid("email is required")
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t\r\n") {
		return auth.Invalid("email is invalid")
	}
	return nil
}
