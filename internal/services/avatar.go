package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/folio-press/apiserver/internal/auth"
	"github.com/folio-press/apiserver/internal/storage"
	"github.com/folio-press/apiserver/internal/store"
	"github.com/folio-press/apiserver/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MaxAvatarBytes caps an uploaded avatar.
const MaxAvatarBytes = 2 << 20

var avatarExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// AvatarService stores account avatars in object storage.
type AvatarService struct {
	accounts AccountRepository
	objects  storage.ObjectStorage
	log      zerolog.Logger
	newID    func() string
}

func NewAvatarService(accounts AccountRepository, objects storage.ObjectStorage, logger zerolog.Logger) *AvatarService {
	return &AvatarService{
		accounts: accounts,
		objects:  objects,
		log:      logger.With().Str("component", "avatar").Logger(),
		newID:    uuid.NewString,
	}
}

// Upload stores r as the avatar of accountID and returns the updated account.
// The previous avatar object is removed afterwards.
func (s *AvatarService) Upload(ctx context.Context, accountID string, r io.Reader, size int64, contentType string) (types.Account, error) {
	ext, ok := avatarExtensions[contentType]
	if !ok {
		return types.Account{}, auth.Invalid("avatar must be a png, jpeg, gif or webp image")
	}
	if size <= 0 || size > MaxAvatarBytes {
		return types.Account{}, auth.Invalid(fmt.Sprintf("avatar must be between 1 and %d bytes", MaxAvatarBytes))
	}

	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, auth.NotFound("account")
		}
		return types.Account{}, fmt.Errorf("find account: %w", err)
	}

	key := path.Join("avatars", accountID, s.newID()+ext)
	if err := s.objects.Put(ctx, key, io.LimitReader(r, size), size, contentType); err != nil {
		return types.Account{}, fmt.Errorf("store avatar: %w", err)
	}
	if err := s.accounts.UpdateAvatarKey(ctx, accountID, key); err != nil {
		_ = s.objects.Delete(context.WithoutCancel(ctx), key)
		if errors.Is(err, store.ErrNotFound) {
			return types.Account{}, auth.NotFound("account")
		}
		return types.Account{}, fmt.Errorf("update avatar key: %w", err)
	}

	if previous := account.AvatarKey; previous != "" && previous != key {
		if err := s.objects.Delete(context.WithoutCancel(ctx), previous); err != nil {
			s.log.Warn().Err(err).Str("key", previous).Msg("failed to delete previous avatar")
		}
	}

	account.AvatarKey = key
	return account.Public(), nil
}

// Open returns the avatar object of accountID. The caller closes its body.
func (s *AvatarService) Open(ctx context.Context, accountID string) (*storage.Object, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, auth.NotFound("account")
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	if account.AvatarKey == "" {
		return nil, auth.NotFound("avatar")
	}

	obj, err := s.objects.Get(ctx, account.AvatarKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, auth.NotFound("avatar")
		}
		return nil, fmt.Errorf("open avatar: %w", err)
	}
	return obj, nil
}
