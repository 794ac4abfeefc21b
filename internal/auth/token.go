package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/folio-press/apiserver/types"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired is returned by Decode when the token's exp has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned by Decode for a bad signature, wrong
	// algorithm, wrong token class, or malformed token.
	ErrTokenInvalid = errors.New("token invalid")
)

// TokenClass separates the access and refresh signing contexts.
type TokenClass string

const (
	ClassAccess  TokenClass = "access"
	ClassRefresh TokenClass = "refresh"
)

// Claims is implemented by the payload types a Codec can sign.
type Claims interface {
	jwt.Claims
	base() *baseClaims
}

type baseClaims struct {
	Class TokenClass `json:"typ"`
	jwt.RegisteredClaims
}

func (b *baseClaims) base() *baseClaims { return b }

// AccessClaims is the payload of a short-lived access token.
type AccessClaims struct {
	Email string     `json:"email"`
	Role  types.Role `json:"role"`
	baseClaims
}

// NewAccessClaims builds access claims for an account.
func NewAccessClaims(subjectID, email string, role types.Role) *AccessClaims {
	c := &AccessClaims{Email: email, Role: role}
	c.Subject = subjectID
	return c
}

// RefreshClaims is the payload of a long-lived refresh token. ID carries the
// unique token id (jti).
type RefreshClaims struct {
	baseClaims
}

// NewRefreshClaims builds refresh claims for subjectID with token id tokenID.
func NewRefreshClaims(subjectID, tokenID string) *RefreshClaims {
	c := &RefreshClaims{}
	c.Subject = subjectID
	c.ID = tokenID
	return c
}

// Codec signs and verifies one class of token with its own HMAC secret.
type Codec struct {
	class  TokenClass
	secret []byte
	now    func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithClock sets the time source used for iat, exp and expiry checks.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec returns a codec for class. An empty secret is an error.
func NewCodec(class TokenClass, secret string, opts ...CodecOption) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("%s token secret is required", class)
	}
	c := &Codec{
		class:  class,
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Encode stamps claims with iat, exp (now+ttl) and the codec's class, then
// signs them. It returns the token and its expiry.
func (c *Codec) Encode(claims Claims, ttl time.Duration) (string, time.Time, error) {
	now := c.now()
	b := claims.base()
	b.Class = c.class
	b.IssuedAt = jwt.NewNumericDate(now)
	b.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", c.class, err)
	}
	return signed, b.ExpiresAt.Time, nil
}

// Decode verifies token and fills into. Failures wrap ErrTokenExpired or
// ErrTokenInvalid.
func (c *Codec) Decode(token string, into Claims) error {
	parsed, err := jwt.ParseWithClaims(token, into, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: %s token", ErrTokenExpired, c.class)
		}
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return ErrTokenInvalid
	}

	b := into.base()
	if b.Class != c.class {
		return fmt.Errorf("%w: expected %s token, got %q", ErrTokenInvalid, c.class, b.Class)
	}
	if b.Subject == "" {
		return fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return nil
}
