package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/folio-press/apiserver/internal/auth"
	"github.com/folio-press/apiserver/types"
)

var (
	errNoAuthorization      = errors.New("missing authorization")
	errInvalidAuthorization = errors.New("invalid authorization")
)

// TokenAuthenticator resolves an access token to the live identity behind it.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
}

// Authenticator guards routes with bearer access tokens.
type Authenticator struct {
	tokens TokenAuthenticator
}

func NewAuthenticator(tokens TokenAuthenticator) *Authenticator {
	return &Authenticator{tokens: tokens}
}

// Required rejects requests without a valid bearer token.
func (a *Authenticator) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeServiceError(w, r, auth.Unauthenticated(auth.ReasonMissingToken, err))
			return
		}
		a.serveAuthenticated(w, r, next, token)
	})
}

// Optional lets anonymous requests through but still rejects a bad token.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if errors.Is(err, errNoAuthorization) {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			writeServiceError(w, r, auth.Unauthenticated(auth.ReasonMissingToken, err))
			return
		}
		a.serveAuthenticated(w, r, next, token)
	})
}

func (a *Authenticator) serveAuthenticated(w http.ResponseWriter, r *http.Request, next http.Handler, token string) {
	identity, err := a.tokens.Authenticate(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
}

// RequireRole allows only identities holding one of roles. It must run
// after Required or Optional.
func RequireRole(roles ...types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				writeServiceError(w, r, auth.Unauthenticated(auth.ReasonMissingToken, nil))
				return
			}
			if !identity.HasRole(roles...) {
				writeError(w, http.StatusForbidden, codeForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errNoAuthorization
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errInvalidAuthorization
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errInvalidAuthorization
	}
	return token, nil
}
