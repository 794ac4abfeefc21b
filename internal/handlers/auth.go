package handlers

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/folio-press/apiserver/internal/auth"
	"github.com/folio-press/apiserver/internal/services"
	"github.com/folio-press/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	bearerTokenType = "Bearer"
	// multipartOverhead is the allowance for multipart headers around the avatar part.
	multipartOverhead = 64 << 10
	sniffLen          = 512
)

// AuthHandler serves the /auth endpoints.
type AuthHandler struct {
	auth    *services.AuthService
	avatars *services.AvatarService
}

// NewAuthHandler constructs an AuthHandler. avatars may be nil.
func NewAuthHandler(authService *services.AuthService, avatars *services.AvatarService) *AuthHandler {
	return &AuthHandler{auth: authService, avatars: avatars}
}

// AuthRouter registers auth routes on r. Avatar routes are mounted only
// when avatars is non-nil.
func AuthRouter(r chi.Router, authService *services.AuthService, avatars *services.AvatarService) {
	handler := NewAuthHandler(authService, avatars)
	authn := NewAuthenticator(authService)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/refresh", handler.Refresh)
	r.Post("/logout", handler.Logout)

	r.Group(func(r chi.Router) {
		r.Use(authn.Required)

		r.Post("/logout-all", handler.LogoutAll)
		r.Post("/password", handler.ChangePassword)
		r.Get("/me", handler.Me)
		r.Delete("/me", handler.DeleteMe)
		if avatars != nil {
			r.Put("/me/avatar", handler.UploadAvatar)
			r.Get("/me/avatar", handler.GetAvatar)
		}

		r.With(RequireRole(types.RoleAdmin)).Route("/accounts/{accountID}", func(r chi.Router) {
			r.Put("/role", handler.SetRole)
			r.Delete("/", handler.DeleteAccount)
		})
	})
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type SetRoleRequest struct {
	Role string `json:"role"`
}

type AuthResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	Account      types.Account `json:"account"`
}

func newAuthResponse(res services.AuthResult) AuthResponse {
	return AuthResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    bearerTokenType,
		ExpiresIn:    res.ExpiresIn,
		Account:      res.Account,
	}
}

// Register creates an account and returns its first token pair.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	res, err := h.auth.Register(r.Context(), services.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		Username:    req.Username,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAuthResponse(res))
}

// Login verifies credentials and returns a token pair.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "email and password are required")
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuthResponse(res))
}

// Refresh rotates a refresh token.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := h.refreshToken(w, r)
	if !ok {
		return
	}
	res, err := h.auth.Refresh(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuthResponse(res))
}

// Logout revokes a refresh token. Unknown tokens still succeed.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := h.refreshToken(w, r)
	if !ok {
		return
	}
	if err := h.auth.Logout(r.Context(), token); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) refreshToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return "", false
	}
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "refresh_token is required")
		return "", false
	}
	return token, true
}

// LogoutAll revokes every refresh token of the caller.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	if _, err := h.auth.LogoutAll(r.Context(), identity.ID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword replaces the caller's password and signs out every session.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	if err := h.auth.ChangePassword(r.Context(), identity.ID, req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the caller's account.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	account, err := h.auth.GetAccountByID(r.Context(), identity.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// DeleteMe deletes the caller's account.
func (h *AuthHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	if err := h.auth.DeleteAccount(r.Context(), identity.ID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetRole changes another account's role.
func (h *AuthHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req SetRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	account, err := h.auth.SetRole(r.Context(), chi.URLParam(r, "accountID"), types.Role(req.Role))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// DeleteAccount deletes any account.
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.DeleteAccount(r.Context(), chi.URLParam(r, "accountID")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadAvatar stores the multipart "avatar" file as the caller's avatar.
// The content type is sniffed from the file itself.
func (h *AuthHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, services.MaxAvatarBytes+multipartOverhead)
	file, header, err := r.FormFile("avatar")
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "multipart field \"avatar\" is required")
		return
	}
	defer file.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "unreadable avatar upload")
		return
	}
	head = head[:n]
	contentType := http.DetectContentType(head)

	identity, _ := auth.IdentityFromContext(r.Context())
	body := io.MultiReader(bytes.NewReader(head), file)
	account, err := h.avatars.Upload(r.Context(), identity.ID, body, header.Size, contentType)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// GetAvatar streams the caller's avatar.
func (h *AuthHandler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	obj, err := h.avatars.Open(r.Context(), identity.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer obj.Body.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, obj.Body)
}
