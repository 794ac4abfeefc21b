//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/folio-press/apiserver/config"
	"github.com/folio-press/apiserver/internal/db"
	"github.com/folio-press/apiserver/internal/server"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	serverPort = 18080
)

var baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	setEnv()

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	stop, err := startServer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		stop()
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	stop()
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

type authResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Account      struct {
		ID        string `json:"id"`
		Email     string `json:"email"`
		Role      string `json:"role"`
		AvatarKey string `json:"avatar_key"`
	} `json:"account"`
}

func TestSessionLifecycle(t *testing.T) {
	email := fmt.Sprintf("writer_%d@example.com", time.Now().UnixNano())

	registered := postAuth(t, "/auth/register", map[string]string{"email": email, "password": "first-pass"}, http.StatusCreated)
	assert.Equal(t, "USER", registered.Account.Role)

	loggedIn := postAuth(t, "/auth/login", map[string]string{"email": email, "password": "first-pass"}, http.StatusOK)

	rotated := postAuth(t, "/auth/refresh", map[string]string{"refresh_token": registered.RefreshToken}, http.StatusOK)
	require.NotEqual(t, registered.RefreshToken, rotated.RefreshToken)

	resp := doJSON(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": registered.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "consumed refresh tokens are rejected")
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, "/auth/password", rotated.AccessToken, map[string]string{
		"current_password": "first-pass",
		"new_password":     "second-pass",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	for _, token := range []string{rotated.RefreshToken, loggedIn.RefreshToken} {
		resp = doJSON(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": token})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "password change revokes every session")
		resp.Body.Close()
	}

	fresh := postAuth(t, "/auth/login", map[string]string{"email": email, "password": "second-pass"}, http.StatusOK)
	resp = doJSON(t, http.MethodPost, "/auth/logout", "", map[string]string{"refresh_token": fresh.RefreshToken})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
}

func TestAdminRoleChangeAndAvatar(t *testing.T) {
	adminEmail := fmt.Sprintf("admin_%d@example.com", time.Now().UnixNano())
	userEmail := fmt.Sprintf("reader_%d@example.com", time.Now().UnixNano())

	admin := postAuth(t, "/auth/register", map[string]string{"email": adminEmail, "password": "pw"}, http.StatusCreated)
	require.NoError(t, promoteAccountToAdmin(admin.Account.ID))
	user := postAuth(t, "/auth/register", map[string]string{"email": userEmail, "password": "pw"}, http.StatusCreated)

	resp := doJSON(t, http.MethodPut, "/auth/accounts/"+user.Account.ID+"/role", admin.AccessToken, map[string]string{"role": "EDITOR"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	refreshed := postAuth(t, "/auth/refresh", map[string]string{"refresh_token": user.RefreshToken}, http.StatusOK)
	assert.Equal(t, "EDITOR", refreshed.Account.Role)

	image := append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 64)...)
	resp = uploadAvatar(t, refreshed.AccessToken, image)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, "/auth/me/avatar", refreshed.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, image, body)

	resp = doJSON(t, http.MethodDelete, "/auth/accounts/"+user.Account.ID, admin.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, "/auth/me", refreshed.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func postAuth(t *testing.T, path string, body any, wantStatus int) authResponse {
	t.Helper()
	resp := doJSON(t, http.MethodPost, path, "", body)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, string(raw))

	var parsed authResponse
	require.NoError(t, json.Unmarshal(raw, &parsed))
	require.NotEmpty(t, parsed.AccessToken)
	require.NotEmpty(t, parsed.RefreshToken)
	return parsed
}

func doJSON(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, baseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func uploadAvatar(t *testing.T, token string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("avatar", "avatar.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPut, baseURL+"/auth/me/avatar", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func promoteAccountToAdmin(id string) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.DSN(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = conn.ExecContext(ctx, `UPDATE accounts SET role = 'ADMIN' WHERE id = $1`, id)
	return err
}

func setEnv() {
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "folio")
	_ = os.Setenv("DB_PASSWORD", "folio")
	_ = os.Setenv("DB_NAME", "folio")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("AUTH_ACCESS_TOKEN_SECRET", "e2e-access-secret")
	_ = os.Setenv("AUTH_REFRESH_TOKEN_SECRET", "e2e-refresh-secret")
	_ = os.Setenv("AUTH_BCRYPT_COST", "4")
	_ = os.Setenv("REGISTRY_BACKEND", "redis")
	_ = os.Setenv("REDIS_URL", "redis://localhost:6379/0")
	_ = os.Setenv("STORAGE_BACKEND", "minio")
	_ = os.Setenv("MINIO_ENDPOINT", "localhost:9000")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "folio-avatars")
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.DSN(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg := config.LoadConfig()
	migrationsURL := "file://" + filepath.Join(root, "internal", "db", "migrations")

	migrator, err := migrate.New(migrationsURL, db.DSN(cfg.Database))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// startServer runs the server in the background and returns a func that
// stops it and waits for shutdown.
func startServer(ctx context.Context) (func(), error) {
	cfg := config.LoadConfig()
	srv, err := server.New(ctx, cfg, zerolog.New(os.Stderr).Level(zerolog.WarnLevel))
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(runCtx)
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
