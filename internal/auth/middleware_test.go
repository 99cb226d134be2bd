package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoJSON(rec *httptest.ResponseRecorder, v any) error {
	return json.Unmarshal(rec.Body.Bytes(), v)
}

func protectedServer(manager *Manager) *echo.Echo {
	e := echo.New()
	e.Use(manager.Middleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "healthy")
	})
	e.GET("/protected", func(c echo.Context) error {
		if user := GetUserFromContext(c); user != nil {
			return c.String(http.StatusOK, user.OrganizationID)
		}
		return c.String(http.StatusOK, "anonymous")
	})
	e.GET("/audit", func(c echo.Context) error {
		return c.String(http.StatusOK, "audit")
	}, manager.RequireRole(RoleAuditor))
	return e
}

func get(e *echo.Echo, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareAuthDisabled(t *testing.T) {
	manager := NewManager(Config{JWTSecret: "test-secret", RequireAuth: false})
	e := protectedServer(manager)

	rec := get(e, "/protected", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())

	assert.Equal(t, http.StatusOK, get(e, "/audit", "").Code)
}

func TestMiddlewarePublicPaths(t *testing.T) {
	manager := NewManager(Config{JWTSecret: "test-secret", RequireAuth: true, PublicPaths: []string{"/health"}})
	e := protectedServer(manager)

	assert.Equal(t, http.StatusOK, get(e, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(e, "/protected", "").Code)
}

func TestMiddlewareRejectsBadHeaders(t *testing.T) {
	manager := NewManager(Config{JWTSecret: "test-secret", RequireAuth: true})
	e := protectedServer(manager)

	tests := []struct {
		name   string
		header string
	}{
		{"missing bearer", "just-a-token"},
		{"wrong prefix", "Basic token123"},
		{"empty token", "Bearer "},
		{"extra spaces", "Bearer  token  extra"},
		{"garbage token", "Bearer not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, get(e, "/protected", tt.header).Code)
		})
	}

	rec := get(e, "/protected", "")
	assert.Contains(t, rec.Body.String(), "Missing authorization header")
}

func TestMiddlewareValidToken(t *testing.T) {
	manager := NewManager(Config{JWTSecret: "test-secret", RequireAuth: true})
	e := protectedServer(manager)

	token, err := manager.GenerateToken(User{ID: "u-1", Email: "u@example.com", OrganizationID: "org-7", Roles: []string{RoleAgent}})
	require.NoError(t, err)

	rec := get(e, "/protected", "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "org-7", rec.Body.String())
}

func TestMiddlewareExpiredToken(t *testing.T) {
	manager := NewManager(Config{JWTSecret: "test-secret", TokenExpiration: -time.Hour, RequireAuth: true})
	e := protectedServer(manager)

	token, err := manager.GenerateToken(User{ID: "u-1"})
	require.NoError(t, err)

	rec := get(e, "/protected", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid token")
}

func TestMiddlewareForeignSecret(t *testing.T) {
	issuerA := NewManager(Config{JWTSecret: "secret-a", RequireAuth: true})
	issuerB := NewManager(Config{JWTSecret: "secret-b", RequireAuth: true})

	token, err := issuerA.GenerateToken(User{ID: "u-1"})
	require.NoError(t, err)

	_, err = issuerB.ValidateToken(token)
	assert.Error(t, err)
}

func TestRequireRole(t *testing.T) {
	manager := NewManager(Config{JWTSecret: "test-secret", RequireAuth: true})
	e := protectedServer(manager)

	tests := []struct {
		name     string
		roles    []string
		wantCode int
	}{
		{"auditor", []string{RoleAuditor}, http.StatusOK},
		{"admin implies every role", []string{RoleAdmin}, http.StatusOK},
		{"agent only", []string{RoleAgent}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := manager.GenerateToken(User{ID: "u", Roles: tt.roles})
			require.NoError(t, err)
			rec := get(e, "/audit", "Bearer "+token)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	manager := NewManager(Config{JWTSecret: "test-secret-key", TokenExpiration: time.Hour})

	user := User{ID: "user-123", Email: "user@example.com", Name: "Test User", OrganizationID: "org-1", Roles: []string{RoleAuditor}}

	token, err := manager.GenerateToken(user)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	got, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user, *got)
}
