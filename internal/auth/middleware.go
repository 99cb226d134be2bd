package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const (
	issuer         = "trust-proxy"
	defaultExpiry  = 24 * time.Hour
	userContextKey = "user"
)

// Roles
const (
	RoleAdmin   = "admin"
	RoleAuditor = "auditor"
	RoleAgent   = "agent"
)

// User is the authenticated caller. OrganizationID scopes the credentials
// and optimization rules a delegated turn may use.
type User struct {
	ID             string   `json:"id"`
	Email          string   `json:"email"`
	Name           string   `json:"name"`
	OrganizationID string   `json:"organization_id"`
	Roles          []string `json:"roles"`
}

func (u User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

type Claims struct {
	User User `json:"user"`
	jwt.RegisteredClaims
}

type Config struct {
	JWTSecret       string
	TokenExpiration time.Duration
	RequireAuth     bool
	// PublicPaths skip authentication when the middleware is installed globally.
	PublicPaths []string
}

type Manager struct {
	config Config
	secret []byte
}

func NewManager(config Config) *Manager {
	secret := config.JWTSecret
	if secret == "" {
		b := make([]byte, 32)
		rand.Read(b)
		secret = base64.StdEncoding.EncodeToString(b)
		log.Warn().Msg("using generated JWT secret, set JWT_SECRET for production")
	}
	if config.TokenExpiration == 0 {
		config.TokenExpiration = defaultExpiry
	}

	return &Manager{
		config: config,
		secret: []byte(secret),
	}
}

func (m *Manager) RequireAuth() bool {
	return m.config.RequireAuth
}

// Middleware validates the bearer token and stores the user in the context.
func (m *Manager) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.config.RequireAuth || slices.Contains(m.config.PublicPaths, c.Path()) {
				return next(c)
			}

			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Missing authorization header",
				})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Invalid authorization header format",
				})
			}

			user, err := m.ValidateToken(parts[1])
			if err != nil {
				log.Debug().Err(err).Str("path", c.Path()).Msg("token rejected")
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": fmt.Sprintf("Invalid token: %v", err),
				})
			}

			c.Set(userContextKey, user)
			return next(c)
		}
	}
}

// RequireRole rejects authenticated users missing role. With auth disabled
// every request passes.
func (m *Manager) RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.config.RequireAuth {
				return next(c)
			}

			user := GetUserFromContext(c)
			if user == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Authentication required",
				})
			}

			if !user.HasRole(role) && !user.HasRole(RoleAdmin) {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": fmt.Sprintf("Role '%s' required", role),
				})
			}

			return next(c)
		}
	}
}

func (m *Manager) GenerateToken(user User) (string, error) {
	now := time.Now()
	claims := &Claims{
		User: user,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *Manager) ValidateToken(tokenString string) (*User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return &claims.User, nil
	}

	return nil, fmt.Errorf("invalid token")
}

func GetUserFromContext(c echo.Context) *User {
	if user, ok := c.Get(userContextKey).(*User); ok {
		return user
	}
	return nil
}
