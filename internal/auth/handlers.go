package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// DefaultUsers is the development account used when AUTH_USERS is unset.
const DefaultUsers = "admin@example.com:admin:Administrator:default:admin"

var ErrInvalidCredentials = errors.New("invalid credentials")

// Account is a user that can log in.
type Account struct {
	User
	Password string
}

// ParseAccounts reads semicolon-separated EMAIL:PASSWORD:NAME:ORG:ROLES entries,
// roles comma-separated.
func ParseAccounts(raw string) ([]Account, error) {
	var accounts []Account
	for i, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 5 {
			return nil, fmt.Errorf("user %d: expected EMAIL:PASSWORD:NAME:ORG:ROLES", i)
		}
		accounts = append(accounts, Account{
			User: User{
				ID:             generateUserID(parts[0]),
				Email:          parts[0],
				Name:           parts[2],
				OrganizationID: parts[3],
				Roles:          strings.Split(parts[4], ","),
			},
			Password: parts[1],
		})
	}
	return accounts, nil
}

type Handler struct {
	manager  *Manager
	accounts []Account
}

func NewHandler(manager *Manager, accounts []Account) *Handler {
	return &Handler{manager: manager, accounts: accounts}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		log.Warn().Err(err).Str("remote_addr", c.Request().RemoteAddr).Msg("invalid login request body")
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request",
		})
	}

	user, err := h.validateCredentials(req.Email, req.Password)
	if err != nil {
		log.Warn().Str("email", req.Email).Msg("login failed")
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Invalid credentials",
		})
	}

	token, err := h.manager.GenerateToken(*user)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate token")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to generate token",
		})
	}

	log.Info().Str("email", user.Email).Str("organization_id", user.OrganizationID).Msg("user logged in")

	return c.JSON(http.StatusOK, LoginResponse{
		Token: token,
		User:  *user,
	})
}

func (h *Handler) Me(c echo.Context) error {
	user := GetUserFromContext(c)
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Unauthorized",
		})
	}

	return c.JSON(http.StatusOK, user)
}

func (h *Handler) validateCredentials(email, password string) (*User, error) {
	for _, a := range h.accounts {
		// constant-time on both fields
		emailOK := subtle.ConstantTimeCompare([]byte(email), []byte(a.Email)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.Password)) == 1
		if emailOK && passOK {
			u := a.User
			return &u, nil
		}
	}
	return nil, ErrInvalidCredentials
}

func generateUserID(email string) string {
	return strings.ReplaceAll(email, "@", "-")
}
